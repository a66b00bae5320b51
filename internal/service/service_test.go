package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/vehicle-valuation/internal/model"
	"github.com/yourorg/vehicle-valuation/internal/pipeline"
	"github.com/yourorg/vehicle-valuation/internal/random"
	"github.com/yourorg/vehicle-valuation/internal/security"
	"github.com/yourorg/vehicle-valuation/internal/store"
	"github.com/yourorg/vehicle-valuation/internal/types"
	"github.com/yourorg/vehicle-valuation/internal/validation"
)

var now = time.Date(2024, time.June, 15, 10, 0, 0, 0, time.UTC)

func clock() time.Time { return now }

func bmw() model.VehicleAttributes {
	return model.VehicleAttributes{
		Brand: "BMW", Model: "320d", Year: 2017, Mileage: 193000,
		BodyType: types.BodyWagon, FuelType: types.FuelDiesel, Transmission: types.TransmissionAutomatic,
	}
}

func newService(t *testing.T, opts ...Option) (*Service, *store.MemoryStore) {
	t.Helper()
	s := store.NewMemoryStore()
	p := pipeline.New(random.NewSequence(0.5), clock)
	return New(p, s, append([]Option{WithClock(clock)}, opts...)...), s
}

func TestPurchase_Regular(t *testing.T) {
	ctx := context.Background()
	svc, s := newService(t)

	v, created, err := svc.Purchase(ctx, PurchaseRequest{
		Attributes: bmw(),
		Payment:    model.PaymentEvent{TransactionID: "tx-1", AmountPaid: "9.9", Tier: types.TierRegular},
	})
	require.NoError(t, err)
	assert.True(t, created)

	assert.Equal(t, model.StatusCompleted, v.Status)
	assert.Equal(t, types.TierRegular, v.Tier)
	assert.Equal(t, int64(1), v.Version)
	assert.Equal(t, "9.90", v.Payment.AmountPaid)
	require.NotNil(t, v.LastUpdated)
	assert.True(t, v.LastUpdated.Equal(v.CreatedAt), "lastUpdated starts at creation")
	assert.Equal(t, int64(5199), v.Result.MarketValue)
	assert.Nil(t, v.Result.Trend)
	assert.NotNil(t, v.RefinementHistory)

	stored, err := s.Load(ctx, v.ID)
	require.NoError(t, err)
	assert.Equal(t, v.Result.MarketValue, stored.Result.MarketValue)
}

func TestPurchase_RedeliveryIsIdempotent(t *testing.T) {
	ctx := context.Background()
	svc, s := newService(t)
	req := PurchaseRequest{
		Attributes: bmw(),
		Payment:    model.PaymentEvent{TransactionID: "tx-dup", AmountPaid: "19.99", Tier: types.TierPremium},
	}

	first, created, err := svc.Purchase(ctx, req)
	require.NoError(t, err)
	require.True(t, created)

	second, created, err := svc.Purchase(ctx, req)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)

	all, err := s.ListCompleted(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestPurchase_WithoutTransactionIDGetsRandomID(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)
	req := PurchaseRequest{Attributes: bmw(), Payment: model.PaymentEvent{AmountPaid: "0", Tier: types.TierRegular}}

	a, _, err := svc.Purchase(ctx, req)
	require.NoError(t, err)
	b, _, err := svc.Purchase(ctx, req)
	require.NoError(t, err)
	assert.NotEqual(t, a.ID, b.ID)
}

func TestPurchase_Business(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)

	v, _, err := svc.Purchase(ctx, PurchaseRequest{
		Attributes: bmw(),
		Payment:    model.PaymentEvent{TransactionID: "tx-b", AmountPaid: "49.00", Tier: "Business"},
	})
	require.NoError(t, err)
	assert.Equal(t, types.TierBusiness, v.Tier)
	require.NotNil(t, v.Result.Trend)
	require.NotNil(t, v.Result.Business)
	assert.Equal(t, v.Result.Trend.HistoricalTrendPercentage, v.MarketInsights.HistoricalTrendPercentage)
	assert.Equal(t, int64(5199), v.Result.MarketValue, "tiers never change the market value")
}

func TestPurchase_Rejections(t *testing.T) {
	tests := []struct {
		name    string
		req     PurchaseRequest
		wantErr error
	}{
		{
			name:    "amount not decimal",
			req:     PurchaseRequest{Attributes: bmw(), Payment: model.PaymentEvent{TransactionID: "x", AmountPaid: "ten", Tier: types.TierRegular}},
			wantErr: ErrInvalidPayment,
		},
		{
			name:    "negative amount",
			req:     PurchaseRequest{Attributes: bmw(), Payment: model.PaymentEvent{TransactionID: "x", AmountPaid: "-1", Tier: types.TierRegular}},
			wantErr: ErrInvalidPayment,
		},
		{
			name:    "unknown tier",
			req:     PurchaseRequest{Attributes: bmw(), Payment: model.PaymentEvent{TransactionID: "x", AmountPaid: "1", Tier: "gold"}},
			wantErr: validation.ErrInvalidAttributes,
		},
		{
			name: "bad attributes",
			req: PurchaseRequest{
				Attributes: model.VehicleAttributes{Brand: "BMW", Model: "320d", Year: 1960},
				Payment:    model.PaymentEvent{TransactionID: "x", AmountPaid: "1", Tier: types.TierRegular},
			},
			wantErr: validation.ErrInvalidAttributes,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, s := newService(t)
			_, created, err := svc.Purchase(context.Background(), tt.req)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.False(t, created)

			all, _ := s.ListCompleted(context.Background())
			assert.Empty(t, all)
		})
	}
}

func TestQuote(t *testing.T) {
	svc, s := newService(t)

	tr, err := svc.Quote(context.Background(), bmw(), types.TierPremium)
	require.NoError(t, err)
	assert.Equal(t, types.TierPremium, tr.Tier)
	assert.NotNil(t, tr.Result.Trend)

	_, err = svc.Quote(context.Background(), bmw(), "platinum")
	assert.ErrorIs(t, err, validation.ErrInvalidAttributes)

	all, _ := s.ListCompleted(context.Background())
	assert.Empty(t, all, "quotes are not stored")
}

func TestCertificate(t *testing.T) {
	ctx := context.Background()
	signer, err := security.NewSigner(security.Options{Enabled: true, SignatureValidity: time.Hour})
	require.NoError(t, err)
	signer.WithClock(clock)
	svc, _ := newService(t, WithSigner(signer))

	business, _, err := svc.Purchase(ctx, PurchaseRequest{
		Attributes: bmw(),
		Payment:    model.PaymentEvent{TransactionID: "tx-b", AmountPaid: "49", Tier: types.TierBusiness},
	})
	require.NoError(t, err)
	regular, _, err := svc.Purchase(ctx, PurchaseRequest{
		Attributes: bmw(),
		Payment:    model.PaymentEvent{TransactionID: "tx-r", AmountPaid: "9", Tier: types.TierRegular},
	})
	require.NoError(t, err)

	cert, err := svc.Certificate(ctx, business.ID)
	require.NoError(t, err)
	report, err := svc.VerifyCertificate(cert)
	require.NoError(t, err)
	assert.Equal(t, business.Result.MarketValue, report.MarketValue)

	_, err = svc.Certificate(ctx, regular.ID)
	assert.ErrorIs(t, err, ErrNotBusiness)

	_, err = svc.Certificate(ctx, "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)

	plain, _ := newService(t)
	_, err = plain.Certificate(ctx, business.ID)
	assert.ErrorIs(t, err, security.ErrSigningDisabled)
}
