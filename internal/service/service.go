// Package service turns payment events into stored valuations and serves them back.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/yourorg/vehicle-valuation/internal/model"
	"github.com/yourorg/vehicle-valuation/internal/pipeline"
	"github.com/yourorg/vehicle-valuation/internal/security"
	"github.com/yourorg/vehicle-valuation/internal/store"
	"github.com/yourorg/vehicle-valuation/internal/types"
	"github.com/yourorg/vehicle-valuation/internal/validation"
)

var (
	// ErrInvalidPayment is returned for a payment event that cannot fund a valuation
	ErrInvalidPayment = errors.New("invalid payment event")

	// ErrNotBusiness is returned when a certificate is requested for a lower tier
	ErrNotBusiness = errors.New("certificates are only issued for business valuations")

	// ErrNotCompleted is returned when a certificate is requested before the report exists
	ErrNotCompleted = errors.New("valuation not completed")
)

// valuationNamespace scopes IDs derived from payment transaction IDs
var valuationNamespace = uuid.MustParse("4f1f5c62-7f0e-4a0c-9d1e-6c7a3b0e2a51")

// Store is the storage the service needs
type Store interface {
	store.Inserter
	store.Gateway
}

// Service creates and reads valuations
type Service struct {
	pipeline *pipeline.Pipeline
	store    Store
	signer   *security.Signer
	attrOpts validation.AttributeOptions
	now      func() time.Time
}

// Option configures a Service
type Option func(*Service)

// WithSigner enables Business certificates
func WithSigner(s *security.Signer) Option {
	return func(svc *Service) { svc.signer = s }
}

// WithAttributeOptions tunes inbound attribute validation
func WithAttributeOptions(opts validation.AttributeOptions) Option {
	return func(svc *Service) { svc.attrOpts = opts }
}

// WithClock replaces the wall clock
func WithClock(now func() time.Time) Option {
	return func(svc *Service) { svc.now = now }
}

// New creates a service over a pipeline and a store
func New(p *pipeline.Pipeline, s Store, opts ...Option) *Service {
	svc := &Service{pipeline: p, store: s, now: time.Now}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

// PurchaseRequest is a paid request for a valuation
type PurchaseRequest struct {
	Attributes model.VehicleAttributes `json:"attributes"`
	Payment    model.PaymentEvent      `json:"payment"`
}

// Purchase computes and stores the valuation paid for by req. A redelivered payment
// event returns the valuation created the first time with created == false.
func (s *Service) Purchase(ctx context.Context, req PurchaseRequest) (v model.StoredValuation, created bool, err error) {
	payment, err := normalizePayment(req.Payment)
	if err != nil {
		return model.StoredValuation{}, false, err
	}
	if err := validation.Attributes(req.Attributes, s.attrOpts, s.now()); err != nil {
		return model.StoredValuation{}, false, err
	}

	id := valuationID(payment.TransactionID)
	if payment.TransactionID != "" {
		existing, err := s.store.Load(ctx, id)
		if err == nil {
			return existing, false, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return model.StoredValuation{}, false, fmt.Errorf("failed to check existing valuation: %w", err)
		}
	}

	tr := s.pipeline.Compute(ctx, req.Attributes, payment.Tier)
	now := s.now()
	result := tr.Result

	v = model.StoredValuation{
		ID:                id,
		Status:            model.StatusCompleted,
		Tier:              tr.Tier,
		Attributes:        req.Attributes,
		Payment:           payment,
		Result:            &result,
		LastUpdated:       &now,
		RefinementHistory: []model.RefinementRecord{},
		Version:           1,
		CreatedAt:         now,
	}
	if result.Trend != nil {
		v.MarketInsights.HistoricalTrendPercentage = result.Trend.HistoricalTrendPercentage
	}

	if err := s.store.Insert(ctx, v); err != nil {
		if errors.Is(err, store.ErrAlreadyExists) {
			existing, loadErr := s.store.Load(ctx, id)
			if loadErr != nil {
				return model.StoredValuation{}, false, fmt.Errorf("failed to load concurrent valuation: %w", loadErr)
			}
			return existing, false, nil
		}
		return model.StoredValuation{}, false, fmt.Errorf("failed to store valuation: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"valuation_id":   v.ID,
		"tier":           v.Tier,
		"transaction_id": payment.TransactionID,
		"market_value":   result.MarketValue,
	}).Info("Valuation created")
	return v, true, nil
}

// Quote computes a report for attrs without storing it
func (s *Service) Quote(ctx context.Context, attrs model.VehicleAttributes, tier types.Tier) (model.TierResult, error) {
	if err := validation.Tier(tier); err != nil {
		return model.TierResult{}, err
	}
	if err := validation.Attributes(attrs, s.attrOpts, s.now()); err != nil {
		return model.TierResult{}, err
	}
	return s.pipeline.Compute(ctx, attrs, tier), nil
}

// Get returns a stored valuation
func (s *Service) Get(ctx context.Context, id string) (model.StoredValuation, error) {
	return s.store.Load(ctx, id)
}

// Certificate seals the current Business report of a valuation
func (s *Service) Certificate(ctx context.Context, id string) (security.Certificate, error) {
	if s.signer == nil || !s.signer.Enabled() {
		return security.Certificate{}, security.ErrSigningDisabled
	}

	v, err := s.store.Load(ctx, id)
	if err != nil {
		return security.Certificate{}, err
	}
	if v.Status != model.StatusCompleted || v.Result == nil {
		return security.Certificate{}, ErrNotCompleted
	}
	if v.Tier != types.TierBusiness || v.Result.Business == nil {
		return security.Certificate{}, ErrNotBusiness
	}
	return s.signer.SealReport(*v.Result)
}

// VerifyCertificate checks a certificate and returns the sealed report
func (s *Service) VerifyCertificate(cert security.Certificate) (model.ValuationResult, error) {
	if s.signer == nil {
		return model.ValuationResult{}, security.ErrSigningDisabled
	}
	return s.signer.OpenReport(cert)
}

func normalizePayment(p model.PaymentEvent) (model.PaymentEvent, error) {
	p.TransactionID = strings.TrimSpace(p.TransactionID)
	p.Tier = p.Tier.Normalize()
	if err := validation.Tier(p.Tier); err != nil {
		return model.PaymentEvent{}, fmt.Errorf("%w: %w", ErrInvalidPayment, err)
	}

	amount, err := decimal.NewFromString(strings.TrimSpace(p.AmountPaid))
	if err != nil {
		return model.PaymentEvent{}, fmt.Errorf("%w: amount %q is not a decimal", ErrInvalidPayment, p.AmountPaid)
	}
	if amount.IsNegative() {
		return model.PaymentEvent{}, fmt.Errorf("%w: amount %s is negative", ErrInvalidPayment, amount)
	}
	p.AmountPaid = amount.StringFixed(2)
	return p, nil
}

func valuationID(transactionID string) string {
	if transactionID == "" {
		return uuid.NewString()
	}
	return uuid.NewSHA1(valuationNamespace, []byte(transactionID)).String()
}
