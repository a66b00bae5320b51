package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/vehicle-valuation/internal/circuitbreaker"
	"github.com/yourorg/vehicle-valuation/internal/market"
	"github.com/yourorg/vehicle-valuation/internal/model"
	"github.com/yourorg/vehicle-valuation/internal/pipeline"
	"github.com/yourorg/vehicle-valuation/internal/random"
	"github.com/yourorg/vehicle-valuation/internal/refine"
	"github.com/yourorg/vehicle-valuation/internal/security"
	"github.com/yourorg/vehicle-valuation/internal/service"
	"github.com/yourorg/vehicle-valuation/internal/store"
	"github.com/yourorg/vehicle-valuation/internal/types"
)

var now = time.Date(2024, time.June, 15, 10, 0, 0, 0, time.UTC)

func clock() time.Time { return now }

func bmw() model.VehicleAttributes {
	return model.VehicleAttributes{
		Brand: "BMW", Model: "320d", Year: 2017, Mileage: 193000,
		BodyType: types.BodyWagon, FuelType: types.FuelDiesel, Transmission: types.TransmissionAutomatic,
	}
}

type fixture struct {
	server *Server
	store  *store.MemoryStore
	guard  *circuitbreaker.CircuitBreaker
}

func newFixture(t *testing.T, opts Options, signer *security.Signer, signals ...model.MarketSignal) *fixture {
	t.Helper()
	s := store.NewMemoryStore()
	p := pipeline.New(random.NewSequence(0.5), clock)

	svcOpts := []service.Option{service.WithClock(clock)}
	if signer != nil {
		svcOpts = append(svcOpts, service.WithSigner(signer))
	}
	svc := service.New(p, s, svcOpts...)

	guard := circuitbreaker.New(circuitbreaker.Thresholds{MaxTrendPercent: 50, MaxPriceChange: 0.5}).WithClock(clock)
	refiner := refine.New(s, market.NewStaticSource(signals...), refine.WithClock(clock), refine.WithGuard(guard))

	return &fixture{server: New(svc, refiner, opts, WithGuard(guard)), store: s, guard: guard}
}

func (f *fixture) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	return rec
}

func purchase(tx string, tier types.Tier) service.PurchaseRequest {
	return service.PurchaseRequest{
		Attributes: bmw(),
		Payment:    model.PaymentEvent{TransactionID: tx, AmountPaid: "9.99", Tier: tier},
	}
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestPurchaseAndGet(t *testing.T) {
	f := newFixture(t, Options{}, nil)

	rec := f.do(t, http.MethodPost, "/v1/valuations", purchase("tx-1", types.TierRegular))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decodeBody[model.StoredValuation](t, rec)
	assert.Equal(t, int64(5199), created.Result.MarketValue)

	rec = f.do(t, http.MethodPost, "/v1/valuations", purchase("tx-1", types.TierRegular))
	assert.Equal(t, http.StatusOK, rec.Code, "redelivered payment")
	assert.Equal(t, created.ID, decodeBody[model.StoredValuation](t, rec).ID)

	rec = f.do(t, http.MethodGet, "/v1/valuations/"+created.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, created.ID, decodeBody[model.StoredValuation](t, rec).ID)

	rec = f.do(t, http.MethodGet, "/v1/valuations/unknown", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "error", decodeBody[ErrorResponse](t, rec).Status)
}

func TestPurchase_BadRequests(t *testing.T) {
	f := newFixture(t, Options{}, nil)

	tests := []struct {
		name string
		body interface{}
	}{
		{"not json", "definitely not a purchase"},
		{"unknown tier", purchase("tx", "gold")},
		{"year out of range", service.PurchaseRequest{
			Attributes: model.VehicleAttributes{Brand: "BMW", Model: "320d", Year: 1950},
			Payment:    model.PaymentEvent{TransactionID: "tx", AmountPaid: "1", Tier: types.TierRegular},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(t, http.MethodPost, "/v1/valuations", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
		})
	}
}

func TestQuote(t *testing.T) {
	f := newFixture(t, Options{}, nil)

	rec := f.do(t, http.MethodPost, "/v1/quotes", QuoteRequest{Attributes: bmw(), Tier: "Business"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	tr := decodeBody[model.TierResult](t, rec)
	assert.Equal(t, types.TierBusiness, tr.Tier)
	assert.NotNil(t, tr.Result.Business)

	rec = f.do(t, http.MethodPost, "/v1/quotes", QuoteRequest{Attributes: bmw()})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, types.TierRegular, decodeBody[model.TierResult](t, rec).Tier)
}

func TestCertificates(t *testing.T) {
	signer, err := security.NewSigner(security.Options{Enabled: true, SignatureValidity: time.Hour})
	require.NoError(t, err)
	signer.WithClock(clock)
	f := newFixture(t, Options{}, signer)

	business := decodeBody[model.StoredValuation](t, f.do(t, http.MethodPost, "/v1/valuations", purchase("tx-b", types.TierBusiness)))
	regular := decodeBody[model.StoredValuation](t, f.do(t, http.MethodPost, "/v1/valuations", purchase("tx-r", types.TierRegular)))

	rec := f.do(t, http.MethodGet, "/v1/valuations/"+regular.ID+"/certificate", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(t, http.MethodGet, "/v1/valuations/"+business.ID+"/certificate", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	cert := decodeBody[security.Certificate](t, rec)
	assert.Equal(t, signer.Issuer(), cert.Issuer)

	rec = f.do(t, http.MethodPost, "/v1/certificates/verify", cert)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, true, decodeBody[map[string]interface{}](t, rec)["valid"])

	cert.Payload = json.RawMessage(`{"market_value":1}`)
	rec = f.do(t, http.MethodPost, "/v1/certificates/verify", cert)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	unsigned := newFixture(t, Options{}, nil)
	v := decodeBody[model.StoredValuation](t, unsigned.do(t, http.MethodPost, "/v1/valuations", purchase("tx-b", types.TierBusiness)))
	rec = unsigned.do(t, http.MethodGet, "/v1/valuations/"+v.ID+"/certificate", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestRefineRoutes(t *testing.T) {
	signal := model.MarketSignal{Brand: "BMW", Model: "320d", Year: 2017, TrendPercent: 2.5, ReferencePrice: 16000, Timestamp: now.Add(-time.Hour)}
	f := newFixture(t, Options{}, nil, signal)

	v := decodeBody[model.StoredValuation](t, f.do(t, http.MethodPost, "/v1/valuations", purchase("tx-1", types.TierRegular)))

	rec := f.do(t, http.MethodPost, "/v1/admin/refine/"+v.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	out := decodeBody[RefineResponse](t, rec).Outcome
	assert.Equal(t, refine.StatusRefined, out.Status)
	assert.Equal(t, int64(5199), out.PreviousValue)
	assert.Equal(t, int64(5329), out.NewValue)

	rec = f.do(t, http.MethodPost, "/v1/admin/refine/ghost", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, refine.StatusFailed, decodeBody[RefineResponse](t, rec).Outcome.Status)

	rec = f.do(t, http.MethodPost, "/v1/admin/refine-all", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, model.BatchSummary{Total: 1, Refined: 1}, decodeBody[model.BatchSummary](t, rec))

	rec = f.do(t, http.MethodPost, "/v1/admin/refine-stale", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, model.BatchSummary{}, decodeBody[model.BatchSummary](t, rec), "just refined, nothing stale")
}

func TestRefineOne_NoSignal(t *testing.T) {
	f := newFixture(t, Options{}, nil)
	v := decodeBody[model.StoredValuation](t, f.do(t, http.MethodPost, "/v1/valuations", purchase("tx-1", types.TierRegular)))

	rec := f.do(t, http.MethodPost, "/v1/admin/refine/"+v.ID, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	resp := decodeBody[RefineResponse](t, rec)
	assert.Equal(t, "no_signal", resp.Outcome.Reason)
	assert.NotEmpty(t, resp.Error)
}

// slowStore honours the caller's context the way the database-backed stores do
type slowStore struct {
	*store.MemoryStore
	delay time.Duration
}

func (s slowStore) Load(ctx context.Context, id string) (model.StoredValuation, error) {
	select {
	case <-time.After(s.delay):
	case <-ctx.Done():
		return model.StoredValuation{}, ctx.Err()
	}
	return s.MemoryStore.Load(ctx, id)
}

func TestRefineBatch_OutlivesRequestTimeout(t *testing.T) {
	signal := model.MarketSignal{Brand: "BMW", Model: "320d", Year: 2017, TrendPercent: 2.5, ReferencePrice: 16000, Timestamp: now.Add(-time.Hour)}
	mem := store.NewMemoryStore()
	svc := service.New(pipeline.New(random.NewSequence(0.5), clock), mem, service.WithClock(clock))
	for _, tx := range []string{"tx-1", "tx-2", "tx-3"} {
		_, _, err := svc.Purchase(context.Background(), purchase(tx, types.TierRegular))
		require.NoError(t, err)
	}

	slow := slowStore{MemoryStore: mem, delay: 20 * time.Millisecond}
	refiner := refine.New(slow, market.NewStaticSource(signal), refine.WithClock(func() time.Time {
		return now.Add(8 * 24 * time.Hour)
	}))
	srv := New(svc, refiner, Options{RequestTimeout: 10 * time.Millisecond})

	for _, path := range []string{"/v1/admin/refine-stale", "/v1/admin/refine-all"} {
		t.Run(path, func(t *testing.T) {
			rec := httptest.NewRecorder()
			srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, path, nil))
			require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
			summary := decodeBody[model.BatchSummary](t, rec)
			assert.Equal(t, 3, summary.Total)
			assert.Equal(t, 0, summary.Failed)
		})
	}
}

type busyRefiner struct{}

func (busyRefiner) RefineOne(context.Context, string) (refine.Outcome, error) {
	return refine.Outcome{}, nil
}

func (busyRefiner) RefineAll(context.Context) (model.BatchSummary, error) {
	return model.BatchSummary{}, nil
}

func (busyRefiner) ScheduledRun(context.Context) (model.BatchSummary, error) {
	return model.BatchSummary{}, refine.ErrRunInProgress
}

func TestRefineStale_Overlap(t *testing.T) {
	srv := New(nil, busyRefiner{}, Options{})
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/admin/refine-stale", nil))
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestGuardRoutes(t *testing.T) {
	f := newFixture(t, Options{}, nil)

	require.Error(t, f.guard.Check(model.MarketSignal{Brand: "BMW", Model: "320d", Year: 2017, TrendPercent: 80}))

	rec := f.do(t, http.MethodGet, "/v1/admin/guard", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "open", decodeBody[circuitbreaker.Status](t, rec).State)

	rec = f.do(t, http.MethodPost, "/v1/admin/guard/reset", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, circuitbreaker.StateClosed, f.guard.GetState())

	srv := New(nil, busyRefiner{}, Options{})
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/admin/guard", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestRateLimit(t *testing.T) {
	f := newFixture(t, Options{RateLimitRPS: 0.001, RateLimitBurst: 1}, nil)

	first := f.do(t, http.MethodGet, "/v1/valuations/a", nil)
	assert.Equal(t, http.StatusNotFound, first.Code)

	second := f.do(t, http.MethodGet, "/v1/valuations/a", nil)
	assert.Equal(t, http.StatusTooManyRequests, second.Code)

	health := f.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, health.Code, "probes are not rate limited")
}

type fixedScheduler struct{ next time.Time }

func (s fixedScheduler) NextRun() time.Time { return s.next }

type fixedReporter map[string]interface{}

func (r fixedReporter) Status() map[string]interface{} { return r }

func TestHealthAndStatus(t *testing.T) {
	next := time.Date(2024, time.June, 16, 0, 0, 0, 0, time.UTC)
	srv := New(nil, busyRefiner{}, Options{},
		WithScheduler(fixedScheduler{next: next}),
		WithExporter(fixedReporter{"enabled": true}),
	)
	h := srv.Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", decodeBody[map[string]string](t, rec)["status"])

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	status := decodeBody[map[string]interface{}](t, rec)
	assert.Equal(t, "operational", status["status"])
	assert.Equal(t, next.Format(time.RFC3339), status["next_refinement"])
	assert.Equal(t, map[string]interface{}{"enabled": true}, status["exporter"])
	assert.NotContains(t, status, "signal_guard")
}

func TestMethodNotAllowed(t *testing.T) {
	f := newFixture(t, Options{}, nil)
	rec := f.do(t, http.MethodDelete, "/v1/valuations/abc", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
