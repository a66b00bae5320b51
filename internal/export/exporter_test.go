package export

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/vehicle-valuation/internal/model"
)

var at = time.Date(2024, time.June, 1, 0, 0, 0, 0, time.UTC)

type recordingSink struct {
	mu      sync.Mutex
	batches [][]Event
	err     error
	got     chan struct{}
}

func newRecordingSink() *recordingSink {
	return &recordingSink{got: make(chan struct{}, 16)}
}

func (r *recordingSink) Name() string { return "recording" }

func (r *recordingSink) Export(_ context.Context, events []Event) error {
	r.mu.Lock()
	r.batches = append(r.batches, events)
	r.mu.Unlock()
	r.got <- struct{}{}
	return r.err
}

func (r *recordingSink) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, b := range r.batches {
		n += len(b)
	}
	return n
}

func TestExporter_FlushesWhenBatchIsFull(t *testing.T) {
	sink := newRecordingSink()
	e := NewExporter(Options{Enabled: true, BatchSize: 2, ExportInterval: time.Hour}, sink)
	defer e.Stop()

	e.Add(RefinedEvent("a", model.RefinementRecord{Date: at, PreviousValue: 100, NewValue: 103, AppliedTrendPercent: 3}))
	e.Add(BatchEvent("scheduled", model.BatchSummary{Total: 1, Refined: 1}, at))

	select {
	case <-sink.got:
	case <-time.After(2 * time.Second):
		t.Fatal("full batch was not flushed")
	}
	assert.Equal(t, 2, sink.count())
}

func TestExporter_StopFlushesRemainder(t *testing.T) {
	sink := newRecordingSink()
	e := NewExporter(Options{Enabled: true, BatchSize: 10, ExportInterval: time.Hour}, sink)

	e.Add(BatchEvent("all", model.BatchSummary{Total: 3, Refined: 2, Failed: 1}, at))
	assert.Equal(t, 1, e.Status()["current_batch"])

	e.Stop()
	assert.Equal(t, 1, sink.count())
	assert.Equal(t, 1, e.Status()["exported"])
}

func TestExporter_SinkFailureIsCounted(t *testing.T) {
	good := newRecordingSink()
	bad := newRecordingSink()
	bad.err = errors.New("down")
	e := NewExporter(Options{Enabled: true, BatchSize: 10, ExportInterval: time.Hour}, good, bad)

	e.Add(BatchEvent("all", model.BatchSummary{}, at))
	e.Stop()

	assert.Equal(t, 1, good.count())
	assert.Equal(t, 1, e.Status()["sink_failures"])
}

func TestExporter_DisabledDropsEvents(t *testing.T) {
	sink := newRecordingSink()
	e := NewExporter(Options{Enabled: false}, sink)

	e.Add(BatchEvent("all", model.BatchSummary{}, at))
	e.Stop()

	assert.Equal(t, 0, sink.count())
	assert.Equal(t, false, e.Status()["enabled"])
}

func TestWebhookSink_Export(t *testing.T) {
	var body struct {
		Events []Event `json:"events"`
		Count  int     `json:"count"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	sink := NewWebhookSink(srv.URL, "key")
	ev := RefinedEvent("a", model.RefinementRecord{Date: at, PreviousValue: 100, NewValue: 103, AppliedTrendPercent: 3, SignalMatch: "exact"})
	require.NoError(t, sink.Export(context.Background(), []Event{ev}))

	assert.Equal(t, 1, body.Count)
	require.Len(t, body.Events, 1)
	assert.Equal(t, EventValuationRefined, body.Events[0].Type)
	assert.Equal(t, int64(103), body.Events[0].Current)
}

func TestWebhookSink_Errors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	err := NewWebhookSink(srv.URL, "").Export(context.Background(), []Event{{Type: EventBatchCompleted}})
	assert.ErrorContains(t, err, "webhook request failed")

	err = NewWebhookSink("", "").Export(context.Background(), nil)
	assert.ErrorContains(t, err, "not configured")
}

func TestWebhookSink_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	err := NewWebhookSink(srv.URL, "").Export(context.Background(), []Event{{Type: EventBatchCompleted}})
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

type fakeConn struct {
	msgs []*nats.Msg
	err  error
}

func (f *fakeConn) PublishMsg(m *nats.Msg) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, m)
	return nil
}

func TestNATSSink_Export(t *testing.T) {
	conn := &fakeConn{}
	sink := NewNATSSink(conn, "valuations.refined")

	events := []Event{
		RefinedEvent("a", model.RefinementRecord{Date: at, NewValue: 1}),
		BatchEvent("scheduled", model.BatchSummary{Total: 1, Refined: 1}, at),
	}
	require.NoError(t, sink.Export(context.Background(), events))
	require.Len(t, conn.msgs, 2)

	assert.Equal(t, "valuations.refined", conn.msgs[0].Subject)
	var decoded Event
	require.NoError(t, json.Unmarshal(conn.msgs[1].Data, &decoded))
	assert.Equal(t, EventBatchCompleted, decoded.Type)
	assert.Equal(t, 1, decoded.Summary.Refined)

	conn.err = errors.New("closed")
	assert.ErrorContains(t, sink.Export(context.Background(), events), "failed to publish event 0")
}

func TestNATSHeaderCarrier(t *testing.T) {
	msg := &nats.Msg{}
	c := (*natsHeaderCarrier)(msg)

	assert.Equal(t, "", c.Get("traceparent"))
	assert.Nil(t, c.Keys())

	c.Set("traceparent", "00-abc-def-01")
	assert.Equal(t, "00-abc-def-01", c.Get("traceparent"))
	assert.Len(t, c.Keys(), 1)
}
