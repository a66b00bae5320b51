// Package fetch provides the HTTP client for the external market signal feed.
package fetch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/sirupsen/logrus"

	"github.com/yourorg/vehicle-valuation/internal/config"
	"github.com/yourorg/vehicle-valuation/internal/market"
	"github.com/yourorg/vehicle-valuation/internal/model"
)

// FeedClient looks up market signals from a remote feed. It implements market.Source.
type FeedClient struct {
	baseURL    string
	httpClient *http.Client
	apiKey     string
	maxAge     time.Duration
	now        func() time.Time
}

// NewFeedClient creates a feed client from the signal settings in cfg
func NewFeedClient(cfg config.Config) *FeedClient {
	httpClient := StandardClient(newRetryClient())
	httpClient.Timeout = cfg.SignalTimeout
	return &FeedClient{
		baseURL:    cfg.SignalFeedURL,
		httpClient: httpClient,
		apiKey:     cfg.SignalFeedAPIKey,
		maxAge:     cfg.SignalMaxAge,
		now:        time.Now,
	}
}

// newRetryClient creates a new HTTP client with retry capabilities
func newRetryClient() *retryablehttp.Client {
	c := retryablehttp.NewClient()
	c.RetryMax = 3
	c.RetryWaitMin = 500 * time.Millisecond
	c.RetryWaitMax = 3 * time.Second
	c.Logger = nil
	return c
}

// StandardClient converts a retryablehttp.Client to a standard http.Client
func StandardClient(retryClient *retryablehttp.Client) *http.Client {
	return retryClient.StandardClient()
}

type feedResponse struct {
	Signal *model.MarketSignal `json:"signal"`
	Match  market.Match        `json:"match"`
}

// Lookup asks the feed for the signal of one vehicle. A 404 means no signal.
func (c *FeedClient) Lookup(ctx context.Context, q market.Query) (market.Result, bool, error) {
	params := url.Values{}
	params.Set("brand", q.Brand)
	params.Set("model", q.Model)
	params.Set("year", strconv.Itoa(q.Year))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/signals?"+params.Encode(), nil)
	if err != nil {
		return market.Result{}, false, fmt.Errorf("error creating request: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	req.Header.Set("Accept", "application/json")

	logrus.WithFields(logrus.Fields{
		"brand": q.Brand,
		"model": q.Model,
		"year":  q.Year,
	}).Debug("Fetching market signal")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return market.Result{}, false, fmt.Errorf("error fetching market signal: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return market.Result{}, false, nil
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return market.Result{}, false, fmt.Errorf("signal feed error: status %d, body: %s", resp.StatusCode, string(body))
	}

	var payload feedResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return market.Result{}, false, fmt.Errorf("error decoding signal response: %w", err)
	}
	if payload.Signal == nil {
		return market.Result{}, false, nil
	}
	if c.maxAge > 0 && c.now().Sub(payload.Signal.Timestamp) > c.maxAge {
		logrus.WithFields(logrus.Fields{
			"key":       payload.Signal.Key(),
			"timestamp": payload.Signal.Timestamp,
		}).Debug("Ignoring outdated market signal")
		return market.Result{}, false, nil
	}

	match := payload.Match
	if match == "" {
		match = market.MatchExact
		if payload.Signal.Key() != q.Key() {
			match = market.MatchFuzzy
		}
	}
	return market.Result{Signal: *payload.Signal, Match: match}, true, nil
}
