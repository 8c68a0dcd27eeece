package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bobmcallan/realperf/internal/common"
	"github.com/bobmcallan/realperf/internal/models"
	"github.com/bobmcallan/realperf/internal/services/engine"
)

type stubEngine struct {
	result *models.PerformanceResult
	err    error
	got    models.InputBundle
	gotReq models.PerformanceRequest
}

func (s *stubEngine) Run(_ context.Context, req models.PerformanceRequest) (*models.PerformanceResult, error) {
	s.gotReq = req
	return s.result, s.err
}

func (s *stubEngine) RunBatches(_ context.Context, req models.PerformanceRequest, _ []models.RawBatch) (*models.PerformanceResult, error) {
	s.gotReq = req
	return s.result, s.err
}

func (s *stubEngine) RunBundle(_ context.Context, bundle models.InputBundle) (*models.PerformanceResult, error) {
	s.got = bundle
	return s.result, s.err
}

func newTestServer(eng *stubEngine) *Server {
	return newServer(common.NewDefaultConfig(), eng, common.NewSilentLogger())
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	rec := do(t, newTestServer(&stubEngine{}).Handler(), http.MethodGet, "/api/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get("X-Correlation-ID"))
}

func TestVersion(t *testing.T) {
	rec := do(t, newTestServer(&stubEngine{}).Handler(), http.MethodGet, "/api/version", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, common.CurrentBuild().Version, body["version"])
	assert.Contains(t, body, "commit")
}

func TestHealth_MethodNotAllowed(t *testing.T) {
	rec := do(t, newTestServer(&stubEngine{}).Handler(), http.MethodPost, "/api/health", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestCorrelationIDEchoed(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set("X-Request-ID", "abc123")
	rec := httptest.NewRecorder()
	newTestServer(&stubEngine{}).Handler().ServeHTTP(rec, req)
	assert.Equal(t, "abc123", rec.Header().Get("X-Correlation-ID"))
}

func TestPerformance_OK(t *testing.T) {
	eng := &stubEngine{result: &models.PerformanceResult{RunID: "run-1", BaseCurrency: "USD", Selected: models.TrackEnhanced}}
	body := `{"request":{"end":"2024-01-31T00:00:00Z","base_currency":"USD"},"batches":[{"provider":"ibkr","records":[]}],"prices":[{"symbol":"AAPL","date":"2024-01-31T00:00:00Z","close":110}]}`

	rec := do(t, newTestServer(eng).Handler(), http.MethodPost, "/api/performance", body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var got models.PerformanceResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "run-1", got.RunID)
	assert.Equal(t, models.TrackEnhanced, got.Selected)

	require.Len(t, eng.got.Batches, 1)
	assert.Equal(t, "ibkr", eng.got.Batches[0].Provider)
	require.Len(t, eng.got.Prices, 1)
	assert.Equal(t, 110.0, eng.got.Prices[0].Close)
}

func TestPerformance_ConfigurationErrorIs400(t *testing.T) {
	eng := &stubEngine{err: models.NewConfigurationError("base_currency", "unknown base currency %q", "ZZZ")}
	rec := do(t, newTestServer(eng).Handler(), http.MethodPost, "/api/performance", `{"request":{}}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var got ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "configuration_error", got.Code)
	assert.Equal(t, "base_currency", got.Entity)
	assert.Contains(t, got.Error, "ZZZ")
}

func TestPerformance_Errors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		body string
		want int
	}{
		{"invalid json", nil, `{"request":`, http.StatusBadRequest},
		{"empty body", nil, "", http.StatusBadRequest},
		{"cancelled", context.Canceled, `{}`, http.StatusServiceUnavailable},
		{"unexpected", errors.New("boom"), `{}`, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, newTestServer(&stubEngine{err: tt.err}).Handler(), http.MethodPost, "/api/performance", tt.body)
			assert.Equal(t, tt.want, rec.Code)
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
		})
	}
}

func TestPerformanceLive(t *testing.T) {
	eng := &stubEngine{result: &models.PerformanceResult{RunID: "live"}}
	rec := do(t, newTestServer(eng).Handler(), http.MethodPost, "/api/performance/live",
		`{"end":"2024-03-31T00:00:00Z","providers":["ibkr"]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"ibkr"}, eng.gotReq.Providers)
}

func TestPerformance_EndToEnd(t *testing.T) {
	eng := engine.NewEngine(common.NewDefaultConfig(), common.NewSilentLogger())
	s := newServer(common.NewDefaultConfig(), eng, common.NewSilentLogger())
	body := `{
		"request": {"end": "2024-01-31T00:00:00Z"},
		"batches": [{
			"provider": "ibkr",
			"format": "ibkr_flex",
			"meta": {"pagination_exhausted": true, "flows_reported": true},
			"records": [
				{"kind": "activity", "fields": {"type": "Deposits/Withdrawals", "dateTime": "20240102;101500", "amount": 10000, "currency": "USD", "accountId": "U1"}},
				{"kind": "activity", "fields": {"buySell": "BUY", "symbol": "AAPL", "tradeDate": "20240105", "quantity": 100, "tradePrice": 100, "currency": "USD", "assetCategory": "STK", "accountId": "U1", "transactionID": "T1"}}
			]
		}],
		"prices": [{"symbol": "AAPL", "date": "2024-01-31T00:00:00Z", "close": 110}]
	}`

	rec := do(t, s.Handler(), http.MethodPost, "/api/performance", body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var got models.PerformanceResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.InDelta(t, 0.10, got.Enhanced.CumulativeReturn, 1e-9)
	assert.Len(t, got.OpenLots, 1)
}

func TestPerformance_EndToEndRejectsBadRange(t *testing.T) {
	eng := engine.NewEngine(common.NewDefaultConfig(), common.NewSilentLogger())
	s := newServer(common.NewDefaultConfig(), eng, common.NewSilentLogger())

	rec := do(t, s.Handler(), http.MethodPost, "/api/performance",
		`{"request":{"start":"2024-03-01T00:00:00Z","end":"2024-01-31T00:00:00Z"}}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestShutdown(t *testing.T) {
	s := newTestServer(&stubEngine{})
	ch := make(chan struct{}, 1)
	s.SetShutdownChannel(ch)

	rec := do(t, s.Handler(), http.MethodPost, "/api/shutdown", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	<-ch
}

func TestShutdown_DisabledInProduction(t *testing.T) {
	cfg := common.NewDefaultConfig()
	cfg.Environment = "production"
	s := newServer(cfg, &stubEngine{}, common.NewSilentLogger())

	rec := do(t, s.Handler(), http.MethodPost, "/api/shutdown", "")
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestRecoveryMiddleware(t *testing.T) {
	h := recoveryMiddleware(common.NewSilentLogger())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("kaboom")
	}))
	rec := do(t, h, http.MethodGet, "/", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestCORSPreflight(t *testing.T) {
	rec := do(t, newTestServer(&stubEngine{}).Handler(), http.MethodOptions, "/api/performance", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}
