package api

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"polymarket-mm/internal/config"
	"polymarket-mm/internal/market"
	"polymarket-mm/internal/risk"
)

type fakeProvider struct {
	scanner *market.Scanner
	riskMgr *risk.Manager
}

func (f *fakeProvider) GetMarketsSnapshot() []MarketStatus { return nil }
func (f *fakeProvider) GetScanner() *market.Scanner        { return f.scanner }
func (f *fakeProvider) GetRiskManager() *risk.Manager      { return f.riskMgr }

func newFakeProvider() *fakeProvider {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return &fakeProvider{
		scanner: market.NewScanner(config.Config{}, logger),
		riskMgr: risk.NewManager(config.RiskConfig{MaxGlobalExposure: 1000}, logger),
	}
}

func TestIsOriginAllowed(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		origin  string
		cfg     config.DashboardConfig
		reqHost string
		want    bool
	}{
		{
			name:    "empty origin is allowed",
			origin:  "",
			cfg:     config.DashboardConfig{},
			reqHost: "localhost:8080",
			want:    true,
		},
		{
			name:    "localhost origin allowed by default",
			origin:  "http://localhost:8080",
			cfg:     config.DashboardConfig{},
			reqHost: "localhost:8080",
			want:    true,
		},
		{
			name:    "non-local origin denied by default",
			origin:  "https://evil.example",
			cfg:     config.DashboardConfig{},
			reqHost: "localhost:8080",
			want:    false,
		},
		{
			name:    "allowlist permits exact origin",
			origin:  "https://dash.example.com",
			cfg:     config.DashboardConfig{AllowedOrigins: []string{"https://dash.example.com"}},
			reqHost: "0.0.0.0:8080",
			want:    true,
		},
		{
			name:    "allowlist denies everything else",
			origin:  "https://evil.example",
			cfg:     config.DashboardConfig{AllowedOrigins: []string{"https://dash.example.com"}},
			reqHost: "0.0.0.0:8080",
			want:    false,
		},
		{
			name:    "same host allowed when no allowlist",
			origin:  "https://mm.internal:8080",
			cfg:     config.DashboardConfig{},
			reqHost: "mm.internal:8080",
			want:    true,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := isOriginAllowed(tt.origin, tt.cfg, tt.reqHost); got != tt.want {
				t.Fatalf("isOriginAllowed(%q) = %v, want %v", tt.origin, got, tt.want)
			}
		})
	}
}

func TestHandleRisk(t *testing.T) {
	t.Parallel()

	provider := newFakeProvider()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := NewHandlers(provider, config.Config{}, NewHub(logger), logger)

	req := httptest.NewRequest(http.MethodGet, "/api/risk", nil)
	rec := httptest.NewRecorder()

	h.HandleRisk(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	var snap RiskSnapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &snap); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if snap.MaxGlobalExposure != 1000 {
		t.Errorf("MaxGlobalExposure = %v, want 1000", snap.MaxGlobalExposure)
	}
}
