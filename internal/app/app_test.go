package app

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/SandilyaSub/Receptionist/internal/config"
	"github.com/SandilyaSub/Receptionist/internal/notify"
	livemock "github.com/SandilyaSub/Receptionist/pkg/provider/live/mock"
	llmmock "github.com/SandilyaSub/Receptionist/pkg/provider/llm/mock"
	storagemock "github.com/SandilyaSub/Receptionist/pkg/storage/mock"
)

type fakeSender struct{}

func (fakeSender) SendTemplate(context.Context, string, string, map[string]notify.Component) error {
	return nil
}

var _ notify.Sender = fakeSender{}

func testAppConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Model.APIKey = "test-key"
	cfg.Server.ListenAddr = "127.0.0.1:0"
	return cfg
}

func newTestApp(t *testing.T, cfg *config.Config, extra ...Option) *App {
	t.Helper()
	opts := append([]Option{
		WithoutTelemetry(),
		WithStore(&storagemock.Store{}),
		WithLiveProvider(&livemock.Provider{}),
		WithTextProvider(&llmmock.Provider{}),
	}, extra...)

	a, err := New(context.Background(), cfg, nil, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = a.Shutdown(context.Background()) })
	return a
}

func TestNew_WiresAllSubsystems(t *testing.T) {
	a := newTestApp(t, testAppConfig(), WithSender(fakeSender{}))

	if a.pipeline == nil || a.server == nil || a.analyzer == nil {
		t.Fatal("core subsystems not wired")
	}
	if a.dispatcher == nil {
		t.Error("expected a dispatcher when a sender is injected")
	}
}

func TestNew_OptionalStagesDisabled(t *testing.T) {
	a := newTestApp(t, testAppConfig())

	if a.dispatcher != nil {
		t.Error("dispatcher should be nil without msg91 credentials")
	}
	if a.fetcher != nil {
		t.Error("fetcher should be nil without telephony credentials")
	}
}

func TestNew_RequiresDatabase(t *testing.T) {
	cfg := testAppConfig()
	_, err := New(context.Background(), cfg, nil,
		WithoutTelemetry(),
		WithLiveProvider(&livemock.Provider{}),
		WithTextProvider(&llmmock.Provider{}),
	)
	if err == nil {
		t.Fatal("expected error without a database url or injected store")
	}
}

func TestNew_UnknownAnalysisProvider(t *testing.T) {
	cfg := testAppConfig()
	cfg.Analysis.Provider = "mystery"

	_, err := New(context.Background(), cfg, nil,
		WithoutTelemetry(),
		WithStore(&storagemock.Store{}),
		WithLiveProvider(&livemock.Provider{}),
	)
	if !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Fatalf("expected ErrProviderNotRegistered, got %v", err)
	}
}

func TestHandler_ServesHealthAndMetrics(t *testing.T) {
	a := newTestApp(t, testAppConfig())

	srv := httptest.NewServer(a.Handler())
	defer srv.Close()

	for _, path := range []string{"/healthz", "/readyz", "/metrics"} {
		resp, err := http.Get(srv.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("GET %s: status %d", path, resp.StatusCode)
		}
	}
}

func TestHealthCheckers_SkipNonPingableStore(t *testing.T) {
	a := newTestApp(t, testAppConfig())
	if got := a.healthCheckers(); len(got) != 0 {
		t.Errorf("mock store should register no readiness checks, got %d", len(got))
	}
}

func TestRun_StopsOnContextCancel(t *testing.T) {
	a := newTestApp(t, testAppConfig())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	// Give the listener a moment to come up, then cancel.
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run: got %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestShutdown_Idempotent(t *testing.T) {
	a := newTestApp(t, testAppConfig())
	for range 3 {
		if err := a.Shutdown(context.Background()); err != nil {
			t.Fatalf("Shutdown: %v", err)
		}
	}
}
