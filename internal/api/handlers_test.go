package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mescon/desup/internal/auth"
	"github.com/mescon/desup/internal/clock"
	"github.com/mescon/desup/internal/config"
	"github.com/mescon/desup/internal/db"
	"github.com/mescon/desup/internal/eventbus"
	"github.com/mescon/desup/internal/integration"
	"github.com/mescon/desup/internal/metrics"
	"github.com/mescon/desup/internal/services"
)

const testBearer = "Bearer good-token"

// stubAuthenticator accepts exactly one bearer token and returns a fixed
// identity for it.
type stubAuthenticator struct {
	identity auth.Identity
}

func (a *stubAuthenticator) Authenticate(authHeader string) (auth.Identity, error) {
	token, err := auth.ExtractBearer(authHeader)
	if err != nil {
		return auth.Identity{}, err
	}
	if token != "good-token" {
		return auth.Identity{}, auth.ErrInvalidToken
	}
	return a.identity, nil
}

type stubDelegator struct {
	token string
	err   error
}

func (d *stubDelegator) ExchangeOnBehalfOf(context.Context, string, string) (string, error) {
	if d.err != nil {
		return "", d.err
	}
	return d.token, nil
}

type stubBus struct {
	err       error
	published []integration.ScanInitiated
}

func (b *stubBus) PublishScanInitiated(_ context.Context, ev integration.ScanInitiated) (integration.PublishReceipt, error) {
	if b.err != nil {
		return integration.PublishReceipt{}, b.err
	}
	b.published = append(b.published, ev)
	return integration.PublishReceipt{EventID: "event-1", StatusCode: http.StatusOK}, nil
}

type stubDrive struct {
	failIDs map[string]error
	deleted []string
}

func (d *stubDrive) DeleteItem(_ context.Context, _, itemID string) error {
	if err, ok := d.failIDs[itemID]; ok {
		return err
	}
	d.deleted = append(d.deleted, itemID)
	return nil
}

// testServer bundles a RESTServer with the stubs behind it.
type testServer struct {
	server    *RESTServer
	repo      *db.Repository
	store     db.ScanStore
	delegator *stubDelegator
	bus       *stubBus
	drive     *stubDrive
}

var (
	sharedMetrics     *metrics.MetricsService
	sharedMetricsOnce sync.Once
)

// getTestMetrics returns a process-wide metrics service: the default
// Prometheus registry rejects duplicate registration across tests.
func getTestMetrics(eb *eventbus.EventBus) *metrics.MetricsService {
	sharedMetricsOnce.Do(func() {
		sharedMetrics = metrics.NewMetricsService(eb)
	})
	return sharedMetrics
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	gin.SetMode(gin.TestMode)

	cfg := config.NewTestConfig()
	cfg.DataDir = t.TempDir()
	cfg.DatabasePath = filepath.Join(cfg.DataDir, "desup.db")
	config.SetForTesting(cfg)

	repo, err := db.NewRepository(cfg.DatabasePath)
	if err != nil {
		t.Fatalf("repository: %v", err)
	}
	t.Cleanup(func() { _ = repo.Close() })

	eb := eventbus.NewEventBus(repo.DB)
	t.Cleanup(eb.Shutdown)

	store := db.NewScanStore(repo.DB)
	delegator := &stubDelegator{token: "downstream-token"}
	bus := &stubBus{}
	drive := &stubDrive{}
	clk := clock.NewMockClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))

	workflow := services.NewWorkflowService(store, delegator, bus, eb, clk, cfg.DriveScope)
	reconciler := services.NewReconciler(store, delegator, drive, eb, cfg.DriveScope)

	server := NewRESTServer(ServerDeps{
		Repo:          repo,
		EventBus:      eb,
		Authenticator: &stubAuthenticator{identity: auth.Identity{UserID: "user-1", TenantID: "tenant-1", Assertion: "good-token"}},
		Workflow:      workflow,
		Reconciler:    reconciler,
		Metrics:       getTestMetrics(eb),
	})

	return &testServer{
		server:    server,
		repo:      repo,
		store:     store,
		delegator: delegator,
		bus:       bus,
		drive:     drive,
	}
}

// newRequest builds a bare request/recorder pair for tests that need to set
// their own headers.
func (ts *testServer) newRequest(method, path string) (*http.Request, *httptest.ResponseRecorder) {
	return httptest.NewRequest(method, path, nil), httptest.NewRecorder()
}

// do runs one request through the router and returns the recorder.
func (ts *testServer) do(method, path, bearer string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	if bearer != "" {
		req.Header.Set("Authorization", bearer)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	ts.server.router.ServeHTTP(rec, req)
	return rec
}
