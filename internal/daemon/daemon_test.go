package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/matheus3301/pigeon/internal/admin"
	"github.com/matheus3301/pigeon/internal/config"
	"github.com/matheus3301/pigeon/internal/lock"
	"github.com/matheus3301/pigeon/internal/store"
	"github.com/matheus3301/pigeon/internal/transport"
	"go.uber.org/fx"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	// Use a short path to avoid the macOS 104-char Unix socket limit.
	dir, err := os.MkdirTemp("/tmp", "pigeon-test-*")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.RemoveAll(dir) })

	cfg := config.Default()
	cfg.DataDir = dir
	cfg.Instance = "t"
	cfg.Listen = "127.0.0.1:0"
	cfg.JWTSecret = "daemon-test-secret-0123"
	return cfg
}

func TestDaemonLifecycle(t *testing.T) {
	cfg := testConfig(t)

	// A user left online by a crashed process must be reset on start.
	if err := cfg.EnsureDirs(); err != nil {
		t.Fatal(err)
	}
	seed, err := store.Open(cfg.DBPath())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := seed.Migrate(); err != nil {
		t.Fatal(err)
	}
	ghost, err := seed.CreateUser(context.Background(), "ghost", "pw")
	if err != nil {
		t.Fatal(err)
	}
	if err := seed.UpdateUserPresence(context.Background(), ghost.ID, true, time.Now()); err != nil {
		t.Fatal(err)
	}
	_ = seed.Close()

	var srv *transport.Server
	var db *store.DB
	app := fx.New(
		Module(Params{Config: cfg}),
		fx.Populate(&srv, &db),
		fx.NopLogger,
	)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := app.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	u, err := db.FindUserByID(ctx, ghost.ID)
	if err != nil {
		t.Fatal(err)
	}
	if u.IsOnline {
		t.Error("presence should be reset on start")
	}

	resp, err := http.Get("http://" + srv.Addr() + "/api/health")
	if err != nil {
		t.Fatal(err)
	}
	var health struct {
		Status string `json:"status"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&health)
	_ = resp.Body.Close()
	if health.Status != "OK" {
		t.Errorf("http health = %q, want OK", health.Status)
	}

	c, err := admin.Dial(cfg.SocketPath())
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = c.Close() }()
	// The admin server applies state changes asynchronously.
	var got healthpb.HealthCheckResponse_ServingStatus
	for deadline := time.Now().Add(3 * time.Second); time.Now().Before(deadline); time.Sleep(10 * time.Millisecond) {
		hr, err := c.Check(ctx)
		if err != nil {
			t.Fatalf("admin Check() error = %v", err)
		}
		if got = hr.GetStatus(); got == healthpb.HealthCheckResponse_SERVING {
			break
		}
	}
	if got != healthpb.HealthCheckResponse_SERVING {
		t.Errorf("admin health = %v, want SERVING", got)
	}

	// A second daemon on the same instance is refused.
	second := fx.New(Module(Params{Config: cfg}), fx.NopLogger)
	err = second.Start(ctx)
	var held *lock.HeldError
	if !errors.As(err, &held) {
		t.Errorf("second Start() error = %v, want *lock.HeldError", err)
	}

	if err := app.Stop(ctx); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if _, err := os.Stat(cfg.SocketPath()); !os.IsNotExist(err) {
		t.Errorf("admin socket left behind: %v", err)
	}
	if _, err := lock.Inspect(cfg.InstanceDir()); !os.IsNotExist(err) {
		t.Errorf("lock left behind: %v", err)
	}
}
