// Package tests runs the HTTP API end to end against a real database.
package tests

import (
	"context"
	"database/sql"
	"fmt"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/milad7akbari/sysense/internal/auth"
	"github.com/milad7akbari/sysense/internal/config"
	"github.com/milad7akbari/sysense/internal/db"
	httphandler "github.com/milad7akbari/sysense/internal/http"
	"github.com/milad7akbari/sysense/internal/metrics"
	"github.com/milad7akbari/sysense/internal/ratelimit"
	"github.com/milad7akbari/sysense/internal/repo"
	"github.com/milad7akbari/sysense/internal/sms"
)

// PostgresURLEnv names the variable that switches the suite to PostgreSQL.
// Without it the suite runs on an in-memory SQLite database.
const PostgresURLEnv = "TEST_DATABASE_URL"

// testStart is the fake clock's starting point.
var testStart = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// testServer holds the server and its collaborators.
type testServer struct {
	Server   *httptest.Server
	DB       *sql.DB
	Clock    *clockwork.FakeClock
	Registry *prometheus.Registry
	driver   string
}

// baseVars is the environment every suite starts from.
func baseVars() map[string]string {
	return map[string]string{
		"DB_DRIVER":          db.DriverSQLite,
		"DATABASE_URL":       ":memory:",
		"JWT_SECRET":         "test-jwt-secret-at-least-32-characters-long",
		"OTP_DEBUG_RESPONSE": "true",
		"ARGON2_MEMORY_KIB":  "64",
		"ARGON2_ITERATIONS":  "1",
	}
}

// newTestServer wires the full stack from config. Entries in overrides
// replace the defaults from baseVars.
func newTestServer(t *testing.T, overrides map[string]string) *testServer {
	t.Helper()

	vars := baseVars()
	if url := os.Getenv(PostgresURLEnv); url != "" {
		vars["DB_DRIVER"] = db.DriverPostgres
		vars["DATABASE_URL"] = url
	}
	for k, v := range overrides {
		vars[k] = v
	}
	cfg, err := config.LoadFrom(vars)
	require.NoError(t, err, "config load must succeed for integration test")

	ctx := context.Background()
	logger := zap.NewNop()
	database, err := db.Open(ctx, cfg.DBDriver, cfg.DatabaseURL, logger)
	require.NoError(t, err, "database open must succeed; check %s", PostgresURLEnv)
	t.Cleanup(func() { database.Close() })
	require.NoError(t, db.Migrate(database, cfg.DBDriver), "migrations must run successfully")

	dialect := repo.SQLite
	if cfg.DBDriver == db.DriverPostgres {
		dialect = repo.Postgres
	}
	store := repo.NewStore(database, dialect)

	clock := clockwork.NewFakeClockAt(testStart)
	limiter := ratelimit.NewMemoryLimiter(ratelimit.Config{
		Limit:   cfg.OTPRateLimit,
		Window:  cfg.OTPRateWindow,
		IdleTTL: cfg.RateLimitIdleTTL,
	}, clock)
	t.Cleanup(func() { limiter.Close() })

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	dispatcher := sms.NewDispatcher(sms.NewLogSender(logger), sms.DispatcherConfig{
		Workers:   cfg.SMSWorkers,
		QueueSize: cfg.SMSQueueSize,
	}, logger, m)
	t.Cleanup(func() { dispatcher.Close() })

	hasher := auth.NewArgon2Hasher(auth.Argon2Params{
		Memory:      cfg.Argon2MemoryKiB,
		Iterations:  cfg.Argon2Iterations,
		Parallelism: cfg.Argon2Parallelism,
	})
	codec := auth.NewTokenCodec(cfg.JWTSecret, clock)
	svc, err := auth.NewService(auth.Deps{
		Store:     store,
		OTPs:      auth.NewOTPStore(hasher, cfg.OTPLength, cfg.OTPTTL, clock),
		Ledger:    auth.NewLedger(codec, cfg.RefreshTokenTTL, clock),
		Codec:     codec,
		Hasher:    hasher,
		Limiter:   limiter,
		Deliverer: dispatcher,
		Metrics:   m,
		Logger:    logger,
		Clock:     clock,
	}, auth.Config{
		AccessTokenTTL:   cfg.AccessTokenTTL,
		DebugOTPResponse: cfg.OTPDebugResponse,
		RevokeAllOnReuse: cfg.RevokeAllOnReuse,
		PruneRetention:   cfg.PruneRetention,
	})
	require.NoError(t, err)

	router := httphandler.NewRouter(httphandler.RouterDeps{
		Service:  svc,
		Health:   store,
		Metrics:  m,
		Gatherer: reg,
		Logger:   logger,
	})
	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	ts := &testServer{Server: server, DB: database, Clock: clock, Registry: reg, driver: cfg.DBDriver}
	ts.TruncateAuth(t)
	return ts
}

func (s *testServer) BaseURL() string { return s.Server.URL }

// TruncateAuth empties the auth tables for a clean test state.
func (s *testServer) TruncateAuth(t *testing.T) {
	t.Helper()
	require.NoError(t, TruncateAuthTables(context.Background(), s.DB, s.driver), "truncate auth tables")
}

// TruncateAuthTables deletes every row of the auth tables.
func TruncateAuthTables(ctx context.Context, db *sql.DB, driver string) error {
	stmts := []string{"TRUNCATE TABLE refresh_tokens, otp_requests, users CASCADE"}
	if driver != "postgres" {
		stmts = []string{"DELETE FROM refresh_tokens", "DELETE FROM otp_requests", "DELETE FROM users"}
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("truncate auth tables: %w", err)
		}
	}
	return nil
}
