// Package integration provides end-to-end tests for the outbox service against both
// PostgreSQL and MySQL databases.
package integration

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/allisson/outboxd/internal/app"
	"github.com/allisson/outboxd/internal/backoff"
	"github.com/allisson/outboxd/internal/config"
	"github.com/allisson/outboxd/internal/testutil"
)

// integrationTestContext holds all dependencies and state for integration testing.
type integrationTestContext struct {
	container *app.Container
	db        *sql.DB
	server    *httptest.Server
	dbDriver  string
}

// makeRequest performs an HTTP request and returns the response and body.
func (ctx *integrationTestContext) makeRequest(
	t *testing.T,
	method, path string,
	body interface{},
) (*http.Response, []byte) {
	t.Helper()

	var bodyReader io.Reader
	if body != nil {
		bodyBytes, err := json.Marshal(body)
		require.NoError(t, err, "failed to marshal request body")
		bodyReader = bytes.NewReader(bodyBytes)
	}

	req, err := http.NewRequest(method, ctx.server.URL+path, bodyReader)
	require.NoError(t, err, "failed to create request")

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	client := &http.Client{Timeout: 10 * time.Second}
	//nolint:gosec // controlled test environment with localhost URLs
	resp, err := client.Do(req)
	require.NoError(t, err, "failed to perform request")

	respBody, err := io.ReadAll(resp.Body)
	require.NoError(t, err, "failed to read response body")
	if closeErr := resp.Body.Close(); closeErr != nil {
		t.Logf("Warning: failed to close response body: %v", closeErr)
	}

	return resp, respBody
}

// dispatchUntilSettled runs dispatch passes until the entry reaches a terminal status
// or the pass budget runs out.
func (ctx *integrationTestContext) dispatchUntilSettled(t *testing.T, entryID string, passes int) string {
	t.Helper()

	dispatcher, err := ctx.container.Dispatcher()
	require.NoError(t, err)

	var status string
	for i := 0; i < passes; i++ {
		_, err := dispatcher.DispatchOnce(context.Background())
		require.NoError(t, err)

		resp, body := ctx.makeRequest(t, http.MethodGet, "/v1/outbox/entries/"+entryID, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

		var entry struct {
			Status string `json:"status"`
		}
		require.NoError(t, json.Unmarshal(body, &entry))
		status = entry.Status
		if status == "completed" || status == "dead-lettered" {
			return status
		}
		time.Sleep(20 * time.Millisecond)
	}
	return status
}

// setupIntegrationTest initializes all components for integration testing. Demo
// consumers are enabled and retries back off by a constant millisecond so retry
// paths settle within a few passes.
func setupIntegrationTest(t *testing.T, dbDriver string) *integrationTestContext {
	t.Helper()

	gin.SetMode(gin.TestMode)

	var db *sql.DB
	var dsn string
	if dbDriver == "postgres" {
		testutil.SkipIfNoPostgres(t)
		db = testutil.SetupPostgresDB(t)
		dsn = testutil.GetPostgresTestDSN()
	} else {
		testutil.SkipIfNoMySQL(t)
		db = testutil.SetupMySQLDB(t)
		dsn = testutil.GetMySQLTestDSN()
	}

	cfg := &config.Config{
		DBDriver:                   dbDriver,
		DBConnectionString:         dsn,
		DBMaxOpenConnections:       10,
		DBMaxIdleConnections:       5,
		DBConnMaxLifetime:          time.Hour,
		ServerHost:                 "localhost",
		ServerPort:                 8080,
		LogLevel:                   "error",
		MetricsEnabled:             false,
		RateLimitDispatchEnabled:   false,
		OutboxPollInterval:         50 * time.Millisecond,
		OutboxBatchSize:            10,
		OutboxMaxAttempts:          3,
		OutboxBackoffStrategy:      backoff.KindConstant,
		OutboxBackoffInitial:       time.Millisecond,
		OutboxBackoffMax:           time.Millisecond,
		OutboxConsumerTimeout:      5 * time.Second,
		OutboxVisibilityTimeout:    30 * time.Second,
		OutboxConcurrency:          2,
		OutboxMaxPayloadBytes:      1 << 20,
		OutboxDeadLetterTopicURL:   "mem://outbox-dead-letters",
		OutboxDemoConsumersEnabled: true,
	}
	require.NoError(t, cfg.Validate())

	container := app.NewContainer(cfg)

	httpSrv, err := container.HTTPServer()
	require.NoError(t, err, "failed to get HTTP server")

	handler := httpSrv.GetHandler()
	require.NotNil(t, handler, "handler should not be nil after SetupRouter")

	return &integrationTestContext{
		container: container,
		db:        db,
		server:    httptest.NewServer(handler),
		dbDriver:  dbDriver,
	}
}

// teardownIntegrationTest cleans up all resources.
func teardownIntegrationTest(t *testing.T, ctx *integrationTestContext) {
	t.Helper()

	if ctx.server != nil {
		ctx.server.Close()
	}

	if ctx.container != nil {
		if err := ctx.container.Shutdown(context.Background()); err != nil {
			t.Logf("Warning: container shutdown error: %v", err)
		}
	}

	if ctx.db != nil {
		testutil.TeardownDB(t, ctx.db)
	}
}

var drivers = []string{"postgres", "mysql"}
