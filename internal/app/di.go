// Package app provides dependency injection container for assembling application components.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/allisson/outboxd/internal/config"
	"github.com/allisson/outboxd/internal/database"
	"github.com/allisson/outboxd/internal/http"
	"github.com/allisson/outboxd/internal/metrics"
	outboxHTTP "github.com/allisson/outboxd/internal/outbox/http"
	outboxService "github.com/allisson/outboxd/internal/outbox/service"
	outboxUseCase "github.com/allisson/outboxd/internal/outbox/usecase"
	pokeHTTP "github.com/allisson/outboxd/internal/poke/http"
	pokeUseCase "github.com/allisson/outboxd/internal/poke/usecase"
	"github.com/allisson/outboxd/internal/procedure"
)

// deadLetterPublisher is a dead-letter destination that must be closed on shutdown.
type deadLetterPublisher interface {
	outboxUseCase.DeadLetterPublisher
	Shutdown(ctx context.Context) error
}

// Container holds all application dependencies and provides methods to access them.
// It follows the lazy initialization pattern - components are created on first access.
type Container struct {
	// Configuration
	config *config.Config

	// Infrastructure
	logger *slog.Logger
	db     *sql.DB

	// Managers
	txManager database.TxManager

	// Metrics
	metricsProvider *metrics.Provider
	businessMetrics metrics.BusinessMetrics
	outboxMetrics   metrics.OutboxMetrics

	// Outbox
	outboxRepository    outboxUseCase.OutboxRepository
	deadLetterPublisher deadLetterPublisher
	catalog             *procedure.Catalog
	writer              outboxUseCase.WriterUseCase
	dispatcher          *outboxUseCase.Dispatcher
	adminUseCase        outboxUseCase.AdminUseCase
	outboxHandler       *outboxHTTP.OutboxHandler

	// Procedures
	procedureRunner *procedure.Runner
	pokeRepository  pokeUseCase.PokeRepository
	pokeUseCase     pokeUseCase.UseCase
	pokeHandler     *pokeHTTP.PokeHandler

	// Servers
	httpServer    *http.Server
	metricsServer *http.MetricsServer

	// Initialization flags and mutex for thread-safety
	mu                      sync.Mutex
	loggerInit              sync.Once
	dbInit                  sync.Once
	txManagerInit           sync.Once
	metricsProviderInit     sync.Once
	businessMetricsInit     sync.Once
	outboxMetricsInit       sync.Once
	outboxRepositoryInit    sync.Once
	deadLetterPublisherInit sync.Once
	catalogInit             sync.Once
	writerInit              sync.Once
	dispatcherInit          sync.Once
	adminUseCaseInit        sync.Once
	outboxHandlerInit       sync.Once
	procedureRunnerInit     sync.Once
	pokeRepositoryInit      sync.Once
	pokeUseCaseInit         sync.Once
	pokeHandlerInit         sync.Once
	httpServerInit          sync.Once
	metricsServerInit       sync.Once
	initErrors              map[string]error
}

// NewContainer creates a new dependency injection container with the provided configuration.
func NewContainer(cfg *config.Config) *Container {
	return &Container{
		config:     cfg,
		initErrors: make(map[string]error),
	}
}

// Config returns the application configuration.
func (c *Container) Config() *config.Config {
	return c.config
}

// setInitError records the first failure of a component so later calls return it too.
func (c *Container) setInitError(name string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.initErrors[name] = err
}

func (c *Container) initError(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.initErrors[name]
}

// Logger returns the configured logger instance.
// It creates a new logger on first access based on the log level in configuration.
func (c *Container) Logger() *slog.Logger {
	c.loggerInit.Do(func() {
		c.logger = c.initLogger()
	})
	return c.logger
}

// DB returns the database connection.
// It creates and configures the database connection on first access.
func (c *Container) DB() (*sql.DB, error) {
	c.dbInit.Do(func() {
		var err error
		c.db, err = c.initDB()
		if err != nil {
			c.setInitError("db", err)
		}
	})
	if err := c.initError("db"); err != nil {
		return nil, err
	}
	return c.db, nil
}

// TxManager returns the transaction manager.
// It requires a database connection to be initialized first.
func (c *Container) TxManager() (database.TxManager, error) {
	c.txManagerInit.Do(func() {
		var err error
		c.txManager, err = c.initTxManager()
		if err != nil {
			c.setInitError("txManager", err)
		}
	})
	if err := c.initError("txManager"); err != nil {
		return nil, err
	}
	return c.txManager, nil
}

// MetricsProvider returns the OpenTelemetry provider, or nil when metrics are disabled.
func (c *Container) MetricsProvider() (*metrics.Provider, error) {
	c.metricsProviderInit.Do(func() {
		if !c.config.MetricsEnabled {
			return
		}
		var err error
		c.metricsProvider, err = metrics.NewProvider(c.config.MetricsNamespace)
		if err != nil {
			c.setInitError("metricsProvider", fmt.Errorf("failed to create metrics provider: %w", err))
		}
	})
	if err := c.initError("metricsProvider"); err != nil {
		return nil, err
	}
	return c.metricsProvider, nil
}

// BusinessMetrics returns the business operation metrics, a no-op when metrics are disabled.
func (c *Container) BusinessMetrics() (metrics.BusinessMetrics, error) {
	c.businessMetricsInit.Do(func() {
		provider, err := c.MetricsProvider()
		if err != nil {
			c.setInitError("businessMetrics", err)
			return
		}
		if provider == nil {
			c.businessMetrics = metrics.NewNoOpBusinessMetrics()
			return
		}
		c.businessMetrics, err = metrics.NewBusinessMetrics(provider.MeterProvider(), c.config.MetricsNamespace)
		if err != nil {
			c.setInitError("businessMetrics", fmt.Errorf("failed to create business metrics: %w", err))
		}
	})
	if err := c.initError("businessMetrics"); err != nil {
		return nil, err
	}
	return c.businessMetrics, nil
}

// OutboxMetrics returns the dispatcher metrics, a no-op when metrics are disabled.
func (c *Container) OutboxMetrics() (metrics.OutboxMetrics, error) {
	c.outboxMetricsInit.Do(func() {
		provider, err := c.MetricsProvider()
		if err != nil {
			c.setInitError("outboxMetrics", err)
			return
		}
		if provider == nil {
			c.outboxMetrics = metrics.NewNoOpOutboxMetrics()
			return
		}
		c.outboxMetrics, err = metrics.NewOutboxMetrics(provider.MeterProvider(), c.config.MetricsNamespace)
		if err != nil {
			c.setInitError("outboxMetrics", fmt.Errorf("failed to create outbox metrics: %w", err))
		}
	})
	if err := c.initError("outboxMetrics"); err != nil {
		return nil, err
	}
	return c.outboxMetrics, nil
}

// HTTPServer returns the API server with every route registered.
func (c *Container) HTTPServer() (*http.Server, error) {
	c.httpServerInit.Do(func() {
		var err error
		c.httpServer, err = c.initHTTPServer()
		if err != nil {
			c.setInitError("httpServer", err)
		}
	})
	if err := c.initError("httpServer"); err != nil {
		return nil, err
	}
	return c.httpServer, nil
}

// MetricsServer returns the Prometheus metrics server, or nil when metrics are disabled.
func (c *Container) MetricsServer() (*http.MetricsServer, error) {
	c.metricsServerInit.Do(func() {
		provider, err := c.MetricsProvider()
		if err != nil {
			c.setInitError("metricsServer", err)
			return
		}
		if provider == nil {
			return
		}
		c.metricsServer = http.NewMetricsServer(c.config.ServerHost, c.config.MetricsPort, c.Logger(), provider)
	})
	if err := c.initError("metricsServer"); err != nil {
		return nil, err
	}
	return c.metricsServer, nil
}

// Shutdown performs cleanup of all initialized resources.
// It should be called when the application is shutting down.
func (c *Container) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var shutdownErrors []error

	if c.httpServer != nil {
		if err := c.httpServer.Shutdown(ctx); err != nil {
			shutdownErrors = append(shutdownErrors, fmt.Errorf("http server shutdown: %w", err))
		}
	}

	if c.metricsServer != nil {
		if err := c.metricsServer.Shutdown(ctx); err != nil {
			shutdownErrors = append(shutdownErrors, fmt.Errorf("metrics server shutdown: %w", err))
		}
	}

	if c.deadLetterPublisher != nil {
		if err := c.deadLetterPublisher.Shutdown(ctx); err != nil {
			shutdownErrors = append(shutdownErrors, fmt.Errorf("dead letter publisher shutdown: %w", err))
		}
	}

	if c.metricsProvider != nil {
		if err := c.metricsProvider.Shutdown(ctx); err != nil {
			shutdownErrors = append(shutdownErrors, fmt.Errorf("metrics provider shutdown: %w", err))
		}
	}

	if c.db != nil {
		if err := c.db.Close(); err != nil {
			shutdownErrors = append(shutdownErrors, fmt.Errorf("database close: %w", err))
		}
	}

	return errors.Join(shutdownErrors...)
}

// initLogger creates and configures a structured logger based on the log level.
func (c *Container) initLogger() *slog.Logger {
	var logLevel slog.Level
	switch c.config.LogLevel {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})

	return slog.New(handler)
}

// initDB creates and configures the database connection.
func (c *Container) initDB() (*sql.DB, error) {
	db, err := database.Connect(database.Config{
		Driver:             c.config.DBDriver,
		ConnectionString:   c.config.DBConnectionString,
		MaxOpenConnections: c.config.DBMaxOpenConnections,
		MaxIdleConnections: c.config.DBMaxIdleConnections,
		ConnMaxLifetime:    c.config.DBConnMaxLifetime,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

// initTxManager creates the transaction manager using the database connection.
func (c *Container) initTxManager() (database.TxManager, error) {
	db, err := c.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database for tx manager: %w", err)
	}
	return database.NewTxManager(db), nil
}

// initHTTPServer creates the HTTP server with all its dependencies.
func (c *Container) initHTTPServer() (*http.Server, error) {
	db, err := c.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database for http server: %w", err)
	}

	outboxHandler, err := c.OutboxHandler()
	if err != nil {
		return nil, fmt.Errorf("failed to get outbox handler for http server: %w", err)
	}

	pokeHandler, err := c.PokeHandler()
	if err != nil {
		return nil, fmt.Errorf("failed to get poke handler for http server: %w", err)
	}

	provider, err := c.MetricsProvider()
	if err != nil {
		return nil, fmt.Errorf("failed to get metrics provider for http server: %w", err)
	}

	server := http.NewServer(db, c.config.ServerHost, c.config.ServerPort, c.Logger())
	server.SetupRouter(c.config, outboxHandler, pokeHandler, provider)
	return server, nil
}

var _ deadLetterPublisher = (*outboxService.NoOpDeadLetterPublisher)(nil)
var _ deadLetterPublisher = (*outboxService.PubSubDeadLetterPublisher)(nil)
