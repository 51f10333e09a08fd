package app

import (
	"context"
	"fmt"

	"github.com/allisson/outboxd/internal/backoff"
	"github.com/allisson/outboxd/internal/consumers"
	outboxDomain "github.com/allisson/outboxd/internal/outbox/domain"
	outboxHTTP "github.com/allisson/outboxd/internal/outbox/http"
	outboxRepository "github.com/allisson/outboxd/internal/outbox/repository"
	outboxService "github.com/allisson/outboxd/internal/outbox/service"
	outboxUseCase "github.com/allisson/outboxd/internal/outbox/usecase"
	pokeDomain "github.com/allisson/outboxd/internal/poke/domain"
	"github.com/allisson/outboxd/internal/procedure"
)

// OutboxRepository returns the outbox repository based on database driver.
func (c *Container) OutboxRepository() (outboxUseCase.OutboxRepository, error) {
	c.outboxRepositoryInit.Do(func() {
		var err error
		c.outboxRepository, err = c.initOutboxRepository()
		if err != nil {
			c.setInitError("outboxRepository", err)
		}
	})
	if err := c.initError("outboxRepository"); err != nil {
		return nil, err
	}
	return c.outboxRepository, nil
}

// DeadLetterPublisher returns the dead-letter destination. It is a no-op unless
// OUTBOX_DEAD_LETTER_TOPIC_URL is set.
func (c *Container) DeadLetterPublisher() (outboxUseCase.DeadLetterPublisher, error) {
	c.deadLetterPublisherInit.Do(func() {
		var err error
		c.deadLetterPublisher, err = c.initDeadLetterPublisher()
		if err != nil {
			c.setInitError("deadLetterPublisher", err)
		}
	})
	if err := c.initError("deadLetterPublisher"); err != nil {
		return nil, err
	}
	return c.deadLetterPublisher, nil
}

// Catalog returns the list of event names the application's procedures emit.
func (c *Container) Catalog() *procedure.Catalog {
	c.catalogInit.Do(func() {
		c.catalog = procedure.NewCatalog(pokeDomain.EventName)
	})
	return c.catalog
}

// Registry builds a fresh consumer registry with the application consumers.
func (c *Container) Registry() (*outboxDomain.Registry, error) {
	builder := outboxDomain.NewRegistryBuilder(
		outboxDomain.WithEventCatalog(c.Catalog()),
		outboxDomain.WithRegistryLogger(c.Logger()),
	)
	if err := consumers.RegisterConsumers(builder, c.Logger(), c.config.OutboxDemoConsumersEnabled); err != nil {
		return nil, fmt.Errorf("failed to register consumers: %w", err)
	}
	return builder.Build(), nil
}

// Writer returns the outbox writer.
func (c *Container) Writer() (outboxUseCase.WriterUseCase, error) {
	c.writerInit.Do(func() {
		repo, err := c.OutboxRepository()
		if err != nil {
			c.setInitError("writer", fmt.Errorf("failed to get outbox repository for writer: %w", err))
			return
		}
		c.writer = outboxUseCase.NewWriter(repo, c.config.OutboxMaxPayloadBytes)
	})
	if err := c.initError("writer"); err != nil {
		return nil, err
	}
	return c.writer, nil
}

// Dispatcher returns the outbox dispatcher. The same instance is used by the worker
// loop, the manual dispatch endpoint and the procedure runner's wake-up notifications.
func (c *Container) Dispatcher() (*outboxUseCase.Dispatcher, error) {
	c.dispatcherInit.Do(func() {
		var err error
		c.dispatcher, err = c.initDispatcher()
		if err != nil {
			c.setInitError("dispatcher", err)
		}
	})
	if err := c.initError("dispatcher"); err != nil {
		return nil, err
	}
	return c.dispatcher, nil
}

// AdminUseCase returns the outbox admin use case.
func (c *Container) AdminUseCase() (outboxUseCase.AdminUseCase, error) {
	c.adminUseCaseInit.Do(func() {
		var err error
		c.adminUseCase, err = c.initAdminUseCase()
		if err != nil {
			c.setInitError("adminUseCase", err)
		}
	})
	if err := c.initError("adminUseCase"); err != nil {
		return nil, err
	}
	return c.adminUseCase, nil
}

// OutboxHandler returns the HTTP handler for the outbox admin endpoints.
func (c *Container) OutboxHandler() (*outboxHTTP.OutboxHandler, error) {
	c.outboxHandlerInit.Do(func() {
		var err error
		c.outboxHandler, err = c.initOutboxHandler()
		if err != nil {
			c.setInitError("outboxHandler", err)
		}
	})
	if err := c.initError("outboxHandler"); err != nil {
		return nil, err
	}
	return c.outboxHandler, nil
}

// initOutboxRepository creates the outbox repository for the configured driver.
func (c *Container) initOutboxRepository() (outboxUseCase.OutboxRepository, error) {
	db, err := c.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database for outbox repository: %w", err)
	}

	switch c.config.DBDriver {
	case "mysql":
		return outboxRepository.NewMySQLOutboxRepository(db), nil
	case "postgres":
		return outboxRepository.NewPostgreSQLOutboxRepository(db), nil
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", c.config.DBDriver)
	}
}

// initDeadLetterPublisher opens the configured pubsub topic.
func (c *Container) initDeadLetterPublisher() (deadLetterPublisher, error) {
	if c.config.OutboxDeadLetterTopicURL == "" {
		return outboxService.NewNoOpDeadLetterPublisher(), nil
	}

	publisher, err := outboxService.OpenPubSubDeadLetterPublisher(
		context.Background(),
		c.config.OutboxDeadLetterTopicURL,
		c.Logger(),
	)
	if err != nil {
		return nil, err
	}
	return publisher, nil
}

// initDispatcher creates the dispatcher with all its dependencies.
func (c *Container) initDispatcher() (*outboxUseCase.Dispatcher, error) {
	txManager, err := c.TxManager()
	if err != nil {
		return nil, fmt.Errorf("failed to get tx manager for dispatcher: %w", err)
	}

	repo, err := c.OutboxRepository()
	if err != nil {
		return nil, fmt.Errorf("failed to get outbox repository for dispatcher: %w", err)
	}

	registry, err := c.Registry()
	if err != nil {
		return nil, err
	}

	deadLetters, err := c.DeadLetterPublisher()
	if err != nil {
		return nil, fmt.Errorf("failed to get dead letter publisher for dispatcher: %w", err)
	}

	outboxMetrics, err := c.OutboxMetrics()
	if err != nil {
		return nil, fmt.Errorf("failed to get outbox metrics for dispatcher: %w", err)
	}

	strategy, err := backoff.New(
		c.config.OutboxBackoffStrategy,
		c.config.OutboxBackoffInitial,
		c.config.OutboxBackoffMax,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create backoff strategy: %w", err)
	}

	dispatcherConfig := outboxUseCase.DispatcherConfig{
		PollInterval:      c.config.OutboxPollInterval,
		BatchSize:         c.config.OutboxBatchSize,
		MaxAttempts:       c.config.OutboxMaxAttempts,
		ConsumerTimeout:   c.config.OutboxConsumerTimeout,
		VisibilityTimeout: c.config.OutboxVisibilityTimeout,
		Concurrency:       c.config.OutboxConcurrency,
		Backoff:           strategy,
	}

	return outboxUseCase.NewDispatcher(
		dispatcherConfig,
		txManager,
		repo,
		registry,
		deadLetters,
		outboxMetrics,
		c.Logger(),
	), nil
}

// initAdminUseCase creates the admin use case, wrapped with metrics when enabled.
func (c *Container) initAdminUseCase() (outboxUseCase.AdminUseCase, error) {
	txManager, err := c.TxManager()
	if err != nil {
		return nil, fmt.Errorf("failed to get tx manager for admin use case: %w", err)
	}

	repo, err := c.OutboxRepository()
	if err != nil {
		return nil, fmt.Errorf("failed to get outbox repository for admin use case: %w", err)
	}

	dispatcher, err := c.Dispatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to get dispatcher for admin use case: %w", err)
	}

	baseUseCase := outboxUseCase.NewAdminUseCase(txManager, repo, dispatcher)

	if c.config.MetricsEnabled {
		businessMetrics, err := c.BusinessMetrics()
		if err != nil {
			return nil, fmt.Errorf("failed to get business metrics for admin use case: %w", err)
		}
		return outboxUseCase.NewAdminUseCaseWithMetrics(baseUseCase, businessMetrics), nil
	}

	return baseUseCase, nil
}

// initOutboxHandler creates the outbox HTTP handler with all its dependencies.
func (c *Container) initOutboxHandler() (*outboxHTTP.OutboxHandler, error) {
	adminUseCase, err := c.AdminUseCase()
	if err != nil {
		return nil, fmt.Errorf("failed to get admin use case for outbox handler: %w", err)
	}

	dispatcher, err := c.Dispatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to get dispatcher for outbox handler: %w", err)
	}

	return outboxHTTP.NewOutboxHandler(adminUseCase, dispatcher, c.Logger()), nil
}
