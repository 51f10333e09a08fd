package app

import (
	"fmt"

	pokeHTTP "github.com/allisson/outboxd/internal/poke/http"
	pokeRepository "github.com/allisson/outboxd/internal/poke/repository"
	pokeUseCase "github.com/allisson/outboxd/internal/poke/usecase"
	"github.com/allisson/outboxd/internal/procedure"
)

// ProcedureRunner returns the runner that commits mutations together with their events.
// Committed events wake the in-process dispatcher.
func (c *Container) ProcedureRunner() (*procedure.Runner, error) {
	c.procedureRunnerInit.Do(func() {
		var err error
		c.procedureRunner, err = c.initProcedureRunner()
		if err != nil {
			c.setInitError("procedureRunner", err)
		}
	})
	if err := c.initError("procedureRunner"); err != nil {
		return nil, err
	}
	return c.procedureRunner, nil
}

// PokeRepository returns the poke repository based on database driver.
func (c *Container) PokeRepository() (pokeUseCase.PokeRepository, error) {
	c.pokeRepositoryInit.Do(func() {
		var err error
		c.pokeRepository, err = c.initPokeRepository()
		if err != nil {
			c.setInitError("pokeRepository", err)
		}
	})
	if err := c.initError("pokeRepository"); err != nil {
		return nil, err
	}
	return c.pokeRepository, nil
}

// PokeUseCase returns the poke procedure.
func (c *Container) PokeUseCase() (pokeUseCase.UseCase, error) {
	c.pokeUseCaseInit.Do(func() {
		runner, err := c.ProcedureRunner()
		if err != nil {
			c.setInitError("pokeUseCase", fmt.Errorf("failed to get procedure runner for poke use case: %w", err))
			return
		}
		repo, err := c.PokeRepository()
		if err != nil {
			c.setInitError("pokeUseCase", fmt.Errorf("failed to get poke repository for poke use case: %w", err))
			return
		}
		c.pokeUseCase = pokeUseCase.NewPokeUseCase(runner, repo)
	})
	if err := c.initError("pokeUseCase"); err != nil {
		return nil, err
	}
	return c.pokeUseCase, nil
}

// PokeHandler returns the HTTP handler for the poke procedure.
func (c *Container) PokeHandler() (*pokeHTTP.PokeHandler, error) {
	c.pokeHandlerInit.Do(func() {
		useCase, err := c.PokeUseCase()
		if err != nil {
			c.setInitError("pokeHandler", fmt.Errorf("failed to get poke use case for poke handler: %w", err))
			return
		}
		c.pokeHandler = pokeHTTP.NewPokeHandler(useCase, c.Logger())
	})
	if err := c.initError("pokeHandler"); err != nil {
		return nil, err
	}
	return c.pokeHandler, nil
}

func (c *Container) initProcedureRunner() (*procedure.Runner, error) {
	txManager, err := c.TxManager()
	if err != nil {
		return nil, fmt.Errorf("failed to get tx manager for procedure runner: %w", err)
	}

	writer, err := c.Writer()
	if err != nil {
		return nil, fmt.Errorf("failed to get writer for procedure runner: %w", err)
	}

	dispatcher, err := c.Dispatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to get dispatcher for procedure runner: %w", err)
	}

	return procedure.NewRunner(txManager, writer, dispatcher), nil
}

func (c *Container) initPokeRepository() (pokeUseCase.PokeRepository, error) {
	db, err := c.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database for poke repository: %w", err)
	}

	switch c.config.DBDriver {
	case "mysql":
		return pokeRepository.NewMySQLPokeRepository(db), nil
	case "postgres":
		return pokeRepository.NewPostgreSQLPokeRepository(db), nil
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", c.config.DBDriver)
	}
}
