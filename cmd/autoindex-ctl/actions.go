package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/redis/go-redis/v9"
	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"

	"github.com/jmylchreest/autoindex-api/internal/config"
	"github.com/jmylchreest/autoindex-api/internal/database"
	"github.com/jmylchreest/autoindex-api/internal/models"
	"github.com/jmylchreest/autoindex-api/internal/redisclient"
	"github.com/jmylchreest/autoindex-api/internal/repository"
	"github.com/jmylchreest/autoindex-api/internal/service"
)

// env is the wiring shared by commands that need services.
type env struct {
	cfg      *config.Config
	db       *sql.DB
	redis    *redis.Client
	services *service.Services
}

func (e *env) Close() {
	if e.redis != nil {
		_ = e.redis.Close()
	}
	if e.db != nil {
		_ = e.db.Close()
	}
}

func openDB(cfg *config.Config) (*sql.DB, error) {
	db, err := database.New(cfg.DatabaseURL, database.Options{
		TursoURL:       cfg.TursoURL,
		TursoAuthToken: cfg.TursoAuthToken,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

func setup() (*env, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	e := &env{cfg: cfg}

	e.db, err = openDB(cfg)
	if err != nil {
		return nil, err
	}
	if cfg.RedisEnabled() {
		e.redis, err = redisclient.New(cfg.RedisURL)
		if err != nil {
			e.Close()
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
	}

	e.services, err = service.NewServices(cfg, repository.NewRepositories(e.db),
		service.Options{DB: e.db, Redis: e.redis}, slog.Default())
	if err != nil {
		e.Close()
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}
	return e, nil
}

// withEnv runs fn with a fully wired environment and prints its result.
func withEnv(fn func(ctx context.Context, e *env, c *cli.Context) (any, error)) cli.ActionFunc {
	return func(c *cli.Context) error {
		e, err := setup()
		if err != nil {
			return err
		}
		defer e.Close()

		result, err := fn(c.Context, e, c)
		if err != nil {
			if result != nil {
				_ = printResult(c.App.Writer, c.String("output"), result)
			}
			return err
		}
		return printResult(c.App.Writer, c.String("output"), result)
	}
}

func printResult(w io.Writer, format string, v any) error {
	switch format {
	case "yaml", "yml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		defer func() { _ = enc.Close() }()
		return enc.Encode(toPlain(v))
	case "json", "":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
}

// toPlain round-trips through JSON so YAML output uses the JSON field names.
func toPlain(v any) any {
	data, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return v
	}
	return out
}

func migrateAction(c *cli.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	db, err := openDB(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	if !c.Bool("status") {
		if err := database.MigrateWithLogger(db, slog.Default()); err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
	}
	status, err := database.Status(db)
	if err != nil {
		return err
	}
	pending := make([]string, 0, len(status.Pending))
	for _, m := range status.Pending {
		pending = append(pending, m.Timestamp)
	}
	return printResult(c.App.Writer, c.String("output"), map[string]any{
		"latest":  status.Latest,
		"applied": status.Applied,
		"pending": pending,
	})
}

func jobAction(name string) cli.ActionFunc {
	return withEnv(func(ctx context.Context, e *env, c *cli.Context) (any, error) {
		orch := e.services.Orchestrator
		run := map[string]func(context.Context) (*service.JobSummary, error){
			"daily":           orch.RunDaily,
			"retry-failed":    orch.RetryFailed,
			"resync-coverage": orch.ResyncCoverage,
		}[name]
		summary, err := run(ctx)
		if summary == nil {
			return nil, err
		}
		return summary, err
	})
}

var runSiteAction = withEnv(func(ctx context.Context, e *env, c *cli.Context) (any, error) {
	report, err := e.services.Orchestrator.RunSite(ctx, c.String("site"))
	if report == nil {
		return nil, err
	}
	return report, err
})

var jobRunsAction = withEnv(func(ctx context.Context, e *env, c *cli.Context) (any, error) {
	return e.services.Orchestrator.JobRuns(ctx)
})

var balanceAction = withEnv(func(ctx context.Context, e *env, c *cli.Context) (any, error) {
	balance, err := e.services.Ledger.Balance(ctx, c.String("user"))
	if err != nil {
		return nil, err
	}
	return map[string]any{"user_id": c.String("user"), "balance": balance}, nil
})

var transactionsAction = withEnv(func(ctx context.Context, e *env, c *cli.Context) (any, error) {
	return e.services.Ledger.Transactions(ctx, c.String("user"), c.Int("limit"), 0)
})

func adjustAction(refund bool) cli.ActionFunc {
	return withEnv(func(ctx context.Context, e *env, c *cli.Context) (any, error) {
		user, amount, reason := c.String("user"), c.Int64("amount"), c.String("reason")
		if refund {
			return e.services.Ledger.Refund(ctx, user, amount, reason)
		}

		txType := models.CreditTransactionType(c.String("type"))
		if txType != models.TxTypeBonus && txType != models.TxTypePurchase {
			return nil, fmt.Errorf("unsupported transaction type %q", txType)
		}
		var orderID *string
		if order := c.String("order"); order != "" {
			orderID = &order
		}
		tx, err := e.services.Ledger.Add(ctx, user, amount, txType, reason, orderID)
		if errors.Is(err, service.ErrDuplicateEvent) {
			return tx, nil
		}
		return tx, err
	})
}

var quotaAction = withEnv(func(ctx context.Context, e *env, c *cli.Context) (any, error) {
	return e.services.Quota.Status(ctx, c.String("user"))
})
