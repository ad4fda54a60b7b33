package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/schemalign/schemalign/internal/adapter"
	"github.com/schemalign/schemalign/internal/config"
	"github.com/schemalign/schemalign/internal/generator"
	"github.com/schemalign/schemalign/internal/logging"
)

// environment bundles everything a command needs to talk to one database.
type environment struct {
	Config    *config.Config
	Log       *slog.Logger
	Adapter   adapter.Adapter
	Generator generator.Generator
}

// setup loads the config, initializes logging and connects the adapter.
// Callers must Close the adapter.
func setup(ctx context.Context, needGenerator bool) (*environment, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}

	level := cfg.Logging.Level
	if logLevel != "" {
		level = logLevel
	}
	log, err := logging.Setup(level, cfg.Logging.Directory)
	if err != nil {
		return nil, err
	}

	a, err := newAdapter(ctx, &cfg.Database)
	if err != nil {
		return nil, err
	}

	env := &environment{Config: cfg, Log: log, Adapter: a}
	if needGenerator {
		env.Generator, err = newGenerator(&cfg.Database)
		if err != nil {
			a.Close()
			return nil, err
		}
	}
	return env, nil
}

func newAdapter(ctx context.Context, db *config.DatabaseConfig) (adapter.Adapter, error) {
	switch db.Type {
	case "postgresql":
		ssl := "disable"
		if db.SSL {
			ssl = "require"
		}
		connStr := fmt.Sprintf(
			"host=%s port=%d dbname=%s user=%s password=%s sslmode=%s default_query_exec_mode=simple_protocol",
			db.Host, db.Port, db.Database, db.Username, db.Password, ssl,
		)
		a := adapter.NewPostgres(connStr, db.Schema, db.Prefix)
		if err := a.Connect(ctx); err != nil {
			return nil, err
		}
		return a, nil
	case "mysql":
		dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s", db.Username, db.Password, db.Host, db.Port, db.Database)
		a, err := adapter.NewMySQL(dsn, db.Prefix)
		if err != nil {
			return nil, err
		}
		if err := a.Connect(ctx); err != nil {
			return nil, err
		}
		return a, nil
	case "oracle":
		connStr := fmt.Sprintf("oracle://%s:%s@%s:%d/%s", db.Username, db.Password, db.Host, db.Port, db.Database)
		owner := db.Schema
		if owner == "" {
			owner = db.Username
		}
		a := adapter.NewOracle(connStr, owner, db.Prefix)
		if err := a.Connect(ctx); err != nil {
			return nil, err
		}
		return a, nil
	}
	return nil, fmt.Errorf("unsupported database type %q", db.Type)
}

func newGenerator(db *config.DatabaseConfig) (generator.Generator, error) {
	switch db.Type {
	case "postgresql":
		return generator.NewPostgres(db.Prefix), nil
	case "mysql":
		return generator.NewMySQL(db.Prefix), nil
	case "oracle":
		return nil, fmt.Errorf("oracle support is introspection-only; check and fix are not available")
	}
	return nil, fmt.Errorf("unsupported database type %q", db.Type)
}
