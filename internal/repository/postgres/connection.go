package postgres

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/tracelog"
	"github.com/rs/zerolog"

	"github.com/cassiomorais/payrecon/internal/infrastructure/config"
	"github.com/cassiomorais/payrecon/pkg/retry"
)

// NewPool opens the pool and pings it, retrying while Postgres starts up.
func NewPool(ctx context.Context, cfg *config.DatabaseConfig, logger zerolog.Logger) (*pgxpool.Pool, error) {
	poolConfig, err := poolConfig(cfg, logger)
	if err != nil {
		return nil, err
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	err = retry.Do(ctx, retry.Config{
		MaxAttempts:  5,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Name:         "postgres.ping",
	}, func() error {
		return pool.Ping(ctx)
	})
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping %s:%d: %w", cfg.Host, cfg.Port, err)
	}
	return pool, nil
}

func poolConfig(cfg *config.DatabaseConfig, logger zerolog.Logger) (*pgxpool.Config, error) {
	pc, err := pgxpool.ParseConfig(cfg.DatabaseDSN())
	if err != nil {
		return nil, fmt.Errorf("parse database config: %w", err)
	}

	pc.MaxConns = int32(cfg.MaxConnections)
	pc.MinConns = int32(cfg.MinConnections)
	pc.MaxConnLifetime = cfg.ConnMaxLifetime
	pc.MaxConnIdleTime = 30 * time.Minute
	pc.HealthCheckPeriod = time.Minute

	params := pc.ConnConfig.RuntimeParams
	if cfg.ApplicationName != "" {
		params["application_name"] = cfg.ApplicationName
	}
	if cfg.StatementTimeout > 0 {
		params["statement_timeout"] = strconv.FormatInt(cfg.StatementTimeout.Milliseconds(), 10)
	}
	params["timezone"] = "UTC"

	level := tracelog.LogLevelWarn
	if cfg.QueryLogLevel != "" {
		if level, err = tracelog.LogLevelFromString(cfg.QueryLogLevel); err != nil {
			return nil, fmt.Errorf("database.query_log_level: %w", err)
		}
	}
	if level != tracelog.LogLevelNone {
		pc.ConnConfig.Tracer = &tracelog.TraceLog{
			Logger:   queryLogger(logger),
			LogLevel: level,
		}
	}
	return pc, nil
}

func queryLogger(logger zerolog.Logger) tracelog.Logger {
	return tracelog.LoggerFunc(func(ctx context.Context, level tracelog.LogLevel, msg string, data map[string]any) {
		var zl zerolog.Level
		switch level {
		case tracelog.LogLevelTrace:
			zl = zerolog.TraceLevel
		case tracelog.LogLevelDebug:
			zl = zerolog.DebugLevel
		case tracelog.LogLevelInfo:
			zl = zerolog.InfoLevel
		case tracelog.LogLevelWarn:
			zl = zerolog.WarnLevel
		default:
			zl = zerolog.ErrorLevel
		}
		logger.WithLevel(zl).Ctx(ctx).Fields(data).Msg(msg)
	})
}
