package crdb

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/permafrostdb/permafrost/gologger"
	"github.com/permafrostdb/permafrost/utils"
)

var (
	PGPool *pgxpool.Pool

	logger = gologger.NewLogger()
)

const connectTimeout = 10 * time.Second

// ConnectToDB builds the process-wide pool against CRDB_DSN. Pool sizing is
// tunable via CRDB_MAX_CONNS / CRDB_MIN_CONNS, the connection is verified
// with a ping before the pool is published.
func ConnectToDB() error {
	logger.Debug().Msg("connecting to CRDB...")
	config, err := pgxpool.ParseConfig(utils.CRDB_DSN)
	if err != nil {
		return fmt.Errorf("error in ParseConfig: %w", err)
	}

	config.MaxConns = int32(utils.GetEnvOrDefaultInt("CRDB_MAX_CONNS", 10))
	config.MinConns = int32(utils.GetEnvOrDefaultInt("CRDB_MIN_CONNS", 1))
	config.HealthCheckPeriod = time.Second * 5
	config.MaxConnLifetime = time.Minute * 30
	config.MaxConnIdleTime = time.Minute * 30

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	pool, err := pgxpool.ConnectConfig(ctx, config)
	if err != nil {
		return fmt.Errorf("error in ConnectConfig: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return fmt.Errorf("error pinging CRDB: %w", err)
	}

	PGPool = pool
	logger.Debug().Int32("maxConns", config.MaxConns).Msg("connected to CRDB")
	return nil
}
