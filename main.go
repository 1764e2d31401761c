package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/permafrostdb/permafrost/crdb"
	"github.com/permafrostdb/permafrost/engine"
	"github.com/permafrostdb/permafrost/gologger"
	"github.com/permafrostdb/permafrost/http_server"
	"github.com/permafrostdb/permafrost/metastore"
	"github.com/permafrostdb/permafrost/migrations"
	"github.com/permafrostdb/permafrost/storage"
	"github.com/permafrostdb/permafrost/utils"
)

var logger = gologger.NewLogger()

func main() {
	logger.Debug().Str("writerID", utils.GenRandomShortID()).Msg("starting permafrost ingest node")

	if err := crdb.ConnectToDB(); err != nil {
		logger.Error().Err(err).Msg("error connecting to CRDB")
		os.Exit(1)
	}

	if os.Getenv("AUTO_MIGRATE") == "1" {
		if _, err := migrations.RunMigrations(utils.CRDB_DSN); err != nil {
			logger.Error().Err(err).Msg("error running migrations")
			os.Exit(1)
		}
	}
	err := migrations.CheckMigrations(utils.CRDB_DSN)
	if err != nil {
		logger.Error().Err(err).Msg("Error checking migrations")
		os.Exit(1)
	}

	policy := storage.DefaultPolicy(utils.DATA_DIR)
	eng, err := engine.New(metastore.NewCRDBMetaStore(), policy)
	if err != nil {
		logger.Error().Err(err).Msg("error creating engine")
		os.Exit(1)
	}

	httpServer := http_server.StartHTTPServer(eng)

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	<-c
	logger.Warn().Msg("received shutdown signal!")

	// For AWS ALB needing some time to de-register pod
	sleepTime := utils.GetEnvOrDefaultInt("SHUTDOWN_SLEEP_SEC", 0)
	logger.Info().Msg(fmt.Sprintf("sleeping for %ds before exiting", sleepTime))

	time.Sleep(time.Second * time.Duration(sleepTime))
	logger.Info().Msg(fmt.Sprintf("slept for %ds, exiting", sleepTime))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second*10)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown HTTP server")
	} else {
		logger.Info().Msg("successfully shutdown HTTP server")
	}

	if err := eng.MetaStore.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown metastore")
	}
}
