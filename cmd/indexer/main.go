package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/skillnet-labs/examchain-backend/internal/api"
	"github.com/skillnet-labs/examchain-backend/internal/common"
	"github.com/skillnet-labs/examchain-backend/internal/config"
	"github.com/skillnet-labs/examchain-backend/internal/db"
	"github.com/skillnet-labs/examchain-backend/internal/decoder"
	"github.com/skillnet-labs/examchain-backend/internal/domain"
	"github.com/skillnet-labs/examchain-backend/internal/indexer"
	"github.com/skillnet-labs/examchain-backend/internal/ingest"
	"github.com/skillnet-labs/examchain-backend/internal/logger"
	"github.com/skillnet-labs/examchain-backend/internal/metrics"
	"github.com/skillnet-labs/examchain-backend/internal/migrations"
	"github.com/skillnet-labs/examchain-backend/internal/projector"
	"github.com/skillnet-labs/examchain-backend/internal/store"
)

const (
	version         = "1.0.0"
	shutdownTimeout = 15 * time.Second
)

var configPath string

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "examchain-indexer",
	Short: "ExamChain event indexer",
	Long: `ExamChain indexer streams exam platform events from the chain, stores
them idempotently and projects them into exams, users, registrations,
results and notifications.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runIndexer,
}

var validateCmd = &cobra.Command{
	Use:   "validate-config",
	Short: "Validate the configuration file and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.LoadDotEnv(""); err != nil {
			return err
		}
		cfg, err := config.LoadFromFile(configPath)
		if err != nil {
			return err
		}
		fmt.Printf("configuration ok: network=%s contracts=%d\n", cfg.Network, len(cfg.Contracts))
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "path to configuration file")
	rootCmd.AddCommand(validateCmd)
}

func runIndexer(cmd *cobra.Command, args []string) error {
	if err := config.LoadDotEnv(""); err != nil {
		return err
	}

	cfg, err := config.LoadFromFile(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log := logger.NewComponentLoggerFromConfig(common.ComponentIndexer, cfg.Logging)

	log.Info("running database migrations")
	if err := migrations.RunMigrations(cfg.DB.Path); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	database, err := db.NewSQLiteDBFromConfig(cfg.DB)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer database.Close() //nolint:errcheck

	dec, err := decoder.New(cfg.Contracts, logger.NewComponentLoggerFromConfig(common.ComponentDecoder, cfg.Logging))
	if err != nil {
		return fmt.Errorf("failed to build event decoder: %w", err)
	}

	events := store.NewEventStore(database, logger.NewComponentLoggerFromConfig(common.ComponentStore, cfg.Logging))
	domainStore := domain.NewStore(database, logger.NewComponentLoggerFromConfig(common.ComponentDomain, cfg.Logging))
	registry := projector.NewRegistry(domainStore, logger.NewComponentLoggerFromConfig(common.ComponentProjector, cfg.Logging))
	ingestor := ingest.New(dec, events, registry, logger.NewComponentLoggerFromConfig(common.ComponentIngest, cfg.Logging))

	svc := indexer.New(cfg, database, events, ingestor, log)

	if err := svc.Start(ctx); err != nil {
		var initErr *indexer.StreamInitError
		if errors.As(err, &initErr) {
			return fmt.Errorf("cannot reach stream server %s: %w", cfg.Stream.ServerURL, err)
		}
		return err
	}

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		apiServer := api.NewServer(cfg.API, svc, logger.NewComponentLoggerFromConfig(common.ComponentAPI, cfg.Logging))
		return apiServer.Start(gCtx)
	})

	if cfg.Metrics != nil && cfg.Metrics.Enabled {
		metricsServer := metrics.NewServer(cfg.Metrics, log)
		g.Go(func() error {
			if err := metricsServer.Start(gCtx); err != nil {
				return fmt.Errorf("metrics server failed: %w", err)
			}
			<-gCtx.Done()
			stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return metricsServer.Stop(stopCtx)
		})
		log.Infow("metrics server started", "address", cfg.Metrics.ListenAddress, "path", cfg.Metrics.Path)
	}

	log.Infow("examchain indexer running", "network", cfg.Network, "version", version)

	<-ctx.Done()
	log.Info("shutting down")

	stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := svc.Stop(stopCtx); err != nil {
		log.Warnw("indexer did not stop cleanly", "error", err)
	}

	if err := g.Wait(); err != nil {
		return err
	}

	log.Info("examchain indexer stopped")
	return nil
}
