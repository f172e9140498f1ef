package cli

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"catalog.evalgo.org/common"
	"catalog.evalgo.org/internal/model"
	"catalog.evalgo.org/internal/store/pgstore"
	"catalog.evalgo.org/internal/tasks"
	"catalog.evalgo.org/otel"
)

var workerQueue string

// workerCmd runs one background task worker until interrupted. SIGINT and
// SIGTERM cancel the run context; an in-flight attempt sees its handler
// context cancelled and the worker returns once that attempt ends. The
// outcome is recorded through the same cancelled context, which the
// Postgres backend refuses, so the attempt stays running until another
// worker reclaims it after the heartbeat window.
var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "run a background task worker",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		logger := common.NewLogger(*newLogger(cfg))
		defer common.LogPanic(common.ServiceLogger(logger, cfg.Service.Name+"-worker", cfg.Service.Version))

		provider := otel.Init(cfg.Service.Name+"-worker", cfg.Service.Version)
		defer func() {
			if provider != nil {
				_ = provider.Shutdown(context.Background())
			}
		}()

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		backend, err := pgstore.Open(ctx, pgstore.Config{
			WriteDSN:        cfg.Postgres.WriteDSN,
			ReadDSN:         cfg.Postgres.ReadDSN,
			MaxIdleConns:    cfg.Postgres.MaxIdleConns,
			MaxOpenConns:    cfg.Postgres.MaxOpenConns,
			ConnMaxLifetime: cfg.Postgres.ConnMaxLifetime,
		})
		if err != nil {
			return err
		}
		defer backend.Close()

		service := tasks.New(backend, logger)

		var handler tasks.Handler
		switch workerQueue {
		case model.QueueTabularExpiration:
			handler = tasks.NewExpirationHandler(backend, logger)
		default:
			return errors.New("unknown queue: " + workerQueue)
		}

		worker := tasks.NewWorker(service, tasks.WorkerConfig{
			QueueName:    workerQueue,
			PollInterval: cfg.Tasks.PollInterval,
		}, handler, logger)

		logger.WithField("queue", workerQueue).Info("worker started")
		err = worker.Run(ctx)
		if errors.Is(err, context.Canceled) {
			logger.Info("worker stopped")
			return nil
		}
		return err
	},
}

func init() {
	workerCmd.Flags().StringVar(&workerQueue, "queue", model.QueueTabularExpiration, "task queue to serve")
	RootCmd.AddCommand(workerCmd)
}
