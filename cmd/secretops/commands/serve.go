package commands

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/secretops/secretops/internal/cleanup"
	"github.com/secretops/secretops/internal/config"
	"github.com/secretops/secretops/internal/destinations"
	"github.com/secretops/secretops/internal/metrics"
	"github.com/secretops/secretops/internal/notify"
	"github.com/secretops/secretops/internal/reminder"
	"github.com/secretops/secretops/internal/rotation"
	"github.com/secretops/secretops/internal/store"
	"github.com/secretops/secretops/internal/syncqueue"
	"github.com/secretops/secretops/pkg/jobs"
	"github.com/secretops/secretops/pkg/syncengine"
)

func NewServeCommand(cfg *config.Config) *cobra.Command {
	var metricsAddr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the sync and rotation worker service",
		Long: `Start the queue workers: the rotation sweep, secret sync jobs,
reminder delivery, and expired-resource cleanup. Runs until
interrupted.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.Load(); err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			logger := cfg.Logger

			service, err := buildService(cfg)
			if err != nil {
				return err
			}

			if metricsAddr != "" {
				mux := http.NewServeMux()
				mux.Handle("/metrics", promhttp.HandlerFor(service.registry, promhttp.HandlerOpts{}))
				server := &http.Server{Addr: metricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
				go func() {
					if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
						logger.Error("metrics server failed: %v", err)
					}
				}()
				defer server.Close()
				logger.Info("serving metrics on %s", metricsAddr)
			}

			if err := service.start(); err != nil {
				return err
			}
			logger.Info("✓ secretops workers started (mode: %s)", cfg.Definition.Mode)

			stop := make(chan os.Signal, 1)
			signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
			<-stop

			logger.Info("shutting down...")
			service.stop()
			return nil
		},
	}

	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Address to serve Prometheus metrics on (empty disables)")

	return cmd
}

// service holds the wired queue components of one serve invocation.
type service struct {
	registry *prometheus.Registry
	runner   *jobs.Runner
	rotation *rotation.Queue
	cleanup  *cleanup.Queue
}

// buildService wires the queues against in-memory stores. Embedding
// deployments construct the queues directly with their own store
// implementations instead.
func buildService(cfg *config.Config) (*service, error) {
	logger := cfg.Logger
	def := cfg.Definition

	registry := prometheus.NewRegistry()
	m := metrics.New(registry)
	runner := jobs.NewRunner(logger)

	var mailer notify.Mailer
	if def.Email != nil {
		smtpMailer := notify.NewSMTPMailer(*def.Email, logger)
		if err := smtpMailer.Validate(); err != nil {
			return nil, fmt.Errorf("invalid email configuration: %w", err)
		}
		mailer = smtpMailer
	} else {
		logger.Warn("no email configuration, notifications will only be logged")
		mailer = notify.NewLogMailer(logger)
	}
	sink := notify.NewMemorySink()

	directory := store.NewMemoryDirectory()
	syncs := store.NewMemorySyncStore()
	rotations := store.NewMemoryRotationStore()
	policy := rotation.PolicyForMode(cfg.IsDevelopment())

	rotators := rotation.NewRegistry()
	rotators.Register(rotation.NewRandomTokenRotator(logger))
	rotators.Register(rotation.NewSQLCredentialsRotator(logger))
	rotators.Register(rotation.NewAWSIAMRotator(logger))

	rotationQueue := rotation.NewQueue(rotation.Deps{
		Runner:    runner,
		Rotators:  rotators,
		Rotations: rotations,
		Directory: directory,
		Writer:    rotation.NewMemoryCredentialWriter(),
		Mailer:    mailer,
		Sink:      sink,
		Metrics:   m,
		Logger:    logger,
		Policy:    policy,
	}, rotation.QueueOptions{
		SweepInterval:    def.Rotation.SweepInterval(),
		DisableOnFailure: def.Rotation.DisableErrors,
		SiteURL:          def.SiteURL,
		Execute:          def.Queues.Rotation.WorkerOptions(),
	})

	syncqueue.NewQueue(syncqueue.Deps{
		Runner:      runner,
		Engine:      syncengine.New(logger),
		Registry:    destinations.NewDefaultRegistry(logger),
		Syncs:       syncs,
		Source:      syncqueue.NewMemorySecretSource(),
		Connections: syncqueue.NewMemoryConnections(),
		Directory:   directory,
		Mailer:      mailer,
		Sink:        sink,
		Metrics:     m,
		Logger:      logger,
	}, syncqueue.QueueOptions{
		SiteURL: def.SiteURL,
		Workers: def.Queues.Sync.WorkerOptions(),
	})

	reminder.NewQueue(runner, directory, mailer, m, logger, policy, def.Queues.Reminder.WorkerOptions())

	expiring := []store.ExpiringStore{
		store.NewMemoryExpiringStore("audit-log"),
		store.NewMemoryExpiringStore("auth-token"),
		store.NewMemoryExpiringStore("shared-secret"),
	}
	cleanupQueue := cleanup.NewQueue(runner, expiring, m, logger, def.Cleanup.Interval(), nil)

	return &service{
		registry: registry,
		runner:   runner,
		rotation: rotationQueue,
		cleanup:  cleanupQueue,
	}, nil
}

func (s *service) start() error {
	if err := s.rotation.Start(); err != nil {
		return err
	}
	if err := s.cleanup.Start(); err != nil {
		return err
	}
	s.runner.Start()
	return nil
}

func (s *service) stop() {
	s.rotation.Stop()
	s.cleanup.Stop()
	s.runner.Stop()
}
