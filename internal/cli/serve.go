package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"CivicAlertManager/internal/adapter/http/ctrl"
	"CivicAlertManager/internal/app"
	"CivicAlertManager/internal/clock"
	"CivicAlertManager/internal/config"
	"CivicAlertManager/internal/metrics"
	"CivicAlertManager/internal/repo"
)

const shutdownTimeout = 10 * time.Second

// ServeCmd returns the command that runs the escalation engine
func ServeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the escalation engine and its HTTP API",
		Long: `Loads the configuration, opens the alert database, resumes every alert
that was active when the previous run stopped, and serves the HTTP API
(and Telegram commands when a bot token is set) until interrupted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			logger, err := NewLogger(cfg.Log)
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, logger)
		},
	}
	addConfigFlag(cmd, &configPath)
	return cmd
}

func serve(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	clk := clock.Real()
	cat, err := buildCatalog(cfg, clk)
	if err != nil {
		return err
	}
	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	db, err := repo.OpenDB(cfg.Database.Path)
	if err != nil {
		return err
	}
	defer db.Close()
	alerts := repo.NewAlertStore(db)
	history := repo.NewHistoryStore(db)

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	recorder := metrics.NewRecorder(reg)

	senders, bot, err := buildSenders(cfg.Channels, logger)
	if err != nil {
		return err
	}

	var status app.StatusChecker
	if cfg.ReportService.URL != "" {
		rs, err := repo.NewReportService(cfg.ReportService.URL, cfg.ReportService.Timeout)
		if err != nil {
			return err
		}
		status = rs
	} else {
		logger.Warn("report service not configured, status polls are skipped")
	}

	var sink app.ExhaustionSink
	if cfg.NATS.URL != "" {
		dl, err := repo.NewNATSDeadLetter(repo.NATSConfig{
			URL:            cfg.NATS.URL,
			Subject:        cfg.NATS.Subject,
			Name:           cfg.NATS.Name,
			ReconnectWait:  cfg.NATS.ReconnectWait,
			MaxReconnects:  cfg.NATS.MaxReconnects,
			ConnectTimeout: cfg.NATS.ConnectTimeout,
		}, logger)
		if err != nil {
			return err
		}
		defer dl.Close()
		sink = dl
	}

	estimator := app.NewEstimator(cfg.Engine.WorkloadThreshold)
	dispatcher := app.NewDispatcher(senders, history, app.DispatcherOptions{
		SendTimeout: cfg.Engine.SendTimeout,
		Location:    loc,
		Estimator:   estimator,
		Clock:       clk,
		Metrics:     recorder,
		Logger:      logger,
	})
	scheduler, err := app.NewScheduler(app.SchedulerDeps{
		Rules:      cat.rules,
		Directory:  cat.directory,
		Dispatcher: dispatcher,
		Estimator:  estimator,
		Alerts:     alerts,
		History:    history,
		Status:     status,
		Sink:       sink,
		Clock:      clk,
		Metrics:    recorder,
		Logger:     logger,
	}, app.SchedulerConfig{
		DefaultAuthority: cfg.Engine.DefaultAuthority,
		StatusTimeout:    cfg.Engine.StatusTimeout,
		RetryDelay:       cfg.Engine.RetryDelay,
	})
	if err != nil {
		return err
	}
	defer scheduler.Close()

	if _, err := scheduler.Recover(ctx); err != nil {
		return err
	}

	reload := func(context.Context) error {
		next, err := config.Load(cfg.File())
		if err != nil {
			return err
		}
		return cat.reload(next)
	}
	controller := ctrl.NewAlertController(scheduler, reload, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}), logger)
	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      controller.Routes(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("starting server", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if bot != nil {
		bot.SetCommands(scheduler)
		g.Go(func() error {
			return bot.Listen(gctx)
		})
	}

	err = g.Wait()
	logger.Info("engine stopped")
	return err
}
