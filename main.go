// main.go
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/LilVoxy/coursework_dwh/ETL/config"
	"github.com/LilVoxy/coursework_dwh/ETL/fraud"
	"github.com/LilVoxy/coursework_dwh/ETL/metrics"
	"github.com/LilVoxy/coursework_dwh/ETL/pipeline"
	"github.com/LilVoxy/coursework_dwh/ETL/schema"
	"github.com/LilVoxy/coursework_dwh/ETL/utils"
)

var configPath string

func main() {
	rootCmd := &cobra.Command{
		Use:           "dwh-sync",
		Short:         "Синхронизация банковского хранилища и отчёт о мошенничестве",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "путь к conf.yaml")

	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(scheduleCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(initSchemaCmd())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "❌ %v\n", err)
		os.Exit(1)
	}
}

// app общие зависимости команд
type app struct {
	cfg      *config.DWHConfig
	logger   *utils.ETLLogger
	registry *prometheus.Registry
	metrics  *metrics.Metrics
}

func newApp() (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	logger, err := utils.NewETLLogger(cfg.Log)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания логгера: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	return &app{
		cfg:      cfg,
		logger:   logger,
		registry: registry,
		metrics:  metrics.New(registry),
	}, nil
}

func (a *app) runner(ctx context.Context, opts ...fraud.Option) (*pipeline.ETLRunner, error) {
	return pipeline.NewETLRunner(ctx, a.cfg, a.logger, a.metrics, opts...)
}

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Выполнить одну синхронизацию",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.logger.Sync()

			runner, err := a.runner(cmd.Context())
			if err != nil {
				return err
			}
			defer runner.Close()

			return runner.ExecuteETL(cmd.Context())
		},
	}
}

func scheduleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schedule",
		Short: "Запускать синхронизацию по расписанию и обслуживать API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), true)
		},
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Обслуживать API; синхронизация запускается через POST /api/runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), false)
		},
	}
}

func initSchemaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init-schema",
		Short: "Создать таблицы хранилища",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.logger.Sync()

			conns, err := config.ConnectDatabases(cmd.Context(), a.cfg)
			if err != nil {
				return err
			}
			defer config.CloseDatabases(conns, a.logger)

			if err := schema.Apply(cmd.Context(), conns.Warehouse, conns.Dialect, a.cfg.Catalog()); err != nil {
				return err
			}
			a.logger.Info("✅ Схема хранилища создана")
			return nil
		},
	}
}
