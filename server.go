// server.go
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"golang.org/x/sync/errgroup"

	"github.com/LilVoxy/coursework_dwh/ETL/fraud"
	"github.com/LilVoxy/coursework_dwh/routes"
	"github.com/LilVoxy/coursework_dwh/websocket"
)

const shutdownTimeout = 10 * time.Second

// serve поднимает API и ленту событий; при withScheduler синхронизация
// дополнительно запускается по расписанию
func serve(ctx context.Context, withScheduler bool) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.logger.Sync()

	// Менеджер ленты событий
	feed := websocket.NewManager(a.logger)

	runner, err := a.runner(ctx, fraud.WithNotifier(feed))
	if err != nil {
		return err
	}
	defer runner.Close()

	g, gctx := errgroup.WithContext(ctx)

	// Запуск по запросу прерывается вместе с сервером, Close дожидается его
	router := mux.NewRouter()
	routes.SetupRoutes(router, routes.Deps{
		Events:     runner.Events(),
		Runs:       runner.Runs(),
		Watermarks: runner.Watermarks(),
		Gatherer:   a.registry,
		Feed:       feed.HandleConnections,
		Trigger:    func() error { return runner.StartETL(gctx) },
		Logger:     a.logger,
	})

	server := &http.Server{
		Addr:         a.cfg.HTTP.Addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g.Go(func() error {
		feed.Run(gctx)
		return nil
	})

	g.Go(func() error {
		a.logger.Info("✅ Сервер запущен на %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("ошибка запуска сервера: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		a.logger.Info("⚠️ Получен сигнал завершения, останавливаем сервер...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if withScheduler {
		g.Go(func() error {
			return runner.StartScheduler(gctx)
		})
	}

	err = g.Wait()
	a.logger.Info("👋 Сервер остановлен")
	return err
}
