// routes/api_routes.go
package routes

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/LilVoxy/coursework_dwh/ETL/fraud"
	"github.com/LilVoxy/coursework_dwh/ETL/models"
	"github.com/LilVoxy/coursework_dwh/ETL/utils"
)

// EventLister читает отчёт о мошенничестве
type EventLister interface {
	List(ctx context.Context, filter fraud.EventFilter) ([]models.FraudEvent, error)
}

// WatermarkLister читает отметки staging-таблиц
type WatermarkLister interface {
	List(ctx context.Context) ([]models.Watermark, error)
}

// Deps зависимости обработчиков API
type Deps struct {
	Events     EventLister
	Runs       models.ETLLogRepository
	Watermarks WatermarkLister
	Gatherer   prometheus.Gatherer
	// Feed подключает клиентов ленты событий; nil отключает /ws/fraud
	Feed http.HandlerFunc
	// Trigger начинает синхронизацию в фоне; nil отключает POST /api/runs
	Trigger func() error
	Logger  *utils.ETLLogger
}

// SetupRoutes настраивает все маршруты API и WebSocket
func SetupRoutes(router *mux.Router, deps Deps) {
	router.Use(corsMiddleware)

	// Лента событий
	if deps.Feed != nil {
		router.HandleFunc("/ws/fraud", deps.Feed)
	}

	// Отчёт о мошенничестве
	router.HandleFunc("/api/fraud", GetFraudHandler(deps.Events, deps.Logger)).Methods("GET", "OPTIONS")

	// Журнал запусков
	router.HandleFunc("/api/runs", GetRunsHandler(deps.Runs, deps.Logger)).Methods("GET", "OPTIONS")
	router.HandleFunc("/api/runs/state", GetRunStateHandler(deps.Runs, deps.Logger)).Methods("GET", "OPTIONS")
	if deps.Trigger != nil {
		router.HandleFunc("/api/runs", TriggerRunHandler(deps.Trigger, deps.Logger)).Methods("POST")
	}

	// Отметки
	router.HandleFunc("/api/watermarks", GetWatermarksHandler(deps.Watermarks, deps.Logger)).Methods("GET", "OPTIONS")

	// Метрики
	if deps.Gatherer != nil {
		router.Handle("/metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{})).Methods("GET")
	}
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, logger *utils.ETLLogger, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("Ошибка при кодировании JSON: %v", err)
	}
}
