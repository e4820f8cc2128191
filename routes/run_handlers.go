// routes/run_handlers.go
package routes

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/LilVoxy/coursework_dwh/ETL/models"
	"github.com/LilVoxy/coursework_dwh/ETL/pipeline"
	"github.com/LilVoxy/coursework_dwh/ETL/utils"
)

const defaultRunDays = 7

// RunsResponse структура ответа API журнала запусков
type RunsResponse struct {
	Runs []models.ETLRunLog `json:"runs"`
}

// WatermarksResponse структура ответа API отметок
type WatermarksResponse struct {
	Watermarks []models.Watermark `json:"watermarks"`
}

func runsSince(r *http.Request) (time.Time, bool) {
	days := defaultRunDays
	if value := r.URL.Query().Get("days"); value != "" {
		n, err := strconv.Atoi(value)
		if err != nil || n <= 0 {
			return time.Time{}, false
		}
		days = n
	}
	return time.Now().UTC().AddDate(0, 0, -days), true
}

// GetRunsHandler возвращает запуски за последние days дней (по умолчанию 7)
func GetRunsHandler(runs models.ETLLogRepository, logger *utils.ETLLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		since, ok := runsSince(r)
		if !ok {
			http.Error(w, "Неверный формат days", http.StatusBadRequest)
			return
		}

		list, err := runs.GetETLRunStats(r.Context(), since)
		if err != nil {
			logger.Error("Ошибка при чтении журнала запусков: %v", err)
			http.Error(w, "Ошибка при получении журнала запусков", http.StatusInternalServerError)
			return
		}
		if list == nil {
			list = []models.ETLRunLog{}
		}

		writeJSON(w, logger, http.StatusOK, RunsResponse{Runs: list})
	}
}

// GetRunStateHandler возвращает сводку о состоянии синхронизации
func GetRunStateHandler(runs models.ETLLogRepository, logger *utils.ETLLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		since, ok := runsSince(r)
		if !ok {
			http.Error(w, "Неверный формат days", http.StatusBadRequest)
			return
		}

		list, err := runs.GetETLRunStats(r.Context(), since)
		if err != nil {
			logger.Error("Ошибка при чтении журнала запусков: %v", err)
			http.Error(w, "Ошибка при получении состояния", http.StatusInternalServerError)
			return
		}

		writeJSON(w, logger, http.StatusOK, models.NewStateMonitor(list))
	}
}

// TriggerRunHandler запускает синхронизацию в фоне и отвечает 202.
// Если запуск уже идёт, отвечает 409.
func TriggerRunHandler(trigger func() error, logger *utils.ETLLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := trigger(); err != nil {
			if errors.Is(err, pipeline.ErrRunInProgress) {
				http.Error(w, "Синхронизация уже выполняется", http.StatusConflict)
				return
			}
			logger.Error("Ошибка при запуске синхронизации по запросу: %v", err)
			http.Error(w, "Ошибка при запуске синхронизации", http.StatusInternalServerError)
			return
		}
		writeJSON(w, logger, http.StatusAccepted, map[string]string{"status": "accepted"})
	}
}

// GetWatermarksHandler возвращает отметки всех staging-таблиц
func GetWatermarksHandler(watermarks WatermarkLister, logger *utils.ETLLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list, err := watermarks.List(r.Context())
		if err != nil {
			logger.Error("Ошибка при чтении отметок: %v", err)
			http.Error(w, "Ошибка при получении отметок", http.StatusInternalServerError)
			return
		}
		if list == nil {
			list = []models.Watermark{}
		}

		writeJSON(w, logger, http.StatusOK, WatermarksResponse{Watermarks: list})
	}
}
