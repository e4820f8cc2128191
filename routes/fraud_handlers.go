// routes/fraud_handlers.go
package routes

import (
	"net/http"
	"strconv"
	"time"

	"github.com/LilVoxy/coursework_dwh/ETL/fraud"
	"github.com/LilVoxy/coursework_dwh/ETL/models"
	"github.com/LilVoxy/coursework_dwh/ETL/utils"
)

const (
	defaultEventLimit = 100
	maxEventLimit     = 1000
)

// FraudResponse структура ответа API отчёта о мошенничестве
type FraudResponse struct {
	Events []models.FraudEvent `json:"events"`
}

// GetFraudHandler возвращает события отчёта.
// Параметры: report_date (ГГГГ-ММ-ДД), type, limit.
func GetFraudHandler(events EventLister, logger *utils.ETLLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query()
		filter := fraud.EventFilter{
			EventType: query.Get("type"),
			Limit:     defaultEventLimit,
		}

		if value := query.Get("report_date"); value != "" {
			date, err := time.Parse("2006-01-02", value)
			if err != nil {
				http.Error(w, "Неверный формат report_date, ожидается ГГГГ-ММ-ДД", http.StatusBadRequest)
				return
			}
			filter.ReportDate = &date
		}

		if value := query.Get("limit"); value != "" {
			limit, err := strconv.ParseUint(value, 10, 64)
			if err != nil || limit == 0 {
				http.Error(w, "Неверный формат limit", http.StatusBadRequest)
				return
			}
			if limit > maxEventLimit {
				limit = maxEventLimit
			}
			filter.Limit = limit
		}

		list, err := events.List(r.Context(), filter)
		if err != nil {
			logger.Error("Ошибка при чтении отчёта о мошенничестве: %v", err)
			http.Error(w, "Ошибка при получении отчёта", http.StatusInternalServerError)
			return
		}
		if list == nil {
			list = []models.FraudEvent{}
		}

		writeJSON(w, logger, http.StatusOK, FraudResponse{Events: list})
	}
}
