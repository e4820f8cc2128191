package models

import (
	"context"
	"time"
)

// Статусы запуска синхронизации
const (
	RunStatusInProgress = "in_progress"
	RunStatusSuccess    = "success"
	RunStatusFailed     = "failed"
)

// ETLRunLog представляет запись о запуске синхронизации
type ETLRunLog struct {
	RunID                string     `json:"run_id"`
	StartTime            time.Time  `json:"start_time"`
	EndTime              *time.Time `json:"end_time,omitempty"`
	Status               string     `json:"status"`
	BatchesProcessed     int        `json:"batches_processed"`
	RowsStaged           int        `json:"rows_staged"`
	FraudEvents          int        `json:"fraud_events"`
	LastBusinessDate     *time.Time `json:"last_business_date,omitempty"`
	ErrorMessage         string     `json:"error_message,omitempty"`
	ExecutionTimeSeconds float64    `json:"execution_time_seconds"`
}

// RunStats счётчики, фиксируемые при успешном завершении запуска
type RunStats struct {
	BatchesProcessed int
	RowsStaged       int
	FraudEvents      int
	LastBusinessDate time.Time
}

// ETLLogRepository представляет журнал запусков синхронизации
type ETLLogRepository interface {
	// CreateLogEntry создает новую запись о запуске
	CreateLogEntry(ctx context.Context, runID string, startTime time.Time) error

	// UpdateLogEntrySuccess обновляет запись при успешном завершении
	UpdateLogEntrySuccess(ctx context.Context, runID string, endTime time.Time, stats RunStats) error

	// UpdateLogEntryFailure обновляет запись при неудачном завершении
	UpdateLogEntryFailure(ctx context.Context, runID string, endTime time.Time, errorMessage string) error

	// GetLastSuccessfulRun получает информацию о последнем успешном запуске
	GetLastSuccessfulRun(ctx context.Context) (*ETLRunLog, error)

	// GetETLRunStats получает запуски, начатые не раньше since
	GetETLRunStats(ctx context.Context, since time.Time) ([]ETLRunLog, error)
}

// ETLStateMonitor предоставляет сводку о состоянии синхронизации
type ETLStateMonitor struct {
	LastSuccessfulRun       *ETLRunLog `json:"last_successful_run"`
	LastFailedRun           *ETLRunLog `json:"last_failed_run,omitempty"`
	CurrentRun              *ETLRunLog `json:"current_run,omitempty"`
	TotalSuccessfulRuns     int        `json:"total_successful_runs"`
	TotalFailedRuns         int        `json:"total_failed_runs"`
	AvgExecutionTimeSeconds float64    `json:"avg_execution_time_seconds"`
	TotalFraudEvents        int        `json:"total_fraud_events"`
}

// NewStateMonitor строит сводку по списку запусков, упорядоченному по убыванию start_time
func NewStateMonitor(runs []ETLRunLog) ETLStateMonitor {
	var monitor ETLStateMonitor
	var totalTime float64
	var finished int

	for i := range runs {
		run := &runs[i]
		switch run.Status {
		case RunStatusSuccess:
			monitor.TotalSuccessfulRuns++
			if monitor.LastSuccessfulRun == nil {
				monitor.LastSuccessfulRun = run
			}
		case RunStatusFailed:
			monitor.TotalFailedRuns++
			if monitor.LastFailedRun == nil {
				monitor.LastFailedRun = run
			}
		case RunStatusInProgress:
			if monitor.CurrentRun == nil {
				monitor.CurrentRun = run
			}
		}

		if run.Status != RunStatusInProgress {
			totalTime += run.ExecutionTimeSeconds
			finished++
		}
		monitor.TotalFraudEvents += run.FraudEvents
	}

	if finished > 0 {
		monitor.AvgExecutionTimeSeconds = totalTime / float64(finished)
	}
	return monitor
}
