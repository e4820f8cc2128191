package models

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/LilVoxy/coursework_dwh/ETL/dialect"
)

var runLogColumns = []string{
	"run_id", "start_time", "end_time", "status",
	"batches_processed", "rows_staged", "fraud_events",
	"last_business_date", "COALESCE(error_message, '')", "execution_time_seconds",
}

// SQLETLLogRepository реализация ETLLogRepository поверх database/sql
type SQLETLLogRepository struct {
	db      *sql.DB
	dialect dialect.Dialect
	table   string
}

// NewSQLETLLogRepository создает журнал запусков в таблице table
func NewSQLETLLogRepository(db *sql.DB, d dialect.Dialect, table string) (*SQLETLLogRepository, error) {
	if err := dialect.ValidateIdentifier(table); err != nil {
		return nil, fmt.Errorf("таблица журнала запусков: %w", err)
	}
	return &SQLETLLogRepository{
		db:      db,
		dialect: d,
		table:   table,
	}, nil
}

// CreateLogEntry создает новую запись о запуске
func (r *SQLETLLogRepository) CreateLogEntry(ctx context.Context, runID string, startTime time.Time) error {
	query, args, err := r.dialect.Builder().
		Insert(r.table).
		Columns("run_id", "start_time", "status", "batches_processed", "rows_staged", "fraud_events").
		Values(runID, startTime, RunStatusInProgress, 0, 0, 0).
		ToSql()
	if err != nil {
		return fmt.Errorf("ошибка построения запроса журнала: %w", err)
	}

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("ошибка при создании записи о запуске: %w", err)
	}
	return nil
}

// UpdateLogEntrySuccess обновляет запись при успешном завершении
func (r *SQLETLLogRepository) UpdateLogEntrySuccess(ctx context.Context, runID string, endTime time.Time, stats RunStats) error {
	startTime, err := r.startTime(ctx, runID)
	if err != nil {
		return err
	}

	var lastDate interface{}
	if !stats.LastBusinessDate.IsZero() {
		lastDate = stats.LastBusinessDate
	}

	query, args, err := r.dialect.Builder().
		Update(r.table).
		Set("end_time", endTime).
		Set("status", RunStatusSuccess).
		Set("batches_processed", stats.BatchesProcessed).
		Set("rows_staged", stats.RowsStaged).
		Set("fraud_events", stats.FraudEvents).
		Set("last_business_date", lastDate).
		Set("execution_time_seconds", endTime.Sub(startTime).Seconds()).
		Where(sq.Eq{"run_id": runID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("ошибка построения запроса журнала: %w", err)
	}

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("ошибка при обновлении записи о запуске: %w", err)
	}
	return nil
}

// UpdateLogEntryFailure обновляет запись при неудачном завершении
func (r *SQLETLLogRepository) UpdateLogEntryFailure(ctx context.Context, runID string, endTime time.Time, errorMessage string) error {
	startTime, err := r.startTime(ctx, runID)
	if err != nil {
		return err
	}

	query, args, err := r.dialect.Builder().
		Update(r.table).
		Set("end_time", endTime).
		Set("status", RunStatusFailed).
		Set("error_message", errorMessage).
		Set("execution_time_seconds", endTime.Sub(startTime).Seconds()).
		Where(sq.Eq{"run_id": runID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("ошибка построения запроса журнала: %w", err)
	}

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("ошибка при обновлении записи о запуске: %w", err)
	}
	return nil
}

func (r *SQLETLLogRepository) startTime(ctx context.Context, runID string) (time.Time, error) {
	query, args, err := r.dialect.Builder().
		Select("start_time").
		From(r.table).
		Where(sq.Eq{"run_id": runID}).
		ToSql()
	if err != nil {
		return time.Time{}, fmt.Errorf("ошибка построения запроса журнала: %w", err)
	}

	var startTime time.Time
	if err := r.db.QueryRowContext(ctx, query, args...).Scan(&startTime); err != nil {
		return time.Time{}, fmt.Errorf("ошибка при получении времени начала запуска %s: %w", runID, err)
	}
	return startTime, nil
}

// GetLastSuccessfulRun получает информацию о последнем успешном запуске
func (r *SQLETLLogRepository) GetLastSuccessfulRun(ctx context.Context) (*ETLRunLog, error) {
	query, args, err := r.dialect.Builder().
		Select(runLogColumns...).
		From(r.table).
		Where(sq.Eq{"status": RunStatusSuccess}).
		OrderBy("end_time DESC").
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("ошибка построения запроса журнала: %w", err)
	}

	run, err := scanRunLog(r.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Нет успешных запусков
		}
		return nil, fmt.Errorf("ошибка при получении последнего успешного запуска: %w", err)
	}
	return run, nil
}

// GetETLRunStats получает запуски, начатые не раньше since, от новых к старым
func (r *SQLETLLogRepository) GetETLRunStats(ctx context.Context, since time.Time) ([]ETLRunLog, error) {
	query, args, err := r.dialect.Builder().
		Select(runLogColumns...).
		From(r.table).
		Where(sq.GtOrEq{"start_time": since}).
		OrderBy("start_time DESC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("ошибка построения запроса журнала: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ошибка при получении статистики запусков: %w", err)
	}
	defer rows.Close()

	var runs []ETLRunLog
	for rows.Next() {
		run, err := scanRunLog(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка при чтении записи журнала: %w", err)
		}
		runs = append(runs, *run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ошибка при итерации по журналу: %w", err)
	}
	return runs, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRunLog(row rowScanner) (*ETLRunLog, error) {
	var (
		run       ETLRunLog
		endTime   sql.NullTime
		lastDate  sql.NullTime
		execution sql.NullFloat64
	)
	err := row.Scan(
		&run.RunID, &run.StartTime, &endTime, &run.Status,
		&run.BatchesProcessed, &run.RowsStaged, &run.FraudEvents,
		&lastDate, &run.ErrorMessage, &execution,
	)
	if err != nil {
		return nil, err
	}

	if endTime.Valid {
		run.EndTime = &endTime.Time
	}
	if lastDate.Valid {
		run.LastBusinessDate = &lastDate.Time
	}
	run.ExecutionTimeSeconds = execution.Float64
	return &run, nil
}

// NopETLLogRepository используется, когда журнал запусков не настроен
type NopETLLogRepository struct{}

func (NopETLLogRepository) CreateLogEntry(context.Context, string, time.Time) error { return nil }
func (NopETLLogRepository) UpdateLogEntrySuccess(context.Context, string, time.Time, RunStats) error {
	return nil
}
func (NopETLLogRepository) UpdateLogEntryFailure(context.Context, string, time.Time, string) error {
	return nil
}
func (NopETLLogRepository) GetLastSuccessfulRun(context.Context) (*ETLRunLog, error) { return nil, nil }
func (NopETLLogRepository) GetETLRunStats(context.Context, time.Time) ([]ETLRunLog, error) {
	return nil, nil
}
