package fraud

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/LilVoxy/coursework_dwh/ETL/catalog"
	"github.com/LilVoxy/coursework_dwh/ETL/dialect"
	"github.com/LilVoxy/coursework_dwh/ETL/models"
)

// insertChunk ограничивает число строк в одном INSERT
const insertChunk = 200

var reportColumns = []string{"event_dt", "passport", "fio", "phone", "event_type", "report_dt"}

// EventSink дописывает события в отчёт о мошенничестве и читает их обратно
type EventSink struct {
	db      *sql.DB
	dialect dialect.Dialect
	table   string
}

// NewEventSink создает новый экземпляр EventSink для таблицы отчёта из каталога
func NewEventSink(db *sql.DB, d dialect.Dialect, c *catalog.Catalog) (*EventSink, error) {
	table, err := c.Rep.Lookup(catalog.EntityFraud)
	if err != nil {
		return nil, err
	}
	return &EventSink{db: db, dialect: d, table: table}, nil
}

// Append записывает события одной транзакцией
func (s *EventSink) Append(ctx context.Context, events []models.FraudEvent) (err error) {
	if len(events) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("ошибка при начале транзакции: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	for from := 0; from < len(events); from += insertChunk {
		to := from + insertChunk
		if to > len(events) {
			to = len(events)
		}

		insert := s.dialect.Builder().Insert(s.table).Columns(reportColumns...)
		for _, e := range events[from:to] {
			insert = insert.Values(e.EventDt, e.Passport, e.FIO, e.Phone, e.EventType, e.ReportDt)
		}
		query, args, buildErr := insert.ToSql()
		if buildErr != nil {
			return fmt.Errorf("ошибка построения запроса отчёта: %w", buildErr)
		}
		if _, err = tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("ошибка при записи событий в %s: %w", s.table, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("ошибка при фиксации транзакции: %w", err)
	}
	return nil
}

// EventFilter условия выборки событий из отчёта
type EventFilter struct {
	ReportDate *time.Time
	EventType  string
	Limit      uint64
}

// List возвращает события отчёта, новые первыми
func (s *EventSink) List(ctx context.Context, filter EventFilter) ([]models.FraudEvent, error) {
	b := s.dialect.Builder().
		Select(reportColumns...).
		From(s.table).
		OrderBy("event_dt DESC", "passport")
	if filter.ReportDate != nil {
		b = b.Where(sq.Eq{"report_dt": *filter.ReportDate})
	}
	if filter.EventType != "" {
		b = b.Where(sq.Eq{"event_type": filter.EventType})
	}
	if filter.Limit > 0 {
		b = b.Limit(filter.Limit)
	}

	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("ошибка построения запроса отчёта: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ошибка при чтении отчёта: %w", err)
	}
	defer rows.Close()

	var events []models.FraudEvent
	for rows.Next() {
		var e models.FraudEvent
		var passport, fio, phone sql.NullString
		if err := rows.Scan(&e.EventDt, &passport, &fio, &phone, &e.EventType, &e.ReportDt); err != nil {
			return nil, fmt.Errorf("ошибка при чтении события: %w", err)
		}
		e.Passport, e.FIO, e.Phone = passport.String, fio.String, phone.String
		events = append(events, e)
	}
	return events, rows.Err()
}
