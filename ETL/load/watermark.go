package load

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/LilVoxy/coursework_dwh/ETL/catalog"
	"github.com/LilVoxy/coursework_dwh/ETL/dialect"
	"github.com/LilVoxy/coursework_dwh/ETL/metrics"
	"github.com/LilVoxy/coursework_dwh/ETL/models"
	"github.com/LilVoxy/coursework_dwh/ETL/utils"
)

// WatermarkTracker хранит последнюю обработанную бизнес-дату каждой staging-таблицы
type WatermarkTracker struct {
	db      *sql.DB
	dialect dialect.Dialect
	catalog *catalog.Catalog
	logger  *utils.ETLLogger
	metrics *metrics.Metrics
}

// NewWatermarkTracker создает новый экземпляр WatermarkTracker
func NewWatermarkTracker(db *sql.DB, d dialect.Dialect, c *catalog.Catalog, logger *utils.ETLLogger, m *metrics.Metrics) *WatermarkTracker {
	return &WatermarkTracker{
		db:      db,
		dialect: d,
		catalog: c,
		logger:  logger,
		metrics: m,
	}
}

func (w *WatermarkTracker) metaTable() (string, error) {
	return w.catalog.Meta.Lookup(catalog.EntityMeta)
}

// Advance устанавливает отметку staging-таблицы сущности равной businessDate.
// Значение берется как есть: дата объявляется вызывающей стороной.
func (w *WatermarkTracker) Advance(ctx context.Context, entity string, businessDate time.Time) (err error) {
	stgTable, err := w.catalog.Stg.Lookup(entity)
	if err != nil {
		return err
	}
	metaTable, err := w.metaTable()
	if err != nil {
		return err
	}

	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("ошибка при начале транзакции: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	countQuery, countArgs, err := w.dialect.Builder().
		Select("COUNT(*)").
		From(metaTable).
		Where(sq.Eq{"table_name": stgTable}).
		ToSql()
	if err != nil {
		return fmt.Errorf("ошибка построения запроса отметки: %w", err)
	}

	var existing int
	if err = tx.QueryRowContext(ctx, countQuery, countArgs...).Scan(&existing); err != nil {
		return fmt.Errorf("ошибка при чтении отметки %s: %w", stgTable, err)
	}

	var query string
	var args []interface{}
	if existing > 0 {
		query, args, err = w.dialect.Builder().
			Update(metaTable).
			Set("max_update_dt", businessDate).
			Where(sq.Eq{"table_name": stgTable}).
			ToSql()
	} else {
		query, args, err = w.dialect.Builder().
			Insert(metaTable).
			Columns("table_name", "max_update_dt").
			Values(stgTable, businessDate).
			ToSql()
	}
	if err != nil {
		return fmt.Errorf("ошибка построения запроса отметки: %w", err)
	}

	if _, err = tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("ошибка при сохранении отметки %s: %w", stgTable, err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("ошибка при фиксации транзакции: %w", err)
	}

	w.metrics.SetWatermark(stgTable, businessDate)
	w.logger.Info("Отметка %s установлена на %s", stgTable, businessDate.Format("2006-01-02"))
	return nil
}

// Current возвращает отметку staging-таблицы сущности.
// Второе значение false, если отметка ещё не устанавливалась.
func (w *WatermarkTracker) Current(ctx context.Context, entity string) (time.Time, bool, error) {
	stgTable, err := w.catalog.Stg.Lookup(entity)
	if err != nil {
		return time.Time{}, false, err
	}
	metaTable, err := w.metaTable()
	if err != nil {
		return time.Time{}, false, err
	}

	// ORDER BY + LIMIT вместо MAX: агрегат в SQLite теряет тип колонки
	query, args, err := w.dialect.Builder().
		Select("max_update_dt").
		From(metaTable).
		Where(sq.Eq{"table_name": stgTable}).
		Where(sq.NotEq{"max_update_dt": nil}).
		OrderBy("max_update_dt DESC").
		Limit(1).
		ToSql()
	if err != nil {
		return time.Time{}, false, fmt.Errorf("ошибка построения запроса отметки: %w", err)
	}

	var value sql.NullTime
	err = w.db.QueryRowContext(ctx, query, args...).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("ошибка при чтении отметки %s: %w", stgTable, err)
	}
	return value.Time, value.Valid, nil
}

// List возвращает все сохранённые отметки
func (w *WatermarkTracker) List(ctx context.Context) ([]models.Watermark, error) {
	metaTable, err := w.metaTable()
	if err != nil {
		return nil, err
	}

	query, args, err := w.dialect.Builder().
		Select("table_name", "max_update_dt").
		From(metaTable).
		Where(sq.NotEq{"max_update_dt": nil}).
		OrderBy("table_name").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("ошибка построения запроса отметок: %w", err)
	}

	rows, err := w.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ошибка при чтении отметок: %w", err)
	}
	defer rows.Close()

	var marks []models.Watermark
	for rows.Next() {
		var mark models.Watermark
		if err := rows.Scan(&mark.TableName, &mark.MaxUpdateDt); err != nil {
			return nil, fmt.Errorf("ошибка при чтении отметки: %w", err)
		}
		marks = append(marks, mark)
	}
	return marks, rows.Err()
}
