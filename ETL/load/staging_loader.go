package load

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/LilVoxy/coursework_dwh/ETL/catalog"
	"github.com/LilVoxy/coursework_dwh/ETL/dialect"
	"github.com/LilVoxy/coursework_dwh/ETL/metrics"
	"github.com/LilVoxy/coursework_dwh/ETL/models"
	"github.com/LilVoxy/coursework_dwh/ETL/utils"
)

// StagingLoader полностью заменяет содержимое staging-таблицы пакетом строк
type StagingLoader struct {
	db      *sql.DB
	dialect dialect.Dialect
	catalog *catalog.Catalog
	logger  *utils.ETLLogger
	metrics *metrics.Metrics
}

// NewStagingLoader создает новый экземпляр StagingLoader
func NewStagingLoader(db *sql.DB, d dialect.Dialect, c *catalog.Catalog, logger *utils.ETLLogger, m *metrics.Metrics) *StagingLoader {
	return &StagingLoader{
		db:      db,
		dialect: d,
		catalog: c,
		logger:  logger,
		metrics: m,
	}
}

// Load очищает staging-таблицу сущности и вставляет строки пакета.
// Очистка и вставка выполняются в одной транзакции.
func (l *StagingLoader) Load(ctx context.Context, entity string, batch *models.Batch) (err error) {
	table, err := l.catalog.Stg.Lookup(entity)
	if err != nil {
		return err
	}
	if batch != nil {
		if err := dialect.ValidateIdentifiers(batch.Columns...); err != nil {
			return fmt.Errorf("колонки пакета %s: %w", entity, err)
		}
	}

	startTime := time.Now()
	l.logger.Info("Загрузка staging %s (строк: %d)", table, batch.Len())

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("ошибка при начале транзакции: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	deleteQuery, _, err := l.dialect.Builder().Delete(table).ToSql()
	if err != nil {
		return fmt.Errorf("ошибка построения запроса очистки: %w", err)
	}
	if _, err = tx.ExecContext(ctx, deleteQuery); err != nil {
		return fmt.Errorf("ошибка при очистке %s: %w", table, err)
	}

	if batch.Len() > 0 {
		if err = l.insertRows(ctx, tx, table, batch); err != nil {
			return err
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("ошибка при фиксации транзакции: %w", err)
	}

	l.metrics.AddRowsStaged(entity, batch.Len())
	l.logger.Debug("Staging %s загружен за %v", table, time.Since(startTime))
	return nil
}

func (l *StagingLoader) insertRows(ctx context.Context, tx *sql.Tx, table string, batch *models.Batch) error {
	placeholders := make([]interface{}, len(batch.Columns))
	insertQuery, _, err := l.dialect.Builder().
		Insert(table).
		Columns(batch.Columns...).
		Values(placeholders...).
		ToSql()
	if err != nil {
		return fmt.Errorf("ошибка построения запроса вставки: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, insertQuery)
	if err != nil {
		return fmt.Errorf("ошибка при подготовке запроса: %w", err)
	}
	defer stmt.Close()

	for i, row := range batch.Rows {
		if len(row) != len(batch.Columns) {
			return fmt.Errorf("строка %d пакета %s: ожидалось %d значений, получено %d",
				i, batch.Entity, len(batch.Columns), len(row))
		}
		if _, err := stmt.ExecContext(ctx, row...); err != nil {
			return fmt.Errorf("ошибка при вставке строки %d в %s: %w", i, table, err)
		}
	}
	return nil
}
