package extractors

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/LilVoxy/coursework_dwh/ETL/catalog"
	"github.com/LilVoxy/coursework_dwh/ETL/dialect"
	"github.com/LilVoxy/coursework_dwh/ETL/models"
	"github.com/LilVoxy/coursework_dwh/ETL/utils"
)

// BankExtractor выгружает полные снимки таблиц банковской системы-источника
type BankExtractor struct {
	db      *sql.DB
	catalog *catalog.Catalog
	logger  *utils.ETLLogger
}

// NewBankExtractor создает новый экземпляр BankExtractor
func NewBankExtractor(db *sql.DB, c *catalog.Catalog, logger *utils.ETLLogger) *BankExtractor {
	return &BankExtractor{
		db:      db,
		catalog: c,
		logger:  logger,
	}
}

// Entities возвращает измерения, для которых в источнике есть таблица
func (e *BankExtractor) Entities() []string {
	var entities []string
	for _, entity := range e.catalog.Dim.Names() {
		if e.catalog.Source.Has(entity) {
			entities = append(entities, entity)
		}
	}
	return entities
}

// Extract читает всю таблицу источника для сущности
func (e *BankExtractor) Extract(ctx context.Context, entity string) (*models.Batch, error) {
	table, err := e.catalog.Source.Lookup(entity)
	if err != nil {
		return nil, err
	}
	if err := dialect.ValidateIdentifier(table); err != nil {
		return nil, err
	}

	startTime := time.Now()
	e.logger.Debug("Начало выгрузки %s из источника", table)

	query, args, err := sq.Select("*").From(table).ToSql()
	if err != nil {
		return nil, fmt.Errorf("ошибка построения запроса к %s: %w", table, err)
	}

	rows, err := e.db.QueryContext(ctx, query, args...)
	if err != nil {
		e.logger.Error("Ошибка при выгрузке %s: %v", table, err)
		return nil, fmt.Errorf("ошибка запроса к %s: %w", table, err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения колонок %s: %w", table, err)
	}

	batch := models.NewBatch(entity, columns)
	for rows.Next() {
		values := make([]interface{}, len(columns))
		pointers := make([]interface{}, len(columns))
		for i := range values {
			pointers[i] = &values[i]
		}
		if err := rows.Scan(pointers...); err != nil {
			return nil, fmt.Errorf("ошибка чтения строки %s: %w", table, err)
		}
		for i, v := range values {
			if b, ok := v.([]byte); ok {
				values[i] = string(b)
			}
		}
		batch.AddRow(values...)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ошибка чтения %s: %w", table, err)
	}

	e.logger.Info("Из %s выгружено строк: %d (%v)", table, batch.Len(), time.Since(startTime))
	return batch, nil
}
