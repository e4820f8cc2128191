package load

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/LilVoxy/coursework_dwh/ETL/catalog"
	"github.com/LilVoxy/coursework_dwh/ETL/dialect"
	"github.com/LilVoxy/coursework_dwh/ETL/metrics"
	"github.com/LilVoxy/coursework_dwh/ETL/models"
	"github.com/LilVoxy/coursework_dwh/ETL/utils"
)

// FactMerger добавляет в таблицу фактов строки staging, которых там ещё нет
type FactMerger struct {
	db      *sql.DB
	dialect dialect.Dialect
	catalog *catalog.Catalog
	logger  *utils.ETLLogger
	metrics *metrics.Metrics
}

// NewFactMerger создает новый экземпляр FactMerger
func NewFactMerger(db *sql.DB, d dialect.Dialect, c *catalog.Catalog, logger *utils.ETLLogger, m *metrics.Metrics) *FactMerger {
	return &FactMerger{
		db:      db,
		dialect: d,
		catalog: c,
		logger:  logger,
		metrics: m,
	}
}

// MergeEntity переносит staging-таблицу сущности в её таблицу фактов
func (f *FactMerger) MergeEntity(ctx context.Context, entity string, mapping models.FactMapping) (int64, error) {
	stgTable, err := f.catalog.Stg.Lookup(entity)
	if err != nil {
		return 0, err
	}
	factTable, err := f.catalog.Fact.Lookup(entity)
	if err != nil {
		return 0, err
	}

	inserted, err := f.Merge(ctx, stgTable, factTable, mapping)
	if err != nil {
		return 0, err
	}
	f.metrics.AddFacts(entity, inserted)
	return inserted, nil
}

// Merge вставляет строки stgTable в factTable, если в factTable нет строки
// с теми же значениями колонок сопоставления (NULL считается равным NULL)
func (f *FactMerger) Merge(ctx context.Context, stgTable, factTable string, mapping models.FactMapping) (inserted int64, err error) {
	if err := dialect.ValidateIdentifiers(stgTable, factTable); err != nil {
		return 0, err
	}
	if err := mapping.Validate(); err != nil {
		return 0, fmt.Errorf("отображение фактов %s: %w", factTable, err)
	}
	matchPairs, err := mapping.MatchPairs()
	if err != nil {
		return 0, err
	}

	pairs := mapping.Pairs()
	targets := make([]string, 0, len(pairs))
	sources := make([]string, 0, len(pairs))
	for _, pair := range pairs {
		targets = append(targets, pair.Target)
		sources = append(sources, "s."+pair.Source)
	}

	matches := make([]string, 0, len(matchPairs))
	for _, pair := range matchPairs {
		matches = append(matches, f.dialect.NotDistinctFrom("d."+pair.Target, "s."+pair.Source))
	}

	selectNew := sq.Select(sources...).
		Distinct().
		From(stgTable + " s").
		Where(fmt.Sprintf("NOT EXISTS (SELECT 1 FROM %s d WHERE %s)", factTable, strings.Join(matches, " AND ")))

	query, args, err := f.dialect.Builder().
		Insert(factTable).
		Columns(targets...).
		Select(selectNew).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("ошибка построения запроса вставки фактов: %w", err)
	}

	startTime := time.Now()
	tx, err := f.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("ошибка при начале транзакции: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("ошибка при вставке фактов в %s: %w", factTable, err)
	}
	inserted, err = res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("ошибка при подсчёте вставленных фактов: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return 0, fmt.Errorf("ошибка при фиксации транзакции: %w", err)
	}

	f.logger.Info("В %s добавлено фактов: %d (%v)", factTable, inserted, time.Since(startTime))
	return inserted, nil
}
