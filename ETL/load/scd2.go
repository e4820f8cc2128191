package load

import (
	"context"
	"database/sql"
	"errors"
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

// ErrDuplicateStagingKey возвращается, если в staging есть разные строки с одним ключом
var ErrDuplicateStagingKey = errors.New("в staging несколько различающихся строк с одним ключом")

// SCD2Result содержит количество закрытых и добавленных версий
type SCD2Result struct {
	Closed   int64
	Inserted int64
}

// SCD2Synchronizer приводит версионное измерение в соответствие со staging-таблицей
type SCD2Synchronizer struct {
	db      *sql.DB
	dialect dialect.Dialect
	catalog *catalog.Catalog
	logger  *utils.ETLLogger
	metrics *metrics.Metrics
}

// NewSCD2Synchronizer создает новый экземпляр SCD2Synchronizer
func NewSCD2Synchronizer(db *sql.DB, d dialect.Dialect, c *catalog.Catalog, logger *utils.ETLLogger, m *metrics.Metrics) *SCD2Synchronizer {
	return &SCD2Synchronizer{
		db:      db,
		dialect: d,
		catalog: c,
		logger:  logger,
		metrics: m,
	}
}

// Reconcile закрывает изменившиеся активные версии и добавляет новые.
// Обе операции выполняются в одной транзакции.
func (s *SCD2Synchronizer) Reconcile(ctx context.Context, entity string, rule models.SCD2Rule) (result SCD2Result, err error) {
	stgTable, err := s.catalog.Stg.Lookup(entity)
	if err != nil {
		return result, err
	}
	dimTable, err := s.catalog.Dim.Lookup(entity)
	if err != nil {
		return result, err
	}
	if err := rule.Validate(); err != nil {
		return result, fmt.Errorf("правило SCD2 для %s: %w", entity, err)
	}

	startTime := time.Now()
	s.logger.Info("Синхронизация измерения %s из %s", dimTable, stgTable)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return result, fmt.Errorf("ошибка при начале транзакции: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if err = s.checkDuplicateKeys(ctx, tx, stgTable, rule); err != nil {
		return result, err
	}

	result.Closed, err = s.closeChanged(ctx, tx, stgTable, dimTable, rule)
	if err != nil {
		return result, err
	}

	result.Inserted, err = s.insertNew(ctx, tx, stgTable, dimTable, rule)
	if err != nil {
		return result, err
	}

	if err = tx.Commit(); err != nil {
		return result, fmt.Errorf("ошибка при фиксации транзакции: %w", err)
	}

	s.metrics.AddSCD2(entity, result.Closed, result.Inserted)
	s.logger.Info("Измерение %s: закрыто версий %d, добавлено %d за %v",
		dimTable, result.Closed, result.Inserted, time.Since(startTime))
	return result, nil
}

// changeDate возвращает выражение даты изменения строки staging
func (s *SCD2Synchronizer) changeDate(rule models.SCD2Rule) string {
	if rule.DateColumn == "" {
		return s.dialect.CastTimestamp("?")
	}
	return fmt.Sprintf("COALESCE(s.%s, %s)", rule.DateColumn, s.dialect.CastTimestamp("?"))
}

// checkDuplicateKeys не допускает появления двух активных версий одного ключа
func (s *SCD2Synchronizer) checkDuplicateKeys(ctx context.Context, tx *sql.Tx, stgTable string, rule models.SCD2Rule) error {
	seen := map[string]bool{rule.StagingKey: true}
	columns := []string{"s." + rule.StagingKey + " AS k"}
	addColumn := func(col string) {
		if seen[col] {
			return
		}
		seen[col] = true
		columns = append(columns, fmt.Sprintf("s.%s AS c%d", col, len(columns)))
	}
	for _, pair := range rule.Pairs() {
		addColumn(pair.Source)
	}
	if rule.DateColumn != "" {
		addColumn(rule.DateColumn)
	}

	distinct := sq.Select(columns...).Distinct().From(stgTable + " s")
	query, args, err := s.dialect.Builder().
		Select("x.k").
		FromSelect(distinct, "x").
		GroupBy("x.k").
		Having("COUNT(*) > 1").
		OrderBy("x.k").
		Limit(5).
		ToSql()
	if err != nil {
		return fmt.Errorf("ошибка построения проверки ключей: %w", err)
	}

	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("ошибка при проверке ключей %s: %w", stgTable, err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key sql.NullString
		if err := rows.Scan(&key); err != nil {
			return fmt.Errorf("ошибка при проверке ключей %s: %w", stgTable, err)
		}
		keys = append(keys, key.String)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("ошибка при проверке ключей %s: %w", stgTable, err)
	}

	if len(keys) > 0 {
		return fmt.Errorf("%w: %s, ключи: %s", ErrDuplicateStagingKey, stgTable, strings.Join(keys, ", "))
	}
	return nil
}

// closeChanged закрывает активные версии, атрибуты которых отличаются от staging
func (s *SCD2Synchronizer) closeChanged(ctx context.Context, tx *sql.Tx, stgTable, dimTable string, rule models.SCD2Rule) (int64, error) {
	keyMatch := fmt.Sprintf("s.%s = d.%s", rule.StagingKey, rule.DimensionKey)

	var differs []string
	for _, pair := range rule.Pairs() {
		differs = append(differs, s.dialect.DistinctFrom("d."+pair.Target, "s."+pair.Source))
	}

	closeDate := sq.Expr(
		fmt.Sprintf("(SELECT MAX(%s) FROM %s s WHERE %s)", s.changeDate(rule), stgTable, keyMatch),
		models.MinDate,
	)

	query, args, err := s.dialect.Builder().
		Update(dimTable+" AS d").
		Set(models.EffectiveToColumn, closeDate).
		Set(models.DeletedFlagColumn, sq.Expr("TRUE")).
		Where(fmt.Sprintf("d.%s = FALSE", models.DeletedFlagColumn)).
		Where(fmt.Sprintf("EXISTS (SELECT 1 FROM %s s WHERE %s AND (%s))",
			stgTable, keyMatch, strings.Join(differs, " OR "))).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("ошибка построения запроса закрытия версий: %w", err)
	}

	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("ошибка при закрытии версий %s: %w", dimTable, err)
	}
	return res.RowsAffected()
}

// insertNew добавляет активные версии для ключей без активной версии
func (s *SCD2Synchronizer) insertNew(ctx context.Context, tx *sql.Tx, stgTable, dimTable string, rule models.SCD2Rule) (int64, error) {
	pairs := rule.Pairs()
	targets := make([]string, 0, len(pairs)+3)
	sources := make([]string, 0, len(pairs))
	for _, pair := range pairs {
		targets = append(targets, pair.Target)
		sources = append(sources, "s."+pair.Source)
	}
	targets = append(targets, models.EffectiveFromColumn, models.EffectiveToColumn, models.DeletedFlagColumn)

	selectNew := sq.Select(sources...).
		Distinct().
		Column(s.changeDate(rule), models.MinDate).
		Column(s.dialect.CastTimestamp("?"), models.MaxDate).
		Column("FALSE").
		From(stgTable+" s").
		Where(fmt.Sprintf("s.%s IS NOT NULL", rule.StagingKey)).
		Where(fmt.Sprintf("NOT EXISTS (SELECT 1 FROM %s d WHERE d.%s = s.%s AND d.%s = FALSE)",
			dimTable, rule.DimensionKey, rule.StagingKey, models.DeletedFlagColumn))

	query, args, err := s.dialect.Builder().
		Insert(dimTable).
		Columns(targets...).
		Select(selectNew).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("ошибка построения запроса вставки версий: %w", err)
	}

	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("ошибка при вставке версий %s: %w", dimTable, err)
	}
	return res.RowsAffected()
}
