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

// LoadStats содержит итоги загрузки одного пакета
type LoadStats struct {
	RowsStaged       int
	VersionsClosed   int64
	VersionsInserted int64
	FactsInserted    int64
}

// Add суммирует итоги
func (s *LoadStats) Add(other LoadStats) {
	s.RowsStaged += other.RowsStaged
	s.VersionsClosed += other.VersionsClosed
	s.VersionsInserted += other.VersionsInserted
	s.FactsInserted += other.FactsInserted
}

// LoadManager отвечает за загрузку пакетов в хранилище:
// staging, отметка, SCD2-измерение, таблица фактов
type LoadManager struct {
	catalog      *catalog.Catalog
	logger       *utils.ETLLogger
	staging      *StagingLoader
	watermarks   *WatermarkTracker
	scd2         *SCD2Synchronizer
	facts        *FactMerger
	scd2Rules    map[string]models.SCD2Rule
	factMappings map[string]models.FactMapping
}

// NewLoadManager создает новый экземпляр LoadManager
func NewLoadManager(
	db *sql.DB,
	d dialect.Dialect,
	c *catalog.Catalog,
	logger *utils.ETLLogger,
	m *metrics.Metrics,
	scd2Rules map[string]models.SCD2Rule,
	factMappings map[string]models.FactMapping,
) *LoadManager {
	return &LoadManager{
		catalog:      c,
		logger:       logger,
		staging:      NewStagingLoader(db, d, c, logger, m),
		watermarks:   NewWatermarkTracker(db, d, c, logger, m),
		scd2:         NewSCD2Synchronizer(db, d, c, logger, m),
		facts:        NewFactMerger(db, d, c, logger, m),
		scd2Rules:    scd2Rules,
		factMappings: factMappings,
	}
}

// Watermarks возвращает трекер отметок
func (m *LoadManager) Watermarks() *WatermarkTracker {
	return m.watermarks
}

// LoadSnapshot загружает полную выгрузку источника: staging и SCD2-синхронизация.
// Отметка для выгрузки источника не ведётся.
func (m *LoadManager) LoadSnapshot(ctx context.Context, batch *models.Batch) (LoadStats, error) {
	return m.load(ctx, batch, false)
}

// LoadIncoming загружает пакет входящих файлов за бизнес-дату
func (m *LoadManager) LoadIncoming(ctx context.Context, batch *models.Batch) (LoadStats, error) {
	return m.load(ctx, batch, true)
}

func (m *LoadManager) load(ctx context.Context, batch *models.Batch, incremental bool) (LoadStats, error) {
	var stats LoadStats
	entity := batch.Entity
	startTime := time.Now()

	if !m.catalog.Stg.Has(entity) {
		m.logger.Warn("Для сущности %s не настроена staging-таблица, пакет пропущен", entity)
		return stats, nil
	}

	// 1. Staging
	if err := m.staging.Load(ctx, entity, batch); err != nil {
		m.logger.Error("Ошибка при загрузке staging %s: %v", entity, err)
		return stats, fmt.Errorf("ошибка при загрузке staging %s: %w", entity, err)
	}
	stats.RowsStaged = batch.Len()

	// 2. Отметка
	if incremental {
		if err := m.watermarks.Advance(ctx, entity, batch.BusinessDate); err != nil {
			m.logger.Error("Ошибка при обновлении отметки %s: %v", entity, err)
			return stats, fmt.Errorf("ошибка при обновлении отметки %s: %w", entity, err)
		}
	}

	// 3. Измерение
	if rule, ok := m.scd2Rules[entity]; ok {
		result, err := m.scd2.Reconcile(ctx, entity, rule)
		if err != nil {
			m.logger.Error("Ошибка при синхронизации измерения %s: %v", entity, err)
			return stats, fmt.Errorf("ошибка при синхронизации измерения %s: %w", entity, err)
		}
		stats.VersionsClosed = result.Closed
		stats.VersionsInserted = result.Inserted
	}

	// 4. Факты
	if mapping, ok := m.factMappings[entity]; ok {
		inserted, err := m.facts.MergeEntity(ctx, entity, mapping)
		if err != nil {
			m.logger.Error("Ошибка при загрузке фактов %s: %v", entity, err)
			return stats, fmt.Errorf("ошибка при загрузке фактов %s: %w", entity, err)
		}
		stats.FactsInserted = inserted
	}

	m.logger.LogStepComplete("загрузка "+entity, time.Since(startTime))
	return stats, nil
}
