package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/google/uuid"

	"github.com/LilVoxy/coursework_dwh/ETL/archive"
	"github.com/LilVoxy/coursework_dwh/ETL/catalog"
	"github.com/LilVoxy/coursework_dwh/ETL/config"
	"github.com/LilVoxy/coursework_dwh/ETL/extractors"
	"github.com/LilVoxy/coursework_dwh/ETL/fraud"
	"github.com/LilVoxy/coursework_dwh/ETL/load"
	"github.com/LilVoxy/coursework_dwh/ETL/metrics"
	"github.com/LilVoxy/coursework_dwh/ETL/models"
	"github.com/LilVoxy/coursework_dwh/ETL/schema"
	"github.com/LilVoxy/coursework_dwh/ETL/transform"
	"github.com/LilVoxy/coursework_dwh/ETL/utils"
)

// ErrRunInProgress возвращается, если предыдущий запуск ещё не завершён
var ErrRunInProgress = errors.New("синхронизация уже выполняется")

// ETLRunner выполняет запуск синхронизации: выгрузка банковской базы,
// входящие файлы по датам, правила мошенничества, архивирование
type ETLRunner struct {
	config       *config.DWHConfig
	conns        *config.Connections
	logger       *utils.ETLLogger
	metrics      *metrics.Metrics
	bank         *extractors.BankExtractor
	files        *extractors.FileExtractor
	preprocessor *transform.Preprocessor
	loadManager  *load.LoadManager
	fraud        *fraud.Engine
	archiver     *archive.Archiver
	etlLogRepo   models.ETLLogRepository
	running      sync.Mutex
}

// NewETLRunner подключается к базам данных и создает новый экземпляр ETLRunner
func NewETLRunner(ctx context.Context, cfg *config.DWHConfig, logger *utils.ETLLogger,
	m *metrics.Metrics, opts ...fraud.Option) (*ETLRunner, error) {
	logger.Info("Инициализация ETL Runner")

	conns, err := config.ConnectDatabases(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("ошибка подключения к базам данных: %w", err)
	}

	runner, err := NewETLRunnerWithConnections(ctx, cfg, conns, logger, m, opts...)
	if err != nil {
		config.CloseDatabases(conns, logger)
		return nil, err
	}
	return runner, nil
}

// NewETLRunnerWithConnections создает ETLRunner поверх готовых подключений
func NewETLRunnerWithConnections(ctx context.Context, cfg *config.DWHConfig, conns *config.Connections,
	logger *utils.ETLLogger, m *metrics.Metrics, opts ...fraud.Option) (*ETLRunner, error) {
	cat := cfg.Catalog()
	if cat == nil {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		cat = cfg.Catalog()
	}
	db, d := conns.Warehouse, conns.Dialect

	if cfg.InitSchema {
		if err := schema.Apply(ctx, db, d, cat); err != nil {
			return nil, fmt.Errorf("ошибка при создании схемы хранилища: %w", err)
		}
		logger.Info("Схема хранилища проверена")
	}

	var etlLogRepo models.ETLLogRepository = models.NopETLLogRepository{}
	if table, err := cat.Meta.Lookup(catalog.EntityRuns); err == nil {
		repo, err := models.NewSQLETLLogRepository(db, d, table)
		if err != nil {
			return nil, err
		}
		etlLogRepo = repo
	} else {
		logger.Warn("Таблица журнала запусков не настроена, журнал не ведётся")
	}

	files, err := extractors.NewFileExtractor(cfg.DataDir, cfg.Patterns, cfg.Separator(), logger)
	if err != nil {
		return nil, fmt.Errorf("ошибка настройки чтения файлов: %w", err)
	}

	archiver, err := archive.New(ctx, cfg.Archive, logger)
	if err != nil {
		return nil, fmt.Errorf("ошибка настройки архива: %w", err)
	}

	loadManager := load.NewLoadManager(db, d, cat, logger, m, cfg.SCD2Rules(), cfg.FactMappings())

	engine, err := fraud.NewEngine(db, d, cat, loadManager.Watermarks(), logger, m, opts...)
	if err != nil {
		return nil, fmt.Errorf("ошибка настройки правил мошенничества: %w", err)
	}

	var bank *extractors.BankExtractor
	if conns.Source != nil {
		bank = extractors.NewBankExtractor(conns.Source, cat, logger)
	}

	return &ETLRunner{
		config:       cfg,
		conns:        conns,
		logger:       logger,
		metrics:      m,
		bank:         bank,
		files:        files,
		preprocessor: transform.NewPreprocessor(cfg.Preprocess, logger),
		loadManager:  loadManager,
		fraud:        engine,
		archiver:     archiver,
		etlLogRepo:   etlLogRepo,
	}, nil
}

// Close дожидается текущего запуска и закрывает соединения с базами данных.
// После Close новые запуски получают ErrRunInProgress.
func (r *ETLRunner) Close() {
	r.logger.Info("Завершение работы ETL Runner")
	r.running.Lock()
	config.CloseDatabases(r.conns, r.logger)
}

// Events возвращает отчёт о мошенничестве
func (r *ETLRunner) Events() *fraud.EventSink {
	return r.fraud.Sink()
}

// Runs возвращает журнал запусков
func (r *ETLRunner) Runs() models.ETLLogRepository {
	return r.etlLogRepo
}

// Watermarks возвращает трекер отметок
func (r *ETLRunner) Watermarks() *load.WatermarkTracker {
	return r.loadManager.Watermarks()
}

// ExecuteETL выполняет полный запуск синхронизации.
// Каждый шаг фиксируется отдельно: при ошибке уже выполненные шаги не откатываются.
func (r *ETLRunner) ExecuteETL(ctx context.Context) error {
	if !r.running.TryLock() {
		return ErrRunInProgress
	}
	defer r.running.Unlock()
	return r.run(ctx)
}

// StartETL захватывает запуск и выполняет его в фоне.
// Если запуск уже идёт, сразу возвращает ErrRunInProgress.
func (r *ETLRunner) StartETL(ctx context.Context) error {
	if !r.running.TryLock() {
		return ErrRunInProgress
	}
	go func() {
		defer r.running.Unlock()
		if err := r.run(ctx); err != nil {
			r.logger.Error("Ошибка при выполнении синхронизации по запросу: %v", err)
		}
	}()
	return nil
}

func (r *ETLRunner) run(ctx context.Context) error {
	startTime := time.Now().UTC()
	runID := uuid.NewString()
	r.logger.LogRunStart(runID)

	if err := r.etlLogRepo.CreateLogEntry(ctx, runID, startTime); err != nil {
		r.logger.Error("Ошибка при создании записи в журнале запусков: %v", err)
		return fmt.Errorf("ошибка при создании записи в журнале запусков: %w", err)
	}

	stats, err := r.execute(ctx)
	if err != nil {
		r.logger.Error("Запуск %s завершился ошибкой: %v", runID, err)
		if logErr := r.etlLogRepo.UpdateLogEntryFailure(context.WithoutCancel(ctx), runID, time.Now().UTC(), err.Error()); logErr != nil {
			r.logger.Error("Ошибка при обновлении записи в журнале запусков: %v", logErr)
		}
		r.metrics.ObserveRun(models.RunStatusFailed, time.Since(startTime))
		return err
	}

	if err := r.etlLogRepo.UpdateLogEntrySuccess(ctx, runID, time.Now().UTC(), stats); err != nil {
		r.logger.Error("Ошибка при обновлении записи в журнале запусков: %v", err)
	}
	r.metrics.ObserveRun(models.RunStatusSuccess, time.Since(startTime))
	r.logger.LogRunComplete(startTime, stats.BatchesProcessed, stats.RowsStaged, stats.FraudEvents)
	return nil
}

func (r *ETLRunner) execute(ctx context.Context) (models.RunStats, error) {
	var stats models.RunStats

	// 1. Выгрузка банковской базы
	if err := r.syncBank(ctx, &stats); err != nil {
		return stats, err
	}

	// 2. Входящие файлы
	days, err := r.files.Extract()
	if err != nil {
		return stats, fmt.Errorf("ошибка в фазе Extract: %w", err)
	}
	if len(days) == 0 {
		r.logger.Info("Нет новых файлов для обработки")
		return stats, nil
	}

	var processed []string
	for _, day := range days {
		if err := r.processDay(ctx, day, &stats); err != nil {
			return stats, err
		}
		for _, batch := range day.Batches {
			processed = append(processed, batch.SourceFiles...)
		}
	}

	// 3. Архив
	if _, err := r.archiver.Archive(ctx, processed); err != nil {
		return stats, fmt.Errorf("ошибка при архивировании файлов: %w", err)
	}
	return stats, nil
}

func (r *ETLRunner) syncBank(ctx context.Context, stats *models.RunStats) error {
	if r.bank == nil {
		r.logger.Debug("Банковская база не настроена, выгрузка пропущена")
		return nil
	}

	startTime := time.Now()
	for _, entity := range r.bank.Entities() {
		batch, err := r.bank.Extract(ctx, entity)
		if err != nil {
			return fmt.Errorf("ошибка в фазе Extract: %w", err)
		}
		loaded, err := r.loadManager.LoadSnapshot(ctx, batch)
		if err != nil {
			return fmt.Errorf("ошибка в фазе Load: %w", err)
		}
		stats.BatchesProcessed++
		stats.RowsStaged += loaded.RowsStaged
	}
	r.logger.LogStepComplete("выгрузка банковской базы", time.Since(startTime))
	return nil
}

func (r *ETLRunner) processDay(ctx context.Context, day extractors.DailyBatches, stats *models.RunStats) error {
	date := day.Date.Format("2006-01-02")
	r.logger.Info("Обработка файлов за %s", date)

	if err := r.preprocessor.ApplyAll(day); err != nil {
		return fmt.Errorf("ошибка в фазе Transform: %w", err)
	}

	for _, entity := range day.Entities() {
		loaded, err := r.loadManager.LoadIncoming(ctx, day.Batches[entity])
		if err != nil {
			return fmt.Errorf("ошибка в фазе Load за %s: %w", date, err)
		}
		stats.BatchesProcessed++
		stats.RowsStaged += loaded.RowsStaged
	}

	counts, err := r.fraud.Run(ctx)
	if err != nil {
		return fmt.Errorf("ошибка при поиске мошенничества за %s: %w", date, err)
	}
	stats.FraudEvents += fraud.Total(counts)
	stats.LastBusinessDate = day.Date
	return nil
}

// StartScheduler запускает синхронизацию с интервалом из конфигурации до отмены ctx.
// Запуски не перекрываются.
func (r *ETLRunner) StartScheduler(ctx context.Context) error {
	interval := r.config.Schedule.Interval
	if interval <= 0 {
		return fmt.Errorf("некорректный интервал планировщика: %v", interval)
	}

	scheduler := gocron.NewScheduler(time.UTC)
	scheduler.SingletonModeAll()

	r.logger.Info("Запуск планировщика с интервалом %v", interval)
	_, err := scheduler.Every(interval).Do(func() {
		r.logger.Info("Запланированный запуск синхронизации")
		if err := r.ExecuteETL(ctx); err != nil {
			r.logger.Error("Ошибка при выполнении запланированной синхронизации: %v", err)
		}
	})
	if err != nil {
		return fmt.Errorf("ошибка при настройке планировщика: %w", err)
	}

	scheduler.StartAsync()
	<-ctx.Done()
	scheduler.Stop()

	r.logger.Info("Планировщик остановлен")
	return nil
}
