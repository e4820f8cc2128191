package fraud

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

// WatermarkSource отдаёт отметку staging-таблицы сущности
type WatermarkSource interface {
	Current(ctx context.Context, entity string) (time.Time, bool, error)
}

// Engine выполняет правила по операциям, поступившим начиная с отметки транзакций
type Engine struct {
	queries    *Queries
	sink       *EventSink
	watermarks WatermarkSource
	rules      []Rule
	logger     *utils.ETLLogger
	metrics    *metrics.Metrics
	notifier   Notifier
	clock      func() time.Time
}

// Option настраивает Engine
type Option func(*Engine)

// WithClock задает источник текущего времени для даты отчёта
func WithClock(clock func() time.Time) Option {
	return func(e *Engine) { e.clock = clock }
}

// WithNotifier подписывает получателя новых событий
func WithNotifier(n Notifier) Option {
	return func(e *Engine) { e.notifier = n }
}

// WithRules заменяет набор правил
func WithRules(rules ...Rule) Option {
	return func(e *Engine) { e.rules = rules }
}

// NewEngine создает новый экземпляр Engine
func NewEngine(db *sql.DB, d dialect.Dialect, c *catalog.Catalog, watermarks WatermarkSource,
	logger *utils.ETLLogger, m *metrics.Metrics, opts ...Option) (*Engine, error) {
	queries, err := NewQueries(db, d, c)
	if err != nil {
		return nil, err
	}
	sink, err := NewEventSink(db, d, c)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		queries:    queries,
		sink:       sink,
		watermarks: watermarks,
		rules:      DefaultRules(),
		logger:     logger,
		metrics:    m,
		clock:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Sink возвращает хранилище событий
func (e *Engine) Sink() *EventSink {
	return e.sink
}

// Run выполняет все правила по очереди. Каждое правило записывает свои события
// отдельной транзакцией; ошибка правила прерывает выполнение остальных.
// Возвращает количество событий по типам.
func (e *Engine) Run(ctx context.Context) (map[string]int, error) {
	since, ok, err := e.watermarks.Current(ctx, catalog.EntityTransactions)
	if err != nil {
		return nil, fmt.Errorf("ошибка при чтении отметки транзакций: %w", err)
	}
	counts := make(map[string]int, len(e.rules))
	if !ok {
		e.logger.Warn("Отметка транзакций не установлена, поиск мошенничества пропущен")
		return counts, nil
	}

	now := e.clock()
	reportDt := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	for _, rule := range e.rules {
		startTime := time.Now()
		events, err := rule.Detect(ctx, e.queries, since)
		if err != nil {
			return counts, fmt.Errorf("правило %q: %w", rule.EventType(), err)
		}
		for i := range events {
			events[i].EventType = rule.EventType()
			events[i].ReportDt = reportDt
		}
		if err := e.sink.Append(ctx, events); err != nil {
			return counts, fmt.Errorf("правило %q: %w", rule.EventType(), err)
		}

		counts[rule.EventType()] = len(events)
		e.metrics.AddFraudEvents(rule.EventType(), len(events))
		e.logger.Info("Правило %q: найдено событий %d (%v)", rule.EventType(), len(events), time.Since(startTime))
		if len(events) > 0 && e.notifier != nil {
			e.notifier.Publish(events)
		}
	}
	return counts, nil
}

// Total суммирует количество событий по всем правилам
func Total(counts map[string]int) int {
	total := 0
	for _, n := range counts {
		total += n
	}
	return total
}

// NotifierFunc позволяет использовать функцию как Notifier
type NotifierFunc func(events []models.FraudEvent)

func (f NotifierFunc) Publish(events []models.FraudEvent) { f(events) }
