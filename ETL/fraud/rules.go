package fraud

import (
	"context"
	"sort"
	"time"

	"github.com/LilVoxy/coursework_dwh/ETL/models"
)

// Rule одно правило поиска мошенничества. Detect возвращает события
// без типа и даты отчёта, их проставляет Engine.
type Rule interface {
	EventType() string
	Detect(ctx context.Context, q *Queries, since time.Time) ([]models.FraudEvent, error)
}

// DefaultRules возвращает правила в порядке их выполнения
func DefaultRules() []Rule {
	return []Rule{
		BlacklistRule{},
		InvalidContractRule{},
		CrossCityRule{Window: time.Hour},
		AmountGuessingRule{Window: 20 * time.Minute, MinLength: 4, MinRejects: 3},
	}
}

// perTransaction оставляет одно событие на операцию.
// Операции без trans_id не сравниваются между собой.
func perTransaction(transactions []Transaction) []models.FraudEvent {
	seen := make(map[string]bool, len(transactions))
	events := make([]models.FraudEvent, 0, len(transactions))
	for _, tr := range transactions {
		if tr.ID != "" {
			if seen[tr.ID] {
				continue
			}
			seen[tr.ID] = true
		}
		events = append(events, tr.Client.event(tr.Date))
	}
	return events
}

// BlacklistRule операции по заблокированному или просроченному паспорту
type BlacklistRule struct{}

func (BlacklistRule) EventType() string { return EventBlacklistedPassport }

func (BlacklistRule) Detect(ctx context.Context, q *Queries, since time.Time) ([]models.FraudEvent, error) {
	transactions, err := q.BlacklistedPassports(ctx, since)
	if err != nil {
		return nil, err
	}
	return perTransaction(transactions), nil
}

// InvalidContractRule операции по счёту с истёкшим договором
type InvalidContractRule struct{}

func (InvalidContractRule) EventType() string { return EventInvalidContract }

func (InvalidContractRule) Detect(ctx context.Context, q *Queries, since time.Time) ([]models.FraudEvent, error) {
	transactions, err := q.ExpiredContracts(ctx, since)
	if err != nil {
		return nil, err
	}
	return perTransaction(transactions), nil
}

// CrossCityRule операции одного клиента в разных городах с интервалом не больше Window
type CrossCityRule struct {
	Window time.Duration
}

func (CrossCityRule) EventType() string { return EventCrossCity }

func (r CrossCityRule) Detect(ctx context.Context, q *Queries, since time.Time) ([]models.FraudEvent, error) {
	// парная операция может предшествовать отметке не больше чем на окно
	transactions, err := q.CityTransactions(ctx, since.Add(-r.Window))
	if err != nil {
		return nil, err
	}
	return r.detect(transactions, since), nil
}

func (r CrossCityRule) detect(transactions []Transaction, since time.Time) []models.FraudEvent {
	byPassport := make(map[string][]Transaction)
	var passports []string
	for _, tr := range transactions {
		if !tr.Client.Known() || !tr.City.Valid {
			continue
		}
		p := tr.Client.Passport.String
		if _, ok := byPassport[p]; !ok {
			passports = append(passports, p)
		}
		byPassport[p] = append(byPassport[p], tr)
	}
	sort.Strings(passports)

	type eventKey struct {
		at                   int64
		passport, fio, phone string
	}
	seen := make(map[eventKey]bool)
	var events []models.FraudEvent
	for _, p := range passports {
		group := byPassport[p]
		sort.SliceStable(group, func(i, j int) bool { return group[i].Date.Before(group[j].Date) })

		for i, t1 := range group {
			if t1.Date.Before(since) || !hasOtherCity(group, i, r.Window) {
				continue
			}
			event := t1.Client.event(t1.Date)
			key := eventKey{event.EventDt.UnixNano(), event.Passport, event.FIO, event.Phone}
			if !seen[key] {
				seen[key] = true
				events = append(events, event)
			}
		}
	}
	return events
}

// hasOtherCity ищет в отсортированной по времени группе операцию в другом городе
// на расстоянии не больше window от group[i]
func hasOtherCity(group []Transaction, i int, window time.Duration) bool {
	t1 := group[i]
	for j := i - 1; j >= 0 && t1.Date.Sub(group[j].Date) <= window; j-- {
		if group[j].City.String != t1.City.String {
			return true
		}
	}
	for j := i + 1; j < len(group) && group[j].Date.Sub(t1.Date) <= window; j++ {
		if group[j].City.String != t1.City.String {
			return true
		}
	}
	return false
}
