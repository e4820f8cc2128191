package fraud

import (
	"context"
	"sort"
	"time"

	"github.com/LilVoxy/coursework_dwh/ETL/models"
)

// AmountGuessingRule ищет подбор суммы: серия операций по одной карте с убывающей
// суммой в пределах Window от начала серии, не короче MinLength, с не менее
// чем MinRejects отказами и успешной последней операцией
type AmountGuessingRule struct {
	Window     time.Duration
	MinLength  int
	MinRejects int
}

func (AmountGuessingRule) EventType() string { return EventAmountGuessing }

func (r AmountGuessingRule) Detect(ctx context.Context, q *Queries, since time.Time) ([]models.FraudEvent, error) {
	transactions, err := q.CardTransactions(ctx, since)
	if err != nil {
		return nil, err
	}

	var events []models.FraudEvent
	for start := 0; start < len(transactions); {
		end := start + 1
		for end < len(transactions) && transactions[end].CardNum == transactions[start].CardNum {
			end++
		}
		for _, tr := range r.Suspicious(transactions[start:end]) {
			if tr.Client.Known() {
				events = append(events, tr.Client.event(tr.Date))
			}
		}
		start = end
	}
	sort.SliceStable(events, func(i, j int) bool { return events[i].EventDt.Before(events[j].EventDt) })
	return events, nil
}

// chain незавершённая серия, оканчивающаяся предыдущей операцией
type chain struct {
	first   int
	started time.Time
	length  int
	rejects int
}

// Suspicious проходит один раз по упорядоченным по времени операциям одной
// карты и возвращает операции, попавшие в отчёт. Для каждого начала серии
// берётся самая поздняя подходящая успешная операция: она и все отказы
// между началом и ею. Каждая операция возвращается не больше одного раза.
func (r AmountGuessingRule) Suspicious(card []Transaction) []Transaction {
	var open []chain
	// начало серии -> индекс последней подходящей успешной операции
	ends := make(map[int]int)

	for i, tr := range card {
		decreasing := i > 0 && tr.Amount.Valid && card[i-1].Amount.Valid &&
			tr.Amount.Decimal.LessThan(card[i-1].Amount.Decimal)

		extended := open[:0]
		if decreasing {
			for _, c := range open {
				if tr.Date.Sub(c.started) > r.Window {
					continue
				}
				c.length++
				if tr.OperResult == OperReject {
					c.rejects++
				}
				extended = append(extended, c)
			}
		}

		fresh := chain{first: i, started: tr.Date, length: 1}
		if tr.OperResult == OperReject {
			fresh.rejects = 1
		}
		open = append(extended, fresh)

		if tr.OperResult != OperSuccess {
			continue
		}
		for _, c := range open {
			if c.length >= r.MinLength && c.rejects >= r.MinRejects {
				ends[c.first] = i
			}
		}
	}

	picked := make([]bool, len(card))
	for first, end := range ends {
		picked[end] = true
		for j := first; j < end; j++ {
			if card[j].OperResult == OperReject {
				picked[j] = true
			}
		}
	}

	var result []Transaction
	for i, ok := range picked {
		if ok {
			result = append(result, card[i])
		}
	}
	return result
}
