package fraud

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/LilVoxy/coursework_dwh/ETL/models"
	"github.com/LilVoxy/coursework_dwh/ETL/testutil"
	"github.com/LilVoxy/coursework_dwh/ETL/utils"
)

type owner struct {
	card            string
	account         string
	accountValidTo  time.Time
	client          string
	passport        string
	passportValidTo time.Time
}

func validOwner(card, client, passport string) owner {
	return owner{
		card:            card,
		account:         "ACC" + card,
		accountValidTo:  testutil.Date(2030, time.January, 1),
		client:          client,
		passport:        passport,
		passportValidTo: testutil.Date(2030, time.January, 1),
	}
}

func seedOwner(t *testing.T, w *testutil.Warehouse, o owner) {
	t.Helper()
	from := testutil.Date(2020, time.January, 1)
	w.Exec(t, `INSERT INTO dwh_dim_cards_hist (cards_num, account_num, effective_from, effective_to, deleted_flg)
		VALUES (?, ?, ?, ?, FALSE)`, o.card, o.account, from, models.MaxDate)
	w.Exec(t, `INSERT INTO dwh_dim_accounts_hist (account_num, valid_to, client, effective_from, effective_to, deleted_flg)
		VALUES (?, ?, ?, ?, ?, FALSE)`, o.account, o.accountValidTo, o.client, from, models.MaxDate)
	w.Exec(t, `INSERT INTO dwh_dim_clients_hist
		(client_id, last_name, first_name, patronymic, passport_num, passport_valid_to, phone, effective_from, effective_to, deleted_flg)
		VALUES (?, 'Иванов', 'Иван', 'Иванович', ?, ?, '+79990000000', ?, ?, FALSE)`,
		o.client, o.passport, o.passportValidTo, from, models.MaxDate)
}

func seedTerminal(t *testing.T, w *testutil.Warehouse, id, city string) {
	t.Helper()
	w.Exec(t, `INSERT INTO dwh_dim_terminals_hist (terminal_id, terminal_type, terminal_city, terminal_address, effective_from, effective_to, deleted_flg)
		VALUES (?, 'POS', ?, 'ул. Ленина, 1', ?, ?, FALSE)`, id, city, testutil.Date(2020, time.January, 1), models.MaxDate)
}

func addTransaction(t *testing.T, w *testutil.Warehouse, id string, at time.Time, card, amount, result, terminal string) {
	t.Helper()
	w.Exec(t, `INSERT INTO dwh_fact_transactions (trans_id, trans_date, card_num, oper_type, amt, oper_result, terminal)
		VALUES (?, ?, ?, 'PAYMENT', ?, ?, ?)`, id, at, card, amount, result, terminal)
}

type fixedWatermark struct {
	at  time.Time
	set bool
}

func (f fixedWatermark) Current(context.Context, string) (time.Time, bool, error) {
	return f.at, f.set, nil
}

func newEngine(t *testing.T, w *testutil.Warehouse, since time.Time, opts ...Option) *Engine {
	t.Helper()
	opts = append([]Option{WithClock(func() time.Time { return testutil.At(2021, time.March, 5, 15, 30) })}, opts...)
	e, err := NewEngine(w.DB, w.Dialect, w.Catalog, fixedWatermark{at: since, set: true}, utils.NewNopLogger(), nil, opts...)
	require.NoError(t, err)
	return e
}

func reportRows(t *testing.T, w *testutil.Warehouse, eventType string) []models.FraudEvent {
	t.Helper()
	events, err := newEngine(t, w, time.Time{}).Sink().List(context.Background(), EventFilter{EventType: eventType})
	require.NoError(t, err)
	return events
}
