// Package testutil поднимает хранилище SQLite в памяти для тестов пакетов ETL.
package testutil

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/LilVoxy/coursework_dwh/ETL/catalog"
	"github.com/LilVoxy/coursework_dwh/ETL/dialect"
	"github.com/LilVoxy/coursework_dwh/ETL/schema"
)

// Tables возвращает конфигурацию каталога, используемую в тестах
func Tables() map[string]map[string]string {
	return map[string]map[string]string{
		"dim": {
			catalog.EntityAccounts:  "dwh_dim_accounts_hist",
			catalog.EntityCards:     "dwh_dim_cards_hist",
			catalog.EntityClients:   "dwh_dim_clients_hist",
			catalog.EntityTerminals: "dwh_dim_terminals_hist",
		},
		"fact": {
			catalog.EntityBlacklist:    "dwh_fact_passport_blacklist",
			catalog.EntityTransactions: "dwh_fact_transactions",
		},
		"stg": {
			catalog.EntityAccounts:     "stg_accounts",
			catalog.EntityCards:        "stg_cards",
			catalog.EntityClients:      "stg_clients",
			catalog.EntityTerminals:    "stg_terminals",
			catalog.EntityBlacklist:    "stg_blacklist",
			catalog.EntityTransactions: "stg_transactions",
		},
		"rep": {
			catalog.EntityFraud: "rep_fraud",
		},
		"meta": {
			catalog.EntityMeta: "meta",
			catalog.EntityRuns: "meta_runs",
		},
	}
}

// Warehouse тестовое хранилище
type Warehouse struct {
	DB      *sql.DB
	Dialect dialect.Dialect
	Catalog *catalog.Catalog
}

// NewWarehouse открывает SQLite в памяти и создает схему.
// Соединение одно, как и в рабочем режиме.
func NewWarehouse(t testing.TB) *Warehouse {
	t.Helper()

	d, err := dialect.New(dialect.SQLite)
	require.NoError(t, err)

	db, err := sql.Open(d.DriverName(), ":memory:?_time_format=sqlite")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	c, err := catalog.New(Tables())
	require.NoError(t, err)

	require.NoError(t, schema.Apply(context.Background(), db, d, c))

	return &Warehouse{DB: db, Dialect: d, Catalog: c}
}

// Exec выполняет запрос и проваливает тест при ошибке
func (w *Warehouse) Exec(t testing.TB, query string, args ...interface{}) {
	t.Helper()
	_, err := w.DB.Exec(query, args...)
	require.NoError(t, err, query)
}

// Count возвращает количество строк, удовлетворяющих условию
func (w *Warehouse) Count(t testing.TB, table, where string, args ...interface{}) int {
	t.Helper()
	query := "SELECT COUNT(*) FROM " + table
	if where != "" {
		query += " WHERE " + where
	}
	var n int
	require.NoError(t, w.DB.QueryRow(query, args...).Scan(&n), query)
	return n
}

// Date возвращает полночь заданного дня в UTC
func Date(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// At возвращает момент времени в UTC
func At(year int, month time.Month, day, hour, minute int) time.Time {
	return time.Date(year, month, day, hour, minute, 0, 0, time.UTC)
}
