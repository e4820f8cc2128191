package fraud

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/shopspring/decimal"

	"github.com/LilVoxy/coursework_dwh/ETL/catalog"
	"github.com/LilVoxy/coursework_dwh/ETL/dialect"
)

// tables физические таблицы, которые читают правила
type tables struct {
	transactions string
	cards        string
	accounts     string
	clients      string
	terminals    string
	blacklist    string
	report       string
}

func resolveTables(c *catalog.Catalog) (tables, error) {
	var t tables
	lookups := []struct {
		layer  catalog.Layer
		entity string
		dst    *string
	}{
		{c.Fact, catalog.EntityTransactions, &t.transactions},
		{c.Fact, catalog.EntityBlacklist, &t.blacklist},
		{c.Dim, catalog.EntityCards, &t.cards},
		{c.Dim, catalog.EntityAccounts, &t.accounts},
		{c.Dim, catalog.EntityClients, &t.clients},
		{c.Dim, catalog.EntityTerminals, &t.terminals},
		{c.Rep, catalog.EntityFraud, &t.report},
	}
	for _, l := range lookups {
		name, err := l.layer.Lookup(l.entity)
		if err != nil {
			return tables{}, err
		}
		*l.dst = name
	}
	return t, nil
}

// Transaction операция с данными владельца карты
type Transaction struct {
	ID         string
	Date       time.Time
	CardNum    string
	Amount     decimal.NullDecimal
	OperResult string
	City       sql.NullString
	Client     Client
}

// Queries читает из хранилища кандидатов для правил
type Queries struct {
	db      *sql.DB
	dialect dialect.Dialect
	tables  tables
}

// NewQueries создает новый экземпляр Queries
func NewQueries(db *sql.DB, d dialect.Dialect, c *catalog.Catalog) (*Queries, error) {
	t, err := resolveTables(c)
	if err != nil {
		return nil, err
	}
	return &Queries{db: db, dialect: d, tables: t}, nil
}

var clientColumns = []string{
	"cl.passport_num", "cl.last_name", "cl.first_name", "cl.patronymic", "cl.phone",
}

func (q *Queries) withOwner(b sq.SelectBuilder) sq.SelectBuilder {
	return b.
		Join(fmt.Sprintf("%s c ON TRIM(t.card_num) = TRIM(c.cards_num) AND c.deleted_flg = FALSE", q.tables.cards)).
		Join(fmt.Sprintf("%s a ON c.account_num = a.account_num AND a.deleted_flg = FALSE", q.tables.accounts)).
		Join(fmt.Sprintf("%s cl ON a.client = cl.client_id AND cl.deleted_flg = FALSE", q.tables.clients))
}

// BlacklistedPassports возвращает операции начиная с since, совершённые клиентами,
// чей паспорт к моменту операции заблокирован или просрочен
func (q *Queries) BlacklistedPassports(ctx context.Context, since time.Time) ([]Transaction, error) {
	b := q.withOwner(q.dialect.Builder().
		Select(append([]string{"t.trans_id", "t.trans_date"}, clientColumns...)...).
		From(q.tables.transactions + " t")).
		Join(fmt.Sprintf("%s p ON cl.passport_num = p.passport_num", q.tables.blacklist)).
		Where("(p.entry_dt <= t.trans_date OR cl.passport_valid_to <= t.trans_date)").
		Where(sq.GtOrEq{"t.trans_date": since}).
		OrderBy("t.trans_date", "t.trans_id")

	return q.scanOwned(ctx, b, "заблокированных паспортов")
}

// ExpiredContracts возвращает операции начиная с since по счетам,
// срок действия которых истёк к моменту операции
func (q *Queries) ExpiredContracts(ctx context.Context, since time.Time) ([]Transaction, error) {
	b := q.withOwner(q.dialect.Builder().
		Select(append([]string{"t.trans_id", "t.trans_date"}, clientColumns...)...).
		From(q.tables.transactions + " t")).
		Where("a.valid_to <= t.trans_date").
		Where(sq.GtOrEq{"t.trans_date": since}).
		OrderBy("t.trans_date", "t.trans_id")

	return q.scanOwned(ctx, b, "недействующих договоров")
}

func (q *Queries) scanOwned(ctx context.Context, b sq.SelectBuilder, what string) ([]Transaction, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("ошибка построения запроса %s: %w", what, err)
	}

	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ошибка при поиске %s: %w", what, err)
	}
	defer rows.Close()

	var result []Transaction
	for rows.Next() {
		var tr Transaction
		var id sql.NullString
		cl := &tr.Client
		if err := rows.Scan(&id, &tr.Date, &cl.Passport, &cl.LastName, &cl.FirstName, &cl.Patronymic, &cl.Phone); err != nil {
			return nil, fmt.Errorf("ошибка при чтении операции: %w", err)
		}
		tr.ID = id.String
		result = append(result, tr)
	}
	return result, rows.Err()
}

// CityTransactions возвращает операции начиная с since вместе с городом
// активного терминала и данными активного владельца карты
func (q *Queries) CityTransactions(ctx context.Context, since time.Time) ([]Transaction, error) {
	b := q.withOwner(q.dialect.Builder().
		Select(append([]string{"t.trans_id", "t.trans_date", "term.terminal_city"}, clientColumns...)...).
		From(q.tables.transactions + " t").
		Join(fmt.Sprintf("%s term ON t.terminal = term.terminal_id AND term.deleted_flg = FALSE", q.tables.terminals))).
		Where(sq.GtOrEq{"t.trans_date": since}).
		OrderBy("cl.passport_num", "t.trans_date", "t.trans_id")

	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("ошибка построения запроса операций по городам: %w", err)
	}

	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ошибка при чтении операций по городам: %w", err)
	}
	defer rows.Close()

	var result []Transaction
	for rows.Next() {
		var tr Transaction
		var id sql.NullString
		cl := &tr.Client
		if err := rows.Scan(&id, &tr.Date, &tr.City, &cl.Passport, &cl.LastName, &cl.FirstName, &cl.Patronymic, &cl.Phone); err != nil {
			return nil, fmt.Errorf("ошибка при чтении операции: %w", err)
		}
		tr.ID = id.String
		result = append(result, tr)
	}
	return result, rows.Err()
}

// CardTransactions возвращает операции по активным картам начиная с since,
// упорядоченные по карте и времени. Владелец может отсутствовать.
func (q *Queries) CardTransactions(ctx context.Context, since time.Time) ([]Transaction, error) {
	query, args, err := q.dialect.Builder().
		Select(append([]string{
			"t.trans_id", "TRIM(t.card_num)", "t.trans_date", "t.amt", "t.oper_result",
		}, clientColumns...)...).
		From(q.tables.transactions+" t").
		Join(fmt.Sprintf("%s c ON TRIM(t.card_num) = TRIM(c.cards_num) AND c.deleted_flg = FALSE", q.tables.cards)).
		LeftJoin(fmt.Sprintf("%s a ON c.account_num = a.account_num AND a.deleted_flg = FALSE", q.tables.accounts)).
		LeftJoin(fmt.Sprintf("%s cl ON a.client = cl.client_id AND cl.deleted_flg = FALSE", q.tables.clients)).
		Where(sq.GtOrEq{"t.trans_date": since}).
		OrderBy("TRIM(t.card_num)", "t.trans_date", "t.trans_id").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("ошибка построения запроса операций по картам: %w", err)
	}

	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ошибка при чтении операций по картам: %w", err)
	}
	defer rows.Close()

	var result []Transaction
	for rows.Next() {
		var tr Transaction
		var id, card, oper sql.NullString
		cl := &tr.Client
		if err := rows.Scan(&id, &card, &tr.Date, &tr.Amount, &oper,
			&cl.Passport, &cl.LastName, &cl.FirstName, &cl.Patronymic, &cl.Phone); err != nil {
			return nil, fmt.Errorf("ошибка при чтении операции: %w", err)
		}
		tr.ID, tr.CardNum, tr.OperResult = id.String, card.String, oper.String
		result = append(result, tr)
	}
	return result, rows.Err()
}
