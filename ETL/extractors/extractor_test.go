package extractors

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	_ "modernc.org/sqlite"

	"github.com/LilVoxy/coursework_dwh/ETL/catalog"
	"github.com/LilVoxy/coursework_dwh/ETL/models"
	"github.com/LilVoxy/coursework_dwh/ETL/testutil"
	"github.com/LilVoxy/coursework_dwh/ETL/utils"
)

func TestDateFromPath(t *testing.T) {
	date, err := DateFromPath("/data/2024/transactions_01032021.txt")
	require.NoError(t, err)
	assert.True(t, testutil.Date(2021, time.March, 1).Equal(date))

	_, err = DateFromPath("/data/transactions.txt")
	assert.ErrorIs(t, err, ErrNoDateInPath)

	_, err = DateFromPath("/data/transactions_99999999.txt")
	assert.ErrorIs(t, err, ErrNoDateInPath)
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func writeXLSX(t *testing.T, path string, rows ...[]interface{}) {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()
	sheet := f.GetSheetName(0)
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		require.NoError(t, f.SetSheetRow(sheet, cell, &row))
	}
	require.NoError(t, f.SaveAs(path))
}

func newFileExtractor(t *testing.T, dir string) *FileExtractor {
	t.Helper()
	e, err := NewFileExtractor(dir, map[string]string{
		catalog.EntityTransactions: `transactions_\d{8}\.txt`,
		catalog.EntityBlacklist:    `passport_blacklist_`,
		catalog.EntityTerminals:    `terminals_`,
	}, ';', utils.NewNopLogger())
	require.NoError(t, err)
	return e
}

func TestFileExtractorGroupsByDate(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "transactions_02032021.txt"),
		"transaction_id;transaction_date;amount;card_num;oper_type;oper_result;terminal\n"+
			"T2;2021-03-02 10:00:00;1 000,50;1111;PAYMENT;SUCCESS;P1\n")
	writeFile(t, filepath.Join(dir, "nested", "transactions_01032021.txt"),
		"transaction_id;transaction_date;amount;card_num;oper_type;oper_result;terminal\n"+
			"T1;2021-03-01 10:00:00;10;1111;PAYMENT;REJECT;\n")
	writeXLSX(t, filepath.Join(dir, "passport_blacklist_01032021.xlsx"),
		[]interface{}{"date", "passport"},
		[]interface{}{"2021-03-01", "4000 111111"},
	)
	writeFile(t, filepath.Join(dir, "readme_01032021.txt"), "ignored")
	writeFile(t, filepath.Join(dir, "old_transactions_01032021.txt"), "ignored")

	days, err := newFileExtractor(t, dir).Extract()
	require.NoError(t, err)
	require.Len(t, days, 2)

	first := days[0]
	assert.True(t, testutil.Date(2021, time.March, 1).Equal(first.Date))
	assert.Equal(t, []string{catalog.EntityBlacklist, catalog.EntityTransactions}, first.Entities())

	tx := first.Batches[catalog.EntityTransactions]
	require.Equal(t, 1, tx.Len())
	assert.Equal(t, "T1", tx.Rows[0][tx.ColumnIndex("transaction_id")])
	assert.Nil(t, tx.Rows[0][tx.ColumnIndex("terminal")], "пустое значение становится NULL")
	assert.Equal(t, filepath.Join(dir, "nested", "transactions_01032021.txt"), tx.Rows[0][tx.ColumnIndex(models.SourcePathColumn)])
	assert.True(t, first.Date.Equal(tx.BusinessDate))

	bl := first.Batches[catalog.EntityBlacklist]
	require.Equal(t, 1, bl.Len())
	assert.Equal(t, "4000 111111", bl.Rows[0][bl.ColumnIndex("passport")])

	assert.True(t, testutil.Date(2021, time.March, 2).Equal(days[1].Date))
	assert.Equal(t, []string{catalog.EntityTransactions}, days[1].Entities())
}

func TestFileExtractorMergesSameDay(t *testing.T) {
	dir := t.TempDir()
	header := "transaction_id;transaction_date;amount;card_num;oper_type;oper_result;terminal\n"
	writeFile(t, filepath.Join(dir, "a", "transactions_01032021.txt"), header+"T1;2021-03-01 10:00:00;10;1111;PAYMENT;SUCCESS;P1\n")
	writeFile(t, filepath.Join(dir, "b", "transactions_01032021.txt"), header+"T2;2021-03-01 11:00:00;20;1111;PAYMENT;SUCCESS;P1\n")

	days, err := newFileExtractor(t, dir).Extract()
	require.NoError(t, err)
	require.Len(t, days, 1)

	batch := days[0].Batches[catalog.EntityTransactions]
	assert.Equal(t, 2, batch.Len())
	assert.Len(t, batch.SourceFiles, 2)
}

func TestFileExtractorFind(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "terminals_01032021.xlsx"), "")
	writeFile(t, filepath.Join(dir, "transactions_03032021.txt"), "")

	files, err := newFileExtractor(t, dir).Find()
	require.NoError(t, err)
	require.Len(t, files, 2)

	entities := map[string]bool{}
	for _, f := range files {
		entities[f.Entity] = true
	}
	assert.True(t, entities[catalog.EntityTerminals])
	assert.True(t, entities[catalog.EntityTransactions])
}

func TestNewFileExtractorInvalidPattern(t *testing.T) {
	_, err := NewFileExtractor(t.TempDir(), map[string]string{"x": "("}, 0, utils.NewNopLogger())
	assert.Error(t, err)
}

func sourceCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	tables := testutil.Tables()
	tables["src"] = map[string]string{
		catalog.EntityCards:    "info_cards",
		catalog.EntityAccounts: "info_accounts",
	}
	c, err := catalog.New(tables)
	require.NoError(t, err)
	return c
}

func TestBankExtractor(t *testing.T) {
	db, err := sql.Open("sqlite", ":memory:?_time_format=sqlite")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	defer db.Close()

	_, err = db.Exec(`CREATE TABLE info_cards (card_num TEXT, account TEXT, create_dt TIMESTAMP, update_dt TIMESTAMP)`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO info_cards VALUES ('1111', 'A1', ?, NULL), ('2222', 'A2', ?, NULL)`,
		testutil.Date(2021, time.January, 1), testutil.Date(2021, time.January, 2))
	require.NoError(t, err)

	e := NewBankExtractor(db, sourceCatalog(t), utils.NewNopLogger())
	assert.Equal(t, []string{catalog.EntityAccounts, catalog.EntityCards}, e.Entities())

	batch, err := e.Extract(context.Background(), catalog.EntityCards)
	require.NoError(t, err)
	assert.Equal(t, []string{"card_num", "account", "create_dt", "update_dt"}, batch.Columns)
	require.Equal(t, 2, batch.Len())
	assert.Equal(t, "1111", batch.Rows[0][0])
	assert.Nil(t, batch.Rows[0][3])

	_, err = e.Extract(context.Background(), catalog.EntityClients)
	assert.ErrorIs(t, err, catalog.ErrUnknownEntity)
}

func TestBankExtractorConvertsBytes(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(`SELECT \* FROM info_cards`).
		WillReturnRows(sqlmock.NewRows([]string{"card_num", "account"}).AddRow([]byte("1111"), []byte("A1")))

	batch, err := NewBankExtractor(db, sourceCatalog(t), utils.NewNopLogger()).Extract(context.Background(), catalog.EntityCards)
	require.NoError(t, err)
	assert.Equal(t, []interface{}{"1111", "A1"}, batch.Rows[0])
	assert.NoError(t, mock.ExpectationsWereMet())
}
