package models

import (
	"time"
)

// SourcePathColumn колонка происхождения, добавляемая к каждой строке файла
const SourcePathColumn = "source_path"

// Batch представляет пакет строк одной логической сущности за одну бизнес-дату
type Batch struct {
	Entity       string
	BusinessDate time.Time
	Columns      []string
	Rows         [][]interface{}
	SourceFiles  []string
}

// NewBatch создает пустой пакет с заданными колонками
func NewBatch(entity string, columns []string) *Batch {
	cols := make([]string, len(columns))
	copy(cols, columns)
	return &Batch{
		Entity:  entity,
		Columns: cols,
	}
}

// Len возвращает количество строк
func (b *Batch) Len() int {
	if b == nil {
		return 0
	}
	return len(b.Rows)
}

// ColumnIndex возвращает позицию колонки или -1
func (b *Batch) ColumnIndex(name string) int {
	for i, col := range b.Columns {
		if col == name {
			return i
		}
	}
	return -1
}

// AddRow добавляет строку; длина должна совпадать с числом колонок
func (b *Batch) AddRow(values ...interface{}) {
	row := make([]interface{}, len(b.Columns))
	copy(row, values)
	b.Rows = append(b.Rows, row)
}

// AddColumn добавляет колонку, вычисляя значение для каждой строки
func (b *Batch) AddColumn(name string, value func(row []interface{}) interface{}) {
	b.Columns = append(b.Columns, name)
	for i, row := range b.Rows {
		b.Rows[i] = append(row, value(row))
	}
}

// DropColumn удаляет колонку, если она есть
func (b *Batch) DropColumn(name string) {
	idx := b.ColumnIndex(name)
	if idx < 0 {
		return
	}
	b.Columns = append(b.Columns[:idx:idx], b.Columns[idx+1:]...)
	for i, row := range b.Rows {
		b.Rows[i] = append(row[:idx:idx], row[idx+1:]...)
	}
}

// Append добавляет строки другого пакета, выравнивая колонки по имени.
// Отсутствующие значения становятся NULL.
func (b *Batch) Append(other *Batch) {
	for _, col := range other.Columns {
		if b.ColumnIndex(col) < 0 {
			b.AddColumn(col, func([]interface{}) interface{} { return nil })
		}
	}

	positions := make([]int, len(other.Columns))
	for i, col := range other.Columns {
		positions[i] = b.ColumnIndex(col)
	}

	for _, src := range other.Rows {
		row := make([]interface{}, len(b.Columns))
		for i, pos := range positions {
			if i < len(src) {
				row[pos] = src[i]
			}
		}
		b.Rows = append(b.Rows, row)
	}

	b.SourceFiles = append(b.SourceFiles, other.SourceFiles...)
	if b.BusinessDate.IsZero() {
		b.BusinessDate = other.BusinessDate
	}
}
