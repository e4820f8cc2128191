package transform

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/LilVoxy/coursework_dwh/ETL/extractors"
	"github.com/LilVoxy/coursework_dwh/ETL/models"
	"github.com/LilVoxy/coursework_dwh/ETL/utils"
)

// ErrMissingColumn возвращается, если для вычисляемой колонки нет исходной
var ErrMissingColumn = errors.New("отсутствует обязательная колонка")

// DateColumn вычисляемая колонка с датой из пути файла
const DateColumn = "date"

var nonNumeric = regexp.MustCompile(`[^\d.]`)

// Preprocessor готовит пакеты файлов к загрузке в staging по правилам сущностей
type Preprocessor struct {
	rules  map[string]models.PreprocessRule
	logger *utils.ETLLogger
}

// NewPreprocessor создает новый экземпляр Preprocessor
func NewPreprocessor(rules map[string]models.PreprocessRule, logger *utils.ETLLogger) *Preprocessor {
	return &Preprocessor{
		rules:  rules,
		logger: logger,
	}
}

// Apply изменяет пакет на месте: чистит числовые колонки, добавляет
// вычисляемые и удаляет лишние. Сущности без правил не меняются.
func (p *Preprocessor) Apply(batch *models.Batch) error {
	rule, ok := p.rules[batch.Entity]
	if !ok {
		return nil
	}

	for _, col := range rule.NumericColumns {
		idx := batch.ColumnIndex(col)
		if idx < 0 {
			continue
		}
		for _, row := range batch.Rows {
			row[idx] = CleanNumeric(row[idx])
		}
	}

	for _, col := range rule.AddColumns {
		if err := p.addColumn(batch, col); err != nil {
			return err
		}
	}

	for _, col := range rule.RemoveColumns {
		batch.DropColumn(col)
	}

	p.logger.Debug("Пакет %s подготовлен: колонки %v", batch.Entity, batch.Columns)
	return nil
}

// ApplyAll подготавливает все пакеты дня
func (p *Preprocessor) ApplyAll(day extractors.DailyBatches) error {
	for _, entity := range day.Entities() {
		if err := p.Apply(day.Batches[entity]); err != nil {
			return fmt.Errorf("подготовка %s за %s: %w", entity, day.Date.Format("2006-01-02"), err)
		}
	}
	return nil
}

func (p *Preprocessor) addColumn(batch *models.Batch, col string) error {
	switch col {
	case DateColumn:
		src := batch.ColumnIndex(models.SourcePathColumn)
		if src < 0 {
			return fmt.Errorf("%w: %s нужна для колонки %s", ErrMissingColumn, models.SourcePathColumn, DateColumn)
		}

		dates := make([]interface{}, len(batch.Rows))
		for i, row := range batch.Rows {
			path, _ := row[src].(string)
			date, err := extractors.DateFromPath(path)
			if err != nil {
				return err
			}
			dates[i] = date
		}

		batch.DropColumn(DateColumn)
		i := 0
		batch.AddColumn(DateColumn, func([]interface{}) interface{} {
			v := dates[i]
			i++
			return v
		})
		return nil
	default:
		p.logger.Warn("Неизвестная вычисляемая колонка %q для %s, пропускаем", col, batch.Entity)
		return nil
	}
}

// CleanNumeric приводит значение к виду "123.45": запятая заменяется точкой,
// остальные символы кроме цифр и точки удаляются. NULL остаётся NULL.
func CleanNumeric(v interface{}) interface{} {
	if v == nil {
		return nil
	}
	s := strings.ReplaceAll(fmt.Sprint(v), ",", ".")
	return nonNumeric.ReplaceAllString(s, "")
}
