package models

import (
	"errors"
	"fmt"
	"sort"

	"github.com/LilVoxy/coursework_dwh/ETL/dialect"
)

// ColumnPair связывает колонку staging с колонкой целевой таблицы
type ColumnPair struct {
	Source string
	Target string
}

// SCD2Rule описывает синхронизацию одного измерения
type SCD2Rule struct {
	// Mapping: колонка staging -> колонка измерения
	Mapping map[string]string `mapstructure:"mapping"`
	// DateColumn колонка staging с датой изменения (может отсутствовать)
	DateColumn string `mapstructure:"date_col"`
	// StagingKey бизнес-ключ в staging
	StagingKey string `mapstructure:"stg_pk"`
	// DimensionKey бизнес-ключ в измерении
	DimensionKey string `mapstructure:"dim_pk"`
}

// Pairs возвращает отображение колонок в детерминированном порядке
func (r SCD2Rule) Pairs() []ColumnPair {
	return sortedPairs(r.Mapping)
}

// Validate проверяет правило и все идентификаторы в нём
func (r SCD2Rule) Validate() error {
	if len(r.Mapping) == 0 {
		return errors.New("пустое отображение колонок")
	}
	if r.StagingKey == "" || r.DimensionKey == "" {
		return errors.New("не задан бизнес-ключ (stg_pk/dim_pk)")
	}
	if err := dialect.ValidateIdentifiers(r.StagingKey, r.DimensionKey); err != nil {
		return err
	}
	if r.DateColumn != "" {
		if err := dialect.ValidateIdentifier(r.DateColumn); err != nil {
			return err
		}
	}
	return validatePairs(r.Pairs())
}

// FactMapping описывает перенос staging-таблицы в таблицу фактов
type FactMapping struct {
	// Columns: колонка staging -> колонка факта
	Columns map[string]string
	// KeyColumns колонки staging, по которым ищется дубликат.
	// Пустой список означает сравнение по всем колонкам отображения.
	KeyColumns []string
}

// Pairs возвращает отображение колонок в детерминированном порядке
func (m FactMapping) Pairs() []ColumnPair {
	return sortedPairs(m.Columns)
}

// MatchPairs возвращает пары колонок, по которым проверяется существование факта
func (m FactMapping) MatchPairs() ([]ColumnPair, error) {
	if len(m.KeyColumns) == 0 {
		return m.Pairs(), nil
	}

	pairs := make([]ColumnPair, 0, len(m.KeyColumns))
	for _, key := range m.KeyColumns {
		target, ok := m.Columns[key]
		if !ok {
			return nil, fmt.Errorf("ключевая колонка %q отсутствует в отображении", key)
		}
		pairs = append(pairs, ColumnPair{Source: key, Target: target})
	}
	return pairs, nil
}

// Validate проверяет отображение и все идентификаторы в нём
func (m FactMapping) Validate() error {
	if len(m.Columns) == 0 {
		return errors.New("пустое отображение колонок")
	}
	if err := validatePairs(m.Pairs()); err != nil {
		return err
	}
	_, err := m.MatchPairs()
	return err
}

func sortedPairs(mapping map[string]string) []ColumnPair {
	pairs := make([]ColumnPair, 0, len(mapping))
	for src, dst := range mapping {
		pairs = append(pairs, ColumnPair{Source: src, Target: dst})
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].Source < pairs[j].Source })
	return pairs
}

func validatePairs(pairs []ColumnPair) error {
	for _, p := range pairs {
		if err := dialect.ValidateIdentifiers(p.Source, p.Target); err != nil {
			return err
		}
	}
	return nil
}

// PreprocessRule описывает очистку пакета сущности перед загрузкой в staging
type PreprocessRule struct {
	// NumericColumns колонки, приводимые к виду "123.45"
	NumericColumns []string `mapstructure:"numeric_cols"`
	// AddColumns вычисляемые колонки; поддерживается "date"
	AddColumns []string `mapstructure:"add_cols"`
	// RemoveColumns колонки, удаляемые из пакета
	RemoveColumns []string `mapstructure:"rm_cols"`
}
