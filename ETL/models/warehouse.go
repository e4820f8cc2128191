package models

import (
	"time"
)

// Граничные даты версий измерений
var (
	// MaxDate effective_to активной версии
	MaxDate = time.Date(3000, 1, 1, 0, 0, 0, 0, time.UTC)
	// MinDate effective_from/effective_to, если в staging нет даты изменения
	MinDate = time.Date(1800, 1, 1, 0, 0, 0, 0, time.UTC)
)

// Служебные колонки версионного измерения
const (
	EffectiveFromColumn = "effective_from"
	EffectiveToColumn   = "effective_to"
	DeletedFlagColumn   = "deleted_flg"
)

// DimensionVersion представляет одну версию строки измерения
type DimensionVersion struct {
	Key           string                 `json:"key"`
	Attributes    map[string]interface{} `json:"attributes"`
	EffectiveFrom time.Time              `json:"effective_from"`
	EffectiveTo   time.Time              `json:"effective_to"`
	Deleted       bool                   `json:"deleted_flg"`
}

// IsActive сообщает, является ли версия текущей
func (v DimensionVersion) IsActive() bool {
	return !v.Deleted
}

// Watermark отметка последней обработанной бизнес-даты staging-таблицы
type Watermark struct {
	TableName   string    `json:"table_name"`
	MaxUpdateDt time.Time `json:"max_update_dt"`
}

// FraudEvent запись отчёта о подозрительной операции
type FraudEvent struct {
	EventDt   time.Time `json:"event_dt"`
	Passport  string    `json:"passport"`
	FIO       string    `json:"fio"`
	Phone     string    `json:"phone"`
	EventType string    `json:"event_type"`
	ReportDt  time.Time `json:"report_dt"`
}
