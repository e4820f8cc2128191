package fraud

import (
	"database/sql"
	"strings"
	"time"

	"github.com/LilVoxy/coursework_dwh/ETL/models"
)

// Типы событий отчёта о мошенничестве
const (
	EventBlacklistedPassport = "Заблокированный или просроченный паспорт"
	EventInvalidContract     = "Недействующий договор"
	EventCrossCity           = "Операции в разных городах за короткое время"
	EventAmountGuessing      = "Попытка подбора суммы"
)

// Результаты операций
const (
	OperSuccess = "SUCCESS"
	OperReject  = "REJECT"
)

// Client данные клиента, попадающие в событие
type Client struct {
	Passport   sql.NullString
	LastName   sql.NullString
	FirstName  sql.NullString
	Patronymic sql.NullString
	Phone      sql.NullString
}

// FIO возвращает "Фамилия Имя Отчество"; отсутствующие части дают пустую строку
func (c Client) FIO() string {
	return strings.Join([]string{c.LastName.String, c.FirstName.String, c.Patronymic.String}, " ")
}

// Known сообщает, удалось ли найти активного клиента
func (c Client) Known() bool {
	return c.Passport.Valid
}

func (c Client) event(at time.Time) models.FraudEvent {
	return models.FraudEvent{
		EventDt:  at,
		Passport: c.Passport.String,
		FIO:      c.FIO(),
		Phone:    c.Phone.String,
	}
}

// Notifier получает события сразу после их записи в отчёт
type Notifier interface {
	Publish(events []models.FraudEvent)
}
