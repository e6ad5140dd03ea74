// Package model содержит доменные сущности движка смен и кассовых сессий.
package model

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// DayKeyLayout задаёт формат ключа операционного дня.
const DayKeyLayout = "2006-01-02"

// NoShift обозначает отсутствие настроенных смен.
const NoShift = "—"

var (
	// ErrSessionNotFound возвращается, если сессия для ключа или идентификатора не найдена.
	ErrSessionNotFound = errors.New("cash drawer session not found")
	// ErrSessionExists возвращается при повторном открытии сессии для того же дня и смены.
	ErrSessionExists = errors.New("cash drawer session already exists")
	// ErrSessionClosed возвращается при попытке закрыть уже закрытую сессию.
	ErrSessionClosed = errors.New("cash drawer session already closed")
)

// ShiftWindow описывает окно смены в формате HH:MM. Start > End означает переход через полночь.
type ShiftWindow struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// ShiftDefinition связывает имя смены с её окном.
type ShiftDefinition struct {
	Name   string      `json:"name"`
	Window ShiftWindow `json:"window"`
}

// ShiftConfig содержит смены в порядке объявления и порядок их ротации.
type ShiftConfig struct {
	Shifts []ShiftDefinition `json:"shifts"`
	Order  []string          `json:"order"`
}

// DrawerKey адресует кассовую сессию парой (день, смена).
type DrawerKey struct {
	DayKey    string `json:"day_key"`
	ShiftName string `json:"shift_name"`
}

// SessionStatus описывает состояние кассовой сессии.
type SessionStatus string

const (
	SessionStatusOpen   SessionStatus = "OPEN"
	SessionStatusClosed SessionStatus = "CLOSED"
)

// Actor описывает пользователя, открывшего или закрывшего кассу.
type Actor struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// CashDrawerSession описывает сессию кассового ящика для пары (день, смена).
type CashDrawerSession struct {
	ID            string           `json:"id"`
	DayKey        string           `json:"day_key"`
	ShiftName     string           `json:"shift_name"`
	Status        SessionStatus    `json:"status"`
	OpeningAmount decimal.Decimal  `json:"opening_amount"`
	OpenedBy      Actor            `json:"opened_by"`
	OpenedAt      *time.Time       `json:"opened_at,omitempty"`
	ClosingAmount *decimal.Decimal `json:"closing_amount,omitempty"`
	ClosedBy      *Actor           `json:"closed_by,omitempty"`
	ClosedAt      *time.Time       `json:"closed_at,omitempty"`
	SalesAmount   *decimal.Decimal `json:"sales_amount,omitempty"`
	Notes         string           `json:"notes,omitempty"`
}

// Key возвращает составной ключ сессии.
func (s CashDrawerSession) Key() DrawerKey {
	return DrawerKey{DayKey: s.DayKey, ShiftName: s.ShiftName}
}

// OpenRequest содержит данные для открытия кассы.
type OpenRequest struct {
	DayKey        string          `json:"day_key"`
	ShiftName     string          `json:"shift_name"`
	OpeningAmount decimal.Decimal `json:"opening_amount"`
	OpenedBy      Actor           `json:"opened_by"`
}

// CloseRequest содержит данные для закрытия кассы.
type CloseRequest struct {
	SessionID     string          `json:"session_id"`
	DayKey        string          `json:"day_key"`
	ShiftName     string          `json:"shift_name"`
	ClosingAmount decimal.Decimal `json:"closing_amount"`
	SalesAmount   decimal.Decimal `json:"sales_amount"`
	Notes         string          `json:"notes,omitempty"`
	ClosedBy      Actor           `json:"closed_by"`
}

// LocalOpenFlag хранит локальную отметку о том, что касса смены открыта.
type LocalOpenFlag struct {
	DayKey    string    `json:"day_key"`
	ShiftName string    `json:"shift_name"`
	Timestamp time.Time `json:"timestamp"`
}

// SuggestedAmount хранит сумму, предлагаемую при открытии следующей смены.
type SuggestedAmount struct {
	DayKey    string          `json:"day_key"`
	ShiftName string          `json:"shift_name"`
	Amount    decimal.Decimal `json:"amount"`
}

// SaleRecord описывает продажу. Записи принадлежат подсистеме продаж.
type SaleRecord struct {
	ID                 string          `json:"id"`
	Timestamp          time.Time       `json:"timestamp"`
	Amount             decimal.Decimal `json:"amount"`
	PaymentMethodLabel string          `json:"payment_method_label"`
	ProductName        string          `json:"product_name"`
}

// PaymentMethod описывает активный способ оплаты из справочника.
type PaymentMethod struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}
