// Package validation содержит функции валидации входных данных.
package validation

import (
	"time"
	"unicode"

	"github.com/shopspring/decimal"

	"github.com/mmeshcher/cashdrawer/internal/model"
)

// IsValidDayKey проверяет, что ключ дня задан в формате YYYY-MM-DD и является реальной датой.
func IsValidDayKey(dayKey string) bool {
	if len(dayKey) != len(model.DayKeyLayout) {
		return false
	}
	_, err := time.Parse(model.DayKeyLayout, dayKey)
	return err == nil
}

// IsValidClock проверяет строку времени суток формата HH:MM.
func IsValidClock(hhmm string) bool {
	if len(hhmm) != 5 || hhmm[2] != ':' {
		return false
	}

	for i, ch := range hhmm {
		if i == 2 {
			continue
		}
		if !unicode.IsDigit(ch) {
			return false
		}
	}

	hours := int(hhmm[0]-'0')*10 + int(hhmm[1]-'0')
	minutes := int(hhmm[3]-'0')*10 + int(hhmm[4]-'0')

	return hours < 24 && minutes < 60
}

// IsValidAmount проверяет, что денежная сумма неотрицательна и содержит не более двух знаков после запятой.
func IsValidAmount(amount decimal.Decimal) bool {
	if amount.IsNegative() {
		return false
	}
	return amount.Equal(amount.Round(2))
}
