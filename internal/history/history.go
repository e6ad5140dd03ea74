// Package history превращает записи кассовых сессий в упорядоченную ленту событий открытия и закрытия.
package history

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mmeshcher/cashdrawer/internal/model"
	"github.com/mmeshcher/cashdrawer/internal/shift"
)

// EventKind описывает тип события кассы.
type EventKind string

const (
	EventOpen  EventKind = "open"
	EventClose EventKind = "close"
)

// Event описывает событие открытия или закрытия кассы.
type Event struct {
	Kind        EventKind        `json:"kind"`
	SessionID   string           `json:"session_id"`
	DayKey      string           `json:"day_key"`
	ShiftName   string           `json:"shift_name"`
	Actor       string           `json:"actor"`
	Amount      decimal.Decimal  `json:"amount"`
	SalesAmount *decimal.Decimal `json:"sales_amount,omitempty"`
	At          time.Time        `json:"at"`
}

// Key возвращает ключ сессии события.
func (e Event) Key() model.DrawerKey {
	return model.DrawerKey{DayKey: e.DayKey, ShiftName: e.ShiftName}
}

// Events строит события по сессиям и сортирует их от новых к старым.
// При равном времени закрытие идёт раньше открытия.
func Events(sessions []model.CashDrawerSession, cfg *shift.Config) []Event {
	events := make([]Event, 0, 2*len(sessions))

	for _, s := range sessions {
		label := normalizeLabel(s.ShiftName, cfg)

		if s.OpenedAt != nil {
			events = append(events, Event{
				Kind:      EventOpen,
				SessionID: s.ID,
				DayKey:    s.DayKey,
				ShiftName: label,
				Actor:     actorName(s.OpenedBy),
				Amount:    s.OpeningAmount,
				At:        *s.OpenedAt,
			})
		}

		if s.ClosedAt != nil {
			e := Event{
				Kind:        EventClose,
				SessionID:   s.ID,
				DayKey:      s.DayKey,
				ShiftName:   label,
				SalesAmount: s.SalesAmount,
				At:          *s.ClosedAt,
			}
			if s.ClosedBy != nil {
				e.Actor = actorName(*s.ClosedBy)
			} else {
				e.Actor = actorName(s.OpenedBy)
			}
			switch {
			case s.ClosingAmount != nil:
				e.Amount = *s.ClosingAmount
			case s.SalesAmount != nil:
				e.Amount = *s.SalesAmount
			}
			events = append(events, e)
		}
	}

	slices.SortStableFunc(events, compare)

	return events
}

// LastEvent возвращает хронологически последнее событие.
func LastEvent(events []Event) (Event, bool) {
	if len(events) == 0 {
		return Event{}, false
	}
	return events[0], true
}

// OpenAtLatest возвращает открытие среди событий с самым поздним временем, если соответствующая
// сессия не закрыта в тот же момент. Так передача смены в одну секунду читается как открытая касса.
// events должны быть отсортированы функцией Events.
func OpenAtLatest(events []Event) (Event, bool) {
	if len(events) == 0 {
		return Event{}, false
	}

	latest := events[0].At
	closed := make(map[model.DrawerKey]bool)
	var open []Event
	for _, e := range events {
		if !e.At.Equal(latest) {
			break
		}
		if e.Kind == EventClose {
			closed[e.Key()] = true
		} else {
			open = append(open, e)
		}
	}

	for _, e := range open {
		if !closed[e.Key()] {
			return e, true
		}
	}
	return Event{}, false
}

func compare(a, b Event) int {
	if c := b.At.Compare(a.At); c != 0 {
		return c
	}
	if a.Kind == b.Kind {
		return 0
	}
	if a.Kind == EventClose {
		return -1
	}
	return 1
}

func normalizeLabel(raw string, cfg *shift.Config) string {
	if name, ok := cfg.Lookup(raw); ok {
		return name
	}
	return strings.TrimSpace(raw)
}

func actorName(a model.Actor) string {
	if name := strings.TrimSpace(a.Name); name != "" {
		return name
	}
	return fmt.Sprintf("Usuario %s", a.ID)
}
