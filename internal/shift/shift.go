// Package shift вычисляет активную смену, границы её окна и порядок ротации.
package shift

import (
	"errors"
	"fmt"
	"time"

	"github.com/mmeshcher/cashdrawer/internal/model"
	"github.com/mmeshcher/cashdrawer/internal/validation"
)

// ErrInvalidConfig возвращается, если конфигурация смен не прошла проверку формы.
var ErrInvalidConfig = errors.New("invalid shift config")

const minutesPerDay = 24 * 60

type window struct {
	name  string
	start int
	end   int
}

func (w window) crossesMidnight() bool {
	return w.start > w.end
}

// Config содержит проверенную конфигурацию смен. Строится один раз и далее только читается.
// Нулевое значение и nil означают отсутствие смен: действует окно «весь день».
type Config struct {
	windows []window
	index   map[string]int
	slugs   map[string]string
	order   []string
}

// ToMinutes переводит время HH:MM в минуты от полуночи.
func ToMinutes(hhmm string) (int, error) {
	if !validation.IsValidClock(hhmm) {
		return 0, fmt.Errorf("%w: bad clock %q", ErrInvalidConfig, hhmm)
	}
	hours := int(hhmm[0]-'0')*10 + int(hhmm[1]-'0')
	minutes := int(hhmm[3]-'0')*10 + int(hhmm[4]-'0')
	return hours*60 + minutes, nil
}

// InRange сообщает, попадает ли минута t в окно [s, e). При s > e окно переходит через полночь.
func InRange(t, s, e int) bool {
	if s <= e {
		return t >= s && t < e
	}
	return t >= s || t < e
}

// NextShift возвращает следующую смену по кругу в order.
func NextShift(current string, order []string) string {
	if len(order) == 0 {
		return current
	}
	for i, name := range order {
		if name == current {
			return order[(i+1)%len(order)]
		}
	}
	return order[0]
}

// NewConfig проверяет форму конфигурации и строит по ней Config.
// Пересечения окон не проверяются: при поиске побеждает первое подходящее окно.
func NewConfig(raw model.ShiftConfig) (*Config, error) {
	c := &Config{
		windows: make([]window, 0, len(raw.Shifts)),
		index:   make(map[string]int, len(raw.Shifts)),
		slugs:   make(map[string]string, len(raw.Shifts)),
	}

	for _, def := range raw.Shifts {
		if def.Name == "" || def.Name == model.NoShift {
			return nil, fmt.Errorf("%w: empty shift name", ErrInvalidConfig)
		}
		if _, dup := c.index[def.Name]; dup {
			return nil, fmt.Errorf("%w: duplicate shift %q", ErrInvalidConfig, def.Name)
		}

		start, err := ToMinutes(def.Window.Start)
		if err != nil {
			return nil, fmt.Errorf("shift %q start: %w", def.Name, err)
		}
		end, err := ToMinutes(def.Window.End)
		if err != nil {
			return nil, fmt.Errorf("shift %q end: %w", def.Name, err)
		}
		if start == end {
			return nil, fmt.Errorf("%w: shift %q has an empty window", ErrInvalidConfig, def.Name)
		}

		c.index[def.Name] = len(c.windows)
		c.windows = append(c.windows, window{name: def.Name, start: start, end: end})

		slug := Slug(def.Name)
		if _, taken := c.slugs[slug]; !taken {
			c.slugs[slug] = def.Name
		}
	}

	order := raw.Order
	if len(order) == 0 {
		order = make([]string, 0, len(c.windows))
		for _, w := range c.windows {
			order = append(order, w.name)
		}
	}

	seen := make(map[string]struct{}, len(order))
	for _, name := range order {
		if _, ok := c.index[name]; !ok {
			return nil, fmt.Errorf("%w: order references unknown shift %q", ErrInvalidConfig, name)
		}
		if _, dup := seen[name]; dup {
			return nil, fmt.Errorf("%w: shift %q repeats in order", ErrInvalidConfig, name)
		}
		seen[name] = struct{}{}
	}
	c.order = append([]string(nil), order...)

	return c, nil
}

// IsEmpty сообщает, что смены не настроены.
func (c *Config) IsEmpty() bool {
	return c == nil || len(c.windows) == 0
}

// Names возвращает имена смен в порядке объявления.
func (c *Config) Names() []string {
	if c.IsEmpty() {
		return nil
	}
	names := make([]string, 0, len(c.windows))
	for _, w := range c.windows {
		names = append(names, w.name)
	}
	return names
}

// Order возвращает порядок ротации смен.
func (c *Config) Order() []string {
	if c.IsEmpty() {
		return nil
	}
	return append([]string(nil), c.order...)
}

// Has сообщает, настроена ли смена с таким именем.
func (c *Config) Has(name string) bool {
	if c.IsEmpty() {
		return false
	}
	_, ok := c.index[name]
	return ok
}

// Lookup находит настроенное имя смены без учёта регистра и диакритики.
func (c *Config) Lookup(raw string) (string, bool) {
	if c.IsEmpty() {
		return "", false
	}
	if _, ok := c.index[raw]; ok {
		return raw, true
	}
	name, ok := c.slugs[Slug(raw)]
	return name, ok
}

// First возвращает первую смену ротации или NoShift.
func (c *Config) First() string {
	if c.IsEmpty() || len(c.order) == 0 {
		return model.NoShift
	}
	return c.order[0]
}

// Next возвращает смену, следующую за current в порядке ротации.
func (c *Config) Next(current string) string {
	if c.IsEmpty() {
		return current
	}
	return NextShift(current, c.order)
}

// ResolveName возвращает смену, окно которой содержит now.
// Если ни одно окно не подходит, возвращается первая объявленная смена, а без смен NoShift.
func (c *Config) ResolveName(now time.Time) string {
	if c.IsEmpty() {
		return model.NoShift
	}

	t := minuteOfDay(now)
	for _, w := range c.windows {
		if InRange(t, w.start, w.end) {
			return w.name
		}
	}

	return c.windows[0].name
}

// Range возвращает конкретные границы [from, to) окна смены name, содержащего now.
// Для неизвестной смены возвращается весь текущий календарный день.
func (c *Config) Range(name string, now time.Time) (time.Time, time.Time) {
	y, m, d := now.Date()
	loc := now.Location()

	if c.IsEmpty() {
		return wholeDay(y, m, d, loc)
	}
	i, ok := c.index[name]
	if !ok {
		return wholeDay(y, m, d, loc)
	}
	w := c.windows[i]

	from := at(y, m, d, w.start, loc)
	to := at(y, m, d, w.end, loc)

	if w.crossesMidnight() {
		if minuteOfDay(now) < w.end {
			from = at(y, m, d-1, w.start, loc)
		} else {
			to = at(y, m, d+1, w.end, loc)
		}
	}

	return from, to
}

// Contains сообщает, попадает ли момент ts в окно смены name, привязанное к дню самого ts.
func (c *Config) Contains(name string, ts time.Time) bool {
	from, to := c.Range(name, ts)
	return !ts.Before(from) && ts.Before(to)
}

// ShiftDay возвращает ключ дня, в который началось окно смены name, содержащее now.
// Ночная смена после полуночи относится к предыдущему календарному дню.
func (c *Config) ShiftDay(name string, now time.Time) string {
	from, _ := c.Range(name, now)
	return from.Format(model.DayKeyLayout)
}

// Window возвращает окно смены в исходном виде.
func (c *Config) Window(name string) (model.ShiftWindow, bool) {
	if c.IsEmpty() {
		return model.ShiftWindow{}, false
	}
	i, ok := c.index[name]
	if !ok {
		return model.ShiftWindow{}, false
	}
	w := c.windows[i]
	return model.ShiftWindow{Start: formatClock(w.start), End: formatClock(w.end)}, true
}

// AddDays сдвигает ключ дня на n календарных дней.
func AddDays(dayKey string, n int) (string, error) {
	day, err := time.Parse(model.DayKeyLayout, dayKey)
	if err != nil {
		return "", fmt.Errorf("parse day key: %w", err)
	}
	return day.AddDate(0, 0, n).Format(model.DayKeyLayout), nil
}

func minuteOfDay(t time.Time) int {
	return t.Hour()*60 + t.Minute()
}

func at(y int, m time.Month, d, minutes int, loc *time.Location) time.Time {
	return time.Date(y, m, d, minutes/60, minutes%60, 0, 0, loc)
}

func wholeDay(y int, m time.Month, d int, loc *time.Location) (time.Time, time.Time) {
	return time.Date(y, m, d, 0, 0, 0, 0, loc),
		time.Date(y, m, d, 23, 59, 59, int(999*time.Millisecond), loc)
}

func formatClock(minutes int) string {
	minutes %= minutesPerDay
	return fmt.Sprintf("%02d:%02d", minutes/60, minutes%60)
}
