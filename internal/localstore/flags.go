package localstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/cashdrawer/internal/model"
	"github.com/mmeshcher/cashdrawer/internal/shift"
)

const (
	openFlagPrefix  = "drawer:open:"
	suggestedPrefix = "drawer:suggested:"
	currentKey      = "drawer:current"
)

// FlagStore хранит локальный кэш признаков открытой кассы и предлагаемых сумм.
// Он не заменяет запись удалённого хранилища, а лишь переживает сбои чтения из него.
//
// Составные записи выполняются под мьютексом: указатель текущей открытой смены
// выставляется только после флага и снимается раньше него.
type FlagStore struct {
	mu     sync.Mutex
	store  Store
	logger *zap.Logger
}

// NewFlagStore создаёт кэш флагов поверх произвольного key/value-хранилища.
func NewFlagStore(store Store, logger *zap.Logger) *FlagStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FlagStore{store: store, logger: logger}
}

// Store возвращает нижележащее хранилище.
func (f *FlagStore) Store() Store {
	return f.store
}

func flagKey(key model.DrawerKey) string {
	return openFlagPrefix + key.DayKey + ":" + shift.Slug(key.ShiftName)
}

func suggestionKey(key model.DrawerKey) string {
	return suggestedPrefix + key.DayKey + ":" + shift.Slug(key.ShiftName)
}

// MarkOpen записывает флаг открытой кассы и переводит на него указатель текущей смены.
func (f *FlagStore) MarkOpen(ctx context.Context, key model.DrawerKey, ts time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.markOpen(ctx, key, ts)
}

func (f *FlagStore) markOpen(ctx context.Context, key model.DrawerKey, ts time.Time) error {
	flag := model.LocalOpenFlag{DayKey: key.DayKey, ShiftName: key.ShiftName, Timestamp: ts}
	if err := f.putJSON(ctx, flagKey(key), flag); err != nil {
		return fmt.Errorf("write open flag: %w", err)
	}
	if err := f.putJSON(ctx, currentKey, key); err != nil {
		return fmt.Errorf("write current pointer: %w", err)
	}
	return nil
}

// Clear снимает указатель, если он указывает на key, и удаляет флаг key.
func (f *FlagStore) Clear(ctx context.Context, key model.DrawerKey) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.clear(ctx, key)
}

func (f *FlagStore) clear(ctx context.Context, key model.DrawerKey) error {
	current, ok := f.pointer(ctx)
	if ok && sameKey(current, key) {
		if err := f.store.Remove(ctx, currentKey); err != nil {
			return fmt.Errorf("remove current pointer: %w", err)
		}
	}
	if err := f.store.Remove(ctx, flagKey(key)); err != nil {
		return fmt.Errorf("remove open flag: %w", err)
	}
	return nil
}

// Flag возвращает флаг открытой кассы для key. Повреждённые данные считаются отсутствующими.
func (f *FlagStore) Flag(ctx context.Context, key model.DrawerKey) (model.LocalOpenFlag, bool) {
	var flag model.LocalOpenFlag
	if !f.getJSON(ctx, flagKey(key), &flag) {
		return model.LocalOpenFlag{}, false
	}
	return flag, true
}

// IsOpen сообщает, есть ли локальный флаг открытой кассы для key.
func (f *FlagStore) IsOpen(ctx context.Context, key model.DrawerKey) bool {
	_, ok := f.Flag(ctx, key)
	return ok
}

// Current возвращает смену, считающуюся открытой для интерфейса.
// Указатель без соответствующего флага игнорируется.
func (f *FlagStore) Current(ctx context.Context) (model.DrawerKey, bool) {
	key, ok := f.pointer(ctx)
	if !ok {
		return model.DrawerKey{}, false
	}
	if !f.IsOpen(ctx, key) {
		return model.DrawerKey{}, false
	}
	return key, true
}

func (f *FlagStore) pointer(ctx context.Context) (model.DrawerKey, bool) {
	var key model.DrawerKey
	if !f.getJSON(ctx, currentKey, &key) || key.DayKey == "" || key.ShiftName == "" {
		return model.DrawerKey{}, false
	}
	return key, true
}

// OpenKeys возвращает ключи смен дня dayKey, для которых выставлен флаг.
func (f *FlagStore) OpenKeys(ctx context.Context, dayKey string, names []string) []model.DrawerKey {
	var keys []model.DrawerKey
	for _, name := range names {
		key := model.DrawerKey{DayKey: dayKey, ShiftName: name}
		if f.IsOpen(ctx, key) {
			keys = append(keys, key)
		}
	}
	return keys
}

// Replace переписывает флаги дня dayKey так, чтобы открытой осталась только смена open
// (или ни одной, если open == nil).
func (f *FlagStore) Replace(ctx context.Context, dayKey string, names []string, open *model.DrawerKey, ts time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if current, ok := f.pointer(ctx); ok && current.DayKey == dayKey && (open == nil || !sameKey(current, *open)) {
		if err := f.store.Remove(ctx, currentKey); err != nil {
			return fmt.Errorf("remove current pointer: %w", err)
		}
	}

	for _, name := range names {
		key := model.DrawerKey{DayKey: dayKey, ShiftName: name}
		if open != nil && sameKey(key, *open) {
			continue
		}
		if err := f.clear(ctx, key); err != nil {
			return err
		}
	}

	if open == nil {
		return nil
	}

	if flag, ok := f.Flag(ctx, *open); ok {
		ts = flag.Timestamp
	}
	return f.markOpen(ctx, *open, ts)
}

// SetSuggested сохраняет сумму, предлагаемую при открытии смены.
func (f *FlagStore) SetSuggested(ctx context.Context, s model.SuggestedAmount) error {
	key := model.DrawerKey{DayKey: s.DayKey, ShiftName: s.ShiftName}
	if err := f.putJSON(ctx, suggestionKey(key), s); err != nil {
		return fmt.Errorf("write suggested amount: %w", err)
	}
	return nil
}

// Suggested возвращает предлагаемую сумму открытия для key.
func (f *FlagStore) Suggested(ctx context.Context, key model.DrawerKey) (decimal.Decimal, bool) {
	var s model.SuggestedAmount
	if !f.getJSON(ctx, suggestionKey(key), &s) {
		return decimal.Zero, false
	}
	return s.Amount, true
}

func (f *FlagStore) putJSON(ctx context.Context, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	return f.store.Set(ctx, key, string(raw))
}

func (f *FlagStore) getJSON(ctx context.Context, key string, dst any) bool {
	raw, ok, err := f.store.Get(ctx, key)
	if err != nil {
		f.logger.Warn("local store read failed", zap.String("key", key), zap.Error(err))
		return false
	}
	if !ok {
		return false
	}
	if err := json.Unmarshal([]byte(raw), dst); err != nil {
		f.logger.Debug("malformed local store value ignored", zap.String("key", key), zap.Error(err))
		return false
	}
	return true
}

func sameKey(a, b model.DrawerKey) bool {
	return a.DayKey == b.DayKey && shift.Slug(a.ShiftName) == shift.Slug(b.ShiftName)
}
