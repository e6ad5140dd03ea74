package repository

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mmeshcher/cashdrawer/internal/model"
)

// DefaultShiftConfig возвращает ротацию León → Lobo → Búho, которой засеваются хранилища.
func DefaultShiftConfig() model.ShiftConfig {
	return model.ShiftConfig{
		Shifts: []model.ShiftDefinition{
			{Name: "León", Window: model.ShiftWindow{Start: "05:00", End: "12:00"}},
			{Name: "Lobo", Window: model.ShiftWindow{Start: "12:00", End: "19:00"}},
			{Name: "Búho", Window: model.ShiftWindow{Start: "19:00", End: "05:00"}},
		},
		Order: []string{"León", "Lobo", "Búho"},
	}
}

// DefaultPaymentMethods возвращает справочник способов оплаты по умолчанию.
func DefaultPaymentMethods() []model.PaymentMethod {
	return []model.PaymentMethod{
		{ID: "credito", Label: "Crédito"},
		{ID: "efectivo", Label: "Efectivo"},
		{ID: "tarjeta", Label: "Tarjeta"},
	}
}

// MemoryRepository хранит данные в памяти процесса. Используется в режиме разработки и в тестах.
type MemoryRepository struct {
	mu       sync.RWMutex
	cfg      model.ShiftConfig
	methods  []model.PaymentMethod
	sessions []model.CashDrawerSession
	sales    []model.SaleRecord
	now      func() time.Time
}

// NewMemoryRepository создаёт репозиторий, засеянный ротацией и способами оплаты по умолчанию.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		cfg:     DefaultShiftConfig(),
		methods: DefaultPaymentMethods(),
		now:     time.Now,
	}
}

// SetShiftConfig заменяет настройку смен.
func (m *MemoryRepository) SetShiftConfig(cfg model.ShiftConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cfg = cfg
}

// SetClock подменяет источник времени открытия и закрытия.
func (m *MemoryRepository) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

// GetSession возвращает сессию для пары (день, смена).
func (m *MemoryRepository) GetSession(_ context.Context, dayKey, shiftName string) (*model.CashDrawerSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	i := m.indexByKey(dayKey, shiftName)
	if i < 0 {
		return nil, model.ErrSessionNotFound
	}
	s := m.sessions[i]
	return &s, nil
}

// OpenSession создаёт открытую сессию.
func (m *MemoryRepository) OpenSession(_ context.Context, req model.OpenRequest) (*model.CashDrawerSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.indexByKey(req.DayKey, req.ShiftName) >= 0 {
		return nil, fmt.Errorf("%w: %s %s", model.ErrSessionExists, req.DayKey, req.ShiftName)
	}

	at := m.now()
	s := model.CashDrawerSession{
		ID:            uuid.NewString(),
		DayKey:        req.DayKey,
		ShiftName:     req.ShiftName,
		Status:        model.SessionStatusOpen,
		OpeningAmount: req.OpeningAmount,
		OpenedBy:      req.OpenedBy,
		OpenedAt:      &at,
	}
	m.sessions = append(m.sessions, s)

	return &s, nil
}

// CloseSession закрывает сессию по идентификатору.
func (m *MemoryRepository) CloseSession(_ context.Context, req model.CloseRequest) (*model.CashDrawerSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	i := slices.IndexFunc(m.sessions, func(s model.CashDrawerSession) bool { return s.ID == req.SessionID })
	if i < 0 {
		return nil, fmt.Errorf("%w: %s", model.ErrSessionNotFound, req.SessionID)
	}

	s := &m.sessions[i]
	if s.Status == model.SessionStatusClosed {
		return nil, fmt.Errorf("%w: %s", model.ErrSessionClosed, req.SessionID)
	}

	at := m.now()
	closing, salesAmount, by := req.ClosingAmount, req.SalesAmount, req.ClosedBy
	s.Status = model.SessionStatusClosed
	s.ClosingAmount = &closing
	s.SalesAmount = &salesAmount
	s.ClosedBy = &by
	s.ClosedAt = &at
	s.Notes = req.Notes

	closed := *s
	return &closed, nil
}

// GetDayHistory возвращает все сессии дня в порядке открытия.
func (m *MemoryRepository) GetDayHistory(_ context.Context, dayKey string) ([]model.CashDrawerSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var res []model.CashDrawerSession
	for _, s := range m.sessions {
		if s.DayKey == dayKey {
			res = append(res, s)
		}
	}
	return res, nil
}

// GetShiftConfig возвращает настройку смен.
func (m *MemoryRepository) GetShiftConfig(context.Context) (model.ShiftConfig, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return model.ShiftConfig{
		Shifts: slices.Clone(m.cfg.Shifts),
		Order:  slices.Clone(m.cfg.Order),
	}, nil
}

// GetRecentSales возвращает последние limit продаж, начиная с самой новой.
func (m *MemoryRepository) GetRecentSales(_ context.Context, limit int) ([]model.SaleRecord, error) {
	m.mu.RLock()
	res := slices.Clone(m.sales)
	m.mu.RUnlock()

	slices.SortStableFunc(res, func(a, b model.SaleRecord) int { return b.Timestamp.Compare(a.Timestamp) })
	if limit > 0 && len(res) > limit {
		res = res[:limit]
	}
	return res, nil
}

// GetActivePaymentMethods возвращает активные способы оплаты.
func (m *MemoryRepository) GetActivePaymentMethods(context.Context) ([]model.PaymentMethod, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.methods), nil
}

// addSale сохраняет продажу.
func (m *MemoryRepository) addSale(_ context.Context, s model.SaleRecord) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.sales = append(m.sales, s)
	return nil
}

func (m *MemoryRepository) indexByKey(dayKey, shiftName string) int {
	return slices.IndexFunc(m.sessions, func(s model.CashDrawerSession) bool {
		return s.DayKey == dayKey && s.ShiftName == shiftName
	})
}
