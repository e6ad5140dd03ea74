// Package session управляет жизненным циклом кассовых сессий и сверяет удалённое хранилище с локальными флагами.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/cashdrawer/internal/history"
	"github.com/mmeshcher/cashdrawer/internal/localstore"
	"github.com/mmeshcher/cashdrawer/internal/metrics"
	"github.com/mmeshcher/cashdrawer/internal/model"
	"github.com/mmeshcher/cashdrawer/internal/sales"
	"github.com/mmeshcher/cashdrawer/internal/shift"
	"github.com/mmeshcher/cashdrawer/internal/validation"
)

var (
	// ErrUnknownSession возвращается при закрытии кассы, для которой не известен идентификатор сессии.
	ErrUnknownSession = errors.New("no cash drawer session known for key")
	// ErrInvalidRequest возвращается при некорректных данных открытия или закрытия.
	ErrInvalidRequest = errors.New("invalid drawer request")
)

const (
	defaultRefreshInterval = 30 * time.Second
	defaultSalesLimit      = 200
)

// SessionStore описывает удалённое хранилище кассовых сессий.
type SessionStore interface {
	GetSession(ctx context.Context, dayKey, shiftName string) (*model.CashDrawerSession, error)
	OpenSession(ctx context.Context, req model.OpenRequest) (*model.CashDrawerSession, error)
	CloseSession(ctx context.Context, req model.CloseRequest) (*model.CashDrawerSession, error)
	GetDayHistory(ctx context.Context, dayKey string) ([]model.CashDrawerSession, error)
}

// ShiftConfigProvider отдаёт настройку смен.
type ShiftConfigProvider interface {
	GetShiftConfig(ctx context.Context) (model.ShiftConfig, error)
}

// SalesProvider отдаёт последние продажи.
type SalesProvider interface {
	GetRecentSales(ctx context.Context, limit int) ([]model.SaleRecord, error)
}

// PaymentMethodCatalog отдаёт активные способы оплаты.
type PaymentMethodCatalog interface {
	GetActivePaymentMethods(ctx context.Context) ([]model.PaymentMethod, error)
}

// Backend объединяет всех внешних участников в одном источнике.
type Backend interface {
	SessionStore
	ShiftConfigProvider
	SalesProvider
	PaymentMethodCatalog
}

// Dependencies содержит внедряемых участников сервиса.
type Dependencies struct {
	Sessions       SessionStore
	Shifts         ShiftConfigProvider
	Sales          SalesProvider
	PaymentMethods PaymentMethodCatalog
	Flags          *localstore.FlagStore
	Logger         *zap.Logger
}

// Option настраивает Service.
type Option func(*Service)

// WithPolicy задаёт политику поведения при сбоях удалённого хранилища.
func WithPolicy(p FallbackPolicy) Option {
	return func(s *Service) { s.policy = p }
}

// WithClock подменяет источник текущего времени.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithRefreshInterval задаёт период фонового обновления.
func WithRefreshInterval(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithSalesLimit задаёт число последних продаж, запрашиваемых при обновлении.
func WithSalesLimit(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.salesLimit = n
		}
	}
}

// WithShiftConfig задаёт уже проверенную конфигурацию смен.
func WithShiftConfig(cfg *shift.Config) Option {
	return func(s *Service) { s.cfg = cfg }
}

// Source указывает, откуда взято состояние кассы.
type Source string

const (
	SourceRemote Source = "remote"
	SourceLocal  Source = "local"
)

// State содержит результат сверки одного операционного дня.
type State struct {
	DayKey   string            `json:"day_key"`
	Open     *model.DrawerKey  `json:"open,omitempty"`
	OpenKeys []model.DrawerKey `json:"open_keys,omitempty"`
	Events   []history.Event   `json:"events,omitempty"`
	Source   Source            `json:"source"`
}

// Snapshot хранит последнее известное состояние, которое показывает интерфейс.
type Snapshot struct {
	RefreshedAt  time.Time                `json:"refreshed_at"`
	CurrentShift string                   `json:"current_shift"`
	DayKey       string                   `json:"day_key"`
	State        *State                   `json:"state,omitempty"`
	Session      *model.CashDrawerSession `json:"session,omitempty"`
	Totals       *sales.Summary           `json:"totals,omitempty"`
	LastError    string                   `json:"last_error,omitempty"`
}

// Service управляет кассовыми сессиями. Хранит явное состояние и внедрённых участников.
//
// Вызовы Open, Close и Refresh не сериализуются между собой: побеждает ответ, пришедший последним.
type Service struct {
	store      SessionStore
	shifts     ShiftConfigProvider
	sales      SalesProvider
	methods    PaymentMethodCatalog
	flags      *localstore.FlagStore
	policy     FallbackPolicy
	logger     *zap.Logger
	now        func() time.Time
	interval   time.Duration
	salesLimit int

	mu            sync.RWMutex
	cfg           *shift.Config
	sessions      map[model.DrawerKey]model.CashDrawerSession
	recentSales   []model.SaleRecord
	activeMethods []model.PaymentMethod
	snapshot      Snapshot

	lifecycleMu sync.Mutex
	cancel      context.CancelFunc
	wg          sync.WaitGroup
}

// NewService создаёт контроллер кассовых сессий.
func NewService(deps Dependencies, opts ...Option) (*Service, error) {
	if deps.Sessions == nil {
		return nil, errors.New("session store is required")
	}
	if deps.Flags == nil {
		return nil, errors.New("flag store is required")
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Service{
		store:      deps.Sessions,
		shifts:     deps.Shifts,
		sales:      deps.Sales,
		methods:    deps.PaymentMethods,
		flags:      deps.Flags,
		policy:     DefaultFallbackPolicy(),
		logger:     logger,
		now:        time.Now,
		interval:   defaultRefreshInterval,
		salesLimit: defaultSalesLimit,
		sessions:   make(map[model.DrawerKey]model.CashDrawerSession),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s, nil
}

// Config возвращает действующую конфигурацию смен.
func (s *Service) Config() *shift.Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// LoadShiftConfig запрашивает и проверяет конфигурацию смен. При ошибке остаётся прежняя конфигурация.
func (s *Service) LoadShiftConfig(ctx context.Context) error {
	if s.shifts == nil {
		return nil
	}

	raw, err := s.shifts.GetShiftConfig(ctx)
	metrics.RecordRemoteCall("shift_config", err)
	if err != nil {
		return fmt.Errorf("get shift config: %w", err)
	}

	cfg, err := shift.NewConfig(raw)
	if err != nil {
		return fmt.Errorf("build shift config: %w", err)
	}

	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()

	return nil
}

// CurrentShift возвращает активную смену и ключ её операционного дня.
func (s *Service) CurrentShift() (string, string) {
	cfg := s.Config()
	now := s.now()
	name := cfg.ResolveName(now)
	return name, cfg.ShiftDay(name, now)
}

// Open открывает кассу. При временном сбое удалённого хранилища локальные флаги
// всё равно выставляются (согласно политике), а ошибка возвращается вызывающему.
func (s *Service) Open(ctx context.Context, req model.OpenRequest) (*model.CashDrawerSession, error) {
	if err := validateOpen(req); err != nil {
		return nil, err
	}
	if name, ok := s.Config().Lookup(req.ShiftName); ok {
		req.ShiftName = name
	}
	key := model.DrawerKey{DayKey: req.DayKey, ShiftName: req.ShiftName}

	sess, err := s.store.OpenSession(ctx, req)
	metrics.RecordRemoteCall("open", err)
	if err != nil {
		if isTransient(err) && s.policy.OnOpenFailure == KeepLocalOptimistic {
			metrics.RecordLocalFallback("open")
			s.markOpen(ctx, key)
			s.logger.Warn("remote open failed, drawer kept open locally",
				zap.String("day", key.DayKey), zap.String("shift", key.ShiftName), zap.Error(err))
		}
		return nil, fmt.Errorf("open session: %w", err)
	}

	s.markOpen(ctx, key)
	s.remember(*sess)

	s.logger.Info("cash drawer opened",
		zap.String("session", sess.ID), zap.String("day", key.DayKey), zap.String("shift", key.ShiftName))

	return sess, nil
}

// Close закрывает кассу и записывает предлагаемую сумму открытия следующей смены.
// Пустой идентификатор берётся из кэша, а при промахе из удалённого хранилища.
// Если открытой сессии для ключа нет, закрытие отклоняется без обращения к CloseSession.
func (s *Service) Close(ctx context.Context, req model.CloseRequest) (*model.CashDrawerSession, error) {
	if err := validateClose(req); err != nil {
		return nil, err
	}
	if name, ok := s.Config().Lookup(req.ShiftName); ok {
		req.ShiftName = name
	}
	key := model.DrawerKey{DayKey: req.DayKey, ShiftName: req.ShiftName}

	if req.SessionID == "" {
		id, err := s.resolveSessionID(ctx, key)
		if err != nil {
			return nil, err
		}
		req.SessionID = id
	}

	sess, err := s.store.CloseSession(ctx, req)
	metrics.RecordRemoteCall("close", err)

	clearLocal := err == nil || !isTransient(err) || s.policy.OnCloseFailure == KeepLocalOptimistic
	if clearLocal {
		if err != nil {
			metrics.RecordLocalFallback("close")
		}
		if ferr := s.flags.Clear(ctx, key); ferr != nil {
			s.logger.Warn("local flag clear failed", zap.String("day", key.DayKey), zap.String("shift", key.ShiftName), zap.Error(ferr))
		}
		s.suggestNext(ctx, key, req.ClosingAmount)
		metrics.SetDrawerOpen(false)
	}

	if err != nil {
		s.logger.Warn("remote close failed",
			zap.String("session", req.SessionID), zap.Bool("local_cleared", clearLocal), zap.Error(err))
		return nil, fmt.Errorf("close session: %w", err)
	}

	s.remember(*sess)

	s.logger.Info("cash drawer closed",
		zap.String("session", sess.ID), zap.String("day", key.DayKey), zap.String("shift", key.ShiftName))

	return sess, nil
}

// NextKey возвращает смену и день, для которых предлагается сумма после закрытия key.
// День сдвигается вперёд, только если ротация вернулась к первой смене.
func (s *Service) NextKey(key model.DrawerKey) (model.DrawerKey, error) {
	cfg := s.Config()
	next := cfg.Next(key.ShiftName)

	day := key.DayKey
	if cfg.IsEmpty() || next == cfg.First() {
		rolled, err := shift.AddDays(day, 1)
		if err != nil {
			return model.DrawerKey{}, err
		}
		day = rolled
	}

	return model.DrawerKey{DayKey: day, ShiftName: next}, nil
}

func (s *Service) suggestNext(ctx context.Context, key model.DrawerKey, amount decimal.Decimal) {
	next, err := s.NextKey(key)
	if err != nil {
		s.logger.Warn("cannot compute next shift", zap.String("day", key.DayKey), zap.Error(err))
		return
	}

	err = s.flags.SetSuggested(ctx, model.SuggestedAmount{
		DayKey:    next.DayKey,
		ShiftName: next.ShiftName,
		Amount:    amount,
	})
	if err != nil {
		s.logger.Warn("suggested amount write failed", zap.String("day", next.DayKey), zap.String("shift", next.ShiftName), zap.Error(err))
	}
}

// SuggestedOpening возвращает сумму для предзаполнения формы открытия смены.
// Для первой смены ротации, уже открытой кассы и начатого пользователем ввода подсказки нет.
func (s *Service) SuggestedOpening(ctx context.Context, dayKey, shiftName, typed string) (decimal.Decimal, bool) {
	cfg := s.Config()
	if name, ok := cfg.Lookup(shiftName); ok {
		shiftName = name
	}
	key := model.DrawerKey{DayKey: dayKey, ShiftName: shiftName}

	if strings.TrimSpace(typed) != "" {
		return decimal.Zero, false
	}
	if shiftName == cfg.First() {
		return decimal.Zero, false
	}
	if s.flags.IsOpen(ctx, key) {
		return decimal.Zero, false
	}
	if cached, ok := s.cached(key); ok && cached.Status == model.SessionStatusOpen {
		return decimal.Zero, false
	}

	return s.flags.Suggested(ctx, key)
}

// Reconcile сверяет локальные флаги дня dayKey с историей удалённого хранилища.
// Если последним событием дня было открытие, эта смена считается открытой независимо от локальных флагов.
// При недоступном хранилище состояние строится по локальным флагам и возвращается вместе с ошибкой.
func (s *Service) Reconcile(ctx context.Context, dayKey string) (*State, error) {
	cfg := s.Config()

	sessions, err := s.store.GetDayHistory(ctx, dayKey)
	metrics.RecordRemoteCall("day_history", err)
	if err != nil {
		metrics.RecordLocalFallback("reconcile")
		return s.localState(ctx, dayKey, cfg), fmt.Errorf("get day history: %w", err)
	}

	events := history.Events(sessions, cfg)
	state := &State{DayKey: dayKey, Events: events, Source: SourceRemote}

	var open *model.DrawerKey
	if latest, ok := history.OpenAtLatest(events); ok {
		key := latest.Key()
		open = &key
		state.Open = open
		state.OpenKeys = []model.DrawerKey{key}
	}

	names := cfg.Names()
	for _, sess := range sessions {
		names = append(names, sess.ShiftName)
		s.remember(sess)
	}

	if err := s.flags.Replace(ctx, dayKey, names, open, s.now()); err != nil {
		s.logger.Warn("local flags rewrite failed", zap.String("day", dayKey), zap.Error(err))
	}

	return state, nil
}

func (s *Service) localState(ctx context.Context, dayKey string, cfg *shift.Config) *State {
	state := &State{
		DayKey:   dayKey,
		OpenKeys: s.flags.OpenKeys(ctx, dayKey, cfg.Names()),
		Source:   SourceLocal,
	}

	if current, ok := s.flags.Current(ctx); ok && current.DayKey == dayKey {
		state.Open = &current
	} else if len(state.OpenKeys) > 0 {
		key := state.OpenKeys[0]
		state.Open = &key
	}

	return state
}

// History возвращает ленту событий кассы за день.
func (s *Service) History(ctx context.Context, dayKey string) ([]history.Event, error) {
	sessions, err := s.store.GetDayHistory(ctx, dayKey)
	metrics.RecordRemoteCall("day_history", err)
	if err != nil {
		return nil, fmt.Errorf("get day history: %w", err)
	}
	return history.Events(sessions, s.Config()), nil
}

// Refresh обновляет состояние кассы, продажи и итоги. Частичные сбои не прерывают обновление:
// используется последнее удачное значение, а ошибки возвращаются объединёнными.
func (s *Service) Refresh(ctx context.Context) (*Snapshot, error) {
	started := time.Now()
	defer func() { metrics.ObserveRefresh(time.Since(started)) }()

	var errs []error

	if s.Config().IsEmpty() {
		if err := s.LoadShiftConfig(ctx); err != nil {
			errs = append(errs, err)
		}
	}

	cfg := s.Config()
	now := s.now()
	current := cfg.ResolveName(now)
	dayKey := cfg.ShiftDay(current, now)

	state, err := s.Reconcile(ctx, dayKey)
	if err != nil {
		errs = append(errs, err)
	}

	if s.sales != nil {
		list, err := s.sales.GetRecentSales(ctx, s.salesLimit)
		metrics.RecordRemoteCall("recent_sales", err)
		if err != nil {
			errs = append(errs, fmt.Errorf("get recent sales: %w", err))
		} else {
			list = sales.InLocation(list, now.Location())
			s.mu.Lock()
			s.recentSales = list
			s.mu.Unlock()
		}
	}

	if s.methods != nil {
		list, err := s.methods.GetActivePaymentMethods(ctx)
		metrics.RecordRemoteCall("payment_methods", err)
		if err != nil {
			errs = append(errs, fmt.Errorf("get payment methods: %w", err))
		} else {
			s.mu.Lock()
			s.activeMethods = list
			s.mu.Unlock()
		}
	}

	snap := Snapshot{
		RefreshedAt:  now,
		CurrentShift: current,
		DayKey:       dayKey,
		State:        state,
	}

	if state.Open != nil {
		if sess, ok := s.cached(*state.Open); ok {
			snap.Session = &sess
		}
		totals := s.openTotals(cfg, *state.Open, snap.Session, now)
		snap.Totals = &totals
	}

	joined := errors.Join(errs...)
	if joined != nil {
		snap.LastError = joined.Error()
	}

	s.mu.Lock()
	s.snapshot = snap
	s.mu.Unlock()

	metrics.SetDrawerOpen(state.Open != nil)

	return &snap, joined
}

// Snapshot возвращает последнее сохранённое состояние.
func (s *Service) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshot
}

// ShiftSummary считает итоги произвольной смены по уже загруженным продажам.
// Окно смены строится в часовом поясе часов сервиса, а не в поясе ref.
func (s *Service) ShiftSummary(shiftName string, ref time.Time) sales.Summary {
	cfg := s.Config()
	ref = ref.In(s.now().Location())
	if name, ok := cfg.Lookup(shiftName); ok {
		shiftName = name
	}

	s.mu.RLock()
	list := s.recentSales
	methods := s.activeMethods
	s.mu.RUnlock()

	opening := decimal.Zero
	key := model.DrawerKey{DayKey: cfg.ShiftDay(shiftName, ref), ShiftName: shiftName}
	if sess, ok := s.cached(key); ok {
		opening = sess.OpeningAmount
	}

	return sales.Summarize(sales.FilterByShift(list, shiftName, cfg, ref), methods, opening)
}

func (s *Service) openTotals(cfg *shift.Config, key model.DrawerKey, sess *model.CashDrawerSession, now time.Time) sales.Summary {
	ref := now
	opening := decimal.Zero
	if sess != nil {
		opening = sess.OpeningAmount
		if sess.OpenedAt != nil {
			ref = sess.OpenedAt.In(now.Location())
		}
	}

	s.mu.RLock()
	list := s.recentSales
	methods := s.activeMethods
	s.mu.RUnlock()

	return sales.Summarize(sales.FilterByShift(list, key.ShiftName, cfg, ref), methods, opening)
}

// Start запускает периодическое обновление и подписку на изменения локального хранилища.
// Каждый тик запускает новое обновление, не дожидаясь предыдущего.
func (s *Service) Start(ctx context.Context) {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	if s.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.refreshLoop(ctx)
	}()

	if w, ok := s.flags.Store().(localstore.Watcher); ok {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.watchLocal(ctx, w)
		}()
	}
}

// Dispose останавливает фоновые процессы и дожидается их завершения.
func (s *Service) Dispose() {
	s.lifecycleMu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.lifecycleMu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
}

func (s *Service) refreshLoop(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.spawnRefresh(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.spawnRefresh(ctx)
		}
	}
}

func (s *Service) spawnRefresh(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if _, err := s.Refresh(ctx); err != nil && ctx.Err() == nil {
			s.logger.Warn("refresh finished with errors", zap.Error(err))
		}
	}()
}

func (s *Service) watchLocal(ctx context.Context, w localstore.Watcher) {
	err := w.Watch(ctx, func(key string) {
		if !strings.HasPrefix(key, "drawer:") {
			return
		}
		_, day := s.CurrentShift()
		if _, err := s.Reconcile(ctx, day); err != nil {
			s.logger.Debug("reconcile after external change failed", zap.String("key", key), zap.Error(err))
		}
	})
	if err != nil && ctx.Err() == nil {
		s.logger.Warn("local store watch stopped", zap.Error(err))
	}
}

func (s *Service) markOpen(ctx context.Context, key model.DrawerKey) {
	if err := s.flags.MarkOpen(ctx, key, s.now()); err != nil {
		s.logger.Warn("local flag write failed", zap.String("day", key.DayKey), zap.String("shift", key.ShiftName), zap.Error(err))
		return
	}
	metrics.SetDrawerOpen(true)
}

func cacheKey(key model.DrawerKey) model.DrawerKey {
	return model.DrawerKey{DayKey: key.DayKey, ShiftName: shift.Slug(key.ShiftName)}
}

func (s *Service) remember(sess model.CashDrawerSession) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[cacheKey(sess.Key())] = sess
}

// resolveSessionID ищет идентификатор открытой сессии key сначала в кэше, затем в хранилище.
func (s *Service) resolveSessionID(ctx context.Context, key model.DrawerKey) (string, error) {
	if cached, ok := s.cached(key); ok && cached.Status == model.SessionStatusOpen {
		return cached.ID, nil
	}

	sess, err := s.store.GetSession(ctx, key.DayKey, key.ShiftName)
	metrics.RecordRemoteCall("get_session", err)
	switch {
	case errors.Is(err, model.ErrSessionNotFound):
		return "", fmt.Errorf("%w: %s %s", ErrUnknownSession, key.DayKey, key.ShiftName)
	case err != nil:
		return "", fmt.Errorf("get session: %w", err)
	}

	s.remember(*sess)
	if sess.Status != model.SessionStatusOpen || sess.ID == "" {
		return "", fmt.Errorf("%w: %s %s", ErrUnknownSession, key.DayKey, key.ShiftName)
	}
	return sess.ID, nil
}

func (s *Service) cached(key model.DrawerKey) (model.CashDrawerSession, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[cacheKey(key)]
	return sess, ok
}

func validateOpen(req model.OpenRequest) error {
	if !validation.IsValidDayKey(req.DayKey) {
		return fmt.Errorf("%w: bad day key %q", ErrInvalidRequest, req.DayKey)
	}
	if strings.TrimSpace(req.ShiftName) == "" || req.ShiftName == model.NoShift {
		return fmt.Errorf("%w: shift name is required", ErrInvalidRequest)
	}
	if !validation.IsValidAmount(req.OpeningAmount) {
		return fmt.Errorf("%w: bad opening amount %s", ErrInvalidRequest, req.OpeningAmount)
	}
	if req.OpenedBy.ID == "" && req.OpenedBy.Name == "" {
		return fmt.Errorf("%w: opened by is required", ErrInvalidRequest)
	}
	return nil
}

func validateClose(req model.CloseRequest) error {
	if !validation.IsValidDayKey(req.DayKey) {
		return fmt.Errorf("%w: bad day key %q", ErrInvalidRequest, req.DayKey)
	}
	if strings.TrimSpace(req.ShiftName) == "" {
		return fmt.Errorf("%w: shift name is required", ErrInvalidRequest)
	}
	if !validation.IsValidAmount(req.ClosingAmount) {
		return fmt.Errorf("%w: bad closing amount %s", ErrInvalidRequest, req.ClosingAmount)
	}
	if !validation.IsValidAmount(req.SalesAmount) {
		return fmt.Errorf("%w: bad sales amount %s", ErrInvalidRequest, req.SalesAmount)
	}
	return nil
}
