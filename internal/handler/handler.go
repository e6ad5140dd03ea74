// Package handler содержит HTTP-обработчики API кассовых смен.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/cashdrawer/internal/history"
	"github.com/mmeshcher/cashdrawer/internal/model"
	"github.com/mmeshcher/cashdrawer/internal/sales"
	"github.com/mmeshcher/cashdrawer/internal/session"
	"github.com/mmeshcher/cashdrawer/internal/shift"
	"github.com/mmeshcher/cashdrawer/internal/validation"
)

// Service определяет контракт контроллера кассовых сессий, используемый HTTP-обработчиками.
type Service interface {
	Config() *shift.Config
	CurrentShift() (string, string)
	Open(ctx context.Context, req model.OpenRequest) (*model.CashDrawerSession, error)
	Close(ctx context.Context, req model.CloseRequest) (*model.CashDrawerSession, error)
	SuggestedOpening(ctx context.Context, dayKey, shiftName, typed string) (decimal.Decimal, bool)
	Reconcile(ctx context.Context, dayKey string) (*session.State, error)
	History(ctx context.Context, dayKey string) ([]history.Event, error)
	Refresh(ctx context.Context) (*session.Snapshot, error)
	Snapshot() session.Snapshot
	ShiftSummary(shiftName string, ref time.Time) sales.Summary
}

// Handler реализует HTTP-обработчики API кассовых смен.
type Handler struct {
	service Service
	logger  *zap.Logger
	now     func() time.Time
}

// Option настраивает Handler.
type Option func(*Handler)

// WithClock подменяет источник текущего времени; окна смен считаются в его часовом поясе.
func WithClock(now func() time.Time) Option {
	return func(h *Handler) { h.now = now }
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(s Service, logger *zap.Logger, opts ...Option) *Handler {
	h := &Handler{
		service: s,
		logger:  logger,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

type currentShiftResponse struct {
	Shift  string             `json:"shift"`
	DayKey string             `json:"day_key"`
	Window *model.ShiftWindow `json:"window,omitempty"`
	From   *time.Time         `json:"from,omitempty"`
	To     *time.Time         `json:"to,omitempty"`
	Next   string             `json:"next,omitempty"`
	Order  []string           `json:"order"`
}

// GetCurrentShift возвращает активную смену, её окно и операционный день.
func (h *Handler) GetCurrentShift(w http.ResponseWriter, r *http.Request) {
	cfg := h.service.Config()
	name, day := h.service.CurrentShift()

	resp := currentShiftResponse{
		Shift:  name,
		DayKey: day,
		Order:  cfg.Order(),
	}
	if win, ok := cfg.Window(name); ok {
		from, to := cfg.Range(name, h.now())
		resp.Window = &win
		resp.From = &from
		resp.To = &to
		resp.Next = cfg.Next(name)
	}

	h.writeJSON(w, http.StatusOK, resp)
}

// GetDrawerState сверяет флаги дня с удалённым хранилищем и возвращает состояние кассы.
// При недоступном хранилище отдаётся состояние по локальным флагам.
func (h *Handler) GetDrawerState(w http.ResponseWriter, r *http.Request) {
	day, ok := h.dayParam(w, r)
	if !ok {
		return
	}

	state, err := h.service.Reconcile(r.Context(), day)
	if err != nil {
		if state == nil {
			h.logger.Error("reconcile error", zap.Error(err), zap.String("day", day))
			http.Error(w, http.StatusText(http.StatusBadGateway), http.StatusBadGateway)
			return
		}
		h.logger.Warn("reconcile fell back to local flags", zap.Error(err), zap.String("day", day))
	}

	h.writeJSON(w, http.StatusOK, state)
}

// OpenDrawer открывает кассу. Пустые день и смена заменяются текущими.
func (h *Handler) OpenDrawer(w http.ResponseWriter, r *http.Request) {
	var req model.OpenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	req.DayKey, req.ShiftName = h.fillKey(req.DayKey, req.ShiftName)

	sess, err := h.service.Open(r.Context(), req)
	if err != nil {
		h.writeError(w, "open drawer", err)
		return
	}

	h.writeJSON(w, http.StatusCreated, sess)
}

// CloseDrawer закрывает кассу и сохраняет предлагаемую сумму для следующей смены.
func (h *Handler) CloseDrawer(w http.ResponseWriter, r *http.Request) {
	var req model.CloseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	req.DayKey, req.ShiftName = h.fillKey(req.DayKey, req.ShiftName)

	sess, err := h.service.Close(r.Context(), req)
	if err != nil {
		h.writeError(w, "close drawer", err)
		return
	}

	h.writeJSON(w, http.StatusOK, sess)
}

type prefillResponse struct {
	DayKey    string          `json:"day_key"`
	ShiftName string          `json:"shift_name"`
	Amount    decimal.Decimal `json:"amount"`
}

// GetPrefill возвращает сумму для предзаполнения формы открытия. 204 означает, что подсказки нет.
func (h *Handler) GetPrefill(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	day, name := h.fillKey(q.Get("day"), q.Get("shift"))
	if !validation.IsValidDayKey(day) {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	amount, ok := h.service.SuggestedOpening(r.Context(), day, name, q.Get("typed"))
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	h.writeJSON(w, http.StatusOK, prefillResponse{DayKey: day, ShiftName: name, Amount: amount})
}

// GetHistory возвращает ленту открытий и закрытий кассы за день.
func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	day, ok := h.dayParam(w, r)
	if !ok {
		return
	}

	events, err := h.service.History(r.Context(), day)
	if err != nil {
		h.logger.Error("get history error", zap.Error(err), zap.String("day", day))
		http.Error(w, http.StatusText(http.StatusBadGateway), http.StatusBadGateway)
		return
	}

	if len(events) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	h.writeJSON(w, http.StatusOK, events)
}

// GetSnapshot возвращает последнее состояние фонового обновления.
func (h *Handler) GetSnapshot(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.service.Snapshot())
}

// Refresh запускает обновление немедленно. Частичные сбои отражаются в поле last_error.
func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	snap, err := h.service.Refresh(r.Context())
	if err != nil {
		h.logger.Warn("refresh finished with errors", zap.Error(err))
	}
	if snap == nil {
		http.Error(w, http.StatusText(http.StatusBadGateway), http.StatusBadGateway)
		return
	}

	h.writeJSON(w, http.StatusOK, snap)
}

// GetSalesSummary возвращает итоги продаж смены. Параметр at (RFC3339) привязывает окно смены к дате.
func (h *Handler) GetSalesSummary(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	name := strings.TrimSpace(q.Get("shift"))
	if name == "" {
		name, _ = h.service.CurrentShift()
	}

	ref := h.now()
	if raw := q.Get("at"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
			return
		}
		ref = parsed
	}

	h.writeJSON(w, http.StatusOK, h.service.ShiftSummary(name, ref))
}

func (h *Handler) fillKey(day, name string) (string, string) {
	currentName, currentDay := h.service.CurrentShift()
	if strings.TrimSpace(name) == "" {
		name = currentName
		if day == "" {
			day = currentDay
		}
	}
	if day == "" {
		day = h.service.Config().ShiftDay(name, h.now())
	}
	return day, name
}

func (h *Handler) dayParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	day := r.URL.Query().Get("day")
	if day == "" {
		_, day = h.service.CurrentShift()
	}
	if !validation.IsValidDayKey(day) {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return "", false
	}
	return day, true
}

func (h *Handler) writeError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, session.ErrInvalidRequest):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, session.ErrUnknownSession), errors.Is(err, model.ErrSessionNotFound):
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	case errors.Is(err, model.ErrSessionExists), errors.Is(err, model.ErrSessionClosed):
		http.Error(w, http.StatusText(http.StatusConflict), http.StatusConflict)
	default:
		h.logger.Error(op+" error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusBadGateway), http.StatusBadGateway)
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Debug("encode response", zap.Error(err))
	}
}
