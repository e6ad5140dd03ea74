package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/cashdrawer/internal/history"
	"github.com/mmeshcher/cashdrawer/internal/model"
	"github.com/mmeshcher/cashdrawer/internal/sales"
	"github.com/mmeshcher/cashdrawer/internal/session"
	"github.com/mmeshcher/cashdrawer/internal/shift"
)

type stubService struct {
	cfg         *shift.Config
	currentName string
	currentDay  string

	openReq  model.OpenRequest
	openResp *model.CashDrawerSession
	openErr  error

	closeReq  model.CloseRequest
	closeResp *model.CashDrawerSession
	closeErr  error

	suggested   decimal.Decimal
	suggestedOK bool
	typed       string

	state      *session.State
	reconErr   error
	reconDay   string
	events     []history.Event
	historyErr error

	snapshot   session.Snapshot
	refreshErr error

	summary     sales.Summary
	summaryName string
	summaryRef  time.Time
}

func (s *stubService) Config() *shift.Config { return s.cfg }

func (s *stubService) CurrentShift() (string, string) { return s.currentName, s.currentDay }

func (s *stubService) Open(ctx context.Context, req model.OpenRequest) (*model.CashDrawerSession, error) {
	s.openReq = req
	return s.openResp, s.openErr
}

func (s *stubService) Close(ctx context.Context, req model.CloseRequest) (*model.CashDrawerSession, error) {
	s.closeReq = req
	return s.closeResp, s.closeErr
}

func (s *stubService) SuggestedOpening(ctx context.Context, dayKey, shiftName, typed string) (decimal.Decimal, bool) {
	s.typed = typed
	return s.suggested, s.suggestedOK
}

func (s *stubService) Reconcile(ctx context.Context, dayKey string) (*session.State, error) {
	s.reconDay = dayKey
	return s.state, s.reconErr
}

func (s *stubService) History(ctx context.Context, dayKey string) ([]history.Event, error) {
	return s.events, s.historyErr
}

func (s *stubService) Refresh(ctx context.Context) (*session.Snapshot, error) {
	snap := s.snapshot
	return &snap, s.refreshErr
}

func (s *stubService) Snapshot() session.Snapshot { return s.snapshot }

func (s *stubService) ShiftSummary(shiftName string, ref time.Time) sales.Summary {
	s.summaryName = shiftName
	s.summaryRef = ref
	return s.summary
}

func testConfig(t *testing.T) *shift.Config {
	t.Helper()

	cfg, err := shift.NewConfig(model.ShiftConfig{
		Shifts: []model.ShiftDefinition{
			{Name: "León", Window: model.ShiftWindow{Start: "05:00", End: "12:00"}},
			{Name: "Lobo", Window: model.ShiftWindow{Start: "12:00", End: "19:00"}},
			{Name: "Búho", Window: model.ShiftWindow{Start: "19:00", End: "05:00"}},
		},
	})
	if err != nil {
		t.Fatalf("new config: %v", err)
	}
	return cfg
}

func newTestHandler(t *testing.T, svc Service) *Handler {
	t.Helper()

	logger, err := zap.NewDevelopment()
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}

	return NewHandler(svc, logger, WithClock(func() time.Time {
		return time.Date(2024, 3, 16, 3, 0, 0, 0, time.UTC)
	}))
}

func newStub(t *testing.T) *stubService {
	return &stubService{cfg: testConfig(t), currentName: "Búho", currentDay: "2024-03-15"}
}

func serve(h *Handler, method, target string, body []byte) *http.Response {
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	rec := httptest.NewRecorder()
	h.SetupRouter().ServeHTTP(rec, req)
	return rec.Result()
}

func TestGetCurrentShift(t *testing.T) {
	h := newTestHandler(t, newStub(t))

	res := serve(h, http.MethodGet, "/api/shifts/current", nil)
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}

	var got currentShiftResponse
	if err := json.NewDecoder(res.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Shift != "Búho" || got.DayKey != "2024-03-15" || got.Next != "León" {
		t.Fatalf("unexpected response: %+v", got)
	}
	if got.From == nil || !got.From.Equal(time.Date(2024, 3, 15, 19, 0, 0, 0, time.UTC)) {
		t.Fatalf("from = %v", got.From)
	}
}

func TestOpenDrawer_FillsCurrentKey(t *testing.T) {
	svc := newStub(t)
	svc.openResp = &model.CashDrawerSession{ID: "s-1", DayKey: "2024-03-15", ShiftName: "Búho", Status: model.SessionStatusOpen}
	h := newTestHandler(t, svc)

	body := []byte(`{"opening_amount":"100.50","opened_by":{"id":"u-1"}}`)
	res := serve(h, http.MethodPost, "/api/drawer/open", body)
	defer res.Body.Close()

	if res.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusCreated)
	}
	if svc.openReq.DayKey != "2024-03-15" || svc.openReq.ShiftName != "Búho" {
		t.Fatalf("unexpected key: %+v", svc.openReq)
	}
	if !svc.openReq.OpeningAmount.Equal(decimal.RequireFromString("100.5")) {
		t.Fatalf("amount = %s", svc.openReq.OpeningAmount)
	}
}

func TestOpenDrawer_ErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "invalid", err: fmt.Errorf("%w: bad", session.ErrInvalidRequest), want: http.StatusBadRequest},
		{name: "exists", err: fmt.Errorf("open session: %w", model.ErrSessionExists), want: http.StatusConflict},
		{name: "remote down", err: errors.New("connection refused"), want: http.StatusBadGateway},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := newStub(t)
			svc.openErr = tt.err
			h := newTestHandler(t, svc)

			res := serve(h, http.MethodPost, "/api/drawer/open", []byte(`{"day_key":"2024-03-15","shift_name":"León"}`))
			defer res.Body.Close()

			if res.StatusCode != tt.want {
				t.Fatalf("status = %d, want %d", res.StatusCode, tt.want)
			}
		})
	}
}

func TestOpenDrawer_BadJSON(t *testing.T) {
	h := newTestHandler(t, newStub(t))

	res := serve(h, http.MethodPost, "/api/drawer/open", []byte(`{`))
	defer res.Body.Close()

	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusBadRequest)
	}
}

func TestCloseDrawer(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "ok", want: http.StatusOK},
		{name: "unknown session", err: session.ErrUnknownSession, want: http.StatusNotFound},
		{name: "already closed", err: model.ErrSessionClosed, want: http.StatusConflict},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := newStub(t)
			svc.closeResp = &model.CashDrawerSession{ID: "s-1", Status: model.SessionStatusClosed}
			svc.closeErr = tt.err
			h := newTestHandler(t, svc)

			res := serve(h, http.MethodPost, "/api/drawer/close", []byte(`{"shift_name":"Lobo","closing_amount":"120.50"}`))
			defer res.Body.Close()

			if res.StatusCode != tt.want {
				t.Fatalf("status = %d, want %d", res.StatusCode, tt.want)
			}
			if svc.closeReq.ShiftName != "Lobo" || svc.closeReq.DayKey != "2024-03-16" {
				t.Fatalf("unexpected key: %+v", svc.closeReq)
			}
		})
	}
}

func TestGetPrefill(t *testing.T) {
	svc := newStub(t)
	h := newTestHandler(t, svc)

	res := serve(h, http.MethodGet, "/api/drawer/prefill?day=2024-03-15&shift=Lobo", nil)
	res.Body.Close()
	if res.StatusCode != http.StatusNoContent {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusNoContent)
	}

	svc.suggested = decimal.RequireFromString("120.50")
	svc.suggestedOK = true
	res = serve(h, http.MethodGet, "/api/drawer/prefill?day=2024-03-15&shift=Lobo&typed=", nil)
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}

	var got prefillResponse
	if err := json.NewDecoder(res.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.ShiftName != "Lobo" || !got.Amount.Equal(decimal.RequireFromString("120.5")) {
		t.Fatalf("unexpected response: %+v", got)
	}

	res = serve(h, http.MethodGet, "/api/drawer/prefill?day=bad", nil)
	res.Body.Close()
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusBadRequest)
	}
}

func TestGetDrawerState_LocalFallback(t *testing.T) {
	svc := newStub(t)
	svc.state = &session.State{
		DayKey: "2024-03-15",
		Open:   &model.DrawerKey{DayKey: "2024-03-15", ShiftName: "Búho"},
		Source: session.SourceLocal,
	}
	svc.reconErr = errors.New("get day history: connection refused")
	h := newTestHandler(t, svc)

	res := serve(h, http.MethodGet, "/api/drawer/state", nil)
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}
	if svc.reconDay != "2024-03-15" {
		t.Fatalf("reconciled day = %s", svc.reconDay)
	}

	var got session.State
	if err := json.NewDecoder(res.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Source != session.SourceLocal || got.Open == nil || got.Open.ShiftName != "Búho" {
		t.Fatalf("unexpected state: %+v", got)
	}
}

func TestGetHistory(t *testing.T) {
	svc := newStub(t)
	h := newTestHandler(t, svc)

	res := serve(h, http.MethodGet, "/api/drawer/history?day=2024-03-15", nil)
	res.Body.Close()
	if res.StatusCode != http.StatusNoContent {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusNoContent)
	}

	svc.events = []history.Event{
		{Kind: history.EventClose, ShiftName: "León", Actor: "Luis", Amount: decimal.RequireFromString("90")},
		{Kind: history.EventOpen, ShiftName: "León", Actor: "Ana", Amount: decimal.RequireFromString("100")},
	}
	res = serve(h, http.MethodGet, "/api/drawer/history?day=2024-03-15", nil)
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}

	var got []history.Event
	if err := json.NewDecoder(res.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got) != 2 || got[0].Kind != history.EventClose {
		t.Fatalf("unexpected events: %+v", got)
	}
}

func TestGetSalesSummary(t *testing.T) {
	svc := newStub(t)
	svc.summary = sales.Summary{Count: 2, Gross: decimal.RequireFromString("30")}
	h := newTestHandler(t, svc)

	res := serve(h, http.MethodGet, "/api/sales/summary?shift=Lobo&at=2024-03-15T15:00:00Z", nil)
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}
	if svc.summaryName != "Lobo" || !svc.summaryRef.Equal(time.Date(2024, 3, 15, 15, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected summary args: %s %v", svc.summaryName, svc.summaryRef)
	}

	res = serve(h, http.MethodGet, "/api/sales/summary?at=yesterday", nil)
	res.Body.Close()
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusBadRequest)
	}
}

func TestRefresh_ReportsPartialErrors(t *testing.T) {
	svc := newStub(t)
	svc.snapshot = session.Snapshot{CurrentShift: "Búho", LastError: "get recent sales: boom"}
	svc.refreshErr = errors.New("get recent sales: boom")
	h := newTestHandler(t, svc)

	res := serve(h, http.MethodPost, "/api/drawer/refresh", nil)
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}

	var got session.Snapshot
	if err := json.NewDecoder(res.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !strings.Contains(got.LastError, "boom") {
		t.Fatalf("last_error = %q", got.LastError)
	}
}

func TestRouter_NotFoundAndMetrics(t *testing.T) {
	h := newTestHandler(t, newStub(t))

	res := serve(h, http.MethodGet, "/api/unknown", nil)
	res.Body.Close()
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusNotFound)
	}

	res = serve(h, http.MethodGet, "/api/drawer/open", nil)
	res.Body.Close()
	if res.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusMethodNotAllowed)
	}

	res = serve(h, http.MethodGet, "/metrics", nil)
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}
}
