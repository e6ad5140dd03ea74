// Package backoffice предоставляет клиент REST API бэк-офиса: кассовые сессии, смены, продажи и способы оплаты.
package backoffice

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/mmeshcher/cashdrawer/internal/model"
)

// ErrUnexpectedStatus возвращается на ответ с неожиданным HTTP-статусом.
var ErrUnexpectedStatus = errors.New("unexpected status")

// Client инкапсулирует HTTP-взаимодействие с бэк-офисом.
type Client struct {
	baseURL    string
	httpClient *retryablehttp.Client
}

// Option настраивает Client.
type Option func(*Client)

// WithRetries задаёт число повторов и границы паузы между ними.
func WithRetries(maxRetries int, waitMin, waitMax time.Duration) Option {
	return func(c *Client) {
		c.httpClient.RetryMax = maxRetries
		c.httpClient.RetryWaitMin = waitMin
		c.httpClient.RetryWaitMax = waitMax
	}
}

// WithTimeout задаёт таймаут одного HTTP-запроса.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.httpClient.HTTPClient.Timeout = d }
}

// NewClient создаёт клиент бэк-офиса по указанному адресу.
// Ответы 429 и 5xx повторяются с учётом заголовка Retry-After.
func NewClient(baseURL string, logger *zap.Logger, opts ...Option) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}

	base := strings.TrimRight(baseURL, "/")
	if base != "" && !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}

	hc := retryablehttp.NewClient()
	hc.RetryMax = 3
	hc.RetryWaitMin = 200 * time.Millisecond
	hc.RetryWaitMax = 2 * time.Second
	hc.HTTPClient.Timeout = 5 * time.Second
	hc.Logger = leveledLogger{logger.Sugar()}
	hc.ErrorHandler = retryablehttp.PassthroughErrorHandler

	c := &Client{baseURL: base, httpClient: hc}
	for _, opt := range opts {
		opt(c)
	}

	return c
}

// GetSession запрашивает сессию для пары (день, смена).
func (c *Client) GetSession(ctx context.Context, dayKey, shiftName string) (*model.CashDrawerSession, error) {
	q := url.Values{"day": {dayKey}, "shift": {shiftName}}

	var sess model.CashDrawerSession
	status, err := c.do(ctx, http.MethodGet, "/api/sessions?"+q.Encode(), nil, &sess)
	if err != nil {
		if status == http.StatusNotFound {
			return nil, fmt.Errorf("%w: %s %s", model.ErrSessionNotFound, dayKey, shiftName)
		}
		return nil, fmt.Errorf("get session: %w", err)
	}
	return &sess, nil
}

// OpenSession открывает сессию. Конфликт означает, что сессия для пары уже существует.
func (c *Client) OpenSession(ctx context.Context, req model.OpenRequest) (*model.CashDrawerSession, error) {
	var sess model.CashDrawerSession
	status, err := c.do(ctx, http.MethodPost, "/api/sessions", req, &sess)
	if err != nil {
		if status == http.StatusConflict {
			return nil, fmt.Errorf("%w: %s %s", model.ErrSessionExists, req.DayKey, req.ShiftName)
		}
		return nil, fmt.Errorf("open session: %w", err)
	}
	return &sess, nil
}

// CloseSession закрывает сессию по идентификатору.
func (c *Client) CloseSession(ctx context.Context, req model.CloseRequest) (*model.CashDrawerSession, error) {
	var sess model.CashDrawerSession
	status, err := c.do(ctx, http.MethodPost, "/api/sessions/"+url.PathEscape(req.SessionID)+"/close", req, &sess)
	if err != nil {
		switch status {
		case http.StatusNotFound:
			return nil, fmt.Errorf("%w: %s", model.ErrSessionNotFound, req.SessionID)
		case http.StatusConflict:
			return nil, fmt.Errorf("%w: %s", model.ErrSessionClosed, req.SessionID)
		}
		return nil, fmt.Errorf("close session: %w", err)
	}
	return &sess, nil
}

// GetDayHistory запрашивает все сессии дня.
func (c *Client) GetDayHistory(ctx context.Context, dayKey string) ([]model.CashDrawerSession, error) {
	var res []model.CashDrawerSession
	if _, err := c.do(ctx, http.MethodGet, "/api/days/"+url.PathEscape(dayKey)+"/sessions", nil, &res); err != nil {
		return nil, fmt.Errorf("get day history: %w", err)
	}
	return res, nil
}

// GetShiftConfig запрашивает настройку смен. Порядок объявления смен берётся из порядка ключей JSON-объекта.
func (c *Client) GetShiftConfig(ctx context.Context) (model.ShiftConfig, error) {
	var raw json.RawMessage
	if _, err := c.do(ctx, http.MethodGet, "/api/shifts", nil, &raw); err != nil {
		return model.ShiftConfig{}, fmt.Errorf("get shift config: %w", err)
	}
	return ParseShiftConfig(raw)
}

// GetRecentSales запрашивает последние limit продаж.
func (c *Client) GetRecentSales(ctx context.Context, limit int) ([]model.SaleRecord, error) {
	var res []model.SaleRecord
	if _, err := c.do(ctx, http.MethodGet, "/api/sales?limit="+strconv.Itoa(limit), nil, &res); err != nil {
		return nil, fmt.Errorf("get recent sales: %w", err)
	}
	return res, nil
}

// GetActivePaymentMethods запрашивает активные способы оплаты.
func (c *Client) GetActivePaymentMethods(ctx context.Context) ([]model.PaymentMethod, error) {
	var res []model.PaymentMethod
	if _, err := c.do(ctx, http.MethodGet, "/api/payment-methods?active=true", nil, &res); err != nil {
		return nil, fmt.Errorf("get payment methods: %w", err)
	}
	return res, nil
}

// ParseShiftConfig разбирает настройку смен вида
// {"shifts": {"León": {"start": "05:00", "end": "12:00"}, ...}, "order": ["León", ...]}.
// Допускается и массив {"name", "start", "end"}.
func ParseShiftConfig(body []byte) (model.ShiftConfig, error) {
	if !gjson.ValidBytes(body) {
		return model.ShiftConfig{}, errors.New("decode shift config: invalid json")
	}

	root := gjson.ParseBytes(body)
	shifts := root.Get("shifts")

	var (
		cfg model.ShiftConfig
		err error
	)
	shifts.ForEach(func(key, value gjson.Result) bool {
		name := key.String()
		if shifts.IsArray() {
			name = value.Get("name").String()
		}

		start, end := value.Get("start"), value.Get("end")
		if !start.Exists() || !end.Exists() {
			err = fmt.Errorf("decode shift config: shift %q has no window", name)
			return false
		}

		cfg.Shifts = append(cfg.Shifts, model.ShiftDefinition{
			Name:   name,
			Window: model.ShiftWindow{Start: start.String(), End: end.String()},
		})
		return true
	})
	if err != nil {
		return model.ShiftConfig{}, err
	}

	root.Get("order").ForEach(func(_, value gjson.Result) bool {
		cfg.Order = append(cfg.Order, value.String())
		return true
	})

	return cfg, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) (int, error) {
	if c == nil || c.baseURL == "" {
		return 0, errors.New("backoffice client not configured")
	}

	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return 0, fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return resp.StatusCode, fmt.Errorf("%w: %d", ErrUnexpectedStatus, resp.StatusCode)
	}

	if out == nil {
		return resp.StatusCode, nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return resp.StatusCode, fmt.Errorf("decode response: %w", err)
	}

	return resp.StatusCode, nil
}

type leveledLogger struct {
	s *zap.SugaredLogger
}

func (l leveledLogger) Error(msg string, kv ...interface{}) { l.s.Errorw(msg, kv...) }
func (l leveledLogger) Info(msg string, kv ...interface{})  { l.s.Debugw(msg, kv...) }
func (l leveledLogger) Debug(msg string, kv ...interface{}) { l.s.Debugw(msg, kv...) }
func (l leveledLogger) Warn(msg string, kv ...interface{})  { l.s.Warnw(msg, kv...) }
