// Package repository содержит реализации удалённого хранилища кассовых сессий, смен и продаж.
package repository

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/shopspring/decimal"

	"github.com/mmeshcher/cashdrawer/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const sessionColumns = `id, day_key, shift_name, status, opening_amount, opened_by_id, opened_by_name, opened_at,
	closing_amount, closed_by_id, closed_by_name, closed_at, sales_amount, notes`

// PostgresRepository предоставляет доступ к кассовым сессиям, сменам и продажам в PostgreSQL.
type PostgresRepository struct {
	pool   *pgxpool.Pool
	delays []time.Duration
}

// NewPostgresRepository создаёт новый репозиторий и инициализирует схему БД через миграции.
func NewPostgresRepository(dsn string) (*PostgresRepository, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	r := &PostgresRepository{
		pool:   pool,
		delays: []time.Duration{1 * time.Second, 3 * time.Second, 5 * time.Second},
	}

	if err := r.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return r, nil
}

func (r *PostgresRepository) runMigrations(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(r.pool)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

// withRetry повторяет fn при конфликте сериализации, взаимной блокировке и обрыве соединения.
func (r *PostgresRepository) withRetry(ctx context.Context, fn func() error) error {
	var err error

	for i := 0; i <= len(r.delays); i++ {
		err = fn()
		if err == nil {
			return nil
		}

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		if !isRetryable(err) || i == len(r.delays) {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(r.delays[i]):
		}
	}

	return err
}

func isRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected
	}
	return isConnectionError(err)
}

func isConnectionError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "broken pipe") ||
		strings.Contains(msg, "connection reset by peer")
}

// Close закрывает пул соединений с БД.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// GetSession возвращает сессию для пары (день, смена).
func (r *PostgresRepository) GetSession(ctx context.Context, dayKey, shiftName string) (*model.CashDrawerSession, error) {
	var sess *model.CashDrawerSession
	err := r.withRetry(ctx, func() error {
		row := r.pool.QueryRow(ctx,
			`SELECT `+sessionColumns+` FROM cash_drawer_sessions WHERE day_key = $1 AND shift_name = $2`,
			dayKey, shiftName,
		)
		var err error
		sess, err = scanSession(row)
		return err
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.ErrSessionNotFound
		}
		return nil, fmt.Errorf("get session: %w", err)
	}
	return sess, nil
}

// OpenSession создаёт открытую сессию. Повторное открытие той же пары возвращает model.ErrSessionExists.
func (r *PostgresRepository) OpenSession(ctx context.Context, req model.OpenRequest) (*model.CashDrawerSession, error) {
	id := uuid.New()

	var sess *model.CashDrawerSession
	err := r.withRetry(ctx, func() error {
		row := r.pool.QueryRow(ctx,
			`INSERT INTO cash_drawer_sessions (id, day_key, shift_name, status, opening_amount, opened_by_id, opened_by_name)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)
			 RETURNING `+sessionColumns,
			id, req.DayKey, req.ShiftName, string(model.SessionStatusOpen),
			toCents(req.OpeningAmount), req.OpenedBy.ID, req.OpenedBy.Name,
		)
		var err error
		sess, err = scanSession(row)
		return err
	})
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return nil, fmt.Errorf("%w: %s %s", model.ErrSessionExists, req.DayKey, req.ShiftName)
		}
		return nil, fmt.Errorf("open session: %w", err)
	}

	return sess, nil
}

// CloseSession закрывает сессию по идентификатору. Строка сессии блокируется на время проверки статуса.
func (r *PostgresRepository) CloseSession(ctx context.Context, req model.CloseRequest) (*model.CashDrawerSession, error) {
	id, err := uuid.Parse(req.SessionID)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", model.ErrSessionNotFound, req.SessionID)
	}

	var sess *model.CashDrawerSession
	err = r.withRetry(ctx, func() error {
		var err error
		sess, err = r.closeSession(ctx, id, req)
		return err
	})
	if err != nil {
		return nil, err
	}

	return sess, nil
}

func (r *PostgresRepository) closeSession(ctx context.Context, id uuid.UUID, req model.CloseRequest) (*model.CashDrawerSession, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var status string
	err = tx.QueryRow(ctx, `SELECT status FROM cash_drawer_sessions WHERE id = $1 FOR UPDATE`, id).Scan(&status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", model.ErrSessionNotFound, req.SessionID)
		}
		return nil, fmt.Errorf("lock session: %w", err)
	}
	if model.SessionStatus(status) == model.SessionStatusClosed {
		return nil, fmt.Errorf("%w: %s", model.ErrSessionClosed, req.SessionID)
	}

	row := tx.QueryRow(ctx,
		`UPDATE cash_drawer_sessions
		 SET status = $2, closing_amount = $3, sales_amount = $4, closed_by_id = $5, closed_by_name = $6,
		     closed_at = NOW(), notes = $7
		 WHERE id = $1
		 RETURNING `+sessionColumns,
		id, string(model.SessionStatusClosed), toCents(req.ClosingAmount), toCents(req.SalesAmount),
		req.ClosedBy.ID, req.ClosedBy.Name, req.Notes,
	)
	sess, err := scanSession(row)
	if err != nil {
		return nil, fmt.Errorf("update session: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}

	return sess, nil
}

// GetDayHistory возвращает все сессии дня в порядке открытия.
func (r *PostgresRepository) GetDayHistory(ctx context.Context, dayKey string) ([]model.CashDrawerSession, error) {
	var res []model.CashDrawerSession
	err := r.withRetry(ctx, func() error {
		rows, err := r.pool.Query(ctx,
			`SELECT `+sessionColumns+`
			 FROM cash_drawer_sessions
			 WHERE day_key = $1
			 ORDER BY opened_at`,
			dayKey,
		)
		if err != nil {
			return err
		}
		defer rows.Close()

		res = res[:0]
		for rows.Next() {
			sess, err := scanSession(rows)
			if err != nil {
				return fmt.Errorf("scan session: %w", err)
			}
			res = append(res, *sess)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("select day history: %w", err)
	}

	return res, nil
}

// GetShiftConfig возвращает смены в порядке объявления и порядок ротации.
func (r *PostgresRepository) GetShiftConfig(ctx context.Context) (model.ShiftConfig, error) {
	type rotated struct {
		name string
		pos  int
	}

	var (
		cfg   model.ShiftConfig
		order []rotated
	)
	err := r.withRetry(ctx, func() error {
		cfg, order = model.ShiftConfig{}, order[:0]

		rows, err := r.pool.Query(ctx,
			`SELECT name, start_time, end_time, rotation FROM shifts ORDER BY position`,
		)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var (
				def      model.ShiftDefinition
				rotation *int
			)
			if err := rows.Scan(&def.Name, &def.Window.Start, &def.Window.End, &rotation); err != nil {
				return fmt.Errorf("scan shift: %w", err)
			}
			cfg.Shifts = append(cfg.Shifts, def)
			if rotation != nil {
				order = append(order, rotated{name: def.Name, pos: *rotation})
			}
		}
		return rows.Err()
	})
	if err != nil {
		return model.ShiftConfig{}, fmt.Errorf("select shifts: %w", err)
	}

	slices.SortStableFunc(order, func(a, b rotated) int { return a.pos - b.pos })
	for _, o := range order {
		cfg.Order = append(cfg.Order, o.name)
	}

	return cfg, nil
}

// GetRecentSales возвращает последние limit продаж, начиная с самой новой.
func (r *PostgresRepository) GetRecentSales(ctx context.Context, limit int) ([]model.SaleRecord, error) {
	var res []model.SaleRecord
	err := r.withRetry(ctx, func() error {
		rows, err := r.pool.Query(ctx,
			`SELECT id, sold_at, amount, payment_method_label, product_name
			 FROM sales
			 ORDER BY sold_at DESC
			 LIMIT $1`,
			limit,
		)
		if err != nil {
			return err
		}
		defer rows.Close()

		res = res[:0]
		for rows.Next() {
			var (
				s     model.SaleRecord
				cents int64
			)
			if err := rows.Scan(&s.ID, &s.Timestamp, &cents, &s.PaymentMethodLabel, &s.ProductName); err != nil {
				return fmt.Errorf("scan sale: %w", err)
			}
			s.Amount = fromCents(cents)
			res = append(res, s)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("select sales: %w", err)
	}

	return res, nil
}

// GetActivePaymentMethods возвращает активные способы оплаты.
func (r *PostgresRepository) GetActivePaymentMethods(ctx context.Context) ([]model.PaymentMethod, error) {
	var res []model.PaymentMethod
	err := r.withRetry(ctx, func() error {
		rows, err := r.pool.Query(ctx,
			`SELECT id, label FROM payment_methods WHERE active ORDER BY id`,
		)
		if err != nil {
			return err
		}
		defer rows.Close()

		res = res[:0]
		for rows.Next() {
			var m model.PaymentMethod
			if err := rows.Scan(&m.ID, &m.Label); err != nil {
				return fmt.Errorf("scan payment method: %w", err)
			}
			res = append(res, m)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("select payment methods: %w", err)
	}

	return res, nil
}

// addSale сохраняет продажу. Продажи принадлежат внешней подсистеме, запись нужна только тестам.
func (r *PostgresRepository) addSale(ctx context.Context, s model.SaleRecord) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	_, err := r.pool.Exec(ctx,
		`INSERT INTO sales (id, sold_at, amount, payment_method_label, product_name) VALUES ($1, $2, $3, $4, $5)`,
		s.ID, s.Timestamp, toCents(s.Amount), s.PaymentMethodLabel, s.ProductName,
	)
	if err != nil {
		return fmt.Errorf("insert sale: %w", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (*model.CashDrawerSession, error) {
	var (
		s            model.CashDrawerSession
		id           uuid.UUID
		status       string
		opening      int64
		openedAt     time.Time
		closing      *int64
		closedByID   *string
		closedByName *string
		closedAt     *time.Time
		salesCents   *int64
	)

	err := row.Scan(&id, &s.DayKey, &s.ShiftName, &status, &opening, &s.OpenedBy.ID, &s.OpenedBy.Name, &openedAt,
		&closing, &closedByID, &closedByName, &closedAt, &salesCents, &s.Notes)
	if err != nil {
		return nil, err
	}

	s.ID = id.String()
	s.Status = model.SessionStatus(status)
	s.OpeningAmount = fromCents(opening)
	s.OpenedAt = &openedAt
	s.ClosedAt = closedAt

	if closing != nil {
		v := fromCents(*closing)
		s.ClosingAmount = &v
	}
	if salesCents != nil {
		v := fromCents(*salesCents)
		s.SalesAmount = &v
	}
	if closedByID != nil {
		by := model.Actor{ID: *closedByID}
		if closedByName != nil {
			by.Name = *closedByName
		}
		s.ClosedBy = &by
	}

	return &s, nil
}

func toCents(d decimal.Decimal) int64 {
	return d.Shift(2).Round(0).IntPart()
}

func fromCents(c int64) decimal.Decimal {
	return decimal.New(c, -2)
}
