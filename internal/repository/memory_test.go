package repository

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmeshcher/cashdrawer/internal/model"
)

func TestMemoryRepository_SessionLifecycle(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	now := time.Date(2024, 3, 15, 19, 2, 0, 0, time.UTC)
	repo.SetClock(func() time.Time { return now })

	opened, err := repo.OpenSession(ctx, model.OpenRequest{
		DayKey:        "2024-03-15",
		ShiftName:     "Búho",
		OpeningAmount: decimal.RequireFromString("100"),
		OpenedBy:      model.Actor{ID: "u-1"},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, opened.ID)
	assert.Equal(t, model.SessionStatusOpen, opened.Status)
	require.NotNil(t, opened.OpenedAt)
	assert.True(t, now.Equal(*opened.OpenedAt))

	_, err = repo.OpenSession(ctx, model.OpenRequest{DayKey: "2024-03-15", ShiftName: "Búho"})
	assert.ErrorIs(t, err, model.ErrSessionExists)

	got, err := repo.GetSession(ctx, "2024-03-15", "Búho")
	require.NoError(t, err)
	assert.Equal(t, opened.ID, got.ID)

	closed, err := repo.CloseSession(ctx, model.CloseRequest{
		SessionID:     opened.ID,
		ClosingAmount: decimal.RequireFromString("120.50"),
		SalesAmount:   decimal.RequireFromString("20.50"),
		ClosedBy:      model.Actor{ID: "u-2"},
	})
	require.NoError(t, err)
	assert.Equal(t, model.SessionStatusClosed, closed.Status)
	require.NotNil(t, closed.ClosingAmount)
	assert.Equal(t, "120.5", closed.ClosingAmount.String())

	_, err = repo.CloseSession(ctx, model.CloseRequest{SessionID: opened.ID})
	assert.ErrorIs(t, err, model.ErrSessionClosed)

	_, err = repo.CloseSession(ctx, model.CloseRequest{SessionID: "missing"})
	assert.ErrorIs(t, err, model.ErrSessionNotFound)

	_, err = repo.GetSession(ctx, "2024-03-16", "Búho")
	assert.ErrorIs(t, err, model.ErrSessionNotFound)
}

func TestMemoryRepository_DayHistory(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()

	for _, req := range []model.OpenRequest{
		{DayKey: "2024-03-15", ShiftName: "León"},
		{DayKey: "2024-03-15", ShiftName: "Lobo"},
		{DayKey: "2024-03-16", ShiftName: "León"},
	} {
		_, err := repo.OpenSession(ctx, req)
		require.NoError(t, err)
	}

	list, err := repo.GetDayHistory(ctx, "2024-03-15")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "León", list[0].ShiftName)
	assert.Equal(t, "Lobo", list[1].ShiftName)
}

func TestMemoryRepository_RecentSales(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	base := time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		require.NoError(t, repo.addSale(ctx, model.SaleRecord{
			Timestamp:          base.Add(time.Duration(i) * time.Minute),
			Amount:             decimal.NewFromInt(int64(i + 1)),
			PaymentMethodLabel: "Efectivo",
		}))
	}

	list, err := repo.GetRecentSales(ctx, 3)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, "5", list[0].Amount.String())
	assert.Equal(t, "3", list[2].Amount.String())
	assert.NotEmpty(t, list[0].ID)
}

func TestMemoryRepository_Catalogs(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()

	cfg, err := repo.GetShiftConfig(ctx)
	require.NoError(t, err)
	assert.Equal(t, DefaultShiftConfig(), cfg)

	cfg.Order[0] = "changed"
	again, err := repo.GetShiftConfig(ctx)
	require.NoError(t, err)
	assert.Equal(t, "León", again.Order[0])

	methods, err := repo.GetActivePaymentMethods(ctx)
	require.NoError(t, err)
	assert.Len(t, methods, 3)
}
