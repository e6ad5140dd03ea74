package sales

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmeshcher/cashdrawer/internal/model"
	"github.com/mmeshcher/cashdrawer/internal/shift"
)

func testConfig(t *testing.T) *shift.Config {
	t.Helper()
	cfg, err := shift.NewConfig(model.ShiftConfig{
		Shifts: []model.ShiftDefinition{
			{Name: "León", Window: model.ShiftWindow{Start: "05:00", End: "12:00"}},
			{Name: "Lobo", Window: model.ShiftWindow{Start: "12:00", End: "19:00"}},
			{Name: "Búho", Window: model.ShiftWindow{Start: "19:00", End: "05:00"}},
		},
		Order: []string{"León", "Lobo", "Búho"},
	})
	require.NoError(t, err)
	return cfg
}

func at(day, hhmm string) time.Time {
	ts, err := time.ParseInLocation("2006-01-02 15:04", day+" "+hhmm, time.UTC)
	if err != nil {
		panic(err)
	}
	return ts
}

func sale(id string, ts time.Time, amount, method string) model.SaleRecord {
	return model.SaleRecord{
		ID:                 id,
		Timestamp:          ts,
		Amount:             decimal.RequireFromString(amount),
		PaymentMethodLabel: method,
		ProductName:        "Magna",
	}
}

func TestAssignShift(t *testing.T) {
	cfg := testConfig(t)

	tests := []struct {
		at   time.Time
		want string
	}{
		{at: at("2024-03-15", "23:30"), want: "Búho"},
		{at: at("2024-03-15", "02:10"), want: "Búho"},
		{at: at("2024-03-15", "05:00"), want: "León"},
		{at: at("2024-03-15", "18:59"), want: "Lobo"},
	}

	for _, tt := range tests {
		got, ok := AssignShift(sale("x", tt.at, "1", "Efectivo"), cfg)
		require.True(t, ok)
		assert.Equal(t, tt.want, got, tt.at.String())
	}

	_, ok := AssignShift(sale("x", at("2024-03-15", "10:00"), "1", "Efectivo"), nil)
	assert.False(t, ok)
}

func TestFilterByShift_NightSaleAtReferenceDay(t *testing.T) {
	cfg := testConfig(t)
	ref := at("2024-03-15", "23:30")
	night := sale("n", ref, "500", "Efectivo")

	assert.Len(t, FilterByShift([]model.SaleRecord{night}, "Búho", cfg, ref), 1)
	assert.Empty(t, FilterByShift([]model.SaleRecord{night}, "León", cfg, ref))
	assert.Empty(t, FilterByShift([]model.SaleRecord{night}, "Lobo", cfg, ref))
}

func TestFilterByShift_NightSpansMidnight(t *testing.T) {
	cfg := testConfig(t)
	records := []model.SaleRecord{
		sale("before", at("2024-03-14", "18:59"), "1", "Efectivo"),
		sale("evening", at("2024-03-14", "21:00"), "1", "Efectivo"),
		sale("late", at("2024-03-15", "04:59"), "1", "Efectivo"),
		sale("morning", at("2024-03-15", "05:00"), "1", "Efectivo"),
	}

	got := FilterByShift(records, "Búho", cfg, at("2024-03-15", "03:00"))

	ids := make([]string, 0, len(got))
	for _, s := range got {
		ids = append(ids, s.ID)
	}
	assert.Equal(t, []string{"evening", "late"}, ids)
}

func TestFilterByShift_UnknownShiftUsesWholeDay(t *testing.T) {
	cfg := testConfig(t)
	records := []model.SaleRecord{
		sale("today", at("2024-03-15", "00:00"), "1", "Efectivo"),
		sale("tomorrow", at("2024-03-16", "00:00"), "1", "Efectivo"),
	}

	got := FilterByShift(records, model.NoShift, cfg, at("2024-03-15", "12:00"))
	require.Len(t, got, 1)
	assert.Equal(t, "today", got[0].ID)
}

func TestInLocation(t *testing.T) {
	cfg := testConfig(t)
	lima := time.FixedZone("PET", -5*60*60)

	// 14:00 UTC это 09:00 по местному времени кассы.
	records := []model.SaleRecord{sale("a", at("2024-03-15", "14:00"), "1", "Efectivo")}

	name, ok := AssignShift(records[0], cfg)
	require.True(t, ok)
	assert.Equal(t, "Lobo", name)

	local := InLocation(records, lima)
	require.Len(t, local, 1)
	assert.True(t, local[0].Timestamp.Equal(records[0].Timestamp))
	assert.Equal(t, time.UTC, records[0].Timestamp.Location())

	name, ok = AssignShift(local[0], cfg)
	require.True(t, ok)
	assert.Equal(t, "León", name)

	assert.Equal(t, records, InLocation(records, nil))
}

func TestGroupByShift(t *testing.T) {
	cfg := testConfig(t)
	groups := GroupByShift([]model.SaleRecord{
		sale("a", at("2024-03-15", "06:00"), "1", "Efectivo"),
		sale("b", at("2024-03-15", "13:00"), "1", "Efectivo"),
		sale("c", at("2024-03-15", "01:00"), "1", "Efectivo"),
	}, cfg)

	assert.Len(t, groups["León"], 1)
	assert.Len(t, groups["Lobo"], 1)
	assert.Len(t, groups["Búho"], 1)

	empty := GroupByShift([]model.SaleRecord{sale("a", at("2024-03-15", "06:00"), "1", "Efectivo")}, nil)
	assert.Len(t, empty[model.NoShift], 1)
}

func TestSummarize(t *testing.T) {
	ts := at("2024-03-15", "13:00")
	records := []model.SaleRecord{
		sale("1", ts, "100.25", "Efectivo"),
		sale("2", ts, "50", "EFECTIVO"),
		sale("3", ts, "200", "Tarjeta"),
		sale("4", ts, "300", "Crédito Empresarial"),
		sale("5", ts, "75", "credito"),
		sale("6", ts, "40", "Vales"),
	}
	methods := []model.PaymentMethod{
		{ID: "cash", Label: "Efectivo"},
		{ID: "card", Label: "Tarjeta"},
		{ID: "credit", Label: "Crédito Empresarial"},
	}

	sum := Summarize(records, methods, decimal.RequireFromString("500"))

	assert.Equal(t, 6, sum.Count)
	assert.True(t, decimal.RequireFromString("390.25").Equal(sum.Gross), sum.Gross.String())
	assert.True(t, decimal.RequireFromString("375").Equal(sum.CreditTotal), sum.CreditTotal.String())
	assert.Equal(t, 2, sum.CreditCount)

	require.Len(t, sum.ByMethod, 3)
	assert.Equal(t, "cash", sum.ByMethod[0].MethodID)
	assert.True(t, decimal.RequireFromString("150.25").Equal(sum.ByMethod[0].Total))
	assert.Equal(t, 2, sum.ByMethod[0].Count)
	assert.True(t, decimal.RequireFromString("200").Equal(sum.ByMethod[1].Total))
	assert.True(t, decimal.RequireFromString("300").Equal(sum.ByMethod[2].Total))

	assert.True(t, decimal.RequireFromString("650.25").Equal(sum.CashInDrawer), sum.CashInDrawer.String())
}

func TestSummarize_NoCashMethod(t *testing.T) {
	sum := Summarize(
		[]model.SaleRecord{sale("1", time.Now(), "10", "Tarjeta")},
		[]model.PaymentMethod{{ID: "card", Label: "Tarjeta"}},
		decimal.RequireFromString("80"),
	)

	assert.True(t, decimal.RequireFromString("80").Equal(sum.CashInDrawer))
	assert.True(t, decimal.RequireFromString("10").Equal(sum.Gross))
}

func TestPaymentMarkers(t *testing.T) {
	assert.True(t, IsCredit("Credit card"))
	assert.True(t, IsCredit("CRÉDITO"))
	assert.False(t, IsCredit("Débito"))
	assert.True(t, IsCash("Contado"))
	assert.True(t, IsCash("Cash"))
	assert.False(t, IsCash("Transferencia"))
}
