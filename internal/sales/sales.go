// Package sales относит продажи к сменам и считает итоги по ним.
package sales

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mmeshcher/cashdrawer/internal/model"
	"github.com/mmeshcher/cashdrawer/internal/shift"
)

var (
	creditMarkers = []string{"credito", "crédito", "credit"}
	cashMarkers   = []string{"efectivo", "cash", "contado"}
)

// MethodTotal содержит сумму продаж по одному активному способу оплаты.
type MethodTotal struct {
	MethodID string          `json:"method_id"`
	Label    string          `json:"label"`
	Total    decimal.Decimal `json:"total"`
	Count    int             `json:"count"`
}

// Summary содержит итоги продаж смены.
type Summary struct {
	Count         int             `json:"count"`
	Gross         decimal.Decimal `json:"gross"`
	CreditTotal   decimal.Decimal `json:"credit_total"`
	CreditCount   int             `json:"credit_count"`
	ByMethod      []MethodTotal   `json:"by_method"`
	OpeningAmount decimal.Decimal `json:"opening_amount"`
	CashInDrawer  decimal.Decimal `json:"cash_in_drawer"`
}

// InLocation возвращает копию продаж с временем, переведённым в пояс loc.
// Окна смен задаются по местным часам, поэтому продажи приводятся к поясу кассы до распределения по сменам.
func InLocation(sales []model.SaleRecord, loc *time.Location) []model.SaleRecord {
	if loc == nil {
		return sales
	}
	res := make([]model.SaleRecord, len(sales))
	for i, s := range sales {
		s.Timestamp = s.Timestamp.In(loc)
		res[i] = s
	}
	return res
}

// AssignShift возвращает первую смену, окно которой, привязанное к дню продажи, содержит её время.
// День и минуты берутся в поясе sale.Timestamp; см. InLocation.
func AssignShift(sale model.SaleRecord, cfg *shift.Config) (string, bool) {
	for _, name := range cfg.Names() {
		if cfg.Contains(name, sale.Timestamp) {
			return name, true
		}
	}
	return "", false
}

// FilterByShift возвращает продажи, попавшие в окно [from, to) смены name относительно ref.
func FilterByShift(sales []model.SaleRecord, name string, cfg *shift.Config, ref time.Time) []model.SaleRecord {
	from, to := cfg.Range(name, ref)

	res := make([]model.SaleRecord, 0, len(sales))
	for _, s := range sales {
		if !s.Timestamp.Before(from) && s.Timestamp.Before(to) {
			res = append(res, s)
		}
	}
	return res
}

// GroupByShift раскладывает продажи по сменам. Продажи вне всех окон попадают под model.NoShift.
func GroupByShift(sales []model.SaleRecord, cfg *shift.Config) map[string][]model.SaleRecord {
	groups := make(map[string][]model.SaleRecord)
	for _, s := range sales {
		name, ok := AssignShift(s, cfg)
		if !ok {
			name = model.NoShift
		}
		groups[name] = append(groups[name], s)
	}
	return groups
}

// IsCredit сообщает, является ли способ оплаты кредитом.
func IsCredit(label string) bool {
	return containsAny(label, creditMarkers)
}

// IsCash сообщает, является ли способ оплаты наличными.
func IsCash(label string) bool {
	return containsAny(label, cashMarkers)
}

// Summarize считает итоги по продажам. Разбивка по способам оплаты строится только
// по активным способам; продажи по отключённым способам в неё не входят.
func Summarize(sales []model.SaleRecord, methods []model.PaymentMethod, opening decimal.Decimal) Summary {
	sum := Summary{
		Gross:         decimal.Zero,
		CreditTotal:   decimal.Zero,
		ByMethod:      make([]MethodTotal, 0, len(methods)),
		OpeningAmount: opening,
	}

	byLabel := make(map[string]int, len(methods))
	for _, m := range methods {
		label := normalize(m.Label)
		if _, dup := byLabel[label]; dup {
			continue
		}
		byLabel[label] = len(sum.ByMethod)
		sum.ByMethod = append(sum.ByMethod, MethodTotal{MethodID: m.ID, Label: m.Label, Total: decimal.Zero})
	}

	for _, s := range sales {
		sum.Count++

		if IsCredit(s.PaymentMethodLabel) {
			sum.CreditTotal = sum.CreditTotal.Add(s.Amount)
			sum.CreditCount++
		} else {
			sum.Gross = sum.Gross.Add(s.Amount)
		}

		if i, ok := byLabel[normalize(s.PaymentMethodLabel)]; ok {
			sum.ByMethod[i].Total = sum.ByMethod[i].Total.Add(s.Amount)
			sum.ByMethod[i].Count++
		}
	}

	sum.CashInDrawer = opening
	for _, mt := range sum.ByMethod {
		if IsCash(mt.Label) {
			sum.CashInDrawer = opening.Add(mt.Total)
			break
		}
	}

	return sum
}

func normalize(label string) string {
	return strings.ToLower(strings.TrimSpace(label))
}

func containsAny(label string, markers []string) bool {
	l := strings.ToLower(label)
	for _, m := range markers {
		if strings.Contains(l, m) {
			return true
		}
	}
	return false
}
