// Package analytics derives read-only views from a set of expenses. Every
// function is a pure reduction: the same input always yields the same output.
package analytics

import (
	"sort"
	"strings"
	"time"

	"expensync/internal/core"

	"github.com/shopspring/decimal"
)

// DefaultTrendMonths is how many months MonthlyTrend returns when n <= 0.
const DefaultTrendMonths = 12

type Direction string

const (
	Up      Direction = "up"
	Down    Direction = "down"
	Neutral Direction = "neutral"
)

var hundred = decimal.NewFromInt(100)

type Summary struct {
	TotalExpense        decimal.Decimal `json:"total_expense"`
	TotalPaid           decimal.Decimal `json:"total_paid"`
	TotalUnpaid         decimal.Decimal `json:"total_unpaid"`
	CurrentMonth        core.Month      `json:"current_month"`
	CurrentMonthExpense decimal.Decimal `json:"current_month_expense"`
	CurrentYearExpense  decimal.Decimal `json:"current_year_expense"`
	LastMonthExpense    decimal.Decimal `json:"last_month_expense"`
	TrendPercentage     decimal.Decimal `json:"trend_percentage"`
	TrendDirection      Direction       `json:"trend_direction"`
	AvgDailySpend       decimal.Decimal `json:"avg_daily_spend"`
	ExpenseCount        int             `json:"expense_count"`
}

type Settlement struct {
	MomOwes      decimal.Decimal `json:"mom_owes"`
	DadOwes      decimal.Decimal `json:"dad_owes"`
	IOwe         decimal.Decimal `json:"i_owe"`
	OthersOwe    decimal.Decimal `json:"others_owe"`
	TotalSettled decimal.Decimal `json:"total_settled"`
}

type CategoryTotals struct {
	Total  decimal.Decimal `json:"total"`
	Paid   decimal.Decimal `json:"paid"`
	Unpaid decimal.Decimal `json:"unpaid"`
	Count  int             `json:"count"`
}

type MonthTotals struct {
	Month  core.Month      `json:"month"`
	Total  decimal.Decimal `json:"total"`
	Paid   decimal.Decimal `json:"paid"`
	Unpaid decimal.Decimal `json:"unpaid"`
}

type Partition struct {
	Total decimal.Decimal `json:"total"`
	Count int             `json:"count"`
}

type FixedVsVariable struct {
	Fixed    Partition `json:"fixed"`
	Variable Partition `json:"variable"`
}

// Summarize computes overall totals and the month-over-month trend relative to now.
func Summarize(expenses []core.Expense, now time.Time) Summary {
	current := core.MonthOf(now)
	previous := current.Prev()
	year := current.String()[:4] + "-"

	s := Summary{CurrentMonth: current, ExpenseCount: len(expenses), TrendDirection: Neutral}
	for _, e := range expenses {
		s.TotalExpense = s.TotalExpense.Add(e.Amount)
		s.TotalPaid = s.TotalPaid.Add(e.PaidAmount)
		s.TotalUnpaid = s.TotalUnpaid.Add(e.RemainingBalance)
		switch e.SnapshotMonth {
		case current:
			s.CurrentMonthExpense = s.CurrentMonthExpense.Add(e.Amount)
		case previous:
			s.LastMonthExpense = s.LastMonthExpense.Add(e.Amount)
		}
		if strings.HasPrefix(string(e.SnapshotMonth), year) {
			s.CurrentYearExpense = s.CurrentYearExpense.Add(e.Amount)
		}
	}

	s.TrendPercentage, s.TrendDirection = Trend(s.CurrentMonthExpense, s.LastMonthExpense)
	s.AvgDailySpend = s.CurrentMonthExpense.Div(decimal.NewFromInt(int64(now.Day()))).Round(2)
	return s
}

// Trend returns the percentage change from previous to current, rounded to
// one decimal place, and its direction. A zero previous total yields 0 and neutral.
func Trend(current, previous decimal.Decimal) (decimal.Decimal, Direction) {
	if !previous.IsPositive() {
		return decimal.Zero, Neutral
	}
	pct := current.Sub(previous).Div(previous).Mul(hundred).Round(1)
	switch pct.Sign() {
	case 1:
		return pct, Up
	case -1:
		return pct, Down
	default:
		return pct, Neutral
	}
}

// Settle sums outstanding balances per responsible party. Unknown parties count as Me.
func Settle(expenses []core.Expense) Settlement {
	var s Settlement
	for _, e := range expenses {
		switch e.ToBePaidBy {
		case core.Mom:
			s.MomOwes = s.MomOwes.Add(e.RemainingBalance)
		case core.Dad:
			s.DadOwes = s.DadOwes.Add(e.RemainingBalance)
		case core.Others:
			s.OthersOwe = s.OthersOwe.Add(e.RemainingBalance)
		default:
			s.IOwe = s.IOwe.Add(e.RemainingBalance)
		}
		s.TotalSettled = s.TotalSettled.Add(e.PaidAmount)
	}
	return s
}

func ByCategory(expenses []core.Expense) map[string]CategoryTotals {
	out := make(map[string]CategoryTotals)
	for _, e := range expenses {
		cat := e.Category
		if cat == "" {
			cat = core.DefaultCategory
		}
		t := out[cat]
		t.Total = t.Total.Add(e.Amount)
		t.Paid = t.Paid.Add(e.PaidAmount)
		t.Unpaid = t.Unpaid.Add(e.RemainingBalance)
		t.Count++
		out[cat] = t
	}
	return out
}

// ByMonth groups totals by snapshot month.
func ByMonth(expenses []core.Expense) map[core.Month]MonthTotals {
	out := make(map[core.Month]MonthTotals)
	for _, e := range expenses {
		t := out[e.SnapshotMonth]
		t.Month = e.SnapshotMonth
		t.Total = t.Total.Add(e.Amount)
		t.Paid = t.Paid.Add(e.PaidAmount)
		t.Unpaid = t.Unpaid.Add(e.RemainingBalance)
		out[e.SnapshotMonth] = t
	}
	return out
}

// MonthlyTrend returns the n most recent months that have expenses, oldest first.
func MonthlyTrend(expenses []core.Expense, n int) []MonthTotals {
	if n <= 0 {
		n = DefaultTrendMonths
	}
	byMonth := ByMonth(expenses)
	months := make([]core.Month, 0, len(byMonth))
	for m := range byMonth {
		months = append(months, m)
	}
	sort.Slice(months, func(i, j int) bool { return months[i] > months[j] })
	if len(months) > n {
		months = months[:n]
	}

	out := make([]MonthTotals, len(months))
	for i, m := range months {
		out[len(months)-1-i] = byMonth[m]
	}
	return out
}

func SplitFixed(expenses []core.Expense) FixedVsVariable {
	var out FixedVsVariable
	for _, e := range expenses {
		p := &out.Variable
		if e.IsFixed {
			p = &out.Fixed
		}
		p.Total = p.Total.Add(e.Amount)
		p.Count++
	}
	return out
}

// Tags returns every distinct tag, sorted.
func Tags(expenses []core.Expense) []string {
	seen := make(map[string]struct{})
	for _, e := range expenses {
		for _, t := range e.TagList() {
			seen[t] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for t := range seen {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// SnapshotOf closes month over expenses; records of other months are ignored.
func SnapshotOf(month core.Month, expenses []core.Expense, now time.Time) core.Snapshot {
	snap := core.Snapshot{
		Month:             month,
		CategoryBreakdown: make(map[string]decimal.Decimal),
		CreatedAt:         now,
		IsLocked:          true,
	}
	for _, e := range expenses {
		if e.SnapshotMonth != month {
			continue
		}
		snap.TotalExpense = snap.TotalExpense.Add(e.Amount)
		snap.TotalPaid = snap.TotalPaid.Add(e.PaidAmount)
		snap.TotalUnpaid = snap.TotalUnpaid.Add(e.RemainingBalance)
		snap.CategoryBreakdown[e.Category] = snap.CategoryBreakdown[e.Category].Add(e.Amount)
	}
	return snap
}
