package core

import (
	"time"

	"github.com/shopspring/decimal"
)

// Snapshot is a persisted monthly close. Once locked, bulk operations leave
// expenses of that month untouched.
type Snapshot struct {
	Month             Month                      `json:"month"`
	TotalExpense      decimal.Decimal            `json:"total_expense"`
	TotalPaid         decimal.Decimal            `json:"total_paid"`
	TotalUnpaid       decimal.Decimal            `json:"total_unpaid"`
	CategoryBreakdown map[string]decimal.Decimal `json:"category_breakdown"`
	CreatedAt         time.Time                  `json:"created_at"`
	IsLocked          bool                       `json:"is_locked"`
}
