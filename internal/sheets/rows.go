package sheets

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"expensync/internal/core"

	"github.com/shopspring/decimal"
)

// Column layout of the expenses sheet, A through O.
const (
	colSerial = iota
	colDate
	colTitle
	colAmount
	colCategory
	colToBePaidBy
	colPaid
	colRemaining
	colStatus
	colTags
	colKind
	colRemark
	colCreated
	colSnapshotMonth
	colID

	numCols
)

const (
	firstCol = "A"
	lastCol  = "O"
	idCol    = "O"

	kindFixed    = "Fixed"
	kindVariable = "Variable"
)

var header = []any{
	"S.No", "Date", "Title", "Amount", "Category", "To Be Paid By", "Paid Amount",
	"Remaining Balance", "Payment Status", "Tags", "Type", "Remark", "Created", "Snapshot Month", "ID",
}

var errBlankRow = errors.New("blank row")

func encodeRow(serial int, e core.Expense) []any {
	kind := kindVariable
	if e.IsFixed {
		kind = kindFixed
	}
	return []any{
		serial,
		e.Date.String(),
		e.Title,
		e.Amount.InexactFloat64(),
		e.Category,
		string(e.ToBePaidBy),
		e.PaidAmount.InexactFloat64(),
		e.RemainingBalance.InexactFloat64(),
		string(e.PaymentStatus),
		e.Tags,
		kind,
		e.Remark,
		e.CreatedAt.UTC().Format(time.RFC3339Nano),
		string(e.SnapshotMonth),
		e.ID,
	}
}

func cellStrings(row []any) []string {
	out := make([]string, numCols)
	for i := 0; i < len(row) && i < numCols; i++ {
		if row[i] == nil {
			continue
		}
		out[i] = strings.TrimSpace(fmt.Sprint(row[i]))
	}
	return out
}

// decodeRow parses one sheet row. Derived columns are recomputed rather
// than trusted, since they may have been edited by hand.
func decodeRow(row []any) (core.Expense, int, error) {
	cols := cellStrings(row)
	if cols[colID] == "" {
		return core.Expense{}, 0, errBlankRow
	}

	serial, _ := strconv.Atoi(cols[colSerial])

	amount, err := core.ParseAmount(cols[colAmount])
	if err != nil {
		return core.Expense{}, 0, fmt.Errorf("row %s: amount %q: %w", cols[colID], cols[colAmount], err)
	}
	paid := decimal.Zero
	if cols[colPaid] != "" {
		if paid, err = core.ParseAmount(cols[colPaid]); err != nil {
			return core.Expense{}, 0, fmt.Errorf("row %s: paid amount %q: %w", cols[colID], cols[colPaid], err)
		}
	}
	date, err := core.ParseDate(cols[colDate])
	if err != nil {
		return core.Expense{}, 0, fmt.Errorf("row %s: date %q: %w", cols[colID], cols[colDate], err)
	}

	e := core.Expense{
		ID:            cols[colID],
		Title:         cols[colTitle],
		Amount:        amount,
		Category:      cols[colCategory],
		Date:          date,
		ToBePaidBy:    core.Party(cols[colToBePaidBy]),
		PaidAmount:    paid,
		Tags:          cols[colTags],
		IsFixed:       strings.EqualFold(cols[colKind], kindFixed),
		Remark:        cols[colRemark],
		SnapshotMonth: core.Month(cols[colSnapshotMonth]),
		Synced:        true,
	}
	if e.Category == "" {
		e.Category = core.DefaultCategory
	}
	if e.ToBePaidBy == "" {
		e.ToBePaidBy = core.Me
	}
	if created, err := time.Parse(time.RFC3339Nano, cols[colCreated]); err == nil {
		e.CreatedAt = created.UTC()
	}
	if e.SnapshotMonth == "" && !e.CreatedAt.IsZero() {
		e.SnapshotMonth = core.MonthOf(e.CreatedAt)
	}
	e.Recompute()

	return e, serial, nil
}

// stale reports whether the derived columns of row disagree with e.
func stale(row []any, e core.Expense) bool {
	cols := cellStrings(row)
	remaining, err := core.ParseAmount(cols[colRemaining])
	if err != nil || !remaining.Equal(e.RemainingBalance) {
		return true
	}
	return cols[colStatus] != string(e.PaymentStatus)
}
