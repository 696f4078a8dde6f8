// Package sheets keeps expenses in a spreadsheet, one row per expense.
package sheets

import "context"

// Values is the cell-level port onto a spreadsheet. Ranges use A1 notation
// including the sheet name, e.g. "Expenses!A2:O".
type Values interface {
	Get(ctx context.Context, rng string) ([][]any, error)
	Update(ctx context.Context, rng string, rows [][]any) error
	Clear(ctx context.Context, rng string) error
}
