package core

import (
	"fmt"
	"strconv"
	"strings"
)

// Filter selects expenses. Zero-valued fields match everything.
//
// Month and Year select on the snapshot month: both set means an exact
// YYYY-MM match, Year alone is a prefix match and Month alone a suffix match.
type Filter struct {
	Month         string
	Year          string
	Category      string
	PaymentStatus PaymentStatus
	ToBePaidBy    Party
	IsFixed       *bool
	Tag           string
}

// Normalize zero-pads the month and validates month and year.
func (f Filter) Normalize() (Filter, error) {
	if f.Month != "" {
		n, err := strconv.Atoi(f.Month)
		if err != nil || n < 1 || n > 12 {
			return f, &ValidationError{Field: "month", Reason: "expected 1-12"}
		}
		f.Month = fmt.Sprintf("%02d", n)
	}
	if f.Year != "" {
		n, err := strconv.Atoi(f.Year)
		if err != nil || n < 1 || n > 9999 {
			return f, &ValidationError{Field: "year", Reason: "expected a four digit year"}
		}
		f.Year = fmt.Sprintf("%04d", n)
	}
	return f, nil
}

// Match reports whether e satisfies every predicate of f. f must be normalized.
func (f Filter) Match(e Expense) bool {
	sm := string(e.SnapshotMonth)
	switch {
	case f.Month != "" && f.Year != "":
		if sm != f.Year+"-"+f.Month {
			return false
		}
	case f.Year != "":
		if !strings.HasPrefix(sm, f.Year+"-") {
			return false
		}
	case f.Month != "":
		if !strings.HasSuffix(sm, "-"+f.Month) {
			return false
		}
	}
	if f.Category != "" && e.Category != f.Category {
		return false
	}
	if f.PaymentStatus != "" && e.PaymentStatus != f.PaymentStatus {
		return false
	}
	if f.ToBePaidBy != "" && e.ToBePaidBy != f.ToBePaidBy {
		return false
	}
	if f.IsFixed != nil && e.IsFixed != *f.IsFixed {
		return false
	}
	if f.Tag != "" && !strings.Contains(strings.ToLower(e.Tags), strings.ToLower(f.Tag)) {
		return false
	}
	return true
}

// ForMonth returns a filter selecting exactly month m.
func ForMonth(m Month) Filter {
	s := string(m)
	if len(s) != len(MonthLayout) {
		return Filter{}
	}
	return Filter{Year: s[:4], Month: s[5:]}
}
