package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"expensync/internal/core"
)

// maxBodyBytes bounds JSON request bodies.
const maxBodyBytes = 1 << 20

// ParseFilter builds a Filter from query parameters. Unknown parties and
// statuses are rejected rather than silently matching nothing.
func ParseFilter(query url.Values) (core.Filter, error) {
	f := core.Filter{
		Month:         strings.TrimSpace(query.Get("month")),
		Year:          strings.TrimSpace(query.Get("year")),
		Category:      sanitizeInput(query.Get("category")),
		PaymentStatus: core.PaymentStatus(strings.TrimSpace(query.Get("payment_status"))),
		ToBePaidBy:    core.Party(strings.TrimSpace(query.Get("to_be_paid_by"))),
		Tag:           sanitizeInput(query.Get("tag")),
	}

	if f.ToBePaidBy != "" && !f.ToBePaidBy.Valid() {
		return core.Filter{}, &core.ValidationError{Field: "to_be_paid_by", Reason: "unknown party " + string(f.ToBePaidBy)}
	}
	switch f.PaymentStatus {
	case "", core.Unpaid, core.PartiallyPaid, core.Paid:
	default:
		return core.Filter{}, &core.ValidationError{Field: "payment_status", Reason: "unknown status " + string(f.PaymentStatus)}
	}
	if v := strings.TrimSpace(query.Get("is_fixed")); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return core.Filter{}, &core.ValidationError{Field: "is_fixed", Reason: "expected true or false"}
		}
		f.IsFixed = &b
	}

	return f.Normalize()
}

// ParseMonths reads the months query parameter used by the trend view.
func ParseMonths(query url.Values, def int) (int, error) {
	v := strings.TrimSpace(query.Get("months"))
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 || n > 120 {
		return 0, &core.ValidationError{Field: "months", Reason: "expected 1-120"}
	}
	return n, nil
}

// decodeJSON reads a single JSON object from the request body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var verr *core.ValidationError
		if errors.As(err, &verr) {
			return verr
		}
		if errors.Is(err, io.EOF) {
			return &core.ValidationError{Field: "body", Reason: "empty request body"}
		}
		return &core.ValidationError{Field: "body", Reason: fmt.Sprintf("malformed JSON: %v", err)}
	}
	if dec.More() {
		return &core.ValidationError{Field: "body", Reason: "unexpected data after JSON object"}
	}
	return nil
}

// DecodeExpenseInput decodes and sanitizes a new expense.
func DecodeExpenseInput(w http.ResponseWriter, r *http.Request) (core.ExpenseInput, error) {
	var in core.ExpenseInput
	if err := decodeJSON(w, r, &in); err != nil {
		return core.ExpenseInput{}, err
	}
	in.Title = sanitizeInput(in.Title)
	in.Category = sanitizeInput(in.Category)
	in.Tags = sanitizeInput(in.Tags)
	in.Remark = sanitizeInput(in.Remark)
	return in, nil
}

// DecodeExpensePatch decodes and sanitizes a partial update.
func DecodeExpensePatch(w http.ResponseWriter, r *http.Request) (core.ExpensePatch, error) {
	var patch core.ExpensePatch
	if err := decodeJSON(w, r, &patch); err != nil {
		return core.ExpensePatch{}, err
	}
	for _, s := range []*string{patch.Title, patch.Category, patch.Tags, patch.Remark} {
		if s != nil {
			*s = sanitizeInput(*s)
		}
	}
	return patch, nil
}
