package core

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	Me     Party = "Me"
	Mom    Party = "Mom"
	Dad    Party = "Dad"
	Others Party = "Others"
)

const (
	Unpaid        PaymentStatus = "Unpaid"
	PartiallyPaid PaymentStatus = "Partially Paid"
	Paid          PaymentStatus = "Paid"
)

const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// DefaultCategory is assigned when an expense is created without one.
const DefaultCategory = "Other"

// MaxTitleLength bounds expense titles.
const MaxTitleLength = 200

// DateLayout is the wire and storage layout of a calendar date.
const DateLayout = "2006-01-02"

// DefaultCategories is the built-in category set. Any non-empty category is accepted.
var DefaultCategories = []string{
	"Food", "Rent", "Subscriptions", "Dinner", "Blinkit",
	"Travel", "Utilities", "Shopping", "Other",
}

type (
	// Party is who is responsible for paying an expense.
	Party string

	PaymentStatus string

	// Action is the kind of outbox entry.
	Action string

	// Date is a calendar date without time of day.
	Date struct {
		time.Time
	}

	Expense struct {
		ID               string          `json:"id"`
		Title            string          `json:"title"`
		Amount           decimal.Decimal `json:"amount"`
		Category         string          `json:"category"`
		Date             Date            `json:"date"`
		ToBePaidBy       Party           `json:"to_be_paid_by"`
		PaidAmount       decimal.Decimal `json:"paid_amount"`
		RemainingBalance decimal.Decimal `json:"remaining_balance"`
		PaymentStatus    PaymentStatus   `json:"payment_status"`
		Tags             string          `json:"tags"`
		IsFixed          bool            `json:"is_fixed"`
		Remark           string          `json:"remark"`
		Synced           bool            `json:"synced"`
		CreatedAt        time.Time       `json:"created_timestamp"`
		SnapshotMonth    Month           `json:"snapshot_month"`

		// RemoteConfirmed is set once the remote store has acknowledged any
		// action for this record. It never leaves the local store.
		RemoteConfirmed bool `json:"-"`
	}

	// ExpenseInput carries the caller-supplied fields of a new expense.
	ExpenseInput struct {
		ID         string          `json:"id,omitempty"`
		Title      string          `json:"title"`
		Amount     decimal.Decimal `json:"amount"`
		Category   string          `json:"category,omitempty"`
		Date       Date            `json:"date,omitempty"`
		ToBePaidBy Party           `json:"to_be_paid_by,omitempty"`
		PaidAmount decimal.Decimal `json:"paid_amount"`
		Tags       string          `json:"tags,omitempty"`
		IsFixed    bool            `json:"is_fixed"`
		Remark     string          `json:"remark,omitempty"`
	}

	// ExpensePatch is a partial update; nil fields are left unchanged.
	ExpensePatch struct {
		Title      *string          `json:"title,omitempty"`
		Amount     *decimal.Decimal `json:"amount,omitempty"`
		Category   *string          `json:"category,omitempty"`
		Date       *Date            `json:"date,omitempty"`
		ToBePaidBy *Party           `json:"to_be_paid_by,omitempty"`
		PaidAmount *decimal.Decimal `json:"paid_amount,omitempty"`
		Tags       *string          `json:"tags,omitempty"`
		IsFixed    *bool            `json:"is_fixed,omitempty"`
		Remark     *string          `json:"remark,omitempty"`
	}

	// QueueEntry is one pending outbox operation.
	QueueEntry struct {
		ID        string    `json:"id"`
		ExpenseID string    `json:"expense_id"`
		Action    Action    `json:"action"`
		Payload   Expense   `json:"payload"`
		Timestamp time.Time `json:"timestamp"`
	}
)

// Valid reports whether p is one of the known parties.
func (p Party) Valid() bool {
	switch p {
	case Me, Mom, Dad, Others:
		return true
	}
	return false
}

// NewDate creates a new Date from year, month, day
func NewDate(year, month, day int) Date {
	return Date{Time: time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)}
}

// DateOf truncates t to its calendar day in t's location.
func DateOf(t time.Time) Date {
	return NewDate(t.Year(), int(t.Month()), t.Day())
}

// ParseDate parses a YYYY-MM-DD string. Longer ISO timestamps are cut to their date part.
func ParseDate(s string) (Date, error) {
	s = strings.TrimSpace(s)
	if len(s) > len(DateLayout) {
		s = s[:len(DateLayout)]
	}
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return Date{}, &ValidationError{Field: "date", Reason: "expected YYYY-MM-DD"}
	}
	return Date{Time: t}, nil
}

func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return d.Format(DateLayout)
}

func (d Date) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Date) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	if s == "" {
		*d = Date{}
		return nil
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// StatusFor derives the payment status from an amount and what has been paid of it.
func StatusFor(amount, paid decimal.Decimal) PaymentStatus {
	switch {
	case paid.GreaterThanOrEqual(amount):
		return Paid
	case paid.IsPositive():
		return PartiallyPaid
	default:
		return Unpaid
	}
}

// Recompute refreshes the fields derived from Amount and PaidAmount.
func (e *Expense) Recompute() {
	e.RemainingBalance = e.Amount.Sub(e.PaidAmount)
	e.PaymentStatus = StatusFor(e.Amount, e.PaidAmount)
}

func (e Expense) Validate() error {
	if len(strings.TrimSpace(e.Title)) == 0 {
		return &ValidationError{Field: "title", Reason: "must not be empty"}
	}
	if len(e.Title) > MaxTitleLength {
		return &ValidationError{Field: "title", Reason: "too long (max 200 characters)"}
	}
	if !e.Amount.IsPositive() {
		return &ValidationError{Field: "amount", Reason: "must be positive"}
	}
	if e.PaidAmount.IsNegative() {
		return &ValidationError{Field: "paid_amount", Reason: "must not be negative"}
	}
	if e.PaidAmount.GreaterThan(e.Amount) {
		return &ValidationError{Field: "paid_amount", Reason: "must not exceed amount"}
	}
	if strings.TrimSpace(e.Category) == "" {
		return &ValidationError{Field: "category", Reason: "must not be empty"}
	}
	if !e.ToBePaidBy.Valid() {
		return &ValidationError{Field: "to_be_paid_by", Reason: "unknown party " + string(e.ToBePaidBy)}
	}
	if e.Date.IsZero() {
		return &ValidationError{Field: "date", Reason: "must be set"}
	}
	if err := e.SnapshotMonth.Validate(); err != nil {
		return err
	}
	return nil
}

// NewExpense builds a validated expense from input, filling defaults.
// The snapshot month defaults to the month of now.
func NewExpense(in ExpenseInput, id string, now time.Time) (Expense, error) {
	e := Expense{
		ID:            id,
		Title:         strings.TrimSpace(in.Title),
		Amount:        in.Amount,
		Category:      strings.TrimSpace(in.Category),
		Date:          in.Date,
		ToBePaidBy:    in.ToBePaidBy,
		PaidAmount:    in.PaidAmount,
		Tags:          strings.TrimSpace(in.Tags),
		IsFixed:       in.IsFixed,
		Remark:        in.Remark,
		CreatedAt:     now,
		SnapshotMonth: MonthOf(now),
	}
	if e.Category == "" {
		e.Category = DefaultCategory
	}
	if e.ToBePaidBy == "" {
		e.ToBePaidBy = Me
	}
	if e.Date.IsZero() {
		e.Date = DateOf(now)
	}
	e.Recompute()
	if err := e.Validate(); err != nil {
		return Expense{}, err
	}
	return e, nil
}

// Apply merges the patch onto e and recomputes derived fields.
// CreatedAt, SnapshotMonth and ID are never touched.
func (p ExpensePatch) Apply(e Expense) (Expense, error) {
	if p.Title != nil {
		e.Title = strings.TrimSpace(*p.Title)
	}
	if p.Amount != nil {
		e.Amount = *p.Amount
	}
	if p.Category != nil {
		e.Category = strings.TrimSpace(*p.Category)
	}
	if p.Date != nil {
		e.Date = *p.Date
	}
	if p.ToBePaidBy != nil {
		e.ToBePaidBy = *p.ToBePaidBy
	}
	if p.PaidAmount != nil {
		e.PaidAmount = *p.PaidAmount
	}
	if p.Tags != nil {
		e.Tags = strings.TrimSpace(*p.Tags)
	}
	if p.IsFixed != nil {
		e.IsFixed = *p.IsFixed
	}
	if p.Remark != nil {
		e.Remark = *p.Remark
	}
	e.Recompute()
	if err := e.Validate(); err != nil {
		return Expense{}, err
	}
	return e, nil
}

// TagList splits the comma-separated tags, dropping blanks.
func (e Expense) TagList() []string {
	var out []string
	for _, t := range strings.Split(e.Tags, ",") {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}
