package http

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"expensync/internal/core"
)

func TestParseFilter(t *testing.T) {
	tests := []struct {
		name    string
		query   string
		want    core.Filter
		wantErr string
	}{
		{
			name:  "empty",
			query: "",
			want:  core.Filter{},
		},
		{
			name:  "month is zero padded",
			query: "year=2024&month=3",
			want:  core.Filter{Year: "2024", Month: "03"},
		},
		{
			name:  "party status and tag",
			query: "to_be_paid_by=Mom&payment_status=Partially+Paid&tag=%20weekly%20",
			want:  core.Filter{ToBePaidBy: core.Mom, PaymentStatus: core.PartiallyPaid, Tag: "weekly"},
		},
		{
			name:    "unknown party",
			query:   "to_be_paid_by=Uncle",
			wantErr: "to_be_paid_by",
		},
		{
			name:    "unknown status",
			query:   "payment_status=Late",
			wantErr: "payment_status",
		},
		{
			name:    "bad year",
			query:   "year=abc",
			wantErr: "year",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, err := url.ParseQuery(tt.query)
			if err != nil {
				t.Fatalf("parse query: %v", err)
			}
			got, err := ParseFilter(q)
			if tt.wantErr != "" {
				verr, ok := err.(*core.ValidationError)
				if !ok {
					t.Fatalf("ParseFilter() error = %v, want *ValidationError", err)
				}
				if verr.Field != tt.wantErr {
					t.Errorf("ParseFilter() field = %q, want %q", verr.Field, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseFilter() error = %v", err)
			}
			if got.Year != tt.want.Year || got.Month != tt.want.Month || got.ToBePaidBy != tt.want.ToBePaidBy ||
				got.PaymentStatus != tt.want.PaymentStatus || got.Tag != tt.want.Tag || got.IsFixed != nil {
				t.Errorf("ParseFilter() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestParseFilterIsFixed(t *testing.T) {
	got, err := ParseFilter(url.Values{"is_fixed": {"true"}})
	if err != nil {
		t.Fatalf("ParseFilter() error = %v", err)
	}
	if got.IsFixed == nil || !*got.IsFixed {
		t.Errorf("ParseFilter() IsFixed = %v, want true", got.IsFixed)
	}
}

func TestParseMonths(t *testing.T) {
	if n, err := ParseMonths(url.Values{}, 6); err != nil || n != 6 {
		t.Errorf("ParseMonths(default) = %d, %v", n, err)
	}
	if n, err := ParseMonths(url.Values{"months": {"12"}}, 6); err != nil || n != 12 {
		t.Errorf("ParseMonths(12) = %d, %v", n, err)
	}
	if _, err := ParseMonths(url.Values{"months": {"-1"}}, 6); err == nil {
		t.Error("ParseMonths(-1) error = nil")
	}
}

func TestDecodeExpenseInputSanitizes(t *testing.T) {
	body := `{"title":"  Dinner\u0007 ","amount":12.5,"tags":" out ","remark":"ok"}`
	r := httptest.NewRequest(http.MethodPost, "/api/expenses", strings.NewReader(body))
	in, err := DecodeExpenseInput(httptest.NewRecorder(), r)
	if err != nil {
		t.Fatalf("DecodeExpenseInput() error = %v", err)
	}
	if in.Title != "Dinner" {
		t.Errorf("Title = %q, want Dinner", in.Title)
	}
	if in.Tags != "out" {
		t.Errorf("Tags = %q, want out", in.Tags)
	}
	if in.Amount.String() != "12.5" {
		t.Errorf("Amount = %s, want 12.5", in.Amount)
	}
}

func TestDecodeRejectsTrailingData(t *testing.T) {
	r := httptest.NewRequest(http.MethodPut, "/api/expenses/x", strings.NewReader(`{"title":"a"}{"title":"b"}`))
	if _, err := DecodeExpensePatch(httptest.NewRecorder(), r); err == nil {
		t.Fatal("DecodeExpensePatch() error = nil, want error")
	}
}
