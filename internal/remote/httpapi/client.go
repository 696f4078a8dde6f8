// Package httpapi is the REST/JSON client of the remote expense API.
package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"expensync/internal/core"
	"expensync/internal/remote"

	"github.com/shopspring/decimal"
)

// maxErrorBody bounds how much of a failed response is kept as the error message.
const maxErrorBody = 512

// Client talks to the remote expense API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

var (
	_ remote.Client        = (*Client)(nil)
	_ remote.HealthChecker = (*Client)(nil)
)

// NewClient creates a client for baseURL. A nil httpClient gets a pooled
// client with the given timeout.
func NewClient(baseURL string, httpClient *http.Client, timeout time.Duration) *Client {
	if httpClient == nil {
		httpClient = NewPooledHTTPClient(timeout)
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
	}
}

// NewPooledHTTPClient returns an http.Client with connection pooling and a
// finite overall timeout so a hung request cannot stall a sync pass forever.
func NewPooledHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          20,
		MaxIdleConnsPerHost:   5,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: time.Second,
		ForceAttemptHTTP2:     true,
	}
	return &http.Client{Transport: transport, Timeout: timeout}
}

// expenseDTO is the wire shape of an expense; amounts travel as JSON numbers.
type expenseDTO struct {
	ID               string      `json:"id"`
	Date             string      `json:"date"`
	Title            string      `json:"title"`
	Amount           json.Number `json:"amount"`
	Category         string      `json:"category"`
	ToBePaidBy       string      `json:"to_be_paid_by"`
	PaidAmount       json.Number `json:"paid_amount"`
	RemainingBalance json.Number `json:"remaining_balance,omitempty"`
	PaymentStatus    string      `json:"payment_status,omitempty"`
	Tags             string      `json:"tags"`
	IsFixed          bool        `json:"is_fixed"`
	Remark           string      `json:"remark"`
	CreatedTimestamp string      `json:"created_timestamp,omitempty"`
	SnapshotMonth    string      `json:"snapshot_month,omitempty"`
}

func toDTO(e core.Expense) expenseDTO {
	dto := expenseDTO{
		ID:               e.ID,
		Date:             e.Date.String(),
		Title:            e.Title,
		Amount:           json.Number(e.Amount.String()),
		Category:         e.Category,
		ToBePaidBy:       string(e.ToBePaidBy),
		PaidAmount:       json.Number(e.PaidAmount.String()),
		RemainingBalance: json.Number(e.RemainingBalance.String()),
		PaymentStatus:    string(e.PaymentStatus),
		Tags:             e.Tags,
		IsFixed:          e.IsFixed,
		Remark:           e.Remark,
		SnapshotMonth:    string(e.SnapshotMonth),
	}
	if !e.CreatedAt.IsZero() {
		dto.CreatedTimestamp = e.CreatedAt.UTC().Format(time.RFC3339Nano)
	}
	return dto
}

func parseNumber(n json.Number) (decimal.Decimal, error) {
	if n == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(string(n))
}

func fromDTO(dto expenseDTO) (core.Expense, error) {
	e := core.Expense{
		ID:            dto.ID,
		Title:         dto.Title,
		Category:      dto.Category,
		ToBePaidBy:    core.Party(dto.ToBePaidBy),
		Tags:          dto.Tags,
		IsFixed:       dto.IsFixed,
		Remark:        dto.Remark,
		SnapshotMonth: core.Month(dto.SnapshotMonth),
	}
	var err error
	if e.Amount, err = parseNumber(dto.Amount); err != nil {
		return core.Expense{}, fmt.Errorf("decoding amount of %s: %w", dto.ID, err)
	}
	if e.PaidAmount, err = parseNumber(dto.PaidAmount); err != nil {
		return core.Expense{}, fmt.Errorf("decoding paid_amount of %s: %w", dto.ID, err)
	}
	if dto.Date != "" {
		if e.Date, err = core.ParseDate(dto.Date); err != nil {
			return core.Expense{}, fmt.Errorf("decoding date of %s: %w", dto.ID, err)
		}
	}
	if dto.CreatedTimestamp != "" {
		if e.CreatedAt, err = time.Parse(time.RFC3339Nano, dto.CreatedTimestamp); err != nil {
			// Timestamps without a zone are taken as UTC.
			if e.CreatedAt, err = time.Parse("2006-01-02T15:04:05.999999999", dto.CreatedTimestamp); err != nil {
				return core.Expense{}, fmt.Errorf("decoding created_timestamp of %s: %w", dto.ID, err)
			}
		}
	}
	e.Recompute()
	return e, nil
}

func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshaling request: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &remote.Error{Status: resp.StatusCode, Message: errorMessage(resp.Body)}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s %s response: %w", method, path, err)
	}
	return nil
}

// errorMessage extracts {"detail": ...} or {"message": ...} bodies, falling back to raw text.
func errorMessage(r io.Reader) string {
	raw, _ := io.ReadAll(io.LimitReader(r, maxErrorBody))
	var body struct {
		Detail  any    `json:"detail"`
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if json.Unmarshal(raw, &body) == nil {
		switch {
		case body.Message != "":
			return body.Message
		case body.Error != "":
			return body.Error
		case body.Detail != nil:
			if s, ok := body.Detail.(string); ok {
				return s
			}
			b, _ := json.Marshal(body.Detail)
			return string(b)
		}
	}
	return strings.TrimSpace(string(raw))
}

func (c *Client) Create(ctx context.Context, e core.Expense) (core.Expense, error) {
	var dto expenseDTO
	if err := c.do(ctx, http.MethodPost, "/api/expenses", toDTO(e), &dto); err != nil {
		return core.Expense{}, err
	}
	return fromDTO(dto)
}

func (c *Client) Update(ctx context.Context, id string, e core.Expense) (core.Expense, error) {
	var dto expenseDTO
	if err := c.do(ctx, http.MethodPut, "/api/expenses/"+url.PathEscape(id), toDTO(e), &dto); err != nil {
		return core.Expense{}, err
	}
	return fromDTO(dto)
}

func (c *Client) Delete(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/expenses/"+url.PathEscape(id), nil, nil)
}

func (c *Client) List(ctx context.Context, f core.Filter) ([]core.Expense, error) {
	q := url.Values{}
	set := func(k, v string) {
		if v != "" {
			q.Set(k, v)
		}
	}
	set("month", f.Month)
	set("year", f.Year)
	set("category", f.Category)
	set("payment_status", string(f.PaymentStatus))
	set("to_be_paid_by", string(f.ToBePaidBy))
	set("tag", f.Tag)
	if f.IsFixed != nil {
		q.Set("is_fixed", strconv.FormatBool(*f.IsFixed))
	}
	path := "/api/expenses"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var dtos []expenseDTO
	if err := c.do(ctx, http.MethodGet, path, nil, &dtos); err != nil {
		return nil, err
	}
	out := make([]core.Expense, 0, len(dtos))
	for _, dto := range dtos {
		e, err := fromDTO(dto)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

func (c *Client) ForceReconcile(ctx context.Context) (remote.ReconcileResult, error) {
	var res remote.ReconcileResult
	if err := c.do(ctx, http.MethodPost, "/api/sync/force", nil, &res); err != nil {
		return remote.ReconcileResult{}, err
	}
	return res, nil
}

func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/api/health", nil, nil)
}
