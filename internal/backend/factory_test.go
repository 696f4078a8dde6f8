package backend

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"expensync/internal/config"
	"expensync/internal/remote/httpapi"
	"expensync/internal/remote/memory"
	"expensync/internal/sheets"
	gsheet "expensync/internal/sheets/google"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeValues struct {
	updates   []string
	healthErr error
}

func (f *fakeValues) Get(context.Context, string) ([][]any, error) { return nil, nil }

func (f *fakeValues) Update(_ context.Context, rng string, _ [][]any) error {
	f.updates = append(f.updates, rng)
	return nil
}

func (f *fakeValues) Clear(context.Context, string) error { return nil }

func (f *fakeValues) Health(context.Context) error { return f.healthErr }

func TestFromAppConfig(t *testing.T) {
	_, err := FromAppConfig(nil)
	assert.Error(t, err)

	_, err = FromAppConfig(&config.Config{RemoteBackend: "sqlite"})
	assert.Error(t, err)

	cfg, err := FromAppConfig(&config.Config{
		RemoteBackend:       "sheets",
		GoogleSpreadsheetID: "sheet-1",
		GoogleSheetName:     "Expenses",
		RemoteTimeout:       3 * time.Second,
	})
	require.NoError(t, err)
	assert.Equal(t, SheetsBackend, cfg.Type)
	assert.Equal(t, "sheet-1", cfg.GoogleSpreadsheetID)
	assert.Equal(t, defaultCacheSweepInterval, cfg.CacheSweepInterval)
	assert.NoError(t, cfg.Validate())
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{"unknown type", Config{Type: "sqlite"}, true},
		{"http without url", Config{Type: HTTPBackend}, true},
		{"http", Config{Type: HTTPBackend, BaseURL: "http://localhost"}, false},
		{"sheets without id", Config{Type: SheetsBackend, GoogleSheetName: "Expenses"}, true},
		{"sheets without name", Config{Type: SheetsBackend, GoogleSpreadsheetID: "x"}, true},
		{"memory", Config{Type: MemoryBackend}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			assert.Equal(t, tt.wantErr, err != nil, "err = %v", err)
		})
	}
}

func TestCreateBackend_Memory(t *testing.T) {
	res, err := NewFactory(nil).CreateBackend(context.Background(), Config{Type: MemoryBackend})
	require.NoError(t, err)
	assert.IsType(t, &memory.Store{}, res.Remote)
	assert.NoError(t, res.Probe.Check(context.Background()))
	assert.NoError(t, res.Close())
}

func TestCreateBackend_HTTP(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	res, err := NewFactory(nil).CreateBackend(context.Background(), Config{
		Type:    HTTPBackend,
		BaseURL: srv.URL,
		Timeout: time.Second,
	})
	require.NoError(t, err)
	assert.IsType(t, &httpapi.Client{}, res.Remote)
	assert.NoError(t, res.Probe.Check(context.Background()))

	srv.Close()
	assert.Error(t, res.Probe.Check(context.Background()))
}

func TestCreateBackend_Sheets(t *testing.T) {
	values := &fakeValues{}
	f := NewFactory(nil).(*DefaultFactory)
	f.newValues = func(_ context.Context, cfg gsheet.Config) (sheetsValues, error) {
		assert.Equal(t, "sheet-1", cfg.SpreadsheetID)
		return values, nil
	}

	res, err := f.CreateBackend(context.Background(), Config{
		Type:                SheetsBackend,
		GoogleSpreadsheetID: "sheet-1",
		GoogleSheetName:     "Expenses",
	})
	require.NoError(t, err)
	assert.IsType(t, &sheets.Remote{}, res.Remote)
	assert.Equal(t, []string{"Expenses!A1:O1"}, values.updates)

	values.healthErr = errors.New("quota exceeded")
	assert.Error(t, res.Probe.Check(context.Background()))
	assert.NoError(t, res.Close())
}

func TestCreateBackend_SheetsClientError(t *testing.T) {
	f := NewFactory(nil).(*DefaultFactory)
	f.newValues = func(context.Context, gsheet.Config) (sheetsValues, error) {
		return nil, errors.New("missing service account credentials")
	}

	_, err := f.CreateBackend(context.Background(), Config{
		Type:                SheetsBackend,
		GoogleSpreadsheetID: "sheet-1",
		GoogleSheetName:     "Expenses",
	})
	assert.ErrorContains(t, err, "failed to initialize Google Sheets client")
}

func TestCreateBackend_InvalidConfig(t *testing.T) {
	_, err := NewFactory(nil).CreateBackend(context.Background(), Config{Type: "ftp"})
	assert.Error(t, err)
}
