package backend

import (
	"context"
	"fmt"

	"expensync/internal/cache"
	"expensync/internal/log"
	"expensync/internal/network"
	"expensync/internal/remote/httpapi"
	"expensync/internal/remote/memory"
	"expensync/internal/sheets"
	gsheet "expensync/internal/sheets/google"
)

// DefaultFactory implements the Factory interface
type DefaultFactory struct {
	logger *log.Logger

	// newValues builds the Sheets port; replaced in tests.
	newValues func(ctx context.Context, cfg gsheet.Config) (sheetsValues, error)
}

// sheetsValues is the Sheets port plus the reachability check used as probe.
type sheetsValues interface {
	sheets.Values
	Health(ctx context.Context) error
}

// NewFactory creates a new backend factory
func NewFactory(logger *log.Logger) Factory {
	if logger == nil {
		logger = log.Default(log.ComponentBackend)
	}
	return &DefaultFactory{
		logger: logger,
		newValues: func(ctx context.Context, cfg gsheet.Config) (sheetsValues, error) {
			return gsheet.New(ctx, cfg)
		},
	}
}

// CreateBackend implements Factory.CreateBackend
func (f *DefaultFactory) CreateBackend(ctx context.Context, config Config) (*BackendResult, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	switch config.Type {
	case HTTPBackend:
		return f.createHTTPBackend(config)
	case SheetsBackend:
		return f.createSheetsBackend(ctx, config)
	case MemoryBackend:
		return f.createMemoryBackend()
	default:
		return nil, fmt.Errorf("unsupported backend type: %s", config.Type)
	}
}

func (f *DefaultFactory) createHTTPBackend(config Config) (*BackendResult, error) {
	client := httpapi.NewClient(config.BaseURL, nil, config.Timeout)

	f.logger.Info("Initialized HTTP remote backend",
		"base_url", config.BaseURL,
		"timeout", config.Timeout)

	return &BackendResult{
		Remote: client,
		Probe:  network.ProbeFunc(client.Health),
	}, nil
}

func (f *DefaultFactory) createSheetsBackend(ctx context.Context, config Config) (*BackendResult, error) {
	values, err := f.newValues(ctx, gsheet.Config{
		SpreadsheetID:      config.GoogleSpreadsheetID,
		ServiceAccountJSON: config.GoogleServiceAccountJSON,
		ServiceAccountFile: config.GoogleServiceAccountFile,
		OAuthClientJSON:    config.GoogleOAuthClientJSON,
		OAuthClientFile:    config.GoogleOAuthClientFile,
		OAuthTokenFile:     config.GoogleOAuthTokenFile,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Google Sheets client: %w", err)
	}

	rem := sheets.NewRemote(values, config.GoogleSheetName)
	if err := rem.EnsureHeader(ctx); err != nil {
		// Offline at startup; rows written later still start below the header.
		f.logger.Warn("Failed to ensure sheet header", log.FieldError, err)
	}

	interval := config.CacheSweepInterval
	if interval <= 0 {
		interval = defaultCacheSweepInterval
	}
	janitor := cache.NewJanitor()
	janitor.Register(rem.RowCache())
	janitor.Start(interval)

	f.logger.Info("Initialized Google Sheets backend",
		"spreadsheet_id", config.GoogleSpreadsheetID,
		"sheet", config.GoogleSheetName)

	return &BackendResult{
		Remote: rem,
		Probe:  network.ProbeFunc(values.Health),
		Cleanup: func() error {
			janitor.Stop()
			return nil
		},
	}, nil
}

func (f *DefaultFactory) createMemoryBackend() (*BackendResult, error) {
	store := memory.New()

	f.logger.Info("Initialized memory backend")

	return &BackendResult{
		Remote: store,
		Probe:  network.ProbeFunc(store.Health),
	}, nil
}
