package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// SettingLastSync is the settings key holding the last completed sync pass.
const SettingLastSync = "last_sync_time"

// GetSetting returns the value for key and whether it was set.
func (r *SQLiteRepository) GetSetting(ctx context.Context, key string) (string, bool, error) {
	var v string
	err := r.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, storageErr("get setting", err)
	}
	return v, true, nil
}

func (r *SQLiteRepository) SetSetting(ctx context.Context, key, value string) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO settings (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		return storageErr("set setting", err)
	}
	return nil
}

// LastSyncTime returns the zero time when no pass has completed yet.
func (r *SQLiteRepository) LastSyncTime(ctx context.Context) (time.Time, error) {
	v, ok, err := r.GetSetting(ctx, SettingLastSync)
	if err != nil || !ok {
		return time.Time{}, err
	}
	t, err := parseTime(v)
	if err != nil {
		return time.Time{}, storageErr("parse last sync time", err)
	}
	return t, nil
}

func (r *SQLiteRepository) SetLastSyncTime(ctx context.Context, t time.Time) error {
	return r.SetSetting(ctx, SettingLastSync, formatTime(t))
}
