package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Window returns the stored call timestamps for (limiter, key), oldest
// first. A missing window is empty.
func (s *Store) Window(ctx context.Context, limiter, key string) ([]time.Time, error) {
	if s == nil || s.DB == nil {
		return nil, ErrNotInitialized
	}

	if ctx == nil {
		ctx = context.Background()
	}

	limiter, key, err := windowID(limiter, key)
	if err != nil {
		return nil, err
	}

	var raw string
	row := s.DB.QueryRowContext(ctx, `
		SELECT timestamps
		FROM rate_windows
		WHERE limiter = ? AND key = ?
	`, limiter, key)

	if err := row.Scan(&raw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("fetch rate window: %w", err)
	}

	return decodeTimestamps(raw)
}

// SaveWindow replaces the stored window. An empty window deletes the row.
func (s *Store) SaveWindow(ctx context.Context, limiter, key string, timestamps []time.Time) error {
	if s == nil || s.DB == nil {
		return ErrNotInitialized
	}

	if ctx == nil {
		ctx = context.Background()
	}

	if len(timestamps) == 0 {
		return s.DeleteWindow(ctx, limiter, key)
	}

	limiter, key, err := windowID(limiter, key)
	if err != nil {
		return err
	}

	raw, err := encodeTimestamps(timestamps)
	if err != nil {
		return err
	}

	_, err = s.DB.ExecContext(ctx, `
		INSERT INTO rate_windows (limiter, key, timestamps, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(limiter, key) DO UPDATE SET
			timestamps = excluded.timestamps,
			updated_at = excluded.updated_at
	`, limiter, key, raw, time.Now().UTC().Unix())
	if err != nil {
		return fmt.Errorf("store rate window: %w", err)
	}

	return nil
}

// DeleteWindow clears the window for (limiter, key).
func (s *Store) DeleteWindow(ctx context.Context, limiter, key string) error {
	if s == nil || s.DB == nil {
		return ErrNotInitialized
	}

	if ctx == nil {
		ctx = context.Background()
	}

	limiter, key, err := windowID(limiter, key)
	if err != nil {
		return err
	}

	if _, err := s.DB.ExecContext(ctx, `
		DELETE FROM rate_windows
		WHERE limiter = ? AND key = ?
	`, limiter, key); err != nil {
		return fmt.Errorf("delete rate window: %w", err)
	}
	return nil
}

// windowID validates the limiter name. Any key, including "", names a
// window, matching the in-memory store.
func windowID(limiter, key string) (string, string, error) {
	limiter = strings.TrimSpace(limiter)
	if limiter == "" {
		return "", "", errors.New("limiter is required")
	}
	return limiter, key, nil
}

// Timestamps are stored as a JSON array of unix nanoseconds.
func encodeTimestamps(timestamps []time.Time) (string, error) {
	values := make([]int64, len(timestamps))
	for i, ts := range timestamps {
		values[i] = ts.UnixNano()
	}
	data, err := json.Marshal(values)
	if err != nil {
		return "", fmt.Errorf("encode rate window: %w", err)
	}
	return string(data), nil
}

func decodeTimestamps(raw string) ([]time.Time, error) {
	var values []int64
	if err := json.Unmarshal([]byte(raw), &values); err != nil {
		return nil, fmt.Errorf("decode rate window: %w", err)
	}
	timestamps := make([]time.Time, len(values))
	for i, value := range values {
		timestamps[i] = time.Unix(0, value).UTC()
	}
	return timestamps, nil
}
