package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

type RateWindowEntry struct {
	Limiter    string
	Key        string
	Timestamps []time.Time
	UpdatedAt  time.Time
}

type RateWindowQuery struct {
	All     bool
	Limiter string
	Key     string
	Prefix  string
}

func (q RateWindowQuery) Validate() error {
	if q.All {
		return nil
	}
	if strings.TrimSpace(q.Limiter) != "" {
		return nil
	}
	if q.Key != "" {
		return nil
	}
	if strings.TrimSpace(q.Prefix) != "" {
		return nil
	}
	return errors.New("must specify --all, --limiter, --key, or --prefix")
}

// whereClause narrows by limiter and then by exact key or key prefix.
func (q RateWindowQuery) whereClause() (string, []any, error) {
	if err := q.Validate(); err != nil {
		return "", nil, err
	}
	if q.All {
		return "", nil, nil
	}

	var (
		conds []string
		args  []any
	)
	if limiter := strings.TrimSpace(q.Limiter); limiter != "" {
		conds = append(conds, "limiter = ?")
		args = append(args, limiter)
	}
	if q.Key != "" {
		conds = append(conds, "key = ?")
		args = append(args, q.Key)
	} else if prefix := strings.TrimSpace(q.Prefix); prefix != "" {
		conds = append(conds, "key LIKE ? ESCAPE '\\'")
		args = append(args, escapeLike(prefix)+"%")
	}
	return "WHERE " + strings.Join(conds, " AND "), args, nil
}

func escapeLike(value string) string {
	replacer := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return replacer.Replace(value)
}

func (s *Store) ListRateWindows(ctx context.Context, q RateWindowQuery) ([]RateWindowEntry, error) {
	if s == nil || s.DB == nil {
		return nil, ErrNotInitialized
	}
	if ctx == nil {
		ctx = context.Background()
	}

	where, args, err := q.whereClause()
	if err != nil {
		return nil, err
	}

	rows, err := s.DB.QueryContext(ctx, fmt.Sprintf(`
		SELECT limiter, key, timestamps, updated_at
		FROM rate_windows
		%s
		ORDER BY limiter, key
	`, where), args...)
	if err != nil {
		return nil, fmt.Errorf("list rate windows: %w", err)
	}
	defer rows.Close() // nolint:errcheck // best-effort cleanup

	entries := []RateWindowEntry{}
	for rows.Next() {
		var (
			limiter   string
			key       string
			raw       string
			updatedAt int64
		)
		if err := rows.Scan(&limiter, &key, &raw, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan rate windows: %w", err)
		}

		timestamps, err := decodeTimestamps(raw)
		if err != nil {
			return nil, err
		}

		entries = append(entries, RateWindowEntry{
			Limiter:    limiter,
			Key:        key,
			Timestamps: timestamps,
			UpdatedAt:  time.Unix(updatedAt, 0).UTC(),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list rate windows: %w", err)
	}

	return entries, nil
}

func (s *Store) CountRateWindows(ctx context.Context, q RateWindowQuery) (int, error) {
	if s == nil || s.DB == nil {
		return 0, ErrNotInitialized
	}
	if ctx == nil {
		ctx = context.Background()
	}

	where, args, err := q.whereClause()
	if err != nil {
		return 0, err
	}

	row := s.DB.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT COUNT(*)
		FROM rate_windows
		%s
	`, where), args...)

	var count int
	if err := row.Scan(&count); err != nil {
		return 0, fmt.Errorf("count rate windows: %w", err)
	}
	return count, nil
}

func (s *Store) ResetRateWindows(ctx context.Context, q RateWindowQuery) (int64, error) {
	if s == nil || s.DB == nil {
		return 0, ErrNotInitialized
	}
	if ctx == nil {
		ctx = context.Background()
	}

	where, args, err := q.whereClause()
	if err != nil {
		return 0, err
	}

	result, err := s.DB.ExecContext(ctx, fmt.Sprintf(`
		DELETE FROM rate_windows
		%s
	`, where), args...)
	if err != nil {
		return 0, fmt.Errorf("reset rate windows: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("reset rate windows: %w", err)
	}
	return affected, nil
}
