package store

import (
	"bytes"
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sheetkeeper/sheetkeeper/internal/core/compact"
)

var (
	// ErrStateNotFound means no state is stored for the owner.
	ErrStateNotFound = errors.New("state not found")
	// ErrStateIncomplete means stored parts are missing or do not belong
	// to the same write.
	ErrStateIncomplete = errors.New("stored state is incomplete")
)

// SaveState replaces the owner's stored document with encoded, split into
// as many parts as the split advice recommends for the store's part size.
// It returns the number of parts written.
func (s *Store) SaveState(ctx context.Context, owner string, encoded []byte) (int, error) {
	if s == nil || s.DB == nil {
		return 0, ErrNotInitialized
	}
	if ctx == nil {
		ctx = context.Background()
	}

	owner = strings.TrimSpace(owner)
	if owner == "" {
		return 0, errors.New("owner is required")
	}
	if len(encoded) == 0 {
		return 0, errors.New("state payload is empty")
	}

	advice := compact.AdviseSize(len(encoded), s.partBytes())
	chunks := splitChunks(encoded, advice.RecommendedParts)
	checksum := digest(encoded)
	now := time.Now().UTC().Unix()

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin state write: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM state_parts WHERE owner = ?`, owner); err != nil {
		return 0, fmt.Errorf("clear previous state: %w", err)
	}

	for i, chunk := range chunks {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO state_parts (owner, part, total, data, checksum, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)
		`, owner, i, len(chunks), chunk, checksum, now); err != nil {
			return 0, fmt.Errorf("store state part %d/%d: %w", i+1, len(chunks), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit state write: %w", err)
	}
	return len(chunks), nil
}

// LoadState reassembles the owner's stored document.
func (s *Store) LoadState(ctx context.Context, owner string) ([]byte, error) {
	if s == nil || s.DB == nil {
		return nil, ErrNotInitialized
	}
	if ctx == nil {
		ctx = context.Background()
	}

	owner = strings.TrimSpace(owner)
	if owner == "" {
		return nil, errors.New("owner is required")
	}

	rows, err := s.DB.QueryContext(ctx, `
		SELECT part, total, data, checksum
		FROM state_parts
		WHERE owner = ?
		ORDER BY part
	`, owner)
	if err != nil {
		return nil, fmt.Errorf("load state: %w", err)
	}
	defer rows.Close() // nolint:errcheck // best-effort cleanup

	var (
		buf      bytes.Buffer
		count    int
		total    int
		checksum string
	)
	for rows.Next() {
		var (
			part     int
			rowTotal int
			data     []byte
			sum      sql.NullString
		)
		if err := rows.Scan(&part, &rowTotal, &data, &sum); err != nil {
			return nil, fmt.Errorf("scan state part: %w", err)
		}
		if count == 0 {
			total = rowTotal
			checksum = sum.String
		}
		if part != count || rowTotal != total || sum.String != checksum {
			return nil, fmt.Errorf("%w: part %d of %d out of sequence", ErrStateIncomplete, part, rowTotal)
		}
		buf.Write(data)
		count++
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load state: %w", err)
	}

	if count == 0 {
		return nil, ErrStateNotFound
	}
	if count != total {
		return nil, fmt.Errorf("%w: have %d of %d parts", ErrStateIncomplete, count, total)
	}
	if checksum != "" && digest(buf.Bytes()) != checksum {
		return nil, fmt.Errorf("%w: checksum mismatch", ErrStateIncomplete)
	}

	return buf.Bytes(), nil
}

// DeleteState removes every stored part for owner.
func (s *Store) DeleteState(ctx context.Context, owner string) error {
	if s == nil || s.DB == nil {
		return ErrNotInitialized
	}
	if ctx == nil {
		ctx = context.Background()
	}

	if _, err := s.DB.ExecContext(ctx, `DELETE FROM state_parts WHERE owner = ?`, strings.TrimSpace(owner)); err != nil {
		return fmt.Errorf("delete state: %w", err)
	}
	return nil
}

func (s *Store) partBytes() int {
	if s.MaxPartBytes > 0 {
		return s.MaxPartBytes
	}
	return compact.DefaultMaxSizeBytes
}

// splitChunks cuts data into parts contiguous chunks of near-equal size.
func splitChunks(data []byte, parts int) [][]byte {
	if parts < 1 {
		parts = 1
	}
	size := (len(data) + parts - 1) / parts
	chunks := make([][]byte, 0, parts)
	for start := 0; start < len(data); start += size {
		end := start + size
		if end > len(data) {
			end = len(data)
		}
		chunks = append(chunks, data[start:end])
	}
	return chunks
}

func digest(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
