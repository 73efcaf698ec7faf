package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jazzmind/vibefunder/internal/services/auth/storage"
)

// RecordLoginAttempt appends a login attempt audit record.
func (s *Store) RecordLoginAttempt(ctx context.Context, attempt storage.LoginAttempt) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(attempt.ID) == "" {
		return fmt.Errorf("attempt id is required")
	}
	if strings.TrimSpace(attempt.Email) == "" {
		return fmt.Errorf("attempt email is required")
	}

	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO login_attempts (id, email, ip, user_agent, successful, created_at)
VALUES (?, ?, ?, ?, ?, ?)
`,
		attempt.ID,
		attempt.Email,
		attempt.IP,
		attempt.UserAgent,
		boolToInt(attempt.Successful),
		toMillis(attempt.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("record login attempt: %w", err)
	}
	return nil
}

// CountFailedAttempts counts failed attempts from an IP in the window.
func (s *Store) CountFailedAttempts(ctx context.Context, ip string, since time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if s == nil || s.sqlDB == nil {
		return 0, fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(ip) == "" {
		return 0, nil
	}

	var count int
	err := s.sqlDB.QueryRowContext(ctx, `
SELECT COUNT(*) FROM login_attempts WHERE ip = ? AND successful = 0 AND created_at >= ?
`, ip, toMillis(since)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count failed attempts: %w", err)
	}
	return count, nil
}

// DeleteLoginAttemptsBefore prunes attempt records older than the cutoff.
func (s *Store) DeleteLoginAttemptsBefore(ctx context.Context, cutoff time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	_, err := s.sqlDB.ExecContext(ctx, `DELETE FROM login_attempts WHERE created_at < ?`, toMillis(cutoff))
	if err != nil {
		return fmt.Errorf("delete login attempts: %w", err)
	}
	return nil
}

// PutLoginCode stores a one-time login code.
func (s *Store) PutLoginCode(ctx context.Context, code storage.LoginCode) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(code.ID) == "" {
		return fmt.Errorf("code id is required")
	}
	if strings.TrimSpace(code.Email) == "" {
		return fmt.Errorf("code email is required")
	}
	if strings.TrimSpace(code.Code) == "" {
		return fmt.Errorf("code value is required")
	}

	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO login_codes (id, user_id, email, code, created_at, expires_at, used_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
`,
		code.ID,
		code.UserID,
		code.Email,
		code.Code,
		toMillis(code.CreatedAt),
		toMillis(code.ExpiresAt),
		nullMillis(code.UsedAt),
	)
	if err != nil {
		return fmt.Errorf("put login code: %w", err)
	}
	return nil
}

// GetLoginCode returns the newest code row matching email and code value.
func (s *Store) GetLoginCode(ctx context.Context, email string, code string) (storage.LoginCode, error) {
	if err := ctx.Err(); err != nil {
		return storage.LoginCode{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.LoginCode{}, fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(email) == "" || strings.TrimSpace(code) == "" {
		return storage.LoginCode{}, fmt.Errorf("email and code are required")
	}

	row := s.sqlDB.QueryRowContext(ctx, `
SELECT id, user_id, email, code, created_at, expires_at, used_at
FROM login_codes
WHERE email = ? AND code = ?
ORDER BY created_at DESC
LIMIT 1
`, email, code)

	var record storage.LoginCode
	var createdAt int64
	var expiresAt int64
	var usedAt sql.NullInt64
	if err := row.Scan(&record.ID, &record.UserID, &record.Email, &record.Code, &createdAt, &expiresAt, &usedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.LoginCode{}, storage.ErrNotFound
		}
		return storage.LoginCode{}, fmt.Errorf("get login code: %w", err)
	}
	record.CreatedAt = fromMillis(createdAt)
	record.ExpiresAt = fromMillis(expiresAt)
	record.UsedAt = millisPtr(usedAt)
	return record, nil
}

// MarkLoginCodeUsed consumes a code; only an unused code can be consumed.
func (s *Store) MarkLoginCodeUsed(ctx context.Context, id string, usedAt time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("code id is required")
	}

	result, err := s.sqlDB.ExecContext(ctx, `
UPDATE login_codes SET used_at = ? WHERE id = ? AND used_at IS NULL
`, toMillis(usedAt), id)
	if err != nil {
		return fmt.Errorf("mark login code used: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark login code used: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// DeleteExpiredLoginCodes removes codes past their expiry.
func (s *Store) DeleteExpiredLoginCodes(ctx context.Context, now time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	_, err := s.sqlDB.ExecContext(ctx, `DELETE FROM login_codes WHERE expires_at < ?`, toMillis(now))
	if err != nil {
		return fmt.Errorf("delete expired login codes: %w", err)
	}
	return nil
}
