// Package otp issues and consumes short numeric one-time codes for password
// resets and admin two-factor sign-in. Codes live in the record store as
// SHA-256 hashes, so they survive restarts and are never stored in clear.
package otp

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"handytoknow/internal/infra/recordstore"
)

const SheetName = "One Time Codes"

const (
	ColCodeID    = "Code ID"
	ColEmail     = "Email"
	ColPurpose   = "Purpose"
	ColCodeHash  = "Code Hash"
	ColExpiresAt = "Expires At"
	ColUsed      = "Used"
	ColUsedAt    = "Used At"
	ColCreatedAt = "Created At"
	ColAttempts  = "Failed Attempts"
)

var Header = []string{ColCodeID, ColEmail, ColPurpose, ColCodeHash, ColExpiresAt, ColUsed, ColUsedAt, ColCreatedAt, ColAttempts}

type Purpose string

const (
	PurposePasswordReset Purpose = "password_reset"
	PurposeTwoFactor     Purpose = "two_factor"
)

const (
	PasswordResetTTL = 30 * time.Minute
	TwoFactorTTL     = 10 * time.Minute
)

// MaxAttempts wrong guesses invalidate the newest outstanding code.
const MaxAttempts = 5

// ErrInvalidCode covers wrong, expired and already used codes alike.
var ErrInvalidCode = errors.New("invalid or expired code")

type Store struct {
	store recordstore.Store
	now   func() time.Time

	mu    sync.Mutex
	sheet recordstore.Sheet
}

func NewStore(store recordstore.Store) *Store {
	return &Store{store: store, now: time.Now}
}

func (s *Store) open(ctx context.Context) (recordstore.Sheet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sheet != nil {
		return s.sheet, nil
	}
	sh, err := s.store.Sheet(ctx, SheetName, Header)
	if err != nil {
		return nil, err
	}
	s.sheet = sh
	return sh, nil
}

// Issue creates a fresh 6-digit code for email and purpose, valid for ttl.
// Codes issued earlier for the same email and purpose stop working.
func (s *Store) Issue(ctx context.Context, email string, purpose Purpose, ttl time.Duration) (string, error) {
	sheet, err := s.open(ctx)
	if err != nil {
		return "", err
	}

	code, err := generateCode()
	if err != nil {
		return "", err
	}

	now := s.now().UTC()
	outstanding, err := s.outstanding(ctx, sheet, email, purpose)
	if err != nil {
		return "", err
	}
	for _, row := range outstanding {
		markUsed(row, now)
		if err := row.Save(ctx); err != nil && !errors.Is(err, recordstore.ErrConflict) {
			return "", err
		}
	}

	_, err = sheet.AppendRow(ctx, map[string]string{
		ColCodeID:    uuid.NewString(),
		ColEmail:     normalizeEmail(email),
		ColPurpose:   string(purpose),
		ColCodeHash:  hashCode(code),
		ColExpiresAt: now.Add(ttl).Format(time.RFC3339),
		ColUsed:      "false",
		ColCreatedAt: now.Format(time.RFC3339),
		ColAttempts:  "0",
	})
	if err != nil {
		return "", fmt.Errorf("store one-time code: %w", err)
	}
	return code, nil
}

// Consume accepts code once: it must match an unused, unexpired code for
// email and purpose.
func (s *Store) Consume(ctx context.Context, email string, purpose Purpose, code string) error {
	_, err := s.Claim(ctx, email, purpose, code)
	return err
}

// Claim is a code marked used by Store.Claim. Release hands it back when the
// action it guarded could not be completed.
type Claim struct {
	row *recordstore.Row
}

// Claim marks a matching code used and returns it. The used flag is written
// with a versioned save, so of two concurrent claims only one succeeds. A
// mismatch counts against the newest outstanding code, which stops working
// after MaxAttempts failures.
func (s *Store) Claim(ctx context.Context, email string, purpose Purpose, code string) (*Claim, error) {
	code = strings.TrimSpace(code)
	want := []byte(hashCode(code))

	sheet, err := s.open(ctx)
	if err != nil {
		return nil, err
	}
	for attempt := 0; attempt < 3; attempt++ {
		candidates, err := s.outstanding(ctx, sheet, email, purpose)
		if err != nil {
			return nil, err
		}
		if len(candidates) == 0 {
			return nil, ErrInvalidCode
		}
		now := s.now().UTC()

		var match *recordstore.Row
		if len(code) == 6 {
			for _, row := range candidates {
				if subtle.ConstantTimeCompare([]byte(row.Get(ColCodeHash)), want) == 1 {
					match = row
					break
				}
			}
		}
		if match == nil {
			err := s.recordFailure(ctx, candidates[0], purpose, now)
			if errors.Is(err, recordstore.ErrConflict) {
				continue
			}
			if err != nil {
				return nil, err
			}
			return nil, ErrInvalidCode
		}

		expires, err := time.Parse(time.RFC3339, match.Get(ColExpiresAt))
		if err != nil || !now.Before(expires) {
			return nil, ErrInvalidCode
		}
		markUsed(match, now)
		if err := match.Save(ctx); err != nil {
			if errors.Is(err, recordstore.ErrConflict) {
				slog.Info("one-time code consumed concurrently", "purpose", purpose)
				return nil, ErrInvalidCode
			}
			return nil, err
		}
		return &Claim{row: match}, nil
	}
	slog.Warn("one-time code attempts kept conflicting", "purpose", purpose)
	return nil, ErrInvalidCode
}

// Release makes the claimed code usable again. Expiry still applies.
func (c *Claim) Release(ctx context.Context) error {
	c.row.Set(ColUsed, "false")
	c.row.Set(ColUsedAt, "")
	return c.row.Save(ctx)
}

func (s *Store) recordFailure(ctx context.Context, row *recordstore.Row, purpose Purpose, now time.Time) error {
	n, _ := strconv.Atoi(row.Get(ColAttempts))
	n++
	row.Set(ColAttempts, strconv.Itoa(n))
	if n >= MaxAttempts {
		markUsed(row, now)
		slog.Warn("one-time code locked after failed attempts", "purpose", purpose, "attempts", n)
	}
	return row.Save(ctx)
}

// outstanding returns unused codes for email and purpose, newest first.
func (s *Store) outstanding(ctx context.Context, sheet recordstore.Sheet, email string, purpose Purpose) ([]*recordstore.Row, error) {
	rows, err := recordstore.FindAll(ctx, sheet, func(r *recordstore.Row) bool {
		return r.Get(ColPurpose) == string(purpose) &&
			strings.EqualFold(r.Get(ColEmail), normalizeEmail(email)) &&
			!isUsed(r)
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].Key() > rows[j].Key() })
	return rows, nil
}

func isUsed(r *recordstore.Row) bool {
	used, _ := strconv.ParseBool(r.Get(ColUsed))
	return used
}

func markUsed(r *recordstore.Row, now time.Time) {
	r.Set(ColUsed, "true")
	r.Set(ColUsedAt, now.Format(time.RFC3339))
}

func generateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", fmt.Errorf("generate code: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

func hashCode(code string) string {
	sum := sha256.Sum256([]byte(code))
	return hex.EncodeToString(sum[:])
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
