// Package recordstore is the tabular persistence layer: named sheets with a
// fixed header, append-only rows and linear scans. Every row carries a version
// so read-modify-write sequences can be made optimistic.
package recordstore

import (
	"context"
	"errors"
	"strings"
	"time"
)

var (
	ErrNotFound = errors.New("recordstore: row not found")
	// ErrConflict is returned by Save when the row changed since it was read.
	ErrConflict = errors.New("recordstore: row version conflict")
)

type Store interface {
	// Sheet opens the named sheet, creating it with header when absent.
	// Columns missing from an existing sheet's header are appended.
	Sheet(ctx context.Context, name string, header []string) (Sheet, error)
}

type Sheet interface {
	Name() string
	Header() []string
	AppendRow(ctx context.Context, values map[string]string) (*Row, error)
	Rows(ctx context.Context) ([]*Row, error)
	// Update writes row if its version is unchanged and bumps the version.
	Update(ctx context.Context, row *Row) error
}

type Row struct {
	key     int64
	version int64
	values  map[string]string
	sheet   Sheet
}

func newRow(sheet Sheet, key, version int64, values map[string]string) *Row {
	cp := make(map[string]string, len(values))
	for k, v := range values {
		cp[k] = v
	}
	return &Row{key: key, version: version, values: cp, sheet: sheet}
}

// Key is the row's stable position: insertion order within its sheet.
func (r *Row) Key() int64 { return r.key }

func (r *Row) Version() int64 { return r.version }

func (r *Row) Get(col string) string { return r.values[col] }

func (r *Row) Set(col, val string) { r.values[col] = val }

func (r *Row) Values() map[string]string {
	cp := make(map[string]string, len(r.values))
	for k, v := range r.values {
		cp[k] = v
	}
	return cp
}

func (r *Row) Save(ctx context.Context) error {
	return r.sheet.Update(ctx, r)
}

// Find returns the first row matching pred, scanning in insertion order.
func Find(ctx context.Context, sheet Sheet, pred func(*Row) bool) (*Row, error) {
	rows, err := sheet.Rows(ctx)
	if err != nil {
		return nil, err
	}
	for _, r := range rows {
		if pred(r) {
			return r, nil
		}
	}
	return nil, ErrNotFound
}

func FindAll(ctx context.Context, sheet Sheet, pred func(*Row) bool) ([]*Row, error) {
	rows, err := sheet.Rows(ctx)
	if err != nil {
		return nil, err
	}
	var out []*Row
	for _, r := range rows {
		if pred(r) {
			out = append(out, r)
		}
	}
	return out, nil
}

// Equals matches a column exactly.
func Equals(col, val string) func(*Row) bool {
	return func(r *Row) bool { return r.Get(col) == val }
}

// EqualsFold matches a column case-insensitively, ignoring surrounding spaces.
func EqualsFold(col, val string) func(*Row) bool {
	val = strings.TrimSpace(val)
	return func(r *Row) bool { return strings.EqualFold(strings.TrimSpace(r.Get(col)), val) }
}

func mergeHeader(existing, want []string) ([]string, bool) {
	seen := make(map[string]bool, len(existing))
	for _, c := range existing {
		seen[c] = true
	}
	out := append([]string(nil), existing...)
	changed := false
	for _, c := range want {
		if !seen[c] {
			out = append(out, c)
			seen[c] = true
			changed = true
		}
	}
	return out, changed
}

func bounded(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
