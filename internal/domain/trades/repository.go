package trades

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"handytoknow/internal/infra/recordstore"
)

// maxWriteAttempts bounds the optimistic read-modify-write loop in Update.
const maxWriteAttempts = 3

var ErrNotFound = errors.New("trade account not found")

type Repository struct {
	store recordstore.Store
	locks *keyedLocks
	now   func() time.Time

	mu    sync.Mutex
	sheet recordstore.Sheet
}

func NewRepository(store recordstore.Store) *Repository {
	return &Repository{store: store, locks: newKeyedLocks(), now: time.Now}
}

// Sheet opens the Tradespeople sheet once and reuses the handle.
func (r *Repository) Sheet(ctx context.Context) (recordstore.Sheet, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sheet != nil {
		return r.sheet, nil
	}
	s, err := r.store.Sheet(ctx, SheetName, Header)
	if err != nil {
		return nil, err
	}
	r.sheet = s
	return s, nil
}

func (r *Repository) Create(ctx context.Context, values map[string]string) (*recordstore.Row, error) {
	s, err := r.Sheet(ctx)
	if err != nil {
		return nil, err
	}
	return s.AppendRow(ctx, values)
}

func (r *Repository) find(ctx context.Context, pred func(*recordstore.Row) bool) (*recordstore.Row, error) {
	s, err := r.Sheet(ctx)
	if err != nil {
		return nil, err
	}
	row, err := recordstore.Find(ctx, s, pred)
	if errors.Is(err, recordstore.ErrNotFound) {
		return nil, ErrNotFound
	}
	return row, err
}

func (r *Repository) FindByID(ctx context.Context, tradeID string) (*recordstore.Row, error) {
	if tradeID == "" {
		return nil, ErrNotFound
	}
	return r.find(ctx, recordstore.Equals(ColTradeID, tradeID))
}

func (r *Repository) FindByEmail(ctx context.Context, email string) (*recordstore.Row, error) {
	return r.find(ctx, recordstore.EqualsFold(ColEmail, email))
}

func (r *Repository) FindBySubscriptionID(ctx context.Context, subscriptionID string) (*recordstore.Row, error) {
	if subscriptionID == "" {
		return nil, ErrNotFound
	}
	return r.find(ctx, recordstore.Equals(ColSubscriptionID, subscriptionID))
}

func (r *Repository) List(ctx context.Context) ([]Account, error) {
	s, err := r.Sheet(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := s.Rows(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Account, 0, len(rows))
	for _, row := range rows {
		out = append(out, AccountFromRow(row))
	}
	return out, nil
}

// Update runs mutate on the current row of tradeID and writes the result if
// mutate reports a change. Writes are serialized per trade in this process
// and retried on a version conflict, re-reading the row each time, so mutate
// must be safe to call more than once.
func (r *Repository) Update(ctx context.Context, tradeID string, mutate func(*recordstore.Row) (bool, error)) (*recordstore.Row, bool, error) {
	unlock := r.locks.Lock(tradeID)
	defer unlock()

	for attempt := 1; ; attempt++ {
		row, err := r.FindByID(ctx, tradeID)
		if err != nil {
			return nil, false, err
		}
		changed, err := mutate(row)
		if err != nil || !changed {
			return row, false, err
		}
		row.Set(ColLastUpdated, r.now().UTC().Format(time.RFC3339))

		err = row.Save(ctx)
		if err == nil {
			return row, true, nil
		}
		if !errors.Is(err, recordstore.ErrConflict) || attempt >= maxWriteAttempts {
			return nil, false, err
		}
		slog.Warn("trade row changed concurrently, retrying", "trade_id", tradeID, "attempt", attempt)
	}
}
