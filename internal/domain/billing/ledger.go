package billing

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"handytoknow/internal/infra/recordstore"
)

const EventsSheet = "Processed Events"

const (
	colEventID    = "Event ID"
	colEventType  = "Event Type"
	colState      = "State"
	colReceivedAt = "Received At"
	colExpiresAt  = "Expires At"
	colNote       = "Note"
)

var eventsHeader = []string{colEventID, colEventType, colState, colReceivedAt, colExpiresAt, colNote}

const (
	eventProcessing = "processing"
	eventDone       = "done"
	eventReleased   = "released"
)

// Ledger remembers webhook event ids so a redelivered event runs its side
// effects once. An entry is live while it is processing (until its lease
// ends) or done (until the TTL ends). Released entries never block.
type Ledger struct {
	store recordstore.Store
	ttl   time.Duration
	lease time.Duration
	now   func() time.Time

	mu    sync.Mutex
	sheet recordstore.Sheet
}

func NewLedger(store recordstore.Store, ttl, lease time.Duration) *Ledger {
	return &Ledger{store: store, ttl: ttl, lease: lease, now: time.Now}
}

func (l *Ledger) open(ctx context.Context) (recordstore.Sheet, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.sheet != nil {
		return l.sheet, nil
	}
	s, err := l.store.Sheet(ctx, EventsSheet, eventsHeader)
	if err != nil {
		return nil, err
	}
	l.sheet = s
	return s, nil
}

// Claim is ownership of one event delivery.
type Claim struct {
	ledger *Ledger
	row    *recordstore.Row
}

// Claim records eventID as processing. It returns ok=false when the event is
// already done or being processed elsewhere. Concurrent claimers both append
// a row and then re-read; the earliest live row wins and the loser releases
// its own row.
func (l *Ledger) Claim(ctx context.Context, eventID, eventType string) (*Claim, bool, error) {
	sheet, err := l.open(ctx)
	if err != nil {
		return nil, false, err
	}

	live, err := l.live(ctx, sheet, eventID)
	if err != nil {
		return nil, false, err
	}
	if len(live) > 0 {
		return nil, false, nil
	}

	now := l.now().UTC()
	row, err := sheet.AppendRow(ctx, map[string]string{
		colEventID:    eventID,
		colEventType:  eventType,
		colState:      eventProcessing,
		colReceivedAt: now.Format(time.RFC3339),
		colExpiresAt:  now.Add(l.lease).Format(time.RFC3339),
	})
	if err != nil {
		return nil, false, fmt.Errorf("record event %s: %w", eventID, err)
	}

	live, err = l.live(ctx, sheet, eventID)
	if err != nil {
		return nil, false, err
	}
	if len(live) > 0 && live[0].Key() != row.Key() {
		c := &Claim{ledger: l, row: row}
		_ = c.Release(ctx, "lost claim race")
		return nil, false, nil
	}
	return &Claim{ledger: l, row: row}, true, nil
}

// live returns the blocking rows for eventID, oldest first.
func (l *Ledger) live(ctx context.Context, sheet recordstore.Sheet, eventID string) ([]*recordstore.Row, error) {
	now := l.now()
	rows, err := recordstore.FindAll(ctx, sheet, func(r *recordstore.Row) bool {
		if r.Get(colEventID) != eventID {
			return false
		}
		state := r.Get(colState)
		if state != eventProcessing && state != eventDone {
			return false
		}
		expires, err := time.Parse(time.RFC3339, r.Get(colExpiresAt))
		return err == nil && now.Before(expires)
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].Key() < rows[j].Key() })
	return rows, nil
}

// Done marks the event processed; redeliveries within the TTL are duplicates.
func (c *Claim) Done(ctx context.Context, note string) error {
	now := c.ledger.now().UTC()
	c.row.Set(colState, eventDone)
	c.row.Set(colExpiresAt, now.Add(c.ledger.ttl).Format(time.RFC3339))
	c.row.Set(colNote, note)
	return c.row.Save(ctx)
}

// Release gives the event up so the next delivery processes it again.
func (c *Claim) Release(ctx context.Context, note string) error {
	c.row.Set(colState, eventReleased)
	c.row.Set(colNote, note)
	return c.row.Save(ctx)
}
