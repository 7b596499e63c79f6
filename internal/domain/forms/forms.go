// Package forms holds the public registration forms: their sheets, required
// fields and validation rules, and the append-then-notify submission flow.
package forms

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strconv"
	"strings"
	"sync"
	"unicode"

	"handytoknow/internal/infra/mailer"
	"handytoknow/internal/infra/recordstore"
)

// Form describes one registration sheet.
type Form struct {
	Name     string
	Sheet    string
	Header   []string
	Required []string
}

var Customer = Form{
	Name:     "customer",
	Sheet:    "Customers",
	Header:   []string{"Customer ID", "Name", "Email", "Phone", "Postcode", "Registered At"},
	Required: []string{"name", "email", "phone", "postcode"},
}

var Job = Form{
	Name:     "job",
	Sheet:    "Job Postings",
	Header:   []string{"Job ID", "Name", "Email", "Phone", "Postcode", "Trade Type", "Description", "Budget", "Posted At"},
	Required: []string{"name", "email", "phone", "postcode", "tradeType", "description"},
}

var Review = Form{
	Name:     "review",
	Sheet:    "Reviews",
	Header:   []string{"Review ID", "Trade Name", "Reviewer Name", "Reviewer Email", "Rating", "Comment", "Submitted At"},
	Required: []string{"tradeName", "reviewerName", "reviewerEmail", "rating", "comment"},
}

// Trade has its header in the trades package; only the required fields live here.
var TradeRequired = []string{"businessName", "contactName", "email", "phone", "trade", "postcode", "password"}

// Missing lists the required fields that are absent or blank, in order.
func Missing(fields map[string]string, required []string) []string {
	var out []string
	for _, name := range required {
		if strings.TrimSpace(fields[name]) == "" {
			out = append(out, name)
		}
	}
	return out
}

func ValidEmail(s string) bool {
	addr, err := mail.ParseAddress(strings.TrimSpace(s))
	return err == nil && addr.Address == strings.TrimSpace(s)
}

var ErrWeakPassword = errors.New("password must be at least 8 characters and contain a letter and a digit")

func CheckPassword(p string) error {
	if len(p) < 8 {
		return ErrWeakPassword
	}
	var letter, digit bool
	for _, r := range p {
		switch {
		case unicode.IsLetter(r):
			letter = true
		case unicode.IsDigit(r):
			digit = true
		}
	}
	if !letter || !digit {
		return ErrWeakPassword
	}
	return nil
}

// ParseRating accepts whole numbers from 1 to 5.
func ParseRating(s string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n < 1 || n > 5 {
		return 0, fmt.Errorf("rating must be a whole number from 1 to 5")
	}
	return n, nil
}

// Submission is one form post ready to be stored.
type Submission struct {
	Sheet  string
	Header []string
	Values map[string]string
	// Notifications are sent after the row is stored; failures are logged only.
	Notifications []mailer.Message
}

type Service struct {
	store  recordstore.Store
	sender mailer.Sender

	mu     sync.Mutex
	sheets map[string]recordstore.Sheet
}

func NewService(store recordstore.Store, sender mailer.Sender) *Service {
	return &Service{store: store, sender: sender, sheets: map[string]recordstore.Sheet{}}
}

func (s *Service) sheet(ctx context.Context, name string, header []string) (recordstore.Sheet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sh, ok := s.sheets[name]; ok {
		return sh, nil
	}
	sh, err := s.store.Sheet(ctx, name, header)
	if err != nil {
		return nil, err
	}
	s.sheets[name] = sh
	return sh, nil
}

// Submit appends exactly one row and then attempts every notification.
// It returns the number of notifications that were delivered.
func (s *Service) Submit(ctx context.Context, sub Submission) (int, error) {
	sheet, err := s.sheet(ctx, sub.Sheet, sub.Header)
	if err != nil {
		return 0, fmt.Errorf("open sheet %q: %w", sub.Sheet, err)
	}
	if _, err := sheet.AppendRow(ctx, sub.Values); err != nil {
		return 0, fmt.Errorf("append to %q: %w", sub.Sheet, err)
	}

	sent := 0
	for _, msg := range sub.Notifications {
		if msg.To == "" {
			continue
		}
		if err := s.sender.Send(ctx, msg); err != nil {
			slog.Error("form notification failed", "sheet", sub.Sheet, "to", msg.To, "error", err)
			continue
		}
		sent++
	}
	return sent, nil
}
