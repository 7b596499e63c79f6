package forms

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"handytoknow/internal/infra/mailer"
	"handytoknow/internal/infra/recordstore"
)

type failingSender struct{ calls int }

func (f *failingSender) Send(context.Context, mailer.Message) error {
	f.calls++
	return errors.New("smtp down")
}

func TestMissing(t *testing.T) {
	got := Missing(map[string]string{"name": "Bob", "email": " ", "phone": "1"}, Customer.Required)
	want := []string{"email", "postcode"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Missing = %v, want %v", got, want)
	}
}

func TestValidEmail(t *testing.T) {
	cases := map[string]bool{
		"bob@example.com":        true,
		"Bob <bob@example.com>":  false,
		"not-an-email":           false,
		"":                       false,
		" amy@example.co.uk ":    true,
	}
	for in, want := range cases {
		if got := ValidEmail(in); got != want {
			t.Fatalf("ValidEmail(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestCheckPassword(t *testing.T) {
	cases := map[string]bool{
		"short1":     false,
		"longenough": false,
		"12345678":   false,
		"s3cretpass": true,
	}
	for in, ok := range cases {
		err := CheckPassword(in)
		if (err == nil) != ok {
			t.Fatalf("CheckPassword(%q) = %v, want ok=%v", in, err, ok)
		}
	}
}

func TestParseRating(t *testing.T) {
	for _, in := range []string{"0", "6", "4.5", "five"} {
		if _, err := ParseRating(in); err == nil {
			t.Fatalf("ParseRating(%q) accepted", in)
		}
	}
	if n, err := ParseRating(" 5 "); err != nil || n != 5 {
		t.Fatalf("ParseRating(5) = %d, %v", n, err)
	}
}

func TestSubmitAppendsOneRowAndAttemptsEveryEmail(t *testing.T) {
	ctx := context.Background()
	store := recordstore.NewMemory()

	var sink mailer.LogSender
	svc := NewService(store, &sink)
	sent, err := svc.Submit(ctx, Submission{
		Sheet:  Customer.Sheet,
		Header: Customer.Header,
		Values: map[string]string{"Name": "Bob", "Email": "bob@example.com"},
		Notifications: []mailer.Message{
			{To: "admin@handytoknow.test", Subject: "New customer"},
			{To: "bob@example.com", Subject: "Welcome"},
		},
	})
	if err != nil {
		t.Fatalf("Submit error = %v", err)
	}
	if sent != 2 || len(sink.Sent()) != 2 {
		t.Fatalf("sent = %d, recorded = %d, want 2", sent, len(sink.Sent()))
	}

	sheet, _ := store.Sheet(ctx, Customer.Sheet, Customer.Header)
	rows, _ := sheet.Rows(ctx)
	if len(rows) != 1 {
		t.Fatalf("rows = %d, want 1", len(rows))
	}
}

func TestSubmitSucceedsWhenEmailFails(t *testing.T) {
	sender := &failingSender{}
	svc := NewService(recordstore.NewMemory(), sender)

	sent, err := svc.Submit(context.Background(), Submission{
		Sheet:  Review.Sheet,
		Header: Review.Header,
		Values: map[string]string{"Trade Name": "Bob's Plumbing"},
		Notifications: []mailer.Message{
			{To: "admin@handytoknow.test"},
			{To: "amy@example.com"},
		},
	})
	if err != nil {
		t.Fatalf("Submit error = %v", err)
	}
	if sent != 0 || sender.calls != 2 {
		t.Fatalf("sent = %d, calls = %d, want 0, 2", sent, sender.calls)
	}
}
