package mailer

import (
	"context"
	"net"
	"strings"
	"testing"
	"time"
)

func TestComposeEscapesValues(t *testing.T) {
	html, err := Compose(Body{
		Heading:    "New trade registration",
		Paragraphs: []string{"<script>alert(1)</script>"},
		Rows:       []Field{{Label: "Business", Value: "Bob & Sons"}},
		ButtonText: "Open",
		ButtonURL:  "https://app.test/trade",
	})
	if err != nil {
		t.Fatalf("Compose error = %v", err)
	}
	if strings.Contains(html, "<script>") {
		t.Fatalf("paragraph was not escaped: %s", html)
	}
	for _, want := range []string{"New trade registration", "Bob &amp; Sons", `href="https://app.test/trade"`} {
		if !strings.Contains(html, want) {
			t.Fatalf("html missing %q", want)
		}
	}
}

func TestComposeOmitsEmptyButton(t *testing.T) {
	html, err := Compose(Body{Heading: "Hi"})
	if err != nil {
		t.Fatalf("Compose error = %v", err)
	}
	if strings.Contains(html, "<a ") {
		t.Fatalf("unexpected button in %s", html)
	}
}

func TestSMTPSenderBuildHeaders(t *testing.T) {
	s := NewSMTPSender(SMTPConfig{Host: "smtp.test", Port: 587, From: "no-reply@handytoknow.test", FromName: "HandyToKnow"})
	raw := string(s.build(Message{To: "bob@example.com", Subject: "Welcome", HTML: "<p>hi</p>"}, time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)))

	for _, want := range []string{
		"From: HandyToKnow <no-reply@handytoknow.test>\r\n",
		"To: bob@example.com\r\n",
		"Subject: Welcome\r\n",
		"Content-Type: text/html; charset=UTF-8\r\n",
		"\r\n\r\n<p>hi</p>",
	} {
		if !strings.Contains(raw, want) {
			t.Fatalf("message missing %q:\n%s", want, raw)
		}
	}
}

func TestLogSenderRecords(t *testing.T) {
	var l LogSender
	if err := l.Send(context.Background(), Message{To: "a@example.com", Subject: "s"}); err != nil {
		t.Fatalf("Send error = %v", err)
	}
	if got := len(l.Sent()); got != 1 {
		t.Fatalf("len(Sent()) = %d, want 1", got)
	}
}

func TestSMTPSenderGivesUpOnSilentServer(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	// Accept and never greet.
	done := make(chan struct{})
	defer close(done)
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				<-done
				conn.Close()
			}()
		}
	}()

	addr := ln.Addr().(*net.TCPAddr)
	s := NewSMTPSender(SMTPConfig{
		Host:    "127.0.0.1",
		Port:    addr.Port,
		From:    "no-reply@handytoknow.test",
		Timeout: 200 * time.Millisecond,
	})

	start := time.Now()
	err = s.Send(context.Background(), Message{To: "bob@example.com", Subject: "s", HTML: "<p>hi</p>"})
	elapsed := time.Since(start)
	if err == nil {
		t.Fatalf("Send to a silent server succeeded")
	}
	if elapsed > 2*time.Second {
		t.Fatalf("Send returned after %v, want about 200ms", elapsed)
	}
}
