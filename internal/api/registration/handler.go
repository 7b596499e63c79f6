// Package registration serves the public sign-up, job posting and review
// forms.
package registration

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"handytoknow/internal/apperr"
	"handytoknow/internal/domain/forms"
	"handytoknow/internal/domain/plans"
	"handytoknow/internal/domain/trades"
	"handytoknow/internal/infra/mailer"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

type Config struct {
	AdminEmail string
	AppURL     string
}

type Handler struct {
	forms  *forms.Service
	trades *trades.Repository
	cfg    Config
	now    func() time.Time
}

func NewHandler(svc *forms.Service, repo *trades.Repository, cfg Config) *Handler {
	cfg.AppURL = strings.TrimRight(cfg.AppURL, "/")
	return &Handler{forms: svc, trades: repo, cfg: cfg, now: time.Now}
}

// readFields decodes a flat JSON object into strings. Numbers and booleans
// are kept in their JSON spelling; nested values are dropped.
func readFields(c *gin.Context) (map[string]string, error) {
	var raw map[string]interface{}
	if err := c.ShouldBindJSON(&raw); err != nil {
		return nil, err
	}
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		switch t := v.(type) {
		case string:
			out[k] = strings.TrimSpace(t)
		case float64:
			out[k] = strconv.FormatFloat(t, 'f', -1, 64)
		case bool:
			out[k] = strconv.FormatBool(t)
		case json.Number:
			out[k] = t.String()
		}
	}
	return out, nil
}

func (h *Handler) bind(c *gin.Context, required []string, emailField string) (map[string]string, bool) {
	fields, err := readFields(c)
	if err != nil {
		apperr.Respond(c, apperr.Validation("Invalid request body", nil))
		return nil, false
	}
	if missing := forms.Missing(fields, required); len(missing) > 0 {
		apperr.Respond(c, apperr.Validation("Missing required fields", missing))
		return nil, false
	}
	if !forms.ValidEmail(fields[emailField]) {
		apperr.Respond(c, apperr.Validation("Invalid email address", nil))
		return nil, false
	}
	return fields, true
}

func (h *Handler) timestamp() string {
	return h.now().UTC().Format(time.RFC3339)
}

func (h *Handler) submit(c *gin.Context, sub forms.Submission, label string) bool {
	sent, err := h.forms.Submit(c.Request.Context(), sub)
	if err != nil {
		apperr.Respond(c, apperr.Upstream("Failed to save "+label, err))
		return false
	}
	slog.Info("form submitted", "sheet", sub.Sheet, "emails_sent", sent, "emails_total", len(sub.Notifications))
	return true
}

// message renders an email, logging and skipping it when the template fails.
func message(to, subject string, body mailer.Body) []mailer.Message {
	html, err := mailer.Compose(body)
	if err != nil {
		slog.Error("compose email failed", "subject", subject, "error", err)
		return nil
	}
	return []mailer.Message{{To: to, Subject: subject, HTML: html}}
}

func rows(pairs ...string) []mailer.Field {
	out := make([]mailer.Field, 0, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		if pairs[i+1] == "" {
			continue
		}
		out = append(out, mailer.Field{Label: pairs[i], Value: pairs[i+1]})
	}
	return out
}

// POST /api/register-customer
func (h *Handler) RegisterCustomer(c *gin.Context) {
	f, ok := h.bind(c, forms.Customer.Required, "email")
	if !ok {
		return
	}

	details := rows("Name", f["name"], "Email", f["email"], "Phone", f["phone"], "Postcode", f["postcode"])
	var notes []mailer.Message
	notes = append(notes, message(h.cfg.AdminEmail, "New customer registration: "+f["name"], mailer.Body{
		Heading: "New customer registration",
		Rows:    details,
	})...)
	notes = append(notes, message(f["email"], "Welcome to HandyToKnow", mailer.Body{
		Heading: "Thanks for registering, " + f["name"],
		Paragraphs: []string{
			"You can now post jobs and find trusted local tradespeople.",
		},
		ButtonText: "Post a job",
		ButtonURL:  h.cfg.AppURL + "/post-job",
	})...)

	ok = h.submit(c, forms.Submission{
		Sheet:  forms.Customer.Sheet,
		Header: forms.Customer.Header,
		Values: map[string]string{
			"Customer ID":   uuid.NewString(),
			"Name":          f["name"],
			"Email":         f["email"],
			"Phone":         f["phone"],
			"Postcode":      strings.ToUpper(f["postcode"]),
			"Registered At": h.timestamp(),
		},
		Notifications: notes,
	}, "customer registration")
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Registration received"})
}

// POST /api/post-job
func (h *Handler) PostJob(c *gin.Context) {
	f, ok := h.bind(c, forms.Job.Required, "email")
	if !ok {
		return
	}

	jobID := uuid.NewString()
	details := rows(
		"Name", f["name"], "Email", f["email"], "Phone", f["phone"], "Postcode", f["postcode"],
		"Trade type", f["tradeType"], "Description", f["description"], "Budget", f["budget"],
	)
	var notes []mailer.Message
	notes = append(notes, message(h.cfg.AdminEmail, "New job posted: "+f["tradeType"]+" in "+f["postcode"], mailer.Body{
		Heading: "New job posting",
		Rows:    details,
	})...)
	notes = append(notes, message(f["email"], "Your job has been posted", mailer.Body{
		Heading:    "We have received your job",
		Paragraphs: []string{"Local tradespeople will be in touch soon."},
		Rows:       rows("Reference", jobID, "Trade type", f["tradeType"]),
	})...)

	ok = h.submit(c, forms.Submission{
		Sheet:  forms.Job.Sheet,
		Header: forms.Job.Header,
		Values: map[string]string{
			"Job ID":      jobID,
			"Name":        f["name"],
			"Email":       f["email"],
			"Phone":       f["phone"],
			"Postcode":    strings.ToUpper(f["postcode"]),
			"Trade Type":  f["tradeType"],
			"Description": f["description"],
			"Budget":      f["budget"],
			"Posted At":   h.timestamp(),
		},
		Notifications: notes,
	}, "job posting")
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Job posted", "jobId": jobID})
}

// POST /api/submit-review
func (h *Handler) SubmitReview(c *gin.Context) {
	f, ok := h.bind(c, forms.Review.Required, "reviewerEmail")
	if !ok {
		return
	}
	rating, err := forms.ParseRating(f["rating"])
	if err != nil {
		apperr.Respond(c, apperr.Validation("Invalid rating", err.Error()))
		return
	}

	details := rows(
		"Trade", f["tradeName"], "Reviewer", f["reviewerName"], "Email", f["reviewerEmail"],
		"Rating", strconv.Itoa(rating), "Comment", f["comment"],
	)
	var notes []mailer.Message
	notes = append(notes, message(h.cfg.AdminEmail, fmt.Sprintf("New %d-star review for %s", rating, f["tradeName"]), mailer.Body{
		Heading: "New review submitted",
		Rows:    details,
	})...)
	notes = append(notes, message(f["reviewerEmail"], "Thanks for your review", mailer.Body{
		Heading:    "Thanks for your review, " + f["reviewerName"],
		Paragraphs: []string{"Your review helps other customers choose the right tradesperson."},
	})...)

	ok = h.submit(c, forms.Submission{
		Sheet:  forms.Review.Sheet,
		Header: forms.Review.Header,
		Values: map[string]string{
			"Review ID":      uuid.NewString(),
			"Trade Name":     f["tradeName"],
			"Reviewer Name":  f["reviewerName"],
			"Reviewer Email": f["reviewerEmail"],
			"Rating":         strconv.Itoa(rating),
			"Comment":        f["comment"],
			"Submitted At":   h.timestamp(),
		},
		Notifications: notes,
	}, "review")
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Review submitted"})
}

// POST /api/register-trade
//
// The returned tradeId goes into checkout metadata so payment confirmation
// can find this row.
func (h *Handler) RegisterTrade(c *gin.Context) {
	f, ok := h.bind(c, forms.TradeRequired, "email")
	if !ok {
		return
	}
	if err := forms.CheckPassword(f["password"]); err != nil {
		apperr.Respond(c, apperr.Validation("Password must be at least 8 characters long and contain both letters and numbers", nil))
		return
	}

	plan := ""
	if raw := f["plan"]; raw != "" {
		name, ok := plans.Normalize(raw)
		if !ok {
			apperr.Respond(c, apperr.Validation("Unknown plan", "plan must be bronze, silver or gold"))
			return
		}
		plan = name
	}

	ctx := c.Request.Context()
	_, err := h.trades.FindByEmail(ctx, f["email"])
	switch {
	case err == nil:
		apperr.Respond(c, apperr.Validation("An account with this email already exists", nil))
		return
	case !errors.Is(err, trades.ErrNotFound):
		apperr.Respond(c, apperr.Upstream("Failed to check existing accounts", err))
		return
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(f["password"]), bcrypt.DefaultCost)
	if err != nil {
		apperr.Respond(c, &apperr.Error{Kind: apperr.KindInternal, Message: "Failed to hash password", Err: err})
		return
	}

	status := trades.StatusRegistrationOnly
	if plan != "" {
		status = trades.StatusPaymentPending
	}
	tradeID := uuid.NewString()

	details := rows(
		"Business", f["businessName"], "Contact", f["contactName"], "Email", f["email"],
		"Phone", f["phone"], "Trade", f["trade"], "Postcode", f["postcode"],
		"Plan", plan, "Status", status, "Trade ID", tradeID,
	)
	var notes []mailer.Message
	notes = append(notes, message(h.cfg.AdminEmail, "New trade registration: "+f["businessName"], mailer.Body{
		Heading: "New trade registration",
		Rows:    details,
	})...)
	welcome := mailer.Body{
		Heading:    "Welcome to HandyToKnow, " + f["contactName"],
		Paragraphs: []string{"Your trade account for " + f["businessName"] + " has been created."},
	}
	if plan != "" {
		welcome.Paragraphs = append(welcome.Paragraphs, "Complete your "+plan+" subscription to start receiving leads.")
	} else {
		welcome.Paragraphs = append(welcome.Paragraphs, "Choose a plan whenever you are ready to start receiving leads.")
		welcome.ButtonText = "Choose a plan"
		welcome.ButtonURL = h.cfg.AppURL + "/trade/plans"
	}
	notes = append(notes, message(f["email"], "Your HandyToKnow trade account", welcome)...)

	ok = h.submit(c, forms.Submission{
		Sheet:  trades.SheetName,
		Header: trades.Header,
		Values: map[string]string{
			trades.ColTradeID:      tradeID,
			trades.ColBusinessName: f["businessName"],
			trades.ColContactName:  f["contactName"],
			trades.ColEmail:        f["email"],
			trades.ColPhone:        f["phone"],
			trades.ColTrade:        f["trade"],
			trades.ColPostcode:     strings.ToUpper(f["postcode"]),
			trades.ColPasswordHash: string(hashed),
			trades.ColPlan:         plan,
			trades.ColStatus:       status,
			trades.ColCredits:      "0",
			trades.ColRegisteredAt: h.timestamp(),
		},
		Notifications: notes,
	}, "trade registration")
	if !ok {
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Trade registered",
		"tradeId": tradeID,
		"plan":    plan,
		"status":  status,
	})
}
