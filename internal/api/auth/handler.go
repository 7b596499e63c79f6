package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"handytoknow/internal/apperr"
	"handytoknow/internal/domain/forms"
	"handytoknow/internal/domain/otp"
	"handytoknow/internal/domain/trades"
	"handytoknow/internal/infra/mailer"
	"handytoknow/internal/infra/recordstore"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"
)

type Config struct {
	JWTSecret         string
	AppURL            string
	AdminEmail        string
	AdminPasswordHash string
	// AdminEmails may sign in with Google.
	AdminEmails []string

	GoogleClientID         string
	GoogleClientSecret     string
	GoogleRedirectURL      string
	GoogleFrontendRedirect string
	SecureCookies          bool
}

type Handler struct {
	trades *trades.Repository
	codes  *otp.Store
	sender mailer.Sender
	cfg    Config
	now    func() time.Time
	google *googleSignIn
}

func NewHandler(repo *trades.Repository, codes *otp.Store, sender mailer.Sender, cfg Config) *Handler {
	cfg.AppURL = strings.TrimRight(cfg.AppURL, "/")
	return &Handler{
		trades: repo,
		codes:  codes,
		sender: sender,
		cfg:    cfg,
		now:    time.Now,
		google: newGoogleSignIn(cfg),
	}
}

const resetSentMessage = "If your email exists, you'll receive a reset code."

// POST /api/trade/login
func (h *Handler) TradeLogin(c *gin.Context) {
	var input struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := c.ShouldBindJSON(&input); err != nil || input.Email == "" || input.Password == "" {
		apperr.Respond(c, apperr.Validation("Missing required fields", []string{"email", "password"}))
		return
	}

	row, err := h.trades.FindByEmail(c.Request.Context(), input.Email)
	if errors.Is(err, trades.ErrNotFound) {
		apperr.Respond(c, apperr.Auth("Invalid credentials"))
		return
	}
	if err != nil {
		apperr.Respond(c, apperr.Upstream("Failed to load trade account", err))
		return
	}

	hash := row.Get(trades.ColPasswordHash)
	if hash == "" || bcrypt.CompareHashAndPassword([]byte(hash), []byte(input.Password)) != nil {
		apperr.Respond(c, apperr.Auth("Invalid credentials"))
		return
	}

	acct := trades.AccountFromRow(row)
	if !trades.CanSignIn(acct.Status) {
		apperr.Respond(c, apperr.Forbidden("Your subscription is not active"))
		return
	}

	token, err := issueTradeJWT(h.cfg.JWTSecret, acct.TradeID, acct.Email, h.now())
	if err != nil {
		apperr.Respond(c, &apperr.Error{Kind: apperr.KindInternal, Message: "Could not create token", Err: err})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "token": token, "account": acct})
}

// POST /api/password-reset/request
func (h *Handler) RequestPasswordReset(c *gin.Context) {
	var body struct {
		Email string `json:"email"`
	}
	if err := c.ShouldBindJSON(&body); err != nil || strings.TrimSpace(body.Email) == "" {
		apperr.Respond(c, apperr.Validation("Missing required fields", []string{"email"}))
		return
	}
	ctx := c.Request.Context()

	// Don't expose whether the email exists.
	row, err := h.trades.FindByEmail(ctx, body.Email)
	if err != nil {
		if !errors.Is(err, trades.ErrNotFound) {
			slog.Error("password reset lookup failed", "error", err)
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "message": resetSentMessage})
		return
	}

	email := row.Get(trades.ColEmail)
	code, err := h.codes.Issue(ctx, email, otp.PurposePasswordReset, otp.PasswordResetTTL)
	if err != nil {
		slog.Error("issue password reset code failed", "trade_id", row.Get(trades.ColTradeID), "error", err)
		c.JSON(http.StatusOK, gin.H{"success": true, "message": resetSentMessage})
		return
	}

	html, err := mailer.Compose(mailer.Body{
		Heading: "Reset your password",
		Paragraphs: []string{
			"Use this code to reset your HandyToKnow password. It expires in 30 minutes.",
			"If you did not ask for a reset you can ignore this email.",
		},
		Rows: []mailer.Field{{Label: "Code", Value: code}},
	})
	if err == nil {
		err = h.sender.Send(ctx, mailer.Message{To: email, Subject: "Your HandyToKnow password reset code", HTML: html})
	}
	if err != nil {
		slog.Error("password reset email failed", "trade_id", row.Get(trades.ColTradeID), "error", err)
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "message": resetSentMessage})
}

// POST /api/password-reset/confirm
func (h *Handler) ConfirmPasswordReset(c *gin.Context) {
	var body struct {
		Email       string `json:"email"`
		Code        string `json:"code"`
		NewPassword string `json:"newPassword"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		apperr.Respond(c, apperr.Validation("Invalid request", nil))
		return
	}
	if missing := forms.Missing(map[string]string{
		"email": body.Email, "code": body.Code, "newPassword": body.NewPassword,
	}, []string{"email", "code", "newPassword"}); len(missing) > 0 {
		apperr.Respond(c, apperr.Validation("Missing required fields", missing))
		return
	}
	if err := forms.CheckPassword(body.NewPassword); err != nil {
		apperr.Respond(c, apperr.Validation("Password must be at least 8 characters with letters and numbers", nil))
		return
	}
	ctx := c.Request.Context()

	claim, err := h.codes.Claim(ctx, body.Email, otp.PurposePasswordReset, body.Code)
	if errors.Is(err, otp.ErrInvalidCode) {
		apperr.Respond(c, apperr.Validation("Invalid or expired code", nil))
		return
	}
	if err != nil {
		apperr.Respond(c, apperr.Upstream("Failed to check reset code", err))
		return
	}

	row, err := h.setPassword(ctx, body.Email, body.NewPassword)
	if err != nil {
		// The code is only spent once the new password is stored.
		if rerr := claim.Release(context.WithoutCancel(ctx)); rerr != nil {
			slog.Error("release reset code failed", "error", rerr)
		}
		apperr.Respond(c, err)
		return
	}

	slog.Info("trade password reset", "trade_id", row.Get(trades.ColTradeID))
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Password reset successful"})
}

func (h *Handler) setPassword(ctx context.Context, email, password string) (*recordstore.Row, error) {
	row, err := h.trades.FindByEmail(ctx, email)
	if errors.Is(err, trades.ErrNotFound) {
		return nil, apperr.Validation("Invalid or expired code", nil)
	}
	if err != nil {
		return nil, apperr.Upstream("Failed to load trade account", err)
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, &apperr.Error{Kind: apperr.KindInternal, Message: "Failed to hash password", Err: err}
	}
	row, _, err = h.trades.Update(ctx, row.Get(trades.ColTradeID), func(r *recordstore.Row) (bool, error) {
		r.Set(trades.ColPasswordHash, string(hashed))
		return true, nil
	})
	if err != nil {
		return nil, apperr.Upstream("Failed to update password", err)
	}
	return row, nil
}

func (h *Handler) isAdminEmail(email string) bool {
	return h.cfg.AdminEmail != "" && strings.EqualFold(strings.TrimSpace(email), h.cfg.AdminEmail)
}

// POST /api/admin/login
//
// A correct password only starts the login: a one-time code is emailed to
// the admin and exchanged for a token at /api/admin/verify-2fa.
func (h *Handler) AdminLogin(c *gin.Context) {
	var input struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := c.ShouldBindJSON(&input); err != nil || input.Email == "" || input.Password == "" {
		apperr.Respond(c, apperr.Validation("Missing required fields", []string{"email", "password"}))
		return
	}
	if h.cfg.AdminPasswordHash == "" || !h.isAdminEmail(input.Email) ||
		bcrypt.CompareHashAndPassword([]byte(h.cfg.AdminPasswordHash), []byte(input.Password)) != nil {
		apperr.Respond(c, apperr.Auth("Invalid credentials"))
		return
	}
	ctx := c.Request.Context()

	code, err := h.codes.Issue(ctx, h.cfg.AdminEmail, otp.PurposeTwoFactor, otp.TwoFactorTTL)
	if err != nil {
		apperr.Respond(c, apperr.Upstream("Failed to issue verification code", err))
		return
	}

	html, err := mailer.Compose(mailer.Body{
		Heading:    "Admin sign-in code",
		Paragraphs: []string{"Enter this code to finish signing in. It expires in 10 minutes."},
		Rows:       []mailer.Field{{Label: "Code", Value: code}},
	})
	if err == nil {
		err = h.sender.Send(ctx, mailer.Message{To: h.cfg.AdminEmail, Subject: "HandyToKnow admin sign-in code", HTML: html})
	}
	if err != nil {
		// Without the email the code is useless; let the admin try again.
		apperr.Respond(c, apperr.Upstream("Failed to send verification code", err))
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Verification code sent", "twoFactorRequired": true})
}

// POST /api/admin/verify-2fa
func (h *Handler) AdminVerify2FA(c *gin.Context) {
	var input struct {
		Email string `json:"email"`
		Code  string `json:"code"`
	}
	if err := c.ShouldBindJSON(&input); err != nil || input.Email == "" || input.Code == "" {
		apperr.Respond(c, apperr.Validation("Missing required fields", []string{"email", "code"}))
		return
	}
	if !h.isAdminEmail(input.Email) {
		apperr.Respond(c, apperr.Auth("Invalid or expired code"))
		return
	}

	err := h.codes.Consume(c.Request.Context(), h.cfg.AdminEmail, otp.PurposeTwoFactor, input.Code)
	if errors.Is(err, otp.ErrInvalidCode) {
		apperr.Respond(c, apperr.Auth("Invalid or expired code"))
		return
	}
	if err != nil {
		apperr.Respond(c, apperr.Upstream("Failed to check verification code", err))
		return
	}

	token, err := issueAdminJWT(h.cfg.JWTSecret, h.cfg.AdminEmail, h.now())
	if err != nil {
		apperr.Respond(c, &apperr.Error{Kind: apperr.KindInternal, Message: "Could not create token", Err: err})
		return
	}
	slog.Info("admin signed in", "method", "password+2fa")
	c.JSON(http.StatusOK, gin.H{"success": true, "token": token})
}
