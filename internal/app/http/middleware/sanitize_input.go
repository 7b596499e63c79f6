package middleware

import (
	"bytes"
	"encoding/json"
	"html"
	"io"
	"net/http"
	"strings"

	"handytoknow/internal/apperr"

	"github.com/gin-gonic/gin"
	"github.com/microcosm-cc/bluemonday"
)

// Secrets are compared or hashed byte for byte, so they are never rewritten.
var unsanitized = map[string]bool{
	"password":    true,
	"newPassword": true,
	"code":        true,
}

// plainText removes markup and returns the remaining text unescaped; output
// escaping belongs to whoever renders it. Escaped markup such as
// "&lt;b&gt;" is stripped on a later pass.
func plainText(policy *bluemonday.Policy, s string) string {
	for i := 0; i < 3; i++ {
		next := html.UnescapeString(policy.Sanitize(s))
		if next == s {
			break
		}
		s = next
	}
	return strings.TrimSpace(s)
}

// SanitizeAndCleanInputMiddleware strips markup from every top-level string
// field of a JSON body using bluemonday and trims surrounding whitespace.
func SanitizeAndCleanInputMiddleware() gin.HandlerFunc {
	policy := bluemonday.StrictPolicy()
	return func(c *gin.Context) {
		if c.Request.Method != http.MethodPost &&
			c.Request.Method != http.MethodPut &&
			c.Request.Method != http.MethodPatch {
			c.Next()
			return
		}

		buf, err := io.ReadAll(c.Request.Body)
		if err != nil {
			apperr.Respond(c, apperr.Validation("Invalid body", nil))
			return
		}
		if len(bytes.TrimSpace(buf)) == 0 {
			c.Request.Body = io.NopCloser(bytes.NewReader(buf))
			c.Next()
			return
		}

		var body map[string]interface{}
		if err := json.Unmarshal(buf, &body); err != nil {
			apperr.Respond(c, apperr.Validation("Malformed JSON", nil))
			return
		}

		for k, v := range body {
			if str, ok := v.(string); ok && !unsanitized[k] {
				body[k] = plainText(policy, str)
			}
		}

		newBody, err := json.Marshal(body)
		if err != nil {
			apperr.Respond(c, apperr.Validation("Malformed JSON", nil))
			return
		}
		c.Request.Body = io.NopCloser(bytes.NewBuffer(newBody))
		c.Request.ContentLength = int64(len(newBody))

		c.Next()
	}
}
