package middleware

import (
	"bytes"         // Body replay
	"crypto/hmac"   // Signature check
	"crypto/sha256" // Signature hash
	"encoding/hex"  // Signature encoding
	"io"            // Body read
	"net/http"      // HTTP status codes
	"strings"       // String manipulation

	"github.com/gin-gonic/gin"   // Gin web framework
	"github.com/sirupsen/logrus" // Logging library
)

// SignatureHeader carries the hex HMAC-SHA256 of the raw request body
const SignatureHeader = "X-Signature"

const maxWebhookBody = 1 << 20 // 1 MiB

// Sign returns the signature the payment processor sends for body
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature reports whether provided is a valid signature of body. An empty secret verifies nothing.
func VerifySignature(secret string, body []byte, provided string) bool {
	if strings.TrimSpace(secret) == "" {
		return false
	}
	cleaned := strings.TrimPrefix(strings.ToLower(strings.TrimSpace(provided)), "sha256=")
	decoded, err := hex.DecodeString(cleaned)
	if err != nil || len(decoded) == 0 {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(mac.Sum(nil), decoded)
}

// WebhookSignatureMiddleware rejects payment webhooks whose body is not signed with secret
func WebhookSignatureMiddleware(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody)) // Read raw body
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "Unreadable body"})
			return
		}
		if !VerifySignature(secret, body, c.GetHeader(SignatureHeader)) {
			logrus.WithFields(logrus.Fields{
				"path":      c.FullPath(), // Webhook route
				"client_ip": c.ClientIP(), // Caller
			}).Warn("Webhook signature rejected")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid signature"})
			return
		}
		c.Request.Body = io.NopCloser(bytes.NewReader(body)) // Restore body for binding
		c.Next()                                             // Proceed to the next handler
	}
}
