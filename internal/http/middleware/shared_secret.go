// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file implements SharedSecret, the authentication used by the periodic
// trigger and the gateway webhook endpoints. Both callers are machines, not
// people: the external scheduler and the WhatsApp gateways each hold a static
// secret configured on both sides. Rotation means deploying a new value, so
// the check is a constant-time comparison against exactly one secret.
//
// Accepted credential locations, checked in order:
//   - "token" query parameter   (schedulers that can only set a URL)
//   - Authorization: Bearer <s> (well-behaved HTTP clients)
//   - X-Webhook-Token header    (gateways that only support custom headers)
//
// Authentication runs before any body parsing so an unauthenticated caller
// learns nothing about accepted payload shapes.
package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// HeaderWebhookToken is the custom header some gateways use to present the
// shared secret when they cannot set Authorization.
const HeaderWebhookToken = "X-Webhook-Token"

// SharedSecret returns a middleware that rejects requests lacking the given
// secret with 401. An empty configured secret rejects everything; routes
// guarded by this middleware must never be open by accident.
func SharedSecret(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if secret != "" && subtle.ConstantTimeCompare([]byte(presentedSecret(c)), []byte(secret)) == 1 {
			c.Next()
			return
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
			"request_id": c.Writer.Header().Get("X-Request-ID"),
			"code":       "unauthorized",
			"message":    "missing or invalid credential",
		})
	}
}

// presentedSecret extracts the first credential the request carries.
func presentedSecret(c *gin.Context) string {
	if v := c.Query("token"); v != "" {
		return v
	}
	if auth := c.GetHeader("Authorization"); auth != "" {
		if s, ok := strings.CutPrefix(auth, "Bearer "); ok {
			return strings.TrimSpace(s)
		}
	}
	return c.GetHeader(HeaderWebhookToken)
}
