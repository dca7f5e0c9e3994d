package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func newSecretRouter(secret string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(SharedSecret(secret))
	r.POST("/guarded", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	return r
}

func TestSharedSecret_AcceptedLocations(t *testing.T) {
	r := newSecretRouter("s3cret")

	cases := []struct {
		name  string
		build func(req *http.Request)
	}{
		{"query token", func(req *http.Request) {
			req.URL.RawQuery = "token=s3cret"
		}},
		{"bearer header", func(req *http.Request) {
			req.Header.Set("Authorization", "Bearer s3cret")
		}},
		{"webhook header", func(req *http.Request) {
			req.Header.Set(HeaderWebhookToken, "s3cret")
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/guarded", nil)
			tc.build(req)
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			if w.Code != http.StatusOK {
				t.Fatalf("expected 200, got %d", w.Code)
			}
		})
	}
}

func TestSharedSecret_Rejections(t *testing.T) {
	r := newSecretRouter("s3cret")

	cases := []struct {
		name  string
		build func(req *http.Request)
	}{
		{"no credential", func(*http.Request) {}},
		{"wrong query token", func(req *http.Request) {
			req.URL.RawQuery = "token=nope"
		}},
		{"wrong bearer", func(req *http.Request) {
			req.Header.Set("Authorization", "Bearer nope")
		}},
		{"basic auth not accepted", func(req *http.Request) {
			req.Header.Set("Authorization", "Basic czNjcmV0")
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/guarded", nil)
			tc.build(req)
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			if w.Code != http.StatusUnauthorized {
				t.Fatalf("expected 401, got %d", w.Code)
			}
			var body map[string]any
			if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
				t.Fatalf("invalid json: %v", err)
			}
			if body["code"] != "unauthorized" {
				t.Fatalf("unexpected body: %v", body)
			}
		})
	}
}

func TestSharedSecret_EmptyConfiguredSecretRejectsAll(t *testing.T) {
	r := newSecretRouter("")

	req := httptest.NewRequest(http.MethodPost, "/guarded", nil)
	req.URL.RawQuery = "token="
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("empty secret must reject everything, got %d", w.Code)
	}
}
