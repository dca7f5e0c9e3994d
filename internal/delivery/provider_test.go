package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/risetaid/prima-sub012/internal/config"
)

func newTestProvider(t *testing.T, handler http.HandlerFunc) *WhatsAppProvider {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	p := NewWhatsAppProvider("primary", config.GatewayConfig{
		Token:         "test-token",
		PhoneNumberID: "1234567890",
	}, 5*time.Second)
	p.SetBaseURL(srv.URL)
	return p
}

func TestWhatsAppProvider_SendText(t *testing.T) {
	var gotPath, gotAuth string
	var gotBody map[string]any

	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		fmt.Fprint(w, `{"messages":[{"id":"wamid.ABC123"}]}`)
	})

	id, err := p.SendText(context.Background(), "628123456789", "halo")
	if err != nil {
		t.Fatalf("SendText: %v", err)
	}
	if id != "wamid.ABC123" {
		t.Fatalf("message id = %q, want wamid.ABC123", id)
	}
	if gotPath != "/1234567890/messages" {
		t.Fatalf("path = %q", gotPath)
	}
	if gotAuth != "Bearer test-token" {
		t.Fatalf("authorization = %q", gotAuth)
	}
	if gotBody["to"] != "628123456789" || gotBody["messaging_product"] != "whatsapp" {
		t.Fatalf("request body = %v", gotBody)
	}
}

func TestWhatsAppProvider_RejectedOn4xx(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"invalid recipient"}}`, http.StatusBadRequest)
	})

	_, err := p.SendText(context.Background(), "628123456789", "halo")
	if !errors.Is(err, ErrGatewayRejected) {
		t.Fatalf("expected ErrGatewayRejected, got %v", err)
	}
}

func TestWhatsAppProvider_5xxIsNotRejection(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream down", http.StatusBadGateway)
	})

	_, err := p.SendText(context.Background(), "628123456789", "halo")
	if err == nil {
		t.Fatal("expected error on 502")
	}
	if errors.Is(err, ErrGatewayRejected) {
		t.Fatalf("5xx should not be a definitive rejection: %v", err)
	}
}

func TestWhatsAppProvider_MissingMessageID(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"messages":[]}`)
	})
	if _, err := p.SendText(context.Background(), "628123456789", "halo"); err == nil {
		t.Fatal("expected error when response carries no message id")
	}
}

func TestWhatsAppProvider_UnconfiguredRejectsLocally(t *testing.T) {
	p := NewWhatsAppProvider("backup", config.GatewayConfig{}, time.Second)
	_, err := p.SendText(context.Background(), "628123456789", "halo")
	if !errors.Is(err, ErrGatewayRejected) {
		t.Fatalf("expected ErrGatewayRejected for unconfigured gateway, got %v", err)
	}
}

// fakeProvider records sends and returns a scripted result.
type fakeProvider struct {
	name  string
	id    string
	err   error
	calls int
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) SendText(ctx context.Context, toE164, body string) (string, error) {
	f.calls++
	return f.id, f.err
}

func TestFallbackProvider_PrimaryWins(t *testing.T) {
	primary := &fakeProvider{name: "primary", id: "wamid.P"}
	backup := &fakeProvider{name: "backup", id: "wamid.B"}
	f := &FallbackProvider{Primary: primary, Backup: backup}

	id, via, err := f.SendTextVia(context.Background(), "628123456789", "halo")
	if err != nil {
		t.Fatalf("SendTextVia: %v", err)
	}
	if id != "wamid.P" || via != "primary" {
		t.Fatalf("got id=%q via=%q", id, via)
	}
	if backup.calls != 0 {
		t.Fatal("backup should not be tried when primary succeeds")
	}
}

func TestFallbackProvider_FallsBack(t *testing.T) {
	primary := &fakeProvider{name: "primary", err: errors.New("timeout")}
	backup := &fakeProvider{name: "backup", id: "wamid.B"}
	f := &FallbackProvider{Primary: primary, Backup: backup}

	id, via, err := f.SendTextVia(context.Background(), "628123456789", "halo")
	if err != nil {
		t.Fatalf("SendTextVia: %v", err)
	}
	if id != "wamid.B" || via != "backup" {
		t.Fatalf("got id=%q via=%q", id, via)
	}
}

func TestFallbackProvider_BothFail(t *testing.T) {
	f := &FallbackProvider{
		Primary: &fakeProvider{name: "primary", err: errors.New("timeout")},
		Backup:  &fakeProvider{name: "backup", err: errors.New("rejected")},
	}
	if _, _, err := f.SendTextVia(context.Background(), "628123456789", "halo"); err == nil {
		t.Fatal("expected error when both gateways fail")
	}
}

func TestFallbackProvider_NoBackupConfigured(t *testing.T) {
	primaryErr := errors.New("timeout")
	f := &FallbackProvider{Primary: &fakeProvider{name: "primary", err: primaryErr}}
	if _, err := f.SendText(context.Background(), "628123456789", "halo"); !errors.Is(err, primaryErr) {
		t.Fatalf("expected primary error passthrough, got %v", err)
	}
}
