package webhook

import (
	"bytes"
	"errors"
	"mime/multipart"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
)

func TestParseStatusEvent_JSON(t *testing.T) {
	req := httptest.NewRequest("POST", "/", strings.NewReader(
		`{"message_id":"wamid.X1","status":"delivered","timestamp":"1710050000"}`))
	req.Header.Set("Content-Type", "application/json")

	ev, err := ParseStatusEvent(req)
	if err != nil {
		t.Fatalf("ParseStatusEvent: %v", err)
	}
	if ev.MessageID != "wamid.X1" || ev.Status != "delivered" || ev.Timestamp != "1710050000" {
		t.Fatalf("event = %+v", ev)
	}
}

func TestParseStatusEvent_AliasFields(t *testing.T) {
	req := httptest.NewRequest("POST", "/", strings.NewReader(
		`{"wamid":"wamid.X2","message_status":"read","ts":"1710050001"}`))
	req.Header.Set("Content-Type", "application/json")

	ev, err := ParseStatusEvent(req)
	if err != nil {
		t.Fatalf("ParseStatusEvent: %v", err)
	}
	if ev.MessageID != "wamid.X2" || ev.Status != "read" || ev.Timestamp != "1710050001" {
		t.Fatalf("event = %+v", ev)
	}
}

func TestParseStatusEvent_NestedPayload(t *testing.T) {
	req := httptest.NewRequest("POST", "/", strings.NewReader(
		`{"entry":{"id":"wamid.X3","status":"sent"},"timestamp":"1710050002"}`))
	req.Header.Set("Content-Type", "application/json")

	ev, err := ParseStatusEvent(req)
	if err != nil {
		t.Fatalf("ParseStatusEvent: %v", err)
	}
	if ev.MessageID != "wamid.X3" || ev.Status != "sent" {
		t.Fatalf("event = %+v", ev)
	}
}

func TestParseStatusEvent_MissingFields(t *testing.T) {
	req := httptest.NewRequest("POST", "/", strings.NewReader(`{"status":"sent"}`))
	req.Header.Set("Content-Type", "application/json")

	if _, err := ParseStatusEvent(req); !errors.Is(err, ErrMissingFields) {
		t.Fatalf("expected ErrMissingFields, got %v", err)
	}
}

func TestParseStatusEvent_UnsupportedMedia(t *testing.T) {
	req := httptest.NewRequest("POST", "/", strings.NewReader("<xml/>"))
	req.Header.Set("Content-Type", "text/xml")

	if _, err := ParseStatusEvent(req); !errors.Is(err, ErrUnsupportedMedia) {
		t.Fatalf("expected ErrUnsupportedMedia, got %v", err)
	}
}

func TestParseStatusEvent_MalformedJSON(t *testing.T) {
	req := httptest.NewRequest("POST", "/", strings.NewReader(`{"message_id":`))
	req.Header.Set("Content-Type", "application/json")

	if _, err := ParseStatusEvent(req); err == nil {
		t.Fatal("expected error for malformed JSON")
	}
}

func TestParseInboundMessage_JSON(t *testing.T) {
	req := httptest.NewRequest("POST", "/", strings.NewReader(
		`{"id":"wamid.M1","from":"628123456789","text":"sudah","timestamp":"1710050003"}`))
	req.Header.Set("Content-Type", "application/json")

	msg, err := ParseInboundMessage(req)
	if err != nil {
		t.Fatalf("ParseInboundMessage: %v", err)
	}
	if msg.From != "628123456789" || msg.Text != "sudah" || msg.MessageID != "wamid.M1" {
		t.Fatalf("message = %+v", msg)
	}
}

func TestParseInboundMessage_Form(t *testing.T) {
	form := url.Values{}
	form.Set("wa_id", "628123456789")
	form.Set("body", "ya setuju")
	req := httptest.NewRequest("POST", "/", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	msg, err := ParseInboundMessage(req)
	if err != nil {
		t.Fatalf("ParseInboundMessage: %v", err)
	}
	if msg.From != "628123456789" || msg.Text != "ya setuju" {
		t.Fatalf("message = %+v", msg)
	}
}

func TestParseInboundMessage_Multipart(t *testing.T) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	_ = w.WriteField("sender", "628123456789")
	_ = w.WriteField("message", "belum")
	_ = w.Close()

	req := httptest.NewRequest("POST", "/", &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())

	msg, err := ParseInboundMessage(req)
	if err != nil {
		t.Fatalf("ParseInboundMessage: %v", err)
	}
	if msg.From != "628123456789" || msg.Text != "belum" {
		t.Fatalf("message = %+v", msg)
	}
}

func TestParseInboundMessage_MissingFields(t *testing.T) {
	req := httptest.NewRequest("POST", "/", strings.NewReader(`{"from":"628123456789"}`))
	req.Header.Set("Content-Type", "application/json")

	if _, err := ParseInboundMessage(req); !errors.Is(err, ErrMissingFields) {
		t.Fatalf("expected ErrMissingFields, got %v", err)
	}
}

func TestFlattenJSON_OuterFieldsWin(t *testing.T) {
	out := flattenJSON(map[string]any{
		"status": "delivered",
		"inner":  map[string]any{"status": "failed", "extra": "x"},
	})
	if out["status"] != "delivered" {
		t.Fatalf("outer field overwritten: %v", out)
	}
	if out["extra"] != "x" {
		t.Fatalf("nested scalar not surfaced: %v", out)
	}
}

func TestFlattenJSON_NumericTimestamp(t *testing.T) {
	out := flattenJSON(map[string]any{"timestamp": float64(1710050000)})
	if out["timestamp"] != "1710050000" {
		t.Fatalf("timestamp = %q", out["timestamp"])
	}
}
