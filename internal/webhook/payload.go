// Package webhook normalizes inbound gateway callbacks. Payload shape varies
// by provider and by content type (JSON, form-encoded, multipart); this
// package folds all of them into two internal shapes — StatusEvent and
// InboundMessage — before any business logic runs. Unknown fields are
// ignored, never treated as errors, so upstream payload drift fails open.
package webhook

import (
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
)

// StatusEvent is the normalized form of a delivery-status callback.
type StatusEvent struct {
	MessageID string // gateway's opaque message identifier
	Status    string // raw gateway vocabulary, mapped later
	Timestamp string // as reported; part of the idempotency key
}

// InboundMessage is the normalized form of a patient reply.
type InboundMessage struct {
	MessageID string
	From      string // sender phone, raw; normalized by the caller
	Text      string
	Timestamp string
}

// Parse errors.
var (
	ErrUnsupportedMedia = errors.New("unsupported content type")
	ErrMissingFields    = errors.New("payload missing required fields")
)

// maxBodyBytes caps how much of a callback body is read.
const maxBodyBytes = 256 << 10

// Field name variants seen across gateway versions. First match wins.
var (
	messageIDKeys = []string{"message_id", "messageId", "id", "wamid"}
	statusKeys    = []string{"status", "message_status", "state"}
	timestampKeys = []string{"timestamp", "ts", "time"}
	fromKeys      = []string{"from", "sender", "wa_id", "phone"}
	textKeys      = []string{"text", "body", "message", "content"}
)

// ParseStatusEvent normalizes a delivery-status request body.
func ParseStatusEvent(r *http.Request) (*StatusEvent, error) {
	fields, err := bodyFields(r)
	if err != nil {
		return nil, err
	}
	ev := &StatusEvent{
		MessageID: first(fields, messageIDKeys),
		Status:    first(fields, statusKeys),
		Timestamp: first(fields, timestampKeys),
	}
	if ev.MessageID == "" || ev.Status == "" {
		return nil, ErrMissingFields
	}
	return ev, nil
}

// ParseInboundMessage normalizes an inbound patient reply body.
func ParseInboundMessage(r *http.Request) (*InboundMessage, error) {
	fields, err := bodyFields(r)
	if err != nil {
		return nil, err
	}
	msg := &InboundMessage{
		MessageID: first(fields, messageIDKeys),
		From:      first(fields, fromKeys),
		Text:      first(fields, textKeys),
		Timestamp: first(fields, timestampKeys),
	}
	if msg.From == "" || msg.Text == "" {
		return nil, ErrMissingFields
	}
	return msg, nil
}

// bodyFields flattens the request body into a string map regardless of
// content type. Nested JSON values are walked one level deep so wrapped
// payloads ({"message": {...}}) still surface their fields.
func bodyFields(r *http.Request) (map[string]string, error) {
	ct := r.Header.Get("Content-Type")
	mediaType, _, err := mime.ParseMediaType(ct)
	if err != nil && ct != "" {
		return nil, ErrUnsupportedMedia
	}

	switch {
	case mediaType == "" || strings.Contains(mediaType, "json"):
		raw, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
		if err != nil {
			return nil, err
		}
		var doc map[string]any
		if err := json.Unmarshal(raw, &doc); err != nil {
			return nil, err
		}
		return flattenJSON(doc), nil

	case mediaType == "application/x-www-form-urlencoded":
		raw, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
		if err != nil {
			return nil, err
		}
		vals, err := url.ParseQuery(string(raw))
		if err != nil {
			return nil, err
		}
		return flattenValues(vals), nil

	case strings.HasPrefix(mediaType, "multipart/"):
		if err := r.ParseMultipartForm(maxBodyBytes); err != nil {
			return nil, err
		}
		return flattenValues(url.Values(r.MultipartForm.Value)), nil

	default:
		return nil, ErrUnsupportedMedia
	}
}

// flattenJSON lowers top-level scalars and one level of nested objects into
// a flat map. Top-level scalars are placed first and nested values never
// overwrite them, so outer fields win regardless of map iteration order.
func flattenJSON(doc map[string]any) map[string]string {
	out := make(map[string]string, len(doc))
	put := func(k string, v any) {
		if _, ok := out[k]; ok {
			return
		}
		switch t := v.(type) {
		case string:
			out[k] = t
		case json.Number:
			out[k] = t.String()
		case float64:
			out[k] = strconvFormat(t)
		}
	}
	for k, v := range doc {
		put(k, v)
	}
	for _, v := range doc {
		if nested, ok := v.(map[string]any); ok {
			for kk, vv := range nested {
				put(kk, vv)
			}
		}
	}
	return out
}

func strconvFormat(f float64) string {
	b, _ := json.Marshal(f)
	return string(b)
}

func flattenValues(vals url.Values) map[string]string {
	out := make(map[string]string, len(vals))
	for k, v := range vals {
		if len(v) > 0 {
			out[k] = v[0]
		}
	}
	return out
}

// first returns the first non-empty value among the candidate keys.
func first(fields map[string]string, keys []string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(fields[k]); v != "" {
			return v
		}
	}
	return ""
}
