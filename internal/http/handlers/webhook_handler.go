// Gateway webhook endpoints.
//
//   - POST /webhooks/:provider/message-status  (delivery receipts)
//   - POST /webhooks/:provider/incoming        (patient replies)
//
// Both endpoints are deliberately forgiving: gateways retry aggressively on
// non-2xx, so unknown patients, unmapped status vocabulary, and replayed
// events all answer 200 with a disposition flag instead of an error. Only a
// body the parser cannot read at all earns a 400.
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/risetaid/prima-sub012/internal/http/middleware"
	"github.com/risetaid/prima-sub012/internal/webhook"
)

// MessageStatus ingests one delivery-status callback.
func (h *Handlers) MessageStatus(c *gin.Context) {
	provider := c.Param("provider")

	ev, err := webhook.ParseStatusEvent(c.Request)
	if err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, parseErrMessage(err))
		return
	}

	res, err := h.ingest.HandleStatus(c.Request.Context(), provider, ev)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}

	middleware.LoggerFrom(c).Debug().
		Str("provider", provider).
		Str("message_id", ev.MessageID).
		Str("status", ev.Status).
		Str("result", string(res)).
		Msg("status callback")

	webhookOK(c, string(res))
}

// IncomingMessage ingests one inbound patient reply and routes it to either
// the consent state machine or the confirmation matcher.
func (h *Handlers) IncomingMessage(c *gin.Context) {
	provider := c.Param("provider")

	msg, err := webhook.ParseInboundMessage(c.Request)
	if err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, parseErrMessage(err))
		return
	}

	res, err := h.ingest.HandleInbound(c.Request.Context(), provider, msg)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}

	middleware.LoggerFrom(c).Debug().
		Str("provider", provider).
		Str("message_id", msg.MessageID).
		Str("result", string(res)).
		Msg("inbound callback")

	webhookOK(c, string(res))
}

// parseErrMessage keeps gateway-facing 400 bodies stable regardless of the
// underlying decoder error text.
func parseErrMessage(err error) string {
	switch {
	case errors.Is(err, webhook.ErrUnsupportedMedia):
		return "unsupported content type"
	case errors.Is(err, webhook.ErrMissingFields):
		return "payload missing required fields"
	default:
		return "malformed payload"
	}
}
