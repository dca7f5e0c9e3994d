package webhook

import (
	"strings"

	"github.com/risetaid/prima-sub012/internal/domain"
)

// statusMap folds the gateway's delivery-status vocabulary onto the internal
// four-value enum. Vocabularies differ between gateway versions; anything
// not listed here is accepted and ignored so future upstream additions fail
// open instead of breaking ingestion.
var statusMap = map[string]domain.ReminderStatus{
	"sent":        domain.ReminderSent,
	"queued":      domain.ReminderSent,
	"accepted":    domain.ReminderSent,
	"dispatched":  domain.ReminderSent,
	"delivered":   domain.ReminderDelivered,
	"read":        domain.ReminderDelivered,
	"failed":      domain.ReminderFailed,
	"error":       domain.ReminderFailed,
	"undelivered": domain.ReminderFailed,
	"rejected":    domain.ReminderFailed,
}

// MapStatus translates a raw gateway status. The boolean reports whether the
// value is known; unknown values are not errors.
func MapStatus(raw string) (domain.ReminderStatus, bool) {
	s, ok := statusMap[strings.ToLower(strings.TrimSpace(raw))]
	return s, ok
}
