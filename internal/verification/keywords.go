// Package verification implements the patient consent state machine that
// gates all outbound reminder dispatch.
package verification

import "strings"

// Reply is the classification of an inbound verification reply.
type Reply int

const (
	ReplyUnknown Reply = iota
	ReplyAccept
	ReplyDecline
	ReplyUnsubscribe
)

// Keyword vocabularies for consent replies. Matching is case-insensitive
// substring containment over small fixed sets; anything that matches none of
// them is ReplyUnknown and triggers a clarification prompt instead of a
// guess.
var (
	acceptKeywords      = []string{"ya", "iya", "setuju", "boleh", "ok", "oke", "yes"}
	declineKeywords     = []string{"tidak", "tdk", "gak", "nggak", "no"}
	unsubscribeKeywords = []string{"berhenti", "stop", "batal"}
)

// ClassifyReply maps free text onto a consent reply. Unsubscribe wins over
// everything, and decline wins over accept, so "tidak boleh" reads as a
// refusal rather than matching the accept keyword it contains.
func ClassifyReply(text string) Reply {
	t := strings.ToLower(strings.TrimSpace(text))
	if t == "" {
		return ReplyUnknown
	}
	if containsAny(t, unsubscribeKeywords) {
		return ReplyUnsubscribe
	}
	if containsAny(t, declineKeywords) {
		return ReplyDecline
	}
	if containsAny(t, acceptKeywords) {
		return ReplyAccept
	}
	return ReplyUnknown
}

// IsUnsubscribe reports whether text carries an unsubscribe keyword. Used by
// webhook routing: an unsubscribe must reach the state machine from any
// patient state, not only during pending verification.
func IsUnsubscribe(text string) bool {
	return containsAny(strings.ToLower(strings.TrimSpace(text)), unsubscribeKeywords)
}

func containsAny(t string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(t, k) {
			return true
		}
	}
	return false
}
