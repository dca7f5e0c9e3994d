package delivery

import (
	"regexp"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// ReminderFields are the structured inputs for a reminder body.
type ReminderFields struct {
	PatientName string
	Medication  string
	Dosage      string
	Time        string // civil "HH:MM"
}

// DefaultReminderTemplate is used when a reminder carries no template
// override. Placeholders: {{name}}, {{medication}}, {{dosage}}, {{time}}.
const DefaultReminderTemplate = "Halo {{name}}, waktunya minum obat {{medication}}" +
	" ({{dosage}}) pukul {{time}} WIB. Balas SUDAH jika sudah diminum, atau BELUM jika belum."

var titleCaser = cases.Title(language.Indonesian)

// RenderBody fills the template with reminder fields and converts any
// rich-text markup to the plain formatting WhatsApp supports.
func RenderBody(template string, f ReminderFields) string {
	if strings.TrimSpace(template) == "" {
		template = DefaultReminderTemplate
	}
	r := strings.NewReplacer(
		"{{name}}", titleCaser.String(strings.TrimSpace(f.PatientName)),
		"{{medication}}", strings.TrimSpace(f.Medication),
		"{{dosage}}", strings.TrimSpace(f.Dosage),
		"{{time}}", strings.TrimSpace(f.Time),
	)
	return ToWhatsAppText(r.Replace(template))
}

var (
	mdBoldRE    = regexp.MustCompile(`\*\*([^*]+)\*\*`)
	mdItalicRE  = regexp.MustCompile(`(^|[^_])__([^_]+)__`)
	mdHeadingRE = regexp.MustCompile(`(?m)^#{1,6}\s*`)
	mdLinkRE    = regexp.MustCompile(`\[([^\]]+)\]\(([^)]+)\)`)
)

// ToWhatsAppText converts common markdown markup into WhatsApp's plain
// formatting: **bold** -> *bold*, __italic__ -> _italic_, headings are
// stripped, and [label](url) becomes "label (url)". Unknown markup is left
// as-is rather than guessed at.
func ToWhatsAppText(s string) string {
	s = mdBoldRE.ReplaceAllString(s, "*$1*")
	s = mdItalicRE.ReplaceAllString(s, "${1}_${2}_")
	s = mdHeadingRE.ReplaceAllString(s, "")
	s = mdLinkRE.ReplaceAllString(s, "$1 ($2)")
	return strings.TrimSpace(s)
}
