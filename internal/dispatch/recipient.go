package dispatch

import (
	"strings"
	"unicode"

	"github.com/matheus3301/wpphub/internal/apperr"
)

// Address servers.
const (
	IndividualServer = "s.whatsapp.net"
	GroupServer      = "g.us"
)

// RecipientKind says how a bare number should be addressed.
type RecipientKind string

const (
	RecipientAuto       RecipientKind = ""
	RecipientIndividual RecipientKind = "individual"
	RecipientGroup      RecipientKind = "group"
)

// Classifier decides whether a digits-only recipient is a group.
type Classifier func(digits string) bool

// MaxPhoneDigits is the longest E.164 number. Longer digit strings are
// assumed to be legacy group ids by DigitLengthClassifier.
const MaxPhoneDigits = 15

// DigitLengthClassifier treats anything longer than a phone number as a group.
func DigitLengthClassifier(digits string) bool {
	return len(digits) > MaxPhoneDigits
}

// NormalizeRecipient turns caller input into a full protocol address.
// Input that already names a server is used verbatim.
func NormalizeRecipient(to string, kind RecipientKind, classify Classifier) (string, error) {
	to = strings.TrimSpace(to)
	if strings.Contains(to, "@") {
		return to, nil
	}
	digits := strings.Map(func(r rune) rune {
		if unicode.IsDigit(r) {
			return r
		}
		return -1
	}, to)
	if digits == "" {
		return "", apperr.InvalidRequest("recipient %q has no digits", to)
	}

	group := false
	switch kind {
	case RecipientGroup:
		group = true
	case RecipientIndividual:
	case RecipientAuto:
		if classify == nil {
			classify = DigitLengthClassifier
		}
		group = classify(digits)
	default:
		return "", apperr.InvalidRequest("unknown recipient kind %q", kind)
	}
	if group {
		return digits + "@" + GroupServer, nil
	}
	return digits + "@" + IndividualServer, nil
}
