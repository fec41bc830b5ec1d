package tracking

import (
	"strings"

	"github.com/ignite/pixel-tracker/internal/domain"
)

type clientMarker struct {
	marker string
	kind   domain.ClientKind
}

// Checked in order; the first marker found wins.
var clientMarkers = []clientMarker{
	{"gmail", domain.ClientGmail},
	{"outlook", domain.ClientOutlook},
	{"apple", domain.ClientAppleMail},
	{"yahoo", domain.ClientYahooMail},
}

// Classify maps a raw User-Agent string to the email client that sent it.
func Classify(userAgent string) domain.ClientKind {
	ua := strings.ToLower(userAgent)
	for _, m := range clientMarkers {
		if strings.Contains(ua, m.marker) {
			return m.kind
		}
	}
	return domain.ClientUnknown
}
