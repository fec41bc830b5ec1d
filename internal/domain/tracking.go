package domain

import "time"

// ClientKind enumerates the email clients the classifier recognizes.
type ClientKind string

const (
	ClientGmail     ClientKind = "Gmail"
	ClientOutlook   ClientKind = "Outlook"
	ClientAppleMail ClientKind = "Apple Mail"
	ClientYahooMail ClientKind = "Yahoo Mail"
	ClientUnknown   ClientKind = "Unknown"
)

// UnknownUserAgent is stored when a request carries no User-Agent header.
const UnknownUserAgent = "unknown"

// TrackingDocument holds every open recorded for one tracking key.
// Opens is append-only and kept in arrival order.
type TrackingDocument struct {
	Key string `json:"key"`
	// OpenCount is a legacy counter. Nothing increments it on append, so it
	// can disagree with len(Opens).
	OpenCount int         `json:"openCount"`
	Opens     []OpenEvent `json:"opens"`
}

// OpenEvent is one fetch of the tracking pixel.
type OpenEvent struct {
	ID          string     `json:"id,omitempty"`
	Time        time.Time  `json:"time"`
	UserAgent   string     `json:"userAgent"`
	EmailClient ClientKind `json:"emailClient"`
	Section     *string    `json:"section,omitempty"`
	ClientTs    *time.Time `json:"clientTs,omitempty"`
	ClientTime  *time.Time `json:"clientTime,omitempty"`
	IPAddress   string     `json:"ip,omitempty"`
}

// Stats is the per-client summary of a tracking document.
type Stats struct {
	OpenCount int        `json:"openCount"`
	UserStats []UserStat `json:"userStats"`
}

// UserStat holds the session bounds of one user agent.
type UserStat struct {
	UserAgent    string     `json:"userAgent"`
	EmailClient  ClientKind `json:"emailClient"`
	FirstSeen    time.Time  `json:"firstSeen"`
	LastSeen     time.Time  `json:"lastSeen"`
	SecondsSpent int64      `json:"secondsSpent"`
}
