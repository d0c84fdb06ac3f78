package shortener

import (
	"strings"
	"time"
)

// Link is a short code bound to a target URL, an owner, a click quota and an
// expiration instant.
type Link struct {
	Code        string    `json:"code"`
	OwnerID     string    `json:"ownerId"`
	OriginalURL string    `json:"originalUrl"`
	ShortURL    string    `json:"shortUrl"`
	MaxClicks   int       `json:"maxClicks"`
	ClicksDone  int       `json:"clicksDone"`
	CreatedAt   time.Time `json:"createdAt"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

// ExpiredAt reports whether the link is past its expiration at now.
// A link is still live at exactly ExpiresAt.
func (l Link) ExpiredAt(now time.Time) bool {
	return now.After(l.ExpiresAt)
}

// QuotaReached reports whether no clicks are left.
func (l Link) QuotaReached() bool {
	return l.ClicksDone >= l.MaxClicks
}

// ComposeShortURL joins baseURL and code with exactly one slash.
func ComposeShortURL(baseURL, code string) string {
	if strings.HasSuffix(baseURL, "/") {
		return baseURL + code
	}
	return baseURL + "/" + code
}

// sortNewestFirst orders links by CreatedAt descending, then Code ascending.
func sortNewestFirst(a, b Link) int {
	if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
		return c
	}
	return strings.Compare(a.Code, b.Code)
}
