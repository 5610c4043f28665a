// Package dedup computes the stable identity of a scraped ad so re-scrapes
// of the same unit collapse onto one card.
package dedup

import (
	"encoding/hex"
	"net/url"
	"strings"

	"github.com/blatr/idealista-notify-bot/internal/domain"

	"github.com/mmcloughlin/geohash"
	"golang.org/x/crypto/blake2b"
)

// geohashPrecision 7 is roughly a building footprint (~150m cell), tight
// enough to separate neighbors but loose enough to absorb GPS jitter.
const geohashPrecision = 7

// volatileParams are query parameters that change between scrapes of the
// same ad (tracking junk) and must not influence identity.
var volatileParams = map[string]bool{
	"fbclid": true,
	"gclid":  true,
	"yclid":  true,
	"mc_cid": true,
	"mc_eid": true,
	"ref":    true,
}

// Fingerprint returns the hex BLAKE2b-256 of the canonical identity payload.
// Price and other churn-prone attributes are deliberately excluded: a price
// drop on a re-scrape must land on the same card, not mint a new one.
func Fingerprint(raw domain.RawListing) string {
	sum := blake2b.Sum256([]byte(buildPayload(raw)))
	return hex.EncodeToString(sum[:])
}

// buildPayload joins the normalized identity parts with "|".
func buildPayload(raw domain.RawListing) string {
	parts := []string{
		addressKey(raw),
		sourceKey(raw),
	}
	return strings.Join(parts, "|")
}

// addressKey prefers coordinates (geohash cell) over the free-text address,
// so differently formatted addresses of the same unit still match.
func addressKey(raw domain.RawListing) string {
	if raw.Latitude != 0 || raw.Longitude != 0 {
		return geohash.EncodeWithPrecision(raw.Latitude, raw.Longitude, geohashPrecision)
	}
	if key := normalizeText(raw.Address); key != "" {
		return key
	}
	return "null"
}

// sourceKey prefers the source-native ad id, then the canonical URL, then
// the normalized title (manual cards often carry neither id nor URL).
func sourceKey(raw domain.RawListing) string {
	if id := strings.TrimSpace(raw.SourceID); id != "" {
		return "id:" + strings.ToLower(id)
	}
	if u := CanonicalURL(raw.URL); u != "" {
		return "url:" + u
	}
	if title := normalizeText(raw.Title); title != "" {
		return "title:" + title
	}
	return "null"
}

// CanonicalURL reduces an ad URL to its stable form: lowercase host, default
// port stripped, no fragment, no "/ru" locale prefix, volatile query params
// dropped, surviving params sorted, trailing slash trimmed. Empty or
// unparseable input comes back lowercased and trimmed so the key stays
// deterministic.
func CanonicalURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return strings.ToLower(raw)
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	switch u.Scheme {
	case "http":
		u.Host = strings.TrimSuffix(u.Host, ":80")
	case "https":
		u.Host = strings.TrimSuffix(u.Host, ":443")
	}
	u.Fragment = ""
	u.Path = stripRuPrefix(u.Path)

	q := u.Query()
	for k := range q {
		if volatileParams[k] || strings.HasPrefix(k, "utm_") {
			q.Del(k)
		}
	}
	u.RawQuery = q.Encode() // Encode sorts keys

	u.Path = strings.TrimSuffix(u.Path, "/")
	return u.String()
}

// stripRuPrefix removes the "/ru" locale prefix Idealista serves the same ad
// under, so both mirrors fingerprint identically.
func stripRuPrefix(path string) string {
	if path == "/ru" {
		return "/"
	}
	if strings.HasPrefix(path, "/ru/") {
		return path[len("/ru"):]
	}
	return path
}

// normalizeText lowercases, strips punctuation and collapses whitespace.
func normalizeText(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r > 127: // keep non-ASCII letters (street names)
			b.WriteRune(r)
		default:
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// Snapshot extracts the comparable attribute set persisted on the card. Two
// cards with equal fingerprints are exact duplicates only if their snapshots
// are equal; any difference means the ad changed and the card is refreshed.
func Snapshot(raw domain.RawListing) domain.ListingAttributes {
	return domain.ListingAttributes{
		Title:       strings.TrimSpace(raw.Title),
		Price:       strings.TrimSpace(raw.Price),
		PriceValue:  raw.PriceValue,
		Rooms:       strings.TrimSpace(raw.Rooms),
		Size:        strings.TrimSpace(raw.Size),
		Floor:       strings.TrimSpace(raw.Floor),
		Description: strings.TrimSpace(raw.Description),
		Thumbnail:   strings.TrimSpace(raw.Thumbnail),
	}
}
