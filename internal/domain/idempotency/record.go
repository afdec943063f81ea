package idempotency

import "time"

// Header is a single ordered (name, value) pair captured from a response.
// Captured headers preserve insertion order; hop-by-hop headers are not
// captured by the interceptor before a record is built.
type Header struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// StoredRecord is the replay payload persisted against an idempotency key.
//
// A record is write-once for a given key within its TTL window: once
// present it is only read, or destroyed by TTL expiry / explicit purge.
type StoredRecord struct {
	Status    int       `json:"status"`
	Body      []byte    `json:"body"`
	Headers   []Header  `json:"headers"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Expired reports whether the record is no longer authoritative at instant
// now.
func (r StoredRecord) Expired(now time.Time) bool {
	return !r.ExpiresAt.After(now)
}

// NewStoredRecord builds a record for a first write at now, expiring after
// ttl.
func NewStoredRecord(status int, body []byte, headers []Header, ttl time.Duration, now time.Time) StoredRecord {
	return StoredRecord{
		Status:    status,
		Body:      body,
		Headers:   headers,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
}

// hopByHopHeaders lists response headers that are host-controlled and must
// never be captured into, or restored from, a StoredRecord.
var hopByHopHeaders = map[string]struct{}{
	"Content-Length":    {},
	"Transfer-Encoding": {},
	"Connection":        {},
	"Keep-Alive":        {},
	"Te":                {},
	"Trailer":           {},
	"Upgrade":           {},
}

// IsHopByHop reports whether a header name must be stripped from capture and
// restoration.
func IsHopByHop(name string) bool {
	_, ok := hopByHopHeaders[canonicalHeaderName(name)]
	return ok
}

func canonicalHeaderName(name string) string {
	// Minimal canonicalization matching net/http's CanonicalHeaderKey for the
	// fixed set above, without importing net/http into the domain package.
	b := []byte(name)
	upperNext := true
	for i, c := range b {
		if upperNext {
			if c >= 'a' && c <= 'z' {
				b[i] = c - ('a' - 'A')
			}
			upperNext = false
		} else if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
		if c == '-' {
			upperNext = true
		}
	}
	return string(b)
}
