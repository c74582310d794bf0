// Package clock provides the system's monotonic time source, ID generation,
// and canonical hashing. Every other package reads "now" through here so
// that tests can substitute a deterministic clock.
package clock

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Clock is the time source used throughout veritas. The real implementation
// wraps time.Now; tests inject a fixed or steppable clock so Frontier lease
// expiry and freshness decay are deterministic.
type Clock interface {
	Now() time.Time
}

// System is the production Clock, backed by time.Now.
type System struct{}

// Now returns the current wall-clock time.
func (System) Now() time.Time { return time.Now() }

// Fixed is a Clock that always returns the same instant, for tests.
type Fixed struct {
	At time.Time
}

// Now returns the fixed instant.
func (f Fixed) Now() time.Time { return f.At }

// NewID returns a new random UUID (v4) string, used for Job, Task,
// SourceDocument, Claim, and Item identifiers.
func NewID() string {
	return uuid.New().String()
}

// InputHash returns the stable hash used to dedupe jobs: H(lowercase(trim(input_raw))).
func InputHash(inputRaw string) string {
	normalized := strings.ToLower(strings.TrimSpace(inputRaw))
	return hashString(normalized)
}

// URLHash returns the stable hash used to dedupe source documents:
// H(canonicalize_url(url)).
func URLHash(rawURL string) string {
	return hashString(CanonicalizeURL(rawURL))
}

// CanonicalizeURL removes the fragment, sorts query parameters, and
// lowercases the host so equivalent URLs hash identically.
func CanonicalizeURL(rawURL string) string {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		// Not a parseable URL (e.g. one carrying an invalid percent-escape
		// such as "%zz") — fall back to a lowercased, trimmed literal so
		// callers still get a stable hash.
		return strings.ToLower(strings.TrimSpace(rawURL))
	}

	u.Fragment = ""
	u.Host = strings.ToLower(u.Host)

	if u.RawQuery != "" {
		values := u.Query()
		keys := make([]string, 0, len(values))
		for k := range values {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		var sorted []string
		for _, k := range keys {
			vs := values[k]
			sort.Strings(vs)
			for _, v := range vs {
				sorted = append(sorted, k+"="+v)
			}
		}
		u.RawQuery = strings.Join(sorted, "&")
	}

	return u.String()
}

func hashString(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
