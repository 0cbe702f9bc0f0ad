package normalize

import (
	"net/url"
	"regexp"
	"strings"
)

var emailShape = regexp.MustCompile(`^[^@]+@[^@]+\.[^@]+$`)

var plusTag = regexp.MustCompile(`\+[^@]*@`)

// Host canonicalizes the many historical spellings of the same
// submitting page: "www.example.com/contact/index.html" and
// "example.com/contact" must map to the same value. The same rules
// are applied when storing new forms and when querying, so lookups
// and row creation always agree.
func Host(host string) string {
	host = strings.TrimPrefix(host, "www.")
	if strings.HasSuffix(host, "/index.html") {
		host = host[:len(host)-len("/index.html")]
	}
	host = strings.TrimSuffix(host, ".html")
	return strings.TrimRight(host, "/")
}

// Email strips any +suffix tag from the local part. Used for matching
// only, never for storage.
func Email(email string) string {
	return plusTag.ReplaceAllString(email, "@")
}

// IsValidEmail performs a basic shape check, not full RFC validation
func IsValidEmail(addr string) bool {
	return emailShape.MatchString(addr)
}

// ReferrerToPath reduces a referrer URL to its host+path form,
// which is what gets stored as a form's host
func ReferrerToPath(referrer string) string {
	if referrer == "" {
		return ""
	}
	parsed, err := url.Parse(referrer)
	if err != nil {
		return ""
	}
	return parsed.Host + parsed.Path
}

// ReferrerToBaseURL reduces a referrer URL to its host only
func ReferrerToBaseURL(referrer string) string {
	if referrer == "" {
		return ""
	}
	parsed, err := url.Parse(referrer)
	if err != nil {
		return ""
	}
	return parsed.Host
}

// URLDomain returns the registrable two-label domain of a URL
func URLDomain(raw string) string {
	parsed, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	parts := strings.Split(parsed.Host, ".")
	if len(parts) < 2 {
		return parsed.Host
	}
	return strings.Join(parts[len(parts)-2:], ".")
}

// NextURL resolves the post-submission redirect target. When next is
// given, its parts override the referrer's part by part, so a bare
// path reuses the referrer's scheme and host, a bare host reuses the
// scheme, and so on. When next is empty the caller falls back to the
// service thanks page.
func NextURL(referrer, next string) string {
	if next == "" {
		return ""
	}
	parsedNext, err := url.Parse(next)
	if err != nil {
		return ""
	}
	base, err := url.Parse(referrer)
	if err != nil {
		base = &url.URL{}
	}

	merged := url.URL{
		Scheme:   pick(parsedNext.Scheme, base.Scheme),
		Host:     pick(parsedNext.Host, base.Host),
		Path:     pick(parsedNext.Path, base.Path),
		RawQuery: pick(parsedNext.RawQuery, base.RawQuery),
		Fragment: pick(parsedNext.Fragment, base.Fragment),
	}
	return merged.String()
}

// ValidURL reports whether raw has a scheme and host and is not a
// javascript: vector
func ValidURL(raw string) bool {
	parsed, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return parsed.Scheme != "" && parsed.Host != "" && !strings.Contains(raw, "javascript:")
}

func pick(a, b string) string {
	if a != "" {
		return a
	}
	return b
}
