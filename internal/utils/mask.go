package utils

import (
	"net/url"
)

// MaskSecret keeps the first four characters of a credential for log correlation
func MaskSecret(s string) string {
	if len(s) <= 4 {
		return "*****"
	}
	return s[:4] + "*****"
}

// MaskURL strips credentials and signed query strings from a URL before it is logged
func MaskURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return MaskSecret(raw)
	}
	u.User = nil
	if u.RawQuery != "" {
		u.RawQuery = "..."
	}
	return u.String()
}

// IsValidURL reports whether raw is an absolute http(s) URL
func IsValidURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
