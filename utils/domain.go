package utils

import (
	"net"
	"net/http"
	"net/url"
	"strings"
)

// GetDomain returns the registrable domain (last two labels) the request was
// made for, taken from Origin, Referer or Host in that order. Loopback names
// and IP addresses are returned unchanged.
func GetDomain(r *http.Request) string {
	origin := getOrigin(r)
	if origin == "" {
		return ""
	}
	if !strings.HasPrefix(origin, "http") {
		origin = "https://" + origin
	}
	u, err := url.Parse(origin)
	if err != nil {
		return ""
	}
	// u.Host is "dev.example.com:3000", but Hostname() drops the ":3000"
	host := u.Hostname()
	if net.ParseIP(host) != nil {
		return host
	}
	parts := strings.Split(host, ".")
	if len(parts) <= 2 {
		// covers "localhost" or "example.com"
		return host
	}
	n := len(parts)
	return parts[n-2] + "." + parts[n-1]
}

// CookieDomain is the Domain attribute for session cookies. A configured
// domain wins. Loopback and IP hosts get a host-only cookie.
func CookieDomain(r *http.Request, configured string) string {
	if configured != "" {
		return configured
	}
	d := GetDomain(r)
	if d == "localhost" || net.ParseIP(d) != nil {
		return ""
	}
	return d
}

func getOrigin(r *http.Request) string {
	if v := r.Header.Get("Origin"); v != "" {
		return v
	}
	if v := r.Header.Get("Referer"); v != "" {
		return v
	}
	return r.Host
}
