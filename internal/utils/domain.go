package utils

import (
	"errors"
	"net/netip"
	"regexp"
	"strings"

	"golang.org/x/net/idna"
)

var schemeRegex = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9+.-]*://`)

var ErrInvalidDomain = errors.New("invalid domain")

// CleanDomain turns "https://www.Example.com:8443/x" into "example.com".
func CleanDomain(raw string) (string, error) {
	host := strings.ToLower(strings.TrimSpace(raw))
	host = schemeRegex.ReplaceAllString(host, "")
	host = strings.TrimPrefix(host, "www.")
	if i := strings.IndexAny(host, "/?#"); i >= 0 {
		host = host[:i]
	}
	if i := strings.LastIndex(host, "@"); i >= 0 {
		host = host[i+1:]
	}
	if i := strings.Index(host, ":"); i >= 0 {
		host = host[:i]
	}
	host = strings.TrimSuffix(host, ".")
	if host == "" {
		return "", ErrInvalidDomain
	}
	ascii, err := idna.Lookup.ToASCII(host)
	if err != nil {
		return "", ErrInvalidDomain
	}
	if !strings.Contains(ascii, ".") {
		return "", ErrInvalidDomain
	}
	return ascii, nil
}

type Restriction string

const (
	RestrictionNone      Restriction = ""
	RestrictionLoopback  Restriction = "loopback"
	RestrictionPrivate   Restriction = "private"
	RestrictionMulticast Restriction = "multicast"
)

func IPRestriction(addr netip.Addr) Restriction {
	switch {
	case addr.IsLoopback():
		return RestrictionLoopback
	case addr.IsPrivate(), addr.IsLinkLocalUnicast(), addr.IsUnspecified():
		return RestrictionPrivate
	case addr.IsMulticast(), addr.IsLinkLocalMulticast(), addr.IsInterfaceLocalMulticast():
		return RestrictionMulticast
	default:
		return RestrictionNone
	}
}

func ParseIP(s string) (netip.Addr, bool) {
	addr, err := netip.ParseAddr(strings.TrimSpace(s))
	if err != nil {
		return netip.Addr{}, false
	}
	return addr.Unmap(), true
}
