package netinfo

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"sort"
	"strings"
	"time"

	"dnsbot/internal/utils"
)

var (
	ErrRestricted = errors.New("address is restricted")
	ErrNotIPv4    = errors.New("not an ipv4 address")
)

type RestrictedError struct {
	Addr   netip.Addr
	Reason utils.Restriction
}

func (e *RestrictedError) Error() string {
	return fmt.Sprintf("%s address %s is not allowed", e.Reason, e.Addr)
}

func (e *RestrictedError) Unwrap() error { return ErrRestricted }

type Resolver interface {
	LookupIP(ctx context.Context, network, host string) ([]net.IP, error)
	LookupCNAME(ctx context.Context, host string) (string, error)
	LookupMX(ctx context.Context, name string) ([]*net.MX, error)
}

type MXRecord struct {
	Preference uint16
	Host       string
}

type DNSResult struct {
	Host  string
	A     []string
	CNAME []string
	MX    []MXRecord
}

type Tools struct {
	resolver Resolver
	ipinfo   IPInfoClient
	whois    WhoisClient
	timeout  time.Duration
}

func NewTools(resolver Resolver, ipinfo IPInfoClient, whois WhoisClient, timeout time.Duration) *Tools {
	if resolver == nil {
		resolver = net.DefaultResolver
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Tools{resolver: resolver, ipinfo: ipinfo, whois: whois, timeout: timeout}
}

func checkRestricted(addr netip.Addr) error {
	if reason := utils.IPRestriction(addr); reason != utils.RestrictionNone {
		return &RestrictedError{Addr: addr, Reason: reason}
	}
	return nil
}

// A failed record set is reported empty.
func (t *Tools) DNS(ctx context.Context, host string) (DNSResult, error) {
	host = strings.TrimSpace(host)
	if addr, ok := utils.ParseIP(host); ok {
		if err := checkRestricted(addr); err != nil {
			return DNSResult{}, err
		}
	}
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	res := DNSResult{Host: host}
	if ips, err := t.resolver.LookupIP(ctx, "ip4", host); err == nil {
		for _, ip := range ips {
			res.A = append(res.A, ip.String())
		}
	}
	if cname, err := t.resolver.LookupCNAME(ctx, host); err == nil {
		cname = strings.TrimSuffix(cname, ".")
		if cname != "" && !strings.EqualFold(cname, strings.TrimSuffix(host, ".")) {
			res.CNAME = append(res.CNAME, cname)
		}
	}
	if mxs, err := t.resolver.LookupMX(ctx, host); err == nil {
		for _, mx := range mxs {
			res.MX = append(res.MX, MXRecord{Preference: mx.Pref, Host: strings.TrimSuffix(mx.Host, ".")})
		}
		sort.SliceStable(res.MX, func(i, j int) bool { return res.MX[i].Preference < res.MX[j].Preference })
	}
	if err := ctx.Err(); err != nil && len(res.A)+len(res.CNAME)+len(res.MX) == 0 {
		return res, fmt.Errorf("dns lookup %s: %w", host, err)
	}
	return res, nil
}
