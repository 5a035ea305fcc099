package netinfo

import (
	"context"
	"fmt"
	"net"
	"strings"

	"github.com/ipinfo/go/v2/ipinfo"

	"dnsbot/internal/utils"
)

type IPInfoClient interface {
	GetIPInfo(ip net.IP) (*ipinfo.Core, error)
}

func NewIPInfoClient(token string) *ipinfo.Client {
	return ipinfo.NewClient(nil, nil, token)
}

type IPResult struct {
	IP       string
	Country  string
	City     string
	Org      string
	Hostname string
}

func (t *Tools) IP(ctx context.Context, raw string) (IPResult, error) {
	addr, ok := utils.ParseIP(raw)
	if !ok || !addr.Is4() {
		return IPResult{}, fmt.Errorf("%w: %q", ErrNotIPv4, strings.TrimSpace(raw))
	}
	if err := checkRestricted(addr); err != nil {
		return IPResult{}, err
	}
	if t.ipinfo == nil {
		return IPResult{}, fmt.Errorf("ip lookup %s: no client configured", addr)
	}

	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	type reply struct {
		core *ipinfo.Core
		err  error
	}
	done := make(chan reply, 1)
	go func() {
		core, err := t.ipinfo.GetIPInfo(net.IP(addr.AsSlice()))
		done <- reply{core, err}
	}()

	var r reply
	select {
	case <-ctx.Done():
		return IPResult{}, fmt.Errorf("ip lookup %s: %w", addr, ctx.Err())
	case r = <-done:
	}
	if r.err != nil {
		return IPResult{}, fmt.Errorf("ip lookup %s: %w", addr, r.err)
	}
	if r.core == nil {
		return IPResult{}, fmt.Errorf("ip lookup %s: empty response", addr)
	}

	country := r.core.CountryName
	if country == "" {
		country = r.core.Country
	}
	return IPResult{
		IP:       addr.String(),
		Country:  country,
		City:     r.core.City,
		Org:      r.core.Org,
		Hostname: r.core.Hostname,
	}, nil
}
