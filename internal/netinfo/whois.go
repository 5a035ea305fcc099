package netinfo

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/likexian/whois"
	whoisparser "github.com/likexian/whois-parser"

	"dnsbot/internal/utils"
)

type WhoisClient interface {
	Whois(domain string, servers ...string) (string, error)
}

func NewWhoisClient(timeout time.Duration) *whois.Client {
	client := whois.NewClient()
	client.SetTimeout(timeout)
	return client
}

type WhoisResult struct {
	Domain      string
	Registrar   string
	Created     string
	Expires     string
	NameServers []string
}

func (t *Tools) Whois(ctx context.Context, raw string) (WhoisResult, error) {
	domain, err := utils.CleanDomain(raw)
	if err != nil {
		return WhoisResult{}, fmt.Errorf("%w: %q", err, strings.TrimSpace(raw))
	}
	if t.whois == nil {
		return WhoisResult{}, fmt.Errorf("whois %s: no client configured", domain)
	}

	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	type reply struct {
		text string
		err  error
	}
	done := make(chan reply, 1)
	go func() {
		text, err := t.whois.Whois(domain)
		done <- reply{text, err}
	}()

	var r reply
	select {
	case <-ctx.Done():
		return WhoisResult{}, fmt.Errorf("whois %s: %w", domain, ctx.Err())
	case r = <-done:
	}
	if r.err != nil {
		return WhoisResult{}, fmt.Errorf("whois %s: %w", domain, r.err)
	}

	info, err := whoisparser.Parse(r.text)
	if err != nil {
		return WhoisResult{}, fmt.Errorf("whois %s: %w", domain, err)
	}

	res := WhoisResult{Domain: domain}
	if info.Registrar != nil {
		res.Registrar = info.Registrar.Name
		if res.Registrar == "" {
			res.Registrar = info.Registrar.Organization
		}
	}
	if info.Domain != nil {
		res.Created = FormatWhoisDate(info.Domain.CreatedDate)
		res.Expires = FormatWhoisDate(info.Domain.ExpirationDate)
		for _, ns := range info.Domain.NameServers {
			ns = strings.ToLower(strings.TrimSuffix(strings.TrimSpace(ns), "."))
			if ns != "" {
				res.NameServers = append(res.NameServers, ns)
			}
		}
	}
	return res, nil
}

var whoisLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05Z",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"02-Jan-2006",
	"2006.01.02",
}

// Unknown layouts are returned unchanged.
func FormatWhoisDate(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	for _, layout := range whoisLayouts {
		if ts, err := time.Parse(layout, raw); err == nil {
			return ts.UTC().Format("2006-01-02")
		}
	}
	return raw
}
