package analytics

import (
	"context"
	"time"

	"dnsbot/internal/storage"
)

type Service struct {
	store *storage.Store
}

func New(store *storage.Store) *Service {
	return &Service{store: store}
}

type Report struct {
	Total         int
	ByLevel       map[string]int
	ByEvent       map[string]int
	ClosedTickets int
}

func (s *Service) Report(ctx context.Context, guildID string, since time.Time) (Report, error) {
	logs, err := s.store.ListAuditLogs(ctx, guildID, since)
	if err != nil {
		return Report{}, err
	}
	closed, err := s.store.CountClosedTickets(ctx, guildID, since)
	if err != nil {
		return Report{}, err
	}
	return Summarize(logs, closed), nil
}

func Summarize(logs []storage.AuditLog, closedTickets int) Report {
	report := Report{ByLevel: make(map[string]int), ByEvent: make(map[string]int), ClosedTickets: closedTickets}
	for _, log := range logs {
		report.Total++
		report.ByLevel[log.Level]++
		report.ByEvent[log.Event]++
	}
	return report
}

func Since(period string, now time.Time) time.Time {
	switch period {
	case "week":
		return now.AddDate(0, 0, -7)
	default:
		return now.Add(-24 * time.Hour)
	}
}
