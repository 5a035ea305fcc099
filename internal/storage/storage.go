package storage

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"path"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed migrations/*.sql
var migrations embed.FS

// A nil *Store is valid; writes become no-ops.
type Store struct {
	pool *pgxpool.Pool
}

type AuditLog struct {
	ID        int64
	GuildID   string
	UserID    string
	Level     string
	Event     string
	Details   string
	CreatedAt time.Time
}

type TicketRecord struct {
	GuildID        string
	ChannelID      string
	ChannelName    string
	OwnerID        string
	OpenedAt       time.Time
	ClosedAt       *time.Time
	ClosedBy       string
	TranscriptPath string
	RecipientID    string
	MessageCount   int
}

var ErrNotConfigured = errors.New("storage: database not configured")

// An empty dsn returns a nil store.
func New(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, nil
	}
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	cfg.MaxConnIdleTime = 5 * time.Minute
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s != nil && s.pool != nil {
		s.pool.Close()
	}
}

func (s *Store) Migrate(ctx context.Context) error {
	if s == nil {
		return nil
	}
	entries, err := migrations.ReadDir("migrations")
	if err != nil {
		return err
	}

	var files []string
	for _, entry := range entries {
		files = append(files, entry.Name())
	}
	sort.Strings(files)

	for _, file := range files {
		content, err := migrations.ReadFile(path.Join("migrations", file))
		if err != nil {
			return err
		}
		if _, err := s.pool.Exec(ctx, string(content)); err != nil {
			return fmt.Errorf("migration %s failed: %w", file, err)
		}
	}
	return nil
}

func (s *Store) AddAuditLog(ctx context.Context, log AuditLog) error {
	if s == nil {
		return nil
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO audit_logs (guild_id, user_id, level, event, details, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, log.GuildID, log.UserID, log.Level, log.Event, log.Details, log.CreatedAt)
	return err
}

func (s *Store) ListAuditLogs(ctx context.Context, guildID string, since time.Time) ([]AuditLog, error) {
	if s == nil {
		return nil, ErrNotConfigured
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, guild_id, user_id, level, event, details, created_at
		FROM audit_logs
		WHERE guild_id = $1 AND created_at >= $2
		ORDER BY created_at DESC
	`, guildID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []AuditLog
	for rows.Next() {
		var log AuditLog
		if err := rows.Scan(&log.ID, &log.GuildID, &log.UserID, &log.Level, &log.Event, &log.Details, &log.CreatedAt); err != nil {
			return nil, err
		}
		logs = append(logs, log)
	}
	return logs, rows.Err()
}

func (s *Store) CleanupAuditLogs(ctx context.Context, retentionDays int) (int64, error) {
	if s == nil || retentionDays <= 0 {
		return 0, nil
	}
	cutoff := time.Now().AddDate(0, 0, -retentionDays)
	tag, err := s.pool.Exec(ctx, `DELETE FROM audit_logs WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (s *Store) RecordTicketOpened(ctx context.Context, rec TicketRecord) error {
	if s == nil {
		return nil
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO ticket_history (channel_id, guild_id, owner_id, channel_name, opened_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (channel_id) DO NOTHING
	`, rec.ChannelID, rec.GuildID, rec.OwnerID, rec.ChannelName, rec.OpenedAt)
	return err
}

func (s *Store) RecordTicketClosed(ctx context.Context, rec TicketRecord) error {
	if s == nil {
		return nil
	}
	closedAt := time.Now()
	if rec.ClosedAt != nil {
		closedAt = *rec.ClosedAt
	}
	opened := rec.OpenedAt
	if opened.IsZero() {
		opened = closedAt
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO ticket_history (channel_id, guild_id, owner_id, channel_name, opened_at,
			closed_at, closed_by, transcript_path, recipient_id, message_count)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (channel_id) DO UPDATE SET
			closed_at = excluded.closed_at,
			closed_by = excluded.closed_by,
			transcript_path = excluded.transcript_path,
			recipient_id = excluded.recipient_id,
			message_count = excluded.message_count
	`, rec.ChannelID, rec.GuildID, rec.OwnerID, rec.ChannelName, opened,
		closedAt, rec.ClosedBy, rec.TranscriptPath, rec.RecipientID, rec.MessageCount)
	return err
}

func (s *Store) GetTicket(ctx context.Context, channelID string) (TicketRecord, error) {
	if s == nil {
		return TicketRecord{}, ErrNotConfigured
	}
	var rec TicketRecord
	err := s.pool.QueryRow(ctx, `
		SELECT channel_id, guild_id, owner_id, channel_name, opened_at, closed_at,
			closed_by, transcript_path, recipient_id, message_count
		FROM ticket_history WHERE channel_id = $1
	`, channelID).Scan(&rec.ChannelID, &rec.GuildID, &rec.OwnerID, &rec.ChannelName, &rec.OpenedAt,
		&rec.ClosedAt, &rec.ClosedBy, &rec.TranscriptPath, &rec.RecipientID, &rec.MessageCount)
	if errors.Is(err, pgx.ErrNoRows) {
		return TicketRecord{}, fmt.Errorf("ticket %s: %w", channelID, err)
	}
	return rec, err
}

func (s *Store) CountClosedTickets(ctx context.Context, guildID string, since time.Time) (int, error) {
	if s == nil {
		return 0, ErrNotConfigured
	}
	var count int
	err := s.pool.QueryRow(ctx, `
		SELECT count(*) FROM ticket_history
		WHERE guild_id = $1 AND closed_at IS NOT NULL AND closed_at >= $2
	`, guildID, since).Scan(&count)
	return count, err
}
