package bot

import (
	"context"
	"fmt"
	"sync"
	"time"

	"dnsbot/internal/analytics"
	"dnsbot/internal/config"
	"dnsbot/internal/logsink"
	"dnsbot/internal/metrics"
	"dnsbot/internal/modules/audit"
	"dnsbot/internal/netinfo"
	"dnsbot/internal/platform"
	"dnsbot/internal/storage"
	"dnsbot/internal/sysinfo"
	"dnsbot/internal/ticket"
	"dnsbot/internal/utils"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

type Deps struct {
	Store     *storage.Store
	Audit     *audit.Logger
	Analytics *analytics.Service
	Tools     *netinfo.Tools
	Sink      *logsink.Sink
	Metrics   *metrics.Metrics
}

type Bot struct {
	cfg       config.Config
	logger    *zap.Logger
	store     *storage.Store
	audit     *audit.Logger
	analytics *analytics.Service
	tools     *netinfo.Tools
	sink      *logsink.Sink
	metrics   *metrics.Metrics
	session   *discordgo.Session
	platform  *platform.Discord
	tickets   *ticket.Controller
	probe     *sysinfo.Probe
	cooldown  *utils.Cooldown
	started   time.Time

	timersMu sync.Mutex
	timers   map[*time.Timer]struct{}
	stop     chan struct{}

	// Guards wg.Add against a concurrent Wait in Close.
	trackMu sync.Mutex
	closing bool
	wg      sync.WaitGroup
}

func New(cfg config.Config, logger *zap.Logger, deps Deps) (*Bot, error) {
	session, err := discordgo.New("Bot " + cfg.DiscordToken)
	if err != nil {
		return nil, err
	}

	session.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsGuildMembers

	if deps.Metrics == nil {
		deps.Metrics = metrics.New()
	}
	started := time.Now()
	limit, window := cfg.Cooldown()
	adapter := platform.NewDiscord(session, cfg.EmbedColors.Info)

	b := &Bot{
		cfg:       cfg,
		logger:    logger,
		store:     deps.Store,
		audit:     deps.Audit,
		analytics: deps.Analytics,
		tools:     deps.Tools,
		sink:      deps.Sink,
		metrics:   deps.Metrics,
		session:   session,
		platform:  adapter,
		probe:     sysinfo.NewProbe(started, logger),
		cooldown:  utils.NewCooldown(limit, window),
		started:   started,
		timers:    make(map[*time.Timer]struct{}),
		stop:      make(chan struct{}),
	}
	b.tickets = ticket.NewController(ticket.Config{
		Prefix:         cfg.Tickets.Prefix,
		TranscriptsDir: cfg.Tickets.TranscriptsDir,
		ParentID:       cfg.Tickets.CategoryID,
		GracePeriod:    cfg.TicketGrace(),
	}, ticket.NewStore(), adapter, logger.Named("tickets"))

	if b.audit != nil && b.sink != nil {
		b.audit.SetNotifier(func(ctx context.Context, entry storage.AuditLog) {
			if entry.Level == audit.LevelInfo {
				return
			}
			b.sink.Send(entry.Level, formatAuditLine(entry))
		})
	}

	return b, nil
}

func (b *Bot) Start() error {
	b.session.AddHandler(b.onReady)
	b.session.AddHandler(b.onGuildCreate)
	b.session.AddHandler(b.onInteractionCreate)

	if err := b.session.Open(); err != nil {
		return err
	}

	if err := b.registerCommands(); err != nil {
		return err
	}

	b.startMaintenance()

	return nil
}

func (b *Bot) Close(ctx context.Context) {
	b.trackMu.Lock()
	if b.closing {
		b.trackMu.Unlock()
		return
	}
	b.closing = true
	b.trackMu.Unlock()

	close(b.stop)
	b.timersMu.Lock()
	for timer := range b.timers {
		timer.Stop()
	}
	b.timers = make(map[*time.Timer]struct{})
	b.timersMu.Unlock()

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		b.logger.Warn("shutdown timed out waiting for handlers")
	}
	if b.session != nil {
		_ = b.session.Close()
	}
}

func (b *Bot) track() bool {
	b.trackMu.Lock()
	defer b.trackMu.Unlock()
	if b.closing {
		return false
	}
	b.wg.Add(1)
	return true
}

func (b *Bot) Metrics() *metrics.Metrics {
	return b.metrics
}

func (b *Bot) onReady(session *discordgo.Session, event *discordgo.Ready) {
	b.logger.Info("discord ready", zap.String("user", session.State.User.Username), zap.Int("guilds", len(event.Guilds)))
}

func (b *Bot) onGuildCreate(session *discordgo.Session, event *discordgo.GuildCreate) {
	if event.Guild == nil || event.Unavailable || !b.cfg.Tickets.ReconcileOnStart {
		return
	}
	if !b.track() {
		return
	}
	defer b.wg.Done()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	channels, err := b.platform.TicketChannels(ctx, event.Guild.ID, b.cfg.Tickets.Prefix)
	if err != nil {
		b.logger.Warn("ticket reconciliation failed", zap.String("guild_id", event.Guild.ID), zap.Error(err))
		return
	}
	if adopted := b.tickets.Reconcile(channels); adopted > 0 {
		b.logger.Info("tickets reconciled", zap.String("guild_id", event.Guild.ID), zap.Int("adopted", adopted))
	}
	b.metrics.OpenTickets.Set(float64(b.tickets.Store().Len()))
}

func (b *Bot) startMaintenance() {
	if !b.track() {
		return
	}
	go func() {
		defer b.wg.Done()
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-b.stop:
				return
			case now := <-ticker.C:
				b.cooldown.Sweep(now)
				if b.store == nil || b.cfg.RetentionDays <= 0 {
					continue
				}
				ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
				removed, err := b.store.CleanupAuditLogs(ctx, b.cfg.RetentionDays)
				cancel()
				if err != nil {
					b.logger.Warn("audit cleanup failed", zap.Error(err))
				} else if removed > 0 {
					b.logger.Info("audit cleanup", zap.Int64("removed", removed))
				}
			}
		}
	}()
}

func (b *Bot) scheduleDelete(interaction *discordgo.Interaction, messageID string) {
	delay := b.cfg.AutoDelete()
	if delay <= 0 || messageID == "" {
		return
	}
	b.timersMu.Lock()
	defer b.timersMu.Unlock()
	var timer *time.Timer
	timer = time.AfterFunc(delay, func() {
		b.timersMu.Lock()
		delete(b.timers, timer)
		b.timersMu.Unlock()
		if err := b.session.FollowupMessageDelete(interaction, messageID); err != nil {
			b.logger.Debug("auto delete failed", zap.String("message_id", messageID), zap.Error(err))
		}
	})
	b.timers[timer] = struct{}{}
}

func (b *Bot) respond(session *discordgo.Session, interaction *discordgo.InteractionCreate, content string, ephemeral bool) {
	flags := discordgo.MessageFlags(0)
	if ephemeral {
		flags = discordgo.MessageFlagsEphemeral
	}
	if err := session.InteractionRespond(interaction.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: content,
			Flags:   flags,
		},
	}); err != nil {
		b.logger.Debug("interaction respond failed", zap.Error(err))
	}
}

func (b *Bot) respondEmbed(session *discordgo.Session, interaction *discordgo.InteractionCreate, embed *discordgo.MessageEmbed, ephemeral bool, components ...discordgo.MessageComponent) {
	if embed == nil {
		b.respond(session, interaction, "No response available.", ephemeral)
		return
	}
	flags := discordgo.MessageFlags(0)
	if ephemeral {
		flags = discordgo.MessageFlagsEphemeral
	}
	if err := session.InteractionRespond(interaction.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Embeds:     []*discordgo.MessageEmbed{embed},
			Components: components,
			Flags:      flags,
		},
	}); err != nil {
		b.logger.Debug("interaction respond failed", zap.Error(err))
	}
}

func (b *Bot) deferResponse(session *discordgo.Session, interaction *discordgo.InteractionCreate, ephemeral bool) error {
	flags := discordgo.MessageFlags(0)
	if ephemeral {
		flags = discordgo.MessageFlagsEphemeral
	}
	return session.InteractionRespond(interaction.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{Flags: flags},
	})
}

func (b *Bot) followup(session *discordgo.Session, interaction *discordgo.InteractionCreate, content string, ephemeral bool) {
	params := &discordgo.WebhookParams{Content: content}
	if ephemeral {
		params.Flags = discordgo.MessageFlagsEphemeral
	}
	if _, err := session.FollowupMessageCreate(interaction.Interaction, true, params); err != nil {
		b.logger.Debug("followup failed", zap.Error(err))
	}
}

func (b *Bot) followupEmbed(session *discordgo.Session, interaction *discordgo.InteractionCreate, embed *discordgo.MessageEmbed, ephemeral bool) (*discordgo.Message, error) {
	params := &discordgo.WebhookParams{Embeds: []*discordgo.MessageEmbed{embed}}
	if ephemeral {
		params.Flags = discordgo.MessageFlagsEphemeral
	}
	return session.FollowupMessageCreate(interaction.Interaction, true, params)
}

func (b *Bot) commandEmbed(title, description string, color int, fields []*discordgo.MessageEmbedField) *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{
		Title:       title,
		Description: description,
		Color:       color,
		Timestamp:   time.Now().Format(time.RFC3339),
		Fields:      fields,
	}
}

func (b *Bot) errorEmbed(title, description string) *discordgo.MessageEmbed {
	return b.commandEmbed(title, description, b.cfg.EmbedColors.Error, nil)
}

func (b *Bot) auditLog(ctx context.Context, level, guildID, userID, event, details string) {
	if b.audit == nil {
		return
	}
	b.audit.Log(ctx, level, guildID, userID, event, details)
}

func formatAuditLine(entry storage.AuditLog) string {
	line := fmt.Sprintf("[%s] %s", entry.Event, entry.Details)
	if entry.GuildID != "" {
		line += " guild=" + entry.GuildID
	}
	if entry.UserID != "" {
		line += " user=" + entry.UserID
	}
	return line
}
