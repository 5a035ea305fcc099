package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"dnsbot/internal/modules/audit"
	"dnsbot/internal/platform"
	"dnsbot/internal/storage"
	"dnsbot/internal/ticket"

	"github.com/bwmarrin/discordgo"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

func (b *Bot) handleTicketCreate(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate) {
	user := interactionUser(interaction)
	if interaction.GuildID == "" || user == nil {
		b.respond(session, interaction, "❌ Tickets can only be opened inside a server.", true)
		return
	}
	if err := b.deferResponse(session, interaction, true); err != nil {
		b.logger.Warn("ticket create ack failed", zap.Error(err))
		return
	}
	if ok, retry := b.cooldown.Allow("ticket:"+user.ID, time.Now()); !ok {
		b.metrics.CooldownRejection.WithLabelValues("ticket_create").Inc()
		b.followup(session, interaction, cooldownMessage(retry), true)
		return
	}

	t, err := b.tickets.Create(ctx, ticket.CreateRequest{
		GuildID:   interaction.GuildID,
		OwnerID:   user.ID,
		OwnerName: user.Username,
		BotUserID: session.State.User.ID,
	})
	b.followup(session, interaction, b.createOutcome(ctx, interaction.GuildID, user.ID, t, err), true)
}

func (b *Bot) createOutcome(ctx context.Context, guildID, userID string, t ticket.Ticket, err error) string {
	if dup, ok := ticket.IsDuplicate(err); ok {
		b.metrics.TicketDuplicates.Inc()
		b.logger.Info("duplicate ticket request", zap.String("guild_id", guildID), zap.String("user_id", userID), zap.String("channel_id", dup.ChannelID), zap.Bool("on_platform", dup.OnPlatform))
		return fmt.Sprintf("⚠️ You already have an open ticket: <#%s>", dup.ChannelID)
	}
	if err != nil && !errors.Is(err, ticket.ErrGreetingFailed) {
		b.metrics.CommandErrors.WithLabelValues("ticket_create").Inc()
		b.auditLog(ctx, audit.LevelError, guildID, userID, "ticket_create_failed", err.Error())
		if errors.Is(err, ticket.ErrPermissionDenied) {
			return "❌ I do not have permission to create ticket channels here."
		}
		return "❌ The ticket could not be created. Please try again later."
	}

	b.metrics.TicketsCreated.Inc()
	b.metrics.OpenTickets.Set(float64(b.tickets.Store().Len()))
	b.auditLog(ctx, audit.LevelInfo, guildID, userID, "ticket_opened", t.ChannelName)
	if recErr := b.store.RecordTicketOpened(ctx, storage.TicketRecord{
		GuildID:     t.GuildID,
		ChannelID:   t.ChannelID,
		ChannelName: t.ChannelName,
		OwnerID:     t.OwnerID,
		OpenedAt:    t.CreatedAt,
	}); recErr != nil {
		b.logger.Warn("ticket history write failed", zap.String("channel_id", t.ChannelID), zap.Error(recErr))
	}

	if err != nil {
		b.metrics.CommandErrors.WithLabelValues("ticket_create").Inc()
		b.auditLog(ctx, audit.LevelError, guildID, userID, "ticket_greeting_failed", err.Error())
		return fmt.Sprintf("⚠️ Ticket created at <#%s>, but the welcome message could not be posted.", t.ChannelID)
	}
	return fmt.Sprintf("✅ Ticket created: <#%s>", t.ChannelID)
}

func (b *Bot) handleTicketClose(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate) {
	user := interactionUser(interaction)
	if interaction.GuildID == "" || user == nil {
		b.respond(session, interaction, "❌ This button only works inside a server.", true)
		return
	}
	if err := b.deferResponse(session, interaction, true); err != nil {
		b.logger.Warn("ticket close ack failed", zap.Error(err))
		return
	}

	actorName := displayName(interaction.Member, user)
	result, err := b.tickets.Close(ctx, ticket.CloseRequest{
		GuildID:   interaction.GuildID,
		ChannelID: interaction.ChannelID,
		ActorID:   user.ID,
		ActorName: actorName,
		Acknowledge: func(ctx context.Context, grace time.Duration) error {
			b.followup(session, interaction, "🔒 Closing this ticket.", true)
			_, err := session.ChannelMessageSendEmbed(interaction.ChannelID, b.commandEmbed(
				"🔒 Ticket closing",
				closingNotice(actorName, grace),
				b.cfg.EmbedColors.Warning,
				nil,
			), discordgo.WithContext(ctx))
			return err
		},
	})

	switch {
	case errors.Is(err, ticket.ErrTicketClosing):
		b.logger.Info("ticket already closing", zap.String("channel_id", interaction.ChannelID))
		b.followup(session, interaction, "⏳ This ticket is already being closed.", true)
		return
	case errors.Is(err, ticket.ErrNotTicketChannel):
		b.logger.Warn("close requested outside a ticket", zap.String("channel_id", interaction.ChannelID), zap.String("user_id", user.ID))
		b.followup(session, interaction, "❌ This channel is not a ticket.", true)
		return
	case result.Ticket.ChannelID == "":
		b.metrics.CommandErrors.WithLabelValues("ticket_close").Inc()
		b.logger.Error("ticket close failed", zap.String("channel_id", interaction.ChannelID), zap.Error(err))
		b.followup(session, interaction, "❌ The ticket could not be closed.", true)
		return
	}

	b.recordClosure(ctx, user.ID, result, err)
	if err != nil {
		b.followup(session, interaction, deleteFailureMessage(result), true)
	}
}

func deleteFailureMessage(result ticket.CloseResult) string {
	switch {
	case result.TranscriptPath == "":
		return "❌ The transcript could not be saved and the channel could not be deleted."
	case result.TranscriptErr != nil:
		return "❌ The transcript is incomplete and the channel could not be deleted."
	}
	return "❌ The transcript was saved but the channel could not be deleted."
}

func (b *Bot) recordClosure(ctx context.Context, actorID string, result ticket.CloseResult, closeErr error) {
	t := result.Ticket
	b.metrics.OpenTickets.Set(float64(b.tickets.Store().Len()))
	if result.TranscriptErr != nil {
		b.metrics.TranscriptErrors.Inc()
		b.auditLog(ctx, audit.LevelError, t.GuildID, actorID, "ticket_transcript_failed", result.TranscriptErr.Error())
	}
	if result.TranscriptPath != "" && !result.Delivered {
		b.metrics.DeliveryFailures.Inc()
	}
	if closeErr != nil {
		b.metrics.CommandErrors.WithLabelValues("ticket_close").Inc()
		b.auditLog(ctx, audit.LevelError, t.GuildID, actorID, "ticket_delete_failed", closeErr.Error())
	} else {
		b.metrics.TicketsClosed.Inc()
		b.auditLog(ctx, audit.LevelInfo, t.GuildID, actorID, "ticket_closed", fmt.Sprintf("%s messages=%d", t.ChannelName, result.Messages))
	}

	closedAt := time.Now()
	if err := b.store.RecordTicketClosed(ctx, storage.TicketRecord{
		GuildID:        t.GuildID,
		ChannelID:      t.ChannelID,
		ChannelName:    t.ChannelName,
		OwnerID:        t.OwnerID,
		OpenedAt:       t.CreatedAt,
		ClosedAt:       &closedAt,
		ClosedBy:       actorID,
		TranscriptPath: result.TranscriptPath,
		RecipientID:    result.RecipientID,
		MessageCount:   result.Messages,
	}); err != nil {
		b.logger.Warn("ticket history write failed", zap.String("channel_id", t.ChannelID), zap.Error(err))
	}
}

func closingNotice(actor string, grace time.Duration) string {
	return fmt.Sprintf("Closed by **%s**. Saving the transcript; this channel will be deleted in %d seconds.", actor, int(grace.Round(time.Second)/time.Second))
}

func (b *Bot) handleTicketSetup(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate, opts map[string]*discordgo.ApplicationCommandInteractionDataOption) {
	channelID := idOption(opts, "channel")
	if channelID == "" {
		channelID = interaction.ChannelID
	}
	user := interactionUser(interaction)

	perms, err := session.UserChannelPermissions(session.State.User.ID, channelID)
	if err != nil || perms&discordgo.PermissionSendMessages == 0 || perms&discordgo.PermissionViewChannel == 0 {
		b.respondEmbed(session, interaction, b.errorEmbed("🎫 Ticket panel", fmt.Sprintf("I cannot send messages in <#%s>.", channelID)), true)
		return
	}

	embed := b.commandEmbed(
		"🎫 Support tickets",
		"Need help with an order, after-sales support or a question? Press the button below to open a private ticket.",
		b.cfg.EmbedColors.Info,
		nil,
	)
	embed.Footer = &discordgo.MessageEmbedFooter{Text: "Ticket System"}
	if _, err := session.ChannelMessageSendComplex(channelID, &discordgo.MessageSend{
		Embeds:     []*discordgo.MessageEmbed{embed},
		Components: platform.LauncherComponents(),
	}, discordgo.WithContext(ctx)); err != nil {
		b.logger.Error("ticket panel send failed", zap.String("channel_id", channelID), zap.Error(err))
		b.respondEmbed(session, interaction, b.errorEmbed("🎫 Ticket panel", "The panel could not be posted."), true)
		return
	}
	if user != nil {
		b.auditLog(ctx, audit.LevelInfo, interaction.GuildID, user.ID, "ticket_panel", "posted in "+channelID)
	}
	b.respondEmbed(session, interaction, b.commandEmbed("🎫 Ticket panel", fmt.Sprintf("✅ Panel posted in <#%s>.", channelID), b.cfg.EmbedColors.Success, nil), true)
}

func (b *Bot) handleTicketList(session *discordgo.Session, interaction *discordgo.InteractionCreate) {
	open := b.tickets.Store().List(interaction.GuildID)
	b.respondEmbed(session, interaction, b.commandEmbed("🎫 Open tickets", formatTicketList(open), b.cfg.EmbedColors.Info, nil), true)
}

const maxListedTickets = 25

func formatTicketList(tickets []ticket.Ticket) string {
	if len(tickets) == 0 {
		return "No open tickets."
	}
	lines := lo.Map(lo.Slice(tickets, 0, maxListedTickets), func(t ticket.Ticket, _ int) string {
		line := fmt.Sprintf("<#%s> - <@%s> - opened <t:%d:R>", t.ChannelID, t.OwnerID, t.CreatedAt.Unix())
		if t.Status == ticket.StatusClosing {
			line += " (closing)"
		}
		return line
	})
	if extra := len(tickets) - maxListedTickets; extra > 0 {
		lines = append(lines, fmt.Sprintf("... and %d more", extra))
	}
	return strings.Join(lines, "\n")
}
