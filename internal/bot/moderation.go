package bot

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"dnsbot/internal/modules/audit"
	"dnsbot/internal/platform"

	"github.com/bwmarrin/discordgo"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

const (
	maxDelete       = 1000
	defaultDelete   = 5
	bulkDeleteBatch = 100
	// Discord refuses bulk deletion of messages older than two weeks.
	bulkDeleteMaxAge = 14*24*time.Hour - time.Minute
	defaultReason    = "No reason provided"
)

func memberRoles(member *discordgo.Member, roles []*discordgo.Role) []*discordgo.Role {
	if member == nil {
		return nil
	}
	byID := lo.KeyBy(roles, func(r *discordgo.Role) string { return r.ID })
	out := lo.FilterMap(member.Roles, func(id string, _ int) (*discordgo.Role, bool) {
		r, ok := byID[id]
		return r, ok
	})
	slices.SortStableFunc(out, func(a, b *discordgo.Role) int { return b.Position - a.Position })
	return out
}

// @everyone is position 0.
func highestPosition(member *discordgo.Member, roles []*discordgo.Role) int {
	own := memberRoles(member, roles)
	if len(own) == 0 {
		return 0
	}
	return own[0].Position
}

func roleColor(member *discordgo.Member, roles []*discordgo.Role) int {
	for _, r := range memberRoles(member, roles) {
		if r.Color != 0 {
			return r.Color
		}
	}
	return 0
}

// The guild owner is never moderatable.
func canModerate(target, self *discordgo.Member, roles []*discordgo.Role, ownerID string) bool {
	if target == nil || target.User == nil || self == nil {
		return false
	}
	if target.User.ID == ownerID {
		return false
	}
	return highestPosition(target, roles) < highestPosition(self, roles)
}

// moderationTarget responds itself and returns nil when the action must not proceed.
func (b *Bot) moderationTarget(session *discordgo.Session, interaction *discordgo.InteractionCreate, opts map[string]*discordgo.ApplicationCommandInteractionDataOption, title string) *discordgo.Member {
	userID := idOption(opts, "member")
	target, err := b.lookupMember(session, interaction.GuildID, userID)
	if err != nil {
		b.respondEmbed(session, interaction, b.errorEmbed(title, "That member could not be found."), true)
		return nil
	}
	self, err := b.lookupMember(session, interaction.GuildID, session.State.User.ID)
	if err != nil {
		b.logger.Warn("bot member lookup failed", zap.String("guild_id", interaction.GuildID), zap.Error(err))
		b.respondEmbed(session, interaction, b.errorEmbed(title, genericFailure), true)
		return nil
	}
	ownerID := ""
	if guild, err := session.State.Guild(interaction.GuildID); err == nil {
		ownerID = guild.OwnerID
	}
	if !canModerate(target, self, b.guildRoles(session, interaction.GuildID), ownerID) {
		if actor := interactionUser(interaction); actor != nil {
			b.auditLog(context.Background(), audit.LevelWarn, interaction.GuildID, actor.ID, "command_rejected", title+": target outranks the bot "+target.User.ID)
		}
		b.respondEmbed(session, interaction, b.errorEmbed(title, fmt.Sprintf("I cannot act on <@%s>: their highest role is not below mine.", target.User.ID)), true)
		return nil
	}
	return target
}

func (b *Bot) handleNick(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate, opts map[string]*discordgo.ApplicationCommandInteractionDataOption) {
	target := b.moderationTarget(session, interaction, opts, "✏️ Nickname")
	if target == nil {
		return
	}
	name := strings.TrimSpace(stringOption(opts, "name"))
	if err := session.GuildMemberNickname(interaction.GuildID, target.User.ID, name, discordgo.WithContext(ctx)); err != nil {
		b.moderationFailed(ctx, session, interaction, "nick", "✏️ Nickname", err)
		return
	}
	b.moderationDone(ctx, interaction, "nick", fmt.Sprintf("%s -> %s", target.User.ID, name))
	b.respondEmbed(session, interaction, b.commandEmbed("✏️ Nickname", fmt.Sprintf("✅ <@%s> is now `%s`.", target.User.ID, name), b.cfg.EmbedColors.Success, nil), true)
}

func (b *Bot) handleKick(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate, opts map[string]*discordgo.ApplicationCommandInteractionDataOption) {
	target := b.moderationTarget(session, interaction, opts, "👢 Kick")
	if target == nil {
		return
	}
	reason := lo.Ternary(stringOption(opts, "reason") == "", defaultReason, stringOption(opts, "reason"))
	if err := session.GuildMemberDeleteWithReason(interaction.GuildID, target.User.ID, reason, discordgo.WithContext(ctx)); err != nil {
		b.moderationFailed(ctx, session, interaction, "kick", "👢 Kick", err)
		return
	}
	b.moderationDone(ctx, interaction, "kick", target.User.ID+": "+reason)
	embed := b.commandEmbed("👢 Member kicked", fmt.Sprintf("<@%s> was kicked from the server.", target.User.ID), b.cfg.EmbedColors.Error,
		[]*discordgo.MessageEmbedField{{Name: "Reason", Value: reason}})
	b.respondEmbed(session, interaction, embed, false)
}

func (b *Bot) handleBan(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate, opts map[string]*discordgo.ApplicationCommandInteractionDataOption) {
	target := b.moderationTarget(session, interaction, opts, "🔨 Ban")
	if target == nil {
		return
	}
	reason := lo.Ternary(stringOption(opts, "reason") == "", defaultReason, stringOption(opts, "reason"))
	if err := session.GuildBanCreateWithReason(interaction.GuildID, target.User.ID, reason, 0, discordgo.WithContext(ctx)); err != nil {
		b.moderationFailed(ctx, session, interaction, "ban", "🔨 Ban", err)
		return
	}
	b.moderationDone(ctx, interaction, "ban", target.User.ID+": "+reason)
	embed := b.commandEmbed("🔨 Member banned", fmt.Sprintf("<@%s> was banned.", target.User.ID), b.cfg.EmbedColors.Error,
		[]*discordgo.MessageEmbedField{{Name: "Reason", Value: reason}})
	b.respondEmbed(session, interaction, embed, false)
}

func (b *Bot) moderationDone(ctx context.Context, interaction *discordgo.InteractionCreate, action, details string) {
	if actor := interactionUser(interaction); actor != nil {
		b.auditLog(ctx, audit.LevelInfo, interaction.GuildID, actor.ID, "moderation_"+action, details)
	}
}

func (b *Bot) moderationFailed(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate, action, title string, err error) {
	b.metrics.CommandErrors.WithLabelValues(action).Inc()
	b.logger.Error("moderation failed", zap.String("action", action), zap.Error(err))
	if actor := interactionUser(interaction); actor != nil {
		b.auditLog(ctx, audit.LevelError, interaction.GuildID, actor.ID, "command_failed", action+": "+err.Error())
	}
	msg := "The action failed."
	if platform.IsPermissionError(err) {
		msg = "I do not have permission to do that."
	}
	b.respondEmbed(session, interaction, b.errorEmbed(title, "❌ "+msg), true)
}

func (b *Bot) handleDelete(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate, opts map[string]*discordgo.ApplicationCommandInteractionDataOption) {
	count := int(max(1, min(intOption(opts, "count", defaultDelete), maxDelete)))
	if err := b.deferResponse(session, interaction, true); err != nil {
		b.logger.Warn("delete ack failed", zap.Error(err))
		return
	}

	ids, err := b.recentMessageIDs(ctx, session, interaction.ChannelID, count, time.Now())
	if err == nil {
		err = deleteMessages(ctx, session, interaction.ChannelID, ids)
	}
	if err != nil {
		b.metrics.CommandErrors.WithLabelValues("delete").Inc()
		b.logger.Error("bulk delete failed", zap.String("channel_id", interaction.ChannelID), zap.Error(err))
		b.followup(session, interaction, "❌ Messages could not be deleted.", true)
		return
	}
	b.moderationDone(ctx, interaction, "delete", fmt.Sprintf("%d messages in %s", len(ids), interaction.ChannelID))
	b.followup(session, interaction, fmt.Sprintf("🗑️ Deleted **%d** messages.", len(ids)), true)
}

func (b *Bot) recentMessageIDs(ctx context.Context, session *discordgo.Session, channelID string, count int, now time.Time) ([]string, error) {
	var ids []string
	before := ""
	for len(ids) < count {
		page, err := session.ChannelMessages(channelID, min(bulkDeleteBatch, count-len(ids)), before, "", "", discordgo.WithContext(ctx))
		if err != nil {
			return nil, err
		}
		if len(page) == 0 {
			break
		}
		fresh := freshMessages(page, now)
		ids = append(ids, lo.Map(fresh, func(m *discordgo.Message, _ int) string { return m.ID })...)
		if len(fresh) < len(page) {
			break
		}
		before = page[len(page)-1].ID
	}
	return ids, nil
}

// Pages are newest-first.
func freshMessages(page []*discordgo.Message, now time.Time) []*discordgo.Message {
	for i, m := range page {
		if now.Sub(m.Timestamp) >= bulkDeleteMaxAge {
			return page[:i]
		}
	}
	return page
}

func deleteMessages(ctx context.Context, session *discordgo.Session, channelID string, ids []string) error {
	for _, batch := range lo.Chunk(ids, bulkDeleteBatch) {
		var err error
		if len(batch) == 1 {
			err = session.ChannelMessageDelete(channelID, batch[0], discordgo.WithContext(ctx))
		} else {
			err = session.ChannelMessagesBulkDelete(channelID, batch, discordgo.WithContext(ctx))
		}
		if err != nil {
			return err
		}
	}
	return nil
}
