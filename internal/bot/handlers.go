package bot

import (
	"context"
	"fmt"
	"runtime/debug"
	"slices"
	"strings"

	"dnsbot/internal/modules/audit"
	"dnsbot/internal/platform"

	"github.com/bwmarrin/discordgo"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

const genericFailure = "❌ Something went wrong while handling this request."

func (b *Bot) onInteractionCreate(session *discordgo.Session, interaction *discordgo.InteractionCreate) {
	if !b.track() {
		return
	}
	defer b.wg.Done()

	name := interactionName(interaction)
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("interaction handler panic",
				zap.String("interaction", name),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()))
			b.metrics.CommandErrors.WithLabelValues(name).Inc()
			b.reportFailure(session, interaction)
		}
	}()
	if name == "" {
		return
	}
	b.metrics.Commands.WithLabelValues(name).Inc()

	ctx := context.Background()
	switch interaction.Type {
	case discordgo.InteractionApplicationCommand:
		b.handleCommand(ctx, session, interaction, name)
	case discordgo.InteractionMessageComponent:
		b.handleComponent(ctx, session, interaction, name)
	}
}

func (b *Bot) handleCommand(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate, name string) {
	data := interaction.ApplicationCommandData()
	opts := optionMap(data.Options)
	user := interactionUser(interaction)
	if user != nil {
		b.auditLog(ctx, audit.LevelInfo, interaction.GuildID, user.ID, "command", describeCommand(name, opts))
	}

	switch name {
	case "help":
		b.handleHelp(session, interaction)
	case "dns":
		b.handleDNS(ctx, session, interaction, opts)
	case "ip":
		b.handleIP(ctx, session, interaction, opts)
	case "whois":
		b.handleWhois(ctx, session, interaction, opts)
	case "ping":
		b.handlePing(ctx, session, interaction)
	case "userinfo":
		b.handleUserInfo(session, interaction, opts)
	case "serverinfo":
		b.handleServerInfo(session, interaction)
	case "avatar":
		b.handleAvatar(session, interaction, opts)
	case "ticket_setup":
		b.handleTicketSetup(ctx, session, interaction, opts)
	case "ticket_list":
		b.handleTicketList(session, interaction)
	case "report":
		b.handleReport(ctx, session, interaction, opts)
	case "nick":
		b.handleNick(ctx, session, interaction, opts)
	case "kick":
		b.handleKick(ctx, session, interaction, opts)
	case "ban":
		b.handleBan(ctx, session, interaction, opts)
	case "delete":
		b.handleDelete(ctx, session, interaction, opts)
	default:
		b.respondEmbed(session, interaction, b.errorEmbed("Unknown command", "This command is not supported."), true)
	}
}

func (b *Bot) handleComponent(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate, customID string) {
	switch customID {
	case platform.CreateButtonID:
		b.handleTicketCreate(ctx, session, interaction)
	case platform.CloseButtonID:
		b.handleTicketClose(ctx, session, interaction)
	case helpSelectID:
		b.handleHelpSelect(session, interaction)
	}
}

func (b *Bot) reportFailure(session *discordgo.Session, interaction *discordgo.InteractionCreate) {
	err := session.InteractionRespond(interaction.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: genericFailure,
			Flags:   discordgo.MessageFlagsEphemeral,
		},
	})
	if err != nil {
		b.followup(session, interaction, genericFailure, true)
	}
}

func interactionName(interaction *discordgo.InteractionCreate) string {
	switch interaction.Type {
	case discordgo.InteractionApplicationCommand:
		return interaction.ApplicationCommandData().Name
	case discordgo.InteractionMessageComponent:
		return interaction.MessageComponentData().CustomID
	default:
		return ""
	}
}

func interactionUser(interaction *discordgo.InteractionCreate) *discordgo.User {
	if interaction.Member != nil && interaction.Member.User != nil {
		return interaction.Member.User
	}
	return interaction.User
}

func displayName(member *discordgo.Member, user *discordgo.User) string {
	if member != nil && member.Nick != "" {
		return member.Nick
	}
	if user == nil {
		return ""
	}
	return user.Username
}

func optionMap(options []*discordgo.ApplicationCommandInteractionDataOption) map[string]*discordgo.ApplicationCommandInteractionDataOption {
	out := make(map[string]*discordgo.ApplicationCommandInteractionDataOption, len(options))
	for _, opt := range options {
		out[opt.Name] = opt
	}
	return out
}

func stringOption(opts map[string]*discordgo.ApplicationCommandInteractionDataOption, name string) string {
	if opt, ok := opts[name]; ok && opt.Type == discordgo.ApplicationCommandOptionString {
		return opt.StringValue()
	}
	return ""
}

func boolOption(opts map[string]*discordgo.ApplicationCommandInteractionDataOption, name string, fallback bool) bool {
	if opt, ok := opts[name]; ok && opt.Type == discordgo.ApplicationCommandOptionBoolean {
		return opt.BoolValue()
	}
	return fallback
}

func intOption(opts map[string]*discordgo.ApplicationCommandInteractionDataOption, name string, fallback int64) int64 {
	if opt, ok := opts[name]; ok && opt.Type == discordgo.ApplicationCommandOptionInteger {
		return opt.IntValue()
	}
	return fallback
}

func idOption(opts map[string]*discordgo.ApplicationCommandInteractionDataOption, name string) string {
	opt, ok := opts[name]
	if !ok {
		return ""
	}
	if id, ok := opt.Value.(string); ok {
		return id
	}
	return ""
}

func describeCommand(name string, opts map[string]*discordgo.ApplicationCommandInteractionDataOption) string {
	if len(opts) == 0 {
		return "/" + name
	}
	parts := []string{"/" + name}
	for _, key := range sortedKeys(opts) {
		parts = append(parts, fmt.Sprintf("%s=%v", key, opts[key].Value))
	}
	return strings.Join(parts, " ")
}

func sortedKeys[V any](m map[string]V) []string {
	keys := lo.Keys(m)
	slices.Sort(keys)
	return keys
}
