package bot

import (
	"fmt"
	"strings"
	"time"

	"dnsbot/internal/sysinfo"

	"github.com/bwmarrin/discordgo"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

const (
	helpSelectID  = "help_menu"
	maxRoleField  = 1000
	helpHomeColor = 0x2C2F33
)

func (b *Bot) lookupMember(session *discordgo.Session, guildID, userID string) (*discordgo.Member, error) {
	if member, err := session.State.Member(guildID, userID); err == nil && member.User != nil {
		return member, nil
	}
	return session.GuildMember(guildID, userID)
}

func (b *Bot) guildRoles(session *discordgo.Session, guildID string) []*discordgo.Role {
	if guild, err := session.State.Guild(guildID); err == nil && len(guild.Roles) > 0 {
		return guild.Roles
	}
	roles, err := session.GuildRoles(guildID)
	if err != nil {
		b.logger.Debug("guild roles fetch failed", zap.String("guild_id", guildID), zap.Error(err))
		return nil
	}
	return roles
}

func (b *Bot) targetMember(session *discordgo.Session, interaction *discordgo.InteractionCreate, opts map[string]*discordgo.ApplicationCommandInteractionDataOption) (*discordgo.Member, error) {
	userID := idOption(opts, "member")
	if userID == "" {
		if interaction.Member != nil && interaction.Member.User != nil {
			return interaction.Member, nil
		}
		return nil, fmt.Errorf("no member in interaction")
	}
	return b.lookupMember(session, interaction.GuildID, userID)
}

func (b *Bot) handleUserInfo(session *discordgo.Session, interaction *discordgo.InteractionCreate, opts map[string]*discordgo.ApplicationCommandInteractionDataOption) {
	member, err := b.targetMember(session, interaction, opts)
	if err != nil {
		b.respondEmbed(session, interaction, b.errorEmbed("👤 User info", "That member could not be found."), true)
		return
	}
	roles := b.guildRoles(session, interaction.GuildID)
	embed := b.commandEmbed("👤 User info: "+member.User.Username, "", roleColor(member, roles), userInfoFields(member, roles))
	embed.Thumbnail = &discordgo.MessageEmbedThumbnail{URL: member.User.AvatarURL("256")}
	b.respondEmbed(session, interaction, embed, false)
}

func userInfoFields(member *discordgo.Member, roles []*discordgo.Role) []*discordgo.MessageEmbedField {
	user := member.User
	created, _ := discordgo.SnowflakeTimestamp(user.ID)
	mentions := lo.Map(memberRoles(member, roles), func(r *discordgo.Role, _ int) string { return "<@&" + r.ID + ">" })
	roleText := strings.Join(mentions, ", ")
	if roleText == "" {
		roleText = "No roles"
	}
	if len(roleText) > maxRoleField {
		roleText = roleText[:maxRoleField] + "..."
	}
	return []*discordgo.MessageEmbedField{
		{Name: "🆔 ID", Value: "`" + user.ID + "`", Inline: true},
		{Name: "📛 Nickname", Value: lo.Ternary(member.Nick == "", "none", member.Nick), Inline: true},
		{Name: "🤖 Bot", Value: lo.Ternary(user.Bot, "yes", "no"), Inline: true},
		{Name: "📅 Account created", Value: discordTime(created)},
		{Name: "📥 Joined", Value: discordTime(member.JoinedAt)},
		{Name: fmt.Sprintf("🎭 Roles (%d)", len(mentions)), Value: roleText},
	}
}

func discordTime(t time.Time) string {
	if t.IsZero() {
		return unknownValue
	}
	return fmt.Sprintf("<t:%d:D> (<t:%d:R>)", t.Unix(), t.Unix())
}

func (b *Bot) handleServerInfo(session *discordgo.Session, interaction *discordgo.InteractionCreate) {
	guild, err := session.State.Guild(interaction.GuildID)
	if err != nil {
		guild, err = session.GuildWithCounts(interaction.GuildID)
	}
	if err != nil {
		b.respondEmbed(session, interaction, b.errorEmbed("🏰 Server info", "Server details are unavailable."), true)
		return
	}
	embed := b.commandEmbed("🏰 Server info: "+guild.Name, "", b.cfg.EmbedColors.Warning, serverInfoFields(guild))
	if guild.Icon != "" {
		embed.Thumbnail = &discordgo.MessageEmbedThumbnail{URL: guild.IconURL("256")}
	}
	b.respondEmbed(session, interaction, embed, false)
}

func serverInfoFields(guild *discordgo.Guild) []*discordgo.MessageEmbedField {
	total := guild.MemberCount
	if total == 0 {
		total = guild.ApproximateMemberCount
	}
	bots := lo.CountBy(guild.Members, func(m *discordgo.Member) bool { return m.User != nil && m.User.Bot })
	text := lo.CountBy(guild.Channels, func(c *discordgo.Channel) bool { return c.Type == discordgo.ChannelTypeGuildText })
	voice := lo.CountBy(guild.Channels, func(c *discordgo.Channel) bool { return c.Type == discordgo.ChannelTypeGuildVoice })
	created, _ := discordgo.SnowflakeTimestamp(guild.ID)
	return []*discordgo.MessageEmbedField{
		{Name: "👑 Owner", Value: "<@" + guild.OwnerID + ">", Inline: true},
		{Name: "🆔 ID", Value: "`" + guild.ID + "`", Inline: true},
		{Name: "🌍 Boost level", Value: fmt.Sprintf("Level %d", guild.PremiumTier), Inline: true},
		{Name: "📅 Created", Value: discordTime(created)},
		{Name: "👥 Members", Value: fmt.Sprintf("Total: **%d**\nHumans: **%d**\nBots: **%d**", total, max(total-bots, 0), bots), Inline: true},
		{Name: "📺 Channels", Value: fmt.Sprintf("Text: **%d**\nVoice: **%d**", text, voice), Inline: true},
	}
}

func (b *Bot) handleAvatar(session *discordgo.Session, interaction *discordgo.InteractionCreate, opts map[string]*discordgo.ApplicationCommandInteractionDataOption) {
	member, err := b.targetMember(session, interaction, opts)
	if err != nil {
		b.respondEmbed(session, interaction, b.errorEmbed("🖼️ Avatar", "That member could not be found."), true)
		return
	}
	url := member.User.AvatarURL("1024")
	embed := b.commandEmbed("🖼️ "+displayName(member, member.User)+"'s avatar", "", roleColor(member, b.guildRoles(session, interaction.GuildID)), nil)
	embed.Image = &discordgo.MessageEmbedImage{URL: url}
	b.respondEmbed(session, interaction, embed, false, discordgo.ActionsRow{Components: []discordgo.MessageComponent{
		discordgo.Button{Label: "Download", Style: discordgo.LinkButton, URL: url},
	}})
}

type helpPage struct {
	value       string
	label       string
	emoji       string
	description string
}

var helpPages = []helpPage{
	{"home", "Home", "🏠", "Bot status and overview"},
	{"tools", "Tools", "🛠️", "DNS, IP, WHOIS and ping"},
	{"info", "Information", "ℹ️", "Member, server and avatar lookups"},
	{"admin", "Administration", "🛡️", "Moderation and ticket system"},
}

func helpComponents() []discordgo.MessageComponent {
	options := lo.Map(helpPages, func(p helpPage, _ int) discordgo.SelectMenuOption {
		return discordgo.SelectMenuOption{
			Label:       p.label,
			Value:       p.value,
			Description: p.description,
			Emoji:       discordgo.ComponentEmoji{Name: p.emoji},
		}
	})
	return []discordgo.MessageComponent{
		discordgo.ActionsRow{Components: []discordgo.MessageComponent{
			discordgo.SelectMenu{
				CustomID:    helpSelectID,
				Placeholder: "Choose a command category...",
				Options:     options,
			},
		}},
	}
}

func (b *Bot) helpEmbed(session *discordgo.Session, page string) *discordgo.MessageEmbed {
	type entry struct{ name, desc string }
	var (
		title, desc string
		color       int
		entries     []entry
	)
	switch page {
	case "tools":
		title, desc, color = "🛠️ Tools", "Network utilities.", b.cfg.EmbedColors.Info
		entries = []entry{
			{"🌐 `/dns <host>`", "A, CNAME and MX records"},
			{"🔍 `/ip <ip>`", "IP location and ISP"},
			{"📋 `/whois <domain>`", "Registrar and expiry date"},
			{"🏓 `/ping`", "Latency and host status"},
		}
	case "info":
		title, desc, color = "ℹ️ Information", "Member and server lookups.", b.cfg.EmbedColors.Success
		entries = []entry{
			{"👤 `/userinfo [member]`", "Member details"},
			{"🏰 `/serverinfo`", "Server details"},
			{"🖼️ `/avatar [member]`", "Full size avatar"},
		}
	case "admin":
		title, desc, color = "🛡️ Administration", "Administrators only.", b.cfg.EmbedColors.Error
		entries = []entry{
			{"🎫 `/ticket_setup [channel]`", "Post the ticket launcher panel"},
			{"📂 `/ticket_list`", "List open tickets"},
			{"📈 `/report <period>`", "Activity report"},
			{"🗑️ `/delete [count]`", "Bulk delete messages"},
			{"✏️ `/nick <member> <name>`", "Change a nickname"},
			{"👢 `/kick <member>`", "Kick a member"},
			{"🔨 `/ban <member>`", "Ban a member"},
		}
	default:
		embed := b.commandEmbed("🤖 Help center", "Pick a category from the menu below.", helpHomeColor, []*discordgo.MessageEmbedField{
			{Name: "⏱️ Uptime", Value: "`" + sysinfo.FormatUptime(time.Since(b.started)) + "`", Inline: true},
			{Name: "💓 Latency", Value: fmt.Sprintf("`%d ms`", session.HeartbeatLatency().Milliseconds()), Inline: true},
			{Name: "📚 Commands", Value: fmt.Sprintf("`%d`", len(commandDefinitions())), Inline: true},
		})
		if session.State != nil && session.State.User != nil {
			embed.Thumbnail = &discordgo.MessageEmbedThumbnail{URL: session.State.User.AvatarURL("256")}
		}
		return embed
	}
	fields := lo.Map(entries, func(e entry, _ int) *discordgo.MessageEmbedField {
		return &discordgo.MessageEmbedField{Name: e.name, Value: e.desc}
	})
	return b.commandEmbed(title, desc, color, fields)
}

func (b *Bot) handleHelp(session *discordgo.Session, interaction *discordgo.InteractionCreate) {
	b.respondEmbed(session, interaction, b.helpEmbed(session, "home"), false, helpComponents()...)
}

func (b *Bot) handleHelpSelect(session *discordgo.Session, interaction *discordgo.InteractionCreate) {
	values := interaction.MessageComponentData().Values
	page := "home"
	if len(values) > 0 {
		page = values[0]
	}
	embed := b.helpEmbed(session, page)
	if user := interactionUser(interaction); user != nil {
		embed.Footer = &discordgo.MessageEmbedFooter{
			Text:    "Requested by " + displayName(interaction.Member, user),
			IconURL: user.AvatarURL("64"),
		}
	}
	if err := session.InteractionRespond(interaction.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseUpdateMessage,
		Data: &discordgo.InteractionResponseData{
			Embeds:     []*discordgo.MessageEmbed{embed},
			Components: helpComponents(),
		},
	}); err != nil {
		b.logger.Debug("help update failed", zap.Error(err))
	}
}
