package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"dnsbot/internal/analytics"
	"dnsbot/internal/modules/audit"
	"dnsbot/internal/netinfo"
	"dnsbot/internal/storage"
	"dnsbot/internal/sysinfo"
	"dnsbot/internal/utils"

	"github.com/bwmarrin/discordgo"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

const unknownValue = "unknown"

type lookupFunc func(ctx context.Context, input string) (*discordgo.MessageEmbed, error)

func (b *Bot) runLookup(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate, command, input string, ephemeral bool, lookup lookupFunc) {
	user := interactionUser(interaction)
	userID := ""
	if user != nil {
		userID = user.ID
	}
	if ok, retry := b.cooldown.Allow("lookup:"+userID, time.Now()); !ok {
		b.metrics.CooldownRejection.WithLabelValues(command).Inc()
		b.respond(session, interaction, cooldownMessage(retry), true)
		return
	}
	if err := b.deferResponse(session, interaction, false); err != nil {
		b.logger.Warn("lookup ack failed", zap.String("command", command), zap.Error(err))
		return
	}

	embed, err := lookup(ctx, input)
	if err != nil {
		msg, rejected := lookupErrorMessage(err, input)
		level, event := audit.LevelError, "command_failed"
		if rejected {
			level, event = audit.LevelWarn, "command_rejected"
		} else {
			b.metrics.CommandErrors.WithLabelValues(command).Inc()
		}
		b.auditLog(ctx, level, interaction.GuildID, userID, event, fmt.Sprintf("/%s %s: %v", command, input, err))
		embed = b.errorEmbed("/"+command, msg)
	}

	msg, err := b.followupEmbed(session, interaction, embed, false)
	if err != nil {
		b.logger.Warn("lookup reply failed", zap.String("command", command), zap.Error(err))
		return
	}
	if ephemeral && msg != nil {
		b.scheduleDelete(interaction.Interaction, msg.ID)
	}
}

// rejected reports whether the input itself was refused.
func lookupErrorMessage(err error, input string) (msg string, rejected bool) {
	var restricted *netinfo.RestrictedError
	switch {
	case errors.As(err, &restricted):
		return fmt.Sprintf("❌ Access denied: %s addresses cannot be looked up.", restricted.Reason), true
	case errors.Is(err, netinfo.ErrNotIPv4):
		return "❌ Please enter a valid IPv4 address.", true
	case errors.Is(err, utils.ErrInvalidDomain):
		return fmt.Sprintf("❌ `%s` is not a valid domain.", strings.TrimSpace(input)), true
	case errors.Is(err, context.DeadlineExceeded):
		return "⌛ The lookup timed out. Please try again later.", false
	default:
		return "❌ The lookup failed. Please try again later.", false
	}
}

func cooldownMessage(retry time.Duration) string {
	secs := int((retry + time.Second - 1) / time.Second)
	return fmt.Sprintf("⏳ Slow down, try again in %d seconds.", max(secs, 1))
}

func (b *Bot) handleDNS(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate, opts map[string]*discordgo.ApplicationCommandInteractionDataOption) {
	host := strings.TrimSpace(stringOption(opts, "host"))
	b.runLookup(ctx, session, interaction, "dns", host, boolOption(opts, "ephemeral", true), func(ctx context.Context, host string) (*discordgo.MessageEmbed, error) {
		res, err := b.tools.DNS(ctx, host)
		if err != nil {
			return nil, err
		}
		return b.commandEmbed("🌐 DNS records", fmt.Sprintf("Target: `%s`", res.Host), b.cfg.EmbedColors.Success, dnsFields(res)), nil
	})
}

func dnsFields(res netinfo.DNSResult) []*discordgo.MessageEmbedField {
	mx := lo.Map(res.MX, func(r netinfo.MXRecord, _ int) string {
		return fmt.Sprintf("%d: %s", r.Preference, r.Host)
	})
	return []*discordgo.MessageEmbedField{
		{Name: "📌 A Record", Value: joinOr(res.A, "❌ No A records")},
		{Name: "🔗 CNAME", Value: joinOr(res.CNAME, "❌ No CNAME records")},
		{Name: "📧 MX Record", Value: joinOr(mx, "❌ No MX records")},
	}
}

func (b *Bot) handleIP(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate, opts map[string]*discordgo.ApplicationCommandInteractionDataOption) {
	raw := strings.TrimSpace(stringOption(opts, "ip"))
	b.runLookup(ctx, session, interaction, "ip", raw, boolOption(opts, "ephemeral", true), func(ctx context.Context, raw string) (*discordgo.MessageEmbed, error) {
		res, err := b.tools.IP(ctx, raw)
		if err != nil {
			return nil, err
		}
		return b.commandEmbed("🔍 IP details: "+res.IP, "", b.cfg.EmbedColors.Info, ipFields(res)), nil
	})
}

func ipFields(res netinfo.IPResult) []*discordgo.MessageEmbedField {
	return []*discordgo.MessageEmbedField{
		{Name: "🌍 Country", Value: orUnknown(res.Country), Inline: true},
		{Name: "🏙️ City", Value: orUnknown(res.City), Inline: true},
		{Name: "🏢 ISP", Value: orUnknown(res.Org)},
		{Name: "🔄 Reverse DNS", Value: "`" + lo.Ternary(res.Hostname == "", "none", res.Hostname) + "`"},
	}
}

func (b *Bot) handleWhois(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate, opts map[string]*discordgo.ApplicationCommandInteractionDataOption) {
	raw := strings.TrimSpace(stringOption(opts, "domain"))
	b.runLookup(ctx, session, interaction, "whois", raw, boolOption(opts, "ephemeral", true), func(ctx context.Context, raw string) (*discordgo.MessageEmbed, error) {
		res, err := b.tools.Whois(ctx, raw)
		if err != nil {
			return nil, err
		}
		return b.commandEmbed("📋 WHOIS: "+res.Domain, "", b.cfg.EmbedColors.Info, whoisFields(res)), nil
	})
}

func whoisFields(res netinfo.WhoisResult) []*discordgo.MessageEmbedField {
	return []*discordgo.MessageEmbedField{
		{Name: "🏢 Registrar", Value: orUnknown(res.Registrar)},
		{Name: "📅 Created", Value: orUnknown(res.Created), Inline: true},
		{Name: "⏳ Expires", Value: orUnknown(res.Expires), Inline: true},
		{Name: "🌐 Name servers", Value: "```\n" + joinOr(res.NameServers, unknownValue) + "\n```"},
	}
}

func (b *Bot) handlePing(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate) {
	b.respond(session, interaction, "🏓 Loading...", false)

	snap := b.probe.Snapshot(ctx, session.HeartbeatLatency(), time.Now())
	embed := b.commandEmbed("🖥️ System status", "", b.cfg.EmbedColors.Info, pingFields(snap))
	empty := ""
	embeds := []*discordgo.MessageEmbed{embed}
	if _, err := session.InteractionResponseEdit(interaction.Interaction, &discordgo.WebhookEdit{
		Content: &empty,
		Embeds:  &embeds,
	}); err != nil {
		b.logger.Warn("ping edit failed", zap.Error(err))
	}
}

func pingFields(snap sysinfo.Snapshot) []*discordgo.MessageEmbedField {
	fields := []*discordgo.MessageEmbedField{
		{Name: "💓 Latency", Value: fmt.Sprintf("`%dms`", snap.Latency.Milliseconds()), Inline: true},
		{Name: "⏱️ Uptime", Value: "`" + sysinfo.FormatUptime(snap.Uptime) + "`", Inline: true},
		{Name: "📊 CPU", Value: utils.ProgressBar(snap.CPU, 10)},
		{Name: "💾 RAM", Value: utils.ProgressBar(snap.RAM, 10)},
	}
	for _, d := range lo.Slice(snap.Disks, 0, 20) {
		fields = append(fields, &discordgo.MessageEmbedField{
			Name:  "💽 " + d.Label,
			Value: fmt.Sprintf("%s\n%.2f/%.2f GB", utils.ProgressBar(d.Percent, 10), d.UsedGB, d.TotalGB),
		})
	}
	return fields
}

func (b *Bot) handleReport(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate, opts map[string]*discordgo.ApplicationCommandInteractionDataOption) {
	period := stringOption(opts, "period")
	report, err := b.analytics.Report(ctx, interaction.GuildID, analytics.Since(period, time.Now()))
	if errors.Is(err, storage.ErrNotConfigured) {
		b.respondEmbed(session, interaction, b.errorEmbed("📈 Report", "Storage is not configured."), true)
		return
	}
	if err != nil {
		b.logger.Warn("report failed", zap.Error(err))
		b.respondEmbed(session, interaction, b.errorEmbed("📈 Report", "The report could not be built."), true)
		return
	}
	b.respondEmbed(session, interaction, b.commandEmbed("📈 Report ("+lo.Ternary(period == "week", "week", "day")+")", "", b.cfg.EmbedColors.Info, reportFields(report)), true)
}

func reportFields(report analytics.Report) []*discordgo.MessageEmbedField {
	return []*discordgo.MessageEmbedField{
		{Name: "Total", Value: fmt.Sprintf("%d", report.Total), Inline: true},
		{Name: "INFO", Value: fmt.Sprintf("%d", report.ByLevel[audit.LevelInfo]), Inline: true},
		{Name: "WARN", Value: fmt.Sprintf("%d", report.ByLevel[audit.LevelWarn]), Inline: true},
		{Name: "ERROR", Value: fmt.Sprintf("%d", report.ByLevel[audit.LevelError]), Inline: true},
		{Name: "Tickets opened", Value: fmt.Sprintf("%d", report.ByEvent["ticket_opened"]), Inline: true},
		{Name: "Tickets closed", Value: fmt.Sprintf("%d", report.ClosedTickets), Inline: true},
	}
}

func joinOr(values []string, fallback string) string {
	if len(values) == 0 {
		return fallback
	}
	return strings.Join(values, "\n")
}

func orUnknown(v string) string {
	if strings.TrimSpace(v) == "" {
		return unknownValue
	}
	return v
}
