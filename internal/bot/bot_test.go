package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"dnsbot/internal/config"
	"dnsbot/internal/metrics"
	"dnsbot/internal/netinfo"
	"dnsbot/internal/storage"
	"dnsbot/internal/sysinfo"
	"dnsbot/internal/ticket"
	"dnsbot/internal/utils"

	"github.com/bwmarrin/discordgo"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestBot() *Bot {
	return &Bot{
		cfg:     config.DefaultConfig(),
		logger:  zap.NewNop(),
		metrics: metrics.New(),
		tickets: ticket.NewController(ticket.Config{}, ticket.NewStore(), nil, nil),
	}
}

func member(id string, roles ...string) *discordgo.Member {
	return &discordgo.Member{User: &discordgo.User{ID: id, Username: "user" + id}, Roles: roles}
}

var guildRoles = []*discordgo.Role{
	{ID: "r-low", Position: 1},
	{ID: "r-mid", Position: 5, Color: 0x00FF00},
	{ID: "r-high", Position: 10, Color: 0xFF0000},
	{ID: "r-bot", Position: 7},
}

func TestRoleHierarchy(t *testing.T) {
	self := member("bot", "r-bot")

	require.Equal(t, 10, highestPosition(member("1", "r-low", "r-high"), guildRoles))
	require.Equal(t, 0, highestPosition(member("2"), guildRoles))
	require.Equal(t, 0, highestPosition(member("3", "deleted-role"), guildRoles))

	require.True(t, canModerate(member("1", "r-mid"), self, guildRoles, "owner"))
	require.True(t, canModerate(member("1"), self, guildRoles, "owner"))
	require.False(t, canModerate(member("1", "r-high"), self, guildRoles, "owner"))
	require.False(t, canModerate(member("1", "r-bot"), self, guildRoles, "owner"), "equal rank is refused")
	require.False(t, canModerate(member("owner"), self, guildRoles, "owner"), "guild owner is refused")
	require.False(t, canModerate(nil, self, guildRoles, "owner"))
}

func TestRoleColorUsesHighestColoredRole(t *testing.T) {
	require.Equal(t, 0xFF0000, roleColor(member("1", "r-mid", "r-high"), guildRoles))
	require.Equal(t, 0x00FF00, roleColor(member("1", "r-low", "r-mid", "r-bot"), guildRoles))
	require.Equal(t, 0, roleColor(member("1", "r-low"), guildRoles))
}

func TestFreshMessagesStopsAtOldMessage(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	page := []*discordgo.Message{
		{ID: "3", Timestamp: now.Add(-time.Hour)},
		{ID: "2", Timestamp: now.Add(-13 * 24 * time.Hour)},
		{ID: "1", Timestamp: now.Add(-15 * 24 * time.Hour)},
		{ID: "0", Timestamp: now.Add(-time.Minute)},
	}
	fresh := freshMessages(page, now)
	require.Len(t, fresh, 2)
	require.Equal(t, "2", fresh[1].ID)
	require.Len(t, freshMessages(page[:2], now), 2)
}

func TestFormatTicketList(t *testing.T) {
	require.Equal(t, "No open tickets.", formatTicketList(nil))

	created := time.Unix(1700000000, 0)
	out := formatTicketList([]ticket.Ticket{
		{ChannelID: "c1", OwnerID: "u1", CreatedAt: created, Status: ticket.StatusOpen},
		{ChannelID: "c2", OwnerID: "u2", CreatedAt: created, Status: ticket.StatusClosing},
	})
	require.Equal(t, "<#c1> - <@u1> - opened <t:1700000000:R>\n<#c2> - <@u2> - opened <t:1700000000:R> (closing)", out)

	many := make([]ticket.Ticket, maxListedTickets+3)
	for i := range many {
		many[i] = ticket.Ticket{ChannelID: fmt.Sprint(i), OwnerID: "u", CreatedAt: created}
	}
	lines := strings.Split(formatTicketList(many), "\n")
	require.Len(t, lines, maxListedTickets+1)
	require.Equal(t, "... and 3 more", lines[len(lines)-1])
}

func TestLookupErrorMessage(t *testing.T) {
	addr, _ := utils.ParseIP("10.0.0.1")
	cases := []struct {
		err      error
		contains string
		rejected bool
	}{
		{&netinfo.RestrictedError{Addr: addr, Reason: utils.RestrictionPrivate}, "private addresses", true},
		{fmt.Errorf("wrap: %w", netinfo.ErrNotIPv4), "valid IPv4", true},
		{fmt.Errorf("%w: %q", utils.ErrInvalidDomain, "nope"), "`nope` is not a valid domain", true},
		{fmt.Errorf("dns: %w", context.DeadlineExceeded), "timed out", false},
		{errors.New("boom"), "lookup failed", false},
	}
	for _, tc := range cases {
		msg, rejected := lookupErrorMessage(tc.err, " nope ")
		require.Contains(t, msg, tc.contains)
		require.Equal(t, tc.rejected, rejected, tc.err.Error())
	}
}

func TestCooldownMessageRoundsUp(t *testing.T) {
	require.Equal(t, "⏳ Slow down, try again in 3 seconds.", cooldownMessage(2100*time.Millisecond))
	require.Equal(t, "⏳ Slow down, try again in 1 seconds.", cooldownMessage(0))
}

func TestDNSFields(t *testing.T) {
	fields := dnsFields(netinfo.DNSResult{
		A:  []string{"1.2.3.4", "5.6.7.8"},
		MX: []netinfo.MXRecord{{Preference: 10, Host: "mx.example.com"}},
	})
	require.Len(t, fields, 3)
	require.Equal(t, "1.2.3.4\n5.6.7.8", fields[0].Value)
	require.Equal(t, "❌ No CNAME records", fields[1].Value)
	require.Equal(t, "10: mx.example.com", fields[2].Value)
}

func TestWhoisAndIPFieldsFillUnknowns(t *testing.T) {
	fields := whoisFields(netinfo.WhoisResult{Domain: "example.com"})
	require.Equal(t, unknownValue, fields[0].Value)
	require.Equal(t, "```\nunknown\n```", fields[3].Value)

	ipf := ipFields(netinfo.IPResult{IP: "8.8.8.8", Country: "US"})
	require.Equal(t, "US", ipf[0].Value)
	require.Equal(t, unknownValue, ipf[1].Value)
	require.Equal(t, "`none`", ipf[3].Value)
}

func TestPingFields(t *testing.T) {
	fields := pingFields(sysinfo.Snapshot{
		Latency: 42 * time.Millisecond,
		Uptime:  time.Hour,
		CPU:     50,
		Disks:   []sysinfo.Disk{{Label: "/dev/sda1", Percent: 25, UsedGB: 25, TotalGB: 100}},
	})
	require.Len(t, fields, 5)
	require.Equal(t, "`42ms`", fields[0].Value)
	require.Equal(t, "`01:00:00`", fields[1].Value)
	require.Equal(t, utils.ProgressBar(50, 10), fields[2].Value)
	require.Contains(t, fields[4].Value, "25.00/100.00 GB")
}

func TestDescribeCommand(t *testing.T) {
	opts := optionMap([]*discordgo.ApplicationCommandInteractionDataOption{
		{Name: "host", Type: discordgo.ApplicationCommandOptionString, Value: "example.com"},
		{Name: "ephemeral", Type: discordgo.ApplicationCommandOptionBoolean, Value: false},
	})
	require.Equal(t, "/dns ephemeral=false host=example.com", describeCommand("dns", opts))
	require.Equal(t, "/ping", describeCommand("ping", nil))
	require.Equal(t, "example.com", stringOption(opts, "host"))
	require.False(t, boolOption(opts, "ephemeral", true))
	require.True(t, boolOption(opts, "missing", true))
	require.Equal(t, int64(5), intOption(opts, "count", 5))
}

func TestCommandDefinitions(t *testing.T) {
	names := make(map[string]*discordgo.ApplicationCommand)
	for _, cmd := range commandDefinitions() {
		require.NotContains(t, names, cmd.Name)
		names[cmd.Name] = cmd
	}
	for _, want := range []string{"dns", "ip", "whois", "ping", "userinfo", "serverinfo", "avatar", "kick", "ban", "nick", "delete", "help", "ticket_setup", "ticket_list", "report"} {
		require.Contains(t, names, want)
	}
	for _, admin := range []string{"kick", "ban", "nick", "ticket_setup", "ticket_list", "report"} {
		require.NotNil(t, names[admin].DefaultMemberPermissions, admin)
		require.Equal(t, int64(discordgo.PermissionAdministrator), *names[admin].DefaultMemberPermissions, admin)
	}
	require.Nil(t, names["dns"].DefaultMemberPermissions)
}

func TestHelpPages(t *testing.T) {
	b := newTestBot()
	session := &discordgo.Session{State: discordgo.NewState()}
	for _, page := range []string{"tools", "info", "admin"} {
		embed := b.helpEmbed(session, page)
		require.NotEmpty(t, embed.Fields, page)
	}
	home := b.helpEmbed(session, "home")
	require.Equal(t, "🤖 Help center", home.Title)

	row := helpComponents()[0].(discordgo.ActionsRow)
	menu := row.Components[0].(discordgo.SelectMenu)
	require.Equal(t, helpSelectID, menu.CustomID)
	require.Len(t, menu.Options, len(helpPages))
}

func TestCreateOutcome(t *testing.T) {
	b := newTestBot()
	ctx := context.Background()

	msg := b.createOutcome(ctx, "g", "u", ticket.Ticket{}, &ticket.DuplicateTicketError{ChannelID: "c9", OnPlatform: true})
	require.Equal(t, "⚠️ You already have an open ticket: <#c9>", msg)
	require.Equal(t, 1.0, testutil.ToFloat64(b.metrics.TicketDuplicates))

	msg = b.createOutcome(ctx, "g", "u", ticket.Ticket{}, fmt.Errorf("create: %w", ticket.ErrPermissionDenied))
	require.Contains(t, msg, "permission")
	require.Zero(t, testutil.ToFloat64(b.metrics.TicketsCreated))

	created := ticket.Ticket{GuildID: "g", OwnerID: "u", ChannelID: "c1", ChannelName: "ticket-u"}
	msg = b.createOutcome(ctx, "g", "u", created, fmt.Errorf("%w: %w", ticket.ErrGreetingFailed, errors.New("500")))
	require.Contains(t, msg, "<#c1>")
	require.Contains(t, msg, "welcome message")

	msg = b.createOutcome(ctx, "g", "u", created, nil)
	require.Equal(t, "✅ Ticket created: <#c1>", msg)
	require.Equal(t, 2.0, testutil.ToFloat64(b.metrics.TicketsCreated))
}

func TestRecordClosureCounts(t *testing.T) {
	b := newTestBot()
	result := ticket.CloseResult{
		Ticket:         ticket.Ticket{GuildID: "g", ChannelID: "c1", ChannelName: "ticket-alice"},
		TranscriptPath: "/tmp/t.txt",
		TranscriptErr:  ticket.ErrTranscriptIO,
		Messages:       3,
	}
	b.recordClosure(context.Background(), "staff", result, nil)
	require.Equal(t, 1.0, testutil.ToFloat64(b.metrics.TicketsClosed))
	require.Equal(t, 1.0, testutil.ToFloat64(b.metrics.TranscriptErrors))
	require.Equal(t, 1.0, testutil.ToFloat64(b.metrics.DeliveryFailures))

	b.recordClosure(context.Background(), "staff", ticket.CloseResult{Ticket: result.Ticket, Delivered: true, TranscriptPath: "x"}, errors.New("delete failed"))
	require.Equal(t, 1.0, testutil.ToFloat64(b.metrics.TicketsClosed))
	require.Equal(t, 1.0, testutil.ToFloat64(b.metrics.CommandErrors.WithLabelValues("ticket_close")))
}

func TestClosingNotice(t *testing.T) {
	require.Equal(t, "Closed by **Bob**. Saving the transcript; this channel will be deleted in 5 seconds.", closingNotice("Bob", 5*time.Second))
}

func TestFormatAuditLine(t *testing.T) {
	line := formatAuditLine(storage.AuditLog{Event: "command_failed", Details: "/dns x: boom", GuildID: "g1", UserID: "u1"})
	require.Equal(t, "[command_failed] /dns x: boom guild=g1 user=u1", line)
}

func TestDeleteFailureMessage(t *testing.T) {
	saved := ticket.CloseResult{TranscriptPath: "/tmp/t.txt"}
	require.Contains(t, deleteFailureMessage(saved), "transcript was saved")

	partial := ticket.CloseResult{TranscriptPath: "/tmp/t.txt", TranscriptErr: ticket.ErrTranscriptIO}
	require.Contains(t, deleteFailureMessage(partial), "incomplete")

	missing := ticket.CloseResult{TranscriptErr: ticket.ErrTranscriptIO}
	require.Contains(t, deleteFailureMessage(missing), "could not be saved")
}

func TestCloseWaitsForHandlersAndRefusesNewOnes(t *testing.T) {
	b := newTestBot()
	b.stop = make(chan struct{})
	require.True(t, b.track())

	done := make(chan struct{})
	go func() {
		b.Close(context.Background())
		close(done)
	}()

	require.Eventually(t, func() bool {
		if b.track() {
			b.wg.Done()
			return false
		}
		return true
	}, time.Second, time.Millisecond)

	select {
	case <-done:
		t.Fatalf("close returned while a handler was in flight")
	default:
	}

	b.wg.Done()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("close did not return after the handler finished")
	}
	b.Close(context.Background())
}
