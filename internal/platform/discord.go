package platform

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"dnsbot/internal/ticket"

	"github.com/bwmarrin/discordgo"
)

const (
	CreateButtonID = "ticket_create_btn"
	CloseButtonID  = "ticket_close_btn"

	historyPageSize = 100
)

type Session interface {
	Channel(channelID string, options ...discordgo.RequestOption) (*discordgo.Channel, error)
	GuildChannels(guildID string, options ...discordgo.RequestOption) ([]*discordgo.Channel, error)
	GuildChannelCreateComplex(guildID string, data discordgo.GuildChannelCreateData, options ...discordgo.RequestOption) (*discordgo.Channel, error)
	ChannelDelete(channelID string, options ...discordgo.RequestOption) (*discordgo.Channel, error)
	ChannelMessages(channelID string, limit int, beforeID, afterID, aroundID string, options ...discordgo.RequestOption) ([]*discordgo.Message, error)
	ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error)
	GuildMember(guildID, userID string, options ...discordgo.RequestOption) (*discordgo.Member, error)
	UserChannelCreate(recipientID string, options ...discordgo.RequestOption) (*discordgo.Channel, error)
}

type Discord struct {
	session Session
	color   int
}

func NewDiscord(session Session, embedColor int) *Discord {
	return &Discord{session: session, color: embedColor}
}

var _ ticket.Platform = (*Discord)(nil)

func (d *Discord) Channel(ctx context.Context, channelID string) (ticket.Channel, error) {
	ch, err := d.session.Channel(channelID, discordgo.WithContext(ctx))
	if err != nil {
		return ticket.Channel{}, mapError(err)
	}
	return toChannel(ch), nil
}

func (d *Discord) ChannelByName(ctx context.Context, guildID, name string) (ticket.Channel, bool, error) {
	channels, err := d.session.GuildChannels(guildID, discordgo.WithContext(ctx))
	if err != nil {
		return ticket.Channel{}, false, mapError(err)
	}
	for _, ch := range channels {
		if ch == nil || ch.Type != discordgo.ChannelTypeGuildText {
			continue
		}
		if strings.EqualFold(ch.Name, name) {
			return toChannel(ch), true, nil
		}
	}
	return ticket.Channel{}, false, nil
}

func (d *Discord) TicketChannels(ctx context.Context, guildID, prefix string) ([]ticket.Channel, error) {
	channels, err := d.session.GuildChannels(guildID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, mapError(err)
	}
	var out []ticket.Channel
	for _, ch := range channels {
		if ch == nil || ch.Type != discordgo.ChannelTypeGuildText || !strings.HasPrefix(ch.Name, prefix) {
			continue
		}
		out = append(out, toChannel(ch))
	}
	return out, nil
}

func (d *Discord) CreateChannel(ctx context.Context, spec ticket.ChannelSpec) (ticket.Channel, error) {
	data := discordgo.GuildChannelCreateData{
		Name:                 spec.Name,
		Type:                 discordgo.ChannelTypeGuildText,
		Topic:                spec.Topic,
		ParentID:             spec.ParentID,
		PermissionOverwrites: toOverwrites(spec.Overwrites),
	}
	opts := []discordgo.RequestOption{discordgo.WithContext(ctx)}
	if spec.Reason != "" {
		opts = append(opts, discordgo.WithAuditLogReason(spec.Reason))
	}
	ch, err := d.session.GuildChannelCreateComplex(spec.GuildID, data, opts...)
	if err != nil {
		return ticket.Channel{}, mapError(err)
	}
	return toChannel(ch), nil
}

func (d *Discord) DeleteChannel(ctx context.Context, channelID, reason string) error {
	opts := []discordgo.RequestOption{discordgo.WithContext(ctx)}
	if reason != "" {
		opts = append(opts, discordgo.WithAuditLogReason(reason))
	}
	if _, err := d.session.ChannelDelete(channelID, opts...); err != nil {
		return mapError(err)
	}
	return nil
}

// History pages forward from the start of the channel.
func (d *Discord) History(ctx context.Context, channelID string) iter.Seq2[ticket.Message, error] {
	return func(yield func(ticket.Message, error) bool) {
		after := "0"
		for {
			if err := ctx.Err(); err != nil {
				yield(ticket.Message{}, err)
				return
			}
			page, err := d.session.ChannelMessages(channelID, historyPageSize, "", after, "", discordgo.WithContext(ctx))
			if err != nil {
				yield(ticket.Message{}, mapError(err))
				return
			}
			page = compactMessages(page)
			if len(page) == 0 {
				return
			}
			sort.Slice(page, func(i, j int) bool { return snowflakeLess(page[i].ID, page[j].ID) })
			for _, msg := range page {
				if !yield(toMessage(msg), nil) {
					return
				}
			}
			if len(page) < historyPageSize {
				return
			}
			after = page[len(page)-1].ID
		}
	}
}

func (d *Discord) SendMessage(ctx context.Context, channelID string, msg ticket.Outgoing) error {
	send := &discordgo.MessageSend{}
	if msg.MentionUserID != "" {
		send.Content = "<@" + msg.MentionUserID + ">"
		send.AllowedMentions = &discordgo.MessageAllowedMentions{Users: []string{msg.MentionUserID}}
	}
	if msg.Title != "" || msg.Body != "" {
		send.Embeds = []*discordgo.MessageEmbed{{
			Title:       msg.Title,
			Description: msg.Body,
			Color:       d.color,
		}}
	}
	if msg.CloseControl {
		send.Components = CloseComponents()
	}
	if _, err := d.session.ChannelMessageSendComplex(channelID, send, discordgo.WithContext(ctx)); err != nil {
		return mapError(err)
	}
	return nil
}

func (d *Discord) FetchMember(ctx context.Context, guildID, userID string) (ticket.Member, error) {
	member, err := d.session.GuildMember(guildID, userID, discordgo.WithContext(ctx))
	if err != nil {
		return ticket.Member{}, mapError(err)
	}
	if member == nil || member.User == nil {
		return ticket.Member{}, ticket.ErrMemberNotFound
	}
	return ticket.Member{UserID: member.User.ID, Name: member.User.Username}, nil
}

func (d *Discord) SendDirect(ctx context.Context, userID, content, filePath string) error {
	dm, err := d.session.UserChannelCreate(userID, discordgo.WithContext(ctx))
	if err != nil {
		return mapError(err)
	}
	send := &discordgo.MessageSend{Content: content}
	if filePath != "" {
		file, err := os.Open(filePath)
		if err != nil {
			return err
		}
		defer file.Close()
		send.Files = []*discordgo.File{{
			Name:        filepath.Base(filePath),
			ContentType: "text/plain",
			Reader:      file,
		}}
	}
	if _, err := d.session.ChannelMessageSendComplex(dm.ID, send, discordgo.WithContext(ctx)); err != nil {
		return mapError(err)
	}
	return nil
}

func LauncherComponents() []discordgo.MessageComponent {
	return []discordgo.MessageComponent{
		discordgo.ActionsRow{Components: []discordgo.MessageComponent{
			discordgo.Button{Label: "📩 Open ticket", Style: discordgo.PrimaryButton, CustomID: CreateButtonID},
		}},
	}
}

func CloseComponents() []discordgo.MessageComponent {
	return []discordgo.MessageComponent{
		discordgo.ActionsRow{Components: []discordgo.MessageComponent{
			discordgo.Button{Label: "🔒 Close and save transcript", Style: discordgo.DangerButton, CustomID: CloseButtonID},
		}},
	}
}

func toChannel(ch *discordgo.Channel) ticket.Channel {
	if ch == nil {
		return ticket.Channel{}
	}
	return ticket.Channel{ID: ch.ID, GuildID: ch.GuildID, Name: ch.Name, Topic: ch.Topic}
}

func toMessage(msg *discordgo.Message) ticket.Message {
	out := ticket.Message{ID: msg.ID, Timestamp: msg.Timestamp, Content: msg.Content}
	if msg.Author != nil {
		out.Author = msg.Author.Username
	}
	for _, att := range msg.Attachments {
		if att != nil && att.URL != "" {
			out.Attachments = append(out.Attachments, att.URL)
		}
	}
	return out
}

func toOverwrites(in []ticket.Overwrite) []*discordgo.PermissionOverwrite {
	out := make([]*discordgo.PermissionOverwrite, 0, len(in))
	for _, ow := range in {
		kind := discordgo.PermissionOverwriteTypeMember
		if ow.Kind == ticket.OverwriteRole {
			kind = discordgo.PermissionOverwriteTypeRole
		}
		out = append(out, &discordgo.PermissionOverwrite{
			ID:    ow.ID,
			Type:  kind,
			Allow: toPermissions(ow.Allow),
			Deny:  toPermissions(ow.Deny),
		})
	}
	return out
}

func toPermissions(p ticket.Permission) int64 {
	var out int64
	if p&ticket.PermView != 0 {
		out |= discordgo.PermissionViewChannel
	}
	if p&ticket.PermSend != 0 {
		out |= discordgo.PermissionSendMessages
	}
	if p&ticket.PermManage != 0 {
		out |= discordgo.PermissionManageChannels
	}
	return out
}

func compactMessages(in []*discordgo.Message) []*discordgo.Message {
	out := in[:0]
	for _, msg := range in {
		if msg != nil {
			out = append(out, msg)
		}
	}
	return out
}

func snowflakeLess(a, b string) bool {
	if len(a) != len(b) {
		return len(a) < len(b)
	}
	return a < b
}

func mapError(err error) error {
	var restErr *discordgo.RESTError
	if !errors.As(err, &restErr) {
		return err
	}
	if restErr.Message != nil {
		switch restErr.Message.Code {
		case discordgo.ErrCodeMissingPermissions, discordgo.ErrCodeMissingAccess:
			return fmt.Errorf("%w: %w", ticket.ErrPermissionDenied, err)
		case discordgo.ErrCodeUnknownMember, discordgo.ErrCodeUnknownUser:
			return fmt.Errorf("%w: %w", ticket.ErrMemberNotFound, err)
		case discordgo.ErrCodeUnknownChannel:
			return fmt.Errorf("%w: %w", ticket.ErrChannelNotFound, err)
		}
	}
	if restErr.Response != nil && restErr.Response.StatusCode == http.StatusForbidden {
		return fmt.Errorf("%w: %w", ticket.ErrPermissionDenied, err)
	}
	return err
}

func IsPermissionError(err error) bool {
	return errors.Is(mapError(err), ticket.ErrPermissionDenied)
}
