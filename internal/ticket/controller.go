package ticket

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	DefaultPrefix         = "ticket-"
	DefaultTranscriptsDir = "log/transcripts"
	DefaultGracePeriod    = 5 * time.Second
)

type Config struct {
	Prefix         string
	TranscriptsDir string
	ParentID       string
	GracePeriod    time.Duration
}

type Controller struct {
	cfg      Config
	store    *Store
	platform Platform
	clock    Clock
	logger   *zap.Logger
	owners   *keyedMutex
}

func NewController(cfg Config, store *Store, platform Platform, logger *zap.Logger) *Controller {
	if cfg.Prefix == "" {
		cfg.Prefix = DefaultPrefix
	}
	if cfg.TranscriptsDir == "" {
		cfg.TranscriptsDir = DefaultTranscriptsDir
	}
	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = DefaultGracePeriod
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{
		cfg:      cfg,
		store:    store,
		platform: platform,
		clock:    realClock{},
		logger:   logger,
		owners:   newKeyedMutex(),
	}
}

func (c *Controller) WithClock(clock Clock) {
	c.clock = clock
}

func (c *Controller) Store() *Store {
	return c.store
}

func (c *Controller) GracePeriod() time.Duration {
	return c.cfg.GracePeriod
}

type CreateRequest struct {
	GuildID   string
	OwnerID   string
	OwnerName string
	BotUserID string
}

// A greeting failure returns the registered ticket with ErrGreetingFailed.
func (c *Controller) Create(ctx context.Context, req CreateRequest) (Ticket, error) {
	unlock := c.owners.Lock(ownerKey(req.GuildID, req.OwnerID))
	defer unlock()

	if existing, ok := c.store.FindOpen(req.GuildID, req.OwnerID); ok {
		return Ticket{}, duplicateOf(&existing)
	}

	name := ChannelName(c.cfg.Prefix, req.OwnerName)
	if name == c.cfg.Prefix {
		name = c.cfg.Prefix + req.OwnerID
	}

	existing, found, err := c.platform.ChannelByName(ctx, req.GuildID, name)
	if err != nil {
		return Ticket{}, fmt.Errorf("lookup channel %s: %w", name, err)
	}
	if found {
		return Ticket{}, &DuplicateTicketError{
			GuildID:     req.GuildID,
			OwnerID:     req.OwnerID,
			ChannelID:   existing.ID,
			ChannelName: existing.Name,
			OnPlatform:  true,
		}
	}

	channel, err := c.platform.CreateChannel(ctx, ChannelSpec{
		GuildID:    req.GuildID,
		Name:       name,
		Topic:      req.OwnerID,
		ParentID:   c.cfg.ParentID,
		Reason:     "Ticket created by " + req.OwnerName,
		Overwrites: ticketOverwrites(req),
	})
	if err != nil {
		return Ticket{}, fmt.Errorf("create channel %s: %w", name, err)
	}

	t := Ticket{
		GuildID:     req.GuildID,
		OwnerID:     req.OwnerID,
		ChannelID:   channel.ID,
		ChannelName: channel.Name,
		CreatedAt:   c.clock.Now(),
		Status:      StatusOpen,
	}
	if t.ChannelName == "" {
		t.ChannelName = name
	}
	if err := c.store.Register(t); err != nil {
		return Ticket{}, err
	}
	c.logger.Info("ticket created",
		zap.String("guild_id", t.GuildID),
		zap.String("owner_id", t.OwnerID),
		zap.String("channel_id", t.ChannelID),
		zap.String("channel", t.ChannelName),
	)

	greeting := Outgoing{
		MentionUserID: req.OwnerID,
		Title:         "Ticket created",
		Body:          fmt.Sprintf("Hello <@%s>. Describe your issue and a staff member will reply here. Press the button below once it is resolved.", req.OwnerID),
		CloseControl:  true,
	}
	if err := c.platform.SendMessage(ctx, t.ChannelID, greeting); err != nil {
		c.logger.Error("ticket greeting failed", zap.String("channel_id", t.ChannelID), zap.Error(err))
		return t, fmt.Errorf("%w: %w", ErrGreetingFailed, err)
	}
	return t, nil
}

func ticketOverwrites(req CreateRequest) []Overwrite {
	overwrites := []Overwrite{
		{ID: req.GuildID, Kind: OverwriteRole, Deny: PermView},
		{ID: req.OwnerID, Kind: OverwriteMember, Allow: PermView | PermSend},
	}
	if req.BotUserID != "" {
		overwrites = append(overwrites, Overwrite{ID: req.BotUserID, Kind: OverwriteMember, Allow: PermView | PermSend | PermManage})
	}
	return overwrites
}

type CloseRequest struct {
	GuildID   string
	ChannelID string
	ActorID   string
	ActorName string
	// Called once the ticket is marked closing; its error is only logged.
	Acknowledge func(ctx context.Context, grace time.Duration) error
}

type CloseResult struct {
	Ticket         Ticket
	TranscriptPath string
	Messages       int
	TranscriptErr  error
	RecipientID    string
	Delivered      bool
}

// Transcript and delivery failures never stop the deletion.
func (c *Controller) Close(ctx context.Context, req CloseRequest) (CloseResult, error) {
	channel, t, err := c.beginClose(ctx, req)
	if err != nil {
		return CloseResult{}, err
	}
	result := CloseResult{Ticket: t}
	logger := c.logger.With(zap.String("guild_id", t.GuildID), zap.String("channel_id", t.ChannelID))

	if req.Acknowledge != nil {
		if err := req.Acknowledge(ctx, c.cfg.GracePeriod); err != nil {
			logger.Warn("close acknowledgment failed", zap.Error(err))
		}
	}

	transcript, err := WriteTranscript(c.cfg.TranscriptsDir, t.ChannelName, c.clock.Now(), c.platform.History(ctx, t.ChannelID))
	result.TranscriptPath = transcript.Path
	result.Messages = transcript.Messages
	if err != nil {
		result.TranscriptErr = err
		logger.Error("transcript failed", zap.String("path", transcript.Path), zap.Error(err))
	} else {
		logger.Info("transcript saved", zap.String("path", transcript.Path), zap.Int("messages", transcript.Messages))
	}

	result.RecipientID = c.resolveRecipient(ctx, t.GuildID, channel.Topic, req.ActorID)
	if result.TranscriptPath != "" && result.RecipientID != "" {
		content := fmt.Sprintf("Transcript copy for `%s`.", t.ChannelName)
		if err := c.platform.SendDirect(ctx, result.RecipientID, content, result.TranscriptPath); err != nil {
			logger.Warn("transcript delivery failed", zap.String("recipient_id", result.RecipientID), zap.Error(fmt.Errorf("%w: %w", ErrDelivery, err)))
		} else {
			result.Delivered = true
		}
	}

	select {
	case <-c.clock.After(c.cfg.GracePeriod):
	case <-ctx.Done():
		ctx = context.WithoutCancel(ctx)
	}

	err = c.platform.DeleteChannel(ctx, t.ChannelID, "Closed by "+req.ActorName)
	c.store.Remove(t.ChannelID)
	if err != nil {
		logger.Error("ticket channel delete failed", zap.Error(err))
		return result, fmt.Errorf("delete channel %s: %w", t.ChannelName, err)
	}
	logger.Info("ticket closed", zap.String("actor_id", req.ActorID), zap.String("recipient_id", result.RecipientID))
	return result, nil
}

func (c *Controller) beginClose(ctx context.Context, req CloseRequest) (Channel, Ticket, error) {
	channel, err := c.platform.Channel(ctx, req.ChannelID)
	if err != nil {
		return Channel{}, Ticket{}, fmt.Errorf("load channel %s: %w", req.ChannelID, err)
	}
	if _, ok := c.store.ByChannel(channel.ID); !ok {
		if !c.IsTicketChannel(channel) {
			return Channel{}, Ticket{}, ErrNotTicketChannel
		}
		c.adopt(channel)
	}
	t, err := c.store.MarkClosing(channel.ID)
	if err != nil {
		return Channel{}, Ticket{}, err
	}
	if channel.Name != "" {
		t.ChannelName = channel.Name
	}
	return channel, t, nil
}

func (c *Controller) IsTicketChannel(channel Channel) bool {
	return strings.HasPrefix(channel.Name, c.cfg.Prefix) && len(channel.Name) > len(c.cfg.Prefix)
}

func (c *Controller) Reconcile(channels []Channel) int {
	adopted := 0
	for _, channel := range channels {
		if !c.IsTicketChannel(channel) {
			continue
		}
		if c.adopt(channel) {
			adopted++
		}
	}
	return adopted
}

func (c *Controller) adopt(channel Channel) bool {
	ownerID, _ := ownerFromTopic(channel.Topic)
	added := c.store.Adopt(Ticket{
		GuildID:     channel.GuildID,
		OwnerID:     ownerID,
		ChannelID:   channel.ID,
		ChannelName: channel.Name,
		CreatedAt:   c.clock.Now(),
	})
	if added {
		c.logger.Info("ticket adopted", zap.String("guild_id", channel.GuildID), zap.String("channel_id", channel.ID), zap.String("owner_id", ownerID))
	}
	return added
}
