package ticket

import (
	"context"
	"iter"
	"time"
)

type Status string

const (
	StatusOpen    Status = "OPEN"
	StatusClosing Status = "CLOSING"
	StatusClosed  Status = "CLOSED"
)

type Ticket struct {
	GuildID     string
	OwnerID     string
	ChannelID   string
	ChannelName string
	CreatedAt   time.Time
	Status      Status
}

type Channel struct {
	ID      string
	GuildID string
	Name    string
	Topic   string
}

type Member struct {
	UserID string
	Name   string
}

type Message struct {
	ID          string
	Timestamp   time.Time
	Author      string
	Content     string
	Attachments []string
}

type Permission int64

const (
	PermView Permission = 1 << iota
	PermSend
	PermManage
)

type OverwriteKind int

const (
	OverwriteRole OverwriteKind = iota
	OverwriteMember
)

type Overwrite struct {
	ID    string
	Kind  OverwriteKind
	Allow Permission
	Deny  Permission
}

type ChannelSpec struct {
	GuildID    string
	Name       string
	Topic      string
	ParentID   string
	Reason     string
	Overwrites []Overwrite
}

type Outgoing struct {
	MentionUserID string
	Title         string
	Body          string
	CloseControl  bool
}

// History yields messages oldest-first.
type Platform interface {
	Channel(ctx context.Context, channelID string) (Channel, error)
	ChannelByName(ctx context.Context, guildID, name string) (Channel, bool, error)
	CreateChannel(ctx context.Context, spec ChannelSpec) (Channel, error)
	DeleteChannel(ctx context.Context, channelID, reason string) error
	History(ctx context.Context, channelID string) iter.Seq2[Message, error]
	SendMessage(ctx context.Context, channelID string, msg Outgoing) error
	FetchMember(ctx context.Context, guildID, userID string) (Member, error)
	SendDirect(ctx context.Context, userID, content, filePath string) error
}

type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }
