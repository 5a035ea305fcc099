package ticket

import (
	"errors"
	"fmt"
)

var (
	ErrPermissionDenied = errors.New("ticket: platform permission denied")
	ErrMemberNotFound   = errors.New("ticket: member not found")
	ErrChannelNotFound  = errors.New("ticket: channel not found")
	ErrDelivery         = errors.New("ticket: transcript delivery failed")
	ErrTranscriptIO     = errors.New("ticket: transcript io failed")
	ErrGreetingFailed   = errors.New("ticket: greeting not sent")
	ErrTicketNotFound   = errors.New("ticket: not tracked")
	ErrTicketClosing    = errors.New("ticket: close already in progress")
	ErrNotTicketChannel = errors.New("ticket: channel is not a ticket")
)

// OnPlatform is set when the duplicate is a live channel unknown to the store.
type DuplicateTicketError struct {
	GuildID     string
	OwnerID     string
	ChannelID   string
	ChannelName string
	OnPlatform  bool
}

func (e *DuplicateTicketError) Error() string {
	source := "store"
	if e.OnPlatform {
		source = "platform"
	}
	return fmt.Sprintf("ticket: owner %s already has ticket channel %s (%s)", e.OwnerID, e.ChannelID, source)
}

func IsDuplicate(err error) (*DuplicateTicketError, bool) {
	var dup *DuplicateTicketError
	if errors.As(err, &dup) {
		return dup, true
	}
	return nil, false
}
