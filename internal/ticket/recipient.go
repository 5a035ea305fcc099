package ticket

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

func (c *Controller) resolveRecipient(ctx context.Context, guildID, topic, actorID string) string {
	ownerID, ok := ownerFromTopic(topic)
	if !ok {
		return actorID
	}
	member, err := c.platform.FetchMember(ctx, guildID, ownerID)
	if err != nil {
		level := zap.WarnLevel
		if errors.Is(err, ErrMemberNotFound) {
			level = zap.DebugLevel
		}
		c.logger.Log(level, "ticket owner unavailable, falling back to closer",
			zap.String("owner_id", ownerID),
			zap.String("actor_id", actorID),
			zap.Error(err),
		)
		return actorID
	}
	if member.UserID == "" {
		return ownerID
	}
	return member.UserID
}

func ownerFromTopic(topic string) (string, bool) {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return "", false
	}
	if _, err := strconv.ParseUint(topic, 10, 64); err != nil {
		return "", false
	}
	return topic, true
}
