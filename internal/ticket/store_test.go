package ticket

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestStoreRegisterRejectsSecondTicketForOwner(t *testing.T) {
	store := NewStore()
	require.NoError(t, store.Register(Ticket{GuildID: "g1", OwnerID: "u1", ChannelID: "c1", ChannelName: "ticket-alice"}))

	err := store.Register(Ticket{GuildID: "g1", OwnerID: "u1", ChannelID: "c2"})
	dup, ok := IsDuplicate(err)
	require.True(t, ok, "expected duplicate error, got %v", err)
	require.Equal(t, "c1", dup.ChannelID)
	require.False(t, dup.OnPlatform)

	// same user in another guild is independent
	require.NoError(t, store.Register(Ticket{GuildID: "g2", OwnerID: "u1", ChannelID: "c3"}))
	require.Equal(t, 2, store.Len())
}

func TestStoreRegisterRejectsTrackedChannel(t *testing.T) {
	store := NewStore()
	require.NoError(t, store.Register(Ticket{GuildID: "g1", OwnerID: "u1", ChannelID: "c1"}))
	_, ok := IsDuplicate(store.Register(Ticket{GuildID: "g1", OwnerID: "u2", ChannelID: "c1"}))
	require.True(t, ok)
}

func TestStoreRegisterRequiresIDs(t *testing.T) {
	store := NewStore()
	require.Error(t, store.Register(Ticket{GuildID: "g1", ChannelID: "c1"}))
	require.Error(t, store.Register(Ticket{GuildID: "g1", OwnerID: "u1"}))
}

func TestStoreLifecycle(t *testing.T) {
	store := NewStore()
	require.NoError(t, store.Register(Ticket{GuildID: "g1", OwnerID: "u1", ChannelID: "c1"}))

	got, ok := store.FindOpen("g1", "u1")
	require.True(t, ok)
	require.Equal(t, StatusOpen, got.Status)

	closing, err := store.MarkClosing("c1")
	require.NoError(t, err)
	require.Equal(t, StatusClosing, closing.Status)

	// a closing ticket still blocks a new one
	_, ok = IsDuplicate(store.Register(Ticket{GuildID: "g1", OwnerID: "u1", ChannelID: "c9"}))
	require.True(t, ok)

	_, err = store.MarkClosing("c1")
	require.ErrorIs(t, err, ErrTicketClosing)

	store.Remove("c1")
	store.Remove("c1")
	_, ok = store.FindOpen("g1", "u1")
	require.False(t, ok)
	require.Equal(t, 0, store.Len())

	_, err = store.MarkClosing("c1")
	require.ErrorIs(t, err, ErrTicketNotFound)
}

func TestStoreAdopt(t *testing.T) {
	store := NewStore()
	require.True(t, store.Adopt(Ticket{GuildID: "g1", OwnerID: "u1", ChannelID: "c1"}))
	require.False(t, store.Adopt(Ticket{GuildID: "g1", OwnerID: "u1", ChannelID: "c1"}))

	// a second channel for the same owner is tracked by channel only
	require.True(t, store.Adopt(Ticket{GuildID: "g1", OwnerID: "u1", ChannelID: "c2"}))
	owned, ok := store.FindOpen("g1", "u1")
	require.True(t, ok)
	require.Equal(t, "c1", owned.ChannelID)

	store.Remove("c2")
	owned, ok = store.FindOpen("g1", "u1")
	require.True(t, ok)
	require.Equal(t, "c1", owned.ChannelID)

	require.True(t, store.Adopt(Ticket{GuildID: "g1", ChannelID: "c3"}))
	_, ok = store.ByChannel("c3")
	require.True(t, ok)
}

func TestStoreListOrdersByCreation(t *testing.T) {
	store := NewStore()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, store.Register(Ticket{GuildID: "g1", OwnerID: "u2", ChannelID: "c2", CreatedAt: base.Add(time.Minute)}))
	require.NoError(t, store.Register(Ticket{GuildID: "g1", OwnerID: "u1", ChannelID: "c1", CreatedAt: base}))
	require.NoError(t, store.Register(Ticket{GuildID: "g2", OwnerID: "u3", ChannelID: "c3", CreatedAt: base}))

	list := store.List("g1")
	require.Len(t, list, 2)
	require.Equal(t, "c1", list[0].ChannelID)
	require.Equal(t, "c2", list[1].ChannelID)
	require.Len(t, store.List(""), 3)
}
