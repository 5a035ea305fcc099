package ticket

import (
	"errors"
	"sort"
	"sync"
)

type Store struct {
	mu        sync.Mutex
	byOwner   map[string]*Ticket
	byChannel map[string]*Ticket
}

func NewStore() *Store {
	return &Store{
		byOwner:   make(map[string]*Ticket),
		byChannel: make(map[string]*Ticket),
	}
}

func ownerKey(guildID, ownerID string) string {
	return guildID + ":" + ownerID
}

func (s *Store) FindOpen(guildID, ownerID string) (Ticket, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.byOwner[ownerKey(guildID, ownerID)]
	if !ok {
		return Ticket{}, false
	}
	return *t, true
}

func (s *Store) ByChannel(channelID string) (Ticket, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.byChannel[channelID]
	if !ok {
		return Ticket{}, false
	}
	return *t, true
}

func (s *Store) Register(t Ticket) error {
	if t.OwnerID == "" || t.ChannelID == "" {
		return errors.New("ticket: owner and channel are required")
	}
	t.Status = StatusOpen

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.byOwner[ownerKey(t.GuildID, t.OwnerID)]; ok {
		return duplicateOf(existing)
	}
	if existing, ok := s.byChannel[t.ChannelID]; ok {
		return duplicateOf(existing)
	}
	entry := &t
	s.byOwner[ownerKey(t.GuildID, t.OwnerID)] = entry
	s.byChannel[t.ChannelID] = entry
	return nil
}

// The owner index is only filled when the owner is known and free.
func (s *Store) Adopt(t Ticket) bool {
	if t.ChannelID == "" {
		return false
	}
	t.Status = StatusOpen

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byChannel[t.ChannelID]; ok {
		return false
	}
	entry := &t
	s.byChannel[t.ChannelID] = entry
	if t.OwnerID != "" {
		key := ownerKey(t.GuildID, t.OwnerID)
		if _, ok := s.byOwner[key]; !ok {
			s.byOwner[key] = entry
		}
	}
	return true
}

func (s *Store) MarkClosing(channelID string) (Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.byChannel[channelID]
	if !ok {
		return Ticket{}, ErrTicketNotFound
	}
	if t.Status == StatusClosing {
		return *t, ErrTicketClosing
	}
	t.Status = StatusClosing
	return *t, nil
}

func (s *Store) Remove(channelID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.byChannel[channelID]
	if !ok {
		return
	}
	t.Status = StatusClosed
	delete(s.byChannel, channelID)
	key := ownerKey(t.GuildID, t.OwnerID)
	if current, ok := s.byOwner[key]; ok && current == t {
		delete(s.byOwner, key)
	}
}

func (s *Store) List(guildID string) []Ticket {
	s.mu.Lock()
	out := make([]Ticket, 0, len(s.byChannel))
	for _, t := range s.byChannel {
		if guildID != "" && t.GuildID != guildID {
			continue
		}
		out = append(out, *t)
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ChannelID < out[j].ChannelID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byChannel)
}

func duplicateOf(t *Ticket) *DuplicateTicketError {
	return &DuplicateTicketError{
		GuildID:     t.GuildID,
		OwnerID:     t.OwnerID,
		ChannelID:   t.ChannelID,
		ChannelName: t.ChannelName,
	}
}
