package ticket

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	delays []time.Duration
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) After(d time.Duration) <-chan time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.delays = append(f.delays, d)
	f.now = f.now.Add(d)
	ch := make(chan time.Time, 1)
	ch <- f.now
	return ch
}

type directMessage struct {
	userID  string
	content string
	path    string
}

type fakePlatform struct {
	mu       sync.Mutex
	nextID   int
	channels map[string]Channel
	history  map[string][]Message
	members  map[string]Member
	calls    []string
	specs    []ChannelSpec
	sent     []Outgoing
	dms      []directMessage

	createErr  error
	sendErr    error
	deleteErr  error
	dmErr      error
	memberErr  error
	historyErr error

	transcriptDir       string
	transcriptsAtDelete int
	storeHeldAtDelete   bool
	store               *Store
}

func newFakePlatform() *fakePlatform {
	return &fakePlatform{
		channels: make(map[string]Channel),
		history:  make(map[string][]Message),
		members:  make(map[string]Member),
	}
}

func (f *fakePlatform) record(call string) {
	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.mu.Unlock()
}

func (f *fakePlatform) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakePlatform) Channel(_ context.Context, channelID string) (Channel, error) {
	f.record("channel")
	f.mu.Lock()
	defer f.mu.Unlock()
	ch, ok := f.channels[channelID]
	if !ok {
		return Channel{}, ErrChannelNotFound
	}
	return ch, nil
}

func (f *fakePlatform) ChannelByName(_ context.Context, guildID, name string) (Channel, bool, error) {
	f.record("channel_by_name")
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ch := range f.channels {
		if ch.GuildID == guildID && ch.Name == name {
			return ch, true, nil
		}
	}
	return Channel{}, false, nil
}

func (f *fakePlatform) CreateChannel(_ context.Context, spec ChannelSpec) (Channel, error) {
	f.record("create")
	// widen the race window for concurrent creators
	time.Sleep(time.Millisecond)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return Channel{}, f.createErr
	}
	f.nextID++
	ch := Channel{ID: fmt.Sprintf("chan-%d", f.nextID), GuildID: spec.GuildID, Name: spec.Name, Topic: spec.Topic}
	f.channels[ch.ID] = ch
	f.specs = append(f.specs, spec)
	return ch, nil
}

func (f *fakePlatform) DeleteChannel(_ context.Context, channelID, reason string) error {
	f.record("delete")
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.transcriptDir != "" {
		entries, _ := os.ReadDir(f.transcriptDir)
		f.transcriptsAtDelete = len(entries)
	}
	if f.store != nil {
		_, f.storeHeldAtDelete = f.store.ByChannel(channelID)
	}
	if f.deleteErr != nil {
		return f.deleteErr
	}
	delete(f.channels, channelID)
	return nil
}

func (f *fakePlatform) History(_ context.Context, channelID string) iter.Seq2[Message, error] {
	return func(yield func(Message, error) bool) {
		f.record("history")
		f.mu.Lock()
		msgs := append([]Message(nil), f.history[channelID]...)
		tail := f.historyErr
		f.mu.Unlock()
		for _, m := range msgs {
			if !yield(m, nil) {
				return
			}
		}
		if tail != nil {
			yield(Message{}, tail)
		}
	}
}

func (f *fakePlatform) SendMessage(_ context.Context, channelID string, msg Outgoing) error {
	f.record("send")
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakePlatform) FetchMember(_ context.Context, guildID, userID string) (Member, error) {
	f.record("member")
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.memberErr != nil {
		return Member{}, f.memberErr
	}
	m, ok := f.members[userID]
	if !ok {
		return Member{}, ErrMemberNotFound
	}
	return m, nil
}

func (f *fakePlatform) SendDirect(_ context.Context, userID, content, filePath string) error {
	f.record("dm")
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.dmErr != nil {
		return f.dmErr
	}
	f.dms = append(f.dms, directMessage{userID: userID, content: content, path: filePath})
	return nil
}

func newTestController(t *testing.T, platform *fakePlatform) (*Controller, *fakeClock) {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "transcripts")
	store := NewStore()
	platform.transcriptDir = dir
	platform.store = store
	c := NewController(Config{TranscriptsDir: dir}, store, platform, zap.NewNop())
	clock := &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	c.WithClock(clock)
	return c, clock
}

func aliceRequest() CreateRequest {
	return CreateRequest{GuildID: "g1", OwnerID: "1001", OwnerName: "Alice", BotUserID: "9000"}
}

func TestCreateBuildsPrivateChannel(t *testing.T) {
	platform := newFakePlatform()
	c, _ := newTestController(t, platform)

	tk, err := c.Create(context.Background(), aliceRequest())
	require.NoError(t, err)
	require.Equal(t, "ticket-alice", tk.ChannelName)
	require.Equal(t, StatusOpen, tk.Status)
	require.Equal(t, []string{"channel_by_name", "create", "send"}, platform.Calls())

	spec := platform.specs[0]
	require.Equal(t, "1001", spec.Topic)
	require.Equal(t, []Overwrite{
		{ID: "g1", Kind: OverwriteRole, Deny: PermView},
		{ID: "1001", Kind: OverwriteMember, Allow: PermView | PermSend},
		{ID: "9000", Kind: OverwriteMember, Allow: PermView | PermSend | PermManage},
	}, spec.Overwrites)

	require.Len(t, platform.sent, 1)
	require.True(t, platform.sent[0].CloseControl)
	require.Equal(t, "1001", platform.sent[0].MentionUserID)

	stored, ok := c.Store().FindOpen("g1", "1001")
	require.True(t, ok)
	require.Equal(t, tk.ChannelID, stored.ChannelID)
}

func TestCreateDuplicateInStoreHasNoSideEffects(t *testing.T) {
	platform := newFakePlatform()
	c, _ := newTestController(t, platform)
	first, err := c.Create(context.Background(), aliceRequest())
	require.NoError(t, err)
	before := len(platform.Calls())

	_, err = c.Create(context.Background(), aliceRequest())
	dup, ok := IsDuplicate(err)
	require.True(t, ok, "expected duplicate, got %v", err)
	require.Equal(t, first.ChannelID, dup.ChannelID)
	require.Len(t, platform.Calls(), before)
}

func TestCreateDuplicateOnPlatform(t *testing.T) {
	platform := newFakePlatform()
	platform.channels["old"] = Channel{ID: "old", GuildID: "g1", Name: "ticket-alice", Topic: "1001"}
	c, _ := newTestController(t, platform)

	_, err := c.Create(context.Background(), aliceRequest())
	dup, ok := IsDuplicate(err)
	require.True(t, ok)
	require.True(t, dup.OnPlatform)
	require.Equal(t, "old", dup.ChannelID)
	require.Equal(t, []string{"channel_by_name"}, platform.Calls())
	require.Equal(t, 0, c.Store().Len())
}

func TestCreateConcurrentSameOwner(t *testing.T) {
	platform := newFakePlatform()
	c, _ := newTestController(t, platform)

	const attempts = 16
	var wg sync.WaitGroup
	errs := make(chan error, attempts)
	for range attempts {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.Create(context.Background(), aliceRequest())
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	created, duplicates := 0, 0
	for err := range errs {
		if err == nil {
			created++
			continue
		}
		if _, ok := IsDuplicate(err); ok {
			duplicates++
			continue
		}
		t.Fatalf("unexpected error: %v", err)
	}
	require.Equal(t, 1, created)
	require.Equal(t, attempts-1, duplicates)
	require.Len(t, platform.specs, 1)
}

func TestCreateFailureLeavesNoState(t *testing.T) {
	platform := newFakePlatform()
	platform.createErr = fmt.Errorf("missing access: %w", ErrPermissionDenied)
	c, _ := newTestController(t, platform)

	_, err := c.Create(context.Background(), aliceRequest())
	require.ErrorIs(t, err, ErrPermissionDenied)
	require.Equal(t, 0, c.Store().Len())
	require.Empty(t, platform.sent)
}

func TestCreateGreetingFailureKeepsTicket(t *testing.T) {
	platform := newFakePlatform()
	platform.sendErr = errors.New("send refused")
	c, _ := newTestController(t, platform)

	tk, err := c.Create(context.Background(), aliceRequest())
	require.ErrorIs(t, err, ErrGreetingFailed)
	require.NotEmpty(t, tk.ChannelID)
	_, ok := c.Store().FindOpen("g1", "1001")
	require.True(t, ok)
}

func TestCreateEmptyNameFallsBackToID(t *testing.T) {
	platform := newFakePlatform()
	c, _ := newTestController(t, platform)
	tk, err := c.Create(context.Background(), CreateRequest{GuildID: "g1", OwnerID: "42", OwnerName: "   "})
	require.NoError(t, err)
	require.Equal(t, "ticket-42", tk.ChannelName)
	require.Len(t, platform.specs[0].Overwrites, 2)
}

func TestCloseOrdering(t *testing.T) {
	platform := newFakePlatform()
	c, clock := newTestController(t, platform)
	tk, err := c.Create(context.Background(), aliceRequest())
	require.NoError(t, err)
	platform.members["1001"] = Member{UserID: "1001", Name: "alice"}
	platform.history[tk.ChannelID] = []Message{
		{Timestamp: clock.Now(), Author: "alice", Content: "one"},
		{Timestamp: clock.Now().Add(time.Second), Author: "staff", Content: "two"},
	}

	acked := false
	res, err := c.Close(context.Background(), CloseRequest{
		GuildID: "g1", ChannelID: tk.ChannelID, ActorID: "2002", ActorName: "staff",
		Acknowledge: func(_ context.Context, grace time.Duration) error {
			acked = true
			require.Equal(t, DefaultGracePeriod, grace)
			require.Empty(t, clock.delays)
			return nil
		},
	})
	require.NoError(t, err)
	require.True(t, acked)
	require.Equal(t, "1001", res.RecipientID)
	require.True(t, res.Delivered)
	require.Equal(t, 2, res.Messages)
	require.Equal(t, []time.Duration{DefaultGracePeriod}, clock.delays)

	calls := platform.Calls()
	require.Equal(t, []string{"channel", "history", "member", "dm", "delete"}, calls[3:])
	require.Equal(t, 1, platform.transcriptsAtDelete)
	require.True(t, platform.storeHeldAtDelete)
	require.Equal(t, 0, c.Store().Len())
	_, exists := platform.channels[tk.ChannelID]
	require.False(t, exists)
}

func TestCloseRecipientResolution(t *testing.T) {
	cases := []struct {
		name      string
		topic     string
		members   map[string]Member
		memberErr error
		want      string
	}{
		{name: "owner fetchable", topic: "12345", members: map[string]Member{"12345": {UserID: "12345"}}, want: "12345"},
		{name: "owner left", topic: "12345", want: "2002"},
		{name: "lookup error", topic: "12345", memberErr: errors.New("timeout"), want: "2002"},
		{name: "non numeric topic", topic: "support", want: "2002"},
		{name: "empty topic", topic: "", want: "2002"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			platform := newFakePlatform()
			platform.channels["c1"] = Channel{ID: "c1", GuildID: "g1", Name: "ticket-owner", Topic: tc.topic}
			if tc.members != nil {
				platform.members = tc.members
			}
			platform.memberErr = tc.memberErr
			c, _ := newTestController(t, platform)

			res, err := c.Close(context.Background(), CloseRequest{GuildID: "g1", ChannelID: "c1", ActorID: "2002", ActorName: "staff"})
			require.NoError(t, err)
			require.Equal(t, tc.want, res.RecipientID)
			require.Len(t, platform.dms, 1)
			require.Equal(t, tc.want, platform.dms[0].userID)
		})
	}
}

func TestCloseSurvivesTranscriptAndDeliveryFailures(t *testing.T) {
	platform := newFakePlatform()
	platform.channels["c1"] = Channel{ID: "c1", GuildID: "g1", Name: "ticket-bob", Topic: "7"}
	platform.historyErr = errors.New("history unavailable")
	platform.dmErr = errors.New("dms closed")
	c, _ := newTestController(t, platform)

	res, err := c.Close(context.Background(), CloseRequest{GuildID: "g1", ChannelID: "c1", ActorID: "2002", ActorName: "staff"})
	require.NoError(t, err)
	require.ErrorIs(t, res.TranscriptErr, ErrTranscriptIO)
	require.False(t, res.Delivered)
	require.Contains(t, platform.Calls(), "delete")
	require.Equal(t, 0, c.Store().Len())
}

func TestCloseUnwritableDirStillDeletes(t *testing.T) {
	platform := newFakePlatform()
	platform.channels["c1"] = Channel{ID: "c1", GuildID: "g1", Name: "ticket-bob", Topic: "7"}
	blocker := filepath.Join(t.TempDir(), "blocker")
	require.NoError(t, os.WriteFile(blocker, nil, 0o644))
	store := NewStore()
	c := NewController(Config{TranscriptsDir: filepath.Join(blocker, "t")}, store, platform, zap.NewNop())
	c.WithClock(&fakeClock{now: time.Unix(0, 0)})

	res, err := c.Close(context.Background(), CloseRequest{GuildID: "g1", ChannelID: "c1", ActorID: "2002", ActorName: "staff"})
	require.NoError(t, err)
	require.Empty(t, res.TranscriptPath)
	require.NotContains(t, platform.Calls(), "dm")
	require.Contains(t, platform.Calls(), "delete")
}

func TestCloseDeleteFailure(t *testing.T) {
	platform := newFakePlatform()
	platform.channels["c1"] = Channel{ID: "c1", GuildID: "g1", Name: "ticket-bob", Topic: "7"}
	platform.deleteErr = fmt.Errorf("missing permissions: %w", ErrPermissionDenied)
	c, _ := newTestController(t, platform)

	_, err := c.Close(context.Background(), CloseRequest{GuildID: "g1", ChannelID: "c1", ActorID: "2002", ActorName: "staff"})
	require.ErrorIs(t, err, ErrPermissionDenied)
	require.Equal(t, 0, c.Store().Len())
}

func TestCloseRejectsNonTicketChannel(t *testing.T) {
	platform := newFakePlatform()
	platform.channels["c1"] = Channel{ID: "c1", GuildID: "g1", Name: "general"}
	c, _ := newTestController(t, platform)

	_, err := c.Close(context.Background(), CloseRequest{GuildID: "g1", ChannelID: "c1", ActorID: "2002"})
	require.ErrorIs(t, err, ErrNotTicketChannel)
	require.NotContains(t, platform.Calls(), "delete")
}

func TestCloseWhileClosing(t *testing.T) {
	platform := newFakePlatform()
	c, _ := newTestController(t, platform)
	tk, err := c.Create(context.Background(), aliceRequest())
	require.NoError(t, err)
	_, err = c.Store().MarkClosing(tk.ChannelID)
	require.NoError(t, err)

	_, err = c.Close(context.Background(), CloseRequest{GuildID: "g1", ChannelID: tk.ChannelID, ActorID: "2002"})
	require.ErrorIs(t, err, ErrTicketClosing)
	require.NotContains(t, platform.Calls(), "delete")
}

func TestReconcile(t *testing.T) {
	platform := newFakePlatform()
	c, _ := newTestController(t, platform)
	adopted := c.Reconcile([]Channel{
		{ID: "c1", GuildID: "g1", Name: "ticket-alice", Topic: "1001"},
		{ID: "c2", GuildID: "g1", Name: "general"},
		{ID: "c3", GuildID: "g1", Name: "ticket-", Topic: "5"},
	})
	require.Equal(t, 1, adopted)

	_, err := c.Create(context.Background(), aliceRequest())
	dup, ok := IsDuplicate(err)
	require.True(t, ok)
	require.Equal(t, "c1", dup.ChannelID)
	require.Equal(t, 0, c.Reconcile([]Channel{{ID: "c1", GuildID: "g1", Name: "ticket-alice", Topic: "1001"}}))
}

func TestAliceScenario(t *testing.T) {
	platform := newFakePlatform()
	c, clock := newTestController(t, platform)
	ctx := context.Background()

	tk, err := c.Create(ctx, aliceRequest())
	require.NoError(t, err)
	require.Equal(t, "ticket-alice", tk.ChannelName)

	_, err = c.Create(ctx, aliceRequest())
	dup, ok := IsDuplicate(err)
	require.True(t, ok)
	require.Equal(t, tk.ChannelID, dup.ChannelID)
	require.Len(t, platform.specs, 1)

	platform.members["1001"] = Member{UserID: "1001", Name: "alice"}
	start := clock.Now()
	platform.history[tk.ChannelID] = []Message{
		{Timestamp: start, Author: "alice", Content: "my order is missing"},
		{Timestamp: start.Add(time.Minute), Author: "staff", Content: "looking into it"},
		{Timestamp: start.Add(2 * time.Minute), Author: "alice", Content: "thanks"},
	}

	res, err := c.Close(ctx, CloseRequest{GuildID: "g1", ChannelID: tk.ChannelID, ActorID: "2002", ActorName: "staff"})
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(filepath.Base(res.TranscriptPath), "ticket-alice-"))

	data, err := os.ReadFile(res.TranscriptPath)
	require.NoError(t, err)
	var lines []string
	for _, line := range strings.Split(string(data), "\n") {
		if strings.HasPrefix(line, "[") {
			lines = append(lines, line)
		}
	}
	require.Equal(t, []string{
		"[2024-05-01 12:00:00] alice: my order is missing",
		"[2024-05-01 12:01:00] staff: looking into it",
		"[2024-05-01 12:02:00] alice: thanks",
	}, lines)

	require.Len(t, platform.dms, 1)
	require.Equal(t, "1001", platform.dms[0].userID)
	require.Equal(t, res.TranscriptPath, platform.dms[0].path)
	_, exists := platform.channels[tk.ChannelID]
	require.False(t, exists)

	// a fresh ticket can be opened after closure
	_, err = c.Create(ctx, aliceRequest())
	require.NoError(t, err)
}
