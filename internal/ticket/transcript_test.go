package ticket

import (
	"errors"
	"iter"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func seqOf(msgs []Message, tail error) iter.Seq2[Message, error] {
	return func(yield func(Message, error) bool) {
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

func TestChannelName(t *testing.T) {
	cases := map[string]string{
		"Alice":          "ticket-alice",
		"Bob  The Great": "ticket-bob-the-great",
		" padded\tname ": "ticket-padded-name",
		"":               "ticket-",
	}
	for in, want := range cases {
		if got := ChannelName("ticket-", in); got != want {
			t.Fatalf("ChannelName(%q): expected %q, got %q", in, want, got)
		}
	}
	long := ChannelName("ticket-", strings.Repeat("é", 200))
	if n := len([]rune(long)); n != maxChannelName {
		t.Fatalf("expected %d runes, got %d", maxChannelName, n)
	}
}

func TestWriteTranscriptFormat(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "transcripts")
	closedAt := time.Date(2024, 3, 9, 14, 5, 7, 0, time.UTC)
	msgs := []Message{
		{Timestamp: time.Date(2024, 3, 9, 13, 0, 0, 0, time.UTC), Author: "alice", Content: "hello"},
		{Timestamp: time.Date(2024, 3, 9, 13, 1, 0, 0, time.UTC), Author: "staff", Content: "hi", Attachments: []string{"https://cdn.example/a.png", "https://cdn.example/b.png"}},
	}

	res, err := WriteTranscript(dir, "ticket-alice", closedAt, seqOf(msgs, nil))
	require.NoError(t, err)
	require.Equal(t, 2, res.Messages)
	require.Equal(t, filepath.Join(dir, "ticket-alice-20240309-140507.txt"), res.Path)

	data, err := os.ReadFile(res.Path)
	require.NoError(t, err)
	want := strings.Join([]string{
		"--- Ticket Transcript: ticket-alice | Closed: 2024-03-09 14:05:07 ---",
		transcriptRule,
		"[2024-03-09 13:00:00] alice: hello",
		"[2024-03-09 13:01:00] staff: hi",
		"    [attachment]: https://cdn.example/a.png",
		"    [attachment]: https://cdn.example/b.png",
		transcriptRule,
		"",
	}, "\n")
	require.Equal(t, want, string(data))
}

func TestWriteTranscriptAvoidsCollision(t *testing.T) {
	dir := t.TempDir()
	closedAt := time.Date(2024, 3, 9, 14, 5, 7, 0, time.UTC)

	first, err := WriteTranscript(dir, "ticket-bob", closedAt, seqOf(nil, nil))
	require.NoError(t, err)
	second, err := WriteTranscript(dir, "ticket-bob", closedAt, seqOf(nil, nil))
	require.NoError(t, err)

	require.NotEqual(t, first.Path, second.Path)
	require.Equal(t, filepath.Join(dir, "ticket-bob-20240309-140507-2.txt"), second.Path)
}

func TestWriteTranscriptKeepsPartialOnHistoryError(t *testing.T) {
	dir := t.TempDir()
	boom := errors.New("rate limited")
	msgs := []Message{{Timestamp: time.Unix(0, 0), Author: "alice", Content: "first"}}

	res, err := WriteTranscript(dir, "ticket-alice", time.Unix(60, 0).UTC(), seqOf(msgs, boom))
	require.ErrorIs(t, err, ErrTranscriptIO)
	require.ErrorIs(t, err, boom)
	require.Equal(t, 1, res.Messages)

	data, readErr := os.ReadFile(res.Path)
	require.NoError(t, readErr)
	require.Contains(t, string(data), "alice: first")
	require.Contains(t, string(data), "[transcript incomplete: rate limited]")
}

func TestWriteTranscriptDirFailure(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o644))

	res, err := WriteTranscript(filepath.Join(blocker, "sub"), "ticket-x", time.Now(), seqOf(nil, nil))
	require.ErrorIs(t, err, ErrTranscriptIO)
	require.Empty(t, res.Path)
}

func TestWriteTranscriptMultilineContent(t *testing.T) {
	closedAt := time.Date(2024, 3, 9, 14, 5, 7, 0, time.UTC)
	msgs := []Message{
		{Timestamp: closedAt.Add(-2 * time.Minute), Author: "alice", Content: "line one\nline two\r\nline three"},
		{Timestamp: closedAt.Add(-time.Minute), Author: "staff", Content: "ok"},
	}

	res, err := WriteTranscript(t.TempDir(), "ticket-alice", closedAt, seqOf(msgs, nil))
	require.NoError(t, err)
	require.Equal(t, 2, res.Messages)

	data, err := os.ReadFile(res.Path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
	var entries []string
	for _, line := range lines {
		if strings.HasPrefix(line, "[") {
			entries = append(entries, line)
		}
	}
	require.Len(t, entries, 2)
	require.Equal(t, "[2024-03-09 14:03:07] alice: line one", entries[0])
	require.Contains(t, lines, "    line two")
	require.Contains(t, lines, "    line three")
}
