package ticket

import (
	"bufio"
	"errors"
	"fmt"
	"iter"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	maxChannelName     = 100
	transcriptRule     = "------------------------------"
	transcriptTime     = "2006-01-02 15:04:05"
	transcriptFileTime = "20060102-150405"
	maxNameCollisions  = 100
	continuationIndent = "    "
)

func ChannelName(prefix, username string) string {
	name := strings.Join(strings.Fields(strings.ToLower(username)), "-")
	full := prefix + name
	for utf8.RuneCountInString(full) > maxChannelName {
		_, size := utf8.DecodeLastRuneInString(full)
		full = full[:len(full)-size]
	}
	return full
}

type TranscriptResult struct {
	Path     string
	Messages int
}

// A history failure keeps the partial file and wraps ErrTranscriptIO.
func WriteTranscript(dir, channelName string, closedAt time.Time, history iter.Seq2[Message, error]) (TranscriptResult, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return TranscriptResult{}, fmt.Errorf("%w: create dir: %v", ErrTranscriptIO, err)
	}

	file, path, err := createUnique(dir, channelName+"-"+closedAt.Format(transcriptFileTime))
	if err != nil {
		return TranscriptResult{}, fmt.Errorf("%w: create file: %v", ErrTranscriptIO, err)
	}

	w := bufio.NewWriter(file)
	fmt.Fprintf(w, "--- Ticket Transcript: %s | Closed: %s ---\n", channelName, closedAt.Format(transcriptTime))
	fmt.Fprintln(w, transcriptRule)

	count := 0
	var streamErr error
	for msg, err := range history {
		if err != nil {
			streamErr = err
			break
		}
		writeMessage(w, msg)
		count++
	}
	if streamErr != nil {
		fmt.Fprintf(w, "[transcript incomplete: %v]\n", streamErr)
	}
	fmt.Fprintln(w, transcriptRule)

	if err := errors.Join(w.Flush(), file.Close()); err != nil {
		_ = os.Remove(path)
		return TranscriptResult{}, fmt.Errorf("%w: write: %v", ErrTranscriptIO, err)
	}

	result := TranscriptResult{Path: path, Messages: count}
	if streamErr != nil {
		return result, fmt.Errorf("%w: read history: %w", ErrTranscriptIO, streamErr)
	}
	return result, nil
}

func writeMessage(w *bufio.Writer, msg Message) {
	content := strings.ReplaceAll(msg.Content, "\r\n", "\n")
	content = strings.ReplaceAll(content, "\n", "\n"+continuationIndent)
	fmt.Fprintf(w, "[%s] %s: %s\n", msg.Timestamp.UTC().Format(transcriptTime), msg.Author, content)
	for _, url := range msg.Attachments {
		fmt.Fprintf(w, "%s[attachment]: %s\n", continuationIndent, url)
	}
}

func createUnique(dir, base string) (*os.File, string, error) {
	for i := 1; i <= maxNameCollisions; i++ {
		name := base
		if i > 1 {
			name = fmt.Sprintf("%s-%d", base, i)
		}
		path := filepath.Join(dir, name+".txt")
		file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err == nil {
			return file, path, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return nil, "", err
		}
	}
	return nil, "", fmt.Errorf("no free file name for %s", base)
}
