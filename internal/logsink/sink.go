package logsink

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/time/rate"
)

const maxMessageRunes = 3800

var levelColors = map[string]int{
	"INFO":    0x3498DB,
	"WARN":    0xF1C40F,
	"WARNING": 0xF1C40F,
	"ERROR":   0xE74C3C,
}

type Executor interface {
	WebhookExecute(webhookID, token string, wait bool, data *discordgo.WebhookParams, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

type Config struct {
	QueueSize int
	PerSecond float64
	Burst     int
	OnDrop func()
}

type Entry struct {
	Level   string
	Message string
	At      time.Time
}

// Send never blocks; entries are dropped when the queue is full.
type Sink struct {
	exec      Executor
	webhookID string
	token     string
	limiter   *rate.Limiter
	logger    *zap.Logger

	mu     sync.RWMutex
	closed bool
	queue  chan Entry

	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
	dropped atomic.Int64
	onDrop  func()
}

func New(exec Executor, webhookURL string, cfg Config, logger *zap.Logger) (*Sink, error) {
	id, token, err := ParseWebhookURL(webhookURL)
	if err != nil {
		return nil, err
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	limit := rate.Inf
	if cfg.PerSecond > 0 {
		limit = rate.Limit(cfg.PerSecond)
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Sink{
		exec:      exec,
		webhookID: id,
		token:     token,
		limiter:   rate.NewLimiter(limit, cfg.Burst),
		logger:    logger,
		queue:     make(chan Entry, cfg.QueueSize),
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
		onDrop:    cfg.OnDrop,
	}, nil
}

func ParseWebhookURL(raw string) (string, string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", "", fmt.Errorf("webhook url: %w", err)
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	for i := 0; i+2 < len(parts); i++ {
		if parts[i] == "webhooks" && parts[i+1] != "" && parts[i+2] != "" {
			return parts[i+1], parts[i+2], nil
		}
	}
	return "", "", errors.New("webhook url: expected /api/webhooks/<id>/<token>")
}

func (s *Sink) Start() {
	go s.run()
}

func (s *Sink) Send(level, message string) bool {
	if s == nil {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return false
	}
	select {
	case s.queue <- Entry{Level: strings.ToUpper(level), Message: message, At: time.Now()}:
		return true
	default:
		s.dropped.Add(1)
		if s.onDrop != nil {
			s.onDrop()
		}
		return false
	}
}

func (s *Sink) Dropped() int64 {
	return s.dropped.Load()
}

func (s *Sink) Close(ctx context.Context) error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.queue)
	}
	s.mu.Unlock()

	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		s.cancel()
		return ctx.Err()
	}
}

// Audit lines are skipped; they arrive through the audit notifier.
func (s *Sink) Hook(min zapcore.Level) func(zapcore.Entry) error {
	return func(entry zapcore.Entry) error {
		if entry.Level < min || entry.Message == "audit" {
			return nil
		}
		s.Send(entry.Level.CapitalString(), entry.Message)
		return nil
	}
}

func (s *Sink) run() {
	defer close(s.done)
	for entry := range s.queue {
		if err := s.limiter.Wait(s.ctx); err != nil {
			return
		}
		if err := s.deliver(entry); err != nil {
			s.logger.Debug("log sink delivery failed", zap.Error(err))
		}
	}
}

func (s *Sink) deliver(entry Entry) error {
	embed := &discordgo.MessageEmbed{
		Title:       "System log - " + entry.Level,
		Description: truncate(entry.Message, maxMessageRunes),
		Color:       colorFor(entry.Level),
		Timestamp:   entry.At.Format(time.RFC3339),
	}
	_, err := s.exec.WebhookExecute(s.webhookID, s.token, false, &discordgo.WebhookParams{
		Embeds: []*discordgo.MessageEmbed{embed},
	}, discordgo.WithContext(s.ctx))
	return err
}

func colorFor(level string) int {
	if color, ok := levelColors[level]; ok {
		return color
	}
	return levelColors["INFO"]
}

func truncate(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return string(runes[:max-3]) + "..."
}
