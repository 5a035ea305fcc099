package audit

import (
	"context"
	"time"

	"dnsbot/internal/storage"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	LevelInfo  = "INFO"
	LevelWarn  = "WARN"
	LevelError = "ERROR"
)

type Logger struct {
	store  *storage.Store
	logger *zap.Logger
	notify func(context.Context, storage.AuditLog)
	now    func() time.Time
}

func NewLogger(store *storage.Store, logger *zap.Logger) *Logger {
	return &Logger{store: store, logger: logger, now: time.Now}
}

func (l *Logger) SetNotifier(notify func(context.Context, storage.AuditLog)) {
	l.notify = notify
}

func (l *Logger) Log(ctx context.Context, level, guildID, userID, event, details string) {
	entry := storage.AuditLog{
		GuildID:   guildID,
		UserID:    userID,
		Level:     level,
		Event:     event,
		Details:   details,
		CreatedAt: l.now(),
	}
	if err := l.store.AddAuditLog(ctx, entry); err != nil {
		l.logger.Warn("audit persist failed", zap.String("event", event), zap.Error(err))
	}
	if l.notify != nil {
		l.notify(ctx, entry)
	}
	l.logger.Log(zapLevel(level), "audit",
		zap.String("level", level),
		zap.String("guild_id", guildID),
		zap.String("user_id", userID),
		zap.String("event", event),
		zap.String("details", details),
	)
}

func zapLevel(level string) zapcore.Level {
	switch level {
	case LevelWarn:
		return zapcore.WarnLevel
	case LevelError:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}
