package auditlog

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Requester identifies who performed an action.
type Requester struct {
	IP        string
	UserAgent string
}

// Logger records actions to a Store. Write failures never reach the caller.
type Logger struct {
	store  Store
	logger *zap.Logger
	now    func() time.Time
}

func NewLogger(store Store, logger *zap.Logger) *Logger {
	return &Logger{store: store, logger: logger, now: time.Now}
}

// Log appends a record for action. imageLink may be empty.
func (l *Logger) Log(ctx context.Context, who Requester, action Action, imageLink string) {
	r := NewRecord(l.now(), who.IP, who.UserAgent, action, imageLink)
	if err := l.store.Append(ctx, r); err != nil {
		l.logger.Error("audit log write failed",
			zap.String("action", string(action)),
			zap.String("image", imageLink),
			zap.Error(err),
		)
	}
}
