package audio

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/austinkregel/local-media/streamd/internal/logger"
	"github.com/austinkregel/local-media/streamd/internal/timer"
)

// ErrLockBusy is returned when another transport operation holds the lock
var ErrLockBusy = errors.New("audio operation lock busy")

// DefaultLockTimeout is how long a holder may keep the lock before it is reclaimed
const DefaultLockTimeout = 5 * time.Second

// OpKind names the transport operation holding the lock
type OpKind string

const (
	OpLoad   OpKind = "load"
	OpPlay   OpKind = "play"
	OpPause  OpKind = "pause"
	OpStop   OpKind = "stop"
	OpSeek   OpKind = "seek"
	OpRate   OpKind = "rate"
	OpVolume OpKind = "volume"
)

// Token identifies one lock holder. Only the holder's own token releases the lock.
type Token struct {
	Kind       OpKind
	ID         string
	AcquiredAt time.Time
}

// OperationLock is a non-blocking, single-holder lock with a stale-holder timeout.
// Acquire never waits: it either takes the lock or fails with ErrLockBusy.
type OperationLock struct {
	mu      sync.Mutex
	holder  *Token
	timeout time.Duration
	expiry  *timer.Timer
	events  *Events
	now     func() time.Time
	log     *zap.Logger
}

// NewOperationLock creates an unheld lock. events may be nil.
func NewOperationLock(timeout time.Duration, events *Events, log *zap.Logger) *OperationLock {
	if timeout <= 0 {
		timeout = DefaultLockTimeout
	}
	return &OperationLock{
		timeout: timeout,
		expiry:  timer.New(),
		events:  events,
		now:     time.Now,
		log:     logger.OrNop(log),
	}
}

// Acquire takes the lock for kind. A holder older than the timeout is reclaimed first.
func (l *OperationLock) Acquire(kind OpKind) (Token, error) {
	l.mu.Lock()

	var reclaimed string
	if l.holder != nil {
		if l.now().Sub(l.holder.AcquiredAt) < l.timeout {
			holder := *l.holder
			l.mu.Unlock()
			l.log.Debug("lock busy", zap.String("want", string(kind)), zap.String("holder", holder.ID))
			return Token{}, fmt.Errorf("%w: held by %s", ErrLockBusy, holder.ID)
		}
		reclaimed = l.reclaimLocked()
	}

	tok := Token{
		Kind:       kind,
		ID:         fmt.Sprintf("%s_%s", kind, uuid.NewString()),
		AcquiredAt: l.now(),
	}
	l.holder = &tok
	l.armLocked(tok.ID)
	l.mu.Unlock()

	if reclaimed != "" {
		l.publishReset(reclaimed)
	}
	return tok, nil
}

// Release frees the lock if tok is the current holder. It reports whether it did.
func (l *OperationLock) Release(tok Token) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.holder == nil || l.holder.ID != tok.ID {
		return false
	}
	l.holder = nil
	l.expiry.Stop()
	return true
}

// Holds reports whether tok is still the current holder
func (l *OperationLock) Holds(tok Token) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.holder != nil && l.holder.ID == tok.ID
}

// Refresh restarts the holder's timeout. Used by operations that keep one token
// across several calls.
func (l *OperationLock) Refresh(tok Token) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.holder == nil || l.holder.ID != tok.ID {
		return false
	}
	l.holder.AcquiredAt = l.now()
	l.armLocked(tok.ID)
	return true
}

// Holder returns the current holder, if any
func (l *OperationLock) Holder() (Token, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.holder == nil {
		return Token{}, false
	}
	return *l.holder, true
}

// ForceReset drops any holder and publishes LockForceReset
func (l *OperationLock) ForceReset() {
	l.mu.Lock()
	prev := l.reclaimLocked()
	l.mu.Unlock()
	l.publishReset(prev)
}

func (l *OperationLock) armLocked(id string) {
	l.expiry.Reset(l.timeout, func() { l.expire(id) })
}

func (l *OperationLock) expire(id string) {
	l.mu.Lock()
	if l.holder == nil || l.holder.ID != id {
		l.mu.Unlock()
		return
	}
	prev := l.reclaimLocked()
	l.mu.Unlock()

	l.log.Warn("lock holder timed out", zap.String("holder", prev), zap.Duration("timeout", l.timeout))
	l.publishReset(prev)
}

// reclaimLocked clears the holder and returns its id ("" when there was none)
func (l *OperationLock) reclaimLocked() string {
	prev := ""
	if l.holder != nil {
		prev = l.holder.ID
	}
	l.holder = nil
	l.expiry.Stop()
	return prev
}

func (l *OperationLock) publishReset(prev string) {
	l.log.Info("lock force reset", zap.String("previous", prev))
	if l.events != nil {
		l.events.LockForceReset.Publish(LockForceResetEvent{PreviousID: prev, At: l.now()})
	}
}
