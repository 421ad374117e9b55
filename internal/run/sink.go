package run

import (
	"sync"
	"time"

	"github.com/fatih/color"
	"go.uber.org/zap"
)

// Sink fans events out to the structured logger and the console,
// throttling informational chatter to a minimum interval. Important
// events (start, stop, failures, confirmations) always pass.
type Sink struct {
	logger      *zap.Logger
	minInterval time.Duration

	mu   sync.Mutex
	last time.Time
	now  func() time.Time
}

func NewSink(logger *zap.Logger, minInterval time.Duration) *Sink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sink{
		logger:      logger,
		minInterval: minInterval,
		now:         time.Now,
	}
}

// Info emits a throttled informational event. Returns false when the
// event was dropped by the throttle.
func (s *Sink) Info(msg string, fields ...zap.Field) bool {
	if !s.admit() {
		return false
	}
	s.logger.Info(msg, fields...)
	return true
}

// Important bypasses the throttle.
func (s *Sink) Important(msg string, fields ...zap.Field) {
	s.touch()
	s.logger.Info(msg, fields...)
}

func (s *Sink) Warn(msg string, fields ...zap.Field) {
	s.touch()
	s.logger.Warn(msg, fields...)
}

func (s *Sink) Error(msg string, fields ...zap.Field) {
	s.touch()
	s.logger.Error(msg, fields...)
}

func (s *Sink) admit() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	if !s.last.IsZero() && now.Sub(s.last) < s.minInterval {
		return false
	}
	s.last = now
	return true
}

func (s *Sink) touch() {
	s.mu.Lock()
	s.last = s.now()
	s.mu.Unlock()
}

// Console colors for progress lines.
var (
	successLine = color.New(color.FgGreen).SprintFunc()
	warnLine    = color.New(color.FgYellow).SprintFunc()
	failLine    = color.New(color.FgRed).SprintFunc()
	infoLine    = color.New(color.FgCyan).SprintFunc()
)
