// Package progress provides ProgressSink implementations for playlist runs.
package progress

import (
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"seedmix/internal/core"
)

// DefaultChannelBuffer is the buffer size used by NewChannelSink when none is given.
const DefaultChannelBuffer = 64

// ChannelSink forwards messages to a buffered channel. Messages are dropped
// when the buffer is full or the sink is closed.
type ChannelSink struct {
	ch      chan string
	mu      sync.RWMutex
	closed  bool
	dropped atomic.Int64
}

func NewChannelSink(buffer int) *ChannelSink {
	if buffer <= 0 {
		buffer = DefaultChannelBuffer
	}
	return &ChannelSink{ch: make(chan string, buffer)}
}

func (s *ChannelSink) Emit(message string) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		s.dropped.Add(1)
		return
	}

	select {
	case s.ch <- message:
	default:
		s.dropped.Add(1)
	}
}

// Messages returns the receive side. It is closed by Close.
func (s *ChannelSink) Messages() <-chan string {
	return s.ch
}

// Dropped returns the number of messages that could not be delivered.
func (s *ChannelSink) Dropped() int64 {
	return s.dropped.Load()
}

func (s *ChannelSink) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

// LogSink writes each message as an info log entry.
type LogSink struct {
	logger *zap.Logger
	runID  string
}

func NewLogSink(logger *zap.Logger, runID string) *LogSink {
	return &LogSink{logger: logger, runID: runID}
}

func (s *LogSink) Emit(message string) {
	if s.runID == "" {
		s.logger.Info(message)
		return
	}
	s.logger.Info(message, zap.String("run", s.runID))
}

// Collector keeps every message in memory.
type Collector struct {
	mu       sync.Mutex
	messages []string
}

func NewCollector() *Collector {
	return &Collector{}
}

func (c *Collector) Emit(message string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, message)
}

// Messages returns a copy of the collected messages in emission order.
func (c *Collector) Messages() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]string, len(c.messages))
	copy(out, c.messages)
	return out
}

// Multi fans every message out to all sinks. Nil sinks are ignored.
func Multi(sinks ...core.ProgressSink) core.ProgressSink {
	filtered := make(multiSink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			filtered = append(filtered, s)
		}
	}
	return filtered
}

type multiSink []core.ProgressSink

func (m multiSink) Emit(message string) {
	for _, s := range m {
		s.Emit(message)
	}
}

var (
	_ core.ProgressSink = (*ChannelSink)(nil)
	_ core.ProgressSink = (*LogSink)(nil)
	_ core.ProgressSink = (*Collector)(nil)
)
