package sync

import (
	"sync"
	"time"
)

// Composer is the local half of the typing coordinator: it turns keystrokes
// into at most one typing:start, and a quiet period (or a send) into exactly
// one typing:stop. One rearmable timer per composition target — rearming
// cancels the prior timer (debounce, not throttle). The remote half lives in
// state.Typing.
type Composer struct {
	delay time.Duration
	emit  func(conversationID string, typing bool)

	mu     sync.Mutex
	target string
	typing bool
	timer  *time.Timer
}

// NewComposer creates a composer that calls emit for start/stop signals.
func NewComposer(delay time.Duration, emit func(conversationID string, typing bool)) *Composer {
	if delay <= 0 {
		delay = time.Second
	}
	return &Composer{delay: delay, emit: emit}
}

// Keystroke records input activity in a conversation. The first keystroke
// emits a start immediately; every keystroke rearms the inactivity timer.
// Switching the composition target while typing closes out the old target
// with an immediate stop.
func (c *Composer) Keystroke(conversationID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.typing && c.target != conversationID {
		c.stopLocked()
	}
	c.target = conversationID
	if !c.typing {
		c.typing = true
		c.emit(conversationID, true)
	}
	if c.timer != nil {
		c.timer.Stop()
	}
	c.timer = time.AfterFunc(c.delay, c.expire)
}

// MessageSent cancels the pending timer and emits stop immediately if the
// client was typing in that conversation.
func (c *Composer) MessageSent(conversationID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.typing && c.target == conversationID {
		c.stopLocked()
	}
}

// Close cancels any pending timer without emitting; used on shutdown.
func (c *Composer) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.typing = false
}

func (c *Composer) expire() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.typing {
		return
	}
	c.typing = false
	c.timer = nil
	c.emit(c.target, false)
}

func (c *Composer) stopLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.typing = false
	c.emit(c.target, false)
}
