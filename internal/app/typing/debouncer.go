// Package typing turns raw keystrokes into boundary-only typing signals:
// one "started" per burst and one "stopped" after the idle window or on send.
package typing

import (
	"sync"
	"time"
)

// Signal transmits the local user's typing state for a conversation.
type Signal func(conversationID string, isTyping bool)

// Timer is the subset of *time.Timer the debouncer needs.
type Timer interface {
	Stop() bool
}

// AfterFunc schedules f after d; time.AfterFunc satisfies it via StdAfterFunc.
type AfterFunc func(d time.Duration, f func()) Timer

// StdAfterFunc wraps time.AfterFunc.
func StdAfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// Debouncer is safe for concurrent use.
type Debouncer struct {
	idle      time.Duration
	signal    Signal
	afterFunc AfterFunc

	// emitMu spans a state change and its signals so they reach the wire in
	// the order the state changed.
	emitMu sync.Mutex

	mu     sync.Mutex
	active string // conversation of the current burst, "" when idle
	timer  Timer
	seq    uint64
}

// New builds a debouncer; a nil afterFunc uses the real clock.
func New(idle time.Duration, signal Signal, afterFunc AfterFunc) *Debouncer {
	if idle <= 0 {
		idle = time.Second
	}
	if afterFunc == nil {
		afterFunc = StdAfterFunc
	}
	return &Debouncer{idle: idle, signal: signal, afterFunc: afterFunc}
}

// Keystroke records input in conversationID. A keystroke in a different
// conversation ends the previous burst first.
func (d *Debouncer) Keystroke(conversationID string) {
	if conversationID == "" {
		return
	}
	d.emitMu.Lock()
	defer d.emitMu.Unlock()
	var emits []emission

	d.mu.Lock()
	if d.active != "" && d.active != conversationID {
		emits = append(emits, d.stopLocked())
	}
	if d.active == "" {
		d.active = conversationID
		emits = append(emits, emission{conversationID, true})
	}
	if d.timer != nil {
		d.timer.Stop()
	}
	d.seq++
	seq := d.seq
	d.timer = d.afterFunc(d.idle, func() { d.expire(seq) })
	d.mu.Unlock()

	d.emit(emits)
}

// Flush ends the current burst immediately, e.g. when the message is sent.
func (d *Debouncer) Flush() {
	d.emitMu.Lock()
	defer d.emitMu.Unlock()
	d.mu.Lock()
	if d.active == "" {
		d.mu.Unlock()
		return
	}
	e := d.stopLocked()
	d.mu.Unlock()
	d.emit([]emission{e})
}

// Typing reports the conversation of the active burst.
func (d *Debouncer) Typing() (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.active, d.active != ""
}

func (d *Debouncer) expire(seq uint64) {
	d.emitMu.Lock()
	defer d.emitMu.Unlock()
	d.mu.Lock()
	if seq != d.seq || d.active == "" {
		d.mu.Unlock()
		return
	}
	e := d.stopLocked()
	d.mu.Unlock()
	d.emit([]emission{e})
}

func (d *Debouncer) stopLocked() emission {
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.seq++
	e := emission{d.active, false}
	d.active = ""
	return e
}

type emission struct {
	conversationID string
	isTyping       bool
}

func (d *Debouncer) emit(emits []emission) {
	if d.signal == nil {
		return
	}
	for _, e := range emits {
		d.signal(e.conversationID, e.isTyping)
	}
}
