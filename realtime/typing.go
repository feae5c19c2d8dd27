package realtime

import (
	"sort"
	"sync"
	"time"

	"uplink-service/config"
	"uplink-service/presence"
)

// Typing tracks who is typing in the active conversation. Each remote user
// is cleared window after their last signal.
type Typing struct {
	mu     sync.Mutex
	self   string
	active string
	window time.Duration
	seq    uint64
	timers map[string]typist
	// OnChange, if set, is called with the current typists after every change.
	OnChange func(userIDs []string)
}

type typist struct {
	timer *time.Timer
	gen   uint64
}

func NewTyping(self string, window time.Duration) *Typing {
	return &Typing{self: self, window: window, timers: make(map[string]typist)}
}

// NewTypingFor builds a tracker that uses the configured typing window.
func NewTypingFor(self string, settings *config.Settings) *Typing {
	return NewTyping(self, settings.TypingWindow())
}

// SetActive switches conversation and forgets every typist.
func (t *Typing) SetActive(conversationID string) {
	t.mu.Lock()
	t.active = conversationID
	for id, ty := range t.timers {
		ty.timer.Stop()
		delete(t.timers, id)
	}
	t.mu.Unlock()
	t.notify()
}

func (t *Typing) Receive(ev presence.TypingEvent) {
	t.mu.Lock()
	if ev.UserID == "" || ev.UserID == t.self || ev.ConversationID != t.active {
		t.mu.Unlock()
		return
	}
	if old, ok := t.timers[ev.UserID]; ok {
		old.timer.Stop()
	}
	t.seq++
	gen := t.seq
	t.timers[ev.UserID] = typist{
		timer: time.AfterFunc(t.window, func() { t.expire(ev.UserID, gen) }),
		gen:   gen,
	}
	t.mu.Unlock()
	t.notify()
}

func (t *Typing) expire(userID string, gen uint64) {
	t.mu.Lock()
	// A newer signal replaced this timer.
	if cur, ok := t.timers[userID]; !ok || cur.gen != gen {
		t.mu.Unlock()
		return
	}
	delete(t.timers, userID)
	t.mu.Unlock()
	t.notify()
}

func (t *Typing) Users() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, 0, len(t.timers))
	for id := range t.timers {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (t *Typing) notify() {
	if t.OnChange != nil {
		t.OnChange(t.Users())
	}
}

// OnlineSet derives who is online from a presence snapshot. A user with any
// open connection, in any tab, counts.
func OnlineSet(snapshot presence.Snapshot) map[string]bool {
	out := make(map[string]bool, len(snapshot))
	for id, n := range snapshot {
		if n > 0 {
			out[id] = true
		}
	}
	return out
}
