// ABOUTME: Throttle for agent progress messages forwarded to chat surfaces
// ABOUTME: Passes changed messages, milestones, and anything after the interval

package relay

import (
	"strings"
	"sync"
	"time"
)

const DefaultProgressInterval = 5 * time.Second

// DefaultMilestones always pass the throttle.
var DefaultMilestones = []string{"planning", "executing", "generating", "forming"}

// ProgressThrottle decides which progress messages to forward. A message
// passes when it differs from the last forwarded one, contains a milestone
// keyword, or arrives at least interval after the last forward.
type ProgressThrottle struct {
	mu         sync.Mutex
	interval   time.Duration
	milestones []string
	now        func() time.Time

	last   string
	lastAt time.Time
	sent   bool
}

// NewProgressThrottle builds a throttle. A nil clock means time.Now.
func NewProgressThrottle(interval time.Duration, milestones []string, now func() time.Time) *ProgressThrottle {
	if interval <= 0 {
		interval = DefaultProgressInterval
	}
	if milestones == nil {
		milestones = DefaultMilestones
	}
	if now == nil {
		now = time.Now
	}
	lower := make([]string, 0, len(milestones))
	for _, m := range milestones {
		if m = strings.ToLower(strings.TrimSpace(m)); m != "" {
			lower = append(lower, m)
		}
	}
	return &ProgressThrottle{interval: interval, milestones: lower, now: now}
}

// Allow reports whether message should be forwarded and records it if so.
func (p *ProgressThrottle) Allow(message string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	forward := !p.sent ||
		message != p.last ||
		p.isMilestone(message) ||
		now.Sub(p.lastAt) >= p.interval
	if !forward {
		return false
	}

	p.last = message
	p.lastAt = now
	p.sent = true
	return true
}

func (p *ProgressThrottle) isMilestone(message string) bool {
	lower := strings.ToLower(message)
	for _, m := range p.milestones {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}
