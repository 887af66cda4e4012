package scheduler

import "time"

// SessionClock maps instants to trading sessions. A session starts at local
// midnight in Location shifted by Offset.
type SessionClock struct {
	Location *time.Location
	Offset   time.Duration
	nowFn    func() time.Time
}

func NewSessionClock(loc *time.Location, offset time.Duration) *SessionClock {
	if loc == nil {
		loc = time.Local
	}
	return &SessionClock{Location: loc, Offset: offset, nowFn: time.Now}
}

// WithNow swaps the clock source; used by tests.
func (c *SessionClock) WithNow(fn func() time.Time) *SessionClock {
	if fn != nil {
		c.nowFn = fn
	}
	return c
}

func (c *SessionClock) Now() time.Time {
	if c.nowFn == nil {
		return time.Now()
	}
	return c.nowFn()
}

// SessionKey identifies the session t belongs to, e.g. "2026-10-17".
func (c *SessionClock) SessionKey(t time.Time) string {
	return c.sessionStart(t).Format(time.DateOnly)
}

// NextBoundary returns the start of the session after the one containing t
// and how long until it.
func (c *SessionClock) NextBoundary(t time.Time) (time.Time, time.Duration) {
	start := c.sessionStart(t)
	y, m, d := start.Date()
	next := time.Date(y, m, d+1, 0, 0, 0, 0, c.Location).Add(c.Offset)
	return next, next.Sub(t)
}

func (c *SessionClock) sessionStart(t time.Time) time.Time {
	local := t.In(c.Location).Add(-c.Offset)
	y, m, d := local.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, c.Location).Add(c.Offset)
}
