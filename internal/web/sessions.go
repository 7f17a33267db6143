package web

import (
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"pic2contact/internal/app"
	appLog "pic2contact/internal/log"
	"pic2contact/internal/notify"
)

const sessionCookie = "pic2contact_session"

// maxSessions bounds live workflows. Creating one beyond it closes the
// least recently seen session.
const maxSessions = 64

// DepsFunc builds the collaborators for a new browser session. Alerts for
// that session must go to the given notifier.
type DepsFunc func(n notify.Notifier) app.Deps

// session is one browser's workflow plus the alerts it has not seen yet.
type session struct {
	id       string
	comp     *app.Component
	alerts   *notify.Queue
	lastSeen time.Time
}

// Sessions maps cookie ids to workflows. Idle sessions are closed by Sweep,
// which releases any camera they still hold.
type Sessions struct {
	mu      sync.Mutex
	byID    map[string]*session
	deps    DepsFunc
	ttl     time.Duration
	nowFunc func() time.Time
}

func NewSessions(deps DepsFunc, ttl time.Duration) *Sessions {
	return &Sessions{
		byID:    make(map[string]*session),
		deps:    deps,
		ttl:     ttl,
		nowFunc: time.Now,
	}
}

// Lookup returns the caller's existing session or nil. It never creates
// one, so read-only polls from cookieless clients cost nothing.
func (s *Sessions) Lookup(r *http.Request) *session {
	c, err := r.Cookie(sessionCookie)
	if err != nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.byID[c.Value]
	if !ok {
		return nil
	}
	sess.lastSeen = s.nowFunc()
	return sess
}

// Resolve returns the caller's session, creating one (and setting the
// cookie) if the request carries none or an unknown id.
func (s *Sessions) Resolve(w http.ResponseWriter, r *http.Request) *session {
	if sess := s.Lookup(r); sess != nil {
		return sess
	}
	now := s.nowFunc()

	q := &notify.Queue{}
	sess := &session{
		id:       uuid.NewString(),
		alerts:   q,
		comp:     app.New(s.deps(q)),
		lastSeen: now,
	}

	s.mu.Lock()
	var evicted *session
	if len(s.byID) >= maxSessions {
		evicted = s.oldestLocked()
		delete(s.byID, evicted.id)
	}
	s.byID[sess.id] = sess
	s.mu.Unlock()

	if evicted != nil {
		if err := evicted.comp.Close(); err != nil {
			appLog.Error("session close failed", err, "session", evicted.id)
		}
		appLog.Warn("session limit reached, oldest evicted", "session", evicted.id, "limit", maxSessions)
	}

	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    sess.id,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	})
	appLog.Info("session created", "session", sess.id)
	return sess
}

func (s *Sessions) oldestLocked() *session {
	var oldest *session
	for _, sess := range s.byID {
		if oldest == nil || sess.lastSeen.Before(oldest.lastSeen) {
			oldest = sess
		}
	}
	return oldest
}

// Sweep closes sessions idle for longer than the TTL and returns how many
// were closed.
func (s *Sessions) Sweep() int {
	cutoff := s.nowFunc().Add(-s.ttl)

	s.mu.Lock()
	var expired []*session
	for id, sess := range s.byID {
		if sess.lastSeen.Before(cutoff) {
			expired = append(expired, sess)
			delete(s.byID, id)
		}
	}
	s.mu.Unlock()

	for _, sess := range expired {
		if err := sess.comp.Close(); err != nil {
			appLog.Error("session close failed", err, "session", sess.id)
		}
		appLog.Info("session expired", "session", sess.id)
	}
	return len(expired)
}

// CloseAll tears down every session, e.g. on server shutdown.
func (s *Sessions) CloseAll() {
	s.mu.Lock()
	all := s.byID
	s.byID = make(map[string]*session)
	s.mu.Unlock()

	for _, sess := range all {
		_ = sess.comp.Close()
	}
}

func (s *Sessions) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byID)
}
