// ABOUTME: Session holds the signed-in user of a client process
// ABOUTME: Supplies the pub/sub routing key and notifies listeners when it changes

package auth

import (
	"sync"
)

// Session is the client-side record of who is signed in. It satisfies the
// synchronizer's key provider: the routing key is the user's email.
type Session struct {
	mu        sync.RWMutex
	token     string
	email     string
	listeners []func()
}

// NewSession returns a signed-out session.
func NewSession() *Session {
	return &Session{}
}

// Set records a signed-in user. Listeners run only when the email changes.
func (s *Session) Set(token, email string) {
	s.mu.Lock()
	changed := s.email != email
	s.token = token
	s.email = email
	listeners := append([]func(){}, s.listeners...)
	s.mu.Unlock()

	if changed {
		for _, fn := range listeners {
			fn()
		}
	}
}

// Clear signs the user out.
func (s *Session) Clear() {
	s.Set("", "")
}

// Token returns the bearer token of the signed-in user, if any.
func (s *Session) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

// CurrentKey returns the routing key of the signed-in user.
func (s *Session) CurrentKey() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.email, s.email != ""
}

// OnChange registers fn to run after the signed-in identity changes. fn runs
// on the goroutine that called Set or Clear, with no lock held.
func (s *Session) OnChange(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}
