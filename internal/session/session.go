// Package session is the boundary to the authentication provider. The engine
// only ever needs to know who is signed in; token handling, refresh, and the
// identity provider itself live elsewhere.
package session

import "sync"

// Session is the engine's view of the auth state.
type Session struct {
	UserID   string `json:"userId,omitempty"`
	SignedIn bool   `json:"isSignedIn"`
}

// Provider exposes the current session to engine components.
type Provider interface {
	Current() Session
}

// StaticProvider is a Provider whose session is set programmatically. It
// notifies subscribers on every transition so the sync daemon can kick off a
// cycle when a user signs in.
type StaticProvider struct {
	mu          sync.Mutex
	current     Session
	subscribers map[int]chan Session
	nextSubID   int
}

func NewStaticProvider() *StaticProvider {
	return &StaticProvider{subscribers: map[int]chan Session{}}
}

func (p *StaticProvider) Current() Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current
}

// SignIn records the signed-in user and notifies subscribers.
func (p *StaticProvider) SignIn(userID string) {
	p.set(Session{UserID: userID, SignedIn: userID != ""})
}

// SignOut clears the session and notifies subscribers.
func (p *StaticProvider) SignOut() {
	p.set(Session{})
}

func (p *StaticProvider) set(sess Session) {
	p.mu.Lock()
	if p.current == sess {
		p.mu.Unlock()
		return
	}
	p.current = sess
	subs := make([]chan Session, 0, len(p.subscribers))
	for _, ch := range p.subscribers {
		subs = append(subs, ch)
	}
	p.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- sess:
		default:
		}
	}
}

// Subscribe returns a channel receiving session transitions and a cancel
// function. Slow receivers drop updates rather than block the sender; the
// channel always reflects a recent state, not a complete history.
func (p *StaticProvider) Subscribe() (<-chan Session, func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := p.nextSubID
	p.nextSubID++
	ch := make(chan Session, 1)
	p.subscribers[id] = ch
	return ch, func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		delete(p.subscribers, id)
	}
}
