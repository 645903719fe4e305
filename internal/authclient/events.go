package authclient

import "sync"

// AuthEvent names a change in the authentication state of a session.
type AuthEvent string

const (
	EventSignedIn       AuthEvent = "SIGNED_IN"
	EventSignedOut      AuthEvent = "SIGNED_OUT"
	EventTokenRefreshed AuthEvent = "TOKEN_REFRESHED"
)

// AuthListener receives auth-state changes.  s is nil for EventSignedOut.
type AuthListener func(event AuthEvent, s *Session)

// listeners is a registry of AuthListener callbacks.  Callbacks run in
// registration order on the goroutine that triggered the change, outside the
// registry lock, so a listener may call back into the SessionClient.
type listeners struct {
	mu     sync.Mutex
	nextID int
	order  []int
	fns    map[int]AuthListener
}

func (l *listeners) add(fn AuthListener) (unsubscribe func()) {
	l.mu.Lock()
	if l.fns == nil {
		l.fns = map[int]AuthListener{}
	}
	id := l.nextID
	l.nextID++
	l.fns[id] = fn
	l.order = append(l.order, id)
	l.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			defer l.mu.Unlock()
			delete(l.fns, id)
			for i, v := range l.order {
				if v == id {
					l.order = append(l.order[:i], l.order[i+1:]...)
					break
				}
			}
		})
	}
}

func (l *listeners) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.fns)
}

func (l *listeners) emit(event AuthEvent, s *Session) {
	l.mu.Lock()
	snapshot := make([]AuthListener, 0, len(l.order))
	for _, id := range l.order {
		snapshot = append(snapshot, l.fns[id])
	}
	l.mu.Unlock()

	for _, fn := range snapshot {
		fn(event, s)
	}
}
