package identity

import (
	"sync"

	log "github.com/sirupsen/logrus"
)

// Watcher tracks the signed-in owner and announces transitions. Setting a
// token verifies it first; the zero value of the owner string means signed
// out.
type Watcher struct {
	auth *Auth
	log  *log.Logger

	mu      sync.Mutex
	owner   string
	changes chan string
}

// NewWatcher creates a Watcher that verifies tokens with auth.
func NewWatcher(auth *Auth, logger *log.Logger) *Watcher {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Watcher{
		auth:    auth,
		log:     logger,
		changes: make(chan string, 8),
	}
}

// Current returns the owner of the active session, or "" when signed out.
func (w *Watcher) Current() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.owner
}

// Changes delivers the owner after every sign-in and sign-out transition.
func (w *Watcher) Changes() <-chan string {
	return w.changes
}

// Set verifies token and switches the session to its subject. Re-presenting
// a token for the owner already signed in is a no-op.
func (w *Watcher) Set(token string) (string, error) {
	owner, err := w.auth.UserIDFromToken(token)
	if err != nil {
		return "", err
	}
	w.transition(owner)
	return owner, nil
}

// Clear signs the session out.
func (w *Watcher) Clear() {
	w.transition("")
}

func (w *Watcher) transition(owner string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if owner == w.owner {
		return
	}
	w.owner = owner

	select {
	case w.changes <- owner:
	default:
		w.log.WithField("owner", owner).Warn("identity change dropped, watcher queue full")
	}
}
