package popup

import "sync"

// sessionRegistry holds the live runners keyed by session id.
type sessionRegistry struct {
	mu      sync.Mutex
	runners map[string]*Runner
}

func newSessionRegistry() *sessionRegistry {
	return &sessionRegistry{runners: make(map[string]*Runner)}
}

func (r *sessionRegistry) get(id string) (*Runner, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	runner, ok := r.runners[id]
	return runner, ok
}

func (r *sessionRegistry) put(id string, runner *Runner) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runners[id] = runner
}

// take removes and returns the runner, if any.
func (r *sessionRegistry) take(id string) (*Runner, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	runner, ok := r.runners[id]
	if ok {
		delete(r.runners, id)
	}
	return runner, ok
}
