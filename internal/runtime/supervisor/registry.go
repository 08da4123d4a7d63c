package supervisor

import (
	"sort"
	"sync"
)

// Registry collects the supervisors of independent components (watcher,
// router, adapter, notifier) so one stats endpoint can report them all.
// Getters are called on every Snapshot; components that are not running
// return nil and are reported empty.
type Registry struct {
	mu   sync.RWMutex
	subs map[string]func() *Supervisor
}

func NewRegistry() *Registry {
	return &Registry{subs: map[string]func() *Supervisor{}}
}

// Register adds or replaces the getter for name. A nil getter removes it.
func (r *Registry) Register(name string, get func() *Supervisor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if get == nil {
		delete(r.subs, name)
		return
	}
	r.subs[name] = get
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	out := make([]string, 0, len(r.subs))
	for n := range r.subs {
		out = append(out, n)
	}
	r.mu.RUnlock()
	sort.Strings(out)
	return out
}

func (r *Registry) Snapshot() map[string]SupervisorSnapshot {
	r.mu.RLock()
	gets := make(map[string]func() *Supervisor, len(r.subs))
	for n, g := range r.subs {
		gets[n] = g
	}
	r.mu.RUnlock()

	out := make(map[string]SupervisorSnapshot, len(gets))
	for n, g := range gets {
		out[n] = g().Snapshot()
	}
	return out
}

// FirstError returns the first error of any registered supervisor, in name
// order, or "" when all are healthy.
func (r *Registry) FirstError() (component, err string) {
	snaps := r.Snapshot()
	for _, n := range r.Names() {
		if e := snaps[n].FirstError; e != "" {
			return n, e
		}
	}
	return "", ""
}
