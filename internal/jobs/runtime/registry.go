package runtime

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Handler runs one attempt of a cluster job and settles it through ctx.
type Handler interface {
	Type() string
	Run(ctx *Context) error
}

// Registry maps a job_type to its Handler. Jobs whose type has no handler
// are failed without retry by the worker.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

func NewRegistry() *Registry {
	return &Registry{handlers: map[string]Handler{}}
}

func (r *Registry) Register(h Handler) error {
	if h == nil {
		return fmt.Errorf("register job handler: nil handler")
	}
	jobType := strings.TrimSpace(h.Type())
	if jobType == "" {
		return fmt.Errorf("register job handler: empty job_type")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.handlers[jobType]; dup {
		return fmt.Errorf("register job handler: job_type=%s already registered", jobType)
	}
	r.handlers[jobType] = h
	return nil
}

func (r *Registry) Get(jobType string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[jobType]
	return h, ok
}

// Types lists the registered job types in order.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
