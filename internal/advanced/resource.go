package advanced

import (
	"sync"

	"github.com/rezkam/mono/internal/domain"
)

// ResourceAdmission owns a set of named resource constraints and admits or
// queues jobs against them (§4.J resource admission).
type ResourceAdmission struct {
	mu          sync.Mutex
	constraints map[string]*domain.ResourceConstraint
}

// NewResourceAdmission builds an empty ResourceAdmission controller.
func NewResourceAdmission() *ResourceAdmission {
	return &ResourceAdmission{constraints: make(map[string]*domain.ResourceConstraint)}
}

// Register adds or replaces a named resource constraint.
func (a *ResourceAdmission) Register(c *domain.ResourceConstraint) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.constraints[c.Name] = c
}

// TryAdmit resolves the job's resource class and either admits it
// (current < max) or enqueues its job-id in the class's FIFO, returning
// whether it was admitted immediately.
func (a *ResourceAdmission) TryAdmit(j *domain.Job) (admitted bool) {
	class, ok := j.ResourceClass()
	if !ok {
		return true // no resource class declared: unconstrained
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	c, ok := a.constraints[class]
	if !ok {
		return true // no registered constraint for this class: unconstrained
	}

	if c.CanAdmit() {
		c.Admit()
		return true
	}
	c.Enqueue(j.Reference())
	return false
}

// Release frees one slot in class (usage is floored at zero) and pops and
// returns the job-reference at the head of the class's FIFO, if any. The
// popped job is not admitted: the freed slot stays free until TryAdmit is
// next called.
func (a *ResourceAdmission) Release(class string) (nextJobRef string, ok bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	c, exists := a.constraints[class]
	if !exists {
		return "", false
	}
	return c.Release()
}

// Constraint returns a copy of the named constraint's current state, for
// reporting.
func (a *ResourceAdmission) Constraint(class string) (domain.ResourceConstraint, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	c, ok := a.constraints[class]
	if !ok {
		return domain.ResourceConstraint{}, false
	}
	return *c, true
}
