package poll

import (
	"sort"
	"sync"

	"github.com/classeviva-hub/classeviva-poller/internal/domain/shared"
)

// ErrUnknownAccount is returned for an account without a coordinator.
var ErrUnknownAccount = shared.NewDomainError("poll", "Lookup", shared.ErrNotFound, "unknown account")

// Registry holds one Coordinator per account.
type Registry struct {
	mu           sync.RWMutex
	coordinators map[string]*Coordinator
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{coordinators: make(map[string]*Coordinator)}
}

// Add registers c under its account name.
func (r *Registry) Add(c *Coordinator) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.coordinators[c.Account()]; exists {
		return shared.NewDomainError("poll", "Add", shared.ErrAlreadyExists, "account "+c.Account()+" already registered")
	}
	r.coordinators[c.Account()] = c
	return nil
}

// Get returns the coordinator of account.
func (r *Registry) Get(account string) (*Coordinator, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.coordinators[account]
	if !ok {
		return nil, ErrUnknownAccount
	}
	return c, nil
}

// All returns every coordinator ordered by account name.
func (r *Registry) All() []*Coordinator {
	r.mu.RLock()
	defer r.mu.RUnlock()

	all := make([]*Coordinator, 0, len(r.coordinators))
	for _, c := range r.coordinators {
		all = append(all, c)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Account() < all[j].Account() })
	return all
}
