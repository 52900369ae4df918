package lists

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"sync"
	"time"
)

// MaxListNameLength is the maximum length of a list name.
const MaxListNameLength = 64

var (
	// ErrInvalidListName indicates a list name failed validation.
	ErrInvalidListName = errors.New("invalid list name")
	// ErrListNotFound indicates the requested list does not exist.
	ErrListNotFound = errors.New("list not found")
)

var listNamePattern = regexp.MustCompile(`^[A-Za-z0-9]([A-Za-z0-9_-]*[A-Za-z0-9])?$`)

// ValidateListName validates a list name.
func ValidateListName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty name", ErrInvalidListName)
	}
	if len(name) > MaxListNameLength {
		return fmt.Errorf("%w: exceeds %d characters", ErrInvalidListName, MaxListNameLength)
	}
	if !listNamePattern.MatchString(name) {
		return fmt.Errorf("%w: %q (letters, digits, '-' and '_' only)", ErrInvalidListName, name)
	}
	return nil
}

// Registry holds named lists.
type Registry struct {
	mu         sync.RWMutex
	lists      map[string]*List
	autoCreate bool
	now        func() time.Time
}

// NewRegistry creates a Registry. With autoCreate, any valid name that is
// looked up is created on first use.
func NewRegistry(autoCreate bool, names ...string) *Registry {
	r := &Registry{
		lists:      make(map[string]*List),
		autoCreate: autoCreate,
		now:        func() time.Time { return time.Now().UTC() },
	}
	for _, name := range names {
		if ValidateListName(name) == nil {
			r.lists[name] = newList(name, r.now)
		}
	}
	return r
}

// Get returns the list called name.
func (r *Registry) Get(name string) (*List, error) {
	if err := ValidateListName(name); err != nil {
		return nil, err
	}

	r.mu.RLock()
	l, ok := r.lists[name]
	r.mu.RUnlock()
	if ok {
		return l, nil
	}
	if !r.autoCreate {
		return nil, fmt.Errorf("%w: %s", ErrListNotFound, name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if l, ok := r.lists[name]; ok {
		return l, nil
	}
	l = newList(name, r.now)
	r.lists[name] = l
	return l, nil
}

// Names returns the names of all lists, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.lists))
	for name := range r.lists {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
