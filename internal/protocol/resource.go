package protocol

import (
	"fmt"
	"sort"
	"sync"
)

// Resource identifies the target of a request. The code space is owned by
// the application; only the built-in codes below are reserved.
type Resource byte

const (
	ResourceSystem  Resource = 0
	ResourceSession Resource = 1
)

// ResourceSet maps wire codes to known resources.
type ResourceSet struct {
	mu    sync.RWMutex
	names map[Resource]string
}

// NewResourceSet returns a set holding the built-in resources.
func NewResourceSet() *ResourceSet {
	return &ResourceSet{
		names: map[Resource]string{
			ResourceSystem:  "SYSTEM",
			ResourceSession: "SESSION",
		},
	}
}

// Register adds an application resource. Codes cannot be registered twice.
func (s *ResourceSet) Register(code Resource, name string) error {
	if name == "" {
		return fmt.Errorf("resource %d: name cannot be empty", code)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.names[code]; ok {
		return fmt.Errorf("resource %d already registered as %s", code, existing)
	}
	s.names[code] = name
	return nil
}

// Lookup resolves a wire code.
func (s *ResourceSet) Lookup(code byte) (Resource, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.names[Resource(code)]
	return Resource(code), ok
}

// Name returns the registered name of r, or a numeric placeholder.
func (s *ResourceSet) Name(r Resource) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if name, ok := s.names[r]; ok {
		return name
	}
	return fmt.Sprintf("RESOURCE(%d)", byte(r))
}

// Codes returns every registered code in ascending order.
func (s *ResourceSet) Codes() []Resource {
	s.mu.RLock()
	defer s.mu.RUnlock()

	codes := make([]Resource, 0, len(s.names))
	for code := range s.names {
		codes = append(codes, code)
	}
	sort.Slice(codes, func(i, j int) bool { return codes[i] < codes[j] })
	return codes
}
