// Package store holds the counter state a remote container exposes as its
// store module. Use mirrors the remote's [value, setter] pair: the setter
// takes an Update built from a plain number or from a function of the old
// value.
package store

import (
	"fmt"
	"sync"

	"mfehost/pkg/federation"
)

// Update computes the next value from the current one.
type Update func(old int) int

// Setter applies an update and returns the new value.
type Setter func(Update) int

// Value replaces the current value with n.
func Value(n int) Update {
	return func(int) int { return n }
}

// Apply derives the next value from the current one.
func Apply(fn func(old int) int) Update {
	return Update(fn)
}

// Store is an int cell that notifies subscribers after every change.
type Store struct {
	mu     sync.RWMutex
	value  int
	nextID int
	subs   map[int]func(int)
}

// New creates a store holding initial.
func New(initial int) *Store {
	return &Store{value: initial, subs: make(map[int]func(int))}
}

// FromDefinition builds a store from a resolved store module.
func FromDefinition(def federation.ModuleDefinition) (*Store, error) {
	if def.Kind != federation.KindStore {
		return nil, fmt.Errorf("module %q is a %s, not a store", def.Name, def.Kind)
	}
	return New(def.Initial), nil
}

// Use returns the current value and the setter.
func (s *Store) Use() (int, Setter) {
	return s.Get(), s.Set
}

func (s *Store) Get() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.value
}

// Set applies u atomically. A nil update leaves the value unchanged.
func (s *Store) Set(u Update) int {
	if u == nil {
		return s.Get()
	}

	s.mu.Lock()
	s.value = u(s.value)
	v := s.value
	subs := make([]func(int), 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	s.mu.Unlock()

	for _, fn := range subs {
		fn(v)
	}
	return v
}

// Subscribe registers fn to receive each new value. Call the returned func
// to stop receiving.
func (s *Store) Subscribe(fn func(int)) (unsubscribe func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextID
	s.nextID++
	s.subs[id] = fn

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subs, id)
	}
}
