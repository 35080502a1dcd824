package listener

import "github.com/wilhg/statehub/pkg/state"

// Subscription is the handle of one registration.
type Subscription struct {
	registry *Registry
	identity any
	entry    *entry
}

// ID returns a unique identifier of the registration, for logs.
func (s *Subscription) ID() string { return s.entry.id }

// Remove deregisters the listener. It removes whatever registration the
// listener currently has, which may be a newer one than this handle's.
func (s *Subscription) Remove() {
	s.registry.mu.Lock()
	defer s.registry.mu.Unlock()
	s.registry.entries.Delete(s.identity)
}

// Add registers the listener again with this handle's Match and filter,
// replacing any registration it has at that moment.
func (s *Subscription) Add() {
	s.registry.mu.Lock()
	defer s.registry.mu.Unlock()
	s.registry.entries.Set(s.identity, s.entry)
}

// Active reports whether this handle's registration is the one in effect.
func (s *Subscription) Active() bool {
	s.registry.mu.RLock()
	defer s.registry.mu.RUnlock()
	e, ok := s.registry.entries.Get(s.identity)
	return ok && e == s.entry
}

// InformWithCurrentState calls the listener once, synchronously, with the
// current state and an absent old value. Key matching and filters are
// ignored, and the call happens even if the subscription was removed.
func (s *Subscription) InformWithCurrentState() {
	current := state.Empty()
	if s.registry.current != nil {
		current = s.registry.current()
	}
	s.entry.notify(state.Empty(), current, modeInitial)
}
