package patterns

import (
	"sync"

	"github.com/pkg/errors"
)

// ErrObserverNotFound is returned by Unsubscribe for an unknown subscription
var ErrObserverNotFound = errors.New("observer not found")

// Observer receives events published by a Subject
type Observer[E any] func(event E)

// Subscription identifies a registered observer
type Subscription uint64

// Subject represents an observable subject
type Subject[E any] interface {
	// Subscribe registers an observer
	Subscribe(observer Observer[E]) Subscription
	// Unsubscribe removes an observer
	Unsubscribe(id Subscription) error
	// Notify notifies all observers in subscription order
	Notify(event E)
}

// NewSubject returns a Subject safe for concurrent use
func NewSubject[E any]() Subject[E] {
	return &subject[E]{}
}

type subscriber[E any] struct {
	id       Subscription
	observer Observer[E]
}

type subject[E any] struct {
	mu        sync.RWMutex
	nextID    Subscription
	observers []subscriber[E]
}

func (s *subject[E]) Subscribe(observer Observer[E]) Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	s.observers = append(s.observers, subscriber[E]{id: s.nextID, observer: observer})
	return s.nextID
}

func (s *subject[E]) Unsubscribe(id Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, o := range s.observers {
		if o.id == id {
			s.observers = append(s.observers[:i], s.observers[i+1:]...)
			return nil
		}
	}
	return ErrObserverNotFound
}

func (s *subject[E]) Notify(event E) {
	s.mu.RLock()
	observers := make([]subscriber[E], len(s.observers))
	copy(observers, s.observers)
	s.mu.RUnlock()

	for _, o := range observers {
		o.observer(event)
	}
}
