// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Trust Dental Contributors

package convo

import (
	"sync"
	"time"
)

// Store holds live conversations keyed by conversation ID. State lives for
// the session only; there is no cross-session persistence.
//
// Acquire hands out a conversation with its per-conversation lock held, so
// turns for one conversation are processed strictly sequentially while
// distinct conversations proceed in parallel.
type Store struct {
	mu          sync.Mutex
	convos      map[string]*entry
	driftWindow int
	clock       func() time.Time
}

type entry struct {
	mu   sync.Mutex
	conv *Conversation
}

// NewStore creates an empty conversation store. driftWindow sizes each new
// conversation's topic-drift window.
func NewStore(driftWindow int) *Store {
	return &Store{
		convos:      make(map[string]*entry),
		driftWindow: driftWindow,
		clock:       time.Now,
	}
}

// WithClock overrides the time source, for tests.
func (s *Store) WithClock(clock func() time.Time) *Store {
	s.clock = clock
	return s
}

// Acquire returns the conversation for id, creating it on first use, with
// its turn lock held. The caller must invoke release when the turn is done.
func (s *Store) Acquire(id string) (conv *Conversation, release func()) {
	s.mu.Lock()
	e, ok := s.convos[id]
	if !ok {
		e = &entry{conv: NewConversation(id, s.driftWindow, s.clock())}
		s.convos[id] = e
	}
	s.mu.Unlock()

	e.mu.Lock()
	return e.conv, e.mu.Unlock
}

// End discards a conversation's state. Subsequent messages with the same id
// start a fresh conversation.
func (s *Store) End(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.convos, id)
}

// Len returns the number of live conversations.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.convos)
}
