// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Trust Dental Contributors

package convo_test

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/trustdental/isaac/internal/convo"
)

func TestStoreCreatesOnFirstAcquire(t *testing.T) {
	t.Parallel()

	s := convo.NewStore(10)
	conv, release := s.Acquire("conv-1")
	require.NotNil(t, conv)
	assert.Equal(t, "conv-1", conv.ID)
	assert.Equal(t, convo.ModeSuccinct, conv.Mode)
	release()

	again, release2 := s.Acquire("conv-1")
	defer release2()
	assert.Same(t, conv, again)
	assert.Equal(t, 1, s.Len())
}

func TestStoreSerializesTurnsPerConversation(t *testing.T) {
	t.Parallel()

	s := convo.NewStore(10)

	const workers = 8
	const turnsEach = 25

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < turnsEach; j++ {
				conv, release := s.Acquire("shared")
				conv.Append(convo.Turn{Role: convo.RoleUser, Text: "x"})
				release()
			}
		}()
	}
	wg.Wait()

	conv, release := s.Acquire("shared")
	defer release()
	assert.Equal(t, workers*turnsEach, conv.Len())
}

func TestStoreIndependentConversations(t *testing.T) {
	t.Parallel()

	s := convo.NewStore(10)

	// Holding one conversation's lock must not block another's.
	a, releaseA := s.Acquire("a")
	defer releaseA()

	done := make(chan struct{})
	go func() {
		b, releaseB := s.Acquire("b")
		b.Append(convo.Turn{Role: convo.RoleUser, Text: "hello"})
		releaseB()
		close(done)
	}()
	<-done

	a.Append(convo.Turn{Role: convo.RoleUser, Text: "hi"})
	assert.Equal(t, 2, s.Len())
}

func TestStoreEndDiscardsState(t *testing.T) {
	t.Parallel()

	s := convo.NewStore(10)
	conv, release := s.Acquire("conv-1")
	conv.Strike.Lock()
	release()

	s.End("conv-1")

	fresh, release2 := s.Acquire("conv-1")
	defer release2()
	assert.False(t, fresh.Strike.Locked(), "new session must not inherit the old lock")
}
