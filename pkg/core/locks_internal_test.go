package core

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUserLocksSerializePerUser(t *testing.T) {
	locks := newUserLocks()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		active  int
		maxSeen int
		counter int
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := locks.lock("user_001")
			defer unlock()

			mu.Lock()
			active++
			if active > maxSeen {
				maxSeen = active
			}
			mu.Unlock()

			counter++

			mu.Lock()
			active--
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, maxSeen)
	assert.Equal(t, 50, counter)
	assert.Equal(t, 0, locks.size(), "idle entries are dropped")
}

func TestUserLocksIndependentUsers(t *testing.T) {
	locks := newUserLocks()

	unlockA := locks.lock("alice")
	done := make(chan struct{})
	go func() {
		unlock := locks.lock("bob")
		unlock()
		close(done)
	}()
	<-done
	assert.Equal(t, 1, locks.size())
	unlockA()
	assert.Equal(t, 0, locks.size())
}
