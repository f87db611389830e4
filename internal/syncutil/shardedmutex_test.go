package syncutil

import (
	"sync"
	"testing"
)

func TestShardedMutex_MutualExclusion(t *testing.T) {
	var sm ShardedMutex
	counter := 0

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := sm.Lock("txn_abc")
			counter++
			unlock()
		}()
	}
	wg.Wait()

	if counter != 100 {
		t.Fatalf("expected 100 increments, got %d", counter)
	}
}

func TestShardedMutex_Reacquire(t *testing.T) {
	var sm ShardedMutex

	unlock := sm.Lock("txn_one")
	unlock()

	// Same key must be acquirable again after release.
	unlock = sm.Lock("txn_one")
	unlock()
}
