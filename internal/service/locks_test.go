package service

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestKeyedMutex_SerializesPerKey(t *testing.T) {
	km := newKeyedMutex()

	var mu sync.Mutex
	counters := map[string]int{}

	var wg sync.WaitGroup
	for _, key := range []string{"a", "b"} {
		for i := 0; i < 50; i++ {
			wg.Add(1)
			go func(k string) {
				defer wg.Done()
				unlock := km.Lock(k)
				defer unlock()
				mu.Lock()
				counters[k]++
				mu.Unlock()
			}(key)
		}
	}
	wg.Wait()

	require.Equal(t, 50, counters["a"])
	require.Equal(t, 50, counters["b"])
}

func TestKeyedMutex_ReleasesEntries(t *testing.T) {
	km := newKeyedMutex()

	unlock := km.Lock("chat-1")
	unlock()

	km.mu.Lock()
	defer km.mu.Unlock()
	require.Empty(t, km.locks, "released keys must not accumulate")
}
