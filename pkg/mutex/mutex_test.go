package mutex

import (
	"sync"
	"testing"
)

func TestKeyedMutex_SerializesSameKey(t *testing.T) {
	var km KeyedMutex[int64]
	var wg sync.WaitGroup

	counter := 0
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			km.Lock(42)
			counter++
			km.Unlock(42)
		}()
	}
	wg.Wait()

	if counter != 100 {
		t.Errorf("counter = %d, want 100", counter)
	}
	if n := km.Len(); n != 0 {
		t.Errorf("Len() = %d after all unlocks, want 0", n)
	}
}

func TestKeyedMutex_IndependentKeys(t *testing.T) {
	var km KeyedMutex[string]

	km.Lock("a")
	done := make(chan struct{})
	go func() {
		km.Lock("b")
		km.Unlock("b")
		close(done)
	}()
	<-done
	km.Unlock("a")

	if n := km.Len(); n != 0 {
		t.Errorf("Len() = %d, want 0", n)
	}
}

func TestKeyedMutex_UnlockUnknownKey(t *testing.T) {
	var km KeyedMutex[int]
	km.Unlock(7)
}
