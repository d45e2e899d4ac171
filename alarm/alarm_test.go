package alarm

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// syncExecutor runs posted callbacks inline on the alarm goroutine, making
// ordering deterministic for the tests below.
type syncExecutor struct{}

func (syncExecutor) Post(f func()) { f() }

func TestAlarmFiresInOrder(t *testing.T) {
	a := New(syncExecutor{})
	a.Run()
	defer a.Stop()

	var mu sync.Mutex
	var fired []int

	var wg sync.WaitGroup
	wg.Add(3)

	now := time.Now()
	a.Add(now.Add(30*time.Millisecond), func() {
		mu.Lock()
		fired = append(fired, 3)
		mu.Unlock()
		wg.Done()
	})
	a.Add(now.Add(10*time.Millisecond), func() {
		mu.Lock()
		fired = append(fired, 1)
		mu.Unlock()
		wg.Done()
	})
	a.Add(now.Add(20*time.Millisecond), func() {
		mu.Lock()
		fired = append(fired, 2)
		mu.Unlock()
		wg.Done()
	})

	waitTimeout(t, &wg, time.Second)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []int{1, 2, 3}, fired)
}

func TestAlarmAddAfterStopIsNoop(t *testing.T) {
	a := New(syncExecutor{})
	a.Run()
	a.Stop()

	fired := false
	a.Add(time.Now(), func() { fired = true })

	time.Sleep(20 * time.Millisecond)
	require.False(t, fired)
}

func waitTimeout(t *testing.T, wg *sync.WaitGroup, timeout time.Duration) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		t.Fatal("timed out waiting for alarms to fire")
	}
}
