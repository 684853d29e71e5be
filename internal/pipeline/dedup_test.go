package pipeline

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCheckAndRegister(t *testing.T) {
	tracker := NewDedupTracker()

	assert.True(t, tracker.CheckAndRegister("Oak Hall"))
	assert.False(t, tracker.CheckAndRegister("Oak Hall"))

	// Normalized collisions
	assert.False(t, tracker.CheckAndRegister("oak hall"))
	assert.False(t, tracker.CheckAndRegister("  Oak   Hall  "))
	assert.False(t, tracker.CheckAndRegister("OAK HALL"))

	assert.True(t, tracker.CheckAndRegister("Grand Hall"))
	assert.Equal(t, 2, tracker.Len())
}

func TestNormalizeKey(t *testing.T) {
	testCases := []struct {
		in   string
		want string
	}{
		{"The Grand Hall", "the grand hall"},
		{"the grand hall ", "the grand hall"},
		{"  THE\tGRAND\nHALL", "the grand hall"},
		{"", ""},
	}

	for _, tc := range testCases {
		assert.Equal(t, tc.want, NormalizeKey(tc.in), "input %q", tc.in)
	}
}

// Concurrent callers racing on the same key must produce exactly one
// successful registration.
func TestCheckAndRegisterConcurrent(t *testing.T) {
	tracker := NewDedupTracker()

	const workers = 32
	var wg sync.WaitGroup
	results := make(chan bool, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- tracker.CheckAndRegister("contested key")
		}()
	}
	wg.Wait()
	close(results)

	wins := 0
	for ok := range results {
		if ok {
			wins++
		}
	}
	assert.Equal(t, 1, wins)
}

func TestTrackerGrowsMonotonically(t *testing.T) {
	tracker := NewDedupTracker()
	for i := 0; i < 100; i++ {
		tracker.CheckAndRegister(fmt.Sprintf("key-%d", i))
		assert.Equal(t, i+1, tracker.Len())
	}
}
