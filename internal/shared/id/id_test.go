package id

import (
	"crypto/rand"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTypedIDs(t *testing.T) {
	tests := []struct {
		name   string
		id     string
		prefix string
	}{
		{"session", NewSessionID().String(), SessionPrefix},
		{"request", NewRequestID().String(), RequestPrefix},
		{"client", NewClientID().String(), ClientPrefix},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, strings.HasPrefix(tt.id, tt.prefix+"_"))
			assert.True(t, HasPrefix(tt.id, tt.prefix))
			assert.Len(t, tt.id, len(tt.prefix)+1+26)
		})
	}
}

func TestSplit(t *testing.T) {
	g := NewGenerator(rand.Reader)
	s := g.WithPrefix("x")

	prefix, u, err := Split(s)
	require.NoError(t, err)
	assert.Equal(t, "x", prefix)
	assert.Equal(t, s, "x_"+u.String())

	_, _, err = Split("nounderscore")
	assert.Error(t, err)
	_, _, err = Split("sess_not-a-ulid")
	assert.Error(t, err)
	assert.False(t, HasPrefix("sess_not-a-ulid", SessionPrefix))
}

func TestTimestamp(t *testing.T) {
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	g := NewGenerator(rand.Reader)
	g.now = func() time.Time { return fixed }

	ts, err := Timestamp(g.WithPrefix(SessionPrefix))
	require.NoError(t, err)
	assert.True(t, fixed.Equal(ts))
}

func TestMonotonicWithinMillisecond(t *testing.T) {
	fixed := time.Now()
	g := NewGenerator(rand.Reader)
	g.now = func() time.Time { return fixed }

	ids := make([]string, 100)
	for i := range ids {
		ids[i] = g.WithPrefix(SessionPrefix)
	}
	assert.True(t, sort.StringsAreSorted(ids))
}

func TestConcurrentGenerationIsUnique(t *testing.T) {
	const workers, perWorker = 8, 200

	var mu sync.Mutex
	seen := make(map[SessionID]bool)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				id := NewSessionID()
				mu.Lock()
				seen[id] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, workers*perWorker)
}
