package store

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/visgate/control-plane/pkg/models"
)

func entryAt(ts time.Time, msg string) models.LogEntry {
	return models.LogEntry{Timestamp: ts.UTC().Format(time.RFC3339), Level: "INFO", Message: msg}
}

func TestLogRingAppendAndSince(t *testing.T) {
	r := NewLogRing(10, time.Minute)
	base := time.Now().Truncate(time.Second)
	r.Append("dep_1", entryAt(base, "one"), entryAt(base.Add(2*time.Second), "two"))

	all := r.Since("dep_1", time.Time{})
	require.Len(t, all, 2)

	newer := r.Since("dep_1", base.Add(time.Second))
	require.Len(t, newer, 1)
	assert.Equal(t, "two", newer[0].Message)
}

func TestLogRingBounded(t *testing.T) {
	r := NewLogRing(3, time.Minute)
	base := time.Now()
	for i := 0; i < 5; i++ {
		r.Append("dep_1", entryAt(base.Add(time.Duration(i)*time.Second), fmt.Sprintf("line-%d", i)))
	}
	got := r.Since("dep_1", time.Time{})
	require.Len(t, got, 3)
	assert.Equal(t, "line-2", got[0].Message)
	assert.Equal(t, "line-4", got[2].Message)
}

func TestLogRingTTLExpiry(t *testing.T) {
	r := NewLogRing(10, time.Minute)
	now := time.Now()
	r.now = func() time.Time { return now }
	r.Append("dep_1", entryAt(now, "one"))

	r.now = func() time.Time { return now.Add(2 * time.Minute) }
	assert.Empty(t, r.Since("dep_1", time.Time{}))
}

func TestLogRingDrop(t *testing.T) {
	r := NewLogRing(10, time.Minute)
	r.Append("dep_1", entryAt(time.Now(), "one"))
	r.Drop("dep_1")
	assert.Empty(t, r.Since("dep_1", time.Time{}))
}

func TestLogRingUnknownDeployment(t *testing.T) {
	assert.Nil(t, NewLogRing(10, time.Minute).Since("dep_none", time.Time{}))
}
