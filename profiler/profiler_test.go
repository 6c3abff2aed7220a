package profiler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStageProfiler_Record(t *testing.T) {
	p := New()
	p.Record("detect", 30*time.Millisecond)
	p.Record("detect", 10*time.Millisecond)
	p.Record("load", 5*time.Millisecond)

	snap := p.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, "detect", snap[0].Name)
	assert.Equal(t, int64(2), snap[0].Count)
	assert.Equal(t, 10*time.Millisecond, snap[0].Min)
	assert.Equal(t, 30*time.Millisecond, snap[0].Max)
	assert.Equal(t, 20*time.Millisecond, snap[0].Mean())
	assert.Equal(t, time.Duration(0), TimeTracker{}.Mean())
}

func TestStageProfiler_StartOperation(t *testing.T) {
	p := New()
	done := p.StartOperation("segment")
	done()

	snap := p.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, int64(1), snap[0].Count)
	assert.GreaterOrEqual(t, snap[0].Total, time.Duration(0))
}
