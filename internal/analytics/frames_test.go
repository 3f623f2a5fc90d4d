package analytics

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFrameCounterIgnoresGarbageWithoutError(t *testing.T) {
	fc := NewFrameCounter()
	fc.Feed([]byte{0x00, 0x01, 0x02, 0x03})
	snap := fc.Snapshot()
	assert.Equal(t, 0, snap.TotalFrames)
}

func TestFrameCounterSnapshotIsIndependentCopy(t *testing.T) {
	fc := NewFrameCounter()
	snap1 := fc.Snapshot()
	snap1.ByType[9999] = 1
	snap2 := fc.Snapshot()
	assert.NotContains(t, snap2.ByType, 9999)
}
