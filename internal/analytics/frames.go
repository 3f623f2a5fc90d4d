// Package analytics implements opt-in, off-the-hot-path RTCM message-type
// counting for probed or relayed streams. The relay core itself never
// decodes RTCM (spec.md §1 Non-goals, §9 "do not port the byte-by-byte RTCM
// framer"); this package exists purely for operator-facing analytics and
// is never wired into the Source Client's or Caster's broadcast path.
// Grounded on bramburn-go_ntrip/internal/rtk.Processor's use of
// go-gnss/rtcm/rtcm3 for frame parsing.
package analytics

import (
	"sync"

	"github.com/go-gnss/rtcm/rtcm3"
)

// FrameCounter tallies RTCM message types seen in a byte stream. It is safe
// for concurrent use. The Supervisor feeds it each relayed chunk from the
// Source Client's OnFrame hook, after Caster.Broadcast has written it.
type FrameCounter struct {
	mu     sync.Mutex
	parser *rtcm3.Parser
	counts map[int]int
	frames int
	errors int
}

// NewFrameCounter constructs an empty counter.
func NewFrameCounter() *FrameCounter {
	return &FrameCounter{
		parser: rtcm3.NewParser(),
		counts: make(map[int]int),
	}
}

// Feed appends raw bytes and tallies every complete RTCM3 frame found.
// Malformed frames are counted as errors and otherwise ignored; Feed never
// returns an error because analytics must never affect relay liveness.
func (f *FrameCounter) Feed(b []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.parser.Write(b)
	for {
		frame, err := f.parser.NextFrame()
		if err != nil {
			return
		}
		f.frames++
		msg, err := rtcm3.DeserializeMessage(frame.Data)
		if err != nil {
			f.errors++
			continue
		}
		f.counts[int(msg.Number())]++
	}
}

// Snapshot is a point-in-time view of FrameCounter's tallies.
type Snapshot struct {
	TotalFrames int
	ParseErrors int
	ByType      map[int]int
}

// Snapshot returns a copy of the current tallies.
func (f *FrameCounter) Snapshot() Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	byType := make(map[int]int, len(f.counts))
	for k, v := range f.counts {
		byType[k] = v
	}
	return Snapshot{
		TotalFrames: f.frames,
		ParseErrors: f.errors,
		ByType:      byType,
	}
}
