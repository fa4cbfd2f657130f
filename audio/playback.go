package audio

import (
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Player is a handle to one scheduled buffer.
type Player interface {
	// Stop halts playback immediately. Stopping a finished player is a no-op.
	Stop()
}

// Output is an audio output timeline.
type Output interface {
	// Now returns the current position of the output clock.
	Now() time.Duration
	// Schedule plays buf starting at the given clock position. onEnded is
	// called once playback finishes on its own; it is not called after Stop.
	Schedule(buf *Buffer, at time.Duration, onEnded func()) (Player, error)
}

// Scheduled describes where a chunk landed on the output timeline.
type Scheduled struct {
	ID       uint64
	Start    time.Duration
	Duration time.Duration
}

// Scheduler queues decoded chunks back-to-back on an Output and supports
// interruption. It is not safe for concurrent use; the owner must route
// playback-ended callbacks back to its own goroutine with WithDispatch.
type Scheduler struct {
	out        Output
	sampleRate int
	channels   int
	dispatch   func(func())

	nextStart time.Duration
	active    map[uint64]Player
	seq       uint64
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithDispatch routes playback-ended notifications through fn. The default
// runs them inline on whatever goroutine the Output uses.
func WithDispatch(fn func(func())) SchedulerOption {
	return func(s *Scheduler) {
		if fn != nil {
			s.dispatch = fn
		}
	}
}

// NewScheduler creates a scheduler on out.
func NewScheduler(out Output, opts ...SchedulerOption) *Scheduler {
	s := &Scheduler{
		out:        out,
		sampleRate: OutputSampleRate,
		channels:   1,
		dispatch:   func(fn func()) { fn() },
		active:     make(map[uint64]Player),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Enqueue decodes chunk and schedules it right after everything already
// queued, or at the current clock if the queue has drained. A malformed
// chunk is rejected without touching the timeline.
func (s *Scheduler) Enqueue(chunk EncodedChunk) (Scheduled, error) {
	raw, err := DecodeBytes(chunk.Data)
	if err != nil {
		return Scheduled{}, err
	}
	buf, err := PCM16ToFloat32(raw, s.sampleRate, s.channels)
	if err != nil {
		return Scheduled{}, err
	}

	start := max(s.nextStart, s.out.Now())
	s.seq++
	id := s.seq

	player, err := s.out.Schedule(buf, start, func() {
		s.dispatch(func() { s.Release(id) })
	})
	if err != nil {
		return Scheduled{}, errors.Wrap(err, "schedule playback")
	}

	s.active[id] = player
	dur := buf.Duration()
	s.nextStart = start + dur

	log.Trace().Uint64("id", id).Dur("start", start).Dur("duration", dur).Msg("🔊 Scheduled chunk")
	return Scheduled{ID: id, Start: start, Duration: dur}, nil
}

// Release forgets a handle whose playback has ended. Unknown ids are ignored.
func (s *Scheduler) Release(id uint64) {
	delete(s.active, id)
}

// Interrupt stops every active handle, clears the set and rewinds the
// cursor so the next chunk plays at the current clock.
func (s *Scheduler) Interrupt() {
	for id, p := range s.active {
		p.Stop()
		delete(s.active, id)
	}
	s.nextStart = 0
}

// Active returns the number of scheduled, unfinished handles.
func (s *Scheduler) Active() int {
	return len(s.active)
}

// NextStart returns the end of the scheduled timeline.
func (s *Scheduler) NextStart() time.Duration {
	return s.nextStart
}
