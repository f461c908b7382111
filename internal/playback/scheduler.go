// Package playback schedules received chunks against a local clock so that
// every device plays the same timeline position at the same moment.
package playback

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync/atomic"
	"time"

	"github.com/immxrtalbeast/audiosync/internal/domain"
	"github.com/immxrtalbeast/audiosync/lib/logger/sl"
)

// Sink accepts decoded samples to be played at a given local time. An error
// means the samples were not accepted and the chunk stays queued.
type Sink interface {
	Schedule(at time.Time, samples []float32, meta Metadata, gain float64) error
}

type Settings struct {
	JitterAllowance time.Duration
	MinBuffer       time.Duration
	MaxDelay        time.Duration
	FallBehind      time.Duration
	DiscardSlack    time.Duration
	SafetyMargin    time.Duration

	Decoder Decoder
	Clock   func() time.Time
	// OnDiagnostic receives ErrDecodeFailure and ErrBacklog reports.
	OnDiagnostic func(err error)
	QueueSize    int
}

func (s *Settings) setDefaults() {
	if s.JitterAllowance <= 0 {
		s.JitterAllowance = 50 * time.Millisecond
	}
	if s.MinBuffer <= 0 {
		s.MinBuffer = 100 * time.Millisecond
	}
	if s.MaxDelay <= 0 {
		s.MaxDelay = time.Second
	}
	if s.FallBehind <= 0 {
		s.FallBehind = 500 * time.Millisecond
	}
	if s.DiscardSlack <= 0 {
		s.DiscardSlack = 100 * time.Millisecond
	}
	if s.SafetyMargin <= 0 {
		s.SafetyMargin = 50 * time.Millisecond
	}
	if s.Decoder == nil {
		s.Decoder = PCMDecoder{}
	}
	if s.Clock == nil {
		s.Clock = time.Now
	}
	if s.QueueSize <= 0 {
		s.QueueSize = 256
	}
}

type command struct {
	chunk Chunk
	reset bool
}

// Scheduler owns the jitter buffer. Queue and origin are only touched by the
// goroutine running Run; other goroutines go through Enqueue and Reset.
type Scheduler struct {
	sink     Sink
	log      *slog.Logger
	settings Settings

	gain     atomic.Uint64
	cmds     chan command
	stopped  chan struct{}
	accepted atomic.Uint64

	queue     []Chunk
	origin    time.Time
	hasOrigin bool
}

func NewScheduler(sink Sink, log *slog.Logger, settings Settings) *Scheduler {
	settings.setDefaults()
	if log == nil {
		log = slog.Default()
	}
	s := &Scheduler{
		sink:     sink,
		log:      log,
		settings: settings,
		cmds:     make(chan command, settings.QueueSize),
		stopped:  make(chan struct{}),
	}
	s.SetGain(1)
	return s
}

// SetGain changes the output gain; it applies to chunks scheduled from now on.
func (s *Scheduler) SetGain(g float64) {
	if g < 0 {
		g = 0
	}
	s.gain.Store(math.Float64bits(g))
}

func (s *Scheduler) Gain() float64 {
	return math.Float64frombits(s.gain.Load())
}

// Enqueue hands a chunk to the scheduler. It never blocks: when the inbound
// queue is full the chunk is dropped and reported as backlog.
func (s *Scheduler) Enqueue(c Chunk) {
	select {
	case s.cmds <- command{chunk: c}:
	default:
		s.diagnose(fmt.Errorf("%w: inbound queue full, chunk %d dropped", domain.ErrBacklog, c.Timestamp))
	}
}

// Reset clears the queue and the timeline origin, typically on a source
// change. Chunks enqueued after Reset returns are kept.
func (s *Scheduler) Reset() {
	select {
	case s.cmds <- command{reset: true}:
	case <-s.stopped:
	}
}

// Scheduled returns how many chunks the sink has accepted.
func (s *Scheduler) Scheduled() uint64 {
	return s.accepted.Load()
}

func (s *Scheduler) Run(ctx context.Context) error {
	defer close(s.stopped)

	var (
		timer  *time.Timer
		timerC <-chan time.Time
	)
	arm := func(d time.Duration) {
		if timer != nil {
			timer.Stop()
		}
		timer = time.NewTimer(d)
		timerC = timer.C
	}
	disarm := func() {
		if timer != nil {
			timer.Stop()
		}
		timer, timerC = nil, nil
	}
	defer disarm()

	for {
		select {
		case <-ctx.Done():
			return nil
		case cmd := <-s.cmds:
			if cmd.reset {
				s.reset()
				disarm()
				continue
			}
			s.push(cmd.chunk, s.settings.Clock())
			if timerC == nil {
				arm(0)
			}
		case <-timerC:
			timer, timerC = nil, nil
			if next, ok := s.process(s.settings.Clock()); ok {
				arm(next)
			}
		}
	}
}

func (s *Scheduler) reset() {
	s.queue = s.queue[:0]
	s.hasOrigin = false
	s.origin = time.Time{}
	s.log.Debug("playback reset")
}

// push inserts c keeping the queue ordered by timestamp, ties by arrival. The
// first chunk after a reset fixes the origin.
func (s *Scheduler) push(c Chunk, now time.Time) {
	if !s.hasOrigin {
		s.origin = now.Add(-time.Duration(c.Timestamp) * time.Millisecond)
		s.hasOrigin = true
	}

	i := sort.Search(len(s.queue), func(i int) bool {
		return s.queue[i].Timestamp > c.Timestamp
	})
	s.queue = append(s.queue, Chunk{})
	copy(s.queue[i+1:], s.queue[i:])
	s.queue[i] = c
}

// process evaluates the head of the queue once. It returns the delay until
// the next evaluation, or false when the queue is empty.
func (s *Scheduler) process(now time.Time) (time.Duration, bool) {
	if len(s.queue) == 0 {
		return 0, false
	}

	elapsed := now.Sub(s.origin)
	head := s.queue[0]
	rawDelay := s.rawDelay(head, elapsed)

	if rawDelay < -s.settings.FallBehind {
		dropped := 0
		for len(s.queue) > 0 && s.rawDelay(s.queue[0], elapsed) < -s.settings.DiscardSlack {
			s.queue = s.queue[1:]
			dropped++
		}
		s.diagnose(fmt.Errorf("%w: %d chunks, head %d ms at elapsed %d ms",
			domain.ErrBacklog, dropped, head.Timestamp, elapsed.Milliseconds()))
		return 0, len(s.queue) > 0
	}

	delay := rawDelay
	if delay < 0 {
		delay = 0
	}
	if delay > s.settings.MaxDelay {
		delay = s.settings.MaxDelay
	}

	samples, err := s.settings.Decoder.Decode(head.Payload, head.Meta)
	if err != nil {
		s.queue = s.queue[1:]
		s.diagnose(fmt.Errorf("chunk %d: %w", head.Timestamp, err))
		return 0, len(s.queue) > 0
	}

	if err := s.sink.Schedule(now.Add(delay), samples, head.Meta, s.Gain()); err != nil {
		s.log.Warn("sink rejected chunk, retrying", slog.Int64("timestamp", head.Timestamp), sl.Err(err))
		return s.settings.SafetyMargin, true
	}
	s.queue = s.queue[1:]
	s.accepted.Add(1)

	next := delay + Duration(samples, head.Meta) - s.settings.SafetyMargin
	if next < 0 {
		next = 0
	}
	// Stays armed after the queue drains.
	return next, true
}

func (s *Scheduler) rawDelay(c Chunk, elapsed time.Duration) time.Duration {
	buffer := time.Duration(c.Meta.BufferSizeHintMs)*time.Millisecond + s.settings.JitterAllowance
	if buffer < s.settings.MinBuffer {
		buffer = s.settings.MinBuffer
	}
	target := time.Duration(c.Timestamp) * time.Millisecond
	return target - elapsed + buffer
}

func (s *Scheduler) diagnose(err error) {
	s.log.Debug("playback diagnostic", sl.Err(err))
	if s.settings.OnDiagnostic != nil {
		s.settings.OnDiagnostic(err)
	}
}
