package playback

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/immxrtalbeast/audiosync/lib/logger/sl"
)

var ErrSinkFull = errors.New("sink queue full")

type pendingWrite struct {
	at      time.Time
	samples []float32
	gain    float64
}

// WriterSink writes gain-applied PCM16 little-endian samples to an io.Writer
// when their scheduled time arrives. Scheduled writes are played in the order
// they were accepted.
type WriterSink struct {
	w     io.Writer
	log   *slog.Logger
	queue chan pendingWrite
	sleep func(ctx context.Context, until time.Time) error
}

func NewWriterSink(w io.Writer, log *slog.Logger, capacity int) *WriterSink {
	if capacity <= 0 {
		capacity = 64
	}
	if log == nil {
		log = slog.Default()
	}
	return &WriterSink{
		w:     w,
		log:   log,
		queue: make(chan pendingWrite, capacity),
		sleep: sleepUntil,
	}
}

func (s *WriterSink) Schedule(at time.Time, samples []float32, _ Metadata, gain float64) error {
	select {
	case s.queue <- pendingWrite{at: at, samples: samples, gain: gain}:
		return nil
	default:
		return ErrSinkFull
	}
}

func (s *WriterSink) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case p := <-s.queue:
			if err := s.sleep(ctx, p.at); err != nil {
				return nil
			}
			if _, err := s.w.Write(EncodePCM16(p.samples, p.gain)); err != nil {
				s.log.Error("failed to write samples", sl.Err(err))
				return err
			}
		}
	}
}

// EncodePCM16 applies gain and converts samples to PCM16 little-endian.
func EncodePCM16(samples []float32, gain float64) []byte {
	out := make([]byte, len(samples)*bytesPerSample16)
	for i, v := range samples {
		scaled := clampSample(float32(float64(v) * gain))
		binary.LittleEndian.PutUint16(out[i*bytesPerSample16:], uint16(int16(scaled*32767)))
	}
	return out
}

func sleepUntil(ctx context.Context, until time.Time) error {
	d := time.Until(until)
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
