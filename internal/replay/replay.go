// Package replay records and plays back telemetry snapshots. A recording
// is a zstd-compressed stream of msgpack-encoded frames.
package replay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/signalsfoundry/globe-overlay/internal/scene"
	"github.com/signalsfoundry/globe-overlay/model"
)

// Frame is one snapshot arrival. Kind says which of the record slices is
// meaningful; an empty slice is a valid snapshot with no records.
type Frame struct {
	At         time.Time               `msgpack:"at"`
	Kind       scene.Kind              `msgpack:"kind"`
	Aircraft   []model.AircraftRecord  `msgpack:"aircraft,omitempty"`
	Satellites []model.SatelliteRecord `msgpack:"satellites,omitempty"`
}

// Recorder appends frames to a recording.
type Recorder struct {
	zw     *zstd.Encoder
	enc    *msgpack.Encoder
	closer io.Closer
}

// NewRecorder writes a recording to w. Close flushes the stream but does
// not close w.
func NewRecorder(w io.Writer) (*Recorder, error) {
	zw, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("create zstd writer: %w", err)
	}
	return &Recorder{zw: zw, enc: msgpack.NewEncoder(zw)}, nil
}

// Create writes a recording to a new file at path.
func Create(path string) (*Recorder, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create recording: %w", err)
	}
	r, err := NewRecorder(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	r.closer = f
	return r, nil
}

// Write appends one frame.
func (r *Recorder) Write(f Frame) error {
	if err := r.enc.Encode(&f); err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}
	return nil
}

// Close flushes the compressed stream and closes the file opened by Create.
func (r *Recorder) Close() error {
	err := r.zw.Close()
	if r.closer != nil {
		err = errors.Join(err, r.closer.Close())
	}
	return err
}

// Player reads frames from a recording in order.
type Player struct {
	zr     *zstd.Decoder
	dec    *msgpack.Decoder
	closer io.Closer
}

// NewPlayer reads a recording from r.
func NewPlayer(r io.Reader) (*Player, error) {
	zr, err := zstd.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("create zstd reader: %w", err)
	}
	return &Player{zr: zr, dec: msgpack.NewDecoder(zr)}, nil
}

// Open reads a recording from the file at path.
func Open(path string) (*Player, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open recording: %w", err)
	}
	p, err := NewPlayer(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	p.closer = f
	return p, nil
}

// Next returns the next frame, or io.EOF after the last one.
func (p *Player) Next() (Frame, error) {
	var f Frame
	if err := p.dec.Decode(&f); err != nil {
		if errors.Is(err, io.EOF) {
			return Frame{}, io.EOF
		}
		return Frame{}, fmt.Errorf("decode frame: %w", err)
	}
	return f, nil
}

// Play delivers every remaining frame to fn, waiting between frames for
// the recorded gap divided by speed. A speed of zero does not wait. Play
// returns nil at the end of the recording.
func (p *Player) Play(ctx context.Context, speed float64, fn func(Frame)) error {
	var prev time.Time
	for {
		f, err := p.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}

		if speed > 0 && !prev.IsZero() && f.At.After(prev) {
			wait := time.Duration(float64(f.At.Sub(prev)) / speed)
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		} else if err := ctx.Err(); err != nil {
			return err
		}
		prev = f.At

		fn(f)
	}
}

// Close releases the decoder and closes the file opened by Open.
func (p *Player) Close() error {
	p.zr.Close()
	if p.closer != nil {
		return p.closer.Close()
	}
	return nil
}
