// Package ledstrip drives WS2812-style addressable LEDs from an RMT TX
// channel. A Strip is a tinygo drivers.Displayer, so it plugs into the usual
// graphics helpers:
//
//	s, _ := ledstrip.New(tx, ledstrip.Config{Width: 8, Height: 8})
//	s.SetPixel(0, 0, color.RGBA{R: 255})
//	err := s.Display()
//
// Fill and Fade work on any Canvas.
//
// The channel must run at 10 MHz or more and be enabled before Display.
package ledstrip

import (
	"context"
	"errors"
	"image/color"
	"time"

	"tinygo.org/x/drivers"

	"rmt-go/rmt"
	"rmt-go/rmt/encoder"
	"rmt-go/x/ramp"
)

// Errors returned by the driver.
var (
	ErrBounds = errors.New("ledstrip: pixel out of range")
	ErrSize   = errors.New("ledstrip: width and height must be positive")
)

// Config describes the strip layout. All fields are optional except Width.
type Config struct {
	// Width is the number of pixels per row; a plain strip is one row.
	Width int16
	// Height defaults to 1.
	Height int16
	// Serpentine reverses every other row, the common wiring of LED matrices.
	Serpentine bool
	// Timeout bounds Display. Default 100 ms.
	Timeout time.Duration
}

// Strip holds one frame of GRB data.
type Strip struct {
	tx  *rmt.TxChannel
	enc *encoder.LEDStripEncoder
	cfg Config
	buf []byte // 3 bytes per pixel, wire order
}

var _ Canvas = (*Strip)(nil)

// New creates a strip on tx. It does not touch the LEDs.
func New(tx *rmt.TxChannel, cfg Config) (*Strip, error) {
	if cfg.Height == 0 {
		cfg.Height = 1
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, ErrSize
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 100 * time.Millisecond
	}
	enc, err := encoder.NewLEDStripEncoder(tx.ResolutionHz())
	if err != nil {
		return nil, err
	}
	return &Strip{
		tx:  tx,
		enc: enc,
		cfg: cfg,
		buf: make([]byte, 3*int(cfg.Width)*int(cfg.Height)),
	}, nil
}

// Size returns the pixel grid.
func (s *Strip) Size() (x, y int16) { return s.cfg.Width, s.cfg.Height }

// SetPixel stores c for the next Display. Out-of-range pixels are ignored.
func (s *Strip) SetPixel(x, y int16, c color.RGBA) {
	i, ok := s.index(x, y)
	if !ok {
		return
	}
	s.buf[i] = c.G
	s.buf[i+1] = c.R
	s.buf[i+2] = c.B
}

// Pixel returns the stored colour.
func (s *Strip) Pixel(x, y int16) (color.RGBA, error) {
	i, ok := s.index(x, y)
	if !ok {
		return color.RGBA{}, ErrBounds
	}
	return color.RGBA{G: s.buf[i], R: s.buf[i+1], B: s.buf[i+2], A: 0xff}, nil
}

func (s *Strip) index(x, y int16) (int, bool) {
	if x < 0 || y < 0 || x >= s.cfg.Width || y >= s.cfg.Height {
		return 0, false
	}
	if s.cfg.Serpentine && y%2 == 1 {
		x = s.cfg.Width - 1 - x
	}
	return 3 * (int(y)*int(s.cfg.Width) + int(x)), true
}

// Clear blanks the frame buffer.
func (s *Strip) Clear() {
	clear(s.buf)
}

// Display sends the frame and waits until it is on the wire.
func (s *Strip) Display() error {
	frame := append([]byte(nil), s.buf...)
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Timeout)
	defer cancel()
	if err := rmt.Transmit(ctx, s.tx, s.enc, frame, rmt.TransmitConfig{}); err != nil {
		return err
	}
	return s.tx.WaitAllDone(s.cfg.Timeout)
}

// Canvas is a Displayer whose pixels can be read back, such as a Strip.
type Canvas interface {
	drivers.Displayer
	Pixel(x, y int16) (color.RGBA, error)
}

// Fill sets every pixel of d to c. Nothing is sent until d.Display.
func Fill(d drivers.Displayer, c color.RGBA) {
	w, h := d.Size()
	for y := int16(0); y < h; y++ {
		for x := int16(0); x < w; x++ {
			d.SetPixel(x, y, c)
		}
	}
}

// Fade blends every pixel of d towards c over dur, displaying each of steps
// intermediate frames. It stops early when ctx ends and returns ctx.Err().
func Fade(ctx context.Context, d Canvas, c color.RGBA, dur time.Duration, steps uint16) error {
	w, h := d.Size()
	from := make([]color.RGBA, 0, int(w)*int(h))
	for y := int16(0); y < h; y++ {
		for x := int16(0); x < w; x++ {
			p, err := d.Pixel(x, y)
			if err != nil {
				return err
			}
			from = append(from, p)
		}
	}

	var err error
	tick := func(step time.Duration) bool {
		t := time.NewTimer(step)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return false
		case <-t.C:
			return true
		}
	}
	set := func(level uint16) {
		if err != nil {
			return
		}
		for i, p := range from {
			x, y := int16(i%int(w)), int16(i/int(w))
			d.SetPixel(x, y, color.RGBA{
				R: blend(p.R, c.R, level),
				G: blend(p.G, c.G, level),
				B: blend(p.B, c.B, level),
				A: 0xff,
			})
		}
		err = d.Display()
	}
	if !ramp.Linear(0, 255, dur, steps, tick, set) {
		return ctx.Err()
	}
	return err
}

func blend(a, b uint8, level uint16) uint8 {
	return byte(int(a) + (int(b)-int(a))*int(level)/255)
}
