// Package capture wraps raw pixel grabbing and PNG output. The Backend
// interface is the seam the daemon tests fake; the real implementation sits
// on top of the kbinani/screenshot display bindings.
package capture

import (
	"bytes"
	"fmt"
	"image"
	"image/png"
	"os"

	"github.com/kbinani/screenshot"

	"capit/src/core"
)

// Backend grabs pixels from the compositor.
type Backend interface {
	// Outputs enumerates active displays in global desktop coordinates.
	Outputs() ([]core.OutputInfo, error)

	// CaptureRect grabs the pixels of r. The overlay must be torn down
	// before calling this, or the selection UI ends up in the shot.
	CaptureRect(r core.Rect) (*image.RGBA, error)
}

// NewBackend returns the display-server backed implementation.
func NewBackend() Backend { return displayBackend{} }

type displayBackend struct{}

func (displayBackend) Outputs() ([]core.OutputInfo, error) {
	n := screenshot.NumActiveDisplays()
	if n == 0 {
		return nil, fmt.Errorf("no active displays")
	}

	outputs := make([]core.OutputInfo, 0, n)
	for i := 0; i < n; i++ {
		b := screenshot.GetDisplayBounds(i)
		outputs = append(outputs, core.OutputInfo{
			Name:   fmt.Sprintf("display-%d", i),
			X:      b.Min.X,
			Y:      b.Min.Y,
			Width:  b.Dx(),
			Height: b.Dy(),
			Scale:  1,
		})
	}
	return outputs, nil
}

func (displayBackend) CaptureRect(r core.Rect) (*image.RGBA, error) {
	if r.Empty() {
		return nil, fmt.Errorf("empty capture rect %+v", r)
	}
	img, err := screenshot.CaptureRect(image.Rect(r.X, r.Y, r.X+r.W, r.Y+r.H))
	if err != nil {
		return nil, fmt.Errorf("capture %dx%d at %d,%d: %w", r.W, r.H, r.X, r.Y, err)
	}
	return img, nil
}

// EncodePNG renders img to PNG bytes.
func EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

// WriteFile writes data to path, refusing to overwrite an existing file so a
// rapid capture can never clobber an earlier screenshot.
func WriteFile(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(path)
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}
	return nil
}

// OutputByName finds an output by its connector name.
func OutputByName(outputs []core.OutputInfo, name string) (core.OutputInfo, bool) {
	for _, o := range outputs {
		if o.Name == name {
			return o, true
		}
	}
	return core.OutputInfo{}, false
}

// DesktopBounds returns the union of all output rectangles.
func DesktopBounds(outputs []core.OutputInfo) core.Rect {
	if len(outputs) == 0 {
		return core.Rect{}
	}
	minX, minY := outputs[0].X, outputs[0].Y
	maxX := outputs[0].X + outputs[0].Width
	maxY := outputs[0].Y + outputs[0].Height
	for _, o := range outputs[1:] {
		if o.X < minX {
			minX = o.X
		}
		if o.Y < minY {
			minY = o.Y
		}
		if o.X+o.Width > maxX {
			maxX = o.X + o.Width
		}
		if o.Y+o.Height > maxY {
			maxY = o.Y + o.Height
		}
	}
	return core.Rect{X: minX, Y: minY, W: maxX - minX, H: maxY - minY}
}
