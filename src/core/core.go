package core

import "fmt"

// Mode identifies what kind of capture a request asks for.
type Mode string

const (
	ModeRegion Mode = "region"
	ModeScreen Mode = "screen"
	ModeWindow Mode = "window"
)

// ParseMode validates a mode string coming from the CLI or the wire.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeRegion, ModeScreen, ModeWindow:
		return Mode(s), nil
	}
	return "", fmt.Errorf("unknown capture mode %q", s)
}

// Rect is a rectangle in global desktop coordinates.
type Rect struct {
	X int `json:"x"`
	Y int `json:"y"`
	W int `json:"w"`
	H int `json:"h"`
}

// Normalize flips negative width/height so W and H are non-negative.
func (r Rect) Normalize() Rect {
	if r.W < 0 {
		r.X += r.W
		r.W = -r.W
	}
	if r.H < 0 {
		r.Y += r.H
		r.H = -r.H
	}
	return r
}

// Empty reports whether the rectangle has no area.
func (r Rect) Empty() bool { return r.W <= 0 || r.H <= 0 }

// Contains reports whether the point (px, py) lies inside r.
func (r Rect) Contains(px, py int) bool {
	return px >= r.X && py >= r.Y && px < r.X+r.W && py < r.Y+r.H
}

// OutputInfo describes one monitor in the global desktop space.
type OutputInfo struct {
	// Name is the compositor-provided connector name (e.g. "DP-1").
	Name string `json:"name"`

	X int `json:"x"`
	Y int `json:"y"`

	Width  int `json:"width"`
	Height int `json:"height"`

	// Scale factor (1, 2, ...). Logical coordinates times Scale give pixels.
	Scale int `json:"scale"`
}

// Bounds returns the output geometry as a Rect in logical coordinates.
func (o OutputInfo) Bounds() Rect {
	return Rect{X: o.X, Y: o.Y, W: o.Width, H: o.Height}
}

// WindowInfo describes one toplevel window candidate for window capture.
type WindowInfo struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Rect  Rect   `json:"rect"`
}
