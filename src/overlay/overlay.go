// Package overlay runs one interactive selection lifecycle. The Session
// state machine consumes typed input events and is the single source of
// truth for session progress; rendering and event collection live behind the
// Toolkit boundary.
package overlay

import (
	"fmt"

	"capit/src/core"
)

// Minimum selection size; smaller drags are treated as stray clicks.
const (
	MinW = 8
	MinH = 8
)

// InputKind enumerates the typed events a session consumes.
type InputKind int

const (
	PointerDown InputKind = iota
	PointerMove
	PointerUp

	// Pick is a discrete choice of an enumerated candidate (output name for
	// screen capture, window id for window capture).
	Pick

	// Cancel is the explicit cancel gesture, or the overlay surface being
	// destroyed externally.
	Cancel

	// Disconnect means the requesting client went away.
	Disconnect
)

// Input is one event delivered to the session, in global desktop
// coordinates for pointer kinds.
type Input struct {
	Kind InputKind
	X, Y int

	// Name carries the picked output name or window id.
	Name string
}

// Phase is the session's position in its lifecycle.
type Phase string

const (
	PhaseCreated       Phase = "created"
	PhaseAwaitingInput Phase = "awaiting_input"
	PhaseConfirmed     Phase = "confirmed"
	PhaseFinalizing    Phase = "finalizing"
	PhaseCompleted     Phase = "completed"
	PhaseCancelled     Phase = "cancelled"
	PhaseFailed        Phase = "failed"
)

// Terminal reports whether no further transition can occur.
func (p Phase) Terminal() bool {
	return p == PhaseCompleted || p == PhaseCancelled || p == PhaseFailed
}

// Step describes what a transition produced. The event loop turns these
// into IPC events and capture jobs.
type Step struct {
	Phase Phase

	// Selection is non-nil when the live selection rectangle changed and a
	// progress event should go to the client.
	Selection *core.Rect

	// Target is the resolved capture rectangle, valid when Phase is
	// PhaseConfirmed.
	Target core.Rect

	// Reason and Message describe the failure when Phase is PhaseFailed.
	Reason  string
	Message string
}

// Session is one interactive capture attempt. It must only be touched from
// the daemon event-loop goroutine.
type Session struct {
	mode         core.Mode
	outputFilter string
	outputs      []core.OutputInfo
	windows      []core.WindowInfo

	phase   Phase
	desktop core.Rect

	// Region drag state.
	dragging         bool
	anchorX, anchorY int
	sel              core.Rect
	haveSel          bool
}

// NewSession prepares a session in the Created phase. outputs are the
// enumerated displays; windows are toplevel candidates for window capture.
func NewSession(mode core.Mode, outputFilter string, outputs []core.OutputInfo, windows []core.WindowInfo) *Session {
	s := &Session{
		mode:         mode,
		outputFilter: outputFilter,
		outputs:      outputs,
		windows:      windows,
		phase:        PhaseCreated,
	}
	s.desktop = desktopBounds(outputs)
	return s
}

// Mode returns the capture mode this session serves.
func (s *Session) Mode() core.Mode { return s.mode }

// Phase returns the current lifecycle phase.
func (s *Session) Phase() Phase { return s.phase }

// Begin validates the request and leaves the Created phase. An explicit
// output target for screen capture resolves immediately to Confirmed; an
// unknown output fails without any overlay or capture. Everything else
// enters AwaitingInput.
func (s *Session) Begin() Step {
	if s.phase != PhaseCreated {
		return s.fail("overlay", fmt.Sprintf("Begin called in phase %s", s.phase))
	}
	if len(s.outputs) == 0 {
		return s.fail("overlay", "no outputs available")
	}

	if s.outputFilter != "" {
		out, ok := findOutput(s.outputs, s.outputFilter)
		if !ok {
			return s.failUnknownOutput()
		}
		if s.mode == core.ModeScreen {
			// Target fully determined, no interaction needed.
			s.phase = PhaseConfirmed
			return Step{Phase: PhaseConfirmed, Target: scaledBounds(out)}
		}
	}

	if s.mode == core.ModeWindow && len(s.windows) == 0 {
		return s.fail("overlay", "no windows available to pick")
	}

	s.phase = PhaseAwaitingInput
	return Step{Phase: PhaseAwaitingInput}
}

// HandleInput advances the machine by one typed event. Events arriving
// outside AwaitingInput are ignored, except Disconnect which cancels from
// any non-terminal phase.
func (s *Session) HandleInput(in Input) Step {
	if in.Kind == Disconnect {
		// The session outlives its client once a target is confirmed; only
		// a still-interactive session cancels on disconnect.
		if s.phase == PhaseCreated || s.phase == PhaseAwaitingInput {
			return s.CancelNow()
		}
		return Step{Phase: s.phase}
	}
	if s.phase != PhaseAwaitingInput {
		return Step{Phase: s.phase}
	}

	switch in.Kind {
	case Cancel:
		return s.CancelNow()
	case Pick:
		return s.handlePick(in.Name)
	case PointerDown, PointerMove, PointerUp:
		if s.mode != core.ModeRegion {
			return Step{Phase: s.phase}
		}
		return s.handlePointer(in)
	}
	return Step{Phase: s.phase}
}

func (s *Session) handlePick(name string) Step {
	switch s.mode {
	case core.ModeScreen:
		out, ok := findOutput(s.outputs, name)
		if !ok {
			return s.failUnknownOutput()
		}
		s.phase = PhaseConfirmed
		return Step{Phase: PhaseConfirmed, Target: scaledBounds(out)}

	case core.ModeWindow:
		for _, w := range s.windows {
			if w.ID == name {
				s.phase = PhaseConfirmed
				return Step{Phase: PhaseConfirmed, Target: w.Rect}
			}
		}
		return s.fail("overlay", fmt.Sprintf("picked window %q no longer exists", name))
	}
	return Step{Phase: s.phase}
}

func (s *Session) handlePointer(in Input) Step {
	switch in.Kind {
	case PointerDown:
		s.dragging = true
		s.anchorX, s.anchorY = in.X, in.Y
		s.sel = core.Rect{X: in.X, Y: in.Y}
		s.haveSel = true
		return Step{Phase: s.phase, Selection: s.selection()}

	case PointerMove:
		if !s.dragging {
			return Step{Phase: s.phase}
		}
		s.sel = dragRect(s.anchorX, s.anchorY, in.X, in.Y, s.desktop)
		return Step{Phase: s.phase, Selection: s.selection()}

	case PointerUp:
		if !s.dragging {
			return Step{Phase: s.phase}
		}
		s.dragging = false
		s.sel = dragRect(s.anchorX, s.anchorY, in.X, in.Y, s.desktop)
		if s.sel.W < MinW || s.sel.H < MinH {
			// Stray click, keep waiting for a real drag.
			s.haveSel = false
			return Step{Phase: s.phase}
		}
		s.phase = PhaseConfirmed
		return Step{Phase: PhaseConfirmed, Target: s.sel}
	}
	return Step{Phase: s.phase}
}

func (s *Session) selection() *core.Rect {
	r := s.sel
	return &r
}

// CancelNow drives any non-terminal phase to Cancelled.
func (s *Session) CancelNow() Step {
	if s.phase.Terminal() {
		return Step{Phase: s.phase}
	}
	s.phase = PhaseCancelled
	return Step{Phase: PhaseCancelled}
}

// StartFinalizing marks the capture backend invocation in progress. Only
// valid from Confirmed.
func (s *Session) StartFinalizing() {
	if s.phase == PhaseConfirmed {
		s.phase = PhaseFinalizing
	}
}

// Complete records the terminal success state.
func (s *Session) Complete() Step {
	s.phase = PhaseCompleted
	return Step{Phase: PhaseCompleted}
}

// Fail records a terminal failure with a typed reason.
func (s *Session) Fail(reason, message string) Step {
	return s.fail(reason, message)
}

func (s *Session) fail(reason, message string) Step {
	s.phase = PhaseFailed
	return Step{Phase: PhaseFailed, Reason: reason, Message: message}
}

func (s *Session) failUnknownOutput() Step {
	known := make([]string, 0, len(s.outputs))
	for _, o := range s.outputs {
		known = append(known, o.Name)
	}
	return s.fail("unknown_output",
		fmt.Sprintf("unknown output %q, available: %v", s.outputFilter, known))
}

// dragRect builds the normalized selection between the anchor and the
// cursor, clamped to the desktop.
func dragRect(ax, ay, cx, cy int, desktop core.Rect) core.Rect {
	r := core.Rect{X: ax, Y: ay, W: cx - ax, H: cy - ay}.Normalize()
	return clampRect(r, desktop)
}

func clampRect(r, bounds core.Rect) core.Rect {
	if bounds.Empty() {
		return r
	}
	if r.X < bounds.X {
		r.W -= bounds.X - r.X
		r.X = bounds.X
	}
	if r.Y < bounds.Y {
		r.H -= bounds.Y - r.Y
		r.Y = bounds.Y
	}
	if r.X+r.W > bounds.X+bounds.W {
		r.W = bounds.X + bounds.W - r.X
	}
	if r.Y+r.H > bounds.Y+bounds.H {
		r.H = bounds.Y + bounds.H - r.Y
	}
	if r.W < 0 {
		r.W = 0
	}
	if r.H < 0 {
		r.H = 0
	}
	return r
}

func findOutput(outputs []core.OutputInfo, name string) (core.OutputInfo, bool) {
	for _, o := range outputs {
		if o.Name == name {
			return o, true
		}
	}
	return core.OutputInfo{}, false
}

// scaledBounds converts logical output geometry to pixel coordinates.
func scaledBounds(o core.OutputInfo) core.Rect {
	s := o.Scale
	if s < 1 {
		s = 1
	}
	return core.Rect{X: o.X * s, Y: o.Y * s, W: o.Width * s, H: o.Height * s}
}

func desktopBounds(outputs []core.OutputInfo) core.Rect {
	var b core.Rect
	for i, o := range outputs {
		r := o.Bounds()
		if i == 0 {
			b = r
			continue
		}
		if r.X < b.X {
			b.W += b.X - r.X
			b.X = r.X
		}
		if r.Y < b.Y {
			b.H += b.Y - r.Y
			b.Y = r.Y
		}
		if r.X+r.W > b.X+b.W {
			b.W = r.X + r.W - b.X
		}
		if r.Y+r.H > b.Y+b.H {
			b.H = r.Y + r.H - b.Y
		}
	}
	return b
}
