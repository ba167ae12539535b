package overlay

import (
	"testing"

	"capit/src/core"
)

var testOutputs = []core.OutputInfo{
	{Name: "display-0", Width: 1920, Height: 1080, Scale: 1},
	{Name: "display-1", X: 1920, Width: 1280, Height: 1024, Scale: 2},
}

func TestRegionBeginEntersAwaitingInput(t *testing.T) {
	s := NewSession(core.ModeRegion, "", testOutputs, nil)

	if s.Phase() != PhaseCreated {
		t.Fatalf("initial phase = %s", s.Phase())
	}
	step := s.Begin()
	if step.Phase != PhaseAwaitingInput || s.Phase() != PhaseAwaitingInput {
		t.Errorf("Begin phase = %s", step.Phase)
	}
}

func TestRegionDragConfirms(t *testing.T) {
	s := NewSession(core.ModeRegion, "", testOutputs, nil)
	s.Begin()

	step := s.HandleInput(Input{Kind: PointerDown, X: 100, Y: 50})
	if step.Selection == nil {
		t.Fatal("pointer down produced no selection progress")
	}

	step = s.HandleInput(Input{Kind: PointerMove, X: 300, Y: 200})
	if step.Selection == nil || step.Selection.W != 200 || step.Selection.H != 150 {
		t.Fatalf("move selection = %+v", step.Selection)
	}

	step = s.HandleInput(Input{Kind: PointerUp, X: 300, Y: 200})
	if step.Phase != PhaseConfirmed {
		t.Fatalf("release phase = %s", step.Phase)
	}
	want := core.Rect{X: 100, Y: 50, W: 200, H: 150}
	if step.Target != want {
		t.Errorf("target = %+v, want %+v", step.Target, want)
	}
}

func TestRegionBackwardsDragIsNormalized(t *testing.T) {
	s := NewSession(core.ModeRegion, "", testOutputs, nil)
	s.Begin()

	s.HandleInput(Input{Kind: PointerDown, X: 300, Y: 200})
	step := s.HandleInput(Input{Kind: PointerUp, X: 100, Y: 50})

	want := core.Rect{X: 100, Y: 50, W: 200, H: 150}
	if step.Phase != PhaseConfirmed || step.Target != want {
		t.Errorf("step = %+v, want confirmed %+v", step, want)
	}
}

func TestRegionTinyDragKeepsWaiting(t *testing.T) {
	s := NewSession(core.ModeRegion, "", testOutputs, nil)
	s.Begin()

	s.HandleInput(Input{Kind: PointerDown, X: 10, Y: 10})
	step := s.HandleInput(Input{Kind: PointerUp, X: 12, Y: 11})

	if step.Phase != PhaseAwaitingInput {
		t.Errorf("tiny drag phase = %s, want still awaiting input", step.Phase)
	}
}

func TestRegionDragClampedToDesktop(t *testing.T) {
	s := NewSession(core.ModeRegion, "", testOutputs, nil)
	s.Begin()

	s.HandleInput(Input{Kind: PointerDown, X: 3000, Y: 900})
	step := s.HandleInput(Input{Kind: PointerMove, X: 9000, Y: 9000})

	sel := step.Selection
	if sel == nil {
		t.Fatal("no selection")
	}
	if sel.X+sel.W > 3200 || sel.Y+sel.H > 1080 {
		t.Errorf("selection %+v exceeds desktop bounds", *sel)
	}
}

func TestScreenExplicitOutputConfirmsImmediately(t *testing.T) {
	s := NewSession(core.ModeScreen, "display-1", testOutputs, nil)

	step := s.Begin()
	if step.Phase != PhaseConfirmed {
		t.Fatalf("phase = %s, want confirmed", step.Phase)
	}
	// display-1 has scale 2: logical geometry doubled.
	want := core.Rect{X: 3840, Y: 0, W: 2560, H: 2048}
	if step.Target != want {
		t.Errorf("target = %+v, want %+v", step.Target, want)
	}
}

func TestScreenUnknownOutputFailsWithoutInteraction(t *testing.T) {
	s := NewSession(core.ModeScreen, "DP-9", testOutputs, nil)

	step := s.Begin()
	if step.Phase != PhaseFailed || step.Reason != "unknown_output" {
		t.Errorf("step = %+v, want failed unknown_output", step)
	}
}

func TestScreenInteractivePick(t *testing.T) {
	s := NewSession(core.ModeScreen, "", testOutputs, nil)

	if step := s.Begin(); step.Phase != PhaseAwaitingInput {
		t.Fatalf("Begin phase = %s", step.Phase)
	}
	step := s.HandleInput(Input{Kind: Pick, Name: "display-0"})
	if step.Phase != PhaseConfirmed {
		t.Fatalf("pick phase = %s", step.Phase)
	}
	if step.Target != (core.Rect{X: 0, Y: 0, W: 1920, H: 1080}) {
		t.Errorf("target = %+v", step.Target)
	}
}

func TestWindowPick(t *testing.T) {
	windows := []core.WindowInfo{
		{ID: "win-1", Title: "editor", Rect: core.Rect{X: 40, Y: 60, W: 800, H: 600}},
	}
	s := NewSession(core.ModeWindow, "", testOutputs, windows)

	if step := s.Begin(); step.Phase != PhaseAwaitingInput {
		t.Fatalf("Begin phase = %s", step.Phase)
	}
	step := s.HandleInput(Input{Kind: Pick, Name: "win-1"})
	if step.Phase != PhaseConfirmed || step.Target != windows[0].Rect {
		t.Errorf("step = %+v", step)
	}
}

func TestWindowWithoutCandidatesFails(t *testing.T) {
	s := NewSession(core.ModeWindow, "", testOutputs, nil)

	if step := s.Begin(); step.Phase != PhaseFailed {
		t.Errorf("Begin phase = %s, want failed", step.Phase)
	}
}

func TestCancelGesture(t *testing.T) {
	s := NewSession(core.ModeRegion, "", testOutputs, nil)
	s.Begin()
	s.HandleInput(Input{Kind: PointerDown, X: 10, Y: 10})

	step := s.HandleInput(Input{Kind: Cancel})
	if step.Phase != PhaseCancelled || !s.Phase().Terminal() {
		t.Errorf("cancel phase = %s", step.Phase)
	}
}

func TestDisconnectCancelsFromAwaitingInput(t *testing.T) {
	s := NewSession(core.ModeRegion, "", testOutputs, nil)
	s.Begin()

	step := s.HandleInput(Input{Kind: Disconnect})
	if step.Phase != PhaseCancelled {
		t.Errorf("disconnect phase = %s", step.Phase)
	}

	// A terminal session stays terminal.
	if step := s.HandleInput(Input{Kind: PointerDown}); step.Phase != PhaseCancelled {
		t.Errorf("post-terminal input phase = %s", step.Phase)
	}
}

func TestColourArg(t *testing.T) {
	if got := colourArg(0xFF0A84FF); got != "0A84FFFF" {
		t.Errorf("colourArg = %q", got)
	}
}
