package overlay

import (
	"fmt"
	"log"
	"os/exec"
	"strings"
	"sync"

	"capit/src/config"
	"capit/src/core"
)

// Toolkit is the rendering/input boundary for one session. Map shows the
// overlay surfaces and starts delivering inputs on Events; Unmap tears the
// surfaces down. Unmap must be called before the capture backend runs so the
// selection UI never ends up in the shot.
type Toolkit interface {
	Map(mode core.Mode) error
	Render(sel core.Rect)
	Windows() []core.WindowInfo
	Events() <-chan Input
	Unmap()
}

// Factory creates a toolkit per session.
type Factory func(cfg config.Config, outputs []core.OutputInfo) (Toolkit, error)

// NewSelectorToolkit returns the production factory, which drives the
// compositor's selection UI through the slurp selector utility and
// translates its results into typed inputs.
func NewSelectorToolkit() Factory {
	return func(cfg config.Config, outputs []core.OutputInfo) (Toolkit, error) {
		return &selectorToolkit{cfg: cfg, events: make(chan Input, 8)}, nil
	}
}

// selectorToolkit shells out to slurp. Slurp owns the overlay surfaces and
// reports one final selection, which Map translates into a synthetic
// down/move/up (region) or pick (screen) sequence for the state machine.
type selectorToolkit struct {
	cfg    config.Config
	events chan Input

	mu   sync.Mutex
	cmd  *exec.Cmd
	done bool
}

func (tk *selectorToolkit) Map(mode core.Mode) error {
	accent := colourArg(tk.cfg.AccentColour)

	var cmd *exec.Cmd
	switch mode {
	case core.ModeRegion:
		cmd = exec.Command("slurp", "-b", "00000055", "-c", accent, "-f", "%x %y %w %h")
	case core.ModeScreen:
		cmd = exec.Command("slurp", "-o", "-f", "%o")
	default:
		return fmt.Errorf("selector toolkit cannot serve mode %s", mode)
	}

	tk.mu.Lock()
	tk.cmd = cmd
	tk.mu.Unlock()

	go tk.run(mode, cmd)
	return nil
}

func (tk *selectorToolkit) run(mode core.Mode, cmd *exec.Cmd) {
	out, err := cmd.Output()
	if err != nil {
		// Exit status 1 is slurp's cancel (escape / right click).
		tk.emit(Input{Kind: Cancel})
		return
	}

	fields := strings.Fields(strings.TrimSpace(string(out)))
	switch mode {
	case core.ModeRegion:
		var x, y, w, h int
		if len(fields) != 4 {
			tk.emit(Input{Kind: Cancel})
			return
		}
		if _, err := fmt.Sscanf(strings.Join(fields, " "), "%d %d %d %d", &x, &y, &w, &h); err != nil {
			log.Printf("overlay: unparsable selector output %q: %v", out, err)
			tk.emit(Input{Kind: Cancel})
			return
		}
		tk.emit(Input{Kind: PointerDown, X: x, Y: y})
		tk.emit(Input{Kind: PointerMove, X: x + w, Y: y + h})
		tk.emit(Input{Kind: PointerUp, X: x + w, Y: y + h})

	case core.ModeScreen:
		if len(fields) != 1 {
			tk.emit(Input{Kind: Cancel})
			return
		}
		tk.emit(Input{Kind: Pick, Name: fields[0]})
	}
}

func (tk *selectorToolkit) emit(in Input) {
	tk.mu.Lock()
	closed := tk.done
	tk.mu.Unlock()
	if closed {
		return
	}
	select {
	case tk.events <- in:
	default:
		log.Printf("overlay: dropping input %v, event queue full", in.Kind)
	}
}

func (tk *selectorToolkit) Render(core.Rect) {
	// The selector process renders its own selection.
}

func (tk *selectorToolkit) Windows() []core.WindowInfo {
	// Toplevel enumeration is not available through the selector utility.
	return nil
}

func (tk *selectorToolkit) Events() <-chan Input { return tk.events }

func (tk *selectorToolkit) Unmap() {
	tk.mu.Lock()
	defer tk.mu.Unlock()
	if tk.done {
		return
	}
	tk.done = true
	if tk.cmd != nil && tk.cmd.Process != nil {
		_ = tk.cmd.Process.Kill()
	}
}

// colourArg formats an ARGB colour as slurp's RRGGBBAA.
func colourArg(argb uint32) string {
	return fmt.Sprintf("%06XFF", argb&0x00FFFFFF)
}
