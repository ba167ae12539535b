// Package bar implements the floating capture bar: a small window whose
// buttons drive capture requests against the daemon. Its colours come from
// the theme snapshot the daemon shares at handshake, so every client renders
// consistently.
package bar

import (
	"fmt"
	"image/color"
	"log"
	"sync/atomic"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/app"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/theme"
	"fyne.io/fyne/v2/widget"

	"capit/src/core"
	"capit/src/ipc"
)

// Exit codes of the capit-bar process. Dismissing the bar without capturing
// exits 2, which the capit wrapper treats as a normal close.
const (
	ExitCaptured  = 0
	ExitDismissed = 2
)

// Bar is the floating capture bar.
type Bar struct {
	socket string
	theme  ipc.ThemeSnapshot

	app    fyne.App
	win    fyne.Window
	status *widget.Label

	buttons  []*widget.Button
	captured atomic.Bool
}

// New connects to the daemon to fetch the theme snapshot and builds the bar
// window. The probe connection is closed immediately; each button click dials
// its own connection.
func New(socketPath string) (*Bar, error) {
	cl, err := ipc.Dial(socketPath)
	if err != nil {
		return nil, err
	}
	snap := cl.Theme()
	cl.Close()

	b := &Bar{socket: socketPath, theme: snap}
	b.buildUI()
	return b, nil
}

func (b *Bar) buildUI() {
	b.app = app.New()
	b.app.Settings().SetTheme(&barTheme{base: theme.DefaultTheme(), snap: b.theme})

	b.win = b.app.NewWindow("capit")
	b.win.SetFixedSize(true)

	b.status = widget.NewLabel("")

	region := widget.NewButton("Region", func() { b.capture(core.ModeRegion, "") })
	screen := widget.NewButton("Screen", func() { b.capture(core.ModeScreen, "") })
	window := widget.NewButton("Window", func() { b.capture(core.ModeWindow, "") })
	region.Importance = widget.HighImportance
	b.buttons = []*widget.Button{region, screen, window}

	b.win.SetContent(container.NewVBox(
		container.NewHBox(region, screen, window),
		b.status,
	))
}

// Run shows the bar and blocks until it is closed, returning the process
// exit code.
func (b *Bar) Run() int {
	b.win.ShowAndRun()
	if b.captured.Load() {
		return ExitCaptured
	}
	return ExitDismissed
}

// capture fires one capture request. The bar hides for the duration so it
// does not end up in the shot.
func (b *Bar) capture(mode core.Mode, output string) {
	b.setBusy(true)
	b.win.Hide()

	go func() {
		msg := b.runCapture(mode, output)
		fyne.Do(func() {
			b.win.Show()
			b.setBusy(false)
			b.status.SetText(msg)
		})
	}()
}

// runCapture performs the request exchange off the UI goroutine and returns
// the status line to display.
func (b *Bar) runCapture(mode core.Mode, output string) string {
	cl, err := ipc.Dial(b.socket)
	if err != nil {
		return fmt.Sprintf("error: %v", err)
	}
	defer cl.Close()

	if err := cl.Send(ipc.Request{Type: ipc.TypeCapture, Mode: mode, Output: output}); err != nil {
		return fmt.Sprintf("error: %v", err)
	}

	for {
		msg, err := cl.Recv()
		if err != nil {
			return fmt.Sprintf("error: %v", err)
		}
		switch m := msg.(type) {
		case *ipc.Event:
			if !m.Terminal() {
				continue
			}
			switch m.Kind {
			case ipc.EventCompleted:
				b.captured.Store(true)
				return fmt.Sprintf("saved: %s", m.Path)
			case ipc.EventCancelled:
				return "cancelled"
			case ipc.EventFailed:
				return fmt.Sprintf("failed: %s", m.Message)
			}
		case *ipc.ErrorReply:
			if m.Kind == ipc.ErrKindBusy {
				return "daemon busy"
			}
			return fmt.Sprintf("error: %s", m.Message)
		default:
			log.Printf("unexpected reply %T", msg)
			return "error: unexpected reply"
		}
	}
}

func (b *Bar) setBusy(busy bool) {
	for _, btn := range b.buttons {
		if busy {
			btn.Disable()
		} else {
			btn.Enable()
		}
	}
}

// barTheme overrides the primary and background colours with the daemon's
// snapshot and forces the variant when the theme mode is explicit.
type barTheme struct {
	base fyne.Theme
	snap ipc.ThemeSnapshot
}

func (t *barTheme) Color(name fyne.ThemeColorName, variant fyne.ThemeVariant) color.Color {
	switch t.snap.Mode {
	case "dark":
		variant = theme.VariantDark
	case "light":
		variant = theme.VariantLight
	}
	switch name {
	case theme.ColorNamePrimary:
		return argbColor(t.snap.AccentColour)
	case theme.ColorNameBackground:
		return argbColor(t.snap.BarBackgroundColour)
	}
	return t.base.Color(name, variant)
}

func (t *barTheme) Font(style fyne.TextStyle) fyne.Resource { return t.base.Font(style) }

func (t *barTheme) Icon(name fyne.ThemeIconName) fyne.Resource { return t.base.Icon(name) }

func (t *barTheme) Size(name fyne.ThemeSizeName) float32 { return t.base.Size(name) }

func argbColor(v uint32) color.NRGBA {
	return color.NRGBA{
		R: uint8(v >> 16),
		G: uint8(v >> 8),
		B: uint8(v),
		A: uint8(v >> 24),
	}
}
