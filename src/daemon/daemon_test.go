package daemon

import (
	"context"
	"image"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"capit/src/config"
	"capit/src/core"
	"capit/src/ipc"
	"capit/src/overlay"
)

type fakeBackend struct {
	captures atomic.Int32
}

func (f *fakeBackend) Outputs() ([]core.OutputInfo, error) {
	return []core.OutputInfo{
		{Name: "display-0", Width: 1920, Height: 1080, Scale: 1},
		{Name: "display-1", X: 1920, Width: 1280, Height: 1024, Scale: 1},
	}, nil
}

func (f *fakeBackend) CaptureRect(r core.Rect) (*image.RGBA, error) {
	f.captures.Add(1)
	return image.NewRGBA(image.Rect(0, 0, r.W, r.H)), nil
}

type fakeToolkit struct {
	events  chan overlay.Input
	windows []core.WindowInfo

	mu       sync.Mutex
	mapped   bool
	unmapped bool
	mappedCh chan struct{}
}

func newFakeToolkit() *fakeToolkit {
	return &fakeToolkit{events: make(chan overlay.Input, 8), mappedCh: make(chan struct{})}
}

func (tk *fakeToolkit) Map(core.Mode) error {
	tk.mu.Lock()
	defer tk.mu.Unlock()
	if !tk.mapped {
		tk.mapped = true
		close(tk.mappedCh)
	}
	return nil
}

func (tk *fakeToolkit) Render(core.Rect) {}

func (tk *fakeToolkit) Windows() []core.WindowInfo { return tk.windows }

func (tk *fakeToolkit) Events() <-chan overlay.Input { return tk.events }

func (tk *fakeToolkit) Unmap() {
	tk.mu.Lock()
	defer tk.mu.Unlock()
	tk.unmapped = true
}

func (tk *fakeToolkit) isUnmapped() bool {
	tk.mu.Lock()
	defer tk.mu.Unlock()
	return tk.unmapped
}

// startLoop runs a daemon loop over fakes and returns the socket path and
// the most recent toolkit handed to a session.
func startLoop(t *testing.T, backend *fakeBackend) (string, func() *fakeToolkit) {
	t.Helper()

	t.Setenv("CAPIT_DIR", t.TempDir())

	var mu sync.Mutex
	var last *fakeToolkit
	factory := func(config.Config, []core.OutputInfo) (overlay.Toolkit, error) {
		mu.Lock()
		defer mu.Unlock()
		last = newFakeToolkit()
		return last, nil
	}

	cfg := config.Default()
	l := New(cfg, backend, factory)
	l.notify = func(bool, string) {}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	sock := filepath.Join(t.TempDir(), "capit.sock")
	go func() { _ = l.Run(ctx, sock) }()

	dialable(t, sock)
	return sock, func() *fakeToolkit {
		mu.Lock()
		defer mu.Unlock()
		return last
	}
}

func dialable(t *testing.T, sock string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		cl, err := ipc.Dial(sock)
		if err == nil {
			cl.Close()
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("daemon never became dialable")
}

func recvEvent(t *testing.T, cl *ipc.Client) *ipc.Event {
	t.Helper()
	msg, err := cl.Recv()
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	ev, ok := msg.(*ipc.Event)
	if !ok {
		t.Fatalf("Recv = %#v, want *Event", msg)
	}
	return ev
}

func waitMapped(t *testing.T, tk *fakeToolkit) {
	t.Helper()
	select {
	case <-tk.mappedCh:
	case <-time.After(2 * time.Second):
		t.Fatal("overlay never mapped")
	}
}

func awaitingToolkit(t *testing.T, lastTk func() *fakeToolkit) *fakeToolkit {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if tk := lastTk(); tk != nil {
			return tk
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("no toolkit was created")
	return nil
}

func TestRegionCaptureEndToEnd(t *testing.T) {
	backend := &fakeBackend{}
	sock, lastTk := startLoop(t, backend)

	cl, err := ipc.Dial(sock)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer cl.Close()

	if err := cl.Send(ipc.Request{Type: ipc.TypeCapture, Mode: core.ModeRegion}); err != nil {
		t.Fatalf("Send: %v", err)
	}

	tk := awaitingToolkit(t, lastTk)
	waitMapped(t, tk)

	tk.events <- overlay.Input{Kind: overlay.PointerDown, X: 100, Y: 50}
	tk.events <- overlay.Input{Kind: overlay.PointerMove, X: 300, Y: 200}
	tk.events <- overlay.Input{Kind: overlay.PointerUp, X: 300, Y: 200}

	var sawSelection bool
	for {
		ev := recvEvent(t, cl)
		if ev.Kind == ipc.EventSelection {
			sawSelection = true
			continue
		}
		if ev.Kind != ipc.EventCompleted {
			t.Fatalf("terminal event = %+v, want completed", ev)
		}
		if !strings.HasSuffix(ev.Path, ".png") {
			t.Errorf("path %q does not end in .png", ev.Path)
		}
		break
	}
	if !sawSelection {
		t.Error("no selection progress event before terminal")
	}
	if !tk.isUnmapped() {
		t.Error("overlay still mapped after capture")
	}
	if backend.captures.Load() != 1 {
		t.Errorf("backend invoked %d times, want 1", backend.captures.Load())
	}
}

func TestSecondCaptureIsBusy(t *testing.T) {
	sock, lastTk := startLoop(t, &fakeBackend{})

	first, err := ipc.Dial(sock)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer first.Close()
	if err := first.Send(ipc.Request{Type: ipc.TypeCapture, Mode: core.ModeRegion}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	tk := awaitingToolkit(t, lastTk)
	waitMapped(t, tk)

	second, err := ipc.Dial(sock)
	if err != nil {
		t.Fatalf("Dial second: %v", err)
	}
	defer second.Close()
	if err := second.Send(ipc.Request{Type: ipc.TypeCapture, Mode: core.ModeScreen}); err != nil {
		t.Fatalf("Send second: %v", err)
	}

	msg, err := second.Recv()
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	er, ok := msg.(*ipc.ErrorReply)
	if !ok || er.Kind != ipc.ErrKindBusy {
		t.Fatalf("second reply = %#v, want busy error", msg)
	}

	// The original session is unaffected: completing it still works.
	tk.events <- overlay.Input{Kind: overlay.PointerDown, X: 0, Y: 0}
	tk.events <- overlay.Input{Kind: overlay.PointerUp, X: 200, Y: 100}
	for {
		ev := recvEvent(t, first)
		if ev.Kind == ipc.EventCompleted {
			break
		}
		if ev.Kind != ipc.EventSelection {
			t.Fatalf("unexpected event %+v", ev)
		}
	}
}

func TestDisconnectDuringSelectionCancels(t *testing.T) {
	backend := &fakeBackend{}
	sock, lastTk := startLoop(t, backend)

	cl, err := ipc.Dial(sock)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	if err := cl.Send(ipc.Request{Type: ipc.TypeCapture, Mode: core.ModeRegion}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	tk := awaitingToolkit(t, lastTk)
	waitMapped(t, tk)

	cl.Close()

	deadline := time.Now().Add(2 * time.Second)
	for !tk.isUnmapped() {
		if time.Now().After(deadline) {
			t.Fatal("overlay not torn down after client disconnect")
		}
		time.Sleep(10 * time.Millisecond)
	}
	if backend.captures.Load() != 0 {
		t.Errorf("backend invoked after cancelled session")
	}

	// The slot is free again.
	next, err := ipc.Dial(sock)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer next.Close()
	if err := next.Send(ipc.Request{Type: ipc.TypeCapture, Mode: core.ModeScreen, Output: "display-0"}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if ev := recvEvent(t, next); ev.Kind != ipc.EventCompleted {
		t.Errorf("post-cancel capture event = %+v", ev)
	}
}

func TestScreenUnknownOutputFailsWithoutBackend(t *testing.T) {
	backend := &fakeBackend{}
	sock, _ := startLoop(t, backend)

	cl, err := ipc.Dial(sock)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer cl.Close()
	if err := cl.Send(ipc.Request{Type: ipc.TypeCapture, Mode: core.ModeScreen, Output: "DP-9"}); err != nil {
		t.Fatalf("Send: %v", err)
	}

	ev := recvEvent(t, cl)
	if ev.Kind != ipc.EventFailed || ev.Reason != ipc.ReasonUnknownOutput {
		t.Errorf("event = %+v, want failed unknown_output", ev)
	}
	if backend.captures.Load() != 0 {
		t.Errorf("backend invoked for unknown output")
	}
}

func TestScreenExplicitOutputCompletes(t *testing.T) {
	sock, _ := startLoop(t, &fakeBackend{})

	cl, err := ipc.Dial(sock)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer cl.Close()
	if err := cl.Send(ipc.Request{Type: ipc.TypeCapture, Mode: core.ModeScreen, Output: "display-1"}); err != nil {
		t.Fatalf("Send: %v", err)
	}

	ev := recvEvent(t, cl)
	if ev.Kind != ipc.EventCompleted || !strings.HasSuffix(ev.Path, ".png") {
		t.Errorf("event = %+v, want completed png", ev)
	}
}

func TestStatusAndOutputsBypassSessionExclusivity(t *testing.T) {
	sock, lastTk := startLoop(t, &fakeBackend{})

	capt, err := ipc.Dial(sock)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer capt.Close()
	if err := capt.Send(ipc.Request{Type: ipc.TypeCapture, Mode: core.ModeRegion}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	waitMapped(t, awaitingToolkit(t, lastTk))

	q, err := ipc.Dial(sock)
	if err != nil {
		t.Fatalf("Dial query: %v", err)
	}
	defer q.Close()
	if err := q.Send(ipc.Request{Type: ipc.TypeStatus}); err != nil {
		t.Fatalf("Send status: %v", err)
	}
	msg, err := q.Recv()
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	st, ok := msg.(*ipc.StatusReply)
	if !ok || !st.Running || st.ActiveMode != core.ModeRegion {
		t.Errorf("status = %#v", msg)
	}

	q2, err := ipc.Dial(sock)
	if err != nil {
		t.Fatalf("Dial outputs: %v", err)
	}
	defer q2.Close()
	if err := q2.Send(ipc.Request{Type: ipc.TypeOutputs}); err != nil {
		t.Fatalf("Send outputs: %v", err)
	}
	msg, err = q2.Recv()
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	or, ok := msg.(*ipc.OutputsReply)
	if !ok || len(or.Outputs) != 2 {
		t.Errorf("outputs = %#v", msg)
	}
}

func TestCancelRequestCancelsActiveSession(t *testing.T) {
	sock, lastTk := startLoop(t, &fakeBackend{})

	capt, err := ipc.Dial(sock)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer capt.Close()
	if err := capt.Send(ipc.Request{Type: ipc.TypeCapture, Mode: core.ModeRegion}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	waitMapped(t, awaitingToolkit(t, lastTk))

	canceller, err := ipc.Dial(sock)
	if err != nil {
		t.Fatalf("Dial canceller: %v", err)
	}
	defer canceller.Close()
	if err := canceller.Send(ipc.Request{Type: ipc.TypeCancel}); err != nil {
		t.Fatalf("Send cancel: %v", err)
	}
	msg, err := canceller.Recv()
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if _, ok := msg.(*ipc.OKReply); !ok {
		t.Errorf("cancel reply = %#v, want ok", msg)
	}

	if ev := recvEvent(t, capt); ev.Kind != ipc.EventCancelled {
		t.Errorf("capture client event = %+v, want cancelled", ev)
	}
}

func TestCancelWithoutSessionIsError(t *testing.T) {
	sock, _ := startLoop(t, &fakeBackend{})

	cl, err := ipc.Dial(sock)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer cl.Close()
	if err := cl.Send(ipc.Request{Type: ipc.TypeCancel}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	msg, err := cl.Recv()
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if er, ok := msg.(*ipc.ErrorReply); !ok || er.Kind != ipc.ErrKindBadRequest {
		t.Errorf("reply = %#v, want bad_request", msg)
	}
}
