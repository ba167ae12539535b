// Package daemon runs the capture coordinator: a single event-loop
// goroutine that owns all session state. IPC accept/read and capture jobs
// run elsewhere and post back in through channels, so overlay and session
// state are never touched concurrently.
package daemon

import (
	"context"
	"log"
	"os"

	"capit/src/capture"
	"capit/src/config"
	"capit/src/core"
	"capit/src/ipc"
	"capit/src/notification"
	"capit/src/overlay"
	"capit/src/paths"
	"capit/src/registry"
	"capit/src/worker"
)

// Loop is the single-threaded coordinator for capture sessions.
type Loop struct {
	cfg      config.Config
	theme    ipc.ThemeSnapshot
	backend  capture.Backend
	toolkit  overlay.Factory
	reg      *registry.Registry
	pool     *worker.Pool
	resolver *paths.OutputResolver
	srv      *ipc.Server
	outputs  []core.OutputInfo

	results chan worker.Result
	active  *activeSession

	// notify is swappable so tests run without a session bus.
	notify func(saved bool, text string)
}

// activeSession bundles the exclusive session with its client connection
// and overlay toolkit identifiers.
type activeSession struct {
	id      string
	session *overlay.Session
	conn    *ipc.Conn
	tk      overlay.Toolkit

	// gone disarms the disconnect channel after it fires once.
	gone bool
}

// New wires a loop from its collaborators.
func New(cfg config.Config, backend capture.Backend, toolkit overlay.Factory) *Loop {
	return &Loop{
		cfg:      cfg,
		theme:    themeSnapshot(cfg),
		backend:  backend,
		toolkit:  toolkit,
		reg:      registry.New(),
		pool:     worker.New(1, backend),
		resolver: paths.NewOutputResolver(),
		results:  make(chan worker.Result, 1),
		notify:   sendNotification,
	}
}

func themeSnapshot(cfg config.Config) ipc.ThemeSnapshot {
	return ipc.ThemeSnapshot{
		AccentColour:        cfg.AccentColour,
		BarBackgroundColour: cfg.BarBackgroundColour,
		Mode:                string(cfg.Theme),
	}
}

func sendNotification(saved bool, text string) {
	var err error
	if saved {
		err = notification.Saved(text)
	} else {
		err = notification.Failed(text)
	}
	if err != nil {
		log.Printf("daemon: notification failed: %v", err)
	}
}

// Run starts the IPC server on socketPath and processes requests until ctx
// is cancelled.
func (l *Loop) Run(ctx context.Context, socketPath string) error {
	outputs, err := l.backend.Outputs()
	if err != nil {
		log.Printf("daemon: output enumeration failed: %v", err)
	}
	l.outputs = outputs
	log.Printf("daemon: found %d outputs", len(outputs))

	l.srv = ipc.NewServer(l.theme)
	if err := l.srv.Start(ctx, socketPath); err != nil {
		return err
	}
	defer l.srv.Close()
	defer l.pool.Close()

	// Accept in the background so the loop never blocks on a slow client.
	reqCh := make(chan *ipc.Conn, 4)
	go func() {
		for {
			conn, err := l.srv.Next(ctx)
			if err != nil {
				close(reqCh)
				return
			}
			reqCh <- conn
		}
	}()

	for {
		var inputCh <-chan overlay.Input
		var disconnectCh <-chan struct{}
		if l.active != nil {
			if l.active.tk != nil {
				inputCh = l.active.tk.Events()
			}
			if !l.active.gone {
				disconnectCh = l.active.conn.Disconnected()
			}
		}

		select {
		case <-ctx.Done():
			l.shutdownActive()
			return ctx.Err()
		case conn, ok := <-reqCh:
			if !ok {
				l.shutdownActive()
				return nil
			}
			l.handleConn(ctx, conn)
		case in := <-inputCh:
			l.applyStep(ctx, l.active.session.HandleInput(in))
		case <-disconnectCh:
			l.active.gone = true
			log.Printf("daemon: client for session %s disconnected", l.active.id)
			l.applyStep(ctx, l.active.session.HandleInput(overlay.Input{Kind: overlay.Disconnect}))
		case res := <-l.results:
			l.handleResult(res)
		}
	}
}

func (l *Loop) handleConn(ctx context.Context, conn *ipc.Conn) {
	req := conn.Request()
	switch req.Type {
	case ipc.TypeOutputs:
		// One-shot query, no session involved.
		_ = conn.SendOutputs(ipc.OutputsReply{Outputs: l.outputs})
		conn.Close()

	case ipc.TypeStatus:
		reply := ipc.StatusReply{Running: true}
		if s, ok := l.reg.Active(); ok {
			reply.ActiveMode = s.Mode
		}
		_ = conn.SendStatus(reply)
		conn.Close()

	case ipc.TypeCancel:
		if l.active == nil {
			_ = conn.SendError(ipc.ErrKindBadRequest, "no active capture session")
		} else {
			l.applyStep(ctx, l.active.session.CancelNow())
			_ = conn.SendOK()
		}
		conn.Close()

	case ipc.TypeCapture:
		l.startCapture(ctx, conn, req)

	default:
		_ = conn.SendError(ipc.ErrKindBadRequest, "unknown request type "+req.Type)
		conn.Close()
	}
}

func (l *Loop) startCapture(ctx context.Context, conn *ipc.Conn, req ipc.Request) {
	mode, err := core.ParseMode(string(req.Mode))
	if err != nil {
		_ = conn.SendError(ipc.ErrKindBadRequest, err.Error())
		conn.Close()
		return
	}

	sess, err := l.reg.TryBegin(mode)
	if err != nil {
		log.Printf("daemon: rejecting %s request: %v", mode, err)
		_ = conn.SendError(ipc.ErrKindBusy, err.Error())
		conn.Close()
		return
	}

	tk, err := l.toolkit(l.cfg, l.outputs)
	if err != nil {
		l.reg.End(sess.ID, registry.OutcomeFailed)
		_ = conn.SendError(ipc.ErrKindInternal, "overlay toolkit unavailable: "+err.Error())
		conn.Close()
		return
	}

	session := overlay.NewSession(mode, req.Output, l.outputs, tk.Windows())
	l.active = &activeSession{id: sess.ID, session: session, conn: conn, tk: tk}

	step := session.Begin()
	if step.Phase == overlay.PhaseAwaitingInput {
		if mapErr := tk.Map(mode); mapErr != nil {
			step = session.Fail(ipc.ReasonOverlay, "overlay failed: "+mapErr.Error())
		}
	}
	l.applyStep(ctx, step)
}

// applyStep turns a state-machine transition into IPC events and capture
// work. It is the only place terminal events are emitted, which is what
// guarantees exactly one terminal message per session.
func (l *Loop) applyStep(ctx context.Context, step overlay.Step) {
	a := l.active
	if a == nil {
		return
	}

	if step.Selection != nil {
		a.tk.Render(*step.Selection)
		_ = a.conn.SendEvent(ipc.Event{SessionID: a.id, Kind: ipc.EventSelection, Rect: step.Selection})
	}

	switch step.Phase {
	case overlay.PhaseConfirmed:
		// Tear the overlay down before capturing so the selection UI is
		// not part of the shot.
		l.unmap()
		a.session.StartFinalizing()
		l.submitCapture(ctx, step.Target)

	case overlay.PhaseCancelled:
		l.unmap()
		_ = a.conn.SendEvent(ipc.Event{SessionID: a.id, Kind: ipc.EventCancelled})
		l.endActive(registry.OutcomeCancelled)

	case overlay.PhaseFailed:
		l.unmap()
		_ = a.conn.SendEvent(ipc.Event{
			SessionID: a.id,
			Kind:      ipc.EventFailed,
			Reason:    step.Reason,
			Message:   step.Message,
		})
		l.notify(false, step.Message)
		l.endActive(registry.OutcomeFailed)
	}
}

func (l *Loop) submitCapture(ctx context.Context, target core.Rect) {
	dir := paths.OutputDir(l.cfg)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		log.Printf("daemon: cannot create output dir %s: %v", dir, err)
	}
	path := l.resolver.Next(dir)

	submitted := l.pool.Submit(ctx, target, path, func(res worker.Result) {
		l.results <- res
	})
	if !submitted {
		// Single-slot queue full: cannot happen while sessions are
		// exclusive, but never leave a session without a terminal.
		a := l.active
		step := a.session.Fail(ipc.ReasonCapture, "capture queue full")
		_ = a.conn.SendEvent(ipc.Event{SessionID: a.id, Kind: ipc.EventFailed, Reason: step.Reason, Message: step.Message})
		l.endActive(registry.OutcomeFailed)
	}
}

func (l *Loop) handleResult(res worker.Result) {
	a := l.active
	if a == nil {
		log.Printf("daemon: dropping capture result for ended session")
		return
	}

	if a.session.Phase() == overlay.PhaseCancelled {
		// Cancel won the race against the worker; terminal already sent.
		return
	}

	if res.Err != nil {
		a.session.Fail(res.Stage, res.Err.Error())
		log.Printf("daemon: capture failed at %s: %v", res.Stage, res.Err)
		_ = a.conn.SendEvent(ipc.Event{
			SessionID: a.id,
			Kind:      ipc.EventFailed,
			Reason:    res.Stage,
			Message:   res.Err.Error(),
		})
		l.notify(false, res.Err.Error())
		l.endActive(registry.OutcomeFailed)
		return
	}

	a.session.Complete()
	log.Printf("daemon: saved %s", res.Path)
	_ = a.conn.SendEvent(ipc.Event{SessionID: a.id, Kind: ipc.EventCompleted, Path: res.Path})
	l.notify(true, res.Path)
	l.endActive(registry.OutcomeCompleted)
}

func (l *Loop) unmap() {
	if l.active != nil && l.active.tk != nil {
		l.active.tk.Unmap()
	}
}

func (l *Loop) endActive(outcome registry.Outcome) {
	a := l.active
	if a == nil {
		return
	}
	l.reg.End(a.id, outcome)
	a.conn.Close()
	l.active = nil
}

func (l *Loop) shutdownActive() {
	if l.active == nil {
		return
	}
	l.applyStep(context.Background(), l.active.session.CancelNow())
}
