package main

import (
	"errors"
	"fmt"
	"log"
	"os"
	"os/exec"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"capit/src/core"
	"capit/src/ipc"
	"capit/src/logutil"
	"capit/src/paths"
)

// Process exit codes. Callers and scripts rely on these staying distinct.
const (
	exitOK             = 0
	exitFailure        = 1
	exitCancelled      = 2
	exitBusy           = 3
	exitNotRunning     = 4
	exitUnknownOutcome = 5
	exitBadRequest     = 6
)

type exitError struct {
	code int
	msg  string
}

func (e exitError) Error() string { return e.msg }

type cliOptions struct {
	socket  string
	verbose bool
}

func main() {
	if err := run(); err != nil {
		var ee exitError
		if errors.As(err, &ee) {
			if ee.msg != "" {
				fmt.Fprintf(os.Stderr, "capit: %s\n", ee.msg)
			}
			os.Exit(ee.code)
		}
		fmt.Fprintf(os.Stderr, "capit: %v\n", err)
		os.Exit(exitFailure)
	}
}

func run() error {
	opts := &cliOptions{}
	cmd := newRootCmd(opts)
	return cmd.Execute()
}

func newRootCmd(opts *cliOptions) *cobra.Command {
	root := &cobra.Command{
		Use:           "capit",
		Short:         "Screenshot client for capitd",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// Short-lived client: stderr only, no log file.
			logutil.Setup("", opts.verbose)
		},
	}

	root.PersistentFlags().StringVar(&opts.socket, "socket", paths.SocketPath(), "IPC socket path")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "log to stderr")

	root.AddCommand(newStatusCmd(opts))
	root.AddCommand(newOutputsCmd(opts))
	root.AddCommand(newCancelCmd(opts))
	root.AddCommand(newCaptureCmd(opts, "region", "Start a region capture (mouse-driven overlay)", core.ModeRegion, true))
	root.AddCommand(newCaptureCmd(opts, "screen", "Capture an output (interactive pick, or -o NAME)", core.ModeScreen, true))
	root.AddCommand(newCaptureCmd(opts, "window", "Capture a window (interactive pick)", core.ModeWindow, false))
	root.AddCommand(newBarCmd(opts))

	return root
}

func dial(opts *cliOptions) (*ipc.Client, error) {
	cl, err := ipc.Dial(opts.socket)
	if err != nil {
		if errors.Is(err, ipc.ErrNotRunning) {
			return nil, exitError{code: exitNotRunning,
				msg: fmt.Sprintf("cannot connect to capitd at %s\nHint: start the daemon with `capitd`.", opts.socket)}
		}
		return nil, err
	}
	return cl, nil
}

func newStatusCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cl, err := dial(opts)
			if err != nil {
				return err
			}
			defer cl.Close()

			if err := cl.Send(ipc.Request{Type: ipc.TypeStatus}); err != nil {
				return err
			}
			msg, err := cl.Recv()
			if err != nil {
				return mapRecvErr(err)
			}
			st, ok := msg.(*ipc.StatusReply)
			if !ok {
				return replyError(msg)
			}
			if st.ActiveMode != "" {
				fmt.Printf("capitd: running, active job: %s\n", st.ActiveMode)
			} else {
				fmt.Println("capitd: running, idle")
			}
			return nil
		},
	}
}

func newOutputsCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "outputs",
		Short: "List outputs (monitors)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cl, err := dial(opts)
			if err != nil {
				return err
			}
			defer cl.Close()

			if err := cl.Send(ipc.Request{Type: ipc.TypeOutputs}); err != nil {
				return err
			}
			msg, err := cl.Recv()
			if err != nil {
				return mapRecvErr(err)
			}
			reply, ok := msg.(*ipc.OutputsReply)
			if !ok {
				return replyError(msg)
			}
			printOutputs(reply.Outputs)
			return nil
		},
	}
}

func printOutputs(outputs []core.OutputInfo) {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row{"Name", "Position", "Size", "Scale"})
	for _, o := range outputs {
		t.AppendRow(table.Row{
			o.Name,
			fmt.Sprintf("%d,%d", o.X, o.Y),
			fmt.Sprintf("%dx%d", o.Width, o.Height),
			o.Scale,
		})
	}
	t.Render()
}

func newCancelCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel",
		Short: "Cancel the active capture job",
		RunE: func(cmd *cobra.Command, args []string) error {
			cl, err := dial(opts)
			if err != nil {
				return err
			}
			defer cl.Close()

			if err := cl.Send(ipc.Request{Type: ipc.TypeCancel}); err != nil {
				return err
			}
			msg, err := cl.Recv()
			if err != nil {
				return mapRecvErr(err)
			}
			if _, ok := msg.(*ipc.OKReply); !ok {
				return replyError(msg)
			}
			fmt.Println("cancelled")
			return nil
		},
	}
}

func newCaptureCmd(opts *cliOptions, use, short string, mode core.Mode, hasOutput bool) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCapture(opts, mode, output)
		},
	}
	if hasOutput {
		cmd.Flags().StringVarP(&output, "output", "o", "", "target a specific output by name (e.g. DP-1)")
	}
	return cmd
}

// runCapture drives one capture exchange: send the request, consume
// progress events, and map the terminal event to output and exit code.
func runCapture(opts *cliOptions, mode core.Mode, output string) error {
	cl, err := dial(opts)
	if err != nil {
		return err
	}
	defer cl.Close()

	if err := cl.Send(ipc.Request{Type: ipc.TypeCapture, Mode: mode, Output: output}); err != nil {
		return err
	}

	for {
		msg, err := cl.Recv()
		if err != nil {
			return mapRecvErr(err)
		}

		switch m := msg.(type) {
		case *ipc.Event:
			if !m.Terminal() {
				log.Printf("selection: %+v", m.Rect)
				continue
			}
			switch m.Kind {
			case ipc.EventCompleted:
				fmt.Printf("saved to: %s\n", m.Path)
				return nil
			case ipc.EventCancelled:
				return exitError{code: exitCancelled, msg: "capture cancelled"}
			case ipc.EventFailed:
				return exitError{code: exitFailure, msg: fmt.Sprintf("capture failed (%s): %s", m.Reason, m.Message)}
			}
		case *ipc.ErrorReply:
			return replyError(m)
		default:
			return fmt.Errorf("unexpected reply %T", msg)
		}
	}
}

// mapRecvErr distinguishes connection loss before a terminal event (unknown
// outcome: the file may or may not exist) from ordinary failures.
func mapRecvErr(err error) error {
	if errors.Is(err, ipc.ErrDisconnected) {
		return exitError{code: exitUnknownOutcome,
			msg: "connection to capitd lost before an outcome; the screenshot may or may not have been written"}
	}
	return err
}

func replyError(msg any) error {
	er, ok := msg.(*ipc.ErrorReply)
	if !ok {
		return fmt.Errorf("unexpected reply %T", msg)
	}
	switch er.Kind {
	case ipc.ErrKindBusy:
		return exitError{code: exitBusy, msg: er.Message}
	case ipc.ErrKindVersionMismatch, ipc.ErrKindBadRequest:
		return exitError{code: exitBadRequest, msg: er.Message}
	default:
		return exitError{code: exitFailure, msg: er.Message}
	}
}

func newBarCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "bar",
		Short: "Show the floating capture bar",
		RunE: func(cmd *cobra.Command, args []string) error {
			bar := exec.Command("capit-bar", "--socket", opts.socket)
			bar.Stdout = os.Stdout
			bar.Stderr = os.Stderr
			err := bar.Run()
			if err == nil {
				return nil
			}
			var xe *exec.ExitError
			if errors.As(err, &xe) {
				if xe.ExitCode() == exitCancelled {
					return nil // closing the bar is not an error
				}
				return exitError{code: xe.ExitCode(), msg: ""}
			}
			if errors.Is(err, exec.ErrNotFound) {
				return exitError{code: exitFailure, msg: "capit-bar is not installed or not in PATH"}
			}
			return err
		},
	}
}
