package main

import (
	"errors"
	"flag"
	"fmt"
	"os"

	"capit/src/bar"
	"capit/src/ipc"
	"capit/src/logutil"
	"capit/src/paths"
)

func main() {
	socket := flag.String("socket", paths.SocketPath(), "IPC socket path")
	verbose := flag.Bool("v", false, "log to stderr")
	flag.Parse()

	logutil.Setup("", *verbose)

	b, err := bar.New(*socket)
	if err != nil {
		fmt.Fprintf(os.Stderr, "capit-bar: %v\n", err)
		if errors.Is(err, ipc.ErrNotRunning) {
			os.Exit(4)
		}
		os.Exit(1)
	}
	os.Exit(b.Run())
}
