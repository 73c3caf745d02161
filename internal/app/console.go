package app

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"flock/pkg/shutdown"
)

// console reads operator commands from stdin. Running under a process
// manager stdin is usually closed; the loop then just exits.
func (a *App) console(ctx context.Context, stop context.CancelFunc) {
	sc := bufio.NewScanner(os.Stdin)
	for sc.Scan() {
		if ctx.Err() != nil {
			return
		}
		switch strings.ToLower(strings.TrimSpace(sc.Text())) {
		case "":
		case "help":
			fmt.Println("commands: help, save, version, exit")
		case "save":
			a.saver.Flush()
			fmt.Println("saved")
		case "version":
			fmt.Println(a.version)
		case "exit", "quit", "stop":
			fmt.Println("shutting down")
			_, _ = shutdown.RequestExitFile(a.cfg.Storage.DBPath, "console exit")
			stop()
			return
		default:
			fmt.Println("unknown command, try: help")
		}
	}
}
