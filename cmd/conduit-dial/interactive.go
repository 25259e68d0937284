package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/chzyer/readline"
	"github.com/conduitmesh/conduit/pkg/endpoint"
	"github.com/conduitmesh/conduit/pkg/epbase"
)

// runInteractive drives a small readline REPL over a running Connected
// endpoint, the dial-side counterpart of conduit-listen's REPL.
func runInteractive(c *endpoint.Connected) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "dial> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "readline unavailable:", err)
		return
	}
	defer rl.Close()

	fmt.Fprintln(rl.Stdout(), "conduit-dial interactive mode. Type 'help' for commands.")

	for {
		line, err := rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt {
				continue
			}
			return
		}

		switch strings.ToLower(strings.TrimSpace(line)) {
		case "":
			continue
		case "help", "?":
			fmt.Fprintln(rl.Stdout(), "commands: status, stats, quit")
		case "status":
			fmt.Fprintf(rl.Stdout(), "address=%s state=%s\n", c.Base().Address(), c.State())
			if err := c.Base().LastError(); err != nil {
				fmt.Fprintf(rl.Stdout(), "last_error=%v\n", err)
			}
		case "stats":
			printStats(rl, c.Base().Stats())
		case "quit", "exit", "q":
			return
		default:
			fmt.Fprintf(rl.Stdout(), "unknown command: %s\n", strings.TrimSpace(line))
		}
	}
}

func printStats(rl *readline.Instance, stats *epbase.Stats) {
	snap := stats.Snapshot()
	for _, kind := range []epbase.StatKind{
		epbase.StatInprogressConnections,
		epbase.StatEstablishedConnections,
		epbase.StatBrokenConnections,
		epbase.StatConnectErrors,
		epbase.StatDroppedConnections,
	} {
		fmt.Fprintf(rl.Stdout(), "  %-24s %d\n", kind, snap[kind])
	}
}
