package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/chzyer/readline"
	"github.com/conduitmesh/conduit/pkg/endpoint"
	"github.com/conduitmesh/conduit/pkg/epbase"
)

// runInteractive drives a small readline REPL over a running Bound endpoint,
// reduced to the handful of things an operator can ask a bound endpoint.
func runInteractive(b *endpoint.Bound) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "listen> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "readline unavailable:", err)
		return
	}
	defer rl.Close()

	fmt.Fprintln(rl.Stdout(), "conduit-listen interactive mode. Type 'help' for commands.")

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
			fmt.Fprintf(rl.Stdout(), "address=%s state=%s children=%d\n",
				b.Base().Address(), b.State(), b.ChildCount())
			if err := b.Base().LastError(); err != nil {
				fmt.Fprintf(rl.Stdout(), "last_error=%v\n", err)
			}
		case "stats":
			printStats(rl, b.Base().Stats())
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
