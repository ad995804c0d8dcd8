// Command riscvkernel is a teaching-grade preemptive multiprogramming
// kernel for a single-hart 64-bit RISC-V machine with Sv39 paging,
// simulated entirely in Go: no instruction interpreter, no real trap
// entry — user-mode programs are Go closures and a syscall is a direct
// call into the trap dispatcher (SPEC_FULL.md's REDESIGN section).
package main

import (
	"context"
	"os"

	"github.com/coursekernel/riscvkernel/cmd/internal/cli"
	"github.com/coursekernel/riscvkernel/cmd/internal/cli/cmd"
)

var commands = []cli.Command{
	cmd.Boot(),
}

// Entry point.
func main() {
	result :=
		cli.New(context.Background()).
			WithLogger(os.Stderr).
			WithCommands(commands).
			WithHelp(cmd.Help(commands)).
			Execute(os.Args[1:])

	os.Exit(result)
}
