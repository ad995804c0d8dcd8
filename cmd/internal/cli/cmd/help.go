package cmd

import (
	"context"
	"flag"
	"fmt"
	"io"

	"github.com/coursekernel/riscvkernel/cmd/internal/cli"
	"github.com/coursekernel/riscvkernel/internal/log"
)

type help struct {
	cmd []cli.Command
}

var _ cli.Command = (*help)(nil)

func (help) Help() string { return "display help for commands" }

func (h help) FlagSet() *cli.FlagSet {
	return flag.NewFlagSet("help", flag.ExitOnError)
}

func (h help) Run(_ context.Context, _ []string, out io.Writer, _ *log.Logger) {
	fmt.Fprintln(out, "\nUsage:\n\n        riscvkernel <command> [option]...\n\nCommands:")

	for _, cmd := range h.cmd {
		fmt.Fprintf(out, "  %-20s %s\n", cmd.FlagSet().Name(), cmd.Help())
	}

	fmt.Fprintf(out, "  %-20s %s\n", h.FlagSet().Name(), h.Help())
}

// Help returns the help command, listing every command in cmds.
func Help(cmds []cli.Command) *help {
	return &help{cmd: cmds}
}
