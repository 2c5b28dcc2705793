package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/creat233/finderid/internal/client/syncer"
)

// runREPL reads commands line by line and runs each one through a fresh
// command tree sharing the open App. It returns on EOF, "exit" or "quit".
func runREPL(ctx context.Context, r *runner, in *bufio.Reader, w io.Writer) {
	shared := &runner{cfg: r.cfg, build: r.build, streams: r.streams, app: r.app, keep: true}

	for ctx.Err() == nil {
		fmt.Fprintf(w, "finderid (%s, %d pending)> ", shared.app.mode(), shared.app.sync.PendingCount())
		line, rerr := in.ReadString('\n')
		if rerr != nil && line == "" {
			fmt.Fprintln(w)
			return
		}
		args, err := splitLine(strings.TrimRight(line, "\r\n"))
		if err != nil {
			fmt.Fprintln(r.streams.ErrOut, "Error:", err)
			continue
		}
		if len(args) == 0 {
			continue
		}

		switch args[0] {
		case "exit", "quit":
			fmt.Fprintln(w, "Bye!")
			return
		case "shell", "watch":
			fmt.Fprintf(w, "%s is not available inside the shell\n", args[0])
			continue
		}

		root := newRoot(shared)
		root.SetArgs(args)
		if err := root.ExecuteContext(ctx); err != nil && !IsReported(err) {
			fmt.Fprintln(r.streams.ErrOut, "Error:", err)
		}
	}
}

func (r *runner) shellCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "shell",
		Short: "Interactive mode with background sync (type 'help' for commands)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a := r.app
			ctx := cmd.Context()
			a.sync.OnEvent(func(e syncer.Event) {
				if e.Kind == syncer.EventOnline || e.Kind == syncer.EventOffline || e.Kind == syncer.EventSyncFinished {
					printEvent(a.io.ErrOut, e)
				}
			})
			a.sync.Start(ctx)
			fmt.Fprintln(cmd.OutOrStdout(), "FinderID shell (type 'help' for commands, 'exit' to leave)")
			runREPL(ctx, r, a.prompt.reader, cmd.OutOrStdout())
			return nil
		},
	}
}
