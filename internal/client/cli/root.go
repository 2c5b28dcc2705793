package cli

import (
	"context"
	"errors"

	"github.com/spf13/cobra"

	"github.com/creat233/finderid/internal/buildinfo"
	"github.com/creat233/finderid/internal/client/config"
)

// runner owns the App shared by the commands of one root. A runner with
// keep set borrows an App opened elsewhere and never closes it.
type runner struct {
	cfg     *config.Config
	build   Builder
	streams IO

	app  *App
	keep bool
}

// NewRootCommand builds the finderid command tree. Flags are bound to cfg,
// so values loaded from a config file act as flag defaults.
func NewRootCommand(cfg *config.Config, build Builder, streams IO) *cobra.Command {
	return newRoot(&runner{cfg: cfg, build: build, streams: streams})
}

func newRoot(r *runner) *cobra.Command {
	root := &cobra.Command{
		Use:               "finderid",
		Short:             "FinderID offline-first client",
		Long:              "Manage MCards, invoices, quotes and found document reports.\nChanges made offline are queued and replayed when the service is reachable.",
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: r.open,
		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			return r.close(cmd.Context())
		},
	}
	root.SetIn(r.streams.In)
	root.SetOut(r.streams.Out)
	root.SetErr(r.streams.ErrOut)
	r.cfg.BindFlags(root.PersistentFlags())

	root.AddCommand(
		r.registerCmd(), r.loginCmd(), r.logoutCmd(), r.whoamiCmd(),
		r.statusCmd(), r.syncCmd(), r.pendingCmd(),
		r.cardCmd(), r.statusesCmd(), r.productsCmd(), r.reviewsCmd(),
		r.invoiceCmd(), r.quoteCmd(),
		r.reportCmd(), r.userCardCmd(),
		r.watchCmd(), r.shellCmd(),
		&cobra.Command{
			Use:   "version",
			Short: "Print build information",
			Args:  cobra.NoArgs,
			Run: func(cmd *cobra.Command, _ []string) {
				buildinfo.PrintBuildData(cmd.OutOrStdout())
			},
		},
	)
	return root
}

func (r *runner) open(cmd *cobra.Command, _ []string) error {
	if r.app != nil || !needsApp(cmd) {
		return nil
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	app, err := r.build(ctx, r.cfg, r.streams)
	if err != nil {
		return err
	}
	app.start(ctx)
	r.app = app
	return nil
}

func needsApp(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		switch c.Name() {
		case "help", "completion", "version":
			return false
		}
	}
	return true
}

func (r *runner) close(ctx context.Context) error {
	if r.keep || r.app == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	err := r.app.Close(ctx)
	r.app = nil
	return err
}

// Execute runs the root command and closes the App even when the command
// failed.
func Execute(ctx context.Context, cfg *config.Config, build Builder, streams IO, args []string) error {
	r := &runner{cfg: cfg, build: build, streams: streams}
	root := newRoot(r)
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	if cerr := r.close(ctx); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

// IsReported tells main whether err was already shown to the user.
func IsReported(err error) bool {
	return errors.Is(err, ErrReported)
}
