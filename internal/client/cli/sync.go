package cli

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/creat233/finderid/internal/client/models"
	"github.com/creat233/finderid/internal/client/syncer"
)

func (r *runner) statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show connectivity, queued changes and the last sync",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a := r.app
			ctx := cmd.Context()
			w := cmd.OutOrStdout()

			user := "-"
			if u, err := a.auth.CurrentUser(ctx); err == nil {
				user = u.Email
			}
			last := "never"
			if t, ok := a.sync.LastSync(ctx); ok {
				last = t.Local().Format(time.DateTime)
			}

			fmt.Fprintf(w, "server:        %s\n", a.cfg.ServerEndpointAddr)
			fmt.Fprintf(w, "connectivity:  %s\n", a.mode())
			fmt.Fprintf(w, "user:          %s\n", user)
			fmt.Fprintf(w, "pending:       %d\n", a.sync.RefreshPending(ctx))
			fmt.Fprintf(w, "dead letters:  %d\n", len(a.store.DeadLetters(ctx)))
			fmt.Fprintf(w, "last sync:     %s\n", last)
			return nil
		},
	}
}

func (r *runner) syncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Replay queued changes now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			res, err := r.app.sync.SyncNow(cmd.Context())
			if errors.Is(err, syncer.ErrOffline) {
				return errors.New("offline: changes stay queued until the service is reachable")
			}
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			if res.Skipped {
				fmt.Fprintln(w, "a sync is already running")
				return nil
			}
			fmt.Fprintf(w, "synced %d, failed %d, dead-lettered %d, still pending %d\n",
				res.Succeeded, res.Failed, res.DeadLettered, r.app.sync.PendingCount())
			return nil
		},
	}
}

func (r *runner) pendingCmd() *cobra.Command {
	var dead bool
	cmd := &cobra.Command{
		Use:   "pending",
		Short: "List queued changes in replay order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a := r.app
			var changes []models.PendingChange
			if dead {
				changes = a.store.DeadLetters(cmd.Context())
			} else {
				changes = a.store.GetPendingChanges(cmd.Context())
			}
			if len(changes) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "nothing queued")
				return nil
			}
			rows := make([][]string, 0, len(changes))
			for _, c := range changes {
				rows = append(rows, []string{
					c.ID, string(c.Type), string(c.Action),
					c.CreatedAt.Local().Format(time.DateTime),
					strconv.Itoa(c.Attempts), c.LastError,
				})
			}
			return table(cmd.OutOrStdout(), []string{"ID", "TYPE", "ACTION", "QUEUED", "ATTEMPTS", "LAST ERROR"}, rows)
		},
	}
	cmd.Flags().BoolVar(&dead, "dead", false, "list dead-lettered changes instead")
	return cmd
}
