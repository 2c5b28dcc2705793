package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/creat233/finderid/internal/client/models"
	"github.com/creat233/finderid/internal/client/realtime"
	"github.com/creat233/finderid/internal/client/syncer"
	"github.com/creat233/finderid/internal/dataapi"
)

// watchTarget binds a rows channel to the collection it refreshes.
type watchTarget struct {
	collection string
	column     string
	key        string
	name       string
	refresh    func(context.Context) (bool, error)
}

func printEvent(w io.Writer, e syncer.Event) {
	ts := time.Now().Format(time.TimeOnly)
	switch e.Kind {
	case syncer.EventOnline:
		fmt.Fprintf(w, "%s online\n", ts)
	case syncer.EventOffline:
		fmt.Fprintf(w, "%s offline, changes will be queued\n", ts)
	case syncer.EventSyncStarted:
		fmt.Fprintf(w, "%s syncing %d change(s)\n", ts, e.Pending)
	case syncer.EventSyncFinished:
		fmt.Fprintf(w, "%s sync done: %d ok, %d failed, %d dead-lettered\n",
			ts, e.Result.Succeeded, e.Result.Failed, e.Result.DeadLettered)
	case syncer.EventPendingCount:
		fmt.Fprintf(w, "%s %d change(s) pending\n", ts, e.Pending)
	case syncer.EventReconciled:
		fmt.Fprintf(w, "%s %s %s confirmed as %s\n", ts, e.Entity, e.TempID, models.RecordID(e.Record))
	}
}

// targets lists what the signed-in user sees, plus the statuses, products
// and reviews of the card slug when given.
func (a *App) targets(ctx context.Context, slug string) ([]watchTarget, error) {
	uid, err := a.userID(ctx)
	if err != nil {
		return nil, err
	}
	loads := []struct {
		load func(context.Context, string) error
		t    watchTarget
	}{
		{drop(a.invoices.Load), watchTarget{models.CollectionInvoices, "user_id", uid, "invoices", a.invoices.Refresh}},
		{drop(a.quotes.Load), watchTarget{models.CollectionQuotes, "user_id", uid, "quotes", a.quotes.Refresh}},
		{drop(a.reports.Load), watchTarget{models.CollectionReportedCards, "reporter_id", uid, "reports", a.reports.Refresh}},
		{drop(a.userCards.Load), watchTarget{models.CollectionUserCards, "user_id", uid, "registered documents", a.userCards.Refresh}},
	}
	out := make([]watchTarget, 0, len(loads)+3)
	for _, l := range loads {
		if err := l.load(ctx, uid); err != nil {
			return nil, reported(err)
		}
		out = append(out, l.t)
	}

	if slug == "" {
		return out, nil
	}
	d, err := a.loadCard(ctx, slug)
	if err != nil {
		return nil, err
	}
	cardRefresh := func(ctx context.Context) (bool, error) {
		rep, err := a.cards.Refresh(ctx)
		return rep.Changed(), err
	}
	for _, c := range []struct{ collection, name string }{
		{models.CollectionStatuses, "statuses"},
		{models.CollectionProducts, "products"},
		{models.CollectionReviews, "reviews"},
	} {
		out = append(out, watchTarget{c.collection, "mcard_id", d.Card.ID, c.name, cardRefresh})
	}
	out = append(out, watchTarget{models.CollectionMCards, "id", d.Card.ID, "card", cardRefresh})
	return out, nil
}

func drop[T any](load func(context.Context, string) ([]T, error)) func(context.Context, string) error {
	return func(ctx context.Context, key string) error {
		_, err := load(ctx, key)
		return err
	}
}

// subscribe refreshes a target whenever its rows change remotely.
func (a *App) subscribe(ctx context.Context, w io.Writer, t watchTarget) error {
	f := realtime.Filter{Event: dataapi.EventAny, Filter: dataapi.Filter{Column: t.column, Value: t.key}.String()}
	_, err := a.realtime.Subscribe(ctx, dataapi.RowsChannel(t.collection), f, func(m realtime.Message) {
		changed, err := t.refresh(ctx)
		if err != nil {
			a.logger.Debug(ctx, "refresh after change failed", "collection", t.collection, "error", err)
			return
		}
		if changed {
			fmt.Fprintf(w, "%s %s updated (%s)\n", time.Now().Format(time.TimeOnly), t.name, m.Event)
		}
	})
	return err
}

func (r *runner) watchCmd() *cobra.Command {
	var slug string
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Stay connected: sync in the background and follow remote changes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a := r.app
			ctx := cmd.Context()
			w := cmd.OutOrStdout()

			targets, err := a.targets(ctx, slug)
			if err != nil {
				return err
			}

			a.sync.OnEvent(func(e syncer.Event) { printEvent(w, e) })
			a.sync.Start(ctx)

			if a.realtime != nil {
				if err := a.realtime.Connect(ctx); err != nil {
					a.logger.Warn(ctx, "realtime unavailable, relying on sync only", "error", err)
				}
				for _, t := range targets {
					if err := a.subscribe(ctx, w, t); err != nil {
						return err
					}
				}
			}

			fmt.Fprintf(w, "watching as %s, press Ctrl+C to stop\n", a.mode())
			<-ctx.Done()
			return nil
		},
	}
	cmd.Flags().StringVar(&slug, "card", "", "also follow the card with this slug")
	return cmd
}
