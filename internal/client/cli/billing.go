package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/creat233/finderid/internal/client/models"
	"github.com/creat233/finderid/internal/client/services"
)

// loadMine loads a collection keyed by the signed-in user.
func loadMine[T any](ctx context.Context, a *App, load func(context.Context, string) ([]T, error)) ([]T, error) {
	uid, err := a.userID(ctx)
	if err != nil {
		return nil, err
	}
	items, err := load(ctx, uid)
	if err != nil {
		return nil, reported(err)
	}
	return items, nil
}

func (r *runner) invoiceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "invoice",
		Aliases: []string{"invoices"},
		Short:   "Manage invoices",
	}

	var asJSON bool
	list := &cobra.Command{
		Use:   "list",
		Short: "List invoices",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			items, err := loadMine(cmd.Context(), r.app, r.app.invoices.Load)
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(cmd.OutOrStdout(), items)
			}
			rows := make([][]string, 0, len(items))
			for _, inv := range items {
				rows = append(rows, []string{
					inv.ID, inv.InvoiceNumber, inv.ClientName, money(inv.Amount, inv.Currency),
					inv.Status, day(inv.DueDate), yesNo(inv.IsValidated),
				})
			}
			return table(cmd.OutOrStdout(), []string{"ID", "NUMBER", "CLIENT", "AMOUNT", "STATUS", "DUE", "VALIDATED"}, rows)
		},
	}
	list.Flags().BoolVar(&asJSON, "json", false, "print as JSON")

	var (
		inv models.Invoice
		due string
	)
	add := &cobra.Command{
		Use:   "add <client name> <amount>",
		Short: "Create an invoice",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := r.app
			ctx := cmd.Context()
			amount := parseValue(args[1])
			f, ok := amount.(float64)
			if !ok {
				return fmt.Errorf("invalid amount %q", args[1])
			}
			d, err := parseDay(due)
			if err != nil {
				return err
			}
			if _, err := loadMine(ctx, a, a.invoices.Load); err != nil {
				return err
			}
			inv.ClientName, inv.Amount, inv.DueDate = args[0], f, d
			return result(cmd.OutOrStdout(), "invoice", a.invoices.Create(ctx, inv))
		},
	}
	af := add.Flags()
	af.StringVar(&inv.InvoiceNumber, "number", "", "invoice number")
	af.StringVar(&inv.ClientEmail, "client-email", "", "client email")
	af.StringVar(&inv.ClientPhone, "client-phone", "", "client phone")
	af.StringVar(&inv.Currency, "currency", "", "currency code (default XOF)")
	af.StringVar(&inv.Status, "status", "", "draft, sent, paid, overdue or cancelled")
	af.StringVar(&inv.Notes, "notes", "", "notes")
	af.StringVar(&due, "due", "", "due date YYYY-MM-DD")

	update := &cobra.Command{
		Use:     "update <id> field=value...",
		Short:   "Change an invoice",
		Example: "  finderid invoice update 42 status=paid",
		Args:    cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := r.app
			ctx := cmd.Context()
			patch, err := parsePatch(args[1:])
			if err != nil {
				return err
			}
			if _, err := loadMine(ctx, a, a.invoices.Load); err != nil {
				return err
			}
			return result(cmd.OutOrStdout(), "invoice", a.invoices.Update(ctx, args[0], patch))
		},
	}

	del := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete an invoice",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := r.app
			ctx := cmd.Context()
			if _, err := loadMine(ctx, a, a.invoices.Load); err != nil {
				return err
			}
			return removed(cmd.OutOrStdout(), "invoice", a.invoices.Delete(ctx, args[0]))
		},
	}

	validate := &cobra.Command{
		Use:   "validate <id>",
		Short: "Lock an invoice (needs a connection)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := r.app
			ctx := cmd.Context()
			if _, err := loadMine(ctx, a, a.invoices.Load); err != nil {
				return err
			}
			return result(cmd.OutOrStdout(), "invoice", a.invoices.Validate(ctx, args[0]))
		},
	}

	stats := &cobra.Command{
		Use:   "stats",
		Short: "Show invoice totals",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a := r.app
			ctx := cmd.Context()
			if _, err := loadMine(ctx, a, a.invoices.Load); err != nil {
				return err
			}
			st, err := a.invoices.Stats(ctx)
			if err != nil {
				return reported(err)
			}
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "invoices:  %d (draft %d, sent %d, paid %d, overdue %d, cancelled %d)\n",
				st.Total, st.Draft, st.Sent, st.Paid, st.Overdue, st.Cancelled)
			fmt.Fprintf(w, "total:     %.2f\n", st.TotalAmount)
			fmt.Fprintf(w, "paid:      %.2f\n", st.PaidAmount)
			fmt.Fprintf(w, "pending:   %.2f\n", st.PendingAmount)
			return nil
		},
	}

	var period string
	analytics := &cobra.Command{
		Use:   "analytics",
		Short: "Show invoice totals per period",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a := r.app
			ctx := cmd.Context()
			if _, err := loadMine(ctx, a, a.invoices.Load); err != nil {
				return err
			}
			totals, err := a.invoices.Analytics(ctx, period)
			if err != nil {
				return reported(err)
			}
			rows := make([][]string, 0, len(totals))
			for _, t := range totals {
				rows = append(rows, []string{
					t.Start.Format("2006-01-02"), fmt.Sprint(t.Count),
					fmt.Sprintf("%.2f", t.Amount), fmt.Sprintf("%.2f", t.Paid),
				})
			}
			return table(cmd.OutOrStdout(), []string{"FROM", "INVOICES", "AMOUNT", "PAID"}, rows)
		},
	}
	analytics.Flags().StringVarP(&period, "period", "p", services.PeriodMonth, "day, week, month or year")

	cmd.AddCommand(list, add, update, del, validate, stats, analytics)
	return cmd
}

func (r *runner) quoteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "quote",
		Aliases: []string{"quotes"},
		Short:   "Manage quotes",
	}

	var asJSON bool
	list := &cobra.Command{
		Use:   "list",
		Short: "List quotes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			items, err := loadMine(cmd.Context(), r.app, r.app.quotes.Load)
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(cmd.OutOrStdout(), items)
			}
			rows := make([][]string, 0, len(items))
			for _, q := range items {
				rows = append(rows, []string{
					q.ID, q.QuoteNumber, q.ClientName, money(q.Amount, q.Currency),
					q.Status, fmt.Sprint(len(q.Items)), day(q.ValidUntil),
				})
			}
			return table(cmd.OutOrStdout(), []string{"ID", "NUMBER", "CLIENT", "AMOUNT", "STATUS", "ITEMS", "VALID UNTIL"}, rows)
		},
	}
	list.Flags().BoolVar(&asJSON, "json", false, "print as JSON")

	var (
		q     models.Quote
		items []string
		until string
	)
	add := &cobra.Command{
		Use:     "add <client name>",
		Short:   "Create a quote",
		Example: `  finderid quote add "Acme" --item "Design:2:150000" --item "Hosting:12:5000"`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := r.app
			ctx := cmd.Context()
			q.ClientName = args[0]
			q.Items = nil
			for _, s := range items {
				it, err := parseItem(s)
				if err != nil {
					return err
				}
				q.Items = append(q.Items, it)
			}
			d, err := parseDay(until)
			if err != nil {
				return err
			}
			q.ValidUntil = d
			if _, err := loadMine(ctx, a, a.quotes.Load); err != nil {
				return err
			}
			return result(cmd.OutOrStdout(), "quote", a.quotes.Create(ctx, q))
		},
	}
	qf := add.Flags()
	qf.StringVar(&q.QuoteNumber, "number", "", "quote number")
	qf.StringVar(&q.ClientEmail, "client-email", "", "client email")
	qf.StringVar(&q.Currency, "currency", "", "currency code (default XOF)")
	qf.StringVar(&q.Notes, "notes", "", "notes")
	qf.StringVar(&until, "valid-until", "", "expiry date YYYY-MM-DD")
	qf.StringArrayVar(&items, "item", nil, "item as description:quantity:price (repeatable)")

	update := &cobra.Command{
		Use:   "update <id> field=value...",
		Short: "Change a quote",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := r.app
			ctx := cmd.Context()
			patch, err := parsePatch(args[1:])
			if err != nil {
				return err
			}
			if _, err := loadMine(ctx, a, a.quotes.Load); err != nil {
				return err
			}
			return result(cmd.OutOrStdout(), "quote", a.quotes.Update(ctx, args[0], patch))
		},
	}

	del := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a quote",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := r.app
			ctx := cmd.Context()
			if _, err := loadMine(ctx, a, a.quotes.Load); err != nil {
				return err
			}
			return removed(cmd.OutOrStdout(), "quote", a.quotes.Delete(ctx, args[0]))
		},
	}

	cmd.AddCommand(list, add, update, del)
	return cmd
}
