package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/creat233/finderid/internal/client/models"
)

func printReports(w io.Writer, items []models.ReportedCard) error {
	rows := make([][]string, 0, len(items))
	for _, rc := range items {
		rows = append(rows, []string{
			rc.ID, rc.DocumentType, rc.CardNumber, rc.FoundLocation, day(rc.FoundDate), rc.Status, rc.ReporterPhone,
		})
	}
	return table(w, []string{"ID", "DOCUMENT", "NUMBER", "FOUND AT", "FOUND ON", "STATUS", "CONTACT"}, rows)
}

func (r *runner) reportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "report",
		Aliases: []string{"reports"},
		Short:   "Declare and track found documents",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List the documents you reported",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			items, err := loadMine(cmd.Context(), r.app, r.app.reports.Load)
			if err != nil {
				return err
			}
			return printReports(cmd.OutOrStdout(), items)
		},
	}

	var (
		rc    models.ReportedCard
		found string
	)
	add := &cobra.Command{
		Use:   "add <document type> <card number>",
		Short: "Report a found document",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := r.app
			ctx := cmd.Context()
			d, err := parseDay(found)
			if err != nil {
				return err
			}
			if _, err := loadMine(ctx, a, a.reports.Load); err != nil {
				return err
			}
			if rc.FoundLocation, err = a.prompt.valueOr(rc.FoundLocation, "Where did you find it"); err != nil {
				return err
			}
			rc.DocumentType, rc.CardNumber, rc.FoundDate = args[0], args[1], d
			return result(cmd.OutOrStdout(), "report", a.reports.Create(ctx, rc))
		},
	}
	f := add.Flags()
	f.StringVar(&rc.FoundLocation, "location", "", "where the document was found")
	f.StringVar(&found, "date", "", "when it was found, YYYY-MM-DD")
	f.StringVar(&rc.Description, "description", "", "description")
	f.StringVar(&rc.ReporterPhone, "phone", "", "phone number the owner can call")

	show := &cobra.Command{
		Use:   "show <id>",
		Short: "Show one report",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rec, err := r.app.reports.Get(cmd.Context(), args[0])
			if err != nil {
				return reported(err)
			}
			return printJSON(cmd.OutOrStdout(), rec)
		},
	}

	recovered := &cobra.Command{
		Use:   "recovered <id>",
		Short: "Mark a report as recovered by its owner",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := r.app
			ctx := cmd.Context()
			if _, err := loadMine(ctx, a, a.reports.Load); err != nil {
				return err
			}
			return result(cmd.OutOrStdout(), "report", a.reports.MarkRecovered(ctx, args[0]))
		},
	}

	search := &cobra.Command{
		Use:   "search <card number>",
		Short: "Look for pending reports of a document (needs a connection)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			items, err := r.app.reports.Search(cmd.Context(), args[0])
			if err != nil {
				return reported(err)
			}
			if len(items) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no report found")
				return nil
			}
			return printReports(cmd.OutOrStdout(), items)
		},
	}

	cmd.AddCommand(list, add, show, recovered, search)
	return cmd
}

func (r *runner) userCardCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "mycards",
		Aliases: []string{"usercards"},
		Short:   "Register your documents to be told when they are found",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List your registered documents",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			items, err := loadMine(cmd.Context(), r.app, r.app.userCards.Load)
			if err != nil {
				return err
			}
			rows := make([][]string, 0, len(items))
			for _, c := range items {
				rows = append(rows, []string{c.ID, c.DocumentType, c.CardNumber, c.CardHolderName, yesNo(c.IsActive)})
			}
			return table(cmd.OutOrStdout(), []string{"ID", "DOCUMENT", "NUMBER", "HOLDER", "ACTIVE"}, rows)
		},
	}

	var holder string
	add := &cobra.Command{
		Use:   "add <document type> <card number>",
		Short: "Register a document",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := r.app
			ctx := cmd.Context()
			if _, err := loadMine(ctx, a, a.userCards.Load); err != nil {
				return err
			}
			uc := models.UserCard{DocumentType: args[0], CardNumber: args[1], CardHolderName: holder, IsActive: true}
			return result(cmd.OutOrStdout(), "card", a.userCards.Create(ctx, uc))
		},
	}
	add.Flags().StringVar(&holder, "holder", "", "name on the document")

	del := &cobra.Command{
		Use:   "delete <id>",
		Short: "Stop watching a document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := r.app
			ctx := cmd.Context()
			if _, err := loadMine(ctx, a, a.userCards.Load); err != nil {
				return err
			}
			return removed(cmd.OutOrStdout(), "card", a.userCards.Delete(ctx, args[0]))
		},
	}

	matches := &cobra.Command{
		Use:   "matches",
		Short: "Look for reports of your registered documents (needs a connection)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a := r.app
			ctx := cmd.Context()
			if _, err := loadMine(ctx, a, a.userCards.Load); err != nil {
				return err
			}
			found, err := a.userCards.Matches(ctx)
			if err != nil {
				return reported(err)
			}
			w := cmd.OutOrStdout()
			if len(found) == 0 {
				fmt.Fprintln(w, "none of your documents has been reported")
				return nil
			}
			for _, m := range found {
				fmt.Fprintf(w, "%s %s was found:\n", m.Card.DocumentType, m.Card.CardNumber)
				if err := printReports(w, m.Reports); err != nil {
					return err
				}
			}
			return nil
		},
	}

	cmd.AddCommand(list, add, del, matches)
	return cmd
}
