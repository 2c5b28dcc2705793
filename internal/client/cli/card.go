package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/creat233/finderid/internal/client/models"
	"github.com/creat233/finderid/internal/client/services"
)

// loadCard makes slug the current card of the MCard service.
func (a *App) loadCard(ctx context.Context, slug string) (services.MCardData, error) {
	d, err := a.cards.Load(ctx, slug)
	if err != nil {
		return d, reported(err)
	}
	if d.Card.ID == "" {
		return d, fmt.Errorf("card %q is not available", slug)
	}
	return d, nil
}

func (r *runner) cardCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "card",
		Short: "Show and edit MCards",
	}
	cmd.AddCommand(r.cardShowCmd(), r.cardCreateCmd(), r.cardUpdateCmd(), r.cardDeleteCmd(), r.cardAvatarCmd())
	return cmd
}

func (r *runner) cardShowCmd() *cobra.Command {
	var asJSON, count bool
	cmd := &cobra.Command{
		Use:   "show [slug]",
		Short: `Show a card with its statuses, products and reviews ("demo" for the sample card)`,
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := r.app
			ctx := cmd.Context()
			slug := ""
			if len(args) == 1 {
				slug = args[0]
			}
			d, err := a.cards.Load(ctx, slug)
			if err != nil {
				return reported(err)
			}
			if count && !a.cards.IsOwner(ctx) {
				a.cards.IncrementViewCount(ctx)
			}
			if asJSON {
				return printJSON(cmd.OutOrStdout(), d)
			}
			printCard(cmd.OutOrStdout(), d)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print as JSON")
	cmd.Flags().BoolVar(&count, "count-view", false, "count this as a visit when the card is not yours")
	return cmd
}

func printCard(w io.Writer, d services.MCardData) {
	c := d.Card
	fmt.Fprintf(w, "%s (%s)\n", c.FullName, c.Slug)
	if c.JobTitle != "" || c.Company != "" {
		fmt.Fprintf(w, "  %s %s\n", c.JobTitle, c.Company)
	}
	if c.Email != "" {
		fmt.Fprintf(w, "  email: %s\n", c.Email)
	}
	if c.PhoneNumber != "" {
		fmt.Fprintf(w, "  phone: %s\n", c.PhoneNumber)
	}
	fmt.Fprintf(w, "  views: %d  published: %s  verified: %s\n", c.ViewCount, yesNo(c.IsPublished), yesNo(c.IsVerified))
	if c.Description != "" {
		fmt.Fprintf(w, "  %s\n", c.Description)
	}

	fmt.Fprintf(w, "\nStatuses (%d)\n", len(d.Statuses))
	for _, s := range d.Statuses {
		fmt.Fprintf(w, "  [%s] %s\n", s.ID, s.StatusText)
	}
	fmt.Fprintf(w, "\nProducts (%d)\n", len(d.Products))
	for _, p := range d.Products {
		fmt.Fprintf(w, "  [%s] %s  %s\n", p.ID, p.Name, money(p.Price, p.Currency))
	}
	fmt.Fprintf(w, "\nReviews (%d)\n", len(d.Reviews))
	for _, rv := range d.Reviews {
		fmt.Fprintf(w, "  %d/5 %s: %s\n", rv.Rating, rv.VisitorName, rv.Comment)
	}
}

func (r *runner) cardCreateCmd() *cobra.Command {
	var c models.MCard
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a card for the signed-in user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a := r.app
			ctx := cmd.Context()
			if _, err := a.userID(ctx); err != nil {
				return err
			}
			var err error
			if c.Slug, err = a.prompt.valueOr(c.Slug, "Slug"); err != nil {
				return err
			}
			if c.FullName, err = a.prompt.valueOr(c.FullName, "Full name"); err != nil {
				return err
			}
			return result(cmd.OutOrStdout(), "card", a.cards.CreateCard(ctx, c))
		},
	}
	f := cmd.Flags()
	f.StringVar(&c.Slug, "slug", "", "public slug")
	f.StringVar(&c.FullName, "name", "", "full name")
	f.StringVar(&c.JobTitle, "title", "", "job title")
	f.StringVar(&c.Company, "company", "", "company")
	f.StringVar(&c.PhoneNumber, "phone", "", "phone number")
	f.StringVar(&c.Email, "email", "", "contact email")
	f.StringVar(&c.Description, "description", "", "description")
	f.BoolVar(&c.IsPublished, "publish", false, "publish the card")
	return cmd
}

func (r *runner) cardUpdateCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "update <slug> field=value...",
		Short:   "Change fields of a card",
		Example: "  finderid card update jane job_title=CTO is_published=true",
		Args:    cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := r.app
			ctx := cmd.Context()
			patch, err := parsePatch(args[1:])
			if err != nil {
				return err
			}
			if _, err := a.loadCard(ctx, args[0]); err != nil {
				return err
			}
			return result(cmd.OutOrStdout(), "card", a.cards.UpdateCard(ctx, patch))
		},
	}
}

func (r *runner) cardDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <slug>",
		Short: "Delete a card",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := r.app
			ctx := cmd.Context()
			if _, err := a.loadCard(ctx, args[0]); err != nil {
				return err
			}
			return removed(cmd.OutOrStdout(), "card", a.cards.DeleteCard(ctx))
		},
	}
}

func (r *runner) cardAvatarCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "avatar <slug> <image file>",
		Short: "Upload a profile picture (needs a connection)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := r.app
			ctx := cmd.Context()
			blob, err := os.ReadFile(args[1])
			if err != nil {
				return err
			}
			if _, err := a.loadCard(ctx, args[0]); err != nil {
				return err
			}
			return result(cmd.OutOrStdout(), "picture", a.cards.UploadProfilePicture(ctx, filepath.Base(args[1]), blob))
		},
	}
}

func (r *runner) statusesCmd() *cobra.Command {
	var slug string
	cmd := &cobra.Command{
		Use:   "statuses",
		Short: "Manage the statuses of a card",
	}
	cmd.PersistentFlags().StringVar(&slug, "card", "", "card slug")
	_ = cmd.MarkPersistentFlagRequired("card")

	var color string
	add := &cobra.Command{
		Use:   "add <text>",
		Short: "Post a status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := r.app
			ctx := cmd.Context()
			if _, err := a.loadCard(ctx, slug); err != nil {
				return err
			}
			m := a.cards.Statuses.Create(ctx, models.Status{StatusText: args[0], StatusColor: color, IsActive: true})
			return result(cmd.OutOrStdout(), "status", m)
		},
	}
	add.Flags().StringVar(&color, "color", "", "status color")

	update := &cobra.Command{
		Use:   "update <id> field=value...",
		Short: "Change a status",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := r.app
			ctx := cmd.Context()
			patch, err := parsePatch(args[1:])
			if err != nil {
				return err
			}
			if _, err := a.loadCard(ctx, slug); err != nil {
				return err
			}
			return result(cmd.OutOrStdout(), "status", a.cards.Statuses.Update(ctx, args[0], patch))
		},
	}

	del := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := r.app
			ctx := cmd.Context()
			if _, err := a.loadCard(ctx, slug); err != nil {
				return err
			}
			return removed(cmd.OutOrStdout(), "status", a.cards.Statuses.Delete(ctx, args[0]))
		},
	}

	cmd.AddCommand(add, update, del)
	return cmd
}

func (r *runner) productsCmd() *cobra.Command {
	var slug string
	cmd := &cobra.Command{
		Use:   "products",
		Short: "Manage the catalogue of a card",
	}
	cmd.PersistentFlags().StringVar(&slug, "card", "", "card slug")
	_ = cmd.MarkPersistentFlagRequired("card")

	var p models.Product
	add := &cobra.Command{
		Use:   "add <name> <price>",
		Short: "Add a product",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := r.app
			ctx := cmd.Context()
			price, err := strconv.ParseFloat(args[1], 64)
			if err != nil {
				return fmt.Errorf("invalid price %q", args[1])
			}
			if _, err := a.loadCard(ctx, slug); err != nil {
				return err
			}
			p.Name, p.Price, p.IsActive = args[0], price, true
			return result(cmd.OutOrStdout(), "product", a.cards.Products.Create(ctx, p))
		},
	}
	add.Flags().StringVar(&p.Currency, "currency", "XOF", "currency code")
	add.Flags().StringVar(&p.Category, "category", "", "category")
	add.Flags().StringVar(&p.Description, "description", "", "description")

	update := &cobra.Command{
		Use:   "update <id> field=value...",
		Short: "Change a product",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := r.app
			ctx := cmd.Context()
			patch, err := parsePatch(args[1:])
			if err != nil {
				return err
			}
			if _, err := a.loadCard(ctx, slug); err != nil {
				return err
			}
			return result(cmd.OutOrStdout(), "product", a.cards.Products.Update(ctx, args[0], patch))
		},
	}

	del := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a product",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := r.app
			ctx := cmd.Context()
			if _, err := a.loadCard(ctx, slug); err != nil {
				return err
			}
			return removed(cmd.OutOrStdout(), "product", a.cards.Products.Delete(ctx, args[0]))
		},
	}

	cmd.AddCommand(add, update, del)
	return cmd
}

func (r *runner) reviewsCmd() *cobra.Command {
	var slug string
	var rv models.Review
	cmd := &cobra.Command{
		Use:   "review <rating 1-5> <comment>",
		Short: "Leave a review on a card",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := r.app
			ctx := cmd.Context()
			rating, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid rating %q", args[0])
			}
			if _, err := a.loadCard(ctx, slug); err != nil {
				return err
			}
			if rv.VisitorName, err = a.prompt.valueOr(rv.VisitorName, "Your name"); err != nil {
				return err
			}
			rv.Rating, rv.Comment = rating, args[1]
			return result(cmd.OutOrStdout(), "review", a.cards.Reviews.Create(ctx, rv))
		},
	}
	cmd.Flags().StringVar(&slug, "card", "", "card slug")
	_ = cmd.MarkFlagRequired("card")
	cmd.Flags().StringVar(&rv.VisitorName, "name", "", "your name")
	cmd.Flags().StringVar(&rv.VisitorEmail, "email", "", "your email")
	return cmd
}
