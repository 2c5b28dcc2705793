package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/creat233/finderid/internal/client/models"
	"github.com/creat233/finderid/internal/client/services"
)

// ErrReported is returned by commands whose failure was already printed
// by the notifier.
var ErrReported = errors.New("error already reported")

type printNotifier struct {
	w io.Writer
}

func (n *printNotifier) Notify(_ context.Context, err *services.OperationError) {
	if errors.Is(err, models.ErrUnsupportedChange) {
		fmt.Fprintf(n.w, "Error: %s: not supported for this record\n", err.Error())
		return
	}
	fmt.Fprintf(n.w, "Error: %s: %v\n", err.Error(), err.Err)
}

// result prints the outcome of a mutation.
func result[T models.Record](w io.Writer, what string, m services.Mutation[T]) error {
	switch m.State {
	case services.Confirmed:
		fmt.Fprintf(w, "%s saved (id %s)\n", what, m.Record.GetID())
	case services.Pending:
		fmt.Fprintf(w, "%s saved offline (id %s), it will sync when online\n", what, m.Record.GetID())
	default:
		return reported(m.Err)
	}
	return nil
}

// removed prints the outcome of a delete.
func removed[T models.Record](w io.Writer, what string, m services.Mutation[T]) error {
	switch m.State {
	case services.Confirmed:
		fmt.Fprintf(w, "%s deleted\n", what)
	case services.Pending:
		fmt.Fprintf(w, "%s deleted offline, it will sync when online\n", what)
	default:
		return reported(m.Err)
	}
	return nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// table writes tab separated rows aligned in columns.
func table(w io.Writer, header []string, rows [][]string) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, strings.Join(header, "\t"))
	for _, r := range rows {
		fmt.Fprintln(tw, strings.Join(r, "\t"))
	}
	return tw.Flush()
}

func day(t *time.Time) string {
	if t == nil || t.IsZero() {
		return "-"
	}
	return t.Format(time.DateOnly)
}

func money(amount float64, currency string) string {
	return fmt.Sprintf("%.2f %s", amount, currency)
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

// reported maps errors the notifier already printed to ErrReported.
func reported(err error) error {
	var oe *services.OperationError
	if errors.As(err, &oe) {
		return ErrReported
	}
	return err
}
