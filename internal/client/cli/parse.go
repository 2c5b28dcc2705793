package cli

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/creat233/finderid/internal/client/models"
)

// parsePatch turns field=value arguments into a patch. Values that parse
// as JSON numbers, booleans, null, objects or arrays keep that type;
// anything else is a string.
func parsePatch(args []string) (models.Patch, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("nothing to change: pass field=value pairs")
	}
	p := make(models.Patch, len(args))
	for _, arg := range args {
		k, v, ok := strings.Cut(arg, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid change %q, want field=value", arg)
		}
		p[k] = parseValue(v)
	}
	return p, nil
}

func parseValue(v string) any {
	switch v {
	case "true":
		return true
	case "false":
		return false
	case "null":
		return nil
	}
	if n, err := strconv.ParseFloat(v, 64); err == nil && !math.IsInf(n, 0) && !math.IsNaN(n) && !phoneLike(v) {
		return n
	}
	if strings.HasPrefix(v, "{") || strings.HasPrefix(v, "[") {
		var out any
		if json.Unmarshal([]byte(v), &out) == nil {
			return out
		}
	}
	return v
}

// phoneLike keeps "+221..." and "0612..." as strings.
func phoneLike(v string) bool {
	return strings.HasPrefix(v, "+") || len(v) > 1 && v[0] == '0' && v[1] != '.'
}

// parseDay accepts YYYY-MM-DD; empty gives nil.
func parseDay(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return nil, fmt.Errorf("invalid date %q, want YYYY-MM-DD", s)
	}
	return &t, nil
}

// parseItem reads a quote item "description:quantity:unit price".
func parseItem(s string) (models.QuoteItem, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return models.QuoteItem{}, fmt.Errorf("invalid item %q, want description:quantity:price", s)
	}
	qty, err := strconv.ParseFloat(parts[1], 64)
	if err != nil {
		return models.QuoteItem{}, fmt.Errorf("invalid quantity in %q", s)
	}
	price, err := strconv.ParseFloat(parts[2], 64)
	if err != nil {
		return models.QuoteItem{}, fmt.Errorf("invalid price in %q", s)
	}
	return models.QuoteItem{Description: strings.TrimSpace(parts[0]), Quantity: qty, UnitPrice: price}, nil
}

// splitLine splits a shell line on blanks, keeping double quoted parts
// together.
func splitLine(line string) ([]string, error) {
	var (
		out     []string
		cur     strings.Builder
		quoted  bool
		started bool
	)
	for _, r := range line {
		switch {
		case r == '"':
			quoted = !quoted
			started = true
		case (r == ' ' || r == '\t') && !quoted:
			if started {
				out = append(out, cur.String())
				cur.Reset()
				started = false
			}
		default:
			cur.WriteRune(r)
			started = true
		}
	}
	if quoted {
		return nil, fmt.Errorf("unterminated quote")
	}
	if started {
		out = append(out, cur.String())
	}
	return out, nil
}
