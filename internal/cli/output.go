package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

// isTerminal decides between a table and JSON.
var isTerminal = func(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

type table struct {
	w *tabwriter.Writer
}

func (t *table) row(cells ...any) {
	parts := make([]string, len(cells))
	for i, c := range cells {
		parts[i] = fmt.Sprint(c)
	}
	fmt.Fprintln(t.w, strings.Join(parts, "\t"))
}

// print writes v as indented JSON when the output is not a terminal or
// --json is set, and renders fill as a table otherwise.
func (o *options) print(cmd *cobra.Command, v any, fill func(*table)) error {
	w := cmd.OutOrStdout()
	if o.jsonOut || !isTerminal(w) {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	t := &table{w: tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)}
	fill(t)
	return t.w.Flush()
}
