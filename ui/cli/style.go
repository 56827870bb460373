// Copyright (c) 2026 Netkeeper Team
// Netkeeper - WireGuard profile provisioning
// This source code is licensed under the MIT license found in the LICENSE file.

package cli

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"
)

var (
	okStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	warnStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Bold(true)
	codeStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
)

// isTerminal reports whether w is an interactive terminal. Styling and
// prompts are skipped otherwise.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func render(w io.Writer, s lipgloss.Style, text string) string {
	if !isTerminal(w) {
		return text
	}
	return s.Render(text)
}

// success prints a green status line.
func success(w io.Writer, msg string) {
	fmt.Fprintln(w, render(w, okStyle, msg))
}

// warn prints a highlighted status line.
func warn(w io.Writer, msg string) {
	fmt.Fprintln(w, render(w, warnStyle, msg))
}

// table writes tab-separated rows. Cells are not styled so tabwriter can
// measure them.
func table(w io.Writer, header string, rows [][]any) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, header)
	for _, r := range rows {
		for i, c := range r {
			if i > 0 {
				fmt.Fprint(tw, "\t")
			}
			fmt.Fprint(tw, c)
		}
		fmt.Fprintln(tw)
	}
	return tw.Flush()
}
