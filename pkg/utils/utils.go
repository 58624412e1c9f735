package utils

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/vctt94/slotbisonrelay/pkg/session"
)

// BlankGrid returns a cols x rows grid of zero symbols.
func BlankGrid(cols, rows int) session.Grid {
	g := make(session.Grid, cols)
	for i := range g {
		g[i] = make([]int, rows)
	}
	return g
}

// FormatGrid renders a column-major grid row by row, for logs and the
// command line tool.
func FormatGrid(g session.Grid) string {
	if len(g) == 0 {
		return "None"
	}
	rows := 0
	for _, col := range g {
		if len(col) > rows {
			rows = len(col)
		}
	}

	var b strings.Builder
	for r := 0; r < rows; r++ {
		for c, col := range g {
			if c > 0 {
				b.WriteByte(' ')
			}
			if r < len(col) {
				fmt.Fprintf(&b, "%2d", col[r])
			} else {
				b.WriteString(" .")
			}
		}
		if r < rows-1 {
			b.WriteByte('\n')
		}
	}
	return b.String()
}

// FormatPaylines lists the winning lines of a spin.
func FormatPaylines(lines []session.PaylineWin) string {
	if len(lines) == 0 {
		return "no win"
	}
	parts := make([]string, 0, len(lines))
	for _, l := range lines {
		parts = append(parts, fmt.Sprintf("line %s: %dx%d = %s", l.LineKey, l.Count,
			l.Symbol, l.Win.StringFixed(2)))
	}
	return strings.Join(parts, ", ")
}

// FormatMoney renders an amount with two decimals and the currency code.
func FormatMoney(v decimal.Decimal, currency string) string {
	if currency == "" {
		return v.StringFixed(2)
	}
	return v.StringFixed(2) + " " + currency
}

// EnsureDataDirExists creates the datadir and necessary subdirectories if they don't exist
func EnsureDataDirExists(datadir string) error {
	// Create main datadir
	if err := os.MkdirAll(datadir, 0700); err != nil {
		return fmt.Errorf("failed to create datadir %s: %v", datadir, err)
	}

	// Create logs subdirectory
	logsDir := filepath.Join(datadir, "logs")
	if err := os.MkdirAll(logsDir, 0700); err != nil {
		return fmt.Errorf("failed to create logs directory %s: %v", logsDir, err)
	}

	return nil
}
