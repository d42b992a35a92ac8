// Package report renders the comparison of training runs for the terminal.
package report

import (
	"fmt"
	"github.com/charmbracelet/lipgloss"
	"github.com/janpfeifer/lazyamp/internal/verify"
	"golang.org/x/term"
	"io"
	"os"
	"regexp"
	"strings"
	"time"
)

// Run is the result of one training run.
type Run struct {
	// Name of the run, e.g. "reference" or "accelerator".
	Name string

	// Backend used, and the AMP policy description.
	Backend, Policy string

	// Losses of each epoch.
	Losses []float64

	// Accuracy of the trained model, or a negative value if not evaluated.
	Accuracy float64

	Elapsed time.Duration
}

// Report of a comparison between a reference and a candidate run.
type Report struct {
	Reference, Candidate Run

	// Tolerance used to verify the losses.
	Tolerance float64

	// Color enables colors and borders.
	Color bool
}

var ansiFilter = regexp.MustCompile(`\x1b\[[0-9;]*[a-zA-Z]`)

// displayWidth of s removes its color/control sequences and returns the length of what is left.
func displayWidth(s string) int {
	return len([]rune(ansiFilter.ReplaceAllString(s, "")))
}

// Verify returns the verification error of the losses, or nil if they are close.
func (r *Report) Verify() error {
	return verify.Close(r.Candidate.Losses, r.Reference.Losses, r.Tolerance)
}

// Render the report as a string.
func (r *Report) Render() string {
	const columnWidth = 14
	cell := lipgloss.NewStyle().Width(columnWidth).Align(lipgloss.Right)
	header := cell.Bold(true)
	if r.Color {
		header = header.Foreground(lipgloss.Color("12"))
	}

	var rows []string
	rows = append(rows, lipgloss.JoinHorizontal(lipgloss.Top,
		header.Render("Epoch"),
		header.Render(r.Reference.Name),
		header.Render(r.Candidate.Name),
		header.Render("|Diff|")))
	numEpochs := max(len(r.Reference.Losses), len(r.Candidate.Losses))
	lossAt := func(losses []float64, epoch int) string {
		if epoch >= len(losses) {
			return "-"
		}
		return fmt.Sprintf("%.4f", losses[epoch])
	}
	for epoch := range numEpochs {
		diff := "-"
		if epoch < len(r.Reference.Losses) && epoch < len(r.Candidate.Losses) {
			diff = fmt.Sprintf("%.2e", verify.MaxDiff(r.Candidate.Losses[epoch:epoch+1], r.Reference.Losses[epoch:epoch+1]))
		}
		rows = append(rows, lipgloss.JoinHorizontal(lipgloss.Top,
			cell.Render(fmt.Sprintf("%d", epoch)),
			cell.Render(lossAt(r.Reference.Losses, epoch)),
			cell.Render(lossAt(r.Candidate.Losses, epoch)),
			cell.Render(diff)))
	}
	table := lipgloss.JoinVertical(lipgloss.Left, rows...)

	var parts []string
	for _, run := range []Run{r.Reference, r.Candidate} {
		line := fmt.Sprintf("%s: backend=%s, %s, elapsed %s", run.Name, run.Backend, run.Policy,
			run.Elapsed.Round(time.Millisecond))
		if run.Accuracy >= 0 {
			line += fmt.Sprintf(", accuracy %.1f%%", 100*run.Accuracy)
		}
		parts = append(parts, line)
	}
	parts = append(parts, "", table, "", r.verdict())
	content := lipgloss.JoinVertical(lipgloss.Left, parts...)
	if r.Color {
		content = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("8")).
			Padding(0, 1).
			Render(content)
	}
	return content
}

func (r *Report) verdict() string {
	err := r.Verify()
	var msg string
	color := lipgloss.Color("10")
	if err == nil {
		msg = fmt.Sprintf("PASS: losses within tolerance %g", r.Tolerance)
	} else {
		msg = fmt.Sprintf("FAIL: %v", err)
		color = lipgloss.Color("9")
	}
	style := lipgloss.NewStyle().Bold(true)
	if r.Color {
		style = style.Foreground(color)
	}
	return style.Render(msg)
}

// Print the rendered report to w. If w is a terminal, the report is centered.
func (r *Report) Print(w io.Writer) {
	block := r.Render()
	terminalWidth := 0
	if f, ok := w.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		terminalWidth, _, _ = term.GetSize(int(f.Fd()))
	}
	fmt.Fprintln(w, center(block, terminalWidth))
}

// center indents every line of block so it is centered in width. If width is <= 0 the block is
// returned unchanged.
func center(block string, width int) string {
	lines := strings.Split(block, "\n")
	blockWidth := 0
	for _, line := range lines {
		blockWidth = max(blockWidth, displayWidth(line))
	}
	indent := (width - blockWidth) / 2
	if indent <= 0 {
		return block
	}
	for ii, line := range lines {
		if line != "" {
			lines[ii] = strings.Repeat(" ", indent) + line
		}
	}
	return strings.Join(lines, "\n")
}
