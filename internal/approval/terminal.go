package approval

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
)

var (
	bannerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("11"))
	levelStyles = map[string]lipgloss.Style{
		"LOW":      lipgloss.NewStyle().Foreground(lipgloss.Color("10")),
		"MEDIUM":   lipgloss.NewStyle().Foreground(lipgloss.Color("11")),
		"HIGH":     lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true),
		"CRITICAL": lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true).Underline(true),
	}
)

// Terminal prompts a human on the controlling terminal for a yes/no answer.
// The read happens in a goroutine so the approval-timeout deadline on ctx
// always wins; an abandoned read costs one leaked goroutine at process end.
type Terminal struct {
	In  io.Reader
	Out io.Writer
}

// NewTerminal builds the stdin/stderr prompt approver.
func NewTerminal() *Terminal {
	return &Terminal{In: os.Stdin, Out: os.Stderr}
}

// RequestApproval implements Approver.
func (t *Terminal) RequestApproval(ctx context.Context, req *Request) (Decision, error) {
	t.printBanner(req)

	answers := make(chan Decision, 1)
	go func() {
		scanner := bufio.NewScanner(t.In)
		for scanner.Scan() {
			switch strings.ToLower(strings.TrimSpace(scanner.Text())) {
			case "yes", "y":
				answers <- DecisionYes
				return
			case "no", "n":
				answers <- DecisionNo
				return
			default:
				fmt.Fprint(t.Out, "please answer yes or no: ")
			}
		}
		// EOF on stdin is a refusal, not an error.
		answers <- DecisionNo
	}()

	select {
	case d := <-answers:
		return d, nil
	case <-ctx.Done():
		fmt.Fprintln(t.Out)
		return DecisionTimeout, nil
	}
}

func (t *Terminal) printBanner(req *Request) {
	level := req.Assessment.Level.String()
	styled := level
	if f, ok := t.Out.(*os.File); ok && isatty.IsTerminal(f.Fd()) {
		if style, found := levelStyles[level]; found {
			styled = style.Render(level)
		}
	}

	fmt.Fprintln(t.Out, bannerStyle.Render("approval required"))
	fmt.Fprintf(t.Out, "  run:   %s\n", req.RunID)
	fmt.Fprintf(t.Out, "  sql:   %s\n", strings.TrimSpace(req.SQL))
	fmt.Fprintf(t.Out, "  risk:  %s\n", styled)
	for _, reason := range req.Assessment.Reasons() {
		fmt.Fprintf(t.Out, "         - %s\n", reason)
	}
	if req.DryRun != nil {
		exactness := "exact"
		if !req.DryRun.Exact {
			exactness = "approximate"
		}
		fmt.Fprintf(t.Out, "  rows:  %d (%s)\n", req.DryRun.EstimatedRows, exactness)
	}
	fmt.Fprint(t.Out, "proceed? (yes/no): ")
}
