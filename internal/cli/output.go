package cli

import (
	"fmt"
	"io"

	"github.com/fatih/color"

	"IssueAssembler/internal/domain"
	"IssueAssembler/internal/usecase"
)

var (
	success = color.New(color.FgGreen).SprintFunc()
	warning = color.New(color.FgYellow).SprintFunc()
	failure = color.New(color.FgRed).SprintFunc()
	heading = color.New(color.Bold).SprintFunc()
)

func statusLabel(status domain.IssueStatus) string {
	switch status {
	case domain.IssueStatusDraft, domain.IssueStatusInReview, domain.IssueStatusSent:
		return success(string(status))
	case domain.IssueStatusFailed:
		return failure(string(status))
	default:
		return warning(string(status))
	}
}

func printSummary(out io.Writer, s usecase.Summary) {
	if s.IssueID == "" {
		return
	}
	fmt.Fprintf(out, "%s %s  %s  (%s)\n", heading("issue"), s.IssueID, statusLabel(s.Status), s.Checkpoint)
	if s.Pool > 0 {
		fmt.Fprintf(out, "  pool %d, duplicate groups %d, suppressed %d\n", s.Pool, s.Groups, s.Suppressed)
	}
	for _, m := range s.Modules {
		fmt.Fprintf(out, "  %-24s %-12s selected %d  titles %d  bodies %d  checked %d",
			m.Name, m.Mode, m.Selected, m.Titles, m.Bodies, m.FactChecked)
		if m.FactCheckFailed > 0 {
			fmt.Fprintf(out, "  %s", warning(fmt.Sprintf("failed %d", m.FactCheckFailed)))
		}
		fmt.Fprintln(out)
	}
	if s.SubjectLine != "" {
		fmt.Fprintf(out, "  subject: %s\n", s.SubjectLine)
	}
}

func printIssue(out io.Writer, v usecase.IssueView) {
	fmt.Fprintf(out, "%s %s  %s  %s  %s\n", heading("issue"), v.Issue.ID, v.Issue.PublicationID,
		v.Issue.DateKey(), statusLabel(v.Issue.Status))
	fmt.Fprintf(out, "  checkpoint: %s\n", v.Issue.Checkpoint)
	if v.Issue.WorkflowError != "" {
		fmt.Fprintf(out, "  error: %s\n", failure(v.Issue.WorkflowError))
	}
	if v.Issue.SubjectLine != "" {
		fmt.Fprintf(out, "  subject: %s\n", v.Issue.SubjectLine)
	}
	for _, m := range v.Modules {
		mode := m.Module.Mode.String()
		if m.Selection != nil {
			mode = m.Selection.Mode.String()
		}
		fmt.Fprintf(out, "\n%s (%s, %s)\n", heading(m.Module.Name), m.Module.Family, mode)
		for _, it := range m.Items {
			marker := " "
			if it.Active {
				marker = success("●")
			}
			headline := it.Headline
			if headline == "" {
				headline = warning("(no headline)")
			}
			fmt.Fprintf(out, "  %s %2d. %s\n", marker, it.Position, headline)
			if fc := it.FactCheck; fc != nil && !fc.Passed {
				fmt.Fprintf(out, "       %s %.0f/30 %s\n", warning("fact-check"), fc.Total(), fc.Reason)
			}
		}
	}
}
