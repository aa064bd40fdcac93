package cli

import (
	"bytes"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/sebdah/goldie/v2"

	"IssueAssembler/internal/domain"
	"IssueAssembler/internal/usecase"
)

func TestPrintIssueGolden(t *testing.T) {
	color.NoColor = true

	view := usecase.IssueView{
		Issue: domain.Issue{
			ID:            "issue-1",
			PublicationID: "daily",
			Date:          time.Date(2025, 3, 14, 0, 0, 0, 0, time.UTC),
			Status:        domain.IssueStatusDraft,
			Checkpoint:    domain.Checkpoint{State: domain.StateDraft},
			SubjectLine:   "Models ship and chips follow",
		},
		Modules: []usecase.ModuleView{{
			Module: domain.ContentModule{ID: "m1", Name: "Top stories", Family: domain.FamilyArticle, Mode: domain.ModeScoreBased},
			Items: []domain.ModuleItem{
				{Position: 1, Headline: "Models ship", Active: true},
				{Position: 2, Headline: "Chips follow", Active: true,
					FactCheck: &domain.FactCheck{Accuracy: 5, Compliance: 6, Quality: 7, Reason: "date is wrong"}},
				{Position: 3},
			},
		}},
	}

	var buf bytes.Buffer
	printIssue(&buf, view)

	g := goldie.New(t)
	g.Assert(t, "print_issue", buf.Bytes())
}

func TestParseNumbers(t *testing.T) {
	got, err := parseNumbers(" 1, 3 ")
	if err != nil || len(got) != 2 || got[0] != 1 || got[1] != 3 {
		t.Fatalf("parseNumbers = %v, %v", got, err)
	}
	if _, err := parseNumbers("a"); err == nil {
		t.Fatalf("expected error for non-numeric input")
	}
	if got, err := parseNumbers(""); err != nil || got != nil {
		t.Fatalf("empty input = %v, %v", got, err)
	}
}
