package usecase

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"IssueAssembler/internal/domain"
	"IssueAssembler/internal/generation"
)

func TestOverrideIsKeptByTheNextRun(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)

	sel, err := f.orch.OverrideSelection(ctx, f.issue.ID, storiesMod.ID, []string{"a2", "a4", "a1"})
	require.NoError(t, err)
	assert.Equal(t, domain.ModeManual, sel.Mode)
	assert.Equal(t, []string{"a2", "a4", "a1"}, sel.CandidateIDs)
	assert.Equal(t, storiesMod.ID, f.candidate(t, "a4").AssignedModuleID)

	summary, err := f.orch.Run(ctx, f.issue.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"a2", "a4", "a1"}, summary.Modules[0].Winners, "manual selections are neither reordered nor trimmed")
	assert.Equal(t, 3, f.gen.Calls(generation.TitlePromptKey))
	assert.Equal(t, domain.ModeManual, f.selection(t, storiesMod.ID).Mode)
}

func TestOverrideAfterAssemblyReranksItems(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	_, err := f.orch.Run(ctx, f.issue.ID)
	require.NoError(t, err)

	_, err = f.orch.OverrideSelection(ctx, f.issue.ID, storiesMod.ID, []string{"a2"})
	require.NoError(t, err)

	assert.Empty(t, f.candidate(t, "a3").AssignedIssueID)
	assert.Empty(t, f.candidate(t, "a1").AssignedIssueID)
	items, err := f.store.ListItems(ctx, f.issue.ID, storiesMod.ID)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "a2", items[0].CandidateID)
	assert.True(t, items[0].Active)
	assert.Equal(t, 1, items[0].Rank)
}

func TestOverrideRejectsInvalidSelections(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	_, err := f.store.Claim(ctx, f.issue.ID, promptsMod.ID, []string{"a3"})
	require.NoError(t, err)

	tests := []struct {
		name string
		ids  []string
	}{
		{"unknown candidate", []string{"a1", "missing"}},
		{"wrong family", []string{"prompt-P-01"}},
		{"listed twice", []string{"a1", "a1"}},
		{"empty id", []string{""}},
		{"empty list", []string{}},
		{"claimed by another module", []string{"a3"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.orch.OverrideSelection(ctx, f.issue.ID, storiesMod.ID, tt.ids)
			assert.ErrorIs(t, err, domain.ErrInvalidSelection)
		})
	}

	_, ok, err := f.store.GetSelection(ctx, f.issue.ID, storiesMod.ID)
	require.NoError(t, err)
	assert.False(t, ok, "rejected overrides leave no selection behind")
}

func TestOverrideChecksIssueAndModule(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, f.store.SaveModule(ctx, domain.ContentModule{
		ID: "foreign", PublicationID: "other", Family: domain.FamilyArticle, Name: "Other", Active: true, Mode: domain.ModeRandom, Count: 1,
	}))

	_, err := f.orch.OverrideSelection(ctx, "missing", storiesMod.ID, []string{"a1"})
	assert.ErrorIs(t, err, domain.ErrIssueNotFound)

	_, err = f.orch.OverrideSelection(ctx, f.issue.ID, "foreign", []string{"a1"})
	assert.ErrorIs(t, err, domain.ErrModuleNotFound)

	require.NoError(t, f.store.SaveCheckpoint(ctx, f.issue.ID, domain.IssueStatusSent, domain.Checkpoint{State: domain.StateDraft}))
	_, err = f.orch.OverrideSelection(ctx, f.issue.ID, storiesMod.ID, []string{"a1"})
	assert.ErrorIs(t, err, domain.ErrIssueSent)
}

func TestOverrideWaitsForTheSelectionLock(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)

	release, err := f.orch.locker.Acquire(ctx, selectionLockKey(f.issue.ID, storiesMod.ID), time.Minute)
	require.NoError(t, err)
	defer release()

	short, cancel := context.WithTimeout(ctx, 30*time.Millisecond)
	defer cancel()
	_, err = f.orch.OverrideSelection(short, f.issue.ID, storiesMod.ID, []string{"a1"})
	assert.ErrorIs(t, err, domain.ErrLockHeld)
	assert.Empty(t, f.candidate(t, "a1").AssignedIssueID)
}
