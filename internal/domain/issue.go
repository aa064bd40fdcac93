package domain

import (
	"fmt"
	"time"
)

// IssueStatus enumerates the lifecycle of a newsletter issue.
type IssueStatus string

const (
	IssueStatusPending    IssueStatus = "pending"
	IssueStatusProcessing IssueStatus = "processing"
	IssueStatusDraft      IssueStatus = "draft"
	IssueStatusInReview   IssueStatus = "in_review"
	IssueStatusSent       IssueStatus = "sent"
	IssueStatusFailed     IssueStatus = "failed"
)

// Assembled reports whether the pipeline has already produced this issue.
func (s IssueStatus) Assembled() bool {
	switch s {
	case IssueStatusDraft, IssueStatusInReview, IssueStatusSent:
		return true
	default:
		return false
	}
}

// WorkflowState is the persisted position of the assembly state machine.
type WorkflowState string

const (
	StateNotStarted             WorkflowState = "not_started"
	StateDeduplicating          WorkflowState = "deduplicating"
	StateSelectingModules       WorkflowState = "selecting_modules"
	StateGeneratingTitles       WorkflowState = "generating_titles"
	StateGeneratingBodiesBatch1 WorkflowState = "generating_bodies_batch1"
	StateGeneratingBodiesBatch2 WorkflowState = "generating_bodies_batch2"
	StateFactChecking           WorkflowState = "fact_checking"
	StateFinalizing             WorkflowState = "finalizing"
	StateDraft                  WorkflowState = "draft"
	StateFailed                 WorkflowState = "failed"
)

// PerModule reports whether the state repeats once per active module.
func (s WorkflowState) PerModule() bool {
	switch s {
	case StateSelectingModules, StateGeneratingTitles, StateGeneratingBodiesBatch1,
		StateGeneratingBodiesBatch2, StateFactChecking:
		return true
	default:
		return false
	}
}

// Terminal reports whether the workflow has nothing left to execute.
func (s WorkflowState) Terminal() bool {
	return s == StateDraft || s == StateFailed
}

// Checkpoint is the durable resume point stored on the issue row.
type Checkpoint struct {
	State       WorkflowState
	ModuleIndex int
}

func (c Checkpoint) String() string {
	if c.State.PerModule() {
		return fmt.Sprintf("%s[%d]", c.State, c.ModuleIndex)
	}
	return string(c.State)
}

// WelcomeText holds the short summary written at the top of an issue.
type WelcomeText struct {
	Intro   string `json:"intro"`
	Tagline string `json:"tagline"`
	Summary string `json:"summary"`
}

// Issue is one dated edition of a publication and the root aggregate of the pipeline.
type Issue struct {
	ID            string
	PublicationID string
	Date          time.Time
	Status        IssueStatus
	Checkpoint    Checkpoint
	WorkflowError string
	SubjectLine   string
	Welcome       WelcomeText
	PollSnapshot  string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// DateKey renders the calendar date used for the per-day uniqueness invariant.
func (i Issue) DateKey() string {
	return i.Date.Format(time.DateOnly)
}
