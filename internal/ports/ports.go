package ports

import (
	"context"
	"time"

	"IssueAssembler/internal/domain"
)

// IssueRepository persists issue rows and their workflow checkpoint.
type IssueRepository interface {
	CreateIssue(ctx context.Context, issue domain.Issue) error
	GetIssue(ctx context.Context, id string) (domain.Issue, error)
	FindIssue(ctx context.Context, publicationID string, day time.Time) (domain.Issue, error)
	SaveCheckpoint(ctx context.Context, issueID string, status domain.IssueStatus, cp domain.Checkpoint) error
	MarkFailed(ctx context.Context, issueID string, cp domain.Checkpoint, cause string) error
	ResetWorkflow(ctx context.Context, issueID string) error
	SaveIssueContent(ctx context.Context, issueID, subjectLine string, welcome domain.WelcomeText) error
}

// ModuleRepository exposes publication module configuration and the rotation cursor.
type ModuleRepository interface {
	ListModules(ctx context.Context, publicationID string) ([]domain.ContentModule, error)
	GetModule(ctx context.Context, id string) (domain.ContentModule, error)
	ListCriteria(ctx context.Context, moduleID string) ([]domain.Criterion, error)
	// AdvanceCursor performs a compare-and-swap on the module's cursor version and marks the
	// issue's selection as advanced atomically; false means the selection was already marked.
	AdvanceCursor(ctx context.Context, issueID, moduleID string, expectedVersion, nextPosition int) (bool, error)
}

// CandidateFilter narrows candidate reads; zero values mean "no restriction".
type CandidateFilter struct {
	PublicationID  string
	Families       []domain.Family
	PublishedSince time.Time
	// IssueID with ModuleID restricts to candidates unclaimed or claimed by that module;
	// IssueID alone restricts to unclaimed candidates.
	IssueID            string
	ModuleID           string
	AvailableOnly      bool
	ExcludeSuppressed  bool
	ModuleEligibleOnly bool
	IncludeExcluded    bool
}

// Suppression marks a candidate as a duplicate of a representative for one issue.
type Suppression struct {
	CandidateID    string
	Representative string
}

// CandidateRepository reads candidates and manages per-issue claims and suppressions.
type CandidateRepository interface {
	ListCandidates(ctx context.Context, filter CandidateFilter) ([]domain.Candidate, error)
	GetCandidates(ctx context.Context, ids []string) ([]domain.Candidate, error)
	ClearSuppressions(ctx context.Context, issueID string) error
	Suppress(ctx context.Context, issueID string, suppressions []Suppression) error
	// Claim assigns ids to the module and returns those it now owns.
	Claim(ctx context.Context, issueID, moduleID string, ids []string) ([]string, error)
	// Release unassigns every candidate held by the module except keep.
	Release(ctx context.Context, issueID, moduleID string, keep []string) (int, error)
	ReleaseIssue(ctx context.Context, issueID string) (int, error)
	SaveRating(ctx context.Context, candidateID string, rating domain.Rating) error
}

// CandidateSink stores freshly ingested candidates.
type CandidateSink interface {
	// IngestCandidate inserts c unless its id already exists and reports whether it was new.
	IngestCandidate(ctx context.Context, c domain.Candidate) (bool, error)
}

// SelectionRepository persists module selections and their working item rows.
type SelectionRepository interface {
	GetSelection(ctx context.Context, issueID, moduleID string) (domain.ModuleSelection, bool, error)
	SaveSelection(ctx context.Context, selection domain.ModuleSelection) error
	ReplaceItems(ctx context.Context, issueID, moduleID string, items []domain.ModuleItem) error
	ListItems(ctx context.Context, issueID, moduleID string) ([]domain.ModuleItem, error)
	SaveHeadline(ctx context.Context, itemID, headline string) error
	SaveBody(ctx context.Context, itemID, headline, body string, wordCount int) error
	SaveFactCheck(ctx context.Context, itemID string, check domain.FactCheck) error
	RankItems(ctx context.Context, issueID, moduleID string, rankedIDs []string) error
	DeleteIssueSelections(ctx context.Context, issueID string) error
}

// Store is the full datastore capability consumed by the pipeline.
type Store interface {
	IssueRepository
	ModuleRepository
	CandidateRepository
	SelectionRepository
}

// Generator is the external AI generation capability. The response is decoded into out;
// non-JSON or incomplete responses must surface as domain.ErrMalformedResponse.
type Generator interface {
	Generate(ctx context.Context, promptKey string, input any, out any) error
}

// Alert describes a fatal workflow failure for operators.
type Alert struct {
	IssueID       string    `json:"issue_id"`
	PublicationID string    `json:"publication_id"`
	State         string    `json:"state"`
	Message       string    `json:"message"`
	At            time.Time `json:"at"`
}

// Alerter notifies operators about fatal failures.
type Alerter interface {
	Notify(ctx context.Context, alert Alert) error
}

// Locker guards manual overrides against racing auto-selection.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(), err error)
}

// Scheduler controls when pipelines execute.
type Scheduler interface {
	Start(ctx context.Context, job func(time.Time)) error
	Stop(ctx context.Context) error
}
