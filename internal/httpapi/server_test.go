package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"IssueAssembler/internal/domain"
	"IssueAssembler/internal/usecase"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeAssembler struct {
	mu       sync.Mutex
	runs     []string
	err      error
	override []string
}

func (f *fakeAssembler) Run(_ context.Context, id string) (usecase.Summary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs = append(f.runs, id)
	if f.err != nil {
		return usecase.Summary{}, f.err
	}
	return usecase.Summary{IssueID: id, Status: domain.IssueStatusDraft, Checkpoint: "draft"}, nil
}

func (f *fakeAssembler) Reprocess(ctx context.Context, id string) (usecase.Summary, error) {
	return f.Run(ctx, id)
}

func (f *fakeAssembler) OverrideSelection(_ context.Context, issueID, moduleID string, ids []string) (domain.ModuleSelection, error) {
	if f.err != nil {
		return domain.ModuleSelection{}, f.err
	}
	f.override = ids
	return domain.ModuleSelection{IssueID: issueID, ModuleID: moduleID, Mode: domain.ModeManual, CandidateIDs: ids}, nil
}

func (f *fakeAssembler) Inspect(_ context.Context, id string) (usecase.IssueView, error) {
	if f.err != nil {
		return usecase.IssueView{}, f.err
	}
	return usecase.IssueView{
		Issue: domain.Issue{
			ID: id, PublicationID: "daily", Date: time.Date(2025, 3, 14, 0, 0, 0, 0, time.UTC),
			Status: domain.IssueStatusDraft, Checkpoint: domain.Checkpoint{State: domain.StateDraft},
		},
		Modules: []usecase.ModuleView{{
			Module: domain.ContentModule{ID: "m1", Name: "Top stories", Family: domain.FamilyArticle, Mode: domain.ModeScoreBased, Count: 1},
			Items: []domain.ModuleItem{{
				ID: "it1", CandidateID: "c1", Position: 1, Headline: "H", Rank: 1, Active: true,
				FactCheck: &domain.FactCheck{Accuracy: 9, Compliance: 9, Quality: 8, Passed: true},
			}},
		}},
	}, nil
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestGetIssueRendersView(t *testing.T) {
	t.Parallel()
	srv := NewServer(&fakeAssembler{}, nil, Options{})

	rec := do(t, srv.Handler(), http.MethodGet, "/v1/issues/i1", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var got issueResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "2025-03-14", got.Date)
	assert.Equal(t, "draft", got.Checkpoint)
	require.Len(t, got.Modules, 1)
	assert.Equal(t, "score_based", got.Modules[0].Mode)
	require.Len(t, got.Modules[0].Items, 1)
	require.NotNil(t, got.Modules[0].Items[0].FactCheck)
	assert.InDelta(t, 26, got.Modules[0].Items[0].FactCheck.Total, 1e-9)
}

func TestAssembleWaitReturnsSummary(t *testing.T) {
	t.Parallel()
	srv := NewServer(&fakeAssembler{}, nil, Options{})

	rec := do(t, srv.Handler(), http.MethodPost, "/v1/issues/i1/assemble?wait=true", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"draft"`)
}

func TestAssembleInBackground(t *testing.T) {
	t.Parallel()
	fake := &fakeAssembler{}
	srv := NewServer(fake, nil, Options{})

	rec := do(t, srv.Handler(), http.MethodPost, "/v1/issues/i9/reprocess", "")
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.NoError(t, srv.Wait(context.Background()))
	fake.mu.Lock()
	defer fake.mu.Unlock()
	assert.Equal(t, []string{"i9"}, fake.runs)
}

func TestOverrideSelection(t *testing.T) {
	t.Parallel()
	fake := &fakeAssembler{}
	srv := NewServer(fake, nil, Options{})

	rec := do(t, srv.Handler(), http.MethodPut, "/v1/issues/i1/modules/m1/selection", `{"candidate_ids":["a","b"]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"a", "b"}, fake.override)
	assert.Contains(t, rec.Body.String(), `"mode":"manual"`)

	bad := do(t, srv.Handler(), http.MethodPut, "/v1/issues/i1/modules/m1/selection", `{"candidate_ids":`)
	assert.Equal(t, http.StatusBadRequest, bad.Code)
}

func TestErrorStatusMapping(t *testing.T) {
	t.Parallel()
	cases := []struct {
		err  error
		want int
	}{
		{domain.ErrIssueNotFound, http.StatusNotFound},
		{domain.ErrModuleNotFound, http.StatusNotFound},
		{domain.ErrInvalidSelection, http.StatusBadRequest},
		{domain.ErrIssueFailed, http.StatusConflict},
		{domain.ErrIssueSent, http.StatusConflict},
		{fmt.Errorf("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		srv := NewServer(&fakeAssembler{err: fmt.Errorf("wrapped: %w", tc.err)}, nil, Options{})
		rec := do(t, srv.Handler(), http.MethodGet, "/v1/issues/x", "")
		assert.Equal(t, tc.want, rec.Code, tc.err.Error())
	}
}

func TestHealthz(t *testing.T) {
	t.Parallel()
	srv := NewServer(&fakeAssembler{}, nil, Options{AllowedOrigins: []string{"https://ops.example.org"}})
	rec := do(t, srv.Handler(), http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}
