// Package modules resolves a publication's content modules and their eligible candidates.
package modules

import (
	"context"
	"fmt"
	"sort"
	"time"

	"IssueAssembler/internal/domain"
	"IssueAssembler/internal/ports"
)

// FamilyPolicy captures how one module family sources and prepares content.
type FamilyPolicy struct {
	Family domain.Family
	// NeedsGeneration is true when headline and body are written by the AI capability.
	NeedsGeneration bool
	// RequiresModuleEligible restricts candidates to those flagged for module use.
	RequiresModuleEligible bool
	// UsesLookback bounds candidates to the issue's ingestion window.
	UsesLookback bool
}

// DefaultPolicies returns the built-in family policies.
func DefaultPolicies() []FamilyPolicy {
	return []FamilyPolicy{
		{Family: domain.FamilyArticle, NeedsGeneration: true, UsesLookback: true},
		{Family: domain.FamilyPrompt},
		{Family: domain.FamilyAdvertisement},
		{Family: domain.FamilyAIApp},
		{Family: domain.FamilyPartnerRecommendation, RequiresModuleEligible: true},
	}
}

// Registry keeps family policies and reads module configuration from the datastore.
type Registry struct {
	policies map[domain.Family]FamilyPolicy
	store    ports.Store
	lookback time.Duration
}

// NewRegistry builds a registry with the default policies.
func NewRegistry(store ports.Store, lookback time.Duration) *Registry {
	r := &Registry{policies: map[domain.Family]FamilyPolicy{}, store: store, lookback: lookback}
	for _, p := range DefaultPolicies() {
		r.Register(p)
	}
	return r
}

// Register adds or replaces a family policy.
func (r *Registry) Register(policy FamilyPolicy) {
	if r.policies == nil {
		r.policies = map[domain.Family]FamilyPolicy{}
	}
	r.policies[policy.Family] = policy
}

// Resolve returns a family policy or an error if it is absent.
func (r *Registry) Resolve(family domain.Family) (FamilyPolicy, error) {
	if policy, ok := r.policies[family]; ok {
		return policy, nil
	}
	return FamilyPolicy{}, fmt.Errorf("module family %s is not registered", family)
}

// ActiveModules lists the publication's active modules in display order.
func (r *Registry) ActiveModules(ctx context.Context, publicationID string) ([]domain.ContentModule, error) {
	all, err := r.store.ListModules(ctx, publicationID)
	if err != nil {
		return nil, fmt.Errorf("list modules: %w", err)
	}
	active := make([]domain.ContentModule, 0, len(all))
	for _, m := range all {
		if m.Active {
			active = append(active, m)
		}
	}
	SortByDisplayOrder(active)
	return active, nil
}

// SortByDisplayOrder orders modules by display order, then id.
func SortByDisplayOrder(mods []domain.ContentModule) {
	sort.SliceStable(mods, func(i, j int) bool {
		if mods[i].DisplayOrder != mods[j].DisplayOrder {
			return mods[i].DisplayOrder < mods[j].DisplayOrder
		}
		return mods[i].ID < mods[j].ID
	})
}

// Eligible returns the candidates the module may select for this issue.
func (r *Registry) Eligible(ctx context.Context, issue domain.Issue, module domain.ContentModule) ([]domain.Candidate, error) {
	policy, err := r.Resolve(module.Family)
	if err != nil {
		return nil, err
	}
	filter := ports.CandidateFilter{
		PublicationID:      issue.PublicationID,
		Families:           []domain.Family{module.Family},
		IssueID:            issue.ID,
		ModuleID:           module.ID,
		AvailableOnly:      true,
		ExcludeSuppressed:  true,
		ModuleEligibleOnly: policy.RequiresModuleEligible,
	}
	if policy.UsesLookback {
		filter.PublishedSince = r.WindowStart(issue)
	}
	candidates, err := r.store.ListCandidates(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list eligible candidates for module %s: %w", module.ID, err)
	}
	return candidates, nil
}

// WindowStart is the earliest publish time considered for the issue.
func (r *Registry) WindowStart(issue domain.Issue) time.Time {
	if r.lookback <= 0 {
		return time.Time{}
	}
	end := issue.Date.Add(24 * time.Hour)
	return end.Add(-r.lookback)
}

// PooledFamilies lists families whose candidates come from the shared ingestion pool.
func (r *Registry) PooledFamilies() []domain.Family {
	var out []domain.Family
	for _, f := range domain.Families() {
		if p, ok := r.policies[f]; ok && p.UsesLookback {
			out = append(out, f)
		}
	}
	return out
}
