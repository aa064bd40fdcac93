package domain

import (
	"fmt"
	"strings"
)

// Family identifies which kind of content a module renders.
type Family string

const (
	FamilyArticle               Family = "article"
	FamilyPrompt                Family = "prompt"
	FamilyAdvertisement         Family = "advertisement"
	FamilyAIApp                 Family = "ai_app"
	FamilyPartnerRecommendation Family = "partner_recommendation"
)

// Families lists every known module family.
func Families() []Family {
	return []Family{FamilyArticle, FamilyPrompt, FamilyAdvertisement, FamilyAIApp, FamilyPartnerRecommendation}
}

// SelectionMode is the closed set of policies a module may use to pick content.
type SelectionMode uint8

const (
	ModeSequential SelectionMode = iota + 1
	ModeRandom
	ModeScoreBased
	ModePriority
	ModeManual
)

func (m SelectionMode) String() string {
	switch m {
	case ModeSequential:
		return "sequential"
	case ModeRandom:
		return "random"
	case ModeScoreBased:
		return "score_based"
	case ModePriority:
		return "priority"
	case ModeManual:
		return "manual"
	default:
		return fmt.Sprintf("selection_mode(%d)", uint8(m))
	}
}

// ParseSelectionMode maps stored mode names onto the enum; top_score is a legacy alias.
func ParseSelectionMode(value string) (SelectionMode, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "sequential":
		return ModeSequential, nil
	case "random":
		return ModeRandom, nil
	case "score_based", "top_score":
		return ModeScoreBased, nil
	case "priority":
		return ModePriority, nil
	case "manual":
		return ModeManual, nil
	default:
		return 0, fmt.Errorf("unknown selection mode %q", value)
	}
}

// ContentModule is a publication-scoped content slot with its own selection policy.
type ContentModule struct {
	ID              string
	PublicationID   string
	Family          Family
	Name            string
	DisplayOrder    int
	Active          bool
	Mode            SelectionMode
	Count           int
	SelectionBuffer int
	// NextPosition is the 1-based rotation cursor used by sequential mode.
	NextPosition  int
	CursorVersion int
	BlockOrder    []string
}

// Criterion is one AI-scored dimension of a module's rating table.
type Criterion struct {
	ModuleID  string
	Number    int
	Name      string
	Weight    *float64
	PromptKey string
}
