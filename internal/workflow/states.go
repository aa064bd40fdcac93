package workflow

import "IssueAssembler/internal/domain"

// Start is the first executable checkpoint of a fresh run.
func Start() domain.Checkpoint {
	return domain.Checkpoint{State: domain.StateDeduplicating}
}

// Normalize maps a stored checkpoint onto an executable one. Empty and not_started
// checkpoints begin at deduplication; per-module states past the last module jump to
// finalizing so a shrunk module list cannot strand the run.
func Normalize(cp domain.Checkpoint, modules int) domain.Checkpoint {
	switch {
	case cp.State == "" || cp.State == domain.StateNotStarted:
		return Start()
	case cp.State.PerModule() && (cp.ModuleIndex < 0 || cp.ModuleIndex >= modules):
		return domain.Checkpoint{State: domain.StateFinalizing}
	default:
		return cp
	}
}

// Next returns the checkpoint that follows a successfully committed step.
func Next(cp domain.Checkpoint, modules int) domain.Checkpoint {
	perModule := func(state domain.WorkflowState) domain.Checkpoint {
		return domain.Checkpoint{State: state, ModuleIndex: cp.ModuleIndex}
	}
	switch cp.State {
	case domain.StateNotStarted:
		return Start()
	case domain.StateDeduplicating:
		if modules == 0 {
			return domain.Checkpoint{State: domain.StateFinalizing}
		}
		return domain.Checkpoint{State: domain.StateSelectingModules}
	case domain.StateSelectingModules:
		return perModule(domain.StateGeneratingTitles)
	case domain.StateGeneratingTitles:
		return perModule(domain.StateGeneratingBodiesBatch1)
	case domain.StateGeneratingBodiesBatch1:
		return perModule(domain.StateGeneratingBodiesBatch2)
	case domain.StateGeneratingBodiesBatch2:
		return perModule(domain.StateFactChecking)
	case domain.StateFactChecking:
		if cp.ModuleIndex+1 < modules {
			return domain.Checkpoint{State: domain.StateSelectingModules, ModuleIndex: cp.ModuleIndex + 1}
		}
		return domain.Checkpoint{State: domain.StateFinalizing}
	case domain.StateFinalizing:
		return domain.Checkpoint{State: domain.StateDraft}
	default:
		return cp
	}
}
