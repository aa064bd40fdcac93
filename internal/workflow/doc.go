// Package workflow holds the issue assembly state machine: the transition table over
// persisted checkpoints and the step harness that retries each attempt within a time budget.
package workflow
