// Package pipeline runs the importers in their fixed order against one graph
// engine and reports progress per stage.
package pipeline

import (
	"context"

	"github.com/dusk-indust/cohortgraph/internal/importers"
	"github.com/dusk-indust/cohortgraph/internal/source"
)

// Stage identifies an import stage (0–7). Stages run in numeric order.
type Stage int

const (
	StageGroups         Stage = 0
	StageUsers          Stage = 1
	StageSubjects       Stage = 2
	StageScans          Stage = 3
	StageQuestionnaires Stage = 4
	StageGenetics       Stage = 5
	StageProcessings    Stage = 6
	StageMetaGen        Stage = 7
)

// Stages lists every stage in execution order.
var Stages = []Stage{
	StageGroups, StageUsers, StageSubjects, StageScans,
	StageQuestionnaires, StageGenetics, StageProcessings, StageMetaGen,
}

func (s Stage) String() string {
	names := [...]string{
		importers.NameGroups,
		importers.NameUsers,
		importers.NameSubjects,
		importers.NameScans,
		importers.NameQuestionnaires,
		importers.NameGenetics,
		importers.NameProcessings,
		importers.NameMetaGen,
	}
	if s >= 0 && int(s) < len(names) {
		return names[s]
	}
	return "unknown"
}

// ParseStage maps an importer name to its stage.
func ParseStage(name string) (Stage, bool) {
	for _, s := range Stages {
		if s.String() == name {
			return s, true
		}
	}
	return 0, false
}

// ProgressEvent is emitted to the operator during a run.
type ProgressEvent struct {
	Stage   Stage
	Section string
	Status  ProgressStatus
	Message string
}

// ProgressStatus is the state of a stage or importer within a run.
type ProgressStatus string

const (
	ProgressPending  ProgressStatus = "pending"
	ProgressWorking  ProgressStatus = "working"
	ProgressComplete ProgressStatus = "complete"
	ProgressFailed   ProgressStatus = "failed"
)

// Orchestrator coordinates an import run.
type Orchestrator interface {
	// RunStage executes a single stage over its document.
	RunStage(ctx context.Context, stage Stage, docs *source.Documents) (*importers.Report, error)

	// Run executes every stage that has a document, in order.
	Run(ctx context.Context, docs *source.Documents) ([]*importers.Report, error)

	// Progress returns a channel that emits progress events.
	Progress() <-chan ProgressEvent
}
