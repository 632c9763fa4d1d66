package deck

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// Stage names the pipeline steps in their fixed execution order.
type Stage string

const (
	StageExtract       Stage = "extract"
	StageFigures       Stage = "figures"
	StagePlan          Stage = "plan"
	StageAssembleDoc   Stage = "assemble_doc"
	StageNarrate       Stage = "narrate"
	StageRender        Stage = "render"
	StageAssembleVideo Stage = "assemble_video"
)

// Stages returns the fixed stage order.
func Stages() []Stage {
	return []Stage{
		StageExtract, StageFigures, StagePlan, StageAssembleDoc,
		StageNarrate, StageRender, StageAssembleVideo,
	}
}

// StageStatus is one stage's lifecycle state.
type StageStatus string

const (
	StatusPending    StageStatus = "pending"
	StatusProcessing StageStatus = "processing"
	StatusComplete   StageStatus = "complete"
	StatusError      StageStatus = "error"
	StatusSkipped    StageStatus = "skipped"
)

// Terminal reports whether a stage has finished (one way or another).
func (s StageStatus) Terminal() bool {
	return s == StatusComplete || s == StatusError || s == StatusSkipped
}

// StageState is the observable record for one stage: status, a
// human-readable message, and optional progress counters.
type StageState struct {
	Status  StageStatus `json:"status"`
	Message string      `json:"message,omitempty"`
	Current int         `json:"current,omitempty"`
	Total   int         `json:"total,omitempty"`
}

// PipelineRun tracks per-stage status for one run. It is informational
// only: no stage consults it for correctness, but the server polls it
// concurrently, hence the lock. Passed explicitly into the controller;
// there is no ambient global run state.
type PipelineRun struct {
	mu     sync.Mutex
	stages map[Stage]*StageState
	logger *logrus.Logger
}

func NewPipelineRun(logger *logrus.Logger) *PipelineRun {
	stages := make(map[Stage]*StageState, len(Stages()))
	for _, s := range Stages() {
		stages[s] = &StageState{Status: StatusPending}
	}
	return &PipelineRun{stages: stages, logger: logger}
}

func (r *PipelineRun) set(stage Stage, status StageStatus, message string) {
	r.mu.Lock()
	st := r.stages[stage]
	st.Status = status
	st.Message = message
	r.mu.Unlock()

	if r.logger != nil {
		entry := r.logger.WithFields(logrus.Fields{"stage": stage, "status": status})
		switch status {
		case StatusError:
			entry.Error(message)
		default:
			entry.Info(message)
		}
	}
}

func (r *PipelineRun) Start(stage Stage, message string)    { r.set(stage, StatusProcessing, message) }
func (r *PipelineRun) Complete(stage Stage, message string) { r.set(stage, StatusComplete, message) }
func (r *PipelineRun) Fail(stage Stage, message string)     { r.set(stage, StatusError, message) }
func (r *PipelineRun) Skip(stage Stage, message string)     { r.set(stage, StatusSkipped, message) }

// Progress updates the (current, total) counters of a processing stage.
func (r *PipelineRun) Progress(stage Stage, current, total int) {
	r.mu.Lock()
	st := r.stages[stage]
	st.Current = current
	st.Total = total
	r.mu.Unlock()
}

// State returns a copy of one stage's record.
func (r *PipelineRun) State(stage Stage) StageState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return *r.stages[stage]
}

// Snapshot returns a copy of every stage record, for status endpoints.
func (r *PipelineRun) Snapshot() map[Stage]StageState {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[Stage]StageState, len(r.stages))
	for s, st := range r.stages {
		out[s] = *st
	}
	return out
}

// Done reports whether every stage reached a terminal status.
func (r *PipelineRun) Done() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, st := range r.stages {
		if !st.Status.Terminal() {
			return false
		}
	}
	return true
}
