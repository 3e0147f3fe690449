// Stage lifecycle for the batch pipeline. The orchestrator submits and
// exits; completion ordering is the scheduler's job, so a stage here only
// moves through the submission-side states.

package pipeline

import (
	"sync"
	"time"
)

// StageStatus represents the lifecycle of one pipeline stage.
type StageStatus string

const (
	StagePending   StageStatus = "pending"
	StageSubmitted StageStatus = "submitted"
	StageRunning   StageStatus = "running"
	StageCompleted StageStatus = "completed"
	StageFailed    StageStatus = "failed"
	StageSkipped   StageStatus = "skipped"
)

// DepKind is the scheduler dependency kind between two stages.
type DepKind string

const (
	AfterOK  DepKind = "afterok"
	AfterAny DepKind = "afterany"
)

type Dependency struct {
	On   *Stage
	Kind DepKind
}

// Stage is one node of the pipeline DAG.
type Stage struct {
	Name      string
	Queue     string
	Payload   []string // script body lines after the scheduler headers
	ArraySize int      // > 0 makes this a job array 1..ArraySize
	Deps      []Dependency
	MailAtEnd bool

	Status      StageStatus
	JobID       string
	SubmittedAt time.Time
	UpdatedAt   time.Time

	mu sync.Mutex
}

func NewStage(name, queue string, payload []string) *Stage {
	return &Stage{
		Name:    name,
		Queue:   queue,
		Payload: payload,
		Status:  StagePending,
	}
}

// After declares a dependency on another stage.
func (s *Stage) After(on *Stage, kind DepKind) *Stage {
	s.Deps = append(s.Deps, Dependency{On: on, Kind: kind})
	return s
}

func (s *Stage) setStatus(status StageStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Status = status
	s.UpdatedAt = time.Now()
}

// MarkSubmitted records the scheduler-assigned job ID.
func (s *Stage) MarkSubmitted(jobID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Status = StageSubmitted
	s.JobID = jobID
	s.SubmittedAt = time.Now()
	s.UpdatedAt = s.SubmittedAt
}

// MarkFailed marks the stage terminally failed.
func (s *Stage) MarkFailed() { s.setStatus(StageFailed) }

// MarkSkipped marks the stage as never submitted because an afterok
// dependency already failed.
func (s *Stage) MarkSkipped() { s.setStatus(StageSkipped) }

// Blocked reports whether an afterok dependency is terminally failed or
// skipped, which makes submitting this stage pointless. An afterany
// dependency never blocks.
func (s *Stage) Blocked() bool {
	for _, d := range s.Deps {
		if d.Kind != AfterOK {
			continue
		}
		if d.On.Status == StageFailed || d.On.Status == StageSkipped {
			return true
		}
	}
	return false
}
