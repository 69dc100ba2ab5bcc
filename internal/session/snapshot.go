package session

import (
	"time"

	"github.com/forPelevin/clipscout/internal/index"
	"github.com/forPelevin/clipscout/internal/types"
)

type State string

const (
	StateIdle           State = "idle"
	StateSampling       State = "sampling"
	StateVisualAnalysis State = "visual_analysis"
	StateTranscribing   State = "transcribing"
	StateEmbedding      State = "embedding"
	StateReady          State = "ready"
	StateFailed         State = "failed"
)

// Terminal reports whether no further progress follows st within a run.
func (st State) Terminal() bool { return st == StateReady || st == StateFailed }

// Snapshot is an immutable view of the session. A new value is published for
// every change.
type Snapshot struct {
	SessionID string
	RunID     uint64
	VideoPath string
	State     State
	Percent   float64
	// Err is the fatal error of a Failed run.
	Err error

	SortOrder types.SortOrder
	Index     *index.Index
	// Clips is the published clip set in SortOrder.
	Clips        []types.Clip
	ActiveClipID string
	LastQuery    string
	// Results is the ranking of LastQuery in SortOrder; nil without a query.
	Results []types.RankedClip

	TranscriptErr error
	EmbedFailures int
	StartedAt     time.Time
	FinishedAt    time.Time
}

// Displayed returns what the user sees: the ranked results of the last query,
// or every clip with a zero score when no query is active.
func (s *Snapshot) Displayed() []types.RankedClip {
	if s.LastQuery != "" {
		return append([]types.RankedClip{}, s.Results...)
	}
	out := make([]types.RankedClip, 0, len(s.Clips))
	for _, c := range s.Clips {
		out = append(out, types.RankedClip{Clip: c})
	}
	return out
}

// Event is one progress notification.
type Event struct {
	RunID   uint64  `json:"run_id"`
	State   State   `json:"state"`
	Percent float64 `json:"percent"`
	Clips   int     `json:"clips,omitempty"`
	Err     string  `json:"error,omitempty"`
}
