package types

import "time"

// Segment is one transcript line. Times are seconds from the start of the video.
type Segment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// Frame is a single sampled still, JPEG encoded.
type Frame struct {
	Timestamp float64 `json:"timestamp"`
	Image     []byte  `json:"-"`
}

// RawClip is a clip candidate as returned by visual analysis, before clamping.
type RawClip struct {
	StartSec       float64  `json:"start_sec"`
	EndSec         float64  `json:"end_sec"`
	Title          string   `json:"title"`
	Summary        string   `json:"summary"`
	ViralityScore  int      `json:"virality_score"`
	Reasoning      string   `json:"reasoning"`
	Tags           []string `json:"tags"`
	TranscriptStub string   `json:"transcript_stub"`
}

type Clip struct {
	ID             string    `json:"id"`
	Start          float64   `json:"start_sec"`
	End            float64   `json:"end_sec"`
	Title          string    `json:"title"`
	Summary        string    `json:"summary"`
	ViralityScore  int       `json:"virality_score"`
	Reasoning      string    `json:"reasoning"`
	Tags           []string  `json:"tags"`
	TranscriptStub string    `json:"transcript_stub"`
	Embedding      []float32 `json:"-"`
}

// HasEmbedding reports whether the embedding stage produced a vector for c.
func (c Clip) HasEmbedding() bool { return len(c.Embedding) > 0 }

// Contains reports whether t falls in [Start, End).
func (c Clip) Contains(t float64) bool { return t >= c.Start && t < c.End }

// RankedClip is a clip scored against one query. The score never flows back into Clip.
type RankedClip struct {
	Clip
	Score float64 `json:"score"`
}

type SortOrder string

const (
	SortChronological SortOrder = "chronological"
	SortVirality      SortOrder = "virality"
)

// Valid reports whether o names a known order.
func (o SortOrder) Valid() bool {
	return o == SortChronological || o == SortVirality
}

type Manifest struct {
	Input      string          `json:"input"`
	SessionID  string          `json:"session_id"`
	Duration   float64         `json:"duration_sec"`
	CreatedAt  time.Time       `json:"created_at"`
	SortOrder  SortOrder       `json:"sort_order"`
	Query      string          `json:"query,omitempty"`
	// Clips are in visual-analysis order; SortOrder is the display order.
	Clips      []ManifestClip  `json:"clips"`
	Results    []ManifestMatch `json:"results,omitempty"`
	Transcript []Segment       `json:"transcript"`
}

type ManifestClip struct {
	Clip
	Embedded  bool      `json:"embedded"`
	Embedding []float32 `json:"embedding,omitempty"`
}

type ManifestMatch struct {
	ID    string  `json:"id"`
	Score float64 `json:"score"`
}
