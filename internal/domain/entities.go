package domain

import "time"

// Source records who produced an entity.
type Source string

const (
	SourceLLM    Source = "llm"
	SourceManual Source = "manual"
)

// Chunk is a window of a document. Text equals the document slice starting
// at BaseOffset.
type Chunk struct {
	ID         int    `json:"chunk_id"`
	Text       string `json:"text"`
	BaseOffset int    `json:"base_offset"`
	Length     int    `json:"length"`
}

// Entity is a labeled span. Offsets are code-point offsets, end exclusive.
type Entity struct {
	StartChar  int      `json:"start_char"`
	EndChar    int      `json:"end_char"`
	Text       string   `json:"text"`
	Label      string   `json:"label"`
	Source     Source   `json:"source,omitempty"`
	Confidence *float64 `json:"confidence,omitempty"`
	ChunkID    *int     `json:"chunk_id,omitempty"`
}

// Len returns the span length.
func (e Entity) Len() int {
	return e.EndChar - e.StartChar
}

// Score returns the confidence, or 0 when the model gave none.
func (e Entity) Score() float64 {
	if e.Confidence == nil {
		return 0
	}
	return *e.Confidence
}

type TagDefinition struct {
	Name       string `json:"tag_name" yaml:"tag_name"`
	Definition string `json:"definition" yaml:"definition"`
	Examples   string `json:"examples" yaml:"examples"`
}

type FewShotExample struct {
	Text   string `json:"text" yaml:"text"`
	Output string `json:"output" yaml:"output"`
}

const (
	ReasonInvalidPosition = "Invalid position boundaries"
	ReasonTextMismatch    = "Text mismatch"
)

type ValidationError struct {
	Index        int     `json:"entity_index"`
	Reason       string  `json:"error"`
	ExpectedText string  `json:"expected_text"`
	ActualText   *string `json:"actual_text,omitempty"`
	StartChar    int     `json:"start_char"`
	EndChar      int     `json:"end_char"`
	Label        string  `json:"label"`
}

type WarningType string

const (
	WarningOverlap    WarningType = "overlap"
	WarningZeroLength WarningType = "zero_length"
)

// ValidationWarning describes a diagnostic that does not break the offset
// invariant. Overlap warnings carry two indices, zero-length warnings one.
type ValidationWarning struct {
	Type     WarningType `json:"type"`
	Indices  []int       `json:"indices"`
	Entities []Entity    `json:"entities"`
}

type ValidationResult struct {
	Total    int                 `json:"total_entities"`
	Correct  int                 `json:"correct_entities"`
	Errors   []ValidationError   `json:"errors"`
	Warnings []ValidationWarning `json:"warnings"`
}

type ValidationSummary struct {
	Total              int     `json:"total_entities"`
	Correct            int     `json:"correct_entities"`
	ErrorCount         int     `json:"error_count"`
	WarningCount       int     `json:"warning_count"`
	AccuracyPercentage float64 `json:"accuracy_percentage"`
	HasErrors          bool    `json:"has_errors"`
	HasWarnings        bool    `json:"has_warnings"`
	Status             string  `json:"validation_status"`
}

type FixStats struct {
	Total           int    `json:"total"`
	AlreadyCorrect  int    `json:"already_correct"`
	Fixed           int    `json:"fixed"`
	Unfixable       int    `json:"unfixable"`
	MultipleMatches int    `json:"multiple_matches"`
	StrategyUsed    string `json:"strategy_used"`
}

type ChunkStatus string

const (
	ChunkSucceeded ChunkStatus = "success"
	ChunkFailed    ChunkStatus = "error"
	ChunkSkipped   ChunkStatus = "skipped"
)

// ChunkResult is one line of the per-chunk processing log.
type ChunkResult struct {
	ChunkID      int           `json:"chunk_id"`
	BaseOffset   int           `json:"base_offset"`
	Length       int           `json:"length"`
	Status       ChunkStatus   `json:"status"`
	EntityCount  int           `json:"entities_found"`
	InputTokens  int           `json:"input_tokens"`
	OutputTokens int           `json:"output_tokens"`
	Cost         float64       `json:"cost"`
	Attempts     int           `json:"attempts"`
	Cached       bool          `json:"cached,omitempty"`
	Error        string        `json:"error,omitempty"`
	Duration     time.Duration `json:"duration"`
}

type PipelineStatistics struct {
	RunID             string        `json:"run_id"`
	Model             string        `json:"model"`
	TotalEntities     int           `json:"total_entities"`
	RawEntities       int           `json:"raw_entities"`
	DuplicatesRemoved int           `json:"duplicates_removed"`
	InvalidDropped    int           `json:"invalid_dropped"`
	TotalChunks       int           `json:"total_chunks"`
	SuccessfulChunks  int           `json:"successful_chunks"`
	FailedChunks      int           `json:"failed_chunks"`
	InputTokens       int           `json:"input_tokens"`
	OutputTokens      int           `json:"output_tokens"`
	TotalTokens       int           `json:"total_tokens"`
	Cost              float64       `json:"cost"`
	Duration          time.Duration `json:"duration"`
}

type AnnotationResult struct {
	Entities     []Entity           `json:"entities"`
	Statistics   PipelineStatistics `json:"statistics"`
	ChunkResults []ChunkResult      `json:"chunk_results"`
}

type Recommendation string

const (
	RecommendKeep        Recommendation = "keep"
	RecommendChangeLabel Recommendation = "change_label"
	RecommendDelete      Recommendation = "delete"
	// RecommendManualReview marks entities the evaluator gave no verdict on.
	RecommendManualReview Recommendation = "manual_review"
)

// EntityEvaluation is the evaluation model's opinion on one entity.
type EntityEvaluation struct {
	EntityIndex    int            `json:"entity_index"`
	CurrentText    string         `json:"current_text"`
	CurrentLabel   string         `json:"current_label"`
	IsCorrect      bool           `json:"is_correct"`
	Recommendation Recommendation `json:"recommendation"`
	SuggestedLabel *string        `json:"suggested_label"`
	Reasoning      string         `json:"reasoning"`
}

// AnnotationRecord is a persisted annotation run.
type AnnotationRecord struct {
	ID          string             `json:"id"`
	ProjectID   string             `json:"project_id,omitempty"`
	Path        string             `json:"path,omitempty"`
	Text        string             `json:"text"`
	Model       string             `json:"model"`
	Tags        []TagDefinition    `json:"tags,omitempty"`
	Entities    []Entity           `json:"entities"`
	Statistics  PipelineStatistics `json:"statistics"`
	Chunks      []ChunkResult      `json:"chunk_results,omitempty"`
	FixStats    *FixStats          `json:"fix_stats,omitempty"`
	Evaluations []EntityEvaluation `json:"evaluations,omitempty"`
	CreatedAt   time.Time          `json:"created_at"`
	UpdatedAt   time.Time          `json:"updated_at"`
}
