package models

// EvaluationRecord is one labeled question of an evaluation dataset.
type EvaluationRecord struct {
	Question          string   `json:"question"`
	ReferenceAnswer   string   `json:"reference_answer"`
	ReferenceContexts []string `json:"reference_contexts,omitempty"`
}

// Metric names used in reports.
const (
	MetricFaithfulness     = "faithfulness"
	MetricAnswerRelevancy  = "answer_relevancy"
	MetricContextPrecision = "context_precision"
	MetricContextRecall    = "context_recall"
)

// MetricNames lists the metrics in report order.
var MetricNames = []string{
	MetricFaithfulness,
	MetricAnswerRelevancy,
	MetricContextPrecision,
	MetricContextRecall,
}

// QuestionScore holds the outcome for one record. Failed questions keep zero scores.
type QuestionScore struct {
	Question string             `json:"question"`
	Answer   string             `json:"answer"`
	Sources  []string           `json:"sources"`
	Scores   map[string]float64 `json:"scores"`
	Error    string             `json:"error,omitempty"`
}

// EvaluationReport aggregates per-question scores with a mean per metric.
type EvaluationReport struct {
	RunID      string             `json:"run_id"`
	Questions  []QuestionScore    `json:"questions"`
	Aggregates map[string]float64 `json:"aggregates"`
	Failed     int                `json:"failed"`
}
