package orchestrator

import (
	"tagrouter/internal/escalation"
	"tagrouter/internal/hierarchy"
	"tagrouter/internal/prediction"
)

// Request is one classification request.
type Request struct {
	Text string
	// Levels are hierarchy level names; unknown names fail validation.
	Levels []string
	// Thresholds override the configured thresholds for this request only.
	Thresholds map[hierarchy.Level]float64
	// Context holds ancestor labels the caller already knows.
	Context map[hierarchy.Level]string
}

// ServiceCallRecord describes one collaborator call.
type ServiceCallRecord struct {
	Called          bool     `json:"called"`
	DurationSeconds float64  `json:"duration_seconds"`
	Success         bool     `json:"success"`
	LevelsRequested []string `json:"levels_requested"`
	Error           string   `json:"error,omitempty"`
}

// ServiceCalls records both collaborator calls of a request.
type ServiceCalls struct {
	Fast ServiceCallRecord `json:"fast_service"`
	LLM  ServiceCallRecord `json:"llm_service"`
}

// ConfidenceAnalysis explains the escalation decision.
type ConfidenceAnalysis struct {
	escalation.Decision
	Thresholds      escalation.Thresholds `json:"thresholds"`
	ThresholdSource string                `json:"threshold_source"`
	// TopConfidences maps each predicted level to its best fast confidence.
	TopConfidences map[hierarchy.Level]float64 `json:"top_confidences"`
	// Context is what the expensive classifier was conditioned on.
	Context map[hierarchy.Level]string `json:"context,omitempty"`
}

// Result is the full answer to a classification request.
type Result struct {
	prediction.Response
	ProcessedText      string             `json:"processed_text"`
	ServiceCalls       ServiceCalls       `json:"service_calls"`
	ConfidenceAnalysis ConfidenceAnalysis `json:"confidence_analysis"`
	RequestID          string             `json:"request_id,omitempty"`
}
