package api

import "tagrouter/internal/prediction"

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// FastPredictRequest is the body of the fast classifier's POST /predict.
type FastPredictRequest struct {
	Text   string   `json:"text"`
	Levels []string `json:"levels"`
}

// FastPredictResponse is the fast classifier's answer: a ranked candidate
// list per level and the service-side duration in seconds.
type FastPredictResponse struct {
	Prediction map[string][]prediction.LabelPrediction `json:"prediction"`
	Duration   float64                                 `json:"duration"`
	Metadata   map[string]any                          `json:"metadata,omitempty"`
}

// ExpensivePredictRequest is the body of the expensive classifier's
// POST /predict.
type ExpensivePredictRequest struct {
	Text    string            `json:"text"`
	Predict []string          `json:"predict"`
	Context map[string]string `json:"context,omitempty"`
}

// ExpensivePredictResponse carries one prediction per level.
type ExpensivePredictResponse struct {
	Prediction map[string]prediction.ExpensivePrediction `json:"prediction"`
	Duration   float64                                   `json:"duration"`
	Metadata   map[string]any                            `json:"metadata,omitempty"`
}

// ClassifyRequest is the body of POST /classify.
type ClassifyRequest struct {
	Text                 string             `json:"text"`
	PredictLevels        []string           `json:"predict_levels"`
	ConfidenceThresholds map[string]float64 `json:"confidence_thresholds,omitempty"`
	Context              map[string]string  `json:"context,omitempty"`
}

// ThresholdsResponse reports the effective thresholds.
type ThresholdsResponse struct {
	Thresholds map[string]float64 `json:"thresholds"`
	Source     string             `json:"source"`
}

// ThresholdsUpdateRequest is the body of PUT /thresholds. Nil levels are
// left unchanged.
type ThresholdsUpdateRequest struct {
	Primary   *float64 `json:"primary,omitempty"`
	Secondary *float64 `json:"secondary,omitempty"`
	Tertiary  *float64 `json:"tertiary,omitempty"`
	UpdatedBy string   `json:"updated_by"`
	Reason    string   `json:"reason,omitempty"`
}

// ThresholdChange is one audit row.
type ThresholdChange struct {
	ID        int64    `json:"id"`
	Level     string   `json:"level"`
	OldValue  *float64 `json:"old_value"`
	NewValue  float64  `json:"new_value"`
	UpdatedBy string   `json:"updated_by"`
	Reason    string   `json:"reason,omitempty"`
	ChangedAt string   `json:"changed_at"`
}

// ThresholdsUpdateResponse echoes the effective thresholds after a write
// together with the changes it recorded.
type ThresholdsUpdateResponse struct {
	ThresholdsResponse
	Changes []ThresholdChange `json:"changes"`
}

// ThresholdHistoryResponse wraps audit rows, newest first.
type ThresholdHistoryResponse struct {
	Changes []ThresholdChange `json:"changes"`
}

// ComponentHealth mirrors readiness reporting for one collaborator.
type ComponentHealth struct {
	Name   string `json:"name"`
	Ready  bool   `json:"ready"`
	Detail string `json:"detail,omitempty"`
}

// HealthResponse aggregates collaborator readiness.
type HealthResponse struct {
	Status     string            `json:"status"`
	Components []ComponentHealth `json:"components"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}
