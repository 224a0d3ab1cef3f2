package api_test

import (
	"reflect"
	"strings"
	"testing"
	"time"

	"tagrouter/internal/api"
	"tagrouter/internal/escalation"
	"tagrouter/internal/hierarchy"
	"tagrouter/internal/prediction"
	"tagrouter/internal/thresholds"
)

func TestFastResultNormalizesWirePayload(t *testing.T) {
	resp := api.FastPredictResponse{
		Prediction: map[string][]prediction.LabelPrediction{
			"Primary": {
				{Label: "Research", Confidence: 0.2},
				{Label: " News ", Confidence: 1.3},
				{Label: "", Confidence: 0.9},
			},
			"tertiary":   {},
			"quaternary": {{Label: "x", Confidence: 0.5}},
		},
		Duration: 1.25,
	}
	result := resp.FastResult()
	if len(result.Predictions) != 1 {
		t.Fatalf("expected only primary to survive, got %+v", result.Predictions)
	}
	primary := result.Predictions[hierarchy.Primary]
	want := []prediction.LabelPrediction{{Label: "News", Confidence: 1}, {Label: "Research", Confidence: 0.2}}
	if !reflect.DeepEqual(primary, want) {
		t.Fatalf("primary = %+v, want %+v", primary, want)
	}
	if result.Duration != 1250*time.Millisecond {
		t.Fatalf("unexpected duration %s", result.Duration)
	}
}

func TestExpensiveResultNormalizesWirePayload(t *testing.T) {
	resp := api.ExpensivePredictResponse{
		Prediction: map[string]prediction.ExpensivePrediction{
			"tertiary":  {Label: "Earnings", Confidence: -0.1, Reasoning: " beat ", Primary: "News", Secondary: "Company"},
			"secondary": {Label: " "},
		},
		Duration: 0.5,
	}
	result := resp.ExpensiveResult()
	if len(result.Predictions) != 1 {
		t.Fatalf("expected empty label to be dropped, got %+v", result.Predictions)
	}
	got := result.Predictions[hierarchy.Tertiary]
	if got.Confidence != 0 || got.Reasoning != "beat" || got.Secondary != "Company" {
		t.Fatalf("unexpected tertiary %+v", got)
	}
	round := api.FromExpensiveResult(result)
	if round.Prediction["tertiary"].Label != "Earnings" || round.Duration != 0.5 {
		t.Fatalf("unexpected wire form %+v", round)
	}
}

func TestContextConversion(t *testing.T) {
	parsed, err := api.ContextFromWire(map[string]string{"primary": " News ", "secondary": ""})
	if err != nil {
		t.Fatalf("ContextFromWire failed: %v", err)
	}
	if !reflect.DeepEqual(parsed, map[hierarchy.Level]string{hierarchy.Primary: "News"}) {
		t.Fatalf("unexpected context %v", parsed)
	}
	if _, err := api.ContextFromWire(map[string]string{"sector": "x"}); err == nil {
		t.Fatal("expected unknown level to be rejected")
	}
	if api.ContextToWire(nil) != nil {
		t.Fatal("expected nil wire context")
	}
}

func TestThresholdsFromWire(t *testing.T) {
	got, err := api.ThresholdsFromWire(map[string]float64{"tertiary": 0.6})
	if err != nil || got[hierarchy.Tertiary] != 0.6 {
		t.Fatalf("unexpected result %v (%v)", got, err)
	}
	for _, bad := range []map[string]float64{{"tertiary": 1.5}, {"other": 0.5}} {
		if _, err := api.ThresholdsFromWire(bad); err == nil || !strings.Contains(err.Error(), "confidence_thresholds") {
			t.Fatalf("expected error for %v, got %v", bad, err)
		}
	}
	wire := api.ThresholdsToWire(escalation.DefaultThresholds())
	if len(wire) != 3 || wire["secondary"] != escalation.DefaultThreshold {
		t.Fatalf("unexpected wire thresholds %v", wire)
	}
}

func TestThresholdUpdateValuesAndChanges(t *testing.T) {
	primary := 0.9
	req := api.ThresholdsUpdateRequest{Primary: &primary, UpdatedBy: "alice"}
	if values := req.Values(); len(values) != 1 || values[hierarchy.Primary] != 0.9 {
		t.Fatalf("unexpected values %v", values)
	}

	old := 0.8
	changed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	dtos := api.FromThresholdChanges([]thresholds.Change{{
		ID: 7, Level: hierarchy.Primary, OldValue: &old, NewValue: 0.9, UpdatedBy: "alice", ChangedAt: changed,
	}})
	if len(dtos) != 1 || dtos[0].ChangedAt != "2026-03-01T12:00:00.000Z" || *dtos[0].OldValue != 0.8 {
		t.Fatalf("unexpected dto %+v", dtos)
	}
}
