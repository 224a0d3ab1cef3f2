package orchestrator_test

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"tagrouter/internal/api"
	"tagrouter/internal/escalation"
	"tagrouter/internal/hierarchy"
	"tagrouter/internal/logging"
	"tagrouter/internal/orchestrator"
	"tagrouter/internal/prediction"
	"tagrouter/internal/services"
	"tagrouter/internal/services/llmclf"
)

type fakeFast struct {
	result prediction.FastResult
	err    error
	calls  atomic.Int32
	levels []hierarchy.Level
}

func (f *fakeFast) Predict(_ context.Context, _ string, levels []hierarchy.Level) (prediction.FastResult, error) {
	f.calls.Add(1)
	f.levels = levels
	return f.result, f.err
}

type fakeExpensive struct {
	predict func(ctx context.Context, levels []hierarchy.Level, known map[hierarchy.Level]string) (*prediction.ExpensiveResult, error)
	calls   atomic.Int32
	levels  []hierarchy.Level
	known   map[hierarchy.Level]string
}

func (f *fakeExpensive) Predict(ctx context.Context, _ string, levels []hierarchy.Level, known map[hierarchy.Level]string) (*prediction.ExpensiveResult, error) {
	f.calls.Add(1)
	f.levels = levels
	f.known = known
	if f.predict == nil {
		return &prediction.ExpensiveResult{Predictions: map[hierarchy.Level]prediction.ExpensivePrediction{}}, nil
	}
	return f.predict(ctx, levels, known)
}

type fixedThresholds struct {
	thresholds escalation.Thresholds
	source     string
}

func (f fixedThresholds) Thresholds(context.Context) (escalation.Thresholds, string) {
	return f.thresholds, f.source
}

func fastResult(duration time.Duration, confidences map[hierarchy.Level]float64) prediction.FastResult {
	labels := map[hierarchy.Level][]string{
		hierarchy.Primary:   {"News", "Research"},
		hierarchy.Secondary: {"Company", "Markets"},
		hierarchy.Tertiary:  {"Earnings", "Management Change"},
	}
	out := prediction.FastResult{Predictions: map[hierarchy.Level][]prediction.LabelPrediction{}, Duration: duration}
	for level, confidence := range confidences {
		out.Predictions[level] = []prediction.LabelPrediction{
			{Label: labels[level][0], Confidence: confidence},
			{Label: labels[level][1], Confidence: confidence / 4},
		}
	}
	return out
}

var scenarioThresholds = fixedThresholds{
	thresholds: escalation.Thresholds{Primary: 0.90, Secondary: 0.85, Tertiary: 0.80},
	source:     "store",
}

func TestClassifyWithoutEscalationNeverCallsExpensive(t *testing.T) {
	fast := &fakeFast{result: fastResult(40*time.Millisecond, map[hierarchy.Level]float64{
		hierarchy.Primary: 0.95, hierarchy.Secondary: 0.90, hierarchy.Tertiary: 0.85,
	})}
	expensive := &fakeExpensive{}
	orch := orchestrator.New(fast, logging.NewNop(),
		orchestrator.WithExpensive(expensive),
		orchestrator.WithThresholdSource(scenarioThresholds),
	)

	result, err := orch.Classify(context.Background(), orchestrator.Request{
		Text:   "  Acme   beats earnings estimates ",
		Levels: []string{"tertiary", "primary", "secondary"},
	})
	if err != nil {
		t.Fatalf("Classify returned error: %v", err)
	}
	if calls := expensive.calls.Load(); calls != 0 {
		t.Fatalf("expected expensive classifier to be skipped, got %d calls", calls)
	}
	if result.ConfidenceAnalysis.NeedsEscalation {
		t.Fatalf("expected no escalation, got %+v", result.ConfidenceAnalysis.Decision)
	}
	if result.ProcessedText != "Acme beats earnings estimates" {
		t.Fatalf("unexpected processed text %q", result.ProcessedText)
	}
	if got := hierarchy.Strings(fast.levels); strings.Join(got, ",") != "primary,secondary,tertiary" {
		t.Fatalf("expected fast classifier to receive ordered levels, got %v", got)
	}
	for _, level := range hierarchy.Order {
		entries := result.Prediction[level]
		if len(entries) != 2 {
			t.Fatalf("expected every fast candidate for %s, got %+v", level, entries)
		}
		for _, entry := range entries {
			if entry.Source != prediction.SourceFast {
				t.Fatalf("expected fast source for %s, got %+v", level, entry)
			}
		}
	}
	if result.ServiceCalls.LLM.Called || !result.ServiceCalls.Fast.Success {
		t.Fatalf("unexpected service calls %+v", result.ServiceCalls)
	}
	if result.ConfidenceAnalysis.ThresholdSource != "store" {
		t.Fatalf("expected store thresholds, got %q", result.ConfidenceAnalysis.ThresholdSource)
	}
}

func TestClassifyEscalatesSuffixWithContext(t *testing.T) {
	fast := &fakeFast{result: fastResult(10*time.Millisecond, map[hierarchy.Level]float64{
		hierarchy.Primary: 0.95, hierarchy.Secondary: 0.80, hierarchy.Tertiary: 0.75,
	})}
	expensive := &fakeExpensive{predict: func(_ context.Context, levels []hierarchy.Level, known map[hierarchy.Level]string) (*prediction.ExpensiveResult, error) {
		return &prediction.ExpensiveResult{Predictions: map[hierarchy.Level]prediction.ExpensivePrediction{
			hierarchy.Secondary: {Label: "Markets", Confidence: 0.9, Reasoning: "index moves", Primary: known[hierarchy.Primary]},
			hierarchy.Tertiary:  {Label: "Equities", Confidence: 0.88, Reasoning: "stocks", Primary: known[hierarchy.Primary], Secondary: "Markets"},
		}}, nil
	}}
	orch := orchestrator.New(fast, logging.NewNop(),
		orchestrator.WithExpensive(expensive),
		orchestrator.WithThresholdSource(scenarioThresholds),
	)

	result, err := orch.Classify(context.Background(), orchestrator.Request{
		Text:   "stocks rally",
		Levels: []string{"primary", "secondary", "tertiary"},
	})
	if err != nil {
		t.Fatalf("Classify returned error: %v", err)
	}
	decision := result.ConfidenceAnalysis.Decision
	if decision.TriggerLevel == nil || *decision.TriggerLevel != hierarchy.Secondary {
		t.Fatalf("expected secondary trigger, got %+v", decision)
	}
	if got := strings.Join(hierarchy.Strings(expensive.levels), ","); got != "secondary,tertiary" {
		t.Fatalf("expected secondary and tertiary escalated, got %s", got)
	}
	if len(expensive.known) != 1 || expensive.known[hierarchy.Primary] != "News" {
		t.Fatalf("expected only the trusted primary label as context, got %v", expensive.known)
	}
	if got := result.Prediction[hierarchy.Primary]; len(got) != 2 || got[0].Source != prediction.SourceFast {
		t.Fatalf("expected fast primary candidates, got %+v", got)
	}
	secondary := result.Prediction[hierarchy.Secondary]
	if len(secondary) != 1 || secondary[0].Source != prediction.SourceExpensive || secondary[0].Pred != "Markets" {
		t.Fatalf("expected expensive secondary, got %+v", secondary)
	}
	if len(secondary[0].AIPrediction) != 2 {
		t.Fatalf("expected superseded fast candidates kept, got %+v", secondary[0].AIPrediction)
	}
	if !result.ServiceCalls.LLM.Called || !result.ServiceCalls.LLM.Success {
		t.Fatalf("unexpected llm call record %+v", result.ServiceCalls.LLM)
	}
}

func TestClassifyTertiaryOnlyUsesCallerContext(t *testing.T) {
	fast := &fakeFast{result: fastResult(5*time.Millisecond, map[hierarchy.Level]float64{
		hierarchy.Tertiary: 0.70,
	})}
	expensive := &fakeExpensive{}
	orch := orchestrator.New(fast, logging.NewNop(), orchestrator.WithExpensive(expensive))

	_, err := orch.Classify(context.Background(), orchestrator.Request{
		Text:   "quarterly profit up",
		Levels: []string{"tertiary"},
		Context: map[hierarchy.Level]string{
			hierarchy.Primary:   "News",
			hierarchy.Secondary: "Company",
		},
	})
	if err != nil {
		t.Fatalf("Classify returned error: %v", err)
	}
	if got := strings.Join(hierarchy.Strings(expensive.levels), ","); got != "tertiary" {
		t.Fatalf("expected only tertiary escalated, got %s", got)
	}
	if len(expensive.known) != 2 || expensive.known[hierarchy.Primary] != "News" || expensive.known[hierarchy.Secondary] != "Company" {
		t.Fatalf("expected caller context forwarded unchanged, got %v", expensive.known)
	}
}

func TestClassifyRemoteExpensiveAnnotatesSentContext(t *testing.T) {
	var sent api.ExpensivePredictRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&sent); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"prediction":{"tertiary":{"pred":"Earnings","confidence":0.92,"reasoning":"quarterly results"}}}`))
	}))
	defer server.Close()

	fast := &fakeFast{result: fastResult(5*time.Millisecond, map[hierarchy.Level]float64{
		hierarchy.Tertiary: 0.70,
	})}
	expensive := llmclf.NewClient(server.URL, time.Second, logging.NewNop())
	orch := orchestrator.New(fast, logging.NewNop(), orchestrator.WithExpensive(expensive))

	result, err := orch.Classify(context.Background(), orchestrator.Request{
		Text:   "quarterly profit up",
		Levels: []string{"tertiary"},
		Context: map[hierarchy.Level]string{
			hierarchy.Primary:   "News",
			hierarchy.Secondary: "Company",
		},
	})
	if err != nil {
		t.Fatalf("Classify returned error: %v", err)
	}
	if sent.Context["primary"] != "News" || sent.Context["secondary"] != "Company" {
		t.Fatalf("expected context on the wire, got %v", sent.Context)
	}
	tertiary := result.Prediction[hierarchy.Tertiary]
	if len(tertiary) != 1 {
		t.Fatalf("expected one tertiary result, got %+v", tertiary)
	}
	got := tertiary[0]
	if got.Source != prediction.SourceExpensive || got.Pred != "Earnings" {
		t.Fatalf("expected expensive Earnings, got %+v", got)
	}
	if got.PrimaryContext != "News" || got.SecondaryContext != "Company" {
		t.Fatalf("expected parent context News/Company, got %q/%q", got.PrimaryContext, got.SecondaryContext)
	}
}

func TestClassifyDegradesWhenExpensiveFails(t *testing.T) {
	tests := []struct {
		name    string
		timeout time.Duration
		predict func(ctx context.Context, levels []hierarchy.Level, known map[hierarchy.Level]string) (*prediction.ExpensiveResult, error)
		want    string
	}{
		{
			name: "adapter error",
			predict: func(context.Context, []hierarchy.Level, map[hierarchy.Level]string) (*prediction.ExpensiveResult, error) {
				return nil, services.Wrap(services.ErrDownstream, "llm-client", "predict", "request timed out", context.DeadlineExceeded)
			},
			want: "request timed out",
		},
		{
			name:    "orchestrator timeout",
			timeout: 20 * time.Millisecond,
			predict: func(ctx context.Context, _ []hierarchy.Level, _ map[hierarchy.Level]string) (*prediction.ExpensiveResult, error) {
				<-ctx.Done()
				return nil, ctx.Err()
			},
			want: "timed out",
		},
		{
			name: "nil result",
			predict: func(context.Context, []hierarchy.Level, map[hierarchy.Level]string) (*prediction.ExpensiveResult, error) {
				return nil, nil
			},
			want: "no result",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fast := &fakeFast{result: fastResult(time.Millisecond, map[hierarchy.Level]float64{
				hierarchy.Primary: 0.5, hierarchy.Secondary: 0.5, hierarchy.Tertiary: 0.5,
			})}
			orch := orchestrator.New(fast, logging.NewNop(),
				orchestrator.WithExpensive(&fakeExpensive{predict: tt.predict}),
				orchestrator.WithTimeouts(0, tt.timeout),
			)
			result, err := orch.Classify(context.Background(), orchestrator.Request{Text: "doc", Levels: []string{"primary", "secondary", "tertiary"}})
			if err != nil {
				t.Fatalf("expected degradation, got error %v", err)
			}
			for _, level := range hierarchy.Order {
				entries := result.Prediction[level]
				if len(entries) == 0 || entries[0].Source != prediction.SourceFast {
					t.Fatalf("expected fast fallback for %s, got %+v", level, entries)
				}
			}
			llm := result.ServiceCalls.LLM
			if !llm.Called || llm.Success || !strings.Contains(llm.Error, tt.want) {
				t.Fatalf("unexpected llm call record %+v", llm)
			}
			if !result.ConfidenceAnalysis.NeedsEscalation {
				t.Fatal("expected the escalation decision to be reported")
			}
		})
	}
}

func TestClassifyElapsedIsSumOfCalls(t *testing.T) {
	fast := &fakeFast{result: fastResult(150*time.Millisecond, map[hierarchy.Level]float64{
		hierarchy.Primary: 0.2,
	})}
	expensive := &fakeExpensive{predict: func(context.Context, []hierarchy.Level, map[hierarchy.Level]string) (*prediction.ExpensiveResult, error) {
		time.Sleep(15 * time.Millisecond)
		return &prediction.ExpensiveResult{Predictions: map[hierarchy.Level]prediction.ExpensivePrediction{
			hierarchy.Primary: {Label: "Research", Confidence: 0.9},
		}}, nil
	}}
	orch := orchestrator.New(fast, logging.NewNop(), orchestrator.WithExpensive(expensive))

	result, err := orch.Classify(context.Background(), orchestrator.Request{Text: "doc", Levels: []string{"primary"}})
	if err != nil {
		t.Fatalf("Classify returned error: %v", err)
	}
	calls := result.ServiceCalls
	if calls.Fast.DurationSeconds != 0.15 {
		t.Fatalf("expected fast duration from the adapter, got %v", calls.Fast.DurationSeconds)
	}
	if calls.LLM.DurationSeconds < 0.015 {
		t.Fatalf("expected measured expensive duration, got %v", calls.LLM.DurationSeconds)
	}
	if diff := math.Abs(result.ElapsedSeconds - (calls.Fast.DurationSeconds + calls.LLM.DurationSeconds)); diff > 1e-6 {
		t.Fatalf("elapsed %v is not the sum of %+v", result.ElapsedSeconds, calls)
	}
}

func TestClassifyWithoutExpensiveKeepsFastAnswers(t *testing.T) {
	fast := &fakeFast{result: fastResult(time.Millisecond, map[hierarchy.Level]float64{
		hierarchy.Primary: 0.1,
	})}
	orch := orchestrator.New(fast, logging.NewNop())
	if orch.EscalationEnabled() {
		t.Fatal("expected escalation to be disabled")
	}

	result, err := orch.Classify(context.Background(), orchestrator.Request{Text: "doc", Levels: []string{"primary"}})
	if err != nil {
		t.Fatalf("Classify returned error: %v", err)
	}
	if !result.ConfidenceAnalysis.NeedsEscalation || result.ServiceCalls.LLM.Called {
		t.Fatalf("unexpected analysis %+v calls %+v", result.ConfidenceAnalysis, result.ServiceCalls)
	}
	if result.ConfidenceAnalysis.ThresholdSource != "defaults" {
		t.Fatalf("expected default thresholds, got %q", result.ConfidenceAnalysis.ThresholdSource)
	}
	if got := result.Prediction[hierarchy.Primary]; len(got) != 2 || got[0].Source != prediction.SourceFast {
		t.Fatalf("expected fast answers, got %+v", got)
	}
}

func TestClassifyThresholdOverrides(t *testing.T) {
	fast := &fakeFast{result: fastResult(time.Millisecond, map[hierarchy.Level]float64{
		hierarchy.Primary: 0.6,
	})}
	expensive := &fakeExpensive{}
	orch := orchestrator.New(fast, logging.NewNop(), orchestrator.WithExpensive(expensive))

	result, err := orch.Classify(context.Background(), orchestrator.Request{
		Text:       "doc",
		Levels:     []string{"primary"},
		Thresholds: map[hierarchy.Level]float64{hierarchy.Primary: 0.5},
	})
	if err != nil {
		t.Fatalf("Classify returned error: %v", err)
	}
	if result.ConfidenceAnalysis.NeedsEscalation || expensive.calls.Load() != 0 {
		t.Fatalf("expected override to keep fast answer, got %+v", result.ConfidenceAnalysis)
	}
	if got := result.ConfidenceAnalysis.Thresholds.Primary; got != 0.5 {
		t.Fatalf("expected override reported, got %v", got)
	}
	if got := result.ConfidenceAnalysis.Thresholds.Secondary; got != escalation.DefaultThreshold {
		t.Fatalf("expected untouched levels to keep defaults, got %v", got)
	}
}

func TestClassifyValidation(t *testing.T) {
	fast := &fakeFast{result: fastResult(time.Millisecond, map[hierarchy.Level]float64{hierarchy.Primary: 0.9})}
	orch := orchestrator.New(fast, logging.NewNop())
	tests := []struct {
		name string
		req  orchestrator.Request
	}{
		{name: "empty text", req: orchestrator.Request{Text: "  \n ", Levels: []string{"primary"}}},
		{name: "no levels", req: orchestrator.Request{Text: "doc"}},
		{name: "unknown level", req: orchestrator.Request{Text: "doc", Levels: []string{"quaternary"}}},
		{name: "threshold out of range", req: orchestrator.Request{Text: "doc", Levels: []string{"primary"}, Thresholds: map[hierarchy.Level]float64{hierarchy.Primary: 1.5}}},
		{name: "unknown context level", req: orchestrator.Request{Text: "doc", Levels: []string{"primary"}, Context: map[hierarchy.Level]string{"sector": "Tech"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := orch.Classify(context.Background(), tt.req)
			if !errors.Is(err, services.ErrValidation) {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}
	if calls := fast.calls.Load(); calls != 0 {
		t.Fatalf("expected fast classifier untouched by invalid requests, got %d calls", calls)
	}
}

func TestClassifyNotReady(t *testing.T) {
	orch := orchestrator.New(nil, logging.NewNop())
	_, err := orch.Classify(context.Background(), orchestrator.Request{Text: "doc", Levels: []string{"primary"}})
	if !errors.Is(err, services.ErrNotReady) {
		t.Fatalf("expected not ready error, got %v", err)
	}
	if services.HTTPStatus(err) != 503 {
		t.Fatalf("expected 503 mapping, got %d", services.HTTPStatus(err))
	}
}

func TestClassifyFastFailureFailsRequest(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{name: "plain error", err: errors.New("connection refused")},
		{name: "already tagged", err: services.Wrap(services.ErrUpstream, "fast-client", "predict", "failed", nil)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			expensive := &fakeExpensive{}
			orch := orchestrator.New(&fakeFast{err: tt.err}, logging.NewNop(), orchestrator.WithExpensive(expensive))
			_, err := orch.Classify(context.Background(), orchestrator.Request{Text: "doc", Levels: []string{"primary"}})
			if !errors.Is(err, services.ErrUpstream) {
				t.Fatalf("expected upstream error, got %v", err)
			}
			if expensive.calls.Load() != 0 {
				t.Fatal("expected no expensive call after fast failure")
			}
		})
	}
}

func TestClassifyCallerCancellationDiscardsLateResult(t *testing.T) {
	fast := &fakeFast{result: fastResult(time.Millisecond, map[hierarchy.Level]float64{hierarchy.Primary: 0.1})}
	release := make(chan struct{})
	expensive := &fakeExpensive{predict: func(context.Context, []hierarchy.Level, map[hierarchy.Level]string) (*prediction.ExpensiveResult, error) {
		<-release
		return &prediction.ExpensiveResult{Predictions: map[hierarchy.Level]prediction.ExpensivePrediction{
			hierarchy.Primary: {Label: "Research", Confidence: 0.9},
		}}, nil
	}}
	orch := orchestrator.New(fast, logging.NewNop(), orchestrator.WithExpensive(expensive))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	result, err := orch.Classify(ctx, orchestrator.Request{Text: "doc", Levels: []string{"primary"}})
	close(release)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
	if result != nil {
		t.Fatalf("expected no result after cancellation, got %+v", result)
	}
}

func TestClassifyCarriesRequestID(t *testing.T) {
	fast := &fakeFast{result: fastResult(time.Millisecond, map[hierarchy.Level]float64{hierarchy.Primary: 0.9})}
	orch := orchestrator.New(fast, logging.NewNop())
	ctx := services.WithRequestID(context.Background(), "abc-123")
	result, err := orch.Classify(ctx, orchestrator.Request{Text: "doc", Levels: []string{"primary"}})
	if err != nil {
		t.Fatalf("Classify returned error: %v", err)
	}
	if result.RequestID != "abc-123" {
		t.Fatalf("expected request id, got %q", result.RequestID)
	}
}
