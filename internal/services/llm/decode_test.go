package llm

import (
	"strings"
	"testing"
)

func TestDecodeLLMJSON(t *testing.T) {
	type answer struct {
		Pred       string  `json:"pred"`
		Confidence float64 `json:"confidence"`
	}
	tests := []struct {
		name    string
		content string
		want    answer
		wantErr string
	}{
		{"plain", `{"pred":"Earnings","confidence":0.9}`, answer{"Earnings", 0.9}, ""},
		{"code fence", "```json\n{\"pred\":\"IPO\",\"confidence\":0.7}\n```", answer{"IPO", 0.7}, ""},
		{"prose around object", "Here you go: {\"pred\":\"Fine\",\"confidence\":0.5} hope it helps", answer{"Fine", 0.5}, ""},
		{"empty", "  ", answer{}, "empty payload"},
		{"garbage", "no json here", answer{}, "payload snippet"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got answer
			err := DecodeLLMJSON(tt.content, &got)
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("DecodeLLMJSON returned error: %v", err)
			}
			if got != tt.want {
				t.Fatalf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestSummarizePayloadSnippetTruncates(t *testing.T) {
	long := strings.Repeat("word ", 100)
	snippet := summarizePayloadSnippet(long)
	if !strings.HasSuffix(snippet, "...") || len([]rune(snippet)) != 163 {
		t.Fatalf("unexpected snippet %q", snippet)
	}
	if summarizePayloadSnippet("\n") != "<empty>" {
		t.Fatal("expected <empty> marker")
	}
}
