package llmclassifier

import (
	"fmt"
	"strings"

	"tagrouter/internal/hierarchy"
	"tagrouter/internal/taxonomy"
)

// Template names, recorded in result metadata.
const (
	TemplateFullHierarchy = "full_hierarchy"
	TemplateBelowPrimary  = "below_primary"
	TemplateTertiaryOnly  = "tertiary_only"
)

const systemPrompt = `You classify financial documents into a fixed three-level tag hierarchy (primary > secondary > tertiary).
Only choose labels that appear in the provided taxonomy, spelled exactly as listed.
Each chosen label must be a child of the label chosen (or given) for the level above it.
Respond with a single JSON object and nothing else.`

// prompt is the rendered user message for one request.
type prompt struct {
	template string
	ask      []hierarchy.Level
	text     string
}

// templateFor picks the prompt shape from how many leading levels are
// already known.
func templateFor(known int) string {
	switch known {
	case 0:
		return TemplateFullHierarchy
	case 1:
		return TemplateBelowPrimary
	default:
		return TemplateTertiaryOnly
	}
}

func buildPrompt(tax *taxonomy.Taxonomy, text string, known []string, ask []hierarchy.Level) prompt {
	var b strings.Builder
	tmpl := templateFor(len(known))

	switch tmpl {
	case TemplateFullHierarchy:
		b.WriteString("Classify the document through the whole hierarchy.\n\n")
	case TemplateBelowPrimary:
		fmt.Fprintf(&b, "The document's primary tag is %q. Choose the tags below it.\n\n", known[0])
	default:
		fmt.Fprintf(&b, "The document's primary tag is %q and its secondary tag is %q. Choose the tertiary tag.\n\n", known[0], known[1])
	}

	b.WriteString("Taxonomy:\n")
	deepest := hierarchy.Index(ask[len(ask)-1])
	writeTree(&b, tax, known, len(known), deepest, 0)

	b.WriteString("\nAnswer format:\n{\n")
	for i, level := range ask {
		sep := ","
		if i == len(ask)-1 {
			sep = ""
		}
		fmt.Fprintf(&b, "  %q: {\"pred\": \"<%s label>\", \"confidence\": <0.0-1.0>, \"reasoning\": \"<one sentence>\"}%s\n", level, level, sep)
	}
	b.WriteString("}\n\nDocument:\n")
	b.WriteString(text)

	return prompt{template: tmpl, ask: ask, text: b.String()}
}

// writeTree lists the taxonomy below path down to the deepest level asked
// for, indenting one step per level.
func writeTree(b *strings.Builder, tax *taxonomy.Taxonomy, path []string, depth, deepest, indent int) {
	if depth > deepest {
		return
	}
	for _, child := range tax.Children(path...) {
		fmt.Fprintf(b, "%s- %s\n", strings.Repeat("  ", indent), child.Label)
		writeTree(b, tax, child.Path, depth+1, deepest, indent+1)
	}
}
