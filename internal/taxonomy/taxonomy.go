package taxonomy

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"golang.org/x/text/cases"
	"gopkg.in/yaml.v3"

	"tagrouter/internal/hierarchy"
	"tagrouter/internal/textutil"
)

//go:embed default_taxonomy.yaml
var defaultTaxonomy []byte

// NodeSpec is the YAML shape of a taxonomy node.
type NodeSpec struct {
	Label    string     `yaml:"label"`
	Keywords []string   `yaml:"keywords,omitempty"`
	Children []NodeSpec `yaml:"children,omitempty"`
}

type document struct {
	Name string     `yaml:"name"`
	Tags []NodeSpec `yaml:"tags"`
}

// Node is a read-only view of one taxonomy entry.
type Node struct {
	Label    string
	Level    hierarchy.Level
	Path     []string
	Keywords []string
}

type node struct {
	label    string
	folded   string
	level    hierarchy.Level
	keywords []string
	parent   *node
	children []*node
	fp       *textutil.Fingerprint
}

func (n *node) path() []string {
	var path []string
	for cur := n; cur != nil; cur = cur.parent {
		path = append([]string{cur.label}, path...)
	}
	return path
}

func (n *node) view() Node {
	return Node{
		Label:    n.label,
		Level:    n.level,
		Path:     n.path(),
		Keywords: append([]string(nil), n.keywords...),
	}
}

// Taxonomy is an immutable label tree. It is safe for concurrent use.
type Taxonomy struct {
	name    string
	roots   []*node
	byLevel map[hierarchy.Level][]*node
}

var (
	defaultOnce sync.Once
	defaultTax  *Taxonomy
)

// Default returns the embedded financial-document taxonomy.
func Default() *Taxonomy {
	defaultOnce.Do(func() {
		tax, err := Parse(defaultTaxonomy)
		if err != nil {
			panic(fmt.Sprintf("embedded taxonomy: %v", err))
		}
		defaultTax = tax
	})
	return defaultTax
}

// Load reads a taxonomy from path. An empty path returns Default.
func Load(path string) (*Taxonomy, error) {
	if strings.TrimSpace(path) == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read taxonomy: %w", err)
	}
	tax, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("taxonomy %s: %w", path, err)
	}
	return tax, nil
}

// Parse decodes and validates a YAML taxonomy document.
func Parse(data []byte) (*Taxonomy, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse taxonomy yaml: %w", err)
	}
	if len(doc.Tags) == 0 {
		return nil, errors.New("taxonomy has no tags")
	}
	tax := &Taxonomy{
		name:    strings.TrimSpace(doc.Name),
		byLevel: make(map[hierarchy.Level][]*node, len(hierarchy.Order)),
	}
	roots, err := tax.build(doc.Tags, nil, 0)
	if err != nil {
		return nil, err
	}
	tax.roots = roots
	return tax, nil
}

func (t *Taxonomy) build(specs []NodeSpec, parent *node, depth int) ([]*node, error) {
	if len(specs) == 0 {
		return nil, nil
	}
	if depth >= len(hierarchy.Order) {
		return nil, fmt.Errorf("%q is nested deeper than %d levels", parent.label, len(hierarchy.Order))
	}
	level := hierarchy.Order[depth]
	seen := make(map[string]struct{}, len(specs))
	nodes := make([]*node, 0, len(specs))
	for _, spec := range specs {
		label := strings.TrimSpace(spec.Label)
		if label == "" {
			return nil, fmt.Errorf("%s node without label", level)
		}
		folded := fold(label)
		if _, dup := seen[folded]; dup {
			return nil, fmt.Errorf("duplicate %s label %q", level, label)
		}
		seen[folded] = struct{}{}
		n := &node{
			label:    label,
			folded:   folded,
			level:    level,
			keywords: spec.Keywords,
			parent:   parent,
		}
		n.fp = textutil.NewFingerprint(label + " " + strings.Join(spec.Keywords, " "))
		children, err := t.build(spec.Children, n, depth+1)
		if err != nil {
			return nil, err
		}
		n.children = children
		t.byLevel[level] = append(t.byLevel[level], n)
		nodes = append(nodes, n)
	}
	return nodes, nil
}

func fold(label string) string {
	return cases.Fold().String(strings.Join(strings.Fields(label), " "))
}

// Name returns the taxonomy's declared name.
func (t *Taxonomy) Name() string {
	return t.name
}

// find resolves a path of labels from the root. Every element must match.
func (t *Taxonomy) find(path []string) (*node, bool) {
	var cur *node
	candidates := t.roots
	for _, label := range path {
		folded := fold(label)
		cur = nil
		for _, n := range candidates {
			if n.folded == folded {
				cur = n
				break
			}
		}
		if cur == nil {
			return nil, false
		}
		candidates = cur.children
	}
	return cur, cur != nil
}

// candidates returns the nodes at level whose ancestors match parents.
// Parents are given in hierarchy order starting at primary; blank entries
// and parents beyond the level's depth are ignored.
func (t *Taxonomy) candidates(level hierarchy.Level, parents []string) []*node {
	depth := hierarchy.Index(level)
	if depth < 0 {
		return nil
	}
	if len(parents) > depth {
		parents = parents[:depth]
	}
	var out []*node
	for _, n := range t.byLevel[level] {
		if matchesAncestors(n, parents) {
			out = append(out, n)
		}
	}
	return out
}

func matchesAncestors(n *node, parents []string) bool {
	ancestors := make([]*node, 0, 2)
	for cur := n.parent; cur != nil; cur = cur.parent {
		ancestors = append([]*node{cur}, ancestors...)
	}
	for i, label := range parents {
		if strings.TrimSpace(label) == "" {
			continue
		}
		if i >= len(ancestors) || ancestors[i].folded != fold(label) {
			return false
		}
	}
	return true
}

// Labels lists the labels at level under the given ancestor labels. Labels
// shared by several parents are listed once.
func (t *Taxonomy) Labels(level hierarchy.Level, parents ...string) []string {
	nodes := t.candidates(level, parents)
	seen := make(map[string]struct{}, len(nodes))
	labels := make([]string, 0, len(nodes))
	for _, n := range nodes {
		if _, ok := seen[n.folded]; ok {
			continue
		}
		seen[n.folded] = struct{}{}
		labels = append(labels, n.label)
	}
	return labels
}

// Nodes returns the entries at level under the given ancestor labels.
func (t *Taxonomy) Nodes(level hierarchy.Level, parents ...string) []Node {
	nodes := t.candidates(level, parents)
	out := make([]Node, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, n.view())
	}
	return out
}

// Children returns the nodes directly below path. An empty path returns
// the primary labels.
func (t *Taxonomy) Children(path ...string) []Node {
	children := t.roots
	if len(path) > 0 {
		parent, ok := t.find(path)
		if !ok {
			return nil
		}
		children = parent.children
	}
	out := make([]Node, 0, len(children))
	for _, n := range children {
		out = append(out, n.view())
	}
	return out
}

// Canonical returns the taxonomy spelling of label at level.
func (t *Taxonomy) Canonical(level hierarchy.Level, label string, parents ...string) (string, bool) {
	folded := fold(label)
	if folded == "" {
		return "", false
	}
	for _, n := range t.candidates(level, parents) {
		if n.folded == folded {
			return n.label, true
		}
	}
	return "", false
}

// Contains reports whether label exists at level under the given parents.
func (t *Taxonomy) Contains(level hierarchy.Level, label string, parents ...string) bool {
	_, ok := t.Canonical(level, label, parents...)
	return ok
}

// Closest returns the valid label at level most similar to label. Exact
// case-folded matches win; otherwise token similarity against each
// candidate's label and keywords decides, falling back to the first
// candidate when nothing overlaps. Returns "" when the level has no
// candidates under parents.
func (t *Taxonomy) Closest(level hierarchy.Level, label string, parents ...string) string {
	if canonical, ok := t.Canonical(level, label, parents...); ok {
		return canonical
	}
	nodes := t.candidates(level, parents)
	if len(nodes) == 0 {
		return ""
	}
	fps := make([]*textutil.Fingerprint, len(nodes))
	for i, n := range nodes {
		fps[i] = n.fp
	}
	idx, _ := textutil.BestMatch(textutil.NewFingerprint(label), fps)
	if idx < 0 {
		return nodes[0].label
	}
	return nodes[idx].label
}

// Fingerprint exposes the token vector built from a node's label and
// keywords.
func (t *Taxonomy) Fingerprint(path ...string) *textutil.Fingerprint {
	n, ok := t.find(path)
	if !ok {
		return nil
	}
	return n.fp
}

// Walk visits every node depth-first in declaration order.
func (t *Taxonomy) Walk(fn func(Node)) {
	var visit func([]*node)
	visit = func(nodes []*node) {
		for _, n := range nodes {
			fn(n.view())
			visit(n.children)
		}
	}
	visit(t.roots)
}

// Size returns the number of nodes per level.
func (t *Taxonomy) Size() map[hierarchy.Level]int {
	out := make(map[hierarchy.Level]int, len(t.byLevel))
	for level, nodes := range t.byLevel {
		out[level] = len(nodes)
	}
	return out
}
