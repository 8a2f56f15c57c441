// internal/ruleset/index.go
package ruleset

import (
	"net/url"
	"strings"
	"sync"
)

type trieNode struct {
	children map[string]*trieNode
	rulesets []*Ruleset
}

func newTrieNode() *trieNode {
	return &trieNode{children: make(map[string]*trieNode)}
}

// Index routes hostnames to the rulesets targeting them. Host patterns are stored
// in a trie keyed by labels from the TLD inward. A leading "*" label matches one
// or more labels and a trailing "*" matches exactly one.
//
// Index is built before checking starts and is safe for concurrent reads.
type Index struct {
	mu   sync.RWMutex
	root *trieNode
	size int
}

// NewIndex returns an empty index.
func NewIndex() *Index {
	return &Index{root: newTrieNode()}
}

// Add registers rs under every one of its targets.
func (ix *Index) Add(rs *Ruleset) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	for _, t := range rs.targets {
		node := ix.root
		for _, label := range reversedLabels(t.Host) {
			child, ok := node.children[label]
			if !ok {
				child = newTrieNode()
				node.children[label] = child
			}
			node = child
		}
		if !containsRuleset(node.rulesets, rs) {
			node.rulesets = append(node.rulesets, rs)
		}
	}
	ix.size++
}

// Len returns the number of rulesets added.
func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.size
}

// Match returns the rulesets whose targets cover host. Exact matches come first.
func (ix *Index) Match(host string) []*Ruleset {
	labels := reversedLabels(host)
	if len(labels) == 0 {
		return nil
	}

	ix.mu.RLock()
	defer ix.mu.RUnlock()

	var out []*Ruleset
	collect := func(rss []*Ruleset) {
		for _, rs := range rss {
			if !containsRuleset(out, rs) {
				out = append(out, rs)
			}
		}
	}

	var walk func(node *trieNode, i int)
	walk = func(node *trieNode, i int) {
		if i == len(labels) {
			collect(node.rulesets)
			return
		}
		if child, ok := node.children[labels[i]]; ok {
			walk(child, i+1)
		}
		star, ok := node.children["*"]
		if !ok {
			return
		}
		if i == 0 {
			// Trailing wildcard standing in for the TLD.
			walk(star, 1)
			return
		}
		// Leading wildcard absorbing the remaining labels.
		collect(star.rulesets)
	}
	walk(ix.root, 0)
	return out
}

// Rewrite applies the first candidate ruleset that changes rawURL. URLs no
// ruleset changes are returned as given.
func (ix *Index) Rewrite(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	for _, rs := range ix.Match(u.Hostname()) {
		rewritten, err := rs.Apply(rawURL)
		if err == nil && rewritten != rawURL {
			return rewritten
		}
	}
	return rawURL
}

func reversedLabels(host string) []string {
	host = strings.ToLower(strings.Trim(host, "."))
	if host == "" {
		return nil
	}
	labels := strings.Split(host, ".")
	for i, j := 0, len(labels)-1; i < j; i, j = i+1, j-1 {
		labels[i], labels[j] = labels[j], labels[i]
	}
	return labels
}

func containsRuleset(list []*Ruleset, rs *Ruleset) bool {
	for _, existing := range list {
		if existing == rs {
			return true
		}
	}
	return false
}
