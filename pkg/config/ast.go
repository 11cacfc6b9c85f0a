package config

import (
	"fmt"
	"strings"
)

// Node is one statement of the configuration tree: either a leaf
// terminated by ';' or a block with children in braces.
type Node struct {
	// Keys are the words of the statement, e.g. ["profile", "lan-party"]
	// or ["interrupt-moderation", "10"].
	Keys []string

	// Children are the statements inside the braces; nil for leaves.
	Children []*Node

	IsLeaf bool

	Line   int
	Column int
}

// Name returns the first key of the node.
func (n *Node) Name() string {
	if len(n.Keys) == 0 {
		return ""
	}
	return n.Keys[0]
}

// Args returns the keys after the name.
func (n *Node) Args() []string {
	if len(n.Keys) < 2 {
		return nil
	}
	return n.Keys[1:]
}

// KeyPath returns the full key path as a single string.
func (n *Node) KeyPath() string {
	return strings.Join(n.Keys, " ")
}

// FindChild returns the first child whose first key matches name.
func (n *Node) FindChild(name string) *Node {
	return findChild(n.Children, name)
}

// FindChildren returns all children whose first key matches name.
func (n *Node) FindChildren(name string) []*Node {
	var result []*Node
	for _, child := range n.Children {
		if child.Name() == name {
			result = append(result, child)
		}
	}
	return result
}

func findChild(nodes []*Node, name string) *Node {
	for _, child := range nodes {
		if child.Name() == name {
			return child
		}
	}
	return nil
}

// ConfigTree is the root of a parsed configuration.
type ConfigTree struct {
	Children []*Node
}

// FindChild returns the first top-level child matching name.
func (t *ConfigTree) FindChild(name string) *Node {
	return findChild(t.Children, name)
}

// Clone creates a deep copy of the config tree.
func (t *ConfigTree) Clone() *ConfigTree {
	if t == nil {
		return nil
	}
	return &ConfigTree{Children: cloneNodes(t.Children)}
}

func cloneNodes(nodes []*Node) []*Node {
	if nodes == nil {
		return nil
	}
	result := make([]*Node, len(nodes))
	for i, n := range nodes {
		result[i] = &Node{
			Keys:     append([]string(nil), n.Keys...),
			Children: cloneNodes(n.Children),
			IsLeaf:   n.IsLeaf,
			Line:     n.Line,
			Column:   n.Column,
		}
	}
	return result
}

// SetLeaf sets the leaf named leaf[0] under the block path, replacing
// an existing leaf of that name. Missing blocks are created.
func (t *ConfigTree) SetLeaf(path []string, leaf ...string) error {
	if len(leaf) == 0 {
		return fmt.Errorf("empty leaf")
	}
	current := &t.Children
	for _, name := range path {
		var next *Node
		for _, n := range *current {
			if !n.IsLeaf && len(n.Keys) == 1 && n.Keys[0] == name {
				next = n
				break
			}
		}
		if next == nil {
			next = &Node{Keys: []string{name}}
			*current = append(*current, next)
		}
		current = &next.Children
	}
	node := &Node{Keys: append([]string(nil), leaf...), IsLeaf: true}
	for i, n := range *current {
		if n.IsLeaf && n.Name() == leaf[0] {
			(*current)[i] = node
			return nil
		}
	}
	*current = append(*current, node)
	return nil
}

// Format renders the tree as hierarchical configuration text.
func (t *ConfigTree) Format() string {
	var b strings.Builder
	formatNodes(&b, t.Children, 0)
	return b.String()
}

func formatNodes(b *strings.Builder, nodes []*Node, indent int) {
	prefix := strings.Repeat("    ", indent)
	for _, n := range nodes {
		if n.IsLeaf {
			fmt.Fprintf(b, "%s%s;\n", prefix, formatKeys(n.Keys))
		} else {
			fmt.Fprintf(b, "%s%s {\n", prefix, formatKeys(n.Keys))
			formatNodes(b, n.Children, indent+1)
			fmt.Fprintf(b, "%s}\n", prefix)
		}
	}
}

// formatKeys quotes keys the lexer would not read back as one identifier.
func formatKeys(keys []string) string {
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = k
		if k == "" || strings.IndexFunc(k, func(r rune) bool { return r > 0x7f || !isIdentChar(byte(r)) }) >= 0 {
			out[i] = fmt.Sprintf("%q", k)
		}
	}
	return strings.Join(out, " ")
}

// FormatSet renders the tree as flat "set" commands.
func (t *ConfigTree) FormatSet() string {
	var b strings.Builder
	formatSetNodes(&b, t.Children, nil)
	return b.String()
}

func formatSetNodes(b *strings.Builder, nodes []*Node, prefix []string) {
	for _, n := range nodes {
		path := append(append([]string(nil), prefix...), n.Keys...)
		if n.IsLeaf {
			fmt.Fprintf(b, "set %s\n", formatKeys(path))
		} else {
			formatSetNodes(b, n.Children, path)
		}
	}
}
