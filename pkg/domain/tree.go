package domain

// Node wraps an item and its ordered children within a team's kit hierarchy.
type Node struct {
	Item     Item
	Children []*Node
}

// BuildTree nests a flat item list into parent/child trees. Child order is
// stable: children appear in the order the input listed them. An item whose
// declared parent does not resolve within the given set becomes a root rather
// than an error, since callers routinely pass partial lists. Parent chains
// that loop are broken at the first member in input order, which becomes a
// root; the remaining members nest under it. The function is total: every
// input item appears in exactly one tree.
func BuildTree(items []Item) []*Node {
	nodes := make(map[string]*Node, len(items))
	for _, it := range items {
		nodes[it.ID] = &Node{Item: it}
	}

	var roots []*Node
	broken := make(map[string]bool)
	for _, it := range items {
		node := nodes[it.ID]
		var parent *Node
		if it.Parent != nil {
			if p, ok := nodes[*it.Parent]; ok && p != node {
				parent = p
			}
		}
		if parent == nil {
			roots = append(roots, node)
			continue
		}
		// Walk the ancestor chain. Revisiting an id means the chain loops
		// and never reaches a root, so this item is promoted to break the
		// cycle. A chain ending at an already-promoted member is sound.
		seen := map[string]bool{it.ID: true}
		cyclic := false
		for cur := parent; ; {
			if broken[cur.Item.ID] {
				break
			}
			if seen[cur.Item.ID] {
				cyclic = true
				break
			}
			seen[cur.Item.ID] = true
			if cur.Item.Parent == nil {
				break
			}
			up, ok := nodes[*cur.Item.Parent]
			if !ok || up == cur {
				break
			}
			cur = up
		}
		if cyclic {
			broken[it.ID] = true
			roots = append(roots, node)
			continue
		}
		parent.Children = append(parent.Children, node)
	}
	return roots
}

// Flatten returns the pre-order traversal of the trees rooted at nodes.
func Flatten(nodes []*Node) []Item {
	var out []Item
	var walk func(n *Node)
	walk = func(n *Node) {
		out = append(out, n.Item)
		for _, c := range n.Children {
			walk(c)
		}
	}
	for _, n := range nodes {
		walk(n)
	}
	return out
}

// TotalDescendantCount counts all nodes transitively under node, excluding
// node itself.
func TotalDescendantCount(node *Node) int {
	count := 0
	for _, c := range node.Children {
		count += 1 + TotalDescendantCount(c)
	}
	return count
}

// AggregateStatus derives the shared status of a kit's non-kit descendants.
// It returns that status when all non-kit descendants agree, AggregateMixed
// when they differ, and the empty status when the node has no non-kit
// descendants. The kit's own directly-set status is independent of this
// aggregate and is never overwritten by it.
func AggregateStatus(node *Node) ReviewStatus {
	var agg ReviewStatus
	mixed := false
	var walk func(n *Node)
	walk = func(n *Node) {
		if mixed {
			return
		}
		if !n.Item.IsKit {
			switch {
			case agg == "":
				agg = n.Item.Status
			case agg != n.Item.Status:
				mixed = true
				return
			}
		}
		for _, c := range n.Children {
			walk(c)
		}
	}
	for _, c := range node.Children {
		walk(c)
	}
	if mixed {
		return AggregateMixed
	}
	return agg
}
