package automaton

// edge is a labelled transition of an inner node.
type edge struct {
	label byte
	to    int32
}

// node is an automaton state. Nodes live in trie.nodes and reference each
// other by index; node 0 is the root.
type node struct {
	edges []edge  // sorted by label; unused for the root
	fail  int32   // longest proper suffix that is also a trie path
	dict  int32   // nearest node on the fail chain with outputs, 0 if none
	out   []int32 // slots of atoms ending at this node
}

// trie is one Aho-Corasick automaton. The root transition table is dense;
// a zero entry means the root loops to itself on that byte.
type trie struct {
	root  [256]int32
	nodes []node
}

func newTrie() *trie {
	return &trie{nodes: make([]node, 1, 64)}
}

// empty reports whether no atom was inserted.
func (t *trie) empty() bool {
	return len(t.nodes) == 1
}

// child returns the goto transition of s on b, or -1.
func (t *trie) child(s int32, b byte) int32 {
	if s == 0 {
		if to := t.root[b]; to != 0 {
			return to
		}
		return -1
	}
	edges := t.nodes[s].edges
	lo, hi := 0, len(edges)
	for lo < hi {
		mid := int(uint(lo+hi) >> 1)
		switch {
		case edges[mid].label == b:
			return edges[mid].to
		case edges[mid].label < b:
			lo = mid + 1
		default:
			hi = mid
		}
	}
	return -1
}

// insert adds pattern p ending in slot and returns the number of states
// created.
func (t *trie) insert(p []byte, slot int32) int {
	var s int32
	created := 0
	for _, b := range p {
		next := t.child(s, b)
		if next < 0 {
			next = int32(len(t.nodes))
			t.nodes = append(t.nodes, node{})
			created++
			t.link(s, b, next)
		}
		s = next
	}
	t.nodes[s].out = append(t.nodes[s].out, slot)
	return created
}

// link adds the goto transition s --b--> to, keeping edges sorted.
func (t *trie) link(s int32, b byte, to int32) {
	if s == 0 {
		t.root[b] = to
		return
	}
	edges := t.nodes[s].edges
	i := len(edges)
	for i > 0 && edges[i-1].label > b {
		i--
	}
	edges = append(edges, edge{})
	copy(edges[i+1:], edges[i:])
	edges[i] = edge{label: b, to: to}
	t.nodes[s].edges = edges
}

// finish computes failure and dictionary links breadth first.
func (t *trie) finish() {
	queue := make([]int32, 0, len(t.nodes))
	for b := 0; b < 256; b++ {
		if to := t.root[b]; to != 0 {
			t.nodes[to].fail = 0
			queue = append(queue, to)
		}
	}
	for len(queue) > 0 {
		u := queue[0]
		queue = queue[1:]
		for _, e := range t.nodes[u].edges {
			v := e.to
			t.nodes[v].fail = t.step(t.nodes[u].fail, e.label)
			f := t.nodes[v].fail
			if len(t.nodes[f].out) > 0 {
				t.nodes[v].dict = f
			} else {
				t.nodes[v].dict = t.nodes[f].dict
			}
			queue = append(queue, v)
		}
	}
}

// step returns the state reached from s on b, following failure links.
func (t *trie) step(s int32, b byte) int32 {
	for {
		if s == 0 {
			return t.root[b]
		}
		if next := t.child(s, b); next >= 0 {
			return next
		}
		s = t.nodes[s].fail
	}
}
