package timertree

import (
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/sarchlab/pdes/sim"
)

// A Node holds one event inside a Tree.
//
// A node belongs to at most one tree at a time. The tree owns the child and
// parent links; callers only set the key and the event.
type Node struct {
	Time  sim.VTime
	Seq   uint64
	Event *sim.Event

	left, right, parent *Node
	owner               *Tree
}

func (n *Node) before(o *Node) bool {
	if n.Time != o.Time {
		return n.Time < o.Time
	}

	return n.Seq < o.Seq
}

// Tree is a splay tree of nodes keyed by (Time, Seq).
//
// The tree caches its minimum so that PeekMin is O(1). Every inserted node is
// splayed to the root, which keeps recently scheduled, soon-to-fire events
// close to the top.
type Tree struct {
	root  *Node
	least *Node
	size  int

	store    []*Node
	maxStore int
}

// New creates an empty tree whose node store keeps at most maxStore retired
// nodes. A zero maxStore disables the store.
func New(maxStore int) *Tree {
	return &Tree{
		maxStore: maxStore,
		store:    make([]*Node, 0, min(maxStore, 1024)),
	}
}

// Len returns the number of nodes in the tree.
func (t *Tree) Len() int {
	return t.size
}

// StoreLen returns the number of retired nodes kept for reuse.
func (t *Tree) StoreLen() int {
	return len(t.store)
}

// AllocateNode returns a zeroed node, taken from the store if possible.
func (t *Tree) AllocateNode() *Node {
	n := len(t.store)
	if n == 0 {
		return &Node{}
	}

	node := t.store[n-1]
	t.store[n-1] = nil
	t.store = t.store[:n-1]

	return node
}

// FreeNode zeroes a node and keeps it for reuse, or drops it when the store
// is disabled or full.
func (t *Tree) FreeNode(n *Node) {
	if n.owner != nil {
		logrus.WithField("time", n.Time).
			Panic("timertree: freeing a node that is still in a tree")
	}

	*n = Node{}

	if len(t.store) < t.maxStore {
		t.store = append(t.store, n)
	}
}

// Insert adds a node and splays it to the root.
func (t *Tree) Insert(n *Node) {
	if n.owner != nil {
		logrus.WithField("time", n.Time).
			Panic("timertree: inserting a node that already belongs to a tree")
	}

	n.owner = t
	n.left, n.right, n.parent = nil, nil, nil
	t.size++

	if t.root == nil {
		t.root = n
		t.least = n
		return
	}

	cur := t.root
	for {
		if n.before(cur) {
			if cur.left == nil {
				cur.left = n
				break
			}
			cur = cur.left
		} else {
			if cur.right == nil {
				cur.right = n
				break
			}
			cur = cur.right
		}
	}
	n.parent = cur

	if n.before(t.least) {
		t.least = n
	}

	t.splay(n)
}

// PeekMin returns the node with the smallest key without removing it, or nil
// if the tree is empty.
func (t *Tree) PeekMin() *Node {
	return t.least
}

// ExtractMin removes and returns the node with the smallest key, or nil if
// the tree is empty.
func (t *Tree) ExtractMin() *Node {
	m := t.least
	if m == nil {
		return nil
	}

	// The minimum has no left child and, unless it is the root, is the left
	// child of its parent.
	p := m.parent
	r := m.right

	if p == nil {
		t.root = r
		if r != nil {
			r.parent = nil
		}
		t.least = leftmost(r)
	} else {
		p.left = r
		if r != nil {
			r.parent = p
			t.least = leftmost(r)
		} else {
			t.least = p
		}
	}

	m.left, m.right, m.parent, m.owner = nil, nil, nil, nil
	t.size--

	return m
}

func leftmost(n *Node) *Node {
	if n == nil {
		return nil
	}

	for n.left != nil {
		n = n.left
	}

	return n
}

// rotate moves x one level up, above its parent.
func (t *Tree) rotate(x *Node) {
	p := x.parent
	g := p.parent

	if x == p.left {
		p.left = x.right
		if x.right != nil {
			x.right.parent = p
		}
		x.right = p
	} else {
		p.right = x.left
		if x.left != nil {
			x.left.parent = p
		}
		x.left = p
	}

	p.parent = x
	x.parent = g

	switch {
	case g == nil:
		t.root = x
	case g.left == p:
		g.left = x
	default:
		g.right = x
	}
}

func (t *Tree) splay(x *Node) {
	for x.parent != nil {
		p := x.parent
		g := p.parent

		switch {
		case g == nil:
			t.rotate(x)
		case (x == p.left) == (p == g.left):
			t.rotate(p)
			t.rotate(x)
		default:
			t.rotate(x)
			t.rotate(x)
		}
	}
}

// CheckInvariants walks the whole tree and reports the first broken
// invariant: link consistency, key order, size, ownership, or the minimum
// cache.
func (t *Tree) CheckInvariants() error {
	if t.root == nil {
		if t.least != nil || t.size != 0 {
			return errors.Errorf("empty tree with least=%v size=%d",
				t.least, t.size)
		}
		return nil
	}

	if t.root.parent != nil {
		return errors.New("root has a parent")
	}

	if t.least == nil {
		return errors.New("least cache empty on a non-empty tree")
	}

	if lm := leftmost(t.root); lm != t.least {
		return errors.Errorf("least cache at %d, leftmost at %d",
			t.least.Time, lm.Time)
	}

	count := 0
	var prev *Node
	stack := make([]*Node, 0, 64)
	cur := t.root

	for cur != nil || len(stack) > 0 {
		for cur != nil {
			if err := t.checkLinks(cur); err != nil {
				return err
			}
			stack = append(stack, cur)
			cur = cur.left
		}

		cur = stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if prev != nil && cur.before(prev) {
			return errors.Errorf("order violated: %d/%d after %d/%d",
				cur.Time, cur.Seq, prev.Time, prev.Seq)
		}

		prev = cur
		count++
		cur = cur.right
	}

	if count != t.size {
		return errors.Errorf("size %d, counted %d", t.size, count)
	}

	return nil
}

func (t *Tree) checkLinks(n *Node) error {
	if n.owner != t {
		return errors.Errorf("node %d owned by another tree", n.Time)
	}

	if n.left != nil && n.left.parent != n {
		return errors.Errorf("left child of %d has wrong parent", n.Time)
	}

	if n.right != nil && n.right.parent != n {
		return errors.Errorf("right child of %d has wrong parent", n.Time)
	}

	return nil
}

// Push wraps the event in a node and inserts it.
func (t *Tree) Push(evt *sim.Event) {
	n := t.AllocateNode()
	n.Time = evt.Time
	n.Seq = evt.Seq()
	n.Event = evt
	t.Insert(n)
}

// Pop removes and returns the earliest event, or nil if the tree is empty.
func (t *Tree) Pop() *sim.Event {
	n := t.ExtractMin()
	if n == nil {
		return nil
	}

	evt := n.Event
	t.FreeNode(n)

	return evt
}

// Peek returns the earliest event without removing it, or nil if the tree is
// empty.
func (t *Tree) Peek() *sim.Event {
	if t.least == nil {
		return nil
	}

	return t.least.Event
}
