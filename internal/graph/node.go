package graph

import "time"

// Node is the per-module dependency record. All fields are guarded by the
// owner's serialization; Node itself carries no lock.
type Node struct {
	Name string

	// Musts and Optionals are set exactly once, when content arrives.
	Musts     []string
	Optionals []string

	// Parents lists nodes that named this node as a must-dependency.
	// Non-owning back-references, used for cycle walks and failure
	// propagation only.
	Parents []*Node

	Status Status

	// Path is the resolved fetch location, empty until resolution.
	Path string

	// Fetching marks an in-flight retrieval for Path.
	Fetching bool

	// Failed marks a node whose last fetch broke. Failed nodes are not
	// re-fetched until an explicit load clears the marker, so failures
	// never retry behind the caller's back.
	Failed bool

	// ContentSeq orders nodes by first arrival at StatusContentLoaded.
	// Cycle members are declared in this order.
	ContentSeq uint64

	// DeclaredSeq and DeclaredAt record declaration order.
	DeclaredSeq uint64
	DeclaredAt  time.Time
}

// Advance raises the node's status, never lowering it.
func (n *Node) Advance(s Status) {
	if s > n.Status {
		n.Status = s
	}
}

// ResetToKnown rolls the node back after a failed fetch so an explicit
// retry can fetch it again. The resolved path is kept.
func (n *Node) ResetToKnown() {
	n.Status = StatusKnown
	n.Fetching = false
}

func (n *Node) hasParent(p *Node) bool {
	for _, existing := range n.Parents {
		if existing == p {
			return true
		}
	}
	return false
}
