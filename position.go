package mss

import (
	"fmt"
)

// Position of a node in the tree.  The leafs have Level=0 and the root
// has Level=Height and Index=0.
type Position struct {
	Level uint32
	Index uint32
}

// Returns the position of the sibling: the node with the same parent.
func (pos Position) Brother() Position {
	if pos.Index&1 == 0 {
		return Position{pos.Level, pos.Index + 1}
	}
	return Position{pos.Level, pos.Index - 1}
}

// Returns the position of the parent.
func (pos Position) Parent() Position {
	return Position{pos.Level + 1, pos.Index >> 1}
}

// Returns the positions of the left and right child.  Leafs have no
// children: for Level 0 it returns zero Positions and false.
func (pos Position) Children() (left, right Position, ok bool) {
	if pos.Level == 0 {
		return Position{}, Position{}, false
	}
	return Position{pos.Level - 1, 2 * pos.Index},
		Position{pos.Level - 1, 2*pos.Index + 1}, true
}

func (pos Position) String() string {
	return fmt.Sprintf("(%d,%d)", pos.Level, pos.Index)
}
