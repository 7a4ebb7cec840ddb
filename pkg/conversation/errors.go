package conversation

import (
	"errors"
	"fmt"
)

var (
	ErrTreeNotFound   = errors.New("tree not found")
	ErrParentNotFound = errors.New("parent node not found")
	ErrNodeNotFound   = errors.New("node not found")
)

// TreeNotFoundError reports a tree id missing from the registry.
type TreeNotFoundError struct {
	TreeID string
}

func (e *TreeNotFoundError) Error() string {
	if e == nil {
		return ErrTreeNotFound.Error()
	}
	return fmt.Sprintf("tree %s not found", e.TreeID)
}

func (e *TreeNotFoundError) Is(target error) bool { return target == ErrTreeNotFound }

// ParentNotFoundError reports an append under a node the tree does not hold.
type ParentNotFoundError struct {
	TreeID string
	NodeID string
}

func (e *ParentNotFoundError) Error() string {
	if e == nil {
		return ErrParentNotFound.Error()
	}
	return fmt.Sprintf("parent node %s not found in tree %s", e.NodeID, e.TreeID)
}

func (e *ParentNotFoundError) Is(target error) bool { return target == ErrParentNotFound }

// NodeNotFoundError reports a lookup of a node the tree does not hold.
type NodeNotFoundError struct {
	TreeID string
	NodeID string
}

func (e *NodeNotFoundError) Error() string {
	if e == nil {
		return ErrNodeNotFound.Error()
	}
	return fmt.Sprintf("node %s not found in tree %s", e.NodeID, e.TreeID)
}

func (e *NodeNotFoundError) Is(target error) bool { return target == ErrNodeNotFound }

// IsNotFound is true for any of the lookup failures above.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrTreeNotFound) || errors.Is(err, ErrParentNotFound) || errors.Is(err, ErrNodeNotFound)
}
