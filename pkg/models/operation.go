package models

import "time"

// OperationType identifies what kind of durable operation a tree node
// records.
type OperationType string

const (
	// OperationTypeContext is a scope: the root handler, a parallel
	// container, or a parallel branch. Branch scopes are recorded as
	// CONTEXT nodes, matching the service contract.
	OperationTypeContext OperationType = "CONTEXT"

	// OperationTypeCallback is an externally resolved pending operation.
	OperationTypeCallback OperationType = "CALLBACK"

	// OperationTypeParallelBranch is part of the closed operation-type
	// enumeration of the service contract. The engine records branch
	// scopes as CONTEXT; the value is accepted when inspecting trees
	// produced by other SDKs.
	OperationTypeParallelBranch OperationType = "PARALLEL_BRANCH"
)

// OperationStatus is the lifecycle state of one operation-tree node.
// Transitions are forward-only: PENDING -> RUNNING -> {COMPLETED, FAILED}.
type OperationStatus string

const (
	OperationStatusPending   OperationStatus = "PENDING"
	OperationStatusRunning   OperationStatus = "RUNNING"
	OperationStatusCompleted OperationStatus = "COMPLETED"
	OperationStatusFailed    OperationStatus = "FAILED"
)

// Operation is one node of an execution's operation tree: the unit of
// durability. Child order is insertion order and doubles as the structural
// position used for replay matching. The parent pointer is non-owning and is
// rebuilt after deserialization.
type Operation struct {
	Name     string          `json:"name"`
	Type     OperationType   `json:"type"`
	Status   OperationStatus `json:"status"`
	Result   []byte          `json:"result,omitempty"`
	Failure  *Failure        `json:"failure,omitempty"`
	Children []*Operation    `json:"children,omitempty"`

	// CallbackToken and Deadline are set for CALLBACK operations only.
	// The deadline is absolute so that it survives process restarts.
	CallbackToken string     `json:"callback_token,omitempty"`
	Deadline      *time.Time `json:"deadline,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	parent *Operation
}

// Terminal reports whether the operation reached COMPLETED or FAILED.
func (o *Operation) Terminal() bool {
	return o.Status == OperationStatusCompleted || o.Status == OperationStatusFailed
}

// Parent returns the parent operation, or nil for the root.
func (o *Operation) Parent() *Operation {
	return o.parent
}

// Path returns the slash-separated chain of names from the root to this
// node. Paths are stable across replays and address operations in failure
// reports and callback tokens.
func (o *Operation) Path() string {
	if o.parent == nil {
		return o.Name
	}

	return o.parent.Path() + "/" + o.Name
}

// ChildByName returns the child with the given name, or nil.
func (o *Operation) ChildByName(name string) *Operation {
	for _, child := range o.Children {
		if child.Name == name {
			return child
		}
	}

	return nil
}

// Walk visits the node and all descendants depth-first in child order.
func (o *Operation) Walk(visit func(*Operation) bool) bool {
	if !visit(o) {
		return false
	}

	for _, child := range o.Children {
		if !child.Walk(visit) {
			return false
		}
	}

	return true
}

// LinkParents rebuilds the non-owning parent pointers after the tree was
// deserialized from storage.
func (o *Operation) LinkParents() {
	for _, child := range o.Children {
		child.parent = o
		child.LinkParents()
	}
}

// FindByPath resolves a slash-separated path starting at this node. The
// first segment must match the node's own name.
func (o *Operation) FindByPath(path string) *Operation {
	segment, rest := splitPath(path)
	if segment != o.Name {
		return nil
	}

	if rest == "" {
		return o
	}

	next, _ := splitPath(rest)

	child := o.ChildByName(next)
	if child == nil {
		return nil
	}

	return child.FindByPath(rest)
}

// FindByToken locates the CALLBACK operation carrying the given token.
func (o *Operation) FindByToken(token string) *Operation {
	var found *Operation

	o.Walk(func(op *Operation) bool {
		if op.Type == OperationTypeCallback && op.CallbackToken == token {
			found = op

			return false
		}

		return true
	})

	return found
}

func splitPath(path string) (head, rest string) {
	for i := 0; i < len(path); i++ {
		if path[i] == '/' {
			return path[:i], path[i+1:]
		}
	}

	return path, ""
}
