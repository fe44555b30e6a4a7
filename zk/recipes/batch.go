package recipes

import "github.com/gozk-project/gozk/zk"

// Batch accumulates multi-op sub-operations fluently, the way a caller
// building a transaction by hand would otherwise have to construct and
// append to a []zk.MultiOp slice themselves. It adds no behavior beyond
// zk.Client.MultiWrite; it only makes call sites with several
// sub-operations read top to bottom instead of as one long literal.
type Batch struct {
	ops []zk.MultiOp
}

// NewBatch returns an empty Batch.
func NewBatch() *Batch { return &Batch{} }

// Create appends a create sub-operation and returns the Batch for chaining.
func (b *Batch) Create(path string, data []byte, acl []zk.ACL, flags zk.CreateFlags) *Batch {
	b.ops = append(b.ops, zk.OpCreate(path, data, acl, int32(flags)))
	return b
}

// Delete appends a delete sub-operation.
func (b *Batch) Delete(path string, version int32) *Batch {
	b.ops = append(b.ops, zk.OpDelete(path, version))
	return b
}

// SetData appends a setData sub-operation.
func (b *Batch) SetData(path string, data []byte, version int32) *Batch {
	b.ops = append(b.ops, zk.OpSetData(path, data, version))
	return b
}

// CheckVersion appends a version-check sub-operation, useful for making
// an unrelated write in the same batch conditional on another node's
// version without itself mutating that node.
func (b *Batch) CheckVersion(path string, version int32) *Batch {
	b.ops = append(b.ops, zk.OpCheckVersion(path, version))
	return b
}

// Ops returns the accumulated sub-operations, ready for zk.Client.MultiWrite.
func (b *Batch) Ops() []zk.MultiOp { return b.ops }
