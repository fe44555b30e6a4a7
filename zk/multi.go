package zk

import "fmt"

// MultiOpType identifies one sub-operation in a multi-op batch (spec.md §4.4).
type MultiOpType int32

const (
	MultiOpCreate       MultiOpType = MultiOpType(opCreate)
	MultiOpDelete       MultiOpType = MultiOpType(opDelete)
	MultiOpSetData      MultiOpType = MultiOpType(opSetData)
	MultiOpCheckVersion MultiOpType = MultiOpType(opCheck)
	MultiOpGetData      MultiOpType = MultiOpType(opGetData)
	MultiOpGetChildren  MultiOpType = MultiOpType(opGetChildren2)
)

// MultiOp is one sub-operation of a multi-op request. Exactly the fields
// relevant to Type are used; the rest are ignored when encoding.
type MultiOp struct {
	Type    MultiOpType
	Path    string
	Data    []byte
	ACL     []ACL
	Version int32 // delete/setData/check: expected version, -1 for "any"
	Flags   int32 // create: EPHEMERAL / SEQUENCE bit flags
}

// OpCreate builds a create sub-operation for use in a multi-op batch.
func OpCreate(path string, data []byte, acl []ACL, flags int32) MultiOp {
	return MultiOp{Type: MultiOpCreate, Path: path, Data: data, ACL: acl, Flags: flags}
}

// OpDelete builds a delete sub-operation.
func OpDelete(path string, version int32) MultiOp {
	return MultiOp{Type: MultiOpDelete, Path: path, Version: version}
}

// OpSetData builds a setData sub-operation.
func OpSetData(path string, data []byte, version int32) MultiOp {
	return MultiOp{Type: MultiOpSetData, Path: path, Data: data, Version: version}
}

// OpCheckVersion builds a version-check sub-operation: the whole batch is
// rejected if path is not at the given version when the transaction
// commits, without mutating anything itself.
func OpCheckVersion(path string, version int32) MultiOp {
	return MultiOp{Type: MultiOpCheckVersion, Path: path, Version: version}
}

// OpGetData builds a read-only get-data sub-operation for use in
// Client.MultiRead.
func OpGetData(path string) MultiOp {
	return MultiOp{Type: MultiOpGetData, Path: path}
}

// OpGetChildren builds a read-only get-children sub-operation for use in
// Client.MultiRead.
func OpGetChildren(path string) MultiOp {
	return MultiOp{Type: MultiOpGetChildren, Path: path}
}

// MultiResult is one sub-operation's outcome.
type MultiResult struct {
	Type     MultiOpType
	Err      error
	Path     string   // create: the path actually created (sequence suffix applied)
	Stat     Stat     // setData, getData, getChildren
	Data     []byte   // getData
	Children []string // getChildren
}

func writeMultiRequest(w *writer, ops []MultiOp) {
	for _, op := range ops {
		writeMultiHeader(w, int32(op.Type), false)
		switch op.Type {
		case MultiOpCreate:
			createRequest{Path: op.Path, Data: op.Data, ACL: op.ACL, Flags: op.Flags}.write(w)
		case MultiOpDelete:
			deleteRequest{Path: op.Path, Version: op.Version}.write(w)
		case MultiOpSetData:
			setDataRequest{Path: op.Path, Data: op.Data, Version: op.Version}.write(w)
		case MultiOpCheckVersion:
			checkVersionRequest{Path: op.Path, Version: op.Version}.write(w)
		case MultiOpGetData, MultiOpGetChildren:
			// Sub-ops never carry their own watch, unlike the single-call
			// form of these requests.
			pathWatchRequest{Path: op.Path}.write(w)
		}
	}
	writeMultiHeader(w, -1, true)
}

func writeMultiHeader(w *writer, opType int32, done bool) {
	w.writeInt(opType)
	w.writeBool(done)
	w.writeInt(-1)
}

type checkVersionRequest struct {
	Path    string
	Version int32
}

func (c checkVersionRequest) write(w *writer) {
	w.writeString(c.Path)
	w.writeInt(c.Version)
}

// readMultiHeader reads one (type, done, err) triple.
func readMultiHeader(r *reader) (opType int32, done bool, errCode int32, err error) {
	if opType, err = r.readInt(); err != nil {
		return
	}
	if done, err = r.readBool(); err != nil {
		return
	}
	errCode, err = r.readInt()
	return
}

// readMultiResponse decodes the sequence of sub-op results. If any sub-op
// failed (a non-OK error code), the whole batch is surfaced as an
// OperationFailed pointing at the first failure (spec.md §4.4); the
// remaining results are still decoded so callers inspecting err.(*OperationFailed)
// can see the full attempted batch shape, but per spec the transaction
// itself made no durable change.
func readMultiResponse(r *reader, ops []MultiOp) ([]MultiResult, error) {
	results := make([]MultiResult, 0, len(ops))
	var firstFailure error
	var firstFailureIndex int
	idx := 0
	for {
		opType, done, errCode, err := readMultiHeader(r)
		if err != nil {
			return nil, err
		}
		if done {
			break
		}
		if idx >= len(ops) {
			return nil, fmt.Errorf("%w: multi-op response has more sub-results than requests", ErrProtocolError)
		}
		res := MultiResult{Type: MultiOpType(opType)}
		if errCode != int32(ErrOK) && errCode != -1 {
			res.Err = ErrCode(errCode)
			if firstFailure == nil {
				firstFailure = res.Err
				firstFailureIndex = idx
			}
		}
		switch MultiOpType(opType) {
		case MultiOpCreate:
			if res.Err == nil {
				p, err := r.readString()
				if err != nil {
					return nil, err
				}
				res.Path = p
			}
		case MultiOpSetData:
			if res.Err == nil {
				s, err := r.readStat()
				if err != nil {
					return nil, err
				}
				res.Stat = s
			}
		case MultiOpDelete, MultiOpCheckVersion:
			// no payload on success
		case MultiOpGetData:
			if res.Err == nil {
				data, err := r.readBuffer()
				if err != nil {
					return nil, err
				}
				res.Data = data
				if res.Stat, err = r.readStat(); err != nil {
					return nil, err
				}
			}
		case MultiOpGetChildren:
			if res.Err == nil {
				children, err := r.readStringVector()
				if err != nil {
					return nil, err
				}
				res.Children = children
				if res.Stat, err = r.readStat(); err != nil {
					return nil, err
				}
			}
		case MultiOpType(-1):
			// error-only placeholder record the server emits for a
			// sub-op skipped because an earlier one already failed.
		}
		results = append(results, res)
		idx++
	}
	if firstFailure != nil {
		return results, &OperationFailed{Index: firstFailureIndex, Err: firstFailure}
	}
	return results, nil
}
