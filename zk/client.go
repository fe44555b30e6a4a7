package zk

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// CreateFlags controls ephemeral/sequential semantics for Create (spec.md
// §4.2), matching ZooKeeper's CreateMode bit flags.
type CreateFlags int32

const (
	FlagPersistent             CreateFlags = 0
	FlagEphemeral              CreateFlags = 1
	FlagSequential             CreateFlags = 2
	FlagEphemeralSequential    CreateFlags = FlagEphemeral | FlagSequential
	FlagContainer              CreateFlags = 4
	FlagPersistentSequentialWithTTL CreateFlags = 6
)

// sessionCore is the state a family of chroot-derived Client handles
// share: one engine, one reference count. The last handle to Close (or
// be garbage collected without closing, which this type cannot detect
// and does not try to) decides whether the session is torn down
// gracefully or merely abandoned (spec.md §6 "detach").
type sessionCore struct {
	eng *engine

	mu     sync.Mutex
	refs   int
	closed bool
}

func (c *sessionCore) acquire() {
	c.mu.Lock()
	c.refs++
	c.mu.Unlock()
}

func (c *sessionCore) release(detach bool) error {
	c.mu.Lock()
	c.refs--
	last := c.refs == 0 && !c.closed
	if last {
		c.closed = true
	}
	c.mu.Unlock()
	if !last {
		return nil
	}
	if detach {
		c.eng.abandon()
		return nil
	}
	return c.eng.close()
}

// Client is a handle onto a ZooKeeper session, optionally viewing it
// through a chroot (spec.md §3 "Client"). Every path argument passed to
// a Client method is relative to its chroot; every path or watch event
// returned to the caller has already had the chroot stripped back off.
type Client struct {
	core   *sessionCore
	chroot string
}

// Connect starts establishing a session in the background and returns
// immediately (spec.md §4.5 "Session establishment is asynchronous").
// Progress is observed through the returned StateWatcher.
func Connect(connString string, opts ...Option) (*Client, *StateWatcher, error) {
	cfg := defaultConfig()
	for _, o := range opts {
		o(&cfg)
	}
	endpoints, connChroot, err := parseConnString(connString)
	if err != nil {
		return nil, nil, err
	}
	chroot, err := validateChroot(connChroot)
	if err != nil {
		return nil, nil, err
	}

	eng := newEngine(endpoints, cfg)
	eng.start()

	core := &sessionCore{eng: eng, refs: 1}
	return &Client{core: core, chroot: chroot}, eng.stateW, nil
}

// State returns the StateWatcher for this client's underlying session.
func (c *Client) State() *StateWatcher { return c.core.eng.stateW }

// SessionID and SessionPassword expose the credentials needed to resume
// this session elsewhere via WithSession (spec.md §6 "session").
func (c *Client) SessionID() int64 {
	id, _, _ := c.core.eng.snapshotSession()
	return id
}

func (c *Client) SessionPassword() []byte {
	_, passwd, _ := c.core.eng.snapshotSession()
	cp := make([]byte, len(passwd))
	copy(cp, passwd)
	return cp
}

// Chroot returns a new Client viewing the same session through sub
// joined onto this client's existing chroot (spec.md §3 "chroot(sub)").
// The two handles share one session and one reference count; closing
// either decrements it, and the session itself is torn down only when
// the count reaches zero.
func (c *Client) Chroot(sub string) (*Client, error) {
	if err := validatePath(sub); err != nil {
		return nil, err
	}
	joined := joinChroot(c.chroot, sub)
	if _, err := validateChroot(joined); err != nil {
		return nil, err
	}
	c.core.acquire()
	return &Client{core: c.core, chroot: joined}, nil
}

// Close releases this handle. If it is the last outstanding handle onto
// the session, it sends CloseSession and waits for the engine to exit,
// unless the session was built with WithDetach(true), in which case the
// session is abandoned locally (spec.md §4.4 "Close", §6 "detach").
func (c *Client) Close() error {
	return c.core.release(c.core.eng.cfg.detach)
}

func (c *Client) abs(path string) (string, error) {
	if err := validatePath(path); err != nil {
		return "", err
	}
	return joinChroot(c.chroot, path), nil
}

func (c *Client) do(ctx context.Context, opCode OpCode, absPath string, body []byte, decode func(r *reader) (any, error)) (requestResult, error) {
	req := &request{
		opCode:  opCode,
		path:    absPath,
		body:    body,
		decode:  decode,
		replyCh: make(chan requestResult, 1),
	}
	return c.core.eng.submit(ctx, req)
}

func (c *Client) doWatch(ctx context.Context, opCode OpCode, absPath string, body []byte, decode func(r *reader) (any, error), kind WatchMode) (requestResult, *watchSub, error) {
	sub := c.core.eng.watches.NewSubscriber(c.chroot, !kind.persistent())
	req := &request{
		opCode:    opCode,
		path:      absPath,
		body:      body,
		decode:    decode,
		replyCh:   make(chan requestResult, 1),
		watchSub:  sub,
		watchKind: kind,
		watchPath: absPath,
	}
	res, err := c.core.eng.submit(ctx, req)
	return res, sub, err
}

// removeWatch is called by OneshotWatcher.Remove / PersistentWatcher.Remove.
func (c *Client) removeWatch(kind WatchMode, userPath string) error {
	absPath, err := c.abs(userPath)
	if err != nil {
		return err
	}
	w := newWriter()
	removeWatchesRequest{Path: absPath, Type: watchModeWireType(kind)}.write(w)
	res, err := c.do(context.Background(), opRemoveWatches, absPath, w.bytes(), nil)
	if err != nil {
		return err
	}
	if res.err != nil {
		return res.err
	}
	c.core.eng.watches.Remove(kind, absPath)
	return nil
}

// watchModeWireType maps a WatchMode onto the server's WatcherType enum
// (DATA=0, CHILDREN=1, ANY=2) used by AddWatch/RemoveWatches. Exist
// watches are tracked server-side alongside data watches.
func watchModeWireType(m WatchMode) int32 {
	switch m {
	case WatchChild:
		return 1
	case WatchPersistent, WatchPersistentRecursive:
		return 2
	default:
		return 0
	}
}

// --- Create ---

// Create creates a node at path with data and acl, applying flags
// (spec.md §4.2 "create"). The returned path reflects any sequence
// suffix the server appended.
func (c *Client) Create(ctx context.Context, path string, data []byte, acl []ACL, flags CreateFlags) (string, *Stat, error) {
	absPath, err := c.abs(path)
	if err != nil {
		return "", nil, err
	}
	w := newWriter()
	createRequest{Path: absPath, Data: data, ACL: acl, Flags: int32(flags)}.write(w)
	decode := func(r *reader) (any, error) {
		p, err := r.readString()
		if err != nil {
			return nil, err
		}
		var st Stat
		if r.remaining() > 0 {
			st, err = r.readStat()
			if err != nil {
				return nil, err
			}
		}
		return createResponse{Path: p, Stat: st}, nil
	}
	res, err := c.do(ctx, opCreate2, absPath, w.bytes(), decode)
	if err != nil {
		return "", nil, err
	}
	if res.err != nil {
		return "", nil, res.err
	}
	cr := res.payload.(createResponse)
	stripped, _ := stripChroot(c.chroot, cr.Path)
	return stripped, &cr.Stat, nil
}

// --- Delete ---

// Delete removes path if its version matches version, or unconditionally
// when version is -1 (spec.md §4.2 "delete").
func (c *Client) Delete(ctx context.Context, path string, version int32) error {
	absPath, err := c.abs(path)
	if err != nil {
		return err
	}
	w := newWriter()
	deleteRequest{Path: absPath, Version: version}.write(w)
	res, err := c.do(ctx, opDelete, absPath, w.bytes(), nil)
	if err != nil {
		return err
	}
	return res.err
}

// --- Exists ---

// Exists checks whether path exists, optionally registering a watch.
// A nil Stat with a nil error means the node does not exist.
func (c *Client) Exists(ctx context.Context, path string, watch bool) (*Stat, *OneshotWatcher, error) {
	absPath, err := c.abs(path)
	if err != nil {
		return nil, nil, err
	}
	w := newWriter()
	pathWatchRequest{Path: absPath, Watch: watch}.write(w)
	decode := func(r *reader) (any, error) { return readStatResponse(r) }

	if !watch {
		res, err := c.do(ctx, opExists, absPath, w.bytes(), decode)
		if err != nil {
			return nil, nil, err
		}
		if res.err != nil {
			if errors.Is(res.err, ErrNoNode) {
				return nil, nil, nil
			}
			return nil, nil, res.err
		}
		st := res.payload.(statResponse).Stat
		return &st, nil, nil
	}

	res, sub, err := c.doWatch(ctx, opExists, absPath, w.bytes(), decode, WatchExist)
	if err != nil {
		return nil, nil, err
	}
	watcher := &OneshotWatcher{kind: WatchExist, path: path, ch: sub.ch, client: c}
	if res.err != nil {
		if errors.Is(res.err, ErrNoNode) {
			return nil, watcher, nil
		}
		return nil, nil, res.err
	}
	st := res.payload.(statResponse).Stat
	return &st, watcher, nil
}

// --- GetData ---

// GetData returns the node's data and Stat, optionally registering a watch.
func (c *Client) GetData(ctx context.Context, path string, watch bool) ([]byte, *Stat, *OneshotWatcher, error) {
	absPath, err := c.abs(path)
	if err != nil {
		return nil, nil, nil, err
	}
	w := newWriter()
	pathWatchRequest{Path: absPath, Watch: watch}.write(w)
	decode := func(r *reader) (any, error) { return readGetDataResponse(r) }

	if !watch {
		res, err := c.do(ctx, opGetData, absPath, w.bytes(), decode)
		if err != nil {
			return nil, nil, nil, err
		}
		if res.err != nil {
			return nil, nil, nil, res.err
		}
		gd := res.payload.(getDataResponse)
		return gd.Data, &gd.Stat, nil, nil
	}

	res, sub, err := c.doWatch(ctx, opGetData, absPath, w.bytes(), decode, WatchData)
	if err != nil {
		return nil, nil, nil, err
	}
	if res.err != nil {
		return nil, nil, nil, res.err
	}
	gd := res.payload.(getDataResponse)
	watcher := &OneshotWatcher{kind: WatchData, path: path, ch: sub.ch, client: c}
	return gd.Data, &gd.Stat, watcher, nil
}

// --- SetData ---

// SetData sets path's data, enforcing version unless it is -1.
func (c *Client) SetData(ctx context.Context, path string, data []byte, version int32) (*Stat, error) {
	absPath, err := c.abs(path)
	if err != nil {
		return nil, err
	}
	w := newWriter()
	setDataRequest{Path: absPath, Data: data, Version: version}.write(w)
	decode := func(r *reader) (any, error) { return readStatResponse(r) }
	res, err := c.do(ctx, opSetData, absPath, w.bytes(), decode)
	if err != nil {
		return nil, err
	}
	if res.err != nil {
		return nil, res.err
	}
	st := res.payload.(statResponse).Stat
	return &st, nil
}

// --- GetChildren ---

// GetChildren lists path's children and Stat, optionally registering a
// child watch.
func (c *Client) GetChildren(ctx context.Context, path string, watch bool) ([]string, *Stat, *OneshotWatcher, error) {
	absPath, err := c.abs(path)
	if err != nil {
		return nil, nil, nil, err
	}
	w := newWriter()
	pathWatchRequest{Path: absPath, Watch: watch}.write(w)
	decode := func(r *reader) (any, error) { return readChildren2Response(r) }

	if !watch {
		res, err := c.do(ctx, opGetChildren2, absPath, w.bytes(), decode)
		if err != nil {
			return nil, nil, nil, err
		}
		if res.err != nil {
			return nil, nil, nil, res.err
		}
		cr := res.payload.(children2Response)
		return cr.Children, &cr.Stat, nil, nil
	}

	res, sub, err := c.doWatch(ctx, opGetChildren2, absPath, w.bytes(), decode, WatchChild)
	if err != nil {
		return nil, nil, nil, err
	}
	if res.err != nil {
		return nil, nil, nil, res.err
	}
	cr := res.payload.(children2Response)
	watcher := &OneshotWatcher{kind: WatchChild, path: path, ch: sub.ch, client: c}
	return cr.Children, &cr.Stat, watcher, nil
}

// --- GetACL / SetACL ---

func (c *Client) GetACL(ctx context.Context, path string) ([]ACL, *Stat, error) {
	absPath, err := c.abs(path)
	if err != nil {
		return nil, nil, err
	}
	w := newWriter()
	pathOnlyRequest{Path: absPath}.write(w)
	decode := func(r *reader) (any, error) { return readGetACLResponse(r) }
	res, err := c.do(ctx, opGetACL, absPath, w.bytes(), decode)
	if err != nil {
		return nil, nil, err
	}
	if res.err != nil {
		return nil, nil, res.err
	}
	ga := res.payload.(getACLResponse)
	return ga.ACL, &ga.Stat, nil
}

func (c *Client) SetACL(ctx context.Context, path string, acl []ACL, version int32) (*Stat, error) {
	absPath, err := c.abs(path)
	if err != nil {
		return nil, err
	}
	w := newWriter()
	setACLRequest{Path: absPath, ACL: acl, Version: version}.write(w)
	decode := func(r *reader) (any, error) { return readStatResponse(r) }
	res, err := c.do(ctx, opSetACL, absPath, w.bytes(), decode)
	if err != nil {
		return nil, err
	}
	if res.err != nil {
		return nil, res.err
	}
	st := res.payload.(statResponse).Stat
	return &st, nil
}

// --- Sync ---

// Sync flushes path's channel between this client's connected server
// and the leader before the next read sees the result (spec.md §4.2 "sync").
func (c *Client) Sync(ctx context.Context, path string) error {
	absPath, err := c.abs(path)
	if err != nil {
		return err
	}
	w := newWriter()
	pathOnlyRequest{Path: absPath}.write(w)
	decode := func(r *reader) (any, error) { return readSyncResponse(r) }
	res, err := c.do(ctx, opSync, absPath, w.bytes(), decode)
	if err != nil {
		return err
	}
	return res.err
}

// --- Auth ---

// AddAuth adds a (scheme, credential) pair to the live session, in
// addition to any configured via WithAuth at Connect time (spec.md §4.2
// "auth").
func (c *Client) AddAuth(ctx context.Context, scheme string, cred []byte) error {
	w := newWriter()
	authRequest{Scheme: scheme, Auth: cred}.write(w)
	res, err := c.do(ctx, opAuth, "/", w.bytes(), nil)
	if err != nil {
		return err
	}
	return res.err
}

// WhoAmI lists the authentication ids the server currently associates
// with this session (spec.md §4.2 "list_auth_users").
func (c *Client) WhoAmI(ctx context.Context) ([]ACL, error) {
	decode := func(r *reader) (any, error) { return readWhoAmIResponse(r) }
	res, err := c.do(ctx, opWhoAmI, "/", nil, decode)
	if err != nil {
		return nil, err
	}
	if res.err != nil {
		return nil, res.err
	}
	return res.payload.(whoAmIResponse).Ids, nil
}

// --- Ephemerals / descendant counting ---

// GetEphemerals lists ephemeral node paths created by this session under
// prefixPath (spec.md §4.2 "list_ephemerals").
func (c *Client) GetEphemerals(ctx context.Context, prefixPath string) ([]string, error) {
	absPrefix, err := c.abs(prefixPath)
	if err != nil {
		return nil, err
	}
	w := newWriter()
	getEphemeralsRequest{PrefixPath: absPrefix}.write(w)
	decode := func(r *reader) (any, error) { return readGetEphemeralsResponse(r) }
	res, err := c.do(ctx, opGetEphemerals, absPrefix, w.bytes(), decode)
	if err != nil {
		return nil, err
	}
	if res.err != nil {
		return nil, res.err
	}
	paths := res.payload.(getEphemeralsResponse).Paths
	out := make([]string, len(paths))
	for i, p := range paths {
		out[i], _ = stripChroot(c.chroot, p)
	}
	return out, nil
}

// CountDescendants returns the total number of nodes under path,
// excluding path itself (spec.md §4.2 "count_descendants").
func (c *Client) CountDescendants(ctx context.Context, path string) (int32, error) {
	absPath, err := c.abs(path)
	if err != nil {
		return 0, err
	}
	w := newWriter()
	pathOnlyRequest{Path: absPath}.write(w)
	decode := func(r *reader) (any, error) { return readGetAllChildrenNumberResponse(r) }
	res, err := c.do(ctx, opGetAllChildrenNumber, absPath, w.bytes(), decode)
	if err != nil {
		return 0, err
	}
	if res.err != nil {
		return 0, res.err
	}
	return res.payload.(getAllChildrenNumberResponse).TotalNumber, nil
}

// --- Multi-op transactions ---

// MultiWrite executes a batch of create/delete/setData/checkVersion
// sub-operations atomically (spec.md §4.4 "multi_write"). On partial
// failure it returns *OperationFailed alongside the full decoded result
// slice so the caller can see which sub-operation failed.
func (c *Client) MultiWrite(ctx context.Context, ops []MultiOp) ([]MultiResult, error) {
	absOps := make([]MultiOp, len(ops))
	for i, op := range ops {
		absPath, err := c.abs(op.Path)
		if err != nil {
			return nil, err
		}
		op.Path = absPath
		absOps[i] = op
	}
	w := newWriter()
	writeMultiRequest(w, absOps)
	decode := func(r *reader) (any, error) { return readMultiResponse(r, absOps) }
	res, err := c.do(ctx, opMulti, "/", w.bytes(), decode)
	if err != nil {
		return nil, err
	}
	var results []MultiResult
	if res.payload != nil {
		results = res.payload.([]MultiResult)
		for i := range results {
			if results[i].Path != "" {
				results[i].Path, _ = stripChroot(c.chroot, results[i].Path)
			}
		}
	}
	return results, res.err
}

// MultiRead executes a batch of getData/getChildren sub-operations as one
// read-only transaction against a single consistent view (spec.md §4.6
// "multi_read", distinct from MultiWrite's create/delete/setData/
// checkVersion sub-op set). Every op must be built with OpGetData or
// OpGetChildren.
func (c *Client) MultiRead(ctx context.Context, ops []MultiOp) ([]MultiResult, error) {
	absOps := make([]MultiOp, len(ops))
	for i, op := range ops {
		switch op.Type {
		case MultiOpGetData, MultiOpGetChildren:
		default:
			return nil, fmt.Errorf("%w: MultiRead sub-operation %d is not a read op", ErrClientInternalError, i)
		}
		absPath, err := c.abs(op.Path)
		if err != nil {
			return nil, err
		}
		op.Path = absPath
		absOps[i] = op
	}
	w := newWriter()
	writeMultiRequest(w, absOps)
	decode := func(r *reader) (any, error) { return readMultiResponse(r, absOps) }
	res, err := c.do(ctx, opMulti, "/", w.bytes(), decode)
	if err != nil {
		return nil, err
	}
	var results []MultiResult
	if res.payload != nil {
		results = res.payload.([]MultiResult)
	}
	return results, res.err
}

// CheckWrite executes a create/delete/setData batch only if path is
// currently at version, atomically (spec.md §4.6 "check_write"): a way to
// make an otherwise unrelated set of writes conditional on some other
// node's version without the batch itself touching that node. The
// version check is not included in the returned results.
func (c *Client) CheckWrite(ctx context.Context, path string, version int32, ops []MultiOp) ([]MultiResult, error) {
	batch := make([]MultiOp, 0, len(ops)+1)
	batch = append(batch, OpCheckVersion(path, version))
	batch = append(batch, ops...)

	results, err := c.MultiWrite(ctx, batch)
	if len(results) > 0 {
		results = results[1:]
	}
	var opFailed *OperationFailed
	if errors.As(err, &opFailed) {
		if opFailed.Index == 0 {
			return nil, fmt.Errorf("check_write: version check on %s failed: %w", path, opFailed.Err)
		}
		return results, &OperationFailed{Index: opFailed.Index - 1, Err: opFailed.Err}
	}
	return results, err
}

// --- Persistent / persistent-recursive watches ---

// AddWatch installs a persistent (or, if recursive is true,
// persistent-recursive) watch on path, surviving until explicitly
// removed (spec.md §4.3, SPEC_FULL.md §D.2).
func (c *Client) AddWatch(ctx context.Context, path string, recursive bool) (*PersistentWatcher, error) {
	absPath, err := c.abs(path)
	if err != nil {
		return nil, err
	}
	kind := WatchPersistent
	mode := int32(0)
	if recursive {
		kind = WatchPersistentRecursive
		mode = 1
	}
	w := newWriter()
	addWatchRequest{Path: absPath, Mode: mode}.write(w)
	res, sub, err := c.doWatch(ctx, opAddWatch, absPath, w.bytes(), nil, kind)
	if err != nil {
		return nil, err
	}
	if res.err != nil {
		return nil, res.err
	}
	return &PersistentWatcher{kind: kind, path: path, ch: sub.ch, client: c}, nil
}

// --- Reconfig ---

// Reconfig changes ensemble membership (spec.md §4.2 "update_ensemble").
// joining/leaving/newMembers follow the server's reconfiguration command
// syntax; pass an empty newMembers with non-empty joining/leaving for an
// incremental reconfiguration.
func (c *Client) Reconfig(ctx context.Context, joining, leaving, newMembers string, curConfigID int64) ([]byte, *Stat, error) {
	w := newWriter()
	reconfigRequest{JoiningServers: joining, LeavingServers: leaving, NewMembers: newMembers, CurConfigID: curConfigID}.write(w)
	decode := func(r *reader) (any, error) { return readGetDataResponse(r) }
	res, err := c.do(ctx, opReconfig, "/zookeeper/config", w.bytes(), decode)
	if err != nil {
		return nil, nil, err
	}
	if res.err != nil {
		return nil, nil, res.err
	}
	gd := res.payload.(getDataResponse)
	return gd.Data, &gd.Stat, nil
}

// GetConfig reads the current dynamic ensemble configuration, optionally
// watching it for change (spec.md §4.2 "get_config").
func (c *Client) GetConfig(ctx context.Context, watch bool) ([]byte, *Stat, *OneshotWatcher, error) {
	w := newWriter()
	pathWatchRequest{Path: "/zookeeper/config", Watch: watch}.write(w)
	decode := func(r *reader) (any, error) { return readGetDataResponse(r) }

	if !watch {
		res, err := c.do(ctx, opGetData, "/zookeeper/config", w.bytes(), decode)
		if err != nil {
			return nil, nil, nil, err
		}
		if res.err != nil {
			return nil, nil, nil, res.err
		}
		gd := res.payload.(getDataResponse)
		return gd.Data, &gd.Stat, nil, nil
	}
	res, sub, err := c.doWatch(ctx, opGetData, "/zookeeper/config", w.bytes(), decode, WatchData)
	if err != nil {
		return nil, nil, nil, err
	}
	if res.err != nil {
		return nil, nil, nil, res.err
	}
	gd := res.payload.(getDataResponse)
	watcher := &OneshotWatcher{kind: WatchData, path: "/zookeeper/config", ch: sub.ch, client: c}
	return gd.Data, &gd.Stat, watcher, nil
}
