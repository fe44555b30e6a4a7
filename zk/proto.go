package zk

// OpCode identifies the kind of a request/response record on the wire
// (spec.md §6, non-exhaustive opcode list).
type OpCode int32

const (
	opNotify          OpCode = 0
	opCreate          OpCode = 1
	opDelete          OpCode = 2
	opExists          OpCode = 3
	opGetData         OpCode = 4
	opSetData         OpCode = 5
	opGetACL          OpCode = 6
	opSetACL          OpCode = 7
	opGetChildren     OpCode = 8
	opSync            OpCode = 9
	opPing            OpCode = 11
	opGetChildren2    OpCode = 12
	opCheck           OpCode = 13
	opMulti           OpCode = 14
	opCreate2         OpCode = 15
	opReconfig        OpCode = 16
	opCheckWatches    OpCode = 17
	opRemoveWatches   OpCode = 18
	opCreateContainer OpCode = 19
	opCreateTTL       OpCode = 21
	opClose           OpCode = -11
	opSetAuth         OpCode = 100
	opSetWatches      OpCode = 101
	opSasl            OpCode = 102
	opGetEphemerals   OpCode = 103
	opGetAllChildrenNumber OpCode = 104
	opSetWatches2     OpCode = 105
	opAddWatch        OpCode = 106
	opWhoAmI          OpCode = 107
	opAuth            OpCode = 120
)

// Reserved xids (spec.md §4.4). These are skipped by the session engine's
// xid counter and are instead matched by special-case on response receipt.
const (
	xidNotification int32 = -1
	xidPing         int32 = -2
	xidAuth         int32 = -4
	xidSetWatches   int32 = -8
)

// WatchMode selects the kind of watch spec.md §3's WatchDescriptor may take.
type WatchMode int32

const (
	WatchData WatchMode = iota
	WatchExist
	WatchChild
	WatchPersistent
	WatchPersistentRecursive
)

func (m WatchMode) String() string {
	switch m {
	case WatchData:
		return "data"
	case WatchExist:
		return "exist"
	case WatchChild:
		return "child"
	case WatchPersistent:
		return "persistent"
	case WatchPersistentRecursive:
		return "persistent-recursive"
	default:
		return "unknown"
	}
}

func (m WatchMode) persistent() bool {
	return m == WatchPersistent || m == WatchPersistentRecursive
}

// requestHeader precedes every non-connect request.
type requestHeader struct {
	Xid    int32
	OpCode OpCode
}

func (h requestHeader) write(w *writer) {
	w.writeInt(h.Xid)
	w.writeInt(int32(h.OpCode))
}

// replyHeader precedes every non-connect, non-watch-event response.
type replyHeader struct {
	Xid  int32
	Zxid int64
	Err  int32
}

func readReplyHeader(r *reader) (replyHeader, error) {
	var h replyHeader
	var err error
	if h.Xid, err = r.readInt(); err != nil {
		return h, err
	}
	if h.Zxid, err = r.readLong(); err != nil {
		return h, err
	}
	if h.Err, err = r.readInt(); err != nil {
		return h, err
	}
	return h, nil
}

// connectRequest is sent, unframed by requestHeader, as the very first
// message on a fresh TCP connection (spec.md §4.5 "Connect protocol").
type connectRequest struct {
	ProtocolVersion int32
	LastZxidSeen    int64
	Timeout         int32
	SessionID       int64
	Passwd          []byte
	ReadOnly        bool
}

func (c connectRequest) write(w *writer) {
	w.writeInt(c.ProtocolVersion)
	w.writeLong(c.LastZxidSeen)
	w.writeInt(c.Timeout)
	w.writeLong(c.SessionID)
	w.writeBuffer(c.Passwd)
	w.writeBool(c.ReadOnly)
}

type connectResponse struct {
	ProtocolVersion int32
	Timeout         int32
	SessionID       int64
	Passwd          []byte
	ReadOnly        bool
}

func readConnectResponse(r *reader) (connectResponse, error) {
	var c connectResponse
	var err error
	if c.ProtocolVersion, err = r.readInt(); err != nil {
		return c, err
	}
	if c.Timeout, err = r.readInt(); err != nil {
		return c, err
	}
	if c.SessionID, err = r.readLong(); err != nil {
		return c, err
	}
	if c.Passwd, err = r.readBuffer(); err != nil {
		return c, err
	}
	// ReadOnly is absent on servers that predate read-only mode; treat a
	// short read as "false" rather than a protocol error.
	if r.remaining() > 0 {
		if c.ReadOnly, err = r.readBool(); err != nil {
			return c, err
		}
	}
	return c, nil
}

// watcherEvent is the xid=-1 notification record (spec.md §4.4).
type watcherEvent struct {
	Type  int32
	State int32
	Path  string
}

func readWatcherEvent(r *reader) (watcherEvent, error) {
	var e watcherEvent
	var err error
	if e.Type, err = r.readInt(); err != nil {
		return e, err
	}
	if e.State, err = r.readInt(); err != nil {
		return e, err
	}
	if e.Path, err = r.readString(); err != nil {
		return e, err
	}
	return e, nil
}

// --- Create ---

type createRequest struct {
	Path  string
	Data  []byte
	ACL   []ACL
	Flags int32
}

func (c createRequest) write(w *writer) {
	w.writeString(c.Path)
	w.writeBuffer(c.Data)
	w.writeACLVector(c.ACL)
	w.writeInt(c.Flags)
}

type createResponse struct {
	Path string
	Stat Stat // only populated for Create2/CreateContainer/CreateTTL
}

// --- Delete ---

type deleteRequest struct {
	Path    string
	Version int32
}

func (d deleteRequest) write(w *writer) {
	w.writeString(d.Path)
	w.writeInt(d.Version)
}

// --- Exists / GetData (share a request shape) ---

type pathWatchRequest struct {
	Path  string
	Watch bool
}

func (p pathWatchRequest) write(w *writer) {
	w.writeString(p.Path)
	w.writeBool(p.Watch)
}

type statResponse struct {
	Stat Stat
}

func readStatResponse(r *reader) (statResponse, error) {
	s, err := r.readStat()
	return statResponse{Stat: s}, err
}

type getDataResponse struct {
	Data []byte
	Stat Stat
}

func readGetDataResponse(r *reader) (getDataResponse, error) {
	var resp getDataResponse
	var err error
	if resp.Data, err = r.readBuffer(); err != nil {
		return resp, err
	}
	resp.Stat, err = r.readStat()
	return resp, err
}

// --- SetData ---

type setDataRequest struct {
	Path    string
	Data    []byte
	Version int32
}

func (s setDataRequest) write(w *writer) {
	w.writeString(s.Path)
	w.writeBuffer(s.Data)
	w.writeInt(s.Version)
}

// --- GetChildren / GetChildren2 ---

type childrenResponse struct {
	Children []string
}

func readChildrenResponse(r *reader) (childrenResponse, error) {
	c, err := r.readStringVector()
	return childrenResponse{Children: c}, err
}

type children2Response struct {
	Children []string
	Stat     Stat
}

func readChildren2Response(r *reader) (children2Response, error) {
	var resp children2Response
	var err error
	if resp.Children, err = r.readStringVector(); err != nil {
		return resp, err
	}
	resp.Stat, err = r.readStat()
	return resp, err
}

// --- ACL ---

type getACLResponse struct {
	ACL  []ACL
	Stat Stat
}

func readGetACLResponse(r *reader) (getACLResponse, error) {
	var resp getACLResponse
	var err error
	if resp.ACL, err = r.readACLVector(); err != nil {
		return resp, err
	}
	resp.Stat, err = r.readStat()
	return resp, err
}

type setACLRequest struct {
	Path    string
	ACL     []ACL
	Version int32
}

func (s setACLRequest) write(w *writer) {
	w.writeString(s.Path)
	w.writeACLVector(s.ACL)
	w.writeInt(s.Version)
}

// --- Sync ---

type pathOnlyRequest struct{ Path string }

func (p pathOnlyRequest) write(w *writer) { w.writeString(p.Path) }

type syncResponse struct{ Path string }

func readSyncResponse(r *reader) (syncResponse, error) {
	p, err := r.readString()
	return syncResponse{Path: p}, err
}

// --- Auth ---

type authRequest struct {
	Type   int32
	Scheme string
	Auth   []byte
}

func (a authRequest) write(w *writer) {
	w.writeInt(a.Type)
	w.writeString(a.Scheme)
	w.writeBuffer(a.Auth)
}

// --- SetWatches (v2), resumption on reconnect (spec.md §4.5) ---

type setWatches2Request struct {
	RelativeZxid      int64
	DataWatches       []string
	ExistWatches      []string
	ChildWatches      []string
	PersistentWatches []string
	PersistentRecursiveWatches []string
}

func (s setWatches2Request) write(w *writer) {
	w.writeLong(s.RelativeZxid)
	w.writeStringVector(s.DataWatches)
	w.writeStringVector(s.ExistWatches)
	w.writeStringVector(s.ChildWatches)
	w.writeStringVector(s.PersistentWatches)
	w.writeStringVector(s.PersistentRecursiveWatches)
}

// --- AddWatch / RemoveWatches ---

type addWatchRequest struct {
	Path string
	Mode int32 // 0 = persistent, 1 = persistent recursive
}

func (a addWatchRequest) write(w *writer) {
	w.writeString(a.Path)
	w.writeInt(a.Mode)
}

type removeWatchesRequest struct {
	Path string
	Type int32 // watcher kind being removed
}

func (r2 removeWatchesRequest) write(w *writer) {
	w.writeString(r2.Path)
	w.writeInt(r2.Type)
}

// --- GetEphemerals / GetAllChildrenNumber ---

type getEphemeralsRequest struct{ PrefixPath string }

func (g getEphemeralsRequest) write(w *writer) { w.writeString(g.PrefixPath) }

type getEphemeralsResponse struct{ Paths []string }

func readGetEphemeralsResponse(r *reader) (getEphemeralsResponse, error) {
	p, err := r.readStringVector()
	return getEphemeralsResponse{Paths: p}, err
}

type getAllChildrenNumberResponse struct{ TotalNumber int32 }

func readGetAllChildrenNumberResponse(r *reader) (getAllChildrenNumberResponse, error) {
	n, err := r.readInt()
	return getAllChildrenNumberResponse{TotalNumber: n}, err
}

// --- WhoAmI (list_auth_users) ---

type whoAmIResponse struct {
	Ids []ACL // only Scheme/ID are meaningful
}

func readWhoAmIResponse(r *reader) (whoAmIResponse, error) {
	n, err := r.readInt()
	if err != nil {
		return whoAmIResponse{}, err
	}
	ids := make([]ACL, 0, n)
	for i := int32(0); i < n; i++ {
		scheme, err := r.readString()
		if err != nil {
			return whoAmIResponse{}, err
		}
		id, err := r.readString()
		if err != nil {
			return whoAmIResponse{}, err
		}
		ids = append(ids, ACL{Scheme: scheme, ID: id})
	}
	return whoAmIResponse{Ids: ids}, nil
}

// --- Reconfig / GetConfig ---

type reconfigRequest struct {
	JoiningServers string
	LeavingServers string
	NewMembers     string
	CurConfigID    int64
}

func (r2 reconfigRequest) write(w *writer) {
	w.writeString(r2.JoiningServers)
	w.writeString(r2.LeavingServers)
	w.writeString(r2.NewMembers)
	w.writeLong(r2.CurConfigID)
}
