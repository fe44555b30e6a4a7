package zk

// Permission bits for ACL.Perms, matching the teacher's PERM_* constants.
const (
	PermRead = 1 << iota
	PermWrite
	PermCreate
	PermDelete
	PermAdmin
	PermAll = 0x1f
)

// ACL represents one access control list element: the permissions, the
// authentication scheme ("world", "auth", "digest", ...), and the
// scheme-dependent id.
type ACL struct {
	Perms  int32
	Scheme string
	ID     string
}

// WorldACL produces an ACL list granting perms to any user at all, the
// same convenience the teacher's WorldACL provided.
func WorldACL(perms int32) []ACL {
	return []ACL{{Perms: perms, Scheme: "world", ID: "anyone"}}
}

// AuthACL produces an ACL list granting perms to any authenticated user,
// mirroring the teacher's AuthACL.
func AuthACL(perms int32) []ACL {
	return []ACL{{Perms: perms, Scheme: "auth", ID: ""}}
}

// DigestACL produces an ACL list granting perms to the holder of a
// digest credential identified by id (typically "user:base64(sha1)").
func DigestACL(perms int32, id string) []ACL {
	return []ACL{{Perms: perms, Scheme: "digest", ID: id}}
}

// Auth is a (scheme, credential) pair applied on every connect, per the
// build-time "auth" configuration in spec.md §6.
type Auth struct {
	Scheme string
	Cred   []byte
}
