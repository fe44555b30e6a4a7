package zk

import (
	"fmt"
	"strings"
)

// maxPathLength mirrors the server-side jute.maxbuffer-derived limit most
// ZooKeeper ensembles enforce; validate() rejects longer paths client-side
// rather than spend a round trip discovering the server will.
const maxPathLength = 1024 * 1024

// validatePath checks a user-supplied path against spec.md §4.2: it must
// start with "/", contain no empty segments except the root itself, no
// NUL bytes, no trailing "/" except the root, and be within the length
// limit.
func validatePath(path string) error {
	if path == "" {
		return badArguments("path must not be empty")
	}
	if path[0] != '/' {
		return badArguments("path %q must start with /", path)
	}
	if len(path) > maxPathLength {
		return badArguments("path %q exceeds maximum length %d", path, maxPathLength)
	}
	if strings.IndexByte(path, 0) >= 0 {
		return badArguments("path %q contains a NUL byte", path)
	}
	if path != "/" && strings.HasSuffix(path, "/") {
		return badArguments("path %q must not have a trailing slash", path)
	}
	if path == "/" {
		return nil
	}
	for _, seg := range strings.Split(path[1:], "/") {
		if seg == "" {
			return badArguments("path %q has an empty segment", path)
		}
		if seg == "." || seg == ".." {
			return badArguments("path %q contains a relative segment %q", path, seg)
		}
	}
	return nil
}

// validateChroot validates a chroot path. An empty string is normalized
// to "/" (a no-op chroot, spec.md §3); anything else must validate as an
// ordinary absolute path. "/" itself is accepted and is likewise a no-op.
func validateChroot(chroot string) (string, error) {
	if chroot == "" {
		return "/", nil
	}
	if err := validatePath(chroot); err != nil {
		return "", fmt.Errorf("invalid chroot: %w", err)
	}
	return chroot, nil
}

// joinChroot translates a user-relative path into the absolute,
// server-side path by prepending the chroot (spec.md §4.2, §4.6 step 2).
// An empty chroot ("/") is a no-op.
func joinChroot(chroot, path string) string {
	if chroot == "/" {
		return path
	}
	if path == "/" {
		return chroot
	}
	return chroot + path
}

// stripChroot reverses joinChroot for an incoming event or result path
// (spec.md §4.2, §3 "chroot"). It reports whether the event path actually
// fell under the chroot; when it does not (the chroot-above-path case,
// spec.md §9 Open Question 1), the caller receives back the absolute path
// unchanged, per the recorded decision in SPEC_FULL.md §E.1.
func stripChroot(chroot, path string) (stripped string, aboveChroot bool) {
	if chroot == "/" {
		return path, false
	}
	if path == chroot {
		return "/", false
	}
	if strings.HasPrefix(path, chroot+"/") {
		return path[len(chroot):], false
	}
	return path, true
}
