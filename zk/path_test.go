package zk

import "testing"

func TestValidatePath(t *testing.T) {
	cases := []struct {
		path string
		ok   bool
	}{
		{"/", true},
		{"/a", true},
		{"/a/b/c", true},
		{"", false},
		{"a", false},
		{"/a/", false},
		{"/a//b", false},
		{"/a/./b", false},
		{"/a/../b", false},
		{"/a\x00b", false},
	}
	for _, c := range cases {
		err := validatePath(c.path)
		if (err == nil) != c.ok {
			t.Errorf("validatePath(%q): got err=%v, want ok=%v", c.path, err, c.ok)
		}
	}
}

func TestValidateChroot(t *testing.T) {
	got, err := validateChroot("")
	if err != nil || got != "/" {
		t.Fatalf("empty chroot: got (%q, %v)", got, err)
	}
	got, err = validateChroot("/app")
	if err != nil || got != "/app" {
		t.Fatalf("chroot /app: got (%q, %v)", got, err)
	}
	if _, err := validateChroot("app"); err == nil {
		t.Fatal("expected error for relative chroot")
	}
}

func TestJoinAndStripChroot(t *testing.T) {
	joined := joinChroot("/app", "/foo/bar")
	if joined != "/app/foo/bar" {
		t.Fatalf("joinChroot: got %q", joined)
	}
	stripped, above := stripChroot("/app", joined)
	if stripped != "/foo/bar" || above {
		t.Fatalf("stripChroot round trip: got (%q, %v)", stripped, above)
	}

	// A path outside the chroot (e.g. a broadcast session-scoped event
	// arriving for a different subtree) is returned unchanged.
	stripped, above = stripChroot("/app", "/other/path")
	if stripped != "/other/path" || !above {
		t.Fatalf("stripChroot above-chroot: got (%q, %v)", stripped, above)
	}

	if joinChroot("/", "/foo") != "/foo" {
		t.Fatal("no-op chroot should pass path through unchanged")
	}
	if joinChroot("/app", "/") != "/app" {
		t.Fatal("joining root onto a chroot should yield the chroot itself")
	}
}
