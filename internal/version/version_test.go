package version

import (
	"strings"
	"testing"
)

func TestShortCommit(t *testing.T) {
	if got := shortCommit("abc"); got != "abc" {
		t.Fatalf("shortCommit(abc) = %q", got)
	}
	if got := shortCommit("0123456789abcdef"); got != "0123456789ab" {
		t.Fatalf("shortCommit = %q", got)
	}
}

func TestResolvePrefersLdflags(t *testing.T) {
	oldV, oldC := Version, Commit
	t.Cleanup(func() { Version, Commit = oldV, oldC })

	Version = "v1.2.3"
	Commit = "deadbeefcafef00d"
	info := Resolve()
	if info.Version != "v1.2.3" || info.Commit != "deadbeefcafef00d" {
		t.Fatalf("unexpected info: %+v", info)
	}
	if info.GoVersion == "" {
		t.Fatal("GoVersion not set")
	}
	if s := String(); !strings.HasPrefix(s, "v1.2.3 (deadbeefcafe") {
		t.Fatalf("String() = %q", s)
	}
}
