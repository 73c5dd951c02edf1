package version

import (
	"strings"
	"testing"
)

func TestVersionString(t *testing.T) {
	v := Version{Major: "1", Minor: "2", Patch: "3", Metadata: "rc1", Build: "abcdef"}
	want := "Version: 1.2.3-rc1\nBuild: abcdef"
	if got := v.String(); got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
	if !strings.HasPrefix(AthrillVersion.String(), "Version: 1.1.0\n") {
		t.Fatalf("unexpected version %q", AthrillVersion.String())
	}
}
