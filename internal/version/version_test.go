package version

import (
	"strings"
	"testing"
)

func TestCurrentDefaults(t *testing.T) {
	build := Current()

	if build.Version == "" || build.Commit == "" || build.Date == "" {
		t.Fatalf("build info must not have empty fields: %+v", build)
	}
	if !strings.HasPrefix(build.GoVersion, "go") {
		t.Fatalf("unexpected go version: %q", build.GoVersion)
	}
}

func TestStringCarriesAllFields(t *testing.T) {
	oldVersion, oldCommit, oldDate := version, commit, date
	version, commit, date = "1.4.0", "deadbeef", "2026-08-30"
	defer func() {
		version, commit, date = oldVersion, oldCommit, oldDate
	}()

	s := String()
	for _, part := range []string{"version=1.4.0", "commit=deadbeef", "date=2026-08-30"} {
		if !strings.Contains(s, part) {
			t.Fatalf("expected %q in %q", part, s)
		}
	}

	build := Current()
	if build.Version != "1.4.0" || build.Commit != "deadbeef" || build.Date != "2026-08-30" {
		t.Fatalf("build info should reflect ldflags overrides: %+v", build)
	}
}
