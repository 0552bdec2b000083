package version

import "testing"

func withBuildInfo(t *testing.T, v, c, d string) {
	t.Helper()
	prevV, prevC, prevD := version, commit, date
	version, commit, date = v, c, d
	t.Cleanup(func() { version, commit, date = prevV, prevC, prevD })
}

func TestDefaultsForLocalBuild(t *testing.T) {
	v, c, d := Info()
	if v != "dev" || c != "unknown" || d != "unknown" {
		t.Fatalf("unexpected defaults: %s %s %s", v, c, d)
	}
}

func TestLdflagsValuesAreExposed(t *testing.T) {
	withBuildInfo(t, "v1.4.0", "abc1234", "2024-05-01T12:00:00Z")

	if got := GetVersion(); got != "v1.4.0" {
		t.Fatalf("GetVersion() = %q", got)
	}
	if got := GetCommit(); got != "abc1234" {
		t.Fatalf("GetCommit() = %q", got)
	}
	if got := GetDate(); got != "2024-05-01T12:00:00Z" {
		t.Fatalf("GetDate() = %q", got)
	}
	if got := String(); got != "version=v1.4.0 commit=abc1234 date=2024-05-01T12:00:00Z" {
		t.Fatalf("String() = %q", got)
	}

	fields := Fields()
	if fields["version"] != "v1.4.0" || fields["commit"] != "abc1234" || fields["date"] != "2024-05-01T12:00:00Z" {
		t.Fatalf("Fields() = %v", fields)
	}
}
