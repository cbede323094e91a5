package version

import "testing"

func TestInfoString(t *testing.T) {
	info := Info{Version: "1.2.0", GitCommit: "abc123", BuildTime: "2026-10-01"}
	if got := info.String(); got != "1.2.0 (abc123) built at 2026-10-01" {
		t.Errorf("unexpected version string: %s", got)
	}
	if Get().Version != Version {
		t.Errorf("Get should reflect injected variables")
	}
}
