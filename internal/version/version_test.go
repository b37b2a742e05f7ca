package version

import (
	"log/slog"
	"runtime"
	"testing"
)

func TestGet(t *testing.T) {
	info := Get()

	if info.Version == "" || info.Commit == "" || info.Date == "" {
		t.Errorf("build fields should have defaults: %+v", info)
	}
	if info.GoVersion != runtime.Version() {
		t.Errorf("GoVersion = %q, want %q", info.GoVersion, runtime.Version())
	}
	if want := runtime.GOOS + "/" + runtime.GOARCH; info.Platform != want {
		t.Errorf("Platform = %q, want %q", info.Platform, want)
	}
	if info.Dirty != (Dirty == "true") {
		t.Errorf("Dirty = %v with package Dirty=%q", info.Dirty, Dirty)
	}
}

func TestInfo_Strings(t *testing.T) {
	tests := []struct {
		name      string
		info      Info
		wantLong  string
		wantShort string
	}{
		{
			"clean",
			Info{Version: "1.2.0", Commit: "abc123", Date: "2026-10-01T00:00:00Z"},
			"1.2.0 (abc123) built 2026-10-01T00:00:00Z",
			"1.2.0",
		},
		{
			"dirty",
			Info{Version: "1.2.0", Commit: "abc123", Date: "2026-10-01T00:00:00Z", Dirty: true},
			"1.2.0 (abc123-dirty) built 2026-10-01T00:00:00Z",
			"1.2.0-dirty",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.info.String(); got != tt.wantLong {
				t.Errorf("String() = %q, want %q", got, tt.wantLong)
			}
			if got := tt.info.Short(); got != tt.wantShort {
				t.Errorf("Short() = %q, want %q", got, tt.wantShort)
			}
		})
	}
}

func TestInfo_LogValue(t *testing.T) {
	v := Info{Version: "1.0.0", Commit: "c", Date: "d", GoVersion: "go1.25"}.LogValue()
	if v.Kind() != slog.KindGroup {
		t.Fatalf("Kind = %v, want group", v.Kind())
	}
	attrs := v.Group()
	if len(attrs) != 4 || attrs[0].Key != "version" || attrs[0].Value.String() != "1.0.0" {
		t.Errorf("attrs = %v", attrs)
	}
}
