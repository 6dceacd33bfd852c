package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func runTool(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	err := newApp(&out).Run(append([]string{"profiletool"}, args...))
	return out.String(), err
}

func TestList(t *testing.T) {
	out, err := runTool(t, "list")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	for _, want := range []string{"BALANCED *", "STEEP_CLOSE", "FLAT_LONG", "EXPERIMENTAL", "1.5-5.0"} {
		if !strings.Contains(out, want) {
			t.Fatalf("list output missing %q:\n%s", want, out)
		}
	}
}

func TestListFromFile(t *testing.T) {
	out, err := runTool(t, "--profiles", "../../configs/profiles.json", "list")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if strings.Contains(out, "EXPERIMENTAL") {
		t.Fatalf("file set should not include EXPERIMENTAL:\n%s", out)
	}
}

func TestLookup(t *testing.T) {
	out, err := runTool(t, "lookup", "2.25", "0.5")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if !strings.Contains(out, "BALANCED 2.25m -> 3225 rpm\n") {
		t.Fatalf("interpolated lookup missing:\n%s", out)
	}
	if !strings.Contains(out, "BALANCED 0.50m -> 2600 rpm  (") || !strings.Contains(out, "below") {
		t.Fatalf("clamped lookup missing range note:\n%s", out)
	}

	out, err = runTool(t, "lookup", "--profile", "STEEP_CLOSE", "1.0")
	if err != nil {
		t.Fatalf("lookup STEEP_CLOSE: %v", err)
	}
	if !strings.Contains(out, "STEEP_CLOSE 1.00m -> 2200 rpm") {
		t.Fatalf("STEEP_CLOSE lookup = %q", out)
	}
}

func TestLookupErrors(t *testing.T) {
	if _, err := runTool(t, "lookup"); err == nil {
		t.Fatalf("expected error without distances")
	}
	if _, err := runTool(t, "lookup", "two"); err == nil {
		t.Fatalf("expected error for a non-numeric distance")
	}
	if _, err := runTool(t, "lookup", "--profile", "NOPE", "2"); err == nil {
		t.Fatalf("expected error for an unknown profile")
	}
}

func TestVoltage(t *testing.T) {
	out, err := runTool(t, "voltage", "0", "2000", "3000")
	if err != nil {
		t.Fatalf("voltage: %v", err)
	}
	for _, want := range []string{"0 rpm -> 0.00 V", "2000 rpm -> 6.78 V", "3000 rpm -> 9.60 V"} {
		if !strings.Contains(out, want) {
			t.Fatalf("voltage output missing %q:\n%s", want, out)
		}
	}
}

func TestPlotWritesPNG(t *testing.T) {
	path := filepath.Join(t.TempDir(), "curves", "all.png")
	out, err := runTool(t, "plot", "--out", path)
	if err != nil {
		t.Fatalf("plot: %v", err)
	}
	if !strings.Contains(out, "wrote "+path) {
		t.Fatalf("plot output = %q", out)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read plot: %v", err)
	}
	if !bytes.HasPrefix(data, []byte("\x89PNG")) {
		t.Fatalf("plot is not a PNG")
	}

	if _, err := runTool(t, "plot", "--profile", "NOPE", "--out", path); err == nil {
		t.Fatalf("expected error for an unknown profile")
	}
}
