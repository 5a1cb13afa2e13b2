package app

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/tturner/ecusim/internal/logging"
)

func writeSim(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

func TestSimFiles(t *testing.T) {
	dir := t.TempDir()
	writeSim(t, dir, "b.yaml", "B: {}\n")
	writeSim(t, dir, "a.yml", "A: {}\n")
	writeSim(t, dir, "notes.txt", "ignored")
	if err := os.Mkdir(filepath.Join(dir, "sub.yaml"), 0755); err != nil {
		t.Fatal(err)
	}

	files, err := simFiles(dir)
	if err != nil {
		t.Fatalf("simFiles returned error: %v", err)
	}
	if len(files) != 2 {
		t.Fatalf("simFiles = %v, want 2 entries", files)
	}
	if filepath.Base(files[0]) != "a.yml" || filepath.Base(files[1]) != "b.yaml" {
		t.Errorf("simFiles order = %v", files)
	}
}

func TestValidateOK(t *testing.T) {
	dir := t.TempDir()
	writeSim(t, dir, "pcm.yaml", `
PCM:
  RequestId: 0x7E0
  ResponseId: 0x7E8
  Raw:
    "22 F1 90": "62 F1 90 01"
Main:
  LOGICAL_ADDRESS: 0x0028
`)

	logger, _ := logging.NewLogger(logging.LogLevelSilent, "")
	if err := Validate(dir, logger); err != nil {
		t.Errorf("Validate returned error: %v", err)
	}
}

func TestValidateDuplicateWildcard(t *testing.T) {
	dir := t.TempDir()
	writeSim(t, dir, "bad.yaml", `
ECU:
  Raw:
    "36 01 *": "A"
    "36_01_*": "B"
`)

	logger, _ := logging.NewLogger(logging.LogLevelSilent, "")
	if err := Validate(dir, logger); err == nil {
		t.Error("Validate should fail on a duplicate wildcard")
	}
}

func TestValidateEmptyDir(t *testing.T) {
	logger, _ := logging.NewLogger(logging.LogLevelSilent, "")
	if err := Validate(t.TempDir(), logger); err == nil {
		t.Error("Validate should fail on an empty directory")
	}
}

func TestValidateBundledSims(t *testing.T) {
	logger, _ := logging.NewLogger(logging.LogLevelSilent, "")
	if err := Validate("../../sims", logger); err != nil {
		t.Errorf("bundled simulations failed validation: %v", err)
	}
}
