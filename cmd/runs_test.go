package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/cwbudde/primalstall/internal/stall"
	"github.com/cwbudde/primalstall/internal/store"
	"github.com/spf13/cobra"
)

func testRunInfos(now time.Time) []store.RunInfo {
	return []store.RunInfo{
		{ID: "run1", Timestamp: now.AddDate(0, 0, -10)},
		{ID: "run2", Timestamp: now.AddDate(0, 0, -5)},
		{ID: "run3", Timestamp: now.AddDate(0, 0, -1)},
		{ID: "run4", Timestamp: now.AddDate(0, 0, -30)},
	}
}

func ids(infos []store.RunInfo) string {
	var parts []string
	for _, info := range infos {
		parts = append(parts, info.ID)
	}
	return strings.Join(parts, ",")
}

func TestSelectRunsForDeletion_ByAge(t *testing.T) {
	now := time.Now()
	toDelete := selectRunsForDeletion(testRunInfos(now), 0, 7, now)

	if got := ids(toDelete); got != "run4,run1" {
		t.Errorf("Expected run4,run1 to be deleted, got %s", got)
	}
}

func TestSelectRunsForDeletion_ByCount(t *testing.T) {
	now := time.Now()
	toDelete := selectRunsForDeletion(testRunInfos(now), 2, 0, now)

	if got := ids(toDelete); got != "run4,run1" {
		t.Errorf("Expected the two oldest runs to be deleted, got %s", got)
	}
}

func TestSelectRunsForDeletion_Combined(t *testing.T) {
	now := time.Now()
	infos := append(testRunInfos(now), store.RunInfo{ID: "run5", Timestamp: now.AddDate(0, 0, -2)})

	// keep-last 2 removes three runs; the age limit adds nothing new
	toDelete := selectRunsForDeletion(infos, 2, 7, now)
	if got := ids(toDelete); got != "run4,run1,run2" {
		t.Errorf("Expected run4,run1,run2, got %s", got)
	}

	// no run is deleted twice
	toDelete = selectRunsForDeletion(infos, 4, 7, now)
	if got := ids(toDelete); got != "run4,run1" {
		t.Errorf("Expected run4,run1, got %s", got)
	}
}

func TestSelectRunsForDeletion_NothingToDo(t *testing.T) {
	now := time.Now()
	if toDelete := selectRunsForDeletion(testRunInfos(now), 10, 0, now); len(toDelete) != 0 {
		t.Errorf("Expected nothing to delete, got %s", ids(toDelete))
	}
}

func TestGetDirSize(t *testing.T) {
	tmpDir := t.TempDir()

	content := []byte("Hello, World!")
	if err := os.WriteFile(filepath.Join(tmpDir, "test.txt"), content, 0644); err != nil {
		t.Fatalf("Failed to create test file: %v", err)
	}

	size, err := getDirSize(tmpDir)
	if err != nil {
		t.Fatalf("getDirSize failed: %v", err)
	}
	if size < int64(len(content)) {
		t.Errorf("Expected size >= %d, got %d", len(content), size)
	}
}

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		bytes    int64
		expected string
	}{
		{0, "0 B"},
		{512, "512 B"},
		{1023, "1023 B"},
		{1024, "1.0 KB"},
		{1536, "1.5 KB"},
		{1048576, "1.0 MB"},
		{1073741824, "1.0 GB"},
	}

	for _, tt := range tests {
		if result := formatBytes(tt.bytes); result != tt.expected {
			t.Errorf("formatBytes(%d) = %s, expected %s", tt.bytes, result, tt.expected)
		}
	}
}

// withRunsDataDir points the runs commands at dir for the duration of a test
func withRunsDataDir(t *testing.T, dir string) {
	t.Helper()
	original := runsDataDir
	runsDataDir = dir
	t.Cleanup(func() { runsDataDir = original })
}

func outputCommand() (*cobra.Command, *bytes.Buffer) {
	var buf bytes.Buffer
	cmd := &cobra.Command{}
	cmd.SetOut(&buf)
	return cmd, &buf
}

func saveTestRun(t *testing.T, dir, id string, ts time.Time) {
	t.Helper()
	st, err := store.NewFSStore(dir)
	if err != nil {
		t.Fatalf("NewFSStore failed: %v", err)
	}
	best := 1.5
	record := &store.RunRecord{
		ID:          id,
		Benchmark:   "sphere",
		Sense:       stall.Minimize,
		Stall:       stall.DefaultConfig(),
		BestValue:   &best,
		Evaluations: 40,
		Interrupted: true,
		Reason:      stall.ReasonMaxTime,
		Timestamp:   ts,
	}
	if err := st.SaveRun(record); err != nil {
		t.Fatalf("SaveRun failed: %v", err)
	}
}

func TestRunsListCommand_NoRuns(t *testing.T) {
	withRunsDataDir(t, t.TempDir())

	cmd, out := outputCommand()
	if err := runListRuns(cmd, nil); err != nil {
		t.Errorf("List should not fail with no runs: %v", err)
	}
	if !strings.Contains(out.String(), "No runs found.") {
		t.Errorf("Unexpected output: %q", out.String())
	}
}

func TestRunsListCommand_WithRuns(t *testing.T) {
	dir := t.TempDir()
	withRunsDataDir(t, dir)
	saveTestRun(t, dir, "run-a", time.Now().Add(-time.Hour))
	saveTestRun(t, dir, "run-b", time.Now())

	cmd, out := outputCommand()
	if err := runListRuns(cmd, nil); err != nil {
		t.Fatalf("List failed: %v", err)
	}

	text := out.String()
	for _, want := range []string{"run-a", "run-b", "sphere", "max_time", "Total runs: 2"} {
		if !strings.Contains(text, want) {
			t.Errorf("Output should contain %q:\n%s", want, text)
		}
	}
	if strings.Index(text, "run-a") > strings.Index(text, "run-b") {
		t.Error("Runs should be listed oldest first")
	}
}

func TestRunsShowCommand(t *testing.T) {
	dir := t.TempDir()
	withRunsDataDir(t, dir)
	saveTestRun(t, dir, "run-a", time.Now())

	cmd, out := outputCommand()
	if err := runShowRun(cmd, []string{"run-a"}); err != nil {
		t.Fatalf("Show failed: %v", err)
	}

	var record store.RunRecord
	if err := json.Unmarshal(out.Bytes(), &record); err != nil {
		t.Fatalf("Show should print JSON: %v", err)
	}
	if record.ID != "run-a" || record.Reason != stall.ReasonMaxTime {
		t.Errorf("Unexpected record: %+v", record)
	}

	if err := runShowRun(cmd, []string{"missing"}); err == nil {
		t.Error("Show of a missing run should fail")
	}
}

func TestRunsCleanCommand_RequiresCriteria(t *testing.T) {
	withRunsDataDir(t, t.TempDir())

	origKeep, origOlder := keepLast, olderThanDays
	keepLast, olderThanDays = 0, 0
	defer func() { keepLast, olderThanDays = origKeep, origOlder }()

	if err := runCleanRuns(nil, nil); err == nil {
		t.Error("Clean without criteria should fail")
	}
}

func TestRunsCleanCommand_Force(t *testing.T) {
	dir := t.TempDir()
	withRunsDataDir(t, dir)
	saveTestRun(t, dir, "old", time.Now().AddDate(0, 0, -20))
	saveTestRun(t, dir, "new", time.Now())

	origKeep, origOlder, origForce := keepLast, olderThanDays, forceClean
	keepLast, olderThanDays, forceClean = 0, 7, true
	defer func() { keepLast, olderThanDays, forceClean = origKeep, origOlder, origForce }()

	cmd, out := outputCommand()
	if err := runCleanRuns(cmd, nil); err != nil {
		t.Fatalf("Clean failed: %v", err)
	}
	if !strings.Contains(out.String(), "Deleted 1 run(s), 0 failed.") {
		t.Errorf("Unexpected output: %q", out.String())
	}

	st, _ := store.NewFSStore(dir)
	infos, err := st.ListRuns()
	if err != nil {
		t.Fatalf("ListRuns failed: %v", err)
	}
	if len(infos) != 1 || infos[0].ID != "new" {
		t.Errorf("Only the new run should remain, got %v", infos)
	}
}
