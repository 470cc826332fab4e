package gitops

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/loa-labs/flatline/internal/core"
)

func initRepo(t *testing.T) string {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
	dir := t.TempDir()
	for _, args := range [][]string{
		{"init", "-q"},
		{"config", "user.email", "test@example.com"},
		{"config", "user.name", "Test"},
	} {
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		if out, err := cmd.CombinedOutput(); err != nil {
			t.Fatalf("git %v: %v\n%s", args, err, out)
		}
	}
	return dir
}

func gitOutput(t *testing.T, dir string, args ...string) string {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	out, err := cmd.Output()
	if err != nil {
		t.Fatalf("git %v: %v", args, err)
	}
	return string(out)
}

func TestNewClientRequiresRepo(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
	_, err := NewClient(t.TempDir())
	if !core.IsCategory(err, core.ErrCatValidation) {
		t.Fatalf("NewClient(non-repo) error = %v, want validation", err)
	}
}

func TestCommitFiles(t *testing.T) {
	dir := initRepo(t)
	client, err := NewClient(dir)
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}

	content := filepath.Join(dir, "20260101T000000_aabbccdd")
	meta := content + ".meta.json"
	for _, path := range []string{content, meta} {
		if err := os.WriteFile(path, []byte("x"), 0o600); err != nil {
			t.Fatalf("WriteFile() error = %v", err)
		}
	}

	msg := "flatline: snapshot 20260101T000000_aabbccdd of notes.md"
	if err := client.CommitFiles(context.Background(), msg, false, content, meta); err != nil {
		t.Fatalf("CommitFiles() error = %v", err)
	}

	log := gitOutput(t, dir, "log", "-1", "--pretty=%s", "--name-only")
	lines := strings.Split(strings.TrimSpace(log), "\n")
	for _, want := range []string{msg, "20260101T000000_aabbccdd", "20260101T000000_aabbccdd.meta.json"} {
		if !slices.Contains(lines, want) {
			t.Fatalf("commit missing %q:\n%s", want, log)
		}
	}
}

func TestCommitFilesNoPaths(t *testing.T) {
	dir := initRepo(t)
	client, err := NewClient(dir)
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	if err := client.CommitFiles(context.Background(), "empty", false); err != nil {
		t.Fatalf("CommitFiles() with no paths error = %v", err)
	}
}
