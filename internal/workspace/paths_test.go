package workspace

import (
	"path/filepath"
	"strings"
	"testing"
)

func TestDirLayout(t *testing.T) {
	name := "main"
	dir := Dir(name)

	if !strings.HasSuffix(dir, filepath.Join(".backscroll", "workspaces", "main")) {
		t.Errorf("Dir(%q) = %q, want .backscroll/workspaces/main suffix", name, dir)
	}
	if got := MirrorDBPath(name); got != filepath.Join(dir, "mirror.db") {
		t.Errorf("MirrorDBPath = %q, want %q", got, filepath.Join(dir, "mirror.db"))
	}
	if got := LockPath(name); got != filepath.Join(dir, "LOCK") {
		t.Errorf("LockPath = %q, want %q", got, filepath.Join(dir, "LOCK"))
	}
	if got := LogPath(name); got != filepath.Join(dir, "logs", "backscrolld.log") {
		t.Errorf("LogPath = %q, want %q", got, filepath.Join(dir, "logs", "backscrolld.log"))
	}
}

func TestConfigPathIsGlobal(t *testing.T) {
	got := ConfigPath()
	if !strings.HasSuffix(got, filepath.Join(".backscroll", "config.toml")) {
		t.Errorf("ConfigPath = %q, want .backscroll/config.toml suffix", got)
	}
	if strings.Contains(got, "workspaces") {
		t.Errorf("ConfigPath = %q, must not be workspace-scoped", got)
	}
}
