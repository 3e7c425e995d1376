package api

import (
	"context"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/lichifeng/mgxmonitor/internal/config"
)

// handleConfigDefault reports the built-in defaults a fresh install would
// use, for operators comparing against the live config.
func (s *Server) handleConfigDefault(w http.ResponseWriter, r *http.Request) {
	cfg, err := config.Default()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"config": cfg})
}

// currentConfig is injected by the daemon at startup so this handler can
// report the actually-running configuration without re-reading argv.
var currentConfig *config.Config

func SetCurrentConfig(c *config.Config) { currentConfig = c }

func (s *Server) handleConfigCurrent(w http.ResponseWriter, r *http.Request) {
	if currentConfig == nil {
		writeError(w, http.StatusServiceUnavailable, "unavailable", "config not yet initialized")
		return
	}
	redacted := *currentConfig
	redacted.S3.SecretKey = "[redacted]"
	redacted.WordPress.URL = currentConfig.WordPress.URL
	writeJSON(w, http.StatusOK, map[string]any{"config": redacted})
}

// handleBackupSqlite shells out to the sqlite3 CLI's .backup command, an
// external collaborator spec.md §1 explicitly scopes SQLite backup to.
func (s *Server) handleBackupSqlite(w http.ResponseWriter, r *http.Request) {
	if currentConfig == nil {
		writeError(w, http.StatusServiceUnavailable, "unavailable", "config not yet initialized")
		return
	}
	dest := filepath.Join(currentConfig.System.BackupDir, time.Now().Format("20060102_150405")+".sqlite")
	if err := os.MkdirAll(currentConfig.System.BackupDir, 0o755); err != nil {
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 60*time.Second)
	defer cancel()
	cmd := exec.CommandContext(ctx, "sqlite3", currentConfig.Database.Sqlite, ".backup '"+dest+"'")
	if out, err := cmd.CombinedOutput(); err != nil {
		writeError(w, http.StatusInternalServerError, "internal", string(out))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"backup_path": dest})
}

func (s *Server) handleTmpdirList(w http.ResponseWriter, r *http.Request) {
	if currentConfig == nil {
		writeError(w, http.StatusServiceUnavailable, "unavailable", "config not yet initialized")
		return
	}
	entries, err := os.ReadDir(currentConfig.System.TmpDir)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": names})
}

func (s *Server) handleTmpdirPurge(w http.ResponseWriter, r *http.Request) {
	if currentConfig == nil {
		writeError(w, http.StatusServiceUnavailable, "unavailable", "config not yet initialized")
		return
	}
	entries, err := os.ReadDir(currentConfig.System.TmpDir)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	purged := 0
	for _, e := range entries {
		if !e.IsDir() || !hasTmpPrefix(e.Name(), currentConfig.System.TmpPrefix) {
			continue
		}
		if os.RemoveAll(filepath.Join(currentConfig.System.TmpDir, e.Name())) == nil {
			purged++
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"purged": purged})
}

func hasTmpPrefix(name, prefix string) bool {
	return len(name) >= len(prefix) && name[:len(prefix)] == prefix
}
