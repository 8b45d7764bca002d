package config

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
)

// StateDirName is the per-workspace and per-user state directory.
const StateDirName = ".eflycode"

// Paths resolves every on-disk location the runtime touches, rooted at
// one workspace and the user home.
type Paths struct {
	Workspace string // absolute workspace root
	Home      string // user home directory
}

// NewPaths builds the layout for workspace. Relative paths are made
// absolute against the current directory.
func NewPaths(workspace string) (*Paths, error) {
	abs, err := filepath.Abs(workspace)
	if err != nil {
		return nil, err
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}
	return &Paths{Workspace: abs, Home: home}, nil
}

// workspaceKey is the SHA-256 of the absolute workspace path, keying
// per-workspace state kept under the home directory.
func (p *Paths) workspaceKey() string {
	sum := sha256.Sum256([]byte(p.Workspace))
	return hex.EncodeToString(sum[:])
}

func (p *Paths) StateDir() string      { return filepath.Join(p.Workspace, StateDirName) }
func (p *Paths) ConfigFile() string    { return filepath.Join(p.StateDir(), "config.yaml") }
func (p *Paths) MCPFile() string       { return filepath.Join(p.StateDir(), "mcp.json") }
func (p *Paths) SessionsDir() string   { return filepath.Join(p.StateDir(), "sessions") }
func (p *Paths) ProjectSkills() string { return filepath.Join(p.StateDir(), "skills") }

func (p *Paths) HomeStateDir() string { return filepath.Join(p.Home, StateDirName) }
func (p *Paths) HomeConfigFile() string {
	return filepath.Join(p.HomeStateDir(), "config.yaml")
}
func (p *Paths) UserSkills() string { return filepath.Join(p.HomeStateDir(), "skills") }
func (p *Paths) SkillsManifest() string {
	return filepath.Join(p.HomeStateDir(), "skills.json")
}

// HistoryDir is the shadow git repository for this workspace.
func (p *Paths) HistoryDir() string {
	return filepath.Join(p.HomeStateDir(), "history", p.workspaceKey())
}

// CheckpointsDir holds the JSON sidecars linking commits to tool calls.
func (p *Paths) CheckpointsDir() string {
	return filepath.Join(p.HomeStateDir(), "tmp", p.workspaceKey(), "checkpoints")
}

// LogsDir holds per-session request logs.
func (p *Paths) LogsDir() string { return filepath.Join(p.StateDir(), "logs") }

// LocateConfig finds the config file for the directory start: the
// state dir is searched in start and up to two parent levels, then the
// home fallback. Returns the chosen config path and the workspace root
// it implies. A missing file in all locations returns the start-level
// path with found=false so callers can scaffold it.
func LocateConfig(start string) (path, workspace string, found bool, err error) {
	abs, err := filepath.Abs(start)
	if err != nil {
		return "", "", false, err
	}
	dir := abs
	for i := 0; i <= 2; i++ {
		candidate := filepath.Join(dir, StateDirName, "config.yaml")
		if fileExists(candidate) {
			return candidate, dir, true, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", "", false, err
	}
	candidate := filepath.Join(home, StateDirName, "config.yaml")
	if fileExists(candidate) {
		return candidate, abs, true, nil
	}
	return filepath.Join(abs, StateDirName, "config.yaml"), abs, false, nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
