package service

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"os/user"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"text/template"

	"batchqa/internal/config"
	"batchqa/internal/daemon"
)

// LaunchdLabel identifies the login agent that resumes tracking after a
// reboot or logout.
const LaunchdLabel = "io.batchqa.tracker"

const (
	throttleSeconds = 30
	basePath        = "/usr/local/bin:/opt/homebrew/bin:/usr/bin:/bin:/usr/sbin:/sbin"
)

type AgentStatus struct {
	Label     string `json:"label"`
	PlistPath string `json:"plist_path"`
	Installed bool   `json:"installed"`
	Loaded    bool   `json:"loaded"`
	Running   bool   `json:"running"`
	PID       int    `json:"pid"`
}

// Agent manages the launchd login agent of one user.
type Agent struct {
	Home      string
	UID       int
	Exe       string
	PathEnv   string
	Launchctl func(args ...string) (string, error)
}

// CurrentAgent describes the agent for the invoking user and binary.
func CurrentAgent() (*Agent, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("resolve home directory: %w", err)
	}
	exe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("resolve executable: %w", err)
	}
	uid := 0
	if u, err := user.Current(); err == nil {
		uid, _ = strconv.Atoi(u.Uid)
	}
	return &Agent{Home: home, UID: uid, Exe: exe, PathEnv: os.Getenv("PATH"), Launchctl: launchctl}, nil
}

func Install(cfg *config.Config, configPath string) error {
	a, err := CurrentAgent()
	if err != nil {
		return err
	}
	return a.Install(cfg, configPath)
}

func Uninstall() error {
	a, err := CurrentAgent()
	if err != nil {
		return err
	}
	return a.Uninstall()
}

func Status(cfg *config.Config) (AgentStatus, error) {
	a, err := CurrentAgent()
	if err != nil {
		return AgentStatus{}, err
	}
	return a.Status(cfg)
}

func (a *Agent) PlistPath() string {
	return filepath.Join(a.Home, "Library", "LaunchAgents", LaunchdLabel+".plist")
}

func (a *Agent) domain() string  { return "gui/" + strconv.Itoa(a.UID) }
func (a *Agent) service() string { return a.domain() + "/" + LaunchdLabel }

// Install writes the plist and (re)loads it. The agent runs
// "resume --foreground" at load and again only if the tracker crashes.
func (a *Agent) Install(cfg *config.Config, configPath string) error {
	if cfg == nil || configPath == "" {
		return errors.New("install needs a loaded config and its path")
	}
	exe, err := filepath.Abs(a.Exe)
	if err != nil {
		return fmt.Errorf("resolve executable: %w", err)
	}
	if configPath, err = filepath.Abs(configPath); err != nil {
		return fmt.Errorf("resolve config path: %w", err)
	}

	plistPath := a.PlistPath()
	for _, dir := range []string{filepath.Dir(plistPath), filepath.Dir(cfg.LogFile)} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	plist, err := renderPlist(agentSpec{
		Label:    LaunchdLabel,
		Args:     []string{exe, "resume", "--foreground", "--config", configPath},
		LogPath:  cfg.LogFile,
		PathEnv:  withBasePath(a.PathEnv),
		Throttle: throttleSeconds,
	})
	if err != nil {
		return err
	}
	if err := replaceFile(plistPath, plist); err != nil {
		return fmt.Errorf("write plist: %w", err)
	}

	if err := a.unload(); err != nil {
		return err
	}
	steps := [][]string{
		{"bootstrap", a.domain(), plistPath},
		{"enable", a.service()},
	}
	for _, args := range steps {
		if out, err := a.Launchctl(args...); err != nil {
			return launchctlErr(args[0], out, err)
		}
	}
	return nil
}

// Uninstall unloads and disables the agent and removes its plist.
func (a *Agent) Uninstall() error {
	if err := a.unload(); err != nil {
		return err
	}
	_, _ = a.Launchctl("disable", a.service())

	if err := os.Remove(a.PlistPath()); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove plist: %w", err)
	}
	return nil
}

func (a *Agent) unload() error {
	out, err := a.Launchctl("bootout", a.service())
	if err != nil && !notLoaded(out, err) {
		return launchctlErr("bootout", out, err)
	}
	return nil
}

// Status reports whether the agent is installed and loaded. The agent exits
// once tracking goes idle, so a live tracker PID file also counts as running.
func (a *Agent) Status(cfg *config.Config) (AgentStatus, error) {
	st := AgentStatus{Label: LaunchdLabel, PlistPath: a.PlistPath()}
	switch _, err := os.Stat(st.PlistPath); {
	case err == nil:
		st.Installed = true
	case !errors.Is(err, fs.ErrNotExist):
		return st, fmt.Errorf("stat plist: %w", err)
	}

	out, err := a.Launchctl("print", a.service())
	if err != nil && !notLoaded(out, err) {
		return st, launchctlErr("print", out, err)
	}
	if err == nil {
		st.Loaded = true
		st.Running, st.PID = parsePrint(out)
	}

	if !st.Running && cfg != nil && daemon.IsRunning(cfg.PIDFile) {
		if pid, err := daemon.ReadPID(cfg.PIDFile); err == nil {
			st.Running, st.PID = true, pid
		}
	}
	return st, nil
}

// withBasePath makes sure Homebrew and system dirs are on the agent's PATH.
func withBasePath(current string) string {
	current = strings.TrimSpace(current)
	if current == "" {
		return basePath
	}
	if strings.Contains(current, basePath) {
		return current
	}
	return basePath + ":" + current
}

type agentSpec struct {
	Label    string
	Args     []string
	LogPath  string
	PathEnv  string
	Throttle int
}

// A crash restarts the agent; a clean exit means nothing is left to track.
var plistTemplate = template.Must(template.New("plist").Funcs(template.FuncMap{"x": xmlText}).Parse(
	`<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
<key>Label</key>
<string>{{x .Label}}</string>
<key>RunAtLoad</key>
<true/>
<key>KeepAlive</key>
<dict>
<key>SuccessfulExit</key>
<false/>
</dict>
<key>ThrottleInterval</key>
<integer>{{.Throttle}}</integer>
<key>ProgramArguments</key>
<array>
{{- range .Args}}
<string>{{x .}}</string>
{{- end}}
</array>
<key>StandardOutPath</key>
<string>{{x .LogPath}}</string>
<key>StandardErrorPath</key>
<string>{{x .LogPath}}</string>
<key>EnvironmentVariables</key>
<dict>
<key>PATH</key>
<string>{{x .PathEnv}}</string>
</dict>
</dict>
</plist>
`))

func renderPlist(spec agentSpec) ([]byte, error) {
	var buf bytes.Buffer
	if err := plistTemplate.Execute(&buf, spec); err != nil {
		return nil, fmt.Errorf("render plist: %w", err)
	}
	return buf.Bytes(), nil
}

func xmlText(s string) string {
	var b strings.Builder
	_ = xml.EscapeText(&b, []byte(s))
	return b.String()
}

// replaceFile writes data next to path and renames it into place.
func replaceFile(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	_, werr := tmp.Write(data)
	if cerr := tmp.Close(); werr == nil {
		werr = cerr
	}
	if werr == nil {
		werr = os.Chmod(tmp.Name(), 0o644)
	}
	if werr != nil {
		return werr
	}
	return os.Rename(tmp.Name(), path)
}

var (
	printState = regexp.MustCompile(`\bstate\s*=\s*running\b`)
	printPID   = regexp.MustCompile(`\bpid\s*=\s*(\d+)`)
)

func parsePrint(out string) (running bool, pid int) {
	if m := printPID.FindStringSubmatch(out); m != nil {
		pid, _ = strconv.Atoi(m[1])
	}
	return pid > 0 || printState.MatchString(out), pid
}

func notLoaded(out string, err error) bool {
	text := strings.ToLower(out + " " + err.Error())
	for _, marker := range []string{"no such process", "could not find service", "not currently loaded"} {
		if strings.Contains(text, marker) {
			return true
		}
	}
	return false
}

func launchctlErr(op, out string, err error) error {
	return fmt.Errorf("launchctl %s %s: %w: %s", op, LaunchdLabel, err, strings.TrimSpace(out))
}

func launchctl(args ...string) (string, error) {
	out, err := exec.Command("launchctl", args...).CombinedOutput()
	return string(out), err
}
