package service

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"testing"

	"batchqa/internal/config"
)

// fakeAgent lives in a temp home and records launchctl calls. print answers
// with printOut/printErr; bootout always reports "not loaded".
func fakeAgent(t *testing.T, uid int, printOut string, printErr error) (*Agent, *[][]string) {
	t.Helper()
	tmp := t.TempDir()
	calls := &[][]string{}
	return &Agent{
		Home:    filepath.Join(tmp, "home"),
		UID:     uid,
		Exe:     filepath.Join(tmp, "bin", "batchqa"),
		PathEnv: "/custom/bin",
		Launchctl: func(args ...string) (string, error) {
			*calls = append(*calls, args)
			switch args[0] {
			case "bootout":
				return "Boot-out failed: 3: No such process", errors.New("exit status 3")
			case "print":
				return printOut, printErr
			}
			return "", nil
		},
	}, calls
}

func writePlist(t *testing.T, a *Agent) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(a.PlistPath()), 0o755); err != nil {
		t.Fatalf("mkdir plist dir: %v", err)
	}
	if err := os.WriteFile(a.PlistPath(), []byte("plist"), 0o644); err != nil {
		t.Fatalf("write plist: %v", err)
	}
}

func TestRenderPlistResumesOnLoad(t *testing.T) {
	t.Parallel()

	out, err := renderPlist(agentSpec{
		Label:    LaunchdLabel,
		Args:     []string{"/usr/local/bin/batchqa", "resume", "--foreground", "--config", "/tmp/a&b/config.toml"},
		LogPath:  "/tmp/batchqa.log",
		PathEnv:  "/usr/bin:/bin",
		Throttle: 30,
	})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	plist := string(out)
	for _, want := range []string{
		"<string>io.batchqa.tracker</string>",
		"<key>RunAtLoad</key>\n<true/>",
		"<key>SuccessfulExit</key>\n<false/>",
		"<integer>30</integer>",
		"<array>\n<string>/usr/local/bin/batchqa</string>\n<string>resume</string>\n<string>--foreground</string>",
		"<string>/tmp/a&amp;b/config.toml</string>\n</array>",
		"<string>/tmp/batchqa.log</string>",
		"<string>/usr/bin:/bin</string>",
	} {
		if !strings.Contains(plist, want) {
			t.Fatalf("missing %q in plist:\n%s", want, plist)
		}
	}
}

func TestInstallWritesPlistAndLoadsAgent(t *testing.T) {
	t.Parallel()
	a, calls := fakeAgent(t, 501, "", nil)
	logPath := filepath.Join(t.TempDir(), "state", "batchqa.log")

	if err := a.Install(&config.Config{LogFile: logPath}, "relative/config.toml"); err != nil {
		t.Fatalf("install: %v", err)
	}

	data, err := os.ReadFile(a.PlistPath())
	if err != nil {
		t.Fatalf("read plist: %v", err)
	}
	absCfg, _ := filepath.Abs("relative/config.toml")
	if !strings.Contains(string(data), "<string>"+absCfg+"</string>") {
		t.Fatalf("plist missing absolute config path:\n%s", data)
	}
	if !strings.Contains(string(data), basePath+":/custom/bin") {
		t.Fatalf("plist missing caller PATH:\n%s", data)
	}
	if _, err := os.Stat(filepath.Dir(logPath)); err != nil {
		t.Fatalf("expected log dir created: %v", err)
	}

	want := [][]string{
		{"bootout", "gui/501/io.batchqa.tracker"},
		{"bootstrap", "gui/501", a.PlistPath()},
		{"enable", "gui/501/io.batchqa.tracker"},
	}
	if !reflect.DeepEqual(want, *calls) {
		t.Fatalf("unexpected launchctl calls:\nwant: %#v\ngot:  %#v", want, *calls)
	}
}

func TestInstallStopsOnBootstrapFailure(t *testing.T) {
	t.Parallel()
	a, _ := fakeAgent(t, 501, "", nil)
	a.Launchctl = func(args ...string) (string, error) {
		if args[0] == "bootstrap" {
			return "Bootstrap failed: 5: Input/output error", errors.New("exit status 5")
		}
		return "", nil
	}

	err := a.Install(&config.Config{LogFile: filepath.Join(t.TempDir(), "x.log")}, "/etc/batchqa.toml")
	if err == nil || !strings.Contains(err.Error(), "launchctl bootstrap io.batchqa.tracker") {
		t.Fatalf("expected bootstrap error, got %v", err)
	}
}

func TestUninstallRemovesPlist(t *testing.T) {
	t.Parallel()
	a, calls := fakeAgent(t, 777, "", nil)
	writePlist(t, a)

	if err := a.Uninstall(); err != nil {
		t.Fatalf("uninstall: %v", err)
	}
	if _, err := os.Stat(a.PlistPath()); !os.IsNotExist(err) {
		t.Fatalf("expected plist removed, err=%v", err)
	}
	want := [][]string{
		{"bootout", "gui/777/io.batchqa.tracker"},
		{"disable", "gui/777/io.batchqa.tracker"},
	}
	if !reflect.DeepEqual(want, *calls) {
		t.Fatalf("unexpected launchctl calls:\nwant: %#v\ngot:  %#v", want, *calls)
	}
}

func TestStatus(t *testing.T) {
	t.Parallel()

	t.Run("parses launchctl print", func(t *testing.T) {
		t.Parallel()
		a, _ := fakeAgent(t, 88, "state = running\npid = 1234\n", nil)
		writePlist(t, a)

		st, err := a.Status(&config.Config{})
		if err != nil {
			t.Fatalf("status: %v", err)
		}
		if !st.Installed || !st.Loaded || !st.Running || st.PID != 1234 {
			t.Fatalf("unexpected status: %#v", st)
		}
	})

	t.Run("falls back to pid file", func(t *testing.T) {
		t.Parallel()
		a, _ := fakeAgent(t, 99, "state = waiting\n", nil)
		writePlist(t, a)
		pidPath := filepath.Join(t.TempDir(), "batchqa.pid")
		if err := os.WriteFile(pidPath, []byte(strconv.Itoa(os.Getpid())), 0o644); err != nil {
			t.Fatalf("write pid file: %v", err)
		}

		st, err := a.Status(&config.Config{PIDFile: pidPath})
		if err != nil {
			t.Fatalf("status: %v", err)
		}
		if !st.Loaded || !st.Running || st.PID != os.Getpid() {
			t.Fatalf("unexpected status: %#v", st)
		}
	})

	t.Run("not loaded is not an error", func(t *testing.T) {
		t.Parallel()
		a, _ := fakeAgent(t, 104, "Could not find service", errors.New("exit status 113"))
		writePlist(t, a)

		st, err := a.Status(&config.Config{})
		if err != nil {
			t.Fatalf("status should not fail: %v", err)
		}
		if !st.Installed || st.Loaded || st.Running || st.PID != 0 {
			t.Fatalf("expected installed but unloaded, got %#v", st)
		}
	})
}
