// Package browser starts a local Chromium with remote debugging enabled for
// development runs of the agent.
package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"syscall"
	"time"
)

// Config holds browser launch configuration.
type Config struct {
	CDPAddress string
	CDPPort    int
	StartURL   string
	ProfileDir string
	Headless   bool
	ReadyWait  time.Duration
}

// Launcher owns a browser process it started.
type Launcher struct {
	cfg Config
	cmd *exec.Cmd
}

func NewLauncher(cfg Config) *Launcher {
	if cfg.ReadyWait <= 0 {
		cfg.ReadyWait = 15 * time.Second
	}
	return &Launcher{cfg: cfg}
}

var browserCandidates = []string{"chromium-browser", "chromium", "google-chrome", "google-chrome-stable"}

func detectBrowser() (string, error) {
	for _, name := range browserCandidates {
		if path, err := exec.LookPath(name); err == nil {
			return path, nil
		}
	}
	if runtime.GOOS == "darwin" {
		macPath := "/Applications/Google Chrome.app/Contents/MacOS/Google Chrome"
		if _, err := os.Stat(macPath); err == nil {
			return macPath, nil
		}
	}
	return "", fmt.Errorf("no supported browser found (tried %v)", browserCandidates)
}

func (l *Launcher) hostPort() string {
	return net.JoinHostPort(l.cfg.CDPAddress, strconv.Itoa(l.cfg.CDPPort))
}

func (l *Launcher) args() []string {
	args := []string{
		"--remote-debugging-port=" + strconv.Itoa(l.cfg.CDPPort),
		"--remote-debugging-address=" + l.cfg.CDPAddress,
		"--user-data-dir=" + l.cfg.ProfileDir,
		"--no-first-run",
		"--no-default-browser-check",
		"--disable-dev-shm-usage",
	}
	if l.cfg.Headless {
		args = append(args, "--headless=new")
	}
	if l.cfg.StartURL != "" {
		args = append(args, l.cfg.StartURL)
	}
	return args
}

// Launch starts the browser unless something already answers on the CDP
// port, then waits for the CDP endpoint.
func (l *Launcher) Launch(ctx context.Context) error {
	if cdpReady(ctx, l.hostPort()) {
		slog.Info("browser launch skipped, CDP already up", "addr", l.hostPort())
		return nil
	}

	path, err := detectBrowser()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(l.cfg.ProfileDir, 0o755); err != nil {
		return fmt.Errorf("create profile dir: %w", err)
	}

	l.cmd = exec.Command(path, l.args()...)
	l.cmd.Stdout = os.Stdout
	l.cmd.Stderr = os.Stderr
	if err := l.cmd.Start(); err != nil {
		return fmt.Errorf("start browser: %w", err)
	}
	slog.Info("browser process started", "path", path, "pid", l.cmd.Process.Pid)

	if err := waitForCDP(ctx, l.hostPort(), l.cfg.ReadyWait); err != nil {
		l.Stop()
		return err
	}
	slog.Info("browser CDP endpoint ready", "addr", l.hostPort())
	return nil
}

func cdpReady(ctx context.Context, hostPort string) bool {
	ctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://"+hostPort+"/json/version", nil)
	if err != nil {
		return false
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return false
	}
	_ = resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// waitForCDP polls /json/version until it answers or wait elapses.
func waitForCDP(ctx context.Context, hostPort string, wait time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()
	for {
		if cdpReady(ctx, hostPort) {
			return nil
		}
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return fmt.Errorf("CDP did not become ready within %s at %s", wait, hostPort)
			}
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Stop terminates a browser started by Launch with SIGTERM, then SIGKILL.
func (l *Launcher) Stop() {
	if l.cmd == nil || l.cmd.Process == nil {
		return
	}
	pid := l.cmd.Process.Pid
	_ = l.cmd.Process.Signal(syscall.SIGTERM)

	done := make(chan struct{})
	go func() {
		_ = l.cmd.Wait()
		close(done)
	}()
	select {
	case <-done:
		slog.Info("browser stopped", "pid", pid)
	case <-time.After(5 * time.Second):
		slog.Warn("browser did not exit, sending SIGKILL", "pid", pid)
		_ = l.cmd.Process.Kill()
		<-done
	}
	l.cmd = nil
}
