package browser

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"
)

func TestArgsIncludeDebuggingFlags(t *testing.T) {
	l := NewLauncher(Config{CDPAddress: "127.0.0.1", CDPPort: 9333, ProfileDir: "/tmp/p", StartURL: "https://shop.test", Headless: true})
	got := strings.Join(l.args(), " ")
	for _, want := range []string{"--remote-debugging-port=9333", "--user-data-dir=/tmp/p", "--headless=new"} {
		if !strings.Contains(got, want) {
			t.Errorf("args() = %q; missing %q", got, want)
		}
	}
	if !strings.HasSuffix(got, "https://shop.test") {
		t.Errorf("args() = %q; want start url last", got)
	}
}

func TestWaitForCDP(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/json/version" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(`{"Browser":"Chrome"}`))
	}))
	defer srv.Close()
	hostPort := strings.TrimPrefix(srv.URL, "http://")

	if err := waitForCDP(context.Background(), hostPort, time.Second); err != nil {
		t.Fatalf("waitForCDP() error = %v", err)
	}
	srv.Close()
	if err := waitForCDP(context.Background(), hostPort, 300*time.Millisecond); err == nil {
		t.Fatalf("waitForCDP() on closed server error = nil")
	}
}

func TestLaunchSkipsWhenCDPIsUp(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()
	host, port, err := net.SplitHostPort(srv.Listener.Addr().String())
	if err != nil {
		t.Fatalf("SplitHostPort: %v", err)
	}
	p, _ := strconv.Atoi(port)

	l := NewLauncher(Config{CDPAddress: host, CDPPort: p})
	if err := l.Launch(context.Background()); err != nil {
		t.Fatalf("Launch() error = %v", err)
	}
	if l.cmd != nil {
		t.Fatalf("Launch() started a process while CDP was up")
	}
	l.Stop()
}
