package main

import (
	"context"
	"errors"
	"net"
	"path/filepath"
	"strings"
	"testing"
)

// listenNotify opens a unixgram socket standing in for systemd and points
// NOTIFY_SOCKET at it.
func listenNotify(t *testing.T) net.PacketConn {
	t.Helper()
	sockPath := filepath.Join(t.TempDir(), "notify.sock")

	var lc net.ListenConfig
	conn, err := lc.ListenPacket(context.Background(), "unixgram", sockPath)
	if err != nil {
		t.Fatalf("listen unixgram: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })

	t.Setenv("NOTIFY_SOCKET", sockPath)
	return conn
}

func readNotify(t *testing.T, conn net.PacketConn) string {
	t.Helper()
	buf := make([]byte, 512)
	n, _, err := conn.ReadFrom(buf)
	if err != nil {
		t.Fatalf("read from socket: %v", err)
	}
	return string(buf[:n])
}

func TestNotifySystemd_NoSocket(t *testing.T) {
	t.Setenv("NOTIFY_SOCKET", "")

	err := notifySystemd("READY=1")
	if !errors.Is(err, errNotifySocketUnset) {
		t.Fatalf("err = %v, want errNotifySocketUnset", err)
	}
}

func TestNotifySystemd_NoState(t *testing.T) {
	listenNotify(t)

	if err := notifySystemd(); err == nil {
		t.Fatal("expected error without any state")
	}
}

func TestNotifySystemd_InvalidPath(t *testing.T) {
	t.Setenv("NOTIFY_SOCKET", filepath.Join(t.TempDir(), "nonexistent.sock"))

	err := notifySystemd("READY=1")
	if err == nil {
		t.Fatal("expected error for nonexistent socket")
	}
	if !strings.Contains(err.Error(), "dial failed") {
		t.Errorf("error = %q, want substring %q", err, "dial failed")
	}
}

func TestNotifySystemd_Ready(t *testing.T) {
	conn := listenNotify(t)

	if err := notifySystemd(readyState("openweather", 30)...); err != nil {
		t.Fatalf("notifySystemd() = %v, want nil", err)
	}

	got := readNotify(t, conn)
	want := "READY=1\nSTATUS=ingesting alerts from openweather every 30s"
	if got != want {
		t.Errorf("payload = %q, want %q", got, want)
	}
}

func TestNotifySystemd_Stopping(t *testing.T) {
	conn := listenNotify(t)

	if err := notifySystemd("STOPPING=1", "STATUS=draining"); err != nil {
		t.Fatalf("notifySystemd() = %v, want nil", err)
	}

	lines := strings.Split(readNotify(t, conn), "\n")
	if len(lines) != 2 || lines[0] != "STOPPING=1" || lines[1] != "STATUS=draining" {
		t.Errorf("payload lines = %q", lines)
	}
}

func TestReadyState(t *testing.T) {
	t.Parallel()

	tests := []struct {
		source string
		poll   int
		status string
	}{
		{"simulated", 10, "STATUS=ingesting alerts from simulated every 10s"},
		{"feed", 3600, "STATUS=ingesting alerts from feed every 3600s"},
	}
	for _, tt := range tests {
		got := readyState(tt.source, tt.poll)
		if len(got) != 2 || got[0] != "READY=1" || got[1] != tt.status {
			t.Errorf("readyState(%q, %d) = %q", tt.source, tt.poll, got)
		}
	}
}
