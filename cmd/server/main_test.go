package main

import (
	"context"
	"net"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/linnemanlabs/beacon/internal/reasoning"
)

func TestNotifySystemd_Failures(t *testing.T) {
	tests := []struct {
		name    string
		socket  func(t *testing.T) string
		wantErr string
	}{
		{
			name:    "socket env unset",
			socket:  func(*testing.T) string { return "" },
			wantErr: "NOTIFY_SOCKET not set",
		},
		{
			name: "socket path does not exist",
			socket: func(t *testing.T) string {
				return filepath.Join(t.TempDir(), "missing.sock")
			},
			wantErr: "dial failed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("NOTIFY_SOCKET", tt.socket(t))

			err := notifySystemd()
			if err == nil {
				t.Fatal("notifySystemd succeeded without a usable socket")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %q, want substring %q", err, tt.wantErr)
			}
		})
	}
}

func TestNotifySystemd_SendsReady(t *testing.T) {
	sock := filepath.Join(t.TempDir(), "beacon-notify.sock")

	var lc net.ListenConfig
	conn, err := lc.ListenPacket(context.Background(), "unixgram", sock)
	if err != nil {
		t.Fatalf("listen unixgram: %v", err)
	}
	defer func() { _ = conn.Close() }()

	t.Setenv("NOTIFY_SOCKET", sock)

	if err := notifySystemd(); err != nil {
		t.Fatalf("notifySystemd: %v", err)
	}

	buf := make([]byte, 64)
	n, _, err := conn.ReadFrom(buf)
	if err != nil {
		t.Fatalf("read notify datagram: %v", err)
	}
	if got := string(buf[:n]); got != "READY=1" {
		t.Errorf("datagram = %q, want READY=1", got)
	}
}

func TestSweepCache_StopsOnCancel(t *testing.T) {
	t.Parallel()

	cache := reasoning.NewCache(5 * time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		sweepCache(ctx, cache, 5*time.Millisecond)
		close(done)
	}()

	// Let at least one sweep tick fire before shutting down.
	time.Sleep(15 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweepCache kept running after cancel")
	}
}
