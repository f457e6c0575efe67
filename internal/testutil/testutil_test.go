package testutil

import (
	"errors"
	"os"
	"testing"

	"github.com/javanstorm/vermuda/pkg/hostnet"
)

func TestTestVMConfig(t *testing.T) {
	cfg := TestVMConfig(t)

	if err := cfg.Validate(); err != nil {
		t.Fatalf("TestVMConfig should validate: %v", err)
	}
	if cfg.EFIVariableStore == "" {
		t.Error("EFIVariableStore should not be empty")
	}
	if cfg.CPUs <= 0 {
		t.Errorf("CPUs should be positive, got %d", cfg.CPUs)
	}
}

func TestCreateTestDisk(t *testing.T) {
	tmpDir := t.TempDir()
	diskPath := tmpDir + "/test.raw"
	sizeMB := int64(10)

	CreateTestDisk(t, diskPath, sizeMB)

	// Verify file exists
	info, err := os.Stat(diskPath)
	if err != nil {
		t.Fatalf("disk file should exist: %v", err)
	}

	// Verify size (sparse file reports full size)
	expectedBytes := sizeMB * 1024 * 1024
	if info.Size() != expectedBytes {
		t.Errorf("disk size = %d, want %d", info.Size(), expectedBytes)
	}
}

func TestFakeHostQueue(t *testing.T) {
	h := &FakeHost{}
	buf := make([]byte, 64)

	if _, err := h.ReadPacket(buf); !errors.Is(err, hostnet.ErrNoData) {
		t.Errorf("empty read error = %v, want ErrNoData", err)
	}

	h.Push([]byte("one"))
	h.Push([]byte("two"))
	for _, want := range []string{"one", "two"} {
		n, err := h.ReadPacket(buf)
		if err != nil {
			t.Fatalf("ReadPacket: %v", err)
		}
		if got := string(buf[:n]); got != want {
			t.Errorf("ReadPacket = %q, want %q", got, want)
		}
	}

	if _, err := h.WritePacket([]byte("out")); err != nil {
		t.Fatalf("WritePacket: %v", err)
	}
	if w := h.Written(); len(w) != 1 || string(w[0]) != "out" {
		t.Errorf("Written() = %q", w)
	}
}

func TestFakeMachineCompletions(t *testing.T) {
	m := NewFakeMachine()
	m.StopErr = errors.New("stuck")

	done := make(chan error, 1)
	m.Start(func(err error) { done <- err })
	if err := <-done; err != nil {
		t.Errorf("Start completion = %v, want nil", err)
	}

	m.Stop(func(err error) { done <- err })
	if err := <-done; err == nil {
		t.Error("Stop completion should carry StopErr")
	}

	if m.Calls("Start") != 1 || m.Calls("Stop") != 1 {
		t.Errorf("calls = Start:%d Stop:%d, want 1 each", m.Calls("Start"), m.Calls("Stop"))
	}
}
