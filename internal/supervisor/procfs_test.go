package supervisor

import (
	"math"
	"os"
	"strings"
	"testing"
	"time"
)

func TestProcessAlive_Self(t *testing.T) {
	if err := processAlive(os.Getpid()); err != nil {
		t.Errorf("processAlive(self) error: %v", err)
	}
}

func TestProcessAlive_NonexistentPID(t *testing.T) {
	// Beyond any kernel pid_max, so it can never exist
	if err := processAlive(math.MaxInt32); err == nil {
		t.Error("processAlive(MaxInt32) expected error, got nil")
	}
}

func TestProcessComm_Self(t *testing.T) {
	comm, err := processComm(os.Getpid())
	if err != nil {
		t.Fatalf("processComm(self) error: %v", err)
	}
	if comm == "" {
		t.Error("processComm(self) returned empty string")
	}
	if len(comm) > taskCommLen {
		t.Errorf("comm %q longer than kernel limit %d", comm, taskCommLen)
	}
}

func TestProcessState_Self(t *testing.T) {
	state, err := processState(os.Getpid())
	if err != nil {
		t.Fatalf("processState(self) error: %v", err)
	}
	// The calling process is on-CPU or runnable
	if state != "R" && state != "S" {
		t.Errorf("processState(self) = %q, want R or S", state)
	}
}

func TestReadProcStats_Self(t *testing.T) {
	stats, err := readProcStats(os.Getpid())
	if err != nil {
		t.Fatalf("readProcStats(self) error: %v", err)
	}

	if stats.RSSBytes <= 0 {
		t.Errorf("RSSBytes = %d, want > 0", stats.RSSBytes)
	}
	if stats.CPUPercent < 0 {
		t.Errorf("CPUPercent = %f, want >= 0", stats.CPUPercent)
	}
	if stats.StartedAt.IsZero() {
		t.Fatal("StartedAt is zero")
	}
	if stats.StartedAt.After(time.Now().Add(time.Minute)) {
		t.Errorf("StartedAt = %v is in the future", stats.StartedAt)
	}

	boot, err := readBootTime()
	if err != nil {
		t.Fatalf("readBootTime() error: %v", err)
	}
	if stats.StartedAt.Before(boot.Add(-time.Second)) {
		t.Errorf("StartedAt = %v predates boot %v", stats.StartedAt, boot)
	}
}

func TestReadBootTime(t *testing.T) {
	boot, err := readBootTime()
	if err != nil {
		t.Fatalf("readBootTime() error: %v", err)
	}
	if boot.IsZero() {
		t.Fatal("boot time is zero")
	}
	if boot.After(time.Now()) {
		t.Errorf("boot time %v is in the future", boot)
	}
}

func TestTruncateComm(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"short name unchanged", "python3", "python3"},
		{"exactly limit unchanged", "123456789012345", "123456789012345"},
		{"long name truncated", "a-very-long-interpreter-name", "a-very-long-int"},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := truncateComm(tt.in); got != tt.want {
				t.Errorf("truncateComm(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestVerifyProcess(t *testing.T) {
	self := os.Getpid()
	comm, err := processComm(self)
	if err != nil {
		t.Fatalf("processComm(self) error: %v", err)
	}

	t.Run("matching comm", func(t *testing.T) {
		if err := verifyProcess(self, comm); err != nil {
			t.Errorf("verifyProcess(self, own comm) error: %v", err)
		}
	})

	t.Run("empty comm skips identity check", func(t *testing.T) {
		if err := verifyProcess(self, ""); err != nil {
			t.Errorf("verifyProcess(self, \"\") error: %v", err)
		}
	})

	t.Run("mismatched comm", func(t *testing.T) {
		err := verifyProcess(self, "definitely-not-this-process")
		if err == nil {
			t.Fatal("verifyProcess() with wrong comm expected error, got nil")
		}
		if !strings.Contains(err.Error(), "expected") {
			t.Errorf("error %q should mention the expected name", err)
		}
	})

	t.Run("nonexistent pid", func(t *testing.T) {
		if err := verifyProcess(math.MaxInt32, comm); err == nil {
			t.Error("verifyProcess(MaxInt32) expected error, got nil")
		}
	})
}

func TestProcessGone(t *testing.T) {
	if processGone(os.Getpid()) {
		t.Error("processGone(self) = true, want false")
	}
	if !processGone(math.MaxInt32) {
		t.Error("processGone(MaxInt32) = false, want true")
	}
}
