package scheduler

import (
	"testing"

	"github.com/siid-ide/update-agent/internal/config"
)

func TestPassiveModesArmNothing(t *testing.T) {
	for _, mode := range []string{config.ModeNone, config.ModeManual} {
		s, err := New()
		if err != nil {
			t.Fatalf("New: %v", err)
		}

		if err := s.Schedule(mode, func() { t.Errorf("mode %q ran a check", mode) }); err != nil {
			t.Fatalf("Schedule(%q): %v", mode, err)
		}
		if len(s.jobs) != 0 {
			t.Fatalf("mode %q registered %d jobs", mode, len(s.jobs))
		}

		if err := s.Shutdown(); err != nil {
			t.Fatalf("Shutdown: %v", err)
		}
	}
}

func TestRescheduleReplacesJob(t *testing.T) {
	s, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Shutdown()

	if err := s.Schedule(config.ModeDefault, func() {}); err != nil {
		t.Fatalf("Schedule(default): %v", err)
	}
	first := s.jobs[checkJobName]

	if err := s.Schedule(config.ModeStart, func() {}); err != nil {
		t.Fatalf("Schedule(start): %v", err)
	}
	if len(s.jobs) != 1 {
		t.Fatalf("reschedule left %d jobs, want 1", len(s.jobs))
	}
	if s.jobs[checkJobName] != first {
		t.Fatal("reschedule replaced the job id instead of updating in place")
	}

	if err := s.Schedule(config.ModeManual, func() {}); err != nil {
		t.Fatalf("Schedule(manual): %v", err)
	}
	if len(s.jobs) != 0 {
		t.Fatalf("switching to manual left %d jobs armed", len(s.jobs))
	}
}

func TestActiveModesRegisterOneJob(t *testing.T) {
	for _, mode := range []string{config.ModeStart, config.ModeDefault} {
		s, err := New()
		if err != nil {
			t.Fatalf("New: %v", err)
		}

		if err := s.Schedule(mode, func() {}); err != nil {
			t.Fatalf("Schedule(%q): %v", mode, err)
		}
		if len(s.jobs) != 1 {
			t.Fatalf("mode %q registered %d jobs, want 1", mode, len(s.jobs))
		}

		if err := s.Shutdown(); err != nil {
			t.Fatalf("Shutdown: %v", err)
		}
	}
}
