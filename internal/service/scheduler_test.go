package service

import (
	"context"
	"testing"
	"time"
)

func TestNewScheduler(t *testing.T) {
	tests := []struct {
		name        string
		cfg         ScheduleConfig
		wantEntries int
		wantErr     bool
	}{
		{"all jobs", ScheduleConfig{DailyIndex: "0 6 * * *", RetryFailed: "0 */4 * * *", CoverageResync: "30 2 * * *"}, 3, false},
		{"daily only", ScheduleConfig{DailyIndex: "0 6 * * *"}, 1, false},
		{"descriptor", ScheduleConfig{DailyIndex: "@daily"}, 1, false},
		{"nothing scheduled", ScheduleConfig{}, 0, false},
		{"invalid spec", ScheduleConfig{DailyIndex: "every morning"}, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newOrchestratorFixture(t)
			s, err := NewScheduler(f.orch, tt.cfg, testLogger())
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}
			if got := s.Entries(); got != tt.wantEntries {
				t.Errorf("entries = %d, want %d", got, tt.wantEntries)
			}
		})
	}
}

func TestScheduler_StartStop(t *testing.T) {
	f := newOrchestratorFixture(t)
	s, err := NewScheduler(f.orch, ScheduleConfig{DailyIndex: "0 6 * * *"}, testLogger())
	if err != nil {
		t.Fatalf("NewScheduler: %v", err)
	}
	s.Start()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		t.Errorf("Stop: %v", err)
	}
	if s.ctx.Err() == nil {
		t.Error("job context not cancelled after stop")
	}
}

func TestScheduler_WrapRunsJob(t *testing.T) {
	f := newOrchestratorFixture(t)
	s, err := NewScheduler(f.orch, ScheduleConfig{}, testLogger())
	if err != nil {
		t.Fatalf("NewScheduler: %v", err)
	}

	s.wrap("daily-index", f.orch.RunDaily)()

	run, err := f.repos.JobRun.Get(context.Background(), "daily-index")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if run == nil {
		t.Fatal("scheduled run not recorded")
	}
}
