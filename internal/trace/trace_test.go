package trace

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestTraceWindow(t *testing.T) {
	t.Parallel()
	now := time.Now()
	started := now.Add(-time.Hour)
	stopped := now.Add(-time.Minute)

	tests := []struct {
		name     string
		trace    NetworkTrace
		wantOpen bool
		wantEnd  time.Time
	}{
		{
			name:     "open trace extends to now",
			trace:    NetworkTrace{ID: uuid.New(), StartTime: started},
			wantOpen: true,
			wantEnd:  now,
		},
		{
			name:     "stopped trace ends at end_time",
			trace:    NetworkTrace{ID: uuid.New(), StartTime: started, EndTime: &stopped},
			wantOpen: false,
			wantEnd:  stopped,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := tt.trace.Open(); got != tt.wantOpen {
				t.Errorf("Open() = %v, want %v", got, tt.wantOpen)
			}
			start, end := tt.trace.Window(now)
			if !start.Equal(started) {
				t.Errorf("Window() start = %v, want %v", start, started)
			}
			if !end.Equal(tt.wantEnd) {
				t.Errorf("Window() end = %v, want %v", end, tt.wantEnd)
			}
		})
	}
}
