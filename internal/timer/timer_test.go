package timer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestEvaluate(t *testing.T) {
	start := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	tenMin := 10 * time.Minute

	tests := []struct {
		name          string
		startedAt     *time.Time
		now           time.Time
		clientElapsed int
		wantElapsed   int
		wantRemaining int
		wantExpired   bool
		wantSource    Source
	}{
		{"not started", nil, start, 0, 0, 600, false, SourceNone},
		{"running", &start, start.Add(2 * time.Minute), 0, 120, 480, false, SourceServer},
		{"exact boundary expires", &start, start.Add(tenMin), 0, 600, 0, true, SourceServer},
		{"long after", &start, start.Add(3 * time.Hour), 0, 10800, 0, true, SourceServer},
		{"client value ignored when origin exists", &start, start.Add(time.Minute), 9999, 60, 540, false, SourceServer},
		{"client fallback", nil, start, 700, 700, 0, true, SourceClient},
		{"clock skew before origin", &start, start.Add(-time.Minute), 0, 0, 600, false, SourceServer},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := Evaluate(tt.startedAt, tenMin, tt.now, tt.clientElapsed)
			assert.Equal(t, tt.wantElapsed, r.ElapsedSeconds)
			assert.Equal(t, tt.wantRemaining, r.RemainingSeconds)
			assert.Equal(t, tt.wantExpired, r.Expired)
			assert.Equal(t, tt.wantSource, r.Source)
		})
	}
}

func TestClampedSeconds(t *testing.T) {
	start := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	r := Evaluate(&start, 10*time.Minute, start.Add(25*time.Minute), 0)
	assert.Equal(t, 600, r.ClampedSeconds())

	r = Evaluate(&start, 10*time.Minute, start.Add(90*time.Second), 0)
	assert.Equal(t, 90, r.ClampedSeconds())
}

func TestFakeClock(t *testing.T) {
	start := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	c := NewFakeClock(start)
	c.Advance(time.Hour)
	assert.Equal(t, start.Add(time.Hour), c.Now())
	c.Set(start)
	assert.Equal(t, start, c.Now())
}
