package repository

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestProgramDay(t *testing.T) {
	start := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	cases := []struct {
		name string
		now  time.Time
		want int
	}{
		{"start date is day one", time.Date(2026, 3, 2, 23, 59, 0, 0, time.UTC), 1},
		{"next day", time.Date(2026, 3, 3, 0, 0, 1, 0, time.UTC), 2},
		{"a week later", time.Date(2026, 3, 9, 12, 0, 0, 0, time.UTC), 8},
		{"before start clamps", time.Date(2026, 2, 20, 0, 0, 0, 0, time.UTC), 1},
		{"across month end", time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC), 31},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ProgramDay(start, tc.now))
		})
	}
}
