// Package deadline maps exam sections to due days on a cohort's program
// calendar.
package deadline

import (
	"github.com/stemsi/simulacro-backend/internal/config"
	"github.com/stemsi/simulacro-backend/internal/model"
)

// continuousSplit is the last section number of the first continuous window.
const continuousSplit = 5

// Policy holds the mode-specific due-day offsets.
type Policy struct {
	// WeeklyOffsets[n-1] is the offset of section n from the schedule start day.
	WeeklyOffsets []int
	// Sections 1-5 are due ContinuousFirstWindowDays after the start day,
	// sections 6-8 ContinuousSecondWindowDays after that.
	ContinuousFirstWindowDays  int
	ContinuousSecondWindowDays int
}

// DefaultPolicy is two weekly sections per week over four weeks, and a
// one-day window for each half of a continuous exam.
func DefaultPolicy() Policy {
	return Policy{
		WeeklyOffsets:              []int{6, 6, 13, 13, 20, 20, 27, 27},
		ContinuousFirstWindowDays:  1,
		ContinuousSecondWindowDays: 1,
	}
}

// FromConfig overrides the defaults with the configured windows. An empty
// offset list keeps the default weekly calendar.
func FromConfig(cfg *config.Config) Policy {
	p := DefaultPolicy()
	if len(cfg.WeeklySectionOffsets) > 0 {
		p.WeeklyOffsets = cfg.WeeklySectionOffsets
	}
	p.ContinuousFirstWindowDays = cfg.ContinuousFirstWindowDays
	p.ContinuousSecondWindowDays = cfg.ContinuousSecondWindowDays
	return p
}

// DueDay is the last program day on which the section may still be taken.
func (p Policy) DueDay(mode model.ExamMode, startDay, sectionNumber int) int {
	if mode == model.ExamModeContinuous {
		if sectionNumber <= continuousSplit {
			return startDay + p.ContinuousFirstWindowDays
		}
		return startDay + p.ContinuousFirstWindowDays + p.ContinuousSecondWindowDays
	}

	idx := sectionNumber - 1
	switch {
	case idx < 0:
		return startDay
	case idx < len(p.WeeklyOffsets):
		return startDay + p.WeeklyOffsets[idx]
	case len(p.WeeklyOffsets) > 0:
		return startDay + p.WeeklyOffsets[len(p.WeeklyOffsets)-1]
	default:
		return startDay
	}
}

// Missed reports whether currentDay is past the section's due day.
func (p Policy) Missed(mode model.ExamMode, startDay, sectionNumber, currentDay int) bool {
	return currentDay > p.DueDay(mode, startDay, sectionNumber)
}
