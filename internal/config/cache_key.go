package config

import (
	"fmt"

	"github.com/google/uuid"
)

type CacheKeyStruct struct{}

// ExamDefinitionKey returns the cache key for an exam definition with its sections.
func (CacheKeyStruct) ExamDefinitionKey(examID uuid.UUID) string {
	return fmt.Sprintf("exam:%s:definition", examID)
}

// SectionQuestionsKey returns the cache key for a section's questions, including
// correctness flags. Never served to students as-is.
func (CacheKeyStruct) SectionQuestionsKey(sectionID uuid.UUID) string {
	return fmt.Sprintf("section:%s:questions", sectionID)
}

// ReconcileLockKey is the key guarding a single running deadline sweep.
func (CacheKeyStruct) ReconcileLockKey() string {
	return "lock:deadline_reconciler"
}

var CacheKey = CacheKeyStruct{}
