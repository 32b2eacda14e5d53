package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/simulacro-backend/internal/config"
	"github.com/stemsi/simulacro-backend/internal/model"
)

// CatalogSource is the authoritative catalog, usually Postgres.
type CatalogSource interface {
	Catalog
	ListActiveExams(ctx context.Context) ([]model.ExamDefinition, error)
}

// CatalogService serves exam definitions from Redis, falling back to the
// source on a miss. A nil Redis client disables caching. Redis failures are
// logged and never fail a read.
type CatalogService struct {
	source CatalogSource
	rdb    *redis.Client
	ttl    time.Duration
	log    zerolog.Logger
}

// NewCatalogService creates a new CatalogService.
func NewCatalogService(source CatalogSource, rdb *redis.Client, ttl time.Duration, log zerolog.Logger) *CatalogService {
	return &CatalogService{
		source: source,
		rdb:    rdb,
		ttl:    ttl,
		log:    log.With().Str("component", "catalog").Logger(),
	}
}

// GetExam returns an exam definition with its ordered sections.
func (s *CatalogService) GetExam(ctx context.Context, examID uuid.UUID) (*model.ExamDefinition, error) {
	key := config.CacheKey.ExamDefinitionKey(examID)

	var cached model.ExamDefinition
	if s.readCache(ctx, key, &cached) {
		return &cached, nil
	}

	exam, err := s.source.GetExam(ctx, examID)
	if err != nil {
		return nil, err
	}
	s.writeCache(ctx, key, exam)
	return exam, nil
}

// ListQuestions returns the questions of a section including correctness.
func (s *CatalogService) ListQuestions(ctx context.Context, sectionID uuid.UUID) ([]model.Question, error) {
	key := config.CacheKey.SectionQuestionsKey(sectionID)

	var cached []model.Question
	if s.readCache(ctx, key, &cached) {
		return cached, nil
	}

	questions, err := s.source.ListQuestions(ctx, sectionID)
	if err != nil {
		return nil, err
	}
	s.writeCache(ctx, key, questions)
	return questions, nil
}

// WarmExam loads an exam and all its section questions into Redis.
func (s *CatalogService) WarmExam(ctx context.Context, exam *model.ExamDefinition) error {
	if s.rdb == nil {
		return nil
	}

	examJSON, err := json.Marshal(exam)
	if err != nil {
		return fmt.Errorf("marshal exam: %w", err)
	}

	pipe := s.rdb.Pipeline()
	pipe.Set(ctx, config.CacheKey.ExamDefinitionKey(exam.ID), examJSON, s.ttl)

	questions := 0
	for _, sec := range exam.Sections {
		qs, err := s.source.ListQuestions(ctx, sec.ID)
		if err != nil {
			return fmt.Errorf("list questions of section %d: %w", sec.SectionNumber, err)
		}
		qsJSON, err := json.Marshal(qs)
		if err != nil {
			return fmt.Errorf("marshal questions: %w", err)
		}
		pipe.Set(ctx, config.CacheKey.SectionQuestionsKey(sec.ID), qsJSON, s.ttl)
		questions += len(qs)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("cache to redis: %w", err)
	}

	s.log.Debug().
		Str("exam_id", exam.ID.String()).
		Int("sections", len(exam.Sections)).
		Int("questions", questions).
		Msg("Cache warmed")
	return nil
}

// PrewarmAll loads every active exam into Redis on startup.
func (s *CatalogService) PrewarmAll(ctx context.Context) error {
	exams, err := s.source.ListActiveExams(ctx)
	if err != nil {
		return fmt.Errorf("list active exams: %w", err)
	}
	if len(exams) == 0 {
		s.log.Info().Msg("No active exams to prewarm")
		return nil
	}

	warmed := 0
	for i := range exams {
		if err := s.WarmExam(ctx, &exams[i]); err != nil {
			s.log.Warn().
				Err(err).
				Str("exam_id", exams[i].ID.String()).
				Msg("Failed to warm exam, skipping")
			continue
		}
		warmed++
	}

	s.log.Info().
		Int("warmed", warmed).
		Int("total", len(exams)).
		Msg("Prewarming complete")
	return nil
}

func (s *CatalogService) readCache(ctx context.Context, key string, dst any) bool {
	if s.rdb == nil {
		return false
	}
	data, err := s.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			s.log.Warn().Err(err).Str("key", key).Msg("Cache read failed")
		}
		return false
	}
	if err := json.Unmarshal(data, dst); err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("Cache entry corrupt, ignoring")
		return false
	}
	return true
}

func (s *CatalogService) writeCache(ctx context.Context, key string, v any) {
	if s.rdb == nil {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := s.rdb.Set(ctx, key, data, s.ttl).Err(); err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("Cache write failed")
	}
}
