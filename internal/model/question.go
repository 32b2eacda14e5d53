package model

import (
	"github.com/google/uuid"
)

// Question is a catalog question including its correctness flags.
// Use ForStudent before sending it anywhere near a client.
type Question struct {
	ID           uuid.UUID `json:"id"`
	SectionID    uuid.UUID `json:"section_id"`
	QuestionText string    `json:"question_text"`
	OrderNum     int       `json:"order_num"`
	Options      []Option  `json:"options"`
}

// Option is one selectable answer of a multiple-choice question.
type Option struct {
	ID        uuid.UUID `json:"id"`
	Label     string    `json:"label"`
	Text      string    `json:"text"`
	IsCorrect bool      `json:"is_correct"`
}

// HasOption reports whether optionID belongs to the question.
func (q Question) HasOption(optionID uuid.UUID) bool {
	for _, o := range q.Options {
		if o.ID == optionID {
			return true
		}
	}
	return false
}

// QuestionForStudent is a question without the correct answer, sent to students.
type QuestionForStudent struct {
	ID           uuid.UUID          `json:"id"`
	QuestionText string             `json:"question_text"`
	OrderNum     int                `json:"order_num"`
	Options      []OptionForStudent `json:"options"`
}

// OptionForStudent omits the correctness flag.
type OptionForStudent struct {
	ID    uuid.UUID `json:"id"`
	Label string    `json:"label"`
	Text  string    `json:"text"`
}

// ForStudent strips correctness from the question.
func (q Question) ForStudent() QuestionForStudent {
	opts := make([]OptionForStudent, len(q.Options))
	for i, o := range q.Options {
		opts[i] = OptionForStudent{ID: o.ID, Label: o.Label, Text: o.Text}
	}
	return QuestionForStudent{
		ID:           q.ID,
		QuestionText: q.QuestionText,
		OrderNum:     q.OrderNum,
		Options:      opts,
	}
}
