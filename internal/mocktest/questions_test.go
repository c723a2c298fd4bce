package mocktest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validQuestion() Question {
	return Question{
		Text:          "Unit of resistance?",
		Options:       []string{"Volt", "Ohm", "Ampere", "Watt"},
		CorrectAnswer: "b",
		TradeID:       "ELEC",
		SubjectID:     "S1",
		ModuleID:      "M1",
		Year:          "first",
	}
}

func TestQuestionValidate(t *testing.T) {
	q := normalizeQuestion(validQuestion())
	require.NoError(t, q.Validate())
	assert.Equal(t, "B", q.CorrectAnswer)
	assert.Equal(t, YearFirst, q.Year)

	cases := map[string]func(*Question){
		"answer beyond options": func(q *Question) { q.CorrectAnswer = "E" },
		"unknown label":         func(q *Question) { q.CorrectAnswer = "Z" },
		"one option":            func(q *Question) { q.Options = []string{"only"} },
		"blank option":          func(q *Question) { q.Options = []string{"a", ""} },
		"missing trade":         func(q *Question) { q.TradeID = "" },
		"bad year":              func(q *Question) { q.Year = "THIRD" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			q := normalizeQuestion(validQuestion())
			mutate(&q)
			assert.ErrorIs(t, q.Validate(), ErrInvalidQuestion)
		})
	}
}

func TestCreateAndUpdateQuestion(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	q := validQuestion()
	q.Tags = []string{"basics"}
	created, err := f.svc.CreateQuestion(ctx, q, Author{UserID: "t1", UserName: "Teacher One"})
	require.NoError(t, err)
	require.NotEmpty(t, created.ID)
	assert.Equal(t, "t1", created.UserID)

	edit := validQuestion()
	edit.Text = "SI unit of resistance?"
	updated, err := f.svc.UpdateQuestion(ctx, created.ID, edit)
	require.NoError(t, err)
	assert.Equal(t, "t1", updated.UserID)

	page, err := f.svc.ListQuestions(ctx, QuestionFilter{TradeID: "ELEC"})
	require.NoError(t, err)
	require.Equal(t, 1, page.Total)
	got := page.Questions[0]
	assert.Equal(t, "SI unit of resistance?", got.Text)
	assert.Empty(t, got.Tags)
	assert.Equal(t, "Teacher One", got.UserName)

	_, err = f.svc.UpdateQuestion(ctx, created.ID, Question{Text: "broken"})
	assert.ErrorIs(t, err, ErrInvalidQuestion)
}

func TestImportQuestions_ReportsBadRows(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	bad := validQuestion()
	bad.CorrectAnswer = "F"
	res, err := f.svc.ImportQuestions(ctx, []Question{validQuestion(), bad, validQuestion()}, Author{UserID: "t1"})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Created)
	assert.Len(t, res.IDs, 2)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, 1, res.Errors[0].Row)

	page, err := f.svc.ListQuestions(ctx, QuestionFilter{Year: YearFirst, Limit: 1})
	require.NoError(t, err)
	assert.Equal(t, 2, page.Total)
	assert.Len(t, page.Questions, 1)
}
