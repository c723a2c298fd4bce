package client

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	api "github.com/mind-engage/iti-mocktest/internal/api/http"
	auth "github.com/mind-engage/iti-mocktest/internal/auth/middleware"
	"github.com/mind-engage/iti-mocktest/internal/docstore"
	"github.com/mind-engage/iti-mocktest/internal/mocktest"
	"github.com/mind-engage/iti-mocktest/internal/session"
	"github.com/mind-engage/iti-mocktest/internal/storage"
)

func newGateway(t *testing.T) *httptest.Server {
	t.Helper()
	svc := mocktest.NewService(docstore.NewMemoryStore(), mocktest.Options{
		DatabaseID: "iti", QuestionsCollection: "questions", PapersCollection: "papers",
	})
	for _, answer := range []string{"A", "B", "C", "D", "A"} {
		_, err := svc.CreateQuestion(context.Background(), mocktest.Question{
			Text: "Q", Options: []string{"w", "x", "y", "z"}, CorrectAnswer: answer,
			TradeID: "FIT", SubjectID: "S1", ModuleID: "M1", Year: mocktest.YearFirst,
		}, mocktest.Author{UserID: "t1"})
		require.NoError(t, err)
	}
	srv := httptest.NewServer(api.NewRouter(api.Deps{
		Auth:        auth.NewAuthService("test-secret", ""),
		MockTests:   svc,
		EnableLogin: true,
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestClient_AttemptThroughSession(t *testing.T) {
	ctx := context.Background()
	srv := newGateway(t)

	teacher := New(srv.URL)
	assert.True(t, teacher.Healthy(ctx))
	_, err := teacher.Login(ctx, "t1", "t1", "teacher")
	require.NoError(t, err)
	gen, err := teacher.GenerateMockTest(ctx, mocktest.GeneratePayload{
		UserID: "t1", TradeName: "Fitter", TradeID: "FIT", SubjectID: "S1", Year: "first", QuesCount: 5,
	})
	require.NoError(t, err)
	assert.Equal(t, 5, gen.QuestionCount)

	student := New(srv.URL)
	_, err = student.Login(ctx, "u1", "u1", "student")
	require.NoError(t, err)
	clone, err := student.CreateNewMockTest(ctx, mocktest.ClonePayload{PaperID: gen.PaperID, UserID: "u1"})
	require.NoError(t, err)

	blobs, err := storage.NewFSStore(t.TempDir())
	require.NoError(t, err)
	cp := session.NewBlobCheckpointer(blobs)

	s, err := session.Resume(ctx, cp, clone.DocumentID, student)
	require.NoError(t, err)
	assert.Equal(t, session.NotStarted, s.Current())

	view, err := student.StartPaper(ctx, clone.DocumentID)
	require.NoError(t, err)
	require.NotNil(t, view.StartTime)
	require.NoError(t, s.Start(ctx, *view.StartTime))
	for _, q := range s.Questions {
		require.NoError(t, s.Answer(ctx, q.ID, "A"))
	}
	require.NoError(t, student.SaveResponses(ctx, clone.DocumentID, s.Responses()))

	// a restart picks up the local checkpoint
	s, err = session.Resume(ctx, cp, clone.DocumentID, student)
	require.NoError(t, err)
	assert.Equal(t, session.InProgress, s.Current())

	res, err := s.Submit(ctx, student, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Score)
	assert.Equal(t, 5, res.Total)

	_, err = student.SubmitPaper(ctx, clone.DocumentID, nil, time.Now())
	assert.ErrorIs(t, err, mocktest.ErrAlreadySubmitted)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, 409, apiErr.Status)

	done, err := student.LoadPaper(ctx, clone.DocumentID)
	require.NoError(t, err)
	assert.True(t, done.Submitted)
	for _, q := range done.Questions {
		assert.NotEmpty(t, q.CorrectAnswer)
	}
}

func TestClient_Errors(t *testing.T) {
	ctx := context.Background()
	srv := newGateway(t)
	c := New(srv.URL)

	_, err := c.LoadPaper(ctx, "nope")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, 401, apiErr.Status)

	_, err = c.Login(ctx, "u1", "wrong", "student")
	assert.Error(t, err)

	_, err = c.Login(ctx, "u1", "u1", "student")
	require.NoError(t, err)
	_, err = c.LoadPaper(ctx, "nope")
	assert.ErrorIs(t, err, mocktest.ErrPaperNotFound)

	_, err = c.CreateNewMockTest(ctx, mocktest.ClonePayload{PaperID: "FIT202401010000AA", UserID: "u2"})
	assert.ErrorIs(t, err, mocktest.ErrNotOwner)

	res, err := c.CreateNewMockTest(ctx, mocktest.ClonePayload{PaperID: "FIT202401010000AA", UserID: "u1"})
	require.Error(t, err)
	assert.Contains(t, res.Error, "not found")

	_, err = c.GenerateMockTest(ctx, mocktest.GeneratePayload{
		UserID: "u1", TradeName: "Fitter", TradeID: "FIT", SubjectID: "S9", Year: "FIRST", QuesCount: 3,
	})
	assert.ErrorContains(t, err, "no questions")
}
