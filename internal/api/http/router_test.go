package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/mind-engage/iti-mocktest/internal/attendance"
	auth "github.com/mind-engage/iti-mocktest/internal/auth/middleware"
	"github.com/mind-engage/iti-mocktest/internal/docstore"
	"github.com/mind-engage/iti-mocktest/internal/mocktest"
	"github.com/mind-engage/iti-mocktest/internal/storage"
)

type testAPI struct {
	h       http.Handler
	store   *docstore.MemoryStore
	auth    *auth.AuthService
	ready   error
	teacher string
	student string
	other   string
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("server-key"), bcrypt.MinCost)
	require.NoError(t, err)
	blobs, err := storage.NewFSStore(t.TempDir())
	require.NoError(t, err)

	api := &testAPI{store: docstore.NewMemoryStore(), auth: auth.NewAuthService("test-secret", string(hash))}
	mt := mocktest.NewService(api.store, mocktest.Options{
		DatabaseID: "iti", QuestionsCollection: "questions", PapersCollection: "papers",
	})
	att := attendance.NewService(api.store, attendance.Options{
		DatabaseID: "iti", BatchesCollection: "batches", AttendanceCollection: "attendance",
		HolidaysCollection: "holidays", ProfilesCollection: "profiles",
	})
	api.h = NewRouter(Deps{
		Auth:        api.auth,
		MockTests:   mt,
		Attendance:  att,
		Blobs:       blobs,
		EnableLogin: true,
		Ready:       func(context.Context) error { return api.ready },
	})

	api.teacher = api.token(t, "t1", "teacher")
	api.student = api.token(t, "u1", "student")
	api.other = api.token(t, "u2", "student")
	return api
}

func (a *testAPI) token(t *testing.T, sub, role string) string {
	t.Helper()
	tok, err := a.auth.IssueJWT(sub, role, strings.ToUpper(sub))
	require.NoError(t, err)
	return tok
}

func (a *testAPI) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		rd = strings.NewReader(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		rd = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	a.h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func (a *testAPI) seedQuestions(t *testing.T, n int) {
	t.Helper()
	labels := []string{"A", "B", "C", "D"}
	for i := 0; i < n; i++ {
		rec := a.do(t, http.MethodPost, "/questions", a.teacher, map[string]any{
			"question": "Q", "options": []string{"w", "x", "y", "z"}, "correctAnswer": labels[i%4],
			"tradeId": "ELEC", "subjectId": "S1", "moduleId": "M1", "year": "FIRST",
		})
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	}
}

func (a *testAPI) generate(t *testing.T, count int) mocktest.FunctionResult {
	t.Helper()
	rec := a.do(t, http.MethodPost, "/functions/mocktest/executions", a.teacher, map[string]any{
		"action": "generateMockTest", "userId": "t1", "userName": "Teacher",
		"tradeName": "Electrician", "tradeId": "ELEC", "subjectId": "S1", "year": "FIRST", "quesCount": count,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decode[mocktest.FunctionResult](t, rec)
	require.Empty(t, res.Error)
	return res
}

func (a *testAPI) clone(t *testing.T, paperID, token, userID string) mocktest.FunctionResult {
	t.Helper()
	rec := a.do(t, http.MethodPost, "/functions/mocktest/executions", token, map[string]any{
		"action": "createNewMockTest", "paperId": paperID, "userId": userID,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	return decode[mocktest.FunctionResult](t, rec)
}

func TestHealth(t *testing.T) {
	api := newTestAPI(t)
	assert.Equal(t, http.StatusOK, api.do(t, http.MethodGet, "/healthz", "", nil).Code)
	assert.Equal(t, http.StatusOK, api.do(t, http.MethodGet, "/readyz", "", nil).Code)
	api.ready = errors.New("db down")
	assert.Equal(t, http.StatusServiceUnavailable, api.do(t, http.MethodGet, "/readyz", "", nil).Code)
}

func TestAuthRequired(t *testing.T) {
	api := newTestAPI(t)
	assert.Equal(t, http.StatusUnauthorized, api.do(t, http.MethodGet, "/papers", "", nil).Code)

	req := httptest.NewRequest(http.MethodGet, "/questions", nil)
	req.Header.Set("X-API-Key", "server-key")
	rec := httptest.NewRecorder()
	api.h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = api.do(t, http.MethodPost, "/auth/login", "", `{"username":"u9","password":"u9","role":"student"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestQuestionRoutes(t *testing.T) {
	api := newTestAPI(t)
	api.seedQuestions(t, 3)

	rec := api.do(t, http.MethodPost, "/questions", api.student, map[string]any{"question": "sneaky"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = api.do(t, http.MethodPost, "/questions", api.teacher, map[string]any{"question": "no options"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = api.do(t, http.MethodGet, "/questions?tradeId=ELEC&limit=2", api.teacher, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	page := decode[mocktest.QuestionPage](t, rec)
	assert.Equal(t, 3, page.Total)
	require.Len(t, page.Questions, 2)
	assert.Equal(t, "T1", page.Questions[0].UserName)

	id := page.Questions[0].ID
	rec = api.do(t, http.MethodPut, "/questions/"+id, api.teacher, map[string]any{
		"question": "Edited", "options": []string{"a", "b"}, "correctAnswer": "B",
		"tradeId": "ELEC", "subjectId": "S1", "moduleId": "M2", "year": "SECOND",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec = api.do(t, http.MethodPut, "/questions/missing", api.teacher, map[string]any{
		"question": "Edited", "options": []string{"a", "b"}, "correctAnswer": "B",
		"tradeId": "ELEC", "subjectId": "S1", "moduleId": "M2", "year": "SECOND",
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = api.do(t, http.MethodPost, "/questions/import", api.teacher, []map[string]any{
		{"question": "ok", "options": []string{"a", "b"}, "correctAnswer": "A", "tradeId": "ELEC", "subjectId": "S1", "moduleId": "M1", "year": "FIRST"},
		{"question": "bad", "options": []string{"a", "b"}, "correctAnswer": "D", "tradeId": "ELEC", "subjectId": "S1", "moduleId": "M1", "year": "FIRST"},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	imp := decode[mocktest.ImportResult](t, rec)
	assert.Equal(t, 1, imp.Created)
	assert.Len(t, imp.Errors, 1)
}

func TestMockTestFunction(t *testing.T) {
	api := newTestAPI(t)
	api.seedQuestions(t, 6)
	gen := api.generate(t, 4)
	assert.Regexp(t, `^ELE\d{12}[A-Z]{2}$`, gen.PaperID)

	first := api.clone(t, gen.PaperID, api.student, "u1")
	assert.NotEmpty(t, first.DocumentID)
	again := api.clone(t, gen.PaperID, api.student, "u1")
	assert.Equal(t, first.DocumentID, again.DocumentID)
	assert.Equal(t, mocktest.AlreadyAttemptedMessage, again.Message)

	missing := api.clone(t, "ELE202401010000QQ", api.student, "u1")
	assert.Contains(t, missing.Error, mocktest.ErrPaperNotFound.Error())

	rec := api.do(t, http.MethodPost, "/functions/mocktest/executions", api.student, map[string]any{
		"action": "createNewMockTest", "paperId": gen.PaperID, "userId": "u2",
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = api.do(t, http.MethodPost, "/functions/mocktest/executions", api.student, `{"action":"generateMockTest","userId":"u1"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.NotEmpty(t, decode[errorBody](t, rec).Error)
}

func TestPaperFlow(t *testing.T) {
	api := newTestAPI(t)
	api.seedQuestions(t, 4)
	gen := api.generate(t, 4)
	doc := api.clone(t, gen.PaperID, api.student, "u1").DocumentID

	rec := api.do(t, http.MethodGet, "/papers/"+doc, api.student, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	view := decode[mocktest.PaperView](t, rec)
	require.Len(t, view.Questions, 4)
	for _, q := range view.Questions {
		assert.Empty(t, q.CorrectAnswer)
		assert.NotEmpty(t, q.Text)
	}
	assert.Equal(t, http.StatusForbidden, api.do(t, http.MethodGet, "/papers/"+doc, api.other, nil).Code)

	rec = api.do(t, http.MethodPost, "/papers/"+doc+"/submit", api.student, map[string]any{"responses": []any{}})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "not_started", decode[errorBody](t, rec).Code)

	rec = api.do(t, http.MethodPost, "/papers/"+doc+"/start", api.student, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	started := decode[mocktest.PaperView](t, rec)
	require.NotNil(t, started.RemainingSeconds)
	assert.InDelta(t, 3600, *started.RemainingSeconds, 5)

	// teacher reads the key to answer two correctly
	rec = api.do(t, http.MethodGet, "/papers/"+doc, api.teacher, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	keyed := decode[mocktest.PaperView](t, rec)
	a0, a1 := keyed.Questions[0].CorrectAnswer, keyed.Questions[1].CorrectAnswer
	require.NotEmpty(t, a0)

	rec = api.do(t, http.MethodPut, "/papers/"+doc+"/responses", api.student, map[string]any{
		"responses": []map[string]any{{"questionId": keyed.Questions[0].ID, "selectedAnswer": a0}},
	})
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())
	rec = api.do(t, http.MethodPut, "/papers/"+doc+"/responses", api.student, map[string]any{
		"responses": []map[string]any{{"selectedAnswer": "A"}},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = api.do(t, http.MethodPost, "/papers/"+doc+"/submit", api.student, map[string]any{
		"responses": []map[string]any{{"questionId": keyed.Questions[1].ID, "selectedAnswer": a1}},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decode[mocktest.SubmitResult](t, rec)
	assert.Equal(t, 2, res.Score)
	assert.Equal(t, 4, res.Total)

	rec = api.do(t, http.MethodPost, "/papers/"+doc+"/submit", api.student, map[string]any{"responses": []any{}})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "already_submitted", decode[errorBody](t, rec).Code)

	rec = api.do(t, http.MethodGet, "/papers?paperId="+gen.PaperID, api.teacher, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[struct {
		Total  int              `json:"total"`
		Papers []mocktest.Paper `json:"papers"`
	}](t, rec)
	assert.Equal(t, 1, list.Total)

	rec = api.do(t, http.MethodGet, "/papers", api.other, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"total":0`)

	rec = api.do(t, http.MethodGet, "/papers/stats?paperId="+gen.PaperID, api.teacher, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2, decode[mocktest.PaperStats](t, rec).HighestScore)
	assert.Equal(t, http.StatusForbidden, api.do(t, http.MethodGet, "/papers/stats?paperId="+gen.PaperID, api.student, nil).Code)
}

func TestAttendanceFunction(t *testing.T) {
	api := newTestAPI(t)
	ctx := context.Background()
	_, err := api.store.Create(ctx, "iti.batches", docstore.CreateInput{ID: "b1", Data: map[string]any{
		"name": "Electrician", "location": map[string]any{"latitude": 12.9716, "longitude": 77.5946},
	}})
	require.NoError(t, err)
	for _, user := range []string{"u1", "u2"} {
		_, err = api.store.Create(ctx, "iti.profiles", docstore.CreateInput{Data: map[string]any{
			"userId": user, "batchId": "b1", "role": "student",
		}})
		require.NoError(t, err)
	}

	mark := func(token, user, batch string) *httptest.ResponseRecorder {
		return api.do(t, http.MethodPost, "/functions/attendance/executions", token, map[string]any{
			"action":  "markPresent",
			"payload": map[string]any{"userId": user, "batchId": batch, "latitude": 12.9716, "longitude": 77.5946},
		})
	}

	rec := mark(api.student, "u1", "b1")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.True(t, decode[attendanceReply](t, rec).Success)

	assert.Equal(t, http.StatusForbidden, mark(api.student, "u2", "b1").Code)

	rec = mark(api.student, "u1", "b1")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	reply := decode[attendanceReply](t, rec)
	assert.False(t, reply.Success)
	assert.Equal(t, attendance.ErrAlreadyMarked.Error(), reply.Error)

	rec = mark(api.teacher, "u9", "b1")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, decode[attendanceReply](t, rec).Error, attendance.ErrNotInBatch.Error())

	rec = api.do(t, http.MethodPost, "/functions/attendance/executions", api.student, `{"action":"autoMarkAbsentees","payload":{}}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = api.do(t, http.MethodPost, "/functions/attendance/executions", api.teacher, `{"action":"autoMarkAbsentees","payload":{"batchId":"b1"}}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"marked":1`)

	rec = api.do(t, http.MethodPost, "/functions/attendance/executions", api.teacher, `{"action":"updateAttendance","payload":{"attendanceId":"x","status":"late"}}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.False(t, decode[attendanceReply](t, rec).Success)
}

func TestAssets(t *testing.T) {
	api := newTestAPI(t)
	png := append([]byte("\x89PNG\r\n\x1a\n"), bytes.Repeat([]byte{0}, 64)...)

	upload := func(token string, content []byte) *httptest.ResponseRecorder {
		var buf bytes.Buffer
		mw := multipart.NewWriter(&buf)
		fw, err := mw.CreateFormFile("file", "diagram.png")
		require.NoError(t, err)
		_, err = fw.Write(content)
		require.NoError(t, err)
		require.NoError(t, mw.Close())
		req := httptest.NewRequest(http.MethodPost, "/assets/questions/q1", &buf)
		req.Header.Set("Content-Type", mw.FormDataContentType())
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		api.h.ServeHTTP(rec, req)
		return rec
	}

	rec := upload(api.teacher, png)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	out := decode[map[string]string](t, rec)
	assert.True(t, strings.HasPrefix(out["key"], "questions/q1/"))

	rec = api.do(t, http.MethodGet, out["url"], api.student, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	assert.Equal(t, png, rec.Body.Bytes())

	assert.Equal(t, http.StatusForbidden, upload(api.student, png).Code)
	assert.Equal(t, http.StatusUnsupportedMediaType, upload(api.teacher, []byte("just text")).Code)
	assert.Equal(t, http.StatusNotFound, api.do(t, http.MethodGet, "/assets/questions/q1/none.png", api.student, nil).Code)
	assert.Equal(t, http.StatusNotFound, api.do(t, http.MethodGet, "/assets/questions/../checkpoints/x.json", api.student, nil).Code)
}
