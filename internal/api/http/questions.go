package http

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	auth "github.com/mind-engage/iti-mocktest/internal/auth/middleware"
	"github.com/mind-engage/iti-mocktest/internal/mocktest"
)

func author(r *http.Request) mocktest.Author {
	return mocktest.Author{
		UserID:   auth.SubjectFromContext(r.Context()),
		UserName: auth.NameFromContext(r.Context()),
	}
}

// POST /questions
func CreateQuestionHandler(svc *mocktest.Service, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var q mocktest.Question
		if err := decodeBody(w, r, &q); err != nil {
			writeErr(w, http.StatusBadRequest, "invalid", "bad json")
			return
		}
		q.ID = ""
		created, err := svc.CreateQuestion(r.Context(), q, author(r))
		if err != nil {
			writeDomainErr(w, log, err)
			return
		}
		writeJSON(w, http.StatusCreated, created)
	}
}

// PUT /questions/{id}
func UpdateQuestionHandler(svc *mocktest.Service, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var q mocktest.Question
		if err := decodeBody(w, r, &q); err != nil {
			writeErr(w, http.StatusBadRequest, "invalid", "bad json")
			return
		}
		updated, err := svc.UpdateQuestion(r.Context(), chi.URLParam(r, "id"), q)
		if err != nil {
			writeDomainErr(w, log, err)
			return
		}
		writeJSON(w, http.StatusOK, updated)
	}
}

// POST /questions/import  [ {question}, ... ]
func ImportQuestionsHandler(svc *mocktest.Service, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var qs []mocktest.Question
		if err := decodeBody(w, r, &qs); err != nil {
			writeErr(w, http.StatusBadRequest, "invalid", "expected a JSON array of questions")
			return
		}
		if len(qs) == 0 {
			writeErr(w, http.StatusBadRequest, "invalid", "no questions")
			return
		}
		for i := range qs {
			qs[i].ID = ""
		}
		res, err := svc.ImportQuestions(r.Context(), qs, author(r))
		if err != nil {
			writeDomainErr(w, log, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

// GET /questions?tradeId=&subjectId=&moduleId=&year=&limit=25&offset=0
func ListQuestionsHandler(svc *mocktest.Service, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		page, err := svc.ListQuestions(r.Context(), mocktest.QuestionFilter{
			TradeID:   strings.TrimSpace(q.Get("tradeId")),
			SubjectID: strings.TrimSpace(q.Get("subjectId")),
			ModuleID:  strings.TrimSpace(q.Get("moduleId")),
			Year:      mocktest.Year(strings.ToUpper(strings.TrimSpace(q.Get("year")))),
			Limit:     parseIntDefault(q.Get("limit"), 0),
			Offset:    parseIntDefault(q.Get("offset"), 0),
		})
		if err != nil {
			writeDomainErr(w, log, err)
			return
		}
		writeJSON(w, http.StatusOK, page)
	}
}
