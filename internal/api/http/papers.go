package http

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	auth "github.com/mind-engage/iti-mocktest/internal/auth/middleware"
	"github.com/mind-engage/iti-mocktest/internal/mocktest"
	"github.com/mind-engage/iti-mocktest/internal/rbac"
)

func viewer(r *http.Request) mocktest.Viewer {
	ctx := r.Context()
	return mocktest.Viewer{
		UserID:     auth.SubjectFromContext(ctx),
		Privileged: rbac.Privileged(rbac.RoleFromContext(ctx)),
	}
}

// GET /papers/{docID}
func GetPaperHandler(svc *mocktest.Service, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		v, err := svc.ViewPaper(r.Context(), chi.URLParam(r, "docID"), viewer(r))
		if err != nil {
			writeDomainErr(w, log, err)
			return
		}
		writeJSON(w, http.StatusOK, v)
	}
}

// POST /papers/{docID}/start
func StartPaperHandler(svc *mocktest.Service, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		v, err := svc.StartAttempt(r.Context(), chi.URLParam(r, "docID"), auth.SubjectFromContext(r.Context()))
		if err != nil {
			writeDomainErr(w, log, err)
			return
		}
		writeJSON(w, http.StatusOK, v)
	}
}

type responsesBody struct {
	Responses []mocktest.Response `json:"responses" validate:"dive"`
	EndTime   *time.Time          `json:"endTime"`
}

func decodeResponses(w http.ResponseWriter, r *http.Request) (responsesBody, bool) {
	var body responsesBody
	if err := decodeBody(w, r, &body); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid", "bad json")
		return body, false
	}
	if err := validate.Struct(body); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid", err.Error())
		return body, false
	}
	return body, true
}

// PUT /papers/{docID}/responses  {"responses":[{"questionId":"...","selectedAnswer":"B"}]}
func SaveResponsesHandler(svc *mocktest.Service, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, ok := decodeResponses(w, r)
		if !ok {
			return
		}
		err := svc.SaveResponses(r.Context(), chi.URLParam(r, "docID"), auth.SubjectFromContext(r.Context()), body.Responses)
		if err != nil {
			writeDomainErr(w, log, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// POST /papers/{docID}/submit  {"responses":[...],"endTime":"..."}
func SubmitPaperHandler(svc *mocktest.Service, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, ok := decodeResponses(w, r)
		if !ok {
			return
		}
		res, err := svc.SubmitAttempt(r.Context(), mocktest.SubmitRequest{
			DocumentID: chi.URLParam(r, "docID"),
			UserID:     auth.SubjectFromContext(r.Context()),
			Responses:  body.Responses,
			EndTime:    body.EndTime,
		})
		if err != nil {
			writeDomainErr(w, log, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

// GET /papers?paperId=...&userId=...
// Privileged callers may list any paper's attempts or any user's; everyone
// else only sees their own.
func ListPapersHandler(svc *mocktest.Service, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		v := viewer(r)
		paperID := strings.TrimSpace(r.URL.Query().Get("paperId"))
		userID := strings.TrimSpace(r.URL.Query().Get("userId"))
		if !v.Privileged || (userID == "" && paperID == "") {
			userID = v.UserID
		}

		var (
			list []mocktest.Paper
			err  error
		)
		if paperID != "" && v.Privileged && userID == "" {
			list, err = svc.ListAttempts(r.Context(), paperID)
		} else {
			list, err = svc.ListUserAttempts(r.Context(), userID)
		}
		if err != nil {
			writeDomainErr(w, log, err)
			return
		}
		out := make([]mocktest.Paper, 0, len(list))
		for _, p := range list {
			if paperID == "" || p.PaperID == paperID {
				out = append(out, p)
			}
		}
		writeJSON(w, http.StatusOK, map[string]any{"total": len(out), "papers": out})
	}
}

// GET /papers/stats?paperId=...
func PaperStatsHandler(svc *mocktest.Service, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		paperID := strings.TrimSpace(r.URL.Query().Get("paperId"))
		if paperID == "" {
			writeErr(w, http.StatusBadRequest, "invalid", "paperId required")
			return
		}
		st, err := svc.PaperStats(r.Context(), paperID)
		if err != nil {
			writeDomainErr(w, log, err)
			return
		}
		writeJSON(w, http.StatusOK, st)
	}
}
