package http

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/mind-engage/iti-mocktest/internal/attendance"
	auth "github.com/mind-engage/iti-mocktest/internal/auth/middleware"
	"github.com/mind-engage/iti-mocktest/internal/mocktest"
	"github.com/mind-engage/iti-mocktest/internal/rbac"
	"github.com/mind-engage/iti-mocktest/internal/storage"
)

type Deps struct {
	Auth       *auth.AuthService
	MockTests  *mocktest.Service
	Attendance *attendance.Service
	Blobs      storage.BlobStore

	// Roles, when set, replaces token roles with profile roles.
	Roles              auth.RoleLookup
	AllowClaimFallback bool

	EnableLogin bool
	CORSOrigins []string
	Ready       func(ctx context.Context) error
	Log         *zap.Logger
}

func NewRouter(d Deps) http.Handler {
	log := d.Log
	if log == nil {
		log = zap.NewNop()
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Logger, middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   d.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type", "X-API-Key"},
		ExposedHeaders:   []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if d.Ready != nil {
			if err := d.Ready(r.Context()); err != nil {
				writeErr(w, http.StatusServiceUnavailable, "unavailable", err.Error())
				return
			}
		}
		w.WriteHeader(http.StatusOK)
	})

	// offline dev login
	if d.EnableLogin {
		r.Post("/auth/login", auth.LoginHandler(d.Auth))
	}

	// Protected API (JWT or API key → role in context → RBAC)
	r.Group(func(pr chi.Router) {
		pr.Use(auth.JWTMiddleware(d.Auth))
		if d.Roles != nil {
			pr.Use(auth.AttachRole(d.Roles, d.AllowClaimFallback))
		}

		pr.Route("/functions", func(fr chi.Router) {
			fr.With(rbac.RequireAny("paper:generate", "paper:attempt")).
				Post("/mocktest/executions", MockTestFunctionHandler(d.MockTests))
			fr.With(rbac.RequireAny("attendance:mark", "attendance:manage")).
				Post("/attendance/executions", AttendanceFunctionHandler(d.Attendance, log))
		})

		pr.Route("/papers", func(pp chi.Router) {
			pp.Use(rbac.Require("paper:attempt"))
			pp.Get("/", ListPapersHandler(d.MockTests, log))
			pp.With(rbac.Require("paper:view-all")).
				Get("/stats", PaperStatsHandler(d.MockTests, log))
			pp.Get("/{docID}", GetPaperHandler(d.MockTests, log))
			pp.Post("/{docID}/start", StartPaperHandler(d.MockTests, log))
			pp.Put("/{docID}/responses", SaveResponsesHandler(d.MockTests, log))
			pp.Post("/{docID}/submit", SubmitPaperHandler(d.MockTests, log))
		})

		pr.Route("/questions", func(qr chi.Router) {
			qr.With(rbac.Require("question:read")).Get("/", ListQuestionsHandler(d.MockTests, log))
			qr.With(rbac.Require("question:write")).Post("/", CreateQuestionHandler(d.MockTests, log))
			qr.With(rbac.Require("question:write")).Post("/import", ImportQuestionsHandler(d.MockTests, log))
			qr.With(rbac.Require("question:write")).Put("/{id}", UpdateQuestionHandler(d.MockTests, log))
		})

		if d.Blobs != nil {
			pr.Route("/assets", func(ar chi.Router) {
				MountAssets(ar, d.Blobs, log)
			})
		}
	})
	return r
}
