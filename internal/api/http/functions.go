package http

import (
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/mind-engage/iti-mocktest/internal/attendance"
	auth "github.com/mind-engage/iti-mocktest/internal/auth/middleware"
	"github.com/mind-engage/iti-mocktest/internal/mocktest"
	"github.com/mind-engage/iti-mocktest/internal/rbac"
)

const maxFunctionBody = 1 << 20

// POST /functions/mocktest/executions
// Domain failures come back as 200 {"error": "..."}; only malformed calls
// and impersonation are rejected with an HTTP status.
func MockTestFunctionHandler(svc *mocktest.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxFunctionBody))
		if err != nil {
			writeErr(w, http.StatusBadRequest, "invalid", "body too large")
			return
		}
		ctx := r.Context()
		caller := mocktest.Caller{
			UserID:     auth.SubjectFromContext(ctx),
			Privileged: rbac.Privileged(rbac.RoleFromContext(ctx)),
		}
		res, err := svc.Execute(ctx, body, caller)
		switch {
		case errors.Is(err, mocktest.ErrNotOwner):
			writeErr(w, http.StatusForbidden, "forbidden", "cannot act for another user")
			return
		case err != nil:
			writeErr(w, http.StatusBadRequest, "invalid", err.Error())
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

type attendanceReply struct {
	Success bool   `json:"success"`
	Result  any    `json:"result,omitempty"`
	Error   string `json:"error,omitempty"`
}

// POST /functions/attendance/executions  {"action": ..., "payload": {...}}
func AttendanceFunctionHandler(svc *attendance.Service, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxFunctionBody))
		if err != nil {
			writeJSON(w, http.StatusBadRequest, attendanceReply{Error: "body too large"})
			return
		}
		call, in, err := attendance.Decode(body)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, attendanceReply{Error: err.Error()})
			return
		}

		ctx := r.Context()
		role := rbac.RoleFromContext(ctx)
		if !rbac.Can(role, "attendance:manage") {
			mark, self := in.(*attendance.MarkPresentInput)
			if !self || mark.UserID != auth.SubjectFromContext(ctx) {
				writeJSON(w, http.StatusForbidden, attendanceReply{Error: "forbidden"})
				return
			}
		}

		out, err := svc.Execute(ctx, in)
		if err != nil {
			log.Warn("attendance function failed", zap.String("action", call.Action), zap.Error(err))
			writeJSON(w, http.StatusInternalServerError, attendanceReply{Error: err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, attendanceReply{Success: true, Result: out})
	}
}
