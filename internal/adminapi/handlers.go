package adminapi

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	svcerrors "github.com/CreamyG31337/portfolio-pipeline/infrastructure/errors"
	"github.com/CreamyG31337/portfolio-pipeline/infrastructure/httputil"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// handleListExecutions serves GET /api/admin/jobs/executions, a paginated
// read of the append-only job execution log (§6).
func (s *Server) handleListExecutions(w http.ResponseWriter, r *http.Request) {
	jobName := httputil.QueryString(r, "job_name", "")
	status := httputil.QueryString(r, "status", "")
	offset, limit := httputil.PaginationParams(r, defaultListLimit, maxListLimit)

	executions, err := s.jobs.ListExecutions(r.Context(), jobName, status, limit, offset)
	if err != nil {
		httputil.InternalError(w, "failed to list job executions")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"executions": executions,
		"offset":     offset,
		"limit":      limit,
	})
}

// handleListRetryQueue serves GET /api/admin/jobs/retry-queue (§6).
func (s *Server) handleListRetryQueue(w http.ResponseWriter, r *http.Request) {
	status := httputil.QueryString(r, "status", "")
	offset, limit := httputil.PaginationParams(r, defaultListLimit, maxListLimit)

	entries, err := s.retries.List(r.Context(), status, limit, offset)
	if err != nil {
		httputil.InternalError(w, "failed to list retry queue")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"entries": entries,
		"offset":  offset,
		"limit":   limit,
	})
}

// handleRunJob serves POST /api/admin/jobs/{job_name}/run (§6), admin-token
// protected and rate-limited per §4.10. target_date defaults to today UTC
// (matching the scheduler's own cron-fired target date computation);
// entity is optional and means "all entities" when absent.
func (s *Server) handleRunJob(w http.ResponseWriter, r *http.Request) {
	if !httputil.RequireAdminToken(w, r, s.cfg.AdminToken) {
		return
	}

	jobName := mux.Vars(r)["job_name"]
	if jobName == "" {
		httputil.BadRequest(w, "job_name is required")
		return
	}

	targetDate := time.Now().UTC().Truncate(24 * time.Hour)
	if raw := httputil.QueryString(r, "target_date", ""); raw != "" {
		parsed, err := time.Parse("2006-01-02", raw)
		if err != nil {
			httputil.BadRequest(w, "target_date must be YYYY-MM-DD")
			return
		}
		targetDate = parsed
	}
	entityID := httputil.QueryString(r, "entity", "")

	if err := s.sched.RunNow(r.Context(), jobName, targetDate, entityID); err != nil {
		writeJobError(w, r, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"job_name":    jobName,
		"target_date": targetDate.Format("2006-01-02"),
		"entity":      entityID,
		"status":      "completed",
	})
}

// writeJobError maps a job run failure to an HTTP response using the
// ambient error taxonomy (§7): a *errors.ServiceError (e.g. SchedNotFound,
// SchedDuplicateRun) carries its own status and code; anything else is an
// opaque job failure.
func writeJobError(w http.ResponseWriter, r *http.Request, err error) {
	if svcErr := svcerrors.GetServiceError(err); svcErr != nil {
		httputil.WriteErrorResponse(w, r, svcErr.HTTPStatus, string(svcErr.Code), svcErr.Message, svcErr.Details)
		return
	}
	httputil.WriteErrorResponse(w, r, http.StatusInternalServerError, "JOB_RUN_FAILED", err.Error(), nil)
}
