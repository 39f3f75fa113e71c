package api

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/phrazzld/parley/internal/api/shared"
	"github.com/phrazzld/parley/internal/domain"
	"github.com/phrazzld/parley/internal/service"
)

// SessionIDParam is the route parameter naming a session.
const SessionIDParam = "sessionID"

// JobHandler handles asynchronous job submission and result polling
type JobHandler struct {
	jobService service.JobService
}

// NewJobHandler creates a new JobHandler
func NewJobHandler(jobService service.JobService) *JobHandler {
	return &JobHandler{jobService: jobService}
}

// Enqueue handles POST /api/jobs requests
func (h *JobHandler) Enqueue(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeConversation(w, r)
	if !ok {
		return
	}

	job, err := h.jobService.Enqueue(r.Context(), req.SessionID, req.DomainMessages())
	if err != nil {
		status := MapErrorToStatusCode(err)
		shared.RespondWithErrorAndLog(w, r, status, GetSafeErrorMessage(err), err,
			shared.WithElevatedLogLevel())
		return
	}

	// 202 Accepted: the reply is published later under the session id.
	shared.RespondWithJSON(w, r, http.StatusAccepted, EnqueueResponse{
		Enqueued:      true,
		SessionID:     job.SessionID,
		CorrelationID: job.CorrelationID,
	})
}

// Result handles GET /api/results/{sessionID} requests
func (h *JobHandler) Result(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, SessionIDParam)
	if strings.TrimSpace(sessionID) == "" {
		err := domain.NewValidationError("session_id", "is required", domain.ErrEmptySessionID)
		shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, GetSafeErrorMessage(err), err)
		return
	}

	value, found, err := h.jobService.Result(r.Context(), sessionID)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}

	resp := ResultResponse{}
	if found {
		resp.Result = &value
	}
	shared.RespondWithJSON(w, r, http.StatusOK, resp)
}

// decodeConversation parses and validates a conversation body, writing a
// 400 response on failure.
func decodeConversation(w http.ResponseWriter, r *http.Request) (ConversationRequest, bool) {
	var req ConversationRequest
	if err := shared.DecodeJSON(w, r, &req); err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, "Invalid request format", err)
		return req, false
	}
	if err := shared.ValidateRequest(req); err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, SanitizeValidationError(err), err)
		return req, false
	}
	return req, true
}
