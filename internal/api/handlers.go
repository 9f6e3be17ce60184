package api

import (
	"net/http"

	"github.com/gorilla/mux"
)

// handleHealth handles health check requests.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"status":  "healthy",
		"service": "household-ledger",
	}

	if s.db != nil {
		if err := s.db.Ping(r.Context()); err != nil {
			response["status"] = "degraded"
			response["database"] = "unreachable"
			respondJSON(w, http.StatusServiceUnavailable, response)
			return
		}
		response["database"] = "ok"
	}

	if s.workerStatus != nil {
		response["worker"] = s.workerStatus.GetStatus()
	}

	respondJSON(w, http.StatusOK, response)
}

// handleSyncAll syncs every active connection of the caller's household
func (s *Server) handleSyncAll(w http.ResponseWriter, r *http.Request) {
	householdID := householdFromContext(r.Context())

	result, err := s.syncService.SyncAll(r.Context(), householdID)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, result)
}

// handleSyncConnection syncs one connection
func (s *Server) handleSyncConnection(w http.ResponseWriter, r *http.Request) {
	householdID := householdFromContext(r.Context())
	connectionID := mux.Vars(r)["id"]

	result, err := s.syncService.SyncConnection(r.Context(), householdID, connectionID)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	status := http.StatusOK
	if result.AuthRequired {
		// The sync ran but the connection needs interactive re-authentication
		status = http.StatusConflict
	}
	respondJSON(w, status, result)
}

// handleTwoFactorInit starts the one-time-code exchange for a connection
func (s *Server) handleTwoFactorInit(w http.ResponseWriter, r *http.Request) {
	householdID := householdFromContext(r.Context())
	connectionID := mux.Vars(r)["id"]

	result, err := s.syncService.InitConnectionTwoFactor(r.Context(), householdID, connectionID)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	status := http.StatusOK
	if !result.Success {
		status = http.StatusBadGateway
	}
	respondJSON(w, status, result)
}

type twoFactorCompleteRequest struct {
	SessionID string `json:"sessionId"`
	Code      string `json:"code"`
}

// handleTwoFactorComplete finishes the one-time-code exchange
func (s *Server) handleTwoFactorComplete(w http.ResponseWriter, r *http.Request) {
	householdID := householdFromContext(r.Context())
	connectionID := mux.Vars(r)["id"]

	var req twoFactorCompleteRequest
	if err := parseJSONBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "invalid request body", nil)
		return
	}
	if req.SessionID == "" || req.Code == "" {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "sessionId and code are required", nil)
		return
	}

	result, err := s.syncService.CompleteConnectionTwoFactor(r.Context(), householdID, connectionID, req.Code, req.SessionID)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	status := http.StatusOK
	if !result.Success {
		// Wrong code or expired session; the caller restarts the exchange
		status = http.StatusUnauthorized
	}
	respondJSON(w, status, result)
}

// handleBulkApply re-runs the rule engine over uncategorized transactions
func (s *Server) handleBulkApply(w http.ResponseWriter, r *http.Request) {
	householdID := householdFromContext(r.Context())

	result, err := s.recatService.BulkApply(r.Context(), householdID)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, result)
}

type recategorizeRequest struct {
	CategoryID string `json:"categoryId"`
	CreateRule bool   `json:"createRule"`
}

// handleRecategorize assigns a user-chosen category to a transaction
func (s *Server) handleRecategorize(w http.ResponseWriter, r *http.Request) {
	householdID := householdFromContext(r.Context())
	transactionID := mux.Vars(r)["id"]

	var req recategorizeRequest
	if err := parseJSONBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "invalid request body", nil)
		return
	}
	if req.CategoryID == "" {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "categoryId is required", nil)
		return
	}

	tx, err := s.recatService.Recategorize(r.Context(), householdID, transactionID, req.CategoryID, req.CreateRule)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, tx)
}

type moveCategoryRequest struct {
	// ParentID is the new parent; null moves the category to the top level
	ParentID *string `json:"parentId"`
}

// handleMoveCategory places a category under a new parent
func (s *Server) handleMoveCategory(w http.ResponseWriter, r *http.Request) {
	householdID := householdFromContext(r.Context())
	categoryID := mux.Vars(r)["id"]

	var req moveCategoryRequest
	if err := parseJSONBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "invalid request body", nil)
		return
	}

	if err := s.recatService.MoveCategory(r.Context(), householdID, categoryID, req.ParentID); err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
