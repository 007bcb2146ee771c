package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/custodia-labs/callbridge/internal/core/domain"
	"github.com/custodia-labs/callbridge/internal/core/ports/driving"
)

// ErrorResponse represents an API error response
// @Description API error response
type ErrorResponse struct {
	Error string `json:"error" example:"invalid request body"`
	Code  string `json:"code,omitempty" example:"reconnect_required"`
}

// StatusResponse represents a simple status response
// @Description Simple status response
type StatusResponse struct {
	Status string `json:"status" example:"ok"`
}

// VersionResponse represents the API version response
// @Description API version response
type VersionResponse struct {
	Version string `json:"version" example:"1.0.0"`
}

// DisconnectResponse reports the outcome of a disconnect
// @Description Result of disconnecting from GoTo
type DisconnectResponse struct {
	Success      bool   `json:"success" example:"true"`
	Message      string `json:"message" example:"disconnected and token revoked"`
	TokenRevoked bool   `json:"tokenRevoked" example:"true"`
}

// TokenCheckResponse reports whether a usable token exists. The token itself is never returned.
// @Description Whether the user can call GoTo APIs right now
type TokenCheckResponse struct {
	HasValidToken bool `json:"hasValidToken" example:"true"`
}

// Health endpoints

// handleHealth godoc
// @Summary      Health check
// @Description  Returns the health status of the API
// @Tags         Health
// @Produce      json
// @Success      200  {object}  StatusResponse
// @Router       /health [get]
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, StatusResponse{Status: "ok"})
}

// handleReady godoc
// @Summary      Readiness check
// @Description  Pings PostgreSQL and, when configured, Redis
// @Tags         Health
// @Produce      json
// @Success      200  {object}  StatusResponse
// @Failure      503  {object}  ErrorResponse
// @Router       /ready [get]
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if s.db != nil {
		if err := s.db.Ping(ctx); err != nil {
			s.logger.Warn("readiness: database ping failed", "error", err)
			writeError(w, http.StatusServiceUnavailable, "database unavailable")
			return
		}
	}
	if s.redisClient != nil {
		if err := s.redisClient.Ping(ctx); err != nil {
			s.logger.Warn("readiness: redis ping failed", "error", err)
			writeError(w, http.StatusServiceUnavailable, "redis unavailable")
			return
		}
	}
	writeJSON(w, http.StatusOK, StatusResponse{Status: "ready"})
}

// handleVersion godoc
// @Summary      Get API version
// @Description  Returns the current API version
// @Tags         Health
// @Produce      json
// @Success      200  {object}  VersionResponse
// @Router       /version [get]
func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, VersionResponse{Version: s.version})
}

// Connection endpoints

// handleConnect godoc
// @Summary      Start GoTo authorization
// @Description  Issues a single-use state and returns the GoTo authorize URL
// @Tags         GoTo
// @Produce      json
// @Security     BearerAuth
// @Success      200  {object}  driving.ConnectResponse
// @Failure      503  {object}  ErrorResponse  "GoTo client credentials not configured"
// @Router       /goto/connect [post]
func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	authCtx := GetAuthContext(r.Context())

	resp, err := s.connectionService.InitiateConnect(r.Context(), authCtx.UserID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleCallback godoc
// @Summary      GoTo OAuth callback
// @Description  Completes the authorization flow and redirects the browser to the dashboard
// @Tags         GoTo
// @Param        code   query  string  false  "Authorization code"
// @Param        state  query  string  false  "State issued by connect"
// @Param        error  query  string  false  "Provider error"
// @Success      302
// @Router       /goto/callback [get]
func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	result := s.connectionService.HandleCallback(r.Context(), driving.CallbackRequest{
		Code:             q.Get("code"),
		State:            q.Get("state"),
		Error:            q.Get("error"),
		ErrorDescription: q.Get("error_description"),
	})

	params := url.Values{}
	if result.Success {
		params.Set("success", "goto_connected")
	} else {
		params.Set("error", result.Reason.QueryValue())
	}
	http.Redirect(w, r, strings.TrimSuffix(s.frontendURL, "/")+"/dashboard?"+params.Encode(), http.StatusFound)
}

// handleStatus godoc
// @Summary      Connection status
// @Description  Reports whether the user holds an unexpired GoTo token
// @Tags         GoTo
// @Produce      json
// @Security     BearerAuth
// @Success      200  {object}  domain.ConnectionStatus
// @Router       /goto/status [get]
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	authCtx := GetAuthContext(r.Context())

	status, err := s.connectionService.GetConnectionStatus(r.Context(), authCtx.UserID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// handleDisconnect godoc
// @Summary      Disconnect GoTo
// @Description  Revokes the token at GoTo (best effort) and deletes local credentials
// @Tags         GoTo
// @Produce      json
// @Security     BearerAuth
// @Success      200  {object}  DisconnectResponse
// @Router       /goto/disconnect [post]
func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	authCtx := GetAuthContext(r.Context())

	result, err := s.connectionService.Disconnect(r.Context(), authCtx.UserID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	msg := "disconnected"
	if result.TokenRevoked {
		msg = "disconnected and token revoked"
	}
	writeJSON(w, http.StatusOK, DisconnectResponse{
		Success:      true,
		Message:      msg,
		TokenRevoked: result.TokenRevoked,
	})
}

// handleTokenCheck godoc
// @Summary      Check token
// @Description  Refreshes if needed and reports whether a valid access token is available
// @Tags         GoTo
// @Produce      json
// @Security     BearerAuth
// @Success      200  {object}  TokenCheckResponse
// @Failure      503  {object}  ErrorResponse  "GoTo temporarily unavailable"
// @Router       /goto/token [get]
func (s *Server) handleTokenCheck(w http.ResponseWriter, r *http.Request) {
	authCtx := GetAuthContext(r.Context())

	ok, err := s.connectionService.HasValidToken(r.Context(), authCtx.UserID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, TokenCheckResponse{HasValidToken: ok})
}

// Call data endpoints

// handleReportSummaries godoc
// @Summary      Call report summaries
// @Description  Returns the call-events report for one day (UTC). Defaults to today.
// @Tags         GoTo
// @Produce      json
// @Security     BearerAuth
// @Param        date  query  string  false  "Day as YYYY-MM-DD"
// @Success      200  {object}  domain.ReportSummaries
// @Failure      400  {object}  ErrorResponse
// @Failure      409  {object}  ErrorResponse  "Reconnect required"
// @Router       /goto/call-events/report-summaries [get]
func (s *Server) handleReportSummaries(w http.ResponseWriter, r *http.Request) {
	authCtx := GetAuthContext(r.Context())

	day := time.Now().UTC()
	if raw := r.URL.Query().Get("date"); raw != "" {
		parsed, err := time.Parse(time.DateOnly, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
			return
		}
		day = parsed
	}

	report, err := s.callDataService.ReportSummaries(r.Context(), authCtx.UserID, day)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// handleCallQueues godoc
// @Summary      Call queues
// @Description  Lists call queues for an account, trying several GoTo endpoints in order.
// @Description  Without accountKey the key is resolved from the connected GoTo profile.
// @Tags         GoTo
// @Produce      json
// @Security     BearerAuth
// @Param        accountKey  query  string  false  "GoTo account key"
// @Success      200  {object}  domain.CallQueues
// @Failure      400  {object}  ErrorResponse  "Account key could not be resolved"
// @Failure      404  {object}  domain.CallQueues  "No endpoint served the account"
// @Router       /goto/call-queues [get]
func (s *Server) handleCallQueues(w http.ResponseWriter, r *http.Request) {
	authCtx := GetAuthContext(r.Context())

	queues, err := s.callDataService.CallQueues(r.Context(), authCtx.UserID, r.URL.Query().Get("accountKey"))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) && queues != nil {
			writeJSON(w, http.StatusNotFound, queues)
			return
		}
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, queues)
}

// handleLines godoc
// @Summary      User lines
// @Description  Returns the phone lines of the connected GoTo principal
// @Tags         GoTo
// @Produce      json
// @Security     BearerAuth
// @Success      200
// @Router       /goto/lines [get]
func (s *Server) handleLines(w http.ResponseWriter, r *http.Request) {
	authCtx := GetAuthContext(r.Context())

	lines, err := s.callDataService.UserLines(r.Context(), authCtx.UserID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(lines)
}

// Admin endpoints

// handleReset godoc
// @Summary      Reset all GoTo connections
// @Description  Deletes every stored token and pending state
// @Tags         Admin
// @Produce      json
// @Security     BearerAuth
// @Success      200  {object}  driving.ResetResponse
// @Failure      403  {object}  ErrorResponse
// @Router       /admin/goto/reset [post]
func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	authCtx := GetAuthContext(r.Context())

	resp, err := s.connectionService.ResetAll(r.Context())
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.logger.Warn("all goto connections reset",
		"admin_id", authCtx.UserID,
		"tokens_deleted", resp.TokensDeleted,
		"states_deleted", resp.StatesDeleted,
	)
	writeJSON(w, http.StatusOK, resp)
}

// writeServiceError maps core errors to HTTP responses.
func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var resErr *domain.ResourceError

	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err.Error())
	case domain.IsReconnectRequired(err), errors.Is(err, domain.ErrNoPrincipal):
		writeJSON(w, http.StatusConflict, ErrorResponse{
			Error: "goto connection required",
			Code:  "reconnect_required",
		})
	case errors.Is(err, domain.ErrNotConfigured):
		writeError(w, http.StatusServiceUnavailable, "goto integration is not configured")
	case errors.Is(err, domain.ErrProviderUnavailable):
		w.Header().Set("Retry-After", "1")
		writeError(w, http.StatusServiceUnavailable, "goto temporarily unavailable")
	case errors.As(err, &resErr):
		writeError(w, http.StatusBadGateway, resErr.Error())
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, context.Canceled):
		// client went away; nothing useful to send
		return
	default:
		s.logger.Error("request failed",
			"request_id", GetRequestID(r.Context()),
			"path", r.URL.Path,
			"error", err,
		)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{Error: message})
}
