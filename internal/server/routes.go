package server

import (
	"net/http"

	"github.com/ternarybob/outreach/internal/handlers"
)

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	// WebSocket route
	mux.HandleFunc("/ws", s.app.WSHandler.HandleWebSocket)

	mux.HandleFunc("/health", s.app.APIHandler.HealthHandler)
	mux.HandleFunc("/version", s.app.APIHandler.VersionHandler)

	// Admission
	mux.HandleFunc("/connect/send-connect-request", s.app.ConnectHandler.SendConnectRequestHandler)
	mux.HandleFunc("/connect/retry-connect-request", s.app.ConnectHandler.RetryConnectRequestHandler)
	mux.HandleFunc("/connect/bulk-connect-requests", s.app.ConnectHandler.BulkConnectRequestsHandler)
	mux.HandleFunc("/reply/send-reply", s.app.ReplyHandler.SendReplyHandler)
	mux.HandleFunc("/reply/retry-reply", s.app.ReplyHandler.RetryReplyHandler)
	mux.HandleFunc("/reply/bulk-replies", s.app.ReplyHandler.BulkRepliesHandler)
	mux.HandleFunc("/extract/extract-profiles", s.app.TaskHandler.ExtractProfilesHandler)
	mux.HandleFunc("/status-check/check-profiles", s.app.TaskHandler.CheckProfilesHandler)
	mux.HandleFunc("/inbox/poll", s.app.TaskHandler.PollInboxHandler)

	// Shared queue endpoints, one set per mounted queue
	for _, h := range s.app.QueueHandlers {
		registerQueueRoutes(mux, h)
	}

	// Security challenges
	mux.HandleFunc("/auth/challenges", s.app.ChallengeHandler.ListChallengesHandler)
	mux.HandleFunc("/auth/challenges/", s.handleChallengeRoutes)

	// Scheduler
	mux.HandleFunc("/scheduler/jobs", s.app.SchedulerHandler.ListJobsHandler)
	mux.HandleFunc("/scheduler/jobs/", s.handleSchedulerRoutes)

	mux.HandleFunc("/", s.app.APIHandler.NotFoundHandler)

	return mux
}

func registerQueueRoutes(mux *http.ServeMux, h *handlers.QueueHandler) {
	prefix := h.Prefix()
	mux.HandleFunc(prefix+"/job-status/", h.JobStatusHandler)
	mux.HandleFunc(prefix+"/queue-stats", h.QueueStatsHandler)
	mux.HandleFunc(prefix+"/clear-queue", h.ClearQueueHandler)
	mux.HandleFunc(prefix+"/health", h.HealthHandler)
}

// handleChallengeRoutes routes /auth/challenges/{accountId}/confirm
func (s *Server) handleChallengeRoutes(w http.ResponseWriter, r *http.Request) {
	routes := []PathSuffixRouter{
		{Suffix: "/confirm", Handler: s.app.ChallengeHandler.ConfirmChallengeHandler},
	}
	if !RouteByPathSuffix(w, r, "/auth/challenges/", routes) {
		s.app.APIHandler.NotFoundHandler(w, r)
	}
}

// handleSchedulerRoutes routes /scheduler/jobs/{name}/trigger
func (s *Server) handleSchedulerRoutes(w http.ResponseWriter, r *http.Request) {
	routes := []PathSuffixRouter{
		{Suffix: "/trigger", Handler: s.app.SchedulerHandler.TriggerJobHandler},
	}
	if !RouteByPathSuffix(w, r, "/scheduler/jobs/", routes) {
		s.app.APIHandler.NotFoundHandler(w, r)
	}
}
