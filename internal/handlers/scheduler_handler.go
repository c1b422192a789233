package handlers

import (
	"net/http"
	"strings"

	"github.com/ternarybob/outreach/internal/services/scheduler"
)

// SchedulerService is the part of the scheduler exposed over HTTP
type SchedulerService interface {
	GetAllJobStatuses() []*scheduler.JobStatus
	TriggerJob(name string) error
}

// SchedulerHandler handles scheduler-related endpoints
type SchedulerHandler struct {
	schedulerService SchedulerService
}

// NewSchedulerHandler creates a new scheduler handler
func NewSchedulerHandler(schedulerService SchedulerService) *SchedulerHandler {
	return &SchedulerHandler{schedulerService: schedulerService}
}

// ListJobsHandler handles GET /scheduler/jobs
func (h *SchedulerHandler) ListJobsHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"jobs":    h.schedulerService.GetAllJobStatuses(),
	})
}

// TriggerJobHandler handles POST /scheduler/jobs/{name}/trigger
func (h *SchedulerHandler) TriggerJobHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	name, ok := strings.CutSuffix(pathParam(r, "/scheduler/jobs/"), "/trigger")
	if !ok || name == "" {
		WriteError(w, http.StatusNotFound, "Not found")
		return
	}

	if err := h.schedulerService.TriggerJob(name); err != nil {
		WriteError(w, http.StatusNotFound, err.Error())
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "Job triggered",
		"name":    name,
	})
}
