package httpapi

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/ent0n29/navi/internal/processor"
)

type createTaskRequest struct {
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id"`
	TaskID    string `json:"task_id"`
	Command   string `json:"command"`
}

type createTaskResponse struct {
	TaskID    string `json:"task_id"`
	SessionID string `json:"session_id"`
	Status    string `json:"status"`
	Command   string `json:"command"`
}

type cancelTaskRequest struct {
	Reason string `json:"reason"`
}

type updateCommandRequest struct {
	NewCommand string `json:"new_command"`
	Reason     string `json:"reason"`
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var req createTaskRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	req.SessionID = strings.TrimSpace(req.SessionID)
	req.UserID = strings.TrimSpace(req.UserID)
	req.Command = strings.TrimSpace(req.Command)

	if req.SessionID == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "session_id is required")
		return
	}
	if req.Command == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "command is required")
		return
	}
	sess, err := s.sessions.Get(req.SessionID)
	if err != nil {
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
		return
	}
	if req.UserID == "" {
		req.UserID = sess.UserID
		if req.UserID == "" {
			req.UserID = "anonymous"
		}
	}

	task, err := s.runtime.StartTask(processor.Request{
		TaskID:    req.TaskID,
		SessionID: req.SessionID,
		UserID:    req.UserID,
		Command:   req.Command,
	})
	if err != nil {
		respondError(w, http.StatusBadRequest, "task_create_failed", err.Error())
		return
	}
	_ = s.sessions.RecordTask(req.SessionID)

	respondJSON(w, http.StatusCreated, createTaskResponse{
		TaskID:    task.ID,
		SessionID: req.SessionID,
		Status:    string(task.Status),
		Command:   task.Command,
	})
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	taskID := strings.TrimSpace(chi.URLParam(r, "id"))
	if taskID == "" {
		respondError(w, http.StatusBadRequest, "invalid_task_id", "missing task id")
		return
	}
	task, ok := s.runtime.GetTask(taskID)
	if !ok {
		respondError(w, http.StatusNotFound, "task_not_found", "no task with id "+taskID)
		return
	}
	respondJSON(w, http.StatusOK, task)
}

func (s *Server) handleListTaskSteps(w http.ResponseWriter, r *http.Request) {
	taskID := strings.TrimSpace(chi.URLParam(r, "id"))
	if taskID == "" {
		respondError(w, http.StatusBadRequest, "invalid_task_id", "missing task id")
		return
	}
	steps, ok := s.runtime.TaskSteps(taskID)
	if !ok {
		respondError(w, http.StatusNotFound, "task_not_found", "no task with id "+taskID)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"task_id": taskID,
		"steps":   steps,
	})
}

func (s *Server) handleListTaskEvents(w http.ResponseWriter, r *http.Request) {
	taskID := strings.TrimSpace(chi.URLParam(r, "id"))
	if taskID == "" {
		respondError(w, http.StatusBadRequest, "invalid_task_id", "missing task id")
		return
	}

	limit := 100
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "invalid_request", "limit must be a positive integer")
			return
		}
		if n > 500 {
			n = 500
		}
		limit = n
	}

	events, ok := s.runtime.ListTaskEvents(taskID, limit)
	if !ok {
		respondError(w, http.StatusNotFound, "task_not_found", "no task with id "+taskID)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"task_id": taskID,
		"events":  events,
	})
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimSpace(r.URL.Query().Get("session_id"))
	if sessionID == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "session_id query param is required")
		return
	}

	limit := 20
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "invalid_request", "limit must be a positive integer")
			return
		}
		if n > 200 {
			n = 200
		}
		limit = n
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"session_id": sessionID,
		"tasks":      s.runtime.ListTasks(sessionID, limit),
	})
}

func (s *Server) handleCancelTask(w http.ResponseWriter, r *http.Request) {
	taskID := strings.TrimSpace(chi.URLParam(r, "id"))
	if taskID == "" {
		respondError(w, http.StatusBadRequest, "invalid_task_id", "missing task id")
		return
	}

	reason := "Cancelled by API."
	var req cancelTaskRequest
	if err := decodeJSON(r, &req); err == nil && strings.TrimSpace(req.Reason) != "" {
		reason = strings.TrimSpace(req.Reason)
	}

	if !s.runtime.Cancel(taskID, reason) {
		respondError(w, http.StatusConflict, "task_cancel_failed", "task not found or already settled")
		return
	}
	task, _ := s.runtime.GetTask(taskID)
	respondJSON(w, http.StatusOK, task)
}

// handleUpdateTaskCommand queues a replacement command for the task's next
// step creation. Plans registered through the coordinator get the plan event;
// bare registry tasks are updated directly.
func (s *Server) handleUpdateTaskCommand(w http.ResponseWriter, r *http.Request) {
	taskID := strings.TrimSpace(chi.URLParam(r, "id"))
	if taskID == "" {
		respondError(w, http.StatusBadRequest, "invalid_task_id", "missing task id")
		return
	}
	var req updateCommandRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.NewCommand) == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "new_command is required")
		return
	}

	ok := s.plans.UpdateTaskCommand(taskID, req.NewCommand, req.Reason)
	if !ok {
		ok = s.registry.UpdateTaskCommand(taskID, req.NewCommand, req.Reason)
	}
	if !ok {
		respondError(w, http.StatusConflict, "command_update_failed", "task not found or already settled")
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]any{
		"task_id":  taskID,
		"accepted": true,
	})
}

func (s *Server) handleUpdateStepCommand(w http.ResponseWriter, r *http.Request) {
	taskID := strings.TrimSpace(chi.URLParam(r, "id"))
	if taskID == "" {
		respondError(w, http.StatusBadRequest, "invalid_task_id", "missing task id")
		return
	}
	index, err := strconv.Atoi(strings.TrimSpace(chi.URLParam(r, "index")))
	if err != nil || index < 0 {
		respondError(w, http.StatusBadRequest, "invalid_step_index", "step index must be a non-negative integer")
		return
	}
	var req updateCommandRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.NewCommand) == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "new_command is required")
		return
	}

	ok := s.plans.UpdateStepCommand(taskID, index, req.NewCommand)
	if !ok {
		ok = s.registry.UpdateStepCommand(taskID, index, req.NewCommand)
	}
	if !ok {
		respondError(w, http.StatusConflict, "command_update_failed", "task not found or already settled")
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]any{
		"task_id":    taskID,
		"step_index": index,
		"accepted":   true,
	})
}
