package gateway

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hugo-lorenzo-mato/quorum-ai/internal/core"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	code := "INTERNAL"
	var de *core.DomainError
	if errors.As(err, &de) {
		code = de.Code
		switch de.Category {
		case core.ErrCatNotFound:
			status = http.StatusNotFound
		case core.ErrCatConflict:
			status = http.StatusConflict
		case core.ErrCatValidation:
			status = http.StatusBadRequest
		case core.ErrCatCallbackUnauthorized:
			status = http.StatusForbidden
		default:
			status = http.StatusInternalServerError
		}
	}
	writeJSON(w, status, map[string]string{"error": code, "message": err.Error()})
}

type createProjectRequest struct {
	Name      string `json:"name"`
	RepoURL   string `json:"repo_url,omitempty"`
	Branch    string `json:"branch,omitempty"`
	LocalPath string `json:"local_path,omitempty"`
	AutoMerge bool   `json:"auto_merge"`
	AutoPush  bool   `json:"auto_push"`
}

func (s *Server) handleListProjects(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.registry.List())
}

func (s *Server) handleCreateProject(w http.ResponseWriter, r *http.Request) {
	var req createProjectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, core.ErrValidation("INVALID_BODY", err.Error()))
		return
	}

	origin := core.Origin{Kind: core.OriginEmpty}
	switch {
	case req.RepoURL != "":
		origin = core.Origin{Kind: core.OriginGit, RepoURL: req.RepoURL, Branch: req.Branch}
	case req.LocalPath != "":
		origin = core.Origin{Kind: core.OriginLocalPath, LocalPath: req.LocalPath}
	}

	project, err := s.registry.Add(r.Context(), req.Name, origin)
	if err != nil {
		writeError(w, err)
		return
	}
	project, err = s.registry.Update(r.Context(), project.ID, func(p *core.Project) error {
		p.AutoMerge = req.AutoMerge
		p.AutoPush = req.AutoPush
		return nil
	})
	if err != nil {
		writeError(w, err)
		return
	}
	s.onboardProject(project)
	writeJSON(w, http.StatusCreated, project)
}

func (s *Server) handleGetProject(w http.ResponseWriter, r *http.Request) {
	id := core.ProjectID(chi.URLParam(r, "projectID"))
	project, err := s.registry.Get(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, project)
}

func (s *Server) handleDeleteProject(w http.ResponseWriter, r *http.Request) {
	id := core.ProjectID(chi.URLParam(r, "projectID"))
	if err := s.registry.Remove(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListWorkers(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.tasks.Workers())
}

type createTaskRequest struct {
	Description string        `json:"description"`
	Priority    int           `json:"priority"`
	PlanMode    bool          `json:"plan_mode"`
	DependsOn   core.TaskID   `json:"depends_on,omitempty"`
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	id := core.ProjectID(chi.URLParam(r, "projectID"))
	tasks, err := s.tasks.ProjectTasks(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tasks.List())
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	id := core.ProjectID(chi.URLParam(r, "projectID"))
	var req createTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, core.ErrValidation("INVALID_BODY", err.Error()))
		return
	}
	task, err := s.tasks.CreateTask(r.Context(), id, req.Description, req.Priority, req.PlanMode, req.DependsOn)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, task)
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	projectID := core.ProjectID(chi.URLParam(r, "projectID"))
	taskID := core.TaskID(chi.URLParam(r, "taskID"))
	tasks, err := s.tasks.ProjectTasks(r.Context(), projectID)
	if err != nil {
		writeError(w, err)
		return
	}
	task, err := tasks.Get(taskID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

type planDecisionRequest struct {
	Answers  map[string]string `json:"answers,omitempty"`
	Feedback string            `json:"feedback,omitempty"`
}

func (s *Server) handleApprovePlan(w http.ResponseWriter, r *http.Request) {
	projectID := core.ProjectID(chi.URLParam(r, "projectID"))
	taskID := core.TaskID(chi.URLParam(r, "taskID"))
	var req planDecisionRequest
	_ = json.NewDecoder(r.Body).Decode(&req)
	task, err := s.tasks.ApprovePlan(r.Context(), projectID, taskID, req.Answers)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) handleRejectPlan(w http.ResponseWriter, r *http.Request) {
	projectID := core.ProjectID(chi.URLParam(r, "projectID"))
	taskID := core.TaskID(chi.URLParam(r, "taskID"))
	var req planDecisionRequest
	_ = json.NewDecoder(r.Body).Decode(&req)
	task, err := s.tasks.RejectPlan(r.Context(), projectID, taskID, req.Feedback)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

type chatTaskRequest struct {
	Message string `json:"message"`
}

func (s *Server) handleChatTask(w http.ResponseWriter, r *http.Request) {
	projectID := core.ProjectID(chi.URLParam(r, "projectID"))
	taskID := core.TaskID(chi.URLParam(r, "taskID"))
	var req chatTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, core.ErrValidation("INVALID_BODY", err.Error()))
		return
	}
	if err := s.tasks.Chat(r.Context(), projectID, taskID, req.Message); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCancelTask(w http.ResponseWriter, r *http.Request) {
	projectID := core.ProjectID(chi.URLParam(r, "projectID"))
	taskID := core.TaskID(chi.URLParam(r, "taskID"))
	if err := s.tasks.Cancel(r.Context(), projectID, taskID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type mergeTaskRequest struct {
	Squash bool `json:"squash"`
}

func (s *Server) handleMergeTask(w http.ResponseWriter, r *http.Request) {
	projectID := core.ProjectID(chi.URLParam(r, "projectID"))
	taskID := core.TaskID(chi.URLParam(r, "taskID"))
	var req mergeTaskRequest
	_ = json.NewDecoder(r.Body).Decode(&req)
	if err := s.tasks.Merge(r.Context(), projectID, taskID, req.Squash); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRetryTask(w http.ResponseWriter, r *http.Request) {
	projectID := core.ProjectID(chi.URLParam(r, "projectID"))
	taskID := core.TaskID(chi.URLParam(r, "taskID"))
	if err := s.tasks.Retry(r.Context(), projectID, taskID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
