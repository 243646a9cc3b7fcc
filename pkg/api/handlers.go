package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/opencomply/opencomply/pkg/engine"
)

// Healthz handles GET /healthz.
func (s *Server) Healthz(w http.ResponseWriter, r *http.Request) {
	if err := s.store.HealthCheck(r.Context()); err != nil {
		respondError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ListFiles handles GET /workspaces/{workspace}/files.
// With ?bootstrap=true an empty workspace is seeded from live state first.
func (s *Server) ListFiles(w http.ResponseWriter, r *http.Request) {
	workspace := mux.Vars(r)["workspace"]
	bootstrap := r.URL.Query().Get("bootstrap") == "true"

	files, err := s.service.ListFiles(r.Context(), workspace, bootstrap)
	if err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, files)
}

// GetFile handles GET /workspaces/{workspace}/files/{path}.
func (s *Server) GetFile(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	file, err := s.store.GetFile(r.Context(), vars["workspace"], vars["path"])
	if err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, file)
}

// PutFileRequest is the body for PUT .../files/{path}.
type PutFileRequest struct {
	Content       string `json:"content"`
	Format        string `json:"format,omitempty"`
	BaseVersion   int64  `json:"base_version,omitempty"`
	CommitMessage string `json:"commit_message,omitempty"`
}

// PutFile handles PUT /workspaces/{workspace}/files/{path}. A zero
// base_version creates the file; otherwise the stored version must match
// base_version or the write is rejected with a conflict.
func (s *Server) PutFile(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	workspace, path := vars["workspace"], vars["path"]

	var req PutFileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	format := engine.Format(req.Format)
	if req.Format == "" {
		format = engine.FormatForPath(path)
	}
	if err := format.Validate(); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	if req.BaseVersion == 0 {
		file, err := s.store.CreateFile(r.Context(), workspace, path, format, req.Content, req.CommitMessage)
		if err != nil {
			respondEngineError(w, err)
			return
		}
		respondJSON(w, http.StatusCreated, file)
		return
	}

	file, err := s.store.UpdateFile(r.Context(), workspace, path, req.Content, req.BaseVersion, req.CommitMessage)
	if err != nil {
		respondEngineError(w, err)
		return
	}

	if s.events != nil {
		s.events.PublishFileUpdated(workspace, path, file.Version)
	}
	respondJSON(w, http.StatusOK, file)
}

// PreviewRequest is the body for POST .../preview and .../apply.
type PreviewRequest struct {
	Path          string `json:"path"`
	Content       string `json:"content"`
	Format        string `json:"format,omitempty"`
	CommitMessage string `json:"commit_message,omitempty"`
	Actor         string `json:"actor,omitempty"`
}

func (r *PreviewRequest) format() engine.Format {
	if r.Format == "" {
		return engine.FormatForPath(r.Path)
	}
	return engine.Format(r.Format)
}

// Preview handles POST /workspaces/{workspace}/preview. Pure read path:
// returns the plan without mutating anything.
func (s *Server) Preview(w http.ResponseWriter, r *http.Request) {
	workspace := mux.Vars(r)["workspace"]

	var req PreviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	plan, err := s.service.Preview(r.Context(), workspace, req.Path, req.Content, req.format())
	if err != nil {
		respondEngineError(w, err)
		return
	}

	if s.events != nil {
		s.events.PublishPlanComputed(workspace, req.Path, plan.Summary)
	}
	respondJSON(w, http.StatusOK, plan)
}

// Apply handles POST /workspaces/{workspace}/apply.
func (s *Server) Apply(w http.ResponseWriter, r *http.Request) {
	workspace := mux.Vars(r)["workspace"]

	var req PreviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	start := time.Now()
	if s.events != nil {
		s.events.PublishApplyStarted(workspace, req.Path, req.Actor)
	}
	result, err := s.service.Apply(r.Context(), engine.ApplyRequest{
		Workspace:     workspace,
		Path:          req.Path,
		Content:       req.Content,
		Format:        req.format(),
		CommitMessage: req.CommitMessage,
		Actor:         req.Actor,
	})
	if err != nil {
		var ee *engine.EngineError
		if s.events != nil && errors.As(err, &ee) && ee.Code == engine.ErrCodePolicyDenied {
			s.events.PublishPolicyDenied(workspace, req.Path, ee.Message)
		}
		respondEngineError(w, err)
		return
	}

	if s.events != nil {
		s.events.PublishApplyCompleted(workspace, result.RunID, result, time.Since(start))
	}

	status := http.StatusOK
	if len(result.Errors) > 0 {
		status = http.StatusMultiStatus
	}
	respondJSON(w, status, result)
}

// Refresh handles POST /workspaces/{workspace}/refresh, regenerating the
// declarative tree from live state.
func (s *Server) Refresh(w http.ResponseWriter, r *http.Request) {
	workspace := mux.Vars(r)["workspace"]

	written, err := s.service.RefreshFromDatabase(r.Context(), workspace)
	if err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]int{"files_written": written})
}

// ListResources handles GET /workspaces/{workspace}/resources/{type}. The
// type segment accepts both singular and plural forms. Results are cached
// until an apply touches the type.
func (s *Server) ListResources(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	workspace := vars["workspace"]

	t := engine.ResourceType(vars["type"])
	if t.Validate() != nil {
		plural, ok := engine.ResourceTypeForPlural(vars["type"])
		if !ok {
			respondError(w, http.StatusBadRequest, "unknown resource type: "+vars["type"])
			return
		}
		t = plural
	}

	rows, err := s.cache.List(r.Context(), workspace, t)
	if err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, rows)
}

// ListAudit handles GET /workspaces/{workspace}/audit?limit=&offset=.
func (s *Server) ListAudit(w http.ResponseWriter, r *http.Request) {
	workspace := mux.Vars(r)["workspace"]

	limit := queryInt(r, "limit", 50)
	offset := queryInt(r, "offset", 0)

	entries, err := s.store.ListAuditEntries(r.Context(), workspace, limit, offset)
	if err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, entries)
}

// ListPolicies handles GET /policies.
func (s *Server) ListPolicies(w http.ResponseWriter, r *http.Request) {
	if s.policies == nil {
		respondError(w, http.StatusNotFound, "policy engine not configured")
		return
	}
	respondJSON(w, http.StatusOK, s.policies.ListPolicies())
}

// GetPolicy handles GET /policies/{name}.
func (s *Server) GetPolicy(w http.ResponseWriter, r *http.Request) {
	if s.policies == nil {
		respondError(w, http.StatusNotFound, "policy engine not configured")
		return
	}

	p, err := s.policies.GetPolicy(mux.Vars(r)["name"])
	if err != nil {
		respondError(w, http.StatusNotFound, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, p)
}

// EnablePolicy handles POST /policies/{name}/enable.
func (s *Server) EnablePolicy(w http.ResponseWriter, r *http.Request) {
	s.setPolicyEnabled(w, r, true)
}

// DisablePolicy handles POST /policies/{name}/disable.
func (s *Server) DisablePolicy(w http.ResponseWriter, r *http.Request) {
	s.setPolicyEnabled(w, r, false)
}

func (s *Server) setPolicyEnabled(w http.ResponseWriter, r *http.Request, enabled bool) {
	if s.policies == nil {
		respondError(w, http.StatusNotFound, "policy engine not configured")
		return
	}

	name := mux.Vars(r)["name"]
	var err error
	if enabled {
		err = s.policies.EnablePolicy(name)
	} else {
		err = s.policies.DisablePolicy(name)
	}
	if err != nil {
		respondError(w, http.StatusNotFound, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"name": name, "enabled": enabled})
}

func queryInt(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}
