package httpapi

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"lemond/internal/backend"
	"lemond/pkg/types"
)

var llamaBackends = map[string]bool{"": true, "vulkan": true, "rocm": true, "metal": true, "cpu": true}

// listModels godoc
//
//	@Summary	List installed models
//	@Tags		models
//	@Produce	json
//	@Success	200	{object}	types.ModelsResponse
//	@Router		/api/v1/models [get]
func (h *handlers) listModels(w http.ResponseWriter, r *http.Request) {
	data := h.svc.ListModels()
	if data == nil {
		data = []types.ModelEntry{}
	}
	writeJSON(w, http.StatusOK, types.ModelsResponse{Object: "list", Data: data})
}

// getModel godoc
//
//	@Summary	Describe one model
//	@Tags		models
//	@Produce	json
//	@Param		id	path		string	true	"model name"
//	@Success	200	{object}	types.ModelEntry
//	@Failure	404	{object}	types.ErrorResponse
//	@Router		/api/v1/models/{id} [get]
func (h *handlers) getModel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	for _, m := range h.svc.ListModels() {
		if m.ID == id {
			writeJSON(w, http.StatusOK, m)
			return
		}
	}
	writeJSONError(w, http.StatusNotFound, errNotFound, "model not found: "+id)
}

// load godoc
//
//	@Summary	Load a model into its pool
//	@Tags		models
//	@Accept		json
//	@Produce	json
//	@Param		body	body		types.LoadRequest	true	"model and launch options"
//	@Success	200		{object}	types.StatusMessage
//	@Failure	404		{object}	types.ErrorResponse
//	@Failure	409		{object}	types.ErrorResponse
//	@Failure	503		{object}	types.ErrorResponse
//	@Failure	504		{object}	types.ErrorResponse
//	@Router		/api/v1/load [post]
func (h *handlers) load(w http.ResponseWriter, r *http.Request) {
	var req types.LoadRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	if strings.TrimSpace(req.ModelName) == "" {
		writeError(w, badRequest{msg: "model_name is required"})
		return
	}
	if req.CtxSize < 0 {
		writeError(w, badRequest{msg: "ctx_size must be positive"})
		return
	}
	if !llamaBackends[req.LlamacppBackend] {
		writeError(w, badRequest{msg: "llamacpp_backend must be one of vulkan, rocm, metal, cpu"})
		return
	}
	opts := backend.LaunchOptions{
		CtxSize:      req.CtxSize,
		LlamaBackend: req.LlamacppBackend,
		LlamaArgs:    strings.Fields(req.LlamacppArgs),
	}
	// Loads are not canceled by a client hanging up; they only stop on shutdown.
	if err := h.svc.Load(serverBaseCtx, req.ModelName, opts); err != nil {
		requestLogger(r).Warn().Err(err).Str("model", req.ModelName).Msg("load failed")
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, types.StatusMessage{Status: "success", Message: "Loaded model: " + req.ModelName})
}

// unload godoc
//
//	@Summary	Unload one model, or all when model_name is empty
//	@Tags		models
//	@Accept		json
//	@Produce	json
//	@Param		body	body		types.UnloadRequest	false	"model to unload"
//	@Success	200		{object}	types.StatusMessage
//	@Failure	404		{object}	types.ErrorResponse
//	@Failure	409		{object}	types.ErrorResponse
//	@Router		/api/v1/unload [post]
func (h *handlers) unload(w http.ResponseWriter, r *http.Request) {
	var req types.UnloadRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, err)
			return
		}
	}
	if req.ModelName == "" {
		if err := h.svc.UnloadAll(r.Context()); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, types.StatusMessage{Status: "success", Message: "Unloaded all models"})
		return
	}
	if err := h.svc.Unload(r.Context(), req.ModelName); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, types.StatusMessage{Status: "success", Message: "Unloaded model: " + req.ModelName})
}

// health godoc
//
//	@Summary	Liveness and loaded models
//	@Tags		system
//	@Produce	json
//	@Success	200	{object}	types.HealthResponse
//	@Router		/api/v1/health [get]
func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.Health())
}

// stats godoc
//
//	@Summary	Telemetry of the last completed inference
//	@Tags		system
//	@Produce	json
//	@Success	200	{object}	types.StatsResponse
//	@Router		/api/v1/stats [get]
func (h *handlers) stats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.Stats())
}

// status godoc
//
//	@Summary	Pool and slot detail
//	@Tags		system
//	@Produce	json
//	@Success	200	{object}	types.StatusResponse
//	@Router		/api/v1/status [get]
func (h *handlers) status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.Status())
}

// pull godoc
//
//	@Summary	Register a model with the catalog
//	@Tags		models
//	@Accept		json
//	@Produce	json
//	@Param		body	body		types.PullRequest	true	"model registration"
//	@Success	200		{object}	types.StatusMessage
//	@Failure	400		{object}	types.ErrorResponse
//	@Router		/api/v1/pull [post]
func (h *handlers) pull(w http.ResponseWriter, r *http.Request) {
	var req types.PullRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	if strings.TrimSpace(req.ModelName) == "" {
		writeError(w, badRequest{msg: "model_name is required"})
		return
	}
	if req.Recipe != "" && !req.Recipe.Valid() {
		writeError(w, badRequest{msg: "unknown recipe: " + string(req.Recipe)})
		return
	}
	if err := h.svc.Pull(pullInfo(req)); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, types.StatusMessage{Status: "success", Message: "Installed model: " + req.ModelName})
}

// pullInfo turns a pull request into a catalog entry, mirroring the
// convenience flags into labels.
func pullInfo(req types.PullRequest) types.ModelInfo {
	labels := append([]string(nil), req.Labels...)
	add := func(on bool, label string) {
		if on {
			labels = append(labels, label)
		}
	}
	add(req.Reasoning, types.LabelReasoning)
	add(req.Vision, types.LabelVision)
	add(req.Embeddings, types.LabelEmbeddings)
	add(req.Reranking, types.LabelReranking)
	recipe := req.Recipe
	if recipe == "" {
		recipe = types.RecipeLlamaCpp
	}
	return types.ModelInfo{
		Name:       req.ModelName,
		Checkpoint: req.Checkpoint,
		Path:       req.Path,
		Recipe:     recipe,
		Labels:     labels,
		MMProj:     req.MMProj,
	}
}

// deleteModel godoc
//
//	@Summary	Unload and remove a model from the catalog
//	@Tags		models
//	@Accept		json
//	@Produce	json
//	@Param		body	body		types.DeleteRequest	true	"model to delete"
//	@Success	200		{object}	types.StatusMessage
//	@Failure	404		{object}	types.ErrorResponse
//	@Failure	409		{object}	types.ErrorResponse
//	@Router		/api/v1/delete [post]
func (h *handlers) deleteModel(w http.ResponseWriter, r *http.Request) {
	var req types.DeleteRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	if strings.TrimSpace(req.ModelName) == "" {
		writeError(w, badRequest{msg: "model_name is required"})
		return
	}
	if err := h.svc.Delete(r.Context(), req.ModelName); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, types.StatusMessage{Status: "success", Message: "Deleted model: " + req.ModelName})
}
