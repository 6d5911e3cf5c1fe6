package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/nidhogg/parley/internal/agent"
	"github.com/nidhogg/parley/internal/conversation"
	"github.com/nidhogg/parley/internal/files"
	"github.com/nidhogg/parley/internal/provider"
	"go.uber.org/zap"
)

// maxUploadBytes bounds multipart upload memory.
const maxUploadBytes = 32 << 20

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	agents        *agent.Repository
	conversations *conversation.Service
	files         *files.Service
	logger        *zap.Logger
}

// NewHandler creates a new API handler.
func NewHandler(agents *agent.Repository, conversations *conversation.Service, fileSvc *files.Service, logger *zap.Logger) *Handler {
	return &Handler{
		agents:        agents,
		conversations: conversations,
		files:         fileSvc,
		logger:        logger,
	}
}

// Router builds the chi router with all routes.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.healthCheck)

		r.Post("/agents", h.createAgent)
		r.Get("/agents", h.listAgents)
		r.Get("/agents/{id}", h.getAgent)
		r.Put("/agents/{id}", h.updateAgent)
		r.Delete("/agents/{id}", h.deleteAgent)

		r.Post("/conversations", h.startConversation)
		r.Get("/conversations", h.listConversations)
		r.Get("/conversations/{id}", h.getConversation)
		r.Post("/conversations/{id}/messages", h.sendMessage)
		r.Get("/conversations/{id}/messages", h.listMessages)
		r.Get("/conversations/{id}/usage", h.tokenUsage)

		r.Post("/files", h.uploadFile)
		r.Get("/files", h.listFiles)
		r.Get("/files/{id}", h.getFile)
		r.Get("/files/{id}/download", h.downloadFile)
		r.Get("/files/{id}/text", h.extractFileText)
		r.Delete("/files/{id}", h.deleteFile)
	})

	return r
}

func (h *Handler) healthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": "parley"})
}

func (h *Handler) createAgent(w http.ResponseWriter, r *http.Request) {
	var spec agent.Create
	if err := json.NewDecoder(r.Body).Decode(&spec); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if spec.Name == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "name is required"})
		return
	}
	a, err := h.agents.CreateAgent(r.Context(), spec)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, a)
}

func (h *Handler) listAgents(w http.ResponseWriter, r *http.Request) {
	size, from := pagination(r)
	agents, err := h.agents.ListAgents(r.Context(), size, from)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, agents)
}

func (h *Handler) getAgent(w http.ResponseWriter, r *http.Request) {
	a, err := h.agents.GetAgent(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (h *Handler) updateAgent(w http.ResponseWriter, r *http.Request) {
	var upd agent.Update
	if err := json.NewDecoder(r.Body).Decode(&upd); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	a, err := h.agents.UpdateAgent(r.Context(), chi.URLParam(r, "id"), upd)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (h *Handler) deleteAgent(w http.ResponseWriter, r *http.Request) {
	deleted, err := h.agents.DeleteAgent(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	if !deleted {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "agent not found"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

type startConversationRequest struct {
	AgentID string `json:"agent_id"`
	Title   string `json:"title"`
}

func (h *Handler) startConversation(w http.ResponseWriter, r *http.Request) {
	var req startConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if req.AgentID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "agent_id is required"})
		return
	}
	started, err := h.conversations.StartConversation(r.Context(), req.AgentID, req.Title)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, started)
}

func (h *Handler) listConversations(w http.ResponseWriter, r *http.Request) {
	size, from := pagination(r)
	convs, err := h.conversations.Log().ListConversations(r.Context(), size, from)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, convs)
}

func (h *Handler) getConversation(w http.ResponseWriter, r *http.Request) {
	conv, err := h.conversations.Log().GetConversation(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, conv)
}

func (h *Handler) sendMessage(w http.ResponseWriter, r *http.Request) {
	var msg conversation.MessageCreate
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if msg.Content == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "content is required"})
		return
	}
	out, err := h.conversations.SendMessage(r.Context(), chi.URLParam(r, "id"), msg)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) listMessages(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := h.conversations.Log().GetConversation(r.Context(), id); err != nil {
		h.writeError(w, err)
		return
	}
	size, from := pagination(r)
	msgs, err := h.conversations.Log().ListMessages(r.Context(), id, size, from)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}

func (h *Handler) tokenUsage(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	total, err := h.conversations.TotalTokenUsage(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"conversation_id": id,
		"total_tokens":    total,
	})
}

func (h *Handler) uploadFile(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	f, header, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "file field is required"})
		return
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	contentType := header.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	uploaded, err := h.files.Upload(r.Context(), header.Filename, contentType, data)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, uploaded)
}

func (h *Handler) listFiles(w http.ResponseWriter, r *http.Request) {
	out, err := h.files.List(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) getFile(w http.ResponseWriter, r *http.Request) {
	f, err := h.files.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, f)
}

func (h *Handler) downloadFile(w http.ResponseWriter, r *http.Request) {
	f, data, err := h.files.Download(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", f.ContentType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+f.Filename+`"`)
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

func (h *Handler) extractFileText(w http.ResponseWriter, r *http.Request) {
	f, data, err := h.files.Download(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	// Best-effort: non-PDF or malformed input yields empty text, not an error.
	writeJSON(w, http.StatusOK, map[string]string{
		"file_id": f.ID,
		"text":    h.files.ExtractPDFText(data),
	})
}

func (h *Handler) deleteFile(w http.ResponseWriter, r *http.Request) {
	deleted, err := h.files.Delete(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	if !deleted {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "file not found"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// writeError maps domain errors onto HTTP statuses. LLM call failures carry
// their own status code through.
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	var callErr *provider.CallError
	switch {
	case errors.Is(err, agent.ErrNotFound),
		errors.Is(err, conversation.ErrNotFound),
		errors.Is(err, files.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
	case errors.Is(err, agent.ErrValidation):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	case errors.As(err, &callErr):
		writeJSON(w, callErr.StatusCode, map[string]string{
			"error":      callErr.Detail,
			"error_kind": string(callErr.Kind),
		})
	default:
		h.logger.Error("request failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
}

// pagination reads size/from query params with sane defaults.
func pagination(r *http.Request) (size, from int) {
	size, from = 50, 0
	if v := r.URL.Query().Get("size"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			size = n
		}
	}
	if v := r.URL.Query().Get("from"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			from = n
		}
	}
	return size, from
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
