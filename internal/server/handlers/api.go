package handlers

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/sheetkeeper/sheetkeeper/internal/core"
	"github.com/sheetkeeper/sheetkeeper/internal/core/compact"
	"github.com/sheetkeeper/sheetkeeper/internal/core/engine"
	apperrors "github.com/sheetkeeper/sheetkeeper/internal/errors"
)

// DefaultMaxBodyBytes bounds request bodies when API.MaxBodyBytes is unset.
const DefaultMaxBodyBytes int64 = 16 << 20

// API serves the rate limit, state sync and codec endpoints.
type API struct {
	Gate            *engine.Gate
	Syncer          *engine.Syncer
	Codec           *compact.Codec
	MaxPayloadBytes int
	MaxBodyBytes    int64
}

// ActionResponse reports the window state of one (class, key) pair.
type ActionResponse struct {
	Class     core.ActionClass `json:"class"`
	Key       string           `json:"key"`
	Allowed   *bool            `json:"allowed,omitempty"`
	Remaining int              `json:"remaining"`
	MaxCalls  int              `json:"max_calls"`
	WindowMs  int64            `json:"window_ms"`
}

// Routes mounts the API under r.
func (a *API) Routes(r chi.Router) {
	r.Route("/actions/{class}", func(r chi.Router) {
		r.Post("/", a.checkAction)
		r.Get("/", a.describeAction)
		r.Delete("/", a.resetAction)
	})
	r.Route("/state/{owner}", func(r chi.Router) {
		r.Put("/", a.pushState)
		r.Get("/", a.pullState)
	})
	r.Post("/compact", a.compact)
	r.Post("/expand", a.expand)
	r.Post("/split-advice", a.splitAdvice)
}

func (a *API) checkAction(w http.ResponseWriter, r *http.Request) {
	class, key, ok := a.actionTarget(w, r)
	if !ok {
		return
	}

	if err := a.Gate.Check(r.Context(), class, key); err != nil {
		respondWithError(w, r, err)
		return
	}

	allowed := true
	resp := a.actionResponse(r, class, key)
	resp.Allowed = &allowed
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) describeAction(w http.ResponseWriter, r *http.Request) {
	class, key, ok := a.actionTarget(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, a.actionResponse(r, class, key))
}

func (a *API) resetAction(w http.ResponseWriter, r *http.Request) {
	class, key, ok := a.actionTarget(w, r)
	if !ok {
		return
	}
	a.Gate.Reset(r.Context(), class, key)
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) actionTarget(w http.ResponseWriter, r *http.Request) (core.ActionClass, string, bool) {
	class, ok := core.ParseActionClass(chi.URLParam(r, "class"))
	if !ok {
		respondWithError(w, r, apperrors.NewInvalidInputError(fmt.Sprintf("unknown action class %q", chi.URLParam(r, "class"))))
		return "", "", false
	}
	key := strings.TrimSpace(r.URL.Query().Get("key"))
	if key == "" {
		respondWithError(w, r, apperrors.NewInvalidInputError("query parameter key is required"))
		return "", "", false
	}
	return class, key, true
}

func (a *API) actionResponse(r *http.Request, class core.ActionClass, key string) ActionResponse {
	resp := ActionResponse{
		Class:     class,
		Key:       key,
		Remaining: a.Gate.Remaining(r.Context(), class, key),
	}
	if a.Gate != nil && a.Gate.Limiters != nil {
		if limiter := a.Gate.Limiters.For(class); limiter != nil {
			resp.MaxCalls = limiter.Limit.MaxCalls
			resp.WindowMs = limiter.Limit.Window.Milliseconds()
		}
	}
	return resp
}

func (a *API) pushState(w http.ResponseWriter, r *http.Request) {
	body, ok := a.decodeBody(w, r)
	if !ok {
		return
	}

	report, err := a.Syncer.Push(r.Context(), chi.URLParam(r, "owner"), body)
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (a *API) pullState(w http.ResponseWriter, r *http.Request) {
	state, err := a.Syncer.Pull(r.Context(), chi.URLParam(r, "owner"))
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (a *API) compact(w http.ResponseWriter, r *http.Request) {
	body, ok := a.decodeBody(w, r)
	if !ok {
		return
	}
	result := a.codec().Compact(body)
	w.Header().Set("X-Compacted", strconv.FormatBool(compact.IsCompacted(result)))
	writeJSON(w, http.StatusOK, result)
}

func (a *API) expand(w http.ResponseWriter, r *http.Request) {
	body, ok := a.decodeBody(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, a.codec().Expand(body))
}

func (a *API) splitAdvice(w http.ResponseWriter, r *http.Request) {
	maxBytes := a.MaxPayloadBytes
	if raw := strings.TrimSpace(r.URL.Query().Get("max_bytes")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			respondWithError(w, r, apperrors.NewInvalidInputError("max_bytes must be a positive integer"))
			return
		}
		maxBytes = parsed
	}

	body, ok := a.decodeBody(w, r)
	if !ok {
		return
	}

	advice, err := compact.ShouldSplit(body, maxBytes)
	if err != nil {
		respondWithError(w, r, apperrors.WrapInvalidInput(r.Context(), err, "payload cannot be measured"))
		return
	}
	writeJSON(w, http.StatusOK, advice)
}

func (a *API) decodeBody(w http.ResponseWriter, r *http.Request) (any, bool) {
	limit := a.MaxBodyBytes
	if limit <= 0 {
		limit = DefaultMaxBodyBytes
	}

	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, limit))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if stderrors.As(err, &tooLarge) {
			respondWithError(w, r, apperrors.NewPayloadTooLargeError(fmt.Sprintf("request body exceeds %d bytes", limit)))
			return nil, false
		}
		respondWithError(w, r, apperrors.WrapInvalidInput(r.Context(), err, "request body could not be read"))
		return nil, false
	}

	var body any
	if err := json.Unmarshal(data, &body); err != nil {
		respondWithError(w, r, apperrors.WrapInvalidInput(r.Context(), err, "request body is not valid JSON"))
		return nil, false
	}
	return body, true
}

func (a *API) codec() *compact.Codec {
	if a.Codec != nil {
		return a.Codec
	}
	return compact.New(nil)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
