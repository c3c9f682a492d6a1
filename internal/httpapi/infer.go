package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"lemond/internal/backend"
	"lemond/internal/streaming"
	"lemond/pkg/types"
)

// decodeJSON enforces the JSON content type and body limit and decodes into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if ct != "application/json" {
		return &mediaTypeError{}
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			return &bodyTooLargeError{limit: tooBig.Limit}
		}
		return badRequest{msg: "invalid JSON body"}
	}
	return nil
}

type mediaTypeError struct{}

func (*mediaTypeError) Error() string   { return "Content-Type must be application/json" }
func (*mediaTypeError) StatusCode() int { return http.StatusUnsupportedMediaType }

type bodyTooLargeError struct{ limit int64 }

func (e *bodyTooLargeError) Error() string   { return "request body too large" }
func (e *bodyTooLargeError) StatusCode() int { return http.StatusRequestEntityTooLarge }

// validate checks the fields each endpoint needs before any pool is touched.
func validate(ep backend.Endpoint, body map[string]any) (model string, stream bool, err error) {
	model, _ = body["model"].(string)
	if strings.TrimSpace(model) == "" {
		return "", false, badRequest{msg: "model is required"}
	}
	if v, ok := body["stream"]; ok {
		if stream, ok = v.(bool); !ok {
			return "", false, badRequest{msg: "stream must be a boolean"}
		}
	}
	switch ep {
	case backend.EndpointChat:
		msgs, ok := body["messages"].([]any)
		if !ok || len(msgs) == 0 {
			return "", false, badRequest{msg: "messages must be a non-empty array"}
		}
	case backend.EndpointCompletions:
		if _, ok := body["prompt"]; !ok {
			return "", false, badRequest{msg: "prompt is required"}
		}
	case backend.EndpointEmbeddings:
		if _, ok := body["input"]; !ok {
			return "", false, badRequest{msg: "input is required"}
		}
	case backend.EndpointReranking:
		if q, _ := body["query"].(string); q == "" {
			return "", false, badRequest{msg: "query is required"}
		}
		if docs, ok := body["documents"].([]any); !ok || len(docs) == 0 {
			return "", false, badRequest{msg: "documents must be a non-empty array"}
		}
	}
	if stream && ep != backend.EndpointChat && ep != backend.EndpointCompletions {
		return "", false, badRequest{msg: "streaming is not supported for " + string(ep)}
	}
	return model, stream, nil
}

// inferContext joins the request with the server base context and applies the
// optional inference timeout.
func inferContext(r *http.Request) (context.Context, context.CancelFunc) {
	ctx, cancel := joinContexts(serverBaseCtx, r.Context())
	if inferTimeout <= 0 {
		return ctx, cancel
	}
	tctx, tcancel := context.WithTimeout(ctx, inferTimeout)
	return tctx, func() { tcancel(); cancel() }
}

// infer serves one of the JSON inference endpoints, buffered or streamed.
//
//	@Summary	OpenAI-compatible inference
//	@Tags		inference
//	@Accept		json
//	@Produce	json,text/event-stream
//	@Success	200	{object}	map[string]any
//	@Failure	400	{object}	types.ErrorResponse
//	@Failure	404	{object}	types.ErrorResponse
//	@Failure	409	{object}	types.ErrorResponse
//	@Failure	503	{object}	types.ErrorResponse
//	@Router		/api/v1/chat/completions [post]
func (h *handlers) infer(ep backend.Endpoint) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		if err := decodeJSON(w, r, &body); err != nil {
			writeError(w, err)
			return
		}
		model, stream, err := validate(ep, body)
		if err != nil {
			writeError(w, err)
			return
		}
		req := &backend.Request{Endpoint: ep, Model: model, Stream: stream, Body: body}

		lvl := requestLogLevel(r)
		log := requestLogger(r).With().Str("model", model).Str("endpoint", string(ep)).Logger()
		start := time.Now()
		if lvl >= LevelInfo {
			log.Info().Bool("stream", stream).Msg("infer start")
		}
		ctx, cancel := inferContext(r)
		defer cancel()

		var status int
		if stream {
			out := w
			if lvl >= LevelDebug {
				out = &teeResponseWriter{ResponseWriter: w, tee: &loggingLineWriter{log: log}}
			}
			status = h.stream(ctx, out, r, req, ep)
		} else {
			status = h.buffered(ctx, w, r, req)
		}
		if lvl >= LevelInfo || (lvl >= LevelError && status >= 500) {
			log.Info().Int("status", status).Dur("dur", time.Since(start)).Msg("infer end")
		}
	}
}

func (h *handlers) buffered(ctx context.Context, w http.ResponseWriter, r *http.Request, req *backend.Request) int {
	resp, err := h.svc.Forward(ctx, req)
	if err != nil {
		if r.Context().Err() != nil || serverBaseCtx.Err() != nil {
			return 499
		}
		return writeError(w, err)
	}
	status := resp.Status
	if status == 0 {
		status = http.StatusOK
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(resp.Body)
	return status
}

// stream relays a streaming request through the SSE proxy. Errors before the
// first byte become a JSON error; later ones a terminal error event.
func (h *handlers) stream(ctx context.Context, w http.ResponseWriter, r *http.Request, req *backend.Request, ep backend.Endpoint) int {
	var flush func()
	if f, ok := w.(http.Flusher); ok {
		flush = f.Flush
	}
	mode := streaming.ModeChat
	if ep == backend.EndpointCompletions {
		mode = streaming.ModeCompletion
	}
	opts := streaming.Options{Mode: mode, Model: req.Model, Classify: classifyBody}
	if info, err := h.svc.Resolve(req.Model); err == nil {
		opts.Reasoning = info.HasLabel(types.LabelReasoning)
	}
	p := streaming.NewProxy(w, flush, opts)
	err := h.svc.ForwardStream(ctx, req, p)
	switch {
	case err == nil:
		if ferr := p.Finish(); ferr != nil {
			return 499
		}
		h.svc.RecordStats(p.Stats())
		return http.StatusOK
	case errors.Is(err, backend.ErrClientGone), r.Context().Err() != nil:
		requestLogger(r).Debug().Err(err).Msg("client went away mid-stream")
		return 499
	case !p.Started():
		return writeError(w, err)
	default:
		_ = p.Fail(err)
		status, _ := classify(err)
		return status
	}
}

// transcribe serves multipart audio transcription requests.
//
//	@Summary	Transcribe audio
//	@Tags		inference
//	@Accept		mpfd
//	@Produce	json
//	@Param		file	formData	file	true	"audio file"
//	@Param		model	formData	string	true	"model name"
//	@Success	200	{object}	map[string]any
//	@Failure	400	{object}	types.ErrorResponse
//	@Router		/api/v1/audio/transcriptions [post]
func (h *handlers) transcribe(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, badRequest{msg: "expected multipart/form-data with an audio file"})
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()
	model := strings.TrimSpace(r.FormValue("model"))
	if model == "" {
		writeError(w, badRequest{msg: "model is required"})
		return
	}
	f, hdr, err := r.FormFile("file")
	if err != nil {
		writeError(w, badRequest{msg: "file is required"})
		return
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		writeError(w, badRequest{msg: "could not read uploaded file"})
		return
	}
	fields := make(map[string]string)
	for k, v := range r.MultipartForm.Value {
		if k != "model" && k != "file" && len(v) > 0 {
			fields[k] = v[0]
		}
	}
	req := &backend.Request{
		Endpoint: backend.EndpointTranscriptions,
		Model:    model,
		Body:     map[string]any{"model": model},
		Audio:    &backend.AudioFile{Filename: hdr.Filename, Data: data, Fields: fields},
	}
	ctx, cancel := inferContext(r)
	defer cancel()
	h.buffered(ctx, w, r, req)
}
