package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"lemond/pkg/types"
)

// Whisper serves speech-to-text with whisper.cpp's whisper-server, which
// takes a multipart upload on /inference instead of a JSON body.
type Whisper struct{ *server }

func newWhisper(cfg Config) *Whisper {
	return &Whisper{server: newServer("whispercpp", cfg, "/health", map[Endpoint]string{
		EndpointTranscriptions: "/inference",
	})}
}

func (b *Whisper) Start(ctx context.Context, info types.ModelInfo, _ LaunchOptions) error {
	return b.launch(ctx, info, func(host string, port int) (launchSpec, error) {
		if strings.TrimSpace(info.Path) == "" {
			return launchSpec{}, fmt.Errorf("model %s has no resolved weights path", info.Name)
		}
		return launchSpec{
			bin:  b.cfg.WhisperBin,
			args: []string{"-m", info.Path, "--host", host, "--port", strconv.Itoa(port)},
		}, nil
	})
}

// Forward sends the audio upload and returns {"text": ...}.
func (b *Whisper) Forward(ctx context.Context, req *Request) (*Response, error) {
	url, err := b.target(req.Endpoint)
	if err != nil {
		return nil, err
	}
	if req.Audio == nil || len(req.Audio.Data) == 0 {
		return nil, &UpstreamError{Status: http.StatusBadRequest, Message: "audio file is required"}
	}
	b.begin()
	defer b.end()
	ctx, cancel := context.WithTimeout(ctx, b.cfg.RequestTimeout)
	defer cancel()

	body, contentType, err := whisperForm(req.Audio)
	if err != nil {
		return nil, err
	}
	resp, err := b.post(ctx, url, contentType, body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, b.transportError(ctx, err)
	}
	var out struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		out.Text = string(raw)
	}
	buf, err := json.Marshal(map[string]string{"text": strings.TrimSpace(out.Text)})
	if err != nil {
		return nil, err
	}
	return &Response{Status: http.StatusOK, Body: buf}, nil
}

// ForwardStream is not offered by whisper-server.
func (b *Whisper) ForwardStream(context.Context, *Request, Sink) error {
	return &UnsupportedError{What: "streaming transcription"}
}

// whisperForm encodes the upload. The model field is dropped and the reply
// format pinned to json so the response can be normalized.
func whisperForm(a *AudioFile) (io.Reader, string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	name := a.Filename
	if name == "" {
		name = "audio.wav"
	}
	fw, err := mw.CreateFormFile("file", name)
	if err != nil {
		return nil, "", err
	}
	if _, err := fw.Write(a.Data); err != nil {
		return nil, "", err
	}
	for k, v := range a.Fields {
		if k == "model" || k == "response_format" || k == "file" {
			continue
		}
		if err := mw.WriteField(k, v); err != nil {
			return nil, "", err
		}
	}
	if err := mw.WriteField("response_format", "json"); err != nil {
		return nil, "", err
	}
	if err := mw.Close(); err != nil {
		return nil, "", err
	}
	return &buf, mw.FormDataContentType(), nil
}
