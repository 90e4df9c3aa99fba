// Package mockapi serves a stand-in for the streaming generation endpoint.
// It replays a fixed sequence of progress steps and ends with a video tag
// pointing at a file it can also serve.
package mockapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/tidwall/gjson"
)

const (
	sampleFile = "sample.mp4"
	fileSize   = 64 << 10
)

var fileNamePattern = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)

// DefaultSteps returns the content fragments of one simulated generation run,
// ending with a video tag for videoURL.
func DefaultSteps(videoURL string) []string {
	return []string{
		"**Generation Process Begins**\n\n",
		"Initializing generation request...\n",
		"**Video Generation Progress**: 9% (running)\n",
		"**Video Generation Progress**: 20% (running)\n",
		"**Video Generation Progress**: 45% (running)\n",
		"**Video Generation Progress**: 80% (running)\n",
		"**Video Generation Progress**: 98% (processing)\n",
		"**Video Generation Completed**\n\n",
		"Watermark-free mode enabled. Publishing video to get watermark-free version...\n",
		"Video published successfully. Post ID: s_mock_12345\n",
		"Now preparing watermark-free video...\n",
		"Cache is disabled. Using watermark-free URL directly...\n",
		fmt.Sprintf("<video src='%s' controls></video>", videoURL),
	}
}

// Options tune the mock.
type Options struct {
	// Interval between steps.
	Interval time.Duration
	// VideoURL overrides the announced result. Empty means this server's
	// /files/sample.mp4.
	VideoURL string
	// Steps overrides the fragments sent. Nil means DefaultSteps.
	Steps []string
}

// Server is the mock endpoint.
type Server struct {
	opts Options
}

// New creates a Server.
func New(opts Options) *Server {
	return &Server{opts: opts}
}

// Handler returns the mock's routes.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(cors)
	r.Post("/v1/chat/completions", s.completions)
	r.Get("/files/{name}", s.file)
	return r
}

func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "OPTIONS, POST, GET")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type chunk struct {
	ID      string        `json:"id"`
	Object  string        `json:"object"`
	Created int64         `json:"created"`
	Model   string        `json:"model"`
	Choices []chunkChoice `json:"choices"`
}

type chunkChoice struct {
	Index int        `json:"index"`
	Delta chunkDelta `json:"delta"`
}

type chunkDelta struct {
	Content string `json:"content"`
}

func (s *Server) completions(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil || !gjson.ValidBytes(body) {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	model := gjson.GetBytes(body, "model").String()
	slog.Info("mock generation started",
		"model", model,
		"stream", gjson.GetBytes(body, "stream").Bool(),
		"has_image", gjson.GetBytes(body, `messages.0.content.#(type=="image_url")`).Exists())

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	steps := s.opts.Steps
	if steps == nil {
		steps = DefaultSteps(s.videoURL(r))
	}

	id := fmt.Sprintf("chatcmpl-mock-%d", time.Now().UnixNano())
	for i, step := range steps {
		if i > 0 && s.opts.Interval > 0 {
			select {
			case <-r.Context().Done():
				slog.Info("mock generation aborted by client", "step", i)
				return
			case <-time.After(s.opts.Interval):
			}
		}

		data, err := json.Marshal(chunk{
			ID:      id,
			Object:  "chat.completion.chunk",
			Created: time.Now().Unix(),
			Model:   model,
			Choices: []chunkChoice{{Delta: chunkDelta{Content: step}}},
		})
		if err != nil {
			slog.Error("encode mock chunk failed", "error", err)
			return
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
			return
		}
		flusher.Flush()
	}

	fmt.Fprint(w, "data: [DONE]\n\n")
	flusher.Flush()
}

func (s *Server) videoURL(r *http.Request) string {
	if s.opts.VideoURL != "" {
		return s.opts.VideoURL
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s/files/%s", scheme, r.Host, sampleFile)
}

func (s *Server) file(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if !fileNamePattern.MatchString(name) {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "video/mp4")
	http.ServeContent(w, r, name, time.Time{}, bytes.NewReader(FileContent()))
}

// FileContent returns the deterministic bytes served for every file.
func FileContent() []byte {
	b := make([]byte, fileSize)
	for i := range b {
		b[i] = byte(i % 251)
	}
	return b
}
