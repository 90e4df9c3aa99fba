// Package generation runs video-generation jobs against the streaming
// completions endpoint.
package generation

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"path"
	"regexp"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/kiranshivaraju/vidqueue/internal/download"
	"github.com/kiranshivaraju/vidqueue/internal/store"
	"github.com/kiranshivaraju/vidqueue/internal/stream"
	"github.com/kiranshivaraju/vidqueue/pkg/models"
)

const (
	readBufferSize   = 4096
	truncationMarker = "[truncated]\n"
)

var extPattern = regexp.MustCompile(`^[A-Za-z0-9]{1,5}$`)

// JobUpdater is the slice of the job store the executor writes through.
type JobUpdater interface {
	Update(id string, opts ...store.JobUpdateOption) (models.Job, error)
}

// ExecutorConfig tunes an Executor.
type ExecutorConfig struct {
	FlushInterval time.Duration
	MaxLogBytes   int
	SaveDir       string
	FilePrefix    string
	DefaultExt    string
}

// Executor drives one admitted job from request to terminal status.
type Executor struct {
	client     Client
	downloader download.Downloader
	jobs       JobUpdater
	cfg        ExecutorConfig
	now        func() time.Time

	mu         sync.RWMutex
	saveDir    string
	filePrefix string
}

// NewExecutor creates an Executor.
func NewExecutor(client Client, downloader download.Downloader, jobs JobUpdater, cfg ExecutorConfig) *Executor {
	if cfg.DefaultExt == "" {
		cfg.DefaultExt = "mp4"
	}
	return &Executor{
		client:     client,
		downloader: downloader,
		jobs:       jobs,
		cfg:        cfg,
		now:        time.Now,
		saveDir:    cfg.SaveDir,
		filePrefix: cfg.FilePrefix,
	}
}

// SetDownloadTarget changes where later downloads are written.
func (e *Executor) SetDownloadTarget(dir, prefix string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.saveDir = dir
	e.filePrefix = prefix
}

func (e *Executor) downloadTarget() (string, string) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.saveDir, e.filePrefix
}

// attempt is the executor's private state for one run of one job.
type attempt struct {
	jobID     string
	logs      string
	maxLogs   int
	lastFlush time.Time
	prevEvent string
	videoURL  string
}

func (a *attempt) appendLog(s string) {
	a.logs += s
	if a.maxLogs <= 0 || len(a.logs) <= a.maxLogs {
		return
	}
	cut := len(a.logs) - a.maxLogs
	for cut < len(a.logs) && !utf8.RuneStart(a.logs[cut]) {
		cut++
	}
	a.logs = truncationMarker + a.logs[cut:]
}

// Run executes job, which the scheduler has already moved to running. It
// always leaves the job completed or failed and never panics into the caller.
func (e *Executor) Run(ctx context.Context, job models.Job) {
	a := &attempt{jobID: job.ID, maxLogs: e.cfg.MaxLogBytes}

	defer func() {
		if r := recover(); r != nil {
			slog.Error("panic in executor", "error", r, "job_id", job.ID)
			e.fail(a, fmt.Errorf("panic: %v", r))
		}
	}()

	slog.Info("job started", "job_id", job.ID, "project_id", job.ProjectID, "model", job.Model)

	if err := e.generate(ctx, job, a); err != nil {
		e.fail(a, err)
		return
	}

	e.update(a, store.WithProgress(100), store.WithLogs(a.logs))

	if a.videoURL == "" {
		e.fail(a, ErrNoResult)
		return
	}

	e.save(ctx, job, a)
}

// generate streams the response to completion, recording logs, progress and
// the result URL on a.
func (e *Executor) generate(ctx context.Context, job models.Job, a *attempt) error {
	body, err := BuildRequest(job)
	if err != nil {
		return err
	}

	rc, err := e.client.Stream(ctx, body)
	if err != nil {
		return err
	}
	defer rc.Close()

	buf := make([]byte, readBufferSize)
	carry := ""
	for {
		n, readErr := rc.Read(buf)
		if n > 0 {
			carry = e.consume(a, carry, string(buf[:n]))
		}
		if errors.Is(readErr, io.EOF) {
			break
		}
		if readErr != nil {
			return classifyError(readErr)
		}
	}

	// A final record without a trailing newline is still a complete record.
	if carry != "" {
		e.consume(a, carry, "\n")
	}

	if err := ctx.Err(); err != nil {
		return classifyError(err)
	}
	return nil
}

func (e *Executor) consume(a *attempt, carry, chunk string) string {
	events, rest, diags := stream.DecodeWithDiagnostics(carry, chunk)
	for _, d := range diags {
		slog.Debug("skipping malformed stream record", "job_id", a.jobID, "error", d)
	}
	for _, ev := range events {
		e.handleEvent(a, ev)
	}
	return rest
}

func (e *Executor) handleEvent(a *attempt, ev stream.Event) {
	a.appendLog(ev.Value)
	now := e.now()

	if progress, ok := stream.ExtractProgress(ev.Value); ok {
		e.update(a, store.WithProgress(progress), store.WithLogs(a.logs))
		a.lastFlush = now
	} else if now.Sub(a.lastFlush) >= e.cfg.FlushInterval {
		e.update(a, store.WithLogs(a.logs))
		a.lastFlush = now
	}

	// The previous fragment is included so a tag split across two events
	// is still found.
	if a.videoURL == "" {
		if u, ok := stream.ExtractVideoURL(a.prevEvent + ev.Value); ok {
			a.videoURL = u
			slog.Info("result url found", "job_id", a.jobID, "url", u)
		}
	}
	a.prevEvent = ev.Value
}

// save downloads the artifact. A failed download still completes the job,
// with the failure recorded in its log. A cancelled one fails it.
func (e *Executor) save(ctx context.Context, job models.Job, a *attempt) {
	dir, prefix := e.downloadTarget()
	filename := fmt.Sprintf("%s_%s_%d.%s", prefix, job.ID, e.now().UnixMilli(), e.extension(a.videoURL))

	localPath, err := e.downloader.Download(ctx, a.videoURL, dir, filename)
	if err != nil && ctx.Err() != nil {
		e.fail(a, classifyError(ctx.Err()))
		return
	}
	if err != nil {
		slog.Warn("download failed", "job_id", job.ID, "error", err)
		a.appendLog("\nDownload Failed: " + err.Error())
		e.update(a,
			store.WithStatus(models.JobStatusCompleted),
			store.WithVideoURL(a.videoURL),
			store.WithLogs(a.logs))
		return
	}

	e.update(a,
		store.WithStatus(models.JobStatusCompleted),
		store.WithVideoURL(a.videoURL),
		store.WithDownloaded(localPath))
	slog.Info("job completed", "job_id", job.ID, "path", localPath)
}

func (e *Executor) extension(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return e.cfg.DefaultExt
	}
	ext := path.Ext(u.Path)
	if len(ext) < 2 || !extPattern.MatchString(ext[1:]) {
		return e.cfg.DefaultExt
	}
	return ext[1:]
}

func (e *Executor) fail(a *attempt, err error) {
	msg := err.Error()
	if errors.Is(err, ErrCancelled) {
		msg = ErrCancelled.Error()
	}
	slog.Warn("job failed", "job_id", a.jobID, "error", err)

	a.appendLog("\nError: " + msg)
	e.update(a, store.WithStatus(models.JobStatusFailed), store.WithLogs(a.logs))
}

func (e *Executor) update(a *attempt, opts ...store.JobUpdateOption) {
	if _, err := e.jobs.Update(a.jobID, opts...); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			slog.Debug("job removed while running", "job_id", a.jobID)
			return
		}
		slog.Error("update job failed", "job_id", a.jobID, "error", err)
	}
}
