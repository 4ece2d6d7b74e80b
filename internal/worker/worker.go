// Package worker implements the long-lived job orchestrator: a single FIFO
// loop that claims pending jobs and dispatches them to one of the four
// pipelines (transcribe, index, summarize, keyframes), enforcing cooperative
// cancellation via an epoch check on every externally-visible write.
package worker

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"videoagent/internal/asr"
	"videoagent/internal/config"
	"videoagent/internal/embedding"
	"videoagent/internal/errlog"
	"videoagent/internal/limiter"
	"videoagent/internal/llm"
	"videoagent/internal/logging"
	"videoagent/internal/media"
	"videoagent/internal/model"
	"videoagent/internal/repo"
	"videoagent/internal/transcript"
	"videoagent/internal/vectorstore"

	"go.uber.org/zap"
)

// pollInterval is how often the loop checks for a pending job when the
// queue was last seen empty.
const pollInterval = 500 * time.Millisecond

// prefsReloadInterval bounds how stale the worker's view of runtime
// preferences (limiter sizes, ASR device/compute type) can be.
const prefsReloadInterval = 2 * time.Second

// errJobCancelled signals that the epoch check observed the job's status or
// started_at change out from under the running pipeline — either an
// external cancel request or a concurrent retry that reclaimed the job.
var errJobCancelled = errors.New("worker: job cancelled")

// Worker owns every collaborator a pipeline needs and drives the claim/
// dispatch/finalize loop.
type Worker struct {
	Repo        *repo.Repo
	Transcripts *transcript.Store
	Vectors     *vectorstore.Store
	Media       *media.Runner
	LLM         *llm.Registry
	Config      config.Config

	asrMu      sync.Mutex // guards the lazily (re)loaded ASR engine
	asrEngine  asr.Engine
	asrDevice  string
	asrCompute string

	asrLimiter   *limiter.Limiter
	llmLimiter   *limiter.Limiter
	heavyLimiter *limiter.Limiter

	dataDir string
}

// New builds a Worker whose limiters each start at 1; runLoop resizes them
// from the preferences row on its first pass and every prefsReloadInterval.
func New(r *repo.Repo, transcripts *transcript.Store, vectors *vectorstore.Store, mediaRunner *media.Runner, llmRegistry *llm.Registry, cfg config.Config, dataDir string) *Worker {
	w := &Worker{
		Repo:         r,
		Transcripts:  transcripts,
		Vectors:      vectors,
		Media:        mediaRunner,
		LLM:          llmRegistry,
		Config:       cfg,
		asrLimiter:   limiter.New(1),
		llmLimiter:   limiter.New(1),
		heavyLimiter: limiter.New(1),
		dataDir:      dataDir,
	}
	return w
}

// RunForever drives the claim/dispatch loop until ctx is cancelled,
// restarting it on panic rather than letting the process die — the same
// defer/recover-and-restart shape used for long-running background work
// elsewhere in this codebase.
func (w *Worker) RunForever(ctx context.Context) {
	lastPrefsReload := time.Time{}
	for {
		if ctx.Err() != nil {
			return
		}
		func() {
			defer func() {
				if rec := recover(); rec != nil {
					errlog.Logf("worker: panic recovered: %v\n%s", rec, debug.Stack())
					logging.L().Error("worker loop panicked, restarting", zap.Any("panic", rec))
				}
			}()
			w.runLoop(ctx, &lastPrefsReload)
		}()
		select {
		case <-ctx.Done():
			return
		case <-time.After(pollInterval):
		}
	}
}

// runLoop is the steady-state claim/dispatch loop; it returns (to be
// restarted by RunForever) only on panic or context cancellation.
func (w *Worker) runLoop(ctx context.Context, lastPrefsReload *time.Time) {
	for {
		if ctx.Err() != nil {
			return
		}
		if time.Since(*lastPrefsReload) >= prefsReloadInterval {
			w.reloadPreferences(ctx)
			*lastPrefsReload = time.Now()
		}

		job, err := w.Repo.FetchNextPendingJob(ctx)
		if errors.Is(err, repo.ErrNotFound) {
			select {
			case <-ctx.Done():
				return
			case <-time.After(pollInterval):
			}
			continue
		}
		if err != nil {
			logging.L().Error("fetch next pending job failed", zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(pollInterval):
			}
			continue
		}

		claimed, err := w.Repo.ClaimPendingJob(ctx, job.ID)
		if err != nil {
			logging.L().Error("claim pending job failed", zap.Error(err), zap.String("job_id", job.ID))
			continue
		}
		if !claimed {
			continue // lost the race to another claimer
		}

		running, err := w.Repo.GetJob(ctx, job.ID)
		if err != nil {
			logging.L().Error("reload claimed job failed", zap.Error(err), zap.String("job_id", job.ID))
			continue
		}
		w.execute(ctx, running)
	}
}

// reloadPreferences re-applies limiter sizes and the ASR engine's device/
// compute type from the current preferences row.
func (w *Worker) reloadPreferences(ctx context.Context) {
	prefs, err := w.Repo.GetPreferences(ctx)
	if err != nil {
		logging.L().Warn("reload preferences failed", zap.Error(err))
		return
	}
	w.asrLimiter.SetMax(prefs.ASRMax)
	w.llmLimiter.SetMax(prefs.LLMMax)
	w.heavyLimiter.SetMax(prefs.HeavyMax)
	w.ensureASREngine(prefs)
}

// ensureASREngine (re)builds the process-wide ASR engine when the device or
// compute type has changed since the last load, mirroring the teacher's
// mutex-guarded hot-swappable service-reference pattern.
func (w *Worker) ensureASREngine(prefs *model.Preferences) {
	w.asrMu.Lock()
	defer w.asrMu.Unlock()
	if w.asrEngine != nil && w.asrDevice == prefs.ASRDevice && w.asrCompute == prefs.ASRComputeType {
		return
	}
	if w.Config.ASR.BinPath == "" {
		w.asrEngine = &asr.FakeEngine{}
	} else {
		w.asrEngine = asr.NewCLIEngine(asr.Config{
			BinPath:     w.Config.ASR.BinPath,
			ModelPath:   w.Config.ASR.ModelPath,
			Model:       valueOr(prefs.ASRModel, w.Config.ASR.Model),
			Device:      prefs.ASRDevice,
			ComputeType: prefs.ASRComputeType,
			Language:    w.Config.ASR.Language,
		})
	}
	w.asrDevice = prefs.ASRDevice
	w.asrCompute = prefs.ASRComputeType
}

func (w *Worker) currentASREngine() asr.Engine {
	w.asrMu.Lock()
	defer w.asrMu.Unlock()
	if w.asrEngine == nil {
		w.asrEngine = &asr.FakeEngine{}
	}
	return w.asrEngine
}

func valueOr(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

// resolveEmbedder builds the embedding collaborator for a given model name,
// routing "hash" to the deterministic fallback and everything else
// (including any fastembed-prefixed name) to the HTTP-backed embedder.
func (w *Worker) resolveEmbedder(modelName string, dim int) embedding.Embedder {
	return embedding.Resolve(modelName, w.Config.Embedding.Endpoint, w.Config.Embedding.APIKey, dim)
}

// pipelineCtx bundles the epoch token and collaborators a single job
// execution needs, threaded through every pipeline function.
type pipelineCtx struct {
	w                *Worker
	jobID            string
	videoID          string
	claimedStartedAt time.Time
}

// ensureSameRun re-reads the job row and confirms it is still running under
// the same claimed_started_at epoch. Any mismatch — a cancel, or a retry
// that reclaimed the job under a new started_at — raises errJobCancelled.
func (p *pipelineCtx) ensureSameRun(ctx context.Context) error {
	job, err := p.w.Repo.GetJob(ctx, p.jobID)
	if err != nil {
		return fmt.Errorf("epoch check: %w", err)
	}
	if job.Status != model.JobStatusRunning {
		return errJobCancelled
	}
	if job.StartedAt == nil || !job.StartedAt.Equal(p.claimedStartedAt) {
		return errJobCancelled
	}
	return nil
}

func (p *pipelineCtx) updateProgress(ctx context.Context, progress float64, message string) error {
	if err := p.ensureSameRun(ctx); err != nil {
		return err
	}
	return p.w.Repo.UpdateJob(ctx, p.jobID, repo.JobUpdate{Progress: &progress, Message: &message})
}

// execute dispatches a claimed job to its pipeline and reconciles the
// outcome: clean completion, cooperative cancellation, or typed failure.
func (w *Worker) execute(ctx context.Context, job *model.Job) {
	claimedStartedAt := time.Time{}
	if job.StartedAt != nil {
		claimedStartedAt = *job.StartedAt
	}
	p := &pipelineCtx{w: w, jobID: job.ID, videoID: job.VideoID, claimedStartedAt: claimedStartedAt}

	if job.JobType == model.JobTypeTranscribe {
		_ = w.Repo.UpdateVideoStatus(ctx, job.VideoID, model.VideoStatusProcessing)
	}
	initialMsg := "starting"
	zero := 0.0
	_ = w.Repo.UpdateJob(ctx, job.ID, repo.JobUpdate{Progress: &zero, Message: &initialMsg})

	var runErr error
	switch job.JobType {
	case model.JobTypeTranscribe:
		runErr = w.runTranscribe(ctx, p, job.Params)
	case model.JobTypeIndex:
		runErr = w.runIndex(ctx, p, job.Params)
	case model.JobTypeSummarize:
		runErr = w.runSummarize(ctx, p, job.Params)
	case model.JobTypeKeyframes:
		runErr = w.runKeyframes(ctx, p, job.Params)
	default:
		runErr = fmt.Errorf("unknown job type %q", job.JobType)
	}

	w.finalize(ctx, job, runErr)
}

// finalize reconciles the pipeline's outcome per the orchestrator contract:
// clean return completes the job, cancellation is honored even if it arrived
// as a generic error once the job row itself shows cancelled, and every
// other failure is mapped to a typed error code.
func (w *Worker) finalize(ctx context.Context, job *model.Job, runErr error) {
	if runErr == nil {
		status, err := w.Repo.GetJobStatus(ctx, job.ID)
		if err == nil && status == model.JobStatusRunning {
			completed := model.JobStatusCompleted
			one := 1.0
			now := time.Now().UTC()
			_ = w.Repo.UpdateJob(ctx, job.ID, repo.JobUpdate{Status: &completed, Progress: &one, CompletedAt: &now})
			if job.JobType == model.JobTypeTranscribe {
				_ = w.Repo.UpdateVideoStatus(ctx, job.VideoID, model.VideoStatusComplete)
			}
		}
		return
	}

	status, statusErr := w.Repo.GetJobStatus(ctx, job.ID)
	cancelledExternally := statusErr == nil && status == model.JobStatusCancelled

	if errors.Is(runErr, errJobCancelled) || cancelledExternally {
		cancelled := model.JobStatusCancelled
		now := time.Now().UTC()
		_ = w.Repo.UpdateJob(ctx, job.ID, repo.JobUpdate{Status: &cancelled, CompletedAt: &now})
		switch job.JobType {
		case model.JobTypeTranscribe:
			_ = w.Repo.UpdateVideoStatus(ctx, job.VideoID, model.VideoStatusPending)
		case model.JobTypeIndex:
			_ = w.Repo.UpdateVideoIndexStatus(ctx, job.VideoID, model.JobStatusCancelled, "cancelled")
		case model.JobTypeSummarize:
			_ = w.Repo.UpdateVideoSummaryStatus(ctx, job.VideoID, model.JobStatusCancelled, "cancelled")
		case model.JobTypeKeyframes:
			_ = w.Repo.UpdateVideoKeyframeIndexStatus(ctx, job.VideoID, model.JobStatusCancelled, "cancelled")
		}
		return
	}

	code := classifyError(job.JobType, runErr)
	failed := model.JobStatusFailed
	msg := runErr.Error()
	result := truncateStack(runErr)
	_ = w.Repo.UpdateJob(ctx, job.ID, repo.JobUpdate{
		Status: &failed, ErrorCode: &code, ErrorMessage: &msg, Result: &result,
	})
	logging.L().Error("job failed", zap.String("job_id", job.ID), zap.String("job_type", job.JobType), zap.String("code", code), zap.Error(runErr))
}

// classifyError maps a pipeline failure onto one of the orchestrator's
// typed error codes.
func classifyError(jobType string, err error) string {
	msg := err.Error()
	if strings.Contains(msg, "ASR_CONCURRENCY_TIMEOUT") || strings.Contains(msg, "LLM_CONCURRENCY_TIMEOUT") || strings.Contains(msg, "HEAVY_CONCURRENCY_TIMEOUT") {
		return "E_CONCURRENCY_TIMEOUT"
	}
	if jobType == model.JobTypeTranscribe {
		return "E_ASR_FAILED"
	}
	return "E_JOB_FAILED"
}

// timeoutOr converts a configured seconds value into a duration, defaulting
// to 3s when unset or non-positive.
func timeoutOr(seconds int) time.Duration {
	if seconds <= 0 {
		seconds = 3
	}
	return time.Duration(seconds) * time.Second
}

// truncateStack caps the failure detail stored in the job's result column.
func truncateStack(err error) string {
	s := fmt.Sprintf("%v\n%s", err, debug.Stack())
	const maxLen = 8192
	if len(s) > maxLen {
		return s[:maxLen]
	}
	return s
}
