package build

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/TencentBlueKing/bkpaas/pkg/configs/platform"
	domerr "github.com/TencentBlueKing/bkpaas/pkg/domain/errors"
	"github.com/TencentBlueKing/bkpaas/pkg/domain/output"
	xe "github.com/TencentBlueKing/bkpaas/pkg/errors"
	"github.com/TencentBlueKing/bkpaas/pkg/loop"
)

const (
	// max number of parameters carrying environment variables
	MaxEnvChunks = 5

	// max length of each parameter carrying environment variables
	EnvChunkSize = 3500
)

// ChunkEnv encodes env as base64 JSON, and splits it into pipeline parameters.
//
// It returns ErrEnvTooLarge when the encoded env does not fit in MaxEnvChunks parameters.
func ChunkEnv(env map[string]string) ([]string, error) {
	if env == nil {
		env = map[string]string{}
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return nil, xe.Wrap(err)
	}
	encoded := base64.StdEncoding.EncodeToString(raw)

	chunks := []string{}
	for len(encoded) > EnvChunkSize {
		chunks = append(chunks, encoded[:EnvChunkSize])
		encoded = encoded[EnvChunkSize:]
	}
	chunks = append(chunks, encoded)
	if len(chunks) > MaxEnvChunks {
		return nil, xe.Wrap(ErrEnvTooLarge)
	}
	return chunks, nil
}

// level tags of the pipeline engine, like "##[info]".
var levelTag = regexp.MustCompile(`##\[[A-Za-z]+\]`)

// FilterPipelineLog picks messages written by the builder job.
//
// Entries of other jobs, and entries not tagged with "e-" (written by the engine itself) are dropped.
// Level tags in messages are stripped.
func FilterPipelineLog(logs []PipelineLog, jobID string) []string {
	sorted := slices.Clone(logs)
	slices.SortStableFunc(sorted, func(a, b PipelineLog) int {
		switch {
		case a.LineNo < b.LineNo:
			return -1
		case a.LineNo > b.LineNo:
			return 1
		default:
			return 0
		}
	})

	lines := []string{}
	for _, l := range sorted {
		if l.JobID != jobID || !strings.HasPrefix(l.Tag, "e-") {
			continue
		}
		lines = append(lines, levelTag.ReplaceAllString(l.Message, ""))
	}
	return lines
}

const pipelineSucceeded = "SUCCEED"

// statuses of builds which have been finished without success
var pipelineFailures = []string{
	"FAILED", "CANCELED", "TERMINATE", "REVIEW_ABORT",
	"HEARTBEAT_TIMEOUT", "QUEUE_TIMEOUT", "EXEC_TIMEOUT", "QUALITY_CHECK_FAIL",
}

// PipelineBackend runs builders on the pipeline engine.
type PipelineBackend struct {
	client     PipelineClient
	templateID string

	interval  time.Duration
	timeout   time.Duration
	heartbeat time.Duration

	logger *log.Logger
}

var _ Backend = &PipelineBackend{}

type PipelineOption func(*PipelineBackend) *PipelineBackend

func WithPipelineLogger(logger *log.Logger) PipelineOption {
	return func(p *PipelineBackend) *PipelineBackend {
		p.logger = logger
		return p
	}
}

// WithPipelinePolling overrides the polling interval, the overall timeout and the heartbeat interval.
func WithPipelinePolling(interval, timeout, heartbeat time.Duration) PipelineOption {
	return func(p *PipelineBackend) *PipelineBackend {
		p.interval = interval
		p.timeout = timeout
		p.heartbeat = heartbeat
		return p
	}
}

func NewPipelineBackend(client PipelineClient, conf *platform.PipelineConfig, options ...PipelineOption) *PipelineBackend {
	p := &PipelineBackend{
		client:     client,
		templateID: conf.TemplateID(),
		interval:   2 * time.Second,
		timeout:    12 * time.Minute,
		heartbeat:  30 * time.Second,
		logger:     log.New(log.Writer(), "[build/pipeline] ", log.LstdFlags),
	}
	for _, opt := range options {
		p = opt(p)
	}
	return p
}

// Params returns parameters of the pipeline build of job.
func (p *PipelineBackend) Params(job Job) (map[string]string, error) {
	chunks, err := ChunkEnv(job.Env)
	if err != nil {
		return nil, err
	}
	params := map[string]string{
		"build_process_id": job.Process.ID,
		"builder_image":    job.Process.BuilderImage,
		"wl_app":           job.Process.WorkloadApp,
	}
	for i, c := range chunks {
		params[fmt.Sprintf("env_chunk_%d", i)] = c
	}
	return params, nil
}

type polling struct {
	status        string
	lastHeartbeat time.Time
}

func (p *PipelineBackend) Run(ctx context.Context, job Job) error {
	params, err := p.Params(job)
	if err != nil {
		return err
	}

	started, err := p.client.Start(ctx, p.templateID, params)
	if err != nil {
		return err
	}
	p.say(ctx, job, fmt.Sprintf("pipeline build %s is started", started.BuildID))

	begin := time.Now()
	pctx, cancel := context.WithTimeoutCause(ctx, p.timeout, ErrPipelineTimeout)
	defer cancel()

	interrupted := false
	last, err := loop.Start(pctx, polling{lastHeartbeat: begin}, func(ctx context.Context, s polling) (polling, loop.Next) {
		if req, err := job.Interrupted(ctx); err != nil {
			p.logger.Printf("failed to check interruption of %s: %v", job.Process.ID, err)
		} else if req {
			interrupted = true
			return s, loop.Break(nil)
		}

		status, err := p.client.Status(ctx, started.BuildID)
		if err != nil {
			if domerr.IsRetryable(err) {
				p.logger.Printf("failed to get status of pipeline build %s: %v", started.BuildID, err)
				return s, loop.Continue(p.interval)
			}
			return s, loop.Break(err)
		}
		s.status = status
		if status == pipelineSucceeded || slices.Contains(pipelineFailures, status) {
			return s, loop.Break(nil)
		}

		if now := time.Now(); p.heartbeat <= now.Sub(s.lastHeartbeat) {
			p.say(ctx, job, fmt.Sprintf(
				"pipeline build is %s (%s elapsed)", strings.ToLower(status), now.Sub(begin).Truncate(time.Second),
			))
			s.lastHeartbeat = now
		}
		return s, loop.Continue(p.interval)
	})

	if interrupted {
		p.stop(ctx, job, started.BuildID)
		return xe.Wrap(ErrInterrupted)
	}
	if err != nil {
		if errors.Is(context.Cause(pctx), ErrPipelineTimeout) && ctx.Err() == nil {
			p.stop(ctx, job, started.BuildID)
			return xe.Wrap(ErrPipelineTimeout)
		}
		return err
	}

	logs, err := p.client.Logs(ctx, started.BuildID)
	if err != nil {
		p.logger.Printf("failed to get logs of pipeline build %s: %v", started.BuildID, err)
	}
	for _, line := range FilterPipelineLog(logs, started.JobID) {
		if err := job.Output.WriteLine(ctx, output.Stdout, line); err != nil {
			return err
		}
	}

	if last.status != pipelineSucceeded {
		return xe.Wrap(&PipelineNotSucceeded{BuildID: started.BuildID, Status: last.status})
	}
	return nil
}

func (p *PipelineBackend) say(ctx context.Context, job Job, line string) {
	if err := job.Output.WriteLine(ctx, output.System, line); err != nil {
		p.logger.Printf("failed to write log of build process %s: %v", job.Process.ID, err)
	}
}

func (p *PipelineBackend) stop(ctx context.Context, job Job, buildID string) {
	ctx = context.WithoutCancel(ctx)
	if err := p.client.Stop(ctx, buildID); err != nil {
		p.logger.Printf("failed to stop pipeline build %s: %v", buildID, err)
	}
	p.say(ctx, job, fmt.Sprintf("pipeline build %s is stopped", buildID))
}
