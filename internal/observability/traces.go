package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"theological-agent/internal/logging"
	"theological-agent/internal/repository"
	"theological-agent/internal/workflow"
)

// ObjectStore is the subset of the MinIO client used for trace upload.
type ObjectStore interface {
	BucketExists(ctx context.Context, bucket string) (bool, error)
	MakeBucket(ctx context.Context, bucket string, opts minio.MakeBucketOptions) error
	PutObject(ctx context.Context, bucket, object string, reader io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

// MinIOConfig configures the object store client.
type MinIOConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
}

// NewMinIO creates an S3 compatible client.
func NewMinIO(cfg MinIOConfig) (*minio.Client, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("minio client: %w", err)
	}
	return client, nil
}

// RunTrace is the exported document of one run.
type RunTrace struct {
	RunID          string                         `json:"run_id"`
	Inputs         workflow.Inputs                `json:"inputs"`
	Status         string                         `json:"status"`
	Phases         []workflow.Phase               `json:"phases,omitempty"`
	Participants   []string                       `json:"participants,omitempty"`
	Steps          []workflow.StepRecord          `json:"reasoning_steps"`
	ModelVersions  map[string]string              `json:"model_versions"`
	TokensConsumed map[string]workflow.TokenUsage `json:"tokens_consumed"`
	PromptVersions map[string]string              `json:"prompt_versions"`
	RiskLevel      workflow.RiskLevel             `json:"risk_level,omitempty"`
	Alerts         []string                       `json:"alerts,omitempty"`
	HITLStatus     workflow.HITLStatus            `json:"hitl_status,omitempty"`
	DurationMS     int64                          `json:"duration_ms"`
	Error          string                         `json:"error,omitempty"`
	ExportedAt     time.Time                      `json:"exported_at"`
}

// TraceFromResult builds the document for a run outcome. res may be nil when
// the run failed before producing a result.
func TraceFromResult(s workflow.WorkflowState, res *workflow.Result, runErr error) RunTrace {
	t := RunTrace{
		RunID:          s.RunID,
		Inputs:         s.Inputs,
		Steps:          s.Steps,
		ModelVersions:  s.ModelVersions,
		TokensConsumed: s.TokensConsumed,
		PromptVersions: s.PromptVersions,
		RiskLevel:      s.RiskLevel,
		Alerts:         s.Alerts,
		HITLStatus:     s.HITLStatus,
		Status:         "failed",
	}
	if res != nil {
		t.Status = string(res.Status)
		t.Phases = res.Phases
		t.Participants = res.Participants
		t.DurationMS = res.Duration.Milliseconds()
	}
	if runErr != nil {
		t.Status = "failed"
		t.Error = runErr.Error()
	}
	return t
}

// TraceExporter uploads run traces to a bucket and records the outcome.
// Exports run detached from the request and never fail it.
type TraceExporter struct {
	objects ObjectStore
	bucket  string
	traces  repository.TraceStore
	logger  *logging.Logger
	timeout time.Duration

	mu          sync.Mutex
	bucketReady bool
	wg          sync.WaitGroup
}

// NewTraceExporter creates an exporter. A nil objects store records every
// export as skipped.
func NewTraceExporter(objects ObjectStore, bucket string, traces repository.TraceStore, logger *logging.Logger) *TraceExporter {
	return &TraceExporter{
		objects: objects,
		bucket:  bucket,
		traces:  traces,
		logger:  logger,
		timeout: 30 * time.Second,
	}
}

// ExportAsync exports in the background.
func (e *TraceExporter) ExportAsync(t RunTrace) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), e.timeout)
		defer cancel()
		e.Export(ctx, t)
	}()
}

// Wait blocks until background exports finish.
func (e *TraceExporter) Wait() { e.wg.Wait() }

// Export uploads the trace and saves its status row.
func (e *TraceExporter) Export(ctx context.Context, t RunTrace) {
	if t.ExportedAt.IsZero() {
		t.ExportedAt = time.Now().UTC()
	}
	rec := &repository.TraceRecord{RunID: t.RunID, Status: repository.TraceSkipped}
	log := e.logger.With("run_id", t.RunID)

	if e.objects != nil {
		path, size, err := e.upload(ctx, t)
		rec.StoragePath, rec.SizeBytes = path, size
		if err != nil {
			rec.Status = repository.TraceFailed
			rec.Error = err.Error()
			log.Error("trace_export_failed", "error", err)
		} else {
			rec.Status = repository.TraceUploaded
			log.Info("trace_exported", "path", path, "size_bytes", size)
		}
	}
	if err := e.traces.SaveTrace(ctx, rec); err != nil {
		log.Error("trace_record_failed", "error", err)
	}
}

func (e *TraceExporter) upload(ctx context.Context, t RunTrace) (string, int, error) {
	body, err := json.Marshal(t)
	if err != nil {
		return "", 0, fmt.Errorf("encode trace: %w", err)
	}
	path := fmt.Sprintf("runs/%s/%s.json", t.ExportedAt.Format("2006/01/02"), t.RunID)

	if err := e.ensureBucket(ctx); err != nil {
		return path, len(body), err
	}
	_, err = e.objects.PutObject(ctx, e.bucket, path, bytes.NewReader(body), int64(len(body)),
		minio.PutObjectOptions{ContentType: "application/json"})
	if err != nil {
		return path, len(body), fmt.Errorf("put object: %w", err)
	}
	return path, len(body), nil
}

func (e *TraceExporter) ensureBucket(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.bucketReady {
		return nil
	}
	exists, err := e.objects.BucketExists(ctx, e.bucket)
	if err != nil {
		return fmt.Errorf("check bucket: %w", err)
	}
	if !exists {
		if err := e.objects.MakeBucket(ctx, e.bucket, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("make bucket: %w", err)
		}
	}
	e.bucketReady = true
	return nil
}
