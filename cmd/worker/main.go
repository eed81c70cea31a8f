package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"compat-backend/internal/bootstrap"
	"compat-backend/internal/shared/config"
	"compat-backend/internal/shared/metrics"
	"compat-backend/internal/shared/storage/db"
	"compat-backend/internal/shared/telemetry"
	"compat-backend/internal/workerproc"
)

const (
	defaultRegion             = "us-east-1"
	defaultVisibilitySeconds  = 2400
	defaultWorkerConcurrency  = 2
	defaultShutdownTimeoutSec = 60
)

func main() {
	cfg := config.Load()
	telemetry.SetLevel(cfg.LogLevel)

	if cfg.QueueURL == "" {
		fatal("worker.config", "RA_SQS_QUEUE_URL is required", nil)
	}
	region := cfg.AWSRegion
	if region == "" {
		region = defaultRegion
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Visibility must outlast ENGINE_TIMEOUT or a slow run is redelivered mid-flight.
	visibilitySeconds := envInt("RA_SQS_VISIBILITY_TIMEOUT_SECONDS", defaultVisibilitySeconds)
	concurrency := envInt("RA_WORKER_CONCURRENCY", defaultWorkerConcurrency)
	shutdownTimeout := time.Duration(envInt("RA_SHUTDOWN_TIMEOUT_SECONDS", defaultShutdownTimeoutSec)) * time.Second
	if time.Duration(visibilitySeconds)*time.Second < cfg.EngineTimeout {
		telemetry.Warn("worker.visibility_below_timeout", map[string]any{
			"visibility_seconds": visibilitySeconds,
			"engine_timeout":     cfg.EngineTimeout.String(),
		})
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		fatal("worker.aws_config", "load aws config", err)
	}
	var sqsClient sqsAPI = sqs.NewFromConfig(awsCfg)

	dbOpts := db.DefaultWorkerOptions()
	app, err := bootstrap.BuildWith(ctx, cfg, bootstrap.Options{DBOptions: &dbOpts, SkipRouter: true})
	if err != nil {
		fatal("worker.bootstrap", "bootstrap build", err)
	}
	defer app.Close()

	sem := make(chan struct{}, max(1, concurrency))
	var wg sync.WaitGroup

	telemetry.Info("worker.started", map[string]any{
		"queue_url":          cfg.QueueURL,
		"concurrency":        concurrency,
		"visibility_seconds": visibilitySeconds,
	})

pollLoop:
	for {
		select {
		case <-ctx.Done():
			break pollLoop
		default:
		}

		resp, err := sqsClient.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
			QueueUrl:                    aws.String(cfg.QueueURL),
			MaxNumberOfMessages:         int32(max(1, min(concurrency, 10))),
			WaitTimeSeconds:             20,
			VisibilityTimeout:           int32(visibilitySeconds),
			MessageSystemAttributeNames: []sqstypes.MessageSystemAttributeName{sqstypes.MessageSystemAttributeNameApproximateReceiveCount},
		})
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
				break pollLoop
			}
			telemetry.Error("worker.receive_failed", map[string]any{"error": err.Error()})
			continue
		}

		for _, msg := range resp.Messages {
			select {
			case <-ctx.Done():
				break pollLoop
			case sem <- struct{}{}:
			}
			metrics.IncJobReceived()
			wg.Add(1)
			go func(m sqstypes.Message) {
				defer wg.Done()
				defer func() { <-sem }()
				// A run already started finishes even when shutdown is requested.
				handleMessage(context.WithoutCancel(ctx), sqsClient, cfg.QueueURL, app.AnalysesService, m)
			}(msg)
		}
	}

	telemetry.Info("worker.shutdown", map[string]any{"timeout": shutdownTimeout.String()})
	waitDone := make(chan struct{})
	go func() {
		wg.Wait()
		close(waitDone)
	}()
	select {
	case <-waitDone:
	case <-time.After(shutdownTimeout):
		telemetry.Warn("worker.shutdown_timeout", nil)
	}
}

type sqsAPI interface {
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

func handleMessage(ctx context.Context, client sqsAPI, queueURL string, processor workerproc.Processor, msg sqstypes.Message) {
	body := aws.ToString(msg.Body)

	decoded, meta, err := workerproc.ParseMessage(body)
	if err != nil {
		fields := baseFields(msg, "", "")
		fields["body_len"] = meta.BodyLen
		if meta.BodySHA != "" && meta.BodyLen > 0 {
			fields["body_sha256"] = meta.BodySHA
		}
		event := "worker.job.decode_failed"
		var emptyErr workerproc.ErrEmptyBody
		var missingErr workerproc.ErrMissingWorkspaceID
		switch {
		case errors.As(err, &emptyErr):
			event = "worker.job.empty_body"
		case errors.As(err, &missingErr):
			event = "worker.job.missing_workspace_id"
			if missingErr.RequestID != "" {
				fields["request_id"] = missingErr.RequestID
			}
		default:
			fields["error"] = err.Error()
		}
		telemetry.Error(event, fields)
		if deleteMessage(ctx, client, queueURL, msg, "", "") {
			metrics.IncJobDropped()
		}
		return
	}

	telemetry.Info("worker.job.received", baseFields(msg, decoded.WorkspaceID, decoded.RequestID))

	ctxWithParsed := workerproc.WithParsedMessage(ctx, decoded)
	if err := workerproc.HandleMessage(ctxWithParsed, processor, body); err != nil {
		fields := baseFields(msg, decoded.WorkspaceID, decoded.RequestID)
		fields["error"] = err.Error()

		var procErr workerproc.ErrProcess
		if errors.As(err, &procErr) && !procErr.Retryable() {
			fields["retryable"] = false
			telemetry.Error("worker.job.failed", fields)
			if deleteMessage(ctx, client, queueURL, msg, decoded.WorkspaceID, decoded.RequestID) {
				metrics.IncJobDropped()
			}
			return
		}

		fields["retryable"] = true
		telemetry.Error("worker.job.failed", fields)
		metrics.IncJobRetried()
		return
	}

	if deleteMessage(ctx, client, queueURL, msg, decoded.WorkspaceID, decoded.RequestID) {
		telemetry.Info("worker.job.completed", baseFields(msg, decoded.WorkspaceID, decoded.RequestID))
		metrics.IncJobCompleted()
	}
}

func deleteMessage(ctx context.Context, client sqsAPI, queueURL string, msg sqstypes.Message, workspaceID, requestID string) bool {
	receipt := aws.ToString(msg.ReceiptHandle)
	if receipt == "" {
		fields := baseFields(msg, workspaceID, requestID)
		fields["error"] = "missing receipt handle"
		telemetry.Error("worker.job.delete_failed", fields)
		return false
	}
	if _, err := client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(queueURL),
		ReceiptHandle: aws.String(receipt),
	}); err != nil {
		fields := baseFields(msg, workspaceID, requestID)
		fields["error"] = err.Error()
		telemetry.Error("worker.job.delete_failed", fields)
		return false
	}
	return true
}

func baseFields(msg sqstypes.Message, workspaceID, requestID string) map[string]any {
	fields := map[string]any{
		"workspace_id":   workspaceID,
		"sqs_message_id": aws.ToString(msg.MessageId),
		"receive_count":  receiveCount(msg),
	}
	if strings.TrimSpace(requestID) != "" {
		fields["request_id"] = requestID
	}
	return fields
}

func receiveCount(msg sqstypes.Message) int {
	if msg.Attributes == nil {
		return 0
	}
	raw := msg.Attributes[string(sqstypes.MessageSystemAttributeNameApproximateReceiveCount)]
	if raw == "" {
		return 0
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil {
		return 0
	}
	return parsed
}

func envInt(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	val, err := strconv.Atoi(raw)
	if err != nil || val <= 0 {
		return def
	}
	return val
}

func fatal(event, msg string, err error) {
	fields := map[string]any{"message": msg}
	if err != nil {
		fields["error"] = err.Error()
	}
	telemetry.Error(event, fields)
	os.Exit(1)
}
