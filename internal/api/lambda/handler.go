// Package lambda adapts the pipeline to AWS Lambda event envelopes.
package lambda

import (
	"context"
	"encoding/base64"
	"encoding/json"

	"github.com/aws/aws-lambda-go/events"
	"go.uber.org/zap"

	apperrors "github.com/bookinglake/bookinglake/internal/errors"
	"github.com/bookinglake/bookinglake/internal/logging"
	"github.com/bookinglake/bookinglake/internal/pipeline"
)

// SuccessBody is the response body of an ingested booking.
const SuccessBody = "Booking processed successfully"

// Handler serves API Gateway proxy and SQS invocations.
type Handler struct {
	processor pipeline.Processor
	policy    pipeline.BatchPolicy
	logger    *zap.Logger
}

// NewHandler creates a Lambda handler around processor.
func NewHandler(processor pipeline.Processor, policy pipeline.BatchPolicy, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{processor: processor, policy: policy, logger: logger.Named("lambda")}
}

// HandleAPIGateway processes the body of one proxy request. Client errors
// become a 400 response; infrastructure errors are returned so the platform
// records the invocation as failed.
func (h *Handler) HandleAPIGateway(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	if id := req.RequestContext.RequestID; id != "" {
		ctx = logging.WithRequestID(ctx, id)
	}
	log := logging.For(ctx, h.logger)

	body := []byte(req.Body)
	if req.IsBase64Encoded {
		decoded, err := base64.StdEncoding.DecodeString(req.Body)
		if err != nil {
			return clientError("request body is not valid base64"), nil
		}
		body = decoded
	}

	res, err := h.processor.Process(ctx, body)
	if err != nil {
		if apperrors.IsClientError(err) {
			log.Info("booking rejected", zap.String("error", apperrors.ClientMessage(err)))
			return clientError(apperrors.ClientMessage(err)), nil
		}
		log.Error("booking failed", zap.Error(err))
		return events.APIGatewayProxyResponse{}, err
	}

	log.Info("booking processed", zap.String("partition", res.Key), zap.Int64("rows", res.Rows))
	return events.APIGatewayProxyResponse{StatusCode: 200, Body: SuccessBody}, nil
}

// HandleSQS processes the records of one SQS batch in order. Records that
// should be redelivered are reported in BatchItemFailures. Client-invalid
// records are reported too unless the batch policy is best effort, in which
// case they are logged and dropped since redelivery cannot fix them.
func (h *Handler) HandleSQS(ctx context.Context, ev events.SQSEvent) (events.SQSEventResponse, error) {
	items := make([]pipeline.Item, len(ev.Records))
	for i, rec := range ev.Records {
		items[i] = pipeline.Item{ID: rec.MessageId, Body: []byte(rec.Body)}
	}

	report := pipeline.ProcessBatch(ctx, h.processor, items, h.policy)

	var resp events.SQSEventResponse
	for _, it := range report.Failures() {
		if !it.Retryable() && h.policy == pipeline.BestEffort {
			h.logger.Warn("dropping invalid record",
				zap.String("message_id", it.ID),
				zap.String("error", apperrors.ClientMessage(it.Err)))
			continue
		}
		resp.BatchItemFailures = append(resp.BatchItemFailures, events.SQSBatchItemFailure{ItemIdentifier: it.ID})
	}

	h.logger.Info("sqs batch processed",
		zap.Int("records", len(items)),
		zap.Int("succeeded", report.Succeeded),
		zap.Int("failed", report.Failed),
		zap.Int("skipped", report.Skipped),
		zap.Int("redeliver", len(resp.BatchItemFailures)))
	return resp, nil
}

func clientError(msg string) events.APIGatewayProxyResponse {
	body, _ := json.Marshal(map[string]string{"error": msg})
	return events.APIGatewayProxyResponse{
		StatusCode: 400,
		Headers:    map[string]string{"Content-Type": "application/json"},
		Body:       string(body),
	}
}
