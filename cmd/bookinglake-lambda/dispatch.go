package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aws/aws-lambda-go/events"
	"go.uber.org/zap"

	lambdaapi "github.com/bookinglake/bookinglake/internal/api/lambda"
	"github.com/bookinglake/bookinglake/internal/pipeline"
)

// errUnsupportedPayload is returned for payloads that are neither an SQS
// batch nor a booking envelope.
var errUnsupportedPayload = errors.New("unsupported trigger payload")

type dispatcher struct {
	bookings *lambdaapi.Handler
	events   *lambdaapi.Handler
}

func newDispatcher(bookings, events pipeline.Processor, policy pipeline.BatchPolicy, logger *zap.Logger) *dispatcher {
	return &dispatcher{
		bookings: lambdaapi.NewHandler(bookings, policy, logger),
		events:   lambdaapi.NewHandler(events, policy, logger),
	}
}

// envelope holds the fields that tell the trigger payloads apart. Direct
// invokes carry only "body"; function URLs put the method under
// requestContext.http.
type envelope struct {
	Records []struct {
		EventSource string `json:"eventSource"`
	} `json:"Records"`
	Body            *string `json:"body"`
	IsBase64Encoded bool    `json:"isBase64Encoded"`
	HTTPMethod      string  `json:"httpMethod"`
	RequestContext  struct {
		RequestID string `json:"requestId"`
		HTTP      struct {
			Method string `json:"method"`
		} `json:"http"`
	} `json:"requestContext"`
}

// Handle routes SQS batches to the event writer and every envelope with a
// body to the booking ingestor.
func (d *dispatcher) Handle(ctx context.Context, payload json.RawMessage) (interface{}, error) {
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", errUnsupportedPayload, err)
	}

	switch {
	case len(env.Records) > 0 && env.Records[0].EventSource == "aws:sqs":
		var ev events.SQSEvent
		if err := json.Unmarshal(payload, &ev); err != nil {
			return nil, fmt.Errorf("invalid SQS event: %w", err)
		}
		return d.events.HandleSQS(ctx, ev)
	case env.Body != nil || env.HTTPMethod != "" || env.RequestContext.HTTP.Method != "":
		req := events.APIGatewayProxyRequest{
			HTTPMethod:      env.HTTPMethod,
			IsBase64Encoded: env.IsBase64Encoded,
		}
		if req.HTTPMethod == "" {
			req.HTTPMethod = env.RequestContext.HTTP.Method
		}
		if env.Body != nil {
			req.Body = *env.Body
		}
		req.RequestContext.RequestID = env.RequestContext.RequestID
		return d.bookings.HandleAPIGateway(ctx, req)
	default:
		return nil, errUnsupportedPayload
	}
}
