package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/aws/aws-lambda-go/events"

	lambdaapi "github.com/bookinglake/bookinglake/internal/api/lambda"
	apperrors "github.com/bookinglake/bookinglake/internal/errors"
	"github.com/bookinglake/bookinglake/internal/partition"
	"github.com/bookinglake/bookinglake/internal/pipeline"
	"github.com/bookinglake/bookinglake/internal/schema"
	"github.com/bookinglake/bookinglake/internal/storage"
)

const booking = `{"booking_id":"1","booking_date":"2024-10-06T20:00:00","status":"1","user_id":"1",` +
	`"salon_id":"1","payment_id":"1","service_id":"2","service_name":"Hair cut","price":"100.50"}`

// recorder keeps the bodies it was given and fails the ones listed in errs.
type recorder struct {
	mu     sync.Mutex
	bodies []string
	errs   map[string]error
}

func (r *recorder) Process(ctx context.Context, body []byte) (*pipeline.Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bodies = append(r.bodies, string(body))
	if err := r.errs[string(body)]; err != nil {
		return nil, err
	}
	return &pipeline.Result{Key: "2024-10-06_data.parquet", Rows: 1}, nil
}

func mustJSON(t *testing.T, v interface{}) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	return data
}

func TestDispatch_BookingEnvelopes(t *testing.T) {
	tests := []struct {
		name    string
		payload map[string]interface{}
	}{
		{"direct invoke", map[string]interface{}{"body": booking}},
		{"api gateway proxy", map[string]interface{}{"httpMethod": "POST", "body": booking}},
		{"function url", map[string]interface{}{
			"version":         "2.0",
			"rawPath":         "/",
			"body":            base64.StdEncoding.EncodeToString([]byte(booking)),
			"isBase64Encoded": true,
			"requestContext": map[string]interface{}{
				"requestId": "req-1",
				"http":      map[string]interface{}{"method": "POST", "path": "/"},
			},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bookings, evs := &recorder{}, &recorder{}
			d := newDispatcher(bookings, evs, pipeline.BestEffort, nil)

			out, err := d.Handle(context.Background(), mustJSON(t, tt.payload))
			if err != nil {
				t.Fatalf("Handle failed: %v", err)
			}
			resp, ok := out.(events.APIGatewayProxyResponse)
			if !ok {
				t.Fatalf("response type = %T", out)
			}
			if resp.StatusCode != 200 || resp.Body != lambdaapi.SuccessBody {
				t.Errorf("response = %+v", resp)
			}
			if len(bookings.bodies) != 1 || bookings.bodies[0] != booking {
				t.Errorf("booking bodies = %q", bookings.bodies)
			}
			if len(evs.bodies) != 0 {
				t.Errorf("event writer called for a booking envelope: %q", evs.bodies)
			}
		})
	}
}

func TestDispatch_ClientErrorIs400(t *testing.T) {
	bookings := &recorder{errs: map[string]error{
		"{}": apperrors.NewValidationError(apperrors.CodeMissingFields, "missing required fields in request body: price", nil),
	}}
	d := newDispatcher(bookings, &recorder{}, pipeline.BestEffort, nil)

	out, err := d.Handle(context.Background(), json.RawMessage(`{"body":"{}"}`))
	if err != nil {
		t.Fatalf("Handle failed: %v", err)
	}
	resp := out.(events.APIGatewayProxyResponse)
	if resp.StatusCode != 400 || resp.Body != `{"error":"missing required fields in request body: price"}` {
		t.Errorf("response = %+v", resp)
	}
}

func TestDispatch_SQS(t *testing.T) {
	flaky := apperrors.NewStorageError(apperrors.CodeUploadFailed, "upload failed", errors.New("timeout"))
	evs := &recorder{errs: map[string]error{"e2": flaky}}
	d := newDispatcher(&recorder{}, evs, pipeline.BestEffort, nil)

	ev := events.SQSEvent{Records: []events.SQSMessage{
		{MessageId: "m1", EventSource: "aws:sqs", Body: "e1"},
		{MessageId: "m2", EventSource: "aws:sqs", Body: "e2"},
	}}
	out, err := d.Handle(context.Background(), mustJSON(t, ev))
	if err != nil {
		t.Fatalf("Handle failed: %v", err)
	}
	resp, ok := out.(events.SQSEventResponse)
	if !ok {
		t.Fatalf("response type = %T", out)
	}
	if len(resp.BatchItemFailures) != 1 || resp.BatchItemFailures[0].ItemIdentifier != "m2" {
		t.Errorf("failures = %+v", resp.BatchItemFailures)
	}
	if fmt.Sprint(evs.bodies) != "[e1 e2]" {
		t.Errorf("event bodies = %q", evs.bodies)
	}
}

func TestDispatch_Unsupported(t *testing.T) {
	d := newDispatcher(&recorder{}, &recorder{}, pipeline.BestEffort, nil)

	for _, payload := range []string{`{"detail-type":"Scheduled Event"}`, `{"body":null}`, `[1,2]`, `"text"`} {
		if _, err := d.Handle(context.Background(), json.RawMessage(payload)); !errors.Is(err, errUnsupportedPayload) {
			t.Errorf("%s: error = %v, want errUnsupportedPayload", payload, err)
		}
	}
}

func TestDispatch_DirectInvokeWritesPartition(t *testing.T) {
	store, err := storage.NewLocalStorage(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create local storage: %v", err)
	}
	cfg := pipeline.Config{ScratchDir: t.TempDir(), MaxConflictRetries: pipeline.DefaultMaxConflictRetries}
	ingestor := pipeline.NewIngestor(schema.Bookings(), store, partition.NewResolver(), cfg, nil)
	d := newDispatcher(ingestor, &recorder{}, pipeline.BestEffort, nil)

	out, err := d.Handle(context.Background(), mustJSON(t, map[string]string{"body": booking}))
	if err != nil {
		t.Fatalf("Handle failed: %v", err)
	}
	if resp := out.(events.APIGatewayProxyResponse); resp.StatusCode != 200 {
		t.Fatalf("response = %+v", resp)
	}

	missing := `{"booking_id":"1","booking_date":"2024-10-06T20:00:00","status":"1","user_id":"1",` +
		`"salon_id":"1","payment_id":"1","service_name":"Hair cut"}`
	out, err = d.Handle(context.Background(), mustJSON(t, map[string]string{"body": missing}))
	if err != nil {
		t.Fatalf("Handle failed: %v", err)
	}
	resp := out.(events.APIGatewayProxyResponse)
	if resp.StatusCode != 400 || resp.Body != `{"error":"missing required fields in request body: service_id, price"}` {
		t.Errorf("response = %+v", resp)
	}

	keys, err := store.ListObjects(context.Background(), "")
	if err != nil || len(keys) != 1 {
		t.Errorf("stored keys = %v, err = %v", keys, err)
	}
}
