package core

import (
	"context"
	"encoding/base64"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/aws/aws-lambda-go/events"

	"classifieds/internal/config"
)

func TestLambdaHandler_RoundTrip(t *testing.T) {
	var (
		gotMethod, gotPath, gotQuery, gotBody, gotAuth, gotReqID string
	)
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		gotAuth = r.Header.Get("Authorization")
		gotReqID = r.Header.Get(HeaderRequestID)
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(`{"ok":true}`))
	})

	ev := events.APIGatewayV2HTTPRequest{
		RawPath:         "/v1/boosts/activate",
		RawQueryString:  "dry=1",
		Headers:         map[string]string{"authorization": "Bearer t"},
		Body:            base64.StdEncoding.EncodeToString([]byte(`{"itemId":"L1"}`)),
		IsBase64Encoded: true,
		RequestContext: events.APIGatewayV2HTTPRequestContext{
			RequestID: "apigw-req-1",
			HTTP: events.APIGatewayV2HTTPRequestContextHTTPDescription{
				Method:   http.MethodPost,
				Path:     "/v1/boosts/activate",
				SourceIP: "203.0.113.9",
			},
		},
	}

	resp, err := NewLambdaHandler(h).Handle(context.Background(), ev)
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}

	if gotMethod != http.MethodPost || gotPath != "/v1/boosts/activate" || gotQuery != "dry=1" {
		t.Errorf("request line: %s %s?%s", gotMethod, gotPath, gotQuery)
	}
	if gotBody != `{"itemId":"L1"}` {
		t.Errorf("body: got %q", gotBody)
	}
	if gotAuth != "Bearer t" {
		t.Errorf("authorization: got %q", gotAuth)
	}
	if gotReqID != "apigw-req-1" {
		t.Errorf("request id: got %q", gotReqID)
	}
	if resp.StatusCode != http.StatusAccepted {
		t.Errorf("status: got %d", resp.StatusCode)
	}
	if resp.Body != `{"ok":true}` {
		t.Errorf("response body: got %q", resp.Body)
	}
	if resp.Headers["Content-Type"] != "application/json" {
		t.Errorf("headers: %v", resp.Headers)
	}
}

func TestLambdaHandler_BadBase64(t *testing.T) {
	ev := events.APIGatewayV2HTTPRequest{
		RawPath:         "/",
		Body:            "%%%",
		IsBase64Encoded: true,
		RequestContext: events.APIGatewayV2HTTPRequestContext{
			HTTP: events.APIGatewayV2HTTPRequestContextHTTPDescription{Method: http.MethodPost},
		},
	}
	if _, err := NewLambdaHandler(http.NotFoundHandler()).Handle(context.Background(), ev); err == nil {
		t.Fatal("expected decode error")
	}
}

type stubProbe struct {
	name  string
	err   error
	delay time.Duration
}

func (p stubProbe) Name() string { return p.name }

func (p stubProbe) Check(ctx context.Context) error {
	if p.delay > 0 {
		select {
		case <-time.After(p.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return p.err
}

func TestHandleHealth(t *testing.T) {
	tests := []struct {
		name       string
		probes     []HealthProbe
		wantStatus int
	}{
		{name: "no probes", wantStatus: http.StatusOK},
		{name: "all healthy", probes: []HealthProbe{stubProbe{name: "database"}}, wantStatus: http.StatusOK},
		{
			name: "one failing",
			probes: []HealthProbe{
				stubProbe{name: "database"},
				ProbeFunc{ProbeName: "queue", Fn: func(context.Context) error { return errors.New("unreachable") }},
			},
			wantStatus: http.StatusServiceUnavailable,
		},
		{
			name:       "panicking probe",
			probes:     []HealthProbe{ProbeFunc{ProbeName: "db", Fn: func(context.Context) error { panic("nil pool") }}},
			wantStatus: http.StatusServiceUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, err := NewServer(&config.Config{}, discardLogger())
			if err != nil {
				t.Fatal(err)
			}
			srv.HealthProbes = tt.probes

			rec := httptest.NewRecorder()
			srv.HandleHealth(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

			if rec.Code != tt.wantStatus {
				t.Errorf("status: got %d, want %d (%s)", rec.Code, tt.wantStatus, rec.Body.String())
			}
		})
	}
}
