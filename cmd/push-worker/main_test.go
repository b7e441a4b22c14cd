package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/aws/aws-lambda-go/events"

	"classifieds/internal/config"
	"classifieds/internal/notifications/push"
	"classifieds/internal/types"
)

// fakeSender returns a scripted error per listing ID.
type fakeSender struct {
	errs map[string]error
	sent []types.PushMessage
}

func (f *fakeSender) Send(_ context.Context, msg types.PushMessage) (push.Result, error) {
	f.sent = append(f.sent, msg)
	if err := f.errs[msg.ListingID]; err != nil {
		return push.Result{Devices: 1, Failed: 1}, err
	}
	return push.Result{Devices: 1, Delivered: 1}, nil
}

func testHandler(sender push.Sender) *Handler {
	return &Handler{
		sender: sender,
		logger: &slogAdapter{logger: slog.New(slog.NewTextHandler(io.Discard, nil))},
	}
}

func record(t *testing.T, id string, msg types.PushMessage) events.SQSMessage {
	t.Helper()
	body, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return events.SQSMessage{
		MessageId:  id,
		Body:       string(body),
		Attributes: map[string]string{"SentTimestamp": "1770000000000"},
	}
}

func TestHandle_PartialFailures(t *testing.T) {
	sender := &fakeSender{errs: map[string]error{
		"L2": push.ErrTransient,
		"L3": types.NewAppError(types.ErrCodeValidationMissingField, "push message has no recipient", nil),
		"L4": errors.New("device lookup failed"),
	}}
	h := testHandler(sender)

	evt := events.SQSEvent{Records: []events.SQSMessage{
		record(t, "m1", types.PushMessage{MessageID: "p1", RecipientID: "U1", ListingID: "L1", Event: types.PushEventBoostBumped}),
		record(t, "m2", types.PushMessage{MessageID: "p2", RecipientID: "U1", ListingID: "L2", Event: types.PushEventBoostExpired}),
		record(t, "m3", types.PushMessage{MessageID: "p3", ListingID: "L3"}),
		record(t, "m4", types.PushMessage{MessageID: "p4", RecipientID: "U2", ListingID: "L4"}),
		{MessageId: "m5", Body: "{not json"},
	}}

	resp, err := h.Handle(context.Background(), evt)
	if err != nil {
		t.Fatalf("Handle returned error: %v", err)
	}

	if len(resp.BatchItemFailures) != 1 || resp.BatchItemFailures[0].ItemIdentifier != "m2" {
		t.Errorf("BatchItemFailures = %+v, want only m2", resp.BatchItemFailures)
	}
	if len(sender.sent) != 4 {
		t.Errorf("sent %d messages, want 4 (malformed body skipped)", len(sender.sent))
	}
	if sender.sent[0].RecipientID != "U1" || sender.sent[0].Event != types.PushEventBoostBumped {
		t.Errorf("first message decoded wrong: %+v", sender.sent[0])
	}
}

func TestHandle_EmptyEvent(t *testing.T) {
	resp, err := testHandler(&fakeSender{}).Handle(context.Background(), events.SQSEvent{})
	if err != nil || len(resp.BatchItemFailures) != 0 {
		t.Errorf("empty event: resp=%+v err=%v", resp, err)
	}
}

func TestRunOnce(t *testing.T) {
	sender := &fakeSender{errs: map[string]error{"L2": push.ErrTransient}}
	h := testHandler(sender)

	t.Run("reports partial failures", func(t *testing.T) {
		evt := events.SQSEvent{Records: []events.SQSMessage{
			record(t, "m1", types.PushMessage{RecipientID: "U1", ListingID: "L1"}),
			record(t, "m2", types.PushMessage{RecipientID: "U1", ListingID: "L2"}),
		}}
		in, _ := json.Marshal(evt)

		var out bytes.Buffer
		if err := runOnce(context.Background(), h, bytes.NewReader(in), &out); err != nil {
			t.Fatalf("runOnce: %v", err)
		}
		if !strings.Contains(out.String(), `"m2"`) {
			t.Errorf("expected m2 in failure output, got %q", out.String())
		}
	})

	t.Run("empty input", func(t *testing.T) {
		if err := runOnce(context.Background(), h, strings.NewReader(""), io.Discard); err == nil {
			t.Error("expected error for empty stdin")
		}
	})

	t.Run("invalid event", func(t *testing.T) {
		if err := runOnce(context.Background(), h, strings.NewReader("[]"), io.Discard); err == nil {
			t.Error("expected error for a non-object event")
		}
	})
}

func TestProviders(t *testing.T) {
	tests := []struct {
		name string
		push config.PushConfig
		want []types.DevicePlatform
	}{
		{name: "none", want: nil},
		{name: "web only", push: config.PushConfig{WebPushURL: "https://push.example"}, want: []types.DevicePlatform{types.PlatformWeb}},
		{
			name: "both",
			push: config.PushConfig{WebPushURL: "https://push.example", MobileRelayURL: "https://relay.example"},
			want: []types.DevicePlatform{types.PlatformWeb, types.PlatformMobile},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := providers(&config.Config{Push: tt.push})
			if len(got) != len(tt.want) {
				t.Fatalf("got %d providers, want %d", len(got), len(tt.want))
			}
			for _, p := range tt.want {
				if got[p] == nil {
					t.Errorf("missing provider for %s", p)
				}
			}
		})
	}
}

func TestParseMillisTimestamp(t *testing.T) {
	got, err := parseMillisTimestamp("1770000000000")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got.UnixMilli() != 1770000000000 {
		t.Errorf("got %d", got.UnixMilli())
	}
	if _, err := parseMillisTimestamp("soon"); err == nil {
		t.Error("expected error for non-numeric timestamp")
	}
}
