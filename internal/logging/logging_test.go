package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{"WARN", zerolog.WarnLevel},
		{"warning", zerolog.WarnLevel},
		{" error ", zerolog.ErrorLevel},
		{"", zerolog.InfoLevel},
		{"verbose", zerolog.InfoLevel},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestInit_LevelFromEnv(t *testing.T) {
	prevLevel, prevLogger := zerolog.GlobalLevel(), log.Logger
	t.Cleanup(func() {
		zerolog.SetGlobalLevel(prevLevel)
		log.Logger = prevLogger
	})

	t.Setenv(LevelEnv, "error")
	t.Setenv(FormatEnv, "json")
	Init()
	if zerolog.GlobalLevel() != zerolog.ErrorLevel {
		t.Errorf("global level = %v, want error", zerolog.GlobalLevel())
	}
}

func captureLog(t *testing.T) *bytes.Buffer {
	t.Helper()
	prevLevel, prevLogger := zerolog.GlobalLevel(), log.Logger
	t.Cleanup(func() {
		zerolog.SetGlobalLevel(prevLevel)
		log.Logger = prevLogger
	})
	var buf bytes.Buffer
	zerolog.SetGlobalLevel(zerolog.DebugLevel)
	log.Logger = zerolog.New(&buf)
	return &buf
}

func TestStartupLogger_Log(t *testing.T) {
	buf := captureLog(t)

	NewStartupLogger("thumbnail-lambda").
		Version("1.2.3").
		S3Bucket("thumbnails", "thumbs-bucket").
		S3Bucket("unused", "").
		SNSTopic("notifications", "arn:aws:sns:us-east-1:1:t").
		SSMParam("webhookSecret", "/thumbs/webhook-secret").
		Feature("ledger", true).
		Config("maxWidth", "200").
		InitDuration(150 * time.Millisecond).
		Log()

	var evt struct {
		Level     string `json:"level"`
		Message   string `json:"message"`
		Lambda    map[string]string
		Resources map[string]map[string]string `json:"resources"`
		Features  map[string]bool              `json:"features"`
		Config    map[string]string            `json:"config"`
	}
	if err := json.Unmarshal(buf.Bytes(), &evt); err != nil {
		t.Fatalf("startup log is not JSON: %v\n%s", err, buf.String())
	}
	if evt.Level != "info" || evt.Message != "Cold start complete" {
		t.Errorf("level/message = %q/%q", evt.Level, evt.Message)
	}
	if evt.Lambda["name"] != "thumbnail-lambda" || evt.Lambda["version"] != "1.2.3" {
		t.Errorf("lambda = %v", evt.Lambda)
	}
	if evt.Resources["s3Buckets"]["thumbnails"] != "thumbs-bucket" {
		t.Errorf("resources = %v", evt.Resources)
	}
	if _, ok := evt.Resources["s3Buckets"]["unused"]; ok {
		t.Error("empty resource names should be skipped")
	}
	if evt.Resources["ssmParams"]["webhookSecret"] != "/thumbs/webhook-secret" {
		t.Errorf("ssmParams = %v", evt.Resources["ssmParams"])
	}
	if !evt.Features["ledger"] || evt.Config["maxWidth"] != "200" {
		t.Errorf("features/config = %v/%v", evt.Features, evt.Config)
	}
}

func TestStartupLogger_InitError(t *testing.T) {
	buf := captureLog(t)

	NewStartupLogger("thumbnail-lambda").InitError(errors.New("THUMBNAIL_BUCKET is required")).Log()

	var evt map[string]any
	if err := json.Unmarshal(buf.Bytes(), &evt); err != nil {
		t.Fatalf("startup log is not JSON: %v", err)
	}
	if evt["level"] != "error" || evt["error"] != "THUMBNAIL_BUCKET is required" {
		t.Errorf("event = %v", evt)
	}
}
