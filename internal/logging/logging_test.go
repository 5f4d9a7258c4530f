package logging

import (
	"errors"
	"strings"
	"testing"
)

func TestNewLoggerRejectsUnknownLevel(t *testing.T) {
	if _, err := NewLogger("chatty"); err == nil {
		t.Fatal("expected error for unknown level")
	}
	logger, err := NewLogger("debug")
	if err != nil {
		t.Fatalf("expected logger, got %v", err)
	}
	if !logger.Core().Enabled(-1) {
		t.Fatal("debug level should be enabled")
	}
}

func TestOperationErrorUnwrapsAndNamesInnermostOperation(t *testing.T) {
	root := errors.New("boom")
	err := NewOperationError("usecase.segment", "req-1", NewOperationError("cache.set.processing", "req-1", root))

	if !errors.Is(err, root) {
		t.Fatal("expected wrapped root error")
	}
	if got := OperationOf(err); got != "cache.set.processing" {
		t.Fatalf("unexpected operation %q", got)
	}
	if !strings.Contains(err.Error(), "request_id=req-1") {
		t.Fatalf("unexpected message %q", err.Error())
	}
	if NewOperationError("noop", "", nil) != nil {
		t.Fatal("nil error should stay nil")
	}
}

func TestSecretNeverLogsValue(t *testing.T) {
	key := "sk-live"
	field := Secret("openai_api_key", &key)
	if field.Key != "openai_api_key_set" || field.Integer != 1 {
		t.Fatalf("unexpected field %+v", field)
	}
	if Secret("openai_api_key", nil).Integer != 0 {
		t.Fatal("nil secret should log as unset")
	}
}
