package main

import (
	"bytes"
	"testing"

	"github.com/cortexlab/cortex/internal/notifications"
)

func TestPrintNotifier(t *testing.T) {
	var out bytes.Buffer
	printNotifier(&out).Send(notifications.Payload{Title: "AWG command failed", Content: "frequency = 5: timeout"})

	want := "\n! AWG command failed: frequency = 5: timeout\n"
	if got := out.String(); got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}
