// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package log

import (
	"testing"

	"github.com/rs/zerolog"
)

func TestSetLevel(t *testing.T) {
	prev := zerolog.GlobalLevel()
	t.Cleanup(func() { zerolog.SetGlobalLevel(prev) })

	if !SetLevel("debug") {
		t.Fatal("SetLevel(debug) returned false")
	}
	if zerolog.GlobalLevel() != zerolog.DebugLevel {
		t.Errorf("global level = %v, want debug", zerolog.GlobalLevel())
	}
	if SetLevel("not-a-level") {
		t.Error("SetLevel accepted an unknown level")
	}
	if zerolog.GlobalLevel() != zerolog.DebugLevel {
		t.Error("unknown level must not change the global level")
	}
}

func TestDerive_NilBuilder(t *testing.T) {
	l := Derive(nil)
	if l.GetLevel() == zerolog.Disabled {
		t.Error("derived logger should not be disabled")
	}
	if L() == nil {
		t.Fatal("L() returned nil")
	}
}
