package config

import (
	"os"
	"strings"
	"testing"
)

func TestMain(m *testing.M) {
	// Loader tests must not pick up overrides from the developer's shell.
	for _, e := range os.Environ() {
		if strings.HasPrefix(e, "STAGEFLOW_") {
			kv := strings.SplitN(e, "=", 2)
			if err := os.Unsetenv(kv[0]); err != nil {
				panic("failed to unset env: " + err.Error())
			}
		}
	}

	os.Exit(m.Run())
}
