// SPDX-License-Identifier: MPL-2.0

package logging

import (
	"bytes"
	"strings"
	"testing"

	"github.com/charmbracelet/log"
)

func TestNew(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		level   string
		want    log.Level
		wantErr bool
	}{
		{name: "default", level: "", want: DefaultLevel},
		{name: "debug", level: "debug", want: log.DebugLevel},
		{name: "error", level: "error", want: log.ErrorLevel},
		{name: "bogus", level: "chatty", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			l, err := New(&bytes.Buffer{}, tt.level)
			if tt.wantErr {
				if err == nil {
					t.Fatal("New() expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("New() unexpected error: %v", err)
			}
			if l.GetLevel() != tt.want {
				t.Errorf("level = %v, want %v", l.GetLevel(), tt.want)
			}
		})
	}
}

func TestComponent(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	parent, err := New(&buf, "info")
	if err != nil {
		t.Fatal(err)
	}
	Component(parent, "substrate").Info("started")
	if !strings.Contains(buf.String(), "substrate") {
		t.Errorf("output %q lacks the component prefix", buf.String())
	}

	// nil parent must not panic
	Component(nil, "x").Error("dropped")
}
