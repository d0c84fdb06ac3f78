package browser

import (
	"bytes"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

type launchCall struct {
	Name string
	Args []string
}

func TestCommand(t *testing.T) {
	const u = "https://example.com/a?b=c"

	tests := []struct {
		goos     string
		wantName string
		wantArgs []string
		wantOK   bool
	}{
		{goos: "linux", wantName: "xdg-open", wantArgs: []string{u}, wantOK: true},
		{goos: "freebsd", wantName: "xdg-open", wantArgs: []string{u}, wantOK: true},
		{goos: "darwin", wantName: "open", wantArgs: []string{u}, wantOK: true},
		{goos: "windows", wantName: "rundll32", wantArgs: []string{"url.dll,FileProtocolHandler", u}, wantOK: true},
		{goos: "plan9", wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.goos, func(t *testing.T) {
			name, args, ok := Command(tt.goos, u)
			if ok != tt.wantOK {
				t.Fatalf("Command() ok = %v, want %v", ok, tt.wantOK)
			}
			if name != tt.wantName {
				t.Errorf("Command() name = %q, want %q", name, tt.wantName)
			}
			if diff := cmp.Diff(tt.wantArgs, args); diff != "" {
				t.Errorf("Command() args mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestOpener_Open(t *testing.T) {
	const u = "https://example.com"

	t.Run("launches platform handler", func(t *testing.T) {
		var out bytes.Buffer
		var calls []launchCall
		o := New(&Config{
			Fallback: &out,
			GOOS:     "darwin",
			Launch: func(name string, args ...string) error {
				calls = append(calls, launchCall{Name: name, Args: args})
				return nil
			},
		})

		if err := o.Open(u); err != nil {
			t.Fatalf("Open() unexpected error: %v", err)
		}
		if diff := cmp.Diff([]launchCall{{Name: "open", Args: []string{u}}}, calls); diff != "" {
			t.Errorf("launch calls mismatch (-want +got):\n%s", diff)
		}
		if out.Len() != 0 {
			t.Errorf("unexpected fallback output: %q", out.String())
		}
	})

	t.Run("prints hint when launch fails", func(t *testing.T) {
		var out bytes.Buffer
		o := New(&Config{
			Fallback: &out,
			GOOS:     "linux",
			Launch: func(name string, args ...string) error {
				return errors.New("executable file not found")
			},
		})

		if err := o.Open(u); err != nil {
			t.Fatalf("Open() unexpected error: %v", err)
		}
		if got, want := out.String(), "Open the link manually: https://example.com\n"; got != want {
			t.Errorf("fallback = %q, want %q", got, want)
		}
	})

	t.Run("prints hint on unknown platform", func(t *testing.T) {
		var out bytes.Buffer
		launched := false
		o := New(&Config{
			Fallback: &out,
			GOOS:     "plan9",
			Launch: func(name string, args ...string) error {
				launched = true
				return nil
			},
		})

		if err := o.Open(u); err != nil {
			t.Fatalf("Open() unexpected error: %v", err)
		}
		if launched {
			t.Error("launcher called on unsupported platform")
		}
		if out.String() != "Open the link manually: https://example.com\n" {
			t.Errorf("fallback = %q", out.String())
		}
	})
}
