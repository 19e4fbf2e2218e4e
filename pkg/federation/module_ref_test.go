package federation

import (
	"strings"
	"testing"
)

func TestParseModuleRef(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		want      ModuleRef
		wantError bool
		errorMsg  string
	}{
		{
			name:  "button export",
			input: "remoteApp/Button",
			want:  ModuleRef{Container: "remoteApp", Exposed: "./Button"},
		},
		{
			name:  "store export",
			input: "remoteApp/store",
			want:  ModuleRef{Container: "remoteApp", Exposed: "./store"},
		},
		{
			name:  "nested path",
			input: "remoteApp/widgets/Card",
			want:  ModuleRef{Container: "remoteApp", Exposed: "./widgets/Card"},
		},
		{
			name:  "explicit relative path",
			input: "remoteApp/./Button",
			want:  ModuleRef{Container: "remoteApp", Exposed: "./Button"},
		},
		{
			name:  "trailing slash",
			input: "remoteApp/Button/",
			want:  ModuleRef{Container: "remoteApp", Exposed: "./Button"},
		},
		{
			name:      "empty",
			input:     "",
			wantError: true,
			errorMsg:  "cannot be empty",
		},
		{
			name:      "no module path",
			input:     "remoteApp",
			wantError: true,
			errorMsg:  "expected container/module",
		},
		{
			name:      "empty module path",
			input:     "remoteApp/",
			wantError: true,
			errorMsg:  "module path cannot be empty",
		},
		{
			name:      "missing container",
			input:     "/Button",
			wantError: true,
			errorMsg:  "must not start with /",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseModuleRef(tt.input)

			if tt.wantError {
				if err == nil {
					t.Errorf("ParseModuleRef(%q) expected error, got nil", tt.input)
				} else if !strings.Contains(err.Error(), tt.errorMsg) {
					t.Errorf("ParseModuleRef(%q) error = %v, want error containing %q", tt.input, err, tt.errorMsg)
				}
				return
			}

			if err != nil {
				t.Fatalf("ParseModuleRef(%q) unexpected error: %v", tt.input, err)
			}
			if got != tt.want {
				t.Errorf("ParseModuleRef(%q) = %+v, want %+v", tt.input, got, tt.want)
			}
			if err := got.Validate(); err != nil {
				t.Errorf("Validate() on parsed ref: %v", err)
			}
		})
	}
}

func TestModuleRef_String(t *testing.T) {
	tests := []struct {
		ref  ModuleRef
		want string
	}{
		{ModuleRef{Container: "remoteApp", Exposed: "./Button"}, "remoteApp/Button"},
		{ModuleRef{Container: "remoteApp", Exposed: "./widgets/Card"}, "remoteApp/widgets/Card"},
		{ModuleRef{}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.ref.String(); got != tt.want {
				t.Errorf("String() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestModuleRef_Validate(t *testing.T) {
	tests := []struct {
		name     string
		ref      ModuleRef
		errorMsg string
	}{
		{"missing container", ModuleRef{Exposed: "./Button"}, "container name cannot be empty"},
		{"slash in container", ModuleRef{Container: "a/b", Exposed: "./Button"}, "cannot contain /"},
		{"missing path", ModuleRef{Container: "remoteApp"}, "module path cannot be empty"},
		{"not normalized", ModuleRef{Container: "remoteApp", Exposed: "Button"}, "not normalized"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.ref.Validate()
			if err == nil {
				t.Fatalf("Validate() expected error")
			}
			if !strings.Contains(err.Error(), tt.errorMsg) {
				t.Errorf("Validate() error = %v, want error containing %q", err, tt.errorMsg)
			}
		})
	}
}
