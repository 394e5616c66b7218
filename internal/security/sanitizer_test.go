package security

import "testing"

func TestPathSanitizer_Sanitize(t *testing.T) {
	ps := NewPathSanitizer()

	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "Linux home directory",
			input:    "/home/username/project/file.go",
			expected: "[HOME]/project/file.go",
		},
		{
			name:     "macOS home directory",
			input:    "/Users/johndoe/Documents/code.py",
			expected: "[HOME]/Documents/code.py",
		},
		{
			name:     "Tilde expansion",
			input:    "~/workspace/borg",
			expected: "[HOME]/workspace/borg",
		},
		{
			name:     "Temp directory with session",
			input:    "/tmp/borg/session-abc123/config.json",
			expected: "/tmp/borg/[SESSION-ID]/config.json",
		},
		{
			name:     "No sensitive paths",
			input:    "/opt/app/bin/executable",
			expected: "/opt/app/bin/executable",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := ps.Sanitize(tt.input)
			if result != tt.expected {
				t.Errorf("Sanitize() = %q, want %q", result, tt.expected)
			}
		})
	}
}
