package errs

import (
	"errors"
	"io"
	"testing"
)

func TestErrorFormatting(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{
			name: "kind only",
			err:  &Error{Kind: ErrInferenceFailure},
			want: "inference failure",
		},
		{
			name: "with subject",
			err:  New(ErrUnrecognizedVariant, "CombinedModel_Z", "not in detection catalog"),
			want: `unrecognized variant "CombinedModel_Z": not in detection catalog`,
		},
		{
			name: "wrapped cause",
			err:  Wrap(ErrInferenceFailure, "detection", io.ErrUnexpectedEOF),
			want: `inference failure "detection": unexpected EOF`,
		},
		{
			name: "configuration family",
			err:  New(ErrMissingOption, "detection.backbone.type", "required"),
			want: `configuration error: missing option "detection.backbone.type": required`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestConfigurationFamily(t *testing.T) {
	for _, kind := range []error{ErrMissingTemplate, ErrMalformedOverride, ErrMissingOption} {
		err := New(kind, "x", "y")
		if !errors.Is(err, ErrConfiguration) {
			t.Errorf("%v should match ErrConfiguration", kind)
		}
		if !errors.Is(err, kind) {
			t.Errorf("%v should match itself", kind)
		}
	}
	if errors.Is(New(ErrUnrecognizedVariant, "x", "y"), ErrConfiguration) {
		t.Error("ErrUnrecognizedVariant should not match ErrConfiguration")
	}
}

func TestWrapKeepsCause(t *testing.T) {
	err := Wrap(ErrInferenceFailure, "transcription", io.EOF)
	if !errors.Is(err, io.EOF) {
		t.Error("wrapped cause should be reachable")
	}
	if !errors.Is(err, ErrInferenceFailure) {
		t.Error("kind should be reachable")
	}
	if got := SubjectOf(err); got != "transcription" {
		t.Errorf("SubjectOf() = %q, want %q", got, "transcription")
	}
	if Wrap(ErrInferenceFailure, "x", nil) != nil {
		t.Error("Wrap(nil) should be nil")
	}
}
