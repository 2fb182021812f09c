package validation

import (
	"errors"
	"strings"
	"testing"
)

func TestValidateMessageText(t *testing.T) {
	tests := []struct {
		name      string
		text      string
		wantError bool
		tooLong   bool
	}{
		{name: "empty is left to the sender", text: ""},
		{name: "short", text: "Una pizza más, por favor"},
		{name: "exactly at limit", text: strings.Repeat("a", MaxMessageLength)},
		{name: "over limit", text: strings.Repeat("a", MaxMessageLength+1), wantError: true, tooLong: true},
		{name: "multibyte counted in bytes", text: strings.Repeat("ñ", MaxMessageLength/2+1), wantError: true, tooLong: true},
		{name: "invalid utf8", text: "hola \xff", wantError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateMessageText(tt.text)
			if !tt.wantError {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if got := errors.Is(err, ErrMessageTooLong); got != tt.tooLong {
				t.Errorf("errors.Is(err, ErrMessageTooLong) = %v, want %v", got, tt.tooLong)
			}
		})
	}
}

func TestValidateProfileName(t *testing.T) {
	tests := []struct {
		name      string
		wantError bool
	}{
		{name: "default"},
		{name: "centro"},
		{name: "loja-2_norte.v1"},
		{name: strings.Repeat("p", MaxProfileNameLength)},
		{name: "", wantError: true},
		{name: strings.Repeat("p", MaxProfileNameLength+1), wantError: true},
		{name: "../etc", wantError: true},
		{name: "with space", wantError: true},
		{name: "profile:x", wantError: true},
		{name: "..", wantError: true},
		{name: "cozinha/2", wantError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateProfileName(tt.name)
			if tt.wantError && err == nil {
				t.Errorf("ValidateProfileName(%q) expected error", tt.name)
			}
			if !tt.wantError && err != nil {
				t.Errorf("ValidateProfileName(%q) unexpected error: %v", tt.name, err)
			}
		})
	}
}
