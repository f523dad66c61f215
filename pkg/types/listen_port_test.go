// SPDX-License-Identifier: MPL-2.0

package types

import (
	"errors"
	"testing"
)

func TestListenPort_String(t *testing.T) {
	t.Parallel()

	tests := []struct {
		port ListenPort
		want string
	}{
		{80, "80"},
		{443, "443"},
		{8000, "8000"},
		{65535, "65535"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			t.Parallel()
			got := tt.port.String()
			if got != tt.want {
				t.Errorf("ListenPort(%d).String() = %q, want %q", tt.port, got, tt.want)
			}
		})
	}
}

func TestListenPort_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		port    ListenPort
		wantErr bool
	}{
		{0, true},
		{1, false},
		{8000, false},
		{65535, false},
		{-1, true},
		{65536, true},
	}

	for _, tt := range tests {
		t.Run(tt.port.String(), func(t *testing.T) {
			t.Parallel()

			err := tt.port.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("ListenPort(%d).Validate() error = %v, wantErr %v", tt.port, err, tt.wantErr)
			}
			if err == nil {
				return
			}
			if !errors.Is(err, ErrInvalidListenPort) {
				t.Errorf("error should wrap ErrInvalidListenPort, got: %v", err)
			}
			var portErr *InvalidListenPortError
			if !errors.As(err, &portErr) {
				t.Fatalf("error should be *InvalidListenPortError, got: %T", err)
			}
			if portErr.Value != tt.port {
				t.Errorf("InvalidListenPortError.Value = %d, want %d", portErr.Value, tt.port)
			}
		})
	}
}

func TestParseListenPort(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		input   string
		want    ListenPort
		wantErr error
	}{
		{name: "typical", input: "8000", want: 8000},
		{name: "lowest", input: "1", want: 1},
		{name: "highest", input: "65535", want: 65535},
		{name: "empty", input: "", wantErr: ErrMalformedListenPort},
		{name: "not a number", input: "http", wantErr: ErrMalformedListenPort},
		{name: "float", input: "80.5", wantErr: ErrMalformedListenPort},
		{name: "padded", input: " 8000", wantErr: ErrMalformedListenPort},
		{name: "zero", input: "0", wantErr: ErrInvalidListenPort},
		{name: "too large", input: "70000", wantErr: ErrInvalidListenPort},
		{name: "negative", input: "-8000", wantErr: ErrInvalidListenPort},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := ParseListenPort(tt.input)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("ParseListenPort(%q) error = %v, want %v", tt.input, err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseListenPort(%q) unexpected error: %v", tt.input, err)
			}
			if got != tt.want {
				t.Errorf("ParseListenPort(%q) = %d, want %d", tt.input, got, tt.want)
			}
		})
	}
}
