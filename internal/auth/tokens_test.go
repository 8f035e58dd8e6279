package auth

import (
	"errors"
	"testing"

	"github.com/google/uuid"
)

func TestParseBearer(t *testing.T) {
	id := uuid.NewString()

	tests := []struct {
		name    string
		value   string
		wantID  string
		wantErr error
	}{
		{"valid", FormatBearer(id, "s3cret"), id, nil},
		{"surrounding space", "  " + FormatBearer(id, "s3cret") + " ", id, nil},
		{"no separator", id, "", ErrMalformedToken},
		{"empty secret", id + ".", "", ErrMalformedToken},
		{"token id not a uuid", "abc.s3cret", "", ErrMalformedToken},
		{"empty", "", "", ErrMalformedToken},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotID, secret, err := ParseBearer(tt.value)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
			if err == nil && (gotID != tt.wantID || secret != "s3cret") {
				t.Errorf("unexpected parse: %q %q", gotID, secret)
			}
		})
	}
}

func TestNewSecretIsRandom(t *testing.T) {
	a, err := newSecret()
	if err != nil {
		t.Fatal(err)
	}
	b, _ := newSecret()
	if a == b || len(a) < 40 {
		t.Errorf("expected distinct url-safe secrets, got %q and %q", a, b)
	}
}
