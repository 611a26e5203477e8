package cookiesig

import (
	"errors"
	"testing"
)

func TestSignature_KnownVector(t *testing.T) {
	t.Parallel()

	// Same value/secret pair as the reference Node implementation's test suite.
	got, err := Sign("hello", "tobiiscool")
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	want := "hello.DGDUkGlIkCzPz+C0B064FNgHdEjox7ch8tOBGslZ5QI"
	if got != want {
		t.Fatalf("Sign=%q want=%q", got, want)
	}
}

func TestUnsign(t *testing.T) {
	t.Parallel()

	signed, err := Sign("sid-123", "key")
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	cases := []struct {
		name    string
		in      string
		secrets []string
		want    string
		wantErr error
	}{
		{name: "valid", in: signed, secrets: []string{"key"}, want: "sid-123"},
		{name: "rotated secret", in: signed, secrets: []string{"new", "key"}, want: "sid-123"},
		{name: "wrong secret", in: signed, secrets: []string{"other"}, wantErr: ErrBadSignature},
		{name: "tampered value", in: "sid-124" + signed[len("sid-123"):], secrets: []string{"key"}, wantErr: ErrBadSignature},
		{name: "no dot", in: "sid-123", secrets: []string{"key"}, wantErr: ErrMalformedValue},
		{name: "empty mac", in: "sid-123.", secrets: []string{"key"}, wantErr: ErrMalformedValue},
		{name: "no secrets", in: signed, wantErr: ErrSecretMissing},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := Unsign(tc.in, tc.secrets)
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("Unsign err=%v want=%v", err, tc.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Unsign: %v", err)
			}
			if got != tc.want {
				t.Fatalf("Unsign=%q want=%q", got, tc.want)
			}
		})
	}
}

func TestCookieRoundTrip(t *testing.T) {
	t.Parallel()

	secrets := []string{"first", "second"}
	raw, err := SignCookie("abc", secrets)
	if err != nil {
		t.Fatalf("SignCookie: %v", err)
	}
	if raw[:2] != SignedPrefix {
		t.Fatalf("missing prefix: %q", raw)
	}

	got, err := UnsignCookie(raw, secrets)
	if err != nil || got != "abc" {
		t.Fatalf("UnsignCookie=%q err=%v", got, err)
	}

	if _, err := UnsignCookie("abc", secrets); !errors.Is(err, ErrNotSigned) {
		t.Fatalf("expected ErrNotSigned, got %v", err)
	}
}
