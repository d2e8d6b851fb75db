package driver

import (
	"bytes"
	"testing"

	"fspy-go/platform"
)

func TestEncodeDecodePayloadRoundTrip(t *testing.T) {
	want := platform.EncodedPayload{
		IPCFd:       17,
		PreloadPath: "/proc/self/fd/18",
		Fixtures: platform.Fixtures{
			Shell:     "/opt/fspy/sh-replacement",
			Coreutils: "/opt/fspy/coreutils-multicall",
		},
		SeccompFilter: []byte{0x01, 0x02, 0x03},
	}

	encoded, err := EncodePayload(want)
	if err != nil {
		t.Fatalf("EncodePayload: %v", err)
	}

	got, err := DecodePayload(encoded)
	if err != nil {
		t.Fatalf("DecodePayload: %v", err)
	}

	if got.IPCFd != want.IPCFd {
		t.Errorf("IPCFd = %d, want %d", got.IPCFd, want.IPCFd)
	}
	if got.PreloadPath != want.PreloadPath {
		t.Errorf("PreloadPath = %q, want %q", got.PreloadPath, want.PreloadPath)
	}
	if got.Fixtures != want.Fixtures {
		t.Errorf("Fixtures = %+v, want %+v", got.Fixtures, want.Fixtures)
	}
	if !bytes.Equal(got.SeccompFilter, want.SeccompFilter) {
		t.Errorf("SeccompFilter = %v, want %v", got.SeccompFilter, want.SeccompFilter)
	}
}

func TestEncodePayloadOmitsUnsetFixtures(t *testing.T) {
	encoded, err := EncodePayload(platform.EncodedPayload{IPCFd: 17, PreloadPath: "/proc/self/fd/18"})
	if err != nil {
		t.Fatalf("EncodePayload: %v", err)
	}
	got, err := DecodePayload(encoded)
	if err != nil {
		t.Fatalf("DecodePayload: %v", err)
	}
	if got.Fixtures.Shell != "" || got.Fixtures.Coreutils != "" {
		t.Errorf("expected empty fixtures, got %+v", got.Fixtures)
	}
	if got.SeccompFilter != nil {
		t.Errorf("expected nil seccomp filter, got %v", got.SeccompFilter)
	}
}

func TestDecodePayloadRejectsMalformedBase64(t *testing.T) {
	if _, err := DecodePayload("not valid base64!!"); err == nil {
		t.Fatal("expected an error decoding malformed base64, got nil")
	}
}
