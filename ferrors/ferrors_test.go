package ferrors

import (
	"errors"
	"testing"
)

func TestWrapAndIsKind(t *testing.T) {
	base := errors.New("boom")
	err := Wrap(base, ErrSpawnSetup, "build-payload")

	if !IsKind(err, ErrSpawnSetup) {
		t.Error("expected IsKind(err, ErrSpawnSetup) to be true")
	}
	if IsKind(err, ErrTargetRuntime) {
		t.Error("expected IsKind(err, ErrTargetRuntime) to be false")
	}
	if !Is(err, base) {
		t.Error("expected errors.Is to find the wrapped base error")
	}
}

func TestFspyErrorIsMatchesByKindNotMessage(t *testing.T) {
	a := New(ErrRing, "reserve", "chunk full")
	b := New(ErrRing, "consume", "different detail")

	if !errors.Is(a, b) {
		t.Error("FspyErrors with the same kind should match via errors.Is")
	}

	c := New(ErrResolve, "reserve", "chunk full")
	if errors.Is(a, c) {
		t.Error("FspyErrors with different kinds should not match via errors.Is")
	}
}

func TestGetKind(t *testing.T) {
	err := WrapWithSession(errors.New("x"), ErrSupervisorRuntime, "handle-notify", "sess-1")
	kind, ok := GetKind(err)
	if !ok {
		t.Fatal("GetKind should succeed on a FspyError")
	}
	if kind != ErrSupervisorRuntime {
		t.Errorf("kind = %v, want ErrSupervisorRuntime", kind)
	}

	if _, ok := GetKind(errors.New("plain")); ok {
		t.Error("GetKind should fail on a non-FspyError")
	}
}

func TestErrorMessageIncludesContext(t *testing.T) {
	err := WrapWithDetail(errors.New("eacces"), ErrResolve, "resolve", "candidate /a/prog")
	msg := err.Error()
	if msg == "" {
		t.Fatal("error message should not be empty")
	}
	want := "resolve: candidate /a/prog: eacces"
	if msg != want {
		t.Errorf("Error() = %q, want %q", msg, want)
	}
}

func TestNilFspyErrorIsSafe(t *testing.T) {
	var e *FspyError
	if e.Error() != "<nil>" {
		t.Errorf("nil *FspyError.Error() = %q, want <nil>", e.Error())
	}
	if e.Unwrap() != nil {
		t.Error("nil *FspyError.Unwrap() should return nil")
	}
}
