package agent

import (
	"testing"

	"fspy-go/wire"
)

func TestModeOfOpenFlags(t *testing.T) {
	cases := []struct {
		flags int
		want  wire.AccessMode
	}{
		{0, wire.Read},
		{OWronly, wire.Write},
		{ORdwr, wire.ReadWrite},
		{OWronly | 0x400, wire.Write}, // O_APPEND-ish extra bit outside ACCMODE is ignored
	}
	for _, c := range cases {
		if got := ModeOfOpenFlags(c.flags); got != c.want {
			t.Errorf("ModeOfOpenFlags(%#x) = %v, want %v", c.flags, got, c.want)
		}
	}
}

func TestModeOfDesiredAccess(t *testing.T) {
	cases := []struct {
		access uint32
		want   wire.AccessMode
	}{
		{GenericRead, wire.Read},
		{GenericWrite, wire.Write},
		{GenericRead | GenericWrite, wire.ReadWrite},
		{0, wire.Read},
	}
	for _, c := range cases {
		if got := ModeOfDesiredAccess(c.access); got != c.want {
			t.Errorf("ModeOfDesiredAccess(%#x) = %v, want %v", c.access, got, c.want)
		}
	}
}

func TestModeOfFopenMode(t *testing.T) {
	cases := []struct {
		mode string
		want wire.AccessMode
	}{
		{"r", wire.Read},
		{"w", wire.Write},
		{"a", wire.Write},
		{"r+", wire.ReadWrite},
		{"w+", wire.ReadWrite},
		{"rb", wire.Read},
		{"wb", wire.Write},
	}
	for _, c := range cases {
		if got := ModeOfFopenMode(c.mode); got != c.want {
			t.Errorf("ModeOfFopenMode(%q) = %v, want %v", c.mode, got, c.want)
		}
	}
}

func TestSplitDirQuery(t *testing.T) {
	parent, ok := SplitDirQuery(`C:\Users\me\*`)
	if !ok || parent != `C:\Users\me` {
		t.Errorf("SplitDirQuery = (%q, %v), want (C:\\Users\\me, true)", parent, ok)
	}

	parent, ok = SplitDirQuery(`C:\Users\me\*.txt`)
	if !ok || parent != `C:\Users\me` {
		t.Errorf("SplitDirQuery wildcard-suffix-with-extension = (%q, %v)", parent, ok)
	}

	if _, ok := SplitDirQuery(`C:\Users\me\file.txt`); ok {
		t.Errorf("SplitDirQuery should reject a path with no trailing wildcard")
	}
}
