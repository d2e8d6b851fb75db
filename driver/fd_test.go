//go:build !windows

package driver

import (
	"os"
	"testing"

	"fspy-go/platform"
)

func TestLayoutInheritedFilesWithAgent(t *testing.T) {
	ipcChild, err := os.Open(os.DevNull)
	if err != nil {
		t.Fatalf("open /dev/null: %v", err)
	}
	defer ipcChild.Close()
	agentLib, err := os.Open(os.DevNull)
	if err != nil {
		t.Fatalf("open /dev/null: %v", err)
	}
	defer agentLib.Close()

	extraFiles, ipcFD, agentFD, err := layoutInheritedFiles(ipcChild, agentLib)
	if err != nil {
		t.Fatalf("layoutInheritedFiles: %v", err)
	}
	if ipcFD != platform.MinInheritedFD {
		t.Errorf("ipcFD = %d, want %d", ipcFD, platform.MinInheritedFD)
	}
	if agentFD != platform.MinInheritedFD+1 {
		t.Errorf("agentFD = %d, want %d", agentFD, platform.MinInheritedFD+1)
	}
	if len(extraFiles) != fdSlot(agentFD)+1 {
		t.Fatalf("len(extraFiles) = %d, want %d", len(extraFiles), fdSlot(agentFD)+1)
	}
	if extraFiles[fdSlot(ipcFD)] != ipcChild {
		t.Errorf("extraFiles[%d] is not ipcChild", fdSlot(ipcFD))
	}
	if extraFiles[fdSlot(agentFD)] != agentLib {
		t.Errorf("extraFiles[%d] is not agentLib", fdSlot(agentFD))
	}
	for i := 0; i < fdSlot(ipcFD); i++ {
		if extraFiles[i] == nil {
			t.Errorf("extraFiles[%d] is nil, want a filler file", i)
		}
	}
}

func TestLayoutInheritedFilesWithoutAgent(t *testing.T) {
	ipcChild, err := os.Open(os.DevNull)
	if err != nil {
		t.Fatalf("open /dev/null: %v", err)
	}
	defer ipcChild.Close()

	extraFiles, ipcFD, agentFD, err := layoutInheritedFiles(ipcChild, nil)
	if err != nil {
		t.Fatalf("layoutInheritedFiles: %v", err)
	}
	if agentFD != -1 {
		t.Errorf("agentFD = %d, want -1 when no agent library is supplied", agentFD)
	}
	if len(extraFiles) != fdSlot(ipcFD)+1 {
		t.Fatalf("len(extraFiles) = %d, want %d", len(extraFiles), fdSlot(ipcFD)+1)
	}
	if extraFiles[fdSlot(ipcFD)] != ipcChild {
		t.Errorf("extraFiles[%d] is not ipcChild", fdSlot(ipcFD))
	}
}

func TestNewSocketpairRoundTrip(t *testing.T) {
	parent, child, err := newSocketpair()
	if err != nil {
		t.Fatalf("newSocketpair: %v", err)
	}
	defer parent.Close()
	defer child.Close()

	msg := []byte("probe")
	if _, err := child.Write(msg); err != nil {
		t.Fatalf("child.Write: %v", err)
	}
	buf := make([]byte, len(msg))
	if _, err := parent.Read(buf); err != nil {
		t.Fatalf("parent.Read: %v", err)
	}
	if string(buf) != string(msg) {
		t.Errorf("parent read %q, want %q", buf, msg)
	}
}
