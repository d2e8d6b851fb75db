//go:build linux

// Package seccomp builds and installs the classic-BPF user-notification
// filter used by the Linux fallback path (spec.md §4.G) for targets the
// spawn handler could not reach by library injection, and runs the
// supervisor loop that answers the kernel's notifications.
package seccomp

import (
	"encoding/binary"
	"fmt"
	"runtime"
)

// Seccomp constants not carried by golang.org/x/sys/unix (the kernel
// UAPI defines these as macros, not exported symbols).
const (
	seccompSetModeFilter  = 1
	seccompFilterFlagNew  = 1 << 3 // SECCOMP_FILTER_FLAG_NEW_LISTENER
	seccompRetUserNotif   = 0x7fc00000
	seccompRetAllow       = 0x7fff0000
	seccompRetKillProcess = 0x80000000
)

// BPF instruction constants, matching the subset the teacher's
// container seccomp installer already used for OCI filters.
const (
	bpfLD  = 0x00
	bpfJMP = 0x05
	bpfRET = 0x06
	bpfW   = 0x00
	bpfABS = 0x20
	bpfJEQ = 0x10
	bpfK   = 0x00
)

// seccomp_data field offsets.
const (
	offsetNR    = 0
	offsetArch  = 4
	offsetArgs0 = 16
)

// argOffsetLow and argOffsetHigh return the byte offsets of the low and
// high 32 bits of args[n]
// within struct seccomp_data (each arg is a 64-bit little-endian
// word at offsetArgs0 + 8*n).
func argOffsetLow(n int) uint32  { return uint32(offsetArgs0 + 8*n) }
func argOffsetHigh(n int) uint32 { return uint32(offsetArgs0 + 8*n + 4) }

// Audit architecture values for the two arches this package targets.
const (
	auditArchX86_64  = 0xc000003e
	auditArchAArch64 = 0xc00000b7
)

// per-arch syscall numbers for the four entries spec.md §4.G names.
// Only the architectures this module builds for are populated; an
// unsupported GOARCH fails BuildFilter rather than silently installing
// an empty filter.
var syscallNumbers = map[string]map[string]uint32{
	"amd64": {
		"openat":     257,
		"getdents64": 217,
		"execve":     59,
		"readlinkat": 267,
	},
	"arm64": {
		"openat":     56,
		"getdents64": 61,
		"execve":     221,
		"readlinkat": 78,
	},
}

// sockFilter is one classic-BPF instruction; matches the kernel's
// struct sock_filter layout exactly.
type sockFilter struct {
	Code uint16
	Jt   uint8
	Jf   uint8
	K    uint32
}

func stmt(code uint16, k uint32) sockFilter        { return sockFilter{Code: code, K: k} }
func jump(code uint16, k uint32, jt, jf uint8) sockFilter {
	return sockFilter{Code: code, Jt: jt, Jf: jf, K: k}
}

// TracedSyscalls is the fixed set of entries the supervisor traps,
// per spec.md §4.G: "openat, getdents64, and on exec-reflection paths
// execve, readlinkat."
var TracedSyscalls = []string{"openat", "getdents64", "execve", "readlinkat"}

// Cookie is the magic-cookie escape hatch value: calls the agent makes
// to itself carry this value in the syscall's sixth argument, and the
// filter allows them through without trapping (spec.md §4.G). It is a
// compile-time constant by design — the spec's own open question notes
// this is forgeable by a process that can read agent memory, and that
// is accepted as out of scope.
const Cookie uint64 = 0x66737079_636f6f6b // "fspycook" in ASCII hex

// BuildFilter assembles the classic-BPF program installed via
// seccomp(2)'s SECCOMP_SET_MODE_FILTER with SECCOMP_FILTER_FLAG_NEW_LISTENER.
// Matching one of TracedSyscalls whose sixth argument doesn't carry
// Cookie yields SECCOMP_RET_USER_NOTIF; everything else is allowed.
func BuildFilter() ([]sockFilter, error) {
	numbers, ok := syscallNumbers[runtime.GOARCH]
	if !ok {
		return nil, fmt.Errorf("seccomp: unsupported architecture %s", runtime.GOARCH)
	}
	auditArch, ok := map[string]uint32{"amd64": auditArchX86_64, "arm64": auditArchAArch64}[runtime.GOARCH]
	if !ok {
		return nil, fmt.Errorf("seccomp: unsupported architecture %s", runtime.GOARCH)
	}

	var f []sockFilter

	// I0-I2: validate architecture; a mismatched arch value (e.g. a
	// 32-bit compat syscall) is allowed through rather than traced,
	// since this supervisor only understands the native word size.
	f = append(f, stmt(bpfLD|bpfW|bpfABS, offsetArch))       // I0
	f = append(f, jump(bpfJMP|bpfJEQ|bpfK, auditArch, 1, 0)) // I1: match -> I3, mismatch -> I2
	f = append(f, stmt(bpfRET|bpfK, seccompRetAllow))        // I2

	// I3-I7: magic-cookie escape hatch. args[5]'s low and high words
	// must both equal Cookie's corresponding half for the call to be
	// let through here; any mismatch falls into the ordinary
	// syscall-number checks starting at I8.
	f = append(f, stmt(bpfLD|bpfW|bpfABS, argOffsetLow(5)))                  // I3
	f = append(f, jump(bpfJMP|bpfJEQ|bpfK, uint32(Cookie), 0, 3))            // I4: match -> I5, mismatch -> I8
	f = append(f, stmt(bpfLD|bpfW|bpfABS, argOffsetHigh(5)))                 // I5
	f = append(f, jump(bpfJMP|bpfJEQ|bpfK, uint32(Cookie>>32), 0, 1))        // I6: match -> I7, mismatch -> I8
	f = append(f, stmt(bpfRET|bpfK, seccompRetAllow))                        // I7

	f = append(f, stmt(bpfLD|bpfW|bpfABS, offsetNR)) // I8
	for _, name := range TracedSyscalls {
		nr, ok := numbers[name]
		if !ok {
			return nil, fmt.Errorf("seccomp: no syscall number for %q on %s", name, runtime.GOARCH)
		}
		// Jump to the USER_NOTIF return if it matches, else fall through
		// to the next candidate.
		f = append(f, jump(bpfJMP|bpfJEQ|bpfK, nr, 0, 1))
		f = append(f, stmt(bpfRET|bpfK, seccompRetUserNotif))
	}
	f = append(f, stmt(bpfRET|bpfK, seccompRetAllow))

	return f, nil
}

// EncodeFilter builds the filter program and serializes it to the wire
// format driver.Options.SeccompFilter carries through the payload
// envelope to the agent, one sockFilter struct (8 bytes, matching the
// kernel's struct sock_filter layout Install already relies on) after
// another in program order.
func EncodeFilter() ([]byte, error) {
	prog, err := BuildFilter()
	if err != nil {
		return nil, err
	}
	buf := make([]byte, 0, len(prog)*8)
	for _, ins := range prog {
		var tmp [8]byte
		binary.LittleEndian.PutUint16(tmp[0:2], ins.Code)
		tmp[2] = ins.Jt
		tmp[3] = ins.Jf
		binary.LittleEndian.PutUint32(tmp[4:8], ins.K)
		buf = append(buf, tmp[:]...)
	}
	return buf, nil
}

// DecodeFilter parses EncodeFilter's wire format back into sockFilter
// instructions the agent installs directly via SECCOMP_SET_MODE_FILTER,
// without needing to share package seccomp's own BuildFilter call (the
// agent may be built with a minimal import set).
func DecodeFilter(data []byte) ([]sockFilter, error) {
	if len(data)%8 != 0 {
		return nil, fmt.Errorf("seccomp: malformed filter program: %d bytes", len(data))
	}
	prog := make([]sockFilter, 0, len(data)/8)
	for i := 0; i < len(data); i += 8 {
		prog = append(prog, sockFilter{
			Code: binary.LittleEndian.Uint16(data[i : i+2]),
			Jt:   data[i+2],
			Jf:   data[i+3],
			K:    binary.LittleEndian.Uint32(data[i+4 : i+8]),
		})
	}
	return prog, nil
}

// InstallFilter arms the process's seccomp filter from an already-
// encoded program (EncodeFilter's output), the same precondition and
// syscall sequence as Install but skipping the rebuild — used by the
// agent, which receives the filter through the payload rather than
// building it itself.
func InstallFilter(data []byte) (notifyFD int, err error) {
	prog, err := DecodeFilter(data)
	if err != nil {
		return -1, err
	}
	return installProgram(prog)
}
