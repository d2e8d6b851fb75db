package driver

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"fspy-go/platform"
)

// wirePayload is the JSON-serialized form of platform.EncodedPayload.
// JSON is the teacher's own idiom for small structured records handed
// across a process boundary (see spec/state.go's state-file format);
// this module's payload is tiny and built exactly once per spawn, so
// there is no reason to hand-roll a binary envelope for it the way
// package wire does for the high-frequency per-access records.
type wirePayload struct {
	IPCFd             int    `json:"ipc_fd"`
	PreloadPath       string `json:"preload_path"`
	ShellReplacement  string `json:"shell_replacement,omitempty"`
	CoreutilsMultCall string `json:"coreutils_multicall,omitempty"`
	SeccompFilter     []byte `json:"seccomp_filter,omitempty"`
	NotifySocketPath  string `json:"notify_socket_path,omitempty"`
	FallbackShell     string `json:"fallback_shell,omitempty"`
}

// EncodePayload renders p as the base64-no-pad string carried in the
// single payload environment variable (spec.md §6).
func EncodePayload(p platform.EncodedPayload) (string, error) {
	w := wirePayload{
		IPCFd:             p.IPCFd,
		PreloadPath:       p.PreloadPath,
		ShellReplacement:  p.Fixtures.Shell,
		CoreutilsMultCall: p.Fixtures.Coreutils,
		SeccompFilter:     p.SeccompFilter,
		NotifySocketPath:  p.NotifySocketPath,
		FallbackShell:     p.FallbackShell,
	}
	raw, err := json.Marshal(w)
	if err != nil {
		return "", fmt.Errorf("driver: encode payload: %w", err)
	}
	return base64.RawStdEncoding.EncodeToString(raw), nil
}

// DecodePayload is the agent-side counterpart, kept here (rather than
// in cmd/fspy-agent) so both sides of the encoding share one definition
// and one test.
func DecodePayload(encoded string) (platform.EncodedPayload, error) {
	raw, err := base64.RawStdEncoding.DecodeString(encoded)
	if err != nil {
		return platform.EncodedPayload{}, fmt.Errorf("driver: decode payload: %w", err)
	}
	var w wirePayload
	if err := json.Unmarshal(raw, &w); err != nil {
		return platform.EncodedPayload{}, fmt.Errorf("driver: decode payload: %w", err)
	}
	return platform.EncodedPayload{
		IPCFd:       w.IPCFd,
		PreloadPath: w.PreloadPath,
		Fixtures: platform.Fixtures{
			Shell:     w.ShellReplacement,
			Coreutils: w.CoreutilsMultCall,
		},
		SeccompFilter:    w.SeccompFilter,
		NotifySocketPath: w.NotifySocketPath,
		FallbackShell:    w.FallbackShell,
	}, nil
}
