package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"runtime"

	"github.com/spf13/cobra"

	"fspy-go/driver"
	"fspy-go/execresolve"
	"fspy-go/flog"
	"fspy-go/hooks"
	"fspy-go/platform"
	"fspy-go/wire"
)

var (
	traceDir             string
	traceEnv             []string
	tracePathSearch      bool
	traceFallbackShell   string
	traceAgentLibrary    string
	traceAgentPathOnDisk string
	traceShellFixture    string
	traceCoreutilsFix    string
	traceIsolate         bool
	traceOutputFormat    string
	traceStartHook       string
	traceStopHook        string
)

var traceCmd = &cobra.Command{
	Use:   "trace -- <command> [args...]",
	Short: "Trace a command's filesystem accesses",
	Long: `Trace runs command and reports every file it (or any of its
descendants) opens, stats, or execs, by injecting a preload agent where
possible and falling back to a seccomp supervisor otherwise.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runTrace,
}

func init() {
	rootCmd.AddCommand(traceCmd)

	traceCmd.Flags().StringVarP(&traceDir, "dir", "C", "", "working directory for the traced command")
	traceCmd.Flags().StringArrayVarP(&traceEnv, "env", "e", nil, "additional environment variables (KEY=VALUE)")
	traceCmd.Flags().BoolVar(&tracePathSearch, "path-search", true, "walk PATH to resolve a bare program name")
	traceCmd.Flags().StringVar(&traceFallbackShell, "fallback-shell", "", "shell to run non-ELF, non-shebang targets through instead of failing")
	traceCmd.Flags().StringVar(&traceAgentLibrary, "agent-library", "", "path to the preload agent's shared library (Linux)")
	traceCmd.Flags().StringVar(&traceAgentPathOnDisk, "agent-path", "", "on-disk path to the preload agent dylib (Apple)")
	traceCmd.Flags().StringVar(&traceShellFixture, "shell-fixture", "", "injectable shell binary substituted for Apple-signed shells")
	traceCmd.Flags().StringVar(&traceCoreutilsFix, "coreutils-fixture", "", "injectable multicall coreutils binary substituted for Apple-signed applets")
	traceCmd.Flags().BoolVar(&traceIsolate, "isolate", false, "contain the traced tree in a cgroup v2 leaf so cancellation reaches detached descendants (Linux)")
	traceCmd.Flags().StringVarP(&traceOutputFormat, "format", "f", "text", "record output format (text, json)")
	traceCmd.Flags().StringVar(&traceStartHook, "hook-start", "", "executable run (with session state on stdin) just before the traced command starts")
	traceCmd.Flags().StringVar(&traceStopHook, "hook-stop", "", "executable run (with session state on stdin) once the traced command has exited")
}

func runTrace(cmd *cobra.Command, args []string) error {
	ctx := GetContext()

	resolveCfg := execresolve.Config{
		FallbackShell: traceFallbackShell,
	}
	if tracePathSearch {
		resolveCfg.SearchPath = execresolve.SearchEnabled
	}

	opts := driver.Options{
		Dir:             traceDir,
		Env:             append(os.Environ(), traceEnv...),
		Logger:          flog.Default(),
		AgentPathOnDisk: traceAgentPathOnDisk,
		PreloadVar:      preloadVarForGOOS(),
		PayloadVar:      platform.PayloadEnvName,
		Resolve:         resolveCfg,
		Fixtures: platform.Fixtures{
			Shell:     traceShellFixture,
			Coreutils: traceCoreutilsFix,
		},
		GOOS:    runtime.GOOS,
		Isolate: traceIsolate,
		Hooks:   buildHooks(),
	}

	if traceAgentLibrary != "" {
		f, err := os.Open(traceAgentLibrary)
		if err != nil {
			return fmt.Errorf("fspy: open agent library: %w", err)
		}
		defer f.Close()
		opts.AgentLibrary = f
	}

	filter, err := seccompFilterForTrace()
	if err != nil {
		return fmt.Errorf("fspy: build seccomp filter: %w", err)
	}
	opts.SeccompFilter = filter

	session, err := driver.Trace(ctx, args, opts)
	if err != nil {
		return fmt.Errorf("fspy: trace: %w", err)
	}

	waitErr := session.Wait()

	printer := newRecordPrinter(traceOutputFormat)
	for rec := range session.Records() {
		printer(rec)
	}

	if waitErr != nil {
		return fmt.Errorf("fspy: traced command: %w", waitErr)
	}
	return nil
}

func preloadVarForGOOS() string {
	if runtime.GOOS == "darwin" {
		return "DYLD_INSERT_LIBRARIES"
	}
	return "LD_PRELOAD"
}

func buildHooks() *hooks.Hooks {
	if traceStartHook == "" && traceStopHook == "" {
		return nil
	}
	h := &hooks.Hooks{}
	if traceStartHook != "" {
		h.Start = []hooks.Hook{{Path: traceStartHook}}
	}
	if traceStopHook != "" {
		h.Stop = []hooks.Hook{{Path: traceStopHook}}
	}
	return h
}

func newRecordPrinter(format string) func(wire.AccessRecord) {
	if format == "json" {
		enc := json.NewEncoder(os.Stdout)
		return func(rec wire.AccessRecord) { enc.Encode(rec) }
	}
	return func(rec wire.AccessRecord) {
		fmt.Printf("%-5s %s\n", rec.Mode, rec.Path)
	}
}
