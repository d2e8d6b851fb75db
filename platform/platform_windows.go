//go:build windows

package platform

import "golang.org/x/sys/windows"

const isWindows = true

// PreloadVariable returns the empty string: Windows has no library-
// preload environment variable. Injection instead rewrites the
// suspended child's entry point to load the agent DLL before user code
// runs (see package spawn).
func PreloadVariable() string {
	return ""
}

// InterpositionFormat names the mechanism the agent package uses to
// describe itself in logs and error messages.
const InterpositionFormat = "detours-trampoline-rewrite"

func dupTo(fd, min int) (int, error) {
	// Windows handle numbering has no equivalent low-fd collision risk;
	// duplicate via DuplicateHandle into a new handle and let the OS
	// pick the value.
	var newHandle windows.Handle
	proc := windows.CurrentProcess()
	err := windows.DuplicateHandle(proc, windows.Handle(fd), proc, &newHandle, 0, true, windows.DUPLICATE_SAME_ACCESS)
	if err != nil {
		return -1, err
	}
	return int(newHandle), nil
}

func clearCloseOnExec(fd int) error {
	return windows.SetHandleInformation(windows.Handle(fd), windows.HANDLE_FLAG_INHERIT, windows.HANDLE_FLAG_INHERIT)
}
