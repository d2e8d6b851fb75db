//go:build darwin

// Darwin interposition (spec.md §4.E): instead of dlsym(RTLD_NEXT, ...), this
// side uses the __DATA,__interpose Mach-O section dyld itself reads at load
// time — a static {replacement, replacee} pointer pair per symbol, placed in
// that section by the DYLD_INTERPOSE macro below. dyld only rewrites *other*
// images' lazy/indirect references to the replaced symbol; a direct call to
// the real libc name from inside the replacement function still reaches the
// genuine implementation, so no dlsym lookup is needed at all on this
// platform. Grounded on
// original_source/crates/fspy_preload_unix/src/macros/macos.rs's
// intercept!/InterposeEntry pair.
package main

/*
#include <dirent.h>
#include <fcntl.h>
#include <pthread.h>
#include <spawn.h>
#include <stdarg.h>
#include <stdio.h>
#include <stdlib.h>
#include <string.h>
#include <sys/stat.h>
#include <sys/types.h>
#include <unistd.h>

extern void fspyRecordOpen(char *path, int dirfd, int flags);
extern void fspyRecordFopen(char *path, char *mode);
extern void fspyRecordStat(char *path, int dirfd);
extern void fspyRecordFD(int fd, int mode);
extern void fspyRecordDir(char *path);
extern int  fspyResolveExec(char *program, char **argv, char **envp, int searchPath,
                             char ***outArgv, char ***outEnvp);
extern void fspyAfterFork(void);

#define DYLD_INTERPOSE(_replacement, _replacee)                              \
    __attribute__((used)) static struct {                                    \
        const void *replacement;                                             \
        const void *replacee;                                                \
    } _interpose_##_replacee __attribute__((section("__DATA,__interpose"))) = \
        {(const void *)(unsigned long)&_replacement,                         \
         (const void *)(unsigned long)&_replacee};

static __thread int fspy_guard;
static int fspy_guard_enter(void) {
    if (fspy_guard) return 0;
    fspy_guard = 1;
    return 1;
}
static void fspy_guard_exit(void) { fspy_guard = 0; }

static int fspy_open(const char *path, int flags, ...) {
    mode_t mode = 0;
    if (flags & O_CREAT) {
        va_list ap;
        va_start(ap, flags);
        mode = (mode_t)va_arg(ap, int);
        va_end(ap);
    }
    if (fspy_guard_enter()) {
        fspyRecordOpen((char *)path, AT_FDCWD, flags);
        fspy_guard_exit();
    }
    return open(path, flags, mode);
}
DYLD_INTERPOSE(fspy_open, open)

static int fspy_openat(int dirfd, const char *path, int flags, ...) {
    mode_t mode = 0;
    if (flags & O_CREAT) {
        va_list ap;
        va_start(ap, flags);
        mode = (mode_t)va_arg(ap, int);
        va_end(ap);
    }
    if (fspy_guard_enter()) {
        fspyRecordOpen((char *)path, dirfd, flags);
        fspy_guard_exit();
    }
    return openat(dirfd, path, flags, mode);
}
DYLD_INTERPOSE(fspy_openat, openat)

static FILE *fspy_fopen(const char *path, const char *mode) {
    if (fspy_guard_enter()) {
        fspyRecordFopen((char *)path, (char *)mode);
        fspy_guard_exit();
    }
    return fopen(path, mode);
}
DYLD_INTERPOSE(fspy_fopen, fopen)

static FILE *fspy_freopen(const char *path, const char *mode, FILE *stream) {
    if (path != NULL && fspy_guard_enter()) {
        fspyRecordFopen((char *)path, (char *)mode);
        fspy_guard_exit();
    }
    return freopen(path, mode, stream);
}
DYLD_INTERPOSE(fspy_freopen, freopen)

static int fspy_stat(const char *path, struct stat *buf) {
    if (fspy_guard_enter()) {
        fspyRecordStat((char *)path, AT_FDCWD);
        fspy_guard_exit();
    }
    return stat(path, buf);
}
DYLD_INTERPOSE(fspy_stat, stat)

static int fspy_lstat(const char *path, struct stat *buf) {
    if (fspy_guard_enter()) {
        fspyRecordStat((char *)path, AT_FDCWD);
        fspy_guard_exit();
    }
    return lstat(path, buf);
}
DYLD_INTERPOSE(fspy_lstat, lstat)

static int fspy_fstat(int fd, struct stat *buf) {
    if (fspy_guard_enter()) {
        fspyRecordFD(fd, 1 /* wire.Read */);
        fspy_guard_exit();
    }
    return fstat(fd, buf);
}
DYLD_INTERPOSE(fspy_fstat, fstat)

static int fspy_fstatat(int dirfd, const char *path, struct stat *buf, int flags) {
    if (fspy_guard_enter()) {
        fspyRecordStat((char *)path, dirfd);
        fspy_guard_exit();
    }
    return fstatat(dirfd, path, buf, flags);
}
DYLD_INTERPOSE(fspy_fstatat, fstatat)

static DIR *fspy_opendir(const char *path) {
    if (fspy_guard_enter()) {
        fspyRecordDir((char *)path);
        fspy_guard_exit();
    }
    return opendir(path);
}
DYLD_INTERPOSE(fspy_opendir, opendir)

static DIR *fspy_fdopendir(int fd) {
    if (fspy_guard_enter()) {
        fspyRecordFD(fd, 4 /* wire.ReadDir */);
        fspy_guard_exit();
    }
    return fdopendir(fd);
}
DYLD_INTERPOSE(fspy_fdopendir, fdopendir)

static int fspy_scandir(const char *path, struct dirent ***namelist,
                         int (*filter)(struct dirent *),
                         int (*compar)(const struct dirent **, const struct dirent **)) {
    if (fspy_guard_enter()) {
        fspyRecordDir((char *)path);
        fspy_guard_exit();
    }
    return scandir(path, namelist, filter, compar);
}
DYLD_INTERPOSE(fspy_scandir, scandir)

// scandir_b is Darwin's block-based scandir variant (no portable
// function-pointer equivalent), still worth shadowing since it is the form
// Foundation/AppKit call into internally.
typedef int (^fspy_filter_blk)(struct dirent *);
typedef int (^fspy_compar_blk)(const struct dirent **, const struct dirent **);
int scandir_b(const char *path, struct dirent ***namelist,
              fspy_filter_blk filter, fspy_compar_blk compar);
static int fspy_scandir_b(const char *path, struct dirent ***namelist,
                           fspy_filter_blk filter, fspy_compar_blk compar) {
    if (fspy_guard_enter()) {
        fspyRecordDir((char *)path);
        fspy_guard_exit();
    }
    return scandir_b(path, namelist, filter, compar);
}
DYLD_INTERPOSE(fspy_scandir_b, scandir_b)

static void fspy_exec_common(const char *program, char *const argv[], char *const envp[],
                              int searchPath, char ***argvOut, char ***envpOut) {
    *argvOut = (char **)argv;
    *envpOut = (char **)envp;
    if (!fspy_guard_enter()) {
        return;
    }
    char **newArgv = NULL;
    char **newEnvp = NULL;
    int rc = fspyResolveExec((char *)program, (char **)argv, (char **)envp, searchPath,
                              &newArgv, &newEnvp);
    fspy_guard_exit();
    if (rc == 0) {
        if (newArgv != NULL) *argvOut = newArgv;
        if (newEnvp != NULL) *envpOut = newEnvp;
    }
}

extern char **environ;

static int fspy_execve(const char *path, char *const argv[], char *const envp[]) {
    char **rArgv, **rEnvp;
    fspy_exec_common(path, argv, envp, 0, &rArgv, &rEnvp);
    return execve(path, rArgv, rEnvp);
}
DYLD_INTERPOSE(fspy_execve, execve)

static int fspy_execv(const char *path, char *const argv[]) {
    char **rArgv, **rEnvp;
    fspy_exec_common(path, argv, environ, 0, &rArgv, &rEnvp);
    return execve(path, rArgv, rEnvp);
}
DYLD_INTERPOSE(fspy_execv, execv)

static int fspy_execvp(const char *file, char *const argv[]) {
    char **rArgv, **rEnvp;
    fspy_exec_common(file, argv, environ, 1, &rArgv, &rEnvp);
    return execve(file, rArgv, rEnvp);
}
DYLD_INTERPOSE(fspy_execvp, execvp)

static char **fspy_build_varargs(const char *arg0, va_list ap) {
    size_t cap = 8, n = 0;
    char **argv = malloc(cap * sizeof(char *));
    argv[n++] = (char *)arg0;
    for (;;) {
        const char *next = va_arg(ap, const char *);
        if (n + 1 >= cap) { cap *= 2; argv = realloc(argv, cap * sizeof(char *)); }
        argv[n++] = (char *)next;
        if (next == NULL) break;
    }
    return argv;
}

static int fspy_execl(const char *path, const char *arg0, ...) {
    va_list ap;
    va_start(ap, arg0);
    char **argv = fspy_build_varargs(arg0, ap);
    va_end(ap);
    char **rArgv, **rEnvp;
    fspy_exec_common(path, argv, environ, 0, &rArgv, &rEnvp);
    int ret = execve(path, rArgv, rEnvp);
    free(argv);
    return ret;
}
DYLD_INTERPOSE(fspy_execl, execl)

static int fspy_execlp(const char *file, const char *arg0, ...) {
    va_list ap;
    va_start(ap, arg0);
    char **argv = fspy_build_varargs(arg0, ap);
    va_end(ap);
    char **rArgv, **rEnvp;
    fspy_exec_common(file, argv, environ, 1, &rArgv, &rEnvp);
    int ret = execve(file, rArgv, rEnvp);
    free(argv);
    return ret;
}
DYLD_INTERPOSE(fspy_execlp, execlp)

static int fspy_execle(const char *path, const char *arg0, ...) {
    va_list ap;
    va_start(ap, arg0);
    size_t cap = 8, n = 0;
    char **argv = malloc(cap * sizeof(char *));
    argv[n++] = (char *)arg0;
    const char *next;
    for (;;) {
        next = va_arg(ap, const char *);
        if (n + 1 >= cap) { cap *= 2; argv = realloc(argv, cap * sizeof(char *)); }
        argv[n++] = (char *)next;
        if (next == NULL) break;
    }
    char **envp = va_arg(ap, char **);
    va_end(ap);
    char **rArgv, **rEnvp;
    fspy_exec_common(path, argv, envp, 0, &rArgv, &rEnvp);
    int ret = execve(path, rArgv, rEnvp);
    free(argv);
    return ret;
}
DYLD_INTERPOSE(fspy_execle, execle)

static int fspy_posix_spawn(pid_t *pid, const char *path,
                             const posix_spawn_file_actions_t *file_actions,
                             const posix_spawnattr_t *attrp,
                             char *const argv[], char *const envp[]) {
    char **rArgv, **rEnvp;
    fspy_exec_common(path, argv, envp, 0, &rArgv, &rEnvp);
    return posix_spawn(pid, path, file_actions, attrp, rArgv, rEnvp);
}
DYLD_INTERPOSE(fspy_posix_spawn, posix_spawn)

static int fspy_posix_spawnp(pid_t *pid, const char *file,
                              const posix_spawn_file_actions_t *file_actions,
                              const posix_spawnattr_t *attrp,
                              char *const argv[], char *const envp[]) {
    char **rArgv, **rEnvp;
    fspy_exec_common(file, argv, envp, 1, &rArgv, &rEnvp);
    return posix_spawnp(pid, file, file_actions, attrp, rArgv, rEnvp);
}
DYLD_INTERPOSE(fspy_posix_spawnp, posix_spawnp)

static void fspy_atfork_child(void) { fspyAfterFork(); }

__attribute__((constructor))
static void fspy_install_atfork(void) {
    pthread_atfork(NULL, NULL, fspy_atfork_child);
}
*/
import "C"

import (
	"unsafe"

	"fspy-go/agent"
	"fspy-go/execresolve"
	"fspy-go/wire"
)

//export fspyRecordOpen
func fspyRecordOpen(path *C.char, dirfd, flags C.int) {
	recordAccess(agent.ModeOfOpenFlags(int(flags)), int(dirfd), cBytes(path), false)
}

//export fspyRecordFopen
func fspyRecordFopen(path, mode *C.char) {
	recordAccess(agent.ModeOfFopenMode(C.GoString(mode)), cAtFDCWD, cBytes(path), false)
}

//export fspyRecordStat
func fspyRecordStat(path *C.char, dirfd C.int) {
	recordAccess(wire.Read, int(dirfd), cBytes(path), false)
}

//export fspyRecordFD
func fspyRecordFD(fd, mode C.int) {
	recordFD(wire.AccessMode(mode), int(fd))
}

//export fspyRecordDir
func fspyRecordDir(path *C.char) {
	recordAccess(wire.ReadDir, cAtFDCWD, cBytes(path), false)
}

const cAtFDCWD = -100

func cBytes(s *C.char) []byte {
	if s == nil {
		return nil
	}
	return []byte(C.GoString(s))
}

//export fspyResolveExec
func fspyResolveExec(program *C.char, argv, envp **C.char, searchPath C.int,
	outArgv, outEnvp ***C.char) C.int {
	prog := C.GoString(program)
	args := cStringArray(argv)
	envs := cStringArray(envp)

	mode := execresolve.SearchDisabled
	if searchPath != 0 {
		mode = execresolve.SearchEnabled
	}

	decision, err := resolveExec(prog, args, envs, mode)
	if err != nil || decision == nil {
		return -1
	}

	*outArgv = newCStringArray(decision.Form.Args)
	*outEnvp = newCStringArray(decision.Form.Envs)
	return 0
}

//export fspyAfterFork
func fspyAfterFork() {
	invalidateCursorsAfterFork()
}

func cStringArray(p **C.char) []string {
	if p == nil {
		return nil
	}
	var out []string
	for i := 0; ; i++ {
		entry := *(**C.char)(unsafe.Pointer(uintptr(unsafe.Pointer(p)) + uintptr(i)*unsafe.Sizeof(p)))
		if entry == nil {
			break
		}
		out = append(out, C.GoString(entry))
	}
	return out
}

func newCStringArray(ss []string) **C.char {
	arr := C.malloc(C.size_t(len(ss)+1) * C.size_t(unsafe.Sizeof(uintptr(0))))
	base := (*[1 << 30]*C.char)(arr)
	for i, s := range ss {
		base[i] = C.CString(s)
	}
	base[len(ss)] = nil
	return (**C.char)(arr)
}
