//go:build linux

// Linux interposition (spec.md §4.E): the trampolines below are plain C
// functions named exactly like the libc entry points they shadow, compiled
// into this package's cgo object and therefore present as global symbols in
// the final `-buildmode=c-shared` .so. When that .so is named in
// LD_PRELOAD, the dynamic linker resolves every later library's call to
// e.g. `open` to this definition before it ever reaches libc's. Each
// trampoline resolves (and caches) the real libc symbol via
// dlsym(RTLD_NEXT, ...) exactly once, records the access through a
// re-entry-guarded callback into Go, then tail-calls the real function —
// grounded on original_source/crates/fspy_preload_unix/src/macros/linux.rs's
// intercept!/intercept_inner! pair, translated from its naked-asm trampoline
// into a plain C forwarding function since cgo has no equivalent to asm
// symbol aliasing.
package main

/*
#define _GNU_SOURCE
#include <dlfcn.h>
#include <stdarg.h>
#include <stdlib.h>
#include <string.h>
#include <stdio.h>
#include <fcntl.h>
#include <sys/stat.h>
#include <sys/types.h>
#include <dirent.h>
#include <spawn.h>
#include <unistd.h>

extern void fspyRecordOpen(char *path, int dirfd, int flags);
extern void fspyRecordFopen(char *path, char *mode);
extern void fspyRecordStat(char *path, int dirfd);
extern void fspyRecordFD(int fd, int mode);
extern void fspyRecordDir(char *path);
extern int  fspyResolveExec(char *program, char **argv, char **envp, int searchPath,
                             char ***outArgv, char ***outEnvp);

// fspy_next resolves name exactly once per process (dlsym's own result is
// stable for the life of the process, so repeated concurrent first calls
// from different threads all land on the same answer and a data race here
// is harmless).
static void *fspy_next(void **cache, const char *name) {
    void *p = *cache;
    if (p == NULL) {
        p = dlsym(RTLD_NEXT, name);
        *cache = p;
    }
    return p;
}

// fspy_guard is a per-thread re-entry flag: the Go runtime linked into this
// same shared object makes its own libc calls (mmap bookkeeping, signal
// handling setup, etc.) which would otherwise recurse back into these very
// trampolines. fspy_guard_enter returns 0 (already inside) when recording
// must be skipped; the real call underneath is always still made either way.
static __thread int fspy_guard;

static int fspy_guard_enter(void) {
    if (fspy_guard) return 0;
    fspy_guard = 1;
    return 1;
}
static void fspy_guard_exit(void) { fspy_guard = 0; }

static void *real_open;
int open(const char *path, int flags, ...) {
    mode_t mode = 0;
    if (flags & O_CREAT) {
        va_list ap;
        va_start(ap, flags);
        mode = (mode_t)va_arg(ap, int);
        va_end(ap);
    }
    typedef int (*fn)(const char *, int, mode_t);
    fn real = (fn)fspy_next(&real_open, "open");
    if (fspy_guard_enter()) {
        fspyRecordOpen((char *)path, AT_FDCWD, flags);
        fspy_guard_exit();
    }
    return real(path, flags, mode);
}

static void *real_openat;
int openat(int dirfd, const char *path, int flags, ...) {
    mode_t mode = 0;
    if (flags & O_CREAT) {
        va_list ap;
        va_start(ap, flags);
        mode = (mode_t)va_arg(ap, int);
        va_end(ap);
    }
    typedef int (*fn)(int, const char *, int, mode_t);
    fn real = (fn)fspy_next(&real_openat, "openat");
    if (fspy_guard_enter()) {
        fspyRecordOpen((char *)path, dirfd, flags);
        fspy_guard_exit();
    }
    return real(dirfd, path, flags, mode);
}

static void *real_openat64;
int openat64(int dirfd, const char *path, int flags, ...) {
    mode_t mode = 0;
    if (flags & O_CREAT) {
        va_list ap;
        va_start(ap, flags);
        mode = (mode_t)va_arg(ap, int);
        va_end(ap);
    }
    typedef int (*fn)(int, const char *, int, mode_t);
    fn real = (fn)fspy_next(&real_openat64, "openat64");
    if (fspy_guard_enter()) {
        fspyRecordOpen((char *)path, dirfd, flags);
        fspy_guard_exit();
    }
    return real(dirfd, path, flags, mode);
}

static void *real_fopen;
FILE *fopen(const char *path, const char *mode) {
    typedef FILE *(*fn)(const char *, const char *);
    fn real = (fn)fspy_next(&real_fopen, "fopen");
    if (fspy_guard_enter()) {
        fspyRecordFopen((char *)path, (char *)mode);
        fspy_guard_exit();
    }
    return real(path, mode);
}

static void *real_freopen;
FILE *freopen(const char *path, const char *mode, FILE *stream) {
    typedef FILE *(*fn)(const char *, const char *, FILE *);
    fn real = (fn)fspy_next(&real_freopen, "freopen");
    if (path != NULL && fspy_guard_enter()) {
        fspyRecordFopen((char *)path, (char *)mode);
        fspy_guard_exit();
    }
    return real(path, mode, stream);
}

static void *real_stat;
int stat(const char *path, struct stat *buf) {
    typedef int (*fn)(const char *, struct stat *);
    fn real = (fn)fspy_next(&real_stat, "stat");
    if (fspy_guard_enter()) {
        fspyRecordStat((char *)path, AT_FDCWD);
        fspy_guard_exit();
    }
    return real(path, buf);
}

static void *real_lstat;
int lstat(const char *path, struct stat *buf) {
    typedef int (*fn)(const char *, struct stat *);
    fn real = (fn)fspy_next(&real_lstat, "lstat");
    if (fspy_guard_enter()) {
        fspyRecordStat((char *)path, AT_FDCWD);
        fspy_guard_exit();
    }
    return real(path, buf);
}

static void *real_fstat;
int fstat(int fd, struct stat *buf) {
    typedef int (*fn)(int, struct stat *);
    fn real = (fn)fspy_next(&real_fstat, "fstat");
    if (fspy_guard_enter()) {
        fspyRecordFD(fd, 1 /* wire.Read */);
        fspy_guard_exit();
    }
    return real(fd, buf);
}

static void *real_fstatat;
int fstatat(int dirfd, const char *path, struct stat *buf, int flags) {
    typedef int (*fn)(int, const char *, struct stat *, int);
    fn real = (fn)fspy_next(&real_fstatat, "fstatat");
    if (fspy_guard_enter()) {
        fspyRecordStat((char *)path, dirfd);
        fspy_guard_exit();
    }
    return real(dirfd, path, buf, flags);
}

static void *real_opendir;
DIR *opendir(const char *path) {
    typedef DIR *(*fn)(const char *);
    fn real = (fn)fspy_next(&real_opendir, "opendir");
    if (fspy_guard_enter()) {
        fspyRecordDir((char *)path);
        fspy_guard_exit();
    }
    return real(path);
}

static void *real_fdopendir;
DIR *fdopendir(int fd) {
    typedef DIR *(*fn)(int);
    fn real = (fn)fspy_next(&real_fdopendir, "fdopendir");
    if (fspy_guard_enter()) {
        fspyRecordFD(fd, 4 /* wire.ReadDir */);
        fspy_guard_exit();
    }
    return real(fd);
}

static void *real_scandir;
int scandir(const char *path, struct dirent ***namelist,
            int (*filter)(const struct dirent *),
            int (*compar)(const struct dirent **, const struct dirent **)) {
    typedef int (*fn)(const char *, struct dirent ***,
                       int (*)(const struct dirent *),
                       int (*)(const struct dirent **, const struct dirent **));
    fn real = (fn)fspy_next(&real_scandir, "scandir");
    if (fspy_guard_enter()) {
        fspyRecordDir((char *)path);
        fspy_guard_exit();
    }
    return real(path, namelist, filter, compar);
}

static void *real_getdirentries;
ssize_t getdirentries(int fd, char *buf, size_t nbytes, off_t *basep) {
    typedef ssize_t (*fn)(int, char *, size_t, off_t *);
    fn real = (fn)fspy_next(&real_getdirentries, "getdirentries");
    if (fspy_guard_enter()) {
        fspyRecordFD(fd, 4 /* wire.ReadDir */);
        fspy_guard_exit();
    }
    return real(fd, buf, nbytes, basep);
}

// fspy_exec_common centralizes the resolve-and-rewrite step shared by every
// exec(3)/posix_spawn entry point: run the Go spawn handler, then hand back
// whichever argv/envp the real call should actually use. On resolve
// failure it falls back to the original, unmodified arrays — the traced
// program's own exec still gets to decide what to do about a program it
// can't find.
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

static void *real_execve;
int execve(const char *path, char *const argv[], char *const envp[]) {
    typedef int (*fn)(const char *, char *const[], char *const[]);
    fn real = (fn)fspy_next(&real_execve, "execve");
    char **rArgv, **rEnvp;
    fspy_exec_common(path, argv, envp, 0 /* SearchDisabled */, &rArgv, &rEnvp);
    return real(path, rArgv, rEnvp);
}

static void *real_execveat;
int execveat(int dirfd, const char *path, char *const argv[], char *const envp[], int flags) {
    typedef int (*fn)(int, const char *, char *const[], char *const[], int);
    fn real = (fn)fspy_next(&real_execveat, "execveat");
    char **rArgv, **rEnvp;
    fspy_exec_common(path, argv, envp, 0, &rArgv, &rEnvp);
    return real(dirfd, path, rArgv, rEnvp, flags);
}

static void *real_fexecve;
int fexecve(int fd, char *const argv[], char *const envp[]) {
    typedef int (*fn)(int, char *const[], char *const[]);
    fn real = (fn)fspy_next(&real_fexecve, "fexecve");
    char **rArgv, **rEnvp;
    fspy_exec_common(NULL, argv, envp, 0, &rArgv, &rEnvp);
    return real(fd, rArgv, rEnvp);
}

extern char **environ;

static void *real_execv;
int execv(const char *path, char *const argv[]) {
    typedef int (*fn)(const char *, char *const[], char *const[]);
    fn real = (fn)fspy_next(&real_execv, "execve");
    char **rArgv, **rEnvp;
    fspy_exec_common(path, argv, environ, 0, &rArgv, &rEnvp);
    return real(path, rArgv, rEnvp);
}

static void *real_execvp;
int execvp(const char *file, char *const argv[]) {
    typedef int (*fn)(const char *, char *const[], char *const[]);
    fn real = (fn)fspy_next(&real_execvp, "execve");
    char **rArgv, **rEnvp;
    fspy_exec_common(file, argv, environ, 1 /* SearchEnabled */, &rArgv, &rEnvp);
    return real(file, rArgv, rEnvp);
}

static void *real_execvpe;
int execvpe(const char *file, char *const argv[], char *const envp[]) {
    typedef int (*fn)(const char *, char *const[], char *const[]);
    fn real = (fn)fspy_next(&real_execvpe, "execve");
    char **rArgv, **rEnvp;
    fspy_exec_common(file, argv, envp, 1, &rArgv, &rEnvp);
    return real(file, rArgv, rEnvp);
}

// fspy_build_varargs collects a NULL-terminated execl(3)-style vararg list
// of `const char *` into a freshly malloc'd, NULL-terminated argv array.
static char **fspy_build_varargs(const char *arg0, va_list ap) {
    size_t cap = 8, n = 0;
    char **argv = malloc(cap * sizeof(char *));
    argv[n++] = (char *)arg0;
    for (;;) {
        const char *next = va_arg(ap, const char *);
        if (n + 1 >= cap) {
            cap *= 2;
            argv = realloc(argv, cap * sizeof(char *));
        }
        argv[n++] = (char *)next;
        if (next == NULL) break;
    }
    return argv;
}

int execl(const char *path, const char *arg0, ...) {
    va_list ap;
    va_start(ap, arg0);
    char **argv = fspy_build_varargs(arg0, ap);
    va_end(ap);
    typedef int (*fn)(const char *, char *const[], char *const[]);
    void *real = fspy_next(&real_execv, "execve");
    char **rArgv, **rEnvp;
    fspy_exec_common(path, argv, environ, 0, &rArgv, &rEnvp);
    int ret = ((fn)real)(path, rArgv, rEnvp);
    free(argv);
    return ret;
}

int execlp(const char *file, const char *arg0, ...) {
    va_list ap;
    va_start(ap, arg0);
    char **argv = fspy_build_varargs(arg0, ap);
    va_end(ap);
    void *real = fspy_next(&real_execvp, "execve");
    typedef int (*fn)(const char *, char *const[], char *const[]);
    char **rArgv, **rEnvp;
    fspy_exec_common(file, argv, environ, 1, &rArgv, &rEnvp);
    int ret = ((fn)real)(file, rArgv, rEnvp);
    free(argv);
    return ret;
}

int execle(const char *path, const char *arg0, ...) {
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
    void *real = fspy_next(&real_execve, "execve");
    typedef int (*fn)(const char *, char *const[], char *const[]);
    char **rArgv, **rEnvp;
    fspy_exec_common(path, argv, envp, 0, &rArgv, &rEnvp);
    int ret = ((fn)real)(path, rArgv, rEnvp);
    free(argv);
    return ret;
}

static void *real_posix_spawn;
int posix_spawn(pid_t *pid, const char *path,
                 const posix_spawn_file_actions_t *file_actions,
                 const posix_spawnattr_t *attrp,
                 char *const argv[], char *const envp[]) {
    typedef int (*fn)(pid_t *, const char *, const posix_spawn_file_actions_t *,
                       const posix_spawnattr_t *, char *const[], char *const[]);
    fn real = (fn)fspy_next(&real_posix_spawn, "posix_spawn");
    char **rArgv, **rEnvp;
    fspy_exec_common(path, argv, envp, 0, &rArgv, &rEnvp);
    return real(pid, path, file_actions, attrp, rArgv, rEnvp);
}

static void *real_posix_spawnp;
int posix_spawnp(pid_t *pid, const char *file,
                  const posix_spawn_file_actions_t *file_actions,
                  const posix_spawnattr_t *attrp,
                  char *const argv[], char *const envp[]) {
    typedef int (*fn)(pid_t *, const char *, const posix_spawn_file_actions_t *,
                       const posix_spawnattr_t *, char *const[], char *const[]);
    fn real = (fn)fspy_next(&real_posix_spawnp, "posix_spawnp");
    char **rArgv, **rEnvp;
    fspy_exec_common(file, argv, envp, 1, &rArgv, &rEnvp);
    return real(pid, file, file_actions, attrp, rArgv, rEnvp);
}

// fspy_atfork_child runs in the child immediately after fork(2) (registered
// via pthread_atfork below), before any of its own code runs, so the
// child's first write to the ring never lands in a chunk the parent still
// holds mapped read-write.
extern void fspyAfterFork(void);
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

// cAtFDCWD mirrors Linux's AT_FDCWD (-100), matching pathresolve.AtFDCWD;
// kept as a small Go constant here rather than importing the C value so
// these callbacks don't need cgo's AT_FDCWD macro expansion.
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

// cStringArray reads a NULL-terminated char** into a Go []string.
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

// newCStringArray allocates a NULL-terminated char** the C side owns
// (freed by the traced process's own libc on the exec path that doesn't
// replace the image, leaked on the path that does since the process image
// is about to vanish anyway — matching spec.md §4.E's "observation is
// best-effort" posture for bookkeeping that outlives the call it backs).
func newCStringArray(ss []string) **C.char {
	arr := C.malloc(C.size_t(len(ss)+1) * C.size_t(unsafe.Sizeof(uintptr(0))))
	base := (*[1 << 30]*C.char)(arr)
	for i, s := range ss {
		base[i] = C.CString(s)
	}
	base[len(ss)] = nil
	return (**C.char)(arr)
}
