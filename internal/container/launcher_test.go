package container

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/elispeigel/nsrun/internal/container/filesystem"
	"github.com/elispeigel/nsrun/internal/logging"
)

func init() {
	if len(os.Args) > 1 && os.Args[1] == "init" {
		runtime.GOMAXPROCS(1)
		runtime.LockOSThread()
	}
}

// TestMain lets the test binary act as its own init process: the launcher
// re-executes /proc/self/exe with the init argument.
func TestMain(m *testing.M) {
	if len(os.Args) > 1 && os.Args[1] == "init" {
		err := Init()
		fmt.Fprintf(os.Stderr, "init: %v\n", err)
		os.Exit(ExitCode(err))
	}
	os.Exit(m.Run())
}

func requireRoot(t *testing.T) {
	t.Helper()
	if os.Geteuid() != 0 {
		t.Skip("creating namespaces requires root")
	}
}

// hostNetNS references the test process's own network namespace, which is
// always a valid join target.
func hostNetNS() string {
	return fmt.Sprintf("/proc/%d/ns/net", os.Getpid())
}

type launchResult struct {
	pid    int
	status int
}

func launch(t *testing.T, ctx context.Context, builder *SpecBuilder) launchResult {
	t.Helper()
	spec, err := builder.Build()
	assertNoError(t, err)

	var res launchResult
	launcher := NewLauncher(logging.Config{})
	launcher.Stdin = nil
	launcher.Stdout = nil
	launcher.OnStart = func(pid int) { res.pid = pid }

	res.status, err = launcher.Launch(ctx, spec)
	assertNoError(t, err)
	return res
}

func TestLaunchRecordsHostPid(t *testing.T) {
	requireRoot(t)
	pidFile := filepath.Join(t.TempDir(), "pid.out")

	res := launch(t, context.Background(), NewSpecBuilder().
		WithNetNSPath(hostNetNS()).
		WithPIDFile(pidFile).
		WithArgs("true"))

	if res.status != 0 {
		t.Fatalf("expected exit status 0, got %d", res.status)
	}
	pid, err := filesystem.ReadPIDFile(pidFile)
	assertNoError(t, err)
	if pid != res.pid {
		t.Errorf("expected pid file to contain %d, got %d", res.pid, pid)
	}
}

func TestLaunchOverwritesPidFile(t *testing.T) {
	requireRoot(t)
	pidFile := filepath.Join(t.TempDir(), "pid.out")
	builder := NewSpecBuilder().WithNetNSPath(hostNetNS()).WithPIDFile(pidFile).WithArgs("true")

	first := launch(t, context.Background(), builder)
	second := launch(t, context.Background(), builder)
	if first.pid == second.pid {
		t.Fatalf("expected distinct child pids, got %d twice", first.pid)
	}

	data, err := os.ReadFile(pidFile)
	assertNoError(t, err)
	if string(data) != fmt.Sprint(second.pid) {
		t.Errorf("expected pid file %q, got %q", fmt.Sprint(second.pid), data)
	}
}

func TestLaunchNewPidNamespace(t *testing.T) {
	requireRoot(t)
	dir := t.TempDir()
	out := filepath.Join(dir, "inner.pid")

	res := launch(t, context.Background(), NewSpecBuilder().
		WithNetNSPath(hostNetNS()).
		WithPIDFile(filepath.Join(dir, "pid.out")).
		WithArgs("sh", "-c", "echo $$ > "+out))

	if res.status != 0 {
		t.Fatalf("expected exit status 0, got %d", res.status)
	}
	data, err := os.ReadFile(out)
	assertNoError(t, err)
	if got := strings.TrimSpace(string(data)); got != "1" {
		t.Errorf("expected the command to be pid 1 in its namespace, got %s (host pid %d)", got, res.pid)
	}
}

func TestLaunchProcIsPrivate(t *testing.T) {
	requireRoot(t)
	dir := t.TempDir()
	out := filepath.Join(dir, "ps")

	// Only the shell and ls itself live in the new PID namespace.
	res := launch(t, context.Background(), NewSpecBuilder().
		WithNetNSPath(hostNetNS()).
		WithPIDFile(filepath.Join(dir, "pid.out")).
		WithArgs("sh", "-c", "ls -d /proc/[0-9]* > "+out))

	if res.status != 0 {
		t.Fatalf("expected exit status 0, got %d", res.status)
	}
	data, err := os.ReadFile(out)
	assertNoError(t, err)
	if n := len(strings.Fields(string(data))); n > 2 {
		t.Errorf("expected at most 2 processes in /proc, got %d", n)
	}
	if _, err := os.Stat(fmt.Sprintf("/proc/%d", os.Getpid())); err != nil {
		t.Errorf("host /proc changed: %v", err)
	}
}

func TestLaunchInvalidNetNS(t *testing.T) {
	requireRoot(t)
	dir := t.TempDir()
	pidFile := filepath.Join(dir, "pid.out")

	res := launch(t, context.Background(), NewSpecBuilder().
		WithNetNSPath(filepath.Join(dir, "missing")).
		WithPIDFile(pidFile).
		WithArgs("true"))

	if res.status != ExitNetNSOpen {
		t.Errorf("expected exit status %d, got %d", ExitNetNSOpen, res.status)
	}
	pid, err := filesystem.ReadPIDFile(pidFile)
	assertNoError(t, err)
	if pid != res.pid {
		t.Errorf("expected pid file to contain %d, got %d", res.pid, pid)
	}
}

func TestLaunchNotNetNS(t *testing.T) {
	requireRoot(t)
	dir := t.TempDir()
	notNS := filepath.Join(dir, "regular")
	assertNoError(t, os.WriteFile(notNS, nil, 0o644))

	res := launch(t, context.Background(), NewSpecBuilder().
		WithNetNSPath(notNS).
		WithPIDFile(filepath.Join(dir, "pid.out")).
		WithArgs("true"))

	if res.status != ExitNetNSJoin {
		t.Errorf("expected exit status %d, got %d", ExitNetNSJoin, res.status)
	}
}

func TestLaunchPidFileUnwritable(t *testing.T) {
	requireRoot(t)

	res := launch(t, context.Background(), NewSpecBuilder().
		WithNetNSPath(hostNetNS()).
		WithPIDFile(filepath.Join(t.TempDir(), "missing", "pid.out")).
		WithArgs("true"))

	if res.status != ExitPIDFile {
		t.Errorf("expected exit status %d, got %d", ExitPIDFile, res.status)
	}
}

func TestLaunchCommandNotFound(t *testing.T) {
	requireRoot(t)

	res := launch(t, context.Background(), NewSpecBuilder().
		WithNetNSPath(hostNetNS()).
		WithPIDFile(filepath.Join(t.TempDir(), "pid.out")).
		WithArgs("nsrun-command-that-does-not-exist"))

	if res.status != ExitNotFound {
		t.Errorf("expected exit status %d, got %d", ExitNotFound, res.status)
	}
}

func TestLaunchExitStatus(t *testing.T) {
	requireRoot(t)

	res := launch(t, context.Background(), NewSpecBuilder().
		WithNetNSPath(hostNetNS()).
		WithPIDFile(filepath.Join(t.TempDir(), "pid.out")).
		WithArgs("sh", "-c", "exit 7"))

	if res.status != 7 {
		t.Errorf("expected exit status 7, got %d", res.status)
	}
}

func TestLaunchLoopback(t *testing.T) {
	requireRoot(t)

	res := launch(t, context.Background(), NewSpecBuilder().
		WithNetNSPath(hostNetNS()).
		WithPIDFile(filepath.Join(t.TempDir(), "pid.out")).
		WithLoopback(true).
		WithArgs("true"))

	if res.status != 0 {
		t.Errorf("expected exit status 0, got %d", res.status)
	}
}

func TestLaunchRelaysInterrupt(t *testing.T) {
	requireRoot(t)
	dir := t.TempDir()
	ready := filepath.Join(dir, "ready")

	spec, err := NewSpecBuilder().
		WithNetNSPath(hostNetNS()).
		WithPIDFile(filepath.Join(dir, "pid.out")).
		// As pid 1 of its namespace the shell only sees signals it traps.
		WithArgs("sh", "-c", `trap "exit 3" INT; touch `+ready+`; sleep 30 & wait`).
		Build()
	assertNoError(t, err)

	type result struct {
		status int
		err    error
	}
	results := make(chan result, 1)
	go func() {
		launcher := NewLauncher(logging.Config{})
		launcher.Stdin = nil
		launcher.Stdout = nil
		status, err := launcher.Launch(context.Background(), spec)
		results <- result{status, err}
	}()

	deadline := time.Now().Add(10 * time.Second)
	for {
		if _, err := os.Stat(ready); err == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("child never became ready")
		}
		time.Sleep(10 * time.Millisecond)
	}
	assertNoError(t, syscall.Kill(os.Getpid(), syscall.SIGINT))

	select {
	case res := <-results:
		assertNoError(t, res.err)
		if res.status != 3 {
			t.Errorf("expected exit status 3 from the trap, got %d", res.status)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("launcher did not return after the interrupt was relayed")
	}
}

func TestLaunchContextTimeout(t *testing.T) {
	requireRoot(t)
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	start := time.Now()
	res := launch(t, ctx, NewSpecBuilder().
		WithNetNSPath(hostNetNS()).
		WithPIDFile(filepath.Join(t.TempDir(), "pid.out")).
		WithArgs("sleep", "30"))

	if want := 128 + int(syscall.SIGKILL); res.status != want {
		t.Errorf("expected exit status %d, got %d", want, res.status)
	}
	if elapsed := time.Since(start); elapsed > 10*time.Second {
		t.Errorf("launch took %s after the context ended", elapsed)
	}
}
