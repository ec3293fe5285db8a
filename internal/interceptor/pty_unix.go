//go:build !windows

package interceptor

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"syscall"

	"golang.org/x/sys/unix"
)

// childProcess wraps the raw PTY session for the worker. It is the sole
// owner of the child's controlling terminal and standard streams.
type childProcess struct {
	cmd    *exec.Cmd
	master *os.File

	outCh   chan []byte
	outDone chan struct{}
}

func spawn(command string, args []string, dir string, env []string, readChunkSize int) (*childProcess, error) {
	if command == "" {
		return nil, errors.New("wrappedCommand is required")
	}
	if readChunkSize <= 0 {
		readChunkSize = 32 * 1024
	}

	masterFD, slaveFD, err := openPTY()
	if err != nil {
		return nil, fmt.Errorf("open pty: %w", err)
	}
	master := os.NewFile(uintptr(masterFD), "conductor-pty-master")
	slave := os.NewFile(uintptr(slaveFD), "conductor-pty-slave")

	cmd := exec.Command(command, args...)
	if dir != "" {
		cmd.Dir = dir
	}
	if len(env) > 0 {
		cmd.Env = env
	}
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setsid:  true,
		Setctty: true,
		Ctty:    0,
	}
	cmd.Stdin = slave
	cmd.Stdout = slave
	cmd.Stderr = slave

	outCh := make(chan []byte, 64)
	outDone := make(chan struct{})
	cp := &childProcess{cmd: cmd, master: master, outCh: outCh, outDone: outDone}

	if err := cmd.Start(); err != nil {
		_ = master.Close()
		_ = slave.Close()
		close(outCh)
		close(outDone)
		return nil, err
	}
	_ = slave.Close()

	go cp.pump(readChunkSize)

	return cp, nil
}

// pump reads the child's combined stdout/stderr off the PTY master in
// readChunkSize slices, matching the chunking the Interceptor's own
// analysis buffer is flushed at (see readChunkSizeFor) rather than an
// arbitrary fixed size.
func (cp *childProcess) pump(readChunkSize int) {
	defer func() { _ = cp.master.Close() }()
	defer close(cp.outDone)
	defer close(cp.outCh)
	buf := make([]byte, readChunkSize)
	for {
		n, err := cp.master.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			cp.outCh <- chunk
		}
		if err != nil {
			return
		}
	}
}

func (cp *childProcess) output() <-chan []byte { return cp.outCh }

func (cp *childProcess) write(p []byte) (int, error) {
	if cp == nil || cp.master == nil {
		return 0, io.ErrClosedPipe
	}
	return cp.master.Write(p)
}

// signal delivers sig to the child's whole process group rather than
// relying on context cancellation to tear it down: Interceptor.Stop
// drives its own SIGTERM-then-SIGKILL grace period independently of
// any ctx passed to Start, so the child must stay reachable by signal
// for the lifetime of the PTY, not just for as long as ctx is live.
func (cp *childProcess) signal(sig syscall.Signal) error {
	if cp == nil || cp.cmd == nil || cp.cmd.Process == nil {
		return errors.New("process not started")
	}
	if pgid, err := syscall.Getpgid(cp.cmd.Process.Pid); err == nil {
		return syscall.Kill(-pgid, sig)
	}
	return cp.cmd.Process.Signal(sig)
}

func (cp *childProcess) wait() (exitCode int, err error) {
	if cp == nil || cp.cmd == nil {
		return 127, errors.New("process not started")
	}
	err = cp.cmd.Wait()
	if cp.outDone != nil {
		<-cp.outDone
	}
	if err == nil {
		return 0, nil
	}
	var ee *exec.ExitError
	if errors.As(err, &ee) {
		return ee.ExitCode(), nil
	}
	return 127, err
}

func openPTY() (masterFD, slaveFD int, err error) {
	masterFD, err = unix.Open("/dev/ptmx", unix.O_RDWR|unix.O_CLOEXEC|unix.O_NOCTTY, 0)
	if err != nil {
		return -1, -1, err
	}
	defer func() {
		if err != nil && masterFD >= 0 {
			_ = unix.Close(masterFD)
		}
	}()

	if err := unix.IoctlSetPointerInt(masterFD, unix.TIOCSPTLCK, 0); err != nil {
		return -1, -1, fmt.Errorf("unlockpt (TIOCSPTLCK): %w", err)
	}
	n, err := unix.IoctlGetInt(masterFD, unix.TIOCGPTN)
	if err != nil {
		return -1, -1, fmt.Errorf("get pty number (TIOCGPTN): %w", err)
	}

	slavePath := filepath.Join("/dev/pts", strconv.Itoa(n))
	slaveFD, err = unix.Open(slavePath, unix.O_RDWR|unix.O_CLOEXEC|unix.O_NOCTTY, 0)
	if err != nil {
		return -1, -1, err
	}
	return masterFD, slaveFD, nil
}

func (cp *childProcess) resize(rows, cols uint16) error {
	if cp == nil || cp.master == nil {
		return io.ErrClosedPipe
	}
	ws := &unix.Winsize{Row: rows, Col: cols}
	return unix.IoctlSetWinsize(int(cp.master.Fd()), unix.TIOCSWINSZ, ws)
}
