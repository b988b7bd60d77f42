package mpv

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

const socketPollDelay = 100 * time.Millisecond

// process is a spawned mpv in idle mode.
type process struct {
	cmd    *exec.Cmd
	socket string
	exited chan struct{}
}

// socketPath returns a fresh socket path in dir, or the temp dir when dir
// is empty.
func socketPath(dir string) string {
	if dir == "" {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "tandem-"+uuid.NewString()[:8]+".sock")
}

func startProcess(bin, socket string, extra []string) (*process, error) {
	args := []string{
		"--idle=yes",
		"--no-video",
		"--no-terminal",
		"--really-quiet",
		"--keep-open=no",
		"--input-ipc-server=" + socket,
	}
	args = append(args, extra...)

	cmd := exec.Command(bin, args...)
	cmd.SysProcAttr = sysProcAttr()
	cmd.Stdin, cmd.Stdout, cmd.Stderr = nil, nil, nil
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start mpv: %w", err)
	}

	p := &process{cmd: cmd, socket: socket, exited: make(chan struct{})}
	go func() {
		_ = cmd.Wait()
		close(p.exited)
	}()
	return p, nil
}

// waitForSocket polls until the IPC socket accepts connections.
func (p *process) waitForSocket(ctx context.Context) error {
	for {
		select {
		case <-p.exited:
			return errors.New("mpv exited before its socket was ready")
		case <-ctx.Done():
			return fmt.Errorf("mpv socket %s not ready: %w", p.socket, ctx.Err())
		case <-time.After(socketPollDelay):
		}
		c, err := net.Dial("unix", p.socket)
		if err == nil {
			_ = c.Close()
			return nil
		}
	}
}

// stop waits for a graceful exit, then kills the process group.
func (p *process) stop(grace time.Duration) {
	select {
	case <-p.exited:
	case <-time.After(grace):
		_ = killProcess(p.cmd)
		<-p.exited
	}
	_ = os.Remove(p.socket)
}
