//go:build unix

package local

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"syscall"
)

func setProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// terminate signals the whole process group so children of the
// shell release the output pipes too.
func terminate(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	err := syscall.Kill(-cmd.Process.Pid, syscall.SIGTERM)
	if err == syscall.ESRCH {
		return nil
	}
	return err
}

func statusOf(state *os.ProcessState) int {
	if state == nil {
		return -1
	}
	if ws, ok := state.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return 128 + int(ws.Signal())
	}
	return state.ExitCode()
}

func writeUsage(w io.Writer, state *os.ProcessState) {
	ru, ok := state.SysUsage().(*syscall.Rusage)
	if !ok || ru == nil {
		return
	}
	fmt.Fprintf(w, "\tMaximum resident set size (kbytes): %d\n", ru.Maxrss)
	fmt.Fprintf(w, "\tMajor (requiring I/O) page faults: %d\n", ru.Majflt)
	fmt.Fprintf(w, "\tMinor (reclaiming a frame) page faults: %d\n", ru.Minflt)
	fmt.Fprintf(w, "\tVoluntary context switches: %d\n", ru.Nvcsw)
	fmt.Fprintf(w, "\tInvoluntary context switches: %d\n", ru.Nivcsw)
	fmt.Fprintf(w, "\tFile system inputs: %d\n", ru.Inblock)
	fmt.Fprintf(w, "\tFile system outputs: %d\n", ru.Oublock)
}
