//go:build !unix

package supervisor

import (
	"os"
	"os/exec"
)

func setProcessGroup(*exec.Cmd) {}

// 没有进程组语义：terminate 与 kill 都退化为 Kill
func signalTerm(cmd *exec.Cmd) error { return signalKill(cmd) }

func signalKill(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return os.ErrProcessDone
	}
	return cmd.Process.Kill()
}

func exitStatus(ps *os.ProcessState) int { return ps.ExitCode() }
