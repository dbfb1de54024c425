//go:build !unix

package execshell

import (
	"os"
	"os/exec"
)

func configureProcessGroup(command *exec.Cmd) {}

func terminateProcessGroup(process *os.Process) {
	if process == nil {
		return
	}
	_ = process.Kill()
}
