//go:build unix

package transport

import (
	"os/exec"
	"syscall"
)

// applyUID drops the child to the given uid before exec, when set.
func applyUID(cmd *exec.Cmd, uid *uint32) error {
	if uid == nil {
		return nil
	}
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.Credential = &syscall.Credential{Uid: *uid}
	return nil
}
