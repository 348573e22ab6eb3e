package tools

import (
	"bytes"
	"errors"
	"os/exec"
)

// CommandRunner abstracts local command execution for the transfer
// substrate (rsync invocations) and for tests.
type CommandRunner interface {
	Run(name string, args ...string) ([]byte, int, error)
}

// ExecRunner executes commands on the local host, returning combined
// stdout/stderr and the exit code.
type ExecRunner struct{}

func (ExecRunner) Run(name string, args ...string) ([]byte, int, error) {
	cmd := exec.Command(name, args...)
	var combined bytes.Buffer
	cmd.Stdout = &combined
	cmd.Stderr = &combined

	err := cmd.Run()
	if err == nil {
		return combined.Bytes(), 0, nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return combined.Bytes(), exitErr.ExitCode(), err
	}

	exitCode := 1
	var execErr *exec.Error
	if errors.As(err, &execErr) {
		exitCode = 127
	}
	return combined.Bytes(), exitCode, err
}
