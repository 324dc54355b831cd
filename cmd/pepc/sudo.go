// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

package pepc

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"os/user"

	"golang.org/x/term"
)

// ensureElevated re-execs the current invocation under sudo when it
// isn't already running as root, prompting for a password the way
// the teacher's local-target elevation path does. Writing an MSR or a
// TPMI register almost always needs root, and pepc has no daemon to
// hold a privileged session open between invocations the way the
// teacher's remote SSH target does, so every privileged run pays the
// re-exec cost.
func ensureElevated() error {
	if os.Geteuid() == 0 {
		return nil
	}
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return fmt.Errorf("this operation needs root privileges and stdin is not a terminal to prompt for a password")
	}

	u, err := user.Current()
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "This operation needs root privileges.\n")
	pwd, err := readSudoPassword(fmt.Sprintf("[sudo] password for %s", u.Username))
	if err != nil {
		return err
	}

	self, err := os.Executable()
	if err != nil {
		return err
	}
	args := append([]string{"-S", "--", self}, os.Args[1:]...)
	cmd := exec.Command("sudo", args...)
	cmd.Stdin = bytes.NewBufferString(pwd + "\n")
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			os.Exit(exitErr.ExitCode())
		}
		return err
	}
	os.Exit(0)
	return nil
}

func readSudoPassword(prompt string) (string, error) {
	fmt.Fprintf(os.Stderr, "%s: ", prompt)
	pwd, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", err
	}
	return string(pwd), nil
}
