// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"syscall"

	"github.com/Thermoquad/hydrant/pkg/config"
	"golang.org/x/term"
)

// GetPassword prompts for the link password without echo
func GetPassword() (string, error) {
	fmt.Fprint(os.Stderr, "Link password: ")

	passwordBytes, err := term.ReadPassword(int(syscall.Stdin))
	if err != nil {
		// Fallback to regular input if terminal functions fail
		reader := bufio.NewReader(os.Stdin)
		password, err := reader.ReadString('\n')
		if err != nil {
			return "", fmt.Errorf("failed to read password: %v", err)
		}
		fmt.Fprintln(os.Stderr)
		return strings.TrimSpace(password), nil
	}

	fmt.Fprintln(os.Stderr)
	return string(passwordBytes), nil
}

// promptLinkPassword fills in the link password interactively when a
// username is set, no password came from the file or environment, and
// someone is at the terminal. Unattended starts keep the empty password.
func promptLinkPassword(cfg *config.Config) error {
	if cfg.Link.Username == "" || cfg.Link.Password != "" {
		return nil
	}
	if !term.IsTerminal(int(syscall.Stdin)) {
		return nil
	}

	password, err := GetPassword()
	if err != nil {
		return err
	}
	cfg.Link.Password = password
	return nil
}
