package main

import (
	"fmt"
	"os"
	"os/exec"
	"strconv"
)

// daemonize re-executes the binary in the background without --daemonize
// and exits the parent.
func daemonize(pidFile string, logFile string) error {
	// Get current executable path
	executable, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to get executable path: %w", err)
	}

	// Prepare command args (excluding the daemonize flag)
	var args []string
	for _, arg := range os.Args[1:] {
		if arg == "--daemonize" || arg == "--daemonize=true" {
			continue
		}
		args = append(args, arg)
	}

	// Create the child process in its own session
	// #nosec G204 re-executing our own binary
	cmd := exec.Command(executable, args...)
	configureDaemonAttrs(cmd)

	// Redirect stdin, stdout, stderr
	cmd.Stdin = nil
	if logFile != "" {
		// #nosec G304 operator supplied path
		logF, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}
		cmd.Stdout = logF
		cmd.Stderr = logF
	}

	// Start the child process
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start daemon process: %w", err)
	}

	// Write PID file if requested
	if pidFile != "" {
		if err := writePidFile(pidFile, cmd.Process.Pid); err != nil {
			return fmt.Errorf("failed to write PID file: %w", err)
		}
	}

	fmt.Printf("Daemon started with PID %d\n", cmd.Process.Pid)

	// Parent process exits
	os.Exit(0)
	return nil
}

// writePidFile writes the daemon PID to a file
func writePidFile(pidFile string, pid int) error {
	return os.WriteFile(pidFile, []byte(strconv.Itoa(pid)), 0o644)
}

func removePidFile(pidFile string) error {
	if pidFile == "" {
		return nil
	}
	return os.Remove(pidFile)
}
