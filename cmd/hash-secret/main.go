package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"syscall"

	"github.com/stemsi/simulacro-backend/internal/config"
	"github.com/stemsi/simulacro-backend/internal/service"
	"golang.org/x/term"
)

// hash-secret prints the bcrypt hash to put in OPS_SECRET_HASH.
func main() {
	cfg := config.Load()
	authService := service.NewAuthService(cfg)

	secret, err := readSecret()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading secret: %v\n", err)
		os.Exit(1)
	}
	if len(secret) < 16 {
		fmt.Fprintln(os.Stderr, "Error: secret must be at least 16 characters")
		os.Exit(1)
	}

	hash, err := authService.HashSecret(secret)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error hashing secret: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(hash)
}

// readSecret prompts without echo on a terminal and reads one line otherwise,
// so the secret can also be piped in.
func readSecret() (string, error) {
	if term.IsTerminal(int(syscall.Stdin)) {
		fmt.Fprint(os.Stderr, "Enter ops secret: ")
		b, err := term.ReadPassword(int(syscall.Stdin))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", err
		}
		return string(b), nil
	}

	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}
