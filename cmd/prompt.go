package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"syscall"

	"golang.org/x/term"
)

const promptRetries = 3

var stdin = bufio.NewReader(os.Stdin)

func readLine(prompt string) (string, error) {
	fmt.Print(prompt)
	line, err := stdin.ReadString('\n')
	if err != nil && line == "" {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// readNonEmpty asks until something is typed.
func readNonEmpty(prompt string) (string, error) {
	for {
		line, err := readLine(prompt)
		if err != nil {
			return "", err
		}
		if line != "" {
			return line, nil
		}
		fmt.Println("This cannot be empty. Please try again.")
	}
}

func readSecret(prompt string) (string, error) {
	fmt.Print(prompt)
	if !term.IsTerminal(int(syscall.Stdin)) {
		line, err := stdin.ReadString('\n')
		if err != nil && line == "" {
			return "", err
		}
		return strings.TrimRight(line, "\r\n"), nil
	}
	b, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println() // New line after password input
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// readNewSecret asks twice until both entries match.
func readNewSecret(what string) (string, error) {
	for {
		first, err := readSecret(fmt.Sprintf("Enter %s: ", what))
		if err != nil {
			return "", err
		}
		if first == "" {
			fmt.Printf("The %s cannot be empty. Please try again.\n", what)
			continue
		}
		second, err := readSecret(fmt.Sprintf("Confirm %s: ", what))
		if err != nil {
			return "", err
		}
		if first != second {
			fmt.Printf("The %ss do not match. Please try again.\n", what)
			continue
		}
		return first, nil
	}
}

func confirm(prompt string) bool {
	answer, err := readLine(prompt + " [y/N] ")
	if err != nil {
		return false
	}
	return strings.EqualFold(answer, "y") || strings.EqualFold(answer, "yes")
}
