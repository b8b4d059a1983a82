package main

import (
	"bufio"
	"encoding/hex"
	"fmt"
	stdlog "log"
	"os"
	"strings"

	"golang.org/x/term"
)

var stdin = bufio.NewReader(os.Stdin)

func ask(description string) string {
	fmt.Printf("%s: ", description)
	text, err := stdin.ReadString('\n')
	if err != nil {
		stdlog.Fatal(err)
	}

	return strings.TrimSpace(text)
}

// askSecret reads without echo when stdin is a terminal.
func askSecret(description string) string {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return ask(description)
	}

	fmt.Printf("%s: ", description)
	secret, err := term.ReadPassword(fd)
	fmt.Println()
	if err != nil {
		stdlog.Fatal(err)
	}

	return strings.TrimSpace(string(secret))
}

func askHex(description string) []byte {
	s := strings.TrimPrefix(ask(description), "0x")

	data, err := hex.DecodeString(s)
	if err != nil {
		stdlog.Fatal(err)
	}

	return data
}
