// Command keygen hashes user and admin passwords for storing in PWDHASH and checks
// passwords against stored hashes.
package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/janrain/backplane/server/auth/basic"
)

func main() {
	var password = flag.String("password", "", "Password to hash or validate")
	var hash = flag.String("validate", "", "Stored hash to validate the password against")
	flag.Parse()

	if *password == "" {
		flag.Usage()
		os.Exit(1)
	}
	if *hash != "" {
		os.Exit(validate(os.Stdout, *password, *hash))
	}
	os.Exit(generate(os.Stdout, *password))
}

func generate(out io.Writer, password string) int {
	hash, err := basic.Hash(password)
	if err != nil {
		fmt.Fprintln(out, "Failed to hash password:", err)
		return 1
	}
	fmt.Fprintln(out, hash)
	return 0
}

func validate(out io.Writer, password, hash string) int {
	if err := basic.CheckHash(password, hash); err != nil {
		fmt.Fprintln(out, "INVALID:", err)
		return 1
	}
	fmt.Fprintln(out, "Valid")
	return 0
}
