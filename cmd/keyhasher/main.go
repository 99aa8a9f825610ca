// Package main provides the offline key hashing tool for Fletcher service
// accounts.
//
// The server never hashes keys at runtime; an operator hashes a service's
// pre-shared key here and pastes the output into the service account
// configuration. Verification reads the cost from the stored hash, so the
// cost chosen here needs no matching server setting.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/fletcher-io/fletcher/internal/auth"
)

func main() {
	key := flag.String("key", "", "key to hash (prompted for when omitted)")
	cost := flag.Int("cost", bcrypt.DefaultCost, "bcrypt cost (4-31)")
	flag.Parse()

	if *key == "" {
		// Prompting keeps the key out of shell history.
		fmt.Fprint(os.Stderr, "key: ")

		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil && line == "" {
			fmt.Fprintf(os.Stderr, "failed to read key: %v\n", err)
			os.Exit(1)
		}

		*key = strings.TrimRight(line, "\r\n")
	}

	hash, err := auth.HashKeyWithCost(*key, *cost)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to hash key: %v\n", err)
		os.Exit(1)
	}

	fmt.Println(hash)
}
