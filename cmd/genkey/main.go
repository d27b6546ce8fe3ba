// genkey creates an operator keypair for the admin API.
package main

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"flag"
	"fmt"
	"os"
)

func main() {
	out := flag.String("out", "", "write the private key to this file (mode 0600) instead of stdout")
	flag.Parse()

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		fmt.Fprintln(os.Stderr, "generate key:", err)
		os.Exit(1)
	}
	privB64 := base64.StdEncoding.EncodeToString(priv)

	// Server side.
	fmt.Printf("OPERATOR_PUBLIC_KEY=%s\n", base64.StdEncoding.EncodeToString(pub))

	if *out == "" {
		fmt.Printf("INDEXER_PRIVATE_KEY=%s\n", privB64)
		return
	}
	if err := os.WriteFile(*out, []byte(privB64+"\n"), 0o600); err != nil {
		fmt.Fprintln(os.Stderr, "write key:", err)
		os.Exit(1)
	}
	fmt.Fprintf(os.Stderr, "private key written to %s\n", *out)
}
