package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/Mcnoble1/Medisphere-sub001/internal/api/middleware"
	"github.com/Mcnoble1/Medisphere-sub001/internal/crypto"
)

func main() {
	privKeyB64 := flag.String("key", os.Getenv("INDEXER_PRIVATE_KEY"), "Base64-encoded Ed25519 private key (default $INDEXER_PRIVATE_KEY)")
	operator := flag.String("operator", os.Getenv("INDEXER_OPERATOR"), "Operator name (default $INDEXER_OPERATOR)")
	bodyFile := flag.String("body", "", "File containing request body (or use stdin)")
	empty := flag.Bool("empty", false, "Sign an empty body without reading stdin")
	flag.Parse()

	if *privKeyB64 == "" || *operator == "" {
		fmt.Fprintln(os.Stderr, "Usage: sign -key <private-key-base64> -operator <name> [-body <file> | -empty]")
		fmt.Fprintln(os.Stderr, "  Reads body from stdin if neither -body nor -empty is given")
		os.Exit(1)
	}

	privKey, err := crypto.ParsePrivateKey(*privKeyB64)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid private key: %v\n", err)
		os.Exit(1)
	}

	var body []byte
	switch {
	case *empty:
	case *bodyFile != "":
		body, err = os.ReadFile(*bodyFile)
	default:
		body, err = io.ReadAll(os.Stdin)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to read body: %v\n", err)
		os.Exit(1)
	}

	nonce, err := crypto.NewNonce()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to generate nonce: %v\n", err)
		os.Exit(1)
	}
	timestamp := time.Now().UnixMilli()
	signature := crypto.SignRequest(privKey, body, nonce, timestamp)

	// Output headers
	fmt.Printf("%s: %s\n", middleware.HeaderOperator, *operator)
	fmt.Printf("%s: %s\n", middleware.HeaderNonce, nonce)
	fmt.Printf("%s: %d\n", middleware.HeaderTimestamp, timestamp)
	fmt.Printf("%s: %s\n", middleware.HeaderSignature, signature)
}
