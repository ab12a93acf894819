// Generates the RSA key pair used to protect login and account creation requests.
//
// Usage:
//
//	keygen [-bits 1024] [-out rsa.pem]
//
// The private key is written as a PKCS#1 PEM file for the server's rsa.private_key_file
// setting. The modulus and public exponent are printed so they can be patched into
// the client.
package main

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"flag"
	"fmt"
	"os"

	"github.com/dcrodman/lodestone/internal/encryption"
)

var (
	bits = flag.Int("bits", 1024, "Size of the modulus in bits")
	out  = flag.String("out", "rsa.pem", "File to write the private key to")
)

func main() {
	flag.Parse()

	privateKey, err := rsa.GenerateKey(rand.Reader, *bits)
	if err != nil {
		fmt.Printf("error generating RSA key: %s\n", err)
		os.Exit(1)
	}

	if err := writePrivateKeyFile(privateKey, *out); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	fmt.Printf("wrote %s\n", *out)

	// Make sure the server will be able to read what was just written.
	key, err := encryption.LoadLoginKey(*out)
	if err != nil {
		fmt.Printf("error reading back %s: %s\n", *out, err)
		os.Exit(1)
	}

	fmt.Printf(
		"\nDone! Set rsa.private_key_file to %s and patch the client with:\n\n"+
			"modulus:  %s\n"+
			"exponent: %d\n",
		*out,
		key.PublicKey().N.String(),
		key.PublicKey().E,
	)
}

func writePrivateKeyFile(privateKey *rsa.PrivateKey, path string) error {
	keyOut, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("error creating key %s: %w", path, err)
	}
	defer keyOut.Close()

	keyBytes := x509.MarshalPKCS1PrivateKey(privateKey)
	if err := pem.Encode(keyOut, &pem.Block{Type: "RSA PRIVATE KEY", Bytes: keyBytes}); err != nil {
		return fmt.Errorf("error encoding key %s: %w", path, err)
	}
	return nil
}
