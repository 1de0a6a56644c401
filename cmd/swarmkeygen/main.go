// Command swarmkeygen manages the ed25519 identity a live swarm uses to
// sign SIGNED-INTEGRITY records, adapted from cmd/keygen/main.go's
// generate/show/export subcommands onto internal/identity's Argon2id
// keystore instead of the teacher's session-transport identity. Only the
// generate and show subcommands exist here; there is no export.
package main

import (
	"encoding/base64"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"syscall"

	"github.com/quantarax/swarmd/internal/identity"
	"golang.org/x/term"
)

const identityPubFile = "swarm-identity.pub"

var (
	outputDir    string
	noPassphrase bool
	force        bool
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	args := os.Args[2:]
	switch os.Args[1] {
	case "generate":
		generateCmd(args)
	case "show":
		showCmd(args)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("swarmkeygen - manage a swarm's live-signing identity")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  swarmkeygen generate [flags]   generate a new signing keypair")
	fmt.Println("  swarmkeygen show [flags]       print a keypair's public key and fingerprint")
}

func generateCmd(args []string) {
	fs := flag.NewFlagSet("generate", flag.ExitOnError)
	fs.StringVar(&outputDir, "output-dir", identity.DefaultKeystorePath(), "key storage directory")
	fs.BoolVar(&noPassphrase, "no-passphrase", false, "store the key unencrypted")
	fs.BoolVar(&force, "force", false, "overwrite an existing key")
	fs.Parse(args)

	if err := os.MkdirAll(outputDir, 0o700); err != nil {
		fmt.Fprintf(os.Stderr, "create output directory: %v\n", err)
		os.Exit(1)
	}
	keyPath := filepath.Join(outputDir, "swarm-identity.key")
	pubPath := filepath.Join(outputDir, identityPubFile)

	if !force {
		if _, err := os.Stat(keyPath); err == nil {
			fmt.Print("a signing key already exists here. overwrite? [y/N]: ")
			var response string
			fmt.Scanln(&response)
			if response != "y" && response != "Y" {
				fmt.Println("aborted")
				return
			}
		}
	}

	kp, err := identity.Generate()
	if err != nil {
		fmt.Fprintf(os.Stderr, "generate keypair: %v\n", err)
		os.Exit(1)
	}

	var passphrase string
	if !noPassphrase {
		fmt.Print("enter passphrase (leave empty for no encryption): ")
		pass, err := term.ReadPassword(int(syscall.Stdin))
		fmt.Println()
		if err != nil {
			fmt.Fprintf(os.Stderr, "read passphrase: %v\n", err)
			os.Exit(1)
		}
		passphrase = string(pass)
	}

	if err := identity.SaveKey(kp.PrivateKey, keyPath, passphrase); err != nil {
		fmt.Fprintf(os.Stderr, "save signing key: %v\n", err)
		os.Exit(1)
	}
	pubB64 := base64.StdEncoding.EncodeToString(kp.PublicKey)
	if err := os.WriteFile(pubPath, []byte(pubB64+"\n"), 0o644); err != nil {
		fmt.Fprintf(os.Stderr, "save public key: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("signing keypair generated")
	fmt.Printf("public key:  %s\n", pubB64)
	fmt.Printf("fingerprint: %s\n", identity.Fingerprint(kp.PublicKey))
	fmt.Printf("stored in:   %s\n", outputDir)
	if passphrase == "" {
		fmt.Println("warning: key stored without encryption")
	}
}

func showCmd(args []string) {
	fs := flag.NewFlagSet("show", flag.ExitOnError)
	fs.StringVar(&outputDir, "keys-dir", identity.DefaultKeystorePath(), "key storage directory")
	fs.Parse(args)

	pubPath := filepath.Join(outputDir, identityPubFile)
	data, err := os.ReadFile(pubPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "read public key: %v\n", err)
		fmt.Fprintln(os.Stderr, "run 'swarmkeygen generate' first")
		os.Exit(1)
	}
	pubB64 := string(data[:len(data)-1])
	pubKey, err := base64.StdEncoding.DecodeString(pubB64)
	if err != nil {
		fmt.Fprintf(os.Stderr, "decode public key: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("public key:  %s\n", pubB64)
	fmt.Printf("fingerprint: %s\n", identity.Fingerprint(pubKey))
}
