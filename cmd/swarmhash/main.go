// Command swarmhash pre-hashes a file into a swarm's Merkle tree and
// sidecar files without starting an engine, mirroring cmd/chunker's
// standalone manifest-computation flow but producing the root hash and
// .mhash/.mbinmap sidecars internal/store and internal/engine expect.
package main

import (
	"encoding/hex"
	"flag"
	"fmt"
	"os"

	"github.com/quantarax/swarmd/internal/store"
	"github.com/quantarax/swarmd/internal/wire"
)

func main() {
	chunkSize := flag.Uint("chunk-size", 1024, "chunk size in bytes")
	hashFn := flag.Uint("hash-fn", 0, "merkle hash function: 0=SHA1, 1=BLAKE3, 2=SHA256")
	flag.Parse()

	if flag.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Usage: swarmhash [options] <file_path>")
		fmt.Fprintln(os.Stderr, "")
		fmt.Fprintln(os.Stderr, "Options:")
		flag.PrintDefaults()
		os.Exit(1)
	}
	filePath := flag.Arg(0)

	if _, err := os.Stat(filePath); os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "Error: file not found: %s\n", filePath)
		os.Exit(2)
	}

	fn := wire.MerkleHashFunction(*hashFn)
	if fn != wire.HashSHA1 && fn != wire.HashBLAKE3 && fn != wire.HashSHA256 {
		fmt.Fprintf(os.Stderr, "Error: unsupported hash-fn %d\n", *hashFn)
		os.Exit(3)
	}

	fmt.Fprintf(os.Stderr, "Hashing file: %s\n", filePath)
	sf, err := store.Seed(filePath, uint32(*chunkSize), fn)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error computing tree: %v\n", err)
		os.Exit(4)
	}
	defer sf.Close()

	fmt.Fprintf(os.Stderr, "Chunk size: %d bytes\n", *chunkSize)
	fmt.Fprintf(os.Stderr, "Chunks: %d\n", sf.TotalChunks())
	fmt.Printf("%s\n", hex.EncodeToString(sf.SwarmID()))
}
