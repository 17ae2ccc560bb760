// Command bitquill is a thin CLI exercising the engine end-to-end, the
// way the teacher's apps/helm-node/main.go dispatches its kernel through
// a manual switch over os.Args rather than a flags framework.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/ciphernom/bitquill/pkg/composer"
	"github.com/ciphernom/bitquill/pkg/config"
	"github.com/ciphernom/bitquill/pkg/delta"
	"github.com/ciphernom/bitquill/pkg/document"
	"github.com/ciphernom/bitquill/pkg/store"
)

func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// Run is the entrypoint, factored out for testability the way
// apps/helm-node/main.go's Run(args, stdout, stderr) is.
func Run(args []string, stdout, stderr io.Writer) int {
	logger := slog.Default()

	if len(args) < 2 {
		printUsage(stdout)
		return 0
	}

	switch args[1] {
	case "new":
		return runNew(stdout)
	case "append":
		return runAppend(args[2:], stdout, stderr, logger)
	case "verify":
		return runVerify(args[2:], stdout, stderr)
	case "export":
		return runExport(args[2:], stdout, stderr)
	case "archive":
		return runArchive(args[2:], stdout, stderr)
	case "help", "--help", "-h":
		printUsage(stdout)
		return 0
	default:
		fmt.Fprintf(stdout, "Unknown command: %s\n", args[1])
		printUsage(stdout)
		return 1
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "Usage: bitquill <command> [arguments]")
	fmt.Fprintln(w, "\nCommands:")
	fmt.Fprintln(w, "  new             Create a fresh log and print its genesis state")
	fmt.Fprintln(w, "  append <text>   Append an insert-delta edit and print the new root")
	fmt.Fprintln(w, "  verify <file>   Load a serialized log and verify every leaf")
	fmt.Fprintln(w, "  export <file>   Create a log, append a demo edit, and write it to file")
	fmt.Fprintln(w, "  archive <db>    Create a log, append a demo edit, and persist it to a sqlite file keyed by root hash")
}

func runNew(stdout io.Writer) int {
	log, err := document.NewLog(composer.NewJSONComposer(), config.Default())
	if err != nil {
		fmt.Fprintf(stdout, "failed to create log: %v\n", err)
		return 1
	}
	fmt.Fprintf(stdout, "genesis root: %s\n", log.CurrentRoot().Hex())
	return 0
}

func runAppend(args []string, stdout, stderr io.Writer, logger *slog.Logger) int {
	if len(args) < 1 {
		fmt.Fprintln(stderr, "append requires a text argument")
		return 1
	}

	ctx := context.Background()
	log, err := document.NewLog(composer.NewJSONComposer(), config.Default())
	if err != nil {
		fmt.Fprintf(stderr, "failed to create log: %v\n", err)
		return 1
	}

	d := delta.Delta{Ops: []delta.Op{{Kind: delta.OpInsert, Insert: args[0]}}}
	index, err := log.AddLeaf(ctx, d, time.Now().UnixMilli())
	if err != nil {
		logger.Error("append rejected", "error", err)
		fmt.Fprintf(stderr, "append failed: %v\n", err)
		return 1
	}

	fmt.Fprintf(stdout, "appended leaf %d, root: %s\n", index, log.CurrentRoot().Hex())
	return 0
}

func runVerify(args []string, stdout, stderr io.Writer) int {
	if len(args) < 1 {
		fmt.Fprintln(stderr, "verify requires a file argument")
		return 1
	}
	blob, err := os.ReadFile(args[0])
	if err != nil {
		fmt.Fprintf(stderr, "read failed: %v\n", err)
		return 1
	}

	log, err := document.Deserialize(composer.NewJSONComposer(), nil, blob)
	if err != nil {
		fmt.Fprintf(stderr, "deserialize failed: %v\n", err)
		return 1
	}

	history := log.GetHistory()
	for i := range history {
		result, err := log.VerifyProof(i)
		if err != nil || !result.Valid {
			fmt.Fprintf(stdout, "leaf %d: INVALID (%v)\n", i, err)
			return 1
		}
		fmt.Fprintf(stdout, "leaf %d: valid\n", i)
	}
	return 0
}

func runExport(args []string, stdout, stderr io.Writer) int {
	if len(args) < 1 {
		fmt.Fprintln(stderr, "export requires an output file path")
		return 1
	}

	ctx := context.Background()
	log, err := document.NewLog(composer.NewJSONComposer(), config.Default())
	if err != nil {
		fmt.Fprintf(stderr, "failed to create log: %v\n", err)
		return 1
	}
	d := delta.Delta{Ops: []delta.Op{{Kind: delta.OpInsert, Insert: "hello, bitquill"}}}
	if _, err := log.AddLeaf(ctx, d, time.Now().UnixMilli()); err != nil {
		fmt.Fprintf(stderr, "append failed: %v\n", err)
		return 1
	}

	blob, err := log.Serialize()
	if err != nil {
		fmt.Fprintf(stderr, "serialize failed: %v\n", err)
		return 1
	}

	if err := os.WriteFile(args[0], blob, 0o644); err != nil {
		fmt.Fprintf(stderr, "write failed: %v\n", err)
		return 1
	}

	var pretty map[string]any
	_ = json.Unmarshal(blob, &pretty)
	fmt.Fprintf(stdout, "exported %d bytes to %s\n", len(blob), args[0])
	return 0
}

// runArchive demonstrates the pluggable persistence layer (pkg/store):
// an embedded sqlite-backed Store keyed by Merkle root hash, the same
// Store contract a Postgres or S3/GCS-backed deployment would satisfy.
func runArchive(args []string, stdout, stderr io.Writer) int {
	if len(args) < 1 {
		fmt.Fprintln(stderr, "archive requires a sqlite db path")
		return 1
	}

	ctx := context.Background()
	log, err := document.NewLog(composer.NewJSONComposer(), config.Default())
	if err != nil {
		fmt.Fprintf(stderr, "failed to create log: %v\n", err)
		return 1
	}
	d := delta.Delta{Ops: []delta.Op{{Kind: delta.OpInsert, Insert: "hello, bitquill"}}}
	if _, err := log.AddLeaf(ctx, d, time.Now().UnixMilli()); err != nil {
		fmt.Fprintf(stderr, "append failed: %v\n", err)
		return 1
	}

	blob, err := log.Serialize()
	if err != nil {
		fmt.Fprintf(stderr, "serialize failed: %v\n", err)
		return 1
	}

	s, err := store.NewSQLStore(ctx, store.ConnectionConfig{Driver: "sqlite", DSN: args[0]})
	if err != nil {
		fmt.Fprintf(stderr, "store open failed: %v\n", err)
		return 1
	}
	defer func() { _ = s.Close() }()

	rootHash := log.CurrentRoot().Hex()
	if err := s.Put(ctx, rootHash, blob); err != nil {
		fmt.Fprintf(stderr, "store put failed: %v\n", err)
		return 1
	}

	fmt.Fprintf(stdout, "archived root %s (%d bytes) to %s\n", rootHash, len(blob), args[0])
	return 0
}
