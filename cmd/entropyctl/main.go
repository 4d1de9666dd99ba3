// Command entropyctl is a small client CLI talking to one or more running
// Entropy services, supplementing the core per SPEC_FULL.md §4: the
// original entropy/client.py ships a standalone Endpoint specifically so
// operators and other services can store/fetch/check objects without
// reimplementing the wire format; entropyctl plays that role here, built
// directly on pkg/backend/remote (the remote backend IS an Entropy
// client). Subcommands each get their own flag.FlagSet, following the
// teacher's per-command cmd/registry, cmd/push style.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/fusionapp/entropy/pkg/backend"
	"github.com/fusionapp/entropy/pkg/backend/remote"
	"github.com/fusionapp/entropy/pkg/object"
)

const usage = `Usage: entropyctl <command> [options]

Commands:
  put -backend <url> <file>            store a file, print its object id
  get -backend <url> [-backend <url>...] -out <file> <objectId>
                                        fetch an object, trying backends in order
  exists -backend <url> [-backend <url>...] <objectId>
                                        check presence without fetching content
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(1)
	}
	var err error
	switch os.Args[1] {
	case "put":
		err = runPut(os.Args[2:])
	case "get":
		err = runGet(os.Args[2:])
	case "exists":
		err = runExists(os.Args[2:])
	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "entropyctl:", err)
		os.Exit(1)
	}
}

func backendsFromFlags(backends backendList) []*remote.Backend {
	clients := make([]*remote.Backend, len(backends))
	for i, url := range backends {
		clients[i] = remote.New(url, url, nil)
	}
	return clients
}

func runPut(args []string) error {
	fs := flag.NewFlagSet("put", flag.ExitOnError)
	var backends backendList
	fs.Var(&backends, "backend", "peer Entropy URL to store to (repeatable)")
	contentType := fs.String("content-type", "", "Content-Type of the file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if len(backends) == 0 || fs.NArg() != 1 {
		return fmt.Errorf("put requires at least one -backend and exactly one file argument")
	}
	content, err := os.ReadFile(fs.Arg(0))
	if err != nil {
		return err
	}
	ctx := context.Background()
	var objectID string
	for _, b := range backendsFromFlags(backends) {
		objectID, err = b.StoreObject(ctx, backend.StoreOptions{Content: content, ContentType: *contentType})
		if err != nil {
			return fmt.Errorf("storing to %s: %w", b.Name(), err)
		}
	}
	fmt.Println(objectID)
	return nil
}

func runGet(args []string) error {
	fs := flag.NewFlagSet("get", flag.ExitOnError)
	var backends backendList
	fs.Var(&backends, "backend", "peer Entropy URL to try, in order (repeatable)")
	out := fs.String("out", "", "file to write the object content to (default: stdout)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if len(backends) == 0 || fs.NArg() != 1 {
		return fmt.Errorf("get requires at least one -backend and exactly one objectId argument")
	}
	objectID := fs.Arg(0)
	ctx := context.Background()

	var obj object.Object
	var lastErr error
	for _, b := range backendsFromFlags(backends) {
		o, err := b.GetObject(ctx, objectID)
		if err == nil {
			obj = o
			break
		}
		lastErr = err
	}
	if obj == nil {
		return fmt.Errorf("no backend had %s: %w", objectID, lastErr)
	}

	reader, err := obj.Open(ctx)
	if err != nil {
		return err
	}
	defer reader.Close()

	writer := io.Writer(os.Stdout)
	if *out != "" {
		f, err := os.Create(*out)
		if err != nil {
			return err
		}
		defer f.Close()
		writer = f
	}
	_, err = io.Copy(writer, reader)
	return err
}

func runExists(args []string) error {
	fs := flag.NewFlagSet("exists", flag.ExitOnError)
	var backends backendList
	fs.Var(&backends, "backend", "peer Entropy URL to try, in order (repeatable)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if len(backends) == 0 || fs.NArg() != 1 {
		return fmt.Errorf("exists requires at least one -backend and exactly one objectId argument")
	}
	objectID := fs.Arg(0)
	ctx := context.Background()

	for _, b := range backendsFromFlags(backends) {
		ok, err := b.Exists(ctx, objectID)
		if err != nil {
			return fmt.Errorf("checking %s: %w", b.Name(), err)
		}
		if ok {
			fmt.Println("yes")
			return nil
		}
	}
	fmt.Println("no")
	return nil
}
