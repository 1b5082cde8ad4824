// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command forge is the AleutianForge CLI.
//
// # Usage
//
//	# One-shot generation
//	forge generate -l go "A REST API for a todo list"
//
//	# Generate, test and fix
//	forge run -l python -n 5 -o app.py "A Flask API that stores notes"
//
//	# HTTP service
//	forge serve --port 12310
//
// Configuration is read from ~/.aleutian/forge.yaml when present. The API
// key comes from OPENAI_API_KEY, the Podman secret file, or the config file,
// in that order.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/awnumar/memguard"
)

func main() {
	os.Exit(run(context.Background(), os.Args[1:]))
}

// run executes the CLI and returns the process exit code. Deferred cleanup
// runs before main exits.
func run(ctx context.Context, args []string) int {
	defer memguard.Purge()

	a := newApp(os.Stdout, os.Stderr)
	root := newRootCmd(a)
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	a.teardown()
	if err != nil {
		if !errors.Is(err, errReported) {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		return 1
	}
	return 0
}
