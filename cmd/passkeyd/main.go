// Copyright (c) 2026 The passkeyd Authors
//
// This file is part of passkeyd.
//
// Use of this source code is governed by the MIT license
// found in the LICENSE file.

package main

import (
	"fmt"
	"os"

	"github.com/passkeyd/passkeyd/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
