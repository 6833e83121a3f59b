// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package provision gets the model artifact onto disk and into the runtime.
//
// A Provisioner walks Uninitialized, Verifying, Downloading, Verified, Loading
// and Ready. A local file that fails verification is deleted and downloaded
// again; a file the runtime refuses to load is deleted too, so the next
// attempt starts from scratch.
//
// # Integrity
//
// Verifier only compares the byte length of the local file with the
// Content-Length the server reports for a HEAD request. A file of the right
// size with different content passes. The runtime load is the only content
// check.
//
// # Usage
//
//	p := provision.New(provision.Options{
//	    Artifact: provision.Artifact{URL: url, Path: path},
//	    Runtime:  runtime,
//	    OnProgress: func(pr provision.Progress) {
//	        fmt.Printf("\r%.0f%%", pr.Percent())
//	    },
//	})
//	state, err := p.Provision(ctx)
package provision
