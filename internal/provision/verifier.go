// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package provision

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
)

// Artifact is a remote file and where it lives locally.
type Artifact struct {
	URL  string
	Path string
}

// Verifier checks a local artifact against the size its server declares.
type Verifier struct {
	client *http.Client
}

// NewVerifier returns a Verifier using client, or http.DefaultClient when nil.
func NewVerifier(client *http.Client) *Verifier {
	if client == nil {
		client = http.DefaultClient
	}
	return &Verifier{client: client}
}

// RemoteSize issues a HEAD request and returns the declared Content-Length.
func (v *Verifier) RemoteSize(ctx context.Context, a Artifact) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, a.URL, nil)
	if err != nil {
		return 0, &Error{Kind: KindMetadataUnavailable, Op: "head", Cause: err}
	}

	resp, err := v.client.Do(req)
	if err != nil {
		return 0, &Error{Kind: KindMetadataUnavailable, Op: "head", Cause: err}
	}
	resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return 0, &Error{Kind: KindMetadataUnavailable, Op: "head", Cause: fmt.Errorf("status %s", resp.Status)}
	}

	raw := strings.TrimSpace(resp.Header.Get("Content-Length"))
	if raw == "" {
		return 0, &Error{Kind: KindMetadataUnavailable, Op: "head", Cause: fmt.Errorf("no Content-Length")}
	}
	size, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || size < 0 {
		return 0, &Error{Kind: KindMetadataUnavailable, Op: "head", Cause: fmt.Errorf("bad Content-Length %q", raw)}
	}
	return size, nil
}

// Verify reports whether the local file has exactly the declared size. It
// never modifies the file.
func (v *Verifier) Verify(ctx context.Context, a Artifact) (bool, error) {
	declared, err := v.RemoteSize(ctx, a)
	if err != nil {
		return false, err
	}

	info, err := os.Stat(a.Path)
	if err != nil {
		return false, err
	}
	return info.Size() == declared, nil
}
