// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package provision

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/jeranaias/pocketllm/internal/metrics"
	"github.com/jeranaias/pocketllm/internal/util"
)

// Progress is reported after every chunk written to disk.
type Progress struct {
	Written int64
	// Total is -1 when the server did not declare a length.
	Total int64
}

// Percent returns Written/Total*100, or 0 when Total is unknown.
func (p Progress) Percent() float64 {
	if p.Total <= 0 {
		return 0
	}
	return float64(p.Written) / float64(p.Total) * 100
}

// ProgressFunc receives download progress.
type ProgressFunc func(Progress)

const chunkSize = 32 << 10

// Downloader streams an artifact into place.
type Downloader struct {
	client  *http.Client
	metrics *metrics.Metrics
}

// NewDownloader returns a Downloader; both arguments may be nil.
func NewDownloader(client *http.Client, m *metrics.Metrics) *Downloader {
	if client == nil {
		client = http.DefaultClient
	}
	return &Downloader{client: client, metrics: m}
}

// Download fetches a.URL into a.Path. The bytes go to a temp file next to the
// target which is renamed into place only after the body has been read
// completely; on any failure the temp file is removed and a.Path is untouched.
func (d *Downloader) Download(ctx context.Context, a Artifact, onProgress ProgressFunc) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.URL, nil)
	if err != nil {
		return 0, &Error{Kind: KindDownloadFailed, Op: "download", Cause: err}
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return 0, &Error{Kind: KindDownloadFailed, Op: "download", Cause: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, &Error{Kind: KindDownloadFailed, Op: "download", Cause: fmt.Errorf("status %s", resp.Status)}
	}

	w, err := util.NewAtomicWriter(a.Path, 0o644)
	if err != nil {
		return 0, &Error{Kind: KindDownloadFailed, Op: "download", Cause: err}
	}
	defer w.Abort()

	total := resp.ContentLength
	buf := make([]byte, chunkSize)
	for {
		n, rerr := resp.Body.Read(buf)
		if n > 0 {
			if _, err := w.Write(buf[:n]); err != nil {
				return w.Written(), &Error{Kind: KindDownloadFailed, Op: "write", Cause: err}
			}
			d.metrics.Downloaded(int64(n))
			if onProgress != nil {
				onProgress(Progress{Written: w.Written(), Total: total})
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return w.Written(), &Error{Kind: KindDownloadFailed, Op: "download", Cause: rerr}
		}
	}

	if total >= 0 && w.Written() != total {
		return w.Written(), &Error{
			Kind:  KindDownloadFailed,
			Op:    "download",
			Cause: fmt.Errorf("short body: got %d of %d bytes", w.Written(), total),
		}
	}

	if err := w.Commit(); err != nil {
		return w.Written(), &Error{Kind: KindDownloadFailed, Op: "commit", Cause: err}
	}
	return w.Written(), nil
}
