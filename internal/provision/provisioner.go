// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package provision

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/jeranaias/pocketllm/internal/inference"
	"github.com/jeranaias/pocketllm/internal/metrics"
)

// =============================================================================
// STATE
// =============================================================================

// Phase is a step of the provisioning state machine.
type Phase int

const (
	PhaseUninitialized Phase = iota
	PhaseVerifying
	PhaseDownloading
	PhaseVerified
	PhaseLoading
	PhaseReady
)

// String returns the phase name.
func (p Phase) String() string {
	switch p {
	case PhaseUninitialized:
		return "uninitialized"
	case PhaseVerifying:
		return "verifying"
	case PhaseDownloading:
		return "downloading"
	case PhaseVerified:
		return "verified"
	case PhaseLoading:
		return "loading"
	case PhaseReady:
		return "ready"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// State is a snapshot of the provisioner. Loaded implies Verified.
type State struct {
	Phase    Phase
	Verified bool
	Loaded   bool
	// Progress is the download percentage in [0, 100].
	Progress float64
	// Model is set once Loaded.
	Model inference.Model
}

// Ready reports whether a model is available for completions.
func (s State) Ready() bool {
	return s.Loaded && s.Model != nil
}

// =============================================================================
// PROVISIONER
// =============================================================================

// Options configures a Provisioner. Artifact and Runtime are required.
type Options struct {
	Artifact Artifact
	Runtime  inference.Runtime

	HTTPClient *http.Client
	Metrics    *metrics.Metrics
	Logger     zerolog.Logger

	// OnProgress is called for every downloaded chunk.
	OnProgress ProgressFunc
	// OnPhase is called on every phase transition.
	OnPhase func(Phase)

	// FreeSpace overrides the free disk space probe.
	FreeSpace func(dir string) (uint64, error)
}

// Provisioner drives one artifact through verification, download and load.
// Only one Provision call runs at a time.
type Provisioner struct {
	opts        Options
	verifier    *Verifier
	downloader  *Downloader
	log         zerolog.Logger
	progressLog rate.Sometimes

	running atomic.Bool

	mu    sync.Mutex
	state State
}

// New creates a Provisioner in the Uninitialized phase.
func New(opts Options) *Provisioner {
	if opts.FreeSpace == nil {
		opts.FreeSpace = freeDiskSpace
	}
	return &Provisioner{
		opts:        opts,
		verifier:    NewVerifier(opts.HTTPClient),
		downloader:  NewDownloader(opts.HTTPClient, opts.Metrics),
		log:         opts.Logger.With().Str("artifact", opts.Artifact.Path).Logger(),
		progressLog: rate.Sometimes{Interval: 2 * time.Second},
	}
}

// Artifact returns the artifact this provisioner manages.
func (p *Provisioner) Artifact() Artifact {
	return p.opts.Artifact
}

// Verifier exposes the verifier used for the artifact.
func (p *Provisioner) Verifier() *Verifier {
	return p.verifier
}

// State returns a snapshot of the current state.
func (p *Provisioner) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Model returns the loaded model, or nil when not ready.
func (p *Provisioner) Model() inference.Model {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.state.Loaded {
		return nil
	}
	return p.state.Model
}

func (p *Provisioner) update(fn func(s *State)) {
	p.mu.Lock()
	before := p.state.Phase
	fn(&p.state)
	after := p.state.Phase
	p.mu.Unlock()

	if before != after {
		p.log.Debug().Stringer("from", before).Stringer("to", after).Msg("phase change")
		if p.opts.OnPhase != nil {
			p.opts.OnPhase(after)
		}
	}
}

func (p *Provisioner) setPhase(ph Phase) {
	p.update(func(s *State) { s.Phase = ph })
}

func (p *Provisioner) resetState() {
	p.update(func(s *State) { *s = State{} })
	p.opts.Metrics.ModelUnloaded()
}

// Provision brings the artifact to Ready. Calling it when already Ready
// returns the current state. A concurrent call returns ErrProvisionInProgress.
//
// Each call ends with exactly one result: the Ready state, or an error after
// which the state is back to Uninitialized (download failure or a rejected
// artifact) or Verified (runtime unreachable or context cancelled during load).
func (p *Provisioner) Provision(ctx context.Context) (State, error) {
	if !p.running.CompareAndSwap(false, true) {
		return p.State(), ErrProvisionInProgress
	}
	defer p.running.Store(false)

	if st := p.State(); st.Ready() {
		return st, nil
	}

	start := time.Now()
	outcome := "error"
	defer func() { p.opts.Metrics.Provisioned(outcome, time.Since(start)) }()

	a := p.opts.Artifact
	if !p.State().Verified {
		if err := p.ensureVerified(ctx, a); err != nil {
			p.resetState()
			outcome = outcomeFor(ctx, err)
			return p.State(), err
		}
	}

	p.setPhase(PhaseLoading)
	m, err := p.opts.Runtime.Load(ctx, a.Path)
	if err != nil {
		if ctx.Err() != nil {
			p.setPhase(PhaseVerified)
			outcome = "canceled"
			return p.State(), ctx.Err()
		}
		if errors.Is(err, inference.ErrRuntimeUnavailable) {
			p.log.Warn().Err(err).Msg("runtime unreachable, keeping verified artifact")
			p.setPhase(PhaseVerified)
			outcome = "runtime_unavailable"
			return p.State(), &Error{Kind: KindRuntimeUnavailable, Op: "load", Cause: err}
		}
		p.log.Error().Err(err).Msg("runtime rejected model, deleting artifact")
		if rmErr := os.Remove(a.Path); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			p.log.Warn().Err(rmErr).Msg("failed to delete rejected artifact")
		}
		p.resetState()
		outcome = "load_failed"
		return p.State(), &Error{Kind: KindModelLoadFailed, Op: "load", Cause: err}
	}

	p.update(func(s *State) {
		s.Phase = PhaseReady
		s.Loaded = true
		s.Model = m
	})
	outcome = "ready"
	p.log.Info().Str("model", m.Name()).Dur("took", time.Since(start)).Msg("model ready")
	return p.State(), nil
}

// ensureVerified leaves a verified artifact at a.Path, downloading it when the
// local copy is missing or does not match.
func (p *Provisioner) ensureVerified(ctx context.Context, a Artifact) error {
	p.setPhase(PhaseVerifying)

	if _, err := os.Stat(a.Path); err == nil {
		ok, verr := p.verifier.Verify(ctx, a)
		switch {
		case verr != nil:
			if ctx.Err() != nil {
				return ctx.Err()
			}
			p.opts.Metrics.Verified("error")
			p.log.Warn().Err(verr).Msg("verification failed, downloading again")
		case !ok:
			p.opts.Metrics.Verified("invalid")
			p.log.Info().Msg("local artifact size mismatch, downloading again")
		default:
			p.opts.Metrics.Verified("valid")
			p.markVerified()
			return nil
		}
		if err := os.Remove(a.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return &Error{Kind: KindDownloadFailed, Op: "remove", Cause: err}
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := p.checkDisk(ctx, a); err != nil {
		return err
	}

	p.setPhase(PhaseDownloading)
	n, err := p.downloader.Download(ctx, a, p.onProgress)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		p.log.Error().Err(err).Int64("bytes", n).Msg("download failed")
		return err
	}
	p.log.Info().Int64("bytes", n).Msg("download complete")

	p.markVerified()
	return nil
}

func (p *Provisioner) markVerified() {
	p.update(func(s *State) {
		s.Phase = PhaseVerified
		s.Verified = true
		s.Progress = 100
	})
}

func (p *Provisioner) onProgress(pr Progress) {
	pct := pr.Percent()
	p.update(func(s *State) { s.Progress = pct })

	p.progressLog.Do(func() {
		p.log.Debug().Int64("written", pr.Written).Int64("total", pr.Total).
			Float64("percent", pct).Msg("downloading")
	})
	if p.opts.OnProgress != nil {
		p.opts.OnProgress(pr)
	}
}

// checkDisk refuses to start a download that cannot fit. Metadata errors are
// not fatal here; the download itself reports real failures.
func (p *Provisioner) checkDisk(ctx context.Context, a Artifact) error {
	size, err := p.verifier.RemoteSize(ctx, a)
	if err != nil {
		p.log.Debug().Err(err).Msg("skipping disk space check")
		return nil
	}

	dir := filepath.Dir(a.Path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return &Error{Kind: KindDownloadFailed, Op: "mkdir", Cause: err}
	}
	free, err := p.opts.FreeSpace(dir)
	if err != nil {
		p.log.Debug().Err(err).Msg("could not read free disk space")
		return nil
	}
	if uint64(size) > free {
		return &Error{
			Kind:  KindInsufficientDisk,
			Op:    "preflight",
			Cause: fmt.Errorf("need %d bytes, %d available in %s", size, free, dir),
		}
	}
	return nil
}

// FreeSpace returns the bytes available in the artifact's directory.
func (p *Provisioner) FreeSpace() (uint64, error) {
	dir := filepath.Dir(p.opts.Artifact.Path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, err
	}
	return p.opts.FreeSpace(dir)
}

// Reset deletes the local artifact and returns to Uninitialized. It fails
// with ErrProvisionInProgress while Provision runs.
func (p *Provisioner) Reset() error {
	if !p.running.CompareAndSwap(false, true) {
		return ErrProvisionInProgress
	}
	defer p.running.Store(false)

	p.resetState()
	if err := os.Remove(p.opts.Artifact.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// invalidate drops back to Uninitialized after the artifact vanished. It is a
// no-op while Provision runs or when nothing was verified.
func (p *Provisioner) invalidate(reason string) {
	if !p.running.CompareAndSwap(false, true) {
		return
	}
	defer p.running.Store(false)

	if !p.State().Verified {
		return
	}
	p.log.Warn().Str("reason", reason).Msg("artifact gone, provisioning state reset")
	p.resetState()
}

func outcomeFor(ctx context.Context, err error) string {
	switch {
	case ctx.Err() != nil:
		return "canceled"
	case errors.Is(err, ErrInsufficientDisk):
		return "insufficient_disk"
	case errors.Is(err, ErrDownloadFailed):
		return "download_failed"
	default:
		return "error"
	}
}
