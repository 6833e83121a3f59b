// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/jeranaias/pocketllm/internal/cli"
	"github.com/jeranaias/pocketllm/internal/provision"
)

// =============================================================================
// STYLES
// =============================================================================

var (
	brandPrimary = lipgloss.Color("#7C3AED")
	brandAccent  = lipgloss.Color("#10B981")
	brandWarning = lipgloss.Color("#F59E0B")
	brandError   = lipgloss.Color("#EF4444")
	textMuted    = lipgloss.Color("#6B7280")

	titleStyle     = lipgloss.NewStyle().Foreground(brandPrimary).Bold(true).MarginBottom(1)
	successStyle   = lipgloss.NewStyle().Foreground(brandAccent).Bold(true)
	errorStyle     = lipgloss.NewStyle().Foreground(brandError).Bold(true)
	warningStyle   = lipgloss.NewStyle().Foreground(brandWarning)
	dimStyle       = lipgloss.NewStyle().Foreground(textMuted)
	highlightStyle = lipgloss.NewStyle().Foreground(brandPrimary).Bold(true)
	boxStyle       = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(brandPrimary).
			Padding(1, 2)
)

// =============================================================================
// INSTALLER MODEL
// =============================================================================

// Step is a screen of the installer.
type Step int

const (
	StepWelcome Step = iota
	StepChecks
	StepProvision
	StepComplete
	StepFailed
)

// Check status values.
const (
	statusChecking = "checking"
	statusPass     = "pass"
	statusWarn     = "warn"
	statusFail     = "fail"
)

// CheckResult is one preflight check.
type CheckResult struct {
	Name    string
	Status  string
	Message string
	Fix     string
}

// Installer walks the user through checks and the first model download.
type Installer struct {
	app *cli.App
	ctx context.Context

	step     Step
	width    int
	height   int
	spinner  spinner.Model
	progress progress.Model

	checks       []CheckResult
	currentCheck int

	phase      provision.Phase
	downloaded int64
	total      int64
	events     chan tea.Msg
	err        error
}

// NewInstaller creates an installer for app. Provisioning stops when ctx is
// done.
func NewInstaller(ctx context.Context, app *cli.App) *Installer {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(brandPrimary)

	return &Installer{
		app:      app,
		ctx:      ctx,
		step:     StepWelcome,
		spinner:  s,
		progress: progress.New(progress.WithDefaultGradient()),
		checks: []CheckResult{
			{Name: "Ollama runtime", Status: statusChecking},
			{Name: "Model host", Status: statusChecking},
			{Name: "Disk space", Status: statusChecking},
		},
		events: make(chan tea.Msg, 64),
	}
}

// Init starts the spinner.
func (i *Installer) Init() tea.Cmd {
	return i.spinner.Tick
}

// =============================================================================
// MESSAGES
// =============================================================================

type checkCompleteMsg struct {
	index  int
	result CheckResult
}

type phaseMsg provision.Phase

type progressMsg provision.Progress

type provisionDoneMsg struct{ err error }

// =============================================================================
// UPDATE
// =============================================================================

// Update handles messages.
func (i *Installer) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return i.handleKey(msg)

	case tea.WindowSizeMsg:
		i.width = msg.Width
		i.height = msg.Height
		i.progress.Width = min(max(msg.Width-20, 20), 80)
		return i, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		i.spinner, cmd = i.spinner.Update(msg)
		return i, cmd

	case progress.FrameMsg:
		m, cmd := i.progress.Update(msg)
		i.progress = m.(progress.Model)
		return i, cmd

	case checkCompleteMsg:
		i.checks[msg.index] = msg.result
		i.currentCheck++
		if i.currentCheck < len(i.checks) {
			return i, i.runCheck(i.currentCheck)
		}
		return i, nil

	case phaseMsg:
		i.phase = provision.Phase(msg)
		return i, i.listen()

	case progressMsg:
		i.downloaded, i.total = msg.Written, msg.Total
		cmd := i.progress.SetPercent(provision.Progress(msg).Percent() / 100)
		return i, tea.Batch(cmd, i.listen())

	case provisionDoneMsg:
		if msg.err != nil {
			i.err = msg.err
			i.step = StepFailed
			return i, nil
		}
		i.step = StepComplete
		return i, i.progress.SetPercent(1)
	}

	return i, nil
}

func (i *Installer) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c", "q":
		return i, tea.Quit
	case "enter", " ":
		return i.handleSelect()
	}
	return i, nil
}

func (i *Installer) handleSelect() (tea.Model, tea.Cmd) {
	switch i.step {
	case StepWelcome:
		i.step = StepChecks
		return i, i.runCheck(0)

	case StepChecks:
		if i.currentCheck < len(i.checks) || i.blocked() {
			return i, nil
		}
		i.step = StepProvision
		return i, tea.Batch(i.startProvision(), i.listen())

	case StepComplete, StepFailed:
		return i, tea.Quit
	}
	return i, nil
}

// blocked reports whether a failed check prevents provisioning.
func (i *Installer) blocked() bool {
	for _, c := range i.checks {
		if c.Status == statusFail {
			return true
		}
	}
	return false
}

// =============================================================================
// COMMANDS
// =============================================================================

func (i *Installer) runCheck(index int) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(i.ctx, 10*time.Second)
		defer cancel()

		var result CheckResult
		switch index {
		case 0:
			result = i.checkRuntime(ctx)
		case 1:
			result = i.checkModelHost(ctx)
		case 2:
			result = i.checkDisk(ctx)
		}
		return checkCompleteMsg{index: index, result: result}
	}
}

func (i *Installer) checkRuntime(ctx context.Context) CheckResult {
	r := CheckResult{Name: "Ollama runtime"}
	if err := i.app.Client.CheckRunning(ctx); err != nil {
		r.Status = statusFail
		r.Message = "not reachable at " + i.app.Config.Runtime.OllamaURL
		r.Fix = "Install from https://ollama.com and run: ollama serve"
		return r
	}
	r.Status = statusPass
	r.Message = "running"
	return r
}

func (i *Installer) checkModelHost(ctx context.Context) CheckResult {
	r := CheckResult{Name: "Model host"}
	a := i.app.Provisioner.Artifact()
	size, err := i.app.Provisioner.Verifier().RemoteSize(ctx, a)
	if err != nil {
		r.Status = statusWarn
		r.Message = "size unknown"
		if fi, statErr := os.Stat(a.Path); statErr == nil {
			r.Message += fmt.Sprintf(", local copy is %s", cli.FormatBytes(fi.Size()))
		}
		return r
	}
	i.total = size
	r.Status = statusPass
	r.Message = cli.FormatBytes(size)
	return r
}

func (i *Installer) checkDisk(context.Context) CheckResult {
	r := CheckResult{Name: "Disk space"}
	free, err := i.app.Provisioner.FreeSpace()
	if err != nil {
		r.Status = statusWarn
		r.Message = err.Error()
		return r
	}
	r.Message = cli.FormatBytes(int64(free)) + " free"
	if i.total > 0 && uint64(i.total) > free {
		r.Status = statusFail
		r.Fix = "Free up space or set model.dir in the config"
		return r
	}
	r.Status = statusPass
	return r
}

// startProvision runs the provisioner in the background, forwarding its
// hooks as messages.
func (i *Installer) startProvision() tea.Cmd {
	i.app.OnPhase = func(ph provision.Phase) {
		select {
		case i.events <- phaseMsg(ph):
		case <-i.ctx.Done():
		}
	}
	i.app.OnProgress = func(p provision.Progress) {
		// Dropped frames are fine; the next chunk carries the total so far.
		select {
		case i.events <- progressMsg(p):
		default:
		}
	}
	return func() tea.Msg {
		_, err := i.app.Provisioner.Provision(i.ctx)
		select {
		case i.events <- provisionDoneMsg{err: err}:
		case <-i.ctx.Done():
		}
		return nil
	}
}

// listen waits for the next provisioning event.
func (i *Installer) listen() tea.Cmd {
	return func() tea.Msg {
		select {
		case msg := <-i.events:
			return msg
		case <-i.ctx.Done():
			return provisionDoneMsg{err: i.ctx.Err()}
		}
	}
}

// =============================================================================
// VIEW
// =============================================================================

// View renders the current step.
func (i *Installer) View() string {
	switch i.step {
	case StepWelcome:
		return i.viewWelcome()
	case StepChecks:
		return i.viewChecks()
	case StepProvision:
		return i.viewProvision()
	case StepComplete:
		return i.viewComplete()
	case StepFailed:
		return i.viewFailed()
	}
	return ""
}

func (i *Installer) viewWelcome() string {
	var s strings.Builder
	s.WriteString(titleStyle.Render("  pocketllm setup"))
	s.WriteString("\n")
	s.WriteString(boxStyle.Render(fmt.Sprintf(
		"This will:\n\n  * Check that Ollama is running\n  * Download %s\n  * Load it so you can start chatting",
		i.app.Config.Model.File)))
	s.WriteString("\n\n")
	s.WriteString(highlightStyle.Render("  Press ENTER to begin"))
	s.WriteString(dimStyle.Render("  |  Press Q to quit"))
	return i.center(s.String())
}

func (i *Installer) viewChecks() string {
	var s strings.Builder
	s.WriteString(titleStyle.Render("  Checks"))
	s.WriteString("\n")

	for idx, c := range i.checks {
		var icon, status string
		style := dimStyle
		switch c.Status {
		case statusChecking:
			icon = "[ ]"
			if idx == i.currentCheck {
				icon = i.spinner.View()
			}
			status = "Checking..."
		case statusPass:
			icon, status, style = "[OK]", c.Message, successStyle
		case statusWarn:
			icon, status, style = "[!!]", c.Message, warningStyle
		case statusFail:
			icon, status, style = "[FAIL]", c.Message, errorStyle
		}
		fmt.Fprintf(&s, "  %s %s%s\n", style.Render(icon), c.Name, dimStyle.Render(" - "+status))
		if c.Fix != "" {
			s.WriteString(dimStyle.Render("      -> " + c.Fix))
			s.WriteString("\n")
		}
	}
	s.WriteString("\n")

	switch {
	case i.currentCheck < len(i.checks):
	case i.blocked():
		s.WriteString(errorStyle.Render("  Fix the failed checks and run setup again."))
		s.WriteString("\n\n")
		s.WriteString(dimStyle.Render("  Press Q to quit"))
	default:
		s.WriteString(highlightStyle.Render("  Press ENTER to download and load the model"))
	}
	return i.center(s.String())
}

func (i *Installer) viewProvision() string {
	var s strings.Builder
	s.WriteString(titleStyle.Render("  Setting up " + i.app.Config.Model.File))
	s.WriteString("\n")
	fmt.Fprintf(&s, "  %s %s\n\n", i.spinner.View(), i.phase)
	s.WriteString("  " + i.progress.View())
	s.WriteString("\n")
	if i.total > 0 {
		s.WriteString(dimStyle.Render(fmt.Sprintf("  %s of %s", cli.FormatBytes(i.downloaded), cli.FormatBytes(i.total))))
	}
	s.WriteString("\n\n")
	s.WriteString(dimStyle.Render("  Press Q to cancel. The partial download is discarded."))
	return i.center(s.String())
}

func (i *Installer) viewComplete() string {
	var s strings.Builder
	s.WriteString(successStyle.Render("  Model ready."))
	s.WriteString("\n\n")
	s.WriteString(boxStyle.Render("Start chatting with:\n\n  pocketllm"))
	s.WriteString("\n\n")
	s.WriteString(dimStyle.Render("  Press ENTER to close"))
	return i.center(s.String())
}

func (i *Installer) viewFailed() string {
	var s strings.Builder
	s.WriteString(errorStyle.Render("  Setup failed"))
	s.WriteString("\n\n")
	s.WriteString("  " + failureHint(i.err))
	s.WriteString("\n\n")
	s.WriteString(dimStyle.Render("  " + i.err.Error()))
	s.WriteString("\n\n")
	s.WriteString(dimStyle.Render("  Press ENTER to close"))
	return i.center(s.String())
}

// failureHint explains a provisioning error in one line.
func failureHint(err error) string {
	switch {
	case errors.Is(err, context.Canceled):
		return "Cancelled."
	case errors.Is(err, provision.ErrInsufficientDisk):
		return "Not enough disk space for the model."
	case provision.IsDownloadFailed(err):
		return "The download failed. Run setup again to retry."
	case provision.IsRuntimeUnavailable(err):
		return "Ollama stopped answering. The model file was kept; start Ollama and run setup again."
	case provision.IsModelLoadFailed(err):
		return "Ollama could not load the file. It was removed; run setup again to download a fresh copy."
	case provision.IsMetadataUnavailable(err):
		return "The model host did not answer."
	}
	return "Something went wrong."
}

// center pads content down a third of the screen.
func (i *Installer) center(content string) string {
	if i.height == 0 {
		return content
	}
	top := max((i.height-strings.Count(content, "\n"))/3, 0)
	return strings.Repeat("\n", top) + content
}
