// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// chat.go - Interactive chat REPL and its slash commands.

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/peterh/liner"

	"github.com/jeranaias/pocketllm/internal/chatstore"
	"github.com/jeranaias/pocketllm/internal/config"
	"github.com/jeranaias/pocketllm/internal/conversation"
	"github.com/jeranaias/pocketllm/internal/export"
	"github.com/jeranaias/pocketllm/internal/identity"
	"github.com/jeranaias/pocketllm/internal/model"
	"github.com/jeranaias/pocketllm/internal/output"
	"github.com/jeranaias/pocketllm/internal/stream"
	"github.com/jeranaias/pocketllm/internal/util"
)

const historyFile = "history"

// errQuit ends the REPL.
var errQuit = errors.New("quit")

// =============================================================================
// CHAT SESSION
// =============================================================================

// ChatSession executes chat input against the store and controller and
// writes everything it shows to out.
type ChatSession struct {
	store    *chatstore.Store
	binder   *identity.Binder
	ctrl     *conversation.Controller
	renderer *Renderer
	out      io.Writer
	width    int

	// exportDir receives /export files.
	exportDir string

	// ids from the last /list, so /switch N and /delete N are stable.
	listed []string
	last   output.ParsedOutput
}

// NewChatSession creates a session writing to out.
func NewChatSession(store *chatstore.Store, binder *identity.Binder, ctrl *conversation.Controller, r *Renderer, out io.Writer) *ChatSession {
	return &ChatSession{
		store:     store,
		binder:    binder,
		ctrl:      ctrl,
		renderer:  r,
		out:       out,
		width:     80,
		exportDir: ".",
	}
}

// Execute handles one line of input: a slash command or a message. It
// returns errQuit when the user asks to leave.
func (s *ChatSession) Execute(ctx context.Context, line string) error {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}
	if strings.HasPrefix(line, "/") {
		return s.command(line)
	}
	return s.send(ctx, line)
}

func (s *ChatSession) command(line string) error {
	fields := strings.Fields(line)
	name, arg := fields[0], ""
	if len(fields) > 1 {
		arg = fields[1]
	}

	switch name {
	case "/quit", "/exit", "/q":
		return errQuit
	case "/help", "/?":
		s.printChatHelp()
	case "/new":
		if _, ok := s.store.CreateConversation(); !ok {
			fmt.Fprintln(s.out, ErrorStyle.Render("Sign in first."))
			return nil
		}
		fmt.Fprintln(s.out, SuccessStyle.Render("Started a new conversation."))
	case "/list", "/ls":
		s.printList()
	case "/switch":
		id, err := s.pick(arg)
		if err != nil {
			fmt.Fprintln(s.out, ErrorStyle.Render(err.Error()))
			return nil
		}
		s.store.SetActive(id)
		s.printTranscript()
	case "/delete":
		id, err := s.pick(arg)
		if err != nil {
			fmt.Fprintln(s.out, ErrorStyle.Render(err.Error()))
			return nil
		}
		s.store.DeleteConversation(id)
		s.listed = nil
		fmt.Fprintln(s.out, DimStyle.Render("Deleted."))
	case "/clear":
		s.store.ClearMessages()
		fmt.Fprintln(s.out, DimStyle.Render("Cleared."))
	case "/copy":
		text := s.last.CopyText()
		if text == "" {
			fmt.Fprintln(s.out, DimStyle.Render("Nothing to copy yet."))
			return nil
		}
		fmt.Fprintln(s.out, text)
	case "/export":
		conv, ok := s.store.Conversation(s.store.ActiveID())
		if !ok {
			fmt.Fprintln(s.out, DimStyle.Render("No conversation to export."))
			return nil
		}
		opts := export.DefaultOptions()
		opts.OutputDir = s.exportDir
		opts.IncludeReasoning = s.renderer.ShowReasoning
		path, err := exportConversation(conv, arg, opts)
		if err != nil {
			fmt.Fprintln(s.out, ErrorStyle.Render(err.Error()))
			return nil
		}
		fmt.Fprintln(s.out, SuccessStyle.Render("Wrote "+path))
	case "/reasoning":
		s.renderer.ShowReasoning = !s.renderer.ShowReasoning
		state := "hidden"
		if s.renderer.ShowReasoning {
			state = "shown"
		}
		fmt.Fprintln(s.out, DimStyle.Render("Reasoning "+state+"."))
	case "/logout":
		s.binder.SignOut()
		s.listed = nil
		fmt.Fprintln(s.out, DimStyle.Render("Signed out. Your conversations are kept."))
		return errQuit
	default:
		fmt.Fprintln(s.out, ErrorStyle.Render("Unknown command "+name+". Type /help."))
	}
	return nil
}

// pick resolves a 1-based index from the last /list.
func (s *ChatSession) pick(arg string) (string, error) {
	if len(s.listed) == 0 {
		s.listed = s.listIDs()
	}
	n, err := strconv.Atoi(arg)
	if err != nil || n < 1 || n > len(s.listed) {
		return "", fmt.Errorf("pick a number from /list (1-%d)", len(s.listed))
	}
	return s.listed[n-1], nil
}

func (s *ChatSession) listIDs() []string {
	var ids []string
	for _, c := range s.store.Conversations() {
		ids = append(ids, c.ID)
	}
	return ids
}

func (s *ChatSession) printList() {
	convs := s.store.Conversations()
	s.listed = s.listIDs()
	if len(convs) == 0 {
		fmt.Fprintln(s.out, DimStyle.Render("No conversations."))
		return
	}
	writeConversationList(s.out, convs, s.store.ActiveID(), s.width)
}

// writeConversationList prints one line per conversation: index, title and a
// preview of the last message, fitted to width cells.
func writeConversationList(w io.Writer, convs []*model.Conversation, active string, width int) {
	const titleCells = 30
	for i, c := range convs {
		marker := "  "
		if c.ID == active {
			marker = ActiveMarkerStyle.Render("* ")
		}
		index := fmt.Sprintf("%2d. ", i+1)
		title := util.PadWidth(util.SingleLine(c.Title), titleCells)
		rest := width - 2 - len(index) - titleCells - 2
		preview := ""
		if rest > 0 {
			preview = util.FitWidth(c.Preview(rest*2), rest)
		}
		fmt.Fprintf(w, "%s%s%s  %s\n", marker, index, ValueStyle.Render(title), DimStyle.Render(preview))
	}
}

func (s *ChatSession) printTranscript() {
	msgs := s.store.Visible()
	if len(msgs) == 0 {
		fmt.Fprintln(s.out, DimStyle.Render("(empty conversation)"))
		return
	}
	for _, m := range msgs {
		s.printMessage(m)
	}
}

func (s *ChatSession) printMessage(m model.Message) {
	fmt.Fprintln(s.out, SpeakerStyle.Render(m.Role.DisplayName()+":"))
	if m.Role == model.RoleAssistant {
		parsed := output.Parse(m.Content)
		s.last = parsed
		fmt.Fprint(s.out, s.renderer.Render(parsed))
		return
	}
	fmt.Fprintln(s.out, m.Content)
}

func (s *ChatSession) printChatHelp() {
	_, help, _ := strings.Cut(usageText, "Chat commands:\n")
	fmt.Fprint(s.out, TitleStyle.Render("Chat commands")+"\n"+help)
}

// send runs one turn. Ctrl+C during generation cancels just that turn.
func (s *ChatSession) send(ctx context.Context, input string) error {
	if s.store.ActiveID() == "" {
		if _, ok := s.store.CreateConversation(); !ok {
			fmt.Fprintln(s.out, ErrorStyle.Render("Sign in first."))
			return nil
		}
	}

	turnCtx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	reply, err := s.ctrl.Send(turnCtx, input)
	clearStatus(s.out)
	switch {
	case errors.Is(err, conversation.ErrInvalidOperation):
		fmt.Fprintln(s.out, ErrorStyle.Render(err.Error()))
		return nil
	case errors.Is(err, stream.ErrGenerationFailed):
		fmt.Fprint(s.out, s.renderer.Render(reply.Output))
		fmt.Fprintln(s.out, ErrorStyle.Render("Generation failed: "+err.Error()))
		return nil
	case err != nil && turnCtx.Err() != nil && ctx.Err() == nil:
		fmt.Fprint(s.out, s.renderer.Render(reply.Output))
		fmt.Fprintln(s.out, WarningStyle.Render("[stopped]"))
		return nil
	case err != nil:
		return err
	}

	s.last = reply.Output
	fmt.Fprintln(s.out, SpeakerStyle.Render(model.RoleAssistant.DisplayName()+":"))
	fmt.Fprint(s.out, s.renderer.Render(reply.Output))
	if reply.Result.Reason == stream.StopBudget {
		fmt.Fprintln(s.out, DimStyle.Render("[reply cut at the token limit]"))
	}
	return nil
}

// =============================================================================
// STREAMING STATUS
// =============================================================================

// statusLine shows progress while a reply streams in. Rendering the markdown
// waits for the full reply.
func statusLine(w io.Writer) func(string, output.ParsedOutput) {
	return func(_ string, out output.ParsedOutput) {
		state := "thinking"
		if !out.HasReasoning || out.ReasoningDone {
			state = fmt.Sprintf("writing (%d chars)", utf8.RuneCountInString(out.Body))
		}
		fmt.Fprintf(w, "\r\033[K%s", DimStyle.Render("... "+state))
	}
}

func clearStatus(w io.Writer) {
	fmt.Fprint(w, "\r\033[K")
}

// =============================================================================
// REPL
// =============================================================================

// RunChat provisions the model, signs the user in and runs the REPL until
// /quit, /logout or EOF.
func RunChat(ctx context.Context, app *App, args *ArgParser) error {
	if _, err := pullModel(ctx, app, os.Stderr); err != nil {
		return err
	}
	if app.Config.Model.Watch {
		go func() {
			if err := app.Provisioner.Watch(ctx); err != nil {
				app.Log.Warn().Err(err).Msg("model file watch stopped")
			}
		}()
	}

	user, err := app.SignIn(args)
	if err != nil {
		return err
	}
	if err := app.OpenChats(ctx); err != nil {
		return err
	}
	if id := args.Flag("conv"); id != "" {
		app.Store.SetActive(id)
		if app.Store.ActiveID() != id {
			fmt.Fprintln(os.Stderr, WarningStyle.Render("No conversation "+id+" for this user."))
		}
	}

	ui := app.Config.UI
	if args.BoolFlag("no-markdown") {
		ui.RenderMarkdown = false
	}
	if args.BoolFlag("reasoning") {
		ui.ShowReasoning = true
	}
	width := TerminalWidth()
	session := NewChatSession(app.Store, app.Binder, app.Controller, NewRenderer(ui, width), os.Stdout)
	session.width = width

	if IsStdoutTTY() {
		app.OnUpdate = statusLine(os.Stdout)
	}

	fmt.Println(TitleStyle.Render("pocketllm") + DimStyle.Render(" signed in as "+user.DisplayName()+". /help for commands."))
	session.printTranscript()

	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)
	line.SetCompleter(completeCommand)

	histPath := ""
	if dir, err := config.Dir(); err == nil {
		histPath = filepath.Join(dir, historyFile)
		if f, err := os.Open(histPath); err == nil {
			line.ReadHistory(f)
			f.Close()
		}
	}
	defer saveHistory(line, histPath)

	for {
		if ctx.Err() != nil {
			return nil
		}
		input, err := line.Prompt("> ")
		if errors.Is(err, liner.ErrPromptAborted) {
			continue
		}
		if errors.Is(err, io.EOF) {
			fmt.Println()
			return nil
		}
		if err != nil {
			return err
		}
		if strings.TrimSpace(input) != "" {
			line.AppendHistory(input)
		}

		if err := session.Execute(ctx, input); err != nil {
			if errors.Is(err, errQuit) {
				return nil
			}
			return err
		}
	}
}

var chatCommands = []string{"/new", "/list", "/switch ", "/delete ", "/clear", "/copy", "/export ", "/reasoning", "/logout", "/help", "/quit"}

func completeCommand(line string) []string {
	if !strings.HasPrefix(line, "/") {
		return nil
	}
	var out []string
	for _, c := range chatCommands {
		if strings.HasPrefix(c, line) {
			out = append(out, c)
		}
	}
	return out
}

func saveHistory(line *liner.State, path string) {
	if path == "" {
		return
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return
	}
	defer f.Close()
	line.WriteHistory(f)
}
