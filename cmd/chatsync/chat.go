package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/chzyer/readline"
	"github.com/fatih/color"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/prismer-ai/chatsync"
)

var chatMetricsAddr string

func init() {
	rootCmd.AddCommand(chatCmd)
	chatCmd.Flags().StringVar(&chatMetricsAddr, "metrics-addr", "", "serve prometheus metrics on this address (overrides metrics.addr)")
}

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Open an interactive chat session",
	Long: `Open an interactive chat session against the configured server.

Plain lines are sent to the active chat. Commands:
  /new            start a new chat
  /list           list chats (pinned first)
  /use <ref>      switch to a chat by number or id suffix
  /pin [ref]      pin or unpin a chat (default: active)
  /search <q>     search titles and messages
  /file <path>    upload a file to the active chat
  /theme          toggle dark mode
  /clear          delete all chats
  /examples       list starter prompts
  /example <n>    start a chat from a starter prompt
  /quit           exit`,
	RunE: runChat,
}

// ============================================================================
// Palette
// ============================================================================

type palette struct {
	user, remote, errorMsg, system, title, muted *color.Color
}

func newPalette(dark bool) palette {
	if dark {
		return palette{
			user:     color.New(color.FgHiWhite, color.Bold),
			remote:   color.New(color.FgHiCyan),
			errorMsg: color.New(color.FgHiRed),
			system:   color.New(color.FgHiYellow),
			title:    color.New(color.FgHiMagenta, color.Bold),
			muted:    color.New(color.FgHiBlack),
		}
	}
	return palette{
		user:     color.New(color.FgBlack, color.Bold),
		remote:   color.New(color.FgBlue),
		errorMsg: color.New(color.FgRed),
		system:   color.New(color.FgYellow),
		title:    color.New(color.FgMagenta, color.Bold),
		muted:    color.New(color.FgHiBlack),
	}
}

// ============================================================================
// REPL
// ============================================================================

type repl struct {
	engine *chatsync.Engine
	out    io.Writer

	mu      sync.Mutex
	colors  palette
	printed map[string]int
	lastRef []chatsync.Chat
}

func runChat(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := chatsync.NewMetrics(reg)

	addr := chatMetricsAddr
	if addr == "" {
		addr = appConfig.Metrics.Addr
	}
	if addr != "" {
		srv := serveMetrics(addr, reg)
		defer srv.Close()
	}

	engine, err := openEngine(ctx, metrics)
	if err != nil {
		return err
	}
	defer engine.Close()

	dir, err := configDir()
	if err != nil {
		return err
	}
	rl, err := readline.NewEx(&readline.Config{
		Prompt:            "> ",
		InterruptPrompt:   "^C",
		EOFPrompt:         "/quit",
		HistoryFile:       filepath.Join(dir, "history"),
		HistorySearchFold: true,
	})
	if err != nil {
		return err
	}
	defer rl.Close()
	logrus.SetOutput(rl.Stderr())

	r := &repl{
		engine:  engine,
		out:     rl.Stdout(),
		colors:  newPalette(engine.DarkMode()),
		printed: make(map[string]int),
	}
	unsub := engine.Subscribe(r.onChange)
	defer unsub()

	if err := engine.Start(ctx); err != nil {
		return err
	}
	r.banner()

	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			if line == "" {
				return nil
			}
			continue
		}
		if err != nil {
			return nil
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if quit := r.handle(ctx, line); quit {
			return nil
		}
	}
}

func serveMetrics(addr string, reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.WithError(err).Warn("Metrics listener stopped")
		}
	}()
	logrus.WithField("addr", addr).Info("Serving metrics")
	return srv
}

func (r *repl) banner() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.colors.title.Fprintln(r.out, "chatsync")
	r.colors.muted.Fprintf(r.out, "server %s (%s), %d chats. /examples for starter prompts, /quit to exit.\n",
		r.engine.Connection().URL(), r.engine.State(), len(r.engine.List()))
}

// onChange prints messages of the active chat not yet shown.
func (r *repl) onChange() {
	chat, ok := r.engine.Sessions().Active()
	if !ok {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	n := r.printed[chat.ID]
	for _, m := range chat.Messages[min(n, len(chat.Messages)):] {
		if !m.IsUser || m.File != nil {
			r.printMessage(m)
		}
	}
	r.printed[chat.ID] = len(chat.Messages)
}

func (r *repl) printMessage(m chatsync.Message) {
	switch {
	case m.Type == chatsync.TypeError:
		r.colors.errorMsg.Fprintf(r.out, "! %s\n", m.Text)
	case m.Type == chatsync.TypeSystem:
		r.colors.system.Fprintf(r.out, "* %s\n", m.Text)
	case m.IsUser:
		r.colors.user.Fprintf(r.out, "you: %s\n", m.Text)
	default:
		r.colors.remote.Fprintf(r.out, "%s\n", m.Text)
	}
	if m.File != nil {
		r.colors.muted.Fprintf(r.out, "  [%s, %s, %s]\n", m.File.Name, m.File.MIMEType, chatsync.FormatFileSize(m.File.Size))
	}
}

// showChat prints the whole chat and marks it as printed.
func (r *repl) showChat(c chatsync.Chat) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.colors.title.Fprintf(r.out, "── %s ──\n", c.Title)
	for _, m := range c.Messages {
		r.printMessage(m)
	}
	r.printed[c.ID] = len(c.Messages)
}

func mutedColor(p palette) *color.Color  { return p.muted }
func errorColor(p palette) *color.Color  { return p.errorMsg }
func systemColor(p palette) *color.Color { return p.system }

func (r *repl) printf(pick func(palette) *color.Color, format string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	pick(r.colors).Fprintf(r.out, format, args...)
}

// handle runs one input line. It reports whether the session should end.
func (r *repl) handle(ctx context.Context, line string) bool {
	if !strings.HasPrefix(line, "/") {
		r.send(ctx, line)
		return false
	}

	cmd, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)
	switch cmd {
	case "/quit", "/exit":
		return true
	case "/new":
		id := r.engine.CreateChat(ctx)
		r.printf(mutedColor, "new chat %s\n", shortID(id))
	case "/list":
		r.list(r.engine.List())
	case "/search":
		r.list(r.engine.Search(arg))
	case "/use":
		c, ok := r.resolve(arg)
		if !ok {
			r.printf(errorColor, "unknown chat %q\n", arg)
			return false
		}
		r.showChat(c)
		r.engine.SetActive(c.ID)
	case "/pin":
		var c chatsync.Chat
		var ok bool
		if arg == "" {
			c, ok = r.engine.Sessions().Active()
		} else {
			c, ok = r.resolve(arg)
		}
		if !ok {
			r.printf(errorColor, "no such chat\n")
			return false
		}
		if err := r.engine.TogglePin(ctx, c.ID); err != nil {
			r.printf(errorColor, "%v\n", err)
			return false
		}
		state := "pinned"
		if c.IsPinned {
			state = "unpinned"
		}
		r.printf(mutedColor, "%s %q\n", state, c.Title)
	case "/file":
		r.upload(ctx, arg)
	case "/theme":
		dark := r.engine.ToggleDarkMode(ctx)
		r.mu.Lock()
		r.colors = newPalette(dark)
		r.mu.Unlock()
		mode := "light"
		if dark {
			mode = "dark"
		}
		r.printf(mutedColor, "%s mode\n", mode)
	case "/clear":
		r.engine.ClearAll(ctx)
		r.mu.Lock()
		r.printed = make(map[string]int)
		r.lastRef = nil
		r.mu.Unlock()
		r.printf(mutedColor, "all chats deleted\n")
	case "/examples":
		for i, ex := range chatsync.Examples {
			r.printf(systemColor, "%d. %s: %s\n", i+1, ex.Title, ex.Prompt)
		}
	case "/example":
		n, err := strconv.Atoi(arg)
		if err != nil || n < 1 || n > len(chatsync.Examples) {
			r.printf(errorColor, "choose an example between 1 and %d\n", len(chatsync.Examples))
			return false
		}
		id, err := r.engine.StartFromExample(ctx, chatsync.Examples[n-1])
		if err != nil {
			r.printf(errorColor, "%v\n", err)
			return false
		}
		r.printf(mutedColor, "started %q in chat %s\n", chatsync.Examples[n-1].Title, shortID(id))
	default:
		r.printf(errorColor, "unknown command %s\n", cmd)
	}
	return false
}

func (r *repl) send(ctx context.Context, text string) {
	if r.engine.Sessions().ActiveID() == "" {
		r.engine.CreateChat(ctx)
	}
	// Errors are recorded in the chat as error messages and printed by onChange.
	r.engine.Coordinator().SendToActive(ctx, text)
}

func (r *repl) upload(ctx context.Context, path string) {
	if path == "" {
		r.printf(errorColor, "usage: /file <path>\n")
		return
	}
	chatID := r.engine.Sessions().ActiveID()
	if chatID == "" {
		chatID = r.engine.CreateChat(ctx)
	}
	f, err := chatsync.LoadFile(path)
	if err != nil && !errors.Is(err, chatsync.ErrInvalidFile) {
		r.printf(errorColor, "%v\n", err)
		return
	}
	if f.Name == "" {
		f.Name = filepath.Base(path)
	}
	// Validation failures are recorded in the chat by the coordinator.
	r.engine.UploadFile(ctx, chatID, f)
}

func (r *repl) list(chats []chatsync.Chat) {
	pinned, recent := chatsync.Sections(chats)
	ordered := append(append([]chatsync.Chat{}, pinned...), recent...)
	active := r.engine.Sessions().ActiveID()

	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastRef = ordered
	if len(ordered) == 0 {
		r.colors.muted.Fprintln(r.out, "no chats")
		return
	}
	for i, c := range ordered {
		if i == 0 && len(pinned) > 0 {
			r.colors.title.Fprintln(r.out, "Pinned")
		}
		if i == len(pinned) {
			r.colors.title.Fprintln(r.out, "Recent")
		}
		marker := " "
		if c.ID == active {
			marker = "*"
		}
		fmt.Fprintf(r.out, "%s %2d. %-32s %s  %s\n", marker, i+1, c.Title,
			r.colors.muted.Sprint(shortID(c.ID)), r.colors.muted.Sprint(c.LastActivity.Local().Format("Jan 2 15:04")))
	}
}

// resolve finds a chat by its number in the last listing or by id suffix.
func (r *repl) resolve(ref string) (chatsync.Chat, bool) {
	if ref == "" {
		return chatsync.Chat{}, false
	}
	r.mu.Lock()
	last := r.lastRef
	r.mu.Unlock()
	if n, err := strconv.Atoi(ref); err == nil && n >= 1 && n <= len(last) {
		c, err := r.engine.Sessions().Get(last[n-1].ID)
		return c, err == nil
	}
	for _, c := range r.engine.List() {
		if c.ID == ref || strings.HasSuffix(c.ID, ref) {
			return c, true
		}
	}
	return chatsync.Chat{}, false
}
