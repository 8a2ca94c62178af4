package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/chzyer/readline"

	"github.com/vikrant48/timepass-chat/cmd/tpchat/internal"
	pkgchat "github.com/vikrant48/timepass-chat/pkg/chat"
	"github.com/vikrant48/timepass-chat/pkg/config"
	"github.com/vikrant48/timepass-chat/pkg/content"
	"github.com/vikrant48/timepass-chat/pkg/history"
	"github.com/vikrant48/timepass-chat/pkg/logger"
	"github.com/vikrant48/timepass-chat/pkg/outbox"
	"github.com/vikrant48/timepass-chat/pkg/realtime"
	"github.com/vikrant48/timepass-chat/pkg/session"
)

func chatCmd(peer, group string, debug bool) error {
	cfg, err := internal.LoadConfig()
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}
	if err := internal.RequireAuth(cfg); err != nil {
		return err
	}

	setupLogging(cfg, debug)

	conv := pkgchat.Direct(peer)
	if group != "" {
		conv = pkgchat.Group(group)
	}

	queue, err := outbox.Open(cfg.DataDirPath())
	if err != nil {
		return fmt.Errorf("error opening outbox: %w", err)
	}
	defer queue.Close()

	client := realtime.NewClient(cfg.Server.SocketURL, cfg.Auth.Token, cfg.Auth.UserID, cfg.Auth.Username)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go client.Start(ctx)

	fetcher := history.NewHTTPFetcher(cfg.Server.APIBaseURL, cfg.Auth.UserID, cfg.Auth.Token)
	sess := session.New(
		pkgchat.Sender{ID: cfg.Auth.UserID, Username: cfg.Auth.Username},
		client, fetcher, queue,
		session.Options{
			PageSize:     cfg.Chat.PageSize,
			TypingWindow: time.Duration(cfg.Chat.TypingWindow),
		},
	)
	defer sess.Close()

	openCtx, openCancel := context.WithTimeout(ctx, 30*time.Second)
	view, err := sess.Open(openCtx, conv)
	openCancel()
	if err != nil {
		if errors.Is(err, history.ErrForbidden) {
			return fmt.Errorf("you are not allowed to chat with %s (not friends, or not a member)", conv)
		}
		return fmt.Errorf("error opening conversation: %w", err)
	}

	fmt.Printf("%s Conversation %s (Ctrl+C to exit, /help for commands)\n\n", internal.Logo, conv)
	interactiveChat(view, fetcher, cfg)
	return nil
}

func setupLogging(cfg *config.Config, debug bool) {
	switch strings.ToLower(cfg.Logging.Level) {
	case "debug":
		logger.SetLevel(logger.DEBUG)
	case "warn":
		logger.SetLevel(logger.WARN)
	case "error":
		logger.SetLevel(logger.ERROR)
	default:
		logger.SetLevel(logger.INFO)
	}
	if debug {
		logger.SetLevel(logger.DEBUG)
	}
	if cfg.Logging.File != "" {
		if err := logger.SetLogFile(cfg.Logging.File); err != nil {
			fmt.Printf("Warning: cannot open log file: %v\n", err)
		}
	}
}

func interactiveChat(view *session.View, fetcher *history.HTTPFetcher, cfg *config.Config) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "> ",
		HistoryFile:     filepath.Join(os.TempDir(), ".tpchat_history"),
		HistoryLimit:    100,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
		Listener: readline.FuncListener(func(line []rune, pos int, key rune) ([]rune, int, bool) {
			if key != 0 {
				view.Keystroke()
			}
			return line, pos, false
		}),
	})
	if err != nil {
		fmt.Printf("Error initializing readline: %v\n", err)
		return
	}
	defer rl.Close()

	out := rl.Stdout()
	r := newRenderer(out, cfg.Auth.UserID)
	r.show(view.Messages())

	// Repaint as the timeline or the typing set changes.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		for {
			select {
			case <-view.Updates():
				r.show(view.Messages())
				r.showTyping(view.TypingUsers())
			case <-stop:
				return
			}
		}
	}()

	for {
		line, err := rl.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) || errors.Is(err, io.EOF) {
				fmt.Fprintln(out, "Goodbye!")
				return
			}
			fmt.Fprintf(out, "Error reading input: %v\n", err)
			continue
		}

		input := strings.TrimSpace(line)
		if input == "" {
			continue
		}
		if input == "exit" || input == "quit" {
			fmt.Fprintln(out, "Goodbye!")
			return
		}

		if strings.HasPrefix(input, "/") {
			if runCommand(view, fetcher, out, r, input) {
				return
			}
			continue
		}

		if _, err := view.Send(content.Text(input)); err != nil {
			fmt.Fprintf(out, "Error: %v\n", err)
		}
	}
}

// runCommand handles one slash command. Returns true when the loop should
// exit.
func runCommand(view *session.View, fetcher *history.HTTPFetcher, out io.Writer, r *renderer, input string) bool {
	fields := strings.Fields(input)
	switch fields[0] {
	case "/help":
		fmt.Fprintln(out, `Commands:
  /older                    load older messages
  /ids                      list message ids
  /edit <id> <text>         edit one of your messages
  /del <id>                 delete one of your messages
  /photo <url-or-file>      share a photo (local files are uploaded)
  /voice <url>              share a voice note
  /post <id> <url> [text]   share a post
  /quit                     leave`)

	case "/quit":
		return true

	case "/older":
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		err := view.LoadOlder(ctx)
		cancel()
		switch {
		case errors.Is(err, history.ErrNoMore):
			fmt.Fprintln(out, "Beginning of conversation.")
		case errors.Is(err, history.ErrFetchInFlight):
			fmt.Fprintln(out, "Already loading.")
		case err != nil:
			fmt.Fprintf(out, "Error: %v\n", err)
		default:
			r.show(view.Messages())
		}

	case "/ids":
		for _, m := range view.Messages() {
			fmt.Fprintf(out, "  %s  %s\n", m.ID, renderBody(m.Content))
		}

	case "/edit":
		if len(fields) < 3 {
			fmt.Fprintln(out, "Usage: /edit <id> <text>")
			break
		}
		body := strings.TrimSpace(strings.TrimPrefix(strings.TrimPrefix(input, "/edit"), " "+fields[1]))
		if err := view.Edit(fields[1], content.Text(body)); err != nil {
			fmt.Fprintf(out, "Error: %v\n", err)
		}

	case "/del":
		if len(fields) != 2 {
			fmt.Fprintln(out, "Usage: /del <id>")
			break
		}
		if err := view.Delete(fields[1]); err != nil {
			fmt.Fprintf(out, "Error: %v\n", err)
		}

	case "/photo":
		if len(fields) != 2 {
			fmt.Fprintln(out, "Usage: /photo <url-or-file>")
			break
		}
		imageURL := fields[1]
		if _, err := os.Stat(imageURL); err == nil {
			// Local file: upload first, then share the stored URL.
			ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
			uploaded, err := fetcher.UploadImage(ctx, imageURL)
			cancel()
			if err != nil {
				fmt.Fprintf(out, "Upload error: %v\n", err)
				break
			}
			imageURL = uploaded
		}
		if _, err := view.Send(content.Photo(imageURL)); err != nil {
			fmt.Fprintf(out, "Error: %v\n", err)
		}

	case "/voice":
		if len(fields) != 2 {
			fmt.Fprintln(out, "Usage: /voice <url>")
			break
		}
		if _, err := view.Send(content.Voice(fields[1])); err != nil {
			fmt.Fprintf(out, "Error: %v\n", err)
		}

	case "/post":
		if len(fields) < 3 {
			fmt.Fprintln(out, "Usage: /post <id> <url> [caption]")
			break
		}
		caption := strings.Join(fields[3:], " ")
		if _, err := view.Send(content.PostShare(fields[1], fields[2], caption)); err != nil {
			fmt.Fprintf(out, "Error: %v\n", err)
		}

	default:
		fmt.Fprintf(out, "Unknown command %s (try /help)\n", fields[0])
	}
	return false
}
