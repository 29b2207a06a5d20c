// ABOUTME: Interactive chat REPL: realtime session, optimistic stream, typing, offline queue.
// ABOUTME: Messages that fail transport are queued durably and replayed on reconnect.

package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"

	"github.com/helio-ai/console/internal/auth"
	"github.com/helio-ai/console/internal/config"
	"github.com/helio-ai/console/internal/notify"
	"github.com/helio-ai/console/internal/offline"
	"github.com/helio-ai/console/internal/realtime"
	"github.com/helio-ai/console/internal/stream"
	"github.com/helio-ai/console/internal/transcript"
	"github.com/helio-ai/console/internal/typing"
	"github.com/helio-ai/console/internal/wire"
)

// loadCredential builds the session credential from config with environment
// overrides.
func loadCredential(cfg *config.Config) auth.Credential {
	cred := auth.Credential{
		Token:    cfg.Auth.Token,
		TenantID: cfg.Auth.TenantID,
	}
	if token := os.Getenv("HELIO_TOKEN"); token != "" {
		cred.Token = token
	}
	if tenant := os.Getenv("HELIO_TENANT"); tenant != "" {
		cred.TenantID = tenant
	}
	return cred
}

// snapshotKey is the snapshot section a conversation's history is cached under.
func snapshotKey(conversationID string) string {
	return "conversation:" + conversationID
}

func runChat(ctx context.Context, args []string) error {
	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging)
	cred := loadCredential(cfg)
	if !cred.Present() {
		return fmt.Errorf("no credential: set HELIO_TOKEN or auth.token in %s", configPath)
	}

	profile, err := loadProfile()
	if err != nil {
		return fmt.Errorf("loading profile: %w", err)
	}

	conversationID := profile.LastConversation
	if len(args) > 0 {
		conversationID = args[0]
	}
	if conversationID == "" {
		return fmt.Errorf("no conversation: helio-console chat <conversation-id>")
	}

	selfID := "local-user"
	displayName := selfID
	if identity, err := auth.ParseIdentity(cred.Token); err == nil {
		selfID = identity.Subject
		if identity.DisplayName != "" {
			displayName = identity.DisplayName
		} else {
			displayName = selfID
		}
	} else if errors.Is(err, auth.ErrExpiredToken) {
		return fmt.Errorf("session token expired; sign in again")
	}

	notifier := notify.New(logger)
	defer notifier.Close()

	store, err := offline.NewSQLiteStore(cfg.Offline.DatabasePath)
	if err != nil {
		return fmt.Errorf("opening offline store: %w", err)
	}
	defer store.Close()

	off := offline.NewManager(store, offline.NewRESTReplayer(cfg.Server.APIURL, cred), cfg.Offline,
		offline.WithLogger(logger),
		offline.WithNotifier(notifier),
		offline.WithFingerprint(cred.Fingerprint()),
	)

	rt := realtime.NewManager(cfg.Server.SocketURL, cfg.Realtime, realtime.NewWebsocketDialer(), notifier, logger)
	defer rt.Close()

	st := stream.New(conversationID, rt, selfID, stream.WithLogger(logger))
	st.Attach(rt)
	defer st.Close()

	typer := typing.NewBroadcaster(rt, conversationID, cfg.Typing.IdleWindow, logger)
	defer typer.Close()
	tracker := typing.NewTracker(selfID, cfg.Typing.IdleWindow)

	// Seed history from the cached snapshot so the conversation renders
	// before (or without) a live connection.
	if snap := off.LoadSnapshot(ctx); snap.Data != nil {
		if raw, ok := snap.Data[snapshotKey(conversationID)]; ok {
			var cached []wire.Message
			if err := json.Unmarshal(raw, &cached); err == nil {
				st.Seed(cached)
			} else {
				logger.Warn("discarding unreadable cached history", "error", err)
			}
		}
	}

	// Connectivity signal: the session state drives the offline layer, which
	// drains the queue automatically on the offline→online edge.
	states := rt.SubscribeStates()
	defer states.Cancel()
	go func() {
		for state := range states.C {
			off.SetOnline(state == realtime.StateConnected)
			if state == realtime.StateConnected {
				if err := rt.JoinConversation(conversationID); err != nil {
					logger.Warn("rejoin failed", "conversation_id", conversationID, "error", err)
				}
			}
		}
	}()

	// Track remote typing signals for the indicator line.
	typingStarts := rt.Subscribe(wire.EventTypingStart)
	typingStops := rt.Subscribe(wire.EventTypingStop)
	defer typingStarts.Cancel()
	defer typingStops.Cancel()
	go func() {
		for {
			select {
			case ev, ok := <-typingStarts.C:
				if !ok {
					return
				}
				if te, ok := ev.(wire.TypingEvent); ok && te.ConversationID == conversationID {
					tracker.Track(te.UserID, te.DisplayName)
				}
			case ev, ok := <-typingStops.C:
				if !ok {
					return
				}
				if te, ok := ev.(wire.TypingEvent); ok && te.ConversationID == conversationID {
					tracker.Untrack(te.UserID)
				}
			}
		}
	}()

	// Surface notifications and incoming messages on stdout.
	done := make(chan struct{})
	defer close(done)
	go printNotifications(notifier, done)
	go printStream(st, tracker, selfID, done)

	if err := rt.Connect(ctx, cred); err != nil {
		if errors.Is(err, realtime.ErrAuthRejected) {
			return fmt.Errorf("authentication rejected; sign in again")
		}
		return fmt.Errorf("connecting: %w", err)
	}

	cyan := color.New(color.FgCyan)
	cyan.Printf("Conversation %s", conversationID)
	fmt.Printf(" as %s. /help for commands, Ctrl+C to quit.\n\n", displayName)

	err = chatLoop(ctx, chatSession{
		conversationID: conversationID,
		stream:         st,
		typer:          typer,
		offline:        off,
		realtime:       rt,
	})

	// Persist the final history so the next launch renders instantly.
	if history, merr := json.Marshal(st.Messages()); merr == nil {
		if _, serr := off.SaveSnapshot(context.Background(), map[string]json.RawMessage{
			snapshotKey(conversationID): history,
		}); serr != nil {
			logger.Warn("saving history snapshot failed", "error", serr)
		}
	}

	profile.LastConversation = conversationID
	if perr := saveProfile(profile); perr != nil {
		logger.Warn("saving profile failed", "error", perr)
	}

	fmt.Println("\nGoodbye!")
	return err
}

type chatSession struct {
	conversationID string
	stream         *stream.Stream
	typer          *typing.Broadcaster
	offline        *offline.Manager
	realtime       *realtime.Manager
}

func chatLoop(ctx context.Context, s chatSession) error {
	lines := readLines(ctx)

	for {
		fmt.Print("> ")

		var input string
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			input = strings.TrimSpace(line)
		}
		if input == "" {
			continue
		}

		if strings.HasPrefix(input, "/") {
			quit, err := handleCommand(ctx, s, input)
			if err != nil {
				color.Red("[error] %v", err)
			}
			if quit {
				return nil
			}
			continue
		}

		s.typer.Start()
		msg, err := s.stream.Send(input)
		s.typer.Stop()

		if err != nil {
			// The optimistic echo already happened; make the mutation
			// durable so the next drain delivers it.
			if _, qerr := s.offline.Enqueue(ctx, offline.ActionCreate, "messages", msg); qerr != nil {
				color.Red("[error] message not sent and not queued: %v", qerr)
			} else {
				color.Yellow("(offline, queued for sync)")
			}
		}
	}
}

func handleCommand(ctx context.Context, s chatSession, input string) (quit bool, err error) {
	cmd, rest, _ := strings.Cut(input, " ")
	rest = strings.TrimSpace(rest)

	switch cmd {
	case "/quit", "/exit", "/q":
		return true, nil

	case "/help":
		fmt.Println("Commands:")
		fmt.Println("  /status        Show connection state and queued changes")
		fmt.Println("  /save <path>   Export the transcript (.html or .md)")
		fmt.Println("  /sync          Replay queued offline changes now")
		fmt.Println("  /help          Show this help")
		fmt.Println("  /quit          Exit the chat")
		return false, nil

	case "/status":
		fmt.Printf("Connection: %s\n", s.realtime.State())
		fmt.Printf("Queued changes: %d\n", len(s.offline.Queue(ctx)))
		return false, nil

	case "/sync":
		report, derr := s.offline.Drain(ctx)
		switch {
		case errors.Is(derr, offline.ErrOffline):
			fmt.Println("Offline; queued changes will sync on reconnect.")
		case errors.Is(derr, offline.ErrDrainInProgress):
			fmt.Println("Sync already running.")
		case derr != nil:
			return false, derr
		default:
			fmt.Printf("Replayed %d, remaining %d, dropped %d\n",
				report.Replayed, report.Remaining, len(report.Dropped))
		}
		return false, nil

	case "/save":
		if rest == "" {
			return false, fmt.Errorf("usage: /save <path>")
		}
		return false, saveTranscript(rest, s.conversationID, s.stream.Messages())

	default:
		return false, fmt.Errorf("unknown command %q (try /help)", cmd)
	}
}

func saveTranscript(path, conversationID string, msgs []wire.Message) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating transcript file: %w", err)
	}
	defer f.Close()

	title := "Conversation " + conversationID
	if strings.HasSuffix(path, ".html") || strings.HasSuffix(path, ".htm") {
		err = transcript.WriteHTML(f, title, msgs)
	} else {
		err = transcript.WriteMarkdown(f, title, msgs)
	}
	if err != nil {
		return fmt.Errorf("writing transcript: %w", err)
	}

	fmt.Printf("Saved %d message(s) to %s\n", len(msgs), path)
	return nil
}

// readLines feeds stdin lines to a channel so the REPL stays responsive to
// context cancellation.
func readLines(ctx context.Context) <-chan string {
	out := make(chan string)
	go func() {
		defer close(out)
		reader := bufio.NewReader(os.Stdin)
		for {
			line, err := reader.ReadString('\n')
			if err != nil {
				if err != io.EOF {
					fmt.Fprintf(os.Stderr, "reading input: %v\n", err)
				}
				return
			}
			select {
			case out <- line:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

func printNotifications(notifier *notify.Notifier, done <-chan struct{}) {
	sub := notifier.Subscribe()
	defer sub.Cancel()

	for {
		select {
		case <-done:
			return
		case n, ok := <-sub.C:
			if !ok {
				return
			}
			switch n.Severity {
			case notify.SeverityError:
				color.Red("\n[!] %s", n.Message)
			case notify.SeverityWarning:
				color.Yellow("\n[!] %s", n.Message)
			case notify.SeveritySuccess:
				color.Green("\n[ok] %s", n.Message)
			default:
				fmt.Printf("\n[i] %s\n", n.Message)
			}
		}
	}
}

// printStream renders messages as they land in the stream, plus the typing
// indicator line. Locally sent messages are echoed by the stream too; they
// print once, right after Send.
func printStream(st *stream.Stream, tracker *typing.Tracker, selfID string, done <-chan struct{}) {
	printed := 0
	agentColor := color.New(color.FgGreen)
	peerColor := color.New(color.FgCyan)

	render := func() {
		msgs := st.Messages()
		for ; printed < len(msgs); printed++ {
			msg := msgs[printed]
			if msg.SenderID == selfID {
				continue // already on screen as the user's own input
			}
			ts := msg.CreatedAt.Format("15:04")
			if msg.Role == wire.RoleAgent {
				agentColor.Printf("\n[%s agent] ", ts)
			} else {
				peerColor.Printf("\n[%s %s] ", ts, msg.SenderID)
			}
			fmt.Println(msg.Content)
		}
		if st.AgentComposing() {
			fmt.Println(color.HiBlackString("agent is typing..."))
		} else if line := tracker.DisplayText(); line != "" {
			fmt.Println(color.HiBlackString(line))
		}
	}

	for {
		select {
		case <-done:
			return
		case <-st.Changes():
			render()
		case <-tracker.Changes():
			render()
		}
	}
}
