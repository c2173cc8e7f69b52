package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/vovakirdan/convosync/internal/api"
	"github.com/vovakirdan/convosync/internal/client"
	"github.com/vovakirdan/convosync/internal/core"
	"github.com/vovakirdan/convosync/internal/proto"
	"github.com/vovakirdan/convosync/internal/service/messages"
	"github.com/vovakirdan/convosync/internal/transport"
)

func init() {
	rootCmd.AddCommand(chatCmd)

	chatCmd.Flags().String("user", "", "local user id (overrides client.user_id)")
	chatCmd.Flags().String("token", "", "bearer token (overrides client.token)")
	chatCmd.Flags().String("name", "", "display name when a development token is issued")
	chatCmd.Flags().String("role", "user", "role when a development token is issued")
}

var chatCmd = &cobra.Command{
	Use:   "chat <conversation-id|user-id>",
	Short: "Open a conversation in the terminal",
	Long: `chat opens a conversation view. Passing a counterpart user id starts the
conversation on first use. Lines typed on stdin are sent; /quit exits.`,
	Args: cobra.ExactArgs(1),
	RunE: runChat,
}

func runChat(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if user, _ := cmd.Flags().GetString("user"); user != "" {
		cfg.Client.UserID = user
	}
	if token, _ := cmd.Flags().GetString("token"); token != "" {
		cfg.Client.Token = token
	}
	if cfg.Client.UserID == "" {
		return errors.New("no user id: pass --user or set client.user_id")
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	backend := api.New(cfg.Client.APIURL, cfg.Client.Token, cfg.Client.RequestTimeout, logger)
	if cfg.Client.Token == "" {
		name, _ := cmd.Flags().GetString("name")
		role, _ := cmd.Flags().GetString("role")
		token, err := backend.IssueToken(ctx, proto.TokenRequest{UserID: cfg.Client.UserID, Name: name, Role: role})
		if err != nil {
			return fmt.Errorf("no token configured and the backend refused one: %w", err)
		}
		cfg.Client.Token = token
		backend.SetToken(token)
	}

	ch := transport.NewWebSocket(transport.Options{
		URL:               cfg.Client.SocketURL,
		UserID:            cfg.Client.UserID,
		Token:             cfg.Client.Token,
		ReconnectAttempts: cfg.Client.ReconnectAttempts,
		ReconnectDelay:    cfg.Client.ReconnectDelay,
		EmitRate:          cfg.Client.EmitRate,
		EmitBurst:         cfg.Client.EmitBurst,
	}, logger)

	c := client.New(ch, backend, logger, client.Options{
		LocalUserID: cfg.Client.UserID,
		TypingStop:  cfg.Sync.TypingStopAfter,
		TypingClear: cfg.Sync.TypingClearAfter,
	})
	defer c.Close()

	if err := c.Start(ctx); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	sy, err := c.OpenConversation(ctx, args[0])
	if err != nil {
		return err
	}
	convID := sy.ConversationID()
	defer c.CloseConversation(context.Background(), convID)

	view := newChatView(out, cfg.Client.UserID)
	view.header(sy.Snapshot())
	unsubMessages := sy.OnChange(view.render)
	defer unsubMessages()
	unsubTyping := c.Typing.OnTyping(func(ev core.TypingEvent) {
		if ev.ConversationID == convID {
			view.typing(ev)
		}
	})
	defer unsubTyping()
	view.render(sy.Snapshot())

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(cmd.InOrStdin())
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			text := strings.TrimSpace(line)
			switch {
			case text == "":
				continue
			case text == "/quit":
				return nil
			}
			// Feed the draft first so the counterpart sees one typing burst.
			if err := c.Input(ctx, convID, text); err != nil {
				logger.Debug().Err(err).Msg("typing emit")
			}
			if _, err := c.Send(ctx, convID, text); err != nil {
				fmt.Fprintf(out, "! not sent: %v\n", err)
			}
		}
	}
}

// chatView prints a conversation incrementally from synchronizer snapshots.
type chatView struct {
	out   io.Writer
	local string

	mu      sync.Mutex
	printed map[string]core.MessageStatus
}

func newChatView(out io.Writer, local string) *chatView {
	return &chatView{out: out, local: local, printed: make(map[string]core.MessageStatus)}
}

func (v *chatView) header(s messages.Snapshot) {
	v.mu.Lock()
	defer v.mu.Unlock()

	title := s.ConversationID
	if p, ok := s.Conversation.Counterpart(v.local); ok && p.Name != "" {
		title = p.Name
		if p.IsOnline {
			title += " (online)"
		} else if !p.LastSeen.IsZero() {
			title += " (last seen " + humanize.Time(p.LastSeen) + ")"
		}
	}
	fmt.Fprintf(v.out, "== %s ==\n", title)
	if s.Booking != nil && s.Booking.ServiceName != "" {
		fmt.Fprintf(v.out, "   booking: %s\n", s.Booking.ServiceName)
	}
}

func (v *chatView) render(s messages.Snapshot) {
	v.mu.Lock()
	defer v.mu.Unlock()

	for _, m := range s.Messages {
		if m.IsTemporary() {
			continue
		}
		prev, seen := v.printed[m.ID]
		v.printed[m.ID] = m.Status
		switch {
		case !seen:
			fmt.Fprintf(v.out, "[%s] %s: %s%s\n", humanize.Time(m.CreatedAt), v.author(s, m), m.Content, statusSuffix(m))
		case m.Sender == core.SenderSelf && prev != m.Status:
			fmt.Fprintf(v.out, "   %q is now %s\n", m.Content, m.Status)
		}
	}
}

func (v *chatView) typing(ev core.TypingEvent) {
	v.mu.Lock()
	defer v.mu.Unlock()

	who := ev.UserName
	if who == "" {
		who = ev.UserID
	}
	if ev.IsTyping {
		fmt.Fprintf(v.out, "   %s is typing...\n", who)
	}
}

func (v *chatView) author(s messages.Snapshot, m core.Message) string {
	switch m.Sender {
	case core.SenderSelf:
		return "you"
	case core.SenderSystem:
		return "system"
	}
	for _, p := range s.Conversation.Participants {
		if p.UserID == m.SenderID && p.Name != "" {
			return p.Name
		}
	}
	return m.SenderID
}

func statusSuffix(m core.Message) string {
	if m.Sender != core.SenderSelf || m.Status == "" {
		return ""
	}
	return " (" + string(m.Status) + ")"
}
