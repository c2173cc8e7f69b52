package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/spf13/cobra"

	"github.com/vovakirdan/convosync/internal/api"
	"github.com/vovakirdan/convosync/internal/core"
	"github.com/vovakirdan/convosync/internal/proto"
)

func init() {
	rootCmd.AddCommand(smokeCmd)

	smokeCmd.Flags().String("sender", "smoke-user", "sending user id")
	smokeCmd.Flags().String("receiver", "smoke-pro", "receiving professional id")
	smokeCmd.Flags().String("text", "hello from smoke test", "message text to send")
	smokeCmd.Flags().Duration("timeout", 5*time.Second, "total timeout for the run")
}

var smokeCmd = &cobra.Command{
	Use:   "smoke",
	Short: "Check a running backend end to end: send, relay and read receipt",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		sender, _ := cmd.Flags().GetString("sender")
		receiver, _ := cmd.Flags().GetString("receiver")
		text, _ := cmd.Flags().GetString("text")
		timeout, _ := cmd.Flags().GetDuration("timeout")

		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()

		senderAPI := api.New(cfg.Client.APIURL, "", cfg.Client.RequestTimeout, logger)
		senderToken, err := senderAPI.IssueToken(ctx, proto.TokenRequest{UserID: sender, Role: "user"})
		if err != nil {
			return err
		}
		senderAPI.SetToken(senderToken)

		receiverAPI := api.New(cfg.Client.APIURL, "", cfg.Client.RequestTimeout, logger)
		receiverToken, err := receiverAPI.IssueToken(ctx, proto.TokenRequest{UserID: receiver, Role: "professional"})
		if err != nil {
			return err
		}
		receiverAPI.SetToken(receiverToken)

		conv, err := senderAPI.StartConversation(ctx, receiver, "")
		if err != nil {
			return err
		}

		conn, _, err := websocket.Dial(ctx, cfg.Client.SocketURL+"?token="+receiverToken, nil)
		if err != nil {
			return fmt.Errorf("dial: %w", err)
		}
		defer conn.Close(websocket.StatusNormalClosure, "bye")

		if err := writeSmokeFrame(ctx, conn, proto.EventAuthenticate, proto.AuthenticateData{UserID: receiver}); err != nil {
			return err
		}
		if err := writeSmokeFrame(ctx, conn, proto.EventJoinConversation, proto.ConversationRoomData{ConversationID: conv.ID}); err != nil {
			return err
		}
		if _, err := awaitEvent(ctx, conn, cmd.OutOrStdout(), proto.EventJoinedConversation); err != nil {
			return err
		}

		sent, err := senderAPI.SendMessage(ctx, api.SendRequest{ConversationID: conv.ID, ReceiverID: receiver, Content: text})
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "sent message %s in %s\n", sent.ID, conv.ID)

		raw, err := awaitEvent(ctx, conn, cmd.OutOrStdout(), proto.EventNewMessage)
		if err != nil {
			return err
		}
		var incoming proto.NewMessageData
		if err := json.Unmarshal(raw, &incoming); err != nil {
			return fmt.Errorf("unmarshal new_message: %w", err)
		}
		ev, err := incoming.Normalize()
		if err != nil {
			return err
		}
		if ev.Message.ID != sent.ID {
			return fmt.Errorf("relayed message %s, expected %s", ev.Message.ID, sent.ID)
		}

		if err := writeSmokeFrame(ctx, conn, proto.EventMessageSeen, proto.MessageAckData{MessageID: sent.ID, ConversationID: conv.ID}); err != nil {
			return err
		}
		raw, err = awaitEvent(ctx, conn, cmd.OutOrStdout(), proto.EventMessageStatus)
		if err != nil {
			return err
		}
		var status proto.MessageStatusData
		if err := json.Unmarshal(raw, &status); err != nil {
			return fmt.Errorf("unmarshal message_status: %w", err)
		}
		if core.MessageStatus(status.Status) != core.StatusSeen {
			return fmt.Errorf("expected seen receipt, got %q", status.Status)
		}

		fmt.Fprintln(cmd.OutOrStdout(), "ok: message relayed and marked seen")
		return nil
	},
}

func writeSmokeFrame(ctx context.Context, conn *websocket.Conn, event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", event, err)
	}
	if err := wsjson.Write(ctx, conn, proto.Frame{Event: event, Data: data}); err != nil {
		return fmt.Errorf("send %s: %w", event, err)
	}
	return nil
}

// awaitEvent reads frames until event arrives. Error frames abort the run.
func awaitEvent(ctx context.Context, conn *websocket.Conn, out io.Writer, event string) (json.RawMessage, error) {
	for {
		var frame proto.Frame
		if err := wsjson.Read(ctx, conn, &frame); err != nil {
			return nil, fmt.Errorf("waiting for %s: %w", event, err)
		}
		fmt.Fprintf(out, "received event=%s\n", frame.Event)

		switch frame.Event {
		case event:
			return frame.Data, nil
		case proto.EventError:
			var perr proto.Error
			_ = json.Unmarshal(frame.Data, &perr)
			return nil, fmt.Errorf("server error %s: %s", perr.Code, perr.Msg)
		}
	}
}
