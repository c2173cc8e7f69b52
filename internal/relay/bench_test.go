package relay

import (
	"context"
	"strconv"
	"testing"

	"github.com/vovakirdan/convosync/internal/proto"
)

func benchmarkRoomPublish(b *testing.B, recipients int) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := NewHub(nil, nil)
	go hub.Run(ctx)

	clients := make([]*Client, 0, recipients)
	for i := range recipients {
		c := NewClient("c" + strconv.Itoa(i))
		hub.RegisterClient(c)
		c.Commands <- &Command{Kind: CommandAuthenticate, UserID: "u" + strconv.Itoa(i)}
		c.Commands <- &Command{Kind: CommandJoinRoom, Room: "bench"}
		clients = append(clients, c)
	}

	// Drain events for all but the first recipient to avoid channel backpressure.
	target := clients[0]
	for _, c := range clients[1:] {
		go func(cl *Client) {
			for range cl.Events {
			}
		}(c)
	}
	for joined := false; !joined; {
		ev := <-target.Events
		joined = ev.Name == proto.EventJoinedConversation
	}

	ev := &Event{Name: proto.EventNewMessage, Data: proto.NewMessageData{ConversationID: "bench", Content: "payload"}}

	b.ReportAllocs()
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		hub.Publish([]string{"bench"}, ev)
		for got := <-target.Events; got.Name != proto.EventNewMessage; got = <-target.Events {
		}
	}
}

func BenchmarkRoomPublish_10(b *testing.B)  { benchmarkRoomPublish(b, 10) }
func BenchmarkRoomPublish_100(b *testing.B) { benchmarkRoomPublish(b, 100) }
func BenchmarkRoomPublish_500(b *testing.B) { benchmarkRoomPublish(b, 500) }
