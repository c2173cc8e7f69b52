package transport

import (
	"encoding/json"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/convosync/internal/core"
	"github.com/vovakirdan/convosync/internal/proto"
)

// OnNewMessage subscribes fn to normalized new_message events.
func OnNewMessage(ch Channel, log *zerolog.Logger, fn func(core.NewMessageEvent)) func() {
	return ch.On(proto.EventNewMessage, func(data json.RawMessage) {
		var payload proto.NewMessageData
		if err := json.Unmarshal(data, &payload); err != nil {
			log.Warn().Err(err).Str("event", proto.EventNewMessage).Msg("decode event")
			return
		}
		ev, err := payload.Normalize()
		if err != nil {
			log.Warn().Err(err).Str("event", proto.EventNewMessage).Msg("invalid event")
			return
		}
		fn(ev)
	})
}

// OnMessageStatus subscribes fn to normalized message_status events.
func OnMessageStatus(ch Channel, log *zerolog.Logger, fn func(core.StatusEvent)) func() {
	return ch.On(proto.EventMessageStatus, func(data json.RawMessage) {
		var payload proto.MessageStatusData
		if err := json.Unmarshal(data, &payload); err != nil {
			log.Warn().Err(err).Str("event", proto.EventMessageStatus).Msg("decode event")
			return
		}
		ev, err := payload.Normalize()
		if err != nil {
			log.Warn().Err(err).Str("event", proto.EventMessageStatus).Msg("invalid event")
			return
		}
		fn(ev)
	})
}

// OnTyping subscribes fn to normalized typing events.
func OnTyping(ch Channel, log *zerolog.Logger, fn func(core.TypingEvent)) func() {
	return ch.On(proto.EventTyping, func(data json.RawMessage) {
		var payload proto.TypingData
		if err := json.Unmarshal(data, &payload); err != nil {
			log.Warn().Err(err).Str("event", proto.EventTyping).Msg("decode event")
			return
		}
		ev, err := payload.Normalize()
		if err != nil {
			log.Warn().Err(err).Str("event", proto.EventTyping).Msg("invalid event")
			return
		}
		fn(ev)
	})
}

// OnUserOnlineStatus subscribes fn to normalized presence events.
func OnUserOnlineStatus(ch Channel, log *zerolog.Logger, fn func(core.PresenceEvent)) func() {
	return ch.On(proto.EventUserOnlineStatus, func(data json.RawMessage) {
		var payload proto.UserOnlineStatusData
		if err := json.Unmarshal(data, &payload); err != nil {
			log.Warn().Err(err).Str("event", proto.EventUserOnlineStatus).Msg("decode event")
			return
		}
		ev, err := payload.Normalize()
		if err != nil {
			log.Warn().Err(err).Str("event", proto.EventUserOnlineStatus).Msg("invalid event")
			return
		}
		fn(ev)
	})
}

// OnLifecycle subscribes to connect and disconnect. Either callback may be nil.
func OnLifecycle(ch Channel, onConnect, onDisconnect func()) func() {
	var unsubs []func()
	if onConnect != nil {
		unsubs = append(unsubs, ch.On(EventConnect, func(json.RawMessage) { onConnect() }))
	}
	if onDisconnect != nil {
		unsubs = append(unsubs, ch.On(EventDisconnect, func(json.RawMessage) { onDisconnect() }))
	}
	return func() {
		for _, u := range unsubs {
			u()
		}
	}
}
