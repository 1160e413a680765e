package relay

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/kabili207/mesh-chat-gateway/pkg/chat"
	"github.com/kabili207/mesh-chat-gateway/pkg/radio"
)

const startReply = "I'm a bot, please talk to me!"

// Bridge forwards chat-room messages onto the mesh as broadcast text and
// answers the chat-side helper commands. Only messages from the bound room
// are forwarded; everything else is dropped silently.
type Bridge struct {
	radio radio.Sender
	snap  radio.NodeSnapshot
	chat  ChatSender
	room  string
}

func NewBridge(sender radio.Sender, snap radio.NodeSnapshot, chatConn ChatSender, room string) *Bridge {
	return &Bridge{radio: sender, snap: snap, chat: chatConn, room: room}
}

// Run consumes chat events until the context is cancelled or the channel
// closes.
func (b *Bridge) Run(ctx context.Context, events <-chan chat.Message) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-events:
			if !ok {
				return
			}
			b.Handle(msg)
		}
	}
}

// Handle processes a single chat message to completion. Commands are answered
// in whatever room they came from; plain messages only cross to the mesh when
// the room matches the binding. Command-shaped messages never reach the mesh.
func (b *Bridge) Handle(msg chat.Message) {
	switch {
	case strings.HasPrefix(msg.Text, "/start"):
		b.answer(msg.RoomID, startReply)
	case strings.HasPrefix(msg.Text, "/nodes"):
		b.answer(msg.RoomID, b.nodeList())
	case strings.HasPrefix(msg.Text, "/"):
		slog.Debug("ignoring unrecognized chat command", "room", msg.RoomID, "text", msg.Text)
	default:
		b.forward(msg)
	}
}

func (b *Bridge) forward(msg chat.Message) {
	if msg.RoomID != b.room {
		slog.Debug("dropping message from unbound room", "room", msg.RoomID)
		return
	}
	text := msg.SenderName + ": " + msg.Text
	if err := b.radio.SendText(text, radio.BroadcastAddr); err != nil {
		slog.Error("failed to forward message to mesh", "error", err)
	}
}

func (b *Bridge) nodeList() string {
	nodes := b.snap.Nodes()
	if len(nodes) == 0 {
		return "no known nodes"
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID < nodes[j].ID })

	var sb strings.Builder
	for _, n := range nodes {
		name := n.ID.String()
		if n.User != nil && n.User.LongName != "" {
			name = n.User.LongName
		}
		fmt.Fprintf(&sb, "%s (%s): last heard %s\n",
			name, n.ID, n.LastHeard.Format("02/01/2006, 15:04:05"))
	}
	return strings.TrimRight(sb.String(), "\n")
}

func (b *Bridge) answer(roomID, text string) {
	if err := b.chat.SendMessage(roomID, text); err != nil {
		slog.Error("failed to answer chat command", "room", roomID, "error", err)
	}
}
