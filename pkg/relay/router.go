package relay

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"github.com/kabili207/mesh-chat-gateway/pkg/radio"
	"github.com/kabili207/mesh-chat-gateway/pkg/store"
)

// ChatSender is the outbound half of the chat connection used by the router.
type ChatSender interface {
	SendMessage(roomID, text string) error
}

// Router classifies inbound mesh packets and dispatches them to the node
// directory, the command processor, or the chat room. It processes one packet
// at a time; a packet that fails never aborts the loop.
type Router struct {
	dir      store.NodeDirectory
	snap     radio.NodeSnapshot
	commands *Commands
	chat     ChatSender
	room     string

	nameCache *ttlcache.Cache[radio.NodeID, string]

	// Notify, when set, is invoked after every successful directory write so
	// the web layer can push updates to connected clients.
	Notify func()
}

func NewRouter(dir store.NodeDirectory, sender radio.Sender, snap radio.NodeSnapshot, chat ChatSender, room string) *Router {
	cache := ttlcache.New[radio.NodeID, string](
		ttlcache.WithTTL[radio.NodeID, string](15 * time.Minute),
	)
	go cache.Start()
	return &Router{
		dir:       dir,
		snap:      snap,
		commands:  NewCommands(sender, snap),
		chat:      chat,
		room:      room,
		nameCache: cache,
	}
}

// Run consumes packets until the context is cancelled or the channel closes.
func (r *Router) Run(ctx context.Context, packets <-chan radio.Packet) {
	for {
		select {
		case <-ctx.Done():
			return
		case pkt, ok := <-packets:
			if !ok {
				return
			}
			r.Handle(pkt)
		}
	}
}

// Handle processes a single inbound packet to completion.
func (r *Router) Handle(pkt radio.Packet) {
	if !pkt.To.IsBroadcast() {
		slog.Debug("ignoring non-broadcast packet", "from", pkt.From, "to", pkt.To)
		return
	}
	if pkt.From == "" || pkt.Decoded == nil {
		slog.Debug("dropping packet", "from", pkt.From, "error", ErrMalformedPacket)
		return
	}

	switch pkt.Decoded.Port {
	case radio.PortPosition:
		r.handlePosition(pkt)
	case radio.PortText:
		r.handleText(pkt)
	default:
		slog.Debug("ignoring unhandled port", "from", pkt.From, "port", pkt.Decoded.PortName)
	}
}

func (r *Router) handlePosition(pkt radio.Packet) {
	pos := pkt.Decoded.Position
	if pos == nil {
		slog.Debug("dropping position packet", "from", pkt.From, "error", ErrMalformedPacket)
		return
	}
	snr := pkt.RxSnr
	loc := store.Location{
		Latitude:     pos.Latitude,
		Longitude:    pos.Longitude,
		Altitude:     pos.Altitude,
		BatteryLevel: pos.BatteryLevel,
		RxSnr:        &snr,
	}
	if err := r.dir.AppendLocation(r.identity(pkt), loc, pkt.RxTime); err != nil {
		slog.Error("failed to record location", "from", pkt.From, "error", err)
		return
	}
	r.notify()
}

func (r *Router) handleText(pkt radio.Packet) {
	text := pkt.Decoded.Text

	// Every broadcast text is recorded, commands included.
	if err := r.dir.AppendMessage(r.identity(pkt), text, pkt.RxTime); err != nil {
		slog.Error("failed to record message", "from", pkt.From, "error", err)
		return
	}
	r.notify()

	if strings.HasPrefix(text, "/") {
		r.commands.Handle(pkt.From, text)
		return
	}

	name := r.displayName(pkt.From)
	if err := r.chat.SendMessage(r.room, name+": "+text); err != nil {
		slog.Error("failed to forward message to chat", "from", pkt.From, "error", err)
	}
}

// identity builds the directory identity for a packet's sender, filling in
// name and hardware model from the live snapshot when known.
func (r *Router) identity(pkt radio.Packet) store.NodeIdentity {
	ident := store.NodeIdentity{NodeID: pkt.From.String(), LastHeard: pkt.RxTime}
	if entry := r.snap.Node(pkt.From); entry != nil && entry.User != nil {
		ident.NodeName = entry.User.LongName
		ident.HwModel = entry.User.HwModel
	}
	return ident
}

// displayName resolves a node's long name, falling back to the raw id when
// the node has not announced itself yet. Resolved names are cached; misses
// are not, so a node becomes nameable as soon as its info arrives.
func (r *Router) displayName(id radio.NodeID) string {
	if cached := r.nameCache.Get(id); cached != nil {
		return cached.Value()
	}
	if entry := r.snap.Node(id); entry != nil && entry.User != nil && entry.User.LongName != "" {
		r.nameCache.Set(id, entry.User.LongName, ttlcache.DefaultTTL)
		return entry.User.LongName
	}
	return id.String()
}

func (r *Router) notify() {
	if r.Notify != nil {
		r.Notify()
	}
}

// Close stops the name cache janitor.
func (r *Router) Close() {
	r.nameCache.Stop()
}
