package relay

import (
	"fmt"
	"log/slog"
	"math"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/kabili207/mesh-chat-gateway/pkg/geo"
	"github.com/kabili207/mesh-chat-gateway/pkg/radio"
)

const (
	cmdDistance = "/distance"
	cmdPing     = "/ping"

	replyNoNodeInfo     = "distance err: no node info"
	replyNoPosition     = "distance err: no position"
	replyNoLatLon       = "distance err: no lat/lon"
	replyUnknownCommand = "unknown command"
)

// Commands handles in-band text commands from mesh nodes. All replies go
// privately to the requester, never broadcast.
type Commands struct {
	radio radio.Sender
	snap  radio.NodeSnapshot
}

func NewCommands(sender radio.Sender, snap radio.NodeSnapshot) *Commands {
	return &Commands{radio: sender, snap: snap}
}

// Handle dispatches one command text from sender. Matching is prefix-based,
// so "/distance please" still resolves to the distance handler.
func (c *Commands) Handle(sender radio.NodeID, text string) {
	switch {
	case strings.HasPrefix(text, cmdDistance):
		c.distance(sender)
	case strings.HasPrefix(text, cmdPing):
		c.ping(sender)
	default:
		c.reply(sender, replyUnknownCommand)
	}
}

func (c *Commands) distance(sender radio.NodeID) {
	self := c.snap.Node(sender)
	if self == nil {
		c.reply(sender, replyNoNodeInfo)
		return
	}
	if self.Position == nil {
		c.reply(sender, replyNoPosition)
		return
	}
	origin, ok := coordinates(self.Position)
	if !ok {
		c.reply(sender, replyNoLatLon)
		return
	}

	for _, peer := range c.snap.NodesWithUser() {
		if peer.ID == sender {
			continue
		}
		point, ok := coordinates(peer.Position)
		if !ok {
			continue
		}
		dist, err := geo.DistanceMeters(origin, point)
		if err != nil {
			slog.Debug("skipping peer with bad coordinates", "peer", peer.ID, "error", err)
			continue
		}
		meters := humanize.Comma(int64(math.Round(dist)))
		c.reply(sender, fmt.Sprintf("%s: %sm", peer.User.LongName, meters))
	}
}

func (c *Commands) ping(sender radio.NodeID) {
	if err := c.radio.SendProbe(sender); err != nil {
		slog.Error("failed to send probe", "dest", sender, "error", err)
	}
}

func (c *Commands) reply(dest radio.NodeID, text string) {
	if err := c.radio.SendText(text, dest); err != nil {
		slog.Error("failed to send command reply", "dest", dest, "error", err)
	}
}

// coordinates extracts a usable point from a position. A zero latitude or
// longitude is treated the same as a missing one.
func coordinates(p *radio.Position) (geo.Point, bool) {
	if p == nil || p.Latitude == nil || p.Longitude == nil {
		return geo.Point{}, false
	}
	if *p.Latitude == 0 || *p.Longitude == 0 {
		return geo.Point{}, false
	}
	return geo.Point{Latitude: *p.Latitude, Longitude: *p.Longitude}, true
}
