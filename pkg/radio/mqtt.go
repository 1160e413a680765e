package radio

import (
	"fmt"
	"log/slog"
	"regexp"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/kabili207/meshtastic-go/core/crypto"
	pb "github.com/kabili207/meshtastic-go/core/proto"
	"google.golang.org/protobuf/proto"
)

const (
	// OK_TO_MQTT bit of the Data bitfield.
	bitfieldOkToMQTT uint32 = 1
	// Fixed payload of the link probe.
	probePayload = "test string"

	defaultHopLimit = 3
	packetQueueSize = 64
)

// Regex to match Meshtastic channel topics: msh/{root}/2/e/{channel}/{gateway}
var meshTopicRegex = regexp.MustCompile(`^(msh(?:/[^/]+)*)/2/e/([^/]+)/(![a-f0-9]{8})$`)

// Channel is a named mesh channel with an optional base64 PSK. An empty key
// means the Meshtastic default key.
type Channel struct {
	Name string
	Key  string
}

// MQTTOptions configures the MQTT radio connection.
type MQTTOptions struct {
	BrokerURL string
	Username  string
	Password  string
	// TopicRoot is the Meshtastic topic root, e.g. "msh/US".
	TopicRoot string
	Channels  []Channel
	// PrimaryChannel is the channel outbound packets are sent on. Defaults
	// to the first configured channel.
	PrimaryChannel string
	SelfNode       NodeID
	HopLimit       int
	Log            *slog.Logger
}

type channelKey struct {
	name string
	key  []byte
	hash uint32
}

// MQTTConn is a radio connection backed by a Meshtastic MQTT gateway topic
// tree. Inbound ServiceEnvelopes are decrypted and decoded into Packets; the
// connection also maintains the live node snapshot from NODEINFO and POSITION
// traffic.
type MQTTConn struct {
	opts    MQTTOptions
	log     *slog.Logger
	client  mqtt.Client
	packets chan Packet
	nodes   *NodeDB

	channels map[string]*channelKey
	primary  *channelKey
	selfNum  uint32

	packetIDCounter uint32
	packetIDLock    sync.Mutex

	closeMu   sync.RWMutex
	closed    bool
	closeOnce sync.Once
}

var _ Conn = (*MQTTConn)(nil)

// NewMQTTConn builds an MQTT radio connection. Connect must be called before
// packets flow.
func NewMQTTConn(opts MQTTOptions) (*MQTTConn, error) {
	if opts.Log == nil {
		opts.Log = slog.Default()
	}
	selfNum, err := opts.SelfNode.Num()
	if err != nil {
		return nil, fmt.Errorf("self node: %w", err)
	}

	c := &MQTTConn{
		opts:     opts,
		log:      opts.Log,
		packets:  make(chan Packet, packetQueueSize),
		nodes:    NewNodeDB(),
		channels: make(map[string]*channelKey),
		selfNum:  selfNum,
	}

	for _, ch := range opts.Channels {
		key := crypto.DefaultKey
		if ch.Key != "" {
			key, err = crypto.ParseKey(ch.Key)
			if err != nil {
				return nil, fmt.Errorf("channel %s: %w", ch.Name, err)
			}
		}
		hash, err := crypto.ChannelHash(ch.Name, key)
		if err != nil {
			return nil, fmt.Errorf("channel %s: %w", ch.Name, err)
		}
		ck := &channelKey{name: ch.Name, key: key, hash: hash}
		c.channels[ch.Name] = ck
		if c.primary == nil || ch.Name == opts.PrimaryChannel {
			c.primary = ck
		}
	}
	if c.primary == nil {
		return nil, fmt.Errorf("no mesh channels configured")
	}

	return c, nil
}

// Connect establishes the MQTT session and subscribes to the channel tree.
func (c *MQTTConn) Connect() error {
	opts := mqtt.NewClientOptions().
		AddBroker(c.opts.BrokerURL).
		SetClientID("mesh-chat-gateway-" + c.opts.SelfNode.String()).
		SetUsername(c.opts.Username).
		SetPassword(c.opts.Password).
		SetAutoReconnect(true).
		SetOnConnectHandler(func(client mqtt.Client) {
			filter := c.opts.TopicRoot + "/2/e/+/+"
			token := client.Subscribe(filter, 0, c.onMessage)
			go func() {
				token.Wait()
				if err := token.Error(); err != nil {
					c.log.Error("mesh topic subscribe failed", "filter", filter, "error", err)
					return
				}
				c.log.Info("subscribed to mesh topic tree", "filter", filter)
			}()
		})

	c.client = mqtt.NewClient(opts)
	token := c.client.Connect()
	token.Wait()
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	return nil
}

// Packets returns the inbound packet stream. Packets are delivered in arrival
// order; the consumer is expected to process them serially.
func (c *MQTTConn) Packets() <-chan Packet {
	return c.packets
}

// Snapshot returns the live node directory.
func (c *MQTTConn) Snapshot() NodeSnapshot {
	return c.nodes
}

func (c *MQTTConn) onMessage(_ mqtt.Client, msg mqtt.Message) {
	matches := meshTopicRegex.FindStringSubmatch(msg.Topic())
	if len(matches) == 0 {
		return
	}
	channel, gateway := matches[2], matches[3]

	// Skip our own uplinks.
	if gateway == c.opts.SelfNode.String() {
		return
	}

	ck, ok := c.channels[channel]
	if !ok {
		c.log.Debug("packet on unconfigured channel", "channel", channel)
		return
	}

	var env pb.ServiceEnvelope
	if err := proto.Unmarshal(msg.Payload(), &env); err != nil {
		c.log.Debug("failed to decode ServiceEnvelope", "topic", msg.Topic(), "error", err)
		return
	}
	meshPkt := env.GetPacket()
	if meshPkt == nil {
		return
	}
	if meshPkt.From == c.selfNum {
		return
	}

	data, err := crypto.TryDecode(meshPkt, ck.key)
	if err != nil {
		c.log.Debug("failed to decrypt mesh packet", "channel", channel, "error", err)
		return
	}

	pkt := c.decodePacket(meshPkt, data)
	c.nodes.Observe(pkt)
	c.deliver(pkt)
}

// deliver pushes a decoded packet to the consumer. Sends never block, and a
// connection that has been closed drops the packet: broker callbacks may
// still be in flight when Close runs.
func (c *MQTTConn) deliver(pkt Packet) {
	c.closeMu.RLock()
	defer c.closeMu.RUnlock()
	if c.closed {
		return
	}
	select {
	case c.packets <- pkt:
	default:
		c.log.Warn("packet queue full, dropping packet", "from", pkt.From)
	}
}

func (c *MQTTConn) decodePacket(meshPkt *pb.MeshPacket, data *pb.Data) Packet {
	rxTime := time.Now()
	if meshPkt.RxTime != 0 {
		rxTime = time.Unix(int64(meshPkt.RxTime), 0)
	}

	pkt := Packet{
		From:   NodeIDFromNum(meshPkt.From),
		To:     NodeIDFromNum(meshPkt.To),
		RxTime: rxTime,
		RxSnr:  float64(meshPkt.RxSnr),
	}

	payload := &Payload{PortName: data.Portnum.String()}
	switch data.Portnum {
	case pb.PortNum_TEXT_MESSAGE_APP:
		payload.Port = PortText
		payload.Text = string(data.Payload)

	case pb.PortNum_POSITION_APP:
		payload.Port = PortPosition
		var pos pb.Position
		if err := proto.Unmarshal(data.Payload, &pos); err != nil {
			c.log.Debug("failed to decode position payload", "from", pkt.From, "error", err)
			break
		}
		payload.Position = decodePosition(&pos)

	case pb.PortNum_NODEINFO_APP:
		payload.Port = PortNodeInfo
		var user pb.User
		if err := proto.Unmarshal(data.Payload, &user); err != nil {
			c.log.Debug("failed to decode nodeinfo payload", "from", pkt.From, "error", err)
			break
		}
		payload.User = &NodeUser{
			ID:        NodeID(user.GetId()),
			LongName:  user.GetLongName(),
			ShortName: user.GetShortName(),
			HwModel:   user.GetHwModel().String(),
		}

	case pb.PortNum_REPLY_APP:
		payload.Port = PortReply

	default:
		payload.Port = PortUnknown
	}

	pkt.Decoded = payload
	return pkt
}

func decodePosition(pos *pb.Position) *Position {
	p := &Position{}
	if lat := pos.GetLatitudeI(); lat != 0 {
		v := float64(lat) * 1e-7
		p.Latitude = &v
	}
	if lon := pos.GetLongitudeI(); lon != 0 {
		v := float64(lon) * 1e-7
		p.Longitude = &v
	}
	if alt := pos.GetAltitude(); alt != 0 {
		v := float64(alt)
		p.Altitude = &v
	}
	if t := pos.GetTime(); t != 0 {
		p.Time = time.Unix(int64(t), 0)
	}
	return p
}

// SendText sends a plain text message on the primary channel, fire and forget.
func (c *MQTTConn) SendText(text string, dest NodeID) error {
	bitfield := bitfieldOkToMQTT
	data := &pb.Data{
		Portnum:  pb.PortNum_TEXT_MESSAGE_APP,
		Payload:  []byte(text),
		Bitfield: &bitfield,
	}
	return c.sendData(data, dest, false)
}

// SendProbe sends an acknowledgement-requested probe on the reply port.
func (c *MQTTConn) SendProbe(dest NodeID) error {
	bitfield := bitfieldOkToMQTT
	data := &pb.Data{
		Portnum:      pb.PortNum_REPLY_APP,
		Payload:      []byte(probePayload),
		Bitfield:     &bitfield,
		WantResponse: true,
	}
	return c.sendData(data, dest, true)
}

func (c *MQTTConn) sendData(data *pb.Data, dest NodeID, wantAck bool) error {
	destNum, err := dest.Num()
	if err != nil {
		return err
	}

	rawData, err := proto.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal data: %w", err)
	}

	packetID := c.generatePacketID()
	encrypted, err := crypto.XOR(rawData, c.primary.key, packetID, c.selfNum)
	if err != nil {
		return fmt.Errorf("encrypt packet: %w", err)
	}

	hopStart, hopLimit := c.hopValues()
	meshPkt := &pb.MeshPacket{
		Id:       packetID,
		To:       destNum,
		From:     c.selfNum,
		WantAck:  wantAck,
		HopLimit: hopLimit,
		HopStart: hopStart,
		ViaMqtt:  true,
		RxTime:   uint32(time.Now().Unix()),
		Channel:  c.primary.hash,
		Priority: pb.MeshPacket_DEFAULT,
		Delayed:  pb.MeshPacket_NO_DELAY,
		PayloadVariant: &pb.MeshPacket_Encrypted{
			Encrypted: encrypted,
		},
	}

	env := &pb.ServiceEnvelope{
		ChannelId: c.primary.name,
		GatewayId: c.opts.SelfNode.String(),
		Packet:    meshPkt,
	}

	rawEnv, err := proto.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	topic := c.opts.TopicRoot + "/2/e/" + c.primary.name + "/" + c.opts.SelfNode.String()
	go func(t string, payload []byte) {
		token := c.client.Publish(t, 0, false, payload)
		token.Wait()
		if err := token.Error(); err != nil {
			c.log.Error("failed to publish mesh packet", "topic", t, "error", err)
		}
	}(topic, rawEnv)

	return nil
}

func (c *MQTTConn) hopValues() (hopStart, hopLimit uint32) {
	configured := c.opts.HopLimit
	if configured <= 0 {
		configured = defaultHopLimit
	}
	if configured > 7 {
		configured = 7
	}
	hopStart = uint32(configured)
	hopLimit = hopStart - 1
	return
}

// generatePacketID generates a unique packet ID, mixing in randomness the way
// the Meshtastic firmware does.
func (c *MQTTConn) generatePacketID() uint32 {
	c.packetIDLock.Lock()
	defer c.packetIDLock.Unlock()

	c.packetIDCounter++
	c.packetIDCounter = (c.packetIDCounter & 0x3FF) | (uint32(time.Now().UnixNano()&0x3FFFFF) << 10)
	return c.packetIDCounter
}

// Close disconnects from the broker and closes the packet stream.
func (c *MQTTConn) Close() {
	c.closeOnce.Do(func() {
		if c.client != nil {
			c.client.Disconnect(250)
		}
		c.closeMu.Lock()
		c.closed = true
		close(c.packets)
		c.closeMu.Unlock()
	})
}
