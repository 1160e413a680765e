package relay

import (
	"errors"
	"testing"
	"time"

	"github.com/kabili207/mesh-chat-gateway/pkg/radio"
)

const testRoom = "room-1"

func newTestRouter(t *testing.T, dir *fakeDirectory, sender *fakeSender, snap *fakeSnapshot, chatConn *fakeChat) *Router {
	t.Helper()
	r := NewRouter(dir, sender, snap, chatConn, testRoom)
	t.Cleanup(r.Close)
	return r
}

func textPacket(from, to radio.NodeID, text string) radio.Packet {
	return radio.Packet{
		From: from,
		To:   to,
		Decoded: &radio.Payload{
			Port: radio.PortText,
			Text: text,
		},
		RxTime: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestRouterIgnoresNonBroadcast(t *testing.T) {
	dir := &fakeDirectory{}
	sender := &fakeSender{}
	chatConn := &fakeChat{}
	r := newTestRouter(t, dir, sender, snapshotWith(), chatConn)

	r.Handle(textPacket("!aabbccdd", "!11223344", "hello"))

	if len(dir.messages) != 0 || len(dir.locations) != 0 {
		t.Error("non-broadcast packet must not touch the directory")
	}
	if len(chatConn.sent) != 0 {
		t.Error("non-broadcast packet must not be forwarded")
	}
}

func TestRouterDropsMalformedPackets(t *testing.T) {
	dir := &fakeDirectory{}
	chatConn := &fakeChat{}
	r := newTestRouter(t, dir, &fakeSender{}, snapshotWith(), chatConn)

	r.Handle(radio.Packet{From: "", To: radio.BroadcastAddr, Decoded: &radio.Payload{Port: radio.PortText, Text: "x"}})
	r.Handle(radio.Packet{From: "!aabbccdd", To: radio.BroadcastAddr})
	r.Handle(radio.Packet{From: "!aabbccdd", To: radio.BroadcastAddr, Decoded: &radio.Payload{Port: radio.PortPosition}})

	if len(dir.messages) != 0 || len(dir.locations) != 0 || len(chatConn.sent) != 0 {
		t.Error("malformed packets must be dropped without side effects")
	}
}

func TestRouterRecordsPositions(t *testing.T) {
	dir := &fakeDirectory{}
	r := newTestRouter(t, dir, &fakeSender{}, snapshotWith(), &fakeChat{})

	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	r.Handle(radio.Packet{
		From: "!aabbccdd",
		To:   radio.BroadcastAddr,
		Decoded: &radio.Payload{
			Port: radio.PortPosition,
			Position: &radio.Position{
				Latitude:  ptr(50.5),
				Longitude: ptr(30.5),
				Altitude:  ptr(120.0),
			},
		},
		RxTime: at,
		RxSnr:  7.25,
	})

	if len(dir.locations) != 1 {
		t.Fatalf("expected 1 location record, got %d", len(dir.locations))
	}
	rec := dir.locations[0]
	if rec.ident.NodeID != "!aabbccdd" {
		t.Errorf("unexpected node id %q", rec.ident.NodeID)
	}
	if rec.loc.Latitude == nil || *rec.loc.Latitude != 50.5 {
		t.Errorf("unexpected latitude %v", rec.loc.Latitude)
	}
	if rec.loc.RxSnr == nil || *rec.loc.RxSnr != 7.25 {
		t.Errorf("snr not carried through, got %v", rec.loc.RxSnr)
	}
	if !rec.at.Equal(at) {
		t.Errorf("expected packet time %v, got %v", at, rec.at)
	}
}

func TestRouterPersistsThenForwardsText(t *testing.T) {
	dir := &fakeDirectory{}
	chatConn := &fakeChat{}
	r := newTestRouter(t, dir, &fakeSender{}, snapshotWith(), chatConn)

	r.Handle(textPacket("!abc00001", radio.BroadcastAddr, "hello"))

	if len(dir.messages) != 1 {
		t.Fatalf("expected 1 message record, got %d", len(dir.messages))
	}
	if dir.messages[0].ident.NodeID != "!abc00001" || dir.messages[0].text != "hello" {
		t.Errorf("unexpected record %+v", dir.messages[0])
	}
	if len(chatConn.sent) != 1 {
		t.Fatalf("expected 1 chat send, got %d", len(chatConn.sent))
	}
	if chatConn.sent[0].room != testRoom {
		t.Errorf("forwarded to room %q, want %q", chatConn.sent[0].room, testRoom)
	}
	// Sender unresolved in the snapshot, so the raw id is used.
	if chatConn.sent[0].text != "!abc00001: hello" {
		t.Errorf("unexpected body %q", chatConn.sent[0].text)
	}
}

func TestRouterResolvesDisplayName(t *testing.T) {
	snap := snapshotWith(&radio.NodeEntry{
		ID:   "!aabbccdd",
		User: &radio.NodeUser{ID: "!aabbccdd", LongName: "Alice", HwModel: "TBEAM"},
	})
	dir := &fakeDirectory{}
	chatConn := &fakeChat{}
	r := newTestRouter(t, dir, &fakeSender{}, snap, chatConn)

	r.Handle(textPacket("!aabbccdd", radio.BroadcastAddr, "hi"))

	if len(chatConn.sent) != 1 || chatConn.sent[0].text != "Alice: hi" {
		t.Fatalf("unexpected chat sends %+v", chatConn.sent)
	}
	if dir.messages[0].ident.NodeName != "Alice" || dir.messages[0].ident.HwModel != "TBEAM" {
		t.Errorf("identity not filled from snapshot: %+v", dir.messages[0].ident)
	}
}

func TestRouterCommandsNotForwarded(t *testing.T) {
	dir := &fakeDirectory{}
	sender := &fakeSender{}
	chatConn := &fakeChat{}
	r := newTestRouter(t, dir, sender, snapshotWith(), chatConn)

	r.Handle(textPacket("!aabbccdd", radio.BroadcastAddr, "/distance please"))

	if len(dir.messages) != 1 {
		t.Fatalf("command text must still be recorded, got %d records", len(dir.messages))
	}
	if len(chatConn.sent) != 0 {
		t.Error("commands must never reach the chat room")
	}
	// Unknown sender, so the distance handler replies with its first error.
	if len(sender.texts) != 1 || sender.texts[0].text != replyNoNodeInfo {
		t.Fatalf("unexpected replies %+v", sender.texts)
	}
	if sender.texts[0].dest != "!aabbccdd" {
		t.Errorf("reply sent to %q, want the requester", sender.texts[0].dest)
	}
}

func TestRouterDirectoryFailureDropsPacket(t *testing.T) {
	dir := &fakeDirectory{err: errors.New("connection refused")}
	chatConn := &fakeChat{}
	r := newTestRouter(t, dir, &fakeSender{}, snapshotWith(), chatConn)

	r.Handle(textPacket("!aabbccdd", radio.BroadcastAddr, "hello"))

	if len(chatConn.sent) != 0 {
		t.Error("unrecorded message must not be forwarded")
	}
}

func TestRouterNotifiesOnWrites(t *testing.T) {
	dir := &fakeDirectory{}
	r := newTestRouter(t, dir, &fakeSender{}, snapshotWith(), &fakeChat{})

	notified := 0
	r.Notify = func() { notified++ }

	r.Handle(textPacket("!aabbccdd", radio.BroadcastAddr, "hello"))
	r.Handle(textPacket("!aabbccdd", "!11223344", "private"))

	if notified != 1 {
		t.Errorf("expected 1 notification, got %d", notified)
	}
}
