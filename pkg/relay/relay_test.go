package relay

import (
	"time"

	"github.com/kabili207/mesh-chat-gateway/pkg/models"
	"github.com/kabili207/mesh-chat-gateway/pkg/radio"
	"github.com/kabili207/mesh-chat-gateway/pkg/store"
)

type sentText struct {
	text string
	dest radio.NodeID
}

type fakeSender struct {
	texts  []sentText
	probes []radio.NodeID
	err    error
}

func (f *fakeSender) SendText(text string, dest radio.NodeID) error {
	if f.err != nil {
		return f.err
	}
	f.texts = append(f.texts, sentText{text: text, dest: dest})
	return nil
}

func (f *fakeSender) SendProbe(dest radio.NodeID) error {
	if f.err != nil {
		return f.err
	}
	f.probes = append(f.probes, dest)
	return nil
}

type fakeSnapshot struct {
	nodes map[radio.NodeID]*radio.NodeEntry
}

func (f *fakeSnapshot) Node(id radio.NodeID) *radio.NodeEntry {
	return f.nodes[id].Clone()
}

func (f *fakeSnapshot) Nodes() []*radio.NodeEntry {
	entries := []*radio.NodeEntry{}
	for _, e := range f.nodes {
		entries = append(entries, e.Clone())
	}
	return entries
}

func (f *fakeSnapshot) NodesWithPosition() []*radio.NodeEntry {
	entries := []*radio.NodeEntry{}
	for _, e := range f.nodes {
		if e.Position != nil {
			entries = append(entries, e.Clone())
		}
	}
	return entries
}

func (f *fakeSnapshot) NodesWithUser() []*radio.NodeEntry {
	entries := []*radio.NodeEntry{}
	for _, e := range f.nodes {
		if e.Position != nil && e.User != nil {
			entries = append(entries, e.Clone())
		}
	}
	return entries
}

type recordedMessage struct {
	ident store.NodeIdentity
	text  string
	at    time.Time
}

type recordedLocation struct {
	ident store.NodeIdentity
	loc   store.Location
	at    time.Time
}

type fakeDirectory struct {
	upserts   []store.NodeIdentity
	messages  []recordedMessage
	locations []recordedLocation
	err       error
}

func (f *fakeDirectory) UpsertNode(ident store.NodeIdentity) (*models.NodeInfo, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.upserts = append(f.upserts, ident)
	return &models.NodeInfo{NodeID: ident.NodeID, NodeName: ident.NodeName}, nil
}

func (f *fakeDirectory) AppendMessage(ident store.NodeIdentity, text string, observedAt time.Time) error {
	if f.err != nil {
		return f.err
	}
	f.messages = append(f.messages, recordedMessage{ident: ident, text: text, at: observedAt})
	return nil
}

func (f *fakeDirectory) AppendLocation(ident store.NodeIdentity, loc store.Location, observedAt time.Time) error {
	if f.err != nil {
		return f.err
	}
	f.locations = append(f.locations, recordedLocation{ident: ident, loc: loc, at: observedAt})
	return nil
}

func (f *fakeDirectory) ListNodesWithPosition() ([]*models.NodeInfo, error) {
	return nil, nil
}

func (f *fakeDirectory) ListNodesWithUser() ([]*models.NodeInfo, error) {
	return nil, nil
}

type sentChat struct {
	room string
	text string
}

type fakeChat struct {
	sent []sentChat
	err  error
}

func (f *fakeChat) SendMessage(roomID, text string) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, sentChat{room: roomID, text: text})
	return nil
}

func ptr(v float64) *float64 {
	return &v
}

func snapshotWith(entries ...*radio.NodeEntry) *fakeSnapshot {
	snap := &fakeSnapshot{nodes: map[radio.NodeID]*radio.NodeEntry{}}
	for _, e := range entries {
		snap.nodes[e.ID] = e
	}
	return snap
}
