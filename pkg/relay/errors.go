package relay

import "errors"

// ErrMalformedPacket indicates an inbound packet is missing fields required
// for classification. The packet is dropped without persistence.
var ErrMalformedPacket = errors.New("malformed packet")
