package dht

import (
	"fmt"

	"github.com/najoast/actormesh/network"
)

type msgType uint8

const (
	msgPing msgType = iota + 1
	msgFindNode
	msgPutValue
	msgGetValue
)

func (t msgType) String() string {
	switch t {
	case msgPing:
		return "ping"
	case msgFindNode:
		return "find_node"
	case msgPutValue:
		return "put_value"
	case msgGetValue:
		return "get_value"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(t))
	}
}

// message is both request and response of every DHT RPC.
type message struct {
	Type msgType          `msgpack:"type"`
	From network.PeerInfo `msgpack:"from"`
	// Key is the 32-byte lookup target.
	Key []byte `msgpack:"key,omitempty"`
	// Name is the record key of GET_VALUE.
	Name   string             `msgpack:"name,omitempty"`
	Record *Record            `msgpack:"record,omitempty"`
	Closer []network.PeerInfo `msgpack:"closer,omitempty"`
	Error  string             `msgpack:"error,omitempty"`
}
