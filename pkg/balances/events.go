package balances

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

const EventBalanceUpdated = "balance.updated"

// Publisher receives balance.updated events. Delivery is best effort.
type Publisher interface {
	Publish(ctx context.Context, channel string, message interface{})
}

// Event is the payload published after every reconciliation.
type Event struct {
	Type          string `json:"type"`
	ChainID       uint64 `json:"chainId"`
	Owner         string `json:"owner"`
	Nonce         uint64 `json:"nonce"`
	SnapshotNonce uint64 `json:"snapshotNonce"`
	Count         int    `json:"count"`
	Status        Status `json:"status"`
	Error         string `json:"error,omitempty"`
}

// MarshalBinary lets redis clients send the event as JSON.
func (e Event) MarshalBinary() ([]byte, error) {
	return json.Marshal(e)
}

const channelPrefix = "balances:"

// Channel returns the pub/sub channel for events of chainID.
func Channel(chainID uint64) string {
	return fmt.Sprintf("%s%d:%s", channelPrefix, chainID, EventBalanceUpdated)
}

// ChannelPattern matches the channels of every chain.
const ChannelPattern = channelPrefix + "*:" + EventBalanceUpdated

// ParseChannel returns the chain ID of a channel built by Channel.
func ParseChannel(channel string) (uint64, bool) {
	rest, ok := strings.CutPrefix(channel, channelPrefix)
	if !ok {
		return 0, false
	}
	id, ok := strings.CutSuffix(rest, ":"+EventBalanceUpdated)
	if !ok {
		return 0, false
	}
	chainID, err := strconv.ParseUint(id, 10, 64)
	if err != nil {
		return 0, false
	}
	return chainID, true
}
