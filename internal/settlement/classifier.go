package settlement

import (
	"errors"
	"fmt"

	"github.com/danmuck/payrouter/internal/protocols"
	"github.com/danmuck/payrouter/internal/txn"
)

var ErrUnknownProtocol = errors.New("settlement: unknown protocol")

// Classifier picks the settlement path from the protocol table and nothing else.
type Classifier struct {
	registry *protocols.Registry
}

func NewClassifier(registry *protocols.Registry) *Classifier {
	return &Classifier{registry: registry}
}

// Classify returns the settlement class stored on the request's protocol.
func (c *Classifier) Classify(req txn.Request) (txn.SettlementClass, error) {
	def, ok := c.registry.Lookup(req.Protocol)
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownProtocol, req.Protocol)
	}
	return def.Settlement, nil
}
