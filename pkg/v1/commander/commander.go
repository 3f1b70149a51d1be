// Package commander is the public producer API for triggering ingestion runs.
package commander

import (
	"context"
	"encoding/json"
	"fmt"
)

//go:generate mockery --name Sender --filename sender.go

// RunCommand requests one ingestion run. Empty Shop means all configured
// shops; empty Category means no category filter.
type RunCommand struct {
	Shop     string `json:"shop,omitempty"`
	Category string `json:"category,omitempty"`
}

// Sender sends messages.
type Sender interface {
	Send(context.Context, []byte) error
}

// RunCommander sends run commands.
type RunCommander struct {
	sender Sender
}

// NewRunCommander returns new RunCommander using provided sender for sending messages.
func NewRunCommander(sender Sender) RunCommander {
	return RunCommander{
		sender: sender,
	}
}

// SendRunCommand sends a run command for the provided shop and category.
func (c RunCommander) SendRunCommand(ctx context.Context, shop, category string) error {
	cmd := RunCommand{
		Shop:     shop,
		Category: category,
	}

	cmdMsg, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("can't marshal run command: %w", err)
	}

	return c.sender.Send(ctx, cmdMsg)
}
