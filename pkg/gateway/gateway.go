// Package gateway decodes client payloads into engine commands and serves
// the engine over websocket and HTTP.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"

	"github.com/nixblitz/installer-engine/pkg/bridge"
	"github.com/nixblitz/installer-engine/pkg/events"
	"github.com/nixblitz/installer-engine/pkg/install"
	"github.com/nixblitz/installer-engine/pkg/security"
)

// Engine is the part of the state machine the gateway talks to.
type Engine interface {
	HandleCommand(ctx context.Context, cmd install.Command) error
	CurrentState() install.Snapshot
	Subscribe() *events.Subscription
	SystemSummary(ctx context.Context) (bridge.SystemSummary, error)
}

// Gateway validates payload shape only; state checks belong to the engine.
type Gateway struct {
	engine    Engine
	validator *security.Validator
}

// New creates a gateway in front of engine.
func New(engine Engine, validator *security.Validator) *Gateway {
	return &Gateway{engine: engine, validator: validator}
}

type inboundFrame struct {
	Type    install.CommandType `json:"type"`
	Payload json.RawMessage     `json:"payload,omitempty"`
}

type selectDiskPayload struct {
	DevicePath string `json:"device_path"`
}

// Decode parses a client frame. Every failure is a malformed_input
// *install.CommandError.
func (g *Gateway) Decode(payload []byte) (install.Command, error) {
	if err := g.validator.ValidatePayloadSize(len(payload)); err != nil {
		return install.Command{}, install.Malformed("", "%v", err)
	}

	var f inboundFrame
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&f); err != nil {
		return install.Command{}, install.Malformed("", "invalid frame: %v", err)
	}

	cmd := install.Command{Type: f.Type}
	switch f.Type {
	case install.CmdReset, install.CmdRunSystemCheck, install.CmdConfirmAndInstall, install.CmdEnableDemoMode:
		return cmd, nil

	case install.CmdSelectDisk:
		if len(f.Payload) == 0 || string(f.Payload) == "null" {
			return install.Command{}, install.Malformed(f.Type, "missing payload")
		}
		var p selectDiskPayload
		if err := json.Unmarshal(f.Payload, &p); err != nil {
			return install.Command{}, install.Malformed(f.Type, "invalid payload: %v", err)
		}
		if err := g.validator.ValidateDevicePath(p.DevicePath); err != nil {
			return install.Command{}, install.Malformed(f.Type, "%v", err)
		}
		cmd.DevicePath = p.DevicePath
		return cmd, nil

	case "":
		return install.Command{}, install.Malformed("", "missing type")
	}

	return install.Command{}, install.Malformed(f.Type, "unknown command type")
}

// Submit decodes payload and forwards the command to the engine.
func (g *Gateway) Submit(ctx context.Context, payload []byte) (install.Command, error) {
	cmd, err := g.Decode(payload)
	if err != nil {
		return cmd, err
	}
	return cmd, g.engine.HandleCommand(ctx, cmd)
}
