package server

import (
	"fmt"
	"net"
	"time"

	"github.com/lesismal/arpc"

	"github.com/DeltaLaboratory/dotted/internal/protocol"
)

const (
	RouteOptions = "/node/options"
	RouteStats   = "/node/stats"
)

// OptionsReply is the body of RouteOptions.
type OptionsReply struct {
	Options protocol.Options `json:"options"`
	Pushed  bool             `json:"pushed"`
}

func (n *Node) handleOptions(ctx *arpc.Context) {
	opts, pushed := n.handler.Options()
	if err := ctx.Write(&OptionsReply{Options: opts, Pushed: pushed}); err != nil {
		n.logger.Error().Err(err).Str("handler", RouteOptions).Msg("failed to write response")
	}
}

func (n *Node) handleStats(ctx *arpc.Context) {
	stats := n.handler.Stats()
	if err := ctx.Write(&stats); err != nil {
		n.logger.Error().Err(err).Str("handler", RouteStats).Msg("failed to write response")
	}
}

// AdminClient queries a node's inspection RPC.
type AdminClient struct {
	client *arpc.Client
}

func DialAdmin(addr string, timeout time.Duration) (*AdminClient, error) {
	client, err := arpc.NewClient(func() (net.Conn, error) {
		return net.DialTimeout("tcp", addr, timeout)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to dial admin %s: %w", addr, err)
	}
	return &AdminClient{client: client}, nil
}

func (c *AdminClient) Options() (OptionsReply, error) {
	var reply OptionsReply
	if err := c.client.Call(RouteOptions, struct{}{}, &reply, adminCallTimeout); err != nil {
		return OptionsReply{}, fmt.Errorf("failed to call %s: %w", RouteOptions, err)
	}
	return reply, nil
}

func (c *AdminClient) Stats() (Stats, error) {
	var stats Stats
	if err := c.client.Call(RouteStats, struct{}{}, &stats, adminCallTimeout); err != nil {
		return Stats{}, fmt.Errorf("failed to call %s: %w", RouteStats, err)
	}
	return stats, nil
}

func (c *AdminClient) Close() {
	c.client.Stop()
}
