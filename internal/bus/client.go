package bus

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Transport carries serialized envelopes over the shared broadcast channels.
type Transport interface {
	Emit(payload []byte) error
	Responses() <-chan []byte
	Close() error
}

// Client publishes requests and routes responses to the Registry by token.
type Client struct {
	transport Transport
	registry  *Registry
	log       zerolog.Logger
}

func NewClient(transport Transport, registry *Registry, log zerolog.Logger) *Client {
	return &Client{transport: transport, registry: registry, log: log}
}

func (c *Client) Registry() *Registry {
	return c.registry
}

// Publish broadcasts env without waiting for anything.
func (c *Client) Publish(env RequestEnvelope) error {
	data, err := env.Marshal()
	if err != nil {
		return err
	}
	return c.transport.Emit(data)
}

// Request sends req under a fresh token. completion runs exactly once, with
// ok=false on timeout or when the request could not be published.
func (c *Client) Request(req Request, timeout time.Duration, completion Completion) string {
	token := uuid.NewString()
	if err := c.registry.Register(token, timeout, completion); err != nil {
		c.log.Error().Err(err).Str("token", token).Msg("register request")
		completion(ResponseEnvelope{UUID: token}, false)
		return token
	}
	if err := c.Publish(Envelope(token, req)); err != nil {
		c.log.Warn().Err(err).Str("token", token).Msg("publish request")
		c.registry.Fail(token)
	}
	return token
}

// Run dispatches incoming responses until ctx is done or the transport closes.
func (c *Client) Run(ctx context.Context) {
	responses := c.transport.Responses()
	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-responses:
			if !ok {
				return
			}
			c.handle(data)
		}
	}
}

func (c *Client) handle(data []byte) {
	env, err := DecodeResponse(data)
	if err != nil {
		c.log.Warn().Err(err).Int("bytes", len(data)).Msg("dropping response")
		return
	}
	if !c.registry.Resolve(env.UUID, env) {
		c.log.Debug().Str("token", env.UUID).Msg("response for unknown or expired token")
	}
}
