package bus_test

import (
	"context"
	"testing"
	"time"

	"github.com/hoppxi/umbra/internal/bus"
	"github.com/hoppxi/umbra/internal/bus/bustest"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvelope_WireFormat(t *testing.T) {
	data, err := bus.Envelope("tok", bus.ListDisplays{}).Marshal()
	require.NoError(t, err)
	assert.JSONEq(t, `{"uuid":"tok","commands":["get"],"parameters":{"identifiers":null}}`, string(data))

	data, err = bus.Envelope("tok", bus.GetBrightness{Identity: "X"}).Marshal()
	require.NoError(t, err)
	assert.Equal(t, `{"uuid":"tok","commands":["get"],"parameters":{"feature":"brightness","uuid":"X"}}`, string(data))

	data, err = bus.Envelope("tok", bus.SetBrightness{Identity: "X", Value: 1.5}).Marshal()
	require.NoError(t, err)
	assert.Equal(t, `{"uuid":"tok","commands":["set"],"parameters":{"brightness":"1.00","uuid":"X"}}`, string(data))
}

func TestDecodeResponse(t *testing.T) {
	env, err := bus.DecodeResponse([]byte(`{"uuid":"a","result":true,"payload":"0.45"}`))
	require.NoError(t, err)
	assert.Equal(t, "0.45", env.Text())

	env, err = bus.DecodeResponse([]byte(`{"uuid":"a","result":false,"payload":null}`))
	require.NoError(t, err)
	assert.Equal(t, "", env.Text())

	_, err = bus.DecodeResponse([]byte(`{"result":true}`))
	assert.ErrorIs(t, err, bus.ErrMalformed)

	_, err = bus.DecodeResponse([]byte(`not json`))
	assert.ErrorIs(t, err, bus.ErrMalformed)
}

func runClient(t *testing.T, timeout time.Duration) (*bus.Client, *bustest.Helper) {
	t.Helper()
	helper := bustest.NewHelper()
	client := bus.NewClient(helper, bus.NewRegistry(timeout), zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go client.Run(ctx)
	return client, helper
}

func TestClient_RequestRoundTrip(t *testing.T) {
	client, helper := runClient(t, time.Second)
	helper.SetLevel("X", 0.45)

	got := make(chan bus.ResponseEnvelope, 1)
	token := client.Request(bus.GetBrightness{Identity: "X"}, 0, func(resp bus.ResponseEnvelope, ok bool) {
		assert.True(t, ok)
		got <- resp
	})

	select {
	case resp := <-got:
		assert.Equal(t, token, resp.UUID)
		assert.True(t, resp.Result)
		assert.Equal(t, "0.45", resp.Text())
	case <-time.After(time.Second):
		t.Fatal("no response")
	}
}

func TestClient_FreshTokens(t *testing.T) {
	client, helper := runClient(t, time.Second)
	helper.SetLevel("X", 0.1)

	seen := map[string]bool{}
	for i := 0; i < 20; i++ {
		token := client.Request(bus.GetBrightness{Identity: "X"}, 0, func(bus.ResponseEnvelope, bool) {})
		assert.False(t, seen[token])
		seen[token] = true
	}
}

func TestClient_MalformedResponseFailsByTimeout(t *testing.T) {
	client, helper := runClient(t, 50*time.Millisecond)
	helper.Silent["X"] = true

	done := make(chan bool, 1)
	client.Request(bus.GetBrightness{Identity: "X"}, 0, func(_ bus.ResponseEnvelope, ok bool) {
		done <- ok
	})
	helper.Inject([]byte(`{"uuid":`))
	helper.Inject([]byte(`{"uuid":"someone-else","result":true}`))

	select {
	case ok := <-done:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("request never timed out")
	}
	assert.Equal(t, 0, client.Registry().Pending())
}

func TestClient_PublishFailureCompletesImmediately(t *testing.T) {
	client, helper := runClient(t, time.Minute)
	require.NoError(t, helper.Close())

	done := make(chan bool, 1)
	client.Request(bus.ListDisplays{}, 0, func(_ bus.ResponseEnvelope, ok bool) {
		done <- ok
	})
	select {
	case ok := <-done:
		assert.False(t, ok)
	default:
		t.Fatal("completion did not run synchronously")
	}
	assert.Equal(t, 0, client.Registry().Pending())
}
