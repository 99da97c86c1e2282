package mqtt

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dokzlo13/lightmeter/internal/config"
)

func testConfig() config.MQTTConfig {
	var cfg config.MQTTConfig
	cfg.Broker.Host = "127.0.0.1"
	cfg.Broker.Port = 1883
	cfg.Broker.ClientID = "lightmeter-test"
	cfg.QoS = 1
	cfg.Reconnect.InitialDelay = 1
	cfg.Reconnect.MaxDelay = 5
	return cfg
}

func TestValidationBeforeConnection(t *testing.T) {
	c := newClient(testConfig())
	noop := func(string, []byte) error { return nil }

	tests := []struct {
		name    string
		call    func() error
		wantErr error
	}{
		{name: "publish empty topic", call: func() error { return c.Publish("", nil, 0, false) }, wantErr: ErrInvalidTopic},
		{name: "publish bad qos", call: func() error { return c.Publish("a", nil, 3, false) }, wantErr: ErrInvalidQoS},
		{name: "publish oversized", call: func() error { return c.Publish("a", make([]byte, maxPayloadSize+1), 0, false) }, wantErr: ErrPublishFailed},
		{name: "publish disconnected", call: func() error { return c.Publish("a", []byte("x"), 0, false) }, wantErr: ErrNotConnected},
		{name: "subscribe empty topic", call: func() error { return c.Subscribe("", 0, noop) }, wantErr: ErrInvalidTopic},
		{name: "subscribe nil handler", call: func() error { return c.Subscribe("a", 0, nil) }, wantErr: ErrSubscribeFailed},
		{name: "subscribe disconnected", call: func() error { return c.Subscribe("a", 0, noop) }, wantErr: ErrNotConnected},
		{name: "unsubscribe disconnected", call: func() error { return c.Unsubscribe("a") }, wantErr: ErrNotConnected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.call()
			assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
		})
	}

	assert.False(t, c.HasSubscription("a"))
	assert.ErrorIs(t, c.HealthCheck(context.Background()), ErrNotConnected)
}

func TestBuildClientOptions(t *testing.T) {
	cfg := testConfig()
	cfg.Broker.TLS = true
	cfg.Auth.Username = "meter"

	opts := buildClientOptions(cfg)
	if assert.Len(t, opts.Servers, 1) {
		assert.Equal(t, "ssl", opts.Servers[0].Scheme)
		assert.Equal(t, "127.0.0.1:1883", opts.Servers[0].Host)
	}
	assert.Equal(t, "lightmeter-test", opts.ClientID)
	assert.Equal(t, "meter", opts.Username)
	assert.True(t, opts.WillEnabled)
	assert.Equal(t, "lightmeter/lightmeter-test/status", opts.WillTopic)
	assert.NotNil(t, opts.TLSConfig)
}
