package events

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeToken struct {
	mqtt.Token
	err error
}

func (t *fakeToken) Wait() bool                     { return true }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t *fakeToken) Error() error                   { return t.err }

type published struct {
	topic   string
	qos     byte
	payload []byte
}

type fakeClient struct {
	mqtt.Client
	connected    bool
	disconnected bool
	publishErr   error
	sent         []published
}

func (c *fakeClient) Publish(topic string, qos byte, _ bool, payload interface{}) mqtt.Token {
	c.sent = append(c.sent, published{topic, qos, payload.([]byte)})
	return &fakeToken{err: c.publishErr}
}

func (c *fakeClient) IsConnected() bool { return c.connected }

func (c *fakeClient) Disconnect(uint) { c.disconnected = true }

func TestMQTTPublisher_Publish(t *testing.T) {
	client := &fakeClient{}
	p := NewMQTTPublisher(client, "sprinkler/events")

	at := time.Date(2025, 6, 2, 6, 0, 0, 0, time.UTC)
	p.Publish(Event{Kind: KindSkipped, Source: SourceSchedule, Zone: 2, Reason: "rain prob 80% ≥ 50%", At: at})

	require.Len(t, client.sent, 1)
	assert.Equal(t, "sprinkler/events", client.sent[0].topic)
	assert.Equal(t, byte(0), client.sent[0].qos)

	var got Event
	require.NoError(t, json.Unmarshal(client.sent[0].payload, &got))
	assert.Equal(t, KindSkipped, got.Kind)
	assert.Equal(t, 2, got.Zone)
	assert.Equal(t, "rain prob 80% ≥ 50%", got.Reason)
	assert.True(t, at.Equal(got.At))
}

func TestMQTTPublisher_ErrorsAreSwallowed(t *testing.T) {
	client := &fakeClient{publishErr: errors.New("broker gone")}
	p := NewMQTTPublisher(client, "t")

	assert.NotPanics(t, func() { p.Publish(Event{Kind: KindAllOff}) })
	assert.Len(t, client.sent, 1)
}

func TestMQTTPublisher_Close(t *testing.T) {
	client := &fakeClient{connected: true}
	NewMQTTPublisher(client, "t").Close()
	assert.True(t, client.disconnected)

	idle := &fakeClient{}
	NewMQTTPublisher(idle, "t").Close()
	assert.False(t, idle.disconnected)
}

func TestNop(t *testing.T) {
	var p Publisher = Nop{}
	assert.NotPanics(t, func() { p.Publish(Event{Kind: KindRunStarted}) })
}

type countingPublisher struct{ n int }

func (c *countingPublisher) Publish(Event) { c.n++ }

func TestMulti(t *testing.T) {
	a, b := &countingPublisher{}, &countingPublisher{}
	Multi{a, Nop{}, b}.Publish(Event{Kind: KindAllOff})
	assert.Equal(t, 1, a.n)
	assert.Equal(t, 1, b.n)
}
