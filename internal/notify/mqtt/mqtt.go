// Package mqtt publishes change sets to an MQTT broker.
package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	"github.com/andygrunwald/fuel-price-watcher/internal/models"
)

// NotifierName is the identifier for this notifier.
const NotifierName = "mqtt"

const publishTimeout = 5 * time.Second

// Options configures the MQTT notifier.
type Options struct {
	Broker      string
	Port        int
	ClientID    string
	TopicPrefix string
}

// ChangesMessage is published to <prefix>/changes once per change set.
type ChangesMessage struct {
	NotifiedAt time.Time        `json:"notified_at"`
	Stations   []models.Station `json:"stations"`
}

type message struct {
	topic    string
	retained bool
	payload  []byte
}

// Notifier publishes change sets. Every station is also published retained to
// <prefix>/stations/<code> so late subscribers see the latest state.
type Notifier struct {
	client paho.Client
	prefix string
	logger zerolog.Logger
	now    func() time.Time

	mu        sync.RWMutex
	connected bool

	stopCh   chan struct{}
	stopOnce sync.Once
}

// New creates an MQTT notifier. Call Connect before the first Notify.
func New(opts Options, logger zerolog.Logger) *Notifier {
	if opts.Port == 0 {
		opts.Port = 1883
	}
	if opts.ClientID == "" {
		opts.ClientID = "fuelwatcher"
	}
	if opts.TopicPrefix == "" {
		opts.TopicPrefix = "fuelwatcher"
	}

	n := &Notifier{
		prefix: strings.TrimSuffix(opts.TopicPrefix, "/"),
		logger: logger.With().Str("notifier", NotifierName).Logger(),
		now:    time.Now,
		stopCh: make(chan struct{}),
	}

	co := paho.NewClientOptions()
	co.AddBroker(fmt.Sprintf("tcp://%s:%d", opts.Broker, opts.Port))
	co.SetClientID(opts.ClientID)
	co.SetCleanSession(true)
	co.SetAutoReconnect(true)
	co.SetConnectRetry(true)
	co.SetConnectRetryInterval(5 * time.Second)
	co.SetMaxReconnectInterval(60 * time.Second)
	co.SetKeepAlive(30 * time.Second)
	co.SetPingTimeout(10 * time.Second)

	co.SetOnConnectHandler(func(_ paho.Client) {
		n.setConnected(true)
		n.logger.Info().Str("broker", opts.Broker).Int("port", opts.Port).Msg("mqtt connected")
	})
	co.SetConnectionLostHandler(func(_ paho.Client, err error) {
		n.setConnected(false)
		n.logger.Warn().Err(err).Msg("mqtt connection lost")
	})

	n.client = paho.NewClient(co)
	return n
}

// Name returns the notifier identifier.
func (n *Notifier) Name() string {
	return NotifierName
}

// Connect waits for the initial broker connection. It respects ctx and Disconnect.
func (n *Notifier) Connect(ctx context.Context) error {
	select {
	case <-n.stopCh:
		return fmt.Errorf("client stopped")
	default:
	}

	if n.IsConnected() {
		return nil
	}

	token := n.client.Connect()

	const poll = 200 * time.Millisecond
	for {
		if token.WaitTimeout(poll) {
			if err := token.Error(); err != nil {
				return fmt.Errorf("mqtt connect: %w", err)
			}
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-n.stopCh:
			return fmt.Errorf("client stopped")
		default:
		}
	}
}

// Notify publishes the change set and the state of every changed station.
func (n *Notifier) Notify(ctx context.Context, cs models.ChangeSet) error {
	if len(cs) == 0 {
		return nil
	}
	if !n.IsConnected() {
		return fmt.Errorf("mqtt client not connected")
	}

	msgs, err := n.buildMessages(cs)
	if err != nil {
		return err
	}

	for _, m := range msgs {
		if err := ctx.Err(); err != nil {
			return err
		}
		token := n.client.Publish(m.topic, 1, m.retained, m.payload)
		if !token.WaitTimeout(publishTimeout) {
			return fmt.Errorf("publish timeout for topic %s", m.topic)
		}
		if err := token.Error(); err != nil {
			return fmt.Errorf("publishing to %s: %w", m.topic, err)
		}
		n.logger.Debug().Str("topic", m.topic).Bool("retained", m.retained).Msg("published message")
	}
	return nil
}

func (n *Notifier) buildMessages(cs models.ChangeSet) ([]message, error) {
	codes := make([]int, 0, len(cs))
	for code := range cs {
		codes = append(codes, code)
	}
	sort.Ints(codes)

	stations := make([]models.Station, 0, len(codes))
	msgs := make([]message, 0, len(codes)+1)
	for _, code := range codes {
		st := cs[code]
		stations = append(stations, st)

		data, err := json.Marshal(st)
		if err != nil {
			return nil, fmt.Errorf("marshal station %d: %w", code, err)
		}
		msgs = append(msgs, message{
			topic:    fmt.Sprintf("%s/stations/%d", n.prefix, code),
			retained: true,
			payload:  data,
		})
	}

	data, err := json.Marshal(ChangesMessage{NotifiedAt: n.now().UTC(), Stations: stations})
	if err != nil {
		return nil, fmt.Errorf("marshal change set: %w", err)
	}
	changes := message{topic: n.prefix + "/changes", payload: data}

	return append([]message{changes}, msgs...), nil
}

// IsConnected returns whether the client is connected.
func (n *Notifier) IsConnected() bool {
	n.mu.RLock()
	connected := n.connected
	n.mu.RUnlock()
	return connected && n.client.IsConnected()
}

// Disconnect stops the client and closes the broker connection. It is idempotent.
func (n *Notifier) Disconnect() {
	n.stopOnce.Do(func() { close(n.stopCh) })
	if n.client != nil {
		n.client.Disconnect(250)
	}
	n.setConnected(false)
	n.logger.Info().Msg("mqtt disconnected")
}

func (n *Notifier) setConnected(v bool) {
	n.mu.Lock()
	n.connected = v
	n.mu.Unlock()
}
