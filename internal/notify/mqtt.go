package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// MQTTConfig configures the MQTT transport.  Events go to
// "<TopicPrefix>/<screeningId>".
type MQTTConfig struct {
	BrokerURL   string
	ClientID    string
	Username    string
	Password    string
	TopicPrefix string
	QoS         byte
}

// mqttPublisher is the part of mqtt.Client the notifier uses.
type mqttPublisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// MQTTNotifier publishes seat updates to an MQTT broker.  Messages are not
// retained: a client connecting later polls instead of seeing an old
// count.
type MQTTNotifier struct {
	client mqttPublisher
	prefix string
	qos    byte
	close  func()
}

// NewMQTTNotifier connects to the broker.  The paho client reconnects on
// its own after the initial connection succeeded.
func NewMQTTNotifier(cfg MQTTConfig, log logrus.FieldLogger) (*MQTTNotifier, error) {
	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "cinema-" + uuid.NewString()[:8]
	}
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.BrokerURL).
		SetClientID(clientID).
		SetUsername(cfg.Username).
		SetPassword(cfg.Password).
		SetAutoReconnect(true).
		SetConnectTimeout(10 * time.Second).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			log.WithError(err).Warn("mqtt connection lost")
		}).
		SetOnConnectHandler(func(mqtt.Client) {
			log.WithField("broker", cfg.BrokerURL).Info("mqtt connected")
		})

	client := mqtt.NewClient(opts)
	tok := client.Connect()
	if !tok.WaitTimeout(10 * time.Second) {
		return nil, fmt.Errorf("mqtt connect to %s: timeout", cfg.BrokerURL)
	}
	if err := tok.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect to %s: %w", cfg.BrokerURL, err)
	}
	n := newMQTTNotifier(client, cfg.TopicPrefix, cfg.QoS)
	n.close = func() { client.Disconnect(250) }
	return n, nil
}

func newMQTTNotifier(client mqttPublisher, prefix string, qos byte) *MQTTNotifier {
	prefix = strings.TrimSuffix(prefix, "/")
	if prefix == "" {
		prefix = "cinema/seats"
	}
	if qos > 2 {
		qos = 0
	}
	return &MQTTNotifier{client: client, prefix: prefix, qos: qos}
}

func (n *MQTTNotifier) Name() string { return "mqtt" }

// Topic returns the topic used for a screening.
func (n *MQTTNotifier) Topic(screeningID uint64) string {
	return n.prefix + "/" + strconv.FormatUint(screeningID, 10)
}

func (n *MQTTNotifier) Send(ctx context.Context, e Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return err
	}
	tok := n.client.Publish(n.Topic(e.ScreeningID), n.qos, false, payload)
	select {
	case <-tok.Done():
		return tok.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (n *MQTTNotifier) Close() {
	if n.close != nil {
		n.close()
	}
}
