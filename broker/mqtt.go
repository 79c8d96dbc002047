package broker

import (
	"encoding/json"
	"errors"
	"evsim/internal"
	"evsim/internal/config"
	"fmt"
	"math/rand"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

const (
	payloadOnline  = "online"
	payloadOffline = "offline"
	publishTimeout = 5 * time.Second
)

// MqttPublisher implements EventHandler; connector state is published retained to
// <base>/<chargePointId>/<connectorId>/state.
type MqttPublisher struct {
	client    mqtt.Client
	baseTopic string
	logger    internal.LogHandler
}

func OptsFromConfig(conf *config.Config) *mqtt.ClientOptions {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s:%d", conf.Mqtt.Host, conf.Mqtt.Port))
	opts.SetClientID(fmt.Sprintf("evsim_%d", rand.Intn(1000)))
	if conf.Mqtt.Username != "" && conf.Mqtt.Password != "" {
		opts.SetUsername(conf.Mqtt.Username)
		opts.SetPassword(conf.Mqtt.Password)
	}
	opts.SetAutoReconnect(true)
	opts.WillEnabled = true
	opts.WillPayload = []byte(payloadOffline)
	opts.WillRetained = true
	opts.WillTopic = bridgeStateTopic(conf.Mqtt.BaseTopic)
	opts.WillQos = 0
	return opts
}

func NewMqttPublisher(conf *config.Config, logger internal.LogHandler) *MqttPublisher {
	return newMqttPublisher(mqtt.NewClient(OptsFromConfig(conf)), conf.Mqtt.BaseTopic, logger)
}

func newMqttPublisher(client mqtt.Client, baseTopic string, logger internal.LogHandler) *MqttPublisher {
	return &MqttPublisher{
		client:    client,
		baseTopic: baseTopic,
		logger:    logger,
	}
}

// Connect waits for the broker and announces the bridge as online.
func (p *MqttPublisher) Connect(timeout time.Duration) error {
	token := p.client.Connect()
	if !token.WaitTimeout(timeout) {
		return errors.New("mqtt connect timed out")
	}
	if err := token.Error(); err != nil {
		return err
	}
	p.publish(bridgeStateTopic(p.baseTopic), []byte(payloadOnline))
	return nil
}

func (p *MqttPublisher) Close() {
	token := p.client.Publish(bridgeStateTopic(p.baseTopic), 0, true, payloadOffline)
	if !token.WaitTimeout(publishTimeout) {
		p.logger.Warn(fmt.Sprintf("mqtt: offline state not confirmed in %s", publishTimeout))
	} else if err := token.Error(); err != nil {
		p.logger.Warn(fmt.Sprintf("mqtt: publish offline state: %s", err))
	}
	p.client.Disconnect(250)
}

func (p *MqttPublisher) StateTopic(chargePointId string, connectorId int) string {
	return fmt.Sprintf("%s/%s/%d/state", p.baseTopic, chargePointId, connectorId)
}

func (p *MqttPublisher) OnStatusNotification(event *internal.EventMessage) {
	p.publishEvent(event)
}

func (p *MqttPublisher) OnTransactionStart(event *internal.EventMessage) {
	p.publishEvent(event)
}

func (p *MqttPublisher) OnTransactionStop(event *internal.EventMessage) {
	p.publishEvent(event)
}

func (p *MqttPublisher) OnMeterValues(event *internal.EventMessage) {
	p.publishEvent(event)
}

func (p *MqttPublisher) publishEvent(event *internal.EventMessage) {
	data, err := json.Marshal(event)
	if err != nil {
		p.logger.Error("mqtt: encode event", err)
		return
	}
	p.publish(p.StateTopic(event.ChargePointId, event.ConnectorId), data)
}

// publish does not wait for the broker; failures are logged once the token completes.
func (p *MqttPublisher) publish(topic string, payload []byte) {
	token := p.client.Publish(topic, 0, true, payload)
	go func() {
		if !token.WaitTimeout(publishTimeout) {
			p.logger.Warn(fmt.Sprintf("mqtt: publish to %s timed out", topic))
			return
		}
		if err := token.Error(); err != nil {
			p.logger.Warn(fmt.Sprintf("mqtt: publish to %s: %s", topic, err))
		}
	}()
}

func bridgeStateTopic(baseTopic string) string {
	return fmt.Sprintf("%s/bridge/state", baseTopic)
}
