package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/relabs-tech/car_tracker/internal/logger"
	"github.com/relabs-tech/car_tracker/internal/transport"
)

type subscriber interface {
	Connect() mqtt.Token
	Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token
	Disconnect(quiesce uint)
}

var newSubscriber = func(opts *mqtt.ClientOptions) subscriber {
	return mqtt.NewClient(opts)
}

// RunMonitor subscribes to the cellular fix topic and prints every message
// to w until ctx is cancelled.
func RunMonitor(ctx context.Context, cfg transport.CellularConfig, w io.Writer) error {
	cfg.SetDefaults()
	cfg.ClientID = fmt.Sprintf("%s-monitor-%d", cfg.ClientID, time.Now().UnixNano())
	log := logger.New("monitor")

	client := newSubscriber(transport.NewClientOptions(cfg, log))
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("monitor: connect to %s: %w", cfg.Broker, token.Error())
	}
	log.Infof("connected to MQTT broker at %s", cfg.Broker)

	token := client.Subscribe(cfg.Topic, cfg.QoS, func(_ mqtt.Client, msg mqtt.Message) {
		if err := printMessage(w, msg.Payload()); err != nil {
			log.Warnf("topic %s: %v", msg.Topic(), err)
		}
	})
	token.Wait()
	if token.Error() != nil {
		client.Disconnect(250)
		return fmt.Errorf("monitor: subscribe to %s: %w", cfg.Topic, token.Error())
	}
	log.Infof("subscribed to %s", cfg.Topic)

	<-ctx.Done()
	log.Infof("shutting down")
	client.Disconnect(250)
	return nil
}

func printMessage(w io.Writer, payload []byte) error {
	var m transport.CellularMessage
	if err := json.Unmarshal(payload, &m); err != nil {
		return fmt.Errorf("unmarshal: %w", err)
	}
	_, err := fmt.Fprintf(w, "[FIX ]  device=%s lat=%.5f lon=%.5f sent=%s id=%s\n",
		m.DeviceID, m.Latitude, m.Longitude, m.SentAt.Format(time.RFC3339), m.ID)
	return err
}
