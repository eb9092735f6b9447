//go:build integration

package mqtt

import (
	"context"
	"testing"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

// Integration tests need a broker at 127.0.0.1:1883.
//
//	go test -tags=integration ./internal/infrastructure/mqtt/...

func TestIntegration_RetainedDeviceState(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	cfg := testConfig()
	cfg.Broker.ClientID = "devledger-int-publisher"
	client, err := Connect(ctx, cfg)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close() //nolint:errcheck // Test cleanup

	topic := Topics{}.DeviceState("int-device")
	if err := client.Publish(ctx, topic, []byte(`{"state":true}`), 1, true); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	// A subscriber arriving later still sees the retained state.
	received := make(chan []byte, 1)
	opts := pahomqtt.NewClientOptions().AddBroker("tcp://127.0.0.1:1883").SetClientID("devledger-int-reader")
	reader := pahomqtt.NewClient(opts)
	if token := reader.Connect(); token.Wait() && token.Error() != nil {
		t.Fatalf("reader connect: %v", token.Error())
	}
	defer reader.Disconnect(250)

	reader.Subscribe(topic, 1, func(_ pahomqtt.Client, msg pahomqtt.Message) {
		select {
		case received <- msg.Payload():
		default:
		}
	})

	select {
	case payload := <-received:
		if string(payload) != `{"state":true}` {
			t.Errorf("payload = %s", payload)
		}
	case <-ctx.Done():
		t.Fatal("retained state not delivered")
	}
}
