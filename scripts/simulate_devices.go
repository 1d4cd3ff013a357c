package main

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"buildingops/internal/mqtt"
	"buildingops/internal/utils"
)

// Publishes fake telemetry for a few devices so the bridge can be exercised
// without hardware.
//
//	go run scripts/simulate_devices.go            # loop until interrupted
//	go run scripts/simulate_devices.go once       # one round then exit
//
// Topics are devices/<name>/{status,online,energy}; create devices with
// mqttTopic devices/<name> for them to resolve.
func main() {
	fmt.Println("Building device simulator")
	fmt.Println("=========================")

	broker := os.Getenv("BUILDINGOPS_MQTT_BROKER")
	if broker == "" {
		broker = "tcp://localhost:1883"
	}
	names := []string{"hall-light", "lab-ac", "lab-plug"}
	if env := os.Getenv("SIM_DEVICES"); env != "" {
		names = strings.Split(env, ",")
	}

	logger := utils.InitLogging("info", "text")
	client := mqtt.NewClient(mqtt.Options{
		Broker:     broker,
		ClientID:   fmt.Sprintf("buildingops-sim-%d", os.Getpid()),
		MaxRetries: 3,
		Topics:     []string{},
	}, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := client.Connect(ctx); err != nil {
		logger.Error("Could not reach broker", "broker", broker, "error", err)
		os.Exit(1)
	}
	defer client.Shutdown()

	if len(os.Args) > 1 && os.Args[1] == "once" {
		publishRound(client, names, logger)
		return
	}

	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		publishRound(client, names, logger)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

var statuses = []string{"on", "off", "standby"}

func publishRound(client *mqtt.Client, names []string, logger *slog.Logger) {
	for _, name := range names {
		base := "devices/" + name
		status := statuses[rand.Intn(len(statuses))]
		wh := 5 + rand.Float64()*120

		publish(client, base+"/online", map[string]any{"online": true}, logger)
		publish(client, base+"/status", map[string]any{"status": status}, logger)
		publish(client, base+"/energy", map[string]any{
			"valueWh": wh,
			"voltage": 228 + rand.Float64()*4,
			"current": wh / 230,
		}, logger)
		logger.Info("Published", "device", name, "status", status, "valueWh", fmt.Sprintf("%.1f", wh))
	}
}

func publish(client *mqtt.Client, topic string, payload any, logger *slog.Logger) {
	if err := client.Publish(topic, payload); err != nil {
		logger.Warn("Publish failed", "topic", topic, "error", err)
	}
}
