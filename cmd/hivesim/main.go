// Command hivesim pretends to be a hive: it connects to the broker with hive
// credentials and publishes random reading batches.
package main

import (
	"flag"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	json "github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/sciffer/beermqtt/internal/logger"
	"github.com/sciffer/beermqtt/pkg/models"
)

var (
	brokerURL  = flag.String("broker", "tcp://localhost:1883", "MQTT broker URL")
	identifier = flag.String("identifier", "", "hive identifier (also used as client id)")
	password   = flag.String("password", "", "hive password")
	topic      = flag.String("topic", "metrics", "ingest topic")
	interval   = flag.Duration("interval", 10*time.Second, "time between batches")
	sensors    = flag.Int("sensors", 4, "sensors per batch (1-40)")
	count      = flag.Int("count", 0, "batches to send, 0 for unlimited")
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	flag.Parse()

	if *identifier == "" || *password == "" {
		return fmt.Errorf("-identifier and -password are required")
	}
	if *sensors < 1 || *sensors > 40 {
		return fmt.Errorf("-sensors must be between 1 and 40")
	}

	log, err := logger.NewDevelopment()
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() {
		//nolint:errcheck // Best effort sync on shutdown, ignore error
		log.Sync()
	}()
	log = log.WithHive(*identifier)

	opts := paho.NewClientOptions().
		AddBroker(*brokerURL).
		SetClientID(*identifier).
		SetUsername(*identifier).
		SetPassword(*password).
		SetAutoReconnect(true).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			log.Warn("connection lost", zap.Error(err))
		})

	client := paho.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to connect to %s: %w", *brokerURL, token.Error())
	}
	defer client.Disconnect(250)
	log.Info("connected", zap.String("broker", *brokerURL))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(*interval)
	defer ticker.Stop()

	for sent := 0; *count == 0 || sent < *count; sent++ {
		payload, err := json.Marshal(randomBatch(*sensors))
		if err != nil {
			return fmt.Errorf("failed to encode batch: %w", err)
		}

		token := client.Publish(*topic, 1, false, payload)
		token.Wait()
		if err := token.Error(); err != nil {
			log.Error("publish failed", zap.Error(err))
		} else {
			log.Info("batch published", zap.Int("seq", sent+1), zap.Int("reads", *sensors))
		}

		if *count != 0 && sent+1 == *count {
			break
		}
		select {
		case <-ticker.C:
		case <-quit:
			log.Info("stopping")
			return nil
		}
	}
	return nil
}

// randomBatch mixes numeric readings with a string-valued lid state on the
// last sensor
func randomBatch(n int) models.ReadingBatch {
	batch := models.ReadingBatch{
		Date:  time.Now().UTC().Format(time.RFC3339),
		Reads: make([]models.Read, 0, n),
	}
	for i := 0; i < n; i++ {
		value := models.NumberValue(strconv.FormatFloat(15+rand.Float64()*20, 'f', 2, 64))
		if i == n-1 && n > 1 {
			value = models.StringValue([]string{"closed", "open"}[rand.Intn(2)])
		}
		batch.Reads = append(batch.Reads, models.Read{SensorID: i, Value: value})
	}
	return batch
}
