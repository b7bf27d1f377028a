package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/IBM/sarama"
	"github.com/google/uuid"
)

// RewardSubmission mirrors the service's reward event payload
type RewardSubmission struct {
	ProfileID   string  `json:"profile_id"`
	Source      string  `json:"source"`
	SourceRef   string  `json:"source_ref,omitempty"`
	XPDelta     int64   `json:"xp_delta,omitempty"`
	Reason      string  `json:"reason,omitempty"`
	DisplayName string  `json:"display_name,omitempty"`
	Subtotal    float64 `json:"subtotal,omitempty"`
}

var namePrefixes = []string{
	"Amber", "Cedar", "Clove", "Ember", "Fig", "Iris", "Jasmine", "Juniper", "Laurel", "Linden",
	"Moss", "Myrrh", "Neroli", "Oak", "Orris", "Pine", "Rose", "Saffron", "Sage", "Sandal",
	"Spruce", "Tonka", "Vetiver", "Willow", "Yarrow",
}

func profileID(idx int) string {
	return fmt.Sprintf("profile-%04d", idx)
}

func displayName(idx int) string {
	prefix := namePrefixes[idx%len(namePrefixes)]
	return fmt.Sprintf("%s%d", prefix, idx/len(namePrefixes)+1)
}

// randomEvent fabricates a reward submission for one of the producer
// categories. Purchases carry a subtotal and let the service resolve XP;
// everything else carries an explicit delta.
func randomEvent(idx int) RewardSubmission {
	sub := RewardSubmission{
		ProfileID:   profileID(idx),
		DisplayName: displayName(idx),
	}

	switch rand.Intn(5) {
	case 0:
		sub.Source = "purchase"
		sub.SourceRef = "order-" + uuid.New().String()[:8]
		sub.Subtotal = float64(rand.Intn(15000)) / 100
	case 1:
		sub.Source = "quest"
		sub.SourceRef = fmt.Sprintf("quest-%d:%s", rand.Intn(20), sub.ProfileID)
		sub.XPDelta = int64(rand.Intn(5)+1) * 10
	case 2:
		sub.Source = "mag_read"
		sub.SourceRef = fmt.Sprintf("article-%d:%s", rand.Intn(200), sub.ProfileID)
		sub.XPDelta = 15
	case 3:
		sub.Source = "mag_quiz"
		sub.SourceRef = fmt.Sprintf("quiz-%d:%s", rand.Intn(50), sub.ProfileID)
		sub.XPDelta = 25
	default:
		sub.Source = "ugc_approved"
		sub.SourceRef = "ugc-" + uuid.New().String()[:8]
		sub.XPDelta = 40
	}
	return sub
}

func main() {
	// Command line flags
	brokers := flag.String("brokers", "localhost:9094", "Kafka brokers (comma-separated)")
	topic := flag.String("topic", "xp-events", "Kafka topic")
	totalProfiles := flag.Int("profiles", 500, "Number of distinct profiles to emit events for")
	eventsPerSecond := flag.Int("rate", 50, "Events per second")
	duration := flag.Duration("duration", 0, "Duration to run (0 = forever)")
	flag.Parse()

	brokerList := strings.Split(*brokers, ",")

	fmt.Println("XP event producer")
	fmt.Printf("  brokers:    %s\n", *brokers)
	fmt.Printf("  topic:      %s\n", *topic)
	fmt.Printf("  profiles:   %d\n", *totalProfiles)
	fmt.Printf("  events/sec: %d\n", *eventsPerSecond)
	fmt.Println()

	// Configure Sarama producer
	config := sarama.NewConfig()
	config.Producer.RequiredAcks = sarama.WaitForLocal
	config.Producer.Compression = sarama.CompressionSnappy
	config.Producer.Flush.Frequency = 100 * time.Millisecond
	config.Producer.Flush.Messages = 100
	config.Producer.Return.Successes = true
	config.Producer.Return.Errors = true

	// Create producer
	producer, err := sarama.NewAsyncProducer(brokerList, config)
	if err != nil {
		log.Fatalf("Failed to create producer: %v", err)
	}

	// Handle producer errors and successes
	var successCount, errorCount int64
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		for range producer.Successes() {
			atomic.AddInt64(&successCount, 1)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		for err := range producer.Errors() {
			atomic.AddInt64(&errorCount, 1)
			log.Printf("Producer error: %v", err)
		}
	}()

	// Handle shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	done := make(chan struct{})

	// Send message helper
	sendMessage := func(sub RewardSubmission) {
		data, err := json.Marshal(sub)
		if err != nil {
			log.Printf("Failed to marshal message: %v", err)
			return
		}

		msg := &sarama.ProducerMessage{
			Topic: *topic,
			Key:   sarama.StringEncoder(sub.ProfileID),
			Value: sarama.ByteEncoder(data),
		}

		select {
		case producer.Input() <- msg:
		case <-done:
			return
		}
	}

	shutdown := func() {
		close(done)
		producer.AsyncClose()
		wg.Wait()
		fmt.Printf("\nDone. Sent: %d, Errors: %d\n", atomic.LoadInt64(&successCount), atomic.LoadInt64(&errorCount))
	}

	interval := time.Second / time.Duration(*eventsPerSecond)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	statsTicker := time.NewTicker(5 * time.Second)
	defer statsTicker.Stop()

	var endTime time.Time
	if *duration > 0 {
		endTime = time.Now().Add(*duration)
	}

	var eventCount int64

	fmt.Println("Press Ctrl+C to stop")
	fmt.Println()

	for {
		select {
		case <-sigChan:
			fmt.Println("\nShutting down...")
			shutdown()
			return

		case <-ticker.C:
			if *duration > 0 && time.Now().After(endTime) {
				fmt.Println("\nDuration reached, shutting down...")
				shutdown()
				return
			}

			// 60% of events target a hot slice of profiles so the
			// leaderboard actually moves
			var idx int
			if rand.Intn(100) < 60 {
				idx = rand.Intn(20)
			} else {
				idx = rand.Intn(*totalProfiles)
			}

			sendMessage(randomEvent(idx))
			atomic.AddInt64(&eventCount, 1)

		case <-statsTicker.C:
			fmt.Printf("[%s] Events: %d | Sent: %d | Errors: %d\n",
				time.Now().Format("15:04:05"),
				atomic.LoadInt64(&eventCount),
				atomic.LoadInt64(&successCount),
				atomic.LoadInt64(&errorCount),
			)
		}
	}
}
