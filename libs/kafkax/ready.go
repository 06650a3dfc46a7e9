package kafkax

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

// ReadyCheck dials the first reachable broker and, when topic is set,
// checks that the topic has partitions.
func ReadyCheck(brokers, topic string) func(context.Context) error {
	return func(ctx context.Context) error {
		list := SplitBrokers(brokers)
		if len(list) == 0 {
			return errors.New("kafka brokers not configured")
		}
		dialer := kafka.Dialer{Timeout: 2 * time.Second}
		var errs []error
		for _, addr := range list {
			conn, err := dialer.DialContext(ctx, "tcp", addr)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			defer conn.Close()
			if topic == "" {
				return nil
			}
			partitions, err := conn.ReadPartitions(topic)
			if err != nil {
				return fmt.Errorf("topic %s: %w", topic, err)
			}
			if len(partitions) == 0 {
				return fmt.Errorf("topic %s has no partitions", topic)
			}
			return nil
		}
		return errors.Join(errs...)
	}
}
