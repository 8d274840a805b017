// Package bus declares the JetStream subjects and streams alerting runs on.
package bus

import (
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// EnsureStreams creates or updates the streams backing the alert subjects
func EnsureStreams(js nats.JetStreamContext, logger *zap.Logger) error {
	streams := []struct {
		name     string
		subjects []string
	}{
		{
			name:     noticeStreamName,
			subjects: []string{NoticeSubjects, DismissSubject},
		},
		{
			name:     digestStreamName,
			subjects: []string{DigestSubject},
		},
	}

	for _, stream := range streams {
		// Check if stream exists
		streamInfo, err := js.StreamInfo(stream.name)
		if err != nil && err != nats.ErrStreamNotFound {
			return fmt.Errorf("failed to get stream info: %w", err)
		}

		if streamInfo == nil {
			_, err = js.AddStream(&nats.StreamConfig{
				Name:       stream.name,
				Subjects:   stream.subjects,
				Retention:  nats.LimitsPolicy,
				MaxAge:     streamMaxAge,
				MaxMsgs:    streamMaxMsgs,
				MaxBytes:   -1,
				Discard:    nats.DiscardOld,
				MaxMsgSize: 1 * 1024 * 1024, // 1MB
				Storage:    nats.FileStorage,
				Replicas:   1,
				Duplicates: time.Hour,
			})
			if err != nil {
				return fmt.Errorf("failed to create stream %s: %w", stream.name, err)
			}
			logger.Info("Created stream", zap.String("name", stream.name))
		} else {
			config := streamInfo.Config
			config.Subjects = stream.subjects
			config.MaxAge = streamMaxAge

			_, err = js.UpdateStream(&config)
			if err != nil {
				return fmt.Errorf("failed to update stream %s: %w", stream.name, err)
			}
			logger.Info("Updated stream", zap.String("name", stream.name))
		}
	}

	return nil
}
