// Package consumers contains Kafka consumers for background processing tasks.
package consumers

import (
	"context"
	"encoding/json"
	"io"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/segmentio/kafka-go"

	"github.com/turtacn/credcore/internal/config"
	"github.com/turtacn/credcore/internal/domain/models"
	"github.com/turtacn/credcore/pkg/errors"
	"github.com/turtacn/credcore/pkg/logger"
)

const fetchRetryDelay = time.Second

// RevocationCommand asks the core to revoke sessions. With SessionID set only
// that session is revoked; otherwise every active session of SubjectID.
type RevocationCommand struct {
	OwnerKind string `json:"owner_kind"`
	OwnerID   string `json:"owner_id"`
	SubjectID string `json:"subject_id,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

// SessionRevoker is the part of the credential facade the consumer drives.
type SessionRevoker interface {
	RevokeSession(ctx context.Context, owner models.OwnerRef, sessionID string) error
	RevokeAllSessions(ctx context.Context, owner models.OwnerRef, subjectID string) (int64, error)
}

// MessageReader is the subset of *kafka.Reader used by the consumer.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// RevocationConsumer applies revocation commands published by other systems,
// for example an identity provider deprovisioning a user.
type RevocationConsumer struct {
	reader  MessageReader
	revoker SessionRevoker
	backoff func() backoff.BackOff
	logger  logger.Logger
}

// NewRevocationConsumer creates a consumer group member on cfg.RevocationTopic.
func NewRevocationConsumer(cfg config.KafkaConfig, revoker SessionRevoker, log logger.Logger) *RevocationConsumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.Brokers,
		Topic:          cfg.RevocationTopic,
		GroupID:        cfg.ConsumerGroup, // All instances of the service share the same group ID
		MinBytes:       1,
		MaxBytes:       10e6, // 10MB
		CommitInterval: time.Second,
	})
	return NewRevocationConsumerWithReader(reader, revoker, log)
}

// NewRevocationConsumerWithReader creates a consumer over an existing reader.
func NewRevocationConsumerWithReader(reader MessageReader, revoker SessionRevoker, log logger.Logger) *RevocationConsumer {
	return &RevocationConsumer{
		reader:  reader,
		revoker: revoker,
		backoff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 200 * time.Millisecond
			b.MaxElapsedTime = time.Minute
			return b
		},
		logger: log.WithComponent("RevocationConsumer"),
	}
}

// WithBackoff replaces the retry policy for transient failures.
func (c *RevocationConsumer) WithBackoff(fn func() backoff.BackOff) *RevocationConsumer {
	c.backoff = fn
	return c
}

// Run consumes until ctx is cancelled or the reader is closed.
// Malformed and permanently failing commands are committed and dropped;
// transient failures are retried with backoff before the message is committed.
func (c *RevocationConsumer) Run(ctx context.Context) error {
	c.logger.Info(ctx, "Starting revocation consumer")
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) {
				c.logger.Info(context.Background(), "Stopping revocation consumer")
				return nil
			}
			c.logger.Error(ctx, "Failed to fetch message from kafka", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(fetchRetryDelay):
			}
			continue
		}

		c.handleMessage(ctx, msg)
		if err := c.reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			c.logger.Error(ctx, "Failed to commit revocation message", err,
				logger.Int64("offset", msg.Offset))
		}
	}
}

// Close stops the underlying reader.
func (c *RevocationConsumer) Close() error {
	return c.reader.Close()
}

func (c *RevocationConsumer) handleMessage(ctx context.Context, msg kafka.Message) {
	var cmd RevocationCommand
	if err := json.Unmarshal(msg.Value, &cmd); err != nil {
		// Acknowledge the message to avoid reprocessing a poison pill.
		c.logger.Error(ctx, "Failed to unmarshal revocation command", err, logger.Int64("offset", msg.Offset))
		return
	}

	b := backoff.WithContext(c.backoff(), ctx)
	err := backoff.Retry(func() error {
		err := c.apply(ctx, cmd)
		if err != nil && !errors.IsKind(err, errors.KindStoreUnavailable) {
			return backoff.Permanent(err)
		}
		return err
	}, b)
	if err != nil {
		c.logger.Error(ctx, "Dropping revocation command", err,
			logger.String("owner_kind", cmd.OwnerKind),
			logger.String("owner_id", cmd.OwnerID),
			logger.String("subject_id", cmd.SubjectID),
			logger.String("session_id", cmd.SessionID),
		)
	}
}

func (c *RevocationConsumer) apply(ctx context.Context, cmd RevocationCommand) error {
	owner, err := models.NewOwnerRef(cmd.OwnerKind, cmd.OwnerID)
	if err != nil {
		return err
	}

	switch {
	case cmd.SessionID != "":
		if err := c.revoker.RevokeSession(ctx, owner, cmd.SessionID); err != nil {
			return err
		}
		c.logger.Info(ctx, "Revoked session on command",
			logger.String("owner", owner.String()),
			logger.String("session_id", cmd.SessionID),
			logger.String("reason", cmd.Reason),
		)
	case cmd.SubjectID != "":
		n, err := c.revoker.RevokeAllSessions(ctx, owner, cmd.SubjectID)
		if err != nil {
			return err
		}
		c.logger.Info(ctx, "Revoked subject sessions on command",
			logger.String("owner", owner.String()),
			logger.String("subject_id", cmd.SubjectID),
			logger.Int64("revoked", n),
			logger.String("reason", cmd.Reason),
		)
	default:
		return errors.ErrInvalidArgument("subject_id", "either subject_id or session_id is required")
	}
	return nil
}
