// Copyright 2026 The Herald Authors
// SPDX-License-Identifier: Apache-2.0

package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/heraldhq/herald/lib/clock"
)

// smsTask is the JSON task the downstream SMS gateway worker pops off
// the queue.
type smsTask struct {
	ID        string `json:"id"`
	To        string `json:"to"`
	Body      string `json:"body"`
	CreatedAt string `json:"created_at"`
}

// taskQueue is the one Redis operation the sink performs, split out
// so tests can capture tasks without a server.
type taskQueue interface {
	LPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
}

// RedisSMS enqueues delivery confirmations onto a Redis list for the
// SMS gateway worker. The worker owns actual carrier delivery; the
// gateway's responsibility ends at the queue.
type RedisSMS struct {
	queue     taskQueue
	queueName string
	clk       clock.Clock

	closer interface{ Close() error }
}

var _ SMSSink = (*RedisSMS)(nil)

// NewRedisSMS connects to Redis at redisURL and returns a sink that
// pushes onto queueName.
func NewRedisSMS(ctx context.Context, redisURL, queueName string) (*RedisSMS, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}

	return &RedisSMS{
		queue:     client,
		queueName: queueName,
		clk:       clock.Real(),
		closer:    client,
	}, nil
}

// SendSMS enqueues one delivery-confirmation task.
func (s *RedisSMS) SendSMS(ctx context.Context, phoneNumber, message string) error {
	task := smsTask{
		ID:        uuid.NewString(),
		To:        phoneNumber,
		Body:      message,
		CreatedAt: s.clk.Now().UTC().Format(time.RFC3339),
	}

	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("encoding sms task: %w", err)
	}
	if err := s.queue.LPush(ctx, s.queueName, data).Err(); err != nil {
		return fmt.Errorf("enqueueing sms task: %w", err)
	}
	return nil
}

// Close releases the Redis connection.
func (s *RedisSMS) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer.Close()
}

// DropSMS discards delivery confirmations. It stands in for the queue
// sink when no SMS queue is configured.
type DropSMS struct {
	Logger *slog.Logger
}

var _ SMSSink = DropSMS{}

func (s DropSMS) SendSMS(ctx context.Context, phoneNumber, message string) error {
	s.Logger.Info("sms delivery disabled, dropping confirmation", "to", Mask(phoneNumber))
	return nil
}
