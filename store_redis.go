// store_redis.go: Redis configuration store backend for Cerbero
//
// Rows live as Redis hashes keyed "<TABLE>|<name>". Change notifications use
// native Redis KEYSPACE notifications over PSUBSCRIBE, which requires
// notify-keyspace-events on the server; the constructor enables it
// best-effort for servers that allow CONFIG SET.
//
// URL FORMAT:
//   redis://[username:password@]host:port/database
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package cerbero

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/agilira/go-errors"
	"github.com/redis/go-redis/v9"
)

// RedisStore implements ConfigStore on a Redis database.
type RedisStore struct {
	client      *redis.Client
	db          int
	auditLogger *AuditLogger
}

// NewRedisStore connects to the store at storeURL and verifies it is
// reachable. An unreachable store is a fatal precondition for the daemon,
// so the PING failure propagates instead of being retried here.
func NewRedisStore(ctx context.Context, storeURL string, auditLogger *AuditLogger) (*RedisStore, error) {
	opts, err := redis.ParseURL(storeURL)
	if err != nil {
		return nil, errors.Wrap(err, ErrCodeInvalidConfig, "invalid store URL").
			WithContext("url", storeURL)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.Wrap(err, ErrCodeStoreUnavailable, "configuration store unreachable").
			WithContext("addr", opts.Addr)
	}

	// Keyspace notifications are required for Subscribe. Best effort:
	// managed servers may reject CONFIG SET, and the administrator may have
	// enabled notifications already.
	_ = client.ConfigSet(ctx, "notify-keyspace-events", "KEA").Err()

	return &RedisStore{
		client:      client,
		db:          opts.DB,
		auditLogger: auditLogger,
	}, nil
}

// GetTable returns all rows of the named table, sorted by row key so the
// read order is stable across passes.
func (s *RedisStore) GetTable(ctx context.Context, table string) ([]Row, error) {
	keys, err := s.client.Keys(ctx, table+keySeparator+"*").Result()
	if err != nil {
		return nil, errors.Wrap(err, ErrCodeStoreError, "failed to list table rows").
			WithContext("table", table)
	}
	sort.Strings(keys)

	rows := make([]Row, 0, len(keys))
	for _, key := range keys {
		fields, err := s.client.HGetAll(ctx, key).Result()
		if err != nil {
			return nil, errors.Wrap(err, ErrCodeStoreError, "failed to read table row").
				WithContext("key", key)
		}
		if len(fields) == 0 {
			// Row deleted between KEYS and HGETALL.
			continue
		}
		rows = append(rows, Row{
			Key:    strings.TrimPrefix(key, table+keySeparator),
			Fields: fields,
		})
	}

	return rows, nil
}

// Subscribe watches the named tables through keyspace notifications. The
// returned channel is closed when ctx is cancelled or the underlying
// subscription drops.
func (s *RedisStore) Subscribe(ctx context.Context, tables ...string) (<-chan TableChange, error) {
	if len(tables) == 0 {
		return nil, errors.New(ErrCodeInvalidConfig, "subscribe requires at least one table")
	}

	patterns := make([]string, len(tables))
	for i, table := range tables {
		patterns[i] = fmt.Sprintf("__keyspace@%d__:%s%s*", s.db, table, keySeparator)
	}

	pubsub := s.client.PSubscribe(ctx, patterns...)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, errors.Wrap(err, ErrCodeStoreError, "failed to establish store subscription").
			WithContext("patterns", strings.Join(patterns, " "))
	}

	changes := make(chan TableChange, 64)
	go func() {
		defer close(changes)
		defer func() { _ = pubsub.Close() }()

		msgCh := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgCh:
				if !ok {
					return
				}
				change, ok := parseKeyspaceEvent(msg.Channel)
				if !ok {
					continue
				}
				select {
				case changes <- change:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return changes, nil
}

// parseKeyspaceEvent extracts the table and row key from a keyspace
// notification channel name "__keyspace@<db>__:<TABLE>|<row>".
func parseKeyspaceEvent(channel string) (TableChange, bool) {
	_, key, ok := strings.Cut(channel, ":")
	if !ok {
		return TableChange{}, false
	}
	table, row, ok := strings.Cut(key, keySeparator)
	if !ok {
		return TableChange{}, false
	}
	return TableChange{Table: table, RowKey: row}, true
}

// HealthCheck verifies the store responds to PING.
func (s *RedisStore) HealthCheck(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return errors.Wrap(err, ErrCodeStoreUnavailable, "store health check failed")
	}
	return nil
}

// Close releases the client connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
