// Package valkey implements registry.Store against a Valkey/Redis server
// via github.com/valkey-io/valkey-go.
package valkey

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"time"

	valkey "github.com/valkey-io/valkey-go"
)

// Config covers what the registry bucket needs: a single address, optional
// auth, optional TLS.
type Config struct {
	Address  string
	Username string
	Password string
	DB       int
	TLS      bool
}

// Store implements registry.Store. The bucket is the whole selected DB: a
// registry deployment gets its own DB or instance for isolation.
type Store struct {
	client valkey.Client
}

func New(cfg Config) (*Store, error) {
	if cfg.Address == "" {
		return nil, errors.New("registry/valkey: address required")
	}

	option := valkey.ClientOption{
		InitAddress:       []string{cfg.Address},
		Username:          cfg.Username,
		Password:          cfg.Password,
		SelectDB:          cfg.DB,
		AlwaysRESP2:       true,
		ForceSingleClient: true,
		DisableCache:      true,
	}
	if cfg.TLS {
		option.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	client, err := valkey.NewClient(option)
	if err != nil {
		return nil, fmt.Errorf("registry/valkey: client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Do(ctx, client.B().Ping().Build()).Error(); err != nil {
		client.Close()
		return nil, fmt.Errorf("registry/valkey: ping: %w", err)
	}

	return &Store{client: client}, nil
}

// Keys streams every key in the selected DB using cursor-based SCAN rather
// than the blocking KEYS command, so a large bucket never stalls the
// server while a match scan runs.
func (s *Store) Keys(ctx context.Context) (<-chan string, <-chan error) {
	keys := make(chan string)
	errs := make(chan error, 1)

	go func() {
		defer close(keys)
		defer close(errs)

		const batchSize = 200
		cursor := uint64(0)
		for {
			select {
			case <-ctx.Done():
				errs <- ctx.Err()
				return
			default:
			}

			cmd := s.client.B().Scan().Cursor(cursor).Count(int64(batchSize)).Build()
			resp := s.client.Do(ctx, cmd)
			if err := resp.Error(); err != nil {
				errs <- fmt.Errorf("registry/valkey: scan: %w", err)
				return
			}
			entry, err := resp.AsScanEntry()
			if err != nil {
				errs <- fmt.Errorf("registry/valkey: scan parse: %w", err)
				return
			}

			for _, key := range entry.Elements {
				select {
				case keys <- key:
				case <-ctx.Done():
					errs <- ctx.Err()
					return
				}
			}

			cursor = entry.Cursor
			if cursor == 0 {
				return
			}
		}
	}()

	return keys, errs
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	resp := s.client.Do(ctx, s.client.B().Get().Key(key).Build())
	if err := resp.Error(); err != nil {
		if errors.Is(err, valkey.Nil) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("registry/valkey: get: %w", err)
	}
	payload, err := resp.AsBytes()
	if err != nil {
		return nil, false, fmt.Errorf("registry/valkey: get bytes: %w", err)
	}
	return payload, true, nil
}

// Put stores an already-encoded ValidationFlow under key, e.g. for tests
// seeding the bucket. The adapter itself never writes to the registry.
func (s *Store) Put(ctx context.Context, key string, value []byte) error {
	cmd := s.client.B().Set().Key(key).Value(string(value)).Build()
	if err := s.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("registry/valkey: set: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	s.client.Close()
	return nil
}
