// Package redis is a reference Fetcher backed by
// github.com/redis/go-redis/v9, for origins that are themselves a
// Redis-fronted cache rather than an HTTP API — e.g. a shared L2 tier
// sitting between this process's MemoryCache and the real SourceOfTruth.
package redis

import (
	"context"

	"github.com/redis/go-redis/v9"

	"github.com/matt-ramotar/storex/fetcher"
	"github.com/matt-ramotar/storex/pkg/storeerr"
)

// Fetcher reads a single string key from Redis per fetch attempt. A
// missing key is reported as NotModified rather than Error, since a
// Redis miss means "nothing new to report" for a fetcher standing in
// for a shared cache tier, not a hard failure.
type Fetcher struct {
	client *redis.Client
	key    func(ctx context.Context) (string, error)
}

func New(client *redis.Client, keyFn func(ctx context.Context) (string, error)) *Fetcher {
	return &Fetcher{client: client, key: keyFn}
}

func (f *Fetcher) Fetch(ctx context.Context, req fetcher.Request) <-chan fetcher.Result[string] {
	ch := make(chan fetcher.Result[string], 1)
	go func() {
		defer close(ch)

		key, err := f.key(ctx)
		if err != nil {
			ch <- fetcher.Result[string]{Kind: fetcher.Error, Err: storeerr.New(storeerr.KindConfiguration, "resolve redis key", err), Final: true}
			return
		}

		val, err := f.client.Get(ctx, key).Result()
		if err == redis.Nil {
			ch <- fetcher.Result[string]{Kind: fetcher.NotModified, Final: true}
			return
		}
		if err != nil {
			if storeerr.IsCancellation(err) {
				ch <- fetcher.Result[string]{Kind: fetcher.Error, Err: err, Final: true}
				return
			}
			ch <- fetcher.Result[string]{Kind: fetcher.Error, Err: storeerr.New(storeerr.KindNetworkNoConnection, "redis get", err), Final: true}
			return
		}

		if req.Conditional != nil && req.Conditional.Etag == val {
			ch <- fetcher.Result[string]{Kind: fetcher.NotModified, Final: true}
			return
		}
		ch <- fetcher.Result[string]{Kind: fetcher.Success, Body: val, Etag: val, Final: true}
	}()
	return ch
}
