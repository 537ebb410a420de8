// Package http is a reference Fetcher backed by net/http and
// github.com/sony/gobreaker, demonstrating the circuit-breaking
// pattern SPEC_FULL.md's domain stack calls for (§11): a Fetcher whose
// repeated failures trip a breaker so the core's Bookkeeper can stop
// hammering a failing origin instead of relying on caller-side
// retries alone.
//
// Grounded on the donor's circuit-breaker usage pattern referenced in
// the pack's jordigilh-kubernaut repo, which configures
// gobreaker.Settings with a ReadyToTrip predicate over consecutive
// failures and an OnStateChange hook for observability.
package http

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"github.com/matt-ramotar/storex/fetcher"
	"github.com/matt-ramotar/storex/pkg/storeerr"
)

// Fetcher issues a GET request for a single URL per key, threading
// conditional validators as If-None-Match / If-Modified-Since
// headers, and trips a circuit breaker after repeated consecutive
// failures.
type Fetcher struct {
	client  *http.Client
	url     func(ctx context.Context) (string, error)
	breaker *gobreaker.CircuitBreaker[fetcher.Result[[]byte]]
	log     zerolog.Logger
}

// New constructs an HTTP Fetcher for urlFn, tripping the breaker after
// maxConsecutiveFailures and resetting to half-open after resetAfter.
func New(client *http.Client, urlFn func(ctx context.Context) (string, error), maxConsecutiveFailures uint32, resetAfter time.Duration, log zerolog.Logger) *Fetcher {
	if client == nil {
		client = http.DefaultClient
	}
	settings := gobreaker.Settings{
		Name:    "fetcher.http",
		Timeout: resetAfter,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxConsecutiveFailures
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state change")
		},
	}
	return &Fetcher{client: client, url: urlFn, breaker: gobreaker.NewCircuitBreaker[fetcher.Result[[]byte]](settings), log: log}
}

func (f *Fetcher) Fetch(ctx context.Context, req fetcher.Request) <-chan fetcher.Result[[]byte] {
	ch := make(chan fetcher.Result[[]byte], 1)
	go func() {
		defer close(ch)

		result, err := f.breaker.Execute(func() (fetcher.Result[[]byte], error) {
			return f.do(ctx, req)
		})
		if err != nil {
			if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
				ch <- fetcher.Result[[]byte]{Kind: fetcher.Error, Err: storeerr.New(storeerr.KindNetworkNoConnection, "circuit open", err), Final: true}
				return
			}
			ch <- fetcher.Result[[]byte]{Kind: fetcher.Error, Err: err, Final: true}
			return
		}
		ch <- result
	}()
	return ch
}

func (f *Fetcher) do(ctx context.Context, req fetcher.Request) (fetcher.Result[[]byte], error) {
	if storeerr.IsCancellation(ctx.Err()) {
		return fetcher.Result[[]byte]{}, ctx.Err()
	}

	url, err := f.url(ctx)
	if err != nil {
		return fetcher.Result[[]byte]{}, storeerr.New(storeerr.KindConfiguration, "resolve url", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fetcher.Result[[]byte]{}, storeerr.New(storeerr.KindConfiguration, "build request", err)
	}
	if req.Conditional != nil {
		if req.Conditional.Etag != "" {
			httpReq.Header.Set("If-None-Match", req.Conditional.Etag)
		}
		if !req.Conditional.LastModified.IsZero() {
			httpReq.Header.Set("If-Modified-Since", req.Conditional.LastModified.UTC().Format(http.TimeFormat))
		}
	}

	resp, err := f.client.Do(httpReq)
	if err != nil {
		if storeerr.IsCancellation(err) {
			return fetcher.Result[[]byte]{}, err
		}
		return fetcher.Result[[]byte]{}, storeerr.New(storeerr.KindNetworkNoConnection, "request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotModified {
		return fetcher.Result[[]byte]{Kind: fetcher.NotModified, Final: true}, nil
	}
	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fetcher.Result[[]byte]{}, storeerr.NewHTTP(resp.StatusCode, fmt.Sprintf("unexpected status: %s", body), nil)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fetcher.Result[[]byte]{}, storeerr.New(storeerr.KindNetworkTimeout, "read body", err)
	}
	return fetcher.Result[[]byte]{Kind: fetcher.Success, Body: body, Etag: resp.Header.Get("ETag"), Final: true}, nil
}
