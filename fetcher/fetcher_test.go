package fetcher

import (
	"context"
	"errors"
	"testing"
)

func TestFuncFetcherSuccess(t *testing.T) {
	f := FuncFetcher[string](func(ctx context.Context, req Request) (string, *Conditional, error) {
		return "body", &Conditional{Etag: "v1"}, nil
	})

	ch := f.Fetch(context.Background(), Request{})
	res := <-ch
	if res.Kind != Success || res.Body != "body" || res.Etag != "v1" || !res.Final {
		t.Fatalf("unexpected result: %+v", res)
	}
	if _, ok := <-ch; ok {
		t.Fatalf("channel should be closed after the final result")
	}
}

func TestFuncFetcherError(t *testing.T) {
	wantErr := errors.New("boom")
	f := FuncFetcher[string](func(ctx context.Context, req Request) (string, *Conditional, error) {
		return "", nil, wantErr
	})

	res := <-f.Fetch(context.Background(), Request{})
	if res.Kind != Error || res.Err != wantErr || !res.Final {
		t.Fatalf("unexpected result: %+v", res)
	}
}
