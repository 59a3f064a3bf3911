package db

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type failingPool struct {
	err error
}

func (p failingPool) Acquire(context.Context) (*pgxpool.Conn, error) {
	return nil, p.err
}

func (failingPool) Close() {}

func TestWithTxReportsAcquireFailure(t *testing.T) {
	boom := errors.New("pool exhausted")
	called := false

	err := WithTx(context.Background(), failingPool{err: boom}, func(pgx.Tx) error {
		called = true
		return nil
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected acquire error, got %v", err)
	}
	if called {
		t.Fatal("transaction body must not run without a connection")
	}
}
