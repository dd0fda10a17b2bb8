package postgres_test

import (
	"context"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/invdash/backend/postgres"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgproto3"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoolMonitor(t *testing.T) {
	t.Parallel()

	t.Run("starts with the pool and stops on close", func(t *testing.T) {
		t.Parallel()

		client, mock, _ := newClientWithMock(t)
		assert.False(t, client.HasActiveMonitor())

		mock2, err := pgxmock.NewPool()
		require.NoError(t, err)

		monitored := postgres.New(nil, withRequired(postgres.WithPoolMonitorInterval(time.Hour))...)
		monitored.SetPool(mock2)
		assert.True(t, monitored.HasActiveMonitor())
		assert.Equal(t, time.Hour, monitored.MonitorInterval())

		mock2.ExpectClose()
		require.NoError(t, monitored.Close(context.Background()))
		assert.False(t, monitored.HasActiveMonitor())
		require.NoError(t, mock2.ExpectationsWereMet())

		mock.ExpectClose()
		require.NoError(t, client.Close(context.Background()))
	})

	t.Run("default interval", func(t *testing.T) {
		t.Parallel()

		client := postgres.New(nil, requiredOpts...)

		assert.Equal(t, postgres.DefaultPoolMonitorInterval, client.MonitorInterval())
	})

	t.Run("failed ping is delivered as fatal error", func(t *testing.T) {
		t.Parallel()

		mock, err := pgxmock.NewPool()
		require.NoError(t, err)

		pingErr := errors.New("server closed the connection unexpectedly")
		mock.ExpectPing().WillReturnError(pingErr)

		logger := newMockLogger()
		client := postgres.New(logger, withRequired(postgres.WithPoolMonitorInterval(10*time.Millisecond))...)
		client.SetPool(mock)

		select {
		case err := <-client.Fatal():
			require.ErrorIs(t, err, postgres.ErrPoolFatal)
			require.ErrorIs(t, err, pingErr)
		case <-time.After(2 * time.Second):
			t.Fatal("expected fatal pool error")
		}

		// The monitor keeps pinging until Close stops it, so the mock is not
		// touched again from this goroutine before then.
		require.NoError(t, client.Close(context.Background()))
		assert.NotEmpty(t, logger.errors())
	})
}

func TestReportPoolError(t *testing.T) {
	t.Parallel()

	t.Run("fatal policy delivers one error without blocking", func(t *testing.T) {
		t.Parallel()

		client := postgres.New(nil, requiredOpts...)
		first := errors.New("first")

		client.ReportPoolError(first)
		client.ReportPoolError(errors.New("second"))

		select {
		case err := <-client.Fatal():
			require.ErrorIs(t, err, postgres.ErrPoolFatal)
			require.ErrorIs(t, err, first)
		default:
			t.Fatal("expected fatal pool error")
		}

		select {
		case err := <-client.Fatal():
			t.Fatalf("unexpected second fatal error: %v", err)
		default:
		}
	})

	t.Run("log policy only logs", func(t *testing.T) {
		t.Parallel()

		logger := newMockLogger()
		client := postgres.New(logger, withRequired(postgres.WithPoolErrorPolicy(postgres.PoolErrorPolicyLog))...)

		client.ReportPoolError(errors.New("idle connection lost"))

		select {
		case err := <-client.Fatal():
			t.Fatalf("unexpected fatal error: %v", err)
		default:
		}

		errs := logger.errors()
		require.Len(t, errs, 1)
		assert.Contains(t, errs[0], "idle connection lost")
	})

	t.Run("handler replaces policy", func(t *testing.T) {
		t.Parallel()

		received := make(chan error, 1)

		client := postgres.New(nil, withRequired(postgres.WithPoolErrorHandler(func(err error) {
			received <- err
		}))...)

		handled := errors.New("handled")
		client.ReportPoolError(handled)

		select {
		case err := <-received:
			require.ErrorIs(t, err, handled)
		case <-time.After(2 * time.Second):
			t.Fatal("expected handler to be called")
		}

		select {
		case err := <-client.Fatal():
			t.Fatalf("unexpected fatal error: %v", err)
		default:
		}
	})

	t.Run("blocking handler does not block the reporter", func(t *testing.T) {
		t.Parallel()

		unblock := make(chan struct{})
		defer close(unblock)

		client := postgres.New(nil, withRequired(postgres.WithPoolErrorHandler(func(error) {
			<-unblock
		}))...)

		reported := make(chan struct{})

		go func() {
			client.ReportPoolError(errors.New("first"))
			client.ReportPoolError(errors.New("second"))
			close(reported)
		}()

		select {
		case <-reported:
		case <-time.After(2 * time.Second):
			t.Fatal("reporting a pool error blocked on the handler")
		}
	})

	t.Run("handler may close the client", func(t *testing.T) {
		t.Parallel()

		mock, err := pgxmock.NewPool()
		require.NoError(t, err)

		mock.ExpectPing().WillReturnError(errors.New("server closed the connection unexpectedly"))

		var client *postgres.Client

		closed := make(chan error, 1)

		client = postgres.New(nil, withRequired(
			postgres.WithPoolMonitorInterval(10*time.Millisecond),
			postgres.WithPoolErrorHandler(func(error) {
				select {
				case closed <- client.Close(context.Background()):
				default:
				}
			}),
		)...)
		client.SetPool(mock)

		select {
		case err := <-closed:
			require.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Fatal("Close called from the pool error handler did not return")
		}

		assert.Equal(t, postgres.PoolStateClosed, client.State())
		assert.False(t, client.HasActiveMonitor())
	})
}

func TestCheckPool(t *testing.T) {
	t.Parallel()

	t.Run("pings an idle pool", func(t *testing.T) {
		t.Parallel()

		client, mock, _ := newClientWithMock(t)
		mock.ExpectPing()

		client.CheckPool(context.Background())

		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("skips the ping while every connection is checked out", func(t *testing.T) {
		t.Parallel()

		client, mock, logger := newClientWithMock(t, postgres.WithPoolMaxConnections(1))

		release, err := client.CheckoutSlot(context.Background())
		require.NoError(t, err)

		client.CheckPool(context.Background())

		require.NoError(t, mock.ExpectationsWereMet())
		assert.Empty(t, logger.errors())

		select {
		case err := <-client.Fatal():
			t.Fatalf("unexpected fatal error: %v", err)
		default:
		}

		release()

		mock.ExpectPing()
		client.CheckPool(context.Background())
		require.NoError(t, mock.ExpectationsWereMet())
	})
}

// connectToStartupOnlyServer opens a real pgx connection to a listener that
// completes the startup handshake and then ignores everything it receives.
func connectToStartupOnlyServer(t *testing.T) *pgx.Conn {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		backend := pgproto3.NewBackend(conn, conn)
		if _, err := backend.ReceiveStartupMessage(); err != nil {
			return
		}

		backend.Send(&pgproto3.AuthenticationOk{})
		backend.Send(&pgproto3.BackendKeyData{ProcessID: 4242, SecretKey: 1})
		backend.Send(&pgproto3.ReadyForQuery{TxStatus: 'I'})

		if err := backend.Flush(); err != nil {
			return
		}

		_, _ = io.Copy(io.Discard, conn)
	}()

	config, err := pgx.ParseConfig("postgres://app@" + ln.Addr().String() + "/inventory?sslmode=disable")
	require.NoError(t, err)

	conn, err := pgx.ConnectConfig(context.Background(), config)
	require.NoError(t, err)

	return conn
}

func TestPrepareConn(t *testing.T) {
	t.Parallel()

	t.Run("hands out a live connection", func(t *testing.T) {
		t.Parallel()

		client := postgres.New(newMockLogger(), requiredOpts...)

		config, err := client.PoolConfig()
		require.NoError(t, err)

		conn := connectToStartupOnlyServer(t)
		t.Cleanup(func() { _ = conn.Close(context.Background()) })

		ok, err := config.PrepareConn(context.Background(), conn)

		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("discards a closed connection without reporting a pool error", func(t *testing.T) {
		t.Parallel()

		logger := newMockLogger()
		client := postgres.New(logger, requiredOpts...)

		config, err := client.PoolConfig()
		require.NoError(t, err)

		conn := connectToStartupOnlyServer(t)
		require.NoError(t, conn.Close(context.Background()))

		ok, err := config.PrepareConn(context.Background(), conn)

		require.NoError(t, err)
		assert.False(t, ok)
		assert.NotEmpty(t, logger.warnings())
		assert.Empty(t, logger.errors())

		select {
		case err := <-client.Fatal():
			t.Fatalf("unexpected fatal error: %v", err)
		default:
		}
	})
}
