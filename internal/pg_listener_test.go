package internal

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lychee-technology/chfdw"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errConnClosed = errors.New("conn closed")

type fakeListenConn struct {
	mu       sync.Mutex
	execs    []string
	payloads []string
	closed   bool
}

func (c *fakeListenConn) Exec(_ context.Context, sql string, _ ...any) (pgconn.CommandTag, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.execs = append(c.execs, sql)
	return pgconn.NewCommandTag("LISTEN"), nil
}

func (c *fakeListenConn) WaitForNotification(ctx context.Context) (*pgconn.Notification, error) {
	c.mu.Lock()
	if len(c.payloads) > 0 {
		p := c.payloads[0]
		c.payloads = c.payloads[1:]
		c.mu.Unlock()
		return &pgconn.Notification{Channel: chfdw.DefaultNotificationChannel, Payload: p}, nil
	}
	c.mu.Unlock()
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	return nil, errConnClosed
}

func (c *fakeListenConn) Close(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func recordChanges(hub *NotificationHub) func() []chfdw.CatalogChange {
	var mu sync.Mutex
	var changes []chfdw.CatalogChange
	hub.Subscribe(chfdw.CacheAttNum, func(_ context.Context, change chfdw.CatalogChange) error {
		mu.Lock()
		defer mu.Unlock()
		changes = append(changes, change)
		return nil
	})
	return func() []chfdw.CatalogChange {
		mu.Lock()
		defer mu.Unlock()
		return append([]chfdw.CatalogChange(nil), changes...)
	}
}

func TestPgChangeListener_ListenOnce(t *testing.T) {
	hub := NewNotificationHub()
	changes := recordChanges(hub)
	conn := &fakeListenConn{payloads: []string{
		`{"relid": 17000, "command": "ALTER FOREIGN TABLE"}`,
		`not json`,
		``,
	}}
	listener := NewPgChangeListener(func(context.Context) (ListenConn, error) { return conn, nil }, hub, chfdw.NotificationConfig{})

	err := listener.listenOnce(context.Background())
	assert.ErrorIs(t, err, errConnClosed)

	assert.Equal(t, []string{`LISTEN "chfdw_catalog_changes"`}, conn.execs)
	assert.True(t, conn.closed)
	assert.Equal(t, []chfdw.CatalogChange{
		{CacheID: chfdw.CacheAttNum, Command: "RECONNECT"},
		{CacheID: chfdw.CacheAttNum, RelationID: 17000, Command: "ALTER FOREIGN TABLE"},
		{CacheID: chfdw.CacheAttNum},
	}, changes())
}

func TestPgChangeListener_InvalidatesColumnCache(t *testing.T) {
	hub := NewNotificationHub()
	columns := NewColumnCache(hub, 4)
	insertCurrent(t, columns, columnMeta(17000, 1, "a"))
	conn := &fakeListenConn{}
	listener := NewPgChangeListener(func(context.Context) (ListenConn, error) { return conn, nil }, hub, chfdw.NotificationConfig{Channel: "custom"})

	_ = listener.listenOnce(context.Background())

	assert.Equal(t, 0, columns.Len())
	assert.Equal(t, []string{`LISTEN "custom"`}, conn.execs)
}

func TestPgChangeListener_RunReconnects(t *testing.T) {
	hub := NewNotificationHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dials := 0
	dial := func(context.Context) (ListenConn, error) {
		dials++
		switch dials {
		case 1:
			return nil, assert.AnError
		case 2:
			return &fakeListenConn{}, nil
		default:
			cancel()
			return &fakeListenConn{}, nil
		}
	}
	listener := NewPgChangeListener(dial, hub, chfdw.NotificationConfig{ReconnectDelay: time.Millisecond})

	done := make(chan error, 1)
	go func() { done <- listener.Run(ctx) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("listener did not stop after cancellation")
	}
	assert.GreaterOrEqual(t, dials, 3)
}

func TestDecodeChange(t *testing.T) {
	change, err := decodeChange(`{"relid": 42, "command": "DROP"}`)
	require.NoError(t, err)
	assert.Equal(t, chfdw.CatalogChange{CacheID: chfdw.CacheAttNum, RelationID: 42, Command: "DROP"}, change)

	_, err = decodeChange(`{`)
	assert.Error(t, err)
}

// ---------------------------------------------------------------------------
// Change trigger installation
// ---------------------------------------------------------------------------

func TestChangeTriggerSQL_QuotesChannel(t *testing.T) {
	stmts := ChangeTriggerSQL("it's")

	require.Len(t, stmts, 6)
	assert.Contains(t, stmts[0], `pg_notify('it''s'`)
	assert.Contains(t, stmts[1], `pg_notify('it''s'`)
	assert.True(t, strings.HasPrefix(stmts[3], "CREATE EVENT TRIGGER chfdw_ddl_changes ON ddl_command_end"))
	assert.True(t, strings.HasPrefix(stmts[5], "CREATE EVENT TRIGGER chfdw_drop_changes ON sql_drop"))
}

func TestInstallChangeTrigger(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectExec(`CREATE OR REPLACE FUNCTION chfdw_notify_ddl`).WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectExec(`CREATE OR REPLACE FUNCTION chfdw_notify_drop`).WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectExec(`DROP EVENT TRIGGER IF EXISTS chfdw_ddl_changes`).WillReturnResult(pgxmock.NewResult("DROP", 0))
	mock.ExpectExec(`CREATE EVENT TRIGGER chfdw_ddl_changes`).WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectExec(`DROP EVENT TRIGGER IF EXISTS chfdw_drop_changes`).WillReturnResult(pgxmock.NewResult("DROP", 0))
	mock.ExpectExec(`CREATE EVENT TRIGGER chfdw_drop_changes`).WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectCommit()

	require.NoError(t, InstallChangeTrigger(context.Background(), mock, chfdw.DefaultNotificationChannel))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInstallChangeTrigger_RollsBackOnError(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectExec(`CREATE OR REPLACE FUNCTION chfdw_notify_ddl`).WillReturnError(assert.AnError)
	mock.ExpectRollback()

	err = InstallChangeTrigger(context.Background(), mock, chfdw.DefaultNotificationChannel)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to install change trigger")
	require.NoError(t, mock.ExpectationsWereMet())
}
