package internal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"github.com/lychee-technology/chfdw"
	"go.uber.org/zap"
)

// ListenConn is the subset of *pgx.Conn the listener needs.
type ListenConn interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	WaitForNotification(ctx context.Context) (*pgconn.Notification, error)
	Close(ctx context.Context) error
}

// DialFunc opens the dedicated connection used for LISTEN.
type DialFunc func(ctx context.Context) (ListenConn, error)

// PgxDialer returns a DialFunc connecting with pgx to connString.
func PgxDialer(connString string) DialFunc {
	return func(ctx context.Context) (ListenConn, error) {
		conn, err := pgx.Connect(ctx, connString)
		if err != nil {
			return nil, err
		}
		return conn, nil
	}
}

// changePayload is the JSON body sent by the catalog change event trigger.
type changePayload struct {
	RelID   uint32 `json:"relid"`
	Command string `json:"command"`
}

// PgChangeListener forwards PostgreSQL NOTIFY messages about DDL to a NotificationHub.
type PgChangeListener struct {
	dial           DialFunc
	hub            *NotificationHub
	channel        string
	reconnectDelay time.Duration
	breaker        *CircuitBreaker
}

const (
	listenerFailureThreshold = 5
	listenerFailureWindow    = time.Minute
	listenerOpenDuration     = 30 * time.Second
)

// NewPgChangeListener creates a listener publishing into hub.
func NewPgChangeListener(dial DialFunc, hub *NotificationHub, cfg chfdw.NotificationConfig) *PgChangeListener {
	channel := cfg.Channel
	if channel == "" {
		channel = chfdw.DefaultNotificationChannel
	}
	delay := cfg.ReconnectDelay
	if delay <= 0 {
		delay = 2 * time.Second
	}
	return &PgChangeListener{
		dial:           dial,
		hub:            hub,
		channel:        channel,
		reconnectDelay: delay,
		breaker:        NewCircuitBreaker(listenerFailureThreshold, listenerFailureWindow, listenerOpenDuration),
	}
}

// Run listens until ctx is cancelled, reconnecting after connection failures. Every
// (re)connect publishes a synthetic change because notifications may have been missed.
func (l *PgChangeListener) Run(ctx context.Context) error {
	for {
		err := l.listenOnce(ctx)
		if ctx.Err() != nil {
			return nil
		}
		l.breaker.RecordFailure()
		delay := l.reconnectDelay
		if open := l.breaker.OpenFor(); open > delay {
			delay = open
		}
		zap.S().Warnw("catalog change listener disconnected",
			"channel", l.channel, "retry_in", delay, "err", err)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
	}
}

func (l *PgChangeListener) listenOnce(ctx context.Context) error {
	conn, err := l.dial(ctx)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close(context.Background())

	if _, err := conn.Exec(ctx, "LISTEN "+pq.QuoteIdentifier(l.channel)); err != nil {
		return fmt.Errorf("listen on %s: %w", l.channel, err)
	}
	zap.S().Infow("listening for catalog changes", "channel", l.channel)
	l.breaker.RecordSuccess()

	if err := l.publish(ctx, chfdw.CatalogChange{CacheID: chfdw.CacheAttNum, Command: "RECONNECT"}); err != nil {
		zap.S().Errorw("invalidation after connect failed", "err", err)
	}

	for {
		n, err := conn.WaitForNotification(ctx)
		if err != nil {
			return err
		}
		change, err := decodeChange(n.Payload)
		if err != nil {
			zap.S().Warnw("malformed catalog change payload", "payload", n.Payload, "err", err)
			continue
		}
		if err := l.publish(ctx, change); err != nil {
			zap.S().Errorw("catalog change handling aborted", "relid", change.RelationID, "command", change.Command, "err", err)
		}
	}
}

func (l *PgChangeListener) publish(ctx context.Context, change chfdw.CatalogChange) error {
	return l.hub.Notify(ctx, change)
}

func decodeChange(payload string) (chfdw.CatalogChange, error) {
	change := chfdw.CatalogChange{CacheID: chfdw.CacheAttNum}
	if payload == "" {
		return change, nil
	}
	var p changePayload
	if err := json.Unmarshal([]byte(payload), &p); err != nil {
		return chfdw.CatalogChange{}, err
	}
	change.RelationID = chfdw.Oid(p.RelID)
	change.Command = p.Command
	return change, nil
}

// ChangeTriggerSQL returns the statements installing the event triggers that publish DDL
// on channel.
func ChangeTriggerSQL(channel string) []string {
	ch := pq.QuoteLiteral(channel)
	return []string{
		`CREATE OR REPLACE FUNCTION chfdw_notify_ddl() RETURNS event_trigger
		LANGUAGE plpgsql AS $$
		DECLARE r record;
		BEGIN
			FOR r IN SELECT * FROM pg_event_trigger_ddl_commands() LOOP
				IF r.classid = 'pg_catalog.pg_class'::regclass THEN
					PERFORM pg_notify(` + ch + `, json_build_object('relid', r.objid, 'command', r.command_tag)::text);
				END IF;
			END LOOP;
		END $$`,
		`CREATE OR REPLACE FUNCTION chfdw_notify_drop() RETURNS event_trigger
		LANGUAGE plpgsql AS $$
		DECLARE r record;
		BEGIN
			FOR r IN SELECT * FROM pg_event_trigger_dropped_objects() LOOP
				IF r.classid = 'pg_catalog.pg_class'::regclass THEN
					PERFORM pg_notify(` + ch + `, json_build_object('relid', r.objid, 'command', 'DROP')::text);
				END IF;
			END LOOP;
		END $$`,
		`DROP EVENT TRIGGER IF EXISTS chfdw_ddl_changes`,
		`CREATE EVENT TRIGGER chfdw_ddl_changes ON ddl_command_end EXECUTE FUNCTION chfdw_notify_ddl()`,
		`DROP EVENT TRIGGER IF EXISTS chfdw_drop_changes`,
		`CREATE EVENT TRIGGER chfdw_drop_changes ON sql_drop EXECUTE FUNCTION chfdw_notify_drop()`,
	}
}

// InstallChangeTrigger executes ChangeTriggerSQL inside one transaction.
func InstallChangeTrigger(ctx context.Context, pool catalogPool, channel string) error {
	tx, err := pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			zap.S().Warnw("rollback failed", "err", rbErr)
		}
	}()

	for _, stmt := range ChangeTriggerSQL(channel) {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to install change trigger: %w", err)
		}
	}
	return tx.Commit(ctx)
}
