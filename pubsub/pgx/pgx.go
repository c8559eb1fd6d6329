package pgx

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"

	"github.com/enverbisevac/leaselock/pubsub"
)

type command struct {
	sql      string
	resultCh chan error
}

// PubSub sends release events with postgres LISTEN/NOTIFY. One dedicated
// connection listens for every subscription; publishing goes through the
// pool.
type PubSub struct {
	config pubsub.Config
	pool   *pgxpool.Pool
	db     *sql.DB
	conn   *pgx.Conn
	closer func(ctx context.Context) error

	mutex       sync.RWMutex
	subscribers []*pgxSubscriber
	listening   map[string]int

	startOnce  sync.Once
	cmdChan    chan command
	cancelWait context.CancelFunc
	cancel     context.CancelFunc
	done       chan struct{}
}

// New creates a PubSub on pool. It takes one connection out of the pool
// for listening.
func New(ctx context.Context, pool *pgxpool.Pool, options ...pubsub.Option) (*PubSub, error) {
	poolConn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("pubsub: acquire listener connection: %w", err)
	}
	conn := poolConn.Hijack()

	return &PubSub{
		config:    pubsub.DefaultConfig(options...),
		pool:      pool,
		conn:      conn,
		closer:    conn.Close,
		listening: make(map[string]int),
		cmdChan:   make(chan command, 16),
	}, nil
}

// NewStdLib creates a PubSub on a database/sql handle opened with the
// pgx stdlib driver.
func NewStdLib(ctx context.Context, db *sql.DB, options ...pubsub.Option) (*PubSub, error) {
	dbConn, err := db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("pubsub: acquire listener connection: %w", err)
	}

	var conn *pgx.Conn
	err = dbConn.Raw(func(driverConn any) error {
		c, ok := driverConn.(*stdlib.Conn)
		if !ok {
			return fmt.Errorf("pubsub: %T is not a pgx connection", driverConn)
		}
		conn = c.Conn()
		return nil
	})
	if err != nil {
		_ = dbConn.Close()
		return nil, err
	}

	return &PubSub{
		config: pubsub.DefaultConfig(options...),
		db:     db,
		conn:   conn,
		closer: func(context.Context) error {
			return dbConn.Close()
		},
		listening: make(map[string]int),
		cmdChan:   make(chan command, 16),
	}, nil
}

// Close stops listening, closes all subscriptions and the listener
// connection.
func (ps *PubSub) Close(ctx context.Context) error {
	if ps.cancel != nil {
		ps.cancel()
		<-ps.done
	}

	ps.mutex.Lock()
	subscribers := ps.subscribers
	ps.subscribers = nil
	ps.mutex.Unlock()
	for _, sub := range subscribers {
		sub.close()
	}

	return ps.closer(ctx)
}

func (ps *PubSub) ensureListenerStarted(ctx context.Context) {
	ps.startOnce.Do(func() {
		var listenerCtx context.Context
		listenerCtx, ps.cancel = context.WithCancel(context.WithoutCancel(ctx))
		ps.done = make(chan struct{})
		go ps.listen(listenerCtx)
	})
}

func (ps *PubSub) listen(ctx context.Context) {
	log := logr.FromContextOrDiscard(ctx)
	defer close(ps.done)

	for {
		ps.processPendingCommands(ctx, log)

		if ctx.Err() != nil {
			return
		}

		waitCtx, cancelWait := context.WithCancel(ctx)
		ps.mutex.Lock()
		ps.cancelWait = cancelWait
		ps.mutex.Unlock()
		if len(ps.cmdChan) > 0 {
			cancelWait()
			continue
		}

		notification, err := ps.conn.WaitForNotification(waitCtx)
		cancelWait()

		if err != nil {
			if ctx.Err() != nil {
				return
			}
			// interrupted to run a command
			if waitCtx.Err() != nil {
				continue
			}
			log.Error(err, "pubsub: wait for notification")
			time.Sleep(20 * time.Millisecond)
			continue
		}

		ps.broadcast(&pubsub.Msg{
			Topic: notification.Channel,
			Key:   notification.Payload,
		})
	}
}

func (ps *PubSub) processPendingCommands(ctx context.Context, log logr.Logger) {
	for {
		select {
		case cmd := <-ps.cmdChan:
			_, err := ps.conn.Exec(ctx, cmd.sql)
			if err != nil {
				log.Error(err, "pubsub: listener command failed", "sql", cmd.sql)
			}
			cmd.resultCh <- err
		default:
			return
		}
	}
}

// execCommand runs sql on the listener connection from the listener
// goroutine.
func (ps *PubSub) execCommand(ctx context.Context, sql string) error {
	resultCh := make(chan error, 1)

	select {
	case ps.cmdChan <- command{sql: sql, resultCh: resultCh}:
	case <-ctx.Done():
		return ctx.Err()
	}

	ps.mutex.RLock()
	if ps.cancelWait != nil {
		ps.cancelWait()
	}
	ps.mutex.RUnlock()

	select {
	case err := <-resultCh:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (ps *PubSub) broadcast(msg *pubsub.Msg) {
	ps.mutex.RLock()
	defer ps.mutex.RUnlock()

	for _, sub := range ps.subscribers {
		if sub.channel == msg.Topic {
			sub.handler(msg)
		}
	}
}

// Publish sends key on topic with pg_notify.
func (ps *PubSub) Publish(ctx context.Context, topic, key string) error {
	channel := pubsub.FormatTopic(ps.config.App, ps.config.Namespace, topic)

	var err error
	if ps.pool != nil {
		_, err = ps.pool.Exec(ctx, "SELECT pg_notify($1, $2)", channel, key)
	} else {
		_, err = ps.db.ExecContext(ctx, "SELECT pg_notify($1, $2)", channel, key)
	}
	if err != nil {
		return fmt.Errorf("pubsub: notify %s: %w", channel, err)
	}
	return nil
}

// Subscribe calls handler for every notification on topic. Handlers run
// on the listener goroutine and must not block.
func (ps *PubSub) Subscribe(
	ctx context.Context,
	topic string,
	handler func(msg *pubsub.Msg),
) (pubsub.Consumer, error) {
	ps.ensureListenerStarted(ctx)

	channel := pubsub.FormatTopic(ps.config.App, ps.config.Namespace, topic)

	ps.mutex.Lock()
	first := ps.listening[channel] == 0
	ps.listening[channel]++
	ps.mutex.Unlock()

	if first {
		if err := ps.execCommand(ctx, "LISTEN "+pgx.Identifier{channel}.Sanitize()); err != nil {
			ps.mutex.Lock()
			ps.listening[channel]--
			ps.mutex.Unlock()
			return nil, fmt.Errorf("pubsub: listen to %s: %w", channel, err)
		}
	}

	subscriber := &pgxSubscriber{
		ps:      ps,
		channel: channel,
		handler: handler,
	}

	ps.mutex.Lock()
	ps.subscribers = append(ps.subscribers, subscriber)
	ps.mutex.Unlock()

	return subscriber, nil
}

// unsubscribe removes s and stops listening on its channel when it was
// the last subscriber.
func (ps *PubSub) unsubscribe(ctx context.Context, s *pgxSubscriber) error {
	ps.mutex.Lock()
	for i, sub := range ps.subscribers {
		if sub == s {
			ps.subscribers = append(ps.subscribers[:i], ps.subscribers[i+1:]...)
			break
		}
	}
	ps.listening[s.channel]--
	last := ps.listening[s.channel] <= 0
	if last {
		delete(ps.listening, s.channel)
	}
	ps.mutex.Unlock()

	if !last {
		return nil
	}
	if err := ps.execCommand(ctx, "UNLISTEN "+pgx.Identifier{s.channel}.Sanitize()); err != nil {
		return fmt.Errorf("pubsub: unlisten %s: %w", s.channel, err)
	}
	return nil
}

type pgxSubscriber struct {
	ps      *PubSub
	channel string
	handler func(msg *pubsub.Msg)

	once sync.Once
}

func (s *pgxSubscriber) close() bool {
	first := false
	s.once.Do(func() { first = true })
	return first
}

// Close ends the subscription.
func (s *pgxSubscriber) Close() error {
	if !s.close() {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.ps.unsubscribe(ctx, s)
}
