package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"bridgesentinel/monitor"
	"bridgesentinel/types"

	"github.com/gomodule/redigo/redis"
)

const (
	eventsKeyPrefix = "sentinel:events:"
	reportKeyPrefix = "sentinel:report:"
)

func eventsKey(id types.BridgeID) string {
	return eventsKeyPrefix + id.Hex()
}

func reportKey(id types.BridgeID) string {
	return reportKeyPrefix + id.Hex()
}

func timeoutDialOptions() []redis.DialOption {
	return []redis.DialOption{
		redis.DialConnectTimeout(5 * time.Second),
		redis.DialReadTimeout(5 * time.Second),
		redis.DialWriteTimeout(5 * time.Second),
	}
}

// Store keeps the security event journal as one Redis list per bridge and
// the latest health report as one JSON string per bridge.
type Store struct {
	pool *redis.Pool
}

func New(host string, port int) *Store {
	redisAddr := fmt.Sprintf("%s:%d", host, port)
	return NewWithPool(&redis.Pool{
		MaxIdle:     5,
		IdleTimeout: 5 * time.Minute,
		Dial:        func() (redis.Conn, error) { return redis.Dial("tcp", redisAddr, timeoutDialOptions()...) },
	})
}

func NewWithPool(pool *redis.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) Close() error {
	return s.pool.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	conn, err := s.pool.GetContext(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	_, err = conn.Do("PING")
	return err
}

// Journal adapts the store to monitor.Journal.
func (s *Store) Journal() monitor.Journal {
	return journal{s}
}

type journal struct {
	s *Store
}

func (j journal) Append(ctx context.Context, ev types.SecurityEvent) error {
	conn, err := j.s.pool.GetContext(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	evJSON, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("cannot marshal security event to JSON: %s", err.Error())
	}

	_, err = conn.Do("RPUSH", eventsKey(ev.BridgeID), evJSON)
	if err != nil {
		log.Printf("error Redis RPUSH: %s", err.Error())
		return err
	}
	return nil
}

func (j journal) Range(ctx context.Context, id types.BridgeID, fromSeq, toSeq uint64) ([]types.SecurityEvent, error) {
	conn, err := j.s.pool.GetContext(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	raw, err := redis.ByteSlices(conn.Do("LRANGE", eventsKey(id), 0, -1))
	if err != nil && !errors.Is(err, redis.ErrNil) {
		log.Printf("error Redis LRANGE: %s", err.Error())
		return nil, err
	}

	events := make([]types.SecurityEvent, 0, len(raw))
	for _, b := range raw {
		var ev types.SecurityEvent
		if err := json.Unmarshal(b, &ev); err != nil {
			return nil, fmt.Errorf("corrupt security event for %s: %w", id.Hex(), err)
		}
		events = append(events, ev)
	}
	return monitor.FilterRange(events, fromSeq, toSeq), nil
}

func (j journal) Count(ctx context.Context, id types.BridgeID) (int, error) {
	conn, err := j.s.pool.GetContext(ctx)
	if err != nil {
		return 0, err
	}
	defer conn.Close()

	n, err := redis.Int(conn.Do("LLEN", eventsKey(id)))
	if err != nil {
		log.Printf("error Redis LLEN: %s", err.Error())
		return 0, err
	}
	return n, nil
}

// ReportCache implements health.ReportCache.
type ReportCache struct {
	s *Store
}

func (s *Store) Reports() *ReportCache {
	return &ReportCache{s: s}
}

func (c *ReportCache) Get(ctx context.Context, id types.BridgeID) (types.BridgeHealthReport, bool, error) {
	conn, err := c.s.pool.GetContext(ctx)
	if err != nil {
		return types.BridgeHealthReport{}, false, err
	}
	defer conn.Close()

	b, err := redis.Bytes(conn.Do("GET", reportKey(id)))
	if errors.Is(err, redis.ErrNil) {
		return types.BridgeHealthReport{}, false, nil
	}
	if err != nil {
		log.Printf("error Redis GET: %s", err.Error())
		return types.BridgeHealthReport{}, false, err
	}

	var report types.BridgeHealthReport
	if err := json.Unmarshal(b, &report); err != nil {
		return types.BridgeHealthReport{}, false, fmt.Errorf("corrupt health report for %s: %w", id.Hex(), err)
	}
	return report, true, nil
}

func (c *ReportCache) Put(ctx context.Context, report types.BridgeHealthReport) error {
	conn, err := c.s.pool.GetContext(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	reportJSON, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("cannot marshal health report to JSON: %s", err.Error())
	}

	_, err = conn.Do("SET", reportKey(report.BridgeID), reportJSON)
	if err != nil {
		log.Printf("error Redis SET: %s", err.Error())
		return err
	}
	return nil
}
