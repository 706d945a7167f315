/*
Copyright 2026 The jit-runner-manager Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/gomodule/redigo/redis"

	"github.com/retzero/jit-runner-manager/internal/runner"
)

// RedisStore is the Store implementation backed by a pooled redigo
// connection: GET/INCR/DECR counters, HSET hashes with TTLs, and
// RPUSH/LRANGE FIFO lists, with MULTI/EXEC for the operations that must
// be atomic across more than one key.
type RedisStore struct {
	pool *redis.Pool
}

// NewRedisPool builds a redigo connection pool for addr/password/db, with
// the same conservative pool sizing prow's redis-backed tools use.
func NewRedisPool(addr, password string, db int) *redis.Pool {
	return &redis.Pool{
		MaxIdle:     16,
		MaxActive:   64,
		IdleTimeout: 240 * time.Second,
		Wait:        true,
		Dial: func() (redis.Conn, error) {
			opts := []redis.DialOption{redis.DialDatabase(db)}
			if password != "" {
				opts = append(opts, redis.DialPassword(password))
			}
			return redis.Dial("tcp", addr, opts...)
		},
		TestOnBorrow: func(c redis.Conn, t time.Time) error {
			if time.Since(t) < time.Minute {
				return nil
			}
			_, err := c.Do("PING")
			return err
		},
	}
}

// NewRedisStore wraps an existing pool.
func NewRedisStore(pool *redis.Pool) *RedisStore {
	return &RedisStore{pool: pool}
}

func (s *RedisStore) conn(ctx context.Context) (redis.Conn, error) {
	c, err := s.pool.GetContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return c, nil
}

// Ping verifies connectivity.
func (s *RedisStore) Ping(ctx context.Context) error {
	c, err := s.conn(ctx)
	if err != nil {
		return err
	}
	defer c.Close()
	if _, err := c.Do("PING"); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// GetRunning returns 0 on a missing key, never fails for absence.
func (s *RedisStore) GetRunning(ctx context.Context, tenant string) (int, error) {
	return s.getIntOrZero(ctx, keyOrgRunning(tenant))
}

// GetGlobal returns 0 on a missing key.
func (s *RedisStore) GetGlobal(ctx context.Context) (int, error) {
	return s.getIntOrZero(ctx, globalTotalKey)
}

func (s *RedisStore) getIntOrZero(ctx context.Context, key string) (int, error) {
	c, err := s.conn(ctx)
	if err != nil {
		return 0, err
	}
	defer c.Close()
	n, err := redis.Int(c.Do("GET", key))
	if err == redis.ErrNil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return n, nil
}

// IncrRunning atomically increments the tenant's running counter.
func (s *RedisStore) IncrRunning(ctx context.Context, tenant string) error {
	return s.incr(ctx, keyOrgRunning(tenant))
}

// IncrGlobal atomically increments the global running counter.
func (s *RedisStore) IncrGlobal(ctx context.Context) error {
	return s.incr(ctx, globalTotalKey)
}

func (s *RedisStore) incr(ctx context.Context, key string) error {
	c, err := s.conn(ctx)
	if err != nil {
		return err
	}
	defer c.Close()
	if _, err := c.Do("INCR", key); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// DecrRunning decrements the tenant's running counter, clamping at zero
// so a late or duplicate decrement can never drive it negative.
func (s *RedisStore) DecrRunning(ctx context.Context, tenant string) error {
	return s.decrClamped(ctx, keyOrgRunning(tenant))
}

// DecrGlobal decrements the global counter, clamping at zero.
func (s *RedisStore) DecrGlobal(ctx context.Context) error {
	return s.decrClamped(ctx, globalTotalKey)
}

func (s *RedisStore) decrClamped(ctx context.Context, key string) error {
	c, err := s.conn(ctx)
	if err != nil {
		return err
	}
	defer c.Close()
	n, err := redis.Int(c.Do("DECR", key))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if n < 0 {
		if _, err := c.Do("SET", key, 0); err != nil {
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
	}
	return nil
}

// SetRunning is the unconditional write the reconciler uses.
func (s *RedisStore) SetRunning(ctx context.Context, tenant string, n int) error {
	return s.set(ctx, keyOrgRunning(tenant), n)
}

// SetGlobal is the unconditional write the reconciler uses.
func (s *RedisStore) SetGlobal(ctx context.Context, n int) error {
	return s.set(ctx, globalTotalKey, n)
}

func (s *RedisStore) set(ctx context.Context, key string, n int) error {
	c, err := s.conn(ctx)
	if err != nil {
		return err
	}
	defer c.Close()
	if _, err := c.Do("SET", key, n); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// GetCap returns the tenant's override, or (0, false, nil) if absent.
func (s *RedisStore) GetCap(ctx context.Context, tenant string) (int, bool, error) {
	c, err := s.conn(ctx)
	if err != nil {
		return 0, false, err
	}
	defer c.Close()
	v, err := redis.Int(c.Do("HGET", orgLimitsHashKey, tenant))
	if err == redis.ErrNil {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return v, true, nil
}

// SetCap writes the tenant's override.
func (s *RedisStore) SetCap(ctx context.Context, tenant string, n int) error {
	c, err := s.conn(ctx)
	if err != nil {
		return err
	}
	defer c.Close()
	if _, err := c.Do("HSET", orgLimitsHashKey, tenant, n); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// DeleteCap removes the tenant's override; returns whether one existed.
func (s *RedisStore) DeleteCap(ctx context.Context, tenant string) (bool, error) {
	c, err := s.conn(ctx)
	if err != nil {
		return false, err
	}
	defer c.Close()
	n, err := redis.Int(c.Do("HDEL", orgLimitsHashKey, tenant))
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return n > 0, nil
}

// GetAllCaps returns every tenant override.
func (s *RedisStore) GetAllCaps(ctx context.Context) (map[string]int, error) {
	c, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}
	defer c.Close()
	raw, err := redis.StringMap(c.Do("HGETALL", orgLimitsHashKey))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	out := make(map[string]int, len(raw))
	for k, v := range raw {
		var n int
		if _, err := fmt.Sscanf(v, "%d", &n); err == nil {
			out[k] = n
		}
	}
	return out, nil
}

// SetCapsBulk writes every tenant override in one HSET call.
func (s *RedisStore) SetCapsBulk(ctx context.Context, caps map[string]int) error {
	if len(caps) == 0 {
		return nil
	}
	c, err := s.conn(ctx)
	if err != nil {
		return err
	}
	defer c.Close()
	args := redis.Args{}.Add(orgLimitsHashKey)
	for tenant, n := range caps {
		args = args.Add(tenant, n)
	}
	if _, err := c.Do("HSET", args...); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// EffectiveCap is get_cap(T) if present, else defaultCap.
func (s *RedisStore) EffectiveCap(ctx context.Context, tenant string, defaultCap int) (int, error) {
	n, ok, err := s.GetCap(ctx, tenant)
	if err != nil {
		return 0, err
	}
	if !ok {
		return defaultCap, nil
	}
	return n, nil
}

// Enqueue appends a JSON-serialized PendingJob, stamped with the current
// monotonic seconds, to the tenant's FIFO list.
func (s *RedisStore) Enqueue(ctx context.Context, job runner.PendingJob) error {
	if job.EnqueuedAt == 0 {
		job.EnqueuedAt = nowMonotonicSeconds()
	}
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("store: marshal pending job: %w", err)
	}
	c, err := s.conn(ctx)
	if err != nil {
		return err
	}
	defer c.Close()
	if _, err := c.Do("RPUSH", keyOrgPending(job.Tenant), payload); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// PendingCount returns the queue length for one tenant.
func (s *RedisStore) PendingCount(ctx context.Context, tenant string) (int, error) {
	c, err := s.conn(ctx)
	if err != nil {
		return 0, err
	}
	defer c.Close()
	n, err := redis.Int(c.Do("LLEN", keyOrgPending(tenant)))
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return n, nil
}

// PeekAllPending scans every tenant queue, reads each list in full, and
// returns a single sequence sorted ascending by enqueued_at. Entries
// missing a timestamp (legacy data) sort to the front.
func (s *RedisStore) PeekAllPending(ctx context.Context) ([]PendingEntry, error) {
	c, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}
	defer c.Close()

	keys, err := scanKeys(c, orgPendingScanPattern)
	if err != nil {
		return nil, err
	}

	var all []PendingEntry
	for _, key := range keys {
		tenant, ok := tenantFromOrgKey(key)
		if !ok {
			continue
		}
		items, err := redis.Strings(c.Do("LRANGE", key, 0, -1))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		for idx, raw := range items {
			var job runner.PendingJob
			if err := json.Unmarshal([]byte(raw), &job); err != nil {
				continue
			}
			all = append(all, PendingEntry{Tenant: tenant, Index: idx, Job: job})
		}
	}

	sort.SliceStable(all, func(i, j int) bool {
		return all[i].Job.EnqueuedAt < all[j].Job.EnqueuedAt
	})
	return all, nil
}

// RemovePending dequeues the given jobs. For each tenant present in the
// list it atomically (via MULTI/EXEC) deletes the FIFO key and pushes back
// every element whose job_id is not in the removal set, preserving order.
// This is the only destructive queue operation.
func (s *RedisStore) RemovePending(ctx context.Context, jobs []runner.PendingJob) (int, error) {
	if len(jobs) == 0 {
		return 0, nil
	}
	byTenant := map[string]map[int64]bool{}
	for _, j := range jobs {
		set, ok := byTenant[j.Tenant]
		if !ok {
			set = map[int64]bool{}
			byTenant[j.Tenant] = set
		}
		set[j.JobID] = true
	}

	c, err := s.conn(ctx)
	if err != nil {
		return 0, err
	}
	defer c.Close()

	removed := 0
	for tenant, ids := range byTenant {
		key := keyOrgPending(tenant)
		items, err := redis.Strings(c.Do("LRANGE", key, 0, -1))
		if err != nil {
			return removed, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}

		var keep [][]byte
		for _, raw := range items {
			var job runner.PendingJob
			if err := json.Unmarshal([]byte(raw), &job); err != nil {
				keep = append(keep, []byte(raw))
				continue
			}
			if ids[job.JobID] {
				removed++
				continue
			}
			keep = append(keep, []byte(raw))
		}

		if err := c.Send("MULTI"); err != nil {
			return removed, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		if err := c.Send("DEL", key); err != nil {
			return removed, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		if len(keep) > 0 {
			args := redis.Args{}.Add(key)
			for _, k := range keep {
				args = args.Add(k)
			}
			if err := c.Send("RPUSH", args...); err != nil {
				return removed, fmt.Errorf("%w: %v", ErrUnavailable, err)
			}
		}
		if _, err := c.Do("EXEC"); err != nil {
			return removed, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
	}
	return removed, nil
}

// SaveRunner writes the RunnerRecord hash with a TTL.
func (s *RedisStore) SaveRunner(ctx context.Context, rec runner.RunnerRecord, ttl time.Duration) error {
	c, err := s.conn(ctx)
	if err != nil {
		return err
	}
	defer c.Close()
	key := keyRunnerInfo(rec.RunnerName)
	if _, err := c.Do("HSET", key,
		"runner_name", rec.RunnerName,
		"tenant", rec.Tenant,
		"job_id", rec.JobID,
		"run_id", rec.RunID,
		"repo_full_name", rec.RepoFullName,
	); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if ttl > 0 {
		if _, err := c.Do("EXPIRE", key, int(ttl.Seconds())); err != nil {
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
	}
	return nil
}

// DeleteRunner removes the RunnerRecord for runnerName.
func (s *RedisStore) DeleteRunner(ctx context.Context, runnerName string) error {
	c, err := s.conn(ctx)
	if err != nil {
		return err
	}
	defer c.Close()
	if _, err := c.Do("DEL", keyRunnerInfo(runnerName)); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// GetAllRunners prefix-scans runner:*:info and reads every hash.
func (s *RedisStore) GetAllRunners(ctx context.Context) (map[string]runner.RunnerRecord, error) {
	c, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}
	defer c.Close()

	keys, err := scanKeys(c, runnerInfoScanPattern)
	if err != nil {
		return nil, err
	}

	out := make(map[string]runner.RunnerRecord, len(keys))
	for _, key := range keys {
		name, ok := runnerNameFromInfoKey(key)
		if !ok {
			continue
		}
		raw, err := redis.StringMap(c.Do("HGETALL", key))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		if len(raw) == 0 {
			continue
		}
		rec := runner.RunnerRecord{
			RunnerName:   raw["runner_name"],
			Tenant:       raw["tenant"],
			RepoFullName: raw["repo_full_name"],
		}
		fmt.Sscanf(raw["job_id"], "%d", &rec.JobID)
		fmt.Sscanf(raw["run_id"], "%d", &rec.RunID)
		out[name] = rec
	}
	return out, nil
}

// scanKeys walks the keyspace with SCAN/MATCH rather than KEYS, so a
// large keyspace never blocks the server for the duration of one call.
func scanKeys(c redis.Conn, pattern string) ([]string, error) {
	var keys []string
	cursor := 0
	for {
		reply, err := redis.Values(c.Do("SCAN", cursor, "MATCH", pattern, "COUNT", 200))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		var batch []string
		if _, err := redis.Scan(reply, &cursor, &batch); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		keys = append(keys, batch...)
		if cursor == 0 {
			break
		}
	}
	return keys, nil
}

func nowMonotonicSeconds() float64 {
	return float64(time.Now().UnixNano()) / 1e9
}
