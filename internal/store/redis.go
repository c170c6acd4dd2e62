package store

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Redis key pattern helpers
//
// All keys are namespaced so several lineages can share one Redis server.
// Key pattern: cellsim:{namespace}:{entity}[:{id}]

// SpotKey returns the hash key of a spot.
// Pattern: cellsim:{namespace}:spot:{id}
func SpotKey(namespace string, id int64) string {
	return fmt.Sprintf("cellsim:%s:spot:%d", namespace, id)
}

// SpotSeqKey returns the counter used to allocate spot IDs.
// Pattern: cellsim:{namespace}:spot_seq
func SpotSeqKey(namespace string) string {
	return fmt.Sprintf("cellsim:%s:spot_seq", namespace)
}

// SpotsByTimeKey returns the ZSET of spot IDs scored by timepoint.
// Pattern: cellsim:{namespace}:spots_by_time
func SpotsByTimeKey(namespace string) string {
	return fmt.Sprintf("cellsim:%s:spots_by_time", namespace)
}

// ChildrenKey returns the SET of child spot IDs of a spot.
// Pattern: cellsim:{namespace}:spot:{id}:children
func ChildrenKey(namespace string, id int64) string {
	return fmt.Sprintf("cellsim:%s:spot:%d:children", namespace, id)
}

// ParentsKey returns the SET of parent spot IDs of a spot.
// Pattern: cellsim:{namespace}:spot:{id}:parents
func ParentsKey(namespace string, id int64) string {
	return fmt.Sprintf("cellsim:%s:spot:%d:parents", namespace, id)
}

// LinksKey returns the SET of all links, encoded as "source:target".
// Pattern: cellsim:{namespace}:links
func LinksKey(namespace string) string {
	return fmt.Sprintf("cellsim:%s:links", namespace)
}

// RunKey returns the hash key of a run record.
// Pattern: cellsim:{namespace}:run:{run_id}
func RunKey(namespace, runID string) string {
	return fmt.Sprintf("cellsim:%s:run:%s", namespace, runID)
}

// RunsKey returns the SET of run IDs.
// Pattern: cellsim:{namespace}:runs
func RunsKey(namespace string) string {
	return fmt.Sprintf("cellsim:%s:runs", namespace)
}

// RedisLineageStore implements LineageStore on Redis. Spots are hashes, the
// time index is a sorted set and links are kept both as a global set and as
// per-spot parent and child sets.
type RedisLineageStore struct {
	rdb       *redis.Client
	namespace string
}

// NewRedisLineageStore connects to Redis. An empty namespace is replaced by
// a fresh UUID, so every unnamed run gets its own keyspace.
func NewRedisLineageStore(ctx context.Context, opts *redis.Options, namespace string) (*RedisLineageStore, error) {
	if namespace == "" {
		namespace = uuid.NewString()
	}
	if strings.Contains(namespace, ":") {
		return nil, fmt.Errorf("namespace %q must not contain ':'", namespace)
	}

	s := &RedisLineageStore{
		rdb:       redis.NewClient(opts),
		namespace: namespace,
	}
	if err := s.rdb.Ping(ctx).Err(); err != nil {
		s.rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", opts.Addr, err)
	}
	return s, nil
}

// Namespace returns the key namespace of the store.
func (s *RedisLineageStore) Namespace() string { return s.namespace }

// AddSpot adds a spot to the store.
func (s *RedisLineageStore) AddSpot(ctx context.Context, spot Spot) (int64, error) {
	id, err := s.rdb.Incr(ctx, SpotSeqKey(s.namespace)).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to allocate spot id: %w", err)
	}
	spot.ID = id

	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		s.queueSpot(ctx, pipe, spot)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to write spot %d to Redis: %w", id, err)
	}
	return id, nil
}

func (s *RedisLineageStore) queueSpot(ctx context.Context, pipe redis.Pipeliner, spot Spot) {
	pipe.HSet(ctx, SpotKey(s.namespace, spot.ID), spotToHash(spot))
	pipe.ZAdd(ctx, SpotsByTimeKey(s.namespace), redis.Z{Score: float64(spot.Time), Member: spot.ID})
}

func (s *RedisLineageStore) queueLink(ctx context.Context, pipe redis.Pipeliner, source, target int64) {
	pipe.SAdd(ctx, ChildrenKey(s.namespace, source), target)
	pipe.SAdd(ctx, ParentsKey(s.namespace, target), source)
	pipe.SAdd(ctx, LinksKey(s.namespace), linkMember(source, target))
}

// AddLink connects two existing spots.
func (s *RedisLineageStore) AddLink(ctx context.Context, source, target int64) error {
	n, err := s.rdb.Exists(ctx, SpotKey(s.namespace, source), SpotKey(s.namespace, target)).Result()
	if err != nil {
		return fmt.Errorf("failed to check link endpoints: %w", err)
	}
	if (source == target && n < 1) || (source != target && n < 2) {
		return fmt.Errorf("link %d->%d: %w", source, target, ErrSpotNotFound)
	}

	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		s.queueLink(ctx, pipe, source, target)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to write link %d->%d to Redis: %w", source, target, err)
	}
	return nil
}

// GetSpot retrieves a spot by ID. Returns nil if not found.
func (s *RedisLineageStore) GetSpot(ctx context.Context, id int64) (*Spot, error) {
	hash, err := s.rdb.HGetAll(ctx, SpotKey(s.namespace, id)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read spot %d from Redis: %w", id, err)
	}
	// HGetAll returns an empty map for missing keys
	if len(hash) == 0 {
		return nil, nil
	}
	spot, err := hashToSpot(id, hash)
	if err != nil {
		return nil, err
	}
	return &spot, nil
}

// SpotsAt returns the spots of timepoint t in ascending ID order.
func (s *RedisLineageStore) SpotsAt(ctx context.Context, t int) ([]Spot, error) {
	score := strconv.Itoa(t)
	members, err := s.rdb.ZRangeByScore(ctx, SpotsByTimeKey(s.namespace), &redis.ZRangeBy{Min: score, Max: score}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to query spots at %d: %w", t, err)
	}
	return s.loadSpots(ctx, members)
}

// AllSpots returns every spot in ascending ID order.
func (s *RedisLineageStore) AllSpots(ctx context.Context) ([]Spot, error) {
	members, err := s.rdb.ZRange(ctx, SpotsByTimeKey(s.namespace), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list spots: %w", err)
	}
	return s.loadSpots(ctx, members)
}

func (s *RedisLineageStore) loadSpots(ctx context.Context, members []string) ([]Spot, error) {
	ids := make([]int64, 0, len(members))
	for _, m := range members {
		id, err := strconv.ParseInt(m, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("corrupt spot id %q in time index: %w", m, err)
		}
		ids = append(ids, id)
	}

	pipe := s.rdb.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HGetAll(ctx, SpotKey(s.namespace, id))
	}
	if len(ids) > 0 {
		if _, err := pipe.Exec(ctx); err != nil {
			return nil, fmt.Errorf("failed to read spots from Redis: %w", err)
		}
	}

	spots := make([]Spot, 0, len(ids))
	for i, cmd := range cmds {
		hash := cmd.Val()
		if len(hash) == 0 {
			continue
		}
		spot, err := hashToSpot(ids[i], hash)
		if err != nil {
			return nil, err
		}
		spots = append(spots, spot)
	}
	sortSpots(spots)
	return spots, nil
}

// Links returns the links touching id.
func (s *RedisLineageStore) Links(ctx context.Context, id int64, direction Direction) ([]Link, error) {
	if direction != DirectionOutbound && direction != DirectionInbound && direction != DirectionBoth {
		return nil, fmt.Errorf("unknown direction %q", direction)
	}
	var links []Link

	if direction == DirectionOutbound || direction == DirectionBoth {
		children, err := s.memberIDs(ctx, ChildrenKey(s.namespace, id))
		if err != nil {
			return nil, err
		}
		for _, c := range children {
			links = append(links, Link{Source: id, Target: c})
		}
	}
	if direction == DirectionInbound || direction == DirectionBoth {
		parents, err := s.memberIDs(ctx, ParentsKey(s.namespace, id))
		if err != nil {
			return nil, err
		}
		for _, p := range parents {
			links = append(links, Link{Source: p, Target: id})
		}
	}

	sortLinks(links)
	return links, nil
}

func (s *RedisLineageStore) memberIDs(ctx context.Context, key string) ([]int64, error) {
	members, err := s.rdb.SMembers(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", key, err)
	}
	ids := make([]int64, 0, len(members))
	for _, m := range members {
		id, err := strconv.ParseInt(m, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("corrupt member %q in %s: %w", m, key, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// AllLinks returns every link.
func (s *RedisLineageStore) AllLinks(ctx context.Context) ([]Link, error) {
	members, err := s.rdb.SMembers(ctx, LinksKey(s.namespace)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list links: %w", err)
	}
	links := make([]Link, 0, len(members))
	for _, m := range members {
		l, err := parseLinkMember(m)
		if err != nil {
			return nil, err
		}
		links = append(links, l)
	}
	sortLinks(links)
	return links, nil
}

// TimeRange returns the first and last stored timepoint.
func (s *RedisLineageStore) TimeRange(ctx context.Context) (int, int, error) {
	key := SpotsByTimeKey(s.namespace)
	first, err := s.rdb.ZRangeWithScores(ctx, key, 0, 0).Result()
	if err != nil {
		return 0, 0, fmt.Errorf("failed to query time range: %w", err)
	}
	if len(first) == 0 {
		return 0, 0, ErrEmpty
	}
	last, err := s.rdb.ZRangeWithScores(ctx, key, -1, -1).Result()
	if err != nil {
		return 0, 0, fmt.Errorf("failed to query time range: %w", err)
	}
	return int(first[0].Score), int(last[0].Score), nil
}

// AddRun inserts or replaces a run record.
func (s *RedisLineageStore) AddRun(ctx context.Context, run Run) error {
	if run.ID == "" {
		return fmt.Errorf("run ID is required")
	}
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, RunKey(s.namespace, run.ID), map[string]any{
			"started_at": run.StartedAt.UTC().Format(time.RFC3339Nano),
			"seed":       strconv.FormatUint(run.Seed, 10),
			"from":       run.From,
			"to":         run.To,
			"params":     run.Params,
		})
		pipe.SAdd(ctx, RunsKey(s.namespace), run.ID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to record run %s: %w", run.ID, err)
	}
	return nil
}

// Runs returns all runs ordered by start time.
func (s *RedisLineageStore) Runs(ctx context.Context) ([]Run, error) {
	ids, err := s.rdb.SMembers(ctx, RunsKey(s.namespace)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}

	runs := make([]Run, 0, len(ids))
	for _, id := range ids {
		hash, err := s.rdb.HGetAll(ctx, RunKey(s.namespace, id)).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to read run %s: %w", id, err)
		}
		if len(hash) == 0 {
			continue
		}
		r, err := hashToRun(id, hash)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	sortRuns(runs)
	return runs, nil
}

// Begin starts a MULTI/EXEC batch. Spot IDs are allocated immediately so
// links inside the batch can refer to them; IDs of a discarded batch are
// not reused.
func (s *RedisLineageStore) Begin(ctx context.Context) (Batch, error) {
	return &redisBatch{store: s, ctx: ctx, pipe: s.rdb.TxPipeline(), queued: make(map[int64]bool)}, nil
}

// Close closes the Redis connection.
func (s *RedisLineageStore) Close() error {
	return s.rdb.Close()
}

type redisBatch struct {
	store  *RedisLineageStore
	ctx    context.Context
	pipe   redis.Pipeliner
	queued map[int64]bool
}

func (b *redisBatch) AddSpot(ctx context.Context, spot Spot) (int64, error) {
	id, err := b.store.rdb.Incr(ctx, SpotSeqKey(b.store.namespace)).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to allocate spot id: %w", err)
	}
	spot.ID = id
	b.store.queueSpot(ctx, b.pipe, spot)
	b.queued[id] = true
	return id, nil
}

// AddLink checks endpoints that are not part of this batch against Redis.
func (b *redisBatch) AddLink(ctx context.Context, source, target int64) error {
	var keys []string
	for _, id := range []int64{source, target} {
		if !b.queued[id] {
			keys = append(keys, SpotKey(b.store.namespace, id))
		}
	}
	if source == target && len(keys) == 2 {
		keys = keys[:1]
	}
	if len(keys) > 0 {
		n, err := b.store.rdb.Exists(ctx, keys...).Result()
		if err != nil {
			return fmt.Errorf("failed to check link endpoints: %w", err)
		}
		if n < int64(len(keys)) {
			return fmt.Errorf("link %d->%d: %w", source, target, ErrSpotNotFound)
		}
	}
	b.store.queueLink(ctx, b.pipe, source, target)
	return nil
}

func (b *redisBatch) Commit() error {
	if _, err := b.pipe.Exec(b.ctx); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("failed to commit timepoint: %w", err)
	}
	return nil
}

func (b *redisBatch) Rollback() error {
	b.pipe.Discard()
	return nil
}

func spotToHash(spot Spot) map[string]any {
	return map[string]any{
		"time":   spot.Time,
		"x":      formatFloat(spot.X),
		"y":      formatFloat(spot.Y),
		"z":      formatFloat(spot.Z),
		"radius": formatFloat(spot.Radius),
		"label":  spot.Label,
	}
}

func hashToSpot(id int64, hash map[string]string) (Spot, error) {
	spot := Spot{ID: id, Label: hash["label"]}
	var err error
	if spot.Time, err = strconv.Atoi(hash["time"]); err != nil {
		return Spot{}, fmt.Errorf("spot %d: bad time: %w", id, err)
	}
	for field, dst := range map[string]*float64{"x": &spot.X, "y": &spot.Y, "z": &spot.Z, "radius": &spot.Radius} {
		if *dst, err = strconv.ParseFloat(hash[field], 64); err != nil {
			return Spot{}, fmt.Errorf("spot %d: bad %s: %w", id, field, err)
		}
	}
	return spot, nil
}

func hashToRun(id string, hash map[string]string) (Run, error) {
	r := Run{ID: id, Params: hash["params"]}
	var err error
	if r.StartedAt, err = time.Parse(time.RFC3339Nano, hash["started_at"]); err != nil {
		return Run{}, fmt.Errorf("run %s: bad started_at: %w", id, err)
	}
	if r.Seed, err = strconv.ParseUint(hash["seed"], 10, 64); err != nil {
		return Run{}, fmt.Errorf("run %s: bad seed: %w", id, err)
	}
	if r.From, err = strconv.Atoi(hash["from"]); err != nil {
		return Run{}, fmt.Errorf("run %s: bad from: %w", id, err)
	}
	if r.To, err = strconv.Atoi(hash["to"]); err != nil {
		return Run{}, fmt.Errorf("run %s: bad to: %w", id, err)
	}
	return r, nil
}

// formatFloat keeps full precision so a round trip is exact.
func formatFloat(f float64) string {
	if math.IsInf(f, 0) || math.IsNaN(f) {
		return "0"
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}

func linkMember(source, target int64) string {
	return strconv.FormatInt(source, 10) + ":" + strconv.FormatInt(target, 10)
}

func parseLinkMember(m string) (Link, error) {
	src, tgt, ok := strings.Cut(m, ":")
	if !ok {
		return Link{}, fmt.Errorf("corrupt link member %q", m)
	}
	var l Link
	var err error
	if l.Source, err = strconv.ParseInt(src, 10, 64); err != nil {
		return Link{}, fmt.Errorf("corrupt link member %q: %w", m, err)
	}
	if l.Target, err = strconv.ParseInt(tgt, 10, 64); err != nil {
		return Link{}, fmt.Errorf("corrupt link member %q: %w", m, err)
	}
	return l, nil
}
