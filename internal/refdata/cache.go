// Package refdata caches the centers and rooms lookup tables for the
// lifetime of a backend session.
package refdata

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/wolfman30/or-scheduler/internal/booking"
	"github.com/wolfman30/or-scheduler/internal/scheduling"
	"github.com/wolfman30/or-scheduler/pkg/logging"
)

// Source is the slice of the backend the cache reads from.
type Source interface {
	booking.ReferenceSource
	CalendarRooms(ctx context.Context) ([]scheduling.Room, error)
}

type tables struct {
	centers []scheduling.Center
	rooms   []scheduling.Room
}

// Cache loads centers and rooms once and serves copies afterwards.
// Concurrent first calls share a single load.
type Cache struct {
	src    Source
	logger *logging.Logger
	group  singleflight.Group

	mu            sync.RWMutex
	gen           uint64
	base          *tables
	roomsByCenter map[int64][]scheduling.Room
}

func New(src Source, logger *logging.Logger) *Cache {
	if logger == nil {
		logger = logging.Default()
	}
	return &Cache{
		src:           src,
		logger:        logger.Component("refdata"),
		roomsByCenter: make(map[int64][]scheduling.Room),
	}
}

// Centers returns every surgical center.
func (c *Cache) Centers(ctx context.Context) ([]scheduling.Center, error) {
	t, err := c.load(ctx)
	if err != nil {
		return nil, err
	}
	return append([]scheduling.Center(nil), t.centers...), nil
}

// CalendarRooms returns every room known to the booking backend.
func (c *Cache) CalendarRooms(ctx context.Context) ([]scheduling.Room, error) {
	t, err := c.load(ctx)
	if err != nil {
		return nil, err
	}
	return append([]scheduling.Room(nil), t.rooms...), nil
}

// Rooms returns the rooms the scheduler offers for centerID. Zero returns
// every room.
func (c *Cache) Rooms(ctx context.Context, centerID int64) ([]scheduling.Room, error) {
	if centerID == 0 {
		return c.CalendarRooms(ctx)
	}

	c.mu.RLock()
	rooms, ok := c.roomsByCenter[centerID]
	gen := c.gen
	c.mu.RUnlock()
	if ok {
		return append([]scheduling.Room(nil), rooms...), nil
	}

	key := "rooms:" + strconv.FormatInt(centerID, 10)
	v, err := c.do(ctx, key, func(ctx context.Context) (any, error) {
		rooms, err := c.src.Rooms(ctx, centerID)
		if err != nil {
			return nil, fmt.Errorf("refdata: rooms for center %d: %w", centerID, err)
		}
		c.mu.Lock()
		if c.gen == gen {
			c.roomsByCenter[centerID] = rooms
		}
		c.mu.Unlock()
		return rooms, nil
	})
	if err != nil {
		return nil, err
	}
	return append([]scheduling.Room(nil), v.([]scheduling.Room)...), nil
}

// Center looks up one center by its numeric id.
func (c *Cache) Center(ctx context.Context, id int64) (scheduling.Center, bool, error) {
	t, err := c.load(ctx)
	if err != nil {
		return scheduling.Center{}, false, err
	}
	for _, center := range t.centers {
		if center.ID == id {
			return center, true, nil
		}
	}
	return scheduling.Center{}, false, nil
}

// Invalidate drops the cached tables; the next call reloads them. Loads in
// flight when Invalidate runs do not repopulate the cache.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	c.gen++
	c.base = nil
	c.roomsByCenter = make(map[int64][]scheduling.Room)
	c.mu.Unlock()
	c.group.Forget("base")
	c.logger.Debug("reference data invalidated")
}

func (c *Cache) load(ctx context.Context) (*tables, error) {
	c.mu.RLock()
	t := c.base
	gen := c.gen
	c.mu.RUnlock()
	if t != nil {
		return t, nil
	}

	v, err := c.do(ctx, "base", func(ctx context.Context) (any, error) {
		t, err := c.fetch(ctx)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		if c.gen == gen {
			c.base = t
		}
		c.mu.Unlock()
		return t, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*tables), nil
}

func (c *Cache) fetch(ctx context.Context) (*tables, error) {
	var t tables
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		centers, err := c.src.Centers(gctx)
		if err != nil {
			return fmt.Errorf("refdata: centers: %w", err)
		}
		t.centers = centers
		return nil
	})
	g.Go(func() error {
		rooms, err := c.src.CalendarRooms(gctx)
		if err != nil {
			return fmt.Errorf("refdata: rooms: %w", err)
		}
		t.rooms = rooms
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	// Rooms may have been numbered before their center was registered.
	byExt := make(map[string]int64, len(t.centers))
	for _, center := range t.centers {
		if center.ExternalID != "" {
			byExt[center.ExternalID] = center.ID
		}
	}
	for i := range t.rooms {
		if t.rooms[i].CenterID == 0 {
			t.rooms[i].CenterID = byExt[t.rooms[i].CenterExternalID]
		}
	}

	c.logger.Info("reference data loaded", "centers", len(t.centers), "rooms", len(t.rooms))
	return &t, nil
}

// do runs fn once per key across concurrent callers. The shared load is
// detached from any single caller's cancellation; each caller still stops
// waiting when its own context ends.
func (c *Cache) do(ctx context.Context, key string, fn func(context.Context) (any, error)) (any, error) {
	ch := c.group.DoChan(key, func() (any, error) {
		return fn(context.WithoutCancel(ctx))
	})
	select {
	case res := <-ch:
		return res.Val, res.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
