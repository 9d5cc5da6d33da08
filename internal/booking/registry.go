package booking

import "sync"

const (
	centerIDBase int64 = 100
	roomIDBase   int64 = 1000
)

// IDRegistry maps the booking backend's string ids for centers and rooms to
// the numeric ids the scheduling side works with. Numbers are assigned in
// first-seen order (centers from 100, rooms from 1000) and never change for
// the lifetime of the registry. One registry belongs to one backend session
// and is passed to whoever needs it.
type IDRegistry struct {
	mu         sync.RWMutex
	centers    map[string]int64
	centerExt  map[int64]string
	rooms      map[string]int64
	roomExt    map[int64]string
	roomCenter map[int64]int64
}

func NewIDRegistry() *IDRegistry {
	return &IDRegistry{
		centers:    make(map[string]int64),
		centerExt:  make(map[int64]string),
		rooms:      make(map[string]int64),
		roomExt:    make(map[int64]string),
		roomCenter: make(map[int64]int64),
	}
}

// SeedCenters assigns numbers to unseen center ids and returns the number of
// every id passed, in order.
func (r *IDRegistry) SeedCenters(externalIDs ...string) []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]int64, 0, len(externalIDs))
	for _, ext := range externalIDs {
		num, ok := r.centers[ext]
		if !ok {
			num = centerIDBase + int64(len(r.centers))
			r.centers[ext] = num
			r.centerExt[num] = ext
		}
		out = append(out, num)
	}
	return out
}

// SeedRoom assigns a number to the room if unseen and links it to its
// center when the center is known.
func (r *IDRegistry) SeedRoom(externalID, centerExternalID string) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	num, ok := r.rooms[externalID]
	if !ok {
		num = roomIDBase + int64(len(r.rooms))
		r.rooms[externalID] = num
		r.roomExt[num] = externalID
	}
	if c, ok := r.centers[centerExternalID]; ok {
		r.roomCenter[num] = c
	}
	return num
}

func (r *IDRegistry) CenterNum(externalID string) (int64, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	num, ok := r.centers[externalID]
	return num, ok
}

func (r *IDRegistry) CenterExt(num int64) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ext, ok := r.centerExt[num]
	return ext, ok
}

func (r *IDRegistry) RoomNum(externalID string) (int64, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	num, ok := r.rooms[externalID]
	return num, ok
}

func (r *IDRegistry) RoomExt(num int64) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ext, ok := r.roomExt[num]
	return ext, ok
}

// RoomCenter returns the numeric center a numeric room belongs to.
func (r *IDRegistry) RoomCenter(num int64) (int64, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.roomCenter[num]
	return c, ok
}

// Seeded reports whether any center has been registered.
func (r *IDRegistry) Seeded() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.centers) > 0
}
