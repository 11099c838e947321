package session

import (
	"sync"
	"time"
)

type Screenshot struct {
	ID     string    `json:"id"`
	Taken  time.Time `json:"taken"`
	Width  int       `json:"width"`
	Height int       `json:"height"`
	PNG    []byte    `json:"-"`
}

// Gallery keeps screenshots newest first, dropping the oldest past capacity.
type Gallery struct {
	mu       sync.RWMutex
	capacity int
	shots    []Screenshot
}

func NewGallery(capacity int) *Gallery {
	if capacity <= 0 {
		capacity = 20
	}
	return &Gallery{capacity: capacity}
}

func (g *Gallery) Prepend(s Screenshot) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.shots = append([]Screenshot{s}, g.shots...)
	if len(g.shots) > g.capacity {
		g.shots = g.shots[:g.capacity]
	}
}

func (g *Gallery) List() []Screenshot {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return append([]Screenshot(nil), g.shots...)
}

func (g *Gallery) Get(id string) (Screenshot, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	for _, s := range g.shots {
		if s.ID == id {
			return s, true
		}
	}
	return Screenshot{}, false
}

func (g *Gallery) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.shots)
}
