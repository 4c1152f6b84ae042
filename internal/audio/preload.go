package audio

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/austinkregel/local-media/streamd/internal/logger"
)

// DefaultPreloadLimit is the number of handles kept warm
const DefaultPreloadLimit = 2

// Preloader keeps a few loaded but silent handles so the next track starts fast.
// The oldest entry is evicted when the limit is reached.
type Preloader struct {
	device Device
	limit  int
	log    *zap.Logger

	mu      sync.Mutex
	entries []Handle
}

// NewPreloader creates a preloader over device
func NewPreloader(device Device, limit int, log *zap.Logger) *Preloader {
	if limit <= 0 {
		limit = DefaultPreloadLimit
	}
	return &Preloader{device: device, limit: limit, log: logger.OrNop(log)}
}

// Preload opens and loads url unless it is already preloaded
func (p *Preloader) Preload(ctx context.Context, url string) error {
	p.mu.Lock()
	for _, h := range p.entries {
		if h.URL() == url {
			p.mu.Unlock()
			return nil
		}
	}

	h, err := p.device.Open(url)
	if err != nil {
		p.mu.Unlock()
		return err
	}

	var evicted Handle
	if len(p.entries) >= p.limit {
		evicted = p.entries[0]
		p.entries = p.entries[1:]
	}
	p.entries = append(p.entries, h)
	p.mu.Unlock()

	if evicted != nil {
		p.log.Debug("evicting preloaded stream", zap.String("url", evicted.URL()))
		_ = evicted.Stop()
		evicted.Unload()
	}

	if err := h.Load(ctx); err != nil {
		p.log.Debug("preload failed", zap.String("url", url), zap.Error(err))
		p.remove(h)
		h.Unload()
		return err
	}
	return nil
}

func (p *Preloader) remove(target Handle) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, h := range p.entries {
		if h == target {
			p.entries = append(p.entries[:i], p.entries[i+1:]...)
			return true
		}
	}
	return false
}

// Take removes and returns a loaded handle for url, or nil
func (p *Preloader) Take(url string) Handle {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, h := range p.entries {
		if h.URL() == url && h.Loaded() {
			p.entries = append(p.entries[:i], p.entries[i+1:]...)
			return h
		}
	}
	return nil
}

// URLs returns the preloaded URLs, oldest first
func (p *Preloader) URLs() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.entries))
	for i, h := range p.entries {
		out[i] = h.URL()
	}
	return out
}

// Clear unloads every preloaded handle
func (p *Preloader) Clear() {
	p.mu.Lock()
	entries := p.entries
	p.entries = nil
	p.mu.Unlock()
	for _, h := range entries {
		h.Unload()
	}
}
