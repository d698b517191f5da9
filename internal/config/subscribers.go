package config

import (
	"slices"
	"sync"

	logx "motorsched/pkg/logx"
)

// subscribers fans reloads out to channels. mu is held while sending so
// remove never closes a channel mid-send.
type subscribers struct {
	mu  sync.Mutex
	chs []chan *Config
	log logx.Logger
}

func (s *subscribers) add(buffer int) chan *Config {
	ch := make(chan *Config, max(buffer, 1))
	s.mu.Lock()
	s.chs = append(s.chs, ch)
	s.mu.Unlock()
	return ch
}

func (s *subscribers) remove(ch chan *Config) {
	if ch == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if i := slices.Index(s.chs, ch); i >= 0 {
		s.chs = slices.Delete(s.chs, i, i+1)
		close(ch)
	}
}

// broadcast never blocks: a full channel has its stale entry replaced.
func (s *subscribers) broadcast(cfg *Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.chs {
		select {
		case ch <- cfg:
			continue
		default:
		}
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- cfg:
		default:
			s.log.Debug("config update dropped", logx.Int("queue_cap", cap(ch)))
		}
	}
}
