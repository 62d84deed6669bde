package heading

import (
	"log"
	"sync"
	"time"
)

// poller drives a read function on a ticker. It backs every source that has
// to pull values from a sensor bus.
type poller struct {
	name string
	read func() (Sample, error)

	mu       sync.Mutex
	interval time.Duration
	ticker   *time.Ticker
	stop     chan struct{}
}

func newPoller(name string, read func() (Sample, error)) *poller {
	return &poller{
		name:     name,
		read:     read,
		interval: DefaultIntervalMs * time.Millisecond,
	}
}

func (p *poller) start(intervalMs int, h Handler) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stop != nil {
		return
	}

	p.interval = time.Duration(ClampInterval(intervalMs)) * time.Millisecond
	p.ticker = time.NewTicker(p.interval)
	p.stop = make(chan struct{})

	go p.run(p.ticker, p.stop, h)
	log.Printf("%s: polling every %v", p.name, p.interval)
}

func (p *poller) run(ticker *time.Ticker, stop chan struct{}, h Handler) {
	failing := false
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		// stop wins over a tick that raced with it
		select {
		case <-stop:
			return
		default:
		}

		s, err := p.read()
		if err != nil {
			if !failing {
				log.Printf("%s: read error: %v", p.name, err)
				failing = true
			}
			continue
		}
		failing = false
		h(s)
	}
}

func (p *poller) halt() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stop == nil {
		return
	}
	p.ticker.Stop()
	close(p.stop)
	p.ticker = nil
	p.stop = nil
}

func (p *poller) setInterval(ms int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.interval = time.Duration(ClampInterval(ms)) * time.Millisecond
	if p.ticker != nil {
		p.ticker.Reset(p.interval)
	}
}

func (p *poller) running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stop != nil
}
