// Package backplane implements core.Backplane over an in-process bus, Redis
// pub/sub and NATS.
package backplane

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/ltchat/internal/core"
	"github.com/vovakirdan/ltchat/internal/proto"
)

const subscriptionBuffer = 256

// pump decodes raw payloads from a broker into core events.
type pump struct {
	events chan core.Event
	done   chan struct{}
	wg     sync.WaitGroup
	once   sync.Once
	err    error
	stop   func() error
}

func newPump(stop func() error) *pump {
	return &pump{
		events: make(chan core.Event, subscriptionBuffer),
		done:   make(chan struct{}),
		stop:   stop,
	}
}

// run forwards decoded payloads until src is closed or the pump is stopped.
func (p *pump) run(src <-chan []byte, log zerolog.Logger) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer close(p.events)
		for {
			select {
			case <-p.done:
				return
			case data, ok := <-src:
				if !ok {
					return
				}
				ev, err := proto.UnmarshalEvent(data)
				if err != nil {
					log.Warn().Err(err).Msg("dropping undecodable backplane payload")
					continue
				}
				select {
				case p.events <- ev:
				case <-p.done:
					return
				}
			}
		}
	}()
}

func (p *pump) Events() <-chan core.Event {
	return p.events
}

func (p *pump) Close() error {
	p.once.Do(func() {
		close(p.done)
		if p.stop != nil {
			p.err = p.stop()
		}
		p.wg.Wait()
	})
	return p.err
}
