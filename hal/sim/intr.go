package sim

import (
	"runtime"
	"sync"
	"sync/atomic"

	"rmt-go/hal"
)

// intrController serialises one group's interrupt line. Engines post an event
// and block until the handler has run, the same way hardware holds the FIFO
// pointer while the ISR refills memory.
type intrController struct {
	group    int
	priority int
	handler  hal.Handler

	reqs chan intrReq
	quit chan struct{}
	done chan struct{}
	once sync.Once

	yields uint32
}

type intrReq struct {
	ev   hal.Event
	done chan struct{}
}

func newIntrController(group, priority int, h hal.Handler) *intrController {
	c := &intrController{
		group:    group,
		priority: priority,
		handler:  h,
		reqs:     make(chan intrReq),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go c.loop()
	return c
}

func (c *intrController) loop() {
	defer close(c.done)
	for {
		select {
		case <-c.quit:
			return
		case r := <-c.reqs:
			if c.handler(r.ev) == hal.IntrYield {
				atomic.AddUint32(&c.yields, 1)
				runtime.Gosched()
			}
			close(r.done)
		}
	}
}

// raise delivers ev and waits for the handler. It reports false when the
// line has been freed.
func (c *intrController) raise(ev hal.Event) bool {
	r := intrReq{ev: ev, done: make(chan struct{})}
	select {
	case c.reqs <- r:
	case <-c.quit:
		return false
	}
	<-r.done
	return true
}

func (c *intrController) Priority() int { return c.priority }

func (c *intrController) Free() {
	c.once.Do(func() { close(c.quit) })
	<-c.done
}

func (c *intrController) Yields() uint32 { return atomic.LoadUint32(&c.yields) }
