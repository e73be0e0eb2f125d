// Package page models the document of a single tab: input event dispatch,
// the current route, visibility, teardown, and user notifications.
//
// Dispatch is synchronous: listeners run on the dispatching goroutine in
// registration order, capturing listeners first.
package page

import (
	"slices"
	"sync"
)

// Input event types.
const (
	EventPointerDown = "pointerdown"
	EventKeyDown     = "keydown"
	EventKeyPress    = "keypress"
	EventTouchStart  = "touchstart"
	EventClick       = "click"
	EventFocus       = "focus"
	EventPointerMove = "pointermove"
	EventScroll      = "scroll"
	EventWheel       = "wheel"
)

// Event is an input event dispatched on the document.
type Event struct {
	Type string
}

// ListenerOptions mirror addEventListener options.
type ListenerOptions struct {
	Capture bool
	Passive bool
}

// Listener handles a dispatched event.
type Listener func(Event)

// Navigator changes the current route.
type Navigator interface {
	Navigate(route string)
}

// Notifier shows a message to the user.
type Notifier interface {
	Warn(message string)
}

// Notice is a message shown to the user.
type Notice struct {
	Level   string
	Message string
}

type registration struct {
	fn   Listener
	opts ListenerOptions
}

// Page is the document of one tab.
type Page struct {
	mu        sync.Mutex
	listeners map[string][]*registration
	route     string
	hidden    bool
	unloaded  bool
	notices   []Notice

	onRoute      hooks[string]
	onVisibility hooks[bool]
	onHide       hooks[struct{}]
	onNotice     hooks[Notice]
}

// New creates a visible page at route.
func New(route string) *Page {
	return &Page{
		listeners: make(map[string][]*registration),
		route:     route,
	}
}

// AddEventListener registers fn for events of type typ and returns a
// function that removes it.
func (p *Page) AddEventListener(typ string, fn Listener, opts ListenerOptions) (remove func()) {
	reg := &registration{fn: fn, opts: opts}

	p.mu.Lock()
	p.listeners[typ] = append(p.listeners[typ], reg)
	p.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			p.mu.Lock()
			defer p.mu.Unlock()
			regs := p.listeners[typ]
			for i, r := range regs {
				if r == reg {
					p.listeners[typ] = append(regs[:i:i], regs[i+1:]...)
					break
				}
			}
		})
	}
}

// ListenerCount returns the number of listeners registered for typ.
func (p *Page) ListenerCount(typ string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.listeners[typ])
}

// Dispatch delivers ev to its listeners.
func (p *Page) Dispatch(ev Event) {
	p.mu.Lock()
	regs := p.listeners[ev.Type]
	capture := make([]Listener, 0, len(regs))
	bubble := make([]Listener, 0, len(regs))
	for _, r := range regs {
		if r.opts.Capture {
			capture = append(capture, r.fn)
		} else {
			bubble = append(bubble, r.fn)
		}
	}
	p.mu.Unlock()

	for _, fn := range capture {
		fn(ev)
	}
	for _, fn := range bubble {
		fn(ev)
	}
}

// Route returns the current route.
func (p *Page) Route() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.route
}

// Navigate moves the page to route and notifies route listeners.
func (p *Page) Navigate(route string) {
	p.mu.Lock()
	p.route = route
	p.mu.Unlock()
	p.onRoute.fire(route)
}

// OnRouteChange registers fn to run after every navigation.
func (p *Page) OnRouteChange(fn func(route string)) (remove func()) {
	return p.onRoute.add(fn)
}

// Hidden reports whether the page is hidden.
func (p *Page) Hidden() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.hidden
}

// SetHidden changes visibility. Listeners run only on an actual change.
func (p *Page) SetHidden(hidden bool) {
	p.mu.Lock()
	changed := p.hidden != hidden
	p.hidden = hidden
	p.mu.Unlock()
	if changed {
		p.onVisibility.fire(hidden)
	}
}

// OnVisibilityChange registers fn to run when visibility changes.
func (p *Page) OnVisibilityChange(fn func(hidden bool)) (remove func()) {
	return p.onVisibility.add(fn)
}

// OnPageHide registers fn to run when the page is torn down.
func (p *Page) OnPageHide(fn func()) (remove func()) {
	return p.onHide.add(func(struct{}) { fn() })
}

// Unload tears the page down. Page-hide listeners run once.
func (p *Page) Unload() {
	p.mu.Lock()
	already := p.unloaded
	p.unloaded = true
	p.mu.Unlock()
	if !already {
		p.onHide.fire(struct{}{})
	}
}

// Warn shows a warning notification.
func (p *Page) Warn(message string) {
	n := Notice{Level: "warning", Message: message}
	p.mu.Lock()
	p.notices = append(p.notices, n)
	p.mu.Unlock()
	p.onNotice.fire(n)
}

// Notices returns every notification shown so far.
func (p *Page) Notices() []Notice {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Notice(nil), p.notices...)
}

// OnNotice registers fn to run for every notification.
func (p *Page) OnNotice(fn func(Notice)) (remove func()) {
	return p.onNotice.add(fn)
}

// hooks is an ordered set of callbacks.
type hooks[T any] struct {
	mu  sync.Mutex
	seq int
	fns map[int]func(T)
}

func (h *hooks[T]) add(fn func(T)) func() {
	h.mu.Lock()
	if h.fns == nil {
		h.fns = make(map[int]func(T))
	}
	h.seq++
	id := h.seq
	h.fns[id] = fn
	h.mu.Unlock()

	return func() {
		h.mu.Lock()
		delete(h.fns, id)
		h.mu.Unlock()
	}
}

func (h *hooks[T]) fire(v T) {
	h.mu.Lock()
	ids := make([]int, 0, len(h.fns))
	for id := range h.fns {
		ids = append(ids, id)
	}
	fns := make([]func(T), 0, len(ids))
	slices.Sort(ids)
	for _, id := range ids {
		fns = append(fns, h.fns[id])
	}
	h.mu.Unlock()

	for _, fn := range fns {
		fn(v)
	}
}
