// Package heartbeat reports the online presence of a standard user.
//
// # Overview
//
// While a tab holds a standard-user token on a non-public route, the
// Emitter posts a heartbeat immediately and then on a fixed interval. Every
// successful heartbeat pushes an offline deadline forward; when the deadline
// passes without a success the user is marked offline.
//
//	activate ──> beat ──(5s)──> beat ──(5s)──> beat ...
//	               │               │
//	               └─ deadline = success + 15s ──> mark offline
//
// # Visibility and teardown
//
// Hiding the tab marks the user offline immediately when the last success
// is older than the offline window. Showing it sends a heartbeat at once.
// Page teardown always attempts a mark offline on a context that survives
// cancellation of the emitter.
//
// An offline mark is sent at most once between two successful heartbeats,
// whichever trigger fires first. Teardown is not limited.
//
// # Usage
//
//	em, _ := heartbeat.New(heartbeat.Config{
//	    Client: apiClient,
//	    Store:  tabStore,
//	    Route:  pg.Route,
//	})
//	em.Start(ctx)
//	pg.OnVisibilityChange(em.HandleVisibility)
//	pg.OnPageHide(em.HandlePageHide)
//
// Failed heartbeats are logged and never stop the interval.
package heartbeat
