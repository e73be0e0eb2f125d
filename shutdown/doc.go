// Package shutdown sequences the teardown of a tab.
//
// # Overview
//
// Closing a tab must happen in a fixed order: stop listening for input,
// cancel timers, tell the backend the user went offline, then release the
// shared store. The Coordinator runs registered handlers phase by phase.
// Lower phases run first and handlers of one phase run concurrently.
//
//	SIGTERM / SIGINT / page hide / Shutdown()
//	               │
//	               ▼
//	PhaseDetach ─> PhaseTimers ─> PhasePresence ─> PhaseRelease
//
// # Usage
//
//	coord := shutdown.NewCoordinator(shutdown.DefaultConfig())
//	coord.RegisterFuncWithPhase("activity", detach, shutdown.PhaseDetach)
//	coord.RegisterFuncWithPhase("presence", markOffline, shutdown.PhasePresence)
//	coord.RegisterFuncWithPhase("store", closeStore, shutdown.PhaseRelease)
//
//	stop := coord.HandleSignals(ctx)
//	defer stop()
//	<-coord.Done()
//
// Handlers receive a context bounded by the shutdown timeout and should
// return when it is done. A failed handler does not stop later phases
// unless ContinueOnError is false.
package shutdown
