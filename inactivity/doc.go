// Package inactivity implements the per-tab inactivity timeout monitor.
//
// A Monitor is a state machine with a single countdown:
//
//	Idle ──pulse──▶ Armed ──deadline──▶ Expiring ──logout done──▶ Idle
//	                  │ ▲
//	                  │ └── pulse (coalesced within 2s) / policy change
//	                  └──token removed elsewhere──▶ Disarmed ──▶ Idle
//
// Only admin sessions are tracked unless TrackStandard is set. The deadline
// is the time of the latest rearming pulse plus the policy timeout; a policy
// change rearms from the moment it is applied. Navigation is not activity:
// a route change keeps the existing deadline, or disarms when the new route
// is no longer tracked.
//
// On expiry an admin session loses its admin keys, the user is warned, and
// the tab navigates to the admin login route. A standard session records
// the logout with the backend on a best-effort basis, loses its user keys,
// and navigates to the landing route.
package inactivity
