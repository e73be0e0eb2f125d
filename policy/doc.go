// Package policy tracks the server-configured inactivity timeout.
//
// A Source holds the latest accepted Timeout, starting from a default. It
// refreshes on a soft two-minute poll and whenever the tab's bus announces
// a policy update. A fetched value is accepted only when it lies within
// [MinMinutes, MaxMinutes] and differs from the held value; every failure
// keeps the held value.
//
// # Usage
//
//	src, _ := policy.New(policy.Config{
//	    Fetcher: client,
//	    Store:   tabStore,
//	    Role:    func() session.Role { return session.ResolveRole(tabStore, routes, pg.Route()) },
//	    Bus:     tabBus,
//	})
//	src.OnChange(func(old, new policy.Timeout) { monitor.HandlePolicyChange(new) })
//	src.Start(ctx)
//	defer src.Stop()
package policy
