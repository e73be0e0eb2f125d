package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/vinayprograms/sessionkit/tab"
)

// runCommands applies stdin commands to tb until quit, end of input,
// teardown, or ctx is done.
func runCommands(ctx context.Context, tb *tab.Tab, in io.Reader, out io.Writer) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			case <-tb.Shutdown().Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-tb.Shutdown().Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			quit, err := apply(tb, line, out)
			if err != nil {
				fmt.Fprintf(out, "error: %v\n", err)
			}
			if quit {
				return nil
			}
		}
	}
}

// apply executes one command line.
func apply(tb *tab.Tab, line string, out io.Writer) (quit bool, err error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false, nil
	}

	switch fields[0] {
	case "activity":
		kind := ""
		if len(fields) > 1 {
			kind = fields[1]
		}
		tb.Activity(kind)
	case "hide":
		tb.Page().SetHidden(true)
	case "show":
		tb.Page().SetHidden(false)
	case "navigate":
		if len(fields) < 2 {
			return false, fmt.Errorf("navigate needs a route")
		}
		tb.Page().Navigate(fields[1])
	case "settings-updated":
		return false, tb.AnnounceSettings()
	case "policy-updated":
		return false, tb.PublishPolicyUpdated()
	case "status":
		printStatus(out, tb.Status())
	case "quit", "exit":
		return true, nil
	default:
		return false, fmt.Errorf("unknown command %q", fields[0])
	}
	return false, nil
}

func printStatus(out io.Writer, st tab.Status) {
	deadline := "-"
	if !st.Monitor.Deadline.IsZero() {
		deadline = st.Monitor.Deadline.Format(time.RFC3339)
	}
	lastSuccess := "-"
	if !st.Presence.LastSuccessAt.IsZero() {
		lastSuccess = st.Presence.LastSuccessAt.Format(time.RFC3339)
	}
	fmt.Fprintf(out, "tab=%s route=%s hidden=%t role=%s policy=%dm\n",
		st.ID, st.Route, st.Hidden, st.Role, st.Policy.Minutes)
	fmt.Fprintf(out, "inactivity=%s deadline=%s\n", st.Monitor.State, deadline)
	fmt.Fprintf(out, "presence=%t last_success=%s offline_sent=%t\n",
		st.Presence.Active, lastSuccess, st.Presence.OfflineSent)
}
