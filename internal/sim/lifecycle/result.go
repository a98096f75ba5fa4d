package lifecycle

import (
	"fmt"
	"strings"

	"territorybeacons.dev/internal/sim/events"
	"territorybeacons.dev/internal/sim/territory"
)

// Result is the outcome of a player action. A rejection is a normal value
// carrying a reason code from the protocol package, never an error. Detail
// holds key=value diagnostics for logs; wording shown to players is built
// from Code by the host.
type Result struct {
	OK        bool
	Code      string
	Detail    string
	Changed   bool
	Territory *territory.Territory
}

func accepted(t *territory.Territory) Result {
	return Result{OK: true, Changed: true, Territory: t}
}

func unchanged(t *territory.Territory) Result {
	return Result{OK: true, Territory: t}
}

// detail renders alternating keys and values as "k=v k=v".
func detail(kv ...any) string {
	var b strings.Builder
	for i := 0; i+1 < len(kv); i += 2 {
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		fmt.Fprintf(&b, "%v=%v", kv[i], kv[i+1])
	}
	return b.String()
}

// reject builds a rejection and reports it to the actor through the sink.
// kv are detail pairs.
func (e *Engine) reject(actor territory.PlayerID, at *territory.Location, code string, kv ...any) Result {
	ev := events.Event{Kind: events.ActionRejected, Actor: actor, Code: code}
	if at != nil {
		c := *at
		ev.Center = &c
	}
	e.notify(ev)
	return Result{OK: false, Code: code, Detail: detail(kv...)}
}

// Decision answers a protection query.
type Decision struct {
	Allowed   bool
	Code      string
	Territory *territory.Territory
}

func allow(t *territory.Territory) Decision { return Decision{Allowed: true, Territory: t} }

func deny(code string, t *territory.Territory) Decision {
	return Decision{Allowed: false, Code: code, Territory: t}
}
