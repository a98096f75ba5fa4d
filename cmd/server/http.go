package main

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"territorybeacons.dev/internal/sim/lifecycle"
	"territorybeacons.dev/internal/transport/ws"
)

func metricsHandler(eng *lifecycle.Engine, hub *ws.Hub) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "text/plain; version=0.0.4")

		// Minimal Prometheus exposition format.
		fmt.Fprintf(rw, "# HELP territorybeacons_territories Live territories.\n")
		fmt.Fprintf(rw, "# TYPE territorybeacons_territories gauge\n")
		fmt.Fprintf(rw, "territorybeacons_territories %d\n", eng.Registry().Len())

		fmt.Fprintf(rw, "# HELP territorybeacons_online_players Players currently online.\n")
		fmt.Fprintf(rw, "# TYPE territorybeacons_online_players gauge\n")
		fmt.Fprintf(rw, "territorybeacons_online_players %d\n", eng.Presence().OnlineCount())

		fmt.Fprintf(rw, "# HELP territorybeacons_hosts Connected game hosts.\n")
		fmt.Fprintf(rw, "# TYPE territorybeacons_hosts gauge\n")
		fmt.Fprintf(rw, "territorybeacons_hosts %d\n", hub.HostCount())

		fmt.Fprintf(rw, "# HELP territorybeacons_pending_deletes Store deletes waiting for retry.\n")
		fmt.Fprintf(rw, "# TYPE territorybeacons_pending_deletes gauge\n")
		fmt.Fprintf(rw, "territorybeacons_pending_deletes %d\n", eng.PendingDeletes())

		fmt.Fprintf(rw, "# HELP territorybeacons_events_dropped_total Events not delivered to a full host queue.\n")
		fmt.Fprintf(rw, "# TYPE territorybeacons_events_dropped_total counter\n")
		fmt.Fprintf(rw, "territorybeacons_events_dropped_total %d\n", hub.Dropped())
	}
}

// territoriesHandler lists territories, optionally filtered by ?owner=<uuid>
// or ?owner_name=<name>. Loopback only.
func territoriesHandler(eng *lifecycle.Engine) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		if r.Method != http.MethodGet {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		ts := eng.Registry().All()
		q := r.URL.Query()
		if name := strings.TrimSpace(q.Get("owner_name")); name != "" {
			ts = eng.List(uuid.Nil, name)
		} else if raw := strings.TrimSpace(q.Get("owner")); raw != "" {
			id, err := uuid.Parse(raw)
			if err != nil {
				http.Error(rw, "bad owner", http.StatusBadRequest)
				return
			}
			ts = eng.List(id, "")
		}
		views := make([]ws.TerritoryView, 0, len(ts))
		for _, t := range ts {
			views = append(views, ws.ViewOf(t))
		}
		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(map[string]any{"territories": views})
	}
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
