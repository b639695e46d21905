package domain

import "time"

// AgentStatus is one agent's field subset in the coordination manifest.
// Each agent writes only its own subset and reads the others'.
type AgentStatus struct {
	AgentID       string
	LastCommitRef string
	DailyUsed     int64
	DailyLimit    int64
	LastHeartbeat time.Time
	Stale         bool // heartbeat older than the staleness threshold
}

// ManifestSnapshot is the full shared manifest as read by any agent. The
// manifest mirrors ledger state for coordination; authority stays with the
// ledger.
type ManifestSnapshot struct {
	CoreVersion   string
	SchemaVersion string
	LastResetDate string
	Agents        map[string]AgentStatus
}

// Peer returns the status of any agent other than self, or false when the
// snapshot holds no peer entry.
func (s ManifestSnapshot) Peer(self string) (AgentStatus, bool) {
	for id, st := range s.Agents {
		if id != self {
			return st, true
		}
	}
	return AgentStatus{}, false
}
