package credex

import "github.com/kailas-cloud/credex/internal/domain"

func fromTransaction(tx domain.Transaction) Transaction {
	return Transaction{
		ID:               tx.ID,
		AgentID:          tx.AgentID,
		SessionID:        tx.SessionID,
		TaskID:           tx.TaskID,
		Kind:             TxKind(tx.Kind),
		EstimatedUnits:   tx.EstimatedUnits,
		ActualUnits:      tx.ActualUnits,
		ResultingBalance: tx.ResultingBalance,
		CreatedAt:        tx.CreatedAt,
	}
}

func fromBalanceStatus(st domain.BalanceStatus) BalanceStatus {
	return BalanceStatus{
		AgentID:    st.AgentID,
		Balance:    st.Balance,
		DailyLimit: st.DailyLimit,
		Used:       st.Used,
		UsageRatio: st.UsageRatio,
		Warning:    st.Warning,
		Exhausted:  st.Exhausted,
		Degraded:   st.Degraded,
		ResetsAt:   st.ResetsAt,
	}
}

func fromMessage(msg domain.Message) Message {
	return Message{
		ID:        msg.ID,
		From:      msg.From,
		To:        msg.To,
		Kind:      MessageKind(msg.Kind),
		Title:     msg.Title,
		Body:      msg.Body,
		Metadata:  msg.Metadata,
		CreatedAt: msg.CreatedAt,
	}
}

func toMessage(msg Message) domain.Message {
	return domain.Message{
		ID:        msg.ID,
		From:      msg.From,
		To:        msg.To,
		Kind:      domain.MessageKind(msg.Kind),
		Title:     msg.Title,
		Body:      msg.Body,
		Metadata:  msg.Metadata,
		CreatedAt: msg.CreatedAt,
	}
}

func fromManifest(snap domain.ManifestSnapshot) Manifest {
	agents := make(map[string]AgentStatus, len(snap.Agents))
	for id, st := range snap.Agents {
		agents[id] = AgentStatus{
			AgentID:       st.AgentID,
			LastCommitRef: st.LastCommitRef,
			DailyUsed:     st.DailyUsed,
			DailyLimit:    st.DailyLimit,
			LastHeartbeat: st.LastHeartbeat,
			Stale:         st.Stale,
		}
	}
	return Manifest{
		CoreVersion:   snap.CoreVersion,
		SchemaVersion: snap.SchemaVersion,
		LastResetDate: snap.LastResetDate,
		Agents:        agents,
	}
}
