package ledger

import (
	"strconv"
	"time"

	"github.com/kailas-cloud/credex/internal/domain"
)

// parseTransaction converts stream entry fields into a domain transaction.
// Malformed numeric fields degrade to zero values rather than failing the
// whole history read.
func parseTransaction(fields map[string]string) domain.Transaction {
	tx := domain.Transaction{
		AgentID:   fields["agent"],
		SessionID: fields["session"],
		TaskID:    fields["task"],
		Kind:      domain.TxKind(fields["kind"]),
	}
	tx.ID, _ = strconv.ParseInt(fields["id"], 10, 64)
	tx.EstimatedUnits, _ = strconv.ParseInt(fields["estimated"], 10, 64)
	tx.ActualUnits, _ = strconv.ParseInt(fields["actual"], 10, 64)
	tx.ResultingBalance, _ = strconv.ParseInt(fields["balance"], 10, 64)
	if ms, err := strconv.ParseInt(fields["created_ms"], 10, 64); err == nil {
		tx.CreatedAt = time.UnixMilli(ms).UTC()
	}
	return tx
}

func parseReservation(agent, task string, fields map[string]string) domain.Reservation {
	resv := domain.Reservation{
		AgentID:   agent,
		SessionID: fields["session"],
		TaskID:    task,
		Settled:   fields["settled"] == "1",
	}
	resv.EstimatedUnits, _ = strconv.ParseInt(fields["estimated"], 10, 64)
	if ms, err := strconv.ParseInt(fields["created_ms"], 10, 64); err == nil {
		resv.CreatedAt = time.UnixMilli(ms).UTC()
	}
	return resv
}
