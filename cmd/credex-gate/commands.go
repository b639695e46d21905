package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	credex "github.com/kailas-cloud/credex"
)

func newGateCmd(opts *gateOptions) *cobra.Command {
	var (
		agent    string
		session  string
		task     string
		estimate int64
	)

	cmd := &cobra.Command{
		Use:   "gate",
		Short: "Reserve budget for an action (exit 2 when denied)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := connect(opts)
			if err != nil {
				return err
			}
			defer client.Close()

			tx, err := client.Reserve(cmd.Context(), agent, session, task, estimate)
			if err != nil {
				return err
			}
			return writeTransaction(cmd, opts, tx)
		},
	}

	cmd.Flags().StringVar(&agent, "agent", "", "agent id (required)")
	cmd.Flags().StringVar(&session, "session", "", "session id")
	cmd.Flags().StringVar(&task, "task", "", "task id (required)")
	cmd.Flags().Int64Var(&estimate, "estimate", 0, "estimated cost in units (required)")
	_ = cmd.MarkFlagRequired("agent")
	_ = cmd.MarkFlagRequired("task")
	_ = cmd.MarkFlagRequired("estimate")

	return cmd
}

func newSettleCmd(opts *gateOptions) *cobra.Command {
	var (
		agent  string
		task   string
		actual int64
	)

	cmd := &cobra.Command{
		Use:   "settle",
		Short: "Settle a reservation to its actual cost",
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := connect(opts)
			if err != nil {
				return err
			}
			defer client.Close()

			tx, err := client.Settle(cmd.Context(), agent, task, actual)
			if err != nil {
				return err
			}
			return writeTransaction(cmd, opts, tx)
		},
	}

	cmd.Flags().StringVar(&agent, "agent", "", "agent id (required)")
	cmd.Flags().StringVar(&task, "task", "", "task id (required)")
	cmd.Flags().Int64Var(&actual, "actual", 0, "actual cost in units")
	_ = cmd.MarkFlagRequired("agent")
	_ = cmd.MarkFlagRequired("task")

	return cmd
}

func newStatusCmd(opts *gateOptions) *cobra.Command {
	var agent string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show an agent's budget position",
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := connect(opts)
			if err != nil {
				return err
			}
			defer client.Close()

			st, err := client.Status(cmd.Context(), agent)
			if err != nil {
				return err
			}
			if opts.asJSON {
				return writeJSON(cmd, st)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "agent:       %s\n", st.AgentID)
			fmt.Fprintf(out, "balance:     %d / %d units\n", st.Balance, st.DailyLimit)
			fmt.Fprintf(out, "used:        %d (%.0f%%)\n", st.Used, st.UsageRatio*100)
			fmt.Fprintf(out, "resets at:   %s\n", st.ResetsAt.Format(time.RFC3339))
			if st.Warning {
				fmt.Fprintln(out, "warning:     usage above threshold")
			}
			if st.Exhausted {
				fmt.Fprintln(out, "exhausted:   balance is zero")
			}
			if st.Degraded {
				fmt.Fprintln(out, "degraded:    cached value, storage unreachable")
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&agent, "agent", "", "agent id (required)")
	_ = cmd.MarkFlagRequired("agent")

	return cmd
}

func newResetCmd(opts *gateOptions) *cobra.Command {
	var agent string

	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Stamp an agent's daily allowance grant",
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := connect(opts)
			if err != nil {
				return err
			}
			defer client.Close()

			tx, reset, err := client.Reset(cmd.Context(), agent)
			if err != nil {
				return err
			}
			if !reset {
				fmt.Fprintln(cmd.OutOrStdout(), "already reset today")
				return nil
			}
			return writeTransaction(cmd, opts, tx)
		},
	}

	cmd.Flags().StringVar(&agent, "agent", "", "agent id (required)")
	_ = cmd.MarkFlagRequired("agent")

	return cmd
}

func newManifestCmd(opts *gateOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "manifest",
		Short: "Show the shared coordination manifest",
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := connect(opts)
			if err != nil {
				return err
			}
			defer client.Close()

			manifest, err := client.Manifest(cmd.Context())
			if err != nil {
				return err
			}
			if opts.asJSON {
				return writeJSON(cmd, manifest)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "core version:   %s\n", manifest.CoreVersion)
			fmt.Fprintf(out, "schema version: %s\n", manifest.SchemaVersion)
			fmt.Fprintf(out, "last reset:     %s\n", manifest.LastResetDate)
			for id, st := range manifest.Agents {
				fmt.Fprintf(out, "agent %s: used %d/%d, commit %s, heartbeat %s",
					id, st.DailyUsed, st.DailyLimit, st.LastCommitRef,
					st.LastHeartbeat.Format(time.RFC3339))
				if st.Stale {
					fmt.Fprint(out, " (stale)")
				}
				fmt.Fprintln(out)
			}
			return nil
		},
	}
}

func newSendCmd(opts *gateOptions) *cobra.Command {
	var (
		from  string
		to    string
		kind  string
		title string
		body  string
	)

	cmd := &cobra.Command{
		Use:   "send",
		Short: "Send a message to the peer agent",
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := connect(opts)
			if err != nil {
				return err
			}
			defer client.Close()

			id, err := client.Send(cmd.Context(), credex.Message{
				From:  from,
				To:    to,
				Kind:  credex.MessageKind(kind),
				Title: title,
				Body:  body,
			})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), id)
			return nil
		},
	}

	cmd.Flags().StringVar(&from, "from", "", "sender agent id (required)")
	cmd.Flags().StringVar(&to, "to", "", "recipient agent id (empty = broadcast)")
	cmd.Flags().StringVar(&kind, "kind", "insight", "message kind: insight, warning, coordination_request")
	cmd.Flags().StringVar(&title, "title", "", "message title")
	cmd.Flags().StringVar(&body, "body", "", "message body")
	_ = cmd.MarkFlagRequired("from")

	return cmd
}

func newPollCmd(opts *gateOptions) *cobra.Command {
	var (
		agent  string
		cursor string
		limit  int
	)

	cmd := &cobra.Command{
		Use:   "poll",
		Short: "Read messages addressed to an agent",
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := connect(opts)
			if err != nil {
				return err
			}
			defer client.Close()

			msgs, next, err := client.Poll(cmd.Context(), agent, cursor, limit)
			if err != nil {
				return err
			}
			if opts.asJSON {
				return writeJSON(cmd, struct {
					Messages []credex.Message `json:"messages"`
					Cursor   string           `json:"cursor"`
				}{msgs, next})
			}

			out := cmd.OutOrStdout()
			for _, msg := range msgs {
				fmt.Fprintf(out, "[%s] %s from %s: %s\n", msg.ID, msg.Kind, msg.From, msg.Title)
				if msg.Body != "" {
					fmt.Fprintf(out, "  %s\n", msg.Body)
				}
			}
			fmt.Fprintf(out, "cursor: %s\n", next)
			return nil
		},
	}

	cmd.Flags().StringVar(&agent, "agent", "", "agent id (required)")
	cmd.Flags().StringVar(&cursor, "cursor", "", "resume cursor from a previous poll")
	cmd.Flags().IntVar(&limit, "limit", 0, "max messages to return")
	_ = cmd.MarkFlagRequired("agent")

	return cmd
}

func newAckCmd(opts *gateOptions) *cobra.Command {
	var (
		id    string
		agent string
	)

	cmd := &cobra.Command{
		Use:   "ack",
		Short: "Mark a message as read",
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := connect(opts)
			if err != nil {
				return err
			}
			defer client.Close()

			return client.Acknowledge(cmd.Context(), id, agent)
		},
	}

	cmd.Flags().StringVar(&id, "id", "", "message id (required)")
	cmd.Flags().StringVar(&agent, "agent", "", "agent id (required)")
	_ = cmd.MarkFlagRequired("id")
	_ = cmd.MarkFlagRequired("agent")

	return cmd
}

func writeTransaction(cmd *cobra.Command, opts *gateOptions, tx credex.Transaction) error {
	if opts.asJSON {
		return writeJSON(cmd, tx)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s #%d agent=%s task=%s estimated=%d actual=%d balance=%d\n",
		tx.Kind, tx.ID, tx.AgentID, tx.TaskID, tx.EstimatedUnits, tx.ActualUnits, tx.ResultingBalance)
	return nil
}

func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
