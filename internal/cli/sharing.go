package cli

import (
	"github.com/spf13/cobra"

	scopemem "github.com/oceanbase/scopemem-go/pkg/core"
	"github.com/oceanbase/scopemem-go/pkg/storage"
)

func (a *app) proposeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "propose <memory-id>",
		Short: "Propose widening a memory's visibility",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			actor, _ := cmd.Flags().GetString("actor")
			visibility, _ := cmd.Flags().GetString("visibility")
			scopeID, _ := cmd.Flags().GetString("scope-id")
			confidence, _ := cmd.Flags().GetFloat64("confidence")
			evidence, _ := cmd.Flags().GetStringSlice("evidence")

			req := &scopemem.ProposeRequest{
				MemoryID:           id,
				ActorID:            actor,
				TargetVisibility:   scopemem.Visibility(visibility),
				TargetScopeID:      scopeID,
				Confidence:         confidence,
				SupportingEvidence: evidence,
			}
			return a.withClient(cmd, func(client *scopemem.Client) error {
				p, err := client.ProposeSharing(cmd.Context(), req)
				if err != nil {
					return err
				}
				return printJSON(cmd, p)
			})
		},
	}
	cmd.Flags().String("actor", "", "Proposing user ID (required)")
	cmd.Flags().String("visibility", "", "Target visibility (required)")
	cmd.Flags().String("scope-id", "", "Target scope ID (default: the memory's own)")
	cmd.Flags().Float64("confidence", 0, "Confidence that the memory is worth sharing")
	cmd.Flags().StringSlice("evidence", nil, "Supporting evidence")
	_ = cmd.MarkFlagRequired("actor")
	_ = cmd.MarkFlagRequired("visibility")
	return cmd
}

func (a *app) reviewCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "review <proposal-id> <approve|reject>",
		Short: "Approve or reject a pending proposal",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			decision, err := scopemem.ParseDecision(args[1])
			if err != nil {
				return err
			}
			actor, _ := cmd.Flags().GetString("actor")
			notes, _ := cmd.Flags().GetString("notes")
			return a.withClient(cmd, func(client *scopemem.Client) error {
				p, err := client.ReviewProposal(cmd.Context(), args[0], actor, decision, notes)
				if err != nil {
					return err
				}
				client.Wait()
				return printJSON(cmd, p)
			})
		},
	}
	cmd.Flags().String("actor", "", "Reviewing user ID (required)")
	cmd.Flags().String("notes", "", "Review notes")
	_ = cmd.MarkFlagRequired("actor")
	return cmd
}

func (a *app) reviewMemoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "review-memory <memory-id> <approve|reject>",
		Short: "Settle a memory awaiting review",
		Long:  "Approve or reject a shared memory added by ingestion, or one flagged by conflict resolution.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			decision, err := scopemem.ParseDecision(args[1])
			if err != nil {
				return err
			}
			actor, _ := cmd.Flags().GetString("actor")
			notes, _ := cmd.Flags().GetString("notes")
			return a.withClient(cmd, func(client *scopemem.Client) error {
				m, err := client.ReviewMemory(cmd.Context(), id, actor, decision, notes)
				if err != nil {
					return err
				}
				return printJSON(cmd, m)
			})
		},
	}
	cmd.Flags().String("actor", "", "Reviewing user ID (required)")
	cmd.Flags().String("notes", "", "Review notes")
	_ = cmd.MarkFlagRequired("actor")
	return cmd
}

func (a *app) withdrawCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "withdraw <proposal-id>",
		Short: "Withdraw a pending proposal",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, _ := cmd.Flags().GetString("actor")
			return a.withClient(cmd, func(client *scopemem.Client) error {
				p, err := client.WithdrawProposal(cmd.Context(), args[0], actor)
				if err != nil {
					return err
				}
				return printJSON(cmd, p)
			})
		},
	}
	cmd.Flags().String("actor", "", "Withdrawing user ID (required)")
	_ = cmd.MarkFlagRequired("actor")
	return cmd
}

func (a *app) unshareCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "unshare <memory-id>",
		Short: "Return a shared memory to private visibility",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			actor, _ := cmd.Flags().GetString("actor")
			return a.withClient(cmd, func(client *scopemem.Client) error {
				m, err := client.Unshare(cmd.Context(), id, actor)
				if err != nil {
					return err
				}
				return printJSON(cmd, m)
			})
		},
	}
	cmd.Flags().String("actor", "", "Acting user ID (required)")
	_ = cmd.MarkFlagRequired("actor")
	return cmd
}

func (a *app) proposalsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "proposals",
		Short: "List sharing proposals",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			memory, _ := cmd.Flags().GetInt64("memory")
			status, _ := cmd.Flags().GetString("status")
			limit, _ := cmd.Flags().GetInt("limit")
			filter := &storage.ProposalFilter{
				MemoryID: memory,
				Status:   storage.ProposalStatus(status),
				Limit:    limit,
			}
			return a.withClient(cmd, func(client *scopemem.Client) error {
				ps, err := client.ListProposals(cmd.Context(), filter)
				if err != nil {
					return err
				}
				return printJSON(cmd, ps)
			})
		},
	}
	cmd.Flags().Int64("memory", 0, "Only proposals for this memory")
	cmd.Flags().String("status", "", "Only proposals with this status: pending, approved, rejected, withdrawn")
	cmd.Flags().Int("limit", 50, "Max proposals")
	return cmd
}
