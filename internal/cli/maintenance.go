package cli

import (
	"github.com/spf13/cobra"

	scopemem "github.com/oceanbase/scopemem-go/pkg/core"
	"github.com/oceanbase/scopemem-go/pkg/storage"
)

func (a *app) decayCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "decay",
		Short: "Run a decay pass",
		Long:  "Age every memory along the forgetting curve and archive forgotten ones. Resume an interrupted pass with --after-id set to the reported watermark.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			now, err := nowFlag(cmd)
			if err != nil {
				return err
			}
			afterID, _ := cmd.Flags().GetInt64("after-id")
			return a.withClient(cmd, func(client *scopemem.Client) error {
				report, err := client.RunDecayPass(cmd.Context(), now, scopemem.WithAfterID(afterID))
				if report != nil {
					if perr := printJSON(cmd, report); perr != nil && err == nil {
						err = perr
					}
				}
				return err
			})
		},
	}
	cmd.Flags().String("now", "", "Pass time (RFC 3339 or YYYY-MM-DD, default: now)")
	cmd.Flags().Int64("after-id", 0, "Resume after this memory ID")
	return cmd
}

func (a *app) promoteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "promote",
		Short: "Propose sharing hot memories one level wider",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			now, err := nowFlag(cmd)
			if err != nil {
				return err
			}
			return a.withClient(cmd, func(client *scopemem.Client) error {
				report, err := client.RunPromotionSweep(cmd.Context(), now)
				if err != nil {
					return err
				}
				client.Wait()
				return printJSON(cmd, report)
			})
		},
	}
	cmd.Flags().String("now", "", "Sweep time (RFC 3339 or YYYY-MM-DD, default: now)")
	return cmd
}

func (a *app) resolveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resolve <memory-id> <memory-id>",
		Short: "Resolve a conflict between two memories",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			aID, err := parseID(args[0])
			if err != nil {
				return err
			}
			bID, err := parseID(args[1])
			if err != nil {
				return err
			}
			return a.withClient(cmd, func(client *scopemem.Client) error {
				result, err := client.ResolveConflict(cmd.Context(), aID, bID)
				if err != nil {
					return err
				}
				return printJSON(cmd, result)
			})
		},
	}
}

func (a *app) reembedCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reembed",
		Short: "Retry embeddings for memories stored without one",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, _ := cmd.Flags().GetInt("limit")
			return a.withClient(cmd, func(client *scopemem.Client) error {
				fixed, err := client.RetryPendingEmbeddings(cmd.Context(), limit)
				if err != nil {
					return err
				}
				return printJSON(cmd, map[string]int{"fixed": fixed})
			})
		},
	}
	cmd.Flags().Int("limit", 100, "Max memories to embed")
	return cmd
}

func (a *app) auditCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "audit <memory|proposal> <id>",
		Short: "Show the audit trail of a memory or proposal",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			entity := storage.EntityType(args[0])
			return a.withClient(cmd, func(client *scopemem.Client) error {
				events, err := client.AuditTrail(cmd.Context(), entity, args[1])
				if err != nil {
					return err
				}
				return printJSON(cmd, events)
			})
		},
	}
}
