package cli

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	scopemem "github.com/oceanbase/scopemem-go/pkg/core"
)

func (a *app) assembleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "assemble [query]",
		Short: "Assemble relevant memories for a caller",
		Long:  "Score the memories visible to the caller against the query, then greedily pack them into a token budget.",
		Args:  cobra.MinimumNArgs(1),
		RunE:  a.runAssemble,
	}
	addCallerFlags(cmd)
	cmd.Flags().IntP("budget", "b", 1000, "Max tokens in output")
	cmd.Flags().String("profile", "assembly", "Scoring profile: assembly or retrieval")
	cmd.Flags().String("as-of", "", "Point in time to assemble at (RFC 3339 or YYYY-MM-DD)")
	cmd.Flags().Duration("deadline", 0, "Soft ranking deadline (default: engine setting)")
	cmd.Flags().Int("limit", 0, "Candidate limit (default: engine setting)")
	return cmd
}

func profileByName(name string) (scopemem.ScoringProfile, error) {
	switch strings.ToLower(name) {
	case "", "assembly":
		return scopemem.AssemblyProfile, nil
	case "retrieval":
		return scopemem.RetrievalProfile, nil
	}
	return scopemem.ScoringProfile{}, fmt.Errorf("unknown profile %q", name)
}

func (a *app) runAssemble(cmd *cobra.Command, args []string) error {
	budget, _ := cmd.Flags().GetInt("budget")
	profileName, _ := cmd.Flags().GetString("profile")
	asOf, _ := cmd.Flags().GetString("as-of")
	deadline, _ := cmd.Flags().GetDuration("deadline")
	limit, _ := cmd.Flags().GetInt("limit")

	profile, err := profileByName(profileName)
	if err != nil {
		return err
	}
	var opts []scopemem.AssembleOption
	at, err := parseTime(asOf)
	if err != nil {
		return err
	}
	if !at.IsZero() {
		opts = append(opts, scopemem.WithAsOf(at))
	}
	if deadline > 0 {
		opts = append(opts, scopemem.WithSoftDeadline(deadline))
	}
	if limit > 0 {
		opts = append(opts, scopemem.WithCandidateLimit(limit))
	}

	caller := callerFromFlags(cmd)
	query := strings.Join(args, " ")
	return a.withClient(cmd, func(client *scopemem.Client) error {
		result, err := client.AssembleContext(cmd.Context(), caller, query, budget, profile, opts...)
		if err != nil {
			return err
		}
		return printJSON(cmd, result)
	})
}

func (a *app) getCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get <memory-id>",
		Short: "Read one memory the caller may see",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			caller := callerFromFlags(cmd)
			return a.withClient(cmd, func(client *scopemem.Client) error {
				m, err := client.GetMemory(cmd.Context(), caller, id)
				if err != nil {
					return err
				}
				return printJSON(cmd, m)
			})
		},
	}
	addCallerFlags(cmd)
	return cmd
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid memory id %q", s)
	}
	return id, nil
}

// nowFlag reads a --now flag, defaulting to the current time.
func nowFlag(cmd *cobra.Command) (time.Time, error) {
	s, _ := cmd.Flags().GetString("now")
	t, err := parseTime(s)
	if err != nil {
		return time.Time{}, err
	}
	if t.IsZero() {
		t = time.Now().UTC()
	}
	return t, nil
}
