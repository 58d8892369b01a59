package cli

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	scopemem "github.com/oceanbase/scopemem-go/pkg/core"
)

func (a *app) ingestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ingest [content]",
		Short: "Ingest a candidate memory",
		Long:  "Ingest a candidate memory. Content can be a positional arg or piped via stdin. The engine decides whether it is new, an update, a merge or a duplicate.",
		RunE:  a.runIngest,
	}

	cmd.Flags().String("owner", "", "Owner user ID (required)")
	cmd.Flags().String("org", "", "Organization ID")
	cmd.Flags().String("group", "", "Group ID")
	cmd.Flags().String("space", "", "Space ID")
	cmd.Flags().String("area", "", "Area ID")
	cmd.Flags().String("task", "", "Task ID")
	cmd.Flags().String("visibility", "private", "Visibility: private, area, space, group, organization")
	cmd.Flags().String("type", "fact", "Memory type: fact, preference, instruction, summary, entity, relationship, guideline")
	cmd.Flags().Float64("confidence", 0.5, "Confidence in [0, 1]")
	cmd.Flags().Float64("importance", 0, "Importance in [0, 1] (default: estimated)")
	cmd.Flags().String("subject", "", "Subject key; memories with the same subject supersede each other")
	cmd.Flags().String("valid-from", "", "Start of validity (RFC 3339 or YYYY-MM-DD, default: now)")
	cmd.Flags().Bool("pinned", false, "Always include in assembled context")
	_ = cmd.MarkFlagRequired("owner")
	return cmd
}

func (a *app) runIngest(cmd *cobra.Command, args []string) error {
	content, err := readContent(cmd, args)
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	owner, _ := flags.GetString("owner")
	org, _ := flags.GetString("org")
	group, _ := flags.GetString("group")
	space, _ := flags.GetString("space")
	area, _ := flags.GetString("area")
	task, _ := flags.GetString("task")
	visibility, _ := flags.GetString("visibility")
	memoryType, _ := flags.GetString("type")
	confidence, _ := flags.GetFloat64("confidence")
	importance, _ := flags.GetFloat64("importance")
	subject, _ := flags.GetString("subject")
	validFrom, _ := flags.GetString("valid-from")
	pinned, _ := flags.GetBool("pinned")

	candidate := &scopemem.Candidate{
		Content:        content,
		MemoryType:     scopemem.MemoryType(memoryType),
		OwnerUserID:    owner,
		OrganizationID: org,
		GroupID:        group,
		SpaceID:        space,
		AreaID:         area,
		TaskID:         task,
		Visibility:     scopemem.Visibility(visibility),
		Confidence:     confidence,
		Importance:     importance,
		SubjectKey:     subject,
		Pinned:         pinned,
	}
	from, err := parseTime(validFrom)
	if err != nil {
		return err
	}
	if !from.IsZero() {
		candidate.ValidFrom = &from
	}

	return a.withClient(cmd, func(client *scopemem.Client) error {
		result, err := client.IngestCandidate(cmd.Context(), candidate)
		if err != nil {
			return err
		}
		return printJSON(cmd, result)
	})
}

// readContent takes content from the arguments, or from stdin when it is
// not a terminal.
func readContent(cmd *cobra.Command, args []string) (string, error) {
	var content string
	if len(args) > 0 {
		content = strings.Join(args, " ")
	} else if in := cmd.InOrStdin(); in != os.Stdin || !isTerminal(os.Stdin) {
		b, err := io.ReadAll(in)
		if err != nil {
			return "", fmt.Errorf("read stdin: %w", err)
		}
		content = string(b)
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return "", fmt.Errorf("content is required (positional arg or stdin)")
	}
	return content, nil
}

func isTerminal(f *os.File) bool {
	stat, err := f.Stat()
	if err != nil {
		return true
	}
	return stat.Mode()&os.ModeCharDevice != 0
}
