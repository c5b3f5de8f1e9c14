package cli

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/OptikR/OptikR-sub005/affinity"
)

func newAffinityCommand(a *app) *cobra.Command {
	var (
		role    string
		workers int
	)
	cmd := &cobra.Command{
		Use:   "affinity",
		Short: "Show the core assignment advised for each pipeline role",
		RunE: func(cmd *cobra.Command, _ []string) error {
			advisor, err := affinity.NewAdvisor(append(a.cfg.Affinity.Options(), affinity.WithLogger(a.logger))...)
			if err != nil {
				return err
			}
			return renderAffinity(cmd.OutOrStdout(), advisor, role, workers)
		},
	}
	cmd.Flags().StringVar(&role, "role", affinity.RoleTranslation, "role whose worker groups are shown")
	cmd.Flags().IntVar(&workers, "workers", 4, "workers to split the role's cores between")
	return cmd
}

func renderAffinity(w io.Writer, advisor *affinity.Advisor, role string, workers int) error {
	if workers <= 0 {
		return fmt.Errorf("--workers must be positive")
	}
	printSection(w, "TOPOLOGY",
		fmt.Sprintf("Logical cores: %d  Physical cores: %d", advisor.LogicalCores(), advisor.PhysicalCores()),
		"Performance: "+formatCores(advisor.PerformanceCores()),
		"Efficiency:  "+formatCores(advisor.EfficiencyCores()),
	)

	printSection(w, fmt.Sprintf("WORKER GROUPS (%s, %s)", role, advisor.ClassFor(role)))
	groups := tablewriter.NewWriter(w)
	groups.Header("Worker", "Cores")
	for i, g := range advisor.OptimizeWorkerGroups(role, workers) {
		_ = groups.Append(strconv.Itoa(i), formatCores(g))
	}
	if err := groups.Render(); err != nil {
		return err
	}

	printSection(w, "ROLES")
	roles := tablewriter.NewWriter(w)
	roles.Header("Role", "Class", "Cores")
	for _, r := range []string{affinity.RoleCapture, affinity.RoleOCR, affinity.RoleTranslation, affinity.RoleRender, affinity.RoleIO} {
		_ = roles.Append(r, advisor.ClassFor(r).String(), formatCores(advisor.CoresFor(r)))
	}
	return roles.Render()
}

func formatCores(cores []int) string {
	if len(cores) == 0 {
		return "-"
	}
	parts := make([]string, len(cores))
	for i, c := range cores {
		parts[i] = strconv.Itoa(c)
	}
	return strings.Join(parts, ",")
}
