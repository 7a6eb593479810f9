package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/outreach-cli/internal/model"
)

var (
	excludeType   string
	excludeReason string
)

var excludeCmd = &cobra.Command{
	Use:   "exclude",
	Short: "Manage the permanent do-not-contact list",
}

var excludeAddCmd = &cobra.Command{
	Use:   "add <value>...",
	Short: "Exclude domains or email addresses",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context(), "store")
		if err != nil {
			return err
		}
		defer env.Close()

		for _, v := range args {
			added, err := env.Guard.Exclude(cmd.Context(), model.ExclusionType(excludeType), v, excludeReason)
			if err != nil {
				return err
			}
			state := "exists"
			if added {
				state = "added"
			}
			fmt.Printf("%s\t%s\n", state, v)
		}
		return nil
	},
}

var excludeImportCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Bulk-load one value per line",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		values, err := readLines(args[0])
		if err != nil {
			return err
		}

		env, err := initEnv(cmd.Context(), "store")
		if err != nil {
			return err
		}
		defer env.Close()

		n, err := env.Guard.ExcludeAll(cmd.Context(), model.ExclusionType(excludeType), values, excludeReason)
		if err != nil {
			return err
		}
		return printJSON(map[string]int{"submitted": len(values), "added": n})
	},
}

var excludeCheckCmd = &cobra.Command{
	Use:   "check <domain-or-email>",
	Short: "Report whether a domain or address is excluded",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context(), "store")
		if err != nil {
			return err
		}
		defer env.Close()

		var excluded bool
		if strings.Contains(args[0], "@") {
			excluded, err = env.Guard.IsEmailExcluded(cmd.Context(), args[0])
		} else {
			excluded, err = env.Guard.IsExcluded(cmd.Context(), args[0])
		}
		if err != nil {
			return err
		}
		return printJSON(map[string]any{"value": args[0], "excluded": excluded})
	},
}

var excludeListCmd = &cobra.Command{
	Use:   "list",
	Short: "List exclusions",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context(), "store")
		if err != nil {
			return err
		}
		defer env.Close()

		typ := model.ExclusionType(excludeType)
		if !cmd.Flags().Changed("type") {
			typ = ""
		}
		list, err := env.Guard.List(cmd.Context(), typ)
		if err != nil {
			return err
		}
		return printJSON(list)
	},
}

func readLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "open %s", path)
	}
	defer f.Close() //nolint:errcheck

	var out []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out = append(out, line)
	}
	return out, eris.Wrapf(sc.Err(), "read %s", path)
}

func init() {
	for _, c := range []*cobra.Command{excludeAddCmd, excludeImportCmd, excludeListCmd} {
		c.Flags().StringVar(&excludeType, "type", string(model.ExclusionDomain), "exclusion type: domain or email")
	}
	for _, c := range []*cobra.Command{excludeAddCmd, excludeImportCmd} {
		c.Flags().StringVar(&excludeReason, "reason", "", "why the value is excluded")
	}
	excludeCmd.AddCommand(excludeAddCmd, excludeImportCmd, excludeCheckCmd, excludeListCmd)
	rootCmd.AddCommand(excludeCmd)
}
