package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/tgbridge/internal/auth"
	"github.com/nextlevelbuilder/tgbridge/internal/config"
)

func adminCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Inspect and edit the bot's access configuration",
		Long:  "Edit owner, whitelist and group settings. A running gateway picks up changes on the next message.",
	}
	cmd.AddCommand(adminShowCmd())
	cmd.AddCommand(adminListGroupsCmd())
	cmd.AddCommand(adminAddGroupCmd())
	cmd.AddCommand(adminRemoveGroupCmd())
	cmd.AddCommand(adminSetGroupPolicyCmd())
	cmd.AddCommand(adminListWhitelistCmd())
	cmd.AddCommand(adminAddWhitelistCmd())
	cmd.AddCommand(adminRemoveWhitelistCmd())
	cmd.AddCommand(adminResetOwnerCmd())
	return cmd
}

// loadAdminConfig loads the config strictly: admin edits must never replace
// an unreadable file with defaults.
func loadAdminConfig() (*config.Config, string, error) {
	paths := resolvePaths()
	cfg, err := config.Load(paths.ConfigFile)
	if err != nil {
		return nil, "", err
	}
	return cfg, paths.ConfigFile, nil
}

// updateConfig applies edit and saves when it reports a change.
func updateConfig(edit func(cfg *config.Config) (bool, error)) (bool, error) {
	cfg, path, err := loadAdminConfig()
	if err != nil {
		return false, err
	}
	changed, err := edit(cfg)
	if err != nil || !changed {
		return false, err
	}
	if err := config.Save(path, cfg); err != nil {
		return false, fmt.Errorf("save config: %w", err)
	}
	return true, nil
}

func adminShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration (secrets omitted)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, path, err := loadAdminConfig()
			if err != nil {
				return err
			}
			data, err := json.MarshalIndent(cfg, "", "  ")
			if err != nil {
				return err
			}
			fmt.Printf("# %s\n%s\n", path, data)
			return nil
		},
	}
}

func adminListGroupsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list-groups",
		Short: "List configured groups",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadAdminConfig()
			if err != nil {
				return err
			}
			fmt.Printf("group_policy: %s\n", cfg.GroupPolicy)
			if len(cfg.Groups) == 0 {
				fmt.Println("No groups configured.")
				return nil
			}
			ids := make([]string, 0, len(cfg.Groups))
			for id := range cfg.Groups {
				ids = append(ids, id)
			}
			sort.Strings(ids)

			tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "CHAT ID\tMODE\tALLOW FROM\tHISTORY\tNAME")
			for _, id := range ids {
				g := cfg.Groups[id]
				allow := "*"
				if len(g.AllowFrom) > 0 {
					allow = strings.Join(g.AllowFrom, ",")
				}
				limit := "default"
				if g.HistoryLimit > 0 {
					limit = fmt.Sprint(g.HistoryLimit)
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", id, g.Mode, allow, limit, g.Name)
			}
			return tw.Flush()
		},
	}
}

func adminAddGroupCmd() *cobra.Command {
	var (
		mode         string
		allowFrom    []string
		historyLimit int
	)
	cmd := &cobra.Command{
		Use:   "add-group <chat_id> <name>",
		Short: "Allow a group",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			chatID, name := args[0], args[1]
			groupMode := config.GroupMode(mode)
			if groupMode != config.GroupModeMention && groupMode != config.GroupModeBroadcast {
				return fmt.Errorf("invalid mode %q (mention or broadcast)", mode)
			}
			if auth.IsIndividualID(chatID) {
				return fmt.Errorf("%s is not a group chat ID (group IDs are negative)", chatID)
			}
			_, err := updateConfig(func(cfg *config.Config) (bool, error) {
				if !auth.AddGroup(cfg, chatID, name, groupMode, time.Now()) {
					return false, fmt.Errorf("group %s already exists; remove it first", chatID)
				}
				if len(allowFrom) > 0 {
					auth.SetGroupAllowFrom(cfg, chatID, allowFrom)
				}
				if historyLimit > 0 {
					auth.SetGroupHistoryLimit(cfg, chatID, historyLimit)
				}
				return true, nil
			})
			if err != nil {
				return err
			}
			fmt.Printf("Added group %s (%s, %s mode).\n", chatID, name, groupMode)
			return nil
		},
	}
	cmd.Flags().StringVar(&mode, "mode", string(config.GroupModeMention), "forwarding mode: mention or broadcast")
	cmd.Flags().StringSliceVar(&allowFrom, "allow-from", nil, "sender IDs allowed to trigger the bot (default: everyone)")
	cmd.Flags().IntVar(&historyLimit, "history-limit", 0, "context messages for this group (default: message.context_messages)")
	return cmd
}

func adminRemoveGroupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove-group <chat_id>",
		Short: "Remove a group",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			changed, err := updateConfig(func(cfg *config.Config) (bool, error) {
				return auth.RemoveGroup(cfg, args[0]), nil
			})
			if err != nil {
				return err
			}
			if !changed {
				fmt.Printf("Group %s is not configured.\n", args[0])
				return nil
			}
			fmt.Printf("Removed group %s.\n", args[0])
			return nil
		},
	}
}

func adminSetGroupPolicyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set-group-policy <disabled|allowlist|open>",
		Short: "Set the policy for groups not listed in the config",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			policy := config.GroupPolicy(args[0])
			if !policy.Valid() {
				return fmt.Errorf("invalid policy %q (disabled, allowlist or open)", args[0])
			}
			_, err := updateConfig(func(cfg *config.Config) (bool, error) {
				if cfg.GroupPolicy == policy {
					return false, nil
				}
				cfg.GroupPolicy = policy
				return true, nil
			})
			if err != nil {
				return err
			}
			fmt.Printf("group_policy: %s\n", policy)
			return nil
		},
	}
}

func adminListWhitelistCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list-whitelist",
		Short: "List the owner and whitelisted users",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadAdminConfig()
			if err != nil {
				return err
			}
			if auth.HasOwner(cfg) {
				fmt.Printf("owner: %s (%s)\n", cfg.Owner.ID, cfg.Owner.DisplayName)
			} else {
				fmt.Println("owner: (unbound, the first private message claims it)")
			}
			fmt.Printf("ids: %s\n", joinOrNone(cfg.Whitelist.IDs))
			fmt.Printf("names: %s\n", joinOrNone(cfg.Whitelist.Names))
			return nil
		},
	}
}

func adminAddWhitelistCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "add-whitelist <user_id> [username]",
		Short: "Allow a user to talk to the bot in private",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			username := ""
			if len(args) > 1 {
				username = args[1]
			}
			if !auth.IsIndividualID(args[0]) {
				return fmt.Errorf("%s is not a user ID", args[0])
			}
			changed, err := updateConfig(func(cfg *config.Config) (bool, error) {
				return auth.AddToWhitelist(cfg, args[0], username), nil
			})
			if err != nil {
				return err
			}
			if !changed {
				fmt.Printf("%s is already whitelisted.\n", args[0])
				return nil
			}
			fmt.Printf("Whitelisted %s.\n", args[0])
			return nil
		},
	}
}

func adminRemoveWhitelistCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove-whitelist <user_id>",
		Short: "Revoke a user's private access",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			changed, err := updateConfig(func(cfg *config.Config) (bool, error) {
				if auth.IsOwner(cfg, args[0]) {
					return false, fmt.Errorf("%s is the owner; use reset-owner first", args[0])
				}
				return auth.RemoveFromWhitelist(cfg, args[0]), nil
			})
			if err != nil {
				return err
			}
			if !changed {
				fmt.Printf("%s is not whitelisted.\n", args[0])
				return nil
			}
			fmt.Printf("Removed %s from the whitelist.\n", args[0])
			return nil
		},
	}
}

func adminResetOwnerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset-owner",
		Short: "Clear the owner; the next private message claims the bot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			changed, err := updateConfig(func(cfg *config.Config) (bool, error) {
				return auth.ResetOwner(cfg), nil
			})
			if err != nil {
				return err
			}
			if !changed {
				fmt.Println("No owner is bound.")
				return nil
			}
			fmt.Println("Owner cleared. The next private message will claim the bot.")
			return nil
		},
	}
}

func joinOrNone(items []string) string {
	if len(items) == 0 {
		return "(none)"
	}
	return strings.Join(items, ", ")
}
