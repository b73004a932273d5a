package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"papertrail/internal/app"
	"papertrail/internal/config"
	"papertrail/internal/db"
	"papertrail/internal/domain"
	"papertrail/internal/engine"
	"papertrail/internal/events"
	"papertrail/internal/repo"
	"papertrail/internal/rules"
	"papertrail/internal/server"
	"papertrail/internal/taxonomy"
)

var rootCmd = &cobra.Command{
	Use:   "pt",
	Short: "Papertrail CLI",
	Long: `Papertrail keeps an academic submission platform honest: every change to a
submission is an immutable event, and the current state is whatever the
event log folds to.
Core concepts:
- Workspace: the .papertrail directory holding the SQLite event store;
  papertrail.yaml next to it configures licenses, auth and webhooks.
- Submission: the aggregate under work. It is never edited in place; you
  append events (license.select, metadata.update, submission.finalize, ...)
  and the platform replays them.
- Events: each one validates against the state produced by everything
  before it. A batch commits atomically or not at all; preflight reports
  every failure without storing anything.
- Rules: data-driven triggers. When an event of the watched type commits,
  the rule's consequence event is folded into the same save.
- Agents: users, clients and the system itself. Owners and their delegates
  may change a submission; client keys let integrations act for a user.
- Event log: 'pt log tail' shows the newest events across all submissions.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("PAPERTRAIL")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("user", "local-user", "acting agent native id")
	rootCmd.PersistentFlags().String("agent-type", "user", "acting agent type (user, system, client)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("user", rootCmd.PersistentFlags().Lookup("user"))
	_ = viper.BindPFlag("agent-type", rootCmd.PersistentFlags().Lookup("agent-type"))
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(submissionCmd())
	rootCmd.AddCommand(eventCmd())
	rootCmd.AddCommand(ruleCmd())
	rootCmd.AddCommand(keyCmd())
	rootCmd.AddCommand(taxonomyCmd())
	rootCmd.AddCommand(licenseCmd())
	rootCmd.AddCommand(agentCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
}

func initCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize a workspace",
		Long:  "Creates the .papertrail store, runs migrations, and writes a default papertrail.yaml when none exists.",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			dir, err := db.EnsureWorkspace(workspace)
			if err != nil {
				return err
			}
			cfgPath, wroteConfig, err := app.EnsureConfigFile(workspace)
			if err != nil {
				return err
			}
			appCtx, err := app.OpenWorkspace(workspace)
			if err != nil {
				return err
			}
			appCtx.Close()
			if viper.GetBool("json") {
				return printJSON(map[string]any{
					"workspace":      dir,
					"database":       db.Path(workspace),
					"config":         cfgPath,
					"config_written": wroteConfig,
				})
			}
			fmt.Printf("Workspace ready at %s\n", dir)
			if wroteConfig {
				fmt.Printf("Wrote default config to %s\n", cfgPath)
			} else {
				fmt.Printf("Keeping existing config at %s\n", cfgPath)
			}
			return nil
		},
	}
	return cmd
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Inspect workspace config",
		Long:  "Config lives in papertrail.yaml: platform name, the license catalog, the fold cap, auth settings and webhooks.",
	}
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configValidateCmd())
	return cfg
}

func configShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return printJSONOrTable(cfg)
		},
	}
	return cmd
}

func configValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate [file]",
		Short: "Validate papertrail.yaml, or a candidate config file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var err error
			if len(args) == 1 {
				_, err = config.FromFile(args[0])
			} else {
				_, err = config.Load(viper.GetString("workspace"))
			}
			if viper.GetBool("json") {
				out := map[string]any{"ok": err == nil}
				if err != nil {
					out["error"] = err.Error()
				}
				return printJSON(out)
			}
			if err != nil {
				return err
			}
			fmt.Println("config OK")
			return nil
		},
	}
	return cmd
}

func submissionCmd() *cobra.Command {
	sub := &cobra.Command{
		Use:   "submission",
		Short: "Manage submissions",
		Long:  "Submissions are replayed, never edited: show folds the event log, events lists the history, state rewinds to any point in it.",
	}
	sub.AddCommand(submissionCreateCmd())
	sub.AddCommand(submissionListCmd())
	sub.AddCommand(submissionShowCmd())
	sub.AddCommand(submissionEventsCmd())
	sub.AddCommand(submissionStateCmd())
	sub.AddCommand(submissionRemoveCmd())
	return sub
}

func submissionCreateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a submission",
		RunE: func(cmd *cobra.Command, args []string) error {
			agent, err := cliAgent()
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, eng engine.Engine, _ repo.Repo) error {
				ev, err := events.New(events.TypeCreateSubmission, nil, agent, nil, time.Now().UTC())
				if err != nil {
					return err
				}
				sub, applied, err := eng.Save(ctx, 0, ev)
				if err != nil {
					return err
				}
				return printSaveResult(sub, applied)
			})
		},
	}
	return cmd
}

func submissionListCmd() *cobra.Command {
	var active, finalized, owner, cursor string
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List submissions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, eng engine.Engine, r repo.Repo) error {
				if limit <= 0 {
					limit = 50
				}
				f := repo.SubmissionFilters{OwnerID: owner, Limit: limit + 1}
				var err error
				if f.Active, err = parseBoolFlag(active); err != nil {
					return fmt.Errorf("--active: %w", err)
				}
				if f.Finalized, err = parseBoolFlag(finalized); err != nil {
					return fmt.Errorf("--finalized: %w", err)
				}
				if cursor != "" {
					parts := strings.SplitN(cursor, "|", 2)
					if len(parts) != 2 {
						return fmt.Errorf("invalid cursor %q", cursor)
					}
					f.CursorCreatedAt = parts[0]
					if f.CursorID, err = strconv.ParseInt(parts[1], 10, 64); err != nil {
						return fmt.Errorf("invalid cursor %q", cursor)
					}
				}
				items, err := r.ListSubmissions(ctx, f)
				if err != nil {
					return err
				}
				next := ""
				if len(items) > limit {
					last := items[limit]
					next = last.Created.UTC().Format(time.RFC3339Nano) + "|" + strconv.FormatInt(last.ID, 10)
					items = items[:limit]
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"items": items, "next_cursor": next})
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Owner", "Title", "Active", "Finalized", "Created"})
				for _, s := range items {
					tw.AppendRow(table.Row{s.ID, s.Owner.NativeID, s.Metadata.Title, s.Active, s.Finalized, s.Created.UTC().Format(time.RFC3339)})
				}
				tw.Render()
				if next != "" {
					fmt.Printf("next cursor: %s\n", next)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&active, "active", "", "filter by active flag (true or false)")
	cmd.Flags().StringVar(&finalized, "finalized", "", "filter by finalized flag (true or false)")
	cmd.Flags().StringVar(&owner, "owner", "", "filter by owner identifier")
	cmd.Flags().IntVar(&limit, "limit", 50, "page size")
	cmd.Flags().StringVar(&cursor, "cursor", "", "pagination cursor from a previous page")
	return cmd
}

func submissionShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show projected submission state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, eng engine.Engine, _ repo.Repo) error {
				sub, _, err := eng.Load(ctx, id)
				if err != nil {
					return err
				}
				return printJSONOrTable(sub)
			})
		},
	}
	return cmd
}

func submissionEventsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "events <id>",
		Short: "Show a submission's event history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, eng engine.Engine, _ repo.Repo) error {
				_, history, err := eng.Load(ctx, id)
				if err != nil {
					return err
				}
				envs, err := toEnvelopes(history)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(envs)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Event ID", "Type", "Created", "Creator"})
				for _, env := range envs {
					tw.AppendRow(table.Row{env.EventID, env.EventType, env.Created.UTC().Format(time.RFC3339), env.Creator.NativeID})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func submissionStateCmd() *cobra.Command {
	var eventID string
	cmd := &cobra.Command{
		Use:   "state <id>",
		Short: "Show submission state as of an event",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			if eventID == "" {
				return fmt.Errorf("--event required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, eng engine.Engine, _ repo.Repo) error {
				state, pivot, err := eng.LoadAt(ctx, id, eventID)
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{
					"event": map[string]any{
						"event_id":   pivot.ID(),
						"event_type": pivot.Type(),
						"created":    pivot.Created,
					},
					"state": state,
				})
			})
		},
	}
	cmd.Flags().StringVar(&eventID, "event", "", "event id to stop at (inclusive)")
	return cmd
}

func submissionRemoveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "remove <id>",
		Short: "Deactivate a submission",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			agent, err := cliAgent()
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, eng engine.Engine, _ repo.Repo) error {
				ev, err := events.New(events.TypeRemoveSubmission, nil, agent, nil, time.Now().UTC())
				if err != nil {
					return err
				}
				sub, applied, err := eng.Save(ctx, id, ev)
				if err != nil {
					return err
				}
				return printSaveResult(sub, applied)
			})
		},
	}
	return cmd
}

func eventCmd() *cobra.Command {
	evt := &cobra.Command{
		Use:   "event",
		Short: "Append and inspect events",
		Long:  "Events are the only write path. Append validates against the replayed state; --preflight reports every failure in the batch without storing anything.",
	}
	evt.AddCommand(eventAppendCmd())
	evt.AddCommand(eventTypesCmd())
	return evt
}

// eventInput is the file format for batched appends: a JSON array of these.
type eventInput struct {
	EventType string          `json:"event_type"`
	Data      json.RawMessage `json:"data,omitempty"`
	Created   *time.Time      `json:"created,omitempty"`
}

func eventAppendCmd() *cobra.Command {
	var eventType, dataJSON, createdAt, file string
	var preflight bool
	cmd := &cobra.Command{
		Use:   "append <submission-id>",
		Short: "Append events to a submission",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			agent, err := cliAgent()
			if err != nil {
				return err
			}
			inputs, err := collectEventInputs(eventType, dataJSON, createdAt, file)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, eng engine.Engine, _ repo.Repo) error {
				batch, err := inputsToEvents(inputs, agent)
				if err != nil {
					return err
				}
				if preflight {
					state, err := eng.Preflight(ctx, id, batch...)
					var stack *engine.InvalidStackError
					if errors.As(err, &stack) {
						if viper.GetBool("json") {
							msgs := make([]string, 0, len(stack.Errors))
							for _, e := range stack.Errors {
								msgs = append(msgs, e.Error())
							}
							_ = printJSON(map[string]any{"valid": false, "errors": msgs})
							return fmt.Errorf("preflight failed")
						}
						for _, e := range stack.Errors {
							fmt.Printf("  - %v\n", e)
						}
						return fmt.Errorf("preflight failed with %d error(s)", len(stack.Errors))
					}
					if err != nil {
						return err
					}
					if viper.GetBool("json") {
						return printJSON(map[string]any{"valid": true, "state": state})
					}
					fmt.Println("preflight OK")
					return nil
				}
				sub, applied, err := eng.Save(ctx, id, batch...)
				if err != nil {
					return err
				}
				return printSaveResult(sub, applied)
			})
		},
	}
	cmd.Flags().StringVar(&eventType, "type", "", "event type (see 'pt event types')")
	cmd.Flags().StringVar(&dataJSON, "data-json", "", "event payload JSON")
	cmd.Flags().StringVar(&createdAt, "created", "", "event creation time (RFC3339, defaults to now)")
	cmd.Flags().StringVar(&file, "file", "", "JSON file with an array of events ({event_type, data, created})")
	cmd.Flags().BoolVar(&preflight, "preflight", false, "validate without storing")
	return cmd
}

func collectEventInputs(eventType, dataJSON, createdAt, file string) ([]eventInput, error) {
	if file != "" {
		if eventType != "" || dataJSON != "" || createdAt != "" {
			return nil, fmt.Errorf("--file cannot be combined with --type, --data-json or --created")
		}
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, err
		}
		var inputs []eventInput
		if err := json.Unmarshal(data, &inputs); err != nil {
			return nil, fmt.Errorf("parse %s: %w", file, err)
		}
		if len(inputs) == 0 {
			return nil, fmt.Errorf("%s contains no events", file)
		}
		return inputs, nil
	}
	if eventType == "" {
		return nil, fmt.Errorf("--type required (or --file for a batch)")
	}
	in := eventInput{EventType: eventType}
	if dataJSON != "" {
		in.Data = json.RawMessage(dataJSON)
	}
	if createdAt != "" {
		ts, err := time.Parse(time.RFC3339, createdAt)
		if err != nil {
			return nil, fmt.Errorf("--created: %w", err)
		}
		in.Created = &ts
	}
	return []eventInput{in}, nil
}

// inputsToEvents stamps unset creation times with now, offset by index so
// same-type events in one batch keep distinct identities.
func inputsToEvents(inputs []eventInput, agent domain.Agent) ([]*events.Event, error) {
	now := time.Now().UTC()
	out := make([]*events.Event, 0, len(inputs))
	for i, in := range inputs {
		created := now.Add(time.Duration(i))
		if in.Created != nil {
			created = *in.Created
		}
		ev, err := events.New(in.EventType, in.Data, agent, nil, created)
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, nil
}

func eventTypesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "types",
		Short: "List accepted event types",
		RunE: func(cmd *cobra.Command, args []string) error {
			types := events.Types()
			if viper.GetBool("json") {
				return printJSON(types)
			}
			for _, t := range types {
				fmt.Println(t)
			}
			return nil
		},
	}
	return cmd
}

func ruleCmd() *cobra.Command {
	rule := &cobra.Command{
		Use:   "rule",
		Short: "Manage rules",
		Long:  "Rules synthesize follow-on events: when an event of the watched type commits, the consequence folds into the same save. Removed rules are deactivated, never deleted.",
	}
	rule.AddCommand(ruleAddCmd())
	rule.AddCommand(ruleListCmd())
	rule.AddCommand(ruleRemoveCmd())
	return rule
}

func ruleAddCmd() *cobra.Command {
	var onType, equalsJSON, emitType, emitJSON string
	var onSubmission int64
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a rule",
		RunE: func(cmd *cobra.Command, args []string) error {
			agent, err := cliAgent()
			if err != nil {
				return err
			}
			rule := rules.Rule{
				Creator: agent,
				Created: time.Now().UTC(),
				Active:  true,
				Condition: rules.Condition{
					EventType:    onType,
					SubmissionID: onSubmission,
				},
				Consequence: rules.Consequence{
					EventType: emitType,
				},
			}
			if equalsJSON != "" {
				if err := json.Unmarshal([]byte(equalsJSON), &rule.Condition.DataEquals); err != nil {
					return fmt.Errorf("--equals-json: %w", err)
				}
			}
			if emitJSON != "" {
				rule.Consequence.Data = json.RawMessage(emitJSON)
			}
			if err := rule.Validate(); err != nil {
				return err
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				stored, err := r.InsertRule(ctx, rule)
				if err != nil {
					return err
				}
				return printJSONOrTable(stored)
			})
		},
	}
	cmd.Flags().StringVar(&onType, "on-type", "", "event type the rule watches")
	cmd.Flags().Int64Var(&onSubmission, "on-submission", 0, "restrict to one submission (0 = all)")
	cmd.Flags().StringVar(&equalsJSON, "equals-json", "", "payload fields the trigger must match, as JSON")
	cmd.Flags().StringVar(&emitType, "emit-type", "", "event type the rule emits")
	cmd.Flags().StringVar(&emitJSON, "emit-json", "", "payload of the emitted event, as JSON")
	_ = cmd.MarkFlagRequired("on-type")
	_ = cmd.MarkFlagRequired("emit-type")
	return cmd
}

func ruleListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List rules",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListRules(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Active", "On", "Submission", "Emit", "Creator"})
				for _, rule := range items {
					scope := "all"
					if rule.Condition.SubmissionID != 0 {
						scope = strconv.FormatInt(rule.Condition.SubmissionID, 10)
					}
					tw.AppendRow(table.Row{rule.ID, rule.Active, rule.Condition.EventType, scope, rule.Consequence.EventType, rule.Creator.NativeID})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func ruleRemoveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rm <id>",
		Short: "Deactivate a rule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				if err := r.SetRuleActive(ctx, id, false); err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"rule_id": id, "active": false})
				}
				fmt.Printf("rule %d deactivated\n", id)
				return nil
			})
		},
	}
	return cmd
}

func keyCmd() *cobra.Command {
	key := &cobra.Command{
		Use:   "key",
		Short: "Manage client API keys",
		Long:  "Client keys let integrations call the API. Only a hash is stored; the plaintext key is printed once at creation.",
	}
	key.AddCommand(keyCreateCmd())
	key.AddCommand(keyListCmd())
	key.AddCommand(keyDisableCmd())
	return key
}

func keyCreateCmd() *cobra.Command {
	var clientID, name string
	var scopes []string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a client key",
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := generateKey()
			if err != nil {
				return err
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				stored, err := r.InsertClientKey(ctx, repo.ClientKey{
					Name:     name,
					ClientID: clientID,
					Scopes:   scopes,
					KeyHash:  repo.HashClientKey(raw),
					Active:   true,
				})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{
						"id":        stored.ID,
						"client_id": stored.ClientID,
						"name":      stored.Name,
						"scopes":    stored.Scopes,
						"key":       raw,
					})
				}
				fmt.Printf("Created key %d for client %s\n", stored.ID, stored.ClientID)
				fmt.Printf("API key (shown once, store it now): %s\n", raw)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&clientID, "client-id", "", "client identifier")
	cmd.Flags().StringVar(&name, "name", "", "human-readable name")
	cmd.Flags().StringArrayVar(&scopes, "scope", []string{"submission:read", "submission:write"}, "granted scope (repeatable)")
	_ = cmd.MarkFlagRequired("client-id")
	return cmd
}

func keyListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List client keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListClientKeys(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Client", "Name", "Scopes", "Active", "Created"})
				for _, k := range items {
					tw.AppendRow(table.Row{k.ID, k.ClientID, k.Name, strings.Join(k.Scopes, " "), k.Active, k.CreatedAt.UTC().Format(time.RFC3339)})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func keyDisableCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "disable <id>",
		Short: "Disable a client key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				if err := r.SetClientKeyActive(ctx, id, false); err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"id": id, "active": false})
				}
				fmt.Printf("key %d disabled\n", id)
				return nil
			})
		},
	}
	return cmd
}

func taxonomyCmd() *cobra.Command {
	tax := &cobra.Command{
		Use:   "taxonomy",
		Short: "Classification taxonomy",
	}
	tax.AddCommand(taxonomyListCmd())
	return tax
}

func taxonomyListCmd() *cobra.Command {
	var archive string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List categories",
		RunE: func(cmd *cobra.Command, args []string) error {
			var items []taxonomy.Category
			for _, c := range taxonomy.All() {
				if archive != "" && c.Archive != archive {
					continue
				}
				items = append(items, c)
			}
			if viper.GetBool("json") {
				return printJSON(items)
			}
			tw := table.NewWriter()
			tw.SetOutputMirror(os.Stdout)
			tw.AppendHeader(table.Row{"ID", "Name", "Archive", "Domain"})
			for _, c := range items {
				tw.AppendRow(table.Row{c.ID, c.Name, c.Archive, c.Domain})
			}
			tw.Render()
			return nil
		},
	}
	cmd.Flags().StringVar(&archive, "archive", "", "filter by archive")
	return cmd
}

func licenseCmd() *cobra.Command {
	lic := &cobra.Command{
		Use:   "license",
		Short: "License catalog",
	}
	lic.AddCommand(licenseListCmd())
	return lic
}

func licenseListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List licenses",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				type licenseRow struct {
					URI     string `json:"uri"`
					Name    string `json:"name"`
					Active  bool   `json:"active"`
					Default bool   `json:"default"`
				}
				var items []licenseRow
				for _, uri := range cfg.LicenseURIs() {
					lic := cfg.Licenses.Catalog[uri]
					items = append(items, licenseRow{URI: uri, Name: lic.Name, Active: lic.Active, Default: uri == cfg.Licenses.Default})
				}
				return printJSON(items)
			}
			tw := table.NewWriter()
			tw.SetOutputMirror(os.Stdout)
			tw.AppendHeader(table.Row{"URI", "Name", "Active", "Default"})
			for _, uri := range cfg.LicenseURIs() {
				lic := cfg.Licenses.Catalog[uri]
				tw.AppendRow(table.Row{uri, lic.Name, lic.Active, uri == cfg.Licenses.Default})
			}
			tw.Render()
			return nil
		},
	}
	return cmd
}

func agentCmd() *cobra.Command {
	agent := &cobra.Command{
		Use:   "agent",
		Short: "Agent identity helpers",
	}
	agent.AddCommand(agentIDCmd())
	return agent
}

func agentIDCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "id",
		Short: "Print the acting agent's stable identifier",
		RunE: func(cmd *cobra.Command, args []string) error {
			agent, err := cliAgent()
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(map[string]any{
					"agent_type": agent.Type,
					"native_id":  agent.NativeID,
					"identifier": agent.Identifier(),
				})
			}
			fmt.Println(agent.Identifier())
			return nil
		},
	}
	return cmd
}

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Event log",
	}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var n int
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Show the newest events across all submissions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				latest, err := r.LatestEventID(ctx)
				if err != nil {
					return err
				}
				cursor := latest - int64(n)
				if cursor < 0 {
					cursor = 0
				}
				items, err := r.EventsAfter(ctx, n, cursor)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Submission", "Type"})
				for _, e := range items {
					tw.AppendRow(table.Row{e.RowID, e.SubmissionID, e.EventType})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			appCtx, err := app.OpenWorkspace(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			defer appCtx.Close()
			secret := os.Getenv("PAPERTRAIL_JWT_SECRET")
			if secret == "" {
				secret = appCtx.Config.Auth.JWTSecret
			}
			if secret == "" {
				return fmt.Errorf("set PAPERTRAIL_JWT_SECRET or auth.jwt_secret for bearer auth")
			}
			handler, err := server.New(server.Config{
				Engine:   appCtx.Engine,
				Repo:     appCtx.Repo,
				BasePath: basePath,
				Auth: server.AuthConfig{
					JWTSecret:       secret,
					TrustUserHeader: appCtx.Config.Auth.TrustUserHeader,
				},
			})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Papertrail API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	return cmd
}

// --- helpers ---

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine, repo.Repo) error) error {
	appCtx, err := app.OpenWorkspace(viper.GetString("workspace"))
	if err != nil {
		return err
	}
	defer appCtx.Close()
	return fn(ctx, appCtx.Engine, appCtx.Repo)
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	appCtx, err := app.OpenWorkspace(viper.GetString("workspace"))
	if err != nil {
		return err
	}
	defer appCtx.Close()
	return fn(ctx, appCtx.Repo)
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadOptional(viper.GetString("workspace"))
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		cfg = config.Default()
	}
	return cfg, nil
}

func cliAgent() (domain.Agent, error) {
	return domain.NewAgent(
		domain.AgentType(viper.GetString("agent-type")),
		viper.GetString("user"),
	)
}

func printSaveResult(sub *domain.Submission, applied []*events.Event) error {
	envs, err := toEnvelopes(applied)
	if err != nil {
		return err
	}
	return printJSONOrTable(map[string]any{
		"submission": sub,
		"events":     envs,
	})
}

func toEnvelopes(evs []*events.Event) ([]events.Envelope, error) {
	out := make([]events.Envelope, 0, len(evs))
	for _, ev := range evs {
		env, err := events.ToEnvelope(ev)
		if err != nil {
			return nil, err
		}
		out = append(out, env)
	}
	return out, nil
}

func parseID(arg string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(arg), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid submission id %q", arg)
	}
	return id, nil
}

func parseBoolFlag(v string) (*bool, error) {
	if v == "" {
		return nil, nil
	}
	parsed, err := strconv.ParseBool(v)
	if err != nil {
		return nil, err
	}
	return &parsed, nil
}

func generateKey() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return "pk_" + hex.EncodeToString(buf), nil
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
