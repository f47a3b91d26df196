package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"andchange/internal/app"
	"andchange/internal/config"
	"andchange/internal/db"
	"andchange/internal/domain"
	"andchange/internal/engine"
	"andchange/internal/migrate"
	"andchange/internal/plan"
	"andchange/internal/repo"
	"andchange/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "anc",
	Short: "AndChange CLI",
	Long: `AndChange plans and tracks change-management action plans.
Core concepts:
- Workspace: your .andchange directory with the database; project config lives in the DB and is imported explicitly.
- Project: one change initiative; it owns recipients, the action plan, and the event log.
- Recipients: impacted groups, managers of people (MOPs), and sponsors the plan addresses.
- Action catalog: reusable org-level actions (who sends, who receives, cooldown, content template).
- Action plan: one per project; a grid of dated slots per recipient and ABSUP category, plus project-health and hygiene slots.
- Slots: move VACANT -> MOOTED -> ACCEPTED -> CONTENT_GENERATED -> COMPLETED; DELETED retires a slot without erasing it.
- Content: immutable generated records attached to accepted slots.
- Event log: diary of changes, view with 'anc log tail'.`,
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
	viper.SetEnvPrefix("ANDCHANGE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	rootCmd.PersistentFlags().String("project", "", "project id (overrides config default)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
	_ = viper.BindPFlag("project", rootCmd.PersistentFlags().Lookup("project"))
}

func registerCommands() {
	rootCmd.AddCommand(orgCmd())
	rootCmd.AddCommand(projectCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(recipientCmd())
	rootCmd.AddCommand(actionCmd())
	rootCmd.AddCommand(planCmd())
	rootCmd.AddCommand(slotCmd())
	rootCmd.AddCommand(contentCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(apikeyCmd())
	rootCmd.AddCommand(serveCmd())
}

func apikeyCmd() *cobra.Command {
	k := &cobra.Command{
		Use:   "apikey",
		Short: "Manage API keys",
		Long:  "API keys let tools call the HTTP API without a JWT. Only the SHA-256 hash is stored; the plaintext key prints once at creation.",
	}
	k.AddCommand(apikeyCreateCmd())
	k.AddCommand(apikeyListCmd())
	k.AddCommand(apikeyDeleteCmd())
	return k
}

func apikeyCreateCmd() *cobra.Command {
	var actorID, name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key for an actor",
		RunE: func(cmd *cobra.Command, args []string) error {
			if actorID == "" {
				actorID = viper.GetString("actor-id")
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				if err := r.EnsureActor(ctx, actorID); err != nil {
					return err
				}
				plaintext := uuid.NewString()
				key := domain.APIKey{
					ID:      uuid.NewString(),
					ActorID: actorID,
					Name:    name,
					KeyHash: repo.HashAPIKey(plaintext),
				}
				if err := r.InsertAPIKey(ctx, nil, key); err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"id": key.ID, "actor_id": actorID, "key": plaintext})
				}
				fmt.Printf("API key created for %s (id %s)\n", actorID, key.ID)
				fmt.Printf("Key (shown once): %s\n", plaintext)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&actorID, "actor", "", "actor id (defaults to --actor-id)")
	cmd.Flags().StringVar(&name, "name", "", "key label")
	return cmd
}

func apikeyListCmd() *cobra.Command {
	var actorID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				keys, err := r.ListAPIKeys(ctx, actorID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(keys)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Actor", "Name", "Created"})
				for _, k := range keys {
					tw.AppendRow(table.Row{k.ID, k.ActorID, k.Name, k.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&actorID, "actor", "", "actor filter")
	return cmd
}

func apikeyDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				return r.DeleteAPIKey(ctx, args[0])
			})
		},
	}
	return cmd
}

func orgCmd() *cobra.Command {
	org := &cobra.Command{Use: "org", Short: "Manage organizations"}
	org.AddCommand(orgCreateCmd())
	org.AddCommand(orgListCmd())
	org.AddCommand(orgShowCmd())
	return org
}

func orgCreateCmd() *cobra.Command {
	var id, name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create organization",
		RunE: func(cmd *cobra.Command, args []string) error {
			if name == "" {
				name = id
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				o := domain.Organization{
					ID:        id,
					Name:      name,
					CreatedAt: time.Now().UTC().Format(time.RFC3339),
				}
				if err := r.InsertOrganization(ctx, o); err != nil {
					return err
				}
				return printJSONOrTable(o)
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "organization id")
	cmd.Flags().StringVar(&name, "name", "", "organization name")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func orgListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List organizations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListOrganizations(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Created"})
				for _, o := range items {
					tw.AppendRow(table.Row{o.ID, o.Name, o.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func orgShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show an organization",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				o, err := r.GetOrganization(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(o)
			})
		},
	}
	return cmd
}

func projectCmd() *cobra.Command {
	prj := &cobra.Command{Use: "project", Short: "Manage projects"}
	prj.AddCommand(projectListCmd())
	prj.AddCommand(projectCreateCmd())
	prj.AddCommand(projectShowCmd())
	prj.AddCommand(projectUpdateCmd())
	prj.AddCommand(projectConfigCmd())
	prj.AddCommand(projectUseCmd())
	return prj
}

func projectListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List projects",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListProjects(ctx)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	return cmd
}

func projectCreateCmd() *cobra.Command {
	var id, orgID, name, desc string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create project",
		RunE: func(cmd *cobra.Command, args []string) error {
			if id == "" {
				return fmt.Errorf("--id required")
			}
			workspace := viper.GetString("workspace")
			if _, err := db.EnsureWorkspace(workspace); err != nil {
				return err
			}
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			cfg := config.Default(id)
			e := engine.New(conn, cfg)
			p, err := e.InitProject(cmd.Context(), id, orgID, name, desc, viper.GetString("actor-id"))
			if err != nil {
				return err
			}
			return printJSONOrTable(p)
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "project id")
	cmd.Flags().StringVar(&orgID, "org", "", "organization id")
	cmd.Flags().StringVar(&name, "name", "", "project name")
	cmd.Flags().StringVar(&desc, "description", "", "description")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func projectShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show a project",
		RunE: func(cmd *cobra.Command, args []string) error {
			target := viper.GetString("project")
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if target == "" {
					target = e.Config.Project.ID
				}
				p, err := e.Repo.GetProject(ctx, target)
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	return cmd
}

func projectUpdateCmd() *cobra.Command {
	var status string
	var description string
	cmd := &cobra.Command{
		Use:   "update",
		Short: "Update a project",
		RunE: func(cmd *cobra.Command, args []string) error {
			target := viper.GetString("project")
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if target == "" {
					target = e.Config.Project.ID
				}
				var descPtr *string
				if cmd.Flags().Changed("description") {
					descPtr = &description
				}
				if err := e.Repo.UpdateProject(ctx, target, status, descPtr); err != nil {
					return err
				}
				p, err := e.Repo.GetProject(ctx, target)
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "status (active, paused, archived)")
	cmd.Flags().StringVar(&description, "description", "", "description")
	return cmd
}

func projectUseCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "use <id>",
		Short: "Set current project for this workspace",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			projectID := strings.TrimSpace(args[0])
			if projectID == "" {
				return fmt.Errorf("project id is required")
			}
			workspace := viper.GetString("workspace")
			if err := setEnvValue(filepath.Join(workspace, ".env"), "ANDCHANGE_DEFAULT_PROJECT", projectID); err != nil {
				return err
			}
			fmt.Printf("Set ANDCHANGE_DEFAULT_PROJECT=%s in %s/.env\n", projectID, workspace)
			return nil
		},
	}
	return cmd
}

func projectConfigCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Manage project config",
	}
	cfg.AddCommand(projectConfigShowCmd())
	cfg.AddCommand(projectConfigImportCmd())
	return cfg
}

func projectConfigShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show project config stored in DB",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return printJSONOrTable(e.Config)
			})
		},
	}
	return cmd
}

func projectConfigImportCmd() *cobra.Command {
	var filePath string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import project config from YAML into the DB",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(filePath)
			if err != nil {
				return err
			}
			cfg, err := config.FromYAML(data)
			if err != nil {
				return err
			}
			projectID := cfg.Project.ID
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if projectID == "" {
					projectID = e.Config.Project.ID
				}
				if err := e.Repo.UpsertProjectConfig(ctx, projectID, cfg); err != nil {
					return err
				}
				return printJSONOrTable(cfg)
			})
		},
	}
	cmd.Flags().StringVar(&filePath, "file", "", "path to YAML config")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Inspect project config",
		Long:  "Config is the rulebook (stored in DB): project id/kind and planning knobs (horizon, cadence per ABSUP category, cooldowns, option batch size). Import from andchange.yml if desired.",
	}
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configValidateCmd())
	return cfg
}

func configShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show loaded config",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return printJSONOrTable(e.Config)
			})
		},
	}
	return cmd
}

func configValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate stored config",
		RunE: func(cmd *cobra.Command, args []string) error {
			err := withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.Config.Validate()
			})
			if viper.GetBool("json") {
				return printJSON(map[string]any{"ok": err == nil, "error": fmt.Sprint(err)})
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

func recipientCmd() *cobra.Command {
	rc := &cobra.Command{
		Use:   "recipient",
		Short: "Manage recipients",
		Long:  "Recipients are the people the plan addresses: impacted groups, managers of people, and sponsors. Each gets its own row of slots per ABSUP category.",
	}
	rc.AddCommand(recipientCreateCmd())
	rc.AddCommand(recipientListCmd())
	return rc
}

func recipientCreateCmd() *cobra.Command {
	var id, kind, name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Register a recipient",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				rc, err := e.CreateRecipient(ctx, e.Config.Project.ID, id, kind, name, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(rc)
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "recipient id (optional, deterministic UUID if omitted)")
	cmd.Flags().StringVar(&kind, "kind", "impacted_group", "impacted_group, manager_of_people, or sponsor")
	cmd.Flags().StringVar(&name, "name", "", "display name")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func recipientListCmd() *cobra.Command {
	var kind string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recipients",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListRecipients(ctx, e.Config.Project.ID, kind)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Kind", "Name"})
				for _, rc := range items {
					tw.AppendRow(table.Row{rc.ID, rc.Kind, rc.Name})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "", "kind filter")
	return cmd
}

func actionCmd() *cobra.Command {
	act := &cobra.Command{
		Use:   "action",
		Short: "Manage the action catalog",
		Long:  "Catalog actions are reusable org-level templates: who sends and receives, which ABSUP category and entity kind they serve, cooldown between uses, and the content template.",
	}
	act.AddCommand(actionCreateCmd())
	act.AddCommand(actionListCmd())
	act.AddCommand(actionGetCmd())
	return act
}

func actionCreateCmd() *cobra.Command {
	var a domain.Action
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Add a catalog action",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res, err := e.CreateAction(ctx, a, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(res)
			})
		},
	}
	cmd.Flags().StringVar(&a.OrgID, "org", "", "organization id")
	cmd.Flags().StringVar(&a.Name, "name", "", "action name")
	cmd.Flags().StringVar(&a.Category, "category", "", "ABSUP category (AWARENESS, BUYIN, SKILL, USE, PROFICIENCY)")
	cmd.Flags().StringVar(&a.EntityKind, "entity-kind", "impacted_group", "entity kind the action serves")
	cmd.Flags().StringVar(&a.Phase, "phase", "", "phase (prepare, manage, sustain)")
	cmd.Flags().StringVar(&a.Medium, "medium", "", "medium (none, paper, digital, both)")
	cmd.Flags().StringVar(&a.WhoSender, "who-sender", "", "sender role")
	cmd.Flags().StringVar(&a.WhoReceiver, "who-receiver", "", "receiver role")
	cmd.Flags().StringVar(&a.WhoExecutor, "who-executor", "", "executor role")
	cmd.Flags().IntVar(&a.CooldownDays, "cooldown-days", 0, "days before the action may repeat for the same recipient")
	cmd.Flags().BoolVar(&a.Shareable, "shareable", false, "content may be shared across recipients")
	cmd.Flags().BoolVar(&a.Sprint, "sprint", false, "action fits a sprint cadence")
	cmd.Flags().StringVar(&a.ContentTemplate, "content-template", "", "content template ({{action}}, {{entity}}, {{date}}, {{category}})")
	_ = cmd.MarkFlagRequired("org")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func actionListCmd() *cobra.Command {
	var f repo.ActionFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List catalog actions",
		RunE: func(cmd *cobra.Command, args []string) error {
			if f.OrgID == "" {
				return fmt.Errorf("--org required")
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListActions(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Category", "Entity", "Phase", "Cooldown"})
				for _, a := range items {
					tw.AppendRow(table.Row{a.ID, a.Name, a.Category, a.EntityKind, a.Phase, a.CooldownDays})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.OrgID, "org", "", "organization id")
	cmd.Flags().StringVar(&f.EntityKind, "entity-kind", "", "entity kind filter")
	cmd.Flags().StringVar(&f.Category, "category", "", "category filter")
	return cmd
}

func actionGetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get <id>",
		Short: "Get a catalog action",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid action id %q", args[0])
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				a, err := r.GetAction(ctx, id)
				if err != nil {
					return err
				}
				return printJSONOrTable(a)
			})
		},
	}
	return cmd
}

func planCmd() *cobra.Command {
	p := &cobra.Command{
		Use:   "plan",
		Short: "Manage the action plan",
		Long:  "A project has at most one plan. Creating it again either adds slots (--additive) or retires open slots and regenerates. Ranges scope generation to selected recipients and categories.",
	}
	p.AddCommand(planCreateCmd())
	p.AddCommand(planShowCmd())
	p.AddCommand(planByProjectCmd())
	p.AddCommand(planRowsCmd())
	return p
}

// rangeJSON mirrors the wire shape used by the HTTP API for date ranges.
type rangeJSON struct {
	StartDate string `json:"startDate"`
	EndDate   string `json:"endDate"`
}

func planCreateCmd() *cobra.Command {
	var additive bool
	var rangesJSON, healthJSON string
	var hygieneStart, hygieneEnd string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create or regenerate the plan",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				opts := engine.PlanCreateOptions{
					ProjectID:       e.Config.Project.ID,
					AdditiveProcess: additive,
					ActorID:         viper.GetString("actor-id"),
				}
				if rangesJSON != "" {
					var parsed map[string]map[string]rangeJSON
					if err := json.Unmarshal([]byte(rangesJSON), &parsed); err != nil {
						return fmt.Errorf("invalid --ranges-json: %w", err)
					}
					opts.Selective = map[string]map[string]engine.DateRange{}
					for entityID, byCat := range parsed {
						opts.Selective[entityID] = map[string]engine.DateRange{}
						for cat, r := range byCat {
							opts.Selective[entityID][cat] = engine.DateRange{StartDate: r.StartDate, EndDate: r.EndDate}
						}
					}
				}
				if healthJSON != "" {
					var parsed map[string]rangeJSON
					if err := json.Unmarshal([]byte(healthJSON), &parsed); err != nil {
						return fmt.Errorf("invalid --project-health-json: %w", err)
					}
					opts.ProjectHealth = map[string]engine.DateRange{}
					for cat, r := range parsed {
						opts.ProjectHealth[cat] = engine.DateRange{StartDate: r.StartDate, EndDate: r.EndDate}
					}
				}
				if hygieneStart != "" || hygieneEnd != "" {
					opts.Hygiene = &engine.DateRange{StartDate: hygieneStart, EndDate: hygieneEnd}
				}
				res, err := e.CreatePlan(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(res)
			})
		},
	}
	cmd.Flags().BoolVar(&additive, "additive", false, "keep existing slots and add new ones")
	cmd.Flags().StringVar(&rangesJSON, "ranges-json", "", `per-entity ranges, e.g. {"IG-1":{"AWARENESS":{"startDate":"2024-01-01","endDate":"2024-01-31"}}}`)
	cmd.Flags().StringVar(&healthJSON, "project-health-json", "", "per-category project health ranges")
	cmd.Flags().StringVar(&hygieneStart, "hygiene-start", "", "hygiene range start date")
	cmd.Flags().StringVar(&hygieneEnd, "hygiene-end", "", "hygiene range end date")
	return cmd
}

func planShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a plan by id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid plan id %q", args[0])
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.LoadPlan(ctx, id)
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	return cmd
}

func planByProjectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "by-project",
		Short: "Show the current project's plan",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.PlanByProject(ctx, e.Config.Project.ID)
				if errors.Is(err, repo.ErrNotFound) {
					fmt.Println("no plan yet; run 'anc plan create'")
					return nil
				}
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	return cmd
}

func planRowsCmd() *cobra.Command {
	var state string
	cmd := &cobra.Command{
		Use:   "rows",
		Short: "List the plan's slots as rows",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.Repo.GetPlanByProject(ctx, e.Config.Project.ID)
				if err != nil {
					return err
				}
				slots, err := e.Repo.ListSlotsByPlan(ctx, p.ID)
				if err != nil {
					return err
				}
				if state != "" {
					filtered := slots[:0]
					for _, s := range slots {
						if s.SlotState == state {
							filtered = append(filtered, s)
						}
					}
					slots = filtered
				}
				if viper.GetBool("json") {
					return printJSON(slots)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "AO", "Entity", "Category", "Date", "State", "Action"})
				for _, s := range slots {
					action := ""
					if s.ActionID != nil {
						action = strconv.FormatInt(*s.ActionID, 10)
					}
					entity := s.EntityKind
					if s.EntityID != "" {
						entity = s.EntityID
					}
					tw.AppendRow(table.Row{s.ID, s.AOID, entity, s.Category, s.SlotDate, s.SlotState, action})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&state, "state", "", "slot state filter")
	return cmd
}

func slotCmd() *cobra.Command {
	s := &cobra.Command{
		Use:   "slot",
		Short: "Inspect and update plan slots",
	}
	s.AddCommand(slotGetCmd())
	s.AddCommand(slotUpdateCmd())
	s.AddCommand(slotOptionsCmd())
	return s
}

func slotGetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get <id>",
		Short: "Get a slot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid slot id %q", args[0])
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				s, err := r.GetSlot(ctx, id)
				if err != nil {
					return err
				}
				return printJSONOrTable(s)
			})
		},
	}
	return cmd
}

func slotUpdateCmd() *cobra.Command {
	var date, state string
	var actionID int64
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update a slot's date, state, or action",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid slot id %q", args[0])
			}
			upd := engine.SlotUpdate{
				SlotID:    id,
				SlotDate:  date,
				SlotState: state,
				ActorID:   viper.GetString("actor-id"),
			}
			if cmd.Flags().Changed("action") {
				upd.ActionID = &actionID
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				s, err := e.UpdateSlot(ctx, upd)
				if err != nil {
					return err
				}
				return printJSONOrTable(s)
			})
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "new slot date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&state, "state", "", "new slot state")
	cmd.Flags().Int64Var(&actionID, "action", 0, "catalog action id")
	return cmd
}

func slotOptionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "options <id>",
		Short: "List catalog actions eligible for a slot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid slot id %q", args[0])
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				options, err := e.SlotOptions(ctx, id)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(options)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Category", "Cooldown"})
				for _, a := range options {
					tw.AppendRow(table.Row{a.ID, a.Name, a.Category, a.CooldownDays})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func contentCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "content",
		Short: "Generate and inspect slot content",
		Long:  "Content records are immutable: generating again appends a new record rather than replacing the old one.",
	}
	c.AddCommand(contentGenerateCmd())
	c.AddCommand(contentShowCmd())
	return c
}

func contentGenerateCmd() *cobra.Command {
	var slotIDs []int64
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate content for accepted slots",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				records, err := e.GenerateContent(ctx, engine.GenerateContentOptions{
					SlotIDs: slotIDs,
					ActorID: viper.GetString("actor-id"),
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(records)
			})
		},
	}
	cmd.Flags().Int64SliceVar(&slotIDs, "slot", []int64{}, "slot id (repeatable)")
	_ = cmd.MarkFlagRequired("slot")
	return cmd
}

func contentShowCmd() *cobra.Command {
	var slotIDs []int64
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show stored content for slots",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				bySlot, err := e.ContentForSlots(ctx, slotIDs)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(bySlot)
				}
				for _, id := range slotIDs {
					fmt.Printf("slot %d:\n", id)
					records := bySlot[id]
					if len(records) == 0 {
						fmt.Println("  (no content)")
						continue
					}
					for _, cr := range records {
						fmt.Printf("  [%d] %s\n", cr.ID, plan.DisplayText(cr.ResultJSON))
					}
				}
				return nil
			})
		},
	}
	cmd.Flags().Int64SliceVar(&slotIDs, "slot", []int64{}, "slot id (repeatable)")
	_ = cmd.MarkFlagRequired("slot")
	return cmd
}

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Event log",
		Long:  "The diary of everything that happened: plan regenerations, slot changes, content generation, and more.",
	}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var n int
	var follow bool
	var evtType, entityKind, entityID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				events, err := e.Repo.LatestEvents(ctx, n, e.Config.Project.ID, evtType, entityKind, entityID)
				if err != nil {
					return err
				}
				if err := printJSONOrTable(events); err != nil {
					return err
				}
				if !follow {
					return nil
				}
				cursor, err := e.Repo.LatestEventID(ctx, e.Config.Project.ID)
				if err != nil {
					return err
				}
				ticker := time.NewTicker(2 * time.Second)
				defer ticker.Stop()
				for {
					select {
					case <-ctx.Done():
						return nil
					case <-ticker.C:
					}
					fresh, err := e.Repo.EventsAfter(ctx, 100, cursor, e.Config.Project.ID)
					if err != nil {
						return err
					}
					for _, ev := range fresh {
						if err := printJSON(ev); err != nil {
							return err
						}
						cursor = ev.ID
					}
				}
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "poll for new events")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	cmd.Flags().StringVar(&entityKind, "entity-kind", "", "entity kind")
	cmd.Flags().StringVar(&entityID, "entity-id", "", "entity id")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var allowAnonymous bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			if _, err := db.EnsureWorkspace(workspace); err != nil {
				return err
			}
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			r := repo.Repo{DB: conn}
			_, cfg, err := app.ResolveProjectAndConfig(cmd.Context(), workspace, viper.GetString("project"), viper.GetString("actor-id"), r)
			if err != nil {
				return err
			}
			e := engine.New(conn, cfg)
			authCfg := server.AuthConfig{
				JWTSecret:      os.Getenv("ANDCHANGE_JWT_SECRET"),
				AllowAnonymous: allowAnonymous,
			}
			if authCfg.JWTSecret == "" && !allowAnonymous {
				return fmt.Errorf("ANDCHANGE_JWT_SECRET is required for bearer auth (or pass --allow-anonymous for local use)")
			}
			handler, err := server.New(server.Config{Engine: e, BasePath: basePath, Auth: authCfg})
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
			fmt.Printf("Serving AndChange API on http://%s%s (OpenAPI at /openapi.json, Swagger UI at /docs)\n", addr, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	cmd.Flags().BoolVar(&allowAnonymous, "allow-anonymous", false, "serve without authentication (local development only)")
	return cmd
}

// --- helpers ---

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	r := repo.Repo{DB: conn}
	_, cfg, err := app.ResolveProjectAndConfig(ctx, workspace, viper.GetString("project"), viper.GetString("actor-id"), r)
	if err != nil {
		return err
	}
	e := engine.New(conn, cfg)
	return fn(ctx, e)
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	r := repo.Repo{DB: conn}
	return fn(ctx, r)
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

func setEnvValue(path, key, value string) error {
	var lines []string
	seen := false
	f, err := os.Open(path)
	if err == nil {
		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			line := scanner.Text()
			if strings.HasPrefix(line, key+"=") {
				lines = append(lines, fmt.Sprintf("%s=%s", key, value))
				seen = true
			} else {
				lines = append(lines, line)
			}
		}
		if err := scanner.Err(); err != nil {
			f.Close()
			return err
		}
		f.Close()
	} else if !os.IsNotExist(err) {
		return err
	}
	if !seen {
		lines = append(lines, fmt.Sprintf("%s=%s", key, value))
	}
	content := strings.Join(lines, "\n")
	if content != "" && !strings.HasSuffix(content, "\n") {
		content += "\n"
	}
	return os.WriteFile(path, []byte(content), 0o644)
}
