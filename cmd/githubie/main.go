package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"githubie.shikanime.studio/cmd/githubie/app"
	"githubie.shikanime.studio/internal/collections"
	"githubie.shikanime.studio/internal/collections/github"
	"githubie.shikanime.studio/internal/config"
	"githubie.shikanime.studio/internal/database"
	"githubie.shikanime.studio/internal/report"
	"githubie.shikanime.studio/internal/types"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}

var (
	rootCmd = &cobra.Command{
		Use:               "githubie",
		Short:             "Browse GitHub repositories by topic collections",
		SilenceUsage:      true,
		PersistentPreRunE: setup,
		PersistentPostRun: teardown,
	}
	collectionsCmd = &cobra.Command{
		Use:   "collections",
		Short: "Manage collections",
	}
	listCmd = &cobra.Command{
		Use:   "list",
		Short: "List collections",
		Args:  cobra.NoArgs,
		RunE:  withEngine(runList),
	}
	createCmd = &cobra.Command{
		Use:   "create",
		Short: "Create a collection; prompts when --name is omitted",
		Args:  cobra.NoArgs,
		RunE:  withEngine(runCreate),
	}
	editCmd = &cobra.Command{
		Use:   "edit <id>",
		Short: "Edit a collection",
		Args:  cobra.ExactArgs(1),
		RunE:  withEngine(runEdit),
	}
	deleteCmd = &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a collection with its cached repositories and favorites",
		Args:  cobra.ExactArgs(1),
		RunE:  withEngine(runDelete),
	}
	addTopicCmd = &cobra.Command{
		Use:   "add-topic <id> <topic>",
		Short: "Add a topic to a collection",
		Args:  cobra.ExactArgs(2),
		RunE:  withEngine(runAddTopic),
	}
	seedCmd = &cobra.Command{
		Use:   "seed",
		Short: "Create the starter collections when none exist",
		Args:  cobra.NoArgs,
		RunE:  withEngine(runSeed),
	}
	selectCmd = &cobra.Command{
		Use:   "select <id>",
		Short: "Select a collection and load its repositories",
		Args:  cobra.ExactArgs(1),
		RunE:  withEngine(runSelect),
	}
	reposCmd = &cobra.Command{
		Use:   "repos <id>",
		Short: "Show the repositories of a collection",
		Args:  cobra.ExactArgs(1),
		RunE:  withEngine(runRepos),
	}
	browseCmd = &cobra.Command{
		Use:   "browse <id>",
		Short: "Interactively browse unseen repositories",
		Args:  cobra.ExactArgs(1),
		RunE:  withEngine(runBrowse),
	}
	seenCmd = &cobra.Command{
		Use:   "seen <id> <repo-id>",
		Short: "Mark a repository as seen",
		Args:  cobra.ExactArgs(2),
		RunE:  withEngine(runSeen),
	}
	favoriteCmd = &cobra.Command{
		Use:   "favorite <id> <repo-id>",
		Short: "Toggle a repository as favorite",
		Args:  cobra.ExactArgs(2),
		RunE:  withEngine(runFavorite),
	}
	favoritesCmd = &cobra.Command{
		Use:   "favorites <id>",
		Short: "List the favorites of a collection",
		Args:  cobra.ExactArgs(1),
		RunE:  withEngine(runFavorites),
	}
	exportCmd = &cobra.Command{
		Use:   "export <id>",
		Short: "Print the share code of a collection",
		Args:  cobra.ExactArgs(1),
		RunE:  withEngine(runExport),
	}
	importCmd = &cobra.Command{
		Use:   "import <code>",
		Short: "Import a collection from a share code",
		Args:  cobra.ExactArgs(1),
		RunE:  withEngine(runImport),
	}
	tokenCmd = &cobra.Command{
		Use:   "token [value]",
		Short: "Set, show or clear the GitHub API key",
		Args:  cobra.MaximumNArgs(1),
		RunE:  withEngine(runToken),
	}
	discoverCmd = &cobra.Command{
		Use:   "discover",
		Short: "List popular repositories regardless of topic",
		Args:  cobra.NoArgs,
		RunE:  withEngine(runDiscover),
	}
	chartCmd = &cobra.Command{
		Use:   "chart <id>",
		Short: "Render an HTML chart of a collection",
		Args:  cobra.ExactArgs(1),
		RunE:  withEngine(runChart),
	}
	pingCmd = &cobra.Command{
		Use:   "ping",
		Short: "Check the database connection",
		Args:  cobra.NoArgs,
		RunE:  withEngine(runPing),
	}
	migrateCmd = &cobra.Command{
		Use:   "migrate",
		Short: "Database migrations",
	}
	upCmd = &cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		RunE:  runMigrateUp,
	}
	downCmd = &cobra.Command{
		Use:   "down",
		Short: "Revert all applied migrations",
		RunE:  runMigrateDown,
	}

	cfg      *config.Config
	shutdown = func() {}

	// Flags
	dsn          string
	configFile   string
	name         string
	topics       string
	minStars     int
	popularStars int
	yes          bool
	refresh      bool
	page         int
	showSeen     bool
	clearToken   bool
	out          string
	top          int
)

func init() {
	rootCmd.PersistentFlags().StringVar(&dsn, "dsn", "", "Database source name in the format driver://dataSourceName. Falls back to DSN environment variable")
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Optional config file watched for changes")

	for _, c := range []*cobra.Command{createCmd, editCmd} {
		c.Flags().StringVar(&name, "name", "", "Collection name")
		c.Flags().StringVar(&topics, "topics", "", "Comma-separated topics, each as name or name:stars")
		c.Flags().IntVar(&minStars, "min-stars", 0, "Default star threshold of the collection; create falls back to DEFAULT_MIN_STARS")
	}
	deleteCmd.Flags().BoolVarP(&yes, "yes", "y", false, "Do not ask for confirmation")
	reposCmd.Flags().BoolVar(&refresh, "refresh", false, "Reload from GitHub even when the cache is fresh")
	reposCmd.Flags().IntVar(&page, "page", 1, "Number of pages to show")
	reposCmd.Flags().BoolVar(&showSeen, "seen", false, "Show seen repositories instead")
	tokenCmd.Flags().BoolVar(&clearToken, "clear", false, "Remove the stored API key")
	discoverCmd.Flags().IntVar(&popularStars, "min-stars", github.DefaultPopularMinStars, "Minimum stars")
	chartCmd.Flags().StringVarP(&out, "out", "o", "", "Output file; defaults to stdout")
	chartCmd.Flags().IntVar(&top, "top", report.DefaultTop, "Number of repositories to plot")

	collectionsCmd.AddCommand(listCmd, createCmd, editCmd, deleteCmd, addTopicCmd, seedCmd, selectCmd)
	migrateCmd.AddCommand(upCmd, downCmd)
	rootCmd.AddCommand(
		collectionsCmd,
		reposCmd,
		browseCmd,
		seenCmd,
		favoriteCmd,
		favoritesCmd,
		exportCmd,
		importCmd,
		tokenCmd,
		discoverCmd,
		chartCmd,
		pingCmd,
		migrateCmd,
	)
}

func setup(cmd *cobra.Command, args []string) error {
	_ = godotenv.Load()
	cfg = config.New()
	if err := cfg.ReadFile(configFile); err != nil {
		return err
	}
	if dsn != "" {
		cfg.Set("DSN", dsn)
	}
	config.SetupLog(cfg, os.Stderr)
	cfg.Watch()

	var err error
	shutdown, err = config.SetupTelemetry(cmd.Context(), cfg)
	if err != nil {
		slog.Warn("Failed to set up telemetry", "error", err)
	}
	return nil
}

func teardown(cmd *cobra.Command, args []string) { shutdown() }

func withEngine(fn func(context.Context, *collections.Collections, []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		c, err := app.Open(ctx, cfg)
		if err != nil {
			return err
		}
		defer func() {
			if err := c.Close(); err != nil {
				slog.Warn("Error during shutdown", "error", err)
			}
		}()
		return fn(ctx, c, args)
	}
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid id %q", s)
	}
	return id, nil
}

func parseIDs(args []string) (int64, int64, error) {
	id, err := parseID(args[0])
	if err != nil {
		return 0, 0, err
	}
	repoID, err := parseID(args[1])
	if err != nil {
		return 0, 0, err
	}
	return id, repoID, nil
}

func runList(ctx context.Context, c *collections.Collections, args []string) error {
	var selected int64
	if sel, ok := c.Selected(); ok {
		selected = sel.ID
	}
	return app.PrintCollections(os.Stdout, c.List(), selected)
}

func runCreate(ctx context.Context, c *collections.Collections, args []string) error {
	var draft types.Collection
	if name == "" {
		var err error
		if draft, err = app.PromptDraft(cfg.GetDefaultMinStars()); err != nil {
			return err
		}
	} else {
		var stars *int
		if createCmd.Flags().Changed("min-stars") {
			stars = &minStars
		}
		var err error
		if draft, err = app.DraftFromFlags(name, topics, stars, cfg.GetDefaultMinStars()); err != nil {
			return err
		}
	}
	col, err := c.Create(ctx, draft)
	if err != nil {
		return err
	}
	fmt.Println(col.ID)
	return nil
}

func runEdit(ctx context.Context, c *collections.Collections, args []string) error {
	id, err := parseID(args[0])
	if err != nil {
		return err
	}
	col, ok := c.Get(id)
	if !ok {
		return fmt.Errorf("%w: %d", collections.ErrNotFound, id)
	}
	flags := editCmd.Flags()
	if flags.Changed("name") {
		col.Name = name
	}
	if flags.Changed("min-stars") {
		col.MinStars = minStars
	}
	if flags.Changed("topics") {
		if col.Topics, err = app.ParseTopics(topics); err != nil {
			return err
		}
	}
	col.SeenRepoIDs = nil
	return c.Update(ctx, col)
}

func runDelete(ctx context.Context, c *collections.Collections, args []string) error {
	id, err := parseID(args[0])
	if err != nil {
		return err
	}
	col, ok := c.Get(id)
	if !ok {
		return fmt.Errorf("%w: %d", collections.ErrNotFound, id)
	}
	if !yes {
		ok, err := app.Confirm(fmt.Sprintf("Delete collection %q?", col.Name), false)
		if err != nil || !ok {
			return err
		}
	}
	return c.Delete(ctx, id)
}

func runAddTopic(ctx context.Context, c *collections.Collections, args []string) error {
	id, err := parseID(args[0])
	if err != nil {
		return err
	}
	return c.AddTopic(ctx, id, args[1])
}

func runSeed(ctx context.Context, c *collections.Collections, args []string) error {
	created, err := c.Seed(ctx)
	if err != nil {
		return err
	}
	return app.PrintCollections(os.Stdout, created, 0)
}

func runSelect(ctx context.Context, c *collections.Collections, args []string) error {
	id, err := parseID(args[0])
	if err != nil {
		return err
	}
	if _, err := c.Select(ctx, id); err != nil {
		return err
	}
	repos, _ := c.Page(id, 1)
	return app.PrintRepositories(os.Stdout, repos, c.Favorites(id))
}

func runRepos(ctx context.Context, c *collections.Collections, args []string) error {
	id, err := parseID(args[0])
	if err != nil {
		return err
	}
	var entry types.CacheEntry
	if refresh {
		entry, err = c.Refresh(ctx, id)
	} else {
		entry, err = c.Repositories(ctx, id)
	}
	if err != nil {
		return err
	}
	if showSeen {
		return app.PrintRepositories(os.Stdout, entry.Seen, c.Favorites(id))
	}
	repos, more := c.Page(id, page)
	if err := app.PrintRepositories(os.Stdout, repos, c.Favorites(id)); err != nil {
		return err
	}
	if more {
		fmt.Printf("\n%d of %d shown; use --page %d for more\n", len(repos), len(entry.Unseen), page+1)
	}
	return nil
}

func runBrowse(ctx context.Context, c *collections.Collections, args []string) error {
	id, err := parseID(args[0])
	if err != nil {
		return err
	}
	return app.Browse(ctx, c, id)
}

func runSeen(ctx context.Context, c *collections.Collections, args []string) error {
	id, repoID, err := parseIDs(args)
	if err != nil {
		return err
	}
	return c.MarkSeen(ctx, id, repoID)
}

func runFavorite(ctx context.Context, c *collections.Collections, args []string) error {
	id, repoID, err := parseIDs(args)
	if err != nil {
		return err
	}
	_, err = c.ToggleFavorite(ctx, id, repoID)
	return err
}

func runFavorites(ctx context.Context, c *collections.Collections, args []string) error {
	id, err := parseID(args[0])
	if err != nil {
		return err
	}
	favs := c.Favorites(id)
	return app.PrintRepositories(os.Stdout, favs, favs)
}

func runExport(ctx context.Context, c *collections.Collections, args []string) error {
	id, err := parseID(args[0])
	if err != nil {
		return err
	}
	share, err := c.Export(id)
	if err != nil {
		return err
	}
	fmt.Println(share)
	return nil
}

func runImport(ctx context.Context, c *collections.Collections, args []string) error {
	col, err := c.Import(ctx, args[0])
	if err != nil {
		return err
	}
	fmt.Println(col.ID)
	repos, _ := c.Page(col.ID, 1)
	return app.PrintRepositories(os.Stdout, repos, c.Favorites(col.ID))
}

func runToken(ctx context.Context, c *collections.Collections, args []string) error {
	switch {
	case clearToken:
		c.SetCredential(ctx, "")
	case len(args) == 1:
		c.SetCredential(ctx, args[0])
	case c.Credential() == "":
		fmt.Println("No GitHub API key configured")
	default:
		fmt.Println("GitHub API key configured")
	}
	return nil
}

func runDiscover(ctx context.Context, c *collections.Collections, args []string) error {
	repos, err := c.Discover(ctx, popularStars)
	if err != nil {
		return err
	}
	return app.PrintRepositories(os.Stdout, repos, nil)
}

func runChart(ctx context.Context, c *collections.Collections, args []string) error {
	id, err := parseID(args[0])
	if err != nil {
		return err
	}
	col, ok := c.Get(id)
	if !ok {
		return fmt.Errorf("%w: %d", collections.ErrNotFound, id)
	}
	entry, err := c.Repositories(ctx, id)
	if err != nil {
		return err
	}
	w := os.Stdout
	if out != "" {
		f, err := os.Create(out)
		if err != nil {
			return err
		}
		defer f.Close()
		w = f
	}
	return report.Render(w, col, entry, top)
}

func runPing(ctx context.Context, c *collections.Collections, args []string) error {
	return c.Ping(ctx)
}

func runMigrateUp(cmd *cobra.Command, args []string) error {
	mg, err := database.NewMigratorForConfig(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer mg.Close()

	return mg.Up()
}

func runMigrateDown(cmd *cobra.Command, args []string) error {
	mg, err := database.NewMigratorForConfig(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer mg.Close()

	return mg.Down()
}
