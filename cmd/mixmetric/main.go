// Package main provides the mixmetric CLI entry point.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/barsmith/mixmetric/pkg/compose"
	"github.com/barsmith/mixmetric/pkg/config"
	"github.com/barsmith/mixmetric/pkg/engine"
	"github.com/barsmith/mixmetric/pkg/hierarchy"
	"github.com/barsmith/mixmetric/pkg/knn"
	"github.com/barsmith/mixmetric/pkg/pantry"
	"github.com/barsmith/mixmetric/pkg/snapshot"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "mixmetric",
		Short: "Mixmetric - Ingredient-aware recipe similarity engine",
		Long: `Mixmetric measures how similar recipes are by how similar their
ingredients are, using a weighted ingredient taxonomy and optimal
transport between recipe compositions.

Commands load a flat ingredient catalog and a recipe list from JSON
files and answer similarity, substitution, pantry, and corpus
statistics queries over them.`,
	}
	rootCmd.PersistentFlags().String("config", "", "Config file (YAML), MIXMETRIC_* env vars override")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("mixmetric v%s (%s)\n", version, commit)
		},
	})

	// Matrix command group
	matrixCmd := &cobra.Command{
		Use:   "matrix",
		Short: "Ground-distance matrix operations",
	}
	buildCmd := &cobra.Command{
		Use:   "build",
		Short: "Build the ground-distance matrix and persist a snapshot",
		RunE:  runMatrixBuild,
	}
	buildCmd.Flags().String("catalog", "catalog.json", "Ingredient catalog file (JSON)")
	buildCmd.Flags().String("recipes", "", "Recipe corpus file (JSON); also persists the substitution matrix")
	buildCmd.Flags().String("snapshot-dir", "./snapshots", "Snapshot store directory")
	matrixCmd.AddCommand(buildCmd)
	rootCmd.AddCommand(matrixCmd)

	// KNN command
	knnCmd := &cobra.Command{
		Use:   "knn [recipe-id]",
		Short: "Find the k most similar recipes",
		Args:  cobra.ExactArgs(1),
		RunE:  runKNN,
	}
	knnCmd.Flags().String("catalog", "catalog.json", "Ingredient catalog file (JSON)")
	knnCmd.Flags().String("recipes", "recipes.json", "Recipe corpus file (JSON)")
	knnCmd.Flags().Int("k", 5, "Number of neighbors")
	knnCmd.Flags().StringSlice("tag", nil, "Restrict candidates to recipes carrying any of these tags")
	rootCmd.AddCommand(knnCmd)

	// Substitutes command
	substCmd := &cobra.Command{
		Use:   "subst [ingredient-id]",
		Short: "Rank substitution candidates for an ingredient",
		Args:  cobra.ExactArgs(1),
		RunE:  runSubst,
	}
	substCmd.Flags().String("catalog", "catalog.json", "Ingredient catalog file (JSON)")
	substCmd.Flags().String("recipes", "recipes.json", "Recipe corpus file (JSON)")
	substCmd.Flags().Int("k", 5, "Number of candidates")
	rootCmd.AddCommand(substCmd)

	// Stats command
	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Show corpus statistics",
		RunE:  runStats,
	}
	statsCmd.Flags().String("catalog", "catalog.json", "Ingredient catalog file (JSON)")
	statsCmd.Flags().String("recipes", "recipes.json", "Recipe corpus file (JSON)")
	rootCmd.AddCommand(statsCmd)

	// Pantry command
	pantryCmd := &cobra.Command{
		Use:   "pantry",
		Short: "Estimate which recipes an inventory can produce",
		RunE:  runPantry,
	}
	pantryCmd.Flags().String("catalog", "catalog.json", "Ingredient catalog file (JSON)")
	pantryCmd.Flags().String("recipes", "recipes.json", "Recipe corpus file (JSON)")
	pantryCmd.Flags().String("have", "", "Inventory as id=probability pairs, e.g. gin=1,tonic=0.5")
	rootCmd.AddCommand(pantryCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig(cmd *cobra.Command) (config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		return config.LoadFromEnv(), nil
	}
	return config.Load(path)
}

func loadJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	return nil
}

// loadEngine builds an engine from the catalog and, when recipesPath is
// non-empty, registers the recipe corpus.
func loadEngine(cmd *cobra.Command, recipesPath string) (*engine.Engine, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	eng, err := engine.New(cfg)
	if err != nil {
		return nil, err
	}

	catalogPath, _ := cmd.Flags().GetString("catalog")
	var records []hierarchy.Record
	if err := loadJSON(catalogPath, &records); err != nil {
		return nil, fmt.Errorf("loading catalog: %w", err)
	}
	if err := eng.SetCatalog(records); err != nil {
		return nil, err
	}

	if recipesPath != "" {
		var recipes []compose.Recipe
		if err := loadJSON(recipesPath, &recipes); err != nil {
			return nil, fmt.Errorf("loading recipes: %w", err)
		}
		for _, r := range recipes {
			if err := eng.UpsertRecipe(r, r.Tags...); err != nil {
				return nil, fmt.Errorf("recipe %q: %w", r.ID, err)
			}
		}
	}
	return eng, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func runMatrixBuild(cmd *cobra.Command, args []string) error {
	recipesPath, _ := cmd.Flags().GetString("recipes")
	eng, err := loadEngine(cmd, recipesPath)
	if err != nil {
		return err
	}

	snapshotDir, _ := cmd.Flags().GetString("snapshot-dir")
	if err := os.MkdirAll(snapshotDir, 0755); err != nil {
		return fmt.Errorf("creating snapshot directory: %w", err)
	}
	store, err := snapshot.NewBadgerStore(snapshot.BadgerOptions{Dir: snapshotDir})
	if err != nil {
		return fmt.Errorf("opening snapshot store: %w", err)
	}
	defer store.Close()

	ctx, cancel := signalContext()
	defer cancel()
	if err := eng.SaveDistanceSnapshot(ctx, store); err != nil {
		return fmt.Errorf("persisting distance matrix: %w", err)
	}
	fmt.Printf("✅ Ground-distance matrix built and persisted\n")
	if recipesPath != "" {
		if err := eng.SaveSubstitutionSnapshot(ctx, store); err != nil {
			return fmt.Errorf("persisting substitution matrix: %w", err)
		}
		fmt.Printf("✅ Substitution matrix persisted\n")
	}
	fmt.Printf("   Catalog version: %s\n", eng.CatalogVersion())
	fmt.Printf("   Snapshot store:  %s\n", snapshotDir)
	return nil
}

func runKNN(cmd *cobra.Command, args []string) error {
	recipesPath, _ := cmd.Flags().GetString("recipes")
	eng, err := loadEngine(cmd, recipesPath)
	if err != nil {
		return err
	}

	k, _ := cmd.Flags().GetInt("k")
	tags, _ := cmd.Flags().GetStringSlice("tag")

	ctx, cancel := signalContext()
	defer cancel()
	neighbors, err := eng.Nearest(ctx, args[0], k, knn.QueryOptions{Tags: tags})
	if err != nil {
		return err
	}

	fmt.Printf("Nearest to %s:\n", args[0])
	for i, n := range neighbors {
		marker := ""
		if n.Approximate {
			marker = " (approx)"
		}
		fmt.Printf("  %d. %-24s %.4f%s\n", i+1, n.RecipeID, n.Distance, marker)
	}
	return nil
}

func runSubst(cmd *cobra.Command, args []string) error {
	recipesPath, _ := cmd.Flags().GetString("recipes")
	eng, err := loadEngine(cmd, recipesPath)
	if err != nil {
		return err
	}

	k, _ := cmd.Flags().GetInt("k")
	subs := eng.Substitutes(args[0], k)
	if len(subs) == 0 {
		fmt.Printf("No substitution candidates for %s\n", args[0])
		return nil
	}

	fmt.Printf("Substitutes for %s:\n", args[0])
	for i, s := range subs {
		fmt.Printf("  %d. %-24s %+.4f\n", i+1, s.IngredientID, s.Score)
	}
	return nil
}

func runStats(cmd *cobra.Command, args []string) error {
	recipesPath, _ := cmd.Flags().GetString("recipes")
	eng, err := loadEngine(cmd, recipesPath)
	if err != nil {
		return err
	}

	usage := eng.IngredientUsage()
	fmt.Printf("Ingredient usage (%d ingredients):\n", len(usage))
	for _, u := range usage {
		fmt.Printf("  %-24s %3d recipes  mean weight %.3f\n", u.IngredientID, u.Recipes, u.MeanWeight)
	}

	cx, err := eng.RecipeComplexity()
	if err != nil {
		return err
	}
	fmt.Printf("\nRecipe complexity (%d recipes):\n", len(cx))
	for _, c := range cx {
		fmt.Printf("  %-24s %2d ingredients  entropy %.3f  mean pair distance %.3f\n",
			c.RecipeID, c.Ingredients, c.Entropy, c.MeanPairDistance)
	}
	return nil
}

func runPantry(cmd *cobra.Command, args []string) error {
	recipesPath, _ := cmd.Flags().GetString("recipes")
	eng, err := loadEngine(cmd, recipesPath)
	if err != nil {
		return err
	}

	have, _ := cmd.Flags().GetString("have")
	inv, err := parseInventory(have)
	if err != nil {
		return err
	}

	est := eng.Pantry(inv)
	fmt.Printf("Expected makeable recipes: %.2f\n", est.ExpectedMatches)
	for _, m := range est.Recipes {
		line := fmt.Sprintf("  %-24s %.0f%%", m.RecipeID, m.Probability*100)
		if len(m.Missing) > 0 {
			line += "  missing: " + strings.Join(m.Missing, ", ")
		}
		fmt.Println(line)
	}
	return nil
}

// parseInventory parses "gin=1,tonic=0.5" into an Inventory. A bare id
// without "=" means probability 1.
func parseInventory(s string) (pantry.Inventory, error) {
	inv := pantry.Inventory{}
	if strings.TrimSpace(s) == "" {
		return inv, nil
	}
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, val, found := strings.Cut(part, "=")
		if !found {
			inv[id] = 1
			continue
		}
		p, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return nil, fmt.Errorf("inventory entry %q: %w", part, err)
		}
		inv[id] = p
	}
	return inv, nil
}
