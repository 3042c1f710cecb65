package cmd

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/CosmoTheDev/klara-agent/internal/actions"
	"github.com/CosmoTheDev/klara-agent/internal/agent"
	"github.com/CosmoTheDev/klara-agent/internal/history"
	"github.com/CosmoTheDev/klara-agent/internal/preferences"
	"github.com/CosmoTheDev/klara-agent/internal/tui"
	"github.com/CosmoTheDev/klara-agent/models"
)

var (
	fixValue     string
	fixStrategy  string
	fixStyle     string
	fixQuery     string
	fixPhotoURL  string
	assumeYes    bool
	historyLimit int
	historyFmt   string
)

var fixCmd = &cobra.Command{
	Use:   "fix ISSUE_ID",
	Short: "Fix one stored issue",
	Long: `Applies the remedy for an issue. Text issues (descriptions, SEO fields,
alt text) are filled with generated content unless --value is given. Image
issues need a strategy: --strategy, the stored IMAGE_FIX_STRATEGY preference,
or an interactive choice.

Examples:
  klara fix 12
  klara fix 12 --value "Hand-thrown stoneware mug, 350 ml"
  klara fix 31 --strategy stock --query "camping lantern"
  klara fix 31 --strategy ai --style lifestyle --yes`,
	Args: cobra.ExactArgs(1),
	RunE: runFix,
}

var undoCmd = &cobra.Command{
	Use:   "undo HISTORY_ID",
	Short: "Reverse a recorded fix",
	Long: `Restores the before-snapshot of a successful fix. An entry can be undone
once; failed fixes have nothing to undo.`,
	Args: cobra.ExactArgs(1),
	RunE: runUndo,
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recorded fixes, newest first",
	RunE:  runHistory,
}

func init() {
	fixCmd.Flags().StringVar(&fixValue, "value", "", "Use this text instead of generated content")
	fixCmd.Flags().StringVar(&fixStrategy, "strategy", "", "Image strategy: stock|ai")
	fixCmd.Flags().StringVar(&fixStyle, "style", "", "AI image style: studio|lifestyle|flatlay|promotional")
	fixCmd.Flags().StringVar(&fixQuery, "query", "", "Stock photo search query")
	fixCmd.Flags().StringVar(&fixPhotoURL, "photo-url", "", "Use this stock photo URL instead of searching")
	fixCmd.Flags().BoolVarP(&assumeYes, "yes", "y", false, "Skip the confirmation prompt")

	undoCmd.Flags().BoolVarP(&assumeYes, "yes", "y", false, "Skip the confirmation prompt")

	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "Maximum number of entries")
	historyCmd.Flags().StringVar(&historyFmt, "output", "table", "Output format: table|json|yaml")
}

func parseID(arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", arg)
	}
	return id, nil
}

func confirm(title string) (bool, error) {
	if assumeYes {
		return true, nil
	}
	ok := false
	err := huh.NewForm(huh.NewGroup(
		huh.NewConfirm().Title(title).Value(&ok),
	)).Run()
	return ok, err
}

func runFix(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	id, err := parseID(args[0])
	if err != nil {
		return err
	}

	svc, closeDB, err := openServices(ctx)
	if err != nil {
		return err
	}
	defer closeDB()

	iss, err := svc.Issues.Get(ctx, id)
	if err != nil {
		return err
	}
	if iss.Shop != svc.Shop {
		return fmt.Errorf("issue %d belongs to another shop", id)
	}

	opts := actions.FixOptions{
		Value:         fixValue,
		ImageStrategy: fixStrategy,
		Style:         models.ImageStyle(strings.ToUpper(fixStyle)),
		Query:         fixQuery,
		PhotoURL:      fixPhotoURL,
		Source:        models.SourceManual,
	}
	if iss.IssueType.NeedsImageStrategy() && opts.ImageStrategy == "" {
		if opts.ImageStrategy, err = askImageStrategy(ctx, svc); err != nil {
			return err
		}
	}

	fmt.Printf("Issue #%d: %s on %s\n", iss.ID, iss.Title, iss.EntityID)
	ok, err := confirm("Apply the fix?")
	if err != nil {
		return err
	}
	if !ok {
		fmt.Println(dimStyle.Render("Cancelled."))
		return nil
	}

	out, err := svc.Dispatcher.FixIssue(ctx, svc.Shop, id, opts)
	fmt.Print(tui.RenderOutcome(out))
	return err
}

// askImageStrategy prompts for a strategy when none is stored and offers to
// remember the answer. With a stored strategy it returns "" and FixIssue
// applies the stored one.
func askImageStrategy(ctx context.Context, svc *agent.Services) (string, error) {
	_, ok, err := svc.Prefs.Get(ctx, svc.Shop, preferences.KeyImageFixStrategy)
	if err != nil || ok {
		return "", err
	}
	if assumeYes {
		return "", fmt.Errorf("%w: pass --strategy stock|ai", actions.ErrManualOnly)
	}
	var strategy string
	remember := false
	err = huh.NewForm(huh.NewGroup(
		huh.NewSelect[string]().
			Title("How should missing images be fixed?").
			Options(
				huh.NewOption("Stock photo (Unsplash / Pexels)", preferences.StrategyStock),
				huh.NewOption("AI-generated image", preferences.StrategyAI),
			).
			Value(&strategy),
		huh.NewConfirm().
			Title("Remember this choice for future image fixes?").
			Value(&remember),
	)).Run()
	if err != nil {
		return "", err
	}
	if remember {
		if err := svc.Prefs.Set(ctx, svc.Shop, preferences.KeyImageFixStrategy, strategy); err != nil {
			return "", err
		}
	}
	return strategy, nil
}

func runUndo(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	id, err := parseID(args[0])
	if err != nil {
		return err
	}

	svc, closeDB, err := openServices(ctx)
	if err != nil {
		return err
	}
	defer closeDB()

	entry, err := svc.Ledger.Get(ctx, id)
	if err != nil {
		return err
	}
	if entry.Shop != svc.Shop {
		return fmt.Errorf("history entry %d belongs to another shop", id)
	}

	ok, err := confirm(fmt.Sprintf("Undo %s on %s?", entry.Action, entry.ProductID))
	if err != nil {
		return err
	}
	if !ok {
		fmt.Println(dimStyle.Render("Cancelled."))
		return nil
	}

	if _, err := svc.Undo(ctx, id); err != nil {
		var ue *history.UndoError
		if errors.As(err, &ue) {
			return fmt.Errorf("cannot undo entry %d: %w", ue.EntryID, ue.Reason)
		}
		return err
	}
	fmt.Println(successStyle.Render(fmt.Sprintf("Entry #%d undone; %s restored.", id, entry.ProductID)))
	return nil
}

func runHistory(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	svc, closeDB, err := openServices(ctx)
	if err != nil {
		return err
	}
	defer closeDB()

	entries, err := svc.Ledger.List(ctx, svc.Shop, historyLimit)
	if err != nil {
		return fmt.Errorf("listing history: %w", err)
	}
	return printResult(historyFmt, entries, func() string {
		return tui.RenderHistory(entries)
	})
}
