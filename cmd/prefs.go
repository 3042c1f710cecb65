package cmd

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/CosmoTheDev/klara-agent/internal/preferences"
)

var prefsCmd = &cobra.Command{
	Use:   "prefs",
	Short: "View and change per-shop preferences",
	Long: `Preferences remember choices so klara stops asking. IMAGE_FIX_STRATEGY
(STOCK or AI) decides how missing-image findings are remedied during scans.`,
	RunE: runPrefsList,
}

var prefsGetCmd = &cobra.Command{
	Use:   "get KEY",
	Short: "Print a preference value",
	Args:  cobra.ExactArgs(1),
	RunE:  runPrefsGet,
}

var prefsSetCmd = &cobra.Command{
	Use:   "set KEY [VALUE]",
	Short: "Store a preference (prompts for the value when omitted)",
	Args:  cobra.RangeArgs(1, 2),
	RunE:  runPrefsSet,
}

var prefsClearCmd = &cobra.Command{
	Use:   "clear KEY",
	Short: "Remove a preference",
	Args:  cobra.ExactArgs(1),
	RunE:  runPrefsClear,
}

func init() {
	prefsCmd.AddCommand(prefsGetCmd, prefsSetCmd, prefsClearCmd)
}

func prefKey(arg string) (string, error) {
	key := strings.ToUpper(strings.TrimSpace(arg))
	if preferences.Values(key) == nil {
		return "", fmt.Errorf("%w: %q (known: %s)", preferences.ErrUnknownKey, arg, strings.Join(preferences.Keys(), ", "))
	}
	return key, nil
}

func runPrefsList(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	svc, closeDB, err := openServices(ctx)
	if err != nil {
		return err
	}
	defer closeDB()

	all, err := svc.Prefs.All(ctx, svc.Shop)
	if err != nil {
		return err
	}
	keys := preferences.Keys()
	sort.Strings(keys)
	for _, k := range keys {
		v, ok := all[k]
		if !ok {
			v = dimStyle.Render("(unset)")
		}
		fmt.Printf("%-22s %s\n", k, v)
	}
	return nil
}

func runPrefsGet(cmd *cobra.Command, args []string) error {
	key, err := prefKey(args[0])
	if err != nil {
		return err
	}
	ctx := context.Background()
	svc, closeDB, err := openServices(ctx)
	if err != nil {
		return err
	}
	defer closeDB()

	v, ok, err := svc.Prefs.Get(ctx, svc.Shop, key)
	if err != nil {
		return err
	}
	if !ok {
		fmt.Println(dimStyle.Render("(unset)"))
		return nil
	}
	fmt.Println(v)
	return nil
}

func runPrefsSet(cmd *cobra.Command, args []string) error {
	key, err := prefKey(args[0])
	if err != nil {
		return err
	}
	var value string
	if len(args) == 2 {
		value = args[1]
	} else {
		opts := make([]huh.Option[string], 0)
		for _, v := range preferences.Values(key) {
			opts = append(opts, huh.NewOption(v, v))
		}
		err := huh.NewForm(huh.NewGroup(
			huh.NewSelect[string]().Title(key).Options(opts...).Value(&value),
		)).Run()
		if err != nil {
			return err
		}
	}
	value, err = preferences.Normalize(key, value)
	if err != nil {
		return err
	}

	ctx := context.Background()
	svc, closeDB, err := openServices(ctx)
	if err != nil {
		return err
	}
	defer closeDB()

	if err := svc.Prefs.Set(ctx, svc.Shop, key, value); err != nil {
		return err
	}
	fmt.Println(successStyle.Render(fmt.Sprintf("%s = %s", key, value)))
	return nil
}

func runPrefsClear(cmd *cobra.Command, args []string) error {
	key, err := prefKey(args[0])
	if err != nil {
		return err
	}
	ctx := context.Background()
	svc, closeDB, err := openServices(ctx)
	if err != nil {
		return err
	}
	defer closeDB()

	if err := svc.Prefs.Clear(ctx, svc.Shop, key); err != nil {
		return err
	}
	fmt.Println(dimStyle.Render(key + " cleared"))
	return nil
}
