package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"

	"github.com/Dicklesworthstone/treenav/pkg/config"
	"github.com/Dicklesworthstone/treenav/pkg/location"
	"github.com/Dicklesworthstone/treenav/pkg/model"
	"github.com/Dicklesworthstone/treenav/pkg/treeapi"
	"github.com/Dicklesworthstone/treenav/pkg/ui"
)

// version is set with -ldflags "-X main.version=...".
var version = "dev"

type cliOptions struct {
	configPath    string
	tree          string
	location      string
	printLocation bool
	initConfig    bool
	showVersion   bool
	help          bool
}

func parseFlags(args []string, stderr io.Writer) (cliOptions, *flag.FlagSet, error) {
	var opts cliOptions
	fs := flag.NewFlagSet("tn", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&opts.configPath, "config", "", "Config file (default: .treenav/config.yaml found from the current directory, then the user config)")
	fs.StringVar(&opts.tree, "tree", "", "Tree to open, by name (default: the first configured tree)")
	fs.StringVar(&opts.location, "location", "", "Location to open instead of the stored one (e.g. '?conformation=~~0--')")
	fs.BoolVar(&opts.printLocation, "print-location", false, "Print the stored location of the tree and exit")
	fs.BoolVar(&opts.initConfig, "init", false, "Print an example config file and exit")
	fs.BoolVar(&opts.showVersion, "version", false, "Show version")
	fs.BoolVar(&opts.help, "help", false, "Show help")
	err := fs.Parse(args)
	return opts, fs, err
}

func main() {
	opts, fs, err := parseFlags(os.Args[1:], os.Stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		os.Exit(2)
	}

	if opts.help {
		fmt.Println("Usage: tn [options]")
		fmt.Println("\nA terminal navigator for server-side classification trees.")
		fs.SetOutput(os.Stdout)
		fs.PrintDefaults()
		os.Exit(0)
	}
	if opts.showVersion {
		fmt.Printf("tn %s\n", version)
		os.Exit(0)
	}
	if opts.initConfig {
		if err := writeExampleConfig(os.Stdout); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		os.Exit(0)
	}

	if err := run(opts); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(opts cliOptions) error {
	cfg, err := loadConfig(opts.configPath)
	if err != nil {
		return err
	}
	initial, err := treeIndex(cfg, opts.tree)
	if err != nil {
		return err
	}

	ctx := context.Background()
	store, err := location.OpenStore(ctx, cfg.StateDB)
	if err != nil {
		return err
	}
	defer store.Close()

	if opts.printLocation {
		return printLocation(ctx, store, cfg.Trees[initial].Ref().Key(), os.Stdout, os.Stderr)
	}

	var override *location.Location
	if opts.location != "" {
		loc, err := location.Parse(opts.location)
		if err != nil {
			return fmt.Errorf("--location: %w", err)
		}
		override = &loc
	}

	if !term.IsTerminal(int(os.Stdout.Fd())) {
		return errors.New("tn needs a terminal; use --print-location to read the stored location")
	}

	// The UI owns the terminal, so diagnostics go to the log file.
	if err := os.MkdirAll(filepath.Dir(cfg.LogFile), 0o755); err != nil {
		return fmt.Errorf("creating log directory: %w", err)
	}
	logFile, err := tea.LogToFile(cfg.LogFile, "tn")
	if err != nil {
		return fmt.Errorf("opening log file: %w", err)
	}
	defer logFile.Close()
	log.Printf("tn %s: %s, config %s", version, cfg.Server, cfg.Path)

	m := ui.NewModel(ui.Options{
		Trees:      treeChoices(cfg),
		Initial:    initial,
		NewService: serviceFactory(cfg),
		Store:      store,
		Location:   override,
	})
	if err := m.Err(); err != nil {
		return err
	}

	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithMouseCellMotion())
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("running tree navigator: %w", err)
	}
	return nil
}

// printLocation writes the stored location of tree to stdout and when it
// was saved to stderr, so the location can be piped on its own.
func printLocation(ctx context.Context, store *location.Store, tree string, stdout, stderr io.Writer) error {
	loc, err := store.Load(ctx, tree)
	if err != nil {
		return err
	}
	fmt.Fprintln(stdout, loc.String())

	saved, ok, err := store.UpdatedAt(ctx, tree)
	if err != nil {
		return err
	}
	if ok {
		fmt.Fprintf(stderr, "%s: saved %s\n", tree, saved.Format(time.RFC3339))
	} else {
		fmt.Fprintf(stderr, "%s: nothing saved yet\n", tree)
	}
	return nil
}

// loadConfig reads path, or the discovered config when path is empty.
func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		found, ok := config.Discover()
		if !ok {
			return nil, fmt.Errorf("no config found; create .treenav/config.yaml or %s (tn --init prints an example)",
				config.UserConfigPath())
		}
		path = found
	}
	return config.Load(path)
}

// treeIndex returns the position of the tree called name.
func treeIndex(cfg *config.Config, name string) (int, error) {
	tree, err := cfg.TreeByName(name)
	if err != nil {
		return 0, err
	}
	for i, t := range cfg.Trees {
		if t.Ref() == tree.Ref() {
			return i, nil
		}
	}
	return 0, fmt.Errorf("no tree named %q", name)
}

func treeChoices(cfg *config.Config) []ui.TreeChoice {
	choices := make([]ui.TreeChoice, len(cfg.Trees))
	for i, t := range cfg.Trees {
		choices[i] = ui.TreeChoice{Ref: t.Ref()}
		if len(t.Ranks) > 0 {
			choices[i].Ranks = model.NewRankSchema(t.Ranks)
		}
	}
	return choices
}

func serviceFactory(cfg *config.Config) func(model.TreeRef) (ui.TreeService, error) {
	return func(ref model.TreeRef) (ui.TreeService, error) {
		return treeapi.NewClient(treeapi.Config{
			BaseURL: cfg.Server,
			Tree:    ref,
			Timeout: cfg.RequestTimeout(),
		})
	}
}

func writeExampleConfig(w io.Writer) error {
	var sb strings.Builder
	sb.WriteString("# Save as .treenav/config.yaml or " + config.UserConfigPath() + "\n")
	enc := yaml.NewEncoder(&sb)
	enc.SetIndent(2)
	if err := enc.Encode(config.ExampleConfig()); err != nil {
		return fmt.Errorf("encoding example config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return err
	}
	_, err := io.WriteString(w, sb.String())
	return err
}
