package main

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/osvaldoandrade/pfmea/pkg/config"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"
)

type ui struct {
	title func(a ...any) string
	ok    func(a ...any) string
	info  func(a ...any) string
	warn  func(a ...any) string
	err   func(a ...any) string
	dim   func(a ...any) string
}

type profile struct {
	BaseURL        string `yaml:"baseUrl"`
	TimeoutSeconds int    `yaml:"timeoutSeconds"`
}

type cliConfig struct {
	CurrentProfile string             `yaml:"currentProfile"`
	Profiles       map[string]profile `yaml:"profiles"`
}

// settings are the resolved connection options shared by every command.
type settings struct {
	baseURL string
	timeout time.Duration
	verbose bool
}

func newUI() *ui {
	return &ui{
		title: color.New(color.FgHiCyan, color.Bold).SprintFunc(),
		ok:    color.New(color.FgGreen, color.Bold).SprintFunc(),
		info:  color.New(color.FgCyan).SprintFunc(),
		warn:  color.New(color.FgYellow).SprintFunc(),
		err:   color.New(color.FgRed, color.Bold).SprintFunc(),
		dim:   color.New(color.FgHiBlack).SprintFunc(),
	}
}

func main() {
	ui := newUI()
	root, _ := newRootCmd(ui)
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, ui.err("[ERROR]"), err.Error())
		os.Exit(1)
	}
}

// newRootCmd builds the command tree. The returned settings are resolved
// before any subcommand runs: flags win over the environment, which wins over
// the active profile, which wins over the defaults.
func newRootCmd(ui *ui) (*cobra.Command, *settings) {
	s := &settings{
		baseURL: getenv("PFMEA_API_BASE_URL", config.DefaultAPIBaseURL),
		timeout: time.Duration(getenvInt("PFMEA_TIMEOUT_SECONDS", config.DefaultRequestTimeoutSeconds)) * time.Second,
	}
	profileName := getenv("PFMEA_PROFILE", "")
	var timeoutSeconds int

	root := &cobra.Command{
		Use:   "pfmea",
		Short: "PFMEA analysis CLI",
		Long:  "Submit MBOM files for PFMEA analysis and run the local stub backend.",
	}
	root.SetHelpTemplate(helpTemplate(ui))
	root.SilenceUsage = true

	root.PersistentFlags().StringVar(&s.baseURL, "base-url", s.baseURL, "Analysis backend base URL")
	root.PersistentFlags().IntVar(&timeoutSeconds, "timeout", int(s.timeout/time.Second), "Per-request timeout in seconds")
	root.PersistentFlags().StringVar(&profileName, "profile", profileName, "Config profile")
	root.PersistentFlags().BoolVarP(&s.verbose, "verbose", "v", false, "Debug logging to stderr")

	root.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		cfg, _, _ := loadConfig()
		prof := cfg.Profiles[resolveProfileName(profileName, cfg)]

		flags := cmd.Flags()
		if !flags.Changed("base-url") && strings.TrimSpace(os.Getenv("PFMEA_API_BASE_URL")) == "" && prof.BaseURL != "" {
			s.baseURL = prof.BaseURL
		}
		if flags.Changed("timeout") {
			s.timeout = time.Duration(timeoutSeconds) * time.Second
		} else if strings.TrimSpace(os.Getenv("PFMEA_TIMEOUT_SECONDS")) == "" && prof.TimeoutSeconds > 0 {
			s.timeout = time.Duration(prof.TimeoutSeconds) * time.Second
		}
		if s.timeout <= 0 {
			return fmt.Errorf("timeout must be positive")
		}
		s.baseURL = strings.TrimRight(strings.TrimSpace(s.baseURL), "/")
		return nil
	}

	root.AddCommand(initCmd(&profileName, ui))
	root.AddCommand(submitCmd(s, ui))
	root.AddCommand(optionsCmd(ui))
	root.AddCommand(healthCmd(s, ui))
	root.AddCommand(stubCmd(s, ui))
	return root, s
}

func (s *settings) logger() *slog.Logger {
	level := slog.LevelWarn
	if s.verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func initCmd(profileName *string, ui *ui) *cobra.Command {
	var (
		baseURL        string
		timeoutSeconds int
		noPrompt       bool
	)
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize CLI config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, cfgPath, err := loadConfig()
			if err != nil {
				return err
			}
			active := resolveProfileName(*profileName, cfg)
			prof := cfg.Profiles[active]

			if baseURL == "" {
				baseURL = firstNonEmpty(prof.BaseURL, config.DefaultAPIBaseURL)
			}
			if timeoutSeconds <= 0 {
				timeoutSeconds = prof.TimeoutSeconds
			}
			if timeoutSeconds <= 0 {
				timeoutSeconds = config.DefaultRequestTimeoutSeconds
			}

			if !noPrompt && isTerminal(int(os.Stdin.Fd())) {
				reader := bufio.NewReader(os.Stdin)
				baseURL = prompt(reader, "Backend base URL", baseURL)
				if n, err := strconv.Atoi(prompt(reader, "Timeout seconds", strconv.Itoa(timeoutSeconds))); err == nil && n > 0 {
					timeoutSeconds = n
				}
			}

			prof.BaseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
			prof.TimeoutSeconds = timeoutSeconds
			if cfg.Profiles == nil {
				cfg.Profiles = map[string]profile{}
			}
			cfg.Profiles[active] = prof
			if cfg.CurrentProfile == "" || *profileName != "" {
				cfg.CurrentProfile = active
			}

			if err := saveConfig(cfg, cfgPath); err != nil {
				return err
			}
			fmt.Printf("%s Initialized profile '%s' at %s\n", ui.ok("[OK]"), active, cfgPath)
			return nil
		},
	}
	cmd.Flags().StringVar(&baseURL, "base-url", "", "Analysis backend base URL")
	cmd.Flags().IntVar(&timeoutSeconds, "timeout", 0, "Per-request timeout in seconds")
	cmd.Flags().BoolVar(&noPrompt, "no-prompt", false, "Disable interactive prompts")
	return cmd
}

func helpTemplate(ui *ui) string {
	title := ui.title("pfmea")
	return fmt.Sprintf(`%s: CLI for PFMEA analysis

Usage:
  {{.UseLine}}

Commands:
{{range .Commands}}{{if (or .IsAvailableCommand .IsAdditionalHelpTopicCommand)}}
  {{rpad .Name .NamePadding }} {{.Short}}{{end}}{{end}}

Flags:
  {{.LocalFlags.FlagUsages | trimTrailingWhitespaces}}

Global Flags:
  {{.InheritedFlags.FlagUsages | trimTrailingWhitespaces}}

Config:
  %s

Examples:
  pfmea init --base-url http://localhost:8000
  pfmea stub --spreadsheet ./Final_PFMEA.xlsx
  pfmea submit --mbom mbom.xlsx --type "Pre-Launch PFMEA" --country France --site Poissy ...
  pfmea health

`, title, configPath())
}

func getenv(k, def string) string {
	if v := strings.TrimSpace(os.Getenv(k)); v != "" {
		return v
	}
	return def
}

func getenvInt(k string, def int) int {
	if v := strings.TrimSpace(os.Getenv(k)); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func configPath() string {
	if v := strings.TrimSpace(os.Getenv("PFMEA_CONFIG_DIR")); v != "" {
		return filepath.Join(v, "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "./config.yaml"
	}
	return filepath.Join(home, ".pfmea", "config.yaml")
}

func isTerminal(fd int) bool {
	return term.IsTerminal(fd)
}

func loadConfig() (cliConfig, string, error) {
	path := configPath()
	var cfg cliConfig
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cliConfig{Profiles: map[string]profile{}}, path, nil
		}
		return cfg, path, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, path, err
	}
	if cfg.Profiles == nil {
		cfg.Profiles = map[string]profile{}
	}
	return cfg, path, nil
}

func saveConfig(cfg cliConfig, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

func resolveProfileName(flag string, cfg cliConfig) string {
	if strings.TrimSpace(flag) != "" {
		return strings.TrimSpace(flag)
	}
	if v := strings.TrimSpace(os.Getenv("PFMEA_PROFILE")); v != "" {
		return v
	}
	if cfg.CurrentProfile != "" {
		return cfg.CurrentProfile
	}
	return "default"
}

func prompt(r *bufio.Reader, label, def string) string {
	if def != "" {
		fmt.Printf("%s [%s]: ", label, def)
	} else {
		fmt.Printf("%s: ", label)
	}
	line, _ := r.ReadString('\n')
	line = strings.TrimSpace(line)
	if line == "" {
		return def
	}
	return line
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func emptyOr(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}
