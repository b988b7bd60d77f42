package cli

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/charmbracelet/huh"
	"github.com/samber/lo"
	"github.com/spf13/cobra"

	"github.com/tessro/tandem/internal/config"
	tandemerrors "github.com/tessro/tandem/internal/errors"
	"github.com/tessro/tandem/internal/spotify/client"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
	Long:  `Commands for viewing and editing tandem configuration.`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	Long:  `Display the effective configuration, including environment overrides.`,
	RunE:  runConfigShow,
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the configuration file path",
	RunE:  runConfigPath,
}

var configEditCmd = &cobra.Command{
	Use:   "edit",
	Short: "Edit configuration file",
	Long:  `Open the configuration file in your default editor.`,
	RunE:  runConfigEdit,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration",
	Long:  `Create a new configuration file with default values.`,
	RunE:  runConfigInit,
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long: `Set a configuration value in the configuration file.

Keys are written as section.key, for example:
  jamendo.api_base       Catalog proxy base URL
  spotify.client_id      Spotify client ID
  spotify.device         Preferred Spotify Connect device
  player.volume          Initial volume (0-100)
  player.auto_advance    Advance when a track ends (true/false)
  cache.redis_addr       Redis address for the catalog cache

Examples:
  tandem config set spotify.device "Kitchen"
  tandem config set player.volume 50`,
	Args: cobra.ExactArgs(2),
	RunE: runConfigSet,
}

var configSetDeviceCmd = &cobra.Command{
	Use:   "set-device",
	Short: "Interactively select the Spotify device",
	Long:  `Shows a picker to select the Spotify Connect device tandem plays on.`,
	RunE:  runConfigSetDevice,
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configPathCmd)
	configCmd.AddCommand(configEditCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configSetDeviceCmd)
	rootCmd.AddCommand(configCmd)
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	if JSONOutput() {
		printJSON(cfg)
		return nil
	}
	encoder := toml.NewEncoder(cmd.OutOrStdout())
	encoder.Indent = "  "
	return encoder.Encode(cfg)
}

func runConfigPath(cmd *cobra.Command, args []string) error {
	path := configPath()
	_, err := os.Stat(path)
	if JSONOutput() {
		printJSON(map[string]any{"path": path, "exists": err == nil})
		return nil
	}
	fmt.Fprintln(cmd.OutOrStdout(), path)
	return nil
}

// configPath is the file commands read and write: --config, an existing
// file on the search path, or the default location.
func configPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	if path := config.FindConfigFile(); path != "" {
		return path
	}
	return config.DefaultPath()
}

func runConfigEdit(cmd *cobra.Command, args []string) error {
	path := configPath()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return tandemerrors.WithSuggestion(
			fmt.Errorf("config file not found at %s", path),
			"Run 'tandem config init' first")
	}

	editor := lo.CoalesceOrEmpty(os.Getenv("EDITOR"), os.Getenv("VISUAL"))
	if editor == "" {
		editor, _ = lo.Find([]string{"nano", "vim", "vi"}, func(e string) bool {
			_, err := exec.LookPath(e)
			return err == nil
		})
	}
	if editor == "" {
		return tandemerrors.WithSuggestion(errors.New("no editor found"), "Set the EDITOR environment variable")
	}

	c := exec.CommandContext(cmd.Context(), editor, path)
	c.Stdin = os.Stdin
	c.Stdout = os.Stdout
	c.Stderr = os.Stderr
	return c.Run()
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	path := configPath()
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}
	if err := writeConfigFile(path, config.Default()); err != nil {
		return err
	}

	if JSONOutput() {
		printJSON(map[string]string{"status": "created", "path": path})
		return nil
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Created config file: %s\n", path)
	fmt.Fprintln(out, "\nNext steps:")
	fmt.Fprintln(out, "  1. Point jamendo.api_base at your catalog proxy")
	fmt.Fprintln(out, "  2. For Spotify, set spotify.client_id and run 'tandem auth login'")
	return nil
}

// writeConfigFile encodes v as TOML under a short header.
func writeConfigFile(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer func() { _ = f.Close() }()

	_, _ = fmt.Fprintln(f, "# tandem configuration")
	_, _ = fmt.Fprintln(f, "")

	encoder := toml.NewEncoder(f)
	encoder.Indent = "  "
	if err := encoder.Encode(v); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

func runConfigSet(cmd *cobra.Command, args []string) error {
	key, value := args[0], args[1]
	if err := setConfigValue(configPath(), key, value); err != nil {
		return err
	}
	if JSONOutput() {
		printJSON(map[string]string{"status": "updated", "key": key, "value": value})
		return nil
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Set %s = %s\n", key, value)
	return nil
}

// setConfigValue rewrites one key of the file at path. The result must
// still validate.
func setConfigValue(path, key, value string) error {
	section, field, ok := strings.Cut(key, ".")
	if !ok || section == "" || field == "" {
		return tandemerrors.WithSuggestion(
			fmt.Errorf("invalid key %q", key),
			"Use section.key, for example player.volume")
	}

	raw := map[string]any{}
	if data, err := os.ReadFile(path); err == nil {
		if _, err := toml.Decode(string(data), &raw); err != nil {
			return fmt.Errorf("failed to parse config: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("failed to read config: %w", err)
	}

	sec, ok := raw[section].(map[string]any)
	if !ok {
		sec = map[string]any{}
		raw[section] = sec
	}
	// Values are tried typed first, then as a plain string, against the
	// schema so unknown keys and bad values are rejected before writing.
	var err error
	for _, v := range []any{typedValue(value), value} {
		sec[field] = v
		if err = checkConfig(raw); err == nil {
			break
		}
	}
	if err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	return writeConfigFile(path, raw)
}

func checkConfig(raw map[string]any) error {
	var buf strings.Builder
	if err := toml.NewEncoder(&buf).Encode(raw); err != nil {
		return err
	}
	check := config.Default()
	md, err := toml.Decode(buf.String(), check)
	if err != nil {
		return err
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return fmt.Errorf("unknown config key %s", undecoded[0])
	}
	return check.Validate()
}

// typedValue guesses the TOML type of a command line value.
func typedValue(s string) any {
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	if b, err := strconv.ParseBool(s); err == nil {
		return b
	}
	return s
}

func runConfigSetDevice(cmd *cobra.Command, args []string) error {
	if err := requireClientID(); err != nil {
		return err
	}
	sp, err := newSpotify()
	if err != nil {
		return err
	}

	devices, err := sp.client.GetDevices(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to get devices: %w", err)
	}
	if len(devices) == 0 {
		return tandemerrors.WithSuggestion(errors.New("no devices found"),
			"Open Spotify on at least one device")
	}

	options := lo.Map(devices, func(d client.Device, _ int) huh.Option[string] {
		label := d.Name
		if d.Type != "" {
			label = fmt.Sprintf("%s (%s)", d.Name, d.Type)
		}
		if d.IsActive {
			label += " [active]"
		}
		return huh.NewOption(label, d.Name)
	})

	var selected string
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Select Spotify device").
				Description("tandem transfers playback here when no device is active").
				Options(options...).
				Value(&selected),
		),
	)
	if err := form.Run(); err != nil {
		return fmt.Errorf("selection cancelled: %w", err)
	}
	return runConfigSet(cmd, []string{"spotify.device", selected})
}
