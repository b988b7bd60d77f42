package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	tandemerrors "github.com/tessro/tandem/internal/errors"
	"github.com/tessro/tandem/internal/spotify/client"
)

var skipDevice string

var nextCmd = &cobra.Command{
	Use:   "next",
	Short: "Skip to the next track on a Spotify device",
	Long: `Skip to the next track on the active Spotify Connect device, or on the
device named by --device. This controls playback started elsewhere, such as
the Spotify app; tandem's own playlist is controlled from the player.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error { return runSkip(cmd, true) },
}

var previousCmd = &cobra.Command{
	Use:     "previous",
	Aliases: []string{"prev"},
	Short:   "Go back to the previous track on a Spotify device",
	Args:    cobra.NoArgs,
	RunE:    func(cmd *cobra.Command, args []string) error { return runSkip(cmd, false) },
}

func init() {
	for _, c := range []*cobra.Command{nextCmd, previousCmd} {
		c.Flags().StringVarP(&skipDevice, "device", "d", "", "device name or ID (default: the active device)")
		rootCmd.AddCommand(c)
	}
}

// skipper is the part of the Web API client that skips tracks.
type skipper interface {
	GetDevices(ctx context.Context) ([]client.Device, error)
	Next(ctx context.Context, deviceID string) error
	Previous(ctx context.Context, deviceID string) error
}

func runSkip(cmd *cobra.Command, forward bool) error {
	if err := requireClientID(); err != nil {
		return err
	}
	sp, err := newSpotify()
	if err != nil {
		return err
	}
	dev, err := skip(cmd.Context(), sp.client, skipDevice, forward)
	if err != nil {
		return err
	}

	if JSONOutput() {
		printJSON(map[string]any{"device": dev.Name, "device_id": dev.ID, "next": forward})
		return nil
	}
	verb := "Skipped to the next track"
	if !forward {
		verb = "Went back to the previous track"
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s on %s\n", verb, dev.Name)
	return nil
}

// skip resolves the target device and skips on it. An empty name targets
// the active device.
func skip(ctx context.Context, api skipper, name string, forward bool) (client.Device, error) {
	devices, err := api.GetDevices(ctx)
	if err != nil {
		return client.Device{}, err
	}
	dev, ok := targetDevice(devices, name)
	if !ok {
		if name != "" {
			return client.Device{}, tandemerrors.New(tandemerrors.KindNotFound,
				fmt.Errorf("%w: %q", tandemerrors.ErrNoActiveDevice, name))
		}
		return client.Device{}, tandemerrors.New(tandemerrors.KindNotFound, tandemerrors.ErrNoActiveDevice)
	}
	if dev.IsRestricted {
		return client.Device{}, fmt.Errorf("device %q does not accept remote commands", dev.Name)
	}

	if forward {
		err = api.Next(ctx, dev.ID)
	} else {
		err = api.Previous(ctx, dev.ID)
	}
	return dev, err
}

func targetDevice(devices []client.Device, name string) (client.Device, bool) {
	for _, d := range devices {
		if name == "" && d.IsActive {
			return d, true
		}
		if name != "" && (d.ID == name || strings.EqualFold(d.Name, name)) {
			return d, true
		}
	}
	return client.Device{}, false
}
