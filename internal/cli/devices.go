package cli

import (
	"fmt"
	"strings"

	"github.com/samber/lo"
	"github.com/spf13/cobra"

	"github.com/tessro/tandem/internal/spotify/client"
)

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List Spotify Connect devices",
	Long: `Lists the Spotify Connect devices visible to the signed-in account.

The device named by spotify.device is marked as preferred.`,
	RunE: runDevices,
}

func init() {
	rootCmd.AddCommand(devicesCmd)
}

type deviceView struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Type       string `json:"type"`
	Active     bool   `json:"is_active"`
	Restricted bool   `json:"is_restricted"`
	Preferred  bool   `json:"preferred"`
	Volume     *int   `json:"volume,omitempty"`
}

func runDevices(cmd *cobra.Command, args []string) error {
	if err := requireClientID(); err != nil {
		return err
	}
	sp, err := newSpotify()
	if err != nil {
		return err
	}
	devices, err := sp.client.GetDevices(cmd.Context())
	if err != nil {
		return err
	}

	views := lo.Map(devices, func(d client.Device, _ int) deviceView {
		return deviceView{
			ID:         d.ID,
			Name:       d.Name,
			Type:       d.Type,
			Active:     d.IsActive,
			Restricted: d.IsRestricted,
			Preferred:  cfg.Spotify.Device != "" && (d.Name == cfg.Spotify.Device || d.ID == cfg.Spotify.Device),
			Volume:     d.VolumePercent,
		}
	})

	if JSONOutput() {
		printJSON(views)
		return nil
	}
	if len(views) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No devices found. Open Spotify on a device first.")
		return nil
	}

	t := NewTableWriter(cmd.OutOrStdout(), "", "NAME", "TYPE", "VOLUME", "")
	for _, d := range views {
		vol := "-"
		if d.Volume != nil {
			vol = fmt.Sprintf("%d%%", *d.Volume)
		}
		var notes []string
		if d.Preferred {
			notes = append(notes, "preferred")
		}
		if d.Restricted {
			notes = append(notes, "restricted")
		}
		t.Row(StatusIcon(d.Active), TruncateString(d.Name, 32), d.Type, vol, joinNotes(notes))
	}
	t.Flush()
	return nil
}

func joinNotes(notes []string) string {
	if len(notes) == 0 {
		return ""
	}
	return "(" + strings.Join(notes, ", ") + ")"
}
