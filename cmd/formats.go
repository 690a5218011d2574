package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/smazurov/framegrabber/internal/camera"
)

type formatEntry struct {
	Index  int     `json:"index"`
	Device string  `json:"device"`
	Card   string  `json:"card"`
	FourCC string  `json:"fourcc"`
	Width  uint32  `json:"width"`
	Height uint32  `json:"height"`
	FPS    float64 `json:"fps"`
	Format string  `json:"format"`

	Decodable bool `json:"decodable"`
}

// FormatsCmd lists every capture format of the attached video devices.
var FormatsCmd = &cobra.Command{
	Use:   "formats",
	Short: "List available capture formats",
	Long:  `Enumerates /dev/video0 through /dev/video63 and prints every supported pixel format, frame size and frame interval with the index used to select it.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		asJSON, _ := cmd.Flags().GetBool("json")

		formats := camera.NewCatalog(nil).Enumerate()
		entries := make([]formatEntry, len(formats))
		for i, f := range formats {
			entries[i] = formatEntry{
				Index:  i,
				Device: f.Device,
				Card:   f.Card,
				FourCC: f.FourCC(),
				Width:  f.Width,
				Height: f.Height,
				FPS:    f.FPS(),
				Format: f.String(),

				Decodable: camera.CanDecode(f.PixelFormat),
			}
		}

		if asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(entries)
		}

		if len(entries) == 0 {
			fmt.Fprintln(os.Stderr, "No capture formats found")
			return nil
		}
		for _, e := range entries {
			if e.Decodable {
				fmt.Printf("%4d  %s\n", e.Index, e.Format)
			} else {
				fmt.Printf("%4d  %s  [no decoder]\n", e.Index, e.Format)
			}
		}
		return nil
	},
}

func init() {
	FormatsCmd.Flags().Bool("json", false, "Print formats as JSON")
}
