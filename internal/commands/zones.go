package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/stackhost-io/stackhost/internal/notify"
)

var zonesCmd = &cobra.Command{
	Use:   "zones",
	Short: "DNS zone management",
}

var zonesResyncCmd = &cobra.Command{
	Use:   "resync",
	Short: "Regenerate all zone files and reload the DNS server",
	Long: `Regenerate every zone file from the database and reload the DNS
server once. Use this to reconverge after DNS server state was lost or
edited by hand.`,
	RunE: runZonesResync,
}

func init() {
	zonesCmd.AddCommand(zonesResyncCmd)
}

func runZonesResync(cmd *cobra.Command, args []string) error {
	logger, err := newLogger()
	if err != nil {
		return err
	}

	svc, err := buildServices(cmd.Context(), logger, notify.NewLogNotifier(logger))
	if err != nil {
		return err
	}
	defer svc.close()

	if err := svc.dns.RegenerateAll(cmd.Context()); err != nil {
		return fmt.Errorf("zone resync failed: %w", err)
	}

	fmt.Println("All zones resynced.")
	return nil
}
