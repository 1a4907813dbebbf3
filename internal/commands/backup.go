package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/stackhost-io/stackhost/models"
	"github.com/stackhost-io/stackhost/internal/notify"
)

var backupType string

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Backup management",
}

var backupRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Back up all running containers",
	Long: `Back up the data volume of every running container, outside the
nightly schedule. Retention pruning runs afterwards.`,
	RunE: runBackupRun,
}

var backupPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete backups past their retention window",
	RunE:  runBackupPrune,
}

func init() {
	backupRunCmd.Flags().StringVar(&backupType, "type", string(models.BackupManual),
		"backup type (DAILY, WEEKLY, MONTHLY, MANUAL)")

	backupCmd.AddCommand(backupRunCmd)
	backupCmd.AddCommand(backupPruneCmd)
}

func runBackupRun(cmd *cobra.Command, args []string) error {
	switch models.BackupType(backupType) {
	case models.BackupDaily, models.BackupWeekly, models.BackupMonthly, models.BackupManual:
	default:
		return fmt.Errorf("invalid backup type %q", backupType)
	}

	logger, err := newLogger()
	if err != nil {
		return err
	}

	svc, err := buildServices(cmd.Context(), logger, notify.NewLogNotifier(logger))
	if err != nil {
		return err
	}
	defer svc.close()

	if err := svc.backups.BackupAll(cmd.Context(), models.BackupType(backupType)); err != nil {
		return fmt.Errorf("backup run failed: %w", err)
	}

	pruned, err := svc.backups.CleanupOldBackups(cmd.Context())
	if err != nil {
		return fmt.Errorf("retention cleanup failed: %w", err)
	}

	fmt.Printf("Backup run complete, %d expired backups pruned.\n", pruned)
	return nil
}

func runBackupPrune(cmd *cobra.Command, args []string) error {
	logger, err := newLogger()
	if err != nil {
		return err
	}

	svc, err := buildServices(cmd.Context(), logger, notify.NewLogNotifier(logger))
	if err != nil {
		return err
	}
	defer svc.close()

	pruned, err := svc.backups.CleanupOldBackups(cmd.Context())
	if err != nil {
		return fmt.Errorf("retention cleanup failed: %w", err)
	}

	fmt.Printf("%d expired backups pruned.\n", pruned)
	return nil
}
