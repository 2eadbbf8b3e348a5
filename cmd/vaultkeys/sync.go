package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	vaultsync "github.com/TheMichaelB/vaultkeys/internal/services/sync"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Refresh the local vault from the server",
	Long: `Sync downloads folders, collections, items and policies and replaces
the local copy. The vault is unlocked first when it is locked.`,
	Example: `  vaultkeys sync -i alice.mycozy.cloud
  vaultkeys sync -i alice.mycozy.cloud --json`,
	RunE: runSync,
}

var syncPassword string

func init() {
	rootCmd.AddCommand(syncCmd)

	syncCmd.Flags().StringVarP(&syncPassword, "password", "p", "",
		"Master password (will prompt if not provided)")
}

func runSync(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	if err := requireUnlocked(ctx, syncPassword); err != nil {
		return err
	}

	if jsonOutput {
		return runSyncJSON(ctx)
	}
	return runSyncInteractive(ctx)
}

// watchSync forwards sync engine events to fn until the returned stop
// function is called.
func watchSync(fn func(vaultsync.Event)) (stop func()) {
	done := make(chan struct{})
	finished := make(chan struct{})
	events := vaultClient.Services().Sync.Events()

	go func() {
		defer close(finished)
		for {
			select {
			case event := <-events:
				fn(event)
			case <-done:
				for {
					select {
					case event := <-events:
						fn(event)
					default:
						return
					}
				}
			}
		}
	}()

	return func() {
		close(done)
		<-finished
	}
}

func runSyncInteractive(ctx context.Context) error {
	stop := watchSync(func(event vaultsync.Event) {
		switch event.Type {
		case vaultsync.EventStarted:
			printInfo("Syncing...")
		case vaultsync.EventPhase:
			if event.Progress != nil {
				logger.WithField("phase", event.Progress.Phase).Debug("Sync phase")
			}
		case vaultsync.EventFailed:
			if event.Error != nil {
				printError("Sync failed: %v", event.Error)
			}
		}
	})

	startTime := time.Now()
	err := vaultClient.Sync(ctx)
	duration := time.Since(startTime)
	stop()

	if progress := vaultClient.Services().Sync.GetProgress(); progress != nil {
		fmt.Printf("\nSync Summary:\n")
		fmt.Printf("   Folders:     %d\n", progress.Folders)
		fmt.Printf("   Collections: %d\n", progress.Collections)
		fmt.Printf("   Items:       %d\n", progress.Ciphers)
		fmt.Printf("   Policies:    %d\n", progress.Policies)
		fmt.Printf("   Duration:    %s\n", duration.Round(time.Millisecond))
	}

	if err != nil {
		return err
	}

	printSuccess("\nSync completed successfully!")
	return nil
}

func runSyncJSON(ctx context.Context) error {
	var events []map[string]interface{}

	stop := watchSync(func(event vaultsync.Event) {
		eventData := map[string]interface{}{
			"type":      event.Type,
			"timestamp": event.Timestamp,
		}
		if event.Error != nil {
			eventData["error"] = event.Error.Error()
		}
		if event.Progress != nil {
			eventData["progress"] = event.Progress
		}
		events = append(events, eventData)
	})

	err := vaultClient.Sync(ctx)
	stop()

	result := map[string]interface{}{
		"success":  err == nil,
		"instance": vaultClient.Instance,
		"events":   events,
	}
	if err != nil {
		result["error"] = err.Error()
	}

	printJSON(result)
	return err
}
