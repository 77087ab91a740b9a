package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cfx-go/cfxcore/config"
	"github.com/cfx-go/cfxcore/internal/blockdata"
	"github.com/cfx-go/cfxcore/internal/statesync"
	"github.com/cfx-go/cfxcore/libs/log"
)

// MakeSnapshotCommand returns the command for creating and exporting the
// local state snapshots served to peers.
func MakeSnapshotCommand(conf *config.Config, logger log.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Manage local state snapshots",
	}

	var chunkSize int
	create := &cobra.Command{
		Use:   "create [checkpoint] [state-file]",
		Short: "Split a state file into chunks and store it as the snapshot at checkpoint",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			checkpoint, err := parseHash(args[0])
			if err != nil {
				return err
			}
			state, err := os.ReadFile(args[1])
			if err != nil {
				return err
			}
			if chunkSize <= 0 {
				chunkSize = conf.StateSync.ChunkSize
			}

			db, err := blockdata.OpenDBManager(conf.Storage, logger, nil)
			if err != nil {
				return err
			}
			defer db.Close()

			manifest, err := statesync.CreateSnapshot(db, checkpoint, state, chunkSize)
			if err != nil {
				return err
			}
			logger.Info("created snapshot",
				"checkpoint", checkpoint,
				"chunks", len(manifest.ChunkHashes),
				"bytes", len(state))
			return printJSON(cmd.OutOrStdout(), manifest)
		},
	}
	create.Flags().IntVar(&chunkSize, "chunk-size", 0, "chunk size in bytes (defaults to statesync.chunk_size)")

	export := &cobra.Command{
		Use:   "export [checkpoint] [out-file]",
		Short: "Reassemble the snapshot at checkpoint and write its state to a file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			checkpoint, err := parseHash(args[0])
			if err != nil {
				return err
			}

			db, err := blockdata.OpenReadOnlyDBManager(conf.Storage, logger)
			if err != nil {
				return err
			}
			defer db.Close()

			provider := statesync.NewDBProvider(db)
			manifest, ok := provider.Manifest(checkpoint)
			if !ok {
				return fmt.Errorf("snapshot %x: %w", checkpoint, errNotFound)
			}
			snapshot := &statesync.Snapshot{
				Checkpoint: checkpoint,
				Chunks:     make([][]byte, 0, len(manifest.ChunkHashes)),
			}
			for i, hash := range manifest.ChunkHashes {
				body, ok := provider.Chunk(hash)
				if !ok {
					return fmt.Errorf("chunk %d (%x) of snapshot %x: %w", i, hash, checkpoint, errNotFound)
				}
				snapshot.Chunks = append(snapshot.Chunks, body)
			}
			state, err := snapshot.State()
			if err != nil {
				return err
			}
			return os.WriteFile(args[1], state, 0o644)
		},
	}

	cmd.AddCommand(create, export)
	return cmd
}
