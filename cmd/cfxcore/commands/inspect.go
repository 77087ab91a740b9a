package commands

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cfx-go/cfxcore/config"
	"github.com/cfx-go/cfxcore/internal/blockdata"
	"github.com/cfx-go/cfxcore/libs/log"
	"github.com/cfx-go/cfxcore/types"
)

var errNotFound = errors.New("not found")

// MakeInspectCommand returns the command for reading records out of the
// node's database. The database is opened read-only.
func MakeInspectCommand(conf *config.Config, logger log.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Print records stored in the node database",
		Long: `
	inspect opens every table read-only and prints the requested record as
	JSON. It can run while investigating a node that refuses to start, but
	not while the node holds the database.
	`,
	}

	withDB := func(fn func(cmd *cobra.Command, db *blockdata.DBManager, args []string) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			db, err := blockdata.OpenReadOnlyDBManager(conf.Storage, logger)
			if err != nil {
				return err
			}
			defer db.Close()
			return fn(cmd, db, args)
		}
	}
	byHash := func(what string, get func(db *blockdata.DBManager, hash types.Hash) (interface{}, bool)) func(*cobra.Command, *blockdata.DBManager, []string) error {
		return func(cmd *cobra.Command, db *blockdata.DBManager, args []string) error {
			hash, err := parseHash(args[0])
			if err != nil {
				return err
			}
			v, ok := get(db, hash)
			if !ok {
				return fmt.Errorf("%s %x: %w", what, hash, errNotFound)
			}
			return printJSON(cmd.OutOrStdout(), v)
		}
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "header [hash]",
			Short: "Print a block header",
			Args:  cobra.ExactArgs(1),
			RunE: withDB(byHash("header", func(db *blockdata.DBManager, h types.Hash) (interface{}, bool) {
				header := db.BlockHeader(h)
				return header, header != nil
			})),
		},
		&cobra.Command{
			Use:   "block [hash]",
			Short: "Print a block with its transactions",
			Args:  cobra.ExactArgs(1),
			RunE: withDB(byHash("block", func(db *blockdata.DBManager, h types.Hash) (interface{}, bool) {
				block := db.Block(h)
				return block, block != nil
			})),
		},
		&cobra.Command{
			Use:   "tx [hash]",
			Short: "Print where a transaction was executed",
			Args:  cobra.ExactArgs(1),
			RunE: withDB(byHash("transaction", func(db *blockdata.DBManager, h types.Hash) (interface{}, bool) {
				addr := db.TransactionAddress(h)
				return addr, addr != nil
			})),
		},
		&cobra.Command{
			Use:   "manifest [checkpoint]",
			Short: "Print the snapshot manifest of a checkpoint",
			Args:  cobra.ExactArgs(1),
			RunE: withDB(byHash("manifest", func(db *blockdata.DBManager, h types.Hash) (interface{}, bool) {
				manifest := db.SnapshotManifest(h)
				return manifest, manifest != nil
			})),
		},
		&cobra.Command{
			Use:   "epoch [number]",
			Short: "Print the block hashes of an epoch",
			Args:  cobra.ExactArgs(1),
			RunE: withDB(func(cmd *cobra.Command, db *blockdata.DBManager, args []string) error {
				epoch, err := parseEpoch(args[0])
				if err != nil {
					return err
				}
				hashes, ok := db.EpochSetHashes(epoch)
				if !ok {
					return fmt.Errorf("epoch %d: %w", epoch, errNotFound)
				}
				return printJSON(cmd.OutOrStdout(), hashes)
			}),
		},
		&cobra.Command{
			Use:   "status",
			Short: "Print the chain status records",
			Args:  cobra.NoArgs,
			RunE: withDB(func(cmd *cobra.Command, db *blockdata.DBManager, args []string) error {
				var status struct {
					PrevCheckpoint *types.Hash  `json:"prev_checkpoint,omitempty"`
					CurCheckpoint  *types.Hash  `json:"cur_checkpoint,omitempty"`
					Terminals      []types.Hash `json:"terminals"`
					InstanceID     *uint64      `json:"instance_id,omitempty"`
				}
				if prev, cur, ok := db.CheckpointHashes(); ok {
					status.PrevCheckpoint, status.CurCheckpoint = &prev, &cur
				}
				status.Terminals, _ = db.Terminals()
				if id, ok := db.InstanceID(); ok {
					status.InstanceID = &id
				}
				return printJSON(cmd.OutOrStdout(), status)
			}),
		},
	)
	return cmd
}
