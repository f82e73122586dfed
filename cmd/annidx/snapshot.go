package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/annidx/annidx/blobstore"
	minioblob "github.com/annidx/annidx/blobstore/minio"
	s3blob "github.com/annidx/annidx/blobstore/s3"
)

var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Manage snapshot artifacts",
}

var snapshotListCmd = &cobra.Command{
	Use:   "list",
	Short: "List snapshots in the configured store",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := snapshotStoreFromConfig(cmd.Context())
		if err != nil {
			return err
		}

		names, err := store.List(cmd.Context(), "")
		if err != nil {
			return err
		}
		for _, name := range names {
			size, err := store.Stat(cmd.Context(), name)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%d\n", name, size)
		}
		return nil
	},
}

var snapshotPushCmd = &cobra.Command{
	Use:   "push <file>",
	Short: "Upload a local snapshot file to the configured store",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		store, err := snapshotStoreFromConfig(cmd.Context())
		if err != nil {
			return err
		}

		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()

		if err := store.Put(cmd.Context(), cfg.Snapshot.Name, f); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "uploaded %s as %s\n", args[0], cfg.Snapshot.Name)
		return nil
	},
}

var snapshotPullCmd = &cobra.Command{
	Use:   "pull <file>",
	Short: "Download the configured snapshot to a local file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		store, err := snapshotStoreFromConfig(cmd.Context())
		if err != nil {
			return err
		}

		rc, err := store.Open(cmd.Context(), cfg.Snapshot.Name)
		if err != nil {
			return err
		}
		defer rc.Close()

		f, err := os.Create(args[0])
		if err != nil {
			return err
		}
		defer f.Close()

		if _, err := io.Copy(f, rc); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "downloaded %s to %s\n", cfg.Snapshot.Name, args[0])
		return nil
	},
}

func init() {
	snapshotCmd.AddCommand(snapshotListCmd)
	snapshotCmd.AddCommand(snapshotPushCmd)
	snapshotCmd.AddCommand(snapshotPullCmd)
}

func snapshotStoreFromConfig(ctx context.Context) (blobstore.Store, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	snap := cfg.Snapshot
	switch snap.Backend {
	case "", "local":
		return blobstore.NewLocalStore(snap.Dir)
	case "s3":
		return s3blob.NewFromConfig(ctx, snap.Bucket, func(o *s3blob.Options) {
			o.Region = snap.Region
			o.Prefix = snap.Prefix
		})
	case "minio":
		return minioblob.Connect(snap.Endpoint, snap.AccessKey, snap.SecretKey, snap.Bucket, snap.Prefix, snap.Secure)
	default:
		return nil, fmt.Errorf("unknown snapshot backend %q", snap.Backend)
	}
}
