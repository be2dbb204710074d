// Command storagefsd is a thin administrative entry point over the
// Protocol & Mount Registry: it wires up the built-in handlers, loads
// the persisted mount table, and exposes mount/unmount/rename/list as
// CLI subcommands for operators and scripts. The actual RPC tool
// transport and the collection of read/write tool functions that
// layer the rest of the virtual filesystem on top of this registry
// are out of scope (spec §1) and are not implemented here; this
// binary only drives the registry itself, grounded on rclone's own
// cmd/ entry point shape (one cobra root command, one subcommand per
// operation) even though that tree wasn't itself retrieved in the
// example pack.
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/owlcore-storage/storagefs/alias"
	"github.com/owlcore-storage/storagefs/logging"
	"github.com/owlcore-storage/storagefs/mount"
	"github.com/owlcore-storage/storagefs/protocol"
	"github.com/owlcore-storage/storagefs/protocol/castore"
	"github.com/owlcore-storage/storagefs/protocol/cidproto"
	"github.com/owlcore-storage/storagefs/protocol/httpproto"
	"github.com/owlcore-storage/storagefs/protocol/local"
	"github.com/owlcore-storage/storagefs/protocol/memory"
	"github.com/owlcore-storage/storagefs/protocol/mfs"
	"github.com/owlcore-storage/storagefs/protocol/nameproto"
	"github.com/owlcore-storage/storagefs/registry"
	"github.com/owlcore-storage/storagefs/settings"
)

// instanceID tags the error line main logs when a command fails, the
// same role a generated upload/session ID plays elsewhere in the pack.
var instanceID = uuid.New().String()

func defaultSettingsPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = "."
	}
	return filepath.Join(dir, "storagefs", "settings.json")
}

type app struct {
	handlers *protocol.Registry
	aliases  *alias.Engine
	cache    *registry.Cache
	mounts   *mount.Registry
}

func newApp(settingsPath string) (*app, error) {
	handlers := protocol.NewRegistry()
	handlers.RegisterBuiltin(local.New())
	handlers.RegisterBuiltin(mfs.New())
	handlers.RegisterBuiltin(memory.New())
	handlers.RegisterBuiltin(httpproto.New("http"))
	handlers.RegisterBuiltin(httpproto.New("https"))
	store := castore.NewInMemory()
	handlers.RegisterBuiltin(cidproto.New(store))
	handlers.RegisterBuiltin(nameproto.New(store))

	cache := registry.New(handlers)
	aliases := alias.NewEngine()
	aliases.BindBuiltinRoots(handlers)

	settingsStore, err := settings.GetPersistent(settingsPath)
	if err != nil {
		return nil, err
	}

	mounts := mount.New(handlers, aliases, cache, settingsStore)
	if err := mounts.Restore(context.Background()); err != nil {
		return nil, err
	}

	return &app{handlers: handlers, aliases: aliases, cache: cache, mounts: mounts}, nil
}

func main() {
	var settingsPath string

	root := &cobra.Command{
		Use:   "storagefsd",
		Short: "Administrative CLI for the storable protocol and mount registry",
	}
	root.PersistentFlags().StringVar(&settingsPath, "settings", defaultSettingsPath(), "path to the persisted mount settings file")

	root.AddCommand(restoreCmd(&settingsPath))
	root.AddCommand(mountCmd(&settingsPath))
	root.AddCommand(unmountCmd(&settingsPath))
	root.AddCommand(renameCmd(&settingsPath))
	root.AddCommand(listCmd(&settingsPath))

	if err := root.Execute(); err != nil {
		logging.Errorf(nil, "[%s] %v", instanceID, err)
		os.Exit(1)
	}
}

func restoreCmd(settingsPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "restore",
		Short: "Restore every persisted mount in dependency order",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(*settingsPath)
			if err != nil {
				return err
			}
			return a.mounts.Restore(context.Background())
		},
	}
}

func mountCmd(settingsPath *string) *cobra.Command {
	var displayName string
	cmd := &cobra.Command{
		Use:   "mount <storable-id> <scheme>",
		Short: "Mount an existing folder or archive file under a new scheme",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(*settingsPath)
			if err != nil {
				return err
			}
			ctx := context.Background()
			id, scheme := args[0], args[1]
			item, err := a.cache.Resolve(ctx, id)
			if err != nil {
				return err
			}
			name := displayName
			if name == "" {
				name = scheme
			}
			uri, err := a.mounts.Mount(ctx, item, scheme, name, a.aliases.ToAlias(id))
			if err != nil {
				return err
			}
			fmt.Println(uri)
			return nil
		},
	}
	cmd.Flags().StringVar(&displayName, "name", "", "display name for the mount (defaults to the scheme)")
	return cmd
}

func unmountCmd(settingsPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "unmount <scheme>",
		Short: "Unmount a previously mounted scheme",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(*settingsPath)
			if err != nil {
				return err
			}
			return a.mounts.Unmount(context.Background(), args[0])
		},
	}
}

func renameCmd(settingsPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "rename <old-scheme> <new-scheme>",
		Short: "Rename a mounted scheme",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(*settingsPath)
			if err != nil {
				return err
			}
			return a.mounts.Rename(context.Background(), args[0], args[1])
		},
	}
}

func listCmd(settingsPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List every persisted mount",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(*settingsPath)
			if err != nil {
				return err
			}
			for _, m := range a.mounts.List() {
				fmt.Printf("%s\t%s\t%s\t%s\n", m.ProtocolScheme, m.MountType, m.MountName, m.OriginalStorableID)
			}
			return nil
		},
	}
}
