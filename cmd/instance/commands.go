// Package instance wires cobra subcommands for the flat CLI surface
// spec §6 names: up, run, start, ps, prune, images, ssh, version. Grounded
// on the
// teacher's cmd/others/commands.go flat-command style (a slice of
// top-level *cobra.Command built from one Actions-holding Handler) rather
// than cmd/vm's/cmd/images's noun-grouped parent-command style, since this
// engine's verbs are not grouped under a noun.
package instance

import (
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"text/tabwriter"
	"time"

	units "github.com/docker/go-units"
	"github.com/spf13/cobra"

	cmdcore "github.com/zTrix/qemu-compose/cmd/core"
	"github.com/zTrix/qemu-compose/config"
	"github.com/zTrix/qemu-compose/image"
	"github.com/zTrix/qemu-compose/instance"
	"github.com/zTrix/qemu-compose/session"
	"github.com/zTrix/qemu-compose/types"
	"github.com/zTrix/qemu-compose/utils"
	"github.com/zTrix/qemu-compose/version"
)

// Handler bundles a config provider so every command function can build a
// BaseHandler without threading extra state through cobra's RunE closures.
type Handler struct {
	cmdcore.BaseHandler
}

// Commands returns the flat top-level command set rootCmd adds directly.
func Commands(confProvider func() *config.Config) []*cobra.Command {
	h := Handler{BaseHandler: cmdcore.BaseHandler{ConfProvider: confProvider}}
	return []*cobra.Command{
		h.upCommand(),
		h.runCommand(),
		h.startCommand(),
		h.psCommand(),
		h.pruneCommand(),
		h.imagesCommand(),
		h.sshCommand(),
		h.versionCommand(),
	}
}

func (h Handler) upCommand() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "up",
		Short: "read a YAML config and run a new instance",
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := configPath
			if path == "" {
				path = cmdcore.DefaultConfigPath()
			}
			if path == "" {
				return fmt.Errorf("no config file given and neither ./qemu-compose.yml nor ./qemu-compose.yaml exists")
			}
			cfg, err := cmdcore.LoadRuntimeConfig(path)
			if err != nil {
				return err
			}
			return h.runSession(cmd, cfg)
		},
	}
	cmd.Flags().StringVarP(&configPath, "file", "f", "", "config file (default ./qemu-compose.yml or .yaml)")
	return cmd
}

func (h Handler) runCommand() *cobra.Command {
	var name string
	var ports []string
	var volumes []string
	cmd := &cobra.Command{
		Use:   "run <image>",
		Short: "run a new instance from an image",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := types.RuntimeConfig{
				Name:    name,
				Image:   args[0],
				Ports:   ports,
				Volumes: volumes,
			}
			cfg.Init()
			return h.runSession(cmd, cfg)
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "instance name")
	cmd.Flags().StringArrayVarP(&ports, "publish", "p", nil, "port forward, host:guest[/proto]")
	cmd.Flags().StringArrayVarP(&volumes, "volume", "v", nil, "shared directory, src:dst[:ro]")
	return cmd
}

// runSession drives the common `up`/`run` path: build, launch, run boot
// commands, hand over the terminal interactively, then clean up.
func (h Handler) runSession(cmd *cobra.Command, cfg types.RuntimeConfig) error {
	ctx, _, st, err := h.Init(cmd)
	if err != nil {
		return err
	}
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	eng, _, err := session.New(ctx, st, session.NewOptions{
		Cfg:     cfg,
		NameGen: cmdcore.WordlistNameGenerator{},
		Tracker: cmdcore.LogTracker(ctx),
	})
	if err != nil {
		return err
	}
	defer eng.Cleanup(ctx)

	if err := eng.RunBeforeScript(ctx, cfg); err != nil {
		return err
	}
	if err := eng.Launch(ctx, cfg); err != nil {
		return err
	}
	if err := eng.PersistConfig(ctx, cfg); err != nil {
		return err
	}
	if err := eng.RunBootProgram(ctx, cfg, true); err != nil {
		return err
	}
	return eng.RunAfterScript(ctx, cfg)
}

func (h Handler) startCommand() *cobra.Command {
	var overridePath string
	cmd := &cobra.Command{
		Use:   "start <id|name>",
		Short: "restart an existing instance, merging CLI config over persisted",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, _, st, err := h.Init(cmd)
			if err != nil {
				return err
			}
			ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			var override *types.RuntimeConfig
			if overridePath != "" {
				c, err := cmdcore.LoadRuntimeConfig(overridePath)
				if err != nil {
					return err
				}
				override = &c
			}

			eng, cfg, err := session.Resume(ctx, st, args[0], override)
			if err != nil {
				return err
			}
			eng.WithTracker(cmdcore.LogTracker(ctx))
			defer eng.Cleanup(ctx)

			if err := eng.RunBeforeScript(ctx, cfg); err != nil {
				return err
			}
			if err := eng.Launch(ctx, cfg); err != nil {
				return err
			}
			if err := eng.PersistConfig(ctx, cfg); err != nil {
				return err
			}
			if err := eng.RunBootProgram(ctx, cfg, true); err != nil {
				return err
			}
			return eng.RunAfterScript(ctx, cfg)
		},
	}
	cmd.Flags().StringVarP(&overridePath, "file", "f", "", "override config document")
	return cmd
}

func (h Handler) psCommand() *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "ps",
		Short: "list instances",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, _, st, err := h.Init(cmd)
			if err != nil {
				return err
			}
			instanceRoot, err := st.InstanceRoot()
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0) //nolint:mnd
			fmt.Fprintln(w, "ID\tNAME\tSTATE\tPID\tCID\tAGE")
			for _, vmid := range instance.List(instanceRoot) {
				dir := filepath.Join(instanceRoot, vmid)
				pid, hasPID := instance.ReadPID(dir)
				running := hasPID && pid > 0 && utils.IsProcessAlive(pid)
				if !all && !running {
					continue
				}
				name, _ := instance.ReadName(dir)
				cid, _ := instance.ReadCID(dir)
				state := "stopped"
				if running {
					state = "running"
				}
				pidDisplay := ""
				if hasPID {
					pidDisplay = strconv.Itoa(pid)
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\n", vmid, name, state, pidDisplay, cid, instanceAge(dir))
			}
			return w.Flush()
		},
	}
	cmd.Flags().BoolVarP(&all, "all", "a", false, "show stopped instances too")
	return cmd
}

// instanceAge returns a human-readable "how long ago" string derived from
// the instance directory's modification time, or "" if it can't be stat'd.
func instanceAge(dir string) string {
	info, err := os.Stat(dir)
	if err != nil {
		return ""
	}
	return units.HumanDuration(time.Since(info.ModTime()))
}

func (h Handler) pruneCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "prune",
		Short: "remove transient runtime files of dead, unlocked instances",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, _, st, err := h.Init(cmd)
			if err != nil {
				return err
			}
			instanceRoot, err := st.InstanceRoot()
			if err != nil {
				return err
			}
			return instance.Prune(ctx, instanceRoot)
		},
	}
}

func (h Handler) imagesCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "images",
		Short: "list images",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, _, st, err := h.Init(cmd)
			if err != nil {
				return err
			}
			imageRoot, err := st.ImageRoot()
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0) //nolint:mnd
			fmt.Fprintln(w, "ID\tREPO:TAG\tDIGEST\tSIZE\tCREATED")
			for _, m := range image.List(ctx, imageRoot) {
				tag := ""
				if len(m.RepoTags) > 0 {
					tag = m.RepoTags[0].String()
				}
				size := units.HumanSize(float64(diskSize(imageRoot, m)))
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", m.ID, tag, image.ShortDigestHash(m.Digest), size, m.Created.Format("2006-01-02 15:04:05"))
			}
			return w.Flush()
		},
	}
	return cmd
}

// diskSize sums the on-disk size of every disk file m's manifest references
// under "<imageRoot>/<m.ID>/"; manifests carry no persisted size field, so
// this is computed at display time rather than read back.
func diskSize(imageRoot string, m types.ImageManifest) int64 {
	var total int64
	dir := filepath.Join(imageRoot, m.ID)
	for _, d := range m.Disks {
		if info, err := os.Stat(filepath.Join(dir, d.Filename)); err == nil {
			total += info.Size()
		}
	}
	return total
}

func (h Handler) sshCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:                "ssh <id|name> [cmd...]",
		Short:              "ssh into a running instance over vsock",
		Args:               cobra.MinimumNArgs(1),
		DisableFlagParsing: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, _, st, err := h.Init(cmd)
			if err != nil {
				return err
			}
			instanceRoot, err := st.InstanceRoot()
			if err != nil {
				return err
			}
			vmid, err := instance.Resolve(instanceRoot, args[0])
			if err != nil {
				return err
			}
			dir := filepath.Join(instanceRoot, vmid)
			cid, ok := instance.ReadCID(dir)
			if !ok {
				return fmt.Errorf("instance %s has no recorded guest CID; is it running?", vmid)
			}
			keyPath := filepath.Join(dir, "ssh-key")

			sshArgs := []string{
				"-i", keyPath,
				"-o", "StrictHostKeyChecking=no",
				"-o", "UserKnownHostsFile=/dev/null",
				fmt.Sprintf("root@vsock%%%d", cid),
			}
			sshArgs = append(sshArgs, args[1:]...)

			sshBin, err := exec.LookPath("ssh")
			if err != nil {
				return fmt.Errorf("ssh binary not found on PATH: %w", err)
			}
			c := exec.CommandContext(ctx, sshBin, sshArgs...) //nolint:gosec
			c.Stdin = os.Stdin
			c.Stdout = os.Stdout
			c.Stderr = os.Stderr
			return c.Run()
		},
	}
	return cmd
}

func (h Handler) versionCommand() *cobra.Command {
	var short bool
	cmd := &cobra.Command{
		Use:   "version",
		Short: "print the qemu-compose version",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if short {
				fmt.Fprintln(cmd.OutOrStdout(), version.Short())
				return nil
			}
			fmt.Fprint(cmd.OutOrStdout(), version.String())
			return nil
		},
	}
	cmd.Flags().BoolVar(&short, "short", false, "print only the version number")
	return cmd
}
