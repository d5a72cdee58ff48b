package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/pgforge/pgforge/build"
	"github.com/pgforge/pgforge/cluster"
	"github.com/pgforge/pgforge/pgbin"
	"github.com/pgforge/pgforge/utils/cmdrunner"
)

var buildVersion = "dev"

var rootCmd = &cobra.Command{
	Version: buildVersion,

	Use:   "pgforge",
	Short: "Manage PostgreSQL builds and local streaming-replication clusters",
}

func init() {
	configFlags := pflag.NewFlagSet("", pflag.ContinueOnError)
	configFlags.String("log-level", "info", "the log level to run at")
	configFlags.String("root", "", "the pgforge home directory (default ~/.pgforge)")
	rootCmd.PersistentFlags().AddFlagSet(configFlags)

	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.SetEnvPrefix("pgforge")
	viper.AutomaticEnv()

	_ = viper.BindPFlags(configFlags)

	setupClusterCmd.Flags().String("datadir", "pgcluster", "the cluster root directory")
	setupClusterCmd.Flags().Int("port", 5432, "the primary's port; standbys continue upward")
	setupClusterCmd.Flags().String("version", "", "the engine version to run (default: current)")

	stopClusterCmd.Flags().StringSlice("node", nil, "restrict the stop to the named servers")
	stopClusterCmd.Flags().String("version", "", "the engine version whose tools to use (default: current)")

	removeClusterCmd.Flags().String("version", "", "the engine version whose tools to use (default: current)")

	installCmd.Flags().String("mirror", "", "the source archive mirror to download from")

	rootCmd.AddCommand(setupClusterCmd)
	rootCmd.AddCommand(stopClusterCmd)
	rootCmd.AddCommand(removeClusterCmd)
	rootCmd.AddCommand(statusClusterCmd)
	rootCmd.AddCommand(installCmd)
	rootCmd.AddCommand(versionsCmd)
	rootCmd.AddCommand(useCmd)
}

func getLogger() (zap.AtomicLevel, *zap.Logger) {
	logLevel := zap.NewAtomicLevel()
	logConfig := zap.NewProductionEncoderConfig()
	logConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	jsonEncoder := zapcore.NewJSONEncoder(logConfig)
	core := zapcore.NewTee(
		zapcore.NewCore(jsonEncoder, zapcore.AddSync(os.Stderr), logLevel),
	)
	logger := zap.New(core)

	return logLevel, logger
}

// env holds everything a subcommand needs, assembled from flags and the
// environment once per invocation.
type env struct {
	Logger   *zap.Logger
	Runner   cmdrunner.Runner
	Registry *pgbin.Registry
}

func setupEnv() *env {
	logLevel, logger := getLogger()

	parsedLogLevel, err := zapcore.ParseLevel(viper.GetString("log-level"))
	if err != nil {
		logger.Warn("invalid log level specified, using INFO instead")
		parsedLogLevel = zapcore.InfoLevel
	}
	logLevel.SetLevel(parsedLogLevel)

	rootDir := viper.GetString("root")
	if rootDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			logger.Error("failed to determine home directory", zap.Error(err))
			os.Exit(1)
		}
		rootDir = filepath.Join(home, ".pgforge")
	}

	return &env{
		Logger: logger,
		Runner: cmdrunner.NewExecRunner(&cmdrunner.ExecRunnerOptions{
			Logger: logger.Named("exec"),
		}),
		Registry: pgbin.NewRegistry(&pgbin.RegistryOptions{
			Logger:  logger.Named("pgbin"),
			RootDir: rootDir,
		}),
	}
}

func fatal(logger *zap.Logger, msg string, err error) {
	logger.Error(msg, zap.Error(err))
	os.Exit(1)
}

// parseCounts parses the <syncCount>:<asyncCount> argument.
func parseCounts(arg string) (int, int, error) {
	syncStr, asyncStr, found := strings.Cut(arg, ":")
	if !found {
		return 0, 0, fmt.Errorf("expected <syncCount>:<asyncCount>, got %q", arg)
	}

	syncCount, err := strconv.Atoi(syncStr)
	if err != nil {
		return 0, 0, fmt.Errorf("bad sync count %q", syncStr)
	}
	asyncCount, err := strconv.Atoi(asyncStr)
	if err != nil {
		return 0, 0, fmt.Errorf("bad async count %q", asyncStr)
	}

	return syncCount, asyncCount, nil
}

var setupClusterCmd = &cobra.Command{
	Use:   "setup-cluster <syncCount>:<asyncCount>",
	Short: "Provision and start a replication cluster",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		e := setupEnv()

		syncCount, asyncCount, err := parseCounts(args[0])
		if err != nil {
			fatal(e.Logger, "invalid cluster counts", err)
		}

		dataRoot, _ := cmd.Flags().GetString("datadir")
		startPort, _ := cmd.Flags().GetInt("port")
		version, _ := cmd.Flags().GetString("version")

		manager := cluster.NewManager(&cluster.ManagerOptions{
			Logger:   e.Logger.Named("cluster"),
			Runner:   e.Runner,
			Registry: e.Registry,
		})

		topo, err := manager.Setup(cmd.Context(), &cluster.SetupOptions{
			SyncCount:  syncCount,
			AsyncCount: asyncCount,
			DataRoot:   dataRoot,
			StartPort:  startPort,
			Version:    version,
		})
		if err != nil {
			fatal(e.Logger, "cluster setup failed", err)
		}

		fmt.Printf("cluster is running: primary %s on port %d, %d sync / %d async standbys\n",
			topo.Primary.ServerName, topo.Primary.Port,
			len(topo.SyncStandbys), len(topo.AsyncStandbys))
		fmt.Printf("to stop it: pgforge stop-cluster %s\n", dataRoot)
	},
}

var stopClusterCmd = &cobra.Command{
	Use:   "stop-cluster <datadir>",
	Short: "Stop a running cluster's nodes in reverse dependency order",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		e := setupEnv()

		nodes, _ := cmd.Flags().GetStringSlice("node")
		version, _ := cmd.Flags().GetString("version")

		manager := cluster.NewManager(&cluster.ManagerOptions{
			Logger:   e.Logger.Named("cluster"),
			Runner:   e.Runner,
			Registry: e.Registry,
		})

		if err := manager.Stop(cmd.Context(), args[0], nodes, version); err != nil {
			fatal(e.Logger, "cluster stop failed", err)
		}
	},
}

var removeClusterCmd = &cobra.Command{
	Use:   "remove-cluster <datadir>",
	Short: "Stop a cluster and delete its data directories",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		e := setupEnv()

		version, _ := cmd.Flags().GetString("version")

		manager := cluster.NewManager(&cluster.ManagerOptions{
			Logger:   e.Logger.Named("cluster"),
			Runner:   e.Runner,
			Registry: e.Registry,
		})

		if err := manager.Remove(cmd.Context(), args[0], version); err != nil {
			fatal(e.Logger, "cluster remove failed", err)
		}
	},
}

var statusClusterCmd = &cobra.Command{
	Use:   "status-cluster <datadir>",
	Short: "Show which standbys are attached to the primary",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		e := setupEnv()

		manager := cluster.NewManager(&cluster.ManagerOptions{
			Logger:   e.Logger.Named("cluster"),
			Runner:   e.Runner,
			Registry: e.Registry,
		})

		statuses, err := manager.Status(cmd.Context(), args[0])
		if err != nil {
			fatal(e.Logger, "cluster status failed", err)
		}

		for _, s := range statuses {
			if s.Attached {
				fmt.Printf("%-12s %-14s port %-6d attached  state=%s sync_state=%s\n",
					s.ServerName, s.Role, s.Port, s.State, s.SyncState)
			} else {
				fmt.Printf("%-12s %-14s port %-6d missing\n", s.ServerName, s.Role, s.Port)
			}
		}
	},
}

var installCmd = &cobra.Command{
	Use:   "install <version>",
	Short: "Download, compile, and install an engine version",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		e := setupEnv()

		mirror, _ := cmd.Flags().GetString("mirror")

		builder := build.NewBuilder(&build.BuilderOptions{
			Logger:    e.Logger.Named("build"),
			Runner:    e.Runner,
			Registry:  e.Registry,
			MirrorURL: mirror,
		})

		if err := builder.Install(cmd.Context(), args[0]); err != nil {
			fatal(e.Logger, "install failed", err)
		}
	},
}

var versionsCmd = &cobra.Command{
	Use:   "versions",
	Short: "List installed engine versions",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		e := setupEnv()

		versions, err := e.Registry.List()
		if err != nil {
			fatal(e.Logger, "failed to list versions", err)
		}

		current, _ := e.Registry.Current()
		for _, v := range versions {
			marker := " "
			if v == current {
				marker = "*"
			}
			fmt.Printf("%s %s\n", marker, v)
		}
	},
}

var useCmd = &cobra.Command{
	Use:   "use <version>",
	Short: "Select the current engine version",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		e := setupEnv()

		if err := e.Registry.Use(args[0]); err != nil {
			fatal(e.Logger, "failed to switch version", err)
		}
	},
}

func main() {
	cobra.CheckErr(rootCmd.Execute())
}
