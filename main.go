package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/apparentlymart/go-userdirs/userdirs"
	"github.com/hashicorp/hcl/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/apparentlymart/registry-browser/internal/config"
	"github.com/apparentlymart/registry-browser/internal/enrich"
	"github.com/apparentlymart/registry-browser/internal/logging"
	"github.com/apparentlymart/registry-browser/internal/ocidist"
	"github.com/apparentlymart/registry-browser/internal/server"
	"github.com/apparentlymart/registry-browser/internal/summarycache"
)

func main() {
	// Settings in a .env file in the working directory become environment
	// variables, which the configuration file can then refer to.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "Failed to read .env: %s\n", err)
		os.Exit(1)
	}

	err := rootCommand().Execute()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to execute: %s\n", err)
		os.Exit(1)
	}
}

func rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "registry-browser",
		Short: "A web interface and API for browsing and pruning a container registry.",

		SilenceUsage: true,
	}
	root.SetUsageTemplate(usageTemplate)
	cmdLineConfigFile := root.PersistentFlags().String("config", "", "Configuration file to use")
	verbosity := root.PersistentFlags().CountP("verbose", "v", "Log more detail; can be repeated")
	var globalConfig *config.Config
	var logger *slog.Logger

	root.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		logger = logging.New(cmd.ErrOrStderr(), *verbosity)
		slog.SetDefault(logger)

		var configFile string
		if *cmdLineConfigFile != "" {
			configFile = *cmdLineConfigFile
		} else {
			candidates := dirs.FindConfigFiles("config.hcl")
			if len(candidates) == 0 {
				fmt.Fprintf(
					cmd.ErrOrStderr(),
					"Error: No configuration file found.\n\nEither specify a config file using the --config option, or place config.hcl\nin one of the following directories:\n",
				)
				for _, dir := range dirs.ConfigDirs {
					fmt.Fprintf(cmd.ErrOrStderr(), " - %s\n", dir)
				}
				os.Exit(1)
			}
			if len(candidates) != 1 {
				fmt.Fprintf(
					cmd.ErrOrStderr(),
					"Error: Multiple configuration files found.\n\nUse the --config option to specify which configuration file to use.\nFound the following configuration files:\n",
				)
				for _, filename := range candidates {
					fmt.Fprintf(cmd.ErrOrStderr(), " - %s\n", filename)
				}
				os.Exit(1)
			}
			configFile = candidates[0]
		}

		gotConfig, diags := config.LoadConfigFile(configFile)
		for _, diag := range diags {
			severity := "Problem"
			switch diag.Severity {
			case hcl.DiagError:
				severity = "Error"
			case hcl.DiagWarning:
				severity = "Warning"
			}
			prefix := severity
			if diag.Subject != nil {
				prefix = fmt.Sprintf("%s at %s", severity, *diag.Subject)
			}
			detail := ""
			if diag.Detail != "" {
				detail = "\n\n" + diag.Detail + "\n"
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "%s: %s%s\n", prefix, diag.Summary, detail)
		}
		if diags.HasErrors() {
			fmt.Fprintf(cmd.ErrOrStderr(), "\nConfiguration is invalid.\n")
			os.Exit(1)
		}
		globalConfig = gotConfig
		logger.Debug("loaded configuration", "filename", configFile)
	}

	newEnricher := func() *enrich.Enricher {
		client := server.RegistryClient(globalConfig.Registry)
		return enrich.New(client, summarycache.New[enrich.RepositorySummary](), globalConfig.Registry.MaxConcurrentRequests)
	}
	commandContext := func(cmd *cobra.Command) context.Context {
		return logging.ContextWithLogger(cmd.Context(), logger)
	}

	repositoriesCmd := &cobra.Command{
		Use:   "repositories",
		Short: "List the repositories in the registry along with a summary of each",
		Args:  cobra.NoArgs,
	}
	repositoriesJSON := repositoriesCmd.Flags().Bool("json", false, "Produce JSON output instead of a table")
	repositoriesCmd.RunE = func(cmd *cobra.Command, args []string) error {
		repos, err := newEnricher().ListRepositories(commandContext(cmd))
		if err != nil {
			return err
		}
		if *repositoriesJSON {
			return writeJSON(cmd.OutOrStdout(), repos)
		}
		writeRepositoriesTable(cmd.OutOrStdout(), repos)
		return nil
	}

	tagsCmd := &cobra.Command{
		Use:   "tags REPOSITORY",
		Short: "List the tags of a repository along with the details of each image",
		Args:  cobra.MatchAll(cobra.ExactArgs(1), repositoryArg),
	}
	tagsJSON := tagsCmd.Flags().Bool("json", false, "Produce JSON output instead of a table")
	tagsCmd.RunE = func(cmd *cobra.Command, args []string) error {
		tags, err := newEnricher().ListTagDetails(commandContext(cmd), args[0])
		if err != nil {
			return err
		}
		if *tagsJSON {
			return writeJSON(cmd.OutOrStdout(), tags)
		}
		writeTagsTable(cmd.OutOrStdout(), tags)
		return nil
	}

	root.AddCommand(
		&cobra.Command{
			Use:   "server",
			Short: "Run the web interface and its API",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
				defer cancel()
				return server.Run(ctx, globalConfig, logger)
			},
		},
		&cobra.Command{
			Use:   "check",
			Short: "Check that the configured registry is reachable and supports the distribution API",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				ctx := commandContext(cmd)
				client := server.RegistryClient(globalConfig.Registry)
				if err := client.CheckAPISupport(ctx); err != nil {
					return err
				}
				catalog, err := client.GetCatalog(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Registry at %s is available and has %d repositories.\n", globalConfig.Registry.URL, len(catalog.Repositories))
				return nil
			},
		},
		repositoriesCmd,
		tagsCmd,
	)

	return root
}

var dirs = userdirs.ForApp(
	"Registry Browser",
	"apparentlymart",
	"io.github.apparentlymart.registry-browser",
)

// repositoryArg checks the first positional argument is a repository name,
// which then becomes part of the registry request paths.
func repositoryArg(cmd *cobra.Command, args []string) error {
	if err := ocidist.ValidateRepositoryName(args[0]); err != nil {
		return fmt.Errorf("invalid repository name %q: %w", args[0], err)
	}
	return nil
}

const usageTemplate = `Usage:{{if .Runnable}}
  {{.UseLine}}{{end}}{{if .HasAvailableSubCommands}}
  {{.CommandPath}} [command]

Available subcommands:{{range .Commands}}{{if (or .IsAvailableCommand (eq .Name "help"))}}
  {{rpad .Name .NamePadding }} {{.Short}}{{end}}{{end}}{{end}}{{if .HasAvailableLocalFlags}}

Options:
{{.LocalFlags.FlagUsages | trimTrailingWhitespaces}}{{end}}{{if .HasAvailableInheritedFlags}}

Global options:
{{.InheritedFlags.FlagUsages | trimTrailingWhitespaces}}{{end}}{{if .HasAvailableSubCommands}}

Use "{{.CommandPath}} [command] --help" for more information about a command.{{end}}
`
