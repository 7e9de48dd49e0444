package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	echoapi "github.com/trezcool/kinga/apps/api/echo"
	"github.com/trezcool/kinga/core"
	"github.com/trezcool/kinga/core/moderation"
	"github.com/trezcool/kinga/storage/database"
)

var (
	gooseRunFunc = database.RunMigrations // mockable

	errHelp      = errors.New("help provided")
	errDebugOnly = errors.New("tokens can only be minted in debug mode")
)

// operatorAuthorizer trusts whoever runs the CLI.
var operatorAuthorizer = moderation.AuthorizerFunc(func(context.Context, string) (bool, error) { return true, nil })

type commandLine struct {
	conf *core.Config
	db   *sql.DB
	svc  *moderation.Service
	out  io.Writer
}

func (cli *commandLine) run(args []string) error {
	root := cli.rootCmd()
	root.SetArgs(args[1:])
	return root.Execute()
}

func (cli *commandLine) writer() io.Writer {
	if cli.out == nil {
		return os.Stdout
	}
	return cli.out
}

func (cli *commandLine) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "admin",
		Short:         "Kinga administration",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_ = cmd.Usage()
			return errHelp
		},
	}
	root.SetOut(cli.writer())
	root.SetErr(cli.writer())

	root.AddCommand(
		cli.migrateCmd(),
		cli.flagsCmd(),
		cli.resolveCmd(),
		cli.collapseAppealsCmd(),
		cli.tokenCmd(),
	)
	return root
}

func (cli *commandLine) migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate COMMAND [ARGS]",
		Short: "Run database migrations: up, up-by-one, up-to N, down, down-to N, redo, reset, status, version",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				_ = cmd.Usage()
				return errHelp
			}
			return gooseRunFunc(args[0], cli.db, args[1:]...)
		},
	}
}

func (cli *commandLine) flagsCmd() *cobra.Command {
	var status, verdict, ordering string
	cmd := &cobra.Command{
		Use:   "flags",
		Short: "List moderation flags",
		RunE: func(cmd *cobra.Command, _ []string) error {
			flags, err := cli.svc.QueryFlags(
				cmd.Context(),
				moderation.FlagFilter{Status: moderation.FlagStatus(status), Verdict: moderation.Verdict(verdict)},
				core.ParseOrdering(ordering)...,
			)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			_, _ = fmt.Fprintln(w, "ID\tVERDICT\tACTION\tSTATUS\tVISIBILITY\tCREATED")
			for _, f := range flags {
				_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
					f.ID, f.Verdict, f.Action, f.Status, f.Visibility(), f.CreatedAt.Format(time.RFC3339))
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "open|resolved")
	cmd.Flags().StringVar(&verdict, "verdict", "", "allowed|blocked|review")
	cmd.Flags().StringVar(&ordering, "ordering", "", "comma separated created_at|score|resolved_at, prefix with - for descending")
	return cmd
}

func (cli *commandLine) resolveCmd() *cobra.Command {
	var flagID, decision, actor string
	cmd := &cobra.Command{
		Use:   "resolve",
		Short: "Uphold or overturn a flag",
		RunE: func(cmd *cobra.Command, _ []string) error {
			res, err := cli.svc.Resolve(cmd.Context(), moderation.ResolveFlag{
				ActorID:  actor,
				FlagID:   flagID,
				Decision: moderation.Decision(decision),
			})
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "flag %s %s: %s (%s), %d appeal(s) resolved\n",
				res.FlagID, res.Status, res.Decision, res.Visibility, res.AppealsResolved)
			return nil
		},
	}
	cmd.Flags().StringVar(&flagID, "flag", "", "flag ID")
	cmd.Flags().StringVar(&decision, "decision", "", "uphold|overturn")
	cmd.Flags().StringVar(&actor, "actor", "", "administrator's user ID")
	_ = cmd.MarkFlagRequired("flag")
	_ = cmd.MarkFlagRequired("decision")
	_ = cmd.MarkFlagRequired("actor")
	return cmd
}

func (cli *commandLine) collapseAppealsCmd() *cobra.Command {
	var flagID, actor string
	cmd := &cobra.Command{
		Use:   "collapse-appeals",
		Short: "Delete duplicate appeals on a flag, keeping each user's earliest",
		RunE: func(cmd *cobra.Command, _ []string) error {
			deleted, err := cli.svc.CollapseDuplicateAppeals(cmd.Context(), actor, flagID)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%d duplicate appeal(s) deleted\n", deleted)
			return nil
		},
	}
	cmd.Flags().StringVar(&flagID, "flag", "", "flag ID")
	cmd.Flags().StringVar(&actor, "actor", "", "administrator's user ID")
	_ = cmd.MarkFlagRequired("flag")
	_ = cmd.MarkFlagRequired("actor")
	return cmd
}

func (cli *commandLine) tokenCmd() *cobra.Command {
	var userID, email string
	var isAdmin bool
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a JWT for local testing",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !cli.conf.Debug {
				return errDebugOnly
			}
			token, err := echoapi.GenerateToken(cli.conf, echoapi.NewClaims(cli.conf, userID, email, isAdmin))
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "user ID (token subject)")
	cmd.Flags().StringVar(&email, "email", "", "user email")
	cmd.Flags().BoolVar(&isAdmin, "admin", false, "grant admin rights")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}
