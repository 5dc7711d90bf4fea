package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/spf13/cobra"
	"github.com/tcriess/lightspeed-rooms/auth"
	"github.com/tcriess/lightspeed-rooms/config"
	"github.com/tcriess/lightspeed-rooms/filter"
	"github.com/tcriess/lightspeed-rooms/globals"
	"github.com/tcriess/lightspeed-rooms/persistence"
	"github.com/tcriess/lightspeed-rooms/types"
)

// A very simple CLI tool for the administration of lightspeed-rooms message histories and tokens.

var (
	configPath  string
	envFile     string
	globalCfg   *config.Config
	historySize int
	subject     string
	ttl         time.Duration
)

func main() {
	flagSet := config.GetFlagSet()

	var rootCmd = &cobra.Command{
		Use:          "lightspeed-rooms-admin",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			err := config.LoadEnvFile(envFile)
			if err != nil {
				return err
			}
			globalCfg, err = config.ReadConfiguration(configPath, flagSet)
			if err != nil {
				return err
			}
			globals.AppLogger.SetLevel(hclog.LevelFromString(globalCfg.LogLevel))
			return nil
		},
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file or directory")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "dotenv file with LSROOMS_* variables (optional)")
	rootCmd.PersistentFlags().AddFlagSet(flagSet)

	var cmdHistory = &cobra.Command{
		Use:   "history [room]",
		Short: "Show the message history of a room",
		Long:  `history prints the most recent messages of the room as JSON, oldest first.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			persister, err := persistence.NewPersister(globalCfg)
			if err != nil {
				return err
			}
			defer persister.Close()
			ctx, cancel := context.WithTimeout(context.Background(), globalCfg.PersistenceConfig.Timeout)
			defer cancel()
			messages, err := persister.GetMessageHistory(ctx, args[0], historySize)
			if err != nil {
				return err
			}
			if messages == nil {
				messages = make([]*types.Message, 0)
			}
			return printJSON(messages)
		},
	}
	cmdHistory.Flags().IntVarP(&historySize, "limit", "n", persistence.DefaultHistoryLimit, "number of messages")

	var cmdPost = &cobra.Command{
		Use:   "post [room] [author] [message]",
		Short: "Store a message",
		Long:  `post appends a message to the history of a room. The message is not sent to connected clients.`,
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			policy, err := filter.NewPolicy(globalCfg.ChatConfig)
			if err != nil {
				return err
			}
			err = policy.Check(args[0], args[1], args[2])
			if err != nil {
				return err
			}
			persister, err := persistence.NewPersister(globalCfg)
			if err != nil {
				return err
			}
			defer persister.Close()
			ctx, cancel := context.WithTimeout(context.Background(), globalCfg.PersistenceConfig.Timeout)
			defer cancel()
			msg, err := persister.StoreMessage(ctx, args[0], args[1], args[2])
			if err != nil {
				return err
			}
			return printJSON(msg)
		},
	}

	var cmdToken = &cobra.Command{
		Use:   "token [username]",
		Short: "Create an access token",
		Long:  `token prints a signed JWT for the user, to be used as token query parameter or bearer token.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			issuer := auth.NewJWTIssuer(globalCfg.AuthConfig.JWTSecret, globalCfg.AuthConfig.JWTIssuer)
			tok, err := issuer.Issue(types.User{Id: subject, Nick: args[0]}, ttl)
			if err != nil {
				return err
			}
			fmt.Println(tok)
			return nil
		},
	}
	cmdToken.Flags().StringVar(&subject, "subject", "", "user id (defaults to the username)")
	cmdToken.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "validity of the token")

	rootCmd.AddCommand(cmdHistory, cmdPost, cmdToken)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func printJSON(v interface{}) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(b))
	return nil
}
