package cmd

import (
	"errors"
	"fmt"
	"strings"

	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/spigell/recruit-chat/internal/auth"
	"github.com/spigell/recruit-chat/internal/store"
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Store an API token in the session store",
	RunE: func(_ *cobra.Command, _ []string) error {
		kv, l, err := openStore()
		if err != nil {
			return err
		}
		defer kv.Close()

		input := promptui.Prompt{
			Label: "API token",
			Mask:  '*',
			Validate: func(s string) error {
				if strings.TrimSpace(s) == "" {
					return errors.New("token must not be empty")
				}
				return nil
			},
		}

		token, err := input.Run()
		if err != nil {
			return err
		}

		token = strings.TrimPrefix(strings.TrimSpace(token), "Bearer ")
		if err := kv.Set(auth.TokenKey, token); err != nil {
			return fmt.Errorf("storing token: %w", err)
		}

		l.Info("token stored")
		return nil
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Forget the stored token and conversations",
	RunE: func(_ *cobra.Command, _ []string) error {
		kv, l, err := openStore()
		if err != nil {
			return err
		}
		defer kv.Close()

		if err := kv.Clear(); err != nil {
			return fmt.Errorf("clearing session store: %w", err)
		}

		l.Info("logged out")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(logoutCmd)
}

func openStore() (store.KV, *zap.Logger, error) {
	l, err := newLogger()
	if err != nil {
		return nil, nil, err
	}

	config, err := getConfig()
	if err != nil {
		return nil, nil, fmt.Errorf("getting a config: %w", err)
	}

	if config.Store.Driver == store.DriverMemory {
		l.Warn("memory store does not outlive the command", zap.String("hint", "set store.driver to file or sqlite"))
	}

	kv, err := store.Open(config.Store, l)
	if err != nil {
		return nil, nil, fmt.Errorf("opening session store: %w", err)
	}

	return kv, l, nil
}
