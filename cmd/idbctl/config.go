package main

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tracktunes/idb"
)

// initConfig loads .env files and lets IDB_* environment variables override
// flag defaults.
func initConfig() {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	viper.SetEnvPrefix("idb")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func bindCommandFlags(cmd *cobra.Command, _ []string) error {
	return viper.BindPFlags(cmd.Flags())
}

func storeOptions() idb.Options {
	return idb.Options{
		Engine:            idb.Engine(viper.GetString("engine")),
		Dir:               viper.GetString("dir"),
		Verbose:           viper.GetBool("verbose"),
		Logf:              log.Printf,
		LockTimeout:       viper.GetDuration("lock-timeout"),
		RetryInterval:     viper.GetDuration("retry-interval"),
		MaxDeleteAttempts: viper.GetInt("max-delete-attempts"),
	}
}

func loadDescriptor() (*idb.StoreDescriptor, error) {
	path := viper.GetString("descriptor")
	if path == "" {
		return nil, fmt.Errorf("no store descriptor, pass --descriptor or set IDB_DESCRIPTOR")
	}
	return idb.LoadDescriptor(path)
}

func commandContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	timeout := viper.GetDuration("timeout")
	if timeout <= 0 {
		return context.WithCancel(cmd.Context())
	}
	return context.WithTimeout(cmd.Context(), timeout)
}

// withStore opens the described store, waits until it is ready and runs f.
func withStore(cmd *cobra.Command, f func(ctx context.Context, s *idb.Store) error) error {
	desc, err := loadDescriptor()
	if err != nil {
		return err
	}
	ctx, cancel := commandContext(cmd)
	defer cancel()

	s, err := idb.Open(desc, storeOptions())
	if err != nil {
		return err
	}
	defer s.Close()

	start := time.Now()
	if _, err := s.WaitForReady(ctx); err != nil {
		return err
	}
	if viper.GetBool("verbose") {
		log.Printf("idbctl: %s v%d ready in %v", desc.Name, desc.Version, time.Since(start))
	}
	return f(ctx, s)
}
