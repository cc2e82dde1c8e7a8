package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"polling-backend/api"
	"polling-backend/config"
	"polling-backend/encryption"
	"polling-backend/ledger"
	"polling-backend/ledger/chain"
	"polling-backend/ledger/evm"
	"polling-backend/models"
	"polling-backend/service"
	"polling-backend/storage"
	"polling-backend/wallet"
)

const (
	flagConfig   = "config"
	flagLogLevel = "log_level"
	flagDataDir  = "data_dir"
	flagBackend  = "ledger.backend"
	flagAccount  = "wallet.account"
	flagPort     = "port"
	flagYes      = "yes"
)

// App holds everything a command needs once the configuration is loaded.
type App struct {
	cfg      config.Config
	logger   zerolog.Logger
	keyring  *wallet.Keyring
	session  *wallet.Session
	blobs    ledger.BlobStore
	chain    *chain.Ledger
	contract *evm.Store
	registry *prometheus.Registry
	polls    *service.PollingService
	closers  []func()
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	v := viper.New()
	var cfg config.Config
	var logger zerolog.Logger

	rootCmd := &cobra.Command{
		Use:           "polld",
		Short:         "Confidential polling backend",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			path, err := cmd.Flags().GetString(flagConfig)
			if err != nil {
				return err
			}
			if cfg, err = config.Load(v, path); err != nil {
				return err
			}
			logger, err = newLogger(cmd.ErrOrStderr(), cfg.LogLevel)
			return err
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.String(flagConfig, "", "path to a config file")
	flags.String(flagLogLevel, "info", "log level (trace|debug|info|warn|error)")
	flags.String(flagDataDir, "data", "directory for the keyring and local ledgers")
	flags.String(flagBackend, config.BackendChain, "ledger backend (memory|bolt|chain|evm)")
	flags.String(flagAccount, wallet.DefaultAccount, "keyring account used as the connected identity")
	flags.Bool(flagYes, false, "approve signature requests without prompting")
	for _, name := range []string{flagLogLevel, flagDataDir, flagBackend, flagAccount} {
		if err := v.BindPFlag(name, flags.Lookup(name)); err != nil {
			panic(err)
		}
	}

	withApp := func(run func(cmd *cobra.Command, args []string, app *App) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			approve := wallet.PromptApprover(cmd.InOrStdin(), cmd.ErrOrStderr())
			if yes, _ := cmd.Flags().GetBool(flagYes); yes {
				approve = wallet.AlwaysApprove
			}
			app, err := newApp(cmd.Context(), cfg, logger, approve)
			if err != nil {
				return err
			}
			defer app.Close()
			return run(cmd, args, app)
		}
	}

	rootCmd.AddCommand(
		newServeCmd(v, withApp),
		newTopicsCmd(withApp),
		newCreateTopicCmd(withApp),
		newVoteCmd(withApp),
		newFeedbackCmd(withApp),
		newRevealCmd(withApp),
		newAccountsCmd(func() config.Config { return cfg }, func() zerolog.Logger { return logger }),
	)
	return rootCmd
}

type appRunner func(run func(cmd *cobra.Command, args []string, app *App) error) func(*cobra.Command, []string) error

func newLogger(out io.Writer, level string) (zerolog.Logger, error) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return zerolog.Nop(), errors.Wrapf(err, "invalid log level %q", level)
	}
	writer := zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	return zerolog.New(writer).Level(lvl).With().Timestamp().Logger(), nil
}

// newApp opens the keyring and the configured ledger and loads the state.
func newApp(ctx context.Context, cfg config.Config, logger zerolog.Logger, approve wallet.ApproveFunc) (*App, error) {
	app := &App{cfg: cfg, logger: logger, registry: prometheus.NewRegistry()}
	app.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	keyring, err := wallet.LoadOrCreateKeyring(cfg.Resolve(cfg.Wallet.KeyringPath), logger)
	if err != nil {
		return nil, err
	}
	key, err := keyring.Key(cfg.Wallet.Account)
	if err != nil {
		return nil, err
	}
	signer := wallet.NewKeySigner(key, approve)
	app.keyring = keyring
	app.session = wallet.NewSession(signer)

	if err := app.openLedger(ctx, signer); err != nil {
		app.Close()
		return nil, err
	}

	sessionKey, err := encryption.NewCryptoService().GenerateSessionKey(32)
	if err != nil {
		app.Close()
		return nil, err
	}
	var contract deployedContract
	if app.contract != nil {
		contract = app.contract
	}
	contractAddress, chainID := challengeTarget(cfg, contract)
	decryptSession := service.NewDecryptionSession(sessionKey, contractAddress, chainID, time.Now(), cfg.Decrypt.DurationDays)
	codec := encryption.NewMarkerCodec()
	decryptor := service.NewDecryptor(app.session, codec, decryptSession, cfg.Decrypt.RevealDelay, logger)

	opts := service.Options{
		SuccessLinger:    cfg.Status.SuccessLinger,
		ErrorLinger:      cfg.Status.ErrorLinger,
		ReloadAfterWrite: cfg.ReloadAfterWrite,
		Metrics:          service.NewMetrics(app.registry),
	}
	store := storage.NewPollStore(app.blobs, codec, logger)
	app.polls = service.NewPollingService(store, app.session, decryptor, opts, logger)

	if err := app.polls.Load(ctx); err != nil {
		app.Close()
		return nil, err
	}
	return app, nil
}

func (a *App) openLedger(ctx context.Context, signer *wallet.KeySigner) error {
	switch a.cfg.Ledger.Backend {
	case config.BackendMemory:
		a.blobs = ledger.NewMemoryStore()
	case config.BackendBolt:
		store, err := ledger.OpenBoltStore(a.cfg.Resolve(a.cfg.Ledger.Path), a.logger)
		if err != nil {
			return err
		}
		a.blobs = store
		a.closers = append(a.closers, func() { store.Close() })
	case config.BackendChain:
		l, err := chain.Open(a.cfg.Resolve(a.cfg.Ledger.Path), a.session, a.logger, chain.WithDifficulty(uint8(a.cfg.Ledger.Difficulty)))
		if err != nil {
			return err
		}
		a.blobs = l
		a.chain = l
	case config.BackendEVM:
		if !common.IsHexAddress(a.cfg.Ledger.ContractAddress) {
			return errors.Errorf("invalid contract address %q", a.cfg.Ledger.ContractAddress)
		}
		store, err := evm.Dial(ctx, a.cfg.Ledger.RPCURL, common.HexToAddress(a.cfg.Ledger.ContractAddress), signer, a.logger)
		if err != nil {
			return err
		}
		a.blobs = store
		a.contract = store
		a.closers = append(a.closers, store.Close)
	default:
		return errors.Errorf("unknown ledger backend %q", a.cfg.Ledger.Backend)
	}
	a.logger.Info().Str("backend", a.cfg.Ledger.Backend).Msg("ledger opened")
	return nil
}

// deployedContract is the live contract the evm backend is bound to.
type deployedContract interface {
	Address() common.Address
	ChainID() *big.Int
}

// challengeTarget returns the contract address and chain id the decryption
// challenge names. A bound contract wins over the configured values.
func challengeTarget(cfg config.Config, contract deployedContract) (string, uint64) {
	if contract == nil {
		return cfg.Ledger.ContractAddress, cfg.Ledger.ChainID
	}
	return contract.Address().Hex(), contract.ChainID().Uint64()
}

func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func newServeCmd(v *viper.Viper, withApp appRunner) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API",
		RunE: withApp(func(cmd *cobra.Command, _ []string, app *App) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
			defer stop()

			var inspector api.ChainInspector
			if app.chain != nil {
				inspector = app.chain
			}
			server := api.NewServer(app.polls, app.blobs, inspector, app.registry, app.logger)
			return server.Start(ctx, app.cfg.Port)
		}),
	}
	cmd.Flags().Int(flagPort, 8080, "HTTP port")
	if err := v.BindPFlag(flagPort, cmd.Flags().Lookup(flagPort)); err != nil {
		panic(err)
	}
	return cmd
}

func newTopicsCmd(withApp appRunner) *cobra.Command {
	return &cobra.Command{
		Use:   "topics",
		Short: "List topics with their feedback",
		Args:  cobra.NoArgs,
		RunE: withApp(func(cmd *cobra.Command, _ []string, app *App) error {
			out := cmd.OutOrStdout()
			for _, topic := range app.polls.Topics() {
				support, oppose := topic.Percentages()
				fmt.Fprintf(out, "#%d %s (by %s)\n", topic.ID, topic.Title, topic.Creator)
				if topic.Description != "" {
					fmt.Fprintf(out, "    %s\n", topic.Description)
				}
				fmt.Fprintf(out, "    up %d / down %d (%.1f%% / %.1f%%) votes: %s\n",
					topic.Upvotes, topic.Downvotes, support, oppose, topic.EncryptedVotes)
				for _, feedback := range app.polls.Feedbacks(topic.ID) {
					fmt.Fprintf(out, "    - %s [%s]\n", feedback.Content, feedback.EncryptedScore)
				}
			}
			stats := app.polls.Stats()
			fmt.Fprintf(out, "%d topics, %d feedbacks, %d votes\n", stats.TotalTopics, stats.TotalFeedbacks, stats.TotalVotes)
			return nil
		}),
	}
}

func newCreateTopicCmd(withApp appRunner) *cobra.Command {
	var description string
	cmd := &cobra.Command{
		Use:   "create-topic [title]",
		Short: "Create a topic",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(cmd *cobra.Command, args []string, app *App) error {
			topic, err := app.polls.CreateTopic(cmd.Context(), args[0], description)
			if err != nil {
				return reportFailure(app, err)
			}
			return printJSON(cmd.OutOrStdout(), topic)
		}),
	}
	cmd.Flags().StringVarP(&description, "description", "d", "", "topic description")
	return cmd
}

func newVoteCmd(withApp appRunner) *cobra.Command {
	return &cobra.Command{
		Use:   "vote [topic id] [up|down]",
		Short: "Vote on a topic",
		Args:  cobra.ExactArgs(2),
		RunE: withApp(func(cmd *cobra.Command, args []string, app *App) error {
			id, err := strconv.ParseUint(args[0], 10, 64)
			if err != nil {
				return errors.Wrapf(err, "invalid topic id %q", args[0])
			}
			direction, err := models.ParseVoteDirection(args[1])
			if err != nil {
				return err
			}
			topic, err := app.polls.CastVote(cmd.Context(), id, direction)
			if err != nil {
				return reportFailure(app, err)
			}
			return printJSON(cmd.OutOrStdout(), topic)
		}),
	}
}

func newFeedbackCmd(withApp appRunner) *cobra.Command {
	return &cobra.Command{
		Use:   "feedback [topic id] [content]",
		Short: "Submit feedback for a topic",
		Args:  cobra.ExactArgs(2),
		RunE: withApp(func(cmd *cobra.Command, args []string, app *App) error {
			id, err := strconv.ParseUint(args[0], 10, 64)
			if err != nil {
				return errors.Wrapf(err, "invalid topic id %q", args[0])
			}
			feedback, err := app.polls.SubmitFeedback(cmd.Context(), id, args[1])
			if err != nil {
				return reportFailure(app, err)
			}
			return printJSON(cmd.OutOrStdout(), feedback)
		}),
	}
}

func newRevealCmd(withApp appRunner) *cobra.Command {
	return &cobra.Command{
		Use:   "reveal [token]",
		Short: "Reveal an encrypted count after signing the decryption challenge",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(cmd *cobra.Command, args []string, app *App) error {
			value, err := app.polls.RequestDecryption(cmd.Context(), args[0])
			if err != nil {
				return reportFailure(app, err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), value)
			return nil
		}),
	}
}

func newAccountsCmd(cfg func() config.Config, logger func() zerolog.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "accounts",
		Short: "List keyring accounts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c := cfg()
			keyring, err := wallet.LoadOrCreateKeyring(c.Resolve(c.Wallet.KeyringPath), logger())
			if err != nil {
				return err
			}
			for _, account := range keyring.Accounts() {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", account.Name, account.Address)
			}
			return nil
		},
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "add [name]",
		Short: "Generate a new keyring account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := cfg()
			keyring, err := wallet.LoadOrCreateKeyring(c.Resolve(c.Wallet.KeyringPath), logger())
			if err != nil {
				return err
			}
			account, err := keyring.Generate(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", account.Name, account.Address)
			return nil
		},
	})
	return cmd
}

// reportFailure returns the status text of the failed operation.
func reportFailure(app *App, err error) error {
	status := app.polls.Status()
	if status.State == service.StateError && status.Message != "" {
		app.logger.Debug().Err(err).Msg("operation failed")
		return errors.New(status.Message)
	}
	return err
}

func printJSON(out io.Writer, v interface{}) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
