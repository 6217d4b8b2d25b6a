package main

import (
	"fmt"
	"math/big"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sorag20/Unirep/internal/ipc"
	"github.com/sorag20/Unirep/internal/ledger"
	"github.com/sorag20/Unirep/internal/transition"
)

func main() {
	cli := NewCLI(os.Stdout)
	defer cli.Close()

	if err := newRootCmd(cli).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd(cli *CLI) *cobra.Command {
	root := &cobra.Command{
		Use:           "unirep-cli",
		Short:         "Manage a Unirep identity and query the synchronizer",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if cli.passphrase == "" {
				cli.passphrase = os.Getenv("UNIREP_PASSPHRASE")
			}
		},
	}
	root.SetOut(cli.output)
	root.PersistentFlags().StringVar(&cli.configPath, "config", "", "Path to TOML configuration file")
	root.PersistentFlags().StringVar(&cli.socket, "socket", "", "Synchronizer socket path")
	root.PersistentFlags().StringVar(&cli.passphrase, "passphrase", "", "Keystore passphrase (default $UNIREP_PASSPHRASE)")

	root.AddCommand(
		newIdentityCmd(cli),
		&cobra.Command{
			Use:   "status",
			Short: "Show the synchronizer status",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return cli.Status(cmd.Context())
			},
		},
		newTreeCmd(cli),
		newUserCmd(cli),
	)
	return root
}

func newIdentityCmd(cli *CLI) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "identity",
		Short: "Create, recover or show the identity",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "new",
			Short: "Create a new identity",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return cli.IdentityNew()
			},
		},
		&cobra.Command{
			Use:   "recover <word>...",
			Short: "Recover an identity from its recovery phrase",
			Args:  cobra.MinimumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return cli.IdentityRecover(strings.Join(args, " "))
			},
		},
		&cobra.Command{
			Use:   "show",
			Short: "Show the stored identity",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return cli.IdentityShow()
			},
		},
	)
	return cmd
}

// treeFlags selects a tree on the synchronizer.
type treeFlags struct {
	attester string
	tree     string
	epoch    uint64
}

func (f *treeFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.attester, "attester", "", "Attester id")
	cmd.Flags().StringVar(&f.tree, "tree", "state", "Tree: state, epoch or history")
	cmd.Flags().Uint64Var(&f.epoch, "epoch", 0, "Epoch of a state or epoch tree")
	cmd.MarkFlagRequired("attester")
}

func (f *treeFlags) query() (ipc.TreeQuery, error) {
	attester, err := parseBig("attester", f.attester)
	if err != nil {
		return ipc.TreeQuery{}, err
	}
	kind, err := ledger.ParseTreeKind(f.tree)
	if err != nil {
		return ipc.TreeQuery{}, err
	}
	return ipc.TreeQuery{AttesterID: attester, Tree: kind, Epoch: f.epoch}, nil
}

func newTreeCmd(cli *CLI) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tree",
		Short: "Query the attester trees",
	}

	var rootFlags, leavesFlags, proveFlags treeFlags
	var index uint64

	rootCmd := &cobra.Command{
		Use:   "root",
		Short: "Print a tree root",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			q, err := rootFlags.query()
			if err != nil {
				return err
			}
			return cli.Root(cmd.Context(), q)
		},
	}
	rootFlags.register(rootCmd)

	leavesCmd := &cobra.Command{
		Use:   "leaves",
		Short: "Print the number of leaves in a tree",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			q, err := leavesFlags.query()
			if err != nil {
				return err
			}
			return cli.Leaves(cmd.Context(), q)
		},
	}
	leavesFlags.register(leavesCmd)

	proveCmd := &cobra.Command{
		Use:   "prove",
		Short: "Print the inclusion proof of a leaf",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			q, err := proveFlags.query()
			if err != nil {
				return err
			}
			return cli.ProveInclusion(cmd.Context(), q, index)
		},
	}
	proveFlags.register(proveCmd)
	proveCmd.Flags().Uint64Var(&index, "index", 0, "Leaf index")

	cmd.AddCommand(rootCmd, leavesCmd, proveCmd)
	return cmd
}

func newUserCmd(cli *CLI) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Sign up, transition and prove with an attester",
	}
	var attester string
	cmd.PersistentFlags().StringVar(&attester, "attester", "", "Attester id")
	cmd.MarkPersistentFlagRequired("attester")

	attesterID := func() (*big.Int, error) { return parseBig("attester", attester) }

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show the stored user state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := attesterID()
			if err != nil {
				return err
			}
			return cli.UserStatus(id)
		},
	}

	var airdrop string
	signupCmd := &cobra.Command{
		Use:   "signup",
		Short: "Sign up with the attester",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := attesterID()
			if err != nil {
				return err
			}
			amount, err := parseBig("airdrop", airdrop)
			if err != nil {
				return err
			}
			return cli.SignUp(cmd.Context(), id, amount)
		},
	}
	signupCmd.Flags().StringVar(&airdrop, "airdrop", "0", "Positive reputation granted at sign-up")

	transitionCmd := &cobra.Command{
		Use:   "transition",
		Short: "Carry the user state into the current epoch",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := attesterID()
			if err != nil {
				return err
			}
			return cli.Transition(cmd.Context(), id)
		},
	}

	var rep struct {
		nonce       uint64
		revealNonce bool
		minRep      string
		maxRep      string
		zeroRep     bool
		graffiti    string
		data        string
	}
	repCmd := &cobra.Command{
		Use:   "prove-reputation",
		Short: "Prove reputation bounds without revealing the identity",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := attesterID()
			if err != nil {
				return err
			}
			req := transition.ReputationRequest{
				Nonce:        rep.nonce,
				RevealNonce:  rep.revealNonce,
				ProveZeroRep: rep.zeroRep,
			}
			if rep.minRep != "" {
				if req.MinRep, err = parseBig("min-rep", rep.minRep); err != nil {
					return err
				}
				req.ProveMinRep = true
			}
			if rep.maxRep != "" {
				if req.MaxRep, err = parseBig("max-rep", rep.maxRep); err != nil {
					return err
				}
				req.ProveMaxRep = true
			}
			if rep.graffiti != "" {
				if req.Graffiti, err = parseBig("graffiti", rep.graffiti); err != nil {
					return err
				}
				req.ProveGraffiti = true
			}
			if rep.data != "" {
				if req.Data, err = parseBig("data", rep.data); err != nil {
					return err
				}
			}
			return cli.ProveReputation(cmd.Context(), id, req)
		},
	}
	repCmd.Flags().Uint64Var(&rep.nonce, "nonce", 0, "Epoch key nonce")
	repCmd.Flags().BoolVar(&rep.revealNonce, "reveal-nonce", false, "Reveal the epoch key nonce")
	repCmd.Flags().StringVar(&rep.minRep, "min-rep", "", "Prove positive minus negative reputation is at least this")
	repCmd.Flags().StringVar(&rep.maxRep, "max-rep", "", "Prove positive minus negative reputation is at most this")
	repCmd.Flags().BoolVar(&rep.zeroRep, "zero-rep", false, "Prove positive and negative reputation are equal")
	repCmd.Flags().StringVar(&rep.graffiti, "graffiti", "", "Prove the graffiti field holds this value")
	repCmd.Flags().StringVar(&rep.data, "data", "", "Value to bind the proof to")

	var epk struct {
		nonce       uint64
		revealNonce bool
		scope       string
		data        string
	}
	epkCmd := &cobra.Command{
		Use:   "prove-epoch-key",
		Short: "Prove control of an epoch key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := attesterID()
			if err != nil {
				return err
			}
			req := transition.EpochKeyRequest{Nonce: epk.nonce, RevealNonce: epk.revealNonce}
			if epk.scope != "" {
				if req.Scope, err = parseBig("scope", epk.scope); err != nil {
					return err
				}
			}
			if epk.data != "" {
				if req.Data, err = parseBig("data", epk.data); err != nil {
					return err
				}
			}
			return cli.ProveEpochKey(cmd.Context(), id, req)
		},
	}
	epkCmd.Flags().Uint64Var(&epk.nonce, "nonce", 0, "Epoch key nonce")
	epkCmd.Flags().BoolVar(&epk.revealNonce, "reveal-nonce", false, "Reveal the epoch key nonce")
	epkCmd.Flags().StringVar(&epk.scope, "scope", "", "Action scope; produces a prevent-double-action proof")
	epkCmd.Flags().StringVar(&epk.data, "data", "", "Value to bind the proof to")

	cmd.AddCommand(statusCmd, signupCmd, transitionCmd, repCmd, epkCmd)
	return cmd
}

// parseBig parses a decimal or 0x-prefixed integer flag.
func parseBig(name, s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 0)
	if !ok {
		return nil, fmt.Errorf("invalid %s %q", name, s)
	}
	return v, nil
}
