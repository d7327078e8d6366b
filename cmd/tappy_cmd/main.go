// Command tappy is a laboratory for building taproot transactions by hand.
//
// Every command loads the state file, applies one change and saves the
// state only if the change succeeded.
package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	logger "github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	"github.com/urfave/cli/v2"

	"github.com/uncomputable/tappy/cmd"
	"github.com/uncomputable/tappy/descriptor"
	"github.com/uncomputable/tappy/errs"
	"github.com/uncomputable/tappy/ledger"
	"github.com/uncomputable/tappy/logconfig"
)

var labConfig *cmd.LabConfig

func main() {
	app := &cli.App{
		Name:  "tappy",
		Usage: "build, satisfy and chain taproot transactions",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "state", Usage: "state file (env TAPPY_STATE_FILE)"},
			&cli.StringFlag{Name: "network", Usage: "regtest, testnet, signet or mainnet (env TAPPY_NETWORK)"},
			&cli.StringFlag{Name: "journal", Usage: "SQLite journal, empty disables it (env TAPPY_JOURNAL_DB)"},
			&cli.StringFlag{Name: "log-level", Usage: "debug, info or production (env TAPPY_LOG_LEVEL)"},
		},
		Before:   setup,
		Commands: commands(),
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func setup(c *cli.Context) error {
	v := viper.New()
	if err := cmd.InitializeViper(v); err != nil {
		return err
	}
	for flag, key := range map[string]string{
		"state":     cmd.KEY_STATE_FILE,
		"network":   cmd.KEY_NETWORK,
		"journal":   cmd.KEY_JOURNAL_DB,
		"log-level": cmd.KEY_LOG_LEVEL,
	} {
		if c.IsSet(flag) {
			v.Set(key, c.String(flag))
		}
	}

	lc, err := cmd.PrepareLabConfig(v)
	if err != nil {
		return err
	}
	if err := logconfig.ConfigByLevel(lc.LogLevel); err != nil {
		return err
	}
	labConfig = lc
	return nil
}

// withLab runs action on the loaded lab. If mutate is set the state is
// saved afterwards, unless action failed.
func withLab(mutate bool, action func(c *cli.Context, lab *cmd.Lab) error) cli.ActionFunc {
	return func(c *cli.Context) error {
		lab, err := cmd.OpenLab(labConfig)
		if err != nil {
			return err
		}
		defer lab.Close()

		if err := action(c, lab); err != nil {
			return err
		}
		if mutate {
			return lab.Save()
		}
		return nil
	}
}

func argCount(c *cli.Context, n int) error {
	if c.NArg() < n {
		return fmt.Errorf("%s needs %d argument(s), see --help", c.Command.FullName(), n)
	}
	return nil
}

func argInt(c *cli.Context, i int) (int, error) {
	n, err := strconv.Atoi(c.Args().Get(i))
	if err != nil {
		return 0, fmt.Errorf("argument %d: %w", i+1, err)
	}
	return n, nil
}

func argInt64(c *cli.Context, i int) (int64, error) {
	n, err := strconv.ParseInt(c.Args().Get(i), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("argument %d: %w", i+1, err)
	}
	return n, nil
}

func argUint32(c *cli.Context, i int) (uint32, error) {
	n, err := strconv.ParseUint(c.Args().Get(i), 10, 32)
	if err != nil {
		return 0, fmt.Errorf("argument %d: %w", i+1, err)
	}
	return uint32(n), nil
}

func commands() []*cli.Command {
	return []*cli.Command{
		{
			Name:  "init",
			Usage: "create an empty state file",
			Flags: []cli.Flag{
				&cli.BoolFlag{Name: "force", Usage: "replace an existing state file"},
			},
			Action: func(c *cli.Context) error {
				if c.Bool("force") {
					if err := cmd.RemoveStateFile(labConfig); err != nil {
						return err
					}
				}
				if err := cmd.InitLab(labConfig); err != nil {
					return err
				}
				fmt.Printf("New state at %s\n", labConfig.StateFile)
				return nil
			},
		},
		{
			Name:  "print",
			Usage: "print the state",
			Action: withLab(false, func(c *cli.Context, lab *cmd.Lab) error {
				fmt.Print(lab.State.Describe(labConfig.ChainConfig))
				return nil
			}),
		},
		keyCommand(),
		imageCommand(),
		addressCommand(),
		utxoCommand(),
		inputCommand(),
		outputCommand(),
		{
			Name:      "locktime",
			Usage:     "set the absolute locktime as a block height, 0 disables it",
			ArgsUsage: "HEIGHT",
			Action: withLab(true, func(c *cli.Context, lab *cmd.Lab) error {
				if err := argCount(c, 1); err != nil {
					return err
				}
				height, err := argUint32(c, 0)
				if err != nil {
					return err
				}
				return lab.State.SetLockTime(height)
			}),
		},
		{
			Name:      "fee",
			Usage:     "set the fee in satoshi",
			ArgsUsage: "VALUE",
			Action: withLab(true, func(c *cli.Context, lab *cmd.Lab) error {
				if err := argCount(c, 1); err != nil {
					return err
				}
				fee, err := argInt64(c, 0)
				if err != nil {
					return err
				}
				return lab.State.SetFee(fee)
			}),
		},
		{
			Name:  "spend",
			Usage: "assemble and sign the staged transaction",
			Action: withLab(true, func(c *cli.Context, lab *cmd.Lab) error {
				assembled, err := lab.Spend()
				if err != nil {
					return err
				}
				fmt.Printf("raw_tx_hex: %s\n", assembled.RawHex)
				fmt.Printf("txid:       %s\n", assembled.Txid)
				fmt.Printf("fee_rate:   %.2f sat/vB (%d vB)\n", assembled.FeeRate, assembled.VSize)
				return nil
			}),
		},
		{
			Name:      "final",
			Usage:     "record the staged transaction as broadcast",
			ArgsUsage: "TXID",
			Action: withLab(true, func(c *cli.Context, lab *cmd.Lab) error {
				if err := argCount(c, 1); err != nil {
					return err
				}
				txid, err := chainhash.NewHashFromStr(c.Args().Get(0))
				if err != nil {
					return err
				}
				produced, err := lab.Finalize(*txid)
				if err != nil {
					return err
				}
				for _, u := range produced {
					fmt.Printf("New UTXO %s\n", u)
				}
				return nil
			}),
		},
		{
			Name:  "history",
			Usage: "list the journal",
			Action: withLab(false, func(c *cli.Context, lab *cmd.Lab) error {
				entries, err := lab.History()
				if err != nil {
					return err
				}
				for _, e := range entries {
					fmt.Println(e)
				}
				return nil
			}),
		},
		{
			Name:  "policy",
			Usage: "inspect policies without touching the state",
			Subcommands: []*cli.Command{
				{
					Name:      "compile",
					Usage:     "print the address and leaf of a descriptor",
					ArgsUsage: "DESCRIPTOR",
					Action: func(c *cli.Context) error {
						if err := argCount(c, 1); err != nil {
							return err
						}
						out, err := cmd.CompilePolicy(c.Args().Get(0), labConfig)
						if err != nil {
							return err
						}
						fmt.Print(out)
						return nil
					},
				},
			},
		},
	}
}

func keyCommand() *cli.Command {
	return &cli.Command{
		Name:  "key",
		Usage: "manage signing keys",
		Subcommands: []*cli.Command{
			{
				Name:      "gen",
				Usage:     "generate passive keys",
				ArgsUsage: "N",
				Action: withLab(true, func(c *cli.Context, lab *cmd.Lab) error {
					if err := argCount(c, 1); err != nil {
						return err
					}
					n, err := argInt(c, 0)
					if err != nil {
						return err
					}
					keys, err := lab.State.GenerateKeys(n)
					if err != nil {
						return err
					}
					for _, kp := range keys {
						fmt.Printf("New key %x\n", kp.XOnly())
					}
					return nil
				}),
			},
			{
				Name:      "import",
				Usage:     "import a WIF key as passive",
				ArgsUsage: "WIF",
				Action: withLab(true, func(c *cli.Context, lab *cmd.Lab) error {
					if err := argCount(c, 1); err != nil {
						return err
					}
					kp, err := lab.State.ImportKey(c.Args().Get(0))
					if err != nil {
						return err
					}
					fmt.Printf("Key %x\n", kp.XOnly())
					return nil
				}),
			},
			{
				Name:      "toggle",
				Usage:     "move a key between passive and active",
				ArgsUsage: "PUBKEY",
				Action: withLab(true, func(c *cli.Context, lab *cmd.Lab) error {
					if err := argCount(c, 1); err != nil {
						return err
					}
					id, err := ledger.ParseKeyID(c.Args().Get(0))
					if err != nil {
						return err
					}
					status, err := lab.State.ToggleKey(id)
					if err != nil {
						return err
					}
					fmt.Printf("Key %s is %s\n", id, status)
					return nil
				}),
			},
			{
				Name:      "del",
				Usage:     "delete a key",
				ArgsUsage: "PUBKEY",
				Action: withLab(true, func(c *cli.Context, lab *cmd.Lab) error {
					if err := argCount(c, 1); err != nil {
						return err
					}
					id, err := ledger.ParseKeyID(c.Args().Get(0))
					if err != nil {
						return err
					}
					_, err = lab.State.DeleteKey(id)
					return err
				}),
			},
		},
	}
}

func imageCommand() *cli.Command {
	return &cli.Command{
		Name:  "img",
		Usage: "manage hash preimages",
		Subcommands: []*cli.Command{
			{
				Name:      "gen",
				Usage:     "generate passive preimages",
				ArgsUsage: "N",
				Action: withLab(true, func(c *cli.Context, lab *cmd.Lab) error {
					if err := argCount(c, 1); err != nil {
						return err
					}
					n, err := argInt(c, 0)
					if err != nil {
						return err
					}
					pairs, err := lab.State.GeneratePreimages(n)
					if err != nil {
						return err
					}
					for _, pp := range pairs {
						fmt.Printf("New image %x\n", pp.Image)
					}
					return nil
				}),
			},
			{
				Name:      "toggle",
				Usage:     "move an image between passive and active",
				ArgsUsage: "IMAGE",
				Action: withLab(true, func(c *cli.Context, lab *cmd.Lab) error {
					if err := argCount(c, 1); err != nil {
						return err
					}
					id, err := ledger.ParseImageID(c.Args().Get(0))
					if err != nil {
						return err
					}
					status, err := lab.State.ToggleImage(id)
					if err != nil {
						return err
					}
					fmt.Printf("Image %s is %s\n", id, status)
					return nil
				}),
			},
			{
				Name:      "del",
				Usage:     "delete an image and its preimage",
				ArgsUsage: "IMAGE",
				Action: withLab(true, func(c *cli.Context, lab *cmd.Lab) error {
					if err := argCount(c, 1); err != nil {
						return err
					}
					id, err := ledger.ParseImageID(c.Args().Get(0))
					if err != nil {
						return err
					}
					_, err = lab.State.DeleteImage(id)
					return err
				}),
			},
		},
	}
}

func addressCommand() *cli.Command {
	return &cli.Command{
		Name:  "addr",
		Usage: "receive funds from outside the lab",
		Subcommands: []*cli.Command{
			{
				Name:      "set",
				Usage:     "stage a descriptor and print its address",
				ArgsUsage: "DESCRIPTOR",
				Action: withLab(true, func(c *cli.Context, lab *cmd.Lab) error {
					if err := argCount(c, 1); err != nil {
						return err
					}
					desc, err := descriptor.Parse(c.Args().Get(0))
					if err != nil {
						return err
					}
					addr, err := lab.State.SetInboundAddress(desc, labConfig.ChainConfig)
					if err != nil {
						return err
					}
					fmt.Printf("Send coins to %s\n", addr.EncodeAddress())
					return nil
				}),
			},
			{
				Name:      "utxo",
				Usage:     "turn a payment to the staged address into a UTXO",
				ArgsUsage: "TXID VOUT VALUE",
				Action: withLab(true, func(c *cli.Context, lab *cmd.Lab) error {
					if err := argCount(c, 3); err != nil {
						return err
					}
					txid, err := chainhash.NewHashFromStr(c.Args().Get(0))
					if err != nil {
						return err
					}
					vout, err := argUint32(c, 1)
					if err != nil {
						return err
					}
					value, err := argInt64(c, 2)
					if err != nil {
						return err
					}
					u, added, err := lab.State.InboundToUtxo(*txid, vout, value)
					if err != nil {
						return err
					}
					if !added {
						fmt.Printf("UTXO %s is already known\n", u)
						return nil
					}
					fmt.Printf("New UTXO %s\n", u)
					return nil
				}),
			},
		},
	}
}

func utxoCommand() *cli.Command {
	return &cli.Command{
		Name:  "utxo",
		Usage: "manage spendable outputs",
		Subcommands: []*cli.Command{
			{
				Name:  "list",
				Usage: "list UTXOs with their index",
				Action: withLab(false, func(c *cli.Context, lab *cmd.Lab) error {
					for i, u := range lab.State.Utxos {
						fmt.Printf("%d: %s\n", i, u)
					}
					return nil
				}),
			},
			{
				Name:      "del",
				Usage:     "forget a UTXO",
				ArgsUsage: "INDEX",
				Action: withLab(true, func(c *cli.Context, lab *cmd.Lab) error {
					if err := argCount(c, 1); err != nil {
						return err
					}
					index, err := argInt(c, 0)
					if err != nil {
						return err
					}
					_, err = lab.State.DeleteUtxo(index)
					return err
				}),
			},
		},
	}
}

func inputCommand() *cli.Command {
	return &cli.Command{
		Name:  "in",
		Usage: "stage transaction inputs",
		Subcommands: []*cli.Command{
			{
				Name:      "new",
				Usage:     "bind a UTXO to an input slot",
				ArgsUsage: "INPUT UTXO",
				Action: withLab(true, func(c *cli.Context, lab *cmd.Lab) error {
					if err := argCount(c, 2); err != nil {
						return err
					}
					index, err := argInt(c, 0)
					if err != nil {
						return err
					}
					utxoIndex, err := argInt(c, 1)
					if err != nil {
						return err
					}
					_, err = lab.State.AddInput(index, utxoIndex)
					return err
				}),
			},
			{
				Name:      "del",
				Usage:     "remove an input",
				ArgsUsage: "INPUT",
				Action: withLab(true, func(c *cli.Context, lab *cmd.Lab) error {
					if err := argCount(c, 1); err != nil {
						return err
					}
					index, err := argInt(c, 0)
					if err != nil {
						return err
					}
					_, err = lab.State.DeleteInput(index)
					return err
				}),
			},
			{
				Name:      "seq",
				Usage:     "set the relative timelock of an input",
				ArgsUsage: "INPUT height BLOCKS | INPUT time SECONDS | INPUT disable",
				Action: withLab(true, func(c *cli.Context, lab *cmd.Lab) error {
					if err := argCount(c, 2); err != nil {
						return err
					}
					index, err := argInt(c, 0)
					if err != nil {
						return err
					}

					switch c.Args().Get(1) {
					case "disable":
						return lab.State.DisableRelativeLock(index)
					case "height":
						if err := argCount(c, 3); err != nil {
							return err
						}
						blocks, err := strconv.ParseUint(c.Args().Get(2), 10, 16)
						if err != nil {
							return errs.Wrap(errs.ErrInvalidSequence, "%s blocks", c.Args().Get(2))
						}
						return lab.State.SetRelativeHeight(index, uint16(blocks))
					case "time":
						if err := argCount(c, 3); err != nil {
							return err
						}
						seconds, err := argUint32(c, 2)
						if err != nil {
							return err
						}
						return lab.State.SetRelativeTime(index, seconds)
					default:
						return fmt.Errorf("unknown sequence kind %q", c.Args().Get(1))
					}
				}),
			},
			{
				Name:      "fill",
				Usage:     "bind unbound UTXOs until they cover AMOUNT plus the fee",
				ArgsUsage: "AMOUNT",
				Action: withLab(true, func(c *cli.Context, lab *cmd.Lab) error {
					if err := argCount(c, 1); err != nil {
						return err
					}
					amount, err := argInt64(c, 0)
					if err != nil {
						return err
					}
					added, err := lab.FillInputs(amount)
					if err != nil {
						return err
					}
					for _, index := range added {
						fmt.Printf("Input %d: %s\n", index, lab.State.Inputs[index])
					}
					return nil
				}),
			},
		},
	}
}

func outputCommand() *cli.Command {
	return &cli.Command{
		Name:  "out",
		Usage: "stage transaction outputs",
		Subcommands: []*cli.Command{
			{
				Name:      "new",
				Usage:     "pay VALUE to a descriptor, no VALUE receives the remaining funds",
				ArgsUsage: "OUTPUT DESCRIPTOR [VALUE]",
				Action: withLab(true, func(c *cli.Context, lab *cmd.Lab) error {
					if err := argCount(c, 2); err != nil {
						return err
					}
					index, err := argInt(c, 0)
					if err != nil {
						return err
					}
					desc, err := descriptor.Parse(c.Args().Get(1))
					if err != nil {
						return err
					}
					var value int64
					if c.NArg() > 2 {
						if value, err = argInt64(c, 2); err != nil {
							return err
						}
					}
					if _, err := lab.State.AddOutput(index, desc, value); err != nil {
						return err
					}
					logger.WithFields(logger.Fields{
						"output": index,
						"value":  btcutil.Amount(value).String(),
					}).Debug("new output")
					return nil
				}),
			},
			{
				Name:      "del",
				Usage:     "remove an output",
				ArgsUsage: "OUTPUT",
				Action: withLab(true, func(c *cli.Context, lab *cmd.Lab) error {
					if err := argCount(c, 1); err != nil {
						return err
					}
					index, err := argInt(c, 0)
					if err != nil {
						return err
					}
					_, err = lab.State.DeleteOutput(index)
					return err
				}),
			},
		},
	}
}
