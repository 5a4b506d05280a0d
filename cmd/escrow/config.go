package main

import (
	"fmt"
	"sort"

	"github.com/urfave/cli/v2"
)

var (
	daemonFlag = cli.StringFlag{
		Name:  "daemon",
		Usage: "base url of the escrowd http interface",
		Value: "http://localhost:9055",
	}

	keyFlag = cli.StringFlag{
		Name:  "key",
		Usage: "hex encoded private key used to sign auth tokens",
		Value: "",
	}

	networkFlag = cli.StringFlag{
		Name:  "network",
		Usage: "the network escrowd is running on: mainnet, testnet, signet or regtest",
		Value: "mainnet",
	}
)

var config = cli.Command{
	Name:   "config",
	Usage:  "Print local configuration of the escrow CLI",
	Action: configAction,
	Subcommands: []*cli.Command{
		{
			Name:      "set",
			Usage:     "set a <key> <value> in the local state",
			ArgsUsage: "<key> <value>",
			Action:    configSetAction,
		},
		{
			Name:   "init",
			Usage:  "initialize the local state with flags",
			Action: configInitAction,
			Flags: []cli.Flag{
				&daemonFlag,
				&keyFlag,
				&networkFlag,
			},
		},
	},
}

func configAction(ctx *cli.Context) error {
	state, err := getState()
	if err != nil {
		return err
	}

	keys := make([]string, 0, len(state))
	for key := range state {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		value := state[key]
		if key == "key" && len(value) > 0 {
			value = "********"
		}
		fmt.Println(key + ": " + value)
	}
	return nil
}

func configInitAction(ctx *cli.Context) error {
	return setState(map[string]string{
		"daemon":  ctx.String("daemon"),
		"key":     ctx.String("key"),
		"network": ctx.String("network"),
	})
}

func configSetAction(ctx *cli.Context) error {
	if ctx.NArg() != 2 {
		return fmt.Errorf("key and value are missing")
	}

	key := ctx.Args().Get(0)
	value := ctx.Args().Get(1)
	if err := setState(map[string]string{key: value}); err != nil {
		return err
	}

	fmt.Printf("%s %s has been set\n", key, value)
	return nil
}
