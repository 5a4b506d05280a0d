package main

import (
	"github.com/urfave/cli/v2"
)

var wallet = cli.Command{
	Name:  "wallet",
	Usage: "inspect the daemon wallet",
	Subcommands: []*cli.Command{
		{
			Name:   "balance",
			Usage:  "get the balance of the wallet",
			Action: walletGetAction("/wallet/balance"),
		},
		{
			Name:   "unspents",
			Usage:  "list the unspents of the wallet",
			Action: walletGetAction("/wallet/unspents"),
		},
		{
			Name:   "address",
			Usage:  "derive a new receiving address",
			Action: walletPostAction("/wallet/address"),
		},
		{
			Name:   "sync",
			Usage:  "sync the wallet with the blockchain",
			Action: walletPostAction("/wallet/sync"),
		},
	},
}

func walletGetAction(path string) cli.ActionFunc {
	return func(ctx *cli.Context) error {
		client, err := getDaemonClient()
		if err != nil {
			return err
		}
		return printDaemonResp(client.get(path, nil))
	}
}

func walletPostAction(path string) cli.ActionFunc {
	return func(ctx *cli.Context) error {
		client, err := getDaemonClient()
		if err != nil {
			return err
		}
		return printDaemonResp(client.post(path, nil))
	}
}
