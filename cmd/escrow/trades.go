package main

import (
	"fmt"
	"net/url"

	"github.com/urfave/cli/v2"
)

var trades = cli.Command{
	Name:  "trades",
	Usage: "list and progress trades",
	Subcommands: []*cli.Command{
		{
			Name:   "list",
			Usage:  "list all trades",
			Action: listTradesAction,
		},
		{
			Name:      "get",
			Usage:     "get the trade of an escrow address",
			ArgsUsage: "<escrow address>",
			Action:    getTradeAction,
		},
		{
			Name:      "import",
			Usage:     "import a trade from the relay",
			ArgsUsage: "<escrow address>",
			Action:    tradeAction("import", nil),
		},
		{
			Name:      "fund",
			Usage:     "fund the escrow of a trade as seller",
			ArgsUsage: "<escrow address>",
			Flags: []cli.Flag{
				&cli.StringFlag{Name: "details", Usage: "payment details for the buyer", Required: true},
			},
			Action: tradeAction("fund", func(ctx *cli.Context) interface{} {
				return map[string]string{"paymentDetails": ctx.String("details")}
			}),
		},
		{
			Name:      "pay",
			Usage:     "notify the fiat payment of a trade as buyer",
			ArgsUsage: "<escrow address>",
			Flags: []cli.Flag{
				&cli.StringFlag{Name: "reference", Usage: "fiat payment reference", Required: true},
			},
			Action: tradeAction("pay", func(ctx *cli.Context) interface{} {
				return map[string]string{"paymentReference": ctx.String("reference")}
			}),
		},
		{
			Name:      "arbitration",
			Usage:     "request the arbitration of a trade",
			ArgsUsage: "<escrow address>",
			Flags: []cli.Flag{
				&cli.StringFlag{Name: "reason", Usage: "reason of the dispute"},
			},
			Action: tradeAction("arbitration", func(ctx *cli.Context) interface{} {
				return map[string]string{"reason": ctx.String("reason")}
			}),
		},
		{
			Name:      "payout",
			Usage:     "co-sign and broadcast the payout of a trade",
			ArgsUsage: "<escrow address>",
			Action:    tradeAction("payout", nil),
		},
		{
			Name:      "arbitrate",
			Usage:     "decide a disputed trade as arbitrator",
			ArgsUsage: "<escrow address>",
			Flags: []cli.Flag{
				&cli.StringFlag{Name: "winner", Usage: "BUYER or SELLER", Required: true},
			},
			Action: tradeAction("arbitrate", func(ctx *cli.Context) interface{} {
				return map[string]string{"winner": ctx.String("winner")}
			}),
		},
		{
			Name:      "claim",
			Usage:     "pay out the escrow ruled in your favor by the arbitrator",
			ArgsUsage: "<escrow address>",
			Action:    tradeAction("claim", nil),
		},
	},
}

func listTradesAction(ctx *cli.Context) error {
	client, err := getDaemonClient()
	if err != nil {
		return err
	}
	return printDaemonResp(client.get("/trades", nil))
}

func getTradeAction(ctx *cli.Context) error {
	address, err := escrowAddress(ctx)
	if err != nil {
		return err
	}
	client, err := getDaemonClient()
	if err != nil {
		return err
	}
	return printDaemonResp(client.get("/trades/"+address, nil))
}

func tradeAction(
	action string, body func(ctx *cli.Context) interface{},
) cli.ActionFunc {
	return func(ctx *cli.Context) error {
		address, err := escrowAddress(ctx)
		if err != nil {
			return err
		}
		client, err := getDaemonClient()
		if err != nil {
			return err
		}
		var reqBody interface{}
		if body != nil {
			reqBody = body(ctx)
		}
		return printDaemonResp(client.post("/trades/"+address+"/"+action, reqBody))
	}
}

func escrowAddress(ctx *cli.Context) (string, error) {
	if ctx.NArg() != 1 {
		return "", fmt.Errorf("escrow address is missing")
	}
	return url.PathEscape(ctx.Args().First()), nil
}
