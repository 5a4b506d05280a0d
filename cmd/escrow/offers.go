package main

import (
	"fmt"
	"net/url"

	"github.com/urfave/cli/v2"
)

var offers = cli.Command{
	Name:  "offers",
	Usage: "manage the offers of the directory",
	Subcommands: []*cli.Command{
		{
			Name:   "list",
			Usage:  "list all known offers",
			Action: listOffersAction,
		},
		{
			Name:  "create",
			Usage: "create and publish a new offer",
			Flags: []cli.Flag{
				&cli.StringFlag{Name: "type", Usage: "BUY or SELL", Required: true},
				&cli.StringFlag{Name: "currency", Usage: "fiat currency code", Required: true},
				&cli.StringFlag{Name: "method", Usage: "payment method", Required: true},
				&cli.StringFlag{Name: "min", Usage: "min fiat amount", Required: true},
				&cli.StringFlag{Name: "max", Usage: "max fiat amount", Required: true},
				&cli.StringFlag{Name: "price", Usage: "fiat price of 1 BTC", Required: true},
			},
			Action: createOfferAction,
		},
		{
			Name:      "remove",
			Usage:     "remove one of your offers",
			ArgsUsage: "<offer id>",
			Action:    removeOfferAction,
		},
		{
			Name:      "take",
			Usage:     "request a trade for an offer",
			ArgsUsage: "<offer id>",
			Flags: []cli.Flag{
				&cli.StringFlag{Name: "amount", Usage: "fiat amount to trade", Required: true},
			},
			Action: takeOfferAction,
		},
		{
			Name:   "sync",
			Usage:  "sync offers with the relay",
			Action: syncOffersAction,
		},
		{
			Name:   "requests",
			Usage:  "list the trade requests pending for your offers",
			Action: listPendingRequestsAction,
		},
	},
}

func listOffersAction(ctx *cli.Context) error {
	client, err := getDaemonClient()
	if err != nil {
		return err
	}
	return printDaemonResp(client.get("/offers", nil))
}

// amounts are sent as json strings, decimals unmarshal them without loss.
func createOfferAction(ctx *cli.Context) error {
	client, err := getDaemonClient()
	if err != nil {
		return err
	}
	return printDaemonResp(client.post("/offers", map[string]string{
		"offerType":     ctx.String("type"),
		"currencyCode":  ctx.String("currency"),
		"paymentMethod": ctx.String("method"),
		"minAmount":     ctx.String("min"),
		"maxAmount":     ctx.String("max"),
		"price":         ctx.String("price"),
	}))
}

func removeOfferAction(ctx *cli.Context) error {
	id, err := offerID(ctx)
	if err != nil {
		return err
	}
	client, err := getDaemonClient()
	if err != nil {
		return err
	}
	return printDaemonResp(client.delete("/offers/" + id))
}

func takeOfferAction(ctx *cli.Context) error {
	id, err := offerID(ctx)
	if err != nil {
		return err
	}
	client, err := getDaemonClient()
	if err != nil {
		return err
	}
	return printDaemonResp(client.post(
		"/offers/"+id+"/take", map[string]string{"paymentAmount": ctx.String("amount")},
	))
}

func syncOffersAction(ctx *cli.Context) error {
	client, err := getDaemonClient()
	if err != nil {
		return err
	}
	return printDaemonResp(client.post("/offers/sync", nil))
}

func listPendingRequestsAction(ctx *cli.Context) error {
	client, err := getDaemonClient()
	if err != nil {
		return err
	}
	return printDaemonResp(client.get("/trade-requests", nil))
}

func offerID(ctx *cli.Context) (string, error) {
	if ctx.NArg() != 1 {
		return "", fmt.Errorf("offer id is missing")
	}
	return url.PathEscape(ctx.Args().First()), nil
}

var prices = cli.Command{
	Name:      "prices",
	Usage:     "get the reference BTC price of all currencies, or of <currency>",
	ArgsUsage: "[currency]",
	Action:    pricesAction,
}

func pricesAction(ctx *cli.Context) error {
	client, err := getDaemonClient()
	if err != nil {
		return err
	}
	path := "/prices"
	if ctx.NArg() > 0 {
		path += "/" + url.PathEscape(ctx.Args().First())
	}
	return printDaemonResp(client.get(path, nil))
}
