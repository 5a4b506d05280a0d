package main

import (
	"fmt"
	"net/url"

	"github.com/urfave/cli/v2"
)

var webhooks = cli.Command{
	Name:  "webhooks",
	Usage: "manage the webhooks notified of trade events",
	Subcommands: []*cli.Command{
		{
			Name:  "add",
			Usage: "add a webhook for an event, or any event with '*'",
			Flags: []cli.Flag{
				&cli.StringFlag{Name: "event", Usage: "trade event to notify", Value: "*"},
				&cli.StringFlag{Name: "endpoint", Usage: "http endpoint to notify", Required: true},
				&cli.BoolFlag{Name: "secured", Usage: "sign notifications with a generated secret"},
			},
			Action: addWebhookAction,
		},
		{
			Name:  "list",
			Usage: "list webhooks",
			Flags: []cli.Flag{
				&cli.StringFlag{Name: "event", Usage: "list only webhooks for this event"},
			},
			Action: listWebhooksAction,
		},
		{
			Name:      "remove",
			Usage:     "remove a webhook",
			ArgsUsage: "<webhook id>",
			Action:    removeWebhookAction,
		},
	},
}

func addWebhookAction(ctx *cli.Context) error {
	client, err := getDaemonClient()
	if err != nil {
		return err
	}
	return printDaemonResp(client.post("/webhooks", map[string]interface{}{
		"event":    ctx.String("event"),
		"endpoint": ctx.String("endpoint"),
		"secured":  ctx.Bool("secured"),
	}))
}

func listWebhooksAction(ctx *cli.Context) error {
	client, err := getDaemonClient()
	if err != nil {
		return err
	}
	query := url.Values{}
	if event := ctx.String("event"); len(event) > 0 {
		query.Set("event", event)
	}
	return printDaemonResp(client.get("/webhooks", query))
}

func removeWebhookAction(ctx *cli.Context) error {
	if ctx.NArg() != 1 {
		return fmt.Errorf("webhook id is missing")
	}
	client, err := getDaemonClient()
	if err != nil {
		return err
	}
	return printDaemonResp(client.delete("/webhooks/" + url.PathEscape(ctx.Args().First())))
}
