package main

import (
	"fmt"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/bytabit/escrowd/pkg/authtoken"
)

var token = cli.Command{
	Name:  "token",
	Usage: "issue and verify auth tokens",
	Subcommands: []*cli.Command{
		{
			Name:      "issue",
			Usage:     "issue an auth token for <url> signed with the configured key",
			ArgsUsage: "<url>",
			Flags: []cli.Flag{
				&cli.DurationFlag{
					Name:  "ttl",
					Usage: "validity of the token",
					Value: tokenTTL,
				},
			},
			Action: issueTokenAction,
		},
		{
			Name:      "verify",
			Usage:     "verify an encoded auth token against <url>",
			ArgsUsage: "<token> <url>",
			Action:    verifyTokenAction,
		},
	},
}

func issueTokenAction(ctx *cli.Context) error {
	if ctx.NArg() != 1 {
		return fmt.Errorf("url is missing")
	}
	key, err := getPrivateKey()
	if err != nil {
		return err
	}

	t, err := authtoken.Issue(key, ctx.Args().First(), time.Now().Add(ctx.Duration("ttl")))
	if err != nil {
		return err
	}
	encoded, err := t.Encode()
	if err != nil {
		return err
	}

	fmt.Println(encoded)
	return nil
}

func verifyTokenAction(ctx *cli.Context) error {
	if ctx.NArg() != 2 {
		return fmt.Errorf("token and url are missing")
	}

	t, err := authtoken.Decode(ctx.Args().Get(0))
	if err != nil {
		return err
	}
	if err := authtoken.Verify(*t, ctx.Args().Get(1), time.Now()); err != nil {
		return err
	}

	printRespJSON(map[string]interface{}{
		"pubKey":  t.PubKey,
		"url":     t.URL,
		"validTo": t.ValidTo,
	})
	return nil
}
