package main

import (
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/urfave/cli/v2"

	"github.com/bytabit/escrowd/internal/core/domain"
	"github.com/bytabit/escrowd/pkg/crypto"
	"github.com/bytabit/escrowd/pkg/escrow"
)

var genkey = cli.Command{
	Name:  "genkey",
	Usage: "generate a new profile key pair",
	Flags: []cli.Flag{
		&cli.BoolFlag{
			Name:  "save",
			Usage: "store the private key in the local state",
		},
	},
	Action: genKeyAction,
}

var escrowaddress = cli.Command{
	Name:      "escrowaddress",
	Usage:     "derive the 2-of-3 escrow address of three public keys",
	ArgsUsage: "<buyer pubkey> <seller pubkey> <arbitrator pubkey>",
	Action:    escrowAddressAction,
}

func genKeyAction(ctx *cli.Context) error {
	key, err := crypto.NewPrivateKey()
	if err != nil {
		return err
	}
	privKey := hex.EncodeToString(key.Serialize())

	if ctx.Bool("save") {
		if err := setState(map[string]string{"key": privKey}); err != nil {
			return err
		}
	}

	printRespJSON(map[string]string{
		"privateKey": privKey,
		"pubKey":     crypto.PubKeyHex(key.PubKey()),
	})
	return nil
}

func escrowAddressAction(ctx *cli.Context) error {
	if ctx.NArg() != 3 {
		return fmt.Errorf("buyer, seller and arbitrator pubkeys are required")
	}

	keys := make([]*btcec.PublicKey, 0, 3)
	for _, arg := range ctx.Args().Slice() {
		key, err := crypto.ParsePubKeyHex(arg)
		if err != nil {
			return err
		}
		keys = append(keys, key)
	}

	net, err := getNetwork()
	if err != nil {
		return err
	}
	addr, err := escrow.DeriveAddress(net, keys[0], keys[1], keys[2])
	if err != nil {
		return err
	}

	fmt.Println(addr)
	return nil
}

func getPrivateKey() (*btcec.PrivateKey, error) {
	state, err := getState()
	if err != nil {
		return nil, err
	}
	keyHex := state["key"]
	if len(keyHex) <= 0 {
		return nil, fmt.Errorf("missing private key: try 'config set key <hex>' or 'genkey --save'")
	}
	buf, err := hex.DecodeString(keyHex)
	if err != nil || len(buf) != 32 {
		return nil, fmt.Errorf("invalid private key in local state")
	}
	key, _ := btcec.PrivKeyFromBytes(buf)
	return key, nil
}

func getNetwork() (*chaincfg.Params, error) {
	state, err := getState()
	if err != nil {
		state = map[string]string{}
	}
	name := state["network"]
	if len(name) <= 0 {
		name = networkFlag.Value
	}
	return domain.NetworkParams(name)
}
