package escrow

import (
	"bytes"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

// DustThreshold is the minimum value of a change output. Smaller change is
// left to miners.
const DustThreshold = 546

// FundingArgs ...
type FundingArgs struct {
	Escrow        *Escrow
	Amount        int64
	Utxos         []Utxo
	ChangeAddress string
	// FeeRate in sat/vbyte.
	FeeRate int64
}

func (a FundingArgs) validate() error {
	if a.Escrow == nil {
		return ErrInvalidKeys
	}
	return nil
}

// PaymentArgs describes a transaction paying Amount to Address out of
// wallet Utxos.
type PaymentArgs struct {
	Net           *chaincfg.Params
	Address       string
	Amount        int64
	Utxos         []Utxo
	ChangeAddress string
	// FeeRate in sat/vbyte.
	FeeRate int64
}

func (a PaymentArgs) validate() error {
	if a.Net == nil {
		return fmt.Errorf("missing network")
	}
	if a.Amount < DustThreshold {
		return ErrInvalidAmount
	}
	if len(a.Utxos) <= 0 {
		return ErrInsufficientFunds
	}
	return nil
}

// FundingTx is an unsigned transaction paying the escrow, or any other
// address when built with BuildPaymentTx.
type FundingTx struct {
	Tx     *wire.MsgTx
	Inputs []Utxo
	Fee    int64
	Change int64
}

// BuildFundingTx selects coins among args.Utxos and returns the unsigned
// transaction paying args.Amount to the escrow, with any non dust change sent
// to args.ChangeAddress. The escrow output is always the first one.
func BuildFundingTx(args FundingArgs) (*FundingTx, error) {
	if err := args.validate(); err != nil {
		return nil, err
	}
	return BuildPaymentTx(PaymentArgs{
		Net:           args.Escrow.Net,
		Address:       args.Escrow.Address.EncodeAddress(),
		Amount:        args.Amount,
		Utxos:         args.Utxos,
		ChangeAddress: args.ChangeAddress,
		FeeRate:       args.FeeRate,
	})
}

// BuildPaymentTx selects coins among args.Utxos and returns the unsigned
// transaction paying args.Amount to args.Address.
func BuildPaymentTx(args PaymentArgs) (*FundingTx, error) {
	if err := args.validate(); err != nil {
		return nil, err
	}

	pkScript, err := addressScript(args.Address, args.Net)
	if err != nil {
		return nil, err
	}
	changeScript, err := addressScript(args.ChangeAddress, args.Net)
	if err != nil {
		return nil, err
	}

	outScriptTypes := []int{ScriptType(pkScript), ScriptType(changeScript)}
	coins, fee, err := SelectUnspents(
		args.Utxos, args.Amount, args.FeeRate, outScriptTypes,
	)
	if err != nil {
		return nil, err
	}

	change := TotalValue(coins) - args.Amount - fee
	if change < DustThreshold {
		fee += change
		change = 0
	}

	tx := wire.NewMsgTx(wire.TxVersion)
	for _, c := range coins {
		outpoint, err := c.OutPoint()
		if err != nil {
			return nil, err
		}
		tx.AddTxIn(wire.NewTxIn(outpoint, nil, nil))
	}
	tx.AddTxOut(wire.NewTxOut(args.Amount, pkScript))
	if change > 0 {
		tx.AddTxOut(wire.NewTxOut(change, changeScript))
	}

	return &FundingTx{
		Tx:     tx,
		Inputs: coins,
		Fee:    fee,
		Change: change,
	}, nil
}

// KeyFinder returns the private key controlling a P2WPKH output script.
type KeyFinder func(pkScript []byte) (*btcec.PrivateKey, error)

// Sign fills the witness of every wallet input of the transaction. Only
// P2WPKH inputs are supported.
func (f *FundingTx) Sign(findKey KeyFinder) error {
	fetcher, err := prevOutFetcher(f.Inputs)
	if err != nil {
		return err
	}
	sigHashes := txscript.NewTxSigHashes(f.Tx, fetcher)

	for i, in := range f.Tx.TxIn {
		prevOut := fetcher.FetchPrevOutput(in.PreviousOutPoint)
		if prevOut == nil {
			return ErrMissingPrevOut
		}
		if !txscript.IsPayToWitnessPubKeyHash(prevOut.PkScript) {
			return fmt.Errorf("input %d: unsupported script type", i)
		}
		key, err := findKey(prevOut.PkScript)
		if err != nil {
			return fmt.Errorf("input %d: %w", i, err)
		}
		if !bytes.Equal(
			prevOut.PkScript[2:], btcutil.Hash160(key.PubKey().SerializeCompressed()),
		) {
			return fmt.Errorf("input %d: %w", i, ErrWrongKey)
		}
		witness, err := txscript.WitnessSignature(
			f.Tx, sigHashes, i, prevOut.Value, prevOut.PkScript,
			txscript.SigHashAll, key, true,
		)
		if err != nil {
			return err
		}
		in.Witness = witness
	}
	return nil
}

func addressScript(address string, net *chaincfg.Params) ([]byte, error) {
	addr, err := btcutil.DecodeAddress(address, net)
	if err != nil {
		return nil, err
	}
	if !addr.IsForNet(net) {
		return nil, fmt.Errorf("address %s is not for %s", address, net.Name)
	}
	return txscript.PayToAddrScript(addr)
}
