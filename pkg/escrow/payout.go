package escrow

import (
	"bytes"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

// PayoutArgs ...
type PayoutArgs struct {
	Escrow         *Escrow
	FundingOutputs []Utxo
	PayoutAddress  string
	// Amount is the value received by PayoutAddress.
	Amount int64
	Fee    int64
}

// PartialTx is a payout spending the escrow outputs that collects the
// escrow key signatures. Signatures[i][k] is the signature of input i by
// the k-th sorted escrow key, or nil.
type PartialTx struct {
	Tx         *wire.MsgTx
	Escrow     *Escrow
	PrevOuts   []Utxo
	Signatures [][][]byte
}

// BuildPayoutTx returns the unsigned payout of the escrow funds. Amount plus
// fee must match the escrow funds, up to a dust remainder left to miners.
func BuildPayoutTx(args PayoutArgs) (*PartialTx, error) {
	if args.Escrow == nil {
		return nil, ErrInvalidKeys
	}
	if len(args.FundingOutputs) <= 0 {
		return nil, ErrNoFundingOutputs
	}
	if args.Amount <= 0 || args.Fee < 0 {
		return nil, ErrInvalidAmount
	}

	pkScript := args.Escrow.PkScript()
	for _, u := range args.FundingOutputs {
		if !bytes.Equal(u.PkScript, pkScript) {
			return nil, ErrNotEscrowInput
		}
	}

	total := TotalValue(args.FundingOutputs)
	if args.Amount+args.Fee > total {
		return nil, ErrInsufficientFunds
	}
	if total-args.Amount-args.Fee >= DustThreshold {
		return nil, ErrUnbalancedPayout
	}

	addr, err := btcutil.DecodeAddress(args.PayoutAddress, args.Escrow.Net)
	if err != nil {
		return nil, err
	}
	payoutScript, err := txscript.PayToAddrScript(addr)
	if err != nil {
		return nil, err
	}

	tx := wire.NewMsgTx(wire.TxVersion)
	for _, u := range args.FundingOutputs {
		outpoint, err := u.OutPoint()
		if err != nil {
			return nil, err
		}
		tx.AddTxIn(wire.NewTxIn(outpoint, nil, nil))
	}
	tx.AddTxOut(wire.NewTxOut(args.Amount, payoutScript))

	prevOuts := make([]Utxo, len(args.FundingOutputs))
	copy(prevOuts, args.FundingOutputs)

	return &PartialTx{
		Tx:         tx,
		Escrow:     args.Escrow,
		PrevOuts:   prevOuts,
		Signatures: emptySignatures(len(prevOuts)),
	}, nil
}

// Cosign adds the signature of key to every input. The key must be one of
// the escrow keys and must not have signed already. On error the partial tx
// is left untouched.
func (p *PartialTx) Cosign(key *btcec.PrivateKey) error {
	if key == nil {
		return ErrWrongKey
	}
	slot := p.Escrow.KeyIndex(key.PubKey())
	if slot < 0 {
		return ErrWrongKey
	}
	for _, sigs := range p.Signatures {
		if len(sigs[slot]) > 0 {
			return ErrAlreadySigned
		}
	}

	sigHashes, err := p.sigHashes()
	if err != nil {
		return err
	}
	sigs := make([][]byte, len(p.Tx.TxIn))
	for i := range p.Tx.TxIn {
		sig, err := txscript.RawTxInWitnessSignature(
			p.Tx, sigHashes, i, p.PrevOuts[i].Value, p.Escrow.WitnessScript,
			txscript.SigHashAll, key,
		)
		if err != nil {
			return fmt.Errorf("%w: %s", ErrCrypto, err)
		}
		sigs[i] = sig
	}
	for i, sig := range sigs {
		p.Signatures[i][slot] = sig
	}
	return nil
}

// Signers returns the escrow keys that have signed every input.
func (p *PartialTx) Signers() []*btcec.PublicKey {
	signers := make([]*btcec.PublicKey, 0, NumKeys)
	for k, key := range p.Escrow.Keys {
		signed := true
		for _, sigs := range p.Signatures {
			if len(sigs[k]) <= 0 {
				signed = false
				break
			}
		}
		if signed {
			signers = append(signers, key)
		}
	}
	return signers
}

// IsComplete returns whether the partial tx carries enough signatures to be
// finalized.
func (p *PartialTx) IsComplete() bool {
	for _, sigs := range p.Signatures {
		count := 0
		for _, s := range sigs {
			if len(s) > 0 {
				count++
			}
		}
		if count < RequiredSigs {
			return false
		}
	}
	return true
}

// Finalize returns a copy of the payout with the witness of every input
// filled with the first two signatures in key order.
func (p *PartialTx) Finalize() (*wire.MsgTx, error) {
	if !p.IsComplete() {
		return nil, ErrNotEnoughSignatures
	}

	tx := p.Tx.Copy()
	for i, in := range tx.TxIn {
		// OP_CHECKMULTISIG pops an extra element.
		witness := wire.TxWitness{nil}
		for _, sig := range p.Signatures[i] {
			if len(sig) > 0 && len(witness) <= RequiredSigs {
				witness = append(witness, sig)
			}
		}
		witness = append(witness, p.Escrow.WitnessScript)
		in.Witness = witness
	}
	return tx, nil
}

func (p *PartialTx) sigHashes() (*txscript.TxSigHashes, error) {
	fetcher, err := prevOutFetcher(p.PrevOuts)
	if err != nil {
		return nil, err
	}
	return txscript.NewTxSigHashes(p.Tx, fetcher), nil
}

type partialTxJSON struct {
	Tx            string     `json:"tx"`
	WitnessScript string     `json:"witnessScript"`
	PrevOuts      []Utxo     `json:"prevOuts"`
	Signatures    [][]string `json:"signatures"`
}

// Encode serializes the partial tx to an opaque string suitable to be
// carried by trade messages.
func (p *PartialTx) Encode() (string, error) {
	var buf bytes.Buffer
	if err := p.Tx.Serialize(&buf); err != nil {
		return "", err
	}
	sigs := make([][]string, 0, len(p.Signatures))
	for _, in := range p.Signatures {
		s := make([]string, 0, NumKeys)
		for _, sig := range in {
			s = append(s, hex.EncodeToString(sig))
		}
		sigs = append(sigs, s)
	}
	raw, err := json.Marshal(partialTxJSON{
		Tx:            hex.EncodeToString(buf.Bytes()),
		WitnessScript: hex.EncodeToString(p.Escrow.WitnessScript),
		PrevOuts:      p.PrevOuts,
		Signatures:    sigs,
	})
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// DecodePartialTx parses a partial tx produced by Encode. Every attached
// signature is verified, so a decoded partial tx only carries valid ones.
func DecodePartialTx(str string, net *chaincfg.Params) (*PartialTx, error) {
	raw, err := base64.StdEncoding.DecodeString(str)
	if err != nil {
		return nil, err
	}
	var v partialTxJSON
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}

	txBuf, err := hex.DecodeString(v.Tx)
	if err != nil {
		return nil, err
	}
	tx := wire.NewMsgTx(wire.TxVersion)
	if err := tx.Deserialize(bytes.NewReader(txBuf)); err != nil {
		return nil, err
	}
	script, err := hex.DecodeString(v.WitnessScript)
	if err != nil {
		return nil, err
	}
	e, err := FromWitnessScript(net, script)
	if err != nil {
		return nil, err
	}
	if len(v.PrevOuts) != len(tx.TxIn) || len(v.Signatures) != len(tx.TxIn) {
		return nil, ErrMissingPrevOut
	}
	for i, in := range tx.TxIn {
		outpoint, err := v.PrevOuts[i].OutPoint()
		if err != nil {
			return nil, err
		}
		if *outpoint != in.PreviousOutPoint {
			return nil, ErrMissingPrevOut
		}
		if !bytes.Equal(v.PrevOuts[i].PkScript, e.PkScript()) {
			return nil, ErrNotEscrowInput
		}
	}

	p := &PartialTx{
		Tx:         tx,
		Escrow:     e,
		PrevOuts:   v.PrevOuts,
		Signatures: emptySignatures(len(tx.TxIn)),
	}
	sigHashes, err := p.sigHashes()
	if err != nil {
		return nil, err
	}
	for i, in := range v.Signatures {
		if len(in) != NumKeys {
			return nil, fmt.Errorf("%w: malformed signature set", ErrCrypto)
		}
		for k, s := range in {
			if len(s) <= 0 {
				continue
			}
			sig, err := hex.DecodeString(s)
			if err != nil {
				return nil, err
			}
			ok, err := verifyInputSig(
				tx, sigHashes, i, p.PrevOuts[i].Value, script, sig, e.Keys[k],
			)
			if err != nil {
				return nil, err
			}
			if !ok {
				return nil, fmt.Errorf(
					"%w: invalid signature for input %d key %d", ErrCrypto, i, k,
				)
			}
			p.Signatures[i][k] = sig
		}
	}
	return p, nil
}

// Signers returns the escrow keys that produced a valid signature for every
// input of a finalized tx spending the given escrow outputs. A witness
// carrying two signatures by the same key fails with ErrDuplicateSignature.
func Signers(tx *wire.MsgTx, e *Escrow, prevOuts []Utxo) ([]*btcec.PublicKey, error) {
	ordered, err := PrevOutsOf(tx, prevOuts)
	if err != nil {
		return nil, err
	}
	fetcher, err := prevOutFetcher(ordered)
	if err != nil {
		return nil, err
	}
	sigHashes := txscript.NewTxSigHashes(tx, fetcher)

	// signedAll[k] holds as long as key k signed every input seen so far.
	signedAll := make([]bool, NumKeys)
	for k := range signedAll {
		signedAll[k] = true
	}
	for i, in := range tx.TxIn {
		w := in.Witness
		if len(w) < 2 || !bytes.Equal(w[len(w)-1], e.WitnessScript) {
			return nil, ErrNotEscrowInput
		}
		signedInput := make([]bool, NumKeys)
		for _, sig := range w[1 : len(w)-1] {
			for k, key := range e.Keys {
				ok, err := verifyInputSig(
					tx, sigHashes, i, ordered[i].Value, e.WitnessScript, sig, key,
				)
				if err != nil {
					return nil, err
				}
				if !ok {
					continue
				}
				if signedInput[k] {
					return nil, fmt.Errorf("%w: input %d", ErrDuplicateSignature, i)
				}
				signedInput[k] = true
				break
			}
		}
		for k := range signedAll {
			signedAll[k] = signedAll[k] && signedInput[k]
		}
	}

	signers := make([]*btcec.PublicKey, 0, NumKeys)
	for k, ok := range signedAll {
		if ok {
			signers = append(signers, e.Keys[k])
		}
	}
	return signers, nil
}

// PrevOutsOf returns the outputs spent by tx, in input order, picked from
// prevOuts.
func PrevOutsOf(tx *wire.MsgTx, prevOuts []Utxo) ([]Utxo, error) {
	if len(tx.TxIn) <= 0 {
		return nil, ErrNoFundingOutputs
	}
	byOutpoint := make(map[wire.OutPoint]Utxo, len(prevOuts))
	for _, u := range prevOuts {
		outpoint, err := u.OutPoint()
		if err != nil {
			return nil, err
		}
		byOutpoint[*outpoint] = u
	}
	ordered := make([]Utxo, 0, len(tx.TxIn))
	for _, in := range tx.TxIn {
		u, ok := byOutpoint[in.PreviousOutPoint]
		if !ok {
			return nil, ErrMissingPrevOut
		}
		ordered = append(ordered, u)
	}
	return ordered, nil
}

// VerifyScripts runs the script engine over every input of tx.
func VerifyScripts(tx *wire.MsgTx, prevOuts []Utxo) error {
	if len(prevOuts) != len(tx.TxIn) {
		return ErrMissingPrevOut
	}
	fetcher, err := prevOutFetcher(prevOuts)
	if err != nil {
		return err
	}
	sigHashes := txscript.NewTxSigHashes(tx, fetcher)
	for i := range tx.TxIn {
		vm, err := txscript.NewEngine(
			prevOuts[i].PkScript, tx, i, txscript.StandardVerifyFlags, nil,
			sigHashes, prevOuts[i].Value, fetcher,
		)
		if err != nil {
			return err
		}
		if err := vm.Execute(); err != nil {
			return fmt.Errorf("input %d: %w", i, err)
		}
	}
	return nil
}

func verifyInputSig(
	tx *wire.MsgTx, sigHashes *txscript.TxSigHashes, idx int, amount int64,
	script, sig []byte, key *btcec.PublicKey,
) (bool, error) {
	if len(sig) < 2 {
		return false, fmt.Errorf("%w: malformed signature", ErrCrypto)
	}
	hashType := txscript.SigHashType(sig[len(sig)-1])
	signature, err := ecdsa.ParseDERSignature(sig[:len(sig)-1])
	if err != nil {
		return false, fmt.Errorf("%w: %s", ErrCrypto, err)
	}
	hash, err := txscript.CalcWitnessSigHash(
		script, sigHashes, hashType, tx, idx, amount,
	)
	if err != nil {
		return false, err
	}
	return signature.Verify(hash, key), nil
}

func prevOutFetcher(prevOuts []Utxo) (*txscript.MultiPrevOutFetcher, error) {
	fetcher := txscript.NewMultiPrevOutFetcher(nil)
	for _, u := range prevOuts {
		outpoint, err := u.OutPoint()
		if err != nil {
			return nil, err
		}
		fetcher.AddPrevOut(*outpoint, u.TxOut())
	}
	return fetcher, nil
}

func emptySignatures(numInputs int) [][][]byte {
	sigs := make([][][]byte, numInputs)
	for i := range sigs {
		sigs[i] = make([][]byte, NumKeys)
	}
	return sigs
}
