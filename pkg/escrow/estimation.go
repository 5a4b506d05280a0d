package escrow

import "github.com/btcsuite/btcd/txscript"

// Script types supported by the size estimator.
const (
	P2PKH = iota
	P2SH_P2WPKH
	P2WPKH
	P2WSH
	P2TR
	// P2WSH_ESCROW is a P2WSH output locked by a 2-of-3 escrow script.
	P2WSH_ESCROW
)

var (
	scriptSigSizeByScriptType = map[int]int{
		P2PKH:        108, // len + opcode + sig + opcode + pubkey
		P2SH_P2WPKH:  23,  // len + p2wpkh script
		P2WPKH:       1,   // no scriptsig, still len is serialized
		P2WSH_ESCROW: 1,
		P2TR:         1,
	}
	scriptPubKeySizeByScriptType = map[int]int{
		P2PKH:        26, // len + opcodes (3) + hash(pubkey) + opcodes (2)
		P2SH_P2WPKH:  24, // len + opcodes (2) + hash(script) + opcode
		P2WPKH:       23, // len + opcodes (2) + hash(pubkey)
		P2WSH:        35, // len + opcodes (2) + hash(script)
		P2WSH_ESCROW: 35,
		P2TR:         35, // len + opcodes (2) + xonly pubkey
	}
	witnessSizeByScriptType = map[int]int{
		// items + len + sig + len + pubkey
		P2SH_P2WPKH: 1 + 1 + 72 + 1 + 33,
		P2WPKH:      1 + 1 + 72 + 1 + 33,
		// items + empty + 2 * (len + sig) + len + 2-of-3 script
		P2WSH_ESCROW: 1 + 1 + 2*(1+72) + 1 + 105,
		// items + len + schnorr sig
		P2TR: 1 + 1 + 64,
	}
)

// EstimateTxSize makes an estimation of the virtual size of a transaction
// spending inputs of the given script types to outputs of the given script
// types.
func EstimateTxSize(inScriptTypes, outScriptTypes []int) int {
	baseSize := calcTxBaseSize(inScriptTypes, outScriptTypes)
	witnessSize := calcTxWitnessSize(inScriptTypes)
	totalSize := baseSize
	if witnessSize > 0 {
		// marker + flag
		totalSize += 2 + witnessSize
	}

	weight := baseSize*3 + totalSize
	return (weight + 3) / 4
}

// ScriptType maps an output script to one of the estimator script types.
// Unknown scripts are treated as P2WPKH.
func ScriptType(pkScript []byte) int {
	switch txscript.GetScriptClass(pkScript) {
	case txscript.PubKeyHashTy:
		return P2PKH
	case txscript.ScriptHashTy:
		return P2SH_P2WPKH
	case txscript.WitnessV0ScriptHashTy:
		return P2WSH
	case txscript.WitnessV1TaprootTy:
		return P2TR
	default:
		return P2WPKH
	}
}

func calcTxBaseSize(inScriptTypes, outScriptTypes []int) int {
	// hash + index + sequence
	inBaseSize := 40
	insSize := 0
	for _, scriptType := range inScriptTypes {
		insSize += inBaseSize + scriptSigSizeByScriptType[scriptType]
	}

	// value
	outBaseSize := 8
	outsSize := 0
	for _, scriptType := range outScriptTypes {
		outsSize += outBaseSize + scriptPubKeySizeByScriptType[scriptType]
	}

	// version + locktime
	return 8 +
		varIntSerializeSize(uint64(len(inScriptTypes))) +
		varIntSerializeSize(uint64(len(outScriptTypes))) +
		insSize + outsSize
}

func calcTxWitnessSize(inScriptTypes []int) int {
	size := 0
	for _, scriptType := range inScriptTypes {
		size += witnessSizeByScriptType[scriptType]
	}
	return size
}

func varIntSerializeSize(val uint64) int {
	switch {
	case val < 0xfd:
		return 1
	case val <= 0xffff:
		return 3
	case val <= 0xffffffff:
		return 5
	}
	return 9
}
