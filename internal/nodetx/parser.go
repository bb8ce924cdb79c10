// Package nodetx decodes the bespoke node-registration ("start") and
// node-confirmation ("confirm") transactions that a proof-of-node chain
// carries on top of its standard input/output model, plus the legacy
// single-field v3 node transaction that predates both.
package nodetx

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
)

// Kind tags the variant of ParseResult, per the Design Notes's
// tagged-variant strategy for duck-typed node-transaction detection.
type Kind int

const (
	KindNotNodeTx Kind = iota
	KindStart
	KindConfirm
	KindLegacy
)

func (k Kind) String() string {
	switch k {
	case KindStart:
		return "start"
	case KindConfirm:
		return "confirm"
	case KindLegacy:
		return "legacy"
	default:
		return "not-node-tx"
	}
}

// internalVersion bit flags selecting the node-start dialect.
const (
	flagP2SH     = 0x02
	flagNormal   = 0x01
	flagDelegate = 0x0100
)

// OutPoint identifies the collateral UTXO backing a node registration.
type OutPoint struct {
	TxID string
	Vout uint32
}

// StartTx is a decoded node-start ("register") transaction.
type StartTx struct {
	InternalVersion uint32
	Collateral      OutPoint
	Dialect         string // "p2sh" or "normal"
	PublicKey       string // hex; Normal dialect's "pubkey" or P2SH's "pubkey"
	RedeemScript    string // hex; P2SH dialect only
	CollateralPubKey string // hex; Normal dialect only
	SigTime         uint32
	Signature       string // hex
	UsingDelegates  bool
	DelegateKeys    []string // hex, present only when UsingDelegates
}

// ConfirmTx is a decoded node-confirm ("re-attest") transaction.
type ConfirmTx struct {
	Collateral        OutPoint
	SigTime           uint32
	BenchmarkTier     Tier
	RawBenchmarkTier  int8
	BenchmarkSigTime  uint32
	UpdateType        int8
	IP                string
	Signature         string // hex
	BenchmarkSignature string // hex
}

// LegacyTx is a decoded version-3 node transaction: the format predates
// the start/confirm split, so everything after the fixed header is kept
// as an opaque payload.
type LegacyTx struct {
	Payload string // hex
}

// ParseResult is the tagged-variant output of Parse: exactly one of
// Start, Confirm, or Legacy is non-nil, matching Kind.
type ParseResult struct {
	Kind    Kind
	Start   *StartTx
	Confirm *ConfirmTx
	Legacy  *LegacyTx
}

// Tier is a FluxNode collateral/benchmark tier.
type Tier string

const (
	TierCumulus Tier = "CUMULUS"
	TierNimbus  Tier = "NIMBUS"
	TierStratus Tier = "STRATUS"
	TierUnknown Tier = "UNKNOWN"
)

func tierFromByte(b int8) Tier {
	switch b {
	case 1:
		return TierCumulus
	case 2:
		return TierNimbus
	case 3:
		return TierStratus
	default:
		return TierUnknown
	}
}

// Parse decodes raw transaction hex and classifies it as a node
// transaction or not. It never panics: any truncated or malformed
// payload produces a non-nil error (typically *ParseError) and the
// caller should treat the transaction as a plain, non-node transaction.
func Parse(rawHex string) (*ParseResult, error) {
	raw, err := hex.DecodeString(rawHex)
	if err != nil {
		return nil, fmt.Errorf("decoding hex: %w", err)
	}
	if len(raw) < 5 {
		return &ParseResult{Kind: KindNotNodeTx}, nil
	}

	version := int32(binary.LittleEndian.Uint32(raw[0:4]))
	nType := raw[4]

	switch {
	case version == 3:
		c := newCursor(raw[5:])
		payload, err := c.readBytes("legacy.payload", c.remaining())
		if err != nil {
			return nil, err
		}
		return &ParseResult{Kind: KindLegacy, Legacy: &LegacyTx{Payload: hex.EncodeToString(payload)}}, nil

	case (version == 5 || version == 6) && nType == 2:
		start, err := parseStart(raw[5:], version)
		if err != nil {
			return nil, err
		}
		return &ParseResult{Kind: KindStart, Start: start}, nil

	case (version == 5 || version == 6) && nType == 4:
		confirm, err := parseConfirm(raw[5:])
		if err != nil {
			return nil, err
		}
		return &ParseResult{Kind: KindConfirm, Confirm: confirm}, nil

	default:
		return &ParseResult{Kind: KindNotNodeTx}, nil
	}
}

func parseStart(body []byte, version int32) (*StartTx, error) {
	c := newCursor(body)

	var internalVersion uint32
	if version == 6 {
		v, err := c.readUint32LE("start.internalVersion")
		if err != nil {
			return nil, err
		}
		internalVersion = v
	}

	txid, vout, err := c.readOutpoint("start.collateral")
	if err != nil {
		return nil, err
	}

	start := &StartTx{
		InternalVersion: internalVersion,
		Collateral:      OutPoint{TxID: txid, Vout: vout},
	}

	isP2SH := internalVersion&flagP2SH != 0
	isNormal := internalVersion&flagNormal != 0 && !isP2SH

	switch {
	case isP2SH:
		start.Dialect = "p2sh"
		pubKey, err := c.readVarBytes("start.p2sh.pubkey")
		if err != nil {
			return nil, err
		}
		redeemScript, err := c.readVarBytes("start.p2sh.redeemScript")
		if err != nil {
			return nil, err
		}
		start.PublicKey = hex.EncodeToString(pubKey)
		start.RedeemScript = hex.EncodeToString(redeemScript)

	case isNormal:
		start.Dialect = "normal"
		collateralPubKey, err := c.readVarBytes("start.normal.collateralPubkey")
		if err != nil {
			return nil, err
		}
		pubKey, err := c.readVarBytes("start.normal.pubkey")
		if err != nil {
			return nil, err
		}
		start.CollateralPubKey = hex.EncodeToString(collateralPubKey)
		start.PublicKey = hex.EncodeToString(pubKey)

	default:
		// Unknown dialect bits: attempt Normal as a fallback, per spec.
		start.Dialect = "normal"
		collateralPubKey, err := c.readVarBytes("start.fallback.collateralPubkey")
		if err != nil {
			return nil, err
		}
		pubKey, err := c.readVarBytes("start.fallback.pubkey")
		if err != nil {
			return nil, err
		}
		start.CollateralPubKey = hex.EncodeToString(collateralPubKey)
		start.PublicKey = hex.EncodeToString(pubKey)
	}

	sigTime, err := c.readUint32LE("start.sigTime")
	if err != nil {
		return nil, err
	}
	start.SigTime = sigTime

	signature, err := c.readVarBytes("start.signature")
	if err != nil {
		return nil, err
	}
	start.Signature = hex.EncodeToString(signature)

	if version == 6 && internalVersion&flagDelegate != 0 {
		usingFlag, err := c.readUint8("start.delegates.usingFlag")
		if err != nil {
			return nil, err
		}
		start.UsingDelegates = usingFlag != 0
		if start.UsingDelegates {
			count, err := c.readVarInt("start.delegates.count")
			if err != nil {
				return nil, err
			}
			keys := make([]string, 0, min(count, uint64(c.remaining())))
			for i := uint64(0); i < count; i++ {
				key, err := c.readVarBytes(fmt.Sprintf("start.delegates.key[%d]", i))
				if err != nil {
					return nil, err
				}
				keys = append(keys, hex.EncodeToString(key))
			}
			start.DelegateKeys = keys
		}
	}

	return start, nil
}

func parseConfirm(body []byte) (*ConfirmTx, error) {
	c := newCursor(body)

	txid, vout, err := c.readOutpoint("confirm.collateral")
	if err != nil {
		return nil, err
	}

	sigTime, err := c.readUint32LE("confirm.sigTime")
	if err != nil {
		return nil, err
	}

	rawTier, err := c.readInt8("confirm.benchmarkTier")
	if err != nil {
		return nil, err
	}

	benchmarkSigTime, err := c.readUint32LE("confirm.benchmarkSigTime")
	if err != nil {
		return nil, err
	}

	updateType, err := c.readInt8("confirm.updateType")
	if err != nil {
		return nil, err
	}

	ip, err := c.readVarString("confirm.ip")
	if err != nil {
		return nil, err
	}

	sig, err := c.readVarBytes("confirm.signature")
	if err != nil {
		return nil, err
	}

	benchmarkSig, err := c.readVarBytes("confirm.benchmarkSignature")
	if err != nil {
		return nil, err
	}

	return &ConfirmTx{
		Collateral:         OutPoint{TxID: txid, Vout: vout},
		SigTime:            sigTime,
		BenchmarkTier:      tierFromByte(rawTier),
		RawBenchmarkTier:   rawTier,
		BenchmarkSigTime:   benchmarkSigTime,
		UpdateType:         updateType,
		IP:                 ip,
		Signature:          hex.EncodeToString(sig),
		BenchmarkSignature: hex.EncodeToString(benchmarkSig),
	}, nil
}

// Collateral tier thresholds in minor units (1e-8 coin), with a ±1-coin
// (1e8 minor unit) tolerance for fee rounding, per spec's tier-inference-from-collateral
// fallback.
const (
	cumulusCollateral = 1000 * 1e8
	nimbusCollateral  = 12500 * 1e8
	stratusCollateral = 40000 * 1e8
	collateralTolerance = 1e8
)

// InferTierFromCollateral infers a benchmark tier from a collateral value
// when the node-tx payload itself does not carry an explicit tier (the
// start message has no tier field; this is used when cross-referencing a
// start registration's collateral amount against the known tier bands).
func InferTierFromCollateral(valueMinorUnits int64) Tier {
	within := func(target int64) bool {
		diff := valueMinorUnits - target
		if diff < 0 {
			diff = -diff
		}
		return diff <= collateralTolerance
	}
	switch {
	case within(cumulusCollateral):
		return TierCumulus
	case within(nimbusCollateral):
		return TierNimbus
	case within(stratusCollateral):
		return TierStratus
	default:
		return TierUnknown
	}
}
