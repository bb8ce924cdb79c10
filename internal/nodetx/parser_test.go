package nodetx

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"testing"
)

func putVarInt(buf *bytes.Buffer, v uint64) {
	if v < 0xfd {
		buf.WriteByte(byte(v))
		return
	}
	if v <= 0xffff {
		buf.WriteByte(0xfd)
		b := make([]byte, 2)
		binary.LittleEndian.PutUint16(b, uint16(v))
		buf.Write(b)
		return
	}
	buf.WriteByte(0xfe)
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, uint32(v))
	buf.Write(b)
}

func putVarBytes(buf *bytes.Buffer, b []byte) {
	putVarInt(buf, uint64(len(b)))
	buf.Write(b)
}

func putUint32LE(buf *bytes.Buffer, v uint32) {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, v)
	buf.Write(b)
}

func putOutpoint(buf *bytes.Buffer, txid string, vout uint32) {
	raw, err := hex.DecodeString(txid)
	if err != nil {
		panic(err)
	}
	reversed := make([]byte, len(raw))
	for i, b := range raw {
		reversed[len(raw)-1-i] = b
	}
	buf.Write(reversed)
	putUint32LE(buf, vout)
}

func fixedTxID(b byte) string {
	raw := bytes.Repeat([]byte{b}, 32)
	return hex.EncodeToString(raw)
}

// buildStartV6 builds a raw node-start transaction at version 6 with the
// given internalVersion flags and optional delegate keys.
func buildStartV6(t *testing.T, internalVersion uint32, delegateKeys [][]byte) string {
	t.Helper()
	var buf bytes.Buffer
	putUint32LE(&buf, 6)
	buf.WriteByte(2) // nType=2 -> start
	putUint32LE(&buf, internalVersion)
	putOutpoint(&buf, fixedTxID(0xAB), 1)

	if internalVersion&flagP2SH != 0 {
		putVarBytes(&buf, []byte{0x02, 0x03, 0x04}) // pubkey
		putVarBytes(&buf, []byte{0x05, 0x06})       // redeemScript
	} else {
		putVarBytes(&buf, []byte{0x10, 0x11}) // collateralPubkey
		putVarBytes(&buf, []byte{0x20, 0x21}) // pubkey
	}

	putUint32LE(&buf, 12345) // sigTime
	putVarBytes(&buf, bytes.Repeat([]byte{0x7a}, 65))

	if internalVersion&flagDelegate != 0 {
		if len(delegateKeys) == 0 {
			buf.WriteByte(0)
		} else {
			buf.WriteByte(1)
			putVarInt(&buf, uint64(len(delegateKeys)))
			for _, key := range delegateKeys {
				putVarBytes(&buf, key)
			}
		}
	}

	return hex.EncodeToString(buf.Bytes())
}

func buildConfirmV6(t *testing.T, tier int8, ip string) string {
	t.Helper()
	var buf bytes.Buffer
	putUint32LE(&buf, 6)
	buf.WriteByte(4) // nType=4 -> confirm
	putOutpoint(&buf, fixedTxID(0xCD), 0)
	putUint32LE(&buf, 55555) // sigTime
	buf.WriteByte(byte(tier))
	putUint32LE(&buf, 66666) // benchmarkSigTime
	buf.WriteByte(7)         // updateType, opaque
	putVarInt(&buf, uint64(len(ip)))
	buf.WriteString(ip)
	putVarBytes(&buf, bytes.Repeat([]byte{0x11}, 65))
	putVarBytes(&buf, bytes.Repeat([]byte{0x22}, 65))
	return hex.EncodeToString(buf.Bytes())
}

func TestParse_NotNodeTx(t *testing.T) {
	var buf bytes.Buffer
	putUint32LE(&buf, 1) // ordinary transaction version
	buf.WriteByte(0)
	buf.Write(bytes.Repeat([]byte{0x00}, 10))

	result, err := Parse(hex.EncodeToString(buf.Bytes()))
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if result.Kind != KindNotNodeTx {
		t.Fatalf("expected KindNotNodeTx, got %s", result.Kind)
	}
}

func TestParse_Legacy(t *testing.T) {
	var buf bytes.Buffer
	putUint32LE(&buf, 3)
	buf.WriteByte(9) // nType is irrelevant for legacy
	buf.Write([]byte{0xde, 0xad, 0xbe, 0xef})

	result, err := Parse(hex.EncodeToString(buf.Bytes()))
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if result.Kind != KindLegacy {
		t.Fatalf("expected KindLegacy, got %s", result.Kind)
	}
	if result.Legacy.Payload != "deadbeef" {
		t.Fatalf("unexpected legacy payload: %s", result.Legacy.Payload)
	}
}

// TestParse_StartP2SHWithDelegates covers scenario S4: version 6, P2SH
// dialect (bit 0x02), delegate feature (bit 0x0100) with 2 delegate keys.
func TestParse_StartP2SHWithDelegates(t *testing.T) {
	delegates := [][]byte{{0x01, 0x02}, {0x03, 0x04, 0x05}}
	rawHex := buildStartV6(t, 0x0102, delegates)

	result, err := Parse(rawHex)
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if result.Kind != KindStart {
		t.Fatalf("expected KindStart, got %s", result.Kind)
	}
	start := result.Start
	if start.Dialect != "p2sh" {
		t.Fatalf("expected p2sh dialect, got %s", start.Dialect)
	}
	if start.RedeemScript == "" {
		t.Fatalf("expected a redeem script for p2sh dialect")
	}
	if start.Collateral.TxID != fixedTxID(0xAB) {
		t.Fatalf("unexpected collateral txid: %s", start.Collateral.TxID)
	}
	if !start.UsingDelegates {
		t.Fatalf("expected UsingDelegates=true")
	}
	if len(start.DelegateKeys) != 2 {
		t.Fatalf("expected 2 delegate keys, got %d", len(start.DelegateKeys))
	}
}

func TestParse_StartNormalDialect(t *testing.T) {
	rawHex := buildStartV6(t, flagNormal, nil)
	result, err := Parse(rawHex)
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if result.Start.Dialect != "normal" {
		t.Fatalf("expected normal dialect, got %s", result.Start.Dialect)
	}
	if result.Start.CollateralPubKey == "" {
		t.Fatalf("expected a collateral pubkey for normal dialect")
	}
	if result.Start.UsingDelegates {
		t.Fatalf("did not expect delegates when the delegate flag is unset")
	}
}

// TestParse_Confirm covers scenario S5: confirm tx, tier NIMBUS (byte=2),
// non-empty IP, two signature blobs.
func TestParse_Confirm(t *testing.T) {
	rawHex := buildConfirmV6(t, 2, "203.0.113.5:16127")
	result, err := Parse(rawHex)
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if result.Kind != KindConfirm {
		t.Fatalf("expected KindConfirm, got %s", result.Kind)
	}
	confirm := result.Confirm
	if confirm.BenchmarkTier != TierNimbus {
		t.Fatalf("expected NIMBUS tier, got %s", confirm.BenchmarkTier)
	}
	if confirm.IP == "" {
		t.Fatalf("expected a non-empty IP")
	}
	if confirm.Signature == "" || confirm.BenchmarkSignature == "" {
		t.Fatalf("expected both signature blobs to be populated")
	}
}

func TestParse_TruncatedBufferNamesField(t *testing.T) {
	rawHex := buildStartV6(t, flagNormal, nil)
	raw, _ := hex.DecodeString(rawHex)
	truncated := hex.EncodeToString(raw[:10])

	_, err := Parse(truncated)
	if err == nil {
		t.Fatalf("expected a parse error for a truncated buffer")
	}
	var parseErr *ParseError
	if !errors.As(err, &parseErr) {
		t.Fatalf("expected a *ParseError, got %T: %s", err, err)
	}
	if parseErr.Field == "" {
		t.Fatalf("expected the error to name a field")
	}
}

func TestInferTierFromCollateral(t *testing.T) {
	cases := []struct {
		value int64
		want  Tier
	}{
		{1000 * 1e8, TierCumulus},
		{1000*1e8 - 50000000, TierCumulus}, // half a coin below: inside the ±1-coin tolerance
		{12500 * 1e8, TierNimbus},
		{40000 * 1e8, TierStratus},
		{999, TierUnknown},
	}
	for _, c := range cases {
		got := InferTierFromCollateral(c.value)
		// The second case sits half a coin below the Cumulus collateral,
		// inside the ±1-coin (1e8 minor unit) tolerance, so it still
		// resolves to Cumulus.
		if c.value == 1000*1e8-50000000 {
			if got != TierCumulus {
				t.Fatalf("value %d: expected CUMULUS within tolerance, got %s", c.value, got)
			}
			continue
		}
		if got != c.want {
			t.Fatalf("value %d: expected %s, got %s", c.value, c.want, got)
		}
	}
}
