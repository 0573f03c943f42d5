package deposit

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

const gwei32ETH = uint64(32_000_000_000)

func repeatHex(b byte, n int) string {
	return hex.EncodeToString(bytes.Repeat([]byte{b}, n))
}

// testEntry returns a structurally valid entry. With an amount the root is the real
// hash tree root, without one it is arbitrary.
func testEntry(t *testing.T, seed byte, withAmount bool) Entry {
	t.Helper()
	e := Entry{
		Pubkey:                repeatHex(seed, PubkeyLen),
		WithdrawalCredentials: "0x" + repeatHex(seed+1, WithdrawalCredentialsLen),
		Signature:             repeatHex(seed+2, SignatureLen),
		DepositDataRoot:       repeatHex(seed+3, DataRootLen),
	}
	if withAmount {
		amt := gwei32ETH
		e.Amount = &amt
		rec, err := e.Parse()
		require.NoError(t, err)
		root := DataRoot(rec, amt)
		e.DepositDataRoot = hex.EncodeToString(root[:])
	}
	return e
}

func TestParseAcceptsPrefixedAndBareHex(t *testing.T) {
	t.Parallel()

	e := testEntry(t, 0x11, false)
	rec, err := e.Parse()
	require.NoError(t, err)
	require.Equal(t, strings.Repeat("11", PubkeyLen), rec.ID())
	require.Equal(t, byte(0x12), rec.WithdrawalCredentials[0])
	require.Zero(t, rec.Amount)
	require.False(t, rec.HasAmount)
}

func TestParseRejectsMalformedFields(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name  string
		field string
		edit  func(e *Entry)
	}{
		{"missing pubkey", "pubkey", func(e *Entry) { e.Pubkey = "" }},
		{"short pubkey", "pubkey", func(e *Entry) { e.Pubkey = e.Pubkey[:94] }},
		{"bad hex credentials", "withdrawal_credentials", func(e *Entry) { e.WithdrawalCredentials = "0x" + strings.Repeat("zz", 32) }},
		{"missing signature", "signature", func(e *Entry) { e.Signature = "0x" }},
		{"long signature", "signature", func(e *Entry) { e.Signature += "00" }},
		{"missing root", "deposit_data_root", func(e *Entry) { e.DepositDataRoot = " " }},
		{"odd root", "deposit_data_root", func(e *Entry) { e.DepositDataRoot = e.DepositDataRoot[:63] + "g" }},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			e := testEntry(t, 0x20, false)
			tc.edit(&e)
			_, err := e.Parse()
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			require.Equal(t, tc.field, verr.Field)
		})
	}
}

func TestNormalizeID(t *testing.T) {
	t.Parallel()

	require.Equal(t, "abcd", NormalizeID(" 0xABcd "))
	require.Equal(t, "abcd", NormalizeID("abcd"))
	require.Equal(t, "", NormalizeID(""))
}

func TestCalldataLayout(t *testing.T) {
	t.Parallel()

	rec, err := testEntry(t, 0x30, false).Parse()
	require.NoError(t, err)

	data, err := Calldata(rec)
	require.NoError(t, err)

	require.Equal(t, []byte{0x22, 0x89, 0x51, 0x18}, data[:4])
	require.Equal(t, Selector(), data[:4])
	require.Len(t, data, 4+4*32+(32+64)+(32+32)+(32+96))

	word := func(i int) uint64 { return new(big.Int).SetBytes(data[4+32*i : 4+32*(i+1)]).Uint64() }
	require.Equal(t, uint64(0x80), word(0))
	require.Equal(t, uint64(0xe0), word(1))
	require.Equal(t, uint64(0x120), word(2))
	require.Equal(t, rec.DepositDataRoot[:], data[4+96:4+128])
	require.Equal(t, uint64(PubkeyLen), word(4))
	require.Equal(t, rec.Pubkey[:], data[4+160:4+160+PubkeyLen])
}

func TestCalldataDeterministic(t *testing.T) {
	t.Parallel()

	e := testEntry(t, 0x40, false)
	first, err := e.Parse()
	require.NoError(t, err)
	a, err := Calldata(first)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := e.Parse()
		require.NoError(t, err)
		b, err := Calldata(again)
		require.NoError(t, err)
		require.Equal(t, a, b)
	}
}

func TestVerifyDepositRoot(t *testing.T) {
	t.Parallel()

	rec, err := testEntry(t, 0x50, true).Parse()
	require.NoError(t, err)
	require.NoError(t, Verify(rec, gwei32ETH))

	var verr *ValidationError
	require.ErrorAs(t, Verify(rec, 1_000_000_000), &verr)
	require.Equal(t, "amount", verr.Field)

	rec.DepositDataRoot[0] ^= 0xff
	require.ErrorAs(t, Verify(rec, gwei32ETH), &verr)
	require.Equal(t, "deposit_data_root", verr.Field)
}

// contractRoot recomputes deposit_data_root with plain sha256, the way the
// deposit contract's deposit() rebuilds it from its arguments.
func contractRoot(r *Record, amountGwei uint64) [32]byte {
	cat := func(parts ...[]byte) []byte {
		var out []byte
		for _, p := range parts {
			out = append(out, p...)
		}
		return out
	}
	var zero [32]byte
	var amount [32]byte
	binary.LittleEndian.PutUint64(amount[:8], amountGwei)

	pubkeyRoot := sha256.Sum256(cat(r.Pubkey[:], zero[:16]))
	sigLeft := sha256.Sum256(r.Signature[:64])
	sigRight := sha256.Sum256(cat(r.Signature[64:], zero[:]))
	sigRoot := sha256.Sum256(cat(sigLeft[:], sigRight[:]))
	left := sha256.Sum256(cat(pubkeyRoot[:], r.WithdrawalCredentials[:]))
	right := sha256.Sum256(cat(amount[:], sigRoot[:]))
	return sha256.Sum256(cat(left[:], right[:]))
}

func TestDataRootMatchesContractComputation(t *testing.T) {
	t.Parallel()

	for i, amt := range []uint64{gwei32ETH, 1_000_000_000, 2_048_000_000_000} {
		// non-repeating field bytes so a misplaced chunk changes the root
		seed := sha256.Sum256([]byte{byte(i)})
		var rec Record
		for j := range rec.Pubkey {
			rec.Pubkey[j] = seed[j%32] ^ byte(j)
		}
		copy(rec.WithdrawalCredentials[:], seed[:])
		rec.WithdrawalCredentials[0] = 0x01
		for j := range rec.Signature {
			rec.Signature[j] = seed[(j*7)%32] + byte(j)
		}

		want := contractRoot(&rec, amt)
		require.Equal(t, want, DataRoot(&rec, amt), "amount %d", amt)

		// an entry carrying the independently computed root passes Verify
		e := Entry{
			Pubkey:                hex.EncodeToString(rec.Pubkey[:]),
			WithdrawalCredentials: hex.EncodeToString(rec.WithdrawalCredentials[:]),
			Signature:             hex.EncodeToString(rec.Signature[:]),
			DepositDataRoot:       hex.EncodeToString(want[:]),
			Amount:                &amt,
		}
		parsed, err := e.Parse()
		require.NoError(t, err)
		require.NoError(t, Verify(parsed, amt))
	}
}

func TestVerifyRejectsExplicitZeroAmount(t *testing.T) {
	t.Parallel()

	e := testEntry(t, 0x58, false)
	zero := uint64(0)
	e.Amount = &zero
	rec, err := e.Parse()
	require.NoError(t, err)
	require.True(t, rec.HasAmount)

	var verr *ValidationError
	require.ErrorAs(t, Verify(rec, gwei32ETH), &verr)
	require.Equal(t, "amount", verr.Field)
}

func TestVerifySkipsEntriesWithoutAmount(t *testing.T) {
	t.Parallel()

	rec, err := testEntry(t, 0x60, false).Parse()
	require.NoError(t, err)
	require.NoError(t, Verify(rec, gwei32ETH))
}

func TestLoadFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	good := filepath.Join(dir, "deposit_data.json")
	e := testEntry(t, 0x70, true)
	body := `[{"pubkey":"` + e.Pubkey + `","withdrawal_credentials":"` + e.WithdrawalCredentials +
		`","amount":32000000000,"signature":"` + e.Signature + `","deposit_data_root":"` + e.DepositDataRoot +
		`","network_name":"hoodi"}]`
	require.NoError(t, os.WriteFile(good, []byte(body), 0o600))

	entries, err := LoadFile(good)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.NotNil(t, entries[0].Amount)
	require.Equal(t, gwei32ETH, *entries[0].Amount)
	require.Equal(t, "hoodi", entries[0].NetworkName)

	_, err = LoadFile(filepath.Join(dir, "missing.json"))
	require.Error(t, err)

	obj := filepath.Join(dir, "object.json")
	require.NoError(t, os.WriteFile(obj, []byte(`{"pubkey":"aa"}`), 0o600))
	_, err = LoadFile(obj)
	require.Error(t, err)

	null := filepath.Join(dir, "null.json")
	require.NoError(t, os.WriteFile(null, []byte(`null`), 0o600))
	_, err = LoadFile(null)
	require.Error(t, err)
}
