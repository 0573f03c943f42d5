package depositcore

import (
	"crypto/ecdsa"
	"errors"
	"math/big"
	"strings"

	gethcrypto "github.com/ethereum/go-ethereum/crypto"
)

var (
	bigGwei  = big.NewInt(1_000_000_000)
	bigEther = big.NewInt(1_000_000_000_000_000_000)
)

// HexToKey parses a hex ECDSA private key (with / without 0x).
func HexToKey(s string) (*ecdsa.PrivateKey, error) {
	h := strings.TrimPrefix(strings.TrimSpace(s), "0x")
	if len(h) == 0 {
		return nil, errors.New("empty private key")
	}
	return gethcrypto.HexToECDSA(h)
}

func GweiToWei(g uint64) *big.Int {
	x := new(big.Int).SetUint64(g)
	return x.Mul(x, bigGwei)
}

// WeiToGwei truncates.
func WeiToGwei(w *big.Int) uint64 {
	if w == nil {
		return 0
	}
	return new(big.Int).Quo(w, bigGwei).Uint64()
}

// mulFloatCeil returns ceil(a*f). f is applied through big.Rat so no precision is lost
// on large wei amounts.
func mulFloatCeil(a *big.Int, f float64) *big.Int {
	if a == nil {
		return big.NewInt(0)
	}
	r := new(big.Rat).SetFloat64(f)
	if r == nil {
		return new(big.Int).Set(a)
	}
	num := new(big.Int).Mul(a, r.Num())
	q, m := new(big.Int).QuoRem(num, r.Denom(), new(big.Int))
	if m.Sign() > 0 {
		q.Add(q, big.NewInt(1))
	}
	return q
}

func maxBig(a, b *big.Int) *big.Int {
	if a.Cmp(b) >= 0 {
		return a
	}
	return b
}

// Human-readable helpers (ETH/gwei).
func FormatETH(x *big.Int) string {
	if x == nil {
		return "0"
	}
	r := new(big.Rat).SetFrac(new(big.Int).Set(x), bigEther)
	return r.FloatString(6)
}

func FormatGwei(x *big.Int) string {
	if x == nil {
		return "0"
	}
	r := new(big.Rat).SetFrac(new(big.Int).Set(x), bigGwei)
	return r.FloatString(2)
}

func gweiFloat(x *big.Int) float64 {
	if x == nil {
		return 0
	}
	f, _ := new(big.Rat).SetFrac(x, bigGwei).Float64()
	return f
}
