package config

import (
	"errors"
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"
)

const testKey = "0x4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

func setValidEnv(t *testing.T) {
	t.Setenv("PRIVATE_KEY", testKey)
	t.Setenv("DEPOSIT_DATA_FILE", "deposit_data.json")
}

func TestLoadDefaults(t *testing.T) {
	setValidEnv(t)

	st := Load()
	require.Equal(t, "http://localhost:8545", st.RPCURL)
	require.Equal(t, MainnetDepositContract, st.DepositContract)
	require.Equal(t, "successful_deposits.json", st.LedgerFile)
	require.Equal(t, "feehist", st.FeeMode)
	require.Equal(t, 3, st.MaxSendAttempts)
	require.Equal(t, 1.25, st.FeeEscalation)
	require.Equal(t, 50, st.ConfirmMaxPolls)
	require.True(t, st.VerifyDepositRoot)
	require.NoError(t, st.Validate())

	wei, err := st.DepositWei()
	require.NoError(t, err)
	require.Equal(t, "32000000000000000000", wei.String())
}

func TestLoadLowerCaseKeys(t *testing.T) {
	setValidEnv(t)
	t.Setenv("fee_mode", "GasPrice")
	t.Setenv("max_send_attempts", "5")
	t.Setenv("verify_deposit_root", "no")

	st := Load()
	require.Equal(t, "gasprice", st.FeeMode)
	require.Equal(t, 5, st.MaxSendAttempts)
	require.False(t, st.VerifyDepositRoot)
}

func TestValidateReportsEveryKey(t *testing.T) {
	t.Setenv("PRIVATE_KEY", "")
	t.Setenv("DEPOSIT_DATA_FILE", "")
	t.Setenv("FEE_ESCALATION", "1.05")
	t.Setenv("FEE_MODE", "auction")
	t.Setenv("DEPOSIT_CONTRACT", "0x1234")
	t.Setenv("CHAIN_ID", "mainnet")

	err := Load().Validate()
	require.Error(t, err)

	keys := map[string]bool{}
	var joined interface{ Unwrap() []error }
	require.True(t, errors.As(err, &joined))
	for _, e := range joined.Unwrap() {
		var ce *ConfigError
		require.ErrorAs(t, e, &ce)
		keys[ce.Key] = true
	}
	for _, k := range []string{"PRIVATE_KEY", "DEPOSIT_DATA_FILE", "FEE_ESCALATION", "FEE_MODE", "DEPOSIT_CONTRACT", "CHAIN_ID"} {
		require.True(t, keys[k], k)
	}
}

func TestValidateRejectsSubGweiDeposit(t *testing.T) {
	setValidEnv(t)
	t.Setenv("DEPOSIT_AMOUNT_ETH", "1.0000000001")

	var ce *ConfigError
	require.ErrorAs(t, Load().Validate(), &ce)
	require.Equal(t, "DEPOSIT_AMOUNT_ETH", ce.Key)
}

func TestChainIDBig(t *testing.T) {
	t.Parallel()

	id, err := Settings{ChainID: "0x88bb0"}.ChainIDBig()
	require.NoError(t, err)
	require.Equal(t, big.NewInt(560048), id)

	id, err = Settings{}.ChainIDBig()
	require.NoError(t, err)
	require.Nil(t, id)

	_, err = Settings{ChainID: "-1"}.ChainIDBig()
	require.Error(t, err)
}

func TestParseUnits(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in       string
		decimals int
		want     string
		ok       bool
	}{
		{"32", 18, "32000000000000000000", true},
		{"1.5", 9, "1500000000", true},
		{".25", 2, "25", true},
		{"0.000000001", 9, "1", true},
		{"0.0000000001", 9, "", false},
		{"-1", 18, "", false},
		{"1.-5", 9, "", false},
		{"abc", 18, "", false},
		{"", 18, "", false},
	}
	for _, tc := range cases {
		got, err := ParseUnits(tc.in, tc.decimals)
		if !tc.ok {
			require.Error(t, err, tc.in)
			continue
		}
		require.NoError(t, err, tc.in)
		require.Equal(t, tc.want, got.String(), tc.in)
	}
}
