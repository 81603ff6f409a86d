package app

import (
	"bytes"
	"encoding/csv"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"autohodl/internal/config"
	"autohodl/internal/storage"
	"autohodl/internal/webhook"
)

func settledEvent(hash string, amount, deposit int64, at time.Time) storage.SpendEvent {
	chainID := int64(59144)
	token := "0x176211869cA2b568f2A7D4EE941E073a821EE1ff"
	tx := "0xdeposit" + hash
	account := "acc-1"
	return storage.SpendEvent{
		SpendTxHash:         hash,
		SpendAmount:         big.NewInt(amount),
		AccountID:           &account,
		Status:              storage.StatusSettled,
		YieldDepositAmount:  big.NewInt(deposit),
		YieldDepositChainID: &chainID,
		YieldDepositToken:   &token,
		YieldDepositTxHash:  &tx,
		YieldDepositAt:      &at,
		CreatedAt:           at,
	}
}

func TestCumulativeSavings(t *testing.T) {
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	points := cumulativeSavings([]storage.SpendEvent{
		settledEvent("0x1", 700_000, 300_000, base),
		{SpendTxHash: "0xunsettled", SpendAmount: big.NewInt(1)},
		settledEvent("0x2", 4_250_000, 750_000, base.Add(time.Hour)),
	}, 6)

	require.Len(t, points, 2)
	assert.Equal(t, "0.3", points[0].Total.String())
	assert.Equal(t, "1.05", points[1].Total.String())
}

func TestDownsampleKeepsEnds(t *testing.T) {
	items := []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}
	got := downsample(items, 4)
	assert.Equal(t, []int{0, 3, 6, 9}, got)
	assert.Equal(t, items, downsample(items, 0))
}

func TestWriteDepositsCSVAndPNG(t *testing.T) {
	dir := t.TempDir()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	deposits := []storage.SpendEvent{
		settledEvent("0x1", 700_000, 300_000, base),
		settledEvent("0x2", 4_250_000, 750_000, base.Add(time.Hour)),
	}

	csvPath := filepath.Join(dir, "out", "deposits.csv")
	require.NoError(t, writeDepositsCSV(csvPath, deposits, 6))

	file, err := os.Open(csvPath)
	require.NoError(t, err)
	defer file.Close()
	rows, err := csv.NewReader(file).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"2025-01-01T00:00:00Z", "0x1", "acc-1", "0.7", "0.3", "59144", "0x176211869cA2b568f2A7D4EE941E073a821EE1ff", "0xdeposit0x1"}, rows[1])

	pngPath := filepath.Join(dir, "savings.png")
	require.NoError(t, writeSavingsPNG(pngPath, cumulativeSavings(deposits, 6)))
	info, err := os.Stat(pngPath)
	require.NoError(t, err)
	assert.Positive(t, info.Size())
}

func TestWriteSpendTable(t *testing.T) {
	var buf bytes.Buffer
	reason := "insufficient balance: available 0.2,\nrequired 0.3"
	skipped := storage.SpendEvent{SpendTxHash: "0xabcdef0123456789abcdef", SpendAmount: big.NewInt(700_000), Status: storage.StatusSkipped, Reason: &reason}

	require.NoError(t, writeSpendTable(&buf, []storage.SpendEvent{skipped, settledEvent("0x2", 4_250_000, 750_000, time.Now())}, 6))
	out := buf.String()
	assert.Contains(t, out, "0xabcdef…cdef")
	assert.Contains(t, out, "insufficient balance: available 0.2, required 0.3")
	assert.Contains(t, out, "0.75")

	buf.Reset()
	require.NoError(t, writeSpendTable(&buf, nil, 6))
	assert.Equal(t, "no spend events found\n", buf.String())
}

func TestDigestRequiresSecret(t *testing.T) {
	a := NewApp(&config.Config{}, zerolog.Nop())
	_, err := a.Digest([]byte("{}"))
	assert.ErrorIs(t, err, webhook.ErrSecretNotConfigured)

	a.Config.Webhook.Secret = "s"
	sig, err := a.Digest([]byte("{}"))
	require.NoError(t, err)
	assert.Equal(t, webhook.Digest([]byte("{}"), "s"), sig)
}

func TestTokenAddresses(t *testing.T) {
	a := NewApp(&config.Config{Bridge: config.BridgeConfig{TokenAddresses: map[string]string{
		"8453":  "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913",
		"base":  "0x1",
		"42161": "",
	}}}, zerolog.Nop())

	assert.Equal(t, map[int64]string{8453: "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913"}, a.tokenAddresses())
}
