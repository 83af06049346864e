package scanners

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opencause/escrow/clients/utxo"
	"github.com/opencause/escrow/config"
	"github.com/opencause/escrow/models"
)

const testBitcoinDeposit = "bc1qw508d6qejxtdg4y5r3zarvary0c5xw7kv8f3t4"

type fakeUTXOClient struct {
	network *config.NetworkConfig
	tip     uint64
	tipErr  error
	txs     []utxo.Tx
	txsErr  error

	addressCalls int
}

func (f *fakeUTXOClient) Network() *config.NetworkConfig { return f.network }

func (f *fakeUTXOClient) TipHeight(ctx context.Context) (uint64, error) {
	return f.tip, f.tipErr
}

func (f *fakeUTXOClient) AddressTxs(ctx context.Context, address string) ([]utxo.Tx, error) {
	f.addressCalls++
	return f.txs, f.txsErr
}

func utxoNetwork() *config.NetworkConfig {
	return &config.NetworkConfig{
		ID:             "bitcoin",
		Type:           config.NetworkTypeUTXO,
		ScanWindow:     40,
		NativeDecimals: 8,
	}
}

func esploraTx(txid string, height uint64, confirmed bool, values ...uint64) utxo.Tx {
	tx := utxo.Tx{TxID: txid}
	tx.Status.Confirmed = confirmed
	tx.Status.BlockHeight = height
	tx.Vin = []utxo.Vin{{}}
	tx.Vin[0].Prevout.ScriptPubKeyAddress = "1A1zP1eP5QGefi2DMPTfTL5SLmv7DivfNa"
	for _, value := range values {
		tx.Vout = append(tx.Vout, utxo.Vout{ScriptPubKeyAddress: testBitcoinDeposit, Value: value})
	}
	return tx
}

func TestUTXOScanMatch(t *testing.T) {
	client := &fakeUTXOClient{
		network: utxoNetwork(),
		tip:     110,
		txs:     []utxo.Tx{esploraTx("tx-1", 105, true, 150000000)},
	}
	scanner := NewUTXOScanner(client, zerolog.Nop())

	result := scanner.Scan(context.Background(), Target{
		DepositAddress:    testBitcoinDeposit,
		ExpectedAmountRaw: "150000000",
	}, 100)

	require.Equal(t, OutcomeMatch, result.Outcome)
	assert.Equal(t, "tx-1", result.Match.TxHash)
	assert.Equal(t, models.AssetTypeNative, result.Match.AssetType)
	assert.Equal(t, "150000000", result.Match.AmountRaw)
	assert.Equal(t, uint64(105), result.Match.BlockNumber)
	assert.Equal(t, "1A1zP1eP5QGefi2DMPTfTL5SLmv7DivfNa", result.Match.FromAddress)
	assert.Equal(t, uint64(110), result.NextCursor)
}

func TestUTXOScanSumsMultipleOutputs(t *testing.T) {
	client := &fakeUTXOClient{
		network: utxoNetwork(),
		tip:     110,
		txs:     []utxo.Tx{esploraTx("tx-1", 105, true, 100000000, 50000000)},
	}
	scanner := NewUTXOScanner(client, zerolog.Nop())

	result := scanner.Scan(context.Background(), Target{
		DepositAddress:    testBitcoinDeposit,
		ExpectedAmountRaw: "150000000",
	}, 100)

	assert.Equal(t, OutcomeMatch, result.Outcome)
}

func TestUTXOScanSkipsUnconfirmedAndOld(t *testing.T) {
	client := &fakeUTXOClient{
		network: utxoNetwork(),
		tip:     110,
		txs: []utxo.Tx{
			esploraTx("mempool", 0, false, 150000000),
			esploraTx("already-scanned", 100, true, 150000000),
		},
	}
	scanner := NewUTXOScanner(client, zerolog.Nop())

	result := scanner.Scan(context.Background(), Target{
		DepositAddress:    testBitcoinDeposit,
		ExpectedAmountRaw: "150000000",
	}, 100)

	assert.Equal(t, OutcomeNoMatch, result.Outcome)
	assert.Equal(t, uint64(110), result.NextCursor)
}

func TestUTXOScanExactAmountOnly(t *testing.T) {
	client := &fakeUTXOClient{
		network: utxoNetwork(),
		tip:     110,
		txs:     []utxo.Tx{esploraTx("tx-1", 105, true, 150000001)},
	}
	scanner := NewUTXOScanner(client, zerolog.Nop())

	result := scanner.Scan(context.Background(), Target{
		DepositAddress:    testBitcoinDeposit,
		ExpectedAmountRaw: "150000000",
	}, 100)

	assert.Equal(t, OutcomeNoMatch, result.Outcome)
}

func TestUTXOScanNothingNewAtTip(t *testing.T) {
	client := &fakeUTXOClient{network: utxoNetwork(), tip: 100}
	scanner := NewUTXOScanner(client, zerolog.Nop())

	result := scanner.Scan(context.Background(), Target{
		DepositAddress:    testBitcoinDeposit,
		ExpectedAmountRaw: "150000000",
	}, 100)

	assert.Equal(t, OutcomeNoMatch, result.Outcome)
	assert.Equal(t, uint64(100), result.NextCursor)
	assert.Zero(t, client.addressCalls)
}

func TestUTXOScanUnreachable(t *testing.T) {
	client := &fakeUTXOClient{network: utxoNetwork(), tipErr: assert.AnError}
	scanner := NewUTXOScanner(client, zerolog.Nop())

	result := scanner.Scan(context.Background(), Target{
		DepositAddress:    testBitcoinDeposit,
		ExpectedAmountRaw: "150000000",
	}, 100)

	assert.Equal(t, OutcomeUnreachable, result.Outcome)
	assert.Equal(t, uint64(100), result.NextCursor)

	// History fetch failure spends the attempted window.
	client = &fakeUTXOClient{network: utxoNetwork(), tip: 110, txsErr: assert.AnError}
	scanner = NewUTXOScanner(client, zerolog.Nop())

	result = scanner.Scan(context.Background(), Target{
		DepositAddress:    testBitcoinDeposit,
		ExpectedAmountRaw: "150000000",
	}, 100)

	assert.Equal(t, OutcomeUnreachable, result.Outcome)
	assert.Equal(t, uint64(110), result.NextCursor)
}
