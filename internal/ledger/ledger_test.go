package ledger

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fakeSource struct {
	receiptFn func(common.Hash) (*types.Receipt, error)
	txFn      func(common.Hash) (*types.Transaction, bool, error)
	blockErr  error
	polls     int
}

func (f *fakeSource) TransactionReceipt(_ context.Context, h common.Hash) (*types.Receipt, error) {
	f.polls++
	return f.receiptFn(h)
}

func (f *fakeSource) TransactionByHash(_ context.Context, h common.Hash) (*types.Transaction, bool, error) {
	return f.txFn(h)
}

func (f *fakeSource) BlockNumber(context.Context) (uint64, error) {
	return 100, f.blockErr
}

type fakeTransactor struct {
	tx  *types.Transaction
	err error
	got []interface{}
}

func (f *fakeTransactor) Transact(_ *bind.TransactOpts, _ string, params ...interface{}) (*types.Transaction, error) {
	f.got = params
	return f.tx, f.err
}

const txHex = "0x1111111111111111111111111111111111111111111111111111111111111111"

var contract = common.HexToAddress("0x00000000000000000000000000000000000000aa")

func newTestLedger(t *testing.T, src *fakeSource, tr *fakeTransactor) *EthereumLedger {
	return &EthereumLedger{
		source:       src,
		contract:     tr,
		address:      contract,
		auth:         &bind.TransactOpts{},
		pollInterval: time.Millisecond,
		logger:       zaptest.NewLogger(t),
	}
}

func TestCommitmentIsUniquePerAttempt(t *testing.T) {
	at := time.Unix(1700000000, 5)
	a := Commitment(7, "1", "2", at)
	b := Commitment(7, "1", "2", at)
	c := Commitment(7, "1", "2", at.Add(time.Nanosecond))

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, CommitmentHex(a), 66)
}

func TestParseTxID(t *testing.T) {
	h, err := ParseTxID(txHex)
	require.NoError(t, err)
	assert.Equal(t, txHex, h.Hex())

	for _, bad := range []string{"", "0x12", "nothex", txHex + "00"} {
		_, err := ParseTxID(bad)
		assert.ErrorIs(t, err, ErrInvalidTransaction, bad)
	}
}

func TestAwaitConfirmationPollsUntilMined(t *testing.T) {
	src := &fakeSource{}
	src.receiptFn = func(common.Hash) (*types.Receipt, error) {
		if src.polls < 3 {
			return nil, ethereum.NotFound
		}
		return &types.Receipt{Status: types.ReceiptStatusSuccessful, BlockNumber: big.NewInt(42)}, nil
	}
	l := newTestLedger(t, src, nil)

	conf, err := l.AwaitConfirmation(context.Background(), txHex)
	require.NoError(t, err)
	assert.Equal(t, uint64(42), conf.BlockNumber)
	assert.True(t, conf.Success)
	assert.Equal(t, 3, src.polls)
}

func TestAwaitConfirmationReverted(t *testing.T) {
	src := &fakeSource{receiptFn: func(common.Hash) (*types.Receipt, error) {
		return &types.Receipt{Status: types.ReceiptStatusFailed, BlockNumber: big.NewInt(9)}, nil
	}}
	l := newTestLedger(t, src, nil)

	conf, err := l.AwaitConfirmation(context.Background(), txHex)
	assert.ErrorIs(t, err, ErrRejected)
	require.NotNil(t, conf)
	assert.False(t, conf.Success)
}

func TestAwaitConfirmationTimeout(t *testing.T) {
	src := &fakeSource{receiptFn: func(common.Hash) (*types.Receipt, error) { return nil, ethereum.NotFound }}
	l := newTestLedger(t, src, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := l.AwaitConfirmation(ctx, txHex)
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestReceipt(t *testing.T) {
	to := contract
	src := &fakeSource{
		receiptFn: func(common.Hash) (*types.Receipt, error) {
			return &types.Receipt{Status: types.ReceiptStatusSuccessful, BlockNumber: big.NewInt(5)}, nil
		},
		txFn: func(common.Hash) (*types.Transaction, bool, error) {
			return types.NewTx(&types.LegacyTx{To: &to}), false, nil
		},
	}
	l := newTestLedger(t, src, nil)

	r, err := l.Receipt(context.Background(), txHex)
	require.NoError(t, err)
	assert.True(t, r.Success)
	assert.Equal(t, contract.Hex(), r.To)
	assert.Equal(t, uint64(5), r.BlockNumber)

	src.receiptFn = func(common.Hash) (*types.Receipt, error) { return nil, ethereum.NotFound }
	r, err = l.Receipt(context.Background(), txHex)
	require.NoError(t, err)
	assert.Nil(t, r)
}

func TestSubmit(t *testing.T) {
	tx := types.NewTx(&types.LegacyTx{Nonce: 1, To: &contract})
	tr := &fakeTransactor{tx: tx}
	l := newTestLedger(t, &fakeSource{}, tr)

	c := Commitment(1, "1", "1", time.Now())
	id, err := l.Submit(context.Background(), c)
	require.NoError(t, err)
	assert.Equal(t, tx.Hash().Hex(), id)
	assert.Equal(t, []interface{}{c}, tr.got)

	tr.err = errors.New("execution reverted: already stored")
	_, err = l.Submit(context.Background(), c)
	assert.ErrorIs(t, err, ErrRejected)

	tr.err = errors.New("dial tcp: connection refused")
	_, err = l.Submit(context.Background(), c)
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestHealthCheckAndDisabled(t *testing.T) {
	l := newTestLedger(t, &fakeSource{blockErr: errors.New("down")}, nil)
	assert.ErrorIs(t, l.HealthCheck(context.Background()), ErrUnavailable)

	var d Disabled
	_, err := d.Submit(context.Background(), [32]byte{})
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.ErrorIs(t, d.HealthCheck(context.Background()), ErrUnavailable)
}
