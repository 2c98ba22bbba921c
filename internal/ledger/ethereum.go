package ledger

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"

	"civic-shield/internal/config"
)

const storeVoteABI = `[{"inputs":[{"internalType":"bytes32","name":"voteHash","type":"bytes32"}],"name":"storeVote","outputs":[],"stateMutability":"nonpayable","type":"function"}]`

// receiptSource is the read side of the RPC client.
type receiptSource interface {
	TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error)
	TransactionByHash(ctx context.Context, hash common.Hash) (*types.Transaction, bool, error)
	BlockNumber(ctx context.Context) (uint64, error)
}

type transactor interface {
	Transact(opts *bind.TransactOpts, method string, params ...interface{}) (*types.Transaction, error)
}

// EthereumLedger talks JSON-RPC to a contract exposing storeVote(bytes32).
type EthereumLedger struct {
	client       *ethclient.Client
	source       receiptSource
	contract     transactor
	address      common.Address
	auth         *bind.TransactOpts
	pollInterval time.Duration
	logger       *zap.Logger

	// Transactions from one key must not race on nonce assignment.
	mu sync.Mutex
}

func NewEthereumLedger(ctx context.Context, cfg config.LedgerConfig, logger *zap.Logger) (*EthereumLedger, error) {
	if !common.IsHexAddress(cfg.ContractAddress) {
		return nil, fmt.Errorf("invalid contract address %q", cfg.ContractAddress)
	}

	key, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.PrivateKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("failed to parse ledger private key: %w", err)
	}

	client, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to dial %s: %v", ErrUnavailable, cfg.RPCURL, err)
	}

	chainID := big.NewInt(cfg.ChainID)
	if cfg.ChainID <= 0 {
		if chainID, err = client.ChainID(ctx); err != nil {
			client.Close()
			return nil, fmt.Errorf("%w: failed to read chain id: %v", ErrUnavailable, err)
		}
	}

	auth, err := bind.NewKeyedTransactorWithChainID(key, chainID)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to build transactor: %w", err)
	}
	auth.GasLimit = cfg.GasLimit

	parsed, err := abi.JSON(strings.NewReader(storeVoteABI))
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to parse contract ABI: %w", err)
	}

	address := common.HexToAddress(cfg.ContractAddress)
	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = time.Second
	}

	logger.Info("Ledger client initialized",
		zap.String("rpc_url", cfg.RPCURL),
		zap.String("contract", address.Hex()),
		zap.String("sender", senderAddress(key).Hex()),
		zap.String("chain_id", chainID.String()))

	return &EthereumLedger{
		client:       client,
		source:       client,
		contract:     bind.NewBoundContract(address, parsed, client, client, client),
		address:      address,
		auth:         auth,
		pollInterval: pollInterval,
		logger:       logger,
	}, nil
}

func senderAddress(key *ecdsa.PrivateKey) common.Address {
	return crypto.PubkeyToAddress(key.PublicKey)
}

func (l *EthereumLedger) ContractAddress() string {
	return l.address.Hex()
}

func (l *EthereumLedger) HealthCheck(ctx context.Context) error {
	if _, err := l.source.BlockNumber(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Submit sends storeVote(commitment) and returns the transaction hash.
func (l *EthereumLedger) Submit(ctx context.Context, commitment [32]byte) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	opts := *l.auth
	opts.Context = ctx

	tx, err := l.contract.Transact(&opts, "storeVote", commitment)
	if err != nil {
		l.logger.Error("Ledger submission failed", zap.Error(err))
		return "", classifySubmit(err)
	}

	l.logger.Info("Commitment submitted",
		zap.String("tx_id", tx.Hash().Hex()),
		zap.String("commitment", CommitmentHex(commitment)))
	return tx.Hash().Hex(), nil
}

// classifySubmit treats reverts and nonce/funds failures as rejections and
// everything else as the ledger being unreachable.
func classifySubmit(err error) error {
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"execution reverted", "insufficient funds", "nonce too low", "intrinsic gas", "gas required exceeds"} {
		if strings.Contains(msg, marker) {
			return fmt.Errorf("%w: %v", ErrRejected, err)
		}
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}

// AwaitConfirmation polls for the receipt until it is mined or ctx ends. A
// mined but failed transaction returns the confirmation with ErrRejected.
func (l *EthereumLedger) AwaitConfirmation(ctx context.Context, txID string) (*Confirmation, error) {
	hash, err := ParseTxID(txID)
	if err != nil {
		return nil, err
	}

	ticker := time.NewTicker(l.pollInterval)
	defer ticker.Stop()

	for {
		receipt, err := l.source.TransactionReceipt(ctx, hash)
		switch {
		case err == nil:
			conf := &Confirmation{
				TxID:        hash.Hex(),
				BlockNumber: receipt.BlockNumber.Uint64(),
				Success:     receipt.Status == types.ReceiptStatusSuccessful,
			}
			if !conf.Success {
				return conf, fmt.Errorf("%w: transaction %s reverted in block %d", ErrRejected, conf.TxID, conf.BlockNumber)
			}
			return conf, nil
		case errors.Is(err, ethereum.NotFound):
		default:
			l.logger.Warn("Receipt poll failed", zap.String("tx_id", hash.Hex()), zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: waiting for %s: %v", ErrUnavailable, hash.Hex(), ctx.Err())
		case <-ticker.C:
		}
	}
}

// Receipt returns nil without error when the ledger has no such transaction.
func (l *EthereumLedger) Receipt(ctx context.Context, txID string) (*Receipt, error) {
	hash, err := ParseTxID(txID)
	if err != nil {
		return nil, err
	}

	receipt, err := l.source.TransactionReceipt(ctx, hash)
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	out := &Receipt{
		TxID:        hash.Hex(),
		BlockNumber: receipt.BlockNumber.Uint64(),
		Success:     receipt.Status == types.ReceiptStatusSuccessful,
	}

	tx, _, err := l.source.TransactionByHash(ctx, hash)
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return out, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if to := tx.To(); to != nil {
		out.To = to.Hex()
	}
	return out, nil
}

func (l *EthereumLedger) Close() {
	if l.client != nil {
		l.client.Close()
	}
}
