package polymarket

// merge.go implements ports.MergeExecutor: on-chain CTF merge transactions
// that recombine a complete YES+NO pair into USDC collateral once both legs
// of a hedge fill, grounded on the `ploy pm ctf merge` on-chain flow.

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/shopspring/decimal"

	"github.com/alejandrodnm/coordinator-core/internal/domain"
)

const (
	usdcEAddress  = "0x2791Bca1f2de4661ED88A30C99A7a9449Aa84174"
	ctfAddress    = "0x4D97DCd97eC945f40cF65F87097ACe5EA0476045"
	negRiskCTFAdd = "0xC5d563A36AE78145C45a50134d48A1215220f80a"
)

var (
	mergePositionsABI abi.ABI
	approveABI        abi.ABI
)

func init() {
	var err error
	mergePositionsABI, err = abi.JSON(strings.NewReader(`[{
		"name":"mergePositions","type":"function",
		"inputs":[
			{"name":"collateralToken","type":"address"},
			{"name":"parentCollectionId","type":"bytes32"},
			{"name":"conditionId","type":"bytes32"},
			{"name":"partition","type":"uint256[]"},
			{"name":"amount","type":"uint256"}
		],
		"outputs":[]
	}]`))
	if err != nil {
		panic("mergePositions abi: " + err.Error())
	}

	approveABI, err = abi.JSON(strings.NewReader(`[{
		"name":"setApprovalForAll","type":"function",
		"inputs":[{"name":"operator","type":"address"},{"name":"approved","type":"bool"}],
		"outputs":[]
	}]`))
	if err != nil {
		panic("setApprovalForAll abi: " + err.Error())
	}
}

// Merger implements ports.MergeExecutor against the CTF contract.
type Merger struct {
	auth *AuthClient
	rpc  *ethclient.Client
}

// NewMerger builds a Merger sharing auth's signing key for on-chain txs.
func NewMerger(auth *AuthClient, rpcURL string) (*Merger, error) {
	rpc, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, fmt.Errorf("merger: dial rpc: %w", err)
	}
	return &Merger{auth: auth, rpc: rpc}, nil
}

// MergePositions submits a mergePositions transaction combining amount
// shares of the YES+NO pair under conditionID back into USDC collateral.
func (m *Merger) MergePositions(ctx context.Context, conditionID string, amount float64, negRisk bool) (domain.MergeResult, error) {
	condID, err := parseBytes32(conditionID)
	if err != nil {
		return domain.MergeResult{}, fmt.Errorf("merge: invalid condition id: %w", err)
	}

	amountRaw := new(big.Int).SetInt64(int64(amount * 1_000_000))
	partition := []*big.Int{big.NewInt(1), big.NewInt(2)} // binary market: outcome slots 1 and 2

	calldata, err := mergePositionsABI.Pack("mergePositions",
		common.HexToAddress(usdcEAddress),
		[32]byte{}, // parentCollectionId: zero for a root-level condition
		condID,
		partition,
		amountRaw,
	)
	if err != nil {
		return domain.MergeResult{}, fmt.Errorf("merge: pack calldata: %w", err)
	}

	contract := ctfAddress
	if negRisk {
		contract = negRiskCTFAdd
	}

	txHash, err := m.sendTx(ctx, contract, calldata)
	if err != nil {
		return domain.MergeResult{Success: false, Error: err.Error(), ConditionID: conditionID}, err
	}

	gasCostUSD, _ := m.EstimateGasCostUSD(ctx)
	received := decimal.NewFromFloat(amount)

	return domain.MergeResult{
		ConditionID: conditionID,
		TxHash:      txHash,
		GasCostUSD:  gasCostUSD,
		Received:    received,
		Success:     true,
		ExecutedAt:  time.Now().UTC(),
	}, nil
}

// EstimateGasCostUSD returns a rough USD estimate of one merge transaction's
// gas cost, used to gate whether a merge is still profitable.
func (m *Merger) EstimateGasCostUSD(ctx context.Context) (float64, error) {
	gasPrice, err := m.rpc.SuggestGasPrice(ctx)
	if err != nil {
		return 0, fmt.Errorf("estimate gas: suggest gas price: %w", err)
	}
	const mergeGasUnits = 150_000
	const maticUSD = 0.55 // coarse fallback; a live price feed would replace this
	costWei := new(big.Int).Mul(gasPrice, big.NewInt(mergeGasUnits))
	costMatic := new(big.Float).Quo(new(big.Float).SetInt(costWei), big.NewFloat(1e18))
	costUSD, _ := new(big.Float).Mul(costMatic, big.NewFloat(maticUSD)).Float64()
	return costUSD, nil
}

// EnsureApprovals grants the CTF exchange operator approval over the
// wallet's ERC-1155 conditional tokens, required once before any merge.
func (m *Merger) EnsureApprovals(ctx context.Context) error {
	calldata, err := approveABI.Pack("setApprovalForAll", common.HexToAddress(ctfAddress), true)
	if err != nil {
		return fmt.Errorf("ensure approvals: pack: %w", err)
	}
	_, err = m.sendTx(ctx, ctfAddress, calldata)
	return err
}

// sendTx signs and broadcasts a raw contract call, returning the tx hash.
func (m *Merger) sendTx(ctx context.Context, to string, calldata []byte) (string, error) {
	toAddr := common.HexToAddress(to)
	nonce, err := m.rpc.PendingNonceAt(ctx, m.auth.address)
	if err != nil {
		return "", fmt.Errorf("send tx: nonce: %w", err)
	}
	gasPrice, err := m.rpc.SuggestGasPrice(ctx)
	if err != nil {
		return "", fmt.Errorf("send tx: gas price: %w", err)
	}
	gasLimit, err := m.rpc.EstimateGas(ctx, ethereum.CallMsg{
		From: m.auth.address,
		To:   &toAddr,
		Data: calldata,
	})
	if err != nil {
		gasLimit = 300_000 // fallback when estimation itself reverts pre-flight
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &toAddr,
		Value:    big.NewInt(0),
		Gas:      gasLimit,
		GasPrice: gasPrice,
		Data:     calldata,
	})
	signer := types.NewEIP155Signer(big.NewInt(polygonChainID))
	signedTx, err := types.SignTx(tx, signer, m.auth.privateKey)
	if err != nil {
		return "", fmt.Errorf("send tx: sign: %w", err)
	}

	if err := m.rpc.SendTransaction(ctx, signedTx); err != nil {
		return "", fmt.Errorf("send tx: broadcast: %w", err)
	}
	return signedTx.Hash().Hex(), nil
}

func parseBytes32(s string) ([32]byte, error) {
	var out [32]byte
	s = strings.TrimPrefix(s, "0x")
	if len(s) != 64 {
		return out, fmt.Errorf("expected 32-byte hex string, got %d chars", len(s))
	}
	b := common.FromHex("0x" + s)
	copy(out[:], b)
	return out, nil
}
