package clients

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func selector(signature string) []byte {
	return crypto.Keccak256([]byte(signature))[:4]
}

func TestTokenBridgeABISelectors(t *testing.T) {
	assert.Equal(t, selector("transferTokens(address,uint256,uint16,bytes32,uint256,uint32)"), tokenBridgeABI.Methods["transferTokens"].ID)
	assert.Equal(t, selector("completeTransfer(bytes)"), tokenBridgeABI.Methods["completeTransfer"].ID)
	assert.Equal(t, selector("isTransferCompleted(bytes32)"), tokenBridgeABI.Methods["isTransferCompleted"].ID)
	assert.Equal(t, selector("attestToken(address,uint32)"), tokenBridgeABI.Methods["attestToken"].ID)
	assert.Equal(t, selector("createWrapped(bytes)"), tokenBridgeABI.Methods["createWrapped"].ID)
	assert.Equal(t, selector("wrappedAsset(uint16,bytes32)"), tokenBridgeABI.Methods["wrappedAsset"].ID)
	assert.Equal(t, selector("messageFee()"), coreBridgeABI.Methods["messageFee"].ID)
	assert.Equal(t, selector("approve(address,uint256)"), erc20ABI.Methods["approve"].ID)
}

// ethCallServer answers eth_call with result and records the call data.
func ethCallServer(t *testing.T, result string, calls *[]string) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID     json.RawMessage   `json:"id"`
			Method string            `json:"method"`
			Params []json.RawMessage `json:"params"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "eth_call", req.Method)

		var msg struct {
			To    string `json:"to"`
			Input string `json:"input"`
			Data  string `json:"data"`
		}
		require.NoError(t, json.Unmarshal(req.Params[0], &msg))
		input := msg.Input
		if input == "" {
			input = msg.Data
		}
		*calls = append(*calls, strings.ToLower(msg.To)+":"+input)

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"jsonrpc": "2.0", "id": req.ID, "result": result})
	}))
}

var testEVMCoreBridge = common.HexToAddress("0x706abc4E45D419950511e474C7B9Ed348A4a716c")

func newTestEVMClient(t *testing.T, url string, tokenBridge common.Address) *EVMClient {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	c, err := NewEVMClient(zap.NewNop(), url, hex.EncodeToString(crypto.FromECDSA(key)), testEVMCoreBridge, tokenBridge)
	require.NoError(t, err)
	assert.Equal(t, crypto.PubkeyToAddress(key.PublicKey), c.GetAddress())
	return c
}

func TestEVMClientIsTransferCompleted(t *testing.T) {
	tokenBridge := common.HexToAddress("0xDB5492265f6038831E89f495670FF909aDe94bd9")
	digest := common.HexToHash("0x0102")

	for _, tc := range []struct {
		result string
		want   bool
	}{
		{result: "0x" + strings.Repeat("0", 63) + "1", want: true},
		{result: "0x" + strings.Repeat("0", 64), want: false},
	} {
		var calls []string
		srv := ethCallServer(t, tc.result, &calls)

		c := newTestEVMClient(t, srv.URL, tokenBridge)
		completed, err := c.IsTransferCompleted(context.Background(), digest)
		srv.Close()

		require.NoError(t, err)
		assert.Equal(t, tc.want, completed)

		require.Len(t, calls, 1)
		expected := strings.ToLower(tokenBridge.Hex()) + ":0x" +
			hex.EncodeToString(selector("isTransferCompleted(bytes32)")) +
			hex.EncodeToString(digest.Bytes())
		assert.Equal(t, expected, calls[0])
	}
}

func TestNewEVMClientRejectsBadKey(t *testing.T) {
	_, err := NewEVMClient(zap.NewNop(), "http://127.0.0.1:0", "0xnothex", common.Address{}, common.Address{})
	assert.Error(t, err)
}

func TestEVMClientWrappedAsset(t *testing.T) {
	tokenBridge := common.HexToAddress("0xDB5492265f6038831E89f495670FF909aDe94bd9")
	wrapped := common.HexToAddress("0x1111111111111111111111111111111111111111")

	var calls []string
	srv := ethCallServer(t, "0x"+hex.EncodeToString(common.LeftPadBytes(wrapped.Bytes(), 32)), &calls)
	defer srv.Close()

	var origin [32]byte
	origin[31] = 0x42

	c := newTestEVMClient(t, srv.URL, tokenBridge)
	got, err := c.WrappedAsset(context.Background(), 1, origin)
	require.NoError(t, err)
	assert.Equal(t, wrapped, got)

	require.Len(t, calls, 1)
	chainWord := make([]byte, 32)
	chainWord[31] = 1
	expected := strings.ToLower(tokenBridge.Hex()) + ":0x" +
		hex.EncodeToString(selector("wrappedAsset(uint16,bytes32)")) +
		hex.EncodeToString(chainWord) +
		hex.EncodeToString(origin[:])
	assert.Equal(t, expected, calls[0])
}

func TestEVMClientMessageFeeQueriesCoreBridge(t *testing.T) {
	var calls []string
	srv := ethCallServer(t, "0x"+strings.Repeat("0", 62)+"64", &calls)
	defer srv.Close()

	c := newTestEVMClient(t, srv.URL, common.HexToAddress("0xDB5492265f6038831E89f495670FF909aDe94bd9"))
	fee, err := c.MessageFee(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(100), fee.Int64())

	require.Len(t, calls, 1)
	assert.Equal(t, strings.ToLower(testEVMCoreBridge.Hex())+":0x"+hex.EncodeToString(selector("messageFee()")), calls[0])
}
