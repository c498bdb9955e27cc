package chain

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/nspcc-dev/neo-go/pkg/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	tokenHash = "0xcd48b160c1bbc9d74997b803b9a7ad50a4bef020"
	payerHash = "0x1111111111111111111111111111111111111111"
	payeeHash = "0x2222222222222222222222222222222222222222"
	txHash    = "0xabababababababababababababababababababababababababababababababab"
)

func stateJSON(t *testing.T, from, to string, amount int64) json.RawMessage {
	t.Helper()
	enc := func(h string) string {
		u, err := ParseScriptHash(h)
		require.NoError(t, err)
		return base64.StdEncoding.EncodeToString(u.BytesBE())
	}
	return json.RawMessage(fmt.Sprintf(
		`{"type":"Array","value":[{"type":"ByteString","value":%q},{"type":"ByteString","value":%q},{"type":"Integer","value":"%d"}]}`,
		enc(from), enc(to), amount))
}

func TestNormalizeAddress(t *testing.T) {
	got, err := NormalizeAddress("0xAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA")
	require.NoError(t, err)
	assert.Equal(t, "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa", got)

	u, err := ParseScriptHash(payerHash)
	require.NoError(t, err)
	base58 := addressFromUint160(u)
	got, err = NormalizeAddress(base58)
	require.NoError(t, err)
	assert.Equal(t, payerHash, got)

	for _, bad := range []string{"", "0x1234", "not-an-address", "0xzz11111111111111111111111111111111111111"} {
		_, err := NormalizeAddress(bad)
		assert.ErrorIs(t, err, ErrInvalidAddress, bad)
	}
}

func TestNormalizeTxHash(t *testing.T) {
	got, err := NormalizeTxHash("0xABABABABABABABABABABABABABABABABABABABABABABABABABABABABABABABAB")
	require.NoError(t, err)
	assert.Equal(t, txHash, got)

	for _, bad := range []string{"", "abab", txHash[2:], txHash + "00", "0x" + string(make([]byte, 64))} {
		_, err := NormalizeTxHash(bad)
		assert.ErrorIs(t, err, ErrInvalidTxHash)
	}
}

func TestDecodeTransfer(t *testing.T) {
	n := Notification{Contract: tokenHash, EventName: TransferEvent, State: stateJSON(t, payerHash, payeeHash, 7_000_000)}
	tr, err := DecodeTransfer(n)
	require.NoError(t, err)
	require.NotNil(t, tr.From)
	require.NotNil(t, tr.To)
	assert.Equal(t, payerHash, FormatScriptHash(*tr.From))
	assert.Equal(t, payeeHash, FormatScriptHash(*tr.To))
	assert.Equal(t, 0, tr.Amount.Cmp(big.NewInt(7_000_000)))
}

func TestDecodeTransferMint(t *testing.T) {
	u, _ := ParseScriptHash(payeeHash)
	state := fmt.Sprintf(`{"type":"Array","value":[{"type":"Any"},{"type":"ByteString","value":%q},{"type":"Integer","value":"5"}]}`,
		base64.StdEncoding.EncodeToString(u.BytesBE()))
	tr, err := DecodeTransfer(Notification{Contract: tokenHash, EventName: TransferEvent, State: json.RawMessage(state)})
	require.NoError(t, err)
	assert.Nil(t, tr.From)
	require.NotNil(t, tr.To)
}

func TestDecodeTransferMalformed(t *testing.T) {
	_, err := DecodeTransfer(Notification{Contract: tokenHash, State: json.RawMessage(`{"type":"Array","value":[]}`)})
	assert.Error(t, err)
	_, err = DecodeTransfer(Notification{Contract: "0x12", State: stateJSON(t, payerHash, payeeHash, 1)})
	assert.Error(t, err)
}

func TestApplicationLogTransfersFiltersByToken(t *testing.T) {
	token, err := ParseScriptHash(tokenHash)
	require.NoError(t, err)
	log := &ApplicationLog{
		TxID: txHash,
		Executions: []Execution{{
			Trigger: TriggerApplication,
			VMState: VMStateHalt,
			Notifications: []Notification{
				{Contract: tokenHash, EventName: TransferEvent, State: stateJSON(t, payerHash, payeeHash, 1)},
				{Contract: "0x" + util.Uint160{1}.StringLE(), EventName: TransferEvent, State: stateJSON(t, payerHash, payeeHash, 2)},
				{Contract: tokenHash, EventName: "Approval", State: stateJSON(t, payerHash, payeeHash, 3)},
			},
		}},
	}
	assert.True(t, log.Succeeded())
	transfers := log.Transfers(token)
	require.Len(t, transfers, 1)
	assert.Equal(t, int64(1), transfers[0].Amount.Int64())
}

func TestApplicationLogSucceeded(t *testing.T) {
	assert.False(t, (&ApplicationLog{}).Succeeded())
	assert.False(t, (&ApplicationLog{Executions: []Execution{{Trigger: TriggerApplication, VMState: "FAULT"}}}).Succeeded())
	assert.False(t, (&ApplicationLog{Executions: []Execution{{Trigger: "Verification", VMState: VMStateHalt}}}).Succeeded())
}

func newRPCServer(t *testing.T, handler func(req RPCRequest) (any, *RPCError)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var req RPCRequest
		require.NoError(t, json.Unmarshal(body, &req))
		result, rpcErr := handler(req)
		resp := map[string]any{"jsonrpc": "2.0", "id": req.ID}
		if rpcErr != nil {
			resp["error"] = rpcErr
		} else {
			resp["result"] = result
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestClientGetApplicationLog(t *testing.T) {
	state := stateJSON(t, payerHash, payeeHash, 25_000_000)
	srv := newRPCServer(t, func(req RPCRequest) (any, *RPCError) {
		assert.Equal(t, "getapplicationlog", req.Method)
		require.Len(t, req.Params, 1)
		assert.Equal(t, txHash, req.Params[0])
		return map[string]any{
			"txid": txHash,
			"executions": []any{map[string]any{
				"trigger":     "Application",
				"vmstate":     "HALT",
				"gasconsumed": "9977780",
				"notifications": []any{map[string]any{
					"contract":  tokenHash,
					"eventname": "Transfer",
					"state":     state,
				}},
			}},
		}, nil
	})

	client, err := NewClient(Config{RPCURL: srv.URL, Timeout: time.Second})
	require.NoError(t, err)

	log, err := client.GetApplicationLog(context.Background(), txHash)
	require.NoError(t, err)
	assert.True(t, log.Succeeded())
	token, _ := ParseScriptHash(tokenHash)
	transfers := log.Transfers(token)
	require.Len(t, transfers, 1)
	assert.Equal(t, int64(25_000_000), transfers[0].Amount.Int64())
}

func TestClientNotFound(t *testing.T) {
	srv := newRPCServer(t, func(req RPCRequest) (any, *RPCError) {
		return nil, &RPCError{Code: -103, Message: "Unknown transaction"}
	})
	client, err := NewClient(Config{RPCURL: srv.URL})
	require.NoError(t, err)

	_, err = client.GetApplicationLog(context.Background(), txHash)
	assert.ErrorIs(t, err, ErrTransactionNotFound)
	assert.False(t, IsTransient(err))
}

func TestClientTransientFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	client, err := NewClient(Config{RPCURL: srv.URL})
	require.NoError(t, err)
	_, err = client.GetApplicationLog(context.Background(), txHash)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrTransactionNotFound)
	assert.True(t, IsTransient(err))

	closed := httptest.NewServer(http.NotFoundHandler())
	closed.Close()
	client, err = NewClient(Config{RPCURL: closed.URL})
	require.NoError(t, err)
	_, err = client.GetApplicationLog(context.Background(), txHash)
	require.Error(t, err)
	assert.True(t, IsTransient(err))
}

func TestClientRequiresURL(t *testing.T) {
	_, err := NewClient(Config{})
	assert.Error(t, err)
}

func TestIsTransientRPCErrors(t *testing.T) {
	assert.False(t, IsTransient(nil))
	assert.False(t, IsTransient(&RPCError{Code: -32602, Message: "Invalid params"}))
	assert.True(t, IsTransient(&RPCError{Code: -32603, Message: "Internal error"}))
	assert.True(t, IsTransient(context.DeadlineExceeded))
}
