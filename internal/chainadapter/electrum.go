package chainadapter

import (
	"bufio"
	"context"
	"crypto/sha256"
	"crypto/tls"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/bech32"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
)

// ErrElectrumNotConnected is returned when a call is attempted before
// electrumClient.Connect has succeeded.
var ErrElectrumNotConnected = errors.New("electrum: not connected")

// electrumUTXO is an unspent output returned by blockchain.scripthash.listunspent.
type electrumUTXO struct {
	TxID        string
	Vout        uint32
	Value       uint64
	BlockHeight int64
}

// electrumHistoryEntry is one entry of blockchain.scripthash.get_history.
type electrumHistoryEntry struct {
	TxID   string
	Height int64
}

// electrumClient is a minimal Electrum (electrs/ElectrumX) JSON-RPC client
// over a raw newline-delimited TCP/TLS socket. It is the UTXO adapter's
// sole transport for reading chain state and broadcasting transactions;
// nothing in this stack talks to a full node's RPC port directly.
type electrumClient struct {
	servers   []string
	useTLS    bool
	params    *chaincfg.Params
	conn      net.Conn
	reader    *bufio.Reader
	mu        sync.Mutex
	connected bool
	requestID atomic.Uint64
	timeout   time.Duration
}

func newElectrumClient(servers []string, useTLS bool, params *chaincfg.Params) *electrumClient {
	return &electrumClient{
		servers: servers,
		useTLS:  useTLS,
		params:  params,
		timeout: 30 * time.Second,
	}
}

func (e *electrumClient) Connect(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.connected {
		return nil
	}

	var lastErr error
	for _, server := range e.servers {
		dialer := &net.Dialer{Timeout: e.timeout}

		var conn net.Conn
		var err error
		if e.useTLS {
			conn, err = tls.DialWithDialer(dialer, "tcp", server, &tls.Config{MinVersion: tls.VersionTLS12})
		} else {
			conn, err = dialer.DialContext(ctx, "tcp", server)
		}
		if err != nil {
			lastErr = err
			continue
		}

		e.conn = conn
		e.reader = bufio.NewReader(conn)

		if _, err := e.call("server.version", []interface{}{"fusion-swap-coordinator", "1.4"}); err != nil {
			conn.Close()
			e.conn = nil
			lastErr = err
			continue
		}

		e.connected = true
		return nil
	}

	return fmt.Errorf("%w: %v", ErrElectrumNotConnected, lastErr)
}

func (e *electrumClient) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.conn != nil {
		e.conn.Close()
		e.conn = nil
	}
	e.connected = false
	return nil
}

func (e *electrumClient) GetAddressUTXOs(address string) ([]electrumUTXO, error) {
	scriptHash, err := addressToScriptHash(address, e.params)
	if err != nil {
		return nil, err
	}

	result, err := e.call("blockchain.scripthash.listunspent", []interface{}{scriptHash})
	if err != nil {
		return nil, err
	}
	list, ok := result.([]interface{})
	if !ok {
		return nil, fmt.Errorf("electrum: unexpected listunspent response")
	}

	utxos := make([]electrumUTXO, 0, len(list))
	for _, u := range list {
		m, ok := u.(map[string]interface{})
		if !ok {
			continue
		}
		height := int64(0)
		if h, ok := m["height"].(float64); ok {
			height = int64(h)
		}
		utxos = append(utxos, electrumUTXO{
			TxID:        m["tx_hash"].(string),
			Vout:        uint32(m["tx_pos"].(float64)),
			Value:       uint64(m["value"].(float64)),
			BlockHeight: height,
		})
	}
	return utxos, nil
}

func (e *electrumClient) GetScriptHashHistory(address string) ([]electrumHistoryEntry, error) {
	scriptHash, err := addressToScriptHash(address, e.params)
	if err != nil {
		return nil, err
	}

	result, err := e.call("blockchain.scripthash.get_history", []interface{}{scriptHash})
	if err != nil {
		return nil, err
	}
	list, ok := result.([]interface{})
	if !ok {
		return nil, fmt.Errorf("electrum: unexpected get_history response")
	}

	entries := make([]electrumHistoryEntry, 0, len(list))
	for _, h := range list {
		m, ok := h.(map[string]interface{})
		if !ok {
			continue
		}
		height := int64(0)
		if ht, ok := m["height"].(float64); ok {
			height = int64(ht)
		}
		entries = append(entries, electrumHistoryEntry{TxID: m["tx_hash"].(string), Height: height})
	}
	return entries, nil
}

// GetTransactionHex returns the raw transaction hex for a txid.
func (e *electrumClient) GetTransactionHex(txID string) (string, error) {
	result, err := e.call("blockchain.transaction.get", []interface{}{txID, false})
	if err != nil {
		return "", err
	}
	hexStr, ok := result.(string)
	if !ok {
		return "", fmt.Errorf("electrum: unexpected raw transaction response")
	}
	return hexStr, nil
}

// GetTransactionVerbose returns decoded transaction fields including
// confirmations and blocktime.
func (e *electrumClient) GetTransactionVerbose(txID string) (map[string]interface{}, error) {
	result, err := e.call("blockchain.transaction.get", []interface{}{txID, true})
	if err != nil {
		return nil, err
	}
	m, ok := result.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("electrum: unexpected transaction response")
	}
	return m, nil
}

func (e *electrumClient) BroadcastTransaction(rawTxHex string) (string, error) {
	result, err := e.call("blockchain.transaction.broadcast", []interface{}{rawTxHex})
	if err != nil {
		return "", fmt.Errorf("electrum broadcast: %w", err)
	}
	txID, ok := result.(string)
	if !ok {
		return "", fmt.Errorf("electrum: unexpected broadcast response")
	}
	return txID, nil
}

func (e *electrumClient) GetBlockHeight() (int64, error) {
	result, err := e.call("blockchain.headers.subscribe", []interface{}{})
	if err != nil {
		return 0, err
	}
	m, ok := result.(map[string]interface{})
	if !ok {
		return 0, fmt.Errorf("electrum: unexpected headers response")
	}
	height, ok := m["height"].(float64)
	if !ok {
		return 0, fmt.Errorf("electrum: height missing from headers response")
	}
	return int64(height), nil
}

// EstimateFeeRate returns the fee rate, in sat/vB, electrum suggests for
// confirmation within targetBlocks.
func (e *electrumClient) EstimateFeeRate(targetBlocks int) (uint64, error) {
	result, err := e.call("blockchain.estimatefee", []interface{}{targetBlocks})
	if err != nil {
		return 0, err
	}
	btcPerKB, ok := result.(float64)
	if !ok || btcPerKB <= 0 {
		return 1, nil
	}
	return uint64(btcPerKB * 1e8 / 1000), nil
}

// call issues one Electrum JSON-RPC request and waits for its response.
// The protocol is a raw newline-delimited JSON stream, not HTTP.
func (e *electrumClient) call(method string, params []interface{}) (interface{}, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.connected || e.conn == nil {
		return nil, ErrElectrumNotConnected
	}

	id := e.requestID.Add(1)
	request := map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      id,
		"method":  method,
		"params":  params,
	}

	data, err := json.Marshal(request)
	if err != nil {
		return nil, err
	}

	e.conn.SetDeadline(time.Now().Add(e.timeout))

	if _, err := e.conn.Write(append(data, '\n')); err != nil {
		e.connected = false
		return nil, err
	}

	line, err := e.reader.ReadBytes('\n')
	if err != nil {
		e.connected = false
		return nil, err
	}

	var response struct {
		Result interface{} `json:"result"`
		Error  *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(line, &response); err != nil {
		return nil, err
	}
	if response.Error != nil {
		return nil, fmt.Errorf("electrum error %d: %s", response.Error.Code, response.Error.Message)
	}
	return response.Result, nil
}

// addressToScriptHash converts an address to Electrum's scripthash key:
// the reversed SHA256 of the address's scriptPubKey.
func addressToScriptHash(address string, params *chaincfg.Params) (string, error) {
	pkScript, err := addressToScriptPubKey(address, params)
	if err != nil {
		return "", err
	}
	hash := sha256.Sum256(pkScript)
	reversed := reverseBytes(hash[:])
	return hex.EncodeToString(reversed), nil
}

func addressToScriptPubKey(address string, params *chaincfg.Params) ([]byte, error) {
	if strings.Contains(address, "1q") || strings.Contains(address, "1p") {
		_, data, err := bech32.Decode(address)
		if err == nil && len(data) > 0 {
			witnessVersion := data[0]
			witnessProgram, err := bech32.ConvertBits(data[1:], 5, 8, false)
			if err == nil {
				return buildWitnessScriptPubKey(witnessVersion, witnessProgram)
			}
		}
	}

	decoded, err := btcutil.DecodeAddress(address, params)
	if err != nil {
		return nil, fmt.Errorf("decode address: %w", err)
	}
	script, err := txscript.PayToAddrScript(decoded)
	if err != nil {
		return nil, fmt.Errorf("build scriptPubKey: %w", err)
	}
	return script, nil
}

func buildWitnessScriptPubKey(version byte, program []byte) ([]byte, error) {
	if version > 16 {
		return nil, fmt.Errorf("invalid witness version: %d", version)
	}
	opVersion := byte(0x00)
	if version != 0 {
		opVersion = 0x50 + version
	}
	script := make([]byte, 2+len(program))
	script[0] = opVersion
	script[1] = byte(len(program))
	copy(script[2:], program)
	return script, nil
}

func reverseBytes(b []byte) []byte {
	out := make([]byte, len(b))
	for i, v := range b {
		out[len(b)-1-i] = v
	}
	return out
}

