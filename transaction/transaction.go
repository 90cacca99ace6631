// transaction package implements SIP Transaction Layer
package transaction

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/nexsip/sipua/sip"
)

const TxSeperator = "__"

// Timer_1xx and Timer_D's 32s floor are fixed by RFC 3261 17.1.1.2/17.2.1
// regardless of T1/T2/T4; every other timer below is derived from them and
// recomputed by SetTimers/Configure.
var (
	T1        time.Duration
	T2        time.Duration
	T4        time.Duration
	Timer_A   time.Duration
	Timer_B   time.Duration
	Timer_D   time.Duration
	Timer_E   time.Duration
	Timer_F   time.Duration
	Timer_G   time.Duration
	Timer_H   time.Duration
	Timer_I   time.Duration
	Timer_J   time.Duration
	Timer_K   time.Duration
	Timer_1xx time.Duration
	Timer_L   time.Duration
	Timer_M   time.Duration
)

func init() {
	SetTimers(500*time.Millisecond, 4*time.Second, 5*time.Second)
}

// Config carries the configurable RFC 3261 17 timer base values (§6:
// T1/T2/T4). Zero fields fall back to the RFC defaults.
type Config struct {
	T1 time.Duration
	T2 time.Duration
	T4 time.Duration
}

func (c Config) withDefaults() Config {
	if c.T1 <= 0 {
		c.T1 = 500 * time.Millisecond
	}
	if c.T2 <= 0 {
		c.T2 = 4 * time.Second
	}
	if c.T4 <= 0 {
		c.T4 = 5 * time.Second
	}
	return c
}

// SetTimers recomputes every derived transaction timer from the RFC 3261
// 17 base values T1/T2/T4. It mirrors sip.SetTimers; the transaction
// package keeps its own copies because its FSMs are built against
// package-level vars rather than a threaded-through config.
func SetTimers(t1, t2, t4 time.Duration) {
	T1 = t1
	T2 = t2
	T4 = t4
	Timer_A = T1
	Timer_B = 64 * T1
	Timer_D = 32 * time.Second
	Timer_E = T1
	Timer_F = 64 * T1
	Timer_G = T1
	Timer_H = 64 * T1
	Timer_I = T4
	Timer_J = 64 * T1
	Timer_K = T4
	Timer_1xx = 200 * time.Millisecond
	Timer_L = 64 * T1
	Timer_M = 64 * T1
}

// Configure applies cfg's T1/T2/T4 (defaulting unset fields to RFC 3261
// values) to the package-level transaction timers.
func Configure(cfg Config) {
	cfg = cfg.withDefaults()
	SetTimers(cfg.T1, cfg.T2, cfg.T4)
}

var (
	// Transaction Layer Errors can be detected and handled with different response on caller side
	// https://www.rfc-editor.org/rfc/rfc3261#section-8.1.3.1
	ErrTimeout   = errors.New("transaction timeout")
	ErrTransport = errors.New("transaction transport error")
)

func wrapTransportError(err error) error {
	return fmt.Errorf("%s. %w", err.Error(), ErrTransport)
}

func wrapTimeoutError(err error) error {
	return fmt.Errorf("%s. %w", err.Error(), ErrTimeout)
}

type FnTxTerminate func(key string)

// MakeServerTxKey creates server key for matching retransmitting requests - RFC 3261 17.2.3.
func MakeServerTxKey(msg sip.Message) (string, error) {
	firstViaHop, ok := msg.Via()
	if !ok {
		return "", fmt.Errorf("'Via' header not found or empty in message '%s'", sip.MessageShortString(msg))
	}

	cseq, ok := msg.CSeq()
	if !ok {
		return "", fmt.Errorf("'CSeq' header not found in message '%s'", sip.MessageShortString(msg))
	}
	method := cseq.MethodName
	if method == sip.ACK || method == sip.CANCEL {
		method = sip.INVITE
	}

	var isRFC3261 bool
	branch, ok := firstViaHop.Params.Get("branch")
	if ok && branch != "" &&
		strings.HasPrefix(branch, sip.RFC3261BranchMagicCookie) &&
		strings.TrimPrefix(branch, sip.RFC3261BranchMagicCookie) != "" {

		isRFC3261 = true
	} else {
		isRFC3261 = false
	}

	var builder strings.Builder
	// RFC 3261 compliant
	if isRFC3261 {
		var port int

		if firstViaHop.Port <= 0 {
			port = int(sip.DefaultPort(firstViaHop.Transport))
		} else {
			port = firstViaHop.Port
		}

		// abuilder.Grow(len(branch) + len(firstViaHop.Host) + len(TxSeperator))
		builder.WriteString(branch)
		builder.WriteString(TxSeperator)
		builder.WriteString(firstViaHop.Host)
		builder.WriteString(TxSeperator)
		builder.WriteString(strconv.Itoa(port))
		builder.WriteString(TxSeperator)
		builder.WriteString(string(method))

		return builder.String(), nil
	}
	// RFC 2543 compliant
	from, ok := msg.From()
	if !ok {
		return "", fmt.Errorf("'From' header not found in message '%s'", sip.MessageShortString(msg))
	}
	fromTag, ok := from.Params.Get("tag")
	if !ok {
		return "", fmt.Errorf("'tag' param not found in 'From' header of message '%s'", sip.MessageShortString(msg))
	}
	callId, ok := msg.CallID()
	if !ok {
		return "", fmt.Errorf("'Call-ID' header not found in message '%s'", sip.MessageShortString(msg))
	}

	builder.WriteString(fromTag)
	builder.WriteString(TxSeperator)
	callId.StringWrite(&builder)
	builder.WriteString(TxSeperator)
	builder.WriteString(string(method))
	builder.WriteString(TxSeperator)
	builder.WriteString(strconv.Itoa(int(cseq.SeqNo)))
	builder.WriteString(TxSeperator)
	firstViaHop.StringWrite(&builder)
	builder.WriteString(TxSeperator)

	return builder.String(), nil
}

// MakeClientTxKey creates client key for matching responses - RFC 3261 17.1.3.
func MakeClientTxKey(msg sip.Message) (string, error) {
	cseq, ok := msg.CSeq()
	if !ok {
		return "", fmt.Errorf("'CSeq' header not found in message '%s'", sip.MessageShortString(msg))
	}
	method := cseq.MethodName
	if method == sip.ACK || method == sip.CANCEL {
		method = sip.INVITE
	}

	firstViaHop, ok := msg.Via()
	if !ok {
		return "", fmt.Errorf("'Via' header not found or empty in message '%s'", sip.MessageShortString(msg))
	}

	branch, ok := firstViaHop.Params.Get("branch")
	if !ok || len(branch) == 0 ||
		!strings.HasPrefix(branch, sip.RFC3261BranchMagicCookie) ||
		len(strings.TrimPrefix(branch, sip.RFC3261BranchMagicCookie)) == 0 {
		return "", fmt.Errorf("'branch' not found or empty in 'Via' header of message '%s'", sip.MessageShortString(msg))
	}

	var builder strings.Builder
	builder.Grow(len(branch) + len(method) + len(TxSeperator))
	builder.WriteString(branch)
	builder.WriteString(TxSeperator)
	builder.WriteString(string(method))
	return builder.String(), nil
}

type transactionStore struct {
	transactions map[string]sip.Transaction
	mu           sync.RWMutex
}

func newTransactionStore() *transactionStore {
	return &transactionStore{
		transactions: make(map[string]sip.Transaction),
	}
}

func (store *transactionStore) put(key string, tx sip.Transaction) {
	store.mu.Lock()
	defer store.mu.Unlock()
	store.transactions[key] = tx
}

func (store *transactionStore) get(key string) (sip.Transaction, bool) {
	store.mu.RLock()
	defer store.mu.RUnlock()
	tx, ok := store.transactions[key]
	return tx, ok
}

func (store *transactionStore) drop(key string) bool {
	store.mu.Lock()
	defer store.mu.Unlock()
	_, exists := store.transactions[key]
	delete(store.transactions, key)
	return exists
}

func (store *transactionStore) all() []sip.Transaction {
	all := make([]sip.Transaction, 0)
	store.mu.RLock()
	defer store.mu.RUnlock()
	for _, tx := range store.transactions {
		all = append(all, tx)
	}

	return all
}
