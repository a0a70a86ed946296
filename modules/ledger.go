package modules

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	dbm "github.com/tendermint/tm-db"

	"github.com/spire-labs/poc-monorepo/crypto"
	"github.com/spire-labs/poc-monorepo/messages"
)

var (
	noncePrefix   = []byte("nonce/")
	balancePrefix = []byte("balance/")
	tickerPrefix  = []byte("ticker/")
)

// AccountKey is the persisted form of an address: lower-case 0x hex.
func AccountKey(addr common.Address) string {
	return strings.ToLower(addr.Hex())
}

func nonceKey(addr common.Address) []byte {
	return append(append([]byte{}, noncePrefix...), AccountKey(addr)...)
}

// Addresses have a fixed width so the ticker can follow without a separator
// ambiguity.
func balanceKey(ticker string, addr common.Address) []byte {
	key := append(append([]byte{}, balancePrefix...), AccountKey(addr)...)
	return append(append(key, '/'), ticker...)
}

func tickerKey(ticker string) []byte {
	return append(append([]byte{}, tickerPrefix...), ticker...)
}

// Ledger is the token state of one appchain: per-account nonces, per-ticker
// balances and the set of minted tickers. Every mutation validates and
// writes under one lock and lands in a single batch.
type Ledger struct {
	mu sync.Mutex
	db dbm.DB
}

func NewLedger(db dbm.DB) *Ledger {
	return &Ledger{db: db}
}

func (l *Ledger) Nonce(addr common.Address) (uint32, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return newStage(l.db).nonce(addr)
}

func (l *Ledger) Balance(ticker string, addr common.Address) (uint16, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return newStage(l.db).balance(ticker, addr)
}

func (l *Ledger) Initialized(ticker string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return newStage(l.db).initialized(ticker)
}

// CheckValidity reports whether content could be applied right now.
func (l *Ledger) CheckValidity(content messages.TransactionContent) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return newStage(l.db).check(content)
}

// Apply executes already authenticated content.
func (l *Ledger) Apply(content messages.TransactionContent) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	st := newStage(l.db)
	if err := st.apply(content); err != nil {
		return err
	}
	return st.commit()
}

// ExecuteTransaction authenticates tx and applies it.
func (l *Ledger) ExecuteTransaction(tx messages.Transaction) error {
	return l.ExecuteBatch(tx)
}

// ExecuteBatch applies txs in order, each against the state left by the
// previous one. Either all of them are applied or none is.
func (l *Ledger) ExecuteBatch(txs ...messages.Transaction) error {
	for _, tx := range txs {
		if err := VerifyTransaction(tx); err != nil {
			return err
		}
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	st := newStage(l.db)
	for _, tx := range txs {
		if err := st.apply(tx.Content); err != nil {
			return err
		}
	}
	return st.commit()
}

// VerifyTransaction checks the claimed hash against the content and the
// signature against the sender.
func VerifyTransaction(tx messages.Transaction) error {
	hash, err := messages.HashContent(tx.Content)
	if err != nil {
		return err
	}
	if hash != tx.Hash {
		return &SignatureError{Err: ErrHashMismatch}
	}
	if !crypto.Verify(tx.Content.From, tx.Hash, tx.Signature) {
		return &SignatureError{Err: ErrBadSignature}
	}
	return nil
}

// Hash commits to the full ledger contents in key order.
func (l *Ledger) Hash() (common.Hash, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	it, err := l.db.Iterator(nil, nil)
	if err != nil {
		return common.Hash{}, err
	}
	defer it.Close()
	var sum []byte
	for ; it.Valid(); it.Next() {
		sum = appendFramed(sum, it.Key())
		sum = appendFramed(sum, it.Value())
	}
	if err := it.Error(); err != nil {
		return common.Hash{}, err
	}
	return ethcrypto.Keccak256Hash(sum), nil
}

// appendFramed writes b with a length prefix so adjacent fields cannot
// run into each other.
func appendFramed(sum, b []byte) []byte {
	var n [4]byte
	binary.BigEndian.PutUint32(n[:], uint32(len(b)))
	return append(append(sum, n[:]...), b...)
}

type State struct {
	Nonces   map[string]uint32            `json:"nonces"`
	Balances map[string]map[string]uint16 `json:"balances"`
	Tickers  []string                     `json:"initialized_tickers"`
}

// State returns a snapshot of the ledger. Balances are keyed by ticker then
// account.
func (l *Ledger) State() (*State, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	state := &State{Nonces: map[string]uint32{}, Balances: map[string]map[string]uint16{}}
	it, err := l.db.Iterator(nil, nil)
	if err != nil {
		return nil, err
	}
	defer it.Close()
	for ; it.Valid(); it.Next() {
		key, value := it.Key(), it.Value()
		switch {
		case bytes.HasPrefix(key, noncePrefix):
			if len(value) != 4 {
				return nil, ErrCorruptState
			}
			state.Nonces[string(key[len(noncePrefix):])] = binary.BigEndian.Uint32(value)
		case bytes.HasPrefix(key, balancePrefix):
			rest := string(key[len(balancePrefix):])
			if len(rest) < 43 || len(value) != 2 {
				return nil, ErrCorruptState
			}
			account, ticker := rest[:42], rest[43:]
			if state.Balances[ticker] == nil {
				state.Balances[ticker] = map[string]uint16{}
			}
			state.Balances[ticker][account] = binary.BigEndian.Uint16(value)
		case bytes.HasPrefix(key, tickerPrefix):
			state.Tickers = append(state.Tickers, string(key[len(tickerPrefix):]))
		}
	}
	return state, it.Error()
}

// stage overlays pending writes on the database so a sequence of
// transactions can be validated against its own effects before commit.
type stage struct {
	db     dbm.DB
	writes map[string][]byte
	order  []string
}

func newStage(db dbm.DB) *stage {
	return &stage{db: db, writes: map[string][]byte{}}
}

func (s *stage) get(key []byte) ([]byte, error) {
	if v, ok := s.writes[string(key)]; ok {
		return v, nil
	}
	return s.db.Get(key)
}

func (s *stage) set(key, value []byte) {
	k := string(key)
	if _, ok := s.writes[k]; !ok {
		s.order = append(s.order, k)
	}
	s.writes[k] = value
}

func (s *stage) nonce(addr common.Address) (uint32, error) {
	v, err := s.get(nonceKey(addr))
	if err != nil || v == nil {
		return 0, err
	}
	if len(v) != 4 {
		return 0, fmt.Errorf("%w: nonce of %s", ErrCorruptState, AccountKey(addr))
	}
	return binary.BigEndian.Uint32(v), nil
}

func (s *stage) balance(ticker string, addr common.Address) (uint16, error) {
	v, err := s.get(balanceKey(ticker, addr))
	if err != nil || v == nil {
		return 0, err
	}
	if len(v) != 2 {
		return 0, fmt.Errorf("%w: %s balance of %s", ErrCorruptState, ticker, AccountKey(addr))
	}
	return binary.BigEndian.Uint16(v), nil
}

func (s *stage) initialized(ticker string) (bool, error) {
	v, err := s.get(tickerKey(ticker))
	return len(v) > 0 && v[0] == 1, err
}

func (s *stage) setNonce(addr common.Address, n uint32) {
	v := make([]byte, 4)
	binary.BigEndian.PutUint32(v, n)
	s.set(nonceKey(addr), v)
}

func (s *stage) setBalance(ticker string, addr common.Address, amount uint16) {
	v := make([]byte, 2)
	binary.BigEndian.PutUint16(v, amount)
	s.set(balanceKey(ticker, addr), v)
}

func (s *stage) check(c messages.TransactionContent) error {
	nonce, err := s.nonce(c.From)
	if err != nil {
		return err
	}
	if c.Nonce != nonce {
		return invalid(ErrInvalidNonce, "expected %d, got %d", nonce, c.Nonce)
	}
	if nonce == math.MaxUint32 {
		return invalid(ErrNonceOverflow, "account %s", AccountKey(c.From))
	}
	if c.Params == nil || c.Params.Type() != c.TxType {
		return invalid(messages.ErrParamsMismatch, "%s", c.TxType)
	}
	initialized, err := s.initialized(c.Params.Ticker())
	if err != nil {
		return err
	}
	switch p := c.Params.(type) {
	case messages.MintParams:
		if initialized {
			return invalid(ErrTickerInitialized, "%q", p.TokenTicker)
		}
	case messages.TransferParams:
		if !initialized {
			return invalid(ErrTickerNotInitialized, "%q", p.TokenTicker)
		}
		have, err := s.balance(p.TokenTicker, c.From)
		if err != nil {
			return err
		}
		if have < p.Amount {
			return invalid(ErrInsufficientBalance, "%s has %d %s, needs %d", AccountKey(c.From), have, p.TokenTicker, p.Amount)
		}
		if c.From != p.To {
			received, err := s.balance(p.TokenTicker, p.To)
			if err != nil {
				return err
			}
			if uint32(received)+uint32(p.Amount) > math.MaxUint16 {
				return invalid(ErrBalanceOverflow, "%s %s", AccountKey(p.To), p.TokenTicker)
			}
		}
	}
	return nil
}

func (s *stage) apply(c messages.TransactionContent) error {
	if err := s.check(c); err != nil {
		return err
	}
	switch p := c.Params.(type) {
	case messages.MintParams:
		s.setBalance(p.TokenTicker, p.Owner, p.Supply)
		s.set(tickerKey(p.TokenTicker), []byte{1})
	case messages.TransferParams:
		from, _ := s.balance(p.TokenTicker, c.From)
		s.setBalance(p.TokenTicker, c.From, from-p.Amount)
		to, _ := s.balance(p.TokenTicker, p.To)
		s.setBalance(p.TokenTicker, p.To, to+p.Amount)
	}
	s.setNonce(c.From, c.Nonce+1)
	return nil
}

func (s *stage) commit() error {
	if len(s.order) == 0 {
		return nil
	}
	batch := s.db.NewBatch()
	defer batch.Close()
	for _, k := range s.order {
		batch.Set([]byte(k), s.writes[k])
	}
	return batch.WriteSync()
}
