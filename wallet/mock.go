package wallet

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	iwallet "github.com/cpacia/wallet-interface"
	"github.com/cpacia/xmrescrow/events"
	"github.com/pkg/errors"
)

const (
	// MockTxFee is the network fee paid by every mock transaction.
	MockTxFee uint64 = 10000

	// DefaultUnlockDepth is the number of confirmations after which
	// outputs may be spent.
	DefaultUnlockDepth uint64 = 10

	preparedPrefix = "MultisigV1"
	madePrefix     = "MultisigxV1"
	infoPrefix     = "MultisigInfo"
)

// MockWalletNetwork is a network of mock wallets sharing one simulated
// chain. Transactions relayed by any wallet are seen by all of them and
// GenerateBlock confirms everything in the mempool.
type MockWalletNetwork struct {
	mtx sync.RWMutex

	wallets []*MockWallet

	txs       map[string]*chainTx
	order     []string
	outputs   map[string]outputRef
	spent     map[string]string
	multisigs map[string][]string

	height      uint64
	bestBlock   iwallet.BlockID
	unlockDepth uint64
}

// NewMockWalletNetwork creates a network of numWallets mock wallets
// and connects them all together.
func NewMockWalletNetwork(numWallets int) *MockWalletNetwork {
	n := &MockWalletNetwork{
		txs:         make(map[string]*chainTx),
		outputs:     make(map[string]outputRef),
		spent:       make(map[string]string),
		multisigs:   make(map[string][]string),
		unlockDepth: DefaultUnlockDepth,
	}
	for i := 0; i < numWallets; i++ {
		n.wallets = append(n.wallets, newMockWallet(n))
	}
	return n
}

// Start will start the wallet network. Wallets only emit events after
// the network is started.
func (n *MockWalletNetwork) Start() {
	for _, w := range n.wallets {
		w.Start()
	}
}

// Stop shuts down all the wallets.
func (n *MockWalletNetwork) Stop() {
	for _, w := range n.wallets {
		w.Close()
	}
}

// Wallets returns a slice of wallets in this network.
func (n *MockWalletNetwork) Wallets() []*MockWallet {
	return n.wallets
}

// SetUnlockDepth sets the confirmations needed before outputs unlock.
func (n *MockWalletNetwork) SetUnlockDepth(depth uint64) {
	n.mtx.Lock()
	n.unlockDepth = depth
	n.mtx.Unlock()
	n.notify()
}

// Height returns the current chain height.
func (n *MockWalletNetwork) Height() uint64 {
	n.mtx.RLock()
	defer n.mtx.RUnlock()
	return n.height
}

// GenerateBlock will create a fake block containing every mempool
// transaction and notify the wallets.
func (n *MockWalletNetwork) GenerateBlock() {
	n.mtx.Lock()
	n.height++
	n.bestBlock = iwallet.BlockID(randHex(32))
	for _, ctx := range n.txs {
		if ctx.height == 0 {
			ctx.height = n.height
		}
	}
	n.mtx.Unlock()
	n.notify()
}

// GenerateBlocks generates num blocks.
func (n *MockWalletNetwork) GenerateBlocks(num int) {
	for i := 0; i < num; i++ {
		n.GenerateBlock()
	}
}

// GenerateToAddress creates new coins out of thin air and sends them to the
// requested address. The transaction sits in the mempool until the next
// block.
func (n *MockWalletNetwork) GenerateToAddress(addr iwallet.Address, amount uint64) (iwallet.TransactionID, error) {
	if amount == 0 {
		return "", errors.Wrap(ErrInvalidTx, "zero amount")
	}
	tx := &mockTx{
		Outputs: []mockOutput{{Address: addr.String(), Amount: amount}},
		Key:     randHex(32),
		Nonce:   randHex(8),
	}
	id := tx.id()

	n.mtx.Lock()
	n.addTx(id, tx)
	n.mtx.Unlock()

	n.notify()
	return iwallet.TransactionID(id), nil
}

func (n *MockWalletNetwork) notify() {
	for _, w := range n.wallets {
		w.wakeup()
	}
}

// addTx must be called with the write lock held.
func (n *MockWalletNetwork) addTx(id string, tx *mockTx) {
	n.txs[id] = &chainTx{id: id, tx: tx, received: time.Now()}
	n.order = append(n.order, id)
	for i := range tx.Outputs {
		n.outputs[keyImage(id, i)] = outputRef{txid: id, index: i}
	}
	for _, ki := range tx.Inputs {
		n.spent[ki] = id
	}
}

func (n *MockWalletNetwork) output(ki string) (*mockOutput, *chainTx, bool) {
	ref, ok := n.outputs[ki]
	if !ok {
		return nil, nil, false
	}
	ctx := n.txs[ref.txid]
	return &ctx.tx.Outputs[ref.index], ctx, true
}

func (n *MockWalletNetwork) confirmations(ctx *chainTx) uint64 {
	if ctx.height == 0 {
		return 0
	}
	return n.height - ctx.height + 1
}

func (n *MockWalletNetwork) isUnlocked(ctx *chainTx) bool {
	return ctx.height > 0 && n.confirmations(ctx) >= n.unlockDepth
}

// checkInputs makes sure every input exists and is unspent and that the
// inputs cover the outputs and the fee.
func (n *MockWalletNetwork) checkInputs(tx *mockTx) error {
	if len(tx.Inputs) == 0 {
		return errors.Wrap(ErrInvalidTx, "no inputs")
	}
	var in, out uint64
	seen := make(map[string]bool)
	for _, ki := range tx.Inputs {
		if seen[ki] {
			return errors.Wrapf(ErrInvalidTx, "duplicate input %s", ki)
		}
		seen[ki] = true
		o, _, ok := n.output(ki)
		if !ok {
			return errors.Wrapf(ErrInvalidTx, "unknown input %s", ki)
		}
		if n.spent[ki] != "" {
			return errors.Wrapf(ErrDoubleSpend, "input %s", ki)
		}
		in += o.Amount
	}
	for _, o := range tx.Outputs {
		out += o.Amount
	}
	if in < out+tx.Fee {
		return errors.Wrapf(ErrInvalidTx, "inputs %d do not cover outputs %d and fee %d", in, out, tx.Fee)
	}
	return nil
}

var _ Wallet = (*MockWallet)(nil)

// MockWallet is a mock wallet that conforms to the Wallet interface. It
// is always part of a MockWalletNetwork.
type MockWallet struct {
	mtx sync.Mutex

	network *MockWalletNetwork

	addrs    map[string]bool
	escrows  map[string]string
	frozen   map[string]bool
	sessions map[string]*multisigSession

	known        map[string]uint64
	lastHeight   uint64
	lastBalance  uint64
	lastUnlocked uint64

	bus events.Bus

	wake      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// NewMockWallet creates a wallet on its own network.
func NewMockWallet() *MockWallet {
	return NewMockWalletNetwork(1).Wallets()[0]
}

func newMockWallet(n *MockWalletNetwork) *MockWallet {
	return &MockWallet{
		network:  n,
		addrs:    make(map[string]bool),
		escrows:  make(map[string]string),
		frozen:   make(map[string]bool),
		sessions: make(map[string]*multisigSession),
		known:    make(map[string]uint64),
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
}

type multisigSession struct {
	prepared  string
	made      string
	exchanged string
	address   string
	signers   []string
	imported  bool
}

// Network returns the network the wallet belongs to.
func (w *MockWallet) Network() *MockWalletNetwork {
	return w.network
}

// SetEventBus sets the bus the wallet emits its events on.
func (w *MockWallet) SetEventBus(bus events.Bus) {
	w.mtx.Lock()
	defer w.mtx.Unlock()
	w.bus = bus
}

// Start begins processing chain updates.
func (w *MockWallet) Start() {
	go func() {
		for {
			select {
			case <-w.wake:
				w.scan()
			case <-w.done:
				return
			}
		}
	}()
	w.wakeup()
}

// Close stops the wallet.
func (w *MockWallet) Close() {
	w.closeOnce.Do(func() { close(w.done) })
}

func (w *MockWallet) wakeup() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// scan diffs the chain against what the wallet reported last and emits
// the resulting events.
func (w *MockWallet) scan() {
	n := w.network
	n.mtx.RLock()
	w.mtx.Lock()

	var (
		toEmit []interface{}
		height = n.height
	)
	if height != w.lastHeight {
		toEmit = append(toEmit, &events.BlockReceived{BlockID: string(n.bestBlock), Height: height})
		w.lastHeight = height
	}
	for _, id := range n.order {
		ctx := n.txs[id]
		if !w.isRelevant(ctx.tx) {
			continue
		}
		confs := n.confirmations(ctx)
		last, ok := w.known[id]
		if !ok {
			toEmit = append(toEmit, &events.TransactionReceived{
				Transaction:   w.toIwallet(ctx),
				Confirmations: confs,
			})
		}
		if (!ok && confs > 0) || (ok && last != confs) {
			toEmit = append(toEmit, &events.TransactionConfirmed{
				TxID:          id,
				Confirmations: confs,
				Unlocked:      n.isUnlocked(ctx),
			})
		}
		w.known[id] = confs
	}
	balance, unlocked := w.balances()
	if balance != w.lastBalance || unlocked != w.lastUnlocked {
		toEmit = append(toEmit, &events.BalanceChanged{Balance: balance, UnlockedBalance: unlocked})
		w.lastBalance, w.lastUnlocked = balance, unlocked
	}
	bus := w.bus

	w.mtx.Unlock()
	n.mtx.RUnlock()

	if bus == nil {
		return
	}
	for _, e := range toEmit {
		bus.Emit(e)
	}
}

// isRelevant must be called with both locks held.
func (w *MockWallet) isRelevant(tx *mockTx) bool {
	for _, o := range tx.Outputs {
		if w.addrs[o.Address] || w.escrows[o.Address] != "" {
			return true
		}
	}
	for _, ki := range tx.Inputs {
		if o, _, ok := w.network.output(ki); ok && (w.addrs[o.Address] || w.escrows[o.Address] != "") {
			return true
		}
	}
	return false
}

func (w *MockWallet) toIwallet(ctx *chainTx) iwallet.Transaction {
	txn := iwallet.Transaction{
		ID:     iwallet.TransactionID(ctx.id),
		Height: ctx.height,
	}
	for _, ki := range ctx.tx.Inputs {
		o, _, ok := w.network.output(ki)
		if !ok {
			continue
		}
		txn.From = append(txn.From, iwallet.SpendInfo{
			ID:         []byte(ki),
			Address:    iwallet.NewAddress(o.Address, iwallet.CtMonero),
			Amount:     iwallet.NewAmount(o.Amount),
			IsRelevant: w.addrs[o.Address],
		})
	}
	for i, o := range ctx.tx.Outputs {
		txn.To = append(txn.To, iwallet.SpendInfo{
			ID:         []byte(keyImage(ctx.id, i)),
			Address:    iwallet.NewAddress(o.Address, iwallet.CtMonero),
			Amount:     iwallet.NewAmount(o.Amount),
			IsRelevant: w.addrs[o.Address],
			IsWatched:  w.escrows[o.Address] != "",
		})
	}
	return txn
}

// spendable iterates over our unspent, unfrozen outputs. Both locks must
// be held.
func (w *MockWallet) spendable(fn func(ki string, o *mockOutput, ctx *chainTx)) {
	n := w.network
	for _, id := range n.order {
		ctx := n.txs[id]
		for i := range ctx.tx.Outputs {
			o := &ctx.tx.Outputs[i]
			ki := keyImage(id, i)
			if !w.addrs[o.Address] || n.spent[ki] != "" || w.frozen[ki] {
				continue
			}
			fn(ki, o, ctx)
		}
	}
}

func (w *MockWallet) balances() (balance, unlocked uint64) {
	w.spendable(func(ki string, o *mockOutput, ctx *chainTx) {
		balance += o.Amount
		if w.network.isUnlocked(ctx) {
			unlocked += o.Amount
		}
	})
	return balance, unlocked
}

func (w *MockWallet) selectCoins(amount uint64) ([]string, uint64, error) {
	var (
		inputs []string
		total  uint64
	)
	w.spendable(func(ki string, o *mockOutput, ctx *chainTx) {
		if total >= amount || !w.network.isUnlocked(ctx) {
			return
		}
		inputs = append(inputs, ki)
		total += o.Amount
	})
	if total < amount {
		return nil, 0, ErrInsufficientFunds
	}
	return inputs, total, nil
}

func (w *MockWallet) newAddress() string {
	addr := "4" + randHex(32)
	w.addrs[addr] = true
	return addr
}

// Balance returns the wallet balance excluding frozen outputs.
func (w *MockWallet) Balance() (uint64, error) {
	w.network.mtx.RLock()
	defer w.network.mtx.RUnlock()
	w.mtx.Lock()
	defer w.mtx.Unlock()

	balance, _ := w.balances()
	return balance, nil
}

// UnlockedBalance returns the spendable balance.
func (w *MockWallet) UnlockedBalance() (uint64, error) {
	w.network.mtx.RLock()
	defer w.network.mtx.RUnlock()
	w.mtx.Lock()
	defer w.mtx.Unlock()

	_, unlocked := w.balances()
	return unlocked, nil
}

// LockedTransactions returns the transactions which pay us outputs that
// have not unlocked yet, oldest first.
func (w *MockWallet) LockedTransactions() ([]IncomingTx, error) {
	n := w.network
	n.mtx.RLock()
	defer n.mtx.RUnlock()
	w.mtx.Lock()
	defer w.mtx.Unlock()

	amounts := make(map[string]uint64)
	w.spendable(func(ki string, o *mockOutput, ctx *chainTx) {
		if !n.isUnlocked(ctx) {
			amounts[ctx.id] += o.Amount
		}
	})
	var txs []IncomingTx
	for _, id := range n.order {
		amt, ok := amounts[id]
		if !ok {
			continue
		}
		ctx := n.txs[id]
		txs = append(txs, IncomingTx{
			ID:            iwallet.TransactionID(id),
			Amount:        amt,
			Confirmations: n.confirmations(ctx),
			Timestamp:     ctx.received,
		})
	}
	return txs, nil
}

// GetTransaction returns the chain state of the transaction.
func (w *MockWallet) GetTransaction(txid iwallet.TransactionID) (*TxInfo, error) {
	n := w.network
	n.mtx.RLock()
	defer n.mtx.RUnlock()

	ctx, ok := n.txs[string(txid)]
	if !ok {
		return nil, ErrTxNotFound
	}
	return &TxInfo{
		ID:            txid,
		Height:        ctx.height,
		Confirmations: n.confirmations(ctx),
		Unlocked:      n.isUnlocked(ctx),
		Timestamp:     ctx.received,
	}, nil
}

// CreateReserveTx creates, but does not relay, a transaction which pays
// amount back to ourselves. The spent outputs are frozen.
func (w *MockWallet) CreateReserveTx(amount uint64) (*SignedTx, error) {
	w.network.mtx.RLock()
	defer w.network.mtx.RUnlock()
	w.mtx.Lock()
	defer w.mtx.Unlock()

	inputs, total, err := w.selectCoins(amount + MockTxFee)
	if err != nil {
		return nil, err
	}
	tx := &mockTx{
		Inputs:  inputs,
		Outputs: []mockOutput{{Address: w.newAddress(), Amount: amount}},
		Fee:     MockTxFee,
		Key:     randHex(32),
		Nonce:   randHex(8),
	}
	if change := total - amount - MockTxFee; change > 0 {
		tx.Outputs = append(tx.Outputs, mockOutput{Address: w.newAddress(), Amount: change})
	}
	for _, ki := range inputs {
		w.frozen[ki] = true
	}
	log.Debugf("Created reserve tx %s for %d", tx.id(), amount)
	return &SignedTx{
		Hash:      tx.id(),
		Hex:       tx.encode(),
		Key:       tx.Key,
		KeyImages: inputs,
	}, nil
}

// VerifyReserveTx checks the reserve transaction proves at least amount.
func (w *MockWallet) VerifyReserveTx(stx *SignedTx, amount uint64) error {
	tx, err := decodeSigned(stx)
	if err != nil {
		return err
	}
	if len(tx.Outputs) == 0 || tx.Outputs[0].Amount < amount {
		return errors.Wrapf(ErrInvalidTx, "reserve tx does not reserve %d", amount)
	}
	if len(stx.KeyImages) > 0 && !sameSet(stx.KeyImages, tx.Inputs) {
		return errors.Wrap(ErrInvalidTx, "key images do not match inputs")
	}

	w.network.mtx.RLock()
	defer w.network.mtx.RUnlock()
	return w.network.checkInputs(tx)
}

// FreezeOutputs excludes the outputs from balance and coin selection.
func (w *MockWallet) FreezeOutputs(keyImages []string) error {
	w.network.mtx.RLock()
	w.mtx.Lock()
	for _, ki := range keyImages {
		o, _, ok := w.network.output(ki)
		if !ok || !w.addrs[o.Address] {
			w.mtx.Unlock()
			w.network.mtx.RUnlock()
			return errors.Wrapf(ErrUnknownOutput, "key image %s", ki)
		}
	}
	for _, ki := range keyImages {
		w.frozen[ki] = true
	}
	w.mtx.Unlock()
	w.network.mtx.RUnlock()

	w.wakeup()
	return nil
}

// ThawOutputs releases frozen outputs. Unknown key images are ignored.
func (w *MockWallet) ThawOutputs(keyImages []string) error {
	w.mtx.Lock()
	for _, ki := range keyImages {
		delete(w.frozen, ki)
	}
	w.mtx.Unlock()

	w.wakeup()
	return nil
}

// PrepareMultisig returns our prepared hex for the trade's escrow wallet.
// Calling it again returns the same hex.
func (w *MockWallet) PrepareMultisig(tradeID string) (string, error) {
	w.mtx.Lock()
	defer w.mtx.Unlock()

	s, ok := w.sessions[tradeID]
	if !ok {
		s = &multisigSession{prepared: preparedPrefix + randHex(32)}
		w.sessions[tradeID] = s
	}
	return s.prepared, nil
}

// MakeMultisig consumes the other parties' prepared hex.
func (w *MockWallet) MakeMultisig(tradeID string, peerPrepared []string) (string, error) {
	w.mtx.Lock()
	defer w.mtx.Unlock()

	s, ok := w.sessions[tradeID]
	if !ok {
		return "", errors.Wrap(ErrMultisigState, "multisig not prepared")
	}
	if len(peerPrepared) != 2 {
		return "", errors.Wrapf(ErrInvalidMultisigHex, "expected 2 prepared hex, got %d", len(peerPrepared))
	}
	for _, p := range peerPrepared {
		if !strings.HasPrefix(p, preparedPrefix) || p == s.prepared {
			return "", errors.Wrap(ErrInvalidMultisigHex, "bad prepared hex")
		}
	}
	if peerPrepared[0] == peerPrepared[1] {
		return "", errors.Wrap(ErrInvalidMultisigHex, "duplicate prepared hex")
	}
	signers := append([]string{s.prepared}, peerPrepared...)
	sort.Strings(signers)

	if s.made != "" {
		if !sameSet(signers, s.signers) {
			return "", errors.Wrap(ErrInvalidMultisigHex, "prepared hex changed")
		}
		return s.made, nil
	}
	s.signers = signers
	s.made = madeHex(s.prepared, signers)
	return s.made, nil
}

// ExchangeMultisigKeys consumes the other parties' made hex and completes
// the escrow wallet.
func (w *MockWallet) ExchangeMultisigKeys(tradeID string, peerMade []string) (*MultisigResult, error) {
	n := w.network
	n.mtx.Lock()
	defer n.mtx.Unlock()
	w.mtx.Lock()
	defer w.mtx.Unlock()

	s, ok := w.sessions[tradeID]
	if !ok || s.made == "" {
		return nil, errors.Wrap(ErrMultisigState, "multisig not made")
	}
	if len(peerMade) != 2 || peerMade[0] == peerMade[1] {
		return nil, errors.Wrap(ErrInvalidMultisigHex, "expected 2 distinct made hex")
	}
	expected := make(map[string]bool)
	for _, p := range s.signers {
		if p != s.prepared {
			expected[madeHex(p, s.signers)] = true
		}
	}
	for _, m := range peerMade {
		if !expected[m] {
			return nil, errors.Wrap(ErrInvalidMultisigHex, "made hex does not match the prepared signers")
		}
	}
	if s.address == "" {
		h := sha256.Sum256([]byte(strings.Join(s.signers, "|")))
		s.address = "5" + hex.EncodeToString(h[:])
		x := sha256.Sum256([]byte("exchanged|" + s.made + "|" + s.address))
		s.exchanged = madePrefix + hex.EncodeToString(x[:])
		n.multisigs[s.address] = s.signers
		w.escrows[s.address] = tradeID
	}
	return &MultisigResult{ExchangedHex: s.exchanged, Address: s.address}, nil
}

// ExportMultisigHex returns our multisig info for the escrow wallet.
func (w *MockWallet) ExportMultisigHex(tradeID string) (string, error) {
	w.network.mtx.RLock()
	defer w.network.mtx.RUnlock()
	w.mtx.Lock()
	defer w.mtx.Unlock()

	s, ok := w.sessions[tradeID]
	if !ok || s.address == "" {
		return "", errors.Wrap(ErrMultisigState, "multisig not complete")
	}
	h := sha256.Sum256([]byte(fmt.Sprintf("%s|%d", s.prepared, w.network.height)))
	return infoPrefix + hex.EncodeToString(h[:]), nil
}

// ImportMultisigHex imports the other signers' multisig info.
func (w *MockWallet) ImportMultisigHex(tradeID string, hexes []string) (int, error) {
	n := w.network
	n.mtx.RLock()
	defer n.mtx.RUnlock()
	w.mtx.Lock()
	defer w.mtx.Unlock()

	s, ok := w.sessions[tradeID]
	if !ok || s.address == "" {
		return 0, errors.Wrap(ErrMultisigState, "multisig not complete")
	}
	if len(hexes) == 0 {
		return 0, errors.Wrap(ErrInvalidMultisigHex, "no multisig info")
	}
	for _, h := range hexes {
		if !strings.HasPrefix(h, infoPrefix) {
			return 0, errors.Wrap(ErrInvalidMultisigHex, "bad multisig info")
		}
	}
	s.imported = true
	return len(w.escrowOutputs(s.address)), nil
}

func (w *MockWallet) escrowOutputs(address string) []string {
	n := w.network
	var kis []string
	for _, id := range n.order {
		ctx := n.txs[id]
		for i, o := range ctx.tx.Outputs {
			ki := keyImage(id, i)
			if o.Address == address && n.spent[ki] == "" {
				kis = append(kis, ki)
			}
		}
	}
	return kis
}

// CreateDepositTx creates, but does not relay, the transaction funding the
// escrow wallet from the reserved outputs.
func (w *MockWallet) CreateDepositTx(terms DepositTerms) (*SignedTx, error) {
	n := w.network
	n.mtx.RLock()
	defer n.mtx.RUnlock()
	w.mtx.Lock()
	defer w.mtx.Unlock()

	if len(terms.KeyImages) == 0 {
		return nil, errors.Wrap(ErrUnknownOutput, "no reserved outputs")
	}
	var total uint64
	for _, ki := range terms.KeyImages {
		o, _, ok := n.output(ki)
		if !ok || !w.addrs[o.Address] {
			return nil, errors.Wrapf(ErrUnknownOutput, "key image %s", ki)
		}
		if n.spent[ki] != "" {
			return nil, errors.Wrapf(ErrDoubleSpend, "key image %s", ki)
		}
		total += o.Amount
	}
	need := terms.Amount + terms.Fee + MockTxFee
	if total < need {
		return nil, ErrInsufficientFunds
	}
	tx := &mockTx{
		Inputs:  append([]string(nil), terms.KeyImages...),
		Outputs: []mockOutput{{Address: terms.MultisigAddress, Amount: terms.Amount}},
		Fee:     MockTxFee,
		Key:     randHex(32),
		Nonce:   randHex(8),
	}
	if terms.Fee > 0 {
		tx.Outputs = append(tx.Outputs, mockOutput{Address: terms.FeeAddress, Amount: terms.Fee})
	}
	if change := total - need; change > 0 {
		tx.Outputs = append(tx.Outputs, mockOutput{Address: w.newAddress(), Amount: change})
	}
	return &SignedTx{
		Hash:      tx.id(),
		Hex:       tx.encode(),
		Key:       tx.Key,
		KeyImages: tx.Inputs,
	}, nil
}

// VerifyDepositTx checks a deposit transaction against the trade terms.
// A deposit which is already on chain only needs to match the terms.
func (w *MockWallet) VerifyDepositTx(stx *SignedTx, terms DepositTerms) error {
	tx, err := decodeSigned(stx)
	if err != nil {
		return err
	}
	if len(tx.Outputs) == 0 || tx.Outputs[0].Address != terms.MultisigAddress || tx.Outputs[0].Amount != terms.Amount {
		return errors.Wrapf(ErrInvalidTx, "deposit does not pay %d to the escrow", terms.Amount)
	}
	if terms.Fee > 0 {
		if len(tx.Outputs) < 2 || tx.Outputs[1].Address != terms.FeeAddress || tx.Outputs[1].Amount != terms.Fee {
			return errors.Wrapf(ErrInvalidTx, "deposit does not pay the trade fee %d", terms.Fee)
		}
	}
	if len(terms.KeyImages) > 0 && !sameSet(terms.KeyImages, tx.Inputs) {
		return errors.Wrap(ErrInvalidTx, "deposit does not spend the reserved outputs")
	}

	w.network.mtx.RLock()
	defer w.network.mtx.RUnlock()
	if _, ok := w.network.txs[stx.Hash]; ok {
		return nil
	}
	return w.network.checkInputs(tx)
}

// RelayTx broadcasts a signed transaction to the network.
func (w *MockWallet) RelayTx(txHex string) (iwallet.TransactionID, error) {
	tx, err := decodeTx(txHex)
	if err != nil {
		return "", err
	}
	id := tx.id()
	n := w.network

	n.mtx.Lock()
	if _, ok := n.txs[id]; ok {
		n.mtx.Unlock()
		return iwallet.TransactionID(id), nil
	}
	if tx.Multisig != "" {
		if err := n.checkMultisig(tx); err != nil {
			n.mtx.Unlock()
			return "", err
		}
	}
	if err := n.checkInputs(tx); err != nil {
		n.mtx.Unlock()
		return "", err
	}
	n.addTx(id, tx)
	n.mtx.Unlock()

	n.notify()
	log.Debugf("Relayed tx %s", id)
	return iwallet.TransactionID(id), nil
}

func (n *MockWalletNetwork) checkMultisig(tx *mockTx) error {
	signers, ok := n.multisigs[tx.Multisig]
	if !ok {
		return errors.Wrap(ErrInvalidTx, "unknown escrow wallet")
	}
	valid := make(map[string]bool)
	for _, s := range tx.Signers {
		for _, signer := range signers {
			if s == signer {
				valid[s] = true
			}
		}
	}
	if len(valid) < MultisigThreshold {
		return errors.Wrapf(ErrInvalidTx, "payout has %d of %d signatures", len(valid), MultisigThreshold)
	}
	for _, ki := range tx.Inputs {
		o, _, ok := n.output(ki)
		if !ok || o.Address != tx.Multisig {
			return errors.Wrap(ErrInvalidTx, "payout spends outputs outside the escrow")
		}
	}
	return nil
}

// CreatePayoutTx creates a transaction spending the whole escrow to the
// given outputs, signed by us. The outputs must add up to the escrow
// balance; the network fee is deducted from the last output.
func (w *MockWallet) CreatePayoutTx(tradeID string, outputs []PayoutOutput) (string, error) {
	n := w.network
	n.mtx.RLock()
	defer n.mtx.RUnlock()
	w.mtx.Lock()
	defer w.mtx.Unlock()

	s, ok := w.sessions[tradeID]
	if !ok || s.address == "" {
		return "", errors.Wrap(ErrMultisigState, "multisig not complete")
	}
	if !s.imported {
		return "", ErrMultisigNotSynced
	}
	if len(outputs) == 0 {
		return "", errors.Wrap(ErrInvalidTx, "no outputs")
	}
	inputs := w.escrowOutputs(s.address)
	if len(inputs) == 0 {
		return "", ErrInsufficientFunds
	}
	var total uint64
	for _, ki := range inputs {
		o, ctx, _ := n.output(ki)
		if !n.isUnlocked(ctx) {
			return "", ErrFundsLocked
		}
		total += o.Amount
	}
	var sum uint64
	outs := make([]mockOutput, 0, len(outputs))
	for _, o := range outputs {
		sum += o.Amount
		outs = append(outs, mockOutput{Address: o.Address, Amount: o.Amount})
	}
	if sum != total {
		return "", errors.Wrapf(ErrInvalidTx, "payout of %d does not match escrow balance %d", sum, total)
	}
	if outs[len(outs)-1].Amount <= MockTxFee {
		return "", ErrInsufficientFunds
	}
	outs[len(outs)-1].Amount -= MockTxFee

	tx := &mockTx{
		Inputs:   inputs,
		Outputs:  outs,
		Fee:      MockTxFee,
		Key:      randHex(32),
		Multisig: s.address,
		Nonce:    randHex(8),
		Signers:  []string{s.prepared},
	}
	return tx.encode(), nil
}

// DescribePayoutTx returns the outputs of the transaction.
func (w *MockWallet) DescribePayoutTx(txHex string) ([]PayoutOutput, error) {
	tx, err := decodeTx(txHex)
	if err != nil {
		return nil, err
	}
	outs := make([]PayoutOutput, 0, len(tx.Outputs))
	for _, o := range tx.Outputs {
		outs = append(outs, PayoutOutput{Address: o.Address, Amount: o.Amount})
	}
	return outs, nil
}

// SignMultisigTx adds our signature to the payout.
func (w *MockWallet) SignMultisigTx(tradeID string, txHex string) (string, error) {
	w.mtx.Lock()
	defer w.mtx.Unlock()

	s, ok := w.sessions[tradeID]
	if !ok || s.address == "" {
		return "", errors.Wrap(ErrMultisigState, "multisig not complete")
	}
	if !s.imported {
		return "", ErrMultisigNotSynced
	}
	tx, err := decodeTx(txHex)
	if err != nil {
		return "", err
	}
	if tx.Multisig != s.address {
		return "", errors.Wrap(ErrInvalidTx, "payout is not from this escrow")
	}
	for _, signer := range tx.Signers {
		if signer == s.prepared {
			return txHex, nil
		}
	}
	tx.Signers = append(tx.Signers, s.prepared)
	return tx.encode(), nil
}

// SubmitMultisigTx relays the fully signed payout.
func (w *MockWallet) SubmitMultisigTx(tradeID string, txHex string) (iwallet.TransactionID, error) {
	w.mtx.Lock()
	_, ok := w.sessions[tradeID]
	w.mtx.Unlock()
	if !ok {
		return "", errors.Wrap(ErrMultisigState, "unknown escrow wallet")
	}
	return w.RelayTx(txHex)
}

// NewAddress returns a new receiving address.
func (w *MockWallet) NewAddress() (iwallet.Address, error) {
	w.mtx.Lock()
	defer w.mtx.Unlock()
	return iwallet.NewAddress(w.newAddress(), iwallet.CtMonero), nil
}

type chainTx struct {
	id       string
	tx       *mockTx
	height   uint64
	received time.Time
}

type outputRef struct {
	txid  string
	index int
}

type mockOutput struct {
	Address string `json:"address"`
	Amount  uint64 `json:"amount"`
}

// mockTx is the simulated transaction. Its hex encoding is hex encoded
// JSON. Signatures are not covered by the ID.
type mockTx struct {
	Inputs   []string     `json:"inputs,omitempty"`
	Outputs  []mockOutput `json:"outputs"`
	Fee      uint64       `json:"fee"`
	Key      string       `json:"key"`
	Multisig string       `json:"multisig,omitempty"`
	Nonce    string       `json:"nonce"`
	Signers  []string     `json:"signers,omitempty"`
}

func (tx *mockTx) id() string {
	cpy := *tx
	cpy.Signers = nil
	ser, _ := json.Marshal(cpy)
	h := sha256.Sum256(ser)
	return hex.EncodeToString(h[:])
}

func (tx *mockTx) encode() string {
	ser, _ := json.Marshal(tx)
	return hex.EncodeToString(ser)
}

func decodeTx(txHex string) (*mockTx, error) {
	ser, err := hex.DecodeString(txHex)
	if err != nil {
		return nil, errors.Wrap(ErrInvalidTx, err.Error())
	}
	tx := new(mockTx)
	if err := json.Unmarshal(ser, tx); err != nil {
		return nil, errors.Wrap(ErrInvalidTx, err.Error())
	}
	return tx, nil
}

func decodeSigned(stx *SignedTx) (*mockTx, error) {
	if stx == nil {
		return nil, errors.Wrap(ErrInvalidTx, "missing transaction")
	}
	tx, err := decodeTx(stx.Hex)
	if err != nil {
		return nil, err
	}
	if tx.id() != stx.Hash {
		return nil, errors.Wrap(ErrInvalidTx, "hash does not match")
	}
	if tx.Key != stx.Key {
		return nil, errors.Wrap(ErrInvalidTx, "tx key does not match")
	}
	return tx, nil
}

func keyImage(txid string, index int) string {
	h := sha256.Sum256([]byte(fmt.Sprintf("%s:%d", txid, index)))
	return hex.EncodeToString(h[:])
}

func madeHex(prepared string, signers []string) string {
	var others []string
	for _, s := range signers {
		if s != prepared {
			others = append(others, s)
		}
	}
	h := sha256.Sum256([]byte(prepared + "|" + strings.Join(others, "|")))
	return madePrefix + hex.EncodeToString(h[:])
}

func sameSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	m := make(map[string]int)
	for _, s := range a {
		m[s]++
	}
	for _, s := range b {
		if m[s] == 0 {
			return false
		}
		m[s]--
	}
	return true
}

func randHex(n int) string {
	b := make([]byte, n)
	rand.Read(b)
	return hex.EncodeToString(b)
}
