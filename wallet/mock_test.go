package wallet

import (
	"testing"
	"time"

	"github.com/cpacia/xmrescrow/events"
	"github.com/pkg/errors"
)

const xmr uint64 = 1000000000000

func fundWallet(t *testing.T, w *MockWallet, amount uint64) {
	addr, err := w.NewAddress()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := w.Network().GenerateToAddress(addr, amount); err != nil {
		t.Fatal(err)
	}
}

func setupMultisig(t *testing.T, wallets []*MockWallet, tradeID string) string {
	prepared := make([]string, len(wallets))
	for i, w := range wallets {
		p, err := w.PrepareMultisig(tradeID)
		if err != nil {
			t.Fatal(err)
		}
		prepared[i] = p
	}
	made := make([]string, len(wallets))
	for i, w := range wallets {
		m, err := w.MakeMultisig(tradeID, others(prepared, i))
		if err != nil {
			t.Fatal(err)
		}
		made[i] = m
	}
	var address string
	for i, w := range wallets {
		res, err := w.ExchangeMultisigKeys(tradeID, others(made, i))
		if err != nil {
			t.Fatal(err)
		}
		if address != "" && res.Address != address {
			t.Fatalf("Escrow addresses differ. %s, %s", address, res.Address)
		}
		address = res.Address
	}
	return address
}

func others(s []string, i int) []string {
	var ret []string
	for j, x := range s {
		if j != i {
			ret = append(ret, x)
		}
	}
	return ret
}

func TestMockWallet_BalanceAndUnlock(t *testing.T) {
	network := NewMockWalletNetwork(1)
	network.SetUnlockDepth(3)
	w := network.Wallets()[0]

	fundWallet(t, w, xmr)

	balance, err := w.Balance()
	if err != nil {
		t.Fatal(err)
	}
	if balance != xmr {
		t.Errorf("Expected balance %d got %d", xmr, balance)
	}
	unlocked, err := w.UnlockedBalance()
	if err != nil {
		t.Fatal(err)
	}
	if unlocked != 0 {
		t.Errorf("Expected unlocked balance 0 got %d", unlocked)
	}

	network.GenerateBlocks(2)
	locked, err := w.LockedTransactions()
	if err != nil {
		t.Fatal(err)
	}
	if len(locked) != 1 {
		t.Fatalf("Expected 1 locked transaction got %d", len(locked))
	}
	if locked[0].Confirmations != 2 || locked[0].Amount != xmr {
		t.Errorf("Unexpected locked transaction %v", locked[0])
	}

	info, err := w.GetTransaction(locked[0].ID)
	if err != nil {
		t.Fatal(err)
	}
	if info.Unlocked || info.Height != 1 {
		t.Errorf("Unexpected tx info %v", info)
	}

	network.GenerateBlock()
	unlocked, err = w.UnlockedBalance()
	if err != nil {
		t.Fatal(err)
	}
	if unlocked != xmr {
		t.Errorf("Expected unlocked balance %d got %d", xmr, unlocked)
	}
	locked, err = w.LockedTransactions()
	if err != nil {
		t.Fatal(err)
	}
	if len(locked) != 0 {
		t.Errorf("Expected no locked transactions got %d", len(locked))
	}

	if _, err := w.GetTransaction("abc"); err != ErrTxNotFound {
		t.Errorf("Expected ErrTxNotFound got %v", err)
	}
}

func TestMockWallet_ReserveTx(t *testing.T) {
	network := NewMockWalletNetwork(2)
	network.SetUnlockDepth(1)
	w1, w2 := network.Wallets()[0], network.Wallets()[1]

	fundWallet(t, w1, xmr)
	network.GenerateBlock()

	if _, err := w1.CreateReserveTx(xmr); err != ErrInsufficientFunds {
		t.Errorf("Expected ErrInsufficientFunds got %v", err)
	}

	reserve, err := w1.CreateReserveTx(xmr / 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(reserve.KeyImages) != 1 {
		t.Fatalf("Expected 1 key image got %d", len(reserve.KeyImages))
	}

	balance, err := w1.Balance()
	if err != nil {
		t.Fatal(err)
	}
	if balance != 0 {
		t.Errorf("Expected reserved outputs to be frozen, balance %d", balance)
	}

	if err := w2.VerifyReserveTx(reserve, xmr/2); err != nil {
		t.Errorf("Reserve tx failed to verify: %s", err)
	}
	if err := w2.VerifyReserveTx(reserve, xmr); errors.Cause(err) != ErrInvalidTx {
		t.Errorf("Expected ErrInvalidTx got %v", err)
	}
	tampered := *reserve
	tampered.Key = "00"
	if err := w2.VerifyReserveTx(&tampered, xmr/2); errors.Cause(err) != ErrInvalidTx {
		t.Errorf("Expected ErrInvalidTx got %v", err)
	}

	if err := w1.ThawOutputs(reserve.KeyImages); err != nil {
		t.Fatal(err)
	}
	balance, err = w1.Balance()
	if err != nil {
		t.Fatal(err)
	}
	if balance != xmr {
		t.Errorf("Expected balance %d after thaw got %d", xmr, balance)
	}

	if err := w2.FreezeOutputs(reserve.KeyImages); errors.Cause(err) != ErrUnknownOutput {
		t.Errorf("Expected ErrUnknownOutput got %v", err)
	}
}

func TestMockWallet_Multisig(t *testing.T) {
	network := NewMockWalletNetwork(3)
	wallets := network.Wallets()

	address := setupMultisig(t, wallets, "trade1")
	if address == "" {
		t.Fatal("Empty escrow address")
	}

	// Every round is idempotent.
	again := setupMultisig(t, wallets, "trade1")
	if again != address {
		t.Errorf("Repeated setup returned a different address. %s, %s", address, again)
	}

	other := setupMultisig(t, wallets, "trade2")
	if other == address {
		t.Error("Two trades share an escrow address")
	}

	if _, err := wallets[0].MakeMultisig("unknown", []string{"a", "b"}); errors.Cause(err) != ErrMultisigState {
		t.Errorf("Expected ErrMultisigState got %v", err)
	}

	if _, err := wallets[0].PrepareMultisig("trade3"); err != nil {
		t.Fatal(err)
	}
	p1, _ := wallets[1].PrepareMultisig("trade3")
	p2, _ := wallets[2].PrepareMultisig("trade3")
	if _, err := wallets[0].MakeMultisig("trade3", []string{p1, p1}); errors.Cause(err) != ErrInvalidMultisigHex {
		t.Errorf("Expected ErrInvalidMultisigHex got %v", err)
	}
	if _, err := wallets[0].MakeMultisig("trade3", []string{p1, p2}); err != nil {
		t.Fatal(err)
	}
	if _, err := wallets[0].ExchangeMultisigKeys("trade3", []string{madePrefix + "aa", madePrefix + "bb"}); errors.Cause(err) != ErrInvalidMultisigHex {
		t.Errorf("Expected ErrInvalidMultisigHex got %v", err)
	}
}

func TestMockWallet_DepositAndPayout(t *testing.T) {
	network := NewMockWalletNetwork(3)
	network.SetUnlockDepth(1)
	var (
		seller     = network.Wallets()[0]
		buyer      = network.Wallets()[1]
		arbitrator = network.Wallets()[2]

		amount  = xmr
		deposit = xmr / 10
		fee     = xmr / 100
	)

	fundWallet(t, seller, 3*xmr)
	fundWallet(t, buyer, 3*xmr)
	network.GenerateBlock()

	address := setupMultisig(t, network.Wallets(), "trade")
	feeAddr, err := arbitrator.NewAddress()
	if err != nil {
		t.Fatal(err)
	}

	sellerReserve, err := seller.CreateReserveTx(amount + deposit + fee)
	if err != nil {
		t.Fatal(err)
	}
	buyerReserve, err := buyer.CreateReserveTx(deposit + fee)
	if err != nil {
		t.Fatal(err)
	}

	sellerTerms := DepositTerms{
		MultisigAddress: address,
		Amount:          amount + deposit,
		FeeAddress:      feeAddr.String(),
		Fee:             fee,
		KeyImages:       sellerReserve.KeyImages,
	}
	buyerTerms := DepositTerms{
		MultisigAddress: address,
		Amount:          deposit,
		FeeAddress:      feeAddr.String(),
		Fee:             fee,
		KeyImages:       buyerReserve.KeyImages,
	}
	sellerDeposit, err := seller.CreateDepositTx(sellerTerms)
	if err != nil {
		t.Fatal(err)
	}
	buyerDeposit, err := buyer.CreateDepositTx(buyerTerms)
	if err != nil {
		t.Fatal(err)
	}

	if err := arbitrator.VerifyDepositTx(sellerDeposit, buyerTerms); err == nil {
		t.Error("Deposit verified against the wrong terms")
	}
	for _, d := range []struct {
		tx    *SignedTx
		terms DepositTerms
	}{{sellerDeposit, sellerTerms}, {buyerDeposit, buyerTerms}} {
		if err := arbitrator.VerifyDepositTx(d.tx, d.terms); err != nil {
			t.Fatal(err)
		}
		txid, err := arbitrator.RelayTx(d.tx.Hex)
		if err != nil {
			t.Fatal(err)
		}
		if string(txid) != d.tx.Hash {
			t.Errorf("Relay returned %s expected %s", txid, d.tx.Hash)
		}
		if _, err := arbitrator.RelayTx(d.tx.Hex); err != nil {
			t.Errorf("Relaying twice failed: %s", err)
		}
	}

	// The reserve tx spends the same outputs as the deposit.
	if _, err := arbitrator.RelayTx(sellerReserve.Hex); errors.Cause(err) != ErrDoubleSpend {
		t.Errorf("Expected ErrDoubleSpend got %v", err)
	}

	payoutAddr, err := buyer.NewAddress()
	if err != nil {
		t.Fatal(err)
	}
	sellerAddr, err := seller.NewAddress()
	if err != nil {
		t.Fatal(err)
	}
	outputs := []PayoutOutput{
		{Address: sellerAddr.String(), Amount: deposit},
		{Address: payoutAddr.String(), Amount: amount + deposit},
	}

	if _, err := buyer.CreatePayoutTx("trade", outputs); err != ErrMultisigNotSynced {
		t.Errorf("Expected ErrMultisigNotSynced got %v", err)
	}

	sellerInfo, err := seller.ExportMultisigHex("trade")
	if err != nil {
		t.Fatal(err)
	}
	buyerInfo, err := buyer.ExportMultisigHex("trade")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := buyer.ImportMultisigHex("trade", []string{sellerInfo}); err != nil {
		t.Fatal(err)
	}
	if _, err := buyer.CreatePayoutTx("trade", outputs); err != ErrFundsLocked {
		t.Errorf("Expected ErrFundsLocked got %v", err)
	}

	network.GenerateBlock()

	n, err := seller.ImportMultisigHex("trade", []string{buyerInfo})
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("Expected 2 escrow outputs got %d", n)
	}

	payout, err := buyer.CreatePayoutTx("trade", outputs)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := buyer.SubmitMultisigTx("trade", payout); errors.Cause(err) != ErrInvalidTx {
		t.Errorf("Expected ErrInvalidTx for a single signature got %v", err)
	}

	described, err := seller.DescribePayoutTx(payout)
	if err != nil {
		t.Fatal(err)
	}
	if described[1].Amount != amount+deposit-MockTxFee {
		t.Errorf("Expected fee deducted from the last output, got %d", described[1].Amount)
	}

	signed, err := seller.SignMultisigTx("trade", payout)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := seller.SubmitMultisigTx("trade", signed); err != nil {
		t.Fatal(err)
	}
	network.GenerateBlock()

	before := 3*xmr - (deposit + fee + MockTxFee)
	balance, err := buyer.Balance()
	if err != nil {
		t.Fatal(err)
	}
	expected := before + amount + deposit - MockTxFee
	if balance != expected {
		t.Errorf("Expected buyer balance %d got %d", expected, balance)
	}
}

func TestMockWallet_Events(t *testing.T) {
	network := NewMockWalletNetwork(1)
	network.SetUnlockDepth(1)
	w := network.Wallets()[0]

	bus := events.NewBus()
	w.SetEventBus(bus)
	sub, err := bus.Subscribe([]interface{}{
		&events.TransactionReceived{},
		&events.TransactionConfirmed{},
		&events.BalanceChanged{},
		&events.BlockReceived{},
	}, events.BufSize(32))
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Close()

	network.Start()
	defer network.Stop()

	fundWallet(t, w, xmr)
	network.GenerateBlock()

	var (
		received, confirmed, block bool
		unlocked                   uint64
	)
	timeout := time.After(time.Second * 5)
	for !(received && confirmed && block && unlocked == xmr) {
		select {
		case e := <-sub.Out():
			switch evt := e.(type) {
			case *events.TransactionReceived:
				received = true
			case *events.TransactionConfirmed:
				if evt.Confirmations == 1 && evt.Unlocked {
					confirmed = true
				}
			case *events.BlockReceived:
				if evt.Height == 1 {
					block = true
				}
			case *events.BalanceChanged:
				unlocked = evt.UnlockedBalance
			}
		case <-timeout:
			t.Fatalf("Timed out. received=%t confirmed=%t block=%t unlocked=%d", received, confirmed, block, unlocked)
		}
	}
}
