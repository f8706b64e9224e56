package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/hyperswap/pkg/app/core/transaction"
	"github.com/uhyunpark/hyperswap/pkg/crypto"
)

func main() {
	var (
		keyHex     = flag.String("key", "", "hex private key (a new key is generated when empty)")
		seed       = flag.String("seed", "", "derive the key from a seed string, e.g. devnet-trader-0")
		txType     = flag.String("type", "deposit", "approve|deposit|withdraw|make_order|cancel_order|fill_order")
		tok        = flag.String("token", "", "token address (approve, deposit, withdraw)")
		spender    = flag.String("spender", "", "spender for approve (defaults to -custodian)")
		amount     = flag.String("amount", "0", "amount in base units")
		tokenGet   = flag.String("token-get", "", "make_order: token wanted")
		amountGet  = flag.String("amount-get", "0", "make_order: amount wanted, base units")
		tokenGive  = flag.String("token-give", "", "make_order: token offered")
		amountGive = flag.String("amount-give", "0", "make_order: amount offered, base units")
		orderID    = flag.Uint64("order", 0, "order id (cancel_order, fill_order)")
		nonce      = flag.Int64("nonce", -1, "account nonce (fetched from -api when negative)")
		chainID    = flag.Int64("chain-id", 1337, "EIP-712 domain chain id")
		custodian  = flag.String("custodian", "0xe0c0000000000000000000000000000000000001", "exchange custody address")
		apiURL     = flag.String("api", "", "submit to this API, e.g. http://localhost:8080")
		typedData  = flag.Bool("typed-data", false, "also print the EIP-712 typed data for wallet signing")
	)
	flag.Parse()

	// Step 1: Load or generate key
	signer, err := loadSigner(*keyHex, *seed)
	if err != nil {
		fail("key", err)
	}
	fmt.Fprintf(os.Stderr, "Address: %s\n", signer.Address().Hex())
	if *keyHex == "" && *seed == "" {
		fmt.Fprintf(os.Stderr, "Private Key: %s (KEEP SECRET!)\n", signer.PrivateKeyHex())
	}

	custody := mustAddr("custodian", *custodian)
	verifier := transaction.NewVerifier(crypto.DomainFor(*chainID, custody))

	// Step 2: Resolve nonce
	n := *nonce
	if n < 0 {
		if *apiURL == "" {
			fail("nonce", fmt.Errorf("-nonce is required without -api"))
		}
		n, err = fetchNonce(*apiURL, signer.Address())
		if err != nil {
			fail("nonce", err)
		}
	}
	meta := transaction.Meta{Owner: signer.Address(), Nonce: uint64(n)}

	// Step 3: Build action
	var act transaction.Action
	switch transaction.TxType(*txType) {
	case transaction.TxTypeApprove:
		sp := custody
		if *spender != "" {
			sp = mustAddr("spender", *spender)
		}
		act = &transaction.Approve{Meta: meta, Token: mustAddr("token", *tok), Spender: sp, Amount: mustAmount("amount", *amount)}
	case transaction.TxTypeDeposit:
		act = &transaction.Deposit{Meta: meta, Token: mustAddr("token", *tok), Amount: mustAmount("amount", *amount)}
	case transaction.TxTypeWithdraw:
		act = &transaction.Withdraw{Meta: meta, Token: mustAddr("token", *tok), Amount: mustAmount("amount", *amount)}
	case transaction.TxTypeMakeOrder:
		act = &transaction.MakeOrder{
			Meta:       meta,
			TokenGet:   mustAddr("token-get", *tokenGet),
			AmountGet:  mustAmount("amount-get", *amountGet),
			TokenGive:  mustAddr("token-give", *tokenGive),
			AmountGive: mustAmount("amount-give", *amountGive),
		}
	case transaction.TxTypeCancelOrder:
		act = &transaction.CancelOrder{Meta: meta, OrderID: *orderID}
	case transaction.TxTypeFillOrder:
		act = &transaction.FillOrder{Meta: meta, OrderID: *orderID}
	default:
		fail("type", fmt.Errorf("unknown transaction type %q", *txType))
	}

	if *typedData {
		td, err := verifier.TypedDataJSON(act)
		if err != nil {
			fail("typed data", err)
		}
		fmt.Fprintln(os.Stderr, "Typed Data:")
		fmt.Fprintln(os.Stderr, td)
	}

	// Step 4: Sign and self-check
	stx, err := verifier.Sign(signer, act)
	if err != nil {
		fail("sign", err)
	}
	if _, _, err := verifier.Verify(stx); err != nil {
		fail("verify", err)
	}

	txJSON, err := json.MarshalIndent(stx, "", "  ")
	if err != nil {
		fail("marshal", err)
	}
	fmt.Println(string(txJSON))

	// Step 5: Optionally submit
	if *apiURL == "" {
		return
	}
	raw, _ := stx.Serialize()
	resp, err := http.Post(strings.TrimRight(*apiURL, "/")+"/api/v1/tx", "application/json", bytes.NewReader(raw))
	if err != nil {
		fail("submit", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	fmt.Fprintf(os.Stderr, "Submit: %s %s\n", resp.Status, strings.TrimSpace(string(body)))
	if resp.StatusCode >= 300 {
		os.Exit(1)
	}
}

func loadSigner(keyHex, seed string) (*crypto.Signer, error) {
	switch {
	case keyHex != "":
		return crypto.FromPrivateKeyHex(keyHex)
	case seed != "":
		return crypto.FromSeed(seed)
	}
	return crypto.GenerateKey()
}

func fetchNonce(apiURL string, owner common.Address) (int64, error) {
	resp, err := http.Get(strings.TrimRight(apiURL, "/") + "/api/v1/accounts/" + owner.Hex() + "/nonce")
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("nonce query: %s", resp.Status)
	}
	var out struct {
		Nonce uint64 `json:"nonce"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, err
	}
	return int64(out.Nonce), nil
}

func mustAddr(field, s string) common.Address {
	a, err := crypto.ParseAddress(s)
	if err != nil {
		fail(field, err)
	}
	return a
}

func mustAmount(field, s string) *uint256.Int {
	v, err := uint256.FromDecimal(s)
	if err != nil {
		fail(field, err)
	}
	return v
}

func fail(what string, err error) {
	fmt.Fprintf(os.Stderr, "Error (%s): %v\n", what, err)
	os.Exit(1)
}
