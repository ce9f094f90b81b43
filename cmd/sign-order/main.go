// Command sign-order is a developer CLI that generates a keypair, signs an
// open-position request with it, and prints the resulting signed
// transaction.SignedTransaction JSON ready to POST to /api/v1/transactions.
package main

import (
	"encoding/json"
	"fmt"
	"math/big"
	"os"

	"github.com/perpmesh/engine/pkg/crypto"
	"github.com/perpmesh/engine/pkg/transaction"
)

func main() {
	fmt.Println("Generating new keypair...")
	signer, err := crypto.GenerateKey()
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Address: %s\n", signer.Address().Hex())
	fmt.Printf("Private Key: %s (KEEP SECRET!)\n\n", signer.PrivateKeyHex())

	req := &crypto.OpenPositionEIP712{
		Symbol:          "ETH-PERP",
		Side:            crypto.SideToUint8("long"),
		Kind:            crypto.KindToUint8("market"),
		CollateralValue: big.NewInt(1_000_000),
		DebtValue:       big.NewInt(4_000_000),
		MaxTick:         big.NewInt(0), // no stop
		Nonce:           big.NewInt(1),
		Deadline:        big.NewInt(0), // no expiry
		Owner:           signer.Address(),
	}

	fmt.Println("Open Position Request:")
	fmt.Printf("  Symbol: %s\n", req.Symbol)
	fmt.Printf("  Side: %s\n", crypto.Uint8ToSide(req.Side))
	fmt.Printf("  Kind: %s\n", crypto.Uint8ToKind(req.Kind))
	fmt.Printf("  Collateral: %s\n", req.CollateralValue.String())
	fmt.Printf("  Debt: %s\n", req.DebtValue.String())
	fmt.Printf("  Owner: %s\n\n", req.Owner.Hex())

	eip712Signer := crypto.NewEIP712Signer(crypto.DefaultDomain())
	signature, err := eip712Signer.SignOpenPosition(signer, req)
	if err != nil {
		fmt.Printf("Error signing: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Signature: 0x%x\n\n", signature)

	signedTx := &transaction.SignedTransaction{
		Type:      transaction.TxTypeOpen,
		Open:      transaction.FromEIP712OpenPosition(req),
		Signature: fmt.Sprintf("0x%x", signature),
	}

	txJSON, err := json.MarshalIndent(signedTx, "", "  ")
	if err != nil {
		fmt.Printf("Error marshaling JSON: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("Signed Transaction (JSON):")
	fmt.Println(string(txJSON))
	fmt.Println()

	fmt.Println("Verifying signature...")
	verifier := transaction.NewVerifier(crypto.DefaultDomain())
	recoveredOwner, valid, err := verifier.VerifyOpenTransaction(signedTx)
	if err != nil {
		fmt.Printf("Error verifying: %v\n", err)
		os.Exit(1)
	}
	if !valid {
		fmt.Println("signature INVALID")
		os.Exit(1)
	}

	fmt.Println("signature valid")
	fmt.Printf("  Signer: %s\n", recoveredOwner.Hex())
	fmt.Printf("  Matches owner: %v\n\n", recoveredOwner == req.Owner)

	fmt.Println("To submit this transaction:")
	fmt.Println("  POST http://localhost:8080/api/v1/transactions")
	fmt.Println("  Content-Type: application/json")
	fmt.Println("  Body:")
	fmt.Println(string(txJSON))
}
