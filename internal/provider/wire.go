package provider

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// wireTransaction is the JSON shape both bank APIs use for a transaction
type wireTransaction struct {
	ID          string `json:"id"`
	Date        string `json:"date"`
	Description string `json:"description"`
	Merchant    string `json:"merchant,omitempty"`
	Amount      string `json:"amount"`
	Category    string `json:"category,omitempty"`
}

// wireAccount is the JSON shape both bank APIs use for an account
type wireAccount struct {
	AccountID    string            `json:"accountId"`
	AccountName  string            `json:"accountName"`
	Transactions []wireTransaction `json:"transactions"`
}

// convertWireAccounts maps a provider payload to the uniform contract
func convertWireAccounts(accounts []wireAccount) ([]AccountScrape, error) {
	out := make([]AccountScrape, 0, len(accounts))
	for _, acc := range accounts {
		scrape := AccountScrape{
			AccountID:    acc.AccountID,
			AccountName:  acc.AccountName,
			Transactions: make([]RawTransaction, 0, len(acc.Transactions)),
		}

		for _, tx := range acc.Transactions {
			date, err := time.Parse("2006-01-02", tx.Date)
			if err != nil {
				return nil, fmt.Errorf("failed to parse transaction date %q: %w", tx.Date, err)
			}
			amount, err := decimal.NewFromString(tx.Amount)
			if err != nil {
				return nil, fmt.Errorf("failed to parse transaction amount %q: %w", tx.Amount, err)
			}

			scrape.Transactions = append(scrape.Transactions, RawTransaction{
				ProviderTxID:  tx.ID,
				Date:          date,
				Description:   tx.Description,
				Merchant:      tx.Merchant,
				Amount:        amount,
				CategoryLabel: tx.Category,
			})
		}

		out = append(out, scrape)
	}

	return out, nil
}
