package services

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/diewo77/go-heatcrm/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const maxSequenceAttempts = 5

var ErrSequenceContention = errors.New("quote number: too much contention")

// NextQuoteNumber reserves the next QUO-{year}-{seq} for the account. It must
// run inside the transaction that inserts the quote so an abandoned quote
// gives its number back.
//
// The counter row is advanced with a compare-and-swap; a writer that loses
// the race re-reads and tries again.
func NextQuoteNumber(tx *gorm.DB, accountID uint, now time.Time) (string, error) {
	year := now.Year()
	for range maxSequenceAttempts {
		var seq models.QuoteSequence
		err := tx.Where("account_id = ? AND year = ?", accountID, year).First(&seq).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			last, err := lastIssuedSequence(tx, accountID, year)
			if err != nil {
				return "", err
			}
			seq = models.QuoteSequence{AccountID: accountID, Year: year, LastValue: last + 1}
			res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&seq)
			if res.Error != nil {
				return "", fmt.Errorf("create quote sequence: %w", res.Error)
			}
			if res.RowsAffected == 1 {
				return models.FormatQuoteNumber(year, seq.LastValue), nil
			}
			continue
		}
		if err != nil {
			return "", fmt.Errorf("load quote sequence: %w", err)
		}

		next := seq.LastValue + 1
		res := tx.Model(&models.QuoteSequence{}).
			Where("id = ? AND last_value = ?", seq.ID, seq.LastValue).
			Update("last_value", next)
		if res.Error != nil {
			return "", fmt.Errorf("advance quote sequence: %w", res.Error)
		}
		if res.RowsAffected == 1 {
			return models.FormatQuoteNumber(year, next), nil
		}
	}
	return "", ErrSequenceContention
}

// lastIssuedSequence reads the suffix of the account's most recent quote for
// year, so accounts that predate the counter table keep their sequence.
func lastIssuedSequence(tx *gorm.DB, accountID uint, year int) (int, error) {
	prefix := fmt.Sprintf("QUO-%d-", year)
	var latest models.Quote
	err := tx.Select("quote_number").
		Where("account_id = ? AND quote_number LIKE ?", accountID, prefix+"%").
		Order("created_at DESC, id DESC").
		Limit(1).
		Find(&latest).Error
	if err != nil {
		return 0, err
	}
	if latest.QuoteNumber == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(strings.TrimPrefix(latest.QuoteNumber, prefix))
	if err != nil {
		return 0, nil
	}
	return n, nil
}
