package domain

// DebitResult reports the outcome of a debit attempt. An insufficient
// balance is a business outcome, not an error: the caller still commits
// and notifies downstream consumers.
type DebitResult struct {
	Insufficient bool
	Attempted    int64
	Current      int64
	NewBalance   int64
}

// Credit adds amount to the balance. Amount must be positive.
func (b *Balance) Credit(amount int64) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	b.Points += amount
	return nil
}

// Debit subtracts cost from the balance. When the balance cannot cover the
// cost the record is left untouched and the result reports the shortfall.
func (b *Balance) Debit(cost int64) (DebitResult, error) {
	if cost <= 0 {
		return DebitResult{}, ErrInvalidAmount
	}
	if b.Points < cost {
		return DebitResult{
			Insufficient: true,
			Attempted:    cost,
			Current:      b.Points,
			NewBalance:   b.Points,
		}, nil
	}
	b.Points -= cost
	return DebitResult{
		Attempted:  cost,
		Current:    b.Points + cost,
		NewBalance: b.Points,
	}, nil
}
