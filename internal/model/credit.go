package model

// DebitResult is the outcome of one deduct-if-available attempt.
//
// Credits are never negative: the only decrement is a conditional update
// that does not apply when the balance cannot cover it. OK=false means
// nothing was deducted and Remaining is 0.
type DebitResult struct {
	OK        bool  `json:"ok"`
	Remaining int64 `json:"remaining"`
}
