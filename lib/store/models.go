package store

// Payment contains the fields of a payment record saved to DB. Hash, Preimage and Secret are hex encoded, Direction
// is inbound or outbound and Status one of pending, succeeded or failed. A payment is identified by its direction and
// hash.
type Payment struct {
	Hash       string  `json:"hash" bson:"hash"`
	Direction  string  `json:"direction" bson:"direction"`
	Status     string  `json:"status" bson:"status"`
	Preimage   string  `json:"preimage,omitempty" bson:"preimage,omitempty"`
	Secret     string  `json:"secret,omitempty" bson:"secret,omitempty"`
	AmountMsat *uint64 `json:"amount_msat,omitempty" bson:"amount_msat,omitempty"`
}

// Key returns the identity of the payment in the store.
func (p Payment) Key() string {
	return p.Direction + ":" + p.Hash
}
