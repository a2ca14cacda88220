package events

// OfferStateChanged fires when one of our open offers changes state.
type OfferStateChanged struct {
	OfferID string
	State   string
}

// OfferSignResponse fires when an arbitrator responds to a sign
// offer request.
type OfferSignResponse struct {
	PeerID    string
	OfferID   string
	Signature []byte
	Error     string
}

// OfferBookUpdated fires when an offer is added to or removed from
// the offer book.
type OfferBookUpdated struct {
	OfferID string
	Removed bool
}
