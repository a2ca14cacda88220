package core

import (
	"context"

	"github.com/cpacia/xmrescrow/models"
)

// PlaceOffer creates a new offer from the given terms. The maker fields
// are filled in by the node. The offer is posted to the offer book once
// its reserve is funded and the arbitrator has signed it.
func (n *XMREscrowNode) PlaceOffer(o models.Offer) (*models.OpenOffer, error) {
	oo, err := n.offerManager.PlaceOffer(o)
	return oo, classify(err)
}

// GetOpenOffer returns one of our own offers.
func (n *XMREscrowNode) GetOpenOffer(offerID string) (*models.OpenOffer, error) {
	oo, err := n.offerManager.GetOpenOffer(offerID)
	return oo, classify(err)
}

// ListOpenOffers returns all of our own offers.
func (n *XMREscrowNode) ListOpenOffers() ([]models.OpenOffer, error) {
	offers, err := n.offerManager.ListOpenOffers()
	return offers, classify(err)
}

// GetOffers returns the offers in the offer book for the given currency.
func (n *XMREscrowNode) GetOffers(ctx context.Context, currency models.CurrencyCode) ([]*models.PublicOffer, error) {
	offers, err := n.offerManager.GetOffers(ctx, currency)
	return offers, classify(err)
}

// CancelOffer permanently removes one of our offers.
func (n *XMREscrowNode) CancelOffer(offerID string) error {
	return classify(n.offerManager.CancelOffer(offerID))
}

// DeactivateOffer takes an offer out of the offer book but keeps it.
func (n *XMREscrowNode) DeactivateOffer(offerID string) error {
	return classify(n.offerManager.DeactivateOffer(offerID))
}

// ActivateOffer puts a deactivated offer back up.
func (n *XMREscrowNode) ActivateOffer(offerID string) error {
	return classify(n.offerManager.ActivateOffer(offerID))
}

// lookupOffer finds an offer in the offer book.
func (n *XMREscrowNode) lookupOffer(ctx context.Context, offerID string, currency models.CurrencyCode) (*models.PublicOffer, error) {
	offers, err := n.offerManager.GetOffers(ctx, currency)
	if err != nil {
		return nil, err
	}
	for _, o := range offers {
		if o.Offer.ID == offerID {
			return o, nil
		}
	}
	return nil, ErrOfferNotInBook
}
