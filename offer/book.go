package offer

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/cpacia/xmrescrow/models"
	"github.com/libp2p/go-libp2p-core/crypto"
	"github.com/libp2p/go-libp2p-core/peer"
	"github.com/pkg/errors"
)

const (
	offerNamespace = "offer"
	indexNamespace = "offerindex"
)

// OfferBook is the shared, public list of signed offers. Implementations
// are safe for concurrent use.
type OfferBook interface {
	// AddOffer publishes the offer.
	AddOffer(ctx context.Context, offer *models.PublicOffer) error

	// RemoveOffer withdraws one of our offers.
	RemoveOffer(ctx context.Context, offerID string) error

	// RefreshOffer extends the lifetime of a published offer.
	RefreshOffer(ctx context.Context, offerID string) error

	// GetOffers returns the live offers in the given counter currency.
	GetOffers(ctx context.Context, currency models.CurrencyCode) ([]*models.PublicOffer, error)

	// IsBootstrapped returns whether the book can reach other peers.
	IsBootstrapped() bool

	// Flush writes out any batched changes immediately.
	Flush(ctx context.Context) error
}

// offerRecord is the value stored under /offer/<id>. A removed offer is
// replaced by a tombstone record with no offer.
type offerRecord struct {
	OfferID     string              `json:"offerID"`
	MakerPeerID string              `json:"makerPeerID"`
	Offer       *models.PublicOffer `json:"offer,omitempty"`
	Removed     bool                `json:"removed,omitempty"`
	Sequence    int64               `json:"sequence"`
	Signature   []byte              `json:"signature,omitempty"`
}

// indexRecord is the value stored under /offerindex/<maker>. It lists the
// maker's live offers.
type indexRecord struct {
	MakerPeerID string   `json:"makerPeerID"`
	OfferIDs    []string `json:"offerIDs"`
	Sequence    int64    `json:"sequence"`
	Signature   []byte   `json:"signature,omitempty"`
}

func offerKey(offerID string) string {
	return "/" + offerNamespace + "/" + offerID
}

func indexKey(maker peer.ID) string {
	return "/" + indexNamespace + "/" + maker.Pretty()
}

// signedRecord is implemented by the records a maker signs.
type signedRecord interface {
	maker() string
	signature() []byte
	setSignature(sig []byte)
}

func (r *offerRecord) maker() string { return r.MakerPeerID }
func (r *offerRecord) signature() []byte { return r.Signature }
func (r *offerRecord) setSignature(sig []byte) { r.Signature = sig }
func (r *indexRecord) maker() string { return r.MakerPeerID }
func (r *indexRecord) signature() []byte { return r.Signature }
func (r *indexRecord) setSignature(sig []byte) { r.Signature = sig }

// signingBytes serializes the record without its signature.
func signingBytes(r signedRecord) ([]byte, error) {
	sig := r.signature()
	r.setSignature(nil)
	ser, err := json.Marshal(r)
	r.setSignature(sig)
	return ser, err
}

func signRecord(sk crypto.PrivKey, r signedRecord) ([]byte, error) {
	ser, err := signingBytes(r)
	if err != nil {
		return nil, err
	}
	sig, err := sk.Sign(ser)
	if err != nil {
		return nil, err
	}
	r.setSignature(sig)
	return json.Marshal(r)
}

func verifyRecord(r signedRecord) error {
	pid, err := peer.Decode(r.maker())
	if err != nil {
		return errors.Wrap(ErrInvalidRecord, err.Error())
	}
	pubkey, err := pid.ExtractPublicKey()
	if err != nil {
		return errors.Wrap(ErrInvalidRecord, err.Error())
	}
	ser, err := signingBytes(r)
	if err != nil {
		return err
	}
	valid, err := pubkey.Verify(ser, r.signature())
	if err != nil || !valid {
		return errors.Wrap(ErrInvalidRecord, "bad maker signature")
	}
	return nil
}

func nextSequence() int64 {
	return time.Now().UnixNano()
}

// OfferValidator validates /offer/ records for the DHT. A record must be
// signed by the maker and, unless it is a tombstone, carry an offer
// signed by the arbitrator. Newer sequence numbers win.
type OfferValidator struct{}

// Validate checks the record stored under key.
func (OfferValidator) Validate(key string, value []byte) error {
	_, err := parseOfferRecord(key, value)
	return err
}

// Select returns the index of the newest record.
func (OfferValidator) Select(key string, values [][]byte) (int, error) {
	return selectNewest(values, func(b []byte) (int64, error) {
		rec, err := parseOfferRecord(key, b)
		if err != nil {
			return 0, err
		}
		return rec.Sequence, nil
	})
}

func parseOfferRecord(key string, value []byte) (*offerRecord, error) {
	id := strings.TrimPrefix(key, "/"+offerNamespace+"/")
	if id == key || id == "" {
		return nil, errors.Wrap(ErrInvalidRecord, "bad key")
	}
	rec := new(offerRecord)
	if err := json.Unmarshal(value, rec); err != nil {
		return nil, errors.Wrap(ErrInvalidRecord, err.Error())
	}
	if rec.OfferID != id {
		return nil, errors.Wrap(ErrInvalidRecord, "offer ID does not match key")
	}
	if err := verifyRecord(rec); err != nil {
		return nil, err
	}
	if rec.Removed {
		if rec.Offer != nil {
			return nil, errors.Wrap(ErrInvalidRecord, "tombstone carries an offer")
		}
		return rec, nil
	}
	if rec.Offer == nil {
		return nil, errors.Wrap(ErrInvalidRecord, "missing offer")
	}
	o := rec.Offer.Offer
	if o.ID != id || o.MakerPeerID != rec.MakerPeerID {
		return nil, errors.Wrap(ErrInvalidRecord, "offer does not match record")
	}
	if err := o.Validate(); err != nil {
		return nil, errors.Wrap(ErrInvalidRecord, err.Error())
	}
	if err := rec.Offer.VerifySignature(); err != nil {
		return nil, errors.Wrap(ErrInvalidRecord, err.Error())
	}
	return rec, nil
}

// IndexValidator validates /offerindex/ records.
type IndexValidator struct{}

// Validate checks the record stored under key.
func (IndexValidator) Validate(key string, value []byte) error {
	_, err := parseIndexRecord(key, value)
	return err
}

// Select returns the index of the newest record.
func (IndexValidator) Select(key string, values [][]byte) (int, error) {
	return selectNewest(values, func(b []byte) (int64, error) {
		rec, err := parseIndexRecord(key, b)
		if err != nil {
			return 0, err
		}
		return rec.Sequence, nil
	})
}

func parseIndexRecord(key string, value []byte) (*indexRecord, error) {
	maker := strings.TrimPrefix(key, "/"+indexNamespace+"/")
	if maker == key || maker == "" {
		return nil, errors.Wrap(ErrInvalidRecord, "bad key")
	}
	rec := new(indexRecord)
	if err := json.Unmarshal(value, rec); err != nil {
		return nil, errors.Wrap(ErrInvalidRecord, err.Error())
	}
	if rec.MakerPeerID != maker {
		return nil, errors.Wrap(ErrInvalidRecord, "maker does not match key")
	}
	if err := verifyRecord(rec); err != nil {
		return nil, err
	}
	return rec, nil
}

func selectNewest(values [][]byte, sequence func([]byte) (int64, error)) (int, error) {
	best, bestSeq := -1, int64(0)
	for i, v := range values {
		seq, err := sequence(v)
		if err != nil {
			continue
		}
		if best == -1 || seq > bestSeq {
			best, bestSeq = i, seq
		}
	}
	if best == -1 {
		return 0, ErrInvalidRecord
	}
	return best, nil
}
