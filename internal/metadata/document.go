// Package metadata handles the off-chain JSON attribute documents that
// on-chain token records point at via their metadata URI.
package metadata

import (
	"encoding/json"
	"errors"
)

// RankTraitType is the trait_type of the attribute holding the token's rank.
const RankTraitType = "Rank"

// ErrNoRankAttribute is returned when a fetched document parses fine but
// carries no Rank attribute. Distinct from fetch or parse failure so callers
// can treat it as a data-integrity reject rather than a transient error.
var ErrNoRankAttribute = errors.New("no rank attribute found in metadata")

// Attribute is a single trait entry in the document's attribute array.
type Attribute struct {
	TraitType string `json:"trait_type"`
	Value     string `json:"value"`
}

// Document is the off-chain metadata schema. Properties is carried as raw
// JSON: the rank-up pipeline only edits attributes and must pass everything
// else through byte-for-byte.
type Document struct {
	Name                 string          `json:"name"`
	Symbol               string          `json:"symbol"`
	Description          string          `json:"description"`
	SellerFeeBasisPoints uint16          `json:"seller_fee_basis_points"`
	Image                string          `json:"image"`
	ExternalURL          string          `json:"external_url"`
	Attributes           []Attribute     `json:"attributes"`
	Properties           json.RawMessage `json:"properties,omitempty"`
}

// RankAttribute returns the value of the document's Rank attribute.
func (d *Document) RankAttribute() (string, error) {
	for _, a := range d.Attributes {
		if a.TraitType == RankTraitType {
			return a.Value, nil
		}
	}
	return "", ErrNoRankAttribute
}
