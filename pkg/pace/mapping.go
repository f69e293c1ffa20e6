package pace

import (
	"fmt"

	"github.com/backkem/eid/pkg/group"
)

// MapGeneric computes the mapped domain parameters of the generic mapping:
// the new generator is s*G + H, where s is the nonce and H the shared
// element of the mapping key agreement. Degenerate inputs or results are
// rejected with group.ErrIdentity.
func MapGeneric(g group.Group, nonce []byte, h group.Element) (group.Group, error) {
	if h.IsIdentity() {
		return nil, fmt.Errorf("pace: mapping element: %w", group.ErrIdentity)
	}
	sg, err := g.Generator().ScalarMult(nonce)
	if err != nil {
		return nil, err
	}
	gen, err := sg.Add(h)
	if err != nil {
		return nil, err
	}
	if gen.IsIdentity() {
		return nil, fmt.Errorf("pace: mapped generator: %w", group.ErrIdentity)
	}
	return g.WithGenerator(gen)
}

// genericMapping is one side of the generic mapping exchange.
type genericMapping struct {
	group group.Group
	key   *group.KeyPair
}

func newGenericMapping(g group.Group, key *group.KeyPair) *genericMapping {
	return &genericMapping{group: g, key: key}
}

// PublicKey returns the encoded mapping public key sent to the peer.
func (m *genericMapping) PublicKey() []byte {
	return m.key.PublicBytes()
}

// Map derives the mapped group from the peer's mapping public key and the nonce.
func (m *genericMapping) Map(peer group.Element, nonce []byte) (group.Group, error) {
	h, err := m.key.Agree(peer)
	if err != nil {
		return nil, err
	}
	defer group.Destroy(h)
	return MapGeneric(m.group, nonce, h)
}

func (m *genericMapping) Destroy() {
	m.key.Destroy()
}
