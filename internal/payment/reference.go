package payment

import "github.com/jaevor/go-nanoid"

// NewReferenceGenerator returns a function minting unique payment references.
// The reference is the correlation key between our records and the gateway's,
// embedded into the checkout widget at initiation time.
func NewReferenceGenerator() (func() string, error) {
	generate, err := nanoid.Standard(21)
	if err != nil {
		return nil, err
	}
	return func() string {
		return "don_" + generate()
	}, nil
}
