package cachegate

import (
	"errors"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/cachegate/cachegate/store"
	"github.com/cachegate/cachegate/wire"
)

var _ = Describe("storeErrorToClientError", func() {
	It("maps ErrDuplicateKey to Conflict", func() {
		ce := storeErrorToClientError(store.ErrDuplicateKey).(*ClientError)
		Expect(ce.Code).To(Equal(wire.CodeConflict))
	})

	It("maps ErrNotFound to NotFound", func() {
		ce := storeErrorToClientError(store.ErrNotFound).(*ClientError)
		Expect(ce.Code).To(Equal(wire.CodeNotFound))
	})

	It("maps ErrMemoryLimit to Internal", func() {
		ce := storeErrorToClientError(store.ErrMemoryLimit).(*ClientError)
		Expect(ce.Code).To(Equal(wire.CodeInternal))
	})

	It("passes through any other error unchanged", func() {
		other := errors.New("weird")
		Expect(storeErrorToClientError(other)).To(MatchError(other))
	})
})
