// Package converter declares the Converter/Encoder contracts the core
// consumes (§6): the network/persistence/domain transforms the caller
// supplies. The core treats every method here as an external
// collaborator — per §1 these transforms (and any wire codec) are
// explicitly out of scope for the core to implement.
package converter

import (
	"github.com/matt-ramotar/storex/freshness"
)

// Converter transforms between the network representation, the
// persisted read projection, and the domain type the caller's readers
// see, plus extracts freshness metadata from both sides (§6, §9's
// "total extract_updated_at").
type Converter[Key any, Domain any, ReadProjection any, Network any, WriteValue any] interface {
	// NetToDbWrite turns a successful fetch response body into the
	// value written to the SoT.
	NetToDbWrite(key Key, net Network) (WriteValue, error)
	// DbReadToDomain turns a persisted projection into the domain
	// value delivered to readers.
	DbReadToDomain(key Key, proj ReadProjection) (Domain, error)
	// DbMetaFromProjection extracts freshness metadata from a
	// persisted projection, or nil if the projection carries none.
	DbMetaFromProjection(proj ReadProjection) *freshness.EntityMeta
	// DomainToDbWrite turns a domain value into a write, used by
	// optimistic local writes in the mutation pipeline.
	DomainToDbWrite(key Key, domain Domain) (WriteValue, error)
	// NetMeta extracts freshness metadata from a network response.
	NetMeta(net Network) *freshness.EntityMeta
}

// MutationEncoder transforms domain-level mutation inputs into the
// network bodies sent to the remote client (§4.9, §6). NetPatch,
// NetDraft, and NetPut may all be the same type for callers that do
// not distinguish wire shapes per verb (the spec's "4-parameter
// simplification collapsing the three network types").
type MutationEncoder[Patch any, Draft any, Domain any, NetPatch any, NetDraft any, NetPut any] interface {
	// FromPatch encodes an update patch. A nil return value (with a
	// nil error) signals "no body".
	FromPatch(patch Patch) (NetPatch, error)
	// FromDraft encodes a create draft.
	FromDraft(draft Draft) (NetDraft, error)
	// FromValue encodes a full value for upsert/replace.
	FromValue(value Domain) (NetPut, error)
	// ApplyPatchLocally applies patch to the cached domain value for
	// an optimistic local write ahead of the network round trip.
	ApplyPatchLocally(current Domain, patch Patch) (Domain, error)
}
