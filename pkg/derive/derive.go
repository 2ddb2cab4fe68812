// Package derive computes deterministic record addresses. A plan or
// subscription address is a function of a domain tag, the controlling
// principal, and the numeric plan id — and so is its salt — so any
// party holding those inputs can recompute the address and verify it
// matches the stored record without reading the record first.
package derive

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/binary"
	"encoding/hex"
	"io"

	"github.com/google/uuid"
)

// Domain tags keep plan and subscription address spaces disjoint.
const (
	TagPlan         = "subscription_plan"
	TagSubscription = "subscription"
)

// saltDomain separates salt digests from address digests built over
// the same tuple.
const saltDomain = "circulum:salt:v1"

// SaltSize is the length in bytes of the per-record salt mixed into
// every derived address.
const SaltSize = 16

// Address is the lowercase hex form of the 32-byte derived digest.
type Address = string

// Salt derives the record salt from the same tuple as the address.
// The salt is stored alongside the record and re-checked on every
// explicit address presentation; deriving it from the tuple keeps the
// whole address recomputable by anyone who knows the inputs.
func Salt(tag string, principal uuid.UUID, planID uint64) []byte {
	h := sha256.New()
	h.Write([]byte(saltDomain))
	writeTuple(h, tag, principal, planID)
	return h.Sum(nil)[:SaltSize]
}

// PlanSalt derives the salt for a plan owned by authority.
func PlanSalt(authority uuid.UUID, planID uint64) []byte {
	return Salt(TagPlan, authority, planID)
}

// SubscriptionSalt derives the salt for subscriber's subscription to
// the plan with the given id.
func SubscriptionSalt(subscriber uuid.UUID, planID uint64) []byte {
	return Salt(TagSubscription, subscriber, planID)
}

// PlanAddress derives the address of a plan owned by authority with the
// given plan id and salt.
func PlanAddress(authority uuid.UUID, planID uint64, salt []byte) Address {
	return derive(TagPlan, authority, planID, salt)
}

// SubscriptionAddress derives the address of subscriber's subscription
// to the plan with the given id.
func SubscriptionAddress(subscriber uuid.UUID, planID uint64, salt []byte) Address {
	return derive(TagSubscription, subscriber, planID, salt)
}

func derive(tag string, principal uuid.UUID, planID uint64, salt []byte) Address {
	h := sha256.New()
	writeTuple(h, tag, principal, planID)
	h.Write(salt)
	return hex.EncodeToString(h.Sum(nil))
}

func writeTuple(h io.Writer, tag string, principal uuid.UUID, planID uint64) {
	h.Write([]byte(tag))
	h.Write(principal[:])

	var id [8]byte
	binary.LittleEndian.PutUint64(id[:], planID)
	h.Write(id[:])
}

// Verify recomputes the address from its inputs and compares it to the
// presented one in constant time.
func Verify(presented Address, tag string, principal uuid.UUID, planID uint64, salt []byte) bool {
	expected := derive(tag, principal, planID, salt)
	return subtle.ConstantTimeCompare([]byte(expected), []byte(presented)) == 1
}
